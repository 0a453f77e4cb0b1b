package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/examclean/internal/model"
	"github.com/sells-group/examclean/internal/normalize"
	"github.com/sells-group/examclean/internal/resilience"
	"github.com/sells-group/examclean/pkg/cleaner"
)

const missingItemReason = "missing from batch results"

// runBatch submits every record in one job, polls it when needed and merges
// the results positionally.
func (o *Orchestrator) runBatch(ctx context.Context, inputs []model.ExamInput, sel Selection, log *zap.Logger) (*RunResult, error) {
	total := len(inputs)
	req := cleaner.BatchRequest{
		Exams:    make([]cleaner.BatchExam, total),
		Model:    sel.Model,
		Reranker: sel.Reranker,
	}
	for i, in := range inputs {
		req.Exams[i] = cleaner.BatchExam{
			DataSource:   in.DataSource,
			ExamCode:     in.ExamCode,
			ExamName:     in.ExamName,
			ModalityCode: in.ModalityCode,
		}
	}

	o.report(Progress{State: StateSubmitting, Strategy: StrategyBatch, Total: total})
	log.Info("orchestrator: submitting batch")

	sub, err := o.client.SubmitBatch(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			o.breaker.Record(err)
		}
		return nil, &submitError{err: eris.Wrap(err, "orchestrator: submit batch")}
	}
	o.breaker.Record(nil)

	res := &RunResult{Strategy: StrategyBatch, BatchID: sub.BatchID}
	log = log.With(zap.String("batch_id", sub.BatchID))
	log.Info("orchestrator: batch submitted",
		zap.Bool("inline_results", sub.HasResults),
		zap.Bool("results_url", sub.ResultsURL != ""),
	)

	var last *cleaner.Progress
	if !sub.HasResults && sub.BatchID != "" {
		o.setState(StatePolling)
		last, res.PollTimedOut, err = o.poll(ctx, sub.BatchID, total, log)
		if err != nil {
			return nil, err
		}
		if res.PollTimedOut {
			res.Warnings = append(res.Warnings, fmt.Sprintf("batch %s did not finish within %s", sub.BatchID, o.cfg.PollTimeout))
		}
	}

	o.setState(StateMerging)
	o.report(Progress{State: StateMerging, Strategy: StrategyBatch, Total: total})

	items, err := o.acquire(ctx, sub, last, res, log)
	if err != nil {
		return nil, err
	}
	if res.Degraded {
		res.Records = make([]model.MappingRecord, total)
		for i, in := range inputs {
			res.Records[i] = model.ErrorRecord(in, model.FailureMalformed, "batch results unavailable, raw payload at "+res.ResultsURL)
		}
		return res, nil
	}

	res.Records = merge(inputs, items, res, log)
	return res, nil
}

// poll queries batch progress every PollInterval until the batch completes or
// PollTimeout elapses. Failed polls are retried at the next tick. Progress
// calls run under the polling deadline, so an in-flight call is cut off when
// it passes. It returns the last progress payload seen, which may be nil.
func (o *Orchestrator) poll(ctx context.Context, batchID string, total int, log *zap.Logger) (*cleaner.Progress, bool, error) {
	deadline := o.clock.Now().Add(o.cfg.PollTimeout)
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()
	expiry := o.clock.AfterFunc(o.cfg.PollTimeout, cancel)
	defer expiry.Stop()

	var last *cleaner.Progress
	timedOut := func(attempt int) (*cleaner.Progress, bool, error) {
		log.Warn("orchestrator: polling timed out", zap.Int("polls", attempt), zap.Duration("timeout", o.cfg.PollTimeout))
		return last, true, nil
	}

	for attempt := 1; ; attempt++ {
		p, err := o.client.BatchProgress(pctx, batchID)
		switch {
		case err == nil:
			last = p
			o.report(Progress{State: StatePolling, Strategy: StrategyBatch, Processed: p.Processed, Total: total})
			if p.Complete() {
				log.Info("orchestrator: batch complete",
					zap.Int("processed", p.Processed),
					zap.Int("success", p.Success),
					zap.Int("errors", p.Errors),
					zap.Int("polls", attempt),
				)
				return last, false, nil
			}
		case ctx.Err() != nil:
			return last, false, eris.Wrapf(ctx.Err(), "orchestrator: poll batch %s", batchID)
		case pctx.Err() != nil:
			return timedOut(attempt)
		case errors.Is(err, cleaner.ErrNotReady):
			log.Debug("orchestrator: progress not yet available", zap.Int("poll", attempt))
		default:
			log.Warn("orchestrator: progress poll failed, retrying next tick", zap.Int("poll", attempt), zap.Error(err))
		}

		remaining := deadline.Sub(o.clock.Now())
		if remaining <= 0 || pctx.Err() != nil {
			if ctx.Err() != nil {
				return last, false, eris.Wrapf(ctx.Err(), "orchestrator: poll batch %s", batchID)
			}
			return timedOut(attempt)
		}

		t := o.clock.Timer(min(o.cfg.PollInterval, remaining))
		select {
		case <-ctx.Done():
			t.Stop()
			return last, false, eris.Wrapf(ctx.Err(), "orchestrator: poll batch %s", batchID)
		case <-pctx.Done():
			t.Stop()
			if ctx.Err() != nil {
				return last, false, eris.Wrapf(ctx.Err(), "orchestrator: poll batch %s", batchID)
			}
			return timedOut(attempt)
		case <-t.C:
		}
	}
}

type resultChannel struct {
	name  string
	items []json.RawMessage
	url   string
}

// acquire reads the batch results from the first usable channel: inline
// submission results, the submission results URL, inline results on the
// final progress payload, then its results URL. When only URLs were offered
// and none could be read, res is marked degraded and no items are returned.
func (o *Orchestrator) acquire(ctx context.Context, sub *cleaner.BatchSubmitResponse, last *cleaner.Progress, res *RunResult, log *zap.Logger) ([]json.RawMessage, error) {
	if sub.HasResults {
		return sub.Results, nil
	}

	var channels []resultChannel
	if sub.ResultsURL != "" {
		channels = append(channels, resultChannel{name: "submission results url", url: sub.ResultsURL})
	}
	if last != nil && last.HasResults {
		channels = append(channels, resultChannel{name: "progress results", items: last.Results})
	}
	if last != nil && last.ResultsURL != "" && last.ResultsURL != sub.ResultsURL {
		channels = append(channels, resultChannel{name: "progress results url", url: last.ResultsURL})
	}

	if len(channels) == 0 {
		return nil, eris.Wrap(&resilience.MalformedResponseError{
			What: fmt.Sprintf("batch %q finished without results or a results URL", sub.BatchID),
		}, "orchestrator: acquire results")
	}

	var (
		failedURL string
		failure   error
	)
	for _, ch := range channels {
		if ch.url == "" {
			log.Debug("orchestrator: using inline results", zap.String("channel", ch.name))
			return ch.items, nil
		}
		items, err := o.client.FetchResults(ctx, ch.url)
		if err == nil {
			log.Debug("orchestrator: fetched results", zap.String("channel", ch.name), zap.Int("items", len(items)))
			return items, nil
		}
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "orchestrator: fetch results")
		}
		log.Warn("orchestrator: results fetch failed", zap.String("channel", ch.name), zap.String("url", ch.url), zap.Error(err))
		if failedURL == "" {
			failedURL, failure = ch.url, err
		}
	}

	res.Degraded = true
	res.ResultsURL = failedURL
	res.Notice = fmt.Sprintf("batch results could not be read (%v); raw payload: %s", failure, failedURL)
	return nil, nil
}

// merge maps result items onto inputs by position. Inputs without an item
// become partial-failure error records; surplus items are dropped.
func merge(inputs []model.ExamInput, items []json.RawMessage, res *RunResult, log *zap.Logger) []model.MappingRecord {
	records := make([]model.MappingRecord, len(inputs))
	missing := 0
	for i, in := range inputs {
		if i >= len(items) {
			records[i] = model.ErrorRecord(in, model.FailurePartial, missingItemReason)
			missing++
			continue
		}
		rec := normalize.NormalizeWithInput(items[i], in)
		if rec.IsError() && rec.Failure == model.FailureRemote {
			rec.Failure = model.FailurePartial
		}
		records[i] = rec
	}

	if missing > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d record(s) missing from batch results", missing))
	}
	if extra := len(items) - len(inputs); extra > 0 {
		log.Warn("orchestrator: batch returned more results than records", zap.Int("extra", extra))
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d surplus result(s) ignored", extra))
	}
	return records
}
