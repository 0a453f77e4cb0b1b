package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/examclean/internal/model"
	"github.com/sells-group/examclean/internal/normalize"
	"github.com/sells-group/examclean/internal/resilience"
	"github.com/sells-group/examclean/pkg/cleaner"
)

// runIndividual sends one request per record with at most cfg.Concurrency in
// flight. Results land in a pre-sized slice by index.
func (o *Orchestrator) runIndividual(ctx context.Context, inputs []model.ExamInput, sel Selection) (*RunResult, error) {
	total := len(inputs)
	records := make([]model.MappingRecord, total)
	var processed atomic.Int64

	o.report(Progress{State: StateSubmitting, Strategy: StrategyIndividual, Total: total})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)

	for i, in := range inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			records[i] = o.processOne(gctx, in, sel)

			n := processed.Add(1)
			o.report(Progress{State: StateSubmitting, Strategy: StrategyIndividual, Processed: int(n), Total: total})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "orchestrator: individual calls")
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "orchestrator: individual calls")
	}

	o.setState(StateMerging)
	return &RunResult{Records: records, Strategy: StrategyIndividual}, nil
}

// processOne never fails: a call that could not be completed becomes an
// error record.
func (o *Orchestrator) processOne(ctx context.Context, in model.ExamInput, sel Selection) model.MappingRecord {
	resp, err := o.client.ProcessExam(ctx, cleaner.ProcessRequest{
		ExamName:     in.ExamName,
		ModalityCode: in.ModalityCode,
		Model:        sel.Model,
		Reranker:     sel.Reranker,
	})
	if err != nil {
		kind, reason := classify(err)
		zap.L().Warn("orchestrator: exam call failed",
			zap.String("exam_code", in.ExamCode),
			zap.String("failure", string(kind)),
			zap.Error(err),
		)
		return model.ErrorRecord(in, kind, reason)
	}
	return normalize.NormalizeWithInput(normalize.Envelope(in, resp.StatusCode, resp.Body), in)
}

func classify(err error) (model.FailureKind, string) {
	var (
		ne *resilience.NetworkError
		re *resilience.RemoteError
		me *resilience.MalformedResponseError
	)
	switch {
	case resilience.IsTimeout(err):
		return model.FailureTimeout, "request timed out"
	case errors.As(err, &ne):
		return model.FailureNetwork, "network failure"
	case errors.As(err, &me):
		return model.FailureMalformed, me.What
	case errors.As(err, &re):
		return model.FailureRemote, re.Error()
	default:
		return model.FailureRemote, err.Error()
	}
}
