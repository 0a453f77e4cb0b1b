// Package commit sends reviewed decisions back to the cleaning service.
package commit

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/examclean/internal/model"
	"github.com/sells-group/examclean/pkg/cleaner"
)

// Sender posts a decision batch.
type Sender interface {
	CommitDecisions(ctx context.Context, req cleaner.CommitRequest) (*cleaner.CommitResponse, error)
}

// Entries is the review state a commit reads and resets.
type Entries interface {
	Entries() []model.ValidationEntry
	// Reset clears the committed entries that have not changed since the
	// snapshot was taken.
	Reset(committed []model.ValidationEntry) int
}

// Result describes one commit.
type Result struct {
	Committed     int                   `json:"committed"`
	Summary       cleaner.CommitSummary `json:"summary"`
	CachesRebuilt bool                  `json:"caches_rebuilt"`
	Message       string                `json:"message,omitempty"`
}

// Build collects every reviewed entry with a decision into one request and
// returns the mapping ids it covers.
func Build(entries []model.ValidationEntry) (cleaner.CommitRequest, []string) {
	req := cleaner.CommitRequest{Decisions: []cleaner.DecisionPayload{}}
	var ids []string

	for _, e := range entries {
		if !e.Committable() {
			continue
		}
		r := e.Record
		req.Decisions = append(req.Decisions, cleaner.DecisionPayload{
			MappingID: e.MappingID,
			Decision:  string(e.Decision),
			Notes:     e.Notes,
			Original: cleaner.OriginalFields{
				DataSource:   r.DataSource,
				ExamCode:     r.ExamCode,
				ExamName:     r.ExamName,
				ModalityCode: r.ModalityCode,
				CleanName:    r.CleanName,
			},
		})
		ids = append(ids, e.MappingID)

		req.Summary.Total++
		switch e.Decision {
		case model.DecisionApprove:
			req.Summary.Approve++
		case model.DecisionReject:
			req.Summary.Reject++
		case model.DecisionModify:
			req.Summary.Modify++
		case model.DecisionSkip:
			req.Summary.Skip++
		}
	}
	return req, ids
}

// Commit sends all committable decisions in one request. On success the
// committed entries return to pristine pending state; on failure nothing
// changes so the operator can retry. With nothing to commit no request is
// made.
func Commit(ctx context.Context, s Sender, entries Entries) (*Result, error) {
	snapshot := entries.Entries()
	req, ids := Build(snapshot)
	if len(ids) == 0 {
		zap.L().Debug("commit: nothing to commit")
		return &Result{}, nil
	}

	log := zap.L().With(
		zap.Int("decisions", req.Summary.Total),
		zap.Int("approve", req.Summary.Approve),
		zap.Int("reject", req.Summary.Reject),
		zap.Int("modify", req.Summary.Modify),
		zap.Int("skip", req.Summary.Skip),
	)

	resp, err := s.CommitDecisions(ctx, req)
	if err != nil {
		log.Warn("commit: failed, local decisions kept", zap.Error(err))
		return nil, eris.Wrap(err, "commit: send decisions")
	}

	committed := make([]model.ValidationEntry, 0, len(ids))
	for _, e := range snapshot {
		if e.Committable() {
			committed = append(committed, e)
		}
	}
	if n := entries.Reset(committed); n < len(committed) {
		log.Info("commit: entries changed during commit kept", zap.Int("kept", len(committed)-n))
	}
	log.Info("commit: decisions committed", zap.Bool("caches_rebuilt", resp.CachesRebuilt))

	return &Result{
		Committed:     len(ids),
		Summary:       req.Summary,
		CachesRebuilt: resp.CachesRebuilt,
		Message:       resp.Message,
	}, nil
}
