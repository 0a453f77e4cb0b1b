package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/examclean/internal/model"
	"github.com/sells-group/examclean/internal/orchestrator"
	"github.com/sells-group/examclean/internal/review"
	"github.com/sells-group/examclean/pkg/cleaner"
)

type fakeRunner struct {
	sel     orchestrator.Selection
	records []model.MappingRecord
	err     error
}

func (f *fakeRunner) Run(_ context.Context, inputs []model.ExamInput, sel orchestrator.Selection) (*orchestrator.RunResult, error) {
	f.sel = sel
	if f.err != nil {
		return nil, f.err
	}
	return &orchestrator.RunResult{Records: f.records, Strategy: orchestrator.StrategyIndividual, Succeeded: len(f.records)}, nil
}

type fakeSender struct {
	reqs []cleaner.CommitRequest
	// during runs while the request is in flight.
	during func()
}

func (f *fakeSender) CommitDecisions(_ context.Context, req cleaner.CommitRequest) (*cleaner.CommitResponse, error) {
	f.reqs = append(f.reqs, req)
	if f.during != nil {
		f.during()
	}
	return &cleaner.CommitResponse{Success: true}, nil
}

func records() []model.MappingRecord {
	mk := func(code, clean string, conf float64) model.MappingRecord {
		return model.MappingRecord{
			DataSource: "RIS",
			ExamCode:   code,
			ExamName:   "exam " + code,
			CleanName:  clean,
			Components: model.Components{Confidence: model.Float(conf)},
			Candidates: []model.Candidate{{Label: clean, Confidence: conf}, {Label: "alt", Confidence: conf - 0.01}},
		}
	}
	return []model.MappingRecord{
		mk("1", "CT Head", 0.9),
		mk("2", "CT Head", 0.92),
		mk("3", "MR Knee", 0.5),
		model.ErrorRecord(model.ExamInput{ExamCode: "4"}, model.FailureTimeout, "request timed out"),
	}
}

func TestProcess(t *testing.T) {
	r := &fakeRunner{records: records()}
	s := New(r, &fakeSender{}, Settings{Model: "default", Reranker: "medcpt"})

	res, err := s.Process(context.Background(), []model.ExamInput{{ExamName: "x"}})
	require.NoError(t, err)
	assert.Equal(t, orchestrator.Selection{Model: "default", Reranker: "medcpt"}, r.sel)
	assert.Same(t, res, s.LastRun())

	stats := s.Stats()
	assert.Equal(t, 4, stats.TotalRecords)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 2, stats.UniqueCleanNames)
	assert.Equal(t, 2.0, stats.ConsolidationRate)
	assert.Len(t, s.Records(), 4)

	views := s.Query(review.ToolbarState{})
	require.Len(t, views, 2)
	assert.Equal(t, "CT Head", views[0].Key)
}

func TestProcess_Error(t *testing.T) {
	s := New(&fakeRunner{err: errors.New("boom")}, &fakeSender{}, Settings{})
	_, err := s.Process(context.Background(), nil)
	require.Error(t, err)
	assert.Nil(t, s.LastRun())
}

func TestSetSettings(t *testing.T) {
	r := &fakeRunner{records: records()}
	s := New(r, &fakeSender{}, Settings{Model: "a"})
	s.SetSettings(Settings{Model: "b", Reranker: "r"})
	assert.Equal(t, Settings{Model: "b", Reranker: "r"}, s.Settings())

	_, err := s.Process(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "b", r.sel.Model)
}

func TestDecisionsAndCommit(t *testing.T) {
	sender := &fakeSender{}
	s := New(&fakeRunner{}, sender, Settings{})
	s.Load(records())

	n, err := s.DecideGroup("CT Head", model.DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.DecideGroup("nope", model.DecisionApprove)
	assert.ErrorIs(t, err, ErrUnknownGroup)

	knee, ok := s.Group("MR Knee")
	require.True(t, ok)
	id := knee.Members[0].MappingID
	_, err = s.Decide(id, model.DecisionModify, "MR Knee Left")
	require.NoError(t, err)

	head, _ := s.Group("CT Head")
	_, err = s.Unapprove(head.Members[0].MappingID)
	require.NoError(t, err)

	res, err := s.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Committed)
	require.Len(t, sender.reqs, 1)
	assert.Equal(t, cleaner.CommitSummary{Total: 2, Approve: 1, Modify: 1}, sender.reqs[0].Summary)

	e, ok := s.Entry(id)
	require.True(t, ok)
	assert.Equal(t, model.StatusPendingReview, e.Status)
}

func TestCommit_KeepsDecisionChangedInFlight(t *testing.T) {
	sender := &fakeSender{}
	s := New(&fakeRunner{}, sender, Settings{})
	s.Load(records())

	head, ok := s.Group("CT Head")
	require.True(t, ok)
	changed := head.Members[0].MappingID
	other := head.Members[1].MappingID
	_, err := s.DecideGroup("CT Head", model.DecisionApprove)
	require.NoError(t, err)

	sender.during = func() {
		_, err := s.Decide(changed, model.DecisionReject, "wrong anatomy")
		assert.NoError(t, err)
	}

	res, err := s.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Committed)

	e, ok := s.Entry(changed)
	require.True(t, ok)
	assert.Equal(t, model.StatusReviewed, e.Status)
	assert.Equal(t, model.DecisionReject, e.Decision)
	assert.Equal(t, "wrong anatomy", e.Notes)

	e, ok = s.Entry(other)
	require.True(t, ok)
	assert.Equal(t, model.StatusPendingReview, e.Status)
	assert.Equal(t, model.DecisionNone, e.Decision)

	sender.during = nil
	res, err = s.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Committed)
	assert.Equal(t, cleaner.CommitSummary{Total: 1, Reject: 1}, sender.reqs[1].Summary)
}

func TestLoad_ReseedsMachine(t *testing.T) {
	s := New(&fakeRunner{}, &fakeSender{}, Settings{})
	s.Load(records())
	_, err := s.DecideGroup("CT Head", model.DecisionReject)
	require.NoError(t, err)

	s.Load(records())
	views := s.Query(review.ToolbarState{Status: review.StatusReviewed})
	assert.Empty(t, views)
}
