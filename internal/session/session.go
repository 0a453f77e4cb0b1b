// Package session owns the working state of one operator: the model
// selection, the current record set, its groups and the review machine.
package session

import (
	"context"
	"sync"

	"github.com/facebookgo/clock"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/examclean/internal/commit"
	"github.com/sells-group/examclean/internal/consolidate"
	"github.com/sells-group/examclean/internal/model"
	"github.com/sells-group/examclean/internal/orchestrator"
	"github.com/sells-group/examclean/internal/review"
)

// ErrUnknownGroup is returned for a group key not in the current record set.
var ErrUnknownGroup = eris.New("session: unknown group")

// Settings is the per-session model selection.
type Settings struct {
	Model    string `json:"model"`
	Reranker string `json:"reranker"`
}

// Runner processes exam inputs.
type Runner interface {
	Run(ctx context.Context, inputs []model.ExamInput, sel orchestrator.Selection) (*orchestrator.RunResult, error)
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the clock used to stamp review decisions.
func WithClock(c clock.Clock) Option {
	return func(s *Session) {
		s.clock = c
	}
}

// WithFlagOptions overrides the attention flag thresholds.
func WithFlagOptions(o consolidate.Options) Option {
	return func(s *Session) {
		s.flagOpts = o
	}
}

// Session is safe for concurrent use. A new run replaces the whole record
// set and reseeds the review machine.
type Session struct {
	runner   Runner
	sender   commit.Sender
	clock    clock.Clock
	flagOpts consolidate.Options

	mu       sync.RWMutex
	settings Settings
	records  []model.MappingRecord
	groups   map[string]*model.ConsolidatedGroup
	stats    consolidate.Stats
	lastRun  *orchestrator.RunResult
	machine  *review.Machine
}

// New creates an empty session.
func New(runner Runner, sender commit.Sender, settings Settings, opts ...Option) *Session {
	s := &Session{
		runner:   runner,
		sender:   sender,
		settings: settings,
		flagOpts: consolidate.DefaultOptions(),
		groups:   make(map[string]*model.ConsolidatedGroup),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.machine = review.NewMachine(s.clock)
	return s
}

// Settings returns the current model selection.
func (s *Session) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// SetSettings changes the model selection for later runs.
func (s *Session) SetSettings(st Settings) {
	s.mu.Lock()
	s.settings = st
	s.mu.Unlock()
	zap.L().Info("session: settings changed", zap.String("model", st.Model), zap.String("reranker", st.Reranker))
}

// Process runs inputs through the runner and loads the result.
func (s *Session) Process(ctx context.Context, inputs []model.ExamInput) (*orchestrator.RunResult, error) {
	st := s.Settings()
	res, err := s.runner.Run(ctx, inputs, orchestrator.Selection{Model: st.Model, Reranker: st.Reranker})
	if err != nil {
		return nil, eris.Wrap(err, "session: process")
	}
	s.Load(res.Records)

	s.mu.Lock()
	s.lastRun = res
	s.mu.Unlock()
	return res, nil
}

// Load replaces the working record set.
func (s *Session) Load(records []model.MappingRecord) {
	groups := consolidate.ConsolidateWith(records, s.flagOpts)
	stats := consolidate.Summarize(records, groups)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
	s.groups = groups
	s.stats = stats
	s.machine.Seed(groups)
}

// Records returns the working record set.
func (s *Session) Records() []model.MappingRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records
}

// Stats returns the statistics of the working record set.
func (s *Session) Stats() consolidate.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// LastRun returns the result of the most recent run, or nil.
func (s *Session) LastRun() *orchestrator.RunResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun
}

// Group returns the group with the given key.
func (s *Session) Group(key string) (*model.ConsolidatedGroup, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[key]
	return g, ok
}

// Query projects the current groups through ts.
func (s *Session) Query(ts review.ToolbarState) []review.GroupView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return review.Query(s.groups, s.machine.Entry, ts)
}

// Entry returns the review entry for id.
func (s *Session) Entry(id string) (model.ValidationEntry, bool) {
	return s.machine.Entry(id)
}

// Decide records a decision for one entry.
func (s *Session) Decide(id string, d model.Decision, notes string) (model.ValidationEntry, error) {
	return s.machine.Decide(id, d, notes)
}

// Unapprove reverts an approved entry to pending.
func (s *Session) Unapprove(id string) (model.ValidationEntry, error) {
	return s.machine.Unapprove(id)
}

// DecideGroup applies d to every member of the group with the given key.
func (s *Session) DecideGroup(key string, d model.Decision) (int, error) {
	g, ok := s.Group(key)
	if !ok {
		return 0, eris.Wrapf(ErrUnknownGroup, "group %q", key)
	}
	return s.machine.ApplyToGroup(g, d)
}

// Commit sends the reviewed decisions to the service.
func (s *Session) Commit(ctx context.Context) (*commit.Result, error) {
	return commit.Commit(ctx, s.sender, s.machine)
}
