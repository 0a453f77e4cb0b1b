// Package orchestrator ships exam records to the cleaning service, choosing
// between individual calls and a polled batch job, and merges the answers
// back into canonical records in input order.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"go.uber.org/zap"

	"github.com/sells-group/examclean/internal/model"
	"github.com/sells-group/examclean/internal/resilience"
	"github.com/sells-group/examclean/pkg/cleaner"
)

const (
	defaultBatchThreshold = 500
	defaultConcurrency    = 3
	defaultPollInterval   = time.Second
	defaultPollTimeout    = 120 * time.Second
)

// State is the lifecycle stage of the current run.
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StatePolling    State = "polling"
	StateMerging    State = "merging"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Strategy is how a run shipped its records.
type Strategy string

const (
	StrategyIndividual Strategy = "individual"
	StrategyBatch      Strategy = "batch"
)

// Config tunes strategy selection and polling.
type Config struct {
	// BatchThreshold is the record count at which a run switches to a batch job.
	BatchThreshold int
	// Concurrency bounds in-flight individual calls.
	Concurrency  int
	PollInterval time.Duration
	// PollTimeout bounds the whole polling phase.
	PollTimeout time.Duration
}

// DefaultConfig returns the standard orchestration settings.
func DefaultConfig() Config {
	return Config{
		BatchThreshold: defaultBatchThreshold,
		Concurrency:    defaultConcurrency,
		PollInterval:   defaultPollInterval,
		PollTimeout:    defaultPollTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.BatchThreshold <= 0 {
		c.BatchThreshold = defaultBatchThreshold
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = defaultPollTimeout
	}
	return c
}

// Selection is the model and reranker a run asks the service to use.
type Selection struct {
	Model    string `json:"model"`
	Reranker string `json:"reranker"`
}

// Progress is reported to the ProgressFunc as a run advances.
type Progress struct {
	State     State    `json:"state"`
	Strategy  Strategy `json:"strategy,omitempty"`
	Processed int      `json:"processed"`
	Total     int      `json:"total"`
	Message   string   `json:"message,omitempty"`
}

// ProgressFunc receives progress notifications. Calls are serialized.
type ProgressFunc func(Progress)

// RunResult is the merged outcome of one run. Records has exactly one entry
// per input, in input order.
type RunResult struct {
	Records   []model.MappingRecord `json:"records"`
	Strategy  Strategy              `json:"strategy"`
	FellBack  bool                  `json:"fell_back,omitempty"`
	Succeeded int                   `json:"succeeded"`
	Failed    int                   `json:"failed"`
	BatchID   string                `json:"batch_id,omitempty"`

	PollTimedOut bool `json:"poll_timed_out,omitempty"`
	// Degraded is set when batch results existed but could not be read; the
	// records are then error placeholders and ResultsURL points at the raw
	// payload.
	Degraded   bool     `json:"degraded,omitempty"`
	Notice     string   `json:"notice,omitempty"`
	ResultsURL string   `json:"results_url,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the clock that drives polling.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithBreaker guards the batch endpoint with cb.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(o *Orchestrator) {
		o.breaker = cb
	}
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(o *Orchestrator) {
		o.onProgress = fn
	}
}

// Orchestrator runs one job at a time against the cleaning service.
type Orchestrator struct {
	client     cleaner.Client
	cfg        Config
	clock      clock.Clock
	breaker    *resilience.CircuitBreaker
	onProgress ProgressFunc

	runMu sync.Mutex

	mu       sync.Mutex
	state    State
	reportMu sync.Mutex
}

// New creates an Orchestrator.
func New(client cleaner.Client, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client: client,
		cfg:    cfg.withDefaults(),
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.clock == nil {
		o.clock = clock.New()
	}
	if o.breaker == nil {
		o.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Clock: o.clock})
	}
	return o
}

// State returns the stage of the current or last run.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// StrategyFor returns the strategy a run of n records starts with.
func (o *Orchestrator) StrategyFor(n int) Strategy {
	if n >= o.cfg.BatchThreshold {
		return StrategyBatch
	}
	return StrategyIndividual
}

// Run processes inputs and returns one record per input. Per-record failures
// become error records; Run itself only fails when the context ends or a
// batch finished without any way to read its results.
func (o *Orchestrator) Run(ctx context.Context, inputs []model.ExamInput, sel Selection) (*RunResult, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	log := zap.L().With(zap.Int("records", len(inputs)), zap.String("model", sel.Model))
	start := o.clock.Now()

	o.setState(StateSubmitting)
	res, err := o.run(ctx, inputs, sel, log)
	if err != nil {
		o.setState(StateFailed)
		o.report(Progress{State: StateFailed, Total: len(inputs), Message: err.Error()})
		log.Error("orchestrator: run failed", zap.Error(err))
		return nil, err
	}

	for _, r := range res.Records {
		if r.IsError() {
			res.Failed++
		} else {
			res.Succeeded++
		}
	}

	o.setState(StateDone)
	o.report(Progress{State: StateDone, Strategy: res.Strategy, Processed: len(inputs), Total: len(inputs)})
	log.Info("orchestrator: run complete",
		zap.String("strategy", string(res.Strategy)),
		zap.Bool("fell_back", res.FellBack),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Bool("degraded", res.Degraded),
		zap.Duration("elapsed", o.clock.Now().Sub(start)),
	)
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, inputs []model.ExamInput, sel Selection, log *zap.Logger) (*RunResult, error) {
	if len(inputs) == 0 {
		return &RunResult{Records: []model.MappingRecord{}, Strategy: StrategyIndividual}, nil
	}

	if o.StrategyFor(len(inputs)) == StrategyIndividual {
		return o.runIndividual(ctx, inputs, sel)
	}

	if err := o.breaker.Allow(); err != nil {
		log.Warn("orchestrator: batch endpoint circuit open, using individual calls")
		res, ierr := o.runIndividual(ctx, inputs, sel)
		if ierr != nil {
			return nil, ierr
		}
		res.FellBack = true
		res.Warnings = append(res.Warnings, "batch endpoint unavailable (circuit open); processed individually")
		return res, nil
	}

	res, err := o.runBatch(ctx, inputs, sel, log)
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil || !isSubmitFailure(err) {
		return nil, err
	}

	log.Warn("orchestrator: batch submission failed, falling back to individual calls", zap.Error(err))
	o.setState(StateSubmitting)
	res, ierr := o.runIndividual(ctx, inputs, sel)
	if ierr != nil {
		return nil, ierr
	}
	res.FellBack = true
	res.Warnings = append(res.Warnings, "batch submission failed: "+err.Error())
	return res, nil
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) report(p Progress) {
	if o.onProgress == nil {
		return
	}
	o.reportMu.Lock()
	defer o.reportMu.Unlock()
	o.onProgress(p)
}

// submitError marks a failure of the batch submission request itself, the
// only kind of batch failure that falls back to individual calls.
type submitError struct {
	err error
}

func (e *submitError) Error() string { return e.err.Error() }
func (e *submitError) Unwrap() error { return e.err }

func isSubmitFailure(err error) bool {
	var se *submitError
	return errors.As(err, &se) && resilience.IsSubmissionFailure(err)
}
