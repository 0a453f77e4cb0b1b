package main

import (
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/examclean/internal/config"
	"github.com/sells-group/examclean/internal/consolidate"
	"github.com/sells-group/examclean/internal/orchestrator"
	"github.com/sells-group/examclean/internal/resilience"
	"github.com/sells-group/examclean/internal/session"
	"github.com/sells-group/examclean/pkg/cleaner"
)

// newClient builds the cleaning service client from config.
func newClient(c *config.Config) cleaner.Client {
	return cleaner.NewClient(
		cleaner.WithBaseURL(c.Service.BaseURL),
		cleaner.WithAPIKey(c.Service.APIKey),
		cleaner.WithTimeout(c.Service.Timeout()),
		cleaner.WithBatchTimeout(c.Service.BatchTimeout()),
		cleaner.WithRetry(resilience.FromRetryConfig(c.Service.MaxRetries, c.Service.BackoffBaseMs)),
		cleaner.WithRateLimit(c.Service.RateLimit, 1),
	)
}

// newOrchestrator wires the client, the batch circuit breaker and a
// progress logger into an orchestrator.
func newOrchestrator(c *config.Config, client cleaner.Client) *orchestrator.Orchestrator {
	cbCfg := resilience.FromCircuitConfig(c.Circuit.FailureThreshold, c.Circuit.ResetTimeoutSecs)
	cbCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("batch circuit breaker state change",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	return orchestrator.New(client, orchestrator.Config{
		BatchThreshold: c.Orchestrator.BatchThreshold,
		Concurrency:    c.Orchestrator.Concurrency,
		PollInterval:   time.Duration(c.Orchestrator.PollIntervalMs) * time.Millisecond,
		PollTimeout:    time.Duration(c.Orchestrator.PollTimeoutSecs) * time.Second,
	},
		orchestrator.WithBreaker(resilience.NewCircuitBreaker(cbCfg)),
		orchestrator.WithProgress(logProgress),
	)
}

func logProgress(p orchestrator.Progress) {
	zap.L().Info("run progress",
		zap.String("state", string(p.State)),
		zap.String("strategy", string(p.Strategy)),
		zap.Int("processed", p.Processed),
		zap.Int("total", p.Total),
		zap.String("message", p.Message),
	)
}

// newSession builds a session backed by a fresh client and orchestrator.
func newSession(c *config.Config) *session.Session {
	client := newClient(c)
	return session.New(newOrchestrator(c, client), client,
		session.Settings{Model: c.Service.Model, Reranker: c.Service.Reranker},
		session.WithFlagOptions(consolidate.Options{
			LowConfidence: c.Review.LowConfidence,
			ConfidenceGap: c.Review.ConfidenceGap,
		}),
	)
}
