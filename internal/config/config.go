package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Service      ServiceConfig      `yaml:"service" mapstructure:"service"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Circuit      CircuitConfig      `yaml:"circuit" mapstructure:"circuit"`
	Review       ReviewConfig       `yaml:"review" mapstructure:"review"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// ServiceConfig configures the remote cleaning service client.
type ServiceConfig struct {
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey         string  `yaml:"api_key" mapstructure:"api_key"`
	Model          string  `yaml:"model" mapstructure:"model"`
	Reranker       string  `yaml:"reranker" mapstructure:"reranker"`
	TimeoutMs      int     `yaml:"timeout_ms" mapstructure:"timeout_ms"`
	BatchTimeoutMs int     `yaml:"batch_timeout_ms" mapstructure:"batch_timeout_ms"`
	MaxRetries     int     `yaml:"max_retries" mapstructure:"max_retries"`
	BackoffBaseMs  int     `yaml:"backoff_base_ms" mapstructure:"backoff_base_ms"`
	RateLimit      float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// Timeout returns the per-attempt timeout.
func (c ServiceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// BatchTimeout returns the per-attempt timeout of batch submissions and
// result downloads.
func (c ServiceConfig) BatchTimeout() time.Duration {
	return time.Duration(c.BatchTimeoutMs) * time.Millisecond
}

// OrchestratorConfig configures strategy selection and polling.
type OrchestratorConfig struct {
	BatchThreshold  int `yaml:"batch_threshold" mapstructure:"batch_threshold"`
	Concurrency     int `yaml:"concurrency" mapstructure:"concurrency"`
	PollIntervalMs  int `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	PollTimeoutSecs int `yaml:"poll_timeout_secs" mapstructure:"poll_timeout_secs"`
}

// CircuitConfig configures the breaker around batch submission.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ReviewConfig holds the attention flag thresholds.
type ReviewConfig struct {
	LowConfidence float64 `yaml:"low_confidence" mapstructure:"low_confidence"`
	ConfidenceGap float64 `yaml:"confidence_gap" mapstructure:"confidence_gap"`
}

// ServerConfig configures the review API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("EXAMCLEAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("service.base_url", "http://localhost:8000/api")
	v.SetDefault("service.model", "default")
	v.SetDefault("service.reranker", "medcpt")
	v.SetDefault("service.timeout_ms", 30000)
	v.SetDefault("service.batch_timeout_ms", 120000)
	v.SetDefault("service.max_retries", 3)
	v.SetDefault("service.backoff_base_ms", 500)
	v.SetDefault("service.rate_limit", 0)
	v.SetDefault("orchestrator.batch_threshold", 500)
	v.SetDefault("orchestrator.concurrency", 3)
	v.SetDefault("orchestrator.poll_interval_ms", 1000)
	v.SetDefault("orchestrator.poll_timeout_secs", 120)
	v.SetDefault("circuit.failure_threshold", 3)
	v.SetDefault("circuit.reset_timeout_secs", 300)
	v.SetDefault("review.low_confidence", 0.85)
	v.SetDefault("review.confidence_gap", 0.15)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. Mode is "process" or "serve".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "process":
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if strings.TrimSpace(c.Service.BaseURL) == "" {
		problems = append(problems, "service.base_url is required")
	}
	if c.Service.MaxRetries < 1 || c.Service.MaxRetries > 10 {
		problems = append(problems, "service.max_retries must be between 1 and 10")
	}
	if c.Service.TimeoutMs <= 0 {
		problems = append(problems, "service.timeout_ms must be > 0")
	}
	if c.Service.RateLimit < 0 {
		problems = append(problems, "service.rate_limit must be >= 0")
	}
	if c.Orchestrator.Concurrency < 1 || c.Orchestrator.Concurrency > 32 {
		problems = append(problems, "orchestrator.concurrency must be between 1 and 32")
	}
	if c.Orchestrator.BatchThreshold < 1 {
		problems = append(problems, "orchestrator.batch_threshold must be > 0")
	}
	if c.Orchestrator.PollIntervalMs <= 0 || c.Orchestrator.PollTimeoutSecs <= 0 {
		problems = append(problems, "orchestrator poll interval and timeout must be > 0")
	}
	if c.Review.LowConfidence < 0 || c.Review.LowConfidence > 1 {
		problems = append(problems, "review.low_confidence must be between 0 and 1")
	}
	if c.Review.ConfidenceGap < 0 || c.Review.ConfidenceGap > 1 {
		problems = append(problems, "review.confidence_gap must be between 0 and 1")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
