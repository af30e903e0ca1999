package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Upstream UpstreamConfig `yaml:"upstream" mapstructure:"upstream"`
	Sink     SinkConfig     `yaml:"sink" mapstructure:"sink"`
	Score    ScoreConfig    `yaml:"score" mapstructure:"score"`
	Ranking  RankingConfig  `yaml:"ranking" mapstructure:"ranking"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// UpstreamConfig configures the legislature API client and extractor.
type UpstreamConfig struct {
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	PageSize       int     `yaml:"page_size" mapstructure:"page_size"`
	MaxPages       int     `yaml:"max_pages" mapstructure:"max_pages"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries     int     `yaml:"max_retries" mapstructure:"max_retries"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	PausePerCallMS int     `yaml:"pause_per_call_ms" mapstructure:"pause_per_call_ms"`
	BatchPauseMS   int     `yaml:"batch_pause_ms" mapstructure:"batch_pause_ms"`
	Concurrency    int     `yaml:"concurrency" mapstructure:"concurrency"`
	DetailTTLHours int     `yaml:"detail_ttl_hours" mapstructure:"detail_ttl_hours"`
}

// SinkConfig configures the document store backend and the batched loader.
type SinkConfig struct {
	Driver           string `yaml:"driver" mapstructure:"driver"`
	SQLitePath       string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	DatabaseURL      string `yaml:"database_url" mapstructure:"database_url"`
	MaxBatchWidth    int    `yaml:"max_batch_width" mapstructure:"max_batch_width"`
	MaxDocBytes      int    `yaml:"max_doc_bytes" mapstructure:"max_doc_bytes"`
	MaxInflight      int    `yaml:"max_inflight_batches" mapstructure:"max_inflight_batches"`
	FailureThreshold int    `yaml:"failure_threshold" mapstructure:"failure_threshold"`
}

// ScoreConfig configures the scoring rule set.
type ScoreConfig struct {
	RulesFile    string  `yaml:"rules_file" mapstructure:"rules_file"`
	TierSuspect  float64 `yaml:"tier_suspect" mapstructure:"tier_suspect"`
	TierHighRisk float64 `yaml:"tier_high_risk" mapstructure:"tier_high_risk"`
	TierCritical float64 `yaml:"tier_critical" mapstructure:"tier_critical"`
	MonthlyLimit float64 `yaml:"monthly_limit" mapstructure:"monthly_limit"`
}

// RankingConfig configures ranking list construction.
type RankingConfig struct {
	MaxLength int `yaml:"max_length" mapstructure:"max_length"`
}

// PipelineConfig configures run behavior.
type PipelineConfig struct {
	Version string `yaml:"version" mapstructure:"version"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("EXPENSE_AUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("upstream.base_url", "https://dadosabertos.camara.leg.br/api/v2")
	v.SetDefault("upstream.page_size", 100)
	v.SetDefault("upstream.max_pages", 200)
	v.SetDefault("upstream.timeout_secs", 30)
	v.SetDefault("upstream.max_retries", 3)
	v.SetDefault("upstream.requests_per_sec", 2)
	v.SetDefault("upstream.pause_per_call_ms", 500)
	v.SetDefault("upstream.batch_pause_ms", 2000)
	v.SetDefault("upstream.concurrency", 3)
	v.SetDefault("upstream.detail_ttl_hours", 24)
	v.SetDefault("sink.driver", "sqlite")
	v.SetDefault("sink.sqlite_path", "expense-audit.db")
	v.SetDefault("sink.max_batch_width", 400)
	v.SetDefault("sink.max_doc_bytes", 900*1024)
	v.SetDefault("sink.max_inflight_batches", 2)
	v.SetDefault("sink.failure_threshold", 5)
	v.SetDefault("score.tier_suspect", 40)
	v.SetDefault("score.tier_high_risk", 60)
	v.SetDefault("score.tier_critical", 80)
	v.SetDefault("score.monthly_limit", 45000)
	v.SetDefault("ranking.max_length", 500)
	v.SetDefault("pipeline.version", "1.0.0")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks that required run parameters are present. Failures here
// abort before extraction starts.
func (c *Config) Validate() error {
	if c.Upstream.BaseURL == "" {
		return eris.New("config: upstream.base_url is required")
	}
	if c.Upstream.Concurrency <= 0 {
		return eris.New("config: upstream.concurrency must be positive")
	}
	switch c.Sink.Driver {
	case "sqlite":
		if c.Sink.SQLitePath == "" {
			return eris.New("config: sink.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Sink.DatabaseURL == "" {
			return eris.New("config: sink.database_url is required for the postgres driver")
		}
	default:
		return eris.Errorf("config: unknown sink driver %q", c.Sink.Driver)
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
