package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable read by Load,
// e.g. PAYGATE_X402_PAY_TO for x402.pay_to.
const EnvPrefix = "PAYGATE"

// Load configuration from environment variables and optionally a config file.
// Environment variables take precedence over values from the config file.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Optional config file: ./paygate.yaml or /etc/paygate/paygate.yaml
	v.SetConfigName("paygate")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/paygate")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables, e.g. PAYGATE_SERVER_PORT
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.CORS.Origins = cleanList(cfg.CORS.Origins)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the struct tags of a Config.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// setDefaults registers a default for every key. Viper only maps environment
// variables onto keys it already knows about, so optional keys get an explicit
// zero value here.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.url", "")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "paygate")

	v.SetDefault("x402.enabled", true)
	v.SetDefault("x402.pay_to", "")
	v.SetDefault("x402.facilitator_url", "https://www.x402.org/facilitator")
	v.SetDefault("x402.network", "eip155:84532")
	v.SetDefault("x402.price", "$0.001")
	v.SetDefault("x402.analysis_price", "")
	v.SetDefault("x402.task_description", "Asynchronous NBA matchup task")
	v.SetDefault("x402.analysis_description", "AI analysis for an NBA matchup")
	v.SetDefault("x402.max_timeout_seconds", 60)
	v.SetDefault("x402.facilitator_timeout", 30*time.Second)
	v.SetDefault("x402.cdp_api_key_id", "")
	v.SetDefault("x402.cdp_api_key_secret", "")
	v.SetDefault("x402.debug", false)
	v.SetDefault("x402.protect_tasks", true)

	v.SetDefault("session.mode", "cookie")
	v.SetDefault("session.ttl", 12*time.Hour)
	v.SetDefault("session.cookie_name", "x402_session")
	v.SetDefault("session.sweep_interval", 15*time.Minute)

	v.SetDefault("cors.origins", []string{})

	v.SetDefault("task.worker_count", 2)
	v.SetDefault("task.attempts", 1)
	v.SetDefault("task.keep_completed", 100)
	v.SetDefault("task.keep_failed", 100)
	v.SetDefault("task.cancel_ttl", 5*time.Minute)
	v.SetDefault("task.lock_duration", 30*time.Second)
	v.SetDefault("task.stalled_check_interval", 30*time.Second)
	v.SetDefault("task.poll_timeout", time.Second)
	v.SetDefault("task.promote_interval", time.Second)

	v.SetDefault("sync.worker_count", 1)
	v.SetDefault("sync.attempts", 3)
	v.SetDefault("sync.backoff", 30*time.Second)
	v.SetDefault("sync.cooldown", 30*time.Minute)
	v.SetDefault("sync.follower_attempts", 3)
	v.SetDefault("sync.follower_delay", 50*time.Millisecond)
	v.SetDefault("sync.range_max_days", 0)
	v.SetDefault("sync.keep_completed", 100)
	v.SetDefault("sync.keep_failed", 100)
	v.SetDefault("sync.scheduler_enabled", true)
	v.SetDefault("sync.scoreboard_cron", "*/10 * * * *")
	v.SetDefault("sync.final_results_cron", "*/15 * * * *")
	v.SetDefault("sync.hourly_cron", "0 * * * *")
	v.SetDefault("sync.hourly_enabled", false)
	v.SetDefault("sync.injury_report_cron", "30 * * * *")
	v.SetDefault("sync.scoreboard_date", "")
	v.SetDefault("sync.final_results_date", "")
	v.SetDefault("sync.hourly_date", "")

	v.SetDefault("nsq.nsqd_addr", "")
	v.SetDefault("nsq.ingest_topic", "nba.ingest")

	v.SetDefault("llm.gemini_api_key", "")
	v.SetDefault("llm.model", "gemini-2.0-flash")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "paygate")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4318")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// cleanList trims entries and drops empty ones, so "a, b," becomes [a b].
func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
