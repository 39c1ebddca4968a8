package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis" validate:"required"`
	X402     X402Config     `mapstructure:"x402" validate:"required"`
	Session  SessionConfig  `mapstructure:"session" validate:"required"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Task     TaskConfig     `mapstructure:"task" validate:"required"`
	Sync     SyncConfig     `mapstructure:"sync" validate:"required"`
	NSQ      NSQConfig      `mapstructure:"nsq"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	Environment     string        `mapstructure:"environment" validate:"required,oneof=development test staging production"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// IsProduction reports whether the server runs with production defaults
// (secure cookies, no debug headers).
func (c ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}

// DatabaseConfig contains all database-related configuration settings.
// An empty URL disables the relational store.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// RedisConfig configures the coordination store and job queue backend.
type RedisConfig struct {
	Addr      string `mapstructure:"addr" validate:"required,hostname_port"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db" validate:"gte=0"`
	KeyPrefix string `mapstructure:"key_prefix" validate:"required"`
}

// X402Config contains payment gate settings.
type X402Config struct {
	Enabled             bool          `mapstructure:"enabled"`
	PayTo               string        `mapstructure:"pay_to" validate:"required_if=Enabled true"`
	FacilitatorURL      string        `mapstructure:"facilitator_url" validate:"required,url"`
	Network             string        `mapstructure:"network" validate:"required"`
	Price               string        `mapstructure:"price" validate:"required"`
	AnalysisPrice       string        `mapstructure:"analysis_price"`
	TaskDescription     string        `mapstructure:"task_description"`
	AnalysisDescription string        `mapstructure:"analysis_description"`
	MaxTimeoutSeconds   int           `mapstructure:"max_timeout_seconds" validate:"gt=0"`
	FacilitatorTimeout  time.Duration `mapstructure:"facilitator_timeout" validate:"gt=0"`
	CDPAPIKeyID         string        `mapstructure:"cdp_api_key_id"`
	CDPAPIKeySecret     string        `mapstructure:"cdp_api_key_secret" validate:"required_with=CDPAPIKeyID"`
	Debug               bool          `mapstructure:"debug"`
	ProtectTasks        bool          `mapstructure:"protect_tasks"`
}

// EffectiveAnalysisPrice returns the analysis price, falling back to the
// general price when none is configured.
func (c X402Config) EffectiveAnalysisPrice() string {
	if c.AnalysisPrice != "" {
		return c.AnalysisPrice
	}
	return c.Price
}

// SessionConfig controls the payment session cookie.
type SessionConfig struct {
	Mode          string        `mapstructure:"mode" validate:"required,oneof=cookie per_request disabled"`
	TTL           time.Duration `mapstructure:"ttl" validate:"gte=0"`
	CookieName    string        `mapstructure:"cookie_name" validate:"required"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
}

// CORSConfig lists the origins allowed on protected routes.
// An empty list echoes any origin.
type CORSConfig struct {
	Origins []string `mapstructure:"origins"`
}

// TaskConfig configures the capability task queue and its workers.
type TaskConfig struct {
	WorkerCount          int           `mapstructure:"worker_count" validate:"gt=0"`
	Attempts             int           `mapstructure:"attempts" validate:"gt=0"`
	KeepCompleted        int           `mapstructure:"keep_completed" validate:"gte=0"`
	KeepFailed           int           `mapstructure:"keep_failed" validate:"gte=0"`
	CancelTTL            time.Duration `mapstructure:"cancel_ttl" validate:"gt=0"`
	LockDuration         time.Duration `mapstructure:"lock_duration" validate:"gt=0"`
	StalledCheckInterval time.Duration `mapstructure:"stalled_check_interval" validate:"gt=0"`
	PollTimeout          time.Duration `mapstructure:"poll_timeout" validate:"gt=0"`
	PromoteInterval      time.Duration `mapstructure:"promote_interval" validate:"gt=0"`
}

// SyncConfig configures the data-sync queue, its trigger cooldown and the
// cron schedules that feed it.
type SyncConfig struct {
	WorkerCount      int           `mapstructure:"worker_count" validate:"gt=0"`
	Attempts         int           `mapstructure:"attempts" validate:"gt=0"`
	Backoff          time.Duration `mapstructure:"backoff" validate:"gte=0"`
	Cooldown         time.Duration `mapstructure:"cooldown" validate:"gt=0"`
	FollowerAttempts int           `mapstructure:"follower_attempts" validate:"gt=0"`
	FollowerDelay    time.Duration `mapstructure:"follower_delay" validate:"gte=0"`
	RangeMaxDays     int           `mapstructure:"range_max_days" validate:"gte=0"`
	KeepCompleted    int           `mapstructure:"keep_completed" validate:"gte=0"`
	KeepFailed       int           `mapstructure:"keep_failed" validate:"gte=0"`

	SchedulerEnabled  bool   `mapstructure:"scheduler_enabled"`
	ScoreboardCron    string `mapstructure:"scoreboard_cron" validate:"required"`
	FinalResultsCron  string `mapstructure:"final_results_cron" validate:"required"`
	HourlyCron        string `mapstructure:"hourly_cron" validate:"required"`
	HourlyEnabled     bool   `mapstructure:"hourly_enabled"`
	InjuryReportCron  string `mapstructure:"injury_report_cron" validate:"required"`
	ScoreboardDate    string `mapstructure:"scoreboard_date" validate:"omitempty,datetime=2006-01-02"`
	FinalResultsDate  string `mapstructure:"final_results_date" validate:"omitempty,datetime=2006-01-02"`
	HourlyDate        string `mapstructure:"hourly_date" validate:"omitempty,datetime=2006-01-02"`
}

// NSQConfig points sync jobs at the external ingestion service.
type NSQConfig struct {
	NsqdAddr    string `mapstructure:"nsqd_addr" validate:"omitempty,hostname_port"`
	IngestTopic string `mapstructure:"ingest_topic" validate:"required"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	Model        string `mapstructure:"model" validate:"required"`
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name" validate:"required"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint" validate:"required_if=Enabled true"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required,startswith=/"`
}
