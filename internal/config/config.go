package config

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// Config holds all configuration for the postpilot application.
// Values are loaded from environment variables; see printUsage() for the full list.
type Config struct {
	DatabaseURL string `json:"database_url"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	MinGap    time.Duration `json:"-"`
	MinGapStr string        `json:"min_gap"`

	LockTTL    time.Duration `json:"-"`
	LockTTLStr string        `json:"lock_ttl"`

	LockWait    time.Duration `json:"-"`
	LockWaitStr string        `json:"lock_wait"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	PublisherDrainTimeout    time.Duration `json:"-"`
	PublisherDrainTimeoutStr string        `json:"publisher_drain_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsPort    string `json:"metrics_port"`

	SweepEnabled     bool          `json:"sweep_enabled"`
	SweepInterval    time.Duration `json:"-"`
	SweepIntervalStr string        `json:"sweep_interval"`

	// SweepCron overrides SweepInterval with a cron expression when set.
	SweepCron string `json:"sweep_cron,omitempty"`

	TriggerBusBufferSize int `json:"triggerbus_buffer_size"`

	PublishPollInterval    time.Duration `json:"-"`
	PublishPollIntervalStr string        `json:"publish_poll_interval"`
	PublishBatchSize       int           `json:"publish_batch_size"`
	PublishEndpoint        string        `json:"publish_endpoint"`
	PublishSecret          string        `json:"-"`
	PublishTimeout         time.Duration `json:"-"`
	PublishTimeoutStr      string        `json:"publish_timeout"`
	PublishMaxAttempts     int           `json:"publish_max_attempts"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	// LeaderLockKey: all instances sharing the same database must use the same key.
	LeaderLockKey int64 `json:"leader_lock_key"`

	// LeaderRetryInterval determines the maximum failover gap.
	LeaderRetryInterval    time.Duration `json:"-"`
	LeaderRetryIntervalStr string        `json:"leader_retry_interval"`

	// LeaderHeartbeatInterval: pings the dedicated connection to detect local
	// connection death. Does NOT renew the advisory lock.
	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		HTTPAddr:                 os.Getenv("HTTP_ADDR"),
		MinGapStr:                os.Getenv("MIN_GAP"),
		LockTTLStr:               os.Getenv("LOCK_TTL"),
		LockWaitStr:              os.Getenv("LOCK_WAIT"),
		DBOpTimeoutStr:           os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:     os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:     os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		HTTPShutdownTimeoutStr:   os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		PublisherDrainTimeoutStr: os.Getenv("PUBLISHER_DRAIN_TIMEOUT"),
		MetricsEnabled:           os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:              os.Getenv("METRICS_PATH"),
		MetricsPort:              os.Getenv("METRICS_PORT"),
		SweepEnabled:             os.Getenv("SWEEP_ENABLED") != "false",
		SweepIntervalStr:         os.Getenv("SWEEP_INTERVAL"),
		SweepCron:                os.Getenv("SWEEP_CRON"),
		PublishPollIntervalStr:   os.Getenv("PUBLISH_POLL_INTERVAL"),
		PublishEndpoint:          os.Getenv("PUBLISH_ENDPOINT"),
		PublishSecret:            os.Getenv("PUBLISH_SECRET"),
		PublishTimeoutStr:        os.Getenv("PUBLISH_TIMEOUT"),
	}

	if bufStr := os.Getenv("TRIGGERBUS_BUFFER_SIZE"); bufStr != "" {
		if n, err := parseInt(bufStr); err == nil && n > 0 {
			cfg.TriggerBusBufferSize = n
		} else {
			log.Printf("config: invalid TRIGGERBUS_BUFFER_SIZE %q (must be a positive integer), using default 100", bufStr)
		}
	}
	if cfg.TriggerBusBufferSize == 0 {
		cfg.TriggerBusBufferSize = 100
	}

	if batchStr := os.Getenv("PUBLISH_BATCH_SIZE"); batchStr != "" {
		if n, err := parseInt(batchStr); err == nil && n > 0 {
			cfg.PublishBatchSize = n
		} else {
			log.Printf("config: invalid PUBLISH_BATCH_SIZE %q (must be a positive integer), using default 50", batchStr)
		}
	}
	if cfg.PublishBatchSize == 0 {
		cfg.PublishBatchSize = 50
	}

	if attemptsStr := os.Getenv("PUBLISH_MAX_ATTEMPTS"); attemptsStr != "" {
		if n, err := parseInt(attemptsStr); err == nil && n > 0 {
			cfg.PublishMaxAttempts = n
		} else {
			log.Printf("config: invalid PUBLISH_MAX_ATTEMPTS %q (must be a positive integer), using default 4", attemptsStr)
		}
	}
	if cfg.PublishMaxAttempts == 0 {
		cfg.PublishMaxAttempts = 4
	}

	if cbThreshStr := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); cbThreshStr != "" {
		if n, err := parseInt(cbThreshStr); err == nil {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", cbThreshStr)
		}
	}
	if cfg.CircuitBreakerThreshold == 0 && os.Getenv("CIRCUIT_BREAKER_THRESHOLD") == "" {
		cfg.CircuitBreakerThreshold = 5
	}

	cfg.CircuitBreakerCooldownStr = os.Getenv("CIRCUIT_BREAKER_COOLDOWN")
	cfg.LeaderRetryIntervalStr = os.Getenv("LEADER_RETRY_INTERVAL")
	cfg.LeaderHeartbeatIntervalStr = os.Getenv("LEADER_HEARTBEAT_INTERVAL")

	if lockKeyStr := os.Getenv("LEADER_LOCK_KEY"); lockKeyStr != "" {
		if n, err := parseInt(lockKeyStr); err == nil && n > 0 {
			cfg.LeaderLockKey = int64(n)
		} else {
			log.Printf("config: invalid LEADER_LOCK_KEY %q (must be a positive integer), using default 905417", lockKeyStr)
		}
	}
	if cfg.LeaderLockKey == 0 {
		cfg.LeaderLockKey = 905417
	}

	if maxOpenStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxOpenStr != "" {
		if n, err := parseInt(maxOpenStr); err == nil && n > 0 {
			cfg.DBMaxOpenConns = n
		}
	}
	if cfg.DBMaxOpenConns == 0 {
		cfg.DBMaxOpenConns = 25
	}

	if maxIdleStr := os.Getenv("DB_MAX_IDLE_CONNS"); maxIdleStr != "" {
		if n, err := parseInt(maxIdleStr); err == nil && n > 0 {
			cfg.DBMaxIdleConns = n
		}
	}
	if cfg.DBMaxIdleConns == 0 {
		cfg.DBMaxIdleConns = 5
	}

	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.MinGapStr == "" {
		cfg.MinGapStr = "2h"
	}
	if cfg.LockTTLStr == "" {
		cfg.LockTTLStr = "30s"
	}
	if cfg.LockWaitStr == "" {
		cfg.LockWaitStr = "2s"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBConnMaxIdleTimeStr == "" {
		cfg.DBConnMaxIdleTimeStr = "5m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.PublisherDrainTimeoutStr == "" {
		cfg.PublisherDrainTimeoutStr = "30s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.MetricsPort == "" {
		cfg.MetricsPort = "9090"
	}
	if cfg.SweepIntervalStr == "" {
		cfg.SweepIntervalStr = "5m"
	}
	if cfg.PublishPollIntervalStr == "" {
		cfg.PublishPollIntervalStr = "15s"
	}
	if cfg.PublishTimeoutStr == "" {
		cfg.PublishTimeoutStr = "30s"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}
	if cfg.LeaderRetryIntervalStr == "" {
		cfg.LeaderRetryIntervalStr = "5s"
	}
	if cfg.LeaderHeartbeatIntervalStr == "" {
		cfg.LeaderHeartbeatIntervalStr = "2s"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.MinGapStr); err == nil {
		cfg.MinGap = d
	}
	if d, err := time.ParseDuration(cfg.LockTTLStr); err == nil {
		cfg.LockTTL = d
	}
	if d, err := time.ParseDuration(cfg.LockWaitStr); err == nil {
		cfg.LockWait = d
	}
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxLifetimeStr); err == nil {
		cfg.DBConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxIdleTimeStr); err == nil {
		cfg.DBConnMaxIdleTime = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.PublisherDrainTimeoutStr); err == nil {
		cfg.PublisherDrainTimeout = d
	}
	if d, err := time.ParseDuration(cfg.SweepIntervalStr); err == nil {
		cfg.SweepInterval = d
	}
	if d, err := time.ParseDuration(cfg.PublishPollIntervalStr); err == nil {
		cfg.PublishPollInterval = d
	}
	if d, err := time.ParseDuration(cfg.PublishTimeoutStr); err == nil {
		cfg.PublishTimeout = d
	}
	if d, err := time.ParseDuration(cfg.CircuitBreakerCooldownStr); err == nil {
		cfg.CircuitBreakerCooldown = d
	}
	if d, err := time.ParseDuration(cfg.LeaderRetryIntervalStr); err == nil {
		cfg.LeaderRetryInterval = d
	}
	if d, err := time.ParseDuration(cfg.LeaderHeartbeatIntervalStr); err == nil {
		cfg.LeaderHeartbeatInterval = d
	}

	return cfg
}

// parseInt parses a string as an integer.
func parseInt(s string) (int, error) {
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		DatabaseURL             string `json:"database_url"`
		RedisAddr               string `json:"redis_addr,omitempty"`
		HTTPAddr                string `json:"http_addr"`
		MinGap                  string `json:"min_gap"`
		LockTTL                 string `json:"lock_ttl"`
		LockWait                string `json:"lock_wait"`
		DBOpTimeout             string `json:"db_op_timeout"`
		DBMaxOpenConns          int    `json:"db_max_open_conns"`
		DBMaxIdleConns          int    `json:"db_max_idle_conns"`
		DBConnMaxLifetime       string `json:"db_conn_max_lifetime"`
		DBConnMaxIdleTime       string `json:"db_conn_max_idle_time"`
		HTTPShutdownTimeout     string `json:"http_shutdown_timeout"`
		PublisherDrainTimeout   string `json:"publisher_drain_timeout"`
		MetricsEnabled          bool   `json:"metrics_enabled"`
		MetricsPath             string `json:"metrics_path"`
		MetricsPort             string `json:"metrics_port"`
		SweepEnabled            bool   `json:"sweep_enabled"`
		SweepInterval           string `json:"sweep_interval"`
		SweepCron               string `json:"sweep_cron,omitempty"`
		TriggerBusBufferSize    int    `json:"triggerbus_buffer_size"`
		PublishPollInterval     string `json:"publish_poll_interval"`
		PublishBatchSize        int    `json:"publish_batch_size"`
		PublishEndpoint         string `json:"publish_endpoint"`
		PublishSecret           string `json:"publish_secret"`
		PublishTimeout          string `json:"publish_timeout"`
		PublishMaxAttempts      int    `json:"publish_max_attempts"`
		CircuitBreakerThreshold int    `json:"circuit_breaker_threshold"`
		CircuitBreakerCooldown  string `json:"circuit_breaker_cooldown"`
		LeaderLockKey           int64  `json:"leader_lock_key"`
		LeaderRetryInterval     string `json:"leader_retry_interval"`
		LeaderHeartbeatInterval string `json:"leader_heartbeat_interval"`
	}{
		DatabaseURL:             maskSecret(c.DatabaseURL),
		RedisAddr:               c.RedisAddr,
		HTTPAddr:                c.HTTPAddr,
		MinGap:                  c.MinGapStr,
		LockTTL:                 c.LockTTLStr,
		LockWait:                c.LockWaitStr,
		DBOpTimeout:             c.DBOpTimeoutStr,
		DBMaxOpenConns:          c.DBMaxOpenConns,
		DBMaxIdleConns:          c.DBMaxIdleConns,
		DBConnMaxLifetime:       c.DBConnMaxLifetimeStr,
		DBConnMaxIdleTime:       c.DBConnMaxIdleTimeStr,
		HTTPShutdownTimeout:     c.HTTPShutdownTimeoutStr,
		PublisherDrainTimeout:   c.PublisherDrainTimeoutStr,
		MetricsEnabled:          c.MetricsEnabled,
		MetricsPath:             c.MetricsPath,
		MetricsPort:             c.MetricsPort,
		SweepEnabled:            c.SweepEnabled,
		SweepInterval:           c.SweepIntervalStr,
		SweepCron:               c.SweepCron,
		TriggerBusBufferSize:    c.TriggerBusBufferSize,
		PublishPollInterval:     c.PublishPollIntervalStr,
		PublishBatchSize:        c.PublishBatchSize,
		PublishEndpoint:         c.PublishEndpoint,
		PublishSecret:           maskSecret(c.PublishSecret),
		PublishTimeout:          c.PublishTimeoutStr,
		PublishMaxAttempts:      c.PublishMaxAttempts,
		CircuitBreakerThreshold: c.CircuitBreakerThreshold,
		CircuitBreakerCooldown:  c.CircuitBreakerCooldownStr,
		LeaderLockKey:           c.LeaderLockKey,
		LeaderRetryInterval:     c.LeaderRetryIntervalStr,
		LeaderHeartbeatInterval: c.LeaderHeartbeatIntervalStr,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
