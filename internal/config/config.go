// Package config loads the YAML configuration shared by every abc-pipeline
// daemon, with environment variable overrides for secrets and local dev.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration surface for the pipeline's daemons.
type Config struct {
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Liveness   LivenessConfig   `yaml:"liveness"`
	Fetcher    FetcherConfig    `yaml:"fetcher"`
	Parser     ParserConfig     `yaml:"parser"`
	Indexer    IndexerConfig    `yaml:"indexer"`
}

// DispatcherConfig controls claim/ack policy.
type DispatcherConfig struct {
	Host                   string        `yaml:"host"`
	Port                   int           `yaml:"port"`
	DispatchTimeout        time.Duration `yaml:"dispatch_timeout"`
	HostCooldown           time.Duration `yaml:"host_cooldown"`
	MaxRetries             int           `yaml:"max_retries"`
	CandidateWindow        int           `yaml:"candidate_window"`
	ParserBatch            int           `yaml:"parser_batch"`
	HostTimeoutGrace       time.Duration `yaml:"host_timeout_grace"`
	ReenableCheckInterval  time.Duration `yaml:"reenable_check_interval"`
	LogScanInterval        time.Duration `yaml:"log_scan_interval"`
	FetcherLogPath         string        `yaml:"fetcher_log_path"`
	ReadDeadline           time.Duration `yaml:"read_deadline"`
	WriteDeadline          time.Duration `yaml:"write_deadline"`
	AckStreamDeadline      time.Duration `yaml:"ack_stream_deadline"`
	StaleClaimResetHorizon time.Duration `yaml:"stale_claim_reset_horizon"`
}

// PostgresConfig is the Store's connection surface.
type PostgresConfig struct {
	DSN            string        `yaml:"dsn"`
	QueryTimeout   time.Duration `yaml:"query_timeout"`
	MaxOpenConns   int           `yaml:"max_open_conns"`
	MaxIdleConns   int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig backs the indexer's leader lock.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockKey  string        `yaml:"lock_key"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

// LivenessConfig is the loopback-only ops surface, not the admin dashboard.
type LivenessConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// FetcherConfig controls HTTP fetch behavior.
type FetcherConfig struct {
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	UserAgent        string        `yaml:"user_agent"`
	MaxLinkDistance  int           `yaml:"max_link_distance"`
	RobotsCacheTTL   time.Duration `yaml:"robots_cache_ttl"`
	RateLimitRPS     float64       `yaml:"rate_limit_rps"`
	RateLimitBurst   int           `yaml:"rate_limit_burst"`
	BreakerFailures  int           `yaml:"breaker_failures"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
	PollSleep        time.Duration `yaml:"poll_sleep"`
}

// ParserConfig holds the parser worker's settings. Only PollSleep is read;
// the decomposer applies the abc package's own guard constants and does
// not read the Max* fields.
type ParserConfig struct {
	MaxTunesPerPage int `yaml:"max_tunes_per_page"`
	MaxTuneChars    int `yaml:"max_tune_chars"`
	MaxTuneLines    int `yaml:"max_tune_lines"`
	MaxVoices       int `yaml:"max_voices"`
	PollSleep       time.Duration `yaml:"poll_sleep"`
}

// IndexerConfig controls windowing.
type IndexerConfig struct {
	MaxInterval    int64         `yaml:"max_interval"`
	VectorDim      int           `yaml:"vector_dim"`
	WindowStride   int           `yaml:"window_stride"`
	DTWBand        int           `yaml:"dtw_band"`
	PreselectK     int           `yaml:"preselect_k"`
	SidecarPath    string        `yaml:"sidecar_path"`
	PollSleep      time.Duration `yaml:"poll_sleep"`
}

// Default returns the configuration with every field set to its default.
func Default() Config {
	return Config{
		Dispatcher: DispatcherConfig{
			Host:                   "0.0.0.0",
			Port:                   8888,
			DispatchTimeout:        90 * time.Second,
			HostCooldown:           10 * time.Second,
			MaxRetries:             3,
			CandidateWindow:        100,
			ParserBatch:            50,
			HostTimeoutGrace:       24 * time.Hour,
			ReenableCheckInterval:  10 * time.Minute,
			LogScanInterval:        5 * time.Minute,
			FetcherLogPath:         "logs/fetcher_out.log",
			ReadDeadline:           5 * time.Second,
			WriteDeadline:          5 * time.Second,
			AckStreamDeadline:      60 * time.Second,
			StaleClaimResetHorizon: 5 * time.Minute,
		},
		Postgres: PostgresConfig{
			DSN:             "postgres://localhost:5432/abc?sslmode=disable",
			QueryTimeout:    10 * time.Second,
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			DB:      0,
			LockKey: "abc-pipeline:vector-index-lock",
			LockTTL: 30 * time.Second,
		},
		Liveness: LivenessConfig{
			Host: "127.0.0.1",
			Port: 9090,
		},
		Fetcher: FetcherConfig{
			RequestTimeout:  30 * time.Second,
			UserAgent:       "abc-pipeline/1.0 (+respect-robots.txt)",
			MaxLinkDistance: 3,
			RobotsCacheTTL:  time.Hour,
			RateLimitRPS:    1.0,
			RateLimitBurst:  1,
			BreakerFailures: 5,
			BreakerTimeout:  time.Minute,
			PollSleep:       2 * time.Second,
		},
		Parser: ParserConfig{
			MaxTunesPerPage: 500,
			MaxTuneChars:    10000,
			MaxTuneLines:    300,
			MaxVoices:       4,
			PollSleep:       2 * time.Second,
		},
		Indexer: IndexerConfig{
			MaxInterval:  12,
			VectorDim:    32,
			WindowStride: 8,
			DTWBand:      10,
			PreselectK:   750,
			SidecarPath:  "data/tunes.index",
			PollSleep:    2 * time.Second,
		},
	}
}

// Load reads a YAML file into Default(), optionally loading a .env file
// first so DSN/Redis credentials can be supplied out-of-band in local dev.
func Load(path string, envFile string) (Config, error) {
	cfg := Default()

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if dsn := os.Getenv("ABC_POSTGRES_DSN"); dsn != "" {
		cfg.Postgres.DSN = dsn
	}
	if addr := os.Getenv("ABC_REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if pw := os.Getenv("ABC_REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}

	return cfg, nil
}
