package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all settings for the tracker, fixed at process start.
type Config struct {
	PollInterval time.Duration
	InitialTotal int64

	PrimaryURL  string
	FallbackURL string
	AwardID     string
	UserAgent   string
	Referer     string
	Origin      string

	HTTPTimeout  time.Duration
	RetryMax     int
	RetryBackoff time.Duration

	DataDir      string
	LogPath      string
	SnapshotPath string
	DumpPath     string
	DBPath       string

	HTTPPort     string
	WebhookURL   string
	ReplayDir    string
	EnableReplay bool
}

const (
	defaultInterval     = 300 * time.Second
	defaultInitialTotal = 1017428
	defaultPrimaryURL   = "https://yvoting-service.onfan.vn/api/v1/nominations/spotlight"
	defaultFallbackURL  = "https://r.jina.ai/https://yvoting-service.onfan.vn/api/v1/nominations/spotlight"
	defaultAwardID      = "58e78a33-c7c9-4bd4-b536-f25fa75b68c2"
	defaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/141"
	defaultHTTPTimeout  = 20 * time.Second
	defaultRetryMax     = 5
	defaultBackoff      = time.Second
	defaultDataDir      = "data"
	defaultHTTPPort     = ":8090"
	minRetryMax         = 1
	maxRetryMax         = 10
)

type fileConfig struct {
	PollIntervalSec *int   `json:"poll_interval_sec" yaml:"poll_interval_sec"`
	InitialTotal    *int64 `json:"initial_total" yaml:"initial_total"`
	PrimaryURL      string `json:"primary_url" yaml:"primary_url"`
	FallbackURL     string `json:"fallback_url" yaml:"fallback_url"`
	AwardID         string `json:"award_id" yaml:"award_id"`
	DataDir         string `json:"data_dir" yaml:"data_dir"`
	HTTPPort        string `json:"http_port" yaml:"http_port"`
	WebhookURL      string `json:"webhook_url" yaml:"webhook_url"`
	ReplayDir       string `json:"replay_dir" yaml:"replay_dir"`
}

// Load reads configuration from an optional .env file, an optional YAML file
// at CONFIG_PATH, and environment variables. Environment wins over file values.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		PollInterval: defaultInterval,
		InitialTotal: defaultInitialTotal,
		PrimaryURL:   defaultPrimaryURL,
		FallbackURL:  defaultFallbackURL,
		AwardID:      defaultAwardID,
		UserAgent:    defaultUserAgent,
		Referer:      "https://yvote.vn/",
		Origin:       "https://yvote.vn",
		HTTPTimeout:  defaultHTTPTimeout,
		RetryMax:     defaultRetryMax,
		RetryBackoff: defaultBackoff,
		DataDir:      defaultDataDir,
		HTTPPort:     defaultHTTPPort,
	}

	if path := getenv("CONFIG_PATH", ""); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			log.Printf("config: file %s ignored: %v", path, err)
		}
	}

	if v := getenvInt("POLL_INTERVAL_SEC", 0); v > 0 {
		cfg.PollInterval = time.Duration(v) * time.Second
	}
	if v := getenvInt64("INITIAL_TOTAL", 0); v > 0 {
		cfg.InitialTotal = v
	}
	cfg.PrimaryURL = getenv("PRIMARY_URL", cfg.PrimaryURL)
	cfg.FallbackURL = getenv("FALLBACK_URL", cfg.FallbackURL)
	cfg.AwardID = getenv("AWARD_ID", cfg.AwardID)
	cfg.UserAgent = getenv("USER_AGENT", cfg.UserAgent)
	cfg.Referer = getenv("REFERER", cfg.Referer)
	cfg.Origin = getenv("ORIGIN", cfg.Origin)
	if v := getenvInt("HTTP_TIMEOUT_SEC", 0); v > 0 {
		cfg.HTTPTimeout = time.Duration(v) * time.Second
	}
	cfg.RetryMax = clampInt(getenvInt("RETRY_MAX", cfg.RetryMax), minRetryMax, maxRetryMax)
	if v := getenvInt("RETRY_BACKOFF_MS", 0); v > 0 {
		cfg.RetryBackoff = time.Duration(v) * time.Millisecond
	}
	cfg.DataDir = getenv("DATA_DIR", cfg.DataDir)
	cfg.HTTPPort = normalizePort(getenv("HTTP_PORT", cfg.HTTPPort))
	cfg.WebhookURL = getenv("WEBHOOK_URL", cfg.WebhookURL)
	cfg.ReplayDir = getenv("REPLAY_DIR", cfg.ReplayDir)
	cfg.EnableReplay = cfg.ReplayDir != ""

	cfg.LogPath = getenv("LOG_PATH", filepath.Join(cfg.DataDir, "vote_log.csv"))
	cfg.SnapshotPath = getenv("SNAPSHOT_PATH", filepath.Join(cfg.DataDir, "state.json"))
	cfg.DumpPath = getenv("DUMP_PATH", filepath.Join(cfg.DataDir, "raw_latest.txt"))
	cfg.DBPath = getenv("DB_PATH", filepath.Join(cfg.DataDir, "votewatch.db"))

	log.Printf("config: interval=%s initial_total=%d data_dir=%s port=%s", cfg.PollInterval, cfg.InitialTotal, cfg.DataDir, cfg.HTTPPort)
	return cfg
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if fc.PollIntervalSec != nil && *fc.PollIntervalSec > 0 {
		cfg.PollInterval = time.Duration(*fc.PollIntervalSec) * time.Second
	}
	if fc.InitialTotal != nil && *fc.InitialTotal > 0 {
		cfg.InitialTotal = *fc.InitialTotal
	}
	if fc.PrimaryURL != "" {
		cfg.PrimaryURL = fc.PrimaryURL
	}
	if fc.FallbackURL != "" {
		cfg.FallbackURL = fc.FallbackURL
	}
	if fc.AwardID != "" {
		cfg.AwardID = fc.AwardID
	}
	if fc.DataDir != "" {
		cfg.DataDir = fc.DataDir
	}
	if fc.HTTPPort != "" {
		cfg.HTTPPort = fc.HTTPPort
	}
	if fc.WebhookURL != "" {
		cfg.WebhookURL = fc.WebhookURL
	}
	if fc.ReplayDir != "" {
		cfg.ReplayDir = fc.ReplayDir
	}
	return nil
}

func normalizePort(port string) string {
	if port == "" {
		return defaultHTTPPort
	}
	if port[0] != ':' {
		return ":" + port
	}
	return port
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Now returns a second-truncated local timestamp used for log rows.
func Now() time.Time {
	return time.Now().Truncate(time.Second)
}
