package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the process-wide configuration. It is constructed once at
// startup and passed by reference into component constructors; nothing reads
// it through a global.
type AppConfig struct {
	WebDriverURL string `yaml:"webdriver_url"`
	BrowserName  string `yaml:"browser_name"`
	LichessURL   string `yaml:"lichess_url"`

	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	TOTPSecret string `yaml:"totp_secret"`

	EnginePath     string `yaml:"engine_path"`
	EngineDepth    int    `yaml:"engine_depth"`
	EngineMoveTime int    `yaml:"engine_move_time_ms"`
	EngineHashMB   int    `yaml:"engine_hash_mb"`
	EngineThreads  int    `yaml:"engine_threads"`

	AutoPlay  bool   `yaml:"auto_play"`
	MoveKey   string `yaml:"move_key"`
	ShowArrow bool   `yaml:"show_arrow"`

	Humanize HumanizeConfig `yaml:"humanize"`

	RetryAttempts    int           `yaml:"retry_attempts"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`
	FailureThreshold int           `yaml:"failure_threshold"`
	EscalationTicks  int           `yaml:"escalation_ticks"`

	StartupWait  time.Duration `yaml:"startup_wait"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`
	TickInterval time.Duration `yaml:"tick_interval"`

	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`

	HUDListenAddr string `yaml:"hud_listen_addr"`
	DebugDir      string `yaml:"debug_dir"`
}

// HumanizeConfig holds min/max pacing bounds per delay profile, in seconds.
type HumanizeConfig struct {
	BaseMin     float64 `yaml:"base_min"`
	BaseMax     float64 `yaml:"base_max"`
	ThinkingMin float64 `yaml:"thinking_min"`
	ThinkingMax float64 `yaml:"thinking_max"`
	MovingMin   float64 `yaml:"moving_min"`
	MovingMax   float64 `yaml:"moving_max"`
}

// Load reads the optional yaml file at path (ignored when empty or absent),
// applies environment overrides on top, then validates.
func Load(path string) (*AppConfig, error) {
	cfg := defaults()

	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// file is optional
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.WebDriverURL == "" {
		return nil, errors.New("WEBDRIVER_URL is required")
	}
	if cfg.EnginePath == "" {
		return nil, errors.New("ENGINE_PATH is required")
	}
	if cfg.EngineDepth <= 0 && cfg.EngineMoveTime <= 0 {
		return nil, errors.New("either engine depth or move time must be set")
	}
	return cfg, nil
}

func defaults() *AppConfig {
	return &AppConfig{
		BrowserName:  "firefox",
		LichessURL:   "https://lichess.org",
		EngineDepth:  5,
		EngineHashMB: 256,
		AutoPlay:     true,
		MoveKey:      "end",
		ShowArrow:    true,
		Humanize: HumanizeConfig{
			BaseMin:     0.3,
			BaseMax:     1.8,
			ThinkingMin: 0.8,
			ThinkingMax: 3.0,
			MovingMin:   0.5,
			MovingMax:   2.5,
		},
		RetryAttempts:    3,
		RetryBaseDelay:   300 * time.Millisecond,
		FailureThreshold: 5,
		EscalationTicks:  10,
		StartupWait:      60 * time.Second,
		PollTimeout:      4 * time.Second,
		TickInterval:     250 * time.Millisecond,
		DebugDir:         "debug",
	}
}

func applyEnv(cfg *AppConfig) {
	setStr := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	setBool := func(dst *bool, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	setDur := func(dst *time.Duration, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				*dst = d
			}
		}
	}

	setStr(&cfg.WebDriverURL, "WEBDRIVER_URL")
	setStr(&cfg.BrowserName, "BROWSER_NAME")
	setStr(&cfg.LichessURL, "LICHESS_URL")
	setStr(&cfg.Username, "LICHESS_USERNAME")
	setStr(&cfg.Password, "LICHESS_PASSWORD")
	setStr(&cfg.TOTPSecret, "LICHESS_TOTP_SECRET")

	setStr(&cfg.EnginePath, "ENGINE_PATH")
	setInt(&cfg.EngineDepth, "ENGINE_DEPTH")
	setInt(&cfg.EngineMoveTime, "ENGINE_MOVE_TIME_MS")
	setInt(&cfg.EngineHashMB, "ENGINE_HASH_MB")
	setInt(&cfg.EngineThreads, "ENGINE_THREADS")

	setBool(&cfg.AutoPlay, "AUTO_PLAY")
	setStr(&cfg.MoveKey, "MOVE_KEY")
	setBool(&cfg.ShowArrow, "SHOW_ARROW")

	setInt(&cfg.RetryAttempts, "RETRY_ATTEMPTS")
	setDur(&cfg.RetryBaseDelay, "RETRY_BASE_DELAY")
	setInt(&cfg.FailureThreshold, "FAILURE_THRESHOLD")
	setInt(&cfg.EscalationTicks, "ESCALATION_TICKS")

	setDur(&cfg.StartupWait, "STARTUP_WAIT")
	setDur(&cfg.PollTimeout, "POLL_TIMEOUT")
	setDur(&cfg.TickInterval, "TICK_INTERVAL")

	setStr(&cfg.RedisURL, "REDIS_URL")
	setStr(&cfg.DatabaseURL, "DATABASE_URL")
	setStr(&cfg.HUDListenAddr, "HUD_LISTEN_ADDR")
	setStr(&cfg.DebugDir, "DEBUG_DIR")
}
