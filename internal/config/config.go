package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the server needs. Values come from the
// environment; see Load for the keys and their defaults.
type Config struct {
	HTTPAddr string

	StoreDriver string
	PostgresDSN string
	SQLitePath  string
	RedisAddr   string

	QueueDriver        string
	RedisQueueKey      string
	RedisProcessingKey string
	Workers            int

	TTSURL       string
	TTSVoice     string
	SynthTimeout time.Duration

	FFmpegPath        string
	BackgroundVideo   string
	RenderFPS         int
	RenderConcurrency int
	RenderTimeout     time.Duration

	AudioDir      string
	RenderDir     string
	PublicDir     string
	PublicBaseURL string

	CleanupMaxAge time.Duration

	ReconcileEnabled   bool
	ReconcileSchedule  string
	ReconcileThreshold time.Duration
	ReconcileBatchSize int

	// BreakerThreshold: 0 disables the circuit breaker.
	BreakerThreshold int
	BreakerCooldown  time.Duration

	MetricsEnabled  bool
	StatusTimeout   time.Duration
	ShutdownTimeout time.Duration

	// malformed values seen by Load, reported by Validate
	parseErrs ValidationErrors
}

// LoadDotEnv seeds the environment from path if the file exists. Variables
// that are already set win.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from environment variables with defaults.
// Unparseable values fall back to the default and surface in Validate.
func Load() Config {
	var c Config
	c.HTTPAddr = envString("HTTP_ADDR", ":8080")

	c.StoreDriver = strings.ToLower(envString("STORE_DRIVER", "sqlite"))
	c.PostgresDSN = os.Getenv("POSTGRES_DSN")
	c.SQLitePath = envString("SQLITE_PATH", "data/jobs.db")
	c.RedisAddr = os.Getenv("REDIS_ADDR")

	c.QueueDriver = strings.ToLower(envString("QUEUE_DRIVER", "memory"))
	c.RedisQueueKey = envString("REDIS_QUEUE_KEY", "jobs:queue")
	c.RedisProcessingKey = envString("REDIS_PROCESSING_KEY", "jobs:processing")
	c.Workers = c.envInt("WORKERS", 2)

	c.TTSURL = os.Getenv("TTS_URL")
	c.TTSVoice = envString("TTS_VOICE", "en-US-AriaNeural")
	c.SynthTimeout = c.envDuration("SYNTH_TIMEOUT", 60*time.Second)

	c.FFmpegPath = envString("FFMPEG_PATH", "ffmpeg")
	c.BackgroundVideo = os.Getenv("BACKGROUND_VIDEO")
	c.RenderFPS = c.envInt("RENDER_FPS", 30)
	c.RenderConcurrency = c.envInt("RENDER_CONCURRENCY", 0)
	c.RenderTimeout = c.envDuration("RENDER_TIMEOUT", 4*time.Minute)

	c.AudioDir = envString("AUDIO_DIR", "data/audio")
	c.RenderDir = envString("RENDER_DIR", "data/render")
	c.PublicDir = envString("PUBLIC_DIR", "data/public")
	c.PublicBaseURL = strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/")

	c.CleanupMaxAge = c.envDuration("CLEANUP_MAX_AGE", time.Hour)

	c.ReconcileEnabled = c.envBool("RECONCILE_ENABLED", true)
	c.ReconcileSchedule = envString("RECONCILE_SCHEDULE", "@every 1m")
	c.ReconcileThreshold = c.envDuration("RECONCILE_THRESHOLD", 15*time.Minute)
	c.ReconcileBatchSize = c.envInt("RECONCILE_BATCH_SIZE", 100)

	c.BreakerThreshold = c.envInt("BREAKER_THRESHOLD", 5)
	c.BreakerCooldown = c.envDuration("BREAKER_COOLDOWN", 2*time.Minute)

	c.MetricsEnabled = c.envBool("METRICS_ENABLED", true)
	c.StatusTimeout = c.envDuration("STATUS_TIMEOUT", 5*time.Second)
	c.ShutdownTimeout = c.envDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	return c
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (c *Config) envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		c.parseErrs = append(c.parseErrs, ValidationError{Field: key, Message: fmt.Sprintf("invalid integer %q", v)})
		return def
	}
	return n
}

func (c *Config) envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		c.parseErrs = append(c.parseErrs, ValidationError{Field: key, Message: fmt.Sprintf("invalid boolean %q", v)})
		return def
	}
	return b
}

func (c *Config) envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		c.parseErrs = append(c.parseErrs, ValidationError{Field: key, Message: fmt.Sprintf("invalid duration: %v", err)})
		return def
	}
	return d
}

// MaskedJSON returns the configuration as JSON with credentials redacted.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		HTTPAddr           string `json:"http_addr"`
		StoreDriver        string `json:"store_driver"`
		PostgresDSN        string `json:"postgres_dsn,omitempty"`
		SQLitePath         string `json:"sqlite_path"`
		RedisAddr          string `json:"redis_addr,omitempty"`
		QueueDriver        string `json:"queue_driver"`
		RedisQueueKey      string `json:"redis_queue_key"`
		RedisProcessingKey string `json:"redis_processing_key"`
		Workers            int    `json:"workers"`
		TTSURL             string `json:"tts_url"`
		TTSVoice           string `json:"tts_voice"`
		SynthTimeout       string `json:"synth_timeout"`
		FFmpegPath         string `json:"ffmpeg_path"`
		BackgroundVideo    string `json:"background_video,omitempty"`
		RenderFPS          int    `json:"render_fps"`
		RenderConcurrency  int    `json:"render_concurrency"`
		RenderTimeout      string `json:"render_timeout"`
		AudioDir           string `json:"audio_dir"`
		RenderDir          string `json:"render_dir"`
		PublicDir          string `json:"public_dir"`
		PublicBaseURL      string `json:"public_base_url"`
		CleanupMaxAge      string `json:"cleanup_max_age"`
		ReconcileEnabled   bool   `json:"reconcile_enabled"`
		ReconcileSchedule  string `json:"reconcile_schedule"`
		ReconcileThreshold string `json:"reconcile_threshold"`
		ReconcileBatchSize int    `json:"reconcile_batch_size"`
		BreakerThreshold   int    `json:"breaker_threshold"`
		BreakerCooldown    string `json:"breaker_cooldown"`
		MetricsEnabled     bool   `json:"metrics_enabled"`
		StatusTimeout      string `json:"status_timeout"`
		ShutdownTimeout    string `json:"shutdown_timeout"`
	}{
		HTTPAddr:           c.HTTPAddr,
		StoreDriver:        c.StoreDriver,
		PostgresDSN:        redactDSN(c.PostgresDSN),
		SQLitePath:         c.SQLitePath,
		RedisAddr:          redactDSN(c.RedisAddr),
		QueueDriver:        c.QueueDriver,
		RedisQueueKey:      c.RedisQueueKey,
		RedisProcessingKey: c.RedisProcessingKey,
		Workers:            c.Workers,
		TTSURL:             redactDSN(c.TTSURL),
		TTSVoice:           c.TTSVoice,
		SynthTimeout:       c.SynthTimeout.String(),
		FFmpegPath:         c.FFmpegPath,
		BackgroundVideo:    c.BackgroundVideo,
		RenderFPS:          c.RenderFPS,
		RenderConcurrency:  c.RenderConcurrency,
		RenderTimeout:      c.RenderTimeout.String(),
		AudioDir:           c.AudioDir,
		RenderDir:          c.RenderDir,
		PublicDir:          c.PublicDir,
		PublicBaseURL:      c.PublicBaseURL,
		CleanupMaxAge:      c.CleanupMaxAge.String(),
		ReconcileEnabled:   c.ReconcileEnabled,
		ReconcileSchedule:  c.ReconcileSchedule,
		ReconcileThreshold: c.ReconcileThreshold.String(),
		ReconcileBatchSize: c.ReconcileBatchSize,
		BreakerThreshold:   c.BreakerThreshold,
		BreakerCooldown:    c.BreakerCooldown.String(),
		MetricsEnabled:     c.MetricsEnabled,
		StatusTimeout:      c.StatusTimeout.String(),
		ShutdownTimeout:    c.ShutdownTimeout.String(),
	}
	return json.MarshalIndent(masked, "", "  ")
}

var kvPassword = regexp.MustCompile(`(?i)(password=)\S+`)

// redactDSN hides the password of a URL-style or key=value DSN.
func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "***"
		}
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
			return strings.Replace(u.String(), "xxxxx", "***", 1)
		}
		return u.String()
	}
	return kvPassword.ReplaceAllString(dsn, "${1}***")
}
