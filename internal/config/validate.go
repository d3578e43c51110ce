package config

import (
	"fmt"
	"net/url"
	"time"

	"video-narrator/internal/reconciler"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate returns nil if cfg is usable, or ValidationErrors otherwise.
func Validate(cfg Config) error {
	errs := append(ValidationErrors(nil), cfg.parseErrs...)
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch cfg.StoreDriver {
	case "sqlite":
		if cfg.SQLitePath == "" {
			add("SQLITE_PATH", "required when STORE_DRIVER=sqlite")
		}
	case "postgres":
		if cfg.PostgresDSN == "" {
			add("POSTGRES_DSN", "required when STORE_DRIVER=postgres")
		}
	case "redis":
		if cfg.RedisAddr == "" {
			add("REDIS_ADDR", "required when STORE_DRIVER=redis")
		}
	case "memory":
	default:
		add("STORE_DRIVER", "must be one of sqlite, postgres, redis, memory, got %q", cfg.StoreDriver)
	}

	switch cfg.QueueDriver {
	case "memory":
	case "redis":
		if cfg.RedisAddr == "" {
			add("REDIS_ADDR", "required when QUEUE_DRIVER=redis")
		}
		if cfg.RedisQueueKey == cfg.RedisProcessingKey {
			add("REDIS_PROCESSING_KEY", "must differ from REDIS_QUEUE_KEY")
		}
	default:
		add("QUEUE_DRIVER", "must be 'memory' or 'redis', got %q", cfg.QueueDriver)
	}

	if cfg.Workers <= 0 {
		add("WORKERS", "must be positive, got %d", cfg.Workers)
	}

	if cfg.TTSURL == "" {
		add("TTS_URL", "required")
	} else if u, err := url.Parse(cfg.TTSURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("TTS_URL", "must be an absolute http(s) URL")
	}
	if cfg.TTSVoice == "" {
		add("TTS_VOICE", "required")
	}

	if cfg.FFmpegPath == "" {
		add("FFMPEG_PATH", "required")
	}
	if cfg.RenderFPS <= 0 || cfg.RenderFPS > 120 {
		add("RENDER_FPS", "must be between 1 and 120, got %d", cfg.RenderFPS)
	}
	if cfg.RenderConcurrency < 0 {
		add("RENDER_CONCURRENCY", "must not be negative, got %d", cfg.RenderConcurrency)
	}

	for _, d := range []struct {
		field string
		value time.Duration
	}{
		{"SYNTH_TIMEOUT", cfg.SynthTimeout},
		{"RENDER_TIMEOUT", cfg.RenderTimeout},
		{"CLEANUP_MAX_AGE", cfg.CleanupMaxAge},
		{"STATUS_TIMEOUT", cfg.StatusTimeout},
		{"SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout},
	} {
		if d.value <= 0 {
			add(d.field, "must be positive, got %s", d.value)
		}
	}

	for _, d := range [][2]string{{"AUDIO_DIR", cfg.AudioDir}, {"RENDER_DIR", cfg.RenderDir}, {"PUBLIC_DIR", cfg.PublicDir}} {
		if d[1] == "" {
			add(d[0], "required")
		}
	}

	if cfg.ReconcileEnabled {
		if err := reconciler.ValidateSchedule(cfg.ReconcileSchedule); err != nil {
			add("RECONCILE_SCHEDULE", "%v", err)
		}
		// a job still inside its stage timeouts must never look stuck
		if budget := cfg.SynthTimeout + cfg.RenderTimeout; cfg.ReconcileThreshold <= budget {
			add("RECONCILE_THRESHOLD", "must exceed SYNTH_TIMEOUT+RENDER_TIMEOUT (%s), got %s", budget, cfg.ReconcileThreshold)
		}
		if cfg.ReconcileBatchSize <= 0 {
			add("RECONCILE_BATCH_SIZE", "must be positive, got %d", cfg.ReconcileBatchSize)
		}
	}

	if cfg.BreakerThreshold < 0 {
		add("BREAKER_THRESHOLD", "must not be negative, got %d", cfg.BreakerThreshold)
	}
	if cfg.BreakerThreshold > 0 && cfg.BreakerCooldown <= 0 {
		add("BREAKER_COOLDOWN", "must be positive when the breaker is enabled")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
