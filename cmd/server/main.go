// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	_ "video-narrator/docs"
	"video-narrator/internal/circuitbreaker"
	"video-narrator/internal/cleanup"
	"video-narrator/internal/config"
	"video-narrator/internal/metrics"
	"video-narrator/internal/reconciler"
	"video-narrator/internal/render"
	"video-narrator/internal/repository/memory"
	"video-narrator/internal/repository/postgresql"
	"video-narrator/internal/repository/redisstore"
	"video-narrator/internal/repository/sqlite"
	"video-narrator/internal/service"
	"video-narrator/internal/speech"
	"video-narrator/internal/storage"
	"video-narrator/internal/timing"
	httptransport "video-narrator/internal/transport/http"
	"video-narrator/internal/worker"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

// jobStore is what every backend under internal/repository provides.
type jobStore interface {
	service.JobRepository
	reconciler.Store
}

// @title video-narrator API
// @version 1.0
// @description Turns text into a narrated, captioned vertical video. Jobs run asynchronously; poll the status endpoint.
// @BasePath /
func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(exitInvalidConfig)
	}

	switch cmd := os.Args[1]; cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`video-narrator - text to narrated, captioned vertical video

Usage:
  video-narrator <command>

Commands:
  serve      Start the HTTP API, the worker pool and the reconciler
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)

Environment Variables (a .env file in the working directory is read too):
  HTTP_ADDR             HTTP listen address (default ":8080")
  STORE_DRIVER          sqlite | postgres | redis | memory (default "sqlite")
  POSTGRES_DSN          PostgreSQL connection string (STORE_DRIVER=postgres)
  SQLITE_PATH           SQLite database file (default "data/jobs.db")
  REDIS_ADDR            Redis address (STORE_DRIVER=redis or QUEUE_DRIVER=redis)
  QUEUE_DRIVER          memory | redis (default "memory")
  WORKERS               Concurrent pipelines (default 2)
  TTS_URL               Speech synthesis endpoint (required)
  TTS_VOICE             Default voice (default "en-US-AriaNeural")
  FFMPEG_PATH           ffmpeg binary (default "ffmpeg")
  BACKGROUND_VIDEO      Looped background clip (default: solid black)
  RENDER_TIMEOUT        Render stage timeout (default "4m")
  PUBLIC_DIR            Published videos, served at /videos/ (default "data/public")
  PUBLIC_BASE_URL       Prefix for returned video URLs (default "")
  CLEANUP_MAX_AGE       Age after which work files are deleted (default "1h")
  RECONCILE_ENABLED     Fail stuck and requeue waiting jobs (default "true")
  RECONCILE_SCHEDULE    Reconciler cron spec (default "@every 1m")
  RECONCILE_THRESHOLD   Idle time before a job is reconciled (default "15m")
  BREAKER_THRESHOLD     Consecutive stage failures before the circuit opens, 0 disables (default 5)
  METRICS_ENABLED       Expose Prometheus metrics at /metrics (default "true")`)
}

func runValidate() int {
	if err := config.Validate(config.Load()); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}
	fmt.Println("configuration ok")
	return exitSuccess
}

func runConfig() int {
	out, err := config.Load().MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal config: %v\n", err)
		return exitRuntimeError
	}
	fmt.Println(string(out))
	return exitSuccess
}

func runServe() int {
	cfg := config.Load()
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis
	var rdb *redis.Client
	if cfg.StoreDriver == "redis" || cfg.QueueDriver == "redis" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("[main] redis error=%v", err)
			return exitRuntimeError
		}
		defer rdb.Close()
	}

	store, closer, err := openStore(ctx, cfg, rdb)
	if err != nil {
		log.Printf("[main] store driver=%s error=%v", cfg.StoreDriver, err)
		return exitRuntimeError
	}
	defer func() {
		if err := closer.Close(); err != nil {
			log.Printf("[main] store close error=%v", err)
		}
	}()

	queue := service.NewMemoryQueue()
	if cfg.QueueDriver == "redis" {
		queue = service.NewRedisQueue(rdb, cfg.RedisQueueKey, cfg.RedisProcessingKey)
		// ids claimed by a previous process that never acked
		n, err := queue.RequeueStale(ctx, 1000)
		if err != nil {
			log.Printf("[main] requeue_stale error=%v", err)
		} else if n > 0 {
			log.Printf("[main] requeued=%d from processing", n)
		}
	}

	// Metrics
	var sink metrics.Sink = metrics.NewNoopSink()
	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		sink = metrics.NewPrometheusSink(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	// Collaborators
	synth, err := speech.NewHTTPSynthesizer(cfg.TTSURL, cfg.AudioDir, cfg.TTSVoice)
	if err != nil {
		log.Printf("[main] synthesizer error=%v", err)
		return exitRuntimeError
	}
	renderer, err := render.NewFFmpegRenderer(cfg.FFmpegPath, cfg.RenderDir, cfg.BackgroundVideo)
	if err != nil {
		log.Printf("[main] renderer error=%v", err)
		return exitRuntimeError
	}
	publisher, err := storage.NewLocalStorage(cfg.PublicDir, cfg.PublicBaseURL)
	if err != nil {
		log.Printf("[main] storage error=%v", err)
		return exitRuntimeError
	}
	sweeper := cleanup.NewSweeper([]string{cfg.AudioDir, cfg.RenderDir}, cfg.CleanupMaxAge, sink)
	sweeper.Sweep(ctx)

	concurrency := cfg.RenderConcurrency
	if concurrency == 0 {
		concurrency = timing.RenderConcurrency(runtime.NumCPU())
	}

	// DI
	processor := worker.NewProcessor(worker.ProcessorDeps{
		Repo:      store,
		Synth:     synth,
		Renderer:  renderer,
		Publisher: publisher,
		Sweeper:   sweeper,
		Breaker:   circuitbreaker.New(cfg.BreakerThreshold, cfg.BreakerCooldown),
		Metrics:   sink,
	}, worker.Config{
		FPS:           cfg.RenderFPS,
		Concurrency:   concurrency,
		SynthTimeout:  cfg.SynthTimeout,
		RenderTimeout: cfg.RenderTimeout,
	})
	pool := worker.NewPool(queue, processor, cfg.Workers)

	jobSvc := service.NewJobService(store, queue, sink)
	router := httptransport.Routes(httptransport.NewHandler(jobSvc), httptransport.RouteOptions{
		StatusTimeout: cfg.StatusTimeout,
		Metrics:       metricsHandler,
		VideoDir:      publisher.Dir(),
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("[main] config http_addr=%s store=%s queue=%s workers=%d render_concurrency=%d reconcile=%t metrics=%t",
		cfg.HTTPAddr, cfg.StoreDriver, cfg.QueueDriver, cfg.Workers, concurrency, cfg.ReconcileEnabled, cfg.MetricsEnabled)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("[http] listening addr=%s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[http] shutdown error=%v", err)
		}
		return nil
	})

	g.Go(func() error {
		pool.Run(gctx)
		return nil
	})

	if cfg.ReconcileEnabled {
		rec := reconciler.New(reconciler.Config{
			Schedule:  cfg.ReconcileSchedule,
			Threshold: cfg.ReconcileThreshold,
			BatchSize: cfg.ReconcileBatchSize,
		}, store, queue, sink)
		g.Go(func() error {
			return rec.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		log.Printf("[main] stopped error=%v", err)
		return exitRuntimeError
	}
	log.Println("[main] stopped")
	return exitSuccess
}

func openStore(ctx context.Context, cfg config.Config, rdb *redis.Client) (jobStore, io.Closer, error) {
	switch cfg.StoreDriver {
	case "postgres":
		pool, err := postgresql.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		repo := postgresql.NewJobRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repo, closerFunc(func() error { pool.Close(); return nil }), nil
	case "redis":
		return redisstore.NewJobRepository(rdb, ""), closerFunc(func() error { return nil }), nil
	case "memory":
		log.Println("[main] store=memory jobs are lost on restart")
		return memory.NewJobRepository(), closerFunc(func() error { return nil }), nil
	default:
		repo, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo, nil
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
