package worker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"runtime/debug"
	"time"

	"video-narrator/internal/circuitbreaker"
	"video-narrator/internal/entity"
	"video-narrator/internal/metrics"
	"video-narrator/internal/render"
	"video-narrator/internal/repository"
	"video-narrator/internal/speech"
	"video-narrator/internal/timing"
)

type JobRepo interface {
	GetByID(ctx context.Context, id string) (*entity.Job, error)
	Update(ctx context.Context, id string, patch entity.JobPatch) (*entity.Job, error)
}

// Publisher stores the finished video and returns where it can be fetched.
type Publisher interface {
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, ref string) error
}

type Sweeper interface {
	Sweep(ctx context.Context) int
}

type Config struct {
	FPS           int
	Concurrency   int
	SynthTimeout  time.Duration
	RenderTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		FPS:           render.DefaultFPS,
		SynthTimeout:  60 * time.Second,
		RenderTimeout: 240 * time.Second,
	}
}

type Processor struct {
	repo      JobRepo
	synth     speech.Synthesizer
	renderer  render.Renderer
	publisher Publisher
	sweeper   Sweeper
	breaker   *circuitbreaker.Breaker
	metrics   metrics.Sink
	cfg       Config

	removeFile func(name string) error
	readFile   func(name string) ([]byte, error)
}

type ProcessorDeps struct {
	Repo      JobRepo
	Synth     speech.Synthesizer
	Renderer  render.Renderer
	Publisher Publisher
	Sweeper   Sweeper
	Breaker   *circuitbreaker.Breaker
	Metrics   metrics.Sink
}

func NewProcessor(deps ProcessorDeps, cfg Config) *Processor {
	def := DefaultConfig()
	if cfg.FPS <= 0 {
		cfg.FPS = def.FPS
	}
	if cfg.SynthTimeout <= 0 {
		cfg.SynthTimeout = def.SynthTimeout
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = def.RenderTimeout
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoopSink()
	}
	return &Processor{
		repo:       deps.Repo,
		synth:      deps.Synth,
		renderer:   deps.Renderer,
		publisher:  deps.Publisher,
		sweeper:    deps.Sweeper,
		breaker:    deps.Breaker,
		metrics:    deps.Metrics,
		cfg:        cfg,
		removeFile: os.Remove,
		readFile:   os.ReadFile,
	}
}

// Process claims a pending job and runs it to exactly one terminal write.
// A job that is missing or no longer pending is skipped: it is either
// finished or owned by another delivery. The returned error is only about
// the store; pipeline failures end up on the job record.
func (p *Processor) Process(ctx context.Context, jobID string) error {
	start := time.Now()

	job, err := p.repo.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Printf("[worker] job_id=%s skip=not_found", jobID)
			return nil
		}
		log.Printf("[worker] job_id=%s get_job error=%v", jobID, err)
		return err
	}
	if job.Status != entity.StatusPending {
		log.Printf("[worker] job_id=%s skip=status_%s", jobID, job.Status)
		return nil
	}

	if _, err := p.repo.Update(ctx, jobID, entity.ClaimPatch(entity.ProgressGeneratingAudio)); err != nil {
		if errors.Is(err, entity.ErrStatusConflict) || errors.Is(err, entity.ErrJobFinalized) {
			log.Printf("[worker] job_id=%s skip=claimed_elsewhere", jobID)
			return nil
		}
		log.Printf("[worker] job_id=%s claim error=%v", jobID, err)
		return err
	}
	log.Printf("[worker] job_id=%s status=processing", jobID)

	p.metrics.PipelinesInFlightIncr()
	defer p.metrics.PipelinesInFlightDecr()

	url, runErr := p.run(ctx, job)

	if runErr != nil {
		msg := runErr.Error()
		p.metrics.JobCompleted(metrics.OutcomeFailed, time.Since(start))
		if _, err := p.repo.Update(ctx, jobID, entity.FailedPatch(msg)); err != nil {
			log.Printf("[worker] job_id=%s set_failed error=%v", jobID, err)
			return err
		}
		log.Printf("[worker] job_id=%s status=failed duration_ms=%d error=%q",
			jobID, time.Since(start).Milliseconds(), msg)
		return nil
	}

	if _, err := p.repo.Update(ctx, jobID, entity.CompletedPatch(url)); err != nil {
		log.Printf("[worker] job_id=%s set_completed error=%v", jobID, err)
		p.metrics.JobCompleted(metrics.OutcomeFailed, time.Since(start))
		// nobody will ever point at the upload now
		if dErr := p.publisher.Delete(ctx, url); dErr != nil {
			log.Printf("[worker] job_id=%s delete_orphan error=%v", jobID, dErr)
		}
		return err
	}
	p.metrics.JobCompleted(metrics.OutcomeCompleted, time.Since(start))
	log.Printf("[worker] job_id=%s status=completed duration_ms=%d video_url=%s",
		jobID, time.Since(start).Milliseconds(), url)
	return nil
}

// run executes the stages in order. Any error or panic becomes a StageError;
// temp files are released on every path.
func (p *Processor) run(ctx context.Context, job *entity.Job) (url string, err error) {
	var temps []string
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[worker] job_id=%s panic=%v", job.ID, r)
			url, err = "", &StageError{Stage: StagePipeline, Err: fmt.Errorf("panic: %v", r)}
		}
		p.release(job.ID, temps)
	}()

	// 1. speech
	var sp speech.Speech
	err = p.stage(ctx, StageSynthesis, p.cfg.SynthTimeout, func(sctx context.Context) error {
		var sErr error
		sp, sErr = p.synth.Synthesize(sctx, job.Text)
		return sErr
	})
	temps = append(temps, sp.Files()...)
	if err != nil {
		return "", err
	}

	timings, duration, fallback := timing.Resolve(job.Text, p.loadAlignment(job.ID, sp.AlignmentPath))
	log.Printf("[worker] job_id=%s stage=timing words=%d duration=%.2f fallback=%t voice=%s",
		job.ID, len(timings), duration, fallback, sp.Voice)

	// 2. housekeeping before the expensive part
	p.progress(ctx, job.ID, entity.ProgressRendering)
	if p.sweeper != nil {
		p.sweeper.Sweep(ctx)
	}

	// 3. render
	var res render.Result
	err = p.stage(ctx, StageRender, p.cfg.RenderTimeout, func(rctx context.Context) error {
		var rErr error
		res, rErr = p.renderer.Render(rctx, render.Request{
			Text:        job.Text,
			AudioPath:   sp.AudioPath,
			Timings:     timings,
			Duration:    duration,
			FPS:         p.cfg.FPS,
			Concurrency: p.cfg.Concurrency,
		})
		return rErr
	})
	if res.Path != "" {
		temps = append(temps, res.Path)
	}
	if err != nil {
		return "", err
	}

	// 4. upload
	p.progress(ctx, job.ID, entity.ProgressUploading)
	err = p.stage(ctx, StageUpload, 0, func(uctx context.Context) error {
		data, rErr := p.readFile(res.Path)
		if rErr != nil {
			return fmt.Errorf("read artifact: %w", rErr)
		}
		var pErr error
		url, pErr = p.publisher.Put(uctx, "video_"+job.ID+".mp4", data, "video/mp4")
		return pErr
	})
	if err != nil {
		return "", err
	}
	return url, nil
}

// stage runs fn with an optional timeout, consults the circuit breaker, and
// records metrics. Errors come back as *StageError.
func (p *Processor) stage(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	if err := p.breaker.Allow(name); err != nil {
		p.metrics.StageCompleted(name, 0, err)
		return &StageError{Stage: name, Err: err}
	}

	sctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := runStage(sctx, name, fn)
	elapsed := time.Since(start)
	p.metrics.StageCompleted(name, elapsed, err)

	if err != nil {
		p.breaker.RecordFailure(name)
		log.Printf("[worker] stage=%s duration_ms=%d error=%v", name, elapsed.Milliseconds(), err)
		if timeout > 0 && errors.Is(sctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return &StageError{Stage: name, Timeout: timeout, Err: err}
		}
		return &StageError{Stage: name, Err: err}
	}
	p.breaker.RecordSuccess(name)
	return nil
}

// runStage turns a panic in fn into an error so the stage still reports to
// the breaker and metrics.
func runStage(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[worker] stage=%s panic=%v\n%s", name, r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// loadAlignment reads the side file. Missing or malformed data counts as no
// alignment, which makes the caller fall back to uniform timings.
func (p *Processor) loadAlignment(jobID, path string) []timing.Alignment {
	if path == "" {
		return nil
	}
	data, err := p.readFile(path)
	if err != nil {
		log.Printf("[worker] job_id=%s alignment_read error=%v", jobID, err)
		return nil
	}
	entries, err := timing.ParseAlignment(data)
	if err != nil {
		log.Printf("[worker] job_id=%s alignment_parse error=%v", jobID, err)
		return nil
	}
	return entries
}

func (p *Processor) progress(ctx context.Context, jobID, label string) {
	if _, err := p.repo.Update(ctx, jobID, entity.ProgressPatch(label)); err != nil {
		log.Printf("[worker] job_id=%s progress=%q error=%v", jobID, label, err)
	}
}

func (p *Processor) release(jobID string, paths []string) {
	for _, path := range paths {
		if err := p.removeFile(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Printf("[worker] job_id=%s release file=%s error=%v", jobID, path, err)
		}
	}
}
