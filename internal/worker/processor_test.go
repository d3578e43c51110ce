package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-narrator/internal/circuitbreaker"
	"video-narrator/internal/entity"
	"video-narrator/internal/render"
	"video-narrator/internal/repository/memory"
	"video-narrator/internal/speech"
	"video-narrator/internal/storage"
	"video-narrator/internal/timing"
)

type stubSynth struct {
	dir       string
	alignment string
	err       error
	calls     int
}

func (s *stubSynth) Synthesize(ctx context.Context, text string) (speech.Speech, error) {
	s.calls++
	if s.err != nil {
		return speech.Speech{}, s.err
	}
	sp := speech.Speech{AudioPath: filepath.Join(s.dir, "speech_"+uuid.NewString()+".mp3"), Voice: speech.DefaultVoice}
	if err := os.WriteFile(sp.AudioPath, []byte("mp3"), 0o644); err != nil {
		return speech.Speech{}, err
	}
	if s.alignment != "" {
		sp.AlignmentPath = sp.AudioPath + ".json"
		if err := os.WriteFile(sp.AlignmentPath, []byte(s.alignment), 0o644); err != nil {
			return speech.Speech{}, err
		}
	}
	return sp, nil
}

type stubRenderer struct {
	dir    string
	mu     sync.Mutex
	req    render.Request
	path   string
	block  bool
	panics bool
	err    error
}

func (r *stubRenderer) Render(ctx context.Context, req render.Request) (render.Result, error) {
	r.mu.Lock()
	r.req = req
	r.mu.Unlock()
	if r.panics {
		panic("boom")
	}
	if r.err != nil {
		return render.Result{}, r.err
	}
	if r.block {
		<-ctx.Done()
		return render.Result{}, ctx.Err()
	}
	path := filepath.Join(r.dir, "video_"+uuid.NewString()+".mp4")
	if err := os.WriteFile(path, []byte("mp4"), 0o644); err != nil {
		return render.Result{}, err
	}
	r.mu.Lock()
	r.path = path
	r.mu.Unlock()
	return render.Result{Path: path, Frames: timing.FramesTotal(req.Duration, req.FPS)}, nil
}

// progressRepo records every progress label written through it.
type progressRepo struct {
	*memory.JobRepository
	mu     sync.Mutex
	labels []string
}

func (r *progressRepo) Update(ctx context.Context, id string, patch entity.JobPatch) (*entity.Job, error) {
	j, err := r.JobRepository.Update(ctx, id, patch)
	if err == nil && patch.Progress != nil {
		r.mu.Lock()
		r.labels = append(r.labels, *patch.Progress)
		r.mu.Unlock()
	}
	return j, err
}

type fixture struct {
	repo     *progressRepo
	synth    *stubSynth
	renderer *stubRenderer
	store    *storage.LocalStorage
	breaker  *circuitbreaker.Breaker
	proc     *Processor
	cfg      Config
	tmp      string
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	tmp := t.TempDir()
	store, err := storage.NewLocalStorage(filepath.Join(tmp, "public"), "")
	require.NoError(t, err)

	f := &fixture{
		repo:     &progressRepo{JobRepository: memory.NewJobRepository()},
		synth:    &stubSynth{dir: tmp},
		renderer: &stubRenderer{dir: tmp},
		store:    store,
		breaker:  circuitbreaker.New(5, time.Minute),
		cfg:      cfg,
		tmp:      tmp,
	}
	f.build()
	return f
}

func (f *fixture) build() {
	f.proc = NewProcessor(ProcessorDeps{
		Repo:      f.repo,
		Synth:     f.synth,
		Renderer:  f.renderer,
		Publisher: f.store,
		Breaker:   f.breaker,
	}, f.cfg)
}

// withBreaker swaps the breaker and rebuilds the processor around it.
func (f *fixture) withBreaker(b *circuitbreaker.Breaker) {
	f.breaker = b
	f.build()
}

func (f *fixture) submit(t *testing.T, text string) string {
	t.Helper()
	id := uuid.NewString()
	require.NoError(t, f.repo.Create(context.Background(), entity.NewJob(id, text, time.Now())))
	return id
}

func (f *fixture) job(t *testing.T, id string) *entity.Job {
	t.Helper()
	j, err := f.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return j
}

func tempFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out
}

func TestProcess_HelloWorldCompletes(t *testing.T) {
	f := newFixture(t, Config{})
	id := f.submit(t, "Hello world")

	require.NoError(t, f.proc.Process(context.Background(), id))

	req := f.renderer.req
	require.Len(t, req.Timings, 2)
	assert.Equal(t, timing.Fallback("Hello world"), req.Timings)
	assert.InDelta(t, 1.3, req.Duration, 1e-9)
	assert.Equal(t, 30, req.FPS)
	assert.Equal(t, 39, timing.FramesTotal(req.Duration, req.FPS))

	j := f.job(t, id)
	assert.Equal(t, entity.StatusCompleted, j.Status)
	require.NotNil(t, j.VideoURL)
	assert.Equal(t, "/videos/video_"+id+".mp4", *j.VideoURL)
	assert.Nil(t, j.Error)
	require.NotNil(t, j.Progress)
	assert.Equal(t, entity.ProgressDone, *j.Progress)

	assert.FileExists(t, filepath.Join(f.store.Dir(), "video_"+id+".mp4"))
	// audio and the local render artifact are released
	assert.Empty(t, tempFiles(t, f.tmp))
}

func TestProcess_ProgressSequence(t *testing.T) {
	f := newFixture(t, Config{})
	id := f.submit(t, "one two three")
	require.NoError(t, f.proc.Process(context.Background(), id))

	assert.Equal(t, []string{
		entity.ProgressGeneratingAudio,
		entity.ProgressRendering,
		entity.ProgressUploading,
		entity.ProgressDone,
	}, f.repo.labels)
}

func TestProcess_UsesAlignment(t *testing.T) {
	f := newFixture(t, Config{})
	f.synth.alignment = `[{"part":"Hello ","start":0,"end":350},{"part":"world","start":350,"end":900}]`
	id := f.submit(t, "Hello world")

	require.NoError(t, f.proc.Process(context.Background(), id))

	req := f.renderer.req
	require.Len(t, req.Timings, 2)
	assert.Equal(t, "Hello", req.Timings[0].Word)
	assert.InDelta(t, 0.35, req.Timings[0].EndTime, 1e-9)
	assert.InDelta(t, 1.4, req.Duration, 1e-9)
	assert.Empty(t, tempFiles(t, f.tmp))
}

func TestProcess_MalformedAlignmentFallsBack(t *testing.T) {
	f := newFixture(t, Config{})
	f.synth.alignment = `{"broken"`
	id := f.submit(t, "Hello world")

	require.NoError(t, f.proc.Process(context.Background(), id))

	assert.Equal(t, timing.Fallback("Hello world"), f.renderer.req.Timings)
	assert.Equal(t, entity.StatusCompleted, f.job(t, id).Status)
}

func TestProcess_RenderTimeoutFails(t *testing.T) {
	f := newFixture(t, Config{RenderTimeout: 50 * time.Millisecond})
	f.renderer.block = true
	id := f.submit(t, "Hello world")

	require.NoError(t, f.proc.Process(context.Background(), id))

	j := f.job(t, id)
	assert.Equal(t, entity.StatusFailed, j.Status)
	assert.Nil(t, j.VideoURL)
	require.NotNil(t, j.Error)
	assert.Contains(t, *j.Error, "render")
	assert.Equal(t, "video render timed out after 50ms", *j.Error)
	assert.Empty(t, tempFiles(t, f.tmp))
}

func TestProcess_SynthesisErrorFails(t *testing.T) {
	f := newFixture(t, Config{})
	f.synth.err = errors.New("tts unreachable")
	id := f.submit(t, "Hello world")

	require.NoError(t, f.proc.Process(context.Background(), id))

	j := f.job(t, id)
	assert.Equal(t, entity.StatusFailed, j.Status)
	require.NotNil(t, j.Error)
	assert.Equal(t, "speech synthesis failed: tts unreachable", *j.Error)
	assert.Nil(t, j.VideoURL)
}

func TestProcess_PanicBecomesFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.renderer.panics = true
	id := f.submit(t, "Hello world")

	require.NoError(t, f.proc.Process(context.Background(), id))

	j := f.job(t, id)
	assert.Equal(t, entity.StatusFailed, j.Status)
	require.NotNil(t, j.Error)
	assert.Equal(t, "video render failed: panic: boom", *j.Error)
	assert.False(t, strings.Contains(*j.Error, "goroutine"))
	assert.Empty(t, tempFiles(t, f.tmp))
	assert.Equal(t, "closed", f.breaker.State(StageRender), "one failure stays under the threshold")
}

func TestProcess_PanicDuringHalfOpenReopensBreaker(t *testing.T) {
	f := newFixture(t, Config{})
	f.withBreaker(circuitbreaker.New(1, 5*time.Millisecond))

	// trip the render breaker
	f.renderer.err = errors.New("ffmpeg exited 1")
	id := f.submit(t, "first")
	require.NoError(t, f.proc.Process(context.Background(), id))
	require.Equal(t, entity.StatusFailed, f.job(t, id).Status)
	require.Equal(t, "open", f.breaker.State(StageRender))

	// the single call allowed after cooldown panics
	time.Sleep(20 * time.Millisecond)
	f.renderer.err = nil
	f.renderer.panics = true
	id = f.submit(t, "second")
	require.NoError(t, f.proc.Process(context.Background(), id))
	j := f.job(t, id)
	require.Equal(t, entity.StatusFailed, j.Status)
	require.NotNil(t, j.Error)
	assert.Equal(t, "video render failed: panic: boom", *j.Error)
	assert.Equal(t, "open", f.breaker.State(StageRender))

	// a healthy render after the next cooldown closes the breaker again
	time.Sleep(20 * time.Millisecond)
	f.renderer.panics = false
	id = f.submit(t, "third")
	require.NoError(t, f.proc.Process(context.Background(), id))
	j = f.job(t, id)
	require.Equal(t, entity.StatusCompleted, j.Status, "error=%v", j.Error)
	assert.Equal(t, "closed", f.breaker.State(StageRender))
}

func TestProcess_OpenCircuitFailsFast(t *testing.T) {
	f := newFixture(t, Config{})
	for i := 0; i < 5; i++ {
		f.breaker.RecordFailure(StageSynthesis)
	}
	id := f.submit(t, "Hello world")

	require.NoError(t, f.proc.Process(context.Background(), id))

	assert.Equal(t, 0, f.synth.calls)
	j := f.job(t, id)
	assert.Equal(t, entity.StatusFailed, j.Status)
	require.NotNil(t, j.Error)
	assert.Contains(t, *j.Error, "circuit breaker is open")
}

func TestProcess_SkipsNonPending(t *testing.T) {
	f := newFixture(t, Config{})
	id := f.submit(t, "Hello world")
	_, err := f.repo.Update(context.Background(), id, entity.ClaimPatch(entity.ProgressGeneratingAudio))
	require.NoError(t, err)

	require.NoError(t, f.proc.Process(context.Background(), id))
	assert.Equal(t, 0, f.synth.calls)
	assert.Equal(t, entity.StatusProcessing, f.job(t, id).Status)

	// unknown ids are acknowledged without error
	require.NoError(t, f.proc.Process(context.Background(), uuid.NewString()))
}

func TestProcess_DuplicateDeliveryRunsOnce(t *testing.T) {
	f := newFixture(t, Config{})
	id := f.submit(t, "Hello world")

	require.NoError(t, f.proc.Process(context.Background(), id))
	require.NoError(t, f.proc.Process(context.Background(), id))
	assert.Equal(t, 1, f.synth.calls)
}

func TestStageError_Messages(t *testing.T) {
	assert.Equal(t, "video render failed: x", (&StageError{Stage: StageRender, Err: errors.New("x")}).Error())
	assert.Equal(t, "video render timed out after 4m0s", (&StageError{Stage: StageRender, Timeout: 4 * time.Minute}).Error())
	assert.Equal(t, "video upload failed: disk full", (&StageError{Stage: StageUpload, Err: errors.New("disk full")}).Error())

	inner := errors.New("root")
	var se *StageError
	require.ErrorAs(t, error(&StageError{Stage: StageSynthesis, Err: inner}), &se)
	assert.ErrorIs(t, se, inner)
}
