package render

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-narrator/internal/timing"
)

type fakeRunner struct {
	run   func(ctx context.Context, name string, args ...string) (commandResult, error)
	calls [][]string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.run == nil {
		return commandResult{}, nil
	}
	return f.run(ctx, name, args...)
}

// writesOutput simulates a successful encode by creating the last argument.
func writesOutput(ctx context.Context, name string, args ...string) (commandResult, error) {
	return commandResult{}, os.WriteFile(args[len(args)-1], []byte("mp4"), 0o644)
}

func newTestRenderer(t *testing.T, background string, runner *fakeRunner) *FFmpegRenderer {
	t.Helper()
	r, err := NewFFmpegRenderer("/usr/bin/ffmpeg", t.TempDir(), background)
	require.NoError(t, err)
	r.runner = runner
	return r
}

func argValue(args []string, flag string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func helloRequest() Request {
	return Request{
		Text:        "Hello world",
		AudioPath:   "/tmp/speech.mp3",
		Timings:     timing.Fallback("Hello world"),
		Duration:    1.3,
		FPS:         30,
		Concurrency: 3,
	}
}

func TestFFmpegRenderer_Args(t *testing.T) {
	runner := &fakeRunner{run: writesOutput}
	r := newTestRenderer(t, "", runner)

	res, err := r.Render(context.Background(), helloRequest())
	require.NoError(t, err)
	assert.Equal(t, 39, res.Frames)
	assert.FileExists(t, res.Path)

	require.Len(t, runner.calls, 1)
	call := runner.calls[0]
	assert.Equal(t, "/usr/bin/ffmpeg", call[0])
	args := call[1:]
	assert.Equal(t, "39", argValue(args, "-frames:v"))
	assert.Equal(t, "3", argValue(args, "-threads"))
	assert.Equal(t, "2M", argValue(args, "-b:v"))
	assert.Equal(t, "2.5M", argValue(args, "-maxrate"))
	assert.Equal(t, "4M", argValue(args, "-bufsize"))
	assert.Equal(t, "color=c=black:s=1080x1920:r=30", argValue(args, "-i"))
	assert.Contains(t, argValue(args, "-filter_complex"), "ass='")
	assert.Equal(t, res.Path, args[len(args)-1])
}

func TestFFmpegRenderer_LoopsBackground(t *testing.T) {
	runner := &fakeRunner{run: writesOutput}
	r := newTestRenderer(t, "/assets/bg.mp4", runner)

	_, err := r.Render(context.Background(), helloRequest())
	require.NoError(t, err)
	args := runner.calls[0][1:]
	assert.Equal(t, "-1", argValue(args, "-stream_loop"))
	assert.Equal(t, "/assets/bg.mp4", argValue(args, "-i"))
}

func TestFFmpegRenderer_CaptionsRemoved(t *testing.T) {
	var subsPath string
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
		f := argValue(args, "-filter_complex")
		i := strings.Index(f, "ass='")
		subsPath = strings.ReplaceAll(f[i+5:strings.LastIndex(f, "'")], `\:`, ":")
		data, err := os.ReadFile(subsPath)
		if err != nil {
			return commandResult{}, err
		}
		if !strings.Contains(string(data), "Dialogue:") {
			return commandResult{}, errors.New("no dialogue in captions")
		}
		return writesOutput(ctx, name, args...)
	}}
	r := newTestRenderer(t, "", runner)

	_, err := r.Render(context.Background(), helloRequest())
	require.NoError(t, err)
	assert.NoFileExists(t, subsPath)
}

func TestFFmpegRenderer_Failure(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
		return commandResult{Stderr: "Unknown encoder 'libx264'", ExitCode: 1}, errors.New("exit status 1")
	}}
	r := newTestRenderer(t, "", runner)

	_, err := r.Render(context.Background(), helloRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited 1")
	assert.Contains(t, err.Error(), "libx264")
}

func TestFFmpegRenderer_NoOutput(t *testing.T) {
	r := newTestRenderer(t, "", &fakeRunner{})
	_, err := r.Render(context.Background(), helloRequest())
	require.Error(t, err)
}

func TestFFmpegRenderer_DeadlineSurfaces(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
		<-ctx.Done()
		return commandResult{ExitCode: -1}, errors.New("signal: killed")
	}}
	r := newTestRenderer(t, "", runner)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := r.Render(ctx, helloRequest())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRequest_Validate(t *testing.T) {
	req := helloRequest()
	req.Duration = 0
	require.Error(t, req.Validate())

	req = helloRequest()
	req.AudioPath = ""
	require.Error(t, req.Validate())

	req = helloRequest()
	req.FPS = 0
	require.Error(t, req.Validate())
}

func TestBuildASS_KaraokeStates(t *testing.T) {
	timings := []timing.WordTiming{
		{Word: "one", StartTime: 0, EndTime: 1},
		{Word: "two", StartTime: 1, EndTime: 2},
		{Word: "{three}", StartTime: 2, EndTime: 3},
	}
	out := BuildASS(timings, 30, Width, Height)

	assert.Contains(t, out, "PlayResX: 1080")
	assert.Contains(t, out, "PlayResY: 1920")

	var events []string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "Dialogue:") {
			events = append(events, line)
		}
	}
	require.Len(t, events, 3)

	assert.Contains(t, events[0], "0:00:00.00,0:00:01.00")
	assert.Contains(t, events[0], currentStyle+"one")
	assert.Contains(t, events[0], futureStyle+"two")

	assert.Contains(t, events[1], pastStyle+"one")
	assert.Contains(t, events[1], currentStyle+"two")

	assert.Contains(t, events[2], "0:00:02.00,0:00:03.00")
	assert.Contains(t, events[2], currentStyle+"(three)")
}

func TestBuildASS_GapHidesSegment(t *testing.T) {
	timings := []timing.WordTiming{
		{Word: "a", StartTime: 0, EndTime: 1},
		{Word: "b", StartTime: 2, EndTime: 3},
	}
	out := BuildASS(timings, 30, Width, Height)
	assert.Equal(t, 2, strings.Count(out, "Dialogue:"))
	assert.NotContains(t, out, "0:00:01.00,0:00:02.00")
}

func TestAssTime(t *testing.T) {
	assert.Equal(t, "0:00:00.00", assTime(0, 30))
	assert.Equal(t, "0:00:01.30", assTime(39, 30))
	assert.Equal(t, "1:01:01.00", assTime(30*3661, 30))
}
