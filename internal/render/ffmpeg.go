package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"video-narrator/internal/timing"
)

type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		return res, err
	}
	return res, nil
}

// FFmpegRenderer renders with the ffmpeg binary. Without a background video
// it draws on a solid black canvas.
type FFmpegRenderer struct {
	ffmpegPath string
	outDir     string
	background string
	runner     commandRunner
	now        func() time.Time
}

func NewFFmpegRenderer(ffmpegPath, outDir, background string) (*FFmpegRenderer, error) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create render dir: %w", err)
	}
	return &FFmpegRenderer{
		ffmpegPath: ffmpegPath,
		outDir:     outDir,
		background: background,
		runner:     execRunner{},
		now:        time.Now,
	}, nil
}

func (r *FFmpegRenderer) Render(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	base := fmt.Sprintf("%d_%s", r.now().UnixMilli(), uuid.NewString()[:8])
	subsPath := filepath.Join(r.outDir, "captions_"+base+".ass")
	outPath := filepath.Join(r.outDir, "video_"+base+".mp4")

	if err := os.WriteFile(subsPath, []byte(BuildASS(req.Timings, req.FPS, Width, Height)), 0o644); err != nil {
		return Result{}, fmt.Errorf("write captions: %w", err)
	}
	defer os.Remove(subsPath)

	frames := timing.FramesTotal(req.Duration, req.FPS)
	args := r.args(req, subsPath, outPath, frames)

	res, err := r.runner.Run(ctx, r.ffmpegPath, args...)
	if err != nil {
		_ = os.Remove(outPath)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, fmt.Errorf("ffmpeg interrupted: %w", ctxErr)
		}
		return Result{}, fmt.Errorf("ffmpeg exited %d: %s", res.ExitCode, tail(res.Stderr, 400))
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		_ = os.Remove(outPath)
		return Result{}, errors.New("ffmpeg produced no output")
	}
	return Result{Path: outPath, Frames: frames}, nil
}

func (r *FFmpegRenderer) args(req Request, subsPath, outPath string, frames int) []string {
	fps := strconv.Itoa(req.FPS)
	size := fmt.Sprintf("%dx%d", Width, Height)

	args := []string{"-hide_banner", "-loglevel", "error", "-y"}
	if r.background != "" {
		args = append(args, "-stream_loop", "-1", "-i", r.background)
	} else {
		args = append(args, "-f", "lavfi", "-i", "color=c=black:s="+size+":r="+fps)
	}
	args = append(args, "-i", req.AudioPath)

	filter := fmt.Sprintf(
		"[0:v]scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,fps=%s,ass='%s'[v]",
		Width, Height, Width, Height, fps, escapeFilterPath(subsPath),
	)
	args = append(args,
		"-filter_complex", filter,
		"-map", "[v]",
		"-map", "1:a",
		"-frames:v", strconv.Itoa(frames),
		"-c:v", "libx264",
		"-b:v", VideoBitrate,
		"-maxrate", MaxBitrate,
		"-bufsize", BufferSize,
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "128k",
	)
	if req.Concurrency > 0 {
		args = append(args, "-threads", strconv.Itoa(req.Concurrency))
	}
	args = append(args, "-movflags", "+faststart", outPath)
	return args
}

var filterPathEscaper = strings.NewReplacer(`\`, `\\`, `:`, `\:`, `'`, `\'`)

func escapeFilterPath(p string) string {
	return filterPathEscaper.Replace(filepath.ToSlash(p))
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
