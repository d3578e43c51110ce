// Package render composes the narrated vertical video: background, speech
// audio and karaoke-style captions burned in.
package render

import (
	"context"
	"errors"
	"fmt"

	"video-narrator/internal/timing"
)

// Output geometry and encoder settings.
const (
	Width      = 1080
	Height     = 1920
	DefaultFPS = 30

	VideoBitrate = "2M"
	MaxBitrate   = "2.5M"
	BufferSize   = "4M"
)

type Request struct {
	Text      string
	AudioPath string
	Timings   []timing.WordTiming
	// Duration is the composition length in seconds.
	Duration    float64
	FPS         int
	Concurrency int
}

func (r Request) Validate() error {
	if r.AudioPath == "" {
		return errors.New("audio path is required")
	}
	if r.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %v", r.Duration)
	}
	if r.FPS <= 0 {
		return fmt.Errorf("fps must be positive, got %d", r.FPS)
	}
	return nil
}

type Result struct {
	// Path is a local file owned by the caller.
	Path   string
	Frames int
}

type Renderer interface {
	Render(ctx context.Context, req Request) (Result, error)
}
