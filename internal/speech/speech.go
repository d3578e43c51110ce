// Package speech turns narration text into an audio file plus optional
// word-boundary alignment.
package speech

import "context"

// Speech is the synthesizer output. Both paths point at temporary files the
// caller owns and must remove once rendering is done.
type Speech struct {
	AudioPath string
	// AlignmentPath is the word-boundary side file, a JSON array of
	// {part, start, end} with times in milliseconds. Empty when the provider
	// returned no alignment.
	AlignmentPath string
	Voice         string
}

// Files lists every temp file belonging to s.
func (s Speech) Files() []string {
	out := make([]string, 0, 2)
	if s.AudioPath != "" {
		out = append(out, s.AudioPath)
	}
	if s.AlignmentPath != "" {
		out = append(out, s.AlignmentPath)
	}
	return out
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Speech, error)
}
