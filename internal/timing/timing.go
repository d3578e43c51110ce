// Package timing turns synthesis alignment data into per-word timings and
// groups those timings into frame-aligned caption segments.
//
// Everything here is pure and synchronous; it never blocks.
package timing

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// FallbackWordDuration is the per-word slot used when the synthesis
	// provider returns no alignment (2.5 words per second).
	FallbackWordDuration   = 0.4
	FallbackWordsPerSecond = 1 / FallbackWordDuration

	// TrailingPadding is added after the last spoken word.
	TrailingPadding = 0.5
)

// WordTiming is a word's offset within the synthesized audio, in seconds.
type WordTiming struct {
	Word      string  `json:"word"`
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
}

// Alignment is one word-boundary entry as emitted by the speech provider.
// Start and End are milliseconds.
type Alignment struct {
	Part  string  `json:"part"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// ParseAlignment decodes a provider alignment document.
func ParseAlignment(data []byte) ([]Alignment, error) {
	var entries []Alignment
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse alignment: %w", err)
	}
	return entries, nil
}

// FromAlignment converts provider entries to WordTimings. Entries are
// trusted to already be in utterance order.
func FromAlignment(entries []Alignment) []WordTiming {
	out := make([]WordTiming, 0, len(entries))
	for _, e := range entries {
		out = append(out, WordTiming{
			Word:      strings.TrimSpace(e.Part),
			StartTime: e.Start / 1000,
			EndTime:   e.End / 1000,
		})
	}
	return out
}

// Fallback spreads the whitespace-separated tokens of text evenly, one
// FallbackWordDuration slot each.
func Fallback(text string) []WordTiming {
	words := strings.Fields(text)
	out := make([]WordTiming, 0, len(words))
	for i, w := range words {
		out = append(out, WordTiming{
			Word:      w,
			StartTime: float64(i) * FallbackWordDuration,
			EndTime:   float64(i+1) * FallbackWordDuration,
		})
	}
	return out
}

// Duration is the utterance length in seconds: the last word's end plus
// padding, or an estimate from the word count when there are no timings.
func Duration(timings []WordTiming, text string) float64 {
	if len(timings) > 0 {
		return timings[len(timings)-1].EndTime + TrailingPadding
	}
	return float64(len(strings.Fields(text)))/FallbackWordsPerSecond + 1
}

// Resolve picks alignment-derived timings when present and falls back to
// uniform timings otherwise. usedFallback reports which path was taken.
func Resolve(text string, entries []Alignment) (timings []WordTiming, duration float64, usedFallback bool) {
	timings = FromAlignment(entries)
	if len(timings) == 0 {
		timings = Fallback(text)
		usedFallback = true
	}
	return timings, Duration(timings, text), usedFallback
}
