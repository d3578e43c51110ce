package timing_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-narrator/internal/timing"
)

func TestTimingsToFrames_Empty(t *testing.T) {
	got := timing.TimingsToFrames(nil, 30)
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestTimingsToFrames_GroupsOfEight(t *testing.T) {
	text := "one two three four five six seven eight nine ten eleven twelve thirteen fourteen fifteen sixteen seventeen"
	timings := timing.Fallback(text)

	segs := timing.TimingsToFrames(timings, 30)
	require.Len(t, segs, 3)
	assert.Len(t, segs[0].Words, 8)
	assert.Len(t, segs[1].Words, 8)
	assert.Len(t, segs[2].Words, 1)

	var words []string
	for _, s := range segs {
		assert.Equal(t, s.Words[0].StartFrame, s.StartFrame)
		assert.Equal(t, s.Words[len(s.Words)-1].EndFrame, s.EndFrame)
		parts := make([]string, 0, len(s.Words))
		for _, w := range s.Words {
			parts = append(parts, w.Word)
		}
		assert.Equal(t, strings.Join(parts, " "), s.Text)
		words = append(words, parts...)
	}
	assert.Equal(t, strings.Fields(text), words)
}

func TestTimingsToFrames_FloorsFrames(t *testing.T) {
	segs := timing.TimingsToFrames([]timing.WordTiming{
		{Word: "a", StartTime: 0.01, EndTime: 0.049},
		{Word: "b", StartTime: 0.05, EndTime: 0.1},
	}, 30)
	require.Len(t, segs, 1)
	assert.Equal(t, 0, segs[0].Words[0].StartFrame)
	assert.Equal(t, 1, segs[0].Words[0].EndFrame)
	assert.Equal(t, 1, segs[0].Words[1].StartFrame)
	assert.Equal(t, 3, segs[0].Words[1].EndFrame)
}

func TestCurrentWord(t *testing.T) {
	seg := timing.CaptionSegment{
		StartFrame: 0,
		EndFrame:   30,
		Words: []timing.CaptionWord{
			{Word: "a", StartFrame: 0, EndFrame: 10},
			{Word: "b", StartFrame: 10, EndFrame: 20},
			{Word: "c", StartFrame: 20, EndFrame: 30},
		},
	}
	tests := []struct {
		frame int
		want  int
	}{
		{frame: 5, want: 0},
		{frame: 10, want: 1},
		{frame: 15, want: 1},
		{frame: 29, want: 2},
		{frame: 30, want: 2},
		{frame: 100, want: 2},
		{frame: -1, want: -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, timing.CurrentWord(seg, tt.frame), "frame %d", tt.frame)
	}
}

func TestCurrentWord_GapBeforeFirstWord(t *testing.T) {
	seg := timing.CaptionSegment{
		StartFrame: 12,
		EndFrame:   24,
		Words:      []timing.CaptionWord{{Word: "late", StartFrame: 12, EndFrame: 24}},
	}
	assert.Equal(t, -1, timing.CurrentWord(seg, 3))
}

func TestSegmentAt(t *testing.T) {
	segs := timing.TimingsToFrames(timing.Fallback("one two three four five six seven eight nine"), 30)
	require.Len(t, segs, 2)

	s, ok := timing.SegmentAt(segs, 0)
	require.True(t, ok)
	assert.Equal(t, segs[0].Text, s.Text)

	s, ok = timing.SegmentAt(segs, segs[1].StartFrame)
	require.True(t, ok)
	assert.Equal(t, "nine", s.Text)

	_, ok = timing.SegmentAt(segs, segs[1].EndFrame)
	assert.False(t, ok)
}

func TestFramesTotal(t *testing.T) {
	assert.Equal(t, 39, timing.FramesTotal(1.3, 30))
	assert.Equal(t, 30, timing.FramesTotal(1.0, 30))
	assert.Equal(t, 31, timing.FramesTotal(1.01, 30))
}

func TestRenderConcurrency(t *testing.T) {
	assert.Equal(t, 1, timing.RenderConcurrency(0))
	assert.Equal(t, 1, timing.RenderConcurrency(1))
	assert.Equal(t, 1, timing.RenderConcurrency(2))
	assert.Equal(t, 3, timing.RenderConcurrency(4))
	assert.Equal(t, 6, timing.RenderConcurrency(8))
}
