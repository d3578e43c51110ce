package timing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-narrator/internal/timing"
)

func TestFallback_HelloWorld(t *testing.T) {
	got := timing.Fallback("Hello world")
	require.Len(t, got, 2)
	assert.Equal(t, timing.WordTiming{Word: "Hello", StartTime: 0, EndTime: 0.4}, got[0])
	assert.Equal(t, "world", got[1].Word)
	assert.InDelta(t, 0.4, got[1].StartTime, 1e-9)
	assert.InDelta(t, 0.8, got[1].EndTime, 1e-9)
	assert.InDelta(t, 1.3, timing.Duration(got, "Hello world"), 1e-9)
}

func TestFallback_ContiguousSlots(t *testing.T) {
	got := timing.Fallback("  one\ttwo \n three   four five ")
	require.Len(t, got, 5)
	for i, w := range got {
		assert.InDelta(t, 0.4*float64(i), w.StartTime, 1e-9)
		assert.InDelta(t, 0.4*float64(i+1), w.EndTime, 1e-9)
		assert.NotEmpty(t, w.Word)
	}
}

func TestFallback_Empty(t *testing.T) {
	assert.Empty(t, timing.Fallback("   "))
}

func TestDuration_NoTimingsEstimatesFromWords(t *testing.T) {
	assert.InDelta(t, 1.0, timing.Duration(nil, ""), 1e-9)
	assert.InDelta(t, 3.0, timing.Duration(nil, "a b c d e"), 1e-9)
}

func TestDuration_AtLeastLastEndPlusPadding(t *testing.T) {
	timings := []timing.WordTiming{{Word: "a", StartTime: 0, EndTime: 2.25}}
	assert.InDelta(t, 2.75, timing.Duration(timings, "a"), 1e-9)
}

func TestParseAlignment(t *testing.T) {
	entries, err := timing.ParseAlignment([]byte(`[{"part":"Hello ","start":0,"end":350},{"part":"world","start":350,"end":900}]`))
	require.NoError(t, err)

	got := timing.FromAlignment(entries)
	require.Len(t, got, 2)
	assert.Equal(t, "Hello", got[0].Word)
	assert.InDelta(t, 0.35, got[0].EndTime, 1e-9)
	assert.InDelta(t, 0.9, got[1].EndTime, 1e-9)
}

func TestParseAlignment_Malformed(t *testing.T) {
	_, err := timing.ParseAlignment([]byte(`{not json`))
	require.Error(t, err)
}

func TestResolve(t *testing.T) {
	t.Run("alignment wins", func(t *testing.T) {
		timings, dur, fallback := timing.Resolve("ignored text here", []timing.Alignment{{Part: "hi", Start: 100, End: 600}})
		assert.False(t, fallback)
		require.Len(t, timings, 1)
		assert.InDelta(t, 1.1, dur, 1e-9)
	})
	t.Run("empty alignment falls back", func(t *testing.T) {
		timings, dur, fallback := timing.Resolve("Hello world", nil)
		assert.True(t, fallback)
		assert.Len(t, timings, 2)
		assert.InDelta(t, 1.3, dur, 1e-9)
	})
}
