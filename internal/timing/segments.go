package timing

import (
	"math"
	"strings"
)

// MaxWordsPerSegment is how many words a caption shows at once.
const MaxWordsPerSegment = 8

type CaptionWord struct {
	Word       string `json:"word"`
	StartFrame int    `json:"startFrame"`
	EndFrame   int    `json:"endFrame"`
}

// CaptionSegment is a group of consecutive words displayed together.
// EndFrame always equals the EndFrame of the last word.
type CaptionSegment struct {
	Text       string        `json:"text"`
	StartFrame int           `json:"startFrame"`
	EndFrame   int           `json:"endFrame"`
	Words      []CaptionWord `json:"words"`
}

// TimingsToFrames groups timings into segments of at most MaxWordsPerSegment words.
func TimingsToFrames(timings []WordTiming, fps int) []CaptionSegment {
	return GroupFrames(timings, fps, MaxWordsPerSegment)
}

// GroupFrames is TimingsToFrames with an explicit segment size.
func GroupFrames(timings []WordTiming, fps, maxWords int) []CaptionSegment {
	segments := make([]CaptionSegment, 0)
	if len(timings) == 0 {
		return segments
	}
	if maxWords <= 0 {
		maxWords = MaxWordsPerSegment
	}

	var (
		cur   *CaptionSegment
		texts []string
	)
	flush := func() {
		if cur == nil {
			return
		}
		cur.Text = strings.Join(texts, " ")
		segments = append(segments, *cur)
	}

	for _, t := range timings {
		w := CaptionWord{
			Word:       t.Word,
			StartFrame: ToFrame(t.StartTime, fps),
			EndFrame:   ToFrame(t.EndTime, fps),
		}
		if cur == nil || len(cur.Words) >= maxWords {
			flush()
			cur = &CaptionSegment{
				StartFrame: w.StartFrame,
				Words:      make([]CaptionWord, 0, maxWords),
			}
			texts = texts[:0]
		}
		cur.Words = append(cur.Words, w)
		cur.EndFrame = w.EndFrame
		texts = append(texts, w.Word)
	}
	flush()
	return segments
}

// CurrentWord returns the index of the word to highlight at frame.
// Past the segment's end the last word stays highlighted; before any word
// starts it returns -1.
func CurrentWord(seg CaptionSegment, frame int) int {
	for i, w := range seg.Words {
		if frame >= w.StartFrame && frame < w.EndFrame {
			return i
		}
	}
	if frame >= seg.EndFrame {
		return len(seg.Words) - 1
	}
	return -1
}

// SegmentAt returns the segment displayed at frame.
func SegmentAt(segments []CaptionSegment, frame int) (CaptionSegment, bool) {
	for _, s := range segments {
		if frame >= s.StartFrame && frame < s.EndFrame {
			return s, true
		}
	}
	return CaptionSegment{}, false
}

func ToFrame(seconds float64, fps int) int {
	return int(math.Floor(seconds * float64(fps)))
}

// FramesTotal is the composition length for a clip of durationSeconds.
func FramesTotal(durationSeconds float64, fps int) int {
	return int(math.Ceil(durationSeconds * float64(fps)))
}

// RenderConcurrency leaves a quarter of the cores to the host.
func RenderConcurrency(cores int) int {
	return max(1, int(math.Floor(float64(cores)*0.75)))
}
