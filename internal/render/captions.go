package render

import (
	"fmt"
	"sort"
	"strings"

	"video-narrator/internal/timing"
)

// ASS alpha is inverted opacity: 00 opaque, FF transparent.
const (
	pastStyle    = `{\alpha&H99&\c&H999999&\fscx100\fscy100}`
	currentStyle = `{\alpha&H00&\c&HFFFFFF&\fscx110\fscy110}`
	futureStyle  = `{\alpha&HFF&\fscx100\fscy100}`
)

const assHeader = `[Script Info]
ScriptType: v4.00+
PlayResX: %d
PlayResY: %d
WrapStyle: 0
ScaledBorderAndShadow: yes

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Caption,DejaVu Sans,72,&H00FFFFFF,&H00FFFFFF,&H00000000,&H1A000000,-1,0,0,0,100,100,1,0,1,3,3,5,54,54,0,1

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
`

// BuildASS renders timings as an ASS subtitle script. Each segment is split
// at word boundaries into events; within one event the highlighted word is
// fixed: earlier words dimmed, the current one white and enlarged, later
// ones transparent so the line layout does not shift.
func BuildASS(timings []timing.WordTiming, fps, width, height int) string {
	var b strings.Builder
	fmt.Fprintf(&b, assHeader, width, height)

	for _, seg := range timing.TimingsToFrames(timings, fps) {
		bounds := segmentBounds(seg)
		for i := 0; i+1 < len(bounds); i++ {
			from, to := bounds[i], bounds[i+1]
			cur := timing.CurrentWord(seg, from)
			if cur < 0 {
				continue
			}
			fmt.Fprintf(&b, "Dialogue: 0,%s,%s,Caption,,0,0,0,,%s\n",
				assTime(from, fps), assTime(to, fps), karaokeLine(seg, cur))
		}
	}
	return b.String()
}

// segmentBounds returns the sorted distinct frames at which the highlighted
// word can change.
func segmentBounds(seg timing.CaptionSegment) []int {
	set := map[int]struct{}{seg.StartFrame: {}, seg.EndFrame: {}}
	for _, w := range seg.Words {
		set[w.StartFrame] = struct{}{}
		set[w.EndFrame] = struct{}{}
	}
	out := make([]int, 0, len(set))
	for f := range set {
		if f >= seg.StartFrame && f <= seg.EndFrame {
			out = append(out, f)
		}
	}
	sort.Ints(out)
	return out
}

func karaokeLine(seg timing.CaptionSegment, cur int) string {
	parts := make([]string, 0, len(seg.Words))
	for i, w := range seg.Words {
		style := futureStyle
		switch {
		case i < cur:
			style = pastStyle
		case i == cur:
			style = currentStyle
		}
		parts = append(parts, style+escapeASS(w.Word))
	}
	return strings.Join(parts, " ")
}

// assTime formats a frame offset as H:MM:SS.cc.
func assTime(frame, fps int) string {
	cs := frame * 100 / fps
	h := cs / 360000
	m := cs / 6000 % 60
	s := cs / 100 % 60
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, cs%100)
}

var assEscaper = strings.NewReplacer(`\`, `/`, `{`, `(`, `}`, `)`, "\n", " ", "\r", "")

func escapeASS(s string) string {
	return assEscaper.Replace(s)
}
