package parse

import (
	"fmt"
	"sort"
	"strings"
)

// Render flattens the transcript into per-speaker text. Segments are
// ordered by begin offset. A single-speaker transcript renders as one plain
// block; multiple speakers render as labeled blocks in first-appearance
// order. An empty transcript renders as NoTextSentinel.
func (t *Transcript) Render() string {
	if t == nil || t.Empty() {
		return NoTextSentinel
	}

	segments := make([]Segment, len(t.Segments))
	copy(segments, t.Segments)
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Begin < segments[j].Begin
	})

	var speakerOrder []string
	texts := make(map[string][]string)
	for _, seg := range segments {
		if strings.TrimSpace(seg.Text) == "" {
			continue
		}
		speaker := seg.Speaker
		if speaker == "" {
			speaker = DefaultSpeaker
		}
		if _, seen := texts[speaker]; !seen {
			speakerOrder = append(speakerOrder, speaker)
		}
		texts[speaker] = append(texts[speaker], seg.Text)
	}

	if len(speakerOrder) == 1 {
		return strings.Join(texts[speakerOrder[0]], " ")
	}

	blocks := make([]string, 0, len(speakerOrder))
	for _, speaker := range speakerOrder {
		blocks = append(blocks, fmt.Sprintf("Speaker %s: %s", speaker, strings.Join(texts[speaker], " ")))
	}
	return strings.Join(blocks, "\n\n")
}
