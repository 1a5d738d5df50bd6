package parse

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
)

// NoTextSentinel is reported when a completed job's payload yields no text.
// This is a data-quality marker, not an error: the job itself succeeded.
const NoTextSentinel = "no text extracted"

// DefaultSpeaker is assigned to segments lacking a speaker tag.
const DefaultSpeaker = "0"

// Segment is one timed utterance. Segments are immutable once produced.
type Segment struct {
	Begin   int64  // ordering key, ascending
	Speaker string // defaults to DefaultSpeaker
	Text    string // best-hypothesis text
}

// Transcript is the ordered collection of segments parsed from one
// terminal job's payload.
type Transcript struct {
	Segments []Segment
}

// Empty reports whether the transcript carries no non-empty text.
func (t *Transcript) Empty() bool {
	for _, seg := range t.Segments {
		if strings.TrimSpace(seg.Text) != "" {
			return false
		}
	}
	return true
}

// Parser decodes raw result payloads. Safe for concurrent use.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a Parser that logs skipped malformed sub-entries.
func NewParser(logger *slog.Logger) *Parser {
	return &Parser{logger: logger}
}

// Parse probes the known payload shapes in priority order and returns the
// transcript produced by the first shape that yields non-empty text. It
// never fails: an unrecognized payload simply produces an empty transcript,
// which Render degrades to NoTextSentinel.
func (p *Parser) Parse(raw []byte) *Transcript {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return &Transcript{}
	}

	// String-encoded payloads ("\"{...}\"") are unwrapped and re-probed.
	var quoted string
	if err := json.Unmarshal(raw, &quoted); err == nil {
		inner := strings.TrimSpace(quoted)
		if inner == "" {
			return &Transcript{}
		}
		if inner[0] == '{' || inner[0] == '[' {
			return p.Parse([]byte(inner))
		}
		// A plain string result is already-flattened text.
		return &Transcript{Segments: []Segment{{Speaker: DefaultSpeaker, Text: inner}}}
	}

	if raw[0] == '[' {
		return p.parseSegmentList(raw)
	}

	var body payload
	if err := json.Unmarshal(raw, &body); err != nil {
		p.logger.Warn("Result payload is not valid JSON, treating as plain text",
			slog.String("error", err.Error()),
		)
		return &Transcript{Segments: []Segment{{Speaker: DefaultSpeaker, Text: string(raw)}}}
	}

	for _, parse := range []func(*payload) []Segment{
		p.fromText, p.fromLattice, p.fromLattice2, p.fromNbest, p.fromResult,
	} {
		segments := parse(&body)
		t := &Transcript{Segments: segments}
		if !t.Empty() {
			return t
		}
	}

	p.logger.Warn("No known result shape yielded text",
		slog.Int("payload_bytes", len(raw)),
	)
	return &Transcript{}
}

// payload covers the historical result shapes side by side.
type payload struct {
	Text     string            `json:"text"`
	Lattice  []latticeEntry    `json:"lattice"`
	Lattice2 []latticeEntry    `json:"lattice2"`
	Nbest    []json.RawMessage `json:"nbest"`
	Result   json.RawMessage   `json:"result"`
}

type latticeEntry struct {
	JSON1Best json.RawMessage `json:"json_1best"`
}

// oneBest is the nested recognition lattice: st.rt[].ws[].cw[].w is the
// character path, st.bg the begin offset, st.rl the speaker role.
type oneBest struct {
	ST struct {
		Bg json.RawMessage `json:"bg"`
		Rl json.RawMessage `json:"rl"`
		Rt []struct {
			Ws []struct {
				Cw []struct {
					W string `json:"w"`
				} `json:"cw"`
			} `json:"ws"`
		} `json:"rt"`
	} `json:"st"`
}

func (p *Parser) fromText(body *payload) []Segment {
	if body.Text == "" {
		return nil
	}
	return []Segment{{Speaker: DefaultSpeaker, Text: body.Text}}
}

func (p *Parser) fromLattice(body *payload) []Segment {
	return p.parseLattice(body.Lattice, false)
}

func (p *Parser) fromLattice2(body *payload) []Segment {
	return p.parseLattice(body.Lattice2, true)
}

// parseLattice walks lattice entries. The original "lattice" shape carries
// one rt segment per entry; "lattice2" carries a sequence of them.
func (p *Parser) parseLattice(entries []latticeEntry, allSegments bool) []Segment {
	var segments []Segment
	for i, entry := range entries {
		if len(entry.JSON1Best) == 0 {
			continue
		}

		best, err := decodeOneBest(entry.JSON1Best)
		if err != nil {
			p.logger.Warn("Skipping malformed lattice entry",
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)
			continue
		}

		rt := best.ST.Rt
		if !allSegments && len(rt) > 1 {
			rt = rt[:1]
		}

		var text strings.Builder
		for _, segment := range rt {
			for _, word := range segment.Ws {
				for _, char := range word.Cw {
					text.WriteString(char.W)
				}
			}
		}
		if text.Len() == 0 {
			continue
		}

		segments = append(segments, Segment{
			Begin:   flexInt(best.ST.Bg),
			Speaker: flexSpeaker(best.ST.Rl),
			Text:    text.String(),
		})
	}
	return segments
}

func (p *Parser) fromNbest(body *payload) []Segment {
	if len(body.Nbest) == 0 {
		return nil
	}

	first := body.Nbest[0]
	var text string
	if err := json.Unmarshal(first, &text); err != nil {
		var candidate struct {
			Sentence string `json:"sentence"`
		}
		if err := json.Unmarshal(first, &candidate); err != nil {
			p.logger.Warn("Skipping malformed nbest candidate", slog.String("error", err.Error()))
			return nil
		}
		text = candidate.Sentence
	}
	if text == "" {
		return nil
	}
	return []Segment{{Speaker: DefaultSpeaker, Text: text}}
}

func (p *Parser) fromResult(body *payload) []Segment {
	if len(body.Result) == 0 {
		return nil
	}

	var text string
	if err := json.Unmarshal(body.Result, &text); err != nil {
		var nested struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(body.Result, &nested); err != nil {
			p.logger.Warn("Skipping malformed result field", slog.String("error", err.Error()))
			return nil
		}
		text = nested.Text
	}
	if text == "" {
		return nil
	}
	return []Segment{{Speaker: DefaultSpeaker, Text: text}}
}

// parseSegmentList handles the V1 result shape: a flat array of
// {bg, onebest, speaker} objects.
func (p *Parser) parseSegmentList(raw []byte) *Transcript {
	var items []struct {
		Bg      json.RawMessage `json:"bg"`
		Onebest string          `json:"onebest"`
		Speaker json.RawMessage `json:"speaker"`
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		p.logger.Warn("Skipping malformed segment list", slog.String("error", err.Error()))
		return &Transcript{}
	}

	var segments []Segment
	for _, item := range items {
		if strings.TrimSpace(item.Onebest) == "" {
			continue
		}
		segments = append(segments, Segment{
			Begin:   flexInt(item.Bg),
			Speaker: flexSpeaker(item.Speaker),
			Text:    item.Onebest,
		})
	}
	return &Transcript{Segments: segments}
}

// decodeOneBest accepts json_1best either string-encoded or already decoded.
func decodeOneBest(raw json.RawMessage) (*oneBest, error) {
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		raw = []byte(encoded)
	}

	var best oneBest
	if err := json.Unmarshal(raw, &best); err != nil {
		return nil, err
	}
	return &best, nil
}

// flexInt reads a JSON number or numeric string; anything else is 0.
func flexInt(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if v, err := n.Int64(); err == nil {
			return v
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return v
		}
	}
	return 0
}

// flexSpeaker reads a speaker tag given as string or number; absence or
// malformed values fall back to DefaultSpeaker.
func flexSpeaker(raw json.RawMessage) string {
	if len(raw) == 0 {
		return DefaultSpeaker
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return DefaultSpeaker
}
