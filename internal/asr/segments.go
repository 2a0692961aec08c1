// Package asr holds transcript data structures, subtitle parsing and the
// chunked-recognition merge algorithm.
package asr

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// Segment is one timed span of transcript text. Times are milliseconds from
// the start of the media.
type Segment struct {
	StartMS    int64
	EndMS      int64
	Text       string
	Translated string
}

// Data is an ordered transcript. Construction drops empty segments and
// sorts by start time.
type Data struct {
	Segments []Segment
}

// NewData builds a Data from raw segments, dropping blank text and sorting
// by start time.
func NewData(segments []Segment) *Data {
	filtered := make([]Segment, 0, len(segments))
	for _, seg := range segments {
		if strings.TrimSpace(seg.Text) != "" {
			filtered = append(filtered, seg)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].StartMS < filtered[j].StartMS
	})
	return &Data{Segments: filtered}
}

// HasData reports whether any utterances exist.
func (d *Data) HasData() bool {
	return len(d.Segments) > 0
}

// DurationMS returns the end time of the last segment.
func (d *Data) DurationMS() int64 {
	if len(d.Segments) == 0 {
		return 0
	}
	return d.Segments[len(d.Segments)-1].EndMS
}

// CoveredMS returns the summed duration of all segments. Subtitle coverage
// checks compare this against the media duration.
func (d *Data) CoveredMS() int64 {
	var total int64
	for _, seg := range d.Segments {
		if seg.EndMS > seg.StartMS {
			total += seg.EndMS - seg.StartMS
		}
	}
	return total
}

// Text returns the plain transcript, one segment per line.
func (d *Data) Text() string {
	lines := make([]string, len(d.Segments))
	for i, seg := range d.Segments {
		lines[i] = seg.Text
	}
	return strings.Join(lines, "\n")
}

// TokenCount approximates the token count of the transcript: CJK characters
// count one each, other runs of non-space characters count one per word.
func (d *Data) TokenCount() int {
	count := 0
	for _, seg := range d.Segments {
		count += countTokens(seg.Text)
	}
	return count
}

func countTokens(text string) int {
	count := 0
	inWord := false
	for _, r := range text {
		switch {
		case isCJK(r):
			if inWord {
				count++
				inWord = false
			}
			count++
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			if inWord {
				count++
				inWord = false
			}
		default:
			inWord = true
		}
	}
	if inWord {
		count++
	}
	return count
}

// wordLevelThreshold is the share of segments that must look like single
// words for the transcript to count as word-timestamped.
const wordLevelThreshold = 0.8

// IsWordTimestamp reports whether the transcript carries word-level rather
// than sentence-level timing. CJK text counts a segment of up to two
// characters as a word; other scripts require a single whitespace word.
func (d *Data) IsWordTimestamp() bool {
	if len(d.Segments) == 0 {
		return false
	}

	wordLevel := 0
	for _, seg := range d.Segments {
		if isWordLevelSegment(seg) {
			wordLevel++
		}
	}
	return float64(wordLevel)/float64(len(d.Segments)) >= wordLevelThreshold
}

func isWordLevelSegment(seg Segment) bool {
	text := strings.TrimSpace(seg.Text)
	if isMainlyCJK(text) {
		return len([]rune(text)) <= 2
	}
	return len(strings.Fields(text)) == 1
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

func isMainlyCJK(text string) bool {
	if text == "" {
		return false
	}
	cjk, total := 0, 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if isCJK(r) {
			cjk++
		}
	}
	return total > 0 && float64(cjk)/float64(total) > 0.5
}

// segmentJSON mirrors the persisted asr.json record shape: an object keyed
// by 1-based index.
type segmentJSON struct {
	StartTime          int64  `json:"start_time"`
	EndTime            int64  `json:"end_time"`
	OriginalSubtitle   string `json:"original_subtitle"`
	TranslatedSubtitle string `json:"translated_subtitle,omitempty"`
}

// ToJSON serializes the transcript in the asr.json artifact format.
func (d *Data) ToJSON() ([]byte, error) {
	out := make(map[string]segmentJSON, len(d.Segments))
	for i, seg := range d.Segments {
		out[strconv.Itoa(i+1)] = segmentJSON{
			StartTime:        seg.StartMS,
			EndTime:          seg.EndMS,
			OriginalSubtitle: seg.Text,
			TranslatedSubtitle: seg.Translated,
		}
	}
	return json.MarshalIndent(out, "", "  ")
}

// FromJSON parses the asr.json artifact format back into a transcript.
func FromJSON(data []byte) (*Data, error) {
	var raw map[string]segmentJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse transcript JSON: %w", err)
	}

	segments := make([]Segment, 0, len(raw))
	for _, rec := range raw {
		segments = append(segments, Segment{
			StartMS:    rec.StartTime,
			EndMS:      rec.EndTime,
			Text:       rec.OriginalSubtitle,
			Translated: rec.TranslatedSubtitle,
		})
	}
	return NewData(segments), nil
}
