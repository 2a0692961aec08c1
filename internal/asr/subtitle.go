package asr

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// srtTime matches "HH:MM:SS,mmm" and vttTime matches "HH:MM:SS.mmm" with an
// optional hour field.
var (
	srtTimeLine = regexp.MustCompile(`(\d{1,2}):(\d{2}):(\d{2})[,.](\d{1,3})\s*-->\s*(\d{1,2}):(\d{2}):(\d{2})[,.](\d{1,3})`)
	vttTimeLine = regexp.MustCompile(`(?:(\d{1,2}):)?(\d{2}):(\d{2})\.(\d{1,3})\s*-->\s*(?:(\d{1,2}):)?(\d{2}):(\d{2})\.(\d{1,3})`)
	inlineTags  = regexp.MustCompile(`<[^>]*>`)
)

// ParseSubtitle dispatches on content shape: a WEBVTT header selects the
// VTT parser, otherwise SRT is assumed.
func ParseSubtitle(content string) (*Data, error) {
	trimmed := strings.TrimLeft(content, "\ufeff \t\r\n")
	if strings.HasPrefix(trimmed, "WEBVTT") {
		return ParseVTT(content)
	}
	return ParseSRT(content)
}

// ParseSRT parses SubRip text into a transcript.
func ParseSRT(content string) (*Data, error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	blocks := strings.Split(content, "\n\n")

	var segments []Segment
	for _, block := range blocks {
		lines := nonEmptyLines(block)
		if len(lines) == 0 {
			continue
		}

		// optional numeric index line
		idx := 0
		if _, err := strconv.Atoi(strings.TrimSpace(lines[0])); err == nil {
			idx = 1
		}
		if idx >= len(lines) {
			continue
		}

		m := srtTimeLine.FindStringSubmatch(lines[idx])
		if m == nil {
			continue
		}
		start := srtMS(m[1], m[2], m[3], m[4])
		end := srtMS(m[5], m[6], m[7], m[8])

		text := strings.TrimSpace(strings.Join(lines[idx+1:], "\n"))
		if text == "" {
			continue
		}
		segments = append(segments, Segment{StartMS: start, EndMS: end, Text: text})
	}

	if len(segments) == 0 {
		return nil, fmt.Errorf("no subtitle cues found")
	}
	return NewData(segments), nil
}

// ParseVTT parses WebVTT text into a transcript. Inline styling tags are
// stripped and consecutive duplicate cue texts (rolling captions) are
// collapsed.
func ParseVTT(content string) (*Data, error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(content, "\n")

	var segments []Segment
	i := 0
	for i < len(lines) {
		line := strings.TrimSpace(lines[i])

		// skip header and metadata blocks
		if line == "" || strings.HasPrefix(line, "WEBVTT") ||
			strings.HasPrefix(line, "NOTE") || strings.HasPrefix(line, "STYLE") ||
			strings.HasPrefix(line, "REGION") || strings.HasPrefix(line, "Kind:") ||
			strings.HasPrefix(line, "Language:") {
			i++
			continue
		}

		m := vttTimeLine.FindStringSubmatch(line)
		if m == nil {
			// cue identifier or stray text
			i++
			continue
		}
		start := vttMS(m[1], m[2], m[3], m[4])
		end := vttMS(m[5], m[6], m[7], m[8])

		var textLines []string
		i++
		for i < len(lines) && strings.TrimSpace(lines[i]) != "" {
			textLines = append(textLines, strings.TrimSpace(lines[i]))
			i++
		}

		text := strings.TrimSpace(inlineTags.ReplaceAllString(strings.Join(textLines, "\n"), ""))
		if text == "" {
			continue
		}

		// rolling captions repeat the previous cue's text
		if n := len(segments); n > 0 && segments[n-1].Text == text {
			segments[n-1].EndMS = end
			continue
		}
		segments = append(segments, Segment{StartMS: start, EndMS: end, Text: text})
	}

	if len(segments) == 0 {
		return nil, fmt.Errorf("no subtitle cues found")
	}
	return NewData(segments), nil
}

func nonEmptyLines(block string) []string {
	var out []string
	for _, line := range strings.Split(block, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

func srtMS(h, m, s, ms string) int64 {
	return clockMS(h, m, s, ms)
}

func vttMS(h, m, s, ms string) int64 {
	if h == "" {
		h = "0"
	}
	return clockMS(h, m, s, ms)
}

func clockMS(h, m, s, ms string) int64 {
	hi, _ := strconv.ParseInt(h, 10, 64)
	mi, _ := strconv.ParseInt(m, 10, 64)
	si, _ := strconv.ParseInt(s, 10, 64)
	msi, _ := strconv.ParseInt(ms, 10, 64)
	// two-digit fraction means centiseconds
	switch len(ms) {
	case 1:
		msi *= 100
	case 2:
		msi *= 10
	}
	return ((hi*60+mi)*60+si)*1000 + msi
}
