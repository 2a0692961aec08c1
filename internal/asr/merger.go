package asr

import (
	"fmt"
	"log/slog"
)

// ChunkMerger stitches overlapping chunked recognition results back into one
// transcript. A sliding window over the overlap region finds the alignment
// with the most text matches, then the sequences are cut at the overlap
// midpoint. Word-level transcripts use exact text matching; sentence-level
// transcripts use similarity above FuzzyThreshold.
type ChunkMerger struct {
	MinMatchCount  int
	FuzzyThreshold float64

	logger *slog.Logger
}

// NewChunkMerger creates a merger with the standard thresholds: at least two
// matches, 0.7 similarity for sentence-level text.
func NewChunkMerger(logger *slog.Logger) *ChunkMerger {
	return &ChunkMerger{
		MinMatchCount:  2,
		FuzzyThreshold: 0.7,
		logger:         logger,
	}
}

// MergeChunks merges chunked transcripts. offsets holds each chunk's
// absolute start in milliseconds; nil infers offsets from chunk durations
// and the overlap length.
func (m *ChunkMerger) MergeChunks(chunks []*Data, offsets []int64, overlapMS int64) (*Data, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no chunks to merge")
	}
	if len(chunks) == 1 {
		return chunks[0], nil
	}

	wordLevel := false
	for _, chunk := range chunks {
		if chunk.IsWordTimestamp() {
			wordLevel = true
			break
		}
	}

	if offsets == nil {
		offsets = inferOffsets(chunks, overlapMS)
	}
	if len(offsets) != len(chunks) {
		return nil, fmt.Errorf("offset count %d does not match chunk count %d", len(offsets), len(chunks))
	}

	adjusted := make([][]Segment, len(chunks))
	for i, chunk := range chunks {
		adjusted[i] = shiftSegments(chunk.Segments, offsets[i])
	}

	merged := adjusted[0]
	for i := 1; i < len(adjusted); i++ {
		merged = m.mergeTwo(merged, adjusted[i], overlapMS, wordLevel)
	}

	m.logger.Debug("chunk merge complete",
		slog.Int("chunks", len(chunks)),
		slog.Int("segments", len(merged)),
		slog.Bool("word_level", wordLevel),
	)

	return NewData(merged), nil
}

func (m *ChunkMerger) mergeTwo(left, right []Segment, overlapMS int64, wordLevel bool) []Segment {
	if len(left) == 0 {
		return right
	}
	if len(right) == 0 {
		return left
	}

	leftOverlap := overlapFromEnd(left, overlapMS)
	rightOverlap := overlapFromStart(right, overlapMS)

	if len(leftOverlap) == 0 || len(rightOverlap) == 0 {
		return append(append([]Segment{}, left...), right...)
	}

	match := m.findBestAlignment(leftOverlap, rightOverlap, wordLevel)
	if match == nil {
		// no textual alignment: cut at the first left boundary after the
		// right chunk's start
		splitIdx := len(left)
		rightStart := right[0].StartMS
		for i := len(left) - 1; i >= 0; i-- {
			if left[i].EndMS <= rightStart {
				splitIdx = i + 1
				break
			}
		}
		return append(append([]Segment{}, left[:splitIdx]...), right...)
	}

	leftMid := (match.leftStart + match.leftEnd) / 2
	rightMid := (match.rightStart + match.rightEnd) / 2

	leftCut := len(left) - len(leftOverlap) + leftMid
	return append(append([]Segment{}, left[:leftCut]...), right[rightMid:]...)
}

type alignment struct {
	leftStart, leftEnd   int
	rightStart, rightEnd int
	matches              int
}

// findBestAlignment slides the two overlap windows across each other and
// scores every alignment by normalized match count, preferring longer
// windows via a small epsilon.
func (m *ChunkMerger) findBestAlignment(left, right []Segment, wordLevel bool) *alignment {
	leftLen := len(left)
	rightLen := len(right)

	var best *alignment
	bestScore := 0.0

	for i := 1; i <= leftLen+rightLen; i++ {
		epsilon := float64(i) / 10000.0

		leftStart := max(0, leftLen-i)
		leftEnd := min(leftLen, leftLen+rightLen-i)
		rightStart := max(0, i-leftLen)
		rightEnd := min(rightLen, i)

		matches := 0
		for j := 0; j < leftEnd-leftStart; j++ {
			l := left[leftStart+j].Text
			r := right[rightStart+j].Text
			if wordLevel {
				if l == r {
					matches++
				}
			} else if similarity(l, r) > m.FuzzyThreshold {
				matches++
			}
		}

		score := float64(matches)/float64(i) + epsilon
		if matches >= m.MinMatchCount && score > bestScore {
			bestScore = score
			best = &alignment{
				leftStart: leftStart, leftEnd: leftEnd,
				rightStart: rightStart, rightEnd: rightEnd,
				matches: matches,
			}
		}
	}

	return best
}

// similarity is a longest-common-subsequence ratio over runes, in [0, 1].
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				curr[j] = prev[j-1] + 1
			} else {
				curr[j] = max(prev[j], curr[j-1])
			}
		}
		prev, curr = curr, prev
	}
	lcs := prev[len(rb)]
	return 2 * float64(lcs) / float64(len(ra)+len(rb))
}

func shiftSegments(segments []Segment, offset int64) []Segment {
	out := make([]Segment, len(segments))
	for i, seg := range segments {
		out[i] = Segment{
			StartMS:    seg.StartMS + offset,
			EndMS:      seg.EndMS + offset,
			Text:       seg.Text,
			Translated: seg.Translated,
		}
	}
	return out
}

// overlapFromEnd returns the trailing segments within overlapMS of the last
// segment's end.
func overlapFromEnd(segments []Segment, overlapMS int64) []Segment {
	if len(segments) == 0 {
		return nil
	}
	threshold := segments[len(segments)-1].EndMS - overlapMS
	start := len(segments)
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i].StartMS >= threshold {
			start = i
		} else {
			break
		}
	}
	return segments[start:]
}

// overlapFromStart returns the leading segments within overlapMS of the
// first segment's start.
func overlapFromStart(segments []Segment, overlapMS int64) []Segment {
	if len(segments) == 0 {
		return nil
	}
	threshold := segments[0].StartMS + overlapMS
	end := 0
	for _, seg := range segments {
		if seg.EndMS <= threshold {
			end++
		} else {
			break
		}
	}
	return segments[:end]
}

func inferOffsets(chunks []*Data, overlapMS int64) []int64 {
	offsets := make([]int64, 1, len(chunks))
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		if prev.HasData() {
			next := offsets[i-1] + prev.DurationMS() - overlapMS
			if next < offsets[i-1] {
				next = offsets[i-1]
			}
			offsets = append(offsets, next)
		} else {
			offsets = append(offsets, offsets[i-1])
		}
	}
	return offsets
}
