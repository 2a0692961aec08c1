package asr

import (
	"io"
	"log/slog"
	"testing"
)

func testMerger() *ChunkMerger {
	return NewChunkMerger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// words builds a word-level chunk: one word per second starting at startMS.
func words(startMS int64, texts ...string) *Data {
	segments := make([]Segment, len(texts))
	for i, text := range texts {
		segments[i] = Segment{
			StartMS: startMS + int64(i)*1000,
			EndMS:   startMS + int64(i+1)*1000,
			Text:    text,
		}
	}
	return NewData(segments)
}

func transcriptTexts(d *Data) []string {
	out := make([]string, len(d.Segments))
	for i, seg := range d.Segments {
		out[i] = seg.Text
	}
	return out
}

func TestChunkMerger_SingleChunk(t *testing.T) {
	chunk := words(0, "only", "one", "chunk")
	got, err := testMerger().MergeChunks([]*Data{chunk}, nil, 10000)
	if err != nil {
		t.Fatalf("MergeChunks failed: %v", err)
	}
	if len(got.Segments) != 3 {
		t.Errorf("len = %d, want 3", len(got.Segments))
	}
}

func TestChunkMerger_Empty(t *testing.T) {
	if _, err := testMerger().MergeChunks(nil, nil, 10000); err == nil {
		t.Error("expected error for empty chunk list")
	}
}

func TestChunkMerger_WordLevelOverlap(t *testing.T) {
	// chunk 1 covers 0..10s, chunk 2 covers 6..16s with a 4s overlap
	// sharing the words "four five six seven".
	left := words(0, "one", "two", "three", "four", "five", "six", "seven")
	right := words(6000, "four", "five", "six", "seven", "eight", "nine", "ten")

	got, err := testMerger().MergeChunks([]*Data{left, right}, []int64{0, 2000}, 4000)
	if err != nil {
		t.Fatalf("MergeChunks failed: %v", err)
	}

	texts := transcriptTexts(got)

	// no word may repeat after the merge
	seen := map[string]int{}
	for _, text := range texts {
		seen[text]++
	}
	for word, n := range seen {
		if n > 1 {
			t.Errorf("word %q appears %d times after merge", word, n)
		}
	}

	// merged transcript must span both chunks
	if texts[0] != "one" {
		t.Errorf("first word = %q, want one", texts[0])
	}
	if texts[len(texts)-1] != "ten" {
		t.Errorf("last word = %q, want ten", texts[len(texts)-1])
	}
}

func TestChunkMerger_SentenceLevelFuzzy(t *testing.T) {
	// sentence chunks with slightly different recognitions of the shared
	// overlap; fuzzy matching above 0.7 must still align them
	left := NewData([]Segment{
		{StartMS: 0, EndMS: 4000, Text: "the meeting started on time today"},
		{StartMS: 4000, EndMS: 8000, Text: "we discussed the quarterly budget numbers"},
		{StartMS: 8000, EndMS: 12000, Text: "then reviewed the hiring plan for spring"},
	})
	right := NewData([]Segment{
		{StartMS: 0, EndMS: 4000, Text: "we discussed the quarterly budget number"},
		{StartMS: 4000, EndMS: 8000, Text: "then reviewed the hiring plan for spring"},
		{StartMS: 8000, EndMS: 12000, Text: "and closed with action items"},
	})

	got, err := testMerger().MergeChunks([]*Data{left, right}, []int64{0, 4000}, 8000)
	if err != nil {
		t.Fatalf("MergeChunks failed: %v", err)
	}

	texts := transcriptTexts(got)
	if texts[0] != "the meeting started on time today" {
		t.Errorf("first sentence = %q", texts[0])
	}
	if texts[len(texts)-1] != "and closed with action items" {
		t.Errorf("last sentence = %q", texts[len(texts)-1])
	}
	// the near-duplicate overlap sentences must not both survive twice
	budget := 0
	for _, text := range texts {
		if similarity(text, "we discussed the quarterly budget numbers") > 0.9 {
			budget++
		}
	}
	if budget != 1 {
		t.Errorf("overlap sentence appears %d times, want 1", budget)
	}
}

func TestChunkMerger_NoMatchFallsBackToBoundary(t *testing.T) {
	// overlapping in time but textually unrelated: cut at the first left
	// boundary after the right chunk's start
	left := NewData([]Segment{
		{StartMS: 0, EndMS: 3000, Text: "completely different text one"},
		{StartMS: 3000, EndMS: 6000, Text: "completely different text two"},
		{StartMS: 6000, EndMS: 9000, Text: "completely different text three"},
	})
	right := NewData([]Segment{
		{StartMS: 0, EndMS: 3000, Text: "unrelated right hand side"},
		{StartMS: 3000, EndMS: 6000, Text: "more unrelated content"},
	})

	got, err := testMerger().MergeChunks([]*Data{left, right}, []int64{0, 5000}, 5000)
	if err != nil {
		t.Fatalf("MergeChunks failed: %v", err)
	}

	texts := transcriptTexts(got)
	// left segments ending after right's start (5000) are dropped
	for _, text := range texts {
		if text == "completely different text three" {
			t.Error("left segment past the boundary should be dropped")
		}
	}
	if texts[len(texts)-1] != "more unrelated content" {
		t.Errorf("last = %q", texts[len(texts)-1])
	}
}

func TestChunkMerger_NoOverlapConcatenates(t *testing.T) {
	left := words(0, "a", "b")
	right := words(0, "c", "d")

	// right offset far beyond left's end, zero overlap window
	got, err := testMerger().MergeChunks([]*Data{left, right}, []int64{0, 60000}, 0)
	if err != nil {
		t.Fatalf("MergeChunks failed: %v", err)
	}
	if len(got.Segments) != 4 {
		t.Errorf("len = %d, want 4", len(got.Segments))
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"identical", "identical", 1.0, 1.0},
		{"abc", "xyz", 0.0, 0.0},
		{"the quarterly budget numbers", "the quarterly budget number", 0.9, 1.0},
		{"你好世界", "你好地球", 0.4, 0.6},
	}

	for _, tt := range tests {
		got := similarity(tt.a, tt.b)
		if got < tt.min || got > tt.max {
			t.Errorf("similarity(%q, %q) = %.3f, want in [%.2f, %.2f]", tt.a, tt.b, got, tt.min, tt.max)
		}
	}
}

func TestInferOffsets(t *testing.T) {
	chunks := []*Data{
		words(0, "a", "b", "c"), // ends at 3000
		words(0, "d", "e"),      // ends at 2000
		words(0, "f"),
	}

	offsets := inferOffsets(chunks, 1000)
	want := []int64{0, 2000, 3000}
	for i := range want {
		if offsets[i] != want[i] {
			t.Errorf("offsets[%d] = %d, want %d", i, offsets[i], want[i])
		}
	}
}
