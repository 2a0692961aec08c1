package asr

import (
	"testing"
)

func TestNewData_FiltersAndSorts(t *testing.T) {
	d := NewData([]Segment{
		{StartMS: 2000, EndMS: 3000, Text: "second"},
		{StartMS: 0, EndMS: 1000, Text: "first"},
		{StartMS: 500, EndMS: 600, Text: "   "},
	})

	if len(d.Segments) != 2 {
		t.Fatalf("len = %d, want 2 (blank segment dropped)", len(d.Segments))
	}
	if d.Segments[0].Text != "first" || d.Segments[1].Text != "second" {
		t.Errorf("segments not sorted by start time: %+v", d.Segments)
	}
}

func TestData_DurationAndCovered(t *testing.T) {
	d := NewData([]Segment{
		{StartMS: 0, EndMS: 1000, Text: "a"},
		{StartMS: 2000, EndMS: 4000, Text: "b"},
	})

	if got := d.DurationMS(); got != 4000 {
		t.Errorf("DurationMS = %d, want 4000", got)
	}
	if got := d.CoveredMS(); got != 3000 {
		t.Errorf("CoveredMS = %d, want 3000", got)
	}
}

func TestData_Text(t *testing.T) {
	d := NewData([]Segment{
		{StartMS: 0, EndMS: 1, Text: "第一句"},
		{StartMS: 2, EndMS: 3, Text: "第二句"},
	})
	if got := d.Text(); got != "第一句\n第二句" {
		t.Errorf("Text = %q", got)
	}
}

func TestData_TokenCount(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"english words", "hello world again", 3},
		{"cjk characters", "你好世界", 4},
		{"mixed", "hello 世界", 3},
		{"punctuation split", "one,two", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewData([]Segment{{StartMS: 0, EndMS: 1, Text: tt.text}})
			if got := d.TokenCount(); got != tt.want {
				t.Errorf("TokenCount(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestData_IsWordTimestamp(t *testing.T) {
	wordLevel := NewData([]Segment{
		{StartMS: 0, EndMS: 1, Text: "hello"},
		{StartMS: 1, EndMS: 2, Text: "world"},
		{StartMS: 2, EndMS: 3, Text: "again"},
		{StartMS: 3, EndMS: 4, Text: "friends"},
		{StartMS: 4, EndMS: 5, Text: "today"},
	})
	if !wordLevel.IsWordTimestamp() {
		t.Error("single-word segments should count as word-level")
	}

	sentenceLevel := NewData([]Segment{
		{StartMS: 0, EndMS: 1, Text: "hello world again"},
		{StartMS: 1, EndMS: 2, Text: "more than one word"},
	})
	if sentenceLevel.IsWordTimestamp() {
		t.Error("multi-word segments should not count as word-level")
	}

	cjkWordLevel := NewData([]Segment{
		{StartMS: 0, EndMS: 1, Text: "你好"},
		{StartMS: 1, EndMS: 2, Text: "世"},
		{StartMS: 2, EndMS: 3, Text: "界"},
	})
	if !cjkWordLevel.IsWordTimestamp() {
		t.Error("1-2 character CJK segments should count as word-level")
	}

	empty := NewData(nil)
	if empty.IsWordTimestamp() {
		t.Error("empty transcript is not word-level")
	}
}

func TestData_JSONRoundTrip(t *testing.T) {
	d := NewData([]Segment{
		{StartMS: 0, EndMS: 1500, Text: "第一句", Translated: "first"},
		{StartMS: 1500, EndMS: 3000, Text: "第二句"},
	})

	raw, err := d.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}

	got, err := FromJSON(raw)
	if err != nil {
		t.Fatalf("FromJSON failed: %v", err)
	}

	if len(got.Segments) != 2 {
		t.Fatalf("len = %d, want 2", len(got.Segments))
	}
	if got.Segments[0].Text != "第一句" || got.Segments[0].Translated != "first" {
		t.Errorf("first segment = %+v", got.Segments[0])
	}
	if got.Segments[1].StartMS != 1500 || got.Segments[1].EndMS != 3000 {
		t.Errorf("second segment timing = %+v", got.Segments[1])
	}
}
