package media

import "testing"

func TestPlanChunks(t *testing.T) {
	tests := []struct {
		name       string
		duration   float64
		length     int
		overlap    int
		wantStarts []int
	}{
		{
			name:       "fits in one chunk",
			duration:   500,
			length:     600,
			overlap:    10,
			wantStarts: []int{0},
		},
		{
			name:       "two chunks",
			duration:   700,
			length:     600,
			overlap:    10,
			wantStarts: []int{0, 590},
		},
		{
			name:       "long recording",
			duration:   1800,
			length:     600,
			overlap:    10,
			wantStarts: []int{0, 590, 1180, 1770},
		},
		{
			name:       "overlap larger than chunk is ignored",
			duration:   100,
			length:     30,
			overlap:    40,
			wantStarts: []int{0, 30, 60, 90},
		},
		{
			name:       "zero duration",
			duration:   0,
			length:     600,
			overlap:    10,
			wantStarts: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spans := planChunks(tt.duration, tt.length, tt.overlap)
			if len(spans) != len(tt.wantStarts) {
				t.Fatalf("got %d spans, want %d", len(spans), len(tt.wantStarts))
			}
			for i, want := range tt.wantStarts {
				if spans[i].startSec != want {
					t.Errorf("span[%d].startSec = %d, want %d", i, spans[i].startSec, want)
				}
				if spans[i].lengthSec != tt.length {
					t.Errorf("span[%d].lengthSec = %d, want %d", i, spans[i].lengthSec, tt.length)
				}
			}
		})
	}
}

func TestMeanVolumeRegex(t *testing.T) {
	stderr := `[Parsed_volumedetect_0 @ 0x55] n_samples: 4800000
[Parsed_volumedetect_0 @ 0x55] mean_volume: -23.5 dB
[Parsed_volumedetect_0 @ 0x55] max_volume: -3.0 dB`

	match := meanVolumeRe.FindStringSubmatch(stderr)
	if match == nil {
		t.Fatal("mean_volume line not matched")
	}
	if match[1] != "-23.5" {
		t.Errorf("captured %q, want -23.5", match[1])
	}
}

func TestTail(t *testing.T) {
	if got := tail("short", 10); got != "short" {
		t.Errorf("tail(short) = %q", got)
	}
	if got := tail("abcdefghij", 4); got != "ghij" {
		t.Errorf("tail = %q, want ghij", got)
	}
}
