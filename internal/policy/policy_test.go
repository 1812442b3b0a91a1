package policy

import (
	"testing"

	"image-optimizer/internal/imagetypes"
)

func TestEvaluate(t *testing.T) {
	t.Parallel()

	cfg := Config{MinSavingsPct: 20, MinSourceSizeBytes: 51200}

	tests := []struct {
		name         string
		originalSize int64
		candidates   map[imagetypes.Format]int64
		wantRetain   map[imagetypes.Format]bool
		wantReason   string
	}{
		{
			name:         "one candidate meets threshold",
			originalSize: 500000,
			candidates: map[imagetypes.Format]int64{
				imagetypes.FormatAVIF: 300000, // 40% savings
				imagetypes.FormatWebP: 460000, // 8% savings
			},
			wantRetain: map[imagetypes.Format]bool{imagetypes.FormatAVIF: true},
		},
		{
			name:         "both candidates retained",
			originalSize: 1000000,
			candidates: map[imagetypes.Format]int64{
				imagetypes.FormatAVIF: 200000,
				imagetypes.FormatWebP: 400000,
			},
			wantRetain: map[imagetypes.Format]bool{
				imagetypes.FormatAVIF: true,
				imagetypes.FormatWebP: true,
			},
		},
		{
			name:         "nothing meets threshold",
			originalSize: 100000,
			candidates: map[imagetypes.Format]int64{
				imagetypes.FormatAVIF: 95000,
				imagetypes.FormatWebP: 99000,
			},
			wantReason: ReasonInsufficientSavings,
		},
		{
			name:         "below size floor rejects everything",
			originalSize: 40000,
			candidates: map[imagetypes.Format]int64{
				imagetypes.FormatAVIF: 1000, // would be 97.5% savings
			},
			wantReason: ReasonBelowSizeFloor,
		},
		{
			name:         "exactly at threshold is retained",
			originalSize: 100000,
			candidates: map[imagetypes.Format]int64{
				imagetypes.FormatWebP: 80000, // exactly 20%
			},
			wantRetain: map[imagetypes.Format]bool{imagetypes.FormatWebP: true},
		},
		{
			name:         "no candidates",
			originalSize: 500000,
			candidates:   map[imagetypes.Format]int64{},
			wantReason:   ReasonInsufficientSavings,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := Evaluate(tt.originalSize, tt.candidates, cfg)

			if tt.wantReason != "" {
				if len(d.Retain) != 0 {
					t.Errorf("expected nothing retained, got %v", d.Retain)
				}
				if d.Reason != tt.wantReason {
					t.Errorf("Reason = %q, want %q", d.Reason, tt.wantReason)
				}
				return
			}

			if d.Reason != "" {
				t.Errorf("unexpected reason %q", d.Reason)
			}
			if len(d.Retain) != len(tt.wantRetain) {
				t.Fatalf("retained %v, want %v", d.Retain, tt.wantRetain)
			}
			for _, f := range d.Retain {
				if !tt.wantRetain[f] {
					t.Errorf("unexpectedly retained %v", f)
				}
			}
		})
	}
}

func TestEvaluateZeroThresholdRequiresStrictShrink(t *testing.T) {
	t.Parallel()

	cfg := Config{MinSavingsPct: 0}

	d := Evaluate(100000, map[imagetypes.Format]int64{
		imagetypes.FormatWebP: 100000, // equal size, 0% savings
		imagetypes.FormatAVIF: 110000, // larger than the original
	}, cfg)
	if len(d.Retain) != 0 {
		t.Errorf("retained %v for candidates no smaller than the original", d.Retain)
	}
	if d.Reason != ReasonInsufficientSavings {
		t.Errorf("Reason = %q, want %q", d.Reason, ReasonInsufficientSavings)
	}

	d = Evaluate(100000, map[imagetypes.Format]int64{
		imagetypes.FormatWebP: 99999,
	}, cfg)
	if len(d.Retain) != 1 || d.Retain[0] != imagetypes.FormatWebP {
		t.Errorf("retained %v, want a strictly smaller candidate kept at zero threshold", d.Retain)
	}
}

func TestShouldAttempt(t *testing.T) {
	t.Parallel()

	cfg := Config{MinSourceSizeBytes: 51200}

	if ShouldAttempt(40000, cfg) {
		t.Error("40000 bytes should not be attempted with a 51200 floor")
	}
	if !ShouldAttempt(51200, cfg) {
		t.Error("a source exactly at the floor should be attempted")
	}
	if !ShouldAttempt(1<<20, cfg) {
		t.Error("a large source should be attempted")
	}
}

func TestSavingsPct(t *testing.T) {
	t.Parallel()

	tests := []struct {
		original, candidate int64
		want                float64
	}{
		{500000, 300000, 40},
		{500000, 460000, 8},
		{100, 100, 0},
		{100, 150, -50},
		{0, 10, 0},
	}

	for _, tt := range tests {
		if got := SavingsPct(tt.original, tt.candidate); got != tt.want {
			t.Errorf("SavingsPct(%d, %d) = %v, want %v", tt.original, tt.candidate, got, tt.want)
		}
	}
}

func TestBest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		candidates map[imagetypes.Format]int64
		wantFormat imagetypes.Format
		wantSize   int64
		wantOK     bool
	}{
		{
			name: "smallest wins regardless of format",
			candidates: map[imagetypes.Format]int64{
				imagetypes.FormatAVIF: 300000,
				imagetypes.FormatWebP: 250000,
			},
			wantFormat: imagetypes.FormatWebP,
			wantSize:   250000,
			wantOK:     true,
		},
		{
			name: "tie broken by priority",
			candidates: map[imagetypes.Format]int64{
				imagetypes.FormatWebP: 300000,
				imagetypes.FormatAVIF: 300000,
			},
			wantFormat: imagetypes.FormatAVIF,
			wantSize:   300000,
			wantOK:     true,
		},
		{
			name: "re-encoded original loses ties to modern formats",
			candidates: map[imagetypes.Format]int64{
				imagetypes.FormatJPEG: 300000,
				imagetypes.FormatWebP: 300000,
			},
			wantFormat: imagetypes.FormatWebP,
			wantSize:   300000,
			wantOK:     true,
		},
		{
			name:       "empty set",
			candidates: map[imagetypes.Format]int64{},
			wantOK:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			format, size, ok := Best(tt.candidates)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if format != tt.wantFormat || size != tt.wantSize {
				t.Errorf("Best() = (%v, %d), want (%v, %d)", format, size, tt.wantFormat, tt.wantSize)
			}
		})
	}
}
