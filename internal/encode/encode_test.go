package encode

import "testing"

func TestParseTier(t *testing.T) {
	for _, s := range []string{"draft", "preview", "final"} {
		if _, err := ParseTier(s); err != nil {
			t.Errorf("ParseTier(%q) error: %v", s, err)
		}
	}

	if _, err := ParseTier("best"); err == nil {
		t.Error("expected error for unknown tier")
	}
}

// The tier -> encoder parameter mapping is a fixed table; a silent change
// here changes output quality for every user.
func TestTierTable(t *testing.T) {
	tests := []struct {
		tier   Tier
		crf    int
		preset string
	}{
		{TierDraft, 32, "ultrafast"},
		{TierPreview, 23, "veryfast"},
		{TierFinal, 18, "slow"},
	}

	for _, tt := range tests {
		p, ok := tierParams[tt.tier]
		if !ok {
			t.Fatalf("tier %q missing from table", tt.tier)
		}
		if p.CRF != tt.crf || p.Preset != tt.preset {
			t.Errorf("tier %q = (%d, %s), want (%d, %s)", tt.tier, p.CRF, p.Preset, tt.crf, tt.preset)
		}
	}
}

func TestNormalizerFirstSampleIsZero(t *testing.T) {
	var n timestampNormalizer

	// Clip starting deep into the source: first sample still lands at 0.
	got, err := n.push(137.25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0 {
		t.Errorf("first normalized time = %v, want 0", got)
	}

	got, err = n.push(137.50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := got - 0.25; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("second normalized time = %v, want 0.25", got)
	}
}

func TestNormalizerRejectsBackwardTime(t *testing.T) {
	var n timestampNormalizer

	if _, err := n.push(5.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := n.push(5.1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := n.push(5.05); err == nil {
		t.Error("expected error for backward presentation time")
	}
}

func TestNormalizerAllowsEqualTimes(t *testing.T) {
	var n timestampNormalizer

	if _, err := n.push(1.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := n.push(1.0); err != nil {
		t.Errorf("equal presentation times must be accepted: %v", err)
	}
}
