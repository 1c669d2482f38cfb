package historical

import "testing"

func TestEstimate_WithinFirstMilestone(t *testing.T) {
	got := estimate(500_000)
	want := uint64(500_000 * 2)
	if got != want {
		t.Fatalf("estimate(500000) = %d, want %d", got, want)
	}
}

func TestEstimate_SpansMultipleMilestones(t *testing.T) {
	got := estimate(5_000_000)
	want := uint64(1_000_000*2 + 3_000_000*15 + 1_000_000*60)
	if got != want {
		t.Fatalf("estimate(5000000) = %d, want %d", got, want)
	}
}

func TestEstimate_BeyondFinalMilestoneUsesLastRate(t *testing.T) {
	got := estimate(20_000_000)
	if got == 0 {
		t.Fatal("estimate should be positive for a block beyond the final milestone")
	}
}

func TestEstimate_Zero(t *testing.T) {
	if got := estimate(0); got != 0 {
		t.Fatalf("estimate(0) = %d, want 0", got)
	}
}
