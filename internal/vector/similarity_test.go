package vector

import (
	"math"
	"testing"
)

func TestL2Distance(t *testing.T) {
	d, err := L2Distance([]float32{0, 0}, []float32{3, 4})
	if err != nil {
		t.Fatal(err)
	}
	if d != 5 {
		t.Errorf("L2Distance = %v, want 5", d)
	}
	if _, err := L2Distance([]float32{1}, []float32{1, 2}); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestScore_RangeAndMonotonic(t *testing.T) {
	distances := []float64{0, 0.001, 0.5, 1, 2, 10, 1e6}
	prev := math.Inf(1)
	for _, d := range distances {
		s := Score(d)
		if s <= 0 || s > 1 {
			t.Errorf("Score(%v) = %v, want in (0, 1]", d, s)
		}
		if s >= prev {
			t.Errorf("Score(%v) = %v, not less than previous %v", d, s, prev)
		}
		prev = s
	}
	if Score(0) != 1 {
		t.Errorf("Score(0) = %v, want 1", Score(0))
	}
}

func TestScore_NegativeDistanceClamped(t *testing.T) {
	if Score(-3) != 1 {
		t.Errorf("Score(-3) = %v, want 1", Score(-3))
	}
}

func TestScore_NaNRanksLast(t *testing.T) {
	if got := Score(math.NaN()); got != 0 {
		t.Errorf("Score(NaN) = %v, want 0", got)
	}
	if Score(math.NaN()) >= Score(1e6) {
		t.Error("NaN distance must score below any real distance")
	}
}

func TestIsFinite(t *testing.T) {
	if !IsFinite([]float32{1, -2, 0}) {
		t.Error("expected finite")
	}
	if IsFinite([]float32{1, float32(math.NaN())}) {
		t.Error("NaN should not be finite")
	}
	if IsFinite([]float32{float32(math.Inf(1))}) {
		t.Error("Inf should not be finite")
	}
}
