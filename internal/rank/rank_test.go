package rank

import "testing"

func TestPercentileNeutralCases(t *testing.T) {
	for _, v := range []float64{0, 1, 50, 1e9} {
		if got := Percentile(v, 37, 1); got != Neutral {
			t.Fatalf("Percentile(%v, 37, 1) = %d, want 50", v, got)
		}
		if got := Percentile(v, 0, 100); got != Neutral {
			t.Fatalf("Percentile(%v, 0, 100) = %d, want 50", v, got)
		}
	}
}

func TestPercentileAtAverageIsFifty(t *testing.T) {
	for _, avg := range []float64{0.1, 3, 42.5, 1000} {
		if got := Percentile(avg, avg, 100); got != 50 {
			t.Fatalf("Percentile(%v, %v, 100) = %d, want 50", avg, avg, got)
		}
	}
}

func TestPercentileBreakpoints(t *testing.T) {
	cases := []struct {
		ratio float64
		want  int
	}{
		{0, 0},
		{0.25, 5},
		{0.5, 10},
		{0.65, 20},
		{0.8, 30},
		{0.9, 40},
		{1.1, 60},
		{1.2, 70},
		{1.35, 80},
		{1.5, 90},
		{2.5, 95},
		{100, 95},
	}
	for _, tc := range cases {
		if got := Percentile(tc.ratio*40, 40, 1000); got != tc.want {
			t.Fatalf("ratio %v: got %d, want %d", tc.ratio, got, tc.want)
		}
	}
}

func TestPercentileMonotonic(t *testing.T) {
	prev := -1
	for i := 0; i <= 400; i++ {
		got := Percentile(float64(i)/100, 1, 10)
		if got < prev {
			t.Fatalf("percentile decreased at ratio %v: %d < %d", float64(i)/100, got, prev)
		}
		if got < 0 || got > 95 {
			t.Fatalf("percentile %d out of range", got)
		}
		prev = got
	}
}

func TestForDimensions(t *testing.T) {
	avg := Dimensions{L: 40, P: 40, D: 40, E: 40, F: 40}
	got := ForDimensions(Dimensions{L: 40, P: 60, D: 20, E: 40, F: 40}, avg, 10)
	if got.L != 50 || got.P != 90 || got.D != 10 {
		t.Fatalf("unexpected ranks %+v", got)
	}
	if got.Overall != (50+90+10+50+50)/5 {
		t.Fatalf("unexpected overall %d", got.Overall)
	}
}
