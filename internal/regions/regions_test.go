package regions

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"us", "US"},
		{"USA", "US"},
		{"United States", "US"},
		{" u.s.a. ", "US"},
		{"", Global},
		{"global", Global},
		{"World", Global},
		{"ALL", Global},
		{"---", Global},
		{"uk", "GB"},
		{"China", "CN"},
		{"jp", "JP"},
		{"nz", "NZ"},
		{"x-y_z 9", "XYZ9"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	for _, in := range []string{"usa", "Great Britain", "global", "br", "Côte d'Ivoire"} {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Fatalf("Normalize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestDetectSignature(t *testing.T) {
	cases := []struct {
		name string
		f    Frequency
		want bool
	}{
		{"over-represented", Frequency{RegionCount: 10, RegionTotal: 100, GlobalCount: 20, GlobalTotal: 1000}, true},
		{"below floor", Frequency{RegionCount: 2, RegionTotal: 10, GlobalCount: 2, GlobalTotal: 1000}, false},
		{"not over-represented", Frequency{RegionCount: 10, RegionTotal: 100, GlobalCount: 100, GlobalTotal: 1000}, false},
		{"no global baseline", Frequency{RegionCount: 10, RegionTotal: 100}, false},
		{"empty region", Frequency{RegionCount: 10, GlobalCount: 10, GlobalTotal: 100}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DetectSignature(tc.f).IsSignature; got != tc.want {
				t.Fatalf("DetectSignature(%+v) = %v, want %v", tc.f, got, tc.want)
			}
		})
	}
}

func TestDetectSignatureMultiplier(t *testing.T) {
	s := DetectSignature(Frequency{RegionCount: 5, RegionTotal: 50, GlobalCount: 30, GlobalTotal: 1000})
	if s.RegionRatio != 0.1 {
		t.Fatalf("region ratio %v", s.RegionRatio)
	}
	if s.GlobalRatio != 0.03 {
		t.Fatalf("global ratio %v", s.GlobalRatio)
	}
	if s.Multiplier < 3.33 || s.Multiplier > 3.34 {
		t.Fatalf("multiplier %v", s.Multiplier)
	}
	if !s.IsSignature {
		t.Fatalf("expected signature at the floor count")
	}
}

func TestDetectSignatureMonotonicInRegionCount(t *testing.T) {
	const regionTotal, globalCount, globalTotal = 200, 40, 2000
	prev := false
	for n := int64(0); n <= regionTotal; n++ {
		got := DetectSignature(Frequency{
			RegionCount: n,
			RegionTotal: regionTotal,
			GlobalCount: globalCount,
			GlobalTotal: globalTotal,
		}).IsSignature
		if prev && !got {
			t.Fatalf("signature flipped back to false at regionCount=%d", n)
		}
		prev = got
	}
	if !prev {
		t.Fatalf("expected a signature at high regional counts")
	}
}
