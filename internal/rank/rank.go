// Package rank estimates a user's percentile from the population average
// alone, without the underlying distribution.
package rank

import "math"

// Neutral is returned when there is no meaningful population to compare to.
const Neutral = 50

// Percentile maps userValue/globalAverage onto a saturating piecewise-linear
// curve. Bands: ratio < 0.5 -> 0-10, 0.5-0.8 -> 10-30, 0.8-1.0 -> 30-50,
// 1.0-1.2 -> 50-70, 1.2-1.5 -> 70-90, >= 1.5 -> 90-95.
func Percentile(userValue, globalAverage float64, totalUsers int64) int {
	if totalUsers <= 1 || globalAverage == 0 {
		return Neutral
	}
	r := userValue / globalAverage
	if math.IsNaN(r) {
		return Neutral
	}
	var p float64
	switch {
	case r >= 1.5:
		p = math.Min(95, 90+(r-1.5)*5)
	case r >= 1.2:
		p = math.Min(90, 70+(r-1.2)*(20/0.3))
	case r >= 1.0:
		p = math.Min(70, 50+(r-1.0)*100)
	case r >= 0.8:
		p = math.Max(30, 50-(1.0-r)*100)
	case r >= 0.5:
		p = math.Max(10, 30-(0.8-r)*(20/0.3))
	default:
		p = math.Max(0, 10-(0.5-r)*20)
	}
	return int(math.Round(p))
}

// Dimensions is the five scored dimensions of an analysis.
type Dimensions struct {
	L float64 `json:"L"`
	P float64 `json:"P"`
	D float64 `json:"D"`
	E float64 `json:"E"`
	F float64 `json:"F"`
}

// DimensionRanks holds a percentile per dimension plus their mean.
type DimensionRanks struct {
	L       int `json:"L"`
	P       int `json:"P"`
	D       int `json:"D"`
	E       int `json:"E"`
	F       int `json:"F"`
	Overall int `json:"overall"`
}

// ForDimensions ranks every dimension against its population average.
func ForDimensions(user, avg Dimensions, totalUsers int64) DimensionRanks {
	out := DimensionRanks{
		L: Percentile(user.L, avg.L, totalUsers),
		P: Percentile(user.P, avg.P, totalUsers),
		D: Percentile(user.D, avg.D, totalUsers),
		E: Percentile(user.E, avg.E, totalUsers),
		F: Percentile(user.F, avg.F, totalUsers),
	}
	out.Overall = (out.L + out.P + out.D + out.E + out.F) / 5
	return out
}
