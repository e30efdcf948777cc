// Package regions canonicalizes region labels and flags phrases that are
// disproportionately common in one region relative to the global baseline.
package regions

import (
	"strings"
	"unicode"
)

// Global is the sentinel region that aggregates every other region.
const Global = "Global"

const (
	// MinCount is the regional hit floor below which no phrase is a signature.
	MinCount = 5
	// Threshold is the regional over-representation multiplier for a signature.
	Threshold = 3.0
)

var globalAliases = map[string]struct{}{
	"":       {},
	"GLOBAL": {},
	"WORLD":  {},
	"ALL":    {},
}

// Keys are compacted: upper case with separators removed.
var countryAliases = map[string]string{
	"US": "US", "USA": "US", "UNITEDSTATES": "US", "UNITEDSTATESOFAMERICA": "US", "AMERICA": "US",
	"GB": "GB", "UK": "GB", "UNITEDKINGDOM": "GB", "GREATBRITAIN": "GB", "BRITAIN": "GB", "ENGLAND": "GB",
	"CN": "CN", "CHN": "CN", "CHINA": "CN", "PRC": "CN",
	"JP": "JP", "JPN": "JP", "JAPAN": "JP",
	"KR": "KR", "KOR": "KR", "KOREA": "KR", "SOUTHKOREA": "KR",
	"DE": "DE", "DEU": "DE", "GERMANY": "DE",
	"FR": "FR", "FRA": "FR", "FRANCE": "FR",
	"IN": "IN", "IND": "IN", "INDIA": "IN",
	"CA": "CA", "CAN": "CA", "CANADA": "CA",
	"AU": "AU", "AUS": "AU", "AUSTRALIA": "AU",
	"BR": "BR", "BRA": "BR", "BRAZIL": "BR",
	"RU": "RU", "RUS": "RU", "RUSSIA": "RU",
	"TW": "TW", "TWN": "TW", "TAIWAN": "TW",
	"HK": "HK", "HKG": "HK", "HONGKONG": "HK",
	"SG": "SG", "SGP": "SG", "SINGAPORE": "SG",
}

// Normalize maps a free-form region label to its canonical code. Unknown
// labels keep their alphanumeric characters, upper-cased.
func Normalize(raw string) string {
	upper := strings.ToUpper(strings.TrimSpace(raw))
	if _, ok := globalAliases[upper]; ok {
		return Global
	}
	compact := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, upper)
	if _, ok := globalAliases[compact]; ok {
		return Global
	}
	if code, ok := countryAliases[compact]; ok {
		return code
	}
	return compact
}

// IsGlobal reports whether region normalizes to the Global sentinel.
func IsGlobal(region string) bool {
	return Normalize(region) == Global
}

// Frequency holds one phrase's hit counts in a region and globally.
type Frequency struct {
	RegionCount int64
	RegionTotal int64
	GlobalCount int64
	GlobalTotal int64
}

// Signature is the verdict for one phrase in one region.
type Signature struct {
	RegionRatio float64 `json:"regionRatio"`
	GlobalRatio float64 `json:"globalRatio"`
	Multiplier  float64 `json:"multiplier"`
	IsSignature bool    `json:"isSignature"`
}

// DetectSignature compares a phrase's regional share to its global share.
// A zero denominator yields a zero ratio, and a zero global ratio yields a
// zero multiplier.
func DetectSignature(f Frequency) Signature {
	s := Signature{
		RegionRatio: ratio(f.RegionCount, f.RegionTotal),
		GlobalRatio: ratio(f.GlobalCount, f.GlobalTotal),
	}
	if s.GlobalRatio > 0 {
		s.Multiplier = s.RegionRatio / s.GlobalRatio
	}
	s.IsSignature = f.RegionCount >= MinCount && s.Multiplier >= Threshold
	return s
}

func ratio(n, total int64) float64 {
	if total <= 0 || n <= 0 {
		return 0
	}
	return float64(n) / float64(total)
}
