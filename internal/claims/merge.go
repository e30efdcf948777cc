package claims

import "vibe-backend/internal/records"

// Merge folds an anonymous source into an existing target. Counters are
// summed, work days keep the larger value, each score is taken from the source
// only when the source has activity and that score is non-zero, and optional
// fields are taken from the source only when it has a value.
func Merge(target, source records.Record) records.Record {
	out := target
	out.Kind = records.KindGitHub
	out.ClaimToken = nil
	out.TotalMessages = target.TotalMessages + source.TotalMessages
	out.TotalChars = target.TotalChars + source.TotalChars
	if source.WorkDays > out.WorkDays {
		out.WorkDays = source.WorkDays
	}

	if source.HasActivity() {
		out.Scores = overlayScores(target.Scores, source.Scores)
	}

	if source.DisplayName != nil {
		out.DisplayName = source.DisplayName
	}
	if source.Tallies != nil {
		out.Tallies = source.Tallies
	}
	if source.PersonalityType != nil {
		out.PersonalityType = source.PersonalityType
	}
	if source.CountryCode != nil {
		out.CountryCode = source.CountryCode
	}
	if source.Latitude != nil {
		out.Latitude = source.Latitude
	}
	if source.Longitude != nil {
		out.Longitude = source.Longitude
	}
	return out
}

func overlayScores(dst, src records.Scores) records.Scores {
	pick := func(d, s float64) float64 {
		if s != 0 {
			return s
		}
		return d
	}
	return records.Scores{
		L: pick(dst.L, src.L),
		P: pick(dst.P, src.P),
		D: pick(dst.D, src.D),
		E: pick(dst.E, src.E),
		F: pick(dst.F, src.F),
	}
}
