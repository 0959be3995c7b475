package chart

import "math"

// ══════════════════════════════════════════════════════════════════════════════
// SCORING ENGINE
// ══════════════════════════════════════════════════════════════════════════════
//
// The scoring engine is deliberately a set of pure functions: no clock, no
// I/O, no randomness. Group score for an entry = sum of member contributions.

// Score returns one member's contribution for one entry under the given mode.
//
// rankInOwnTop is the entry's 1-based rank inside the member's own weekly
// list. playcount is the member's raw playcount for the entry.
//
// Under plays_only the contribution is the raw playcount. Under vs the
// contribution depends only on the member's own ranking, so members with very
// different listening volumes are comparable: the member's #1 entry always
// contributes exactly 1.0 and contributions decay monotonically with rank.
// Under vs_weighted the vibe score is multiplied by the playcount.
func Score(mode Mode, rankInOwnTop, playcount int) float64 {
	switch mode {
	case ModeVibeScore:
		return vibeScore(rankInOwnTop)
	case ModeVibeScoreWeighted:
		return Round2(vibeScore(rankInOwnTop) * float64(playcount))
	default:
		return float64(playcount)
	}
}

// vibeScore maps a member's own rank to a volume-normalized contribution.
// The curve is 1/sqrt(rank): anchored at 1.0 for rank 1, strictly decreasing,
// and bounded to (0, 1]. Rounded to 2 decimals for display and summation.
func vibeScore(rankInOwnTop int) float64 {
	if rankInOwnTop <= 1 {
		return 1.0
	}
	return Round2(1.0 / math.Sqrt(float64(rankInOwnTop)))
}

// Round2 rounds to 2 decimal places, the precision vibe scores are stored
// and summed at.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
