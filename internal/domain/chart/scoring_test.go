package chart

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore_PlaysOnly(t *testing.T) {
	assert.Equal(t, 42.0, Score(ModePlaysOnly, 1, 42))
	assert.Equal(t, 7.0, Score(ModePlaysOnly, 99, 7))
	assert.Equal(t, 0.0, Score(ModePlaysOnly, 1, 0))
}

func TestScore_VibeScore_AnchorAtOne(t *testing.T) {
	// The member's own #1 contributes exactly 1.0 no matter the volume.
	assert.Equal(t, 1.0, Score(ModeVibeScore, 1, 3))
	assert.Equal(t, 1.0, Score(ModeVibeScore, 1, 5000))
}

func TestScore_VibeScore_MonotonicDecay(t *testing.T) {
	prev := Score(ModeVibeScore, 1, 10)
	for rank := 2; rank <= 100; rank++ {
		s := Score(ModeVibeScore, rank, 10)
		assert.LessOrEqual(t, s, prev, "rank %d must not score above rank %d", rank, rank-1)
		assert.Greater(t, s, 0.0)
		prev = s
	}
}

func TestScore_VibeScore_IgnoresPlaycount(t *testing.T) {
	assert.Equal(t, Score(ModeVibeScore, 4, 1), Score(ModeVibeScore, 4, 1000))
}

func TestScore_VibeScore_TwoDecimals(t *testing.T) {
	s := Score(ModeVibeScore, 3, 10)
	assert.Equal(t, Round2(s), s)
}

func TestScore_VibeScoreWeighted(t *testing.T) {
	vs := Score(ModeVibeScore, 2, 10)
	assert.Equal(t, Round2(vs*10), Score(ModeVibeScoreWeighted, 2, 10))
	// Rank 1 weighted equals the raw playcount.
	assert.Equal(t, 25.0, Score(ModeVibeScoreWeighted, 1, 25))
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 0.71, Round2(0.7071))
	assert.Equal(t, 1.0, Round2(0.999))
	assert.Equal(t, 2.0, Round2(2.0))
}
