package rating

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScaleRoundTrip(t *testing.T) {
	cases := []struct{ rating, deviation float64 }{
		{1500, 350},
		{800, 50},
		{2200, 350},
		{1723.4, 112.8},
	}
	for _, c := range cases {
		mu, phi := toInternalScale(c.rating, c.deviation)
		r, d := fromInternalScale(mu, phi)
		assert.InDelta(t, c.rating, r, 1e-9)
		assert.InDelta(t, c.deviation, d, 1e-9)
	}

	// 1500 是内部刻度的原点
	mu, _ := toInternalScale(1500, 350)
	assert.InDelta(t, 0.0, mu, 1e-12)
}

func TestGFactor(t *testing.T) {
	assert.InDelta(t, 1.0, gFactor(0), 1e-12)

	// g(φ) 随 φ 单调递减且始终落在 (0,1]
	prev := 1.0
	for phi := 0.1; phi <= 3.0; phi += 0.1 {
		g := gFactor(phi)
		assert.Greater(t, g, 0.0)
		assert.LessOrEqual(t, g, 1.0)
		assert.Less(t, g, prev)
		prev = g
	}
}

func TestExpectedScore(t *testing.T) {
	// 同等评分时期望得分为 0.5
	assert.InDelta(t, 0.5, expectedScore(0, 0, 350.0/glickoScale), 1e-12)

	// 评分更高的一方期望得分超过 0.5，且对称
	phi := 350.0 / glickoScale
	eHigh := expectedScore(1.0, 0, phi)
	eLow := expectedScore(0, 1.0, phi)
	assert.Greater(t, eHigh, 0.5)
	assert.InDelta(t, 1.0, eHigh+eLow, 1e-12)
}

func TestClampedExp(t *testing.T) {
	// 极端参数被截断，不会产生 Inf
	assert.InDelta(t, math.Exp(10), clampedExp(1e6), 1e-6)
	assert.InDelta(t, math.Exp(-10), clampedExp(-1e6), 1e-12)
	assert.True(t, isFinite(clampedExp(math.Inf(1))))
}

func TestSolveVolatilityConverges(t *testing.T) {
	phi := 350.0 / glickoScale
	sigma, ok := solveVolatility(phi, 1.7785, 0.4834, 0.06)
	require.True(t, ok)
	assert.True(t, isFinite(sigma))
	assert.Greater(t, sigma, 0.0)
	// τ=0.5 下单区间的波动率变化应当很小
	assert.InDelta(t, 0.06, sigma, 0.02)
}

func TestSolveVolatilityLargeDelta(t *testing.T) {
	// 巨大的意外表现 (delta² >> phi²+v) 走另一条初始区间分支
	phi := 350.0 / glickoScale
	sigma, ok := solveVolatility(phi, 1.5, 8.0, 0.06)
	require.True(t, ok)
	assert.True(t, isFinite(sigma))
	assert.Greater(t, sigma, 0.06)
}

func TestGlickoUpdateNoGames(t *testing.T) {
	r, d, v, ok := glickoUpdate(1500, 350, 0.06, nil)
	assert.False(t, ok)
	assert.Equal(t, 1500.0, r)
	assert.Equal(t, 350.0, d)
	assert.Equal(t, 0.06, v)
}

func TestGlickoUpdateWinRaisesRating(t *testing.T) {
	games := []Game{{OpponentRating: 1500, OpponentDeviation: 350, Score: 1.0}}
	r, d, _, ok := glickoUpdate(1500, 350, 0.06, games)
	require.True(t, ok)
	assert.Greater(t, r, 1500.0)
	// 新的观测降低不确定度
	assert.Less(t, d, 350.0)
}

func TestGlickoUpdateLossLowersRating(t *testing.T) {
	games := []Game{{OpponentRating: 1500, OpponentDeviation: 350, Score: 0.0}}
	r, _, _, ok := glickoUpdate(1500, 350, 0.06, games)
	require.True(t, ok)
	assert.Less(t, r, 1500.0)
}

func TestGlickoUpdateDrawNearlyUnchanged(t *testing.T) {
	games := []Game{{OpponentRating: 1500, OpponentDeviation: 350, Score: 0.5}}
	r, _, _, ok := glickoUpdate(1500, 350, 0.06, games)
	require.True(t, ok)
	assert.InDelta(t, 1500.0, r, 1e-6)
}

func TestGlickoUpdateSymmetricZeroSum(t *testing.T) {
	// 同等起点的双方打出互补得分，评分变化应当反对称
	win := []Game{{OpponentRating: 1500, OpponentDeviation: 350, Score: 0.75}}
	loss := []Game{{OpponentRating: 1500, OpponentDeviation: 350, Score: 0.25}}
	rWin, _, _, ok1 := glickoUpdate(1500, 350, 0.06, win)
	rLoss, _, _, ok2 := glickoUpdate(1500, 350, 0.06, loss)
	require.True(t, ok1)
	require.True(t, ok2)
	assert.InDelta(t, rWin-1500, 1500-rLoss, 1e-6)
}

func TestGlickoUpdateStaysFinite(t *testing.T) {
	// 边界状态叠加极端对局也绝不产生 NaN/Inf
	extremes := [][]Game{
		{{OpponentRating: MaxRating, OpponentDeviation: MinDeviation, Score: 1.0}},
		{{OpponentRating: MinRating, OpponentDeviation: MaxDeviation, Score: 0.0}},
		{
			{OpponentRating: MaxRating, OpponentDeviation: MinDeviation, Score: 0.0},
			{OpponentRating: MinRating, OpponentDeviation: MaxDeviation, Score: 1.0},
		},
	}
	starts := []struct{ r, d, v float64 }{
		{MinRating, MinDeviation, MinVolatility},
		{MaxRating, MaxDeviation, MaxVolatility},
		{1500, 350, 0.06},
	}
	for _, s := range starts {
		for _, games := range extremes {
			r, d, v, ok := glickoUpdate(s.r, s.d, s.v, games)
			if ok {
				assert.True(t, isFinite(r))
				assert.True(t, isFinite(d))
				assert.True(t, isFinite(v))
			} else {
				// 放弃更新时必须原样返回
				assert.Equal(t, s.r, r)
				assert.Equal(t, s.d, d)
				assert.Equal(t, s.v, v)
			}
		}
	}
}
