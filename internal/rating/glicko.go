package rating

import "math"

// Glicko-2 常量
const (
	glickoScale = 173.7178
	baseRating  = 1500.0

	initialRating     = 1500.0
	initialDeviation  = 350.0
	initialVolatility = 0.06

	// tau 系统常数：约束波动率的变化速度
	tau = 0.5

	// Illinois 求根的迭代上限和收敛精度
	maxSolverIterations = 100
	convergenceEps      = 1e-6

	// 指数函数参数的安全区间，防止溢出
	expClampMin = -10.0
	expClampMax = 10.0
)

// 展示刻度的取值边界
const (
	MinRating     = 800.0
	MaxRating     = 2200.0
	MinDeviation  = 50.0
	MaxDeviation  = 350.0
	MinVolatility = 0.001
	MaxVolatility = 0.5
)

// Game 一场对局：对手的展示刻度评分/偏差和本方得分 (混合表现分)
type Game struct {
	OpponentRating    float64
	OpponentDeviation float64
	Score             float64
}

// toInternalScale 展示刻度 -> Glicko-2 内部刻度
func toInternalScale(rating, deviation float64) (mu, phi float64) {
	return (rating - baseRating) / glickoScale, deviation / glickoScale
}

// fromInternalScale 内部刻度 -> 展示刻度
func fromInternalScale(mu, phi float64) (rating, deviation float64) {
	return mu*glickoScale + baseRating, phi * glickoScale
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// clampedExp 指数参数截断到 [-10,10] 后求值
func clampedExp(x float64) float64 {
	return math.Exp(math.Min(expClampMax, math.Max(expClampMin, x)))
}

// gFactor Glicko-2 中的 g(φ)
func gFactor(phi float64) float64 {
	return 1.0 / math.Sqrt(1.0+3.0*phi*phi/(math.Pi*math.Pi))
}

// expectedScore E(μ, μj, φj)
func expectedScore(mu, muJ, phiJ float64) float64 {
	return 1.0 / (1.0 + clampedExp(-gFactor(phiJ)*(mu-muJ)))
}

// solveVolatility 用 Illinois 算法求解新的波动率 σ'。
// 定义域: phi > 0, v > 0, sigma ∈ (0, MaxVolatility]。
// 任何非有限中间值都会放弃本次求根，返回 (sigma, false)，调用方保留原 σ。
func solveVolatility(phi, v, delta, sigma float64) (float64, bool) {
	a := math.Log(sigma * sigma)

	f := func(x float64) float64 {
		ex := clampedExp(x)
		sum := phi*phi + v + ex
		num := ex * (delta*delta - sum)
		return num/(2.0*sum*sum) - (x-a)/(tau*tau)
	}

	// 初始区间 [B, A]：A = ln(σ²)，B 按标准流程选取
	A := a
	var B float64
	if delta*delta > phi*phi+v {
		B = math.Log(delta*delta - phi*phi - v)
	} else {
		k := 1.0
		for f(a-k*tau) < 0 {
			k++
			if k > maxSolverIterations {
				return sigma, false
			}
		}
		B = a - k*tau
	}

	fA, fB := f(A), f(B)
	if !isFinite(fA) || !isFinite(fB) {
		return sigma, false
	}

	for i := 0; i < maxSolverIterations && math.Abs(B-A) > convergenceEps; i++ {
		// 线性插值求 C，Illinois 变体在保留端点时将 fA 减半避免停滞
		C := A + (A-B)*fA/(fB-fA)
		fC := f(C)
		if !isFinite(C) || !isFinite(fC) {
			return sigma, false
		}

		if fC*fB <= 0 {
			A, fA = B, fB
		} else {
			fA /= 2.0
		}
		B, fB = C, fC
	}

	result := math.Exp(A / 2.0)
	if !isFinite(result) {
		return sigma, false
	}
	return result, true
}

// glickoUpdate 对一个资产应用一个区间内的全部对局，返回更新后的展示刻度值。
// 返回的 ok=false 表示更新被整体放弃 (无有效对局或数值退化)，调用方保留原状态。
// 返回值未做边界截断，由调用方统一 clamp 并记录。
func glickoUpdate(rating, deviation, volatility float64, games []Game) (newRating, newDeviation, newVolatility float64, ok bool) {
	if len(games) == 0 {
		return rating, deviation, volatility, false
	}

	mu, phi := toInternalScale(rating, deviation)

	// v = 1/Σ g(φj)²·Ej·(1-Ej)，Δ 部分和 Σ g(φj)(sj-Ej)
	var vInv, deltaSum float64
	for _, game := range games {
		muJ, phiJ := toInternalScale(game.OpponentRating, game.OpponentDeviation)
		gj := gFactor(phiJ)
		ej := expectedScore(mu, muJ, phiJ)

		term := gj * gj * ej * (1.0 - ej)
		if !isFinite(term) || !isFinite(gj*(game.Score-ej)) {
			// 数值退化的对局按零贡献处理
			continue
		}
		vInv += term
		deltaSum += gj * (game.Score - ej)
	}

	if vInv <= 0 || !isFinite(vInv) {
		return rating, deviation, volatility, false
	}

	v := 1.0 / vInv
	delta := v * deltaSum

	// 求解失败时保留原 σ，继续完成评分更新
	sigma, _ := solveVolatility(phi, v, delta, volatility)

	phiStar := math.Sqrt(phi*phi + sigma*sigma)
	phiNew := 1.0 / math.Sqrt(1.0/(phiStar*phiStar)+1.0/v)
	muNew := mu + phiNew*phiNew*deltaSum

	if !isFinite(muNew) || !isFinite(phiNew) || !isFinite(sigma) {
		return rating, deviation, volatility, false
	}

	newRating, newDeviation = fromInternalScale(muNew, phiNew)
	return newRating, newDeviation, sigma, true
}
