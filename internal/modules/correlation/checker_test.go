package correlation

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// alternating builds a zero-mean series flipping sign every `period`
// observations. Series with different periods are exactly orthogonal,
// which makes blended correlations exact: corr(a·x+b·z, x) = a/√(a²+b²).
func alternating(n, period int) []float64 {
	out := make([]float64, n)
	for i := range out {
		if (i/period)%2 == 0 {
			out[i] = 0.01
		} else {
			out[i] = -0.01
		}
	}
	return out
}

func blend(x, z []float64, a, b float64) []float64 {
	out := make([]float64, len(x))
	for i := range out {
		out[i] = a*x[i] + b*z[i]
	}
	return out
}

func TestCheckNoOpenPositions(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	res := c.Check("ASML.AS", map[string][]float64{"ASML.AS": alternating(60, 1)}, nil)
	assert.False(t, res.Blocked)
}

func TestCheckIdenticalSeriesBlocks(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	x := alternating(60, 1)
	returns := map[string][]float64{"ASML.AS": x, "BESI.AS": x}

	res := c.Check("ASML.AS", returns, []string{"BESI.AS"})
	require.True(t, res.Blocked)
	assert.Equal(t, "BESI.AS", res.Against)
	assert.InDelta(t, 1.0, res.Max, 1e-9)
	assert.Contains(t, res.Reason, "exceeds")
}

func TestCheckThreshold(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	x := alternating(60, 1)
	z := alternating(60, 2)

	// corr = 3/√10 ≈ 0.949: blocked.
	high := blend(x, z, 3, 1)
	res := c.Check("CAND", map[string][]float64{"CAND": high, "OPEN": x}, []string{"OPEN"})
	assert.True(t, res.Blocked)

	// corr = 1/√5 ≈ 0.447: allowed.
	low := blend(x, z, 1, 2)
	res = c.Check("CAND", map[string][]float64{"CAND": low, "OPEN": x}, []string{"OPEN"})
	assert.False(t, res.Blocked)
	assert.InDelta(t, 1/math.Sqrt(5), res.Max, 1e-9)
}

func TestCheckAntiCorrelationAllowed(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	x := alternating(60, 1)
	inverse := blend(x, x, -1, 0)

	res := c.Check("CAND", map[string][]float64{"CAND": inverse, "OPEN": x}, []string{"OPEN"})
	assert.False(t, res.Blocked)
	assert.InDelta(t, -1.0, res.Max, 1e-9)
}

func TestCheckShortHistoryFailsClosed(t *testing.T) {
	c := NewChecker(zerolog.Nop())

	t.Run("candidate short", func(t *testing.T) {
		returns := map[string][]float64{"CAND": alternating(59, 1), "OPEN": alternating(60, 1)}
		res := c.Check("CAND", returns, []string{"OPEN"})
		require.True(t, res.Blocked)
		assert.Contains(t, res.Reason, "fewer than 60")
	})

	t.Run("open position short", func(t *testing.T) {
		returns := map[string][]float64{"CAND": alternating(60, 1), "OPEN": alternating(10, 1)}
		res := c.Check("CAND", returns, []string{"OPEN"})
		require.True(t, res.Blocked)
		assert.Equal(t, "OPEN", res.Against)
	})

	t.Run("open position absent", func(t *testing.T) {
		returns := map[string][]float64{"CAND": alternating(60, 1)}
		res := c.Check("CAND", returns, []string{"OPEN"})
		assert.True(t, res.Blocked)
	})
}

func TestCheckConstantSeriesFailsClosed(t *testing.T) {
	// Zero variance makes the coefficient undefined; undefined blocks.
	c := NewChecker(zerolog.Nop())
	flat := make([]float64, 60)
	returns := map[string][]float64{"CAND": alternating(60, 1), "OPEN": flat}

	res := c.Check("CAND", returns, []string{"OPEN"})
	require.True(t, res.Blocked)
	assert.Contains(t, res.Reason, "undefined")
}

func TestCheckBlockerDeterministic(t *testing.T) {
	// Two open positions both above the ceiling: the alphabetically first
	// one is always reported.
	c := NewChecker(zerolog.Nop())
	x := alternating(60, 1)
	returns := map[string][]float64{"CAND": x, "ZZZ": x, "AAA": x}

	for i := 0; i < 5; i++ {
		res := c.Check("CAND", returns, []string{"ZZZ", "AAA"})
		require.True(t, res.Blocked)
		assert.Equal(t, "AAA", res.Against)
	}
}

func TestCheckUsesTrailingWindow(t *testing.T) {
	// Histories longer than the window only count their trailing 60
	// observations: identical tails block even with divergent heads.
	c := NewChecker(zerolog.Nop())
	tail := alternating(60, 1)
	candHead := alternating(40, 2)
	openHead := alternating(40, 4)

	cand := append(append([]float64{}, candHead...), tail...)
	open := append(append([]float64{}, openHead...), tail...)

	res := c.Check("CAND", map[string][]float64{"CAND": cand, "OPEN": open}, []string{"OPEN"})
	require.True(t, res.Blocked)
	assert.InDelta(t, 1.0, res.Max, 1e-9)
}
