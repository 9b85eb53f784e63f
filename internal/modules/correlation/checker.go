// Package correlation blocks candidates that move with an existing
// position. Pairwise Pearson correlation over the trailing 60 sessions;
// anything above 0.70 blocks, and an undefined coefficient (short or
// degenerate history) blocks too, never passes.
package correlation

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

const (
	// Window is the trailing daily-return window for each pair.
	Window = 60
	// BlockThreshold is the exclusive correlation ceiling.
	BlockThreshold = 0.70
)

// Result is the verdict for one candidate against all open positions.
type Result struct {
	Blocked bool
	Against string  // position that triggered the block, or the max-correlation one
	Max     float64 // highest defined coefficient observed, NaN if none
	Reason  string
}

// Checker computes correlation verdicts from snapshotted return series.
type Checker struct {
	log zerolog.Logger
}

// NewChecker creates a correlation checker.
func NewChecker(log zerolog.Logger) *Checker {
	return &Checker{
		log: log.With().Str("component", "correlation_checker").Logger(),
	}
}

// Check evaluates the candidate against every open position. The returns
// map holds trailing daily returns per asset, most recent last, taken from
// the run snapshot. Open positions are visited in sorted order so the
// reported blocker is deterministic.
func (c *Checker) Check(candidate string, returns map[string][]float64, openAssets []string) Result {
	res := Result{Max: math.NaN()}
	if len(openAssets) == 0 {
		return res
	}

	cand, ok := tail(returns[candidate])
	if !ok {
		res.Blocked = true
		res.Reason = fmt.Sprintf("candidate %s has fewer than %d return observations", candidate, Window)
		return res
	}

	sorted := make([]string, len(openAssets))
	copy(sorted, openAssets)
	sort.Strings(sorted)

	for _, open := range sorted {
		series, ok := tail(returns[open])
		if !ok {
			res.Blocked = true
			res.Against = open
			res.Reason = fmt.Sprintf("open position %s has fewer than %d return observations", open, Window)
			return res
		}

		r := stat.Correlation(cand, series, nil)
		if math.IsNaN(r) {
			res.Blocked = true
			res.Against = open
			res.Reason = fmt.Sprintf("correlation with %s undefined over %d sessions", open, Window)
			return res
		}
		if r > BlockThreshold {
			res.Blocked = true
			res.Against = open
			res.Max = r
			res.Reason = fmt.Sprintf("correlation %.2f with %s exceeds %.2f", r, open, BlockThreshold)
			return res
		}
		if math.IsNaN(res.Max) || r > res.Max {
			res.Max = r
			res.Against = open
		}
	}
	return res
}

// tail returns the trailing window of a return series, reporting false
// when the history is too short.
func tail(series []float64) ([]float64, bool) {
	if len(series) < Window {
		return nil, false
	}
	return series[len(series)-Window:], true
}
