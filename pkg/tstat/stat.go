// Package tstat computes the five-number summary used throughout the
// analysis pipeline: count, mean, standard deviation, and the 50th/99th
// percentiles of a duration population.
package tstat

import (
	"math"
	"sort"
)

// Stat is the elementwise-subtractable summary of a float64 population.
// All fields are nanosecond-duration-valued unless the caller's population
// is itself a count (e.g. call counts), in which case Count still reports
// the sample size and the remaining fields summarize the counts.
type Stat struct {
	Count  int
	Mean   float64
	StdDev float64
	P50    float64
	P99    float64
}

// Calc computes Stat over data. An empty slice yields the zero Stat.
// The population standard deviation uses Bessel's correction (n-1) once
// n > 1, and falls back to 0 for n <= 1, matching the behavior of
// statistics.stdev in the analyzer this package was ported from.
func Calc(data []float64) Stat {
	n := len(data)
	if n == 0 {
		return Stat{}
	}

	sum := 0.0
	for _, v := range data {
		sum += v
	}
	mean := sum / float64(n)

	var stddev float64
	if n > 1 {
		var sumSq float64
		for _, v := range data {
			diff := v - mean
			sumSq += diff * diff
		}
		stddev = math.Sqrt(sumSq / float64(n-1))
	}

	sorted := make([]float64, n)
	copy(sorted, data)
	sort.Float64s(sorted)

	return Stat{
		Count:  n,
		Mean:   mean,
		StdDev: stddev,
		P50:    percentile(sorted, 50),
		P99:    percentile(sorted, 99),
	}
}

// percentile performs linear-interpolation percentile lookup on an
// already-sorted slice, matching numpy.percentile's default ("linear")
// interpolation method.
func percentile(sorted []float64, pct float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	rank := (pct / 100) * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// Sub returns the elementwise difference s - other. Used to compute the
// tail-minus-norm deltas (child_diff, end_diff, operation diffs) that drive
// the report engine's ranking.
func (s Stat) Sub(other Stat) Stat {
	return Stat{
		Count:  s.Count - other.Count,
		Mean:   s.Mean - other.Mean,
		StdDev: s.StdDev - other.StdDev,
		P50:    s.P50 - other.P50,
		P99:    s.P99 - other.P99,
	}
}
