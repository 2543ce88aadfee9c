package calib

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"gorank/domain/core"
	"gorank/domain/rank"
)

// DefaultThreshold is the log10 rank cutoff bounding the fit subset. Records
// at or above it are too deep in the rank tail to constrain the line but are
// still scored during reconstruction.
const DefaultThreshold = 3.0

// Fit performs ordinary least squares of log expression on log rank over the
// records below threshold, then evaluates the line by reconstructing log
// expression for the entire table: R squared of the reconstruction plus
// Pearson and Spearman statistics (with two-sided p-values) between the true
// and reconstructed values.
func Fit(table *rank.RecordTable, threshold float64) (*Model, error) {
	n := table.Len()

	subX := make([]float64, 0, n)
	subY := make([]float64, 0, n)
	for k := 0; k < n; k++ {
		if table.LogRank[k] < threshold {
			subX = append(subX, table.LogRank[k])
			subY = append(subY, table.LogNormCount[k])
		}
	}
	if len(subX) == 0 {
		return nil, core.NewEmptySubsetError(threshold)
	}
	if len(subX) < 2 {
		return nil, fmt.Errorf("%w: only %d record below log rank %g, need at least 2 to fit a line",
			core.ErrInsufficientData, len(subX), threshold)
	}

	intercept, slope := stat.LinearRegression(subX, subY, nil, false)
	if !isFinite(slope) || !isFinite(intercept) {
		return nil, fmt.Errorf("%w: degenerate fit (slope %g, intercept %g)", core.ErrNumericalInstability, slope, intercept)
	}

	model := &Model{
		Threshold: threshold,
		Slope:     slope,
		Intercept: intercept,
	}

	truth := table.LogNormCount
	estimates := make([]float64, n)
	for k := 0; k < n; k++ {
		estimates[k] = model.Reconstruct(table.LogRank[k])
	}

	model.RSquared = stat.RSquaredFrom(estimates, truth, nil)

	pearson := stat.Correlation(truth, estimates, nil)
	if math.IsNaN(pearson) {
		return nil, fmt.Errorf("%w: undefined correlation between truth and reconstruction", core.ErrNumericalInstability)
	}
	model.PearsonR = clampCorrelation(pearson)
	model.PearsonP = correlationPValue(model.PearsonR, n)

	spearman := stat.Correlation(tiedRanks(truth), tiedRanks(estimates), nil)
	if math.IsNaN(spearman) {
		return nil, fmt.Errorf("%w: undefined rank correlation between truth and reconstruction", core.ErrNumericalInstability)
	}
	model.SpearmanR = clampCorrelation(spearman)
	model.SpearmanP = correlationPValue(model.SpearmanR, n)

	if !isFinite(model.RSquared) {
		return nil, fmt.Errorf("%w: non-finite R squared", core.ErrNumericalInstability)
	}
	return model, nil
}

// correlationPValue computes the two-sided p-value for a correlation
// statistic using the t distribution with n-2 degrees of freedom
func correlationPValue(r float64, n int) float64 {
	if n < 3 {
		return 1
	}
	if r*r >= 1 {
		return 0
	}
	df := float64(n - 2)
	t := r * math.Sqrt(df/(1-r*r))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return 2 * dist.Survival(math.Abs(t))
}

// tiedRanks converts values to 1-based ranks, assigning tied values the
// average of the ranks they span
func tiedRanks(data []float64) []float64 {
	n := len(data)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return data[order[a]] < data[order[b]]
	})

	ranks := make([]float64, n)
	i := 0
	for i < n {
		j := i + 1
		for j < n && data[order[j]] == data[order[i]] {
			j++
		}
		avgRank := float64(i+1) + float64(j-i-1)/2.0
		for k := i; k < j; k++ {
			ranks[order[k]] = avgRank
		}
		i = j
	}
	return ranks
}

func clampCorrelation(r float64) float64 {
	if r > 1 {
		return 1
	}
	if r < -1 {
		return -1
	}
	return r
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
