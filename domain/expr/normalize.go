package expr

import (
	"fmt"
	"math"

	"gorank/domain/core"
)

// DefaultNormalizationTarget is the row sum every cell is rescaled to
const DefaultNormalizationTarget = 10000.0

// Normalize rescales every row so it sums to target, making expression
// comparable across cells with different sequencing depth. The input is not
// mutated. A row with zero total count cannot be rescaled and fails with an
// invalid-input error naming the row.
func Normalize(m *Matrix, target float64) (*Matrix, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if target <= 0 || math.IsNaN(target) || math.IsInf(target, 0) {
		return nil, fmt.Errorf("%w: normalization target must be positive and finite, got %g", core.ErrInvalidInput, target)
	}

	out := NewMatrix(m.CellCount, m.GeneCount)
	for i := 0; i < m.CellCount; i++ {
		src := m.Row(i)
		dst := out.Row(i)

		sum := 0.0
		for j, v := range src {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, core.NewNonFiniteError("normalization", i, j)
			}
			sum += v
		}
		if sum == 0 {
			return nil, core.NewZeroSumRowError(i)
		}

		scale := target / sum
		for j, v := range src {
			dst[j] = v * scale
		}
	}
	return out, nil
}

// Log10p applies log10(1+x) elementwise, the transform stored in the output
// container and used for the calibration's expression axis
func Log10p(m *Matrix) (*Matrix, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	out := NewMatrix(m.CellCount, m.GeneCount)
	for i := 0; i < m.CellCount; i++ {
		src := m.Row(i)
		dst := out.Row(i)
		for j, v := range src {
			lv := math.Log10(1 + v)
			if math.IsNaN(lv) || math.IsInf(lv, 0) {
				return nil, core.NewNonFiniteError("log transform", i, j)
			}
			dst[j] = lv
		}
	}
	return out, nil
}
