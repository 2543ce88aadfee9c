package expr

import (
	"fmt"
	"math/rand"

	"gorank/domain/core"
)

// SubsampleStreamName identifies the RNG stream that picks cells
const SubsampleStreamName = "subsample"

// SubsampleCells picks size cells without replacement, in the order the
// stream draws them. Matrices at or under the target size pass through
// untouched.
func SubsampleCells(am *AnnotatedMatrix, size int, stream *rand.Rand) (*AnnotatedMatrix, error) {
	if err := am.Validate(); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: subsample size must be positive, got %d", core.ErrInvalidInput, size)
	}
	if am.Counts.CellCount <= size {
		return am, nil
	}
	return am.SelectCells(stream.Perm(am.Counts.CellCount)[:size]), nil
}
