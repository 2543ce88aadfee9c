package sentence

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"gorank/domain/core"
	"gorank/domain/expr"
	"gorank/domain/rank"
)

// StreamName labels the RNG stream used to shuffle cells before splitting
const StreamName = "split"

// Build converts each cell into its sentence: the names of its expressed
// genes ordered by ascending rank, joined by single spaces. Genes with a
// zero count never enter a sentence even though they hold tail ranks.
func Build(am *expr.AnnotatedMatrix, ranks *rank.Matrix) ([]string, error) {
	if err := am.Validate(); err != nil {
		return nil, err
	}
	if ranks.CellCount != am.Counts.CellCount || ranks.GeneCount != am.Counts.GeneCount {
		return nil, core.NewShapeMismatchError("rank matrix", am.Counts.CellCount, am.Counts.GeneCount, ranks.CellCount, ranks.GeneCount)
	}

	type entry struct {
		rank int
		gene int
	}

	sentences := make([]string, am.Counts.CellCount)
	entries := make([]entry, 0, am.Counts.GeneCount)
	words := make([]string, 0, am.Counts.GeneCount)
	for i := 0; i < am.Counts.CellCount; i++ {
		row := am.Counts.Row(i)
		rankRow := ranks.Row(i)

		entries = entries[:0]
		for j, v := range row {
			if v != 0 {
				entries = append(entries, entry{rank: rankRow[j], gene: j})
			}
		}
		sort.Slice(entries, func(a, b int) bool {
			return entries[a].rank < entries[b].rank
		})

		words = words[:0]
		for _, e := range entries {
			words = append(words, am.Genes[e.gene].Name)
		}
		sentences[i] = strings.Join(words, " ")
	}
	return sentences, nil
}

// Fractions holds the train/valid/test partition shares
type Fractions struct {
	Train float64
	Valid float64
	Test  float64
}

// DefaultFractions returns the standard 80/10/10 partition
func DefaultFractions() Fractions {
	return Fractions{Train: 0.8, Valid: 0.1, Test: 0.1}
}

// Validate checks the fractions are non-negative and sum to one
func (f Fractions) Validate() error {
	if f.Train < 0 || f.Valid < 0 || f.Test < 0 {
		return fmt.Errorf("%w: split fractions must be non-negative, got %+v", core.ErrInvalidInput, f)
	}
	if math.Abs(f.Train+f.Valid+f.Test-1) > 1e-9 {
		return fmt.Errorf("%w: split fractions must sum to 1, got %g", core.ErrInvalidInput, f.Train+f.Valid+f.Test)
	}
	return nil
}

// Split holds cell indices per partition
type Split struct {
	Train []int
	Valid []int
	Test  []int
}

// SplitCells shuffles cell indices with the given stream and cuts them into
// train/valid/test partitions. The same stream state always produces the
// same split.
func SplitCells(n int, f Fractions, stream *rand.Rand) (Split, error) {
	if err := f.Validate(); err != nil {
		return Split{}, err
	}
	if n <= 0 {
		return Split{}, core.ErrEmptyMatrix
	}

	order := stream.Perm(n)
	nTrain := int(f.Train * float64(n))
	nValid := int(f.Valid * float64(n))
	if nTrain+nValid > n {
		nValid = n - nTrain
	}

	return Split{
		Train: order[:nTrain],
		Valid: order[nTrain : nTrain+nValid],
		Test:  order[nTrain+nValid:],
	}, nil
}

// ForSplit selects the sentences for one partition, preserving partition order
func ForSplit(sentences []string, indices []int) []string {
	out := make([]string, len(indices))
	for k, idx := range indices {
		out[k] = sentences[idx]
	}
	return out
}

// FileName returns the conventional sentence file name for a partition,
// e.g. train_human.txt
func FileName(split, tag string) string {
	return fmt.Sprintf("%s_%s.txt", split, tag)
}
