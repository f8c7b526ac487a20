package ml

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/stat"
)

// PermutationImportance measures how much accuracy c loses on (x, y) when
// one column at a time is shuffled across rows. The result holds the mean
// drop over repeats for each column; a value near zero means the model does
// not rely on that column. x is left untouched.
func PermutationImportance(c Classifier, x [][]float64, y []int, repeats int, seed int64) ([]float64, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrDimension)
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("%w: %d rows but %d labels", ErrDimension, len(x), len(y))
	}
	if repeats < 1 {
		repeats = 1
	}

	baseline, err := accuracyOf(c, x, y)
	if err != nil {
		return nil, err
	}

	width := len(x[0])
	rng := rand.New(rand.NewSource(seed))
	permuted := make([][]float64, len(x))
	for i, row := range x {
		permuted[i] = append([]float64(nil), row...)
	}
	col := make([]float64, len(x))
	drops := make([]float64, repeats)
	out := make([]float64, width)

	for j := 0; j < width; j++ {
		for r := 0; r < repeats; r++ {
			for i := range x {
				col[i] = x[i][j]
			}
			rng.Shuffle(len(col), func(a, b int) { col[a], col[b] = col[b], col[a] })
			for i := range permuted {
				permuted[i][j] = col[i]
			}
			acc, err := accuracyOf(c, permuted, y)
			if err != nil {
				return nil, err
			}
			drops[r] = baseline - acc
		}
		// restore the column before moving on
		for i := range permuted {
			permuted[i][j] = x[i][j]
		}
		out[j] = stat.Mean(drops, nil)
	}
	return out, nil
}

func accuracyOf(c Classifier, x [][]float64, y []int) (float64, error) {
	pred := make([]int, len(x))
	for i, row := range x {
		p, err := c.Predict(row)
		if err != nil {
			return 0, fmt.Errorf("predict row %d: %w", i, err)
		}
		pred[i] = p
	}
	return Accuracy(y, pred)
}
