package dataprep

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Split is a train/test partition of a Dataset. Index slices refer to rows
// of the source dataset and are sorted ascending.
type Split struct {
	XTrain, XTest [][]float64
	YTrain, YTest []int
	TrainIdx      []int
	TestIdx       []int
}

// StratifiedSplit partitions ds so that the test set holds ceil(testSize*n)
// rows and each class keeps its share of the whole in both partitions.
// The result depends only on ds and seed.
func StratifiedSplit(ds *Dataset, testSize float64, seed int64) (*Split, error) {
	if ds == nil || ds.Len() < 2 {
		return nil, fmt.Errorf("%w: need at least 2 rows to split", ErrDataValidation)
	}
	if len(ds.X) != len(ds.Y) {
		return nil, fmt.Errorf("%w: %d rows but %d labels", ErrDataValidation, len(ds.X), len(ds.Y))
	}
	if testSize <= 0 || testSize >= 1 {
		return nil, fmt.Errorf("%w: test size must be in (0, 1), got %v", ErrDataValidation, testSize)
	}

	n := ds.Len()
	nTest := int(math.Ceil(testSize * float64(n)))
	if nTest >= n {
		return nil, fmt.Errorf("%w: test size %v leaves no training rows", ErrDataValidation, testSize)
	}

	byClass := make(map[int][]int)
	for i, y := range ds.Y {
		byClass[y] = append(byClass[y], i)
	}
	classes := make([]int, 0, len(byClass))
	for c, idx := range byClass {
		if len(idx) < 2 {
			return nil, fmt.Errorf("%w: class %d has a single member, cannot stratify", ErrDataValidation, c)
		}
		classes = append(classes, c)
	}
	sort.Ints(classes)

	alloc := allocate(classes, byClass, n, nTest)

	rng := rand.New(rand.NewSource(seed))
	var trainIdx, testIdx []int
	for _, c := range classes {
		idx := append([]int(nil), byClass[c]...)
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		testIdx = append(testIdx, idx[:alloc[c]]...)
		trainIdx = append(trainIdx, idx[alloc[c]:]...)
	}
	sort.Ints(trainIdx)
	sort.Ints(testIdx)

	s := &Split{TrainIdx: trainIdx, TestIdx: testIdx}
	for _, i := range trainIdx {
		s.XTrain = append(s.XTrain, ds.X[i])
		s.YTrain = append(s.YTrain, ds.Y[i])
	}
	for _, i := range testIdx {
		s.XTest = append(s.XTest, ds.X[i])
		s.YTest = append(s.YTest, ds.Y[i])
	}
	return s, nil
}

// allocate distributes nTest test rows over classes proportionally to their
// size: floors first, then one extra row to the classes with the largest
// fractional remainder, lower class first on ties.
func allocate(classes []int, byClass map[int][]int, n, nTest int) map[int]int {
	alloc := make(map[int]int, len(classes))
	type rem struct {
		class int
		frac  float64
	}
	rems := make([]rem, 0, len(classes))
	given := 0
	for _, c := range classes {
		exact := float64(nTest) * float64(len(byClass[c])) / float64(n)
		floor := int(math.Floor(exact))
		alloc[c] = floor
		given += floor
		rems = append(rems, rem{class: c, frac: exact - float64(floor)})
	}
	sort.SliceStable(rems, func(i, j int) bool { return rems[i].frac > rems[j].frac })
	for i := 0; given < nTest && i < len(rems); i++ {
		alloc[rems[i].class]++
		given++
	}
	return alloc
}

// ClassCounts returns how many rows of each class are in labels.
func ClassCounts(labels []int) map[int]int {
	counts := make(map[int]int)
	for _, y := range labels {
		counts[y]++
	}
	return counts
}
