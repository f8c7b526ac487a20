package ml

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"
)

// RandomForest is a bagged ensemble of CART trees.
//
// Each tree draws its bootstrap sample and its split candidates from its own
// random source seeded with Seed+treeIndex, so a fit is reproducible no
// matter how the trees are scheduled across workers.
type RandomForest struct {
	NEstimators     int   `json:"n_estimators"`
	MaxDepth        int   `json:"max_depth"`
	MinSamplesSplit int   `json:"min_samples_split"`
	MaxFeatures     int   `json:"max_features"`
	Bootstrap       bool  `json:"bootstrap"`
	Seed            int64 `json:"seed"`
	Workers         int   `json:"-"`

	NFeatures   int             `json:"n_features"`
	NClasses    int             `json:"n_classes"`
	Trees       []*DecisionTree `json:"trees"`
	Importances []float64       `json:"feature_importances"`
}

// ForestOption configures a RandomForest.
type ForestOption func(*RandomForest)

func WithEstimators(n int) ForestOption      { return func(rf *RandomForest) { rf.NEstimators = n } }
func WithMaxDepth(d int) ForestOption        { return func(rf *RandomForest) { rf.MaxDepth = d } }
func WithMinSamplesSplit(n int) ForestOption { return func(rf *RandomForest) { rf.MinSamplesSplit = n } }
func WithMaxFeatures(n int) ForestOption     { return func(rf *RandomForest) { rf.MaxFeatures = n } }
func WithBootstrap(b bool) ForestOption      { return func(rf *RandomForest) { rf.Bootstrap = b } }
func WithSeed(seed int64) ForestOption       { return func(rf *RandomForest) { rf.Seed = seed } }
func WithWorkers(n int) ForestOption         { return func(rf *RandomForest) { rf.Workers = n } }

// NewRandomForest returns an unfitted forest: 100 trees of depth at most 10,
// sqrt(features) split candidates, bootstrap sampling, seed 42.
func NewRandomForest(opts ...ForestOption) *RandomForest {
	rf := &RandomForest{
		NEstimators:     100,
		MaxDepth:        10,
		MinSamplesSplit: 2,
		Bootstrap:       true,
		Seed:            42,
	}
	for _, o := range opts {
		o(rf)
	}
	return rf
}

// Fitted reports whether the forest holds trees.
func (rf *RandomForest) Fitted() bool { return rf != nil && len(rf.Trees) > 0 }

// Fit grows the ensemble on x and class labels y (0..k-1).
func (rf *RandomForest) Fit(x [][]float64, y []int) error {
	if rf.Fitted() {
		return ErrAlreadyFitted
	}
	if len(x) == 0 || len(x[0]) == 0 {
		return fmt.Errorf("forest: %w: empty input", ErrDimension)
	}
	if len(x) != len(y) {
		return fmt.Errorf("forest: %w: %d rows, %d labels", ErrDimension, len(x), len(y))
	}
	if rf.NEstimators <= 0 {
		return fmt.Errorf("forest: estimator count must be positive, got %d", rf.NEstimators)
	}

	width := len(x[0])
	nClasses := 2
	for i, row := range x {
		if len(row) != width {
			return fmt.Errorf("forest: %w: row %d has %d columns, want %d", ErrDimension, i, len(row), width)
		}
		if y[i] < 0 {
			return fmt.Errorf("forest: negative class %d at row %d", y[i], i)
		}
		if y[i]+1 > nClasses {
			nClasses = y[i] + 1
		}
	}

	params := treeParams{
		maxDepth:        rf.MaxDepth,
		minSamplesSplit: rf.MinSamplesSplit,
		maxFeatures:     rf.MaxFeatures,
	}
	if params.minSamplesSplit < 2 {
		params.minSamplesSplit = 2
	}
	if params.maxFeatures <= 0 || params.maxFeatures > width {
		params.maxFeatures = int(math.Max(1, math.Floor(math.Sqrt(float64(width)))))
	}

	workers := rf.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	trees := make([]*DecisionTree, rf.NEstimators)
	importances := make([][]float64, rf.NEstimators)
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for t := 0; t < rf.NEstimators; t++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(t int) {
			defer wg.Done()
			defer func() { <-sem }()

			rng := rand.New(rand.NewSource(rf.Seed + int64(t)))
			idx := make([]int, len(x))
			for i := range idx {
				if rf.Bootstrap {
					idx[i] = rng.Intn(len(x))
				} else {
					idx[i] = i
				}
			}
			trees[t], importances[t] = fitTree(x, y, idx, nClasses, params, rng)
		}(t)
	}
	wg.Wait()

	rf.NFeatures = width
	rf.NClasses = nClasses
	rf.Trees = trees
	rf.Importances = averageImportances(importances, width)
	return nil
}

// averageImportances normalizes each tree's impurity decrease to sum to one,
// averages across trees and renormalizes.
func averageImportances(perTree [][]float64, width int) []float64 {
	out := make([]float64, width)
	for _, imp := range perTree {
		var sum float64
		for _, v := range imp {
			sum += v
		}
		if sum == 0 {
			continue
		}
		for j, v := range imp {
			out[j] += v / sum
		}
	}
	var total float64
	for _, v := range out {
		total += v
	}
	if total > 0 {
		for j := range out {
			out[j] /= total
		}
	}
	return out
}

// Predict returns the majority vote of the trees' own decisions. Ties go to
// the lower class index.
func (rf *RandomForest) Predict(row []float64) (int, error) {
	if !rf.Fitted() {
		return 0, ErrNotFitted
	}
	votes := make([]float64, rf.NClasses)
	for i, t := range rf.Trees {
		c, err := t.Predict(row)
		if err != nil {
			return 0, fmt.Errorf("tree %d: %w", i, err)
		}
		votes[c]++
	}
	return argmax(votes), nil
}

// PredictProba returns the mean of the trees' leaf distributions.
func (rf *RandomForest) PredictProba(row []float64) ([]float64, error) {
	if !rf.Fitted() {
		return nil, ErrNotFitted
	}
	proba := make([]float64, rf.NClasses)
	for i, t := range rf.Trees {
		p, err := t.PredictProba(row)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		for c, v := range p {
			proba[c] += v
		}
	}
	n := float64(len(rf.Trees))
	for c := range proba {
		proba[c] /= n
	}
	return proba, nil
}

// FeatureImportances returns a copy of the normalized mean impurity decrease
// per feature.
func (rf *RandomForest) FeatureImportances() []float64 {
	return append([]float64(nil), rf.Importances...)
}

// Validate checks a forest restored from storage.
func (rf *RandomForest) Validate() error {
	if !rf.Fitted() {
		return ErrNotFitted
	}
	if rf.NClasses < 2 {
		return fmt.Errorf("forest: need at least 2 classes, got %d", rf.NClasses)
	}
	for i, t := range rf.Trees {
		if t == nil {
			return fmt.Errorf("forest: tree %d is missing", i)
		}
		if t.NFeatures != rf.NFeatures || t.NClasses != rf.NClasses {
			return fmt.Errorf("forest: tree %d: %w", i, ErrDimension)
		}
		if err := t.Validate(); err != nil {
			return fmt.Errorf("forest: tree %d: %w", i, err)
		}
	}
	return nil
}
