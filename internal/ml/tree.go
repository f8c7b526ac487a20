package ml

import (
	"fmt"
	"math/rand"
	"sort"
)

// Node is one node of a fitted tree. Rows with x[Feature] <= Threshold go
// Left. A node with Feature < 0 is a leaf and carries the class distribution
// of the training samples that reached it in Value.
type Node struct {
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold"`
	Left      int       `json:"left"`
	Right     int       `json:"right"`
	Value     []float64 `json:"value,omitempty"`
}

// IsLeaf reports whether n is a leaf.
func (n Node) IsLeaf() bool { return n.Feature < 0 }

// DecisionTree is a CART classification tree stored as a flat node slice in
// pre-order: the root is Nodes[0] and every child index is greater than its
// parent's.
type DecisionTree struct {
	Nodes     []Node `json:"nodes"`
	NFeatures int    `json:"n_features"`
	NClasses  int    `json:"n_classes"`
}

type treeParams struct {
	maxDepth        int
	minSamplesSplit int
	maxFeatures     int
}

type treeBuilder struct {
	x          [][]float64
	y          []int
	nClasses   int
	params     treeParams
	rng        *rand.Rand
	nodes      []Node
	importance []float64
}

// fitTree grows a tree on the rows of x selected by idx (duplicates allowed).
// The returned importance holds the total weighted Gini decrease per feature.
func fitTree(x [][]float64, y []int, idx []int, nClasses int, p treeParams, rng *rand.Rand) (*DecisionTree, []float64) {
	b := &treeBuilder{
		x:          x,
		y:          y,
		nClasses:   nClasses,
		params:     p,
		rng:        rng,
		importance: make([]float64, len(x[0])),
	}
	b.build(idx, 0)
	return &DecisionTree{Nodes: b.nodes, NFeatures: len(x[0]), NClasses: nClasses}, b.importance
}

func (b *treeBuilder) build(idx []int, depth int) int {
	counts := b.classCounts(idx)
	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: -1, Left: -1, Right: -1})

	stop := (b.params.maxDepth > 0 && depth >= b.params.maxDepth) ||
		len(idx) < b.params.minSamplesSplit ||
		isPure(counts)
	if !stop {
		feature, threshold, decrease, ok := b.bestSplit(idx, counts)
		if ok {
			left, right := partition(b.x, idx, feature, threshold)
			b.importance[feature] += decrease
			b.nodes[id].Feature = feature
			b.nodes[id].Threshold = threshold
			l := b.build(left, depth+1)
			r := b.build(right, depth+1)
			b.nodes[id].Left = l
			b.nodes[id].Right = r
			return id
		}
	}

	b.nodes[id].Value = distribution(counts, len(idx))
	return id
}

// bestSplit evaluates up to maxFeatures non-constant features in random order
// and returns the split with the lowest weighted Gini impurity.
func (b *treeBuilder) bestSplit(idx []int, counts []int) (feature int, threshold, decrease float64, ok bool) {
	n := len(idx)
	parent := float64(n) * gini(counts, n)
	best := parent
	feature = -1

	sorted := make([]int, n)
	left := make([]int, b.nClasses)
	right := make([]int, b.nClasses)

	visited := 0
	for _, f := range b.rng.Perm(len(b.x[0])) {
		if visited >= b.params.maxFeatures {
			break
		}
		copy(sorted, idx)
		sort.SliceStable(sorted, func(i, j int) bool { return b.x[sorted[i]][f] < b.x[sorted[j]][f] })
		if b.x[sorted[0]][f] == b.x[sorted[n-1]][f] {
			continue
		}
		visited++

		for c := range left {
			left[c] = 0
			right[c] = counts[c]
		}
		for k := 0; k < n-1; k++ {
			c := b.y[sorted[k]]
			left[c]++
			right[c]--
			v, next := b.x[sorted[k]][f], b.x[sorted[k+1]][f]
			if next <= v {
				continue
			}
			nl, nr := k+1, n-k-1
			impurity := float64(nl)*gini(left, nl) + float64(nr)*gini(right, nr)
			if feature < 0 || impurity < best {
				best = impurity
				feature = f
				threshold = v + (next-v)/2
				if threshold >= next {
					threshold = v
				}
			}
		}
	}
	if feature < 0 {
		return -1, 0, 0, false
	}
	return feature, threshold, parent - best, true
}

func (b *treeBuilder) classCounts(idx []int) []int {
	counts := make([]int, b.nClasses)
	for _, i := range idx {
		counts[b.y[i]]++
	}
	return counts
}

func partition(x [][]float64, idx []int, feature int, threshold float64) (left, right []int) {
	for _, i := range idx {
		if x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}

func gini(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	g := 1.0
	for _, c := range counts {
		p := float64(c) / float64(n)
		g -= p * p
	}
	return g
}

func isPure(counts []int) bool {
	nonZero := 0
	for _, c := range counts {
		if c > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}

func distribution(counts []int, n int) []float64 {
	d := make([]float64, len(counts))
	if n == 0 {
		return d
	}
	for c, v := range counts {
		d[c] = float64(v) / float64(n)
	}
	return d
}

// leaf drops row down the tree and returns the leaf it lands in.
func (t *DecisionTree) leaf(row []float64) (*Node, error) {
	if len(t.Nodes) == 0 {
		return nil, ErrNotFitted
	}
	if len(row) != t.NFeatures {
		return nil, fmt.Errorf("tree: %w: got %d features, want %d", ErrDimension, len(row), t.NFeatures)
	}
	i := 0
	for steps := 0; steps <= len(t.Nodes); steps++ {
		n := &t.Nodes[i]
		if n.IsLeaf() {
			return n, nil
		}
		if row[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
		if i <= 0 || i >= len(t.Nodes) {
			return nil, fmt.Errorf("tree: invalid child index %d", i)
		}
	}
	return nil, fmt.Errorf("tree: traversal did not terminate")
}

// PredictProba returns the class distribution of the leaf row falls in.
func (t *DecisionTree) PredictProba(row []float64) ([]float64, error) {
	n, err := t.leaf(row)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), n.Value...), nil
}

// Predict returns the most frequent class in the leaf row falls in; ties go
// to the lower class index.
func (t *DecisionTree) Predict(row []float64) (int, error) {
	p, err := t.PredictProba(row)
	if err != nil {
		return 0, err
	}
	return argmax(p), nil
}

// Validate checks the structural invariants of a tree restored from storage.
func (t *DecisionTree) Validate() error {
	if len(t.Nodes) == 0 {
		return ErrNotFitted
	}
	for i, n := range t.Nodes {
		if n.IsLeaf() {
			if len(n.Value) != t.NClasses {
				return fmt.Errorf("node %d: %w: leaf has %d classes, want %d", i, ErrDimension, len(n.Value), t.NClasses)
			}
			continue
		}
		if n.Feature >= t.NFeatures {
			return fmt.Errorf("node %d: feature %d out of range", i, n.Feature)
		}
		if n.Left <= i || n.Right <= i || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d: invalid children %d/%d", i, n.Left, n.Right)
		}
	}
	return nil
}

func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
