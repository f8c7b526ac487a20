package ml

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// separable returns rows where class 1 iff x0 > 0.5, with one noise column.
func separable(n int, seed int64) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	x := make([][]float64, n)
	y := make([]int, n)
	for i := range x {
		x[i] = []float64{rng.Float64(), rng.Float64()}
		if x[i][0] > 0.5 {
			y[i] = 1
		}
	}
	return x, y
}

func TestDecisionTree_FitsSeparableData(t *testing.T) {
	x, y := separable(200, 1)
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	tree, imp := fitTree(x, y, idx, 2, treeParams{maxDepth: 5, minSamplesSplit: 2, maxFeatures: 2}, rand.New(rand.NewSource(1)))
	require.NoError(t, tree.Validate())

	root := tree.Nodes[0]
	assert.Equal(t, 0, root.Feature)
	assert.InDelta(t, 0.5, root.Threshold, 0.05)
	assert.Greater(t, imp[0], imp[1])

	for i := range x {
		c, err := tree.Predict(x[i])
		require.NoError(t, err)
		assert.Equal(t, y[i], c)
	}
}

func TestDecisionTree_DepthLimit(t *testing.T) {
	x, y := separable(100, 2)
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	tree, _ := fitTree(x, y, idx, 2, treeParams{maxDepth: 1, minSamplesSplit: 2, maxFeatures: 2}, rand.New(rand.NewSource(1)))
	assert.Len(t, tree.Nodes, 3, "a depth-1 tree is a root and two leaves")
	for _, n := range tree.Nodes[1:] {
		assert.True(t, n.IsLeaf())
		assert.InDelta(t, 1.0, n.Value[0]+n.Value[1], 1e-12)
	}
}

func TestDecisionTree_ValidateRejectsCorruption(t *testing.T) {
	tests := []struct {
		name string
		tree DecisionTree
	}{
		{"empty", DecisionTree{NFeatures: 1, NClasses: 2}},
		{"leaf width", DecisionTree{NFeatures: 1, NClasses: 2, Nodes: []Node{{Feature: -1, Value: []float64{1}}}}},
		{"feature range", DecisionTree{NFeatures: 1, NClasses: 2, Nodes: []Node{
			{Feature: 3, Left: 1, Right: 2},
			{Feature: -1, Value: []float64{1, 0}},
			{Feature: -1, Value: []float64{0, 1}},
		}}},
		{"backward child", DecisionTree{NFeatures: 1, NClasses: 2, Nodes: []Node{
			{Feature: 0, Left: 0, Right: 1},
			{Feature: -1, Value: []float64{0, 1}},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.tree.Validate())
		})
	}
}

func TestRandomForest_Defaults(t *testing.T) {
	rf := NewRandomForest()
	assert.Equal(t, 100, rf.NEstimators)
	assert.Equal(t, 10, rf.MaxDepth)
	assert.Equal(t, 2, rf.MinSamplesSplit)
	assert.True(t, rf.Bootstrap)
	assert.Equal(t, int64(42), rf.Seed)
	assert.False(t, rf.Fitted())

	rf = NewRandomForest(WithEstimators(7), WithMaxDepth(3), WithSeed(9), WithWorkers(2), WithBootstrap(false), WithMaxFeatures(1), WithMinSamplesSplit(4))
	assert.Equal(t, 7, rf.NEstimators)
	assert.Equal(t, 3, rf.MaxDepth)
	assert.Equal(t, int64(9), rf.Seed)
	assert.Equal(t, 2, rf.Workers)
	assert.False(t, rf.Bootstrap)
	assert.Equal(t, 1, rf.MaxFeatures)
	assert.Equal(t, 4, rf.MinSamplesSplit)
}

func TestRandomForest_FitPredict(t *testing.T) {
	x, y := separable(300, 3)
	rf := NewRandomForest(WithEstimators(25))
	require.NoError(t, rf.Fit(x, y))
	require.NoError(t, rf.Validate())
	assert.Len(t, rf.Trees, 25)
	assert.Equal(t, 2, rf.NFeatures)
	assert.Equal(t, 2, rf.NClasses)

	testX, testY := separable(100, 4)
	pred := make([]int, len(testX))
	for i, row := range testX {
		c, err := rf.Predict(row)
		require.NoError(t, err)
		pred[i] = c

		p, err := rf.PredictProba(row)
		require.NoError(t, err)
		require.Len(t, p, 2)
		assert.InDelta(t, 1.0, p[0]+p[1], 1e-9)
		assert.GreaterOrEqual(t, p[0], 0.0)
		assert.GreaterOrEqual(t, p[1], 0.0)
	}
	acc, err := Accuracy(testY, pred)
	require.NoError(t, err)
	assert.Greater(t, acc, 0.9)

	imp := rf.FeatureImportances()
	require.Len(t, imp, 2)
	assert.InDelta(t, 1.0, imp[0]+imp[1], 1e-9)
	assert.Greater(t, imp[0], imp[1])
}

func TestRandomForest_Deterministic(t *testing.T) {
	x, y := separable(150, 5)
	a := NewRandomForest(WithEstimators(15), WithWorkers(1))
	b := NewRandomForest(WithEstimators(15), WithWorkers(8))
	require.NoError(t, a.Fit(x, y))
	require.NoError(t, b.Fit(x, y))

	ja, err := json.Marshal(a)
	require.NoError(t, err)
	jb, err := json.Marshal(b)
	require.NoError(t, err)
	assert.JSONEq(t, string(ja), string(jb), "worker count must not change the fitted model")
}

func TestRandomForest_JSONRoundTrip(t *testing.T) {
	x, y := separable(120, 6)
	rf := NewRandomForest(WithEstimators(10))
	require.NoError(t, rf.Fit(x, y))

	data, err := json.Marshal(rf)
	require.NoError(t, err)
	var restored RandomForest
	require.NoError(t, json.Unmarshal(data, &restored))
	require.NoError(t, restored.Validate())

	probe, _ := separable(30, 7)
	for _, row := range probe {
		wantC, _ := rf.Predict(row)
		gotC, err := restored.Predict(row)
		require.NoError(t, err)
		assert.Equal(t, wantC, gotC)

		wantP, _ := rf.PredictProba(row)
		gotP, err := restored.PredictProba(row)
		require.NoError(t, err)
		assert.Equal(t, wantP, gotP)
	}
}

func TestRandomForest_Errors(t *testing.T) {
	rf := NewRandomForest(WithEstimators(3))
	_, err := rf.Predict([]float64{1, 2})
	assert.ErrorIs(t, err, ErrNotFitted)
	_, err = rf.PredictProba([]float64{1, 2})
	assert.ErrorIs(t, err, ErrNotFitted)
	assert.ErrorIs(t, rf.Validate(), ErrNotFitted)

	assert.ErrorIs(t, rf.Fit(nil, nil), ErrDimension)
	assert.ErrorIs(t, rf.Fit([][]float64{{1}, {2}}, []int{0}), ErrDimension)
	assert.Error(t, rf.Fit([][]float64{{1}, {2}}, []int{0, -1}))

	x, y := separable(40, 8)
	require.NoError(t, rf.Fit(x, y))
	assert.ErrorIs(t, rf.Fit(x, y), ErrAlreadyFitted)

	_, err = rf.Predict([]float64{1})
	assert.ErrorIs(t, err, ErrDimension)
}

func TestRandomForest_VoteTieGoesToLowerClass(t *testing.T) {
	leaf := func(p0 float64) *DecisionTree {
		return &DecisionTree{NFeatures: 1, NClasses: 2, Nodes: []Node{{Feature: -1, Value: []float64{p0, 1 - p0}}}}
	}
	rf := &RandomForest{NFeatures: 1, NClasses: 2, Trees: []*DecisionTree{leaf(0.9), leaf(0.2)}}
	c, err := rf.Predict([]float64{0})
	require.NoError(t, err)
	assert.Equal(t, 0, c)

	// The vote can disagree with the averaged distribution.
	rf = &RandomForest{NFeatures: 1, NClasses: 2, Trees: []*DecisionTree{leaf(0.45), leaf(0.45), leaf(1.0)}}
	c, err = rf.Predict([]float64{0})
	require.NoError(t, err)
	p, err := rf.PredictProba([]float64{0})
	require.NoError(t, err)
	assert.Equal(t, 1, c)
	assert.Greater(t, p[0], p[1])
}
