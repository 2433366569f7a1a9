// Package forest implements a random forest of CART trees for binary
// classification, the RandomForest backend of the training job.
package forest

import (
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/cloudtree-ml/cloudtree/core/model"
	"github.com/cloudtree-ml/cloudtree/core/parallel"
	"github.com/cloudtree-ml/cloudtree/job"
	"github.com/cloudtree-ml/cloudtree/metrics"
	"github.com/cloudtree-ml/cloudtree/pkg/errors"
	"github.com/cloudtree-ml/cloudtree/pkg/log"
)

// Node is one node of a classification tree. Children index into the owning
// tree's Nodes slice; -1 means none.
type Node struct {
	Feature    int
	Threshold  float64
	LeftChild  int
	RightChild int
	// Prediction holds the majority class on leaves.
	Prediction float64
	IsLeaf     bool
}

// Tree is a single CART tree grown on a bootstrap sample.
type Tree struct {
	Nodes []Node
}

func (t *Tree) predictRow(X *mat.Dense, row int) float64 {
	idx := 0
	for idx >= 0 && idx < len(t.Nodes) {
		node := t.Nodes[idx]
		if node.IsLeaf {
			return node.Prediction
		}
		if X.At(row, node.Feature) <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
	}
	return 0
}

// Model is a fitted forest. Fields are exported for gob persistence.
type Model struct {
	model.BaseEstimator

	Trees       []Tree
	NumFeatures int
}

// Classifier fits a random forest: each tree trains on a bootstrap sample
// and considers a random feature subset at every split, and prediction is a
// majority vote.
type Classifier struct {
	params  job.ForestParams
	workers int
	model   *Model
}

// NewClassifier creates a forest classifier. workers bounds how many trees
// grow concurrently; values below one mean sequential.
func NewClassifier(params job.ForestParams, workers int) *Classifier {
	if workers < 1 {
		workers = 1
	}
	return &Classifier{params: params, workers: workers}
}

// Fit grows the forest on (X, y) with y in {0, 1}.
func (c *Classifier) Fit(X *mat.Dense, y []float64) error {
	if X == nil || len(y) == 0 {
		return errors.Wrap(errors.ErrEmptyData, "fitting forest")
	}
	rows, cols := X.Dims()
	if rows != len(y) {
		return errors.NewDimensionError("Fit", rows, len(y), 0)
	}
	for _, label := range y {
		if label != 0 && label != 1 {
			return errors.NewValidationError("y", "labels must be 0 or 1", label)
		}
	}
	if c.params.NEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be >= 1", c.params.NEstimators)
	}

	logger := log.GetLoggerWithName("forest")
	start := time.Now()

	nFeatures := featureSubsetSize(cols, c.params.MaxFeatures)
	trees := make([]Tree, c.params.NEstimators)

	// Each tree gets its own generator seeded from the run seed, so the
	// forest is reproducible regardless of how trees are scheduled.
	parallel.Parallelize(c.params.NEstimators, c.workers, func(startIdx, endIdx int) {
		for i := startIdx; i < endIdx; i++ {
			rng := rand.New(rand.NewPCG(uint64(c.params.Seed), uint64(i)))
			trees[i] = growTree(X, y, c.params.MaxDepth, nFeatures, rng)
		}
	})

	c.model = &Model{Trees: trees, NumFeatures: cols}
	c.model.SetFitted()

	logger.Info("forest grown",
		"trees", len(trees),
		"features_per_split", nFeatures,
		log.SamplesKey, rows,
		log.DurationSecondsKey, time.Since(start).Seconds())
	return nil
}

// Model returns the fitted forest.
func (c *Classifier) Model() *Model {
	return c.model
}

// featureSubsetSize converts the max_features fraction into a count in
// [1, cols].
func featureSubsetSize(cols int, fraction float64) int {
	if fraction <= 0 || fraction > 1 {
		return cols
	}
	n := int(math.Ceil(float64(cols) * fraction))
	if n < 1 {
		n = 1
	}
	return n
}

// Predict returns the majority-vote class for each row of X.
func (m *Model) Predict(X mat.Matrix) (*mat.VecDense, error) {
	if !m.IsFitted() {
		return nil, errors.NewNotFittedError("forest.Model", "Predict")
	}
	dense, ok := X.(*mat.Dense)
	if !ok {
		if X == nil {
			return nil, errors.NewValueError("Predict", "input matrix is nil")
		}
		dense = mat.DenseCopyOf(X)
	}
	rows, cols := dense.Dims()
	if cols != m.NumFeatures {
		return nil, errors.NewDimensionError("Predict", m.NumFeatures, cols, 1)
	}

	out := mat.NewVecDense(rows, nil)
	for i := 0; i < rows; i++ {
		votes := 0.0
		for _, tree := range m.Trees {
			votes += tree.predictRow(dense, i)
		}
		if votes*2 >= float64(len(m.Trees)) {
			out.SetVec(i, 1)
		}
	}
	return out, nil
}

// Score returns classification accuracy on (X, y).
func (m *Model) Score(X, y mat.Matrix) (float64, error) {
	pred, err := m.Predict(X)
	if err != nil {
		return 0, err
	}
	yVec, ok := y.(*mat.VecDense)
	if !ok {
		if y == nil {
			return 0, errors.NewValueError("Score", "label matrix is nil")
		}
		rows, _ := y.Dims()
		yVec = mat.NewVecDense(rows, nil)
		for i := 0; i < rows; i++ {
			yVec.SetVec(i, y.At(i, 0))
		}
	}
	return metrics.Accuracy(yVec, pred)
}

// SaveModel persists the forest with gob.
func (m *Model) SaveModel(path string) error {
	return model.SaveModel(m, path)
}

// LoadModel restores a persisted forest.
func LoadModel(path string) (*Model, error) {
	m := &Model{}
	if err := model.LoadModel(m, path); err != nil {
		return nil, err
	}
	m.SetFitted()
	return m, nil
}

// growTree builds one CART tree on a bootstrap sample of the rows.
func growTree(X *mat.Dense, y []float64, maxDepth, nFeatures int, rng *rand.Rand) Tree {
	rows, _ := X.Dims()
	indices := make([]int, rows)
	for i := range indices {
		indices[i] = rng.IntN(rows)
	}

	tree := Tree{}
	growNode(&tree, X, y, indices, 0, maxDepth, nFeatures, rng)
	return tree
}

func growNode(tree *Tree, X *mat.Dense, y []float64, indices []int, depth, maxDepth, nFeatures int, rng *rand.Rand) int {
	nodeIdx := len(tree.Nodes)

	if depth >= maxDepth || len(indices) < 2 || pure(y, indices) {
		tree.Nodes = append(tree.Nodes, leaf(y, indices))
		return nodeIdx
	}

	feature, threshold, gain := bestGiniSplit(X, y, indices, nFeatures, rng)
	if gain <= 0 {
		tree.Nodes = append(tree.Nodes, leaf(y, indices))
		return nodeIdx
	}

	tree.Nodes = append(tree.Nodes, Node{
		Feature:    feature,
		Threshold:  threshold,
		LeftChild:  -1,
		RightChild: -1,
	})

	var left, right []int
	for _, idx := range indices {
		if X.At(idx, feature) <= threshold {
			left = append(left, idx)
		} else {
			right = append(right, idx)
		}
	}

	tree.Nodes[nodeIdx].LeftChild = growNode(tree, X, y, left, depth+1, maxDepth, nFeatures, rng)
	tree.Nodes[nodeIdx].RightChild = growNode(tree, X, y, right, depth+1, maxDepth, nFeatures, rng)
	return nodeIdx
}

func pure(y []float64, indices []int) bool {
	first := y[indices[0]]
	for _, idx := range indices[1:] {
		if y[idx] != first {
			return false
		}
	}
	return true
}

func leaf(y []float64, indices []int) Node {
	positives := 0
	for _, idx := range indices {
		if y[idx] == 1 {
			positives++
		}
	}
	prediction := 0.0
	if positives*2 >= len(indices) {
		prediction = 1
	}
	return Node{IsLeaf: true, Prediction: prediction, LeftChild: -1, RightChild: -1}
}

// bestGiniSplit searches a random feature subset for the split with the
// largest Gini impurity decrease.
func bestGiniSplit(X *mat.Dense, y []float64, indices []int, nFeatures int, rng *rand.Rand) (feature int, threshold, gain float64) {
	_, cols := X.Dims()
	features := rng.Perm(cols)[:nFeatures]

	total := float64(len(indices))
	parentPositives := 0.0
	for _, idx := range indices {
		parentPositives += y[idx]
	}
	parentImpurity := gini(parentPositives, total)

	feature = -1
	gain = 0

	for _, f := range features {
		values := make([]struct {
			value float64
			label float64
		}, len(indices))
		for i, idx := range indices {
			values[i].value = X.At(idx, f)
			values[i].label = y[idx]
		}
		sort.Slice(values, func(a, b int) bool { return values[a].value < values[b].value })

		leftPositives := 0.0
		for i := 0; i < len(values)-1; i++ {
			leftPositives += values[i].label
			if values[i].value == values[i+1].value {
				continue
			}

			leftCount := float64(i + 1)
			rightCount := total - leftCount
			weighted := (leftCount/total)*gini(leftPositives, leftCount) +
				(rightCount/total)*gini(parentPositives-leftPositives, rightCount)

			if g := parentImpurity - weighted; g > gain {
				gain = g
				feature = f
				threshold = (values[i].value + values[i+1].value) / 2
			}
		}
	}
	return feature, threshold, gain
}

// gini computes binary Gini impurity from the positive count.
func gini(positives, total float64) float64 {
	if total == 0 {
		return 0
	}
	p := positives / total
	return 2 * p * (1 - p)
}
