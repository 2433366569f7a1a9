package gbtree

import (
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/cloudtree-ml/cloudtree/core/parallel"
	"github.com/cloudtree-ml/cloudtree/job"
	"github.com/cloudtree-ml/cloudtree/pkg/errors"
	"github.com/cloudtree-ml/cloudtree/pkg/log"
)

// minChildSamples is the smallest row count a split may leave on one side.
const minChildSamples = 1

// Trainer fits a boosted ensemble round by round: compute gradients against
// the cached margins, grow one depth-limited tree on a row subsample, fold
// the tree into the margins with shrinkage.
type Trainer struct {
	params  job.GBTParams
	workers int

	X *mat.Dense
	y []float64

	margins   []float64
	gradients []float64
	hessians  []float64

	objective binaryLogistic
	trees     []Tree
	initScore float64
}

// NewTrainer creates a trainer. workers bounds the parallelism of the split
// search; values below one mean sequential.
func NewTrainer(params job.GBTParams, workers int) *Trainer {
	if workers < 1 {
		workers = 1
	}
	return &Trainer{params: params, workers: workers}
}

// Fit trains the ensemble on (X, y) with y in {0, 1}.
func (t *Trainer) Fit(X *mat.Dense, y []float64) error {
	if X == nil || len(y) == 0 {
		return errors.Wrap(errors.ErrEmptyData, "fitting gbtree")
	}
	rows, _ := X.Dims()
	if rows != len(y) {
		return errors.NewDimensionError("Fit", rows, len(y), 0)
	}
	for i, label := range y {
		if label != 0 && label != 1 {
			return errors.NewValidationError("y", "labels must be 0 or 1", y[i])
		}
	}

	logger := log.GetLoggerWithName("gbtree")
	start := time.Now()

	t.X = X
	t.y = y
	t.initScore = t.objective.InitScore(y)

	t.margins = make([]float64, rows)
	for i := range t.margins {
		t.margins[i] = t.initScore
	}
	t.gradients = make([]float64, rows)
	t.hessians = make([]float64, rows)
	t.trees = make([]Tree, 0, t.params.NumBoostRound)

	rng := rand.New(rand.NewPCG(uint64(t.params.Seed), uint64(t.params.Seed)+1))

	for round := 0; round < t.params.NumBoostRound; round++ {
		t.computeGradients()

		indices := t.subsample(rng, rows)
		tree, err := t.buildTree(indices, round)
		if err != nil {
			return err
		}
		t.trees = append(t.trees, tree)
		t.updateMargins(tree)
	}

	logger.Info("boosting finished",
		"rounds", len(t.trees),
		log.SamplesKey, rows,
		log.DurationSecondsKey, time.Since(start).Seconds())
	return nil
}

// Model returns the fitted ensemble, or nil before Fit has run.
func (t *Trainer) Model() *Model {
	if t.X == nil {
		return nil
	}
	_, cols := t.X.Dims()
	m := &Model{
		Trees:        t.trees,
		NumFeatures:  cols,
		LearningRate: t.params.LearningRate,
		InitScore:    t.initScore,
	}
	m.SetFitted()
	return m
}

func (t *Trainer) computeGradients() {
	for i := range t.margins {
		t.gradients[i] = t.objective.Gradient(t.margins[i], t.y[i])
		t.hessians[i] = t.objective.Hessian(t.margins[i], t.y[i])
	}
}

// subsample draws the row set for one round without replacement. A fraction
// of 1 (or more) uses every row.
func (t *Trainer) subsample(rng *rand.Rand, rows int) []int {
	n := rows
	if t.params.Subsample > 0 && t.params.Subsample < 1 {
		n = int(float64(rows) * t.params.Subsample)
		if n < 1 {
			n = 1
		}
	}

	indices := rng.Perm(rows)[:n]
	sort.Ints(indices)
	return indices
}

func (t *Trainer) updateMargins(tree Tree) {
	for i := range t.margins {
		t.margins[i] += t.params.LearningRate * tree.predictRow(t.X, i)
	}
}

func (t *Trainer) buildTree(indices []int, round int) (Tree, error) {
	tree := Tree{}
	t.buildNode(&tree, indices, 0)

	for _, node := range tree.Nodes {
		if node.Type == LeafNode {
			if err := errors.CheckScalar("leaf value", node.LeafValue, round); err != nil {
				return Tree{}, err
			}
		}
	}
	return tree, nil
}

// buildNode grows the subtree rooted at the given rows and returns its node
// index.
func (t *Trainer) buildNode(tree *Tree, indices []int, depth int) int {
	nodeIdx := len(tree.Nodes)

	if depth >= t.params.MaxDepth || len(indices) <= 2*minChildSamples {
		tree.Nodes = append(tree.Nodes, t.leaf(indices))
		return nodeIdx
	}

	best := t.findBestSplit(indices)
	// Gamma prunes splits whose gain does not clear the bar.
	if best.Gain <= t.params.Gamma {
		tree.Nodes = append(tree.Nodes, t.leaf(indices))
		return nodeIdx
	}

	tree.Nodes = append(tree.Nodes, Node{
		Type:       SplitNode,
		Feature:    best.Feature,
		Threshold:  best.Threshold,
		Gain:       best.Gain,
		LeftChild:  -1,
		RightChild: -1,
	})

	var left, right []int
	for _, idx := range indices {
		if t.X.At(idx, best.Feature) <= best.Threshold {
			left = append(left, idx)
		} else {
			right = append(right, idx)
		}
	}

	tree.Nodes[nodeIdx].LeftChild = t.buildNode(tree, left, depth+1)
	tree.Nodes[nodeIdx].RightChild = t.buildNode(tree, right, depth+1)
	return nodeIdx
}

func (t *Trainer) leaf(indices []int) Node {
	return Node{
		Type:       LeafNode,
		LeafValue:  t.leafValue(indices),
		LeftChild:  -1,
		RightChild: -1,
	}
}

// leafValue is the regularized Newton step for the leaf: L1 soft-thresholds
// the gradient sum, L2 pads the hessian sum.
func (t *Trainer) leafValue(indices []int) float64 {
	sumGrad := 0.0
	sumHess := 0.0
	for _, idx := range indices {
		sumGrad += t.gradients[idx]
		sumHess += t.hessians[idx]
	}
	return -softThreshold(sumGrad, t.params.Alpha) / (sumHess + t.params.Lambda + 1e-10)
}

func softThreshold(g, alpha float64) float64 {
	switch {
	case g > alpha:
		return g - alpha
	case g < -alpha:
		return g + alpha
	default:
		return 0
	}
}

type splitInfo struct {
	Feature   int
	Threshold float64
	Gain      float64
}

// findBestSplit searches every feature for the highest-gain threshold. The
// search parallelizes across features with a per-worker best that is
// reduced at the end.
func (t *Trainer) findBestSplit(indices []int) splitInfo {
	_, cols := t.X.Dims()

	var mu sync.Mutex
	best := splitInfo{Gain: math.Inf(-1)}

	parallel.Parallelize(cols, t.workers, func(start, end int) {
		local := splitInfo{Gain: math.Inf(-1)}
		for j := start; j < end; j++ {
			if split := t.findBestSplitForFeature(indices, j); split.Gain > local.Gain {
				local = split
			}
		}
		mu.Lock()
		if local.Gain > best.Gain {
			best = local
		}
		mu.Unlock()
	})

	return best
}

func (t *Trainer) findBestSplitForFeature(indices []int, feature int) splitInfo {
	type rowValue struct {
		value float64
		idx   int
	}
	values := make([]rowValue, len(indices))
	for i, idx := range indices {
		values[i] = rowValue{value: t.X.At(idx, feature), idx: idx}
	}
	sort.Slice(values, func(a, b int) bool { return values[a].value < values[b].value })

	totalGrad := 0.0
	totalHess := 0.0
	for _, idx := range indices {
		totalGrad += t.gradients[idx]
		totalHess += t.hessians[idx]
	}

	best := splitInfo{Feature: feature, Gain: math.Inf(-1)}
	leftGrad := 0.0
	leftHess := 0.0

	for i := 0; i < len(values)-1; i++ {
		leftGrad += t.gradients[values[i].idx]
		leftHess += t.hessians[values[i].idx]

		if values[i].value == values[i+1].value {
			continue
		}
		leftCount := i + 1
		rightCount := len(values) - leftCount
		if leftCount < minChildSamples || rightCount < minChildSamples {
			continue
		}

		gain := t.splitGain(leftGrad, leftHess, totalGrad-leftGrad, totalHess-leftHess, totalGrad, totalHess)
		if gain > best.Gain {
			best.Gain = gain
			best.Threshold = (values[i].value + values[i+1].value) / 2
		}
	}
	return best
}

func (t *Trainer) splitGain(leftGrad, leftHess, rightGrad, rightHess, totalGrad, totalHess float64) float64 {
	lambda := t.params.Lambda
	leftScore := (leftGrad * leftGrad) / (leftHess + lambda)
	rightScore := (rightGrad * rightGrad) / (rightHess + lambda)
	totalScore := (totalGrad * totalGrad) / (totalHess + lambda)
	return 0.5 * (leftScore + rightScore - totalScore)
}
