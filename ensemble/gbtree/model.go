// Package gbtree implements gradient-boosted decision trees for binary
// classification, the GBT backend of the training job.
package gbtree

import (
	"gonum.org/v1/gonum/mat"

	"github.com/cloudtree-ml/cloudtree/core/model"
	"github.com/cloudtree-ml/cloudtree/metrics"
	"github.com/cloudtree-ml/cloudtree/pkg/errors"
)

// NodeType distinguishes split nodes from leaves.
type NodeType int

const (
	// SplitNode routes rows by a feature threshold.
	SplitNode NodeType = iota
	// LeafNode holds an output value.
	LeafNode
)

// Node is one node of a boosted tree. Children are indices into the owning
// tree's Nodes slice; -1 means none.
type Node struct {
	Type       NodeType
	Feature    int
	Threshold  float64
	LeftChild  int
	RightChild int
	LeafValue  float64
	Gain       float64
}

// Tree is a single regression tree in the ensemble.
type Tree struct {
	Nodes []Node
}

// predictRow walks the tree for one feature row.
func (t *Tree) predictRow(X *mat.Dense, row int) float64 {
	idx := 0
	for idx >= 0 && idx < len(t.Nodes) {
		node := t.Nodes[idx]
		if node.Type == LeafNode {
			return node.LeafValue
		}
		if X.At(row, node.Feature) <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
	}
	return 0
}

// Model is a fitted gradient-boosted ensemble. Fields are exported for gob
// persistence.
type Model struct {
	model.BaseEstimator

	Trees        []Tree
	NumFeatures  int
	LearningRate float64
	InitScore    float64
}

// Margin returns the raw ensemble score for one row.
func (m *Model) Margin(X *mat.Dense, row int) float64 {
	score := m.InitScore
	for _, tree := range m.Trees {
		score += m.LearningRate * tree.predictRow(X, row)
	}
	return score
}

// Predict returns the positive-class probability for each row of X.
func (m *Model) Predict(X mat.Matrix) (*mat.VecDense, error) {
	if !m.IsFitted() {
		return nil, errors.NewNotFittedError("gbtree.Model", "Predict")
	}
	dense, err := denseFrom(X)
	if err != nil {
		return nil, err
	}
	rows, cols := dense.Dims()
	if cols != m.NumFeatures {
		return nil, errors.NewDimensionError("Predict", m.NumFeatures, cols, 1)
	}

	out := mat.NewVecDense(rows, nil)
	for i := 0; i < rows; i++ {
		out.SetVec(i, sigmoid(m.Margin(dense, i)))
	}
	return out, nil
}

// PredictClasses thresholds the probabilities at 0.5.
func (m *Model) PredictClasses(X mat.Matrix) (*mat.VecDense, error) {
	probs, err := m.Predict(X)
	if err != nil {
		return nil, err
	}
	for i := 0; i < probs.Len(); i++ {
		if probs.AtVec(i) >= 0.5 {
			probs.SetVec(i, 1)
		} else {
			probs.SetVec(i, 0)
		}
	}
	return probs, nil
}

// Score returns classification accuracy on (X, y).
func (m *Model) Score(X, y mat.Matrix) (float64, error) {
	classes, err := m.PredictClasses(X)
	if err != nil {
		return 0, err
	}
	yVec, err := vecFrom(y)
	if err != nil {
		return 0, err
	}
	return metrics.Accuracy(yVec, classes)
}

// SaveModel persists the ensemble with gob.
func (m *Model) SaveModel(path string) error {
	return model.SaveModel(m, path)
}

// LoadModel restores a persisted ensemble.
func LoadModel(path string) (*Model, error) {
	m := &Model{}
	if err := model.LoadModel(m, path); err != nil {
		return nil, err
	}
	m.SetFitted()
	return m, nil
}

func denseFrom(X mat.Matrix) (*mat.Dense, error) {
	if X == nil {
		return nil, errors.NewValueError("Predict", "input matrix is nil")
	}
	if d, ok := X.(*mat.Dense); ok {
		return d, nil
	}
	rows, cols := X.Dims()
	d := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			d.Set(i, j, X.At(i, j))
		}
	}
	return d, nil
}

func vecFrom(y mat.Matrix) (*mat.VecDense, error) {
	if y == nil {
		return nil, errors.NewValueError("Score", "label matrix is nil")
	}
	if v, ok := y.(*mat.VecDense); ok {
		return v, nil
	}
	rows, _ := y.Dims()
	v := mat.NewVecDense(rows, nil)
	for i := 0; i < rows; i++ {
		v.SetVec(i, y.At(i, 0))
	}
	return v, nil
}

