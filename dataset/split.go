package dataset

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/cloudtree-ml/cloudtree/pkg/errors"
)

// DefaultTestFraction is the holdout share of each fold's split.
const DefaultTestFraction = 0.25

// Split is one train/test partition of the loaded table.
type Split struct {
	XTrain, XTest *mat.Dense
	YTrain, YTest []float64
}

// TrainTestSplit shuffles the table and carves off testFraction of the rows
// as the holdout. The seed varies per fold so repeated splits of the same
// table exercise different holdouts, which is what makes averaging fold
// scores meaningful.
func TrainTestSplit(t *Table, testFraction float64, seed int) (*Split, error) {
	if t == nil || t.Samples() == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "splitting dataset")
	}
	if testFraction <= 0 || testFraction >= 1 {
		return nil, errors.NewValidationError("test_fraction", "must be in (0, 1)", testFraction)
	}

	nSamples := t.Samples()
	nTest := int(float64(nSamples) * testFraction)
	if nTest == 0 {
		nTest = 1
	}
	if nTest >= nSamples {
		return nil, errors.NewValidationError("test_fraction", "leaves no training rows", testFraction)
	}

	indices := make([]int, nSamples)
	for i := range indices {
		indices[i] = i
	}
	r := rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
	r.Shuffle(len(indices), func(i, j int) {
		indices[i], indices[j] = indices[j], indices[i]
	})

	return &Split{
		XTrain: takeRows(t.X, indices[nTest:]),
		YTrain: takeLabels(t.Y, indices[nTest:]),
		XTest:  takeRows(t.X, indices[:nTest]),
		YTest:  takeLabels(t.Y, indices[:nTest]),
	}, nil
}

func takeRows(X *mat.Dense, indices []int) *mat.Dense {
	_, cols := X.Dims()
	out := mat.NewDense(len(indices), cols, nil)
	for i, idx := range indices {
		out.SetRow(i, mat.Row(nil, idx, X))
	}
	return out
}

func takeLabels(y []float64, indices []int) []float64 {
	out := make([]float64, len(indices))
	for i, idx := range indices {
		out[i] = y[idx]
	}
	return out
}
