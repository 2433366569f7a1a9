package gbtree

import (
	"math"

	"github.com/cloudtree-ml/cloudtree/pkg/errors"
)

// sigmoid maps a raw margin to a probability, with the exponent stabilized
// against overflow.
func sigmoid(margin float64) float64 {
	return 1.0 / (1.0 + errors.StabilizeExp(-margin))
}

// binaryLogistic is the binary:logistic objective: first and second order
// derivatives of log loss with respect to the raw margin.
type binaryLogistic struct{}

// InitScore returns the log-odds of the base rate, the margin that makes
// the empty ensemble predict the training prior.
func (binaryLogistic) InitScore(targets []float64) float64 {
	if len(targets) == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range targets {
		sum += t
	}
	p := sum / float64(len(targets))
	p = errors.ClipValue(p, 1e-15, 1-1e-15)
	return math.Log(p / (1 - p))
}

// Gradient returns d(loss)/d(margin) for one sample.
func (binaryLogistic) Gradient(margin, target float64) float64 {
	return sigmoid(margin) - target
}

// Hessian returns the second derivative for one sample.
func (binaryLogistic) Hessian(margin, _ float64) float64 {
	p := sigmoid(margin)
	return p * (1 - p)
}
