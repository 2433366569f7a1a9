package model

import "gonum.org/v1/gonum/mat"

// Predictor produces a prediction per row of a feature matrix.
type Predictor interface {
	Predict(X mat.Matrix) (*mat.VecDense, error)
}

// Scorer evaluates a fitted model against held-out data.
type Scorer interface {
	Score(X, y mat.Matrix) (float64, error)
}

// Persistable models serialize themselves to a file path.
type Persistable interface {
	SaveModel(path string) error
}

// Trained is the surface the trial runner needs from a fitted backend.
type Trained interface {
	Predictor
	Scorer
	Persistable
	IsFitted() bool
}
