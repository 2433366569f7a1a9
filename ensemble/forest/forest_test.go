package forest

import (
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/cloudtree-ml/cloudtree/job"
)

func defaultParams() job.ForestParams {
	return job.ForestParams{
		MaxDepth:    5,
		NEstimators: 10,
		MaxFeatures: 1.0,
		Seed:        1,
	}
}

func separableData(n int) (*mat.Dense, []float64) {
	X := mat.NewDense(n, 3, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			X.Set(i, 0, float64(i%10))
			y[i] = 0
		} else {
			X.Set(i, 0, float64(50+i%10))
			y[i] = 1
		}
		X.Set(i, 1, float64(i%3))
		X.Set(i, 2, float64(i%5))
	}
	return X, y
}

func TestClassifierFitSeparable(t *testing.T) {
	X, y := separableData(200)

	clf := NewClassifier(defaultParams(), 4)
	if err := clf.Fit(X, y); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	model := clf.Model()
	if !model.IsFitted() {
		t.Fatal("model not marked fitted")
	}
	if len(model.Trees) != 10 {
		t.Errorf("trees = %d, want 10", len(model.Trees))
	}

	score, err := model.Score(X, mat.NewVecDense(len(y), y))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score < 0.95 {
		t.Errorf("training accuracy = %v, want >= 0.95 on separable data", score)
	}
}

func TestClassifierFeatureSubsampling(t *testing.T) {
	X, y := separableData(200)

	params := defaultParams()
	params.MaxFeatures = 0.25
	params.NEstimators = 30

	clf := NewClassifier(params, 2)
	if err := clf.Fit(X, y); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// One informative feature out of three, 0.25 fraction means one random
	// feature per split; a large enough forest still finds the signal.
	score, err := clf.Model().Score(X, mat.NewVecDense(len(y), y))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score < 0.8 {
		t.Errorf("training accuracy = %v, want >= 0.8", score)
	}
}

func TestClassifierDeterministicAcrossWorkerCounts(t *testing.T) {
	X, y := separableData(120)

	fit := func(workers int) *mat.VecDense {
		clf := NewClassifier(defaultParams(), workers)
		if err := clf.Fit(X, y); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		pred, err := clf.Model().Predict(X)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return pred
	}

	sequential := fit(1)
	concurrent := fit(4)
	for i := 0; i < sequential.Len(); i++ {
		if sequential.AtVec(i) != concurrent.AtVec(i) {
			t.Fatalf("prediction %d depends on worker count", i)
		}
	}
}

func TestClassifierValidation(t *testing.T) {
	clf := NewClassifier(defaultParams(), 1)

	if err := clf.Fit(nil, nil); err == nil {
		t.Error("expected error for nil input")
	}

	X := mat.NewDense(3, 1, []float64{1, 2, 3})
	if err := clf.Fit(X, []float64{0, 1}); err == nil {
		t.Error("expected error for mismatched rows")
	}
	if err := clf.Fit(X, []float64{0, 1, 5}); err == nil {
		t.Error("expected error for non-binary labels")
	}

	bad := defaultParams()
	bad.NEstimators = 0
	if err := NewClassifier(bad, 1).Fit(X, []float64{0, 1, 0}); err == nil {
		t.Error("expected error for zero estimators")
	}
}

func TestPredictBeforeFit(t *testing.T) {
	m := &Model{}
	if _, err := m.Predict(mat.NewDense(1, 1, []float64{0})); err == nil {
		t.Fatal("expected NotFittedError")
	}
}

func TestModelSaveLoad(t *testing.T) {
	X, y := separableData(100)

	clf := NewClassifier(defaultParams(), 2)
	if err := clf.Fit(X, y); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	path := filepath.Join(t.TempDir(), "saved_model")
	if err := clf.Model().SaveModel(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := LoadModel(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	want, err := clf.Model().Predict(X)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := loaded.Predict(X)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < want.Len(); i++ {
		if want.AtVec(i) != got.AtVec(i) {
			t.Fatalf("prediction %d differs after reload", i)
		}
	}
}

func TestFeatureSubsetSize(t *testing.T) {
	tests := []struct {
		cols     int
		fraction float64
		want     int
	}{
		{8, 0.25, 2},
		{3, 0.25, 1},
		{4, 1.0, 4},
		{4, 0, 4},
		{4, 1.5, 4},
	}
	for _, tt := range tests {
		if got := featureSubsetSize(tt.cols, tt.fraction); got != tt.want {
			t.Errorf("featureSubsetSize(%d, %v) = %d, want %d", tt.cols, tt.fraction, got, tt.want)
		}
	}
}
