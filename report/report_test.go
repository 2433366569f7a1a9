package report

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveFoldChart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "folds.png")

	if err := SaveFoldChart([]float64{0.91, 0.88, 0.93}, path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("chart not written: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("chart file is empty")
	}
}

func TestSaveFoldChartNoScores(t *testing.T) {
	if err := SaveFoldChart(nil, filepath.Join(t.TempDir(), "folds.png")); err == nil {
		t.Fatal("expected error for empty scores")
	}
}
