// Package report renders a per-fold accuracy chart next to the saved model,
// giving the sweep operator a quick visual of fold variance for a trial.
package report

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/cloudtree-ml/cloudtree/pkg/errors"
	"github.com/cloudtree-ml/cloudtree/pkg/log"
)

// SaveFoldChart writes a bar chart of fold accuracies to path (format from
// the extension, e.g. .png).
func SaveFoldChart(scores []float64, path string) error {
	if len(scores) == 0 {
		return errors.Wrap(errors.ErrNoScores, "rendering fold chart")
	}

	p := plot.New()
	p.Title.Text = "Accuracy per fold"
	p.Y.Label.Text = "accuracy"
	p.Y.Min = 0
	p.Y.Max = 1

	bars, err := plotter.NewBarChart(plotter.Values(scores), vg.Points(30))
	if err != nil {
		return errors.Wrap(err, "building fold chart")
	}
	p.Add(bars)

	labels := make([]string, len(scores))
	for i := range labels {
		labels[i] = fmt.Sprintf("fold %d", i)
	}
	p.NominalX(labels...)

	if err := p.Save(vg.Points(80*float64(len(scores))+120), vg.Points(300), path); err != nil {
		return errors.Wrapf(err, "saving fold chart to %s", path)
	}

	log.GetLoggerWithName("report").Info("fold chart written", "path", path, "folds", len(scores))
	return nil
}
