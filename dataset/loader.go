package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/cloudtree-ml/cloudtree/pkg/errors"
	"github.com/cloudtree-ml/cloudtree/pkg/log"
)

// Table holds the in-memory dataset after ETL: a dense feature matrix and a
// parallel label vector.
type Table struct {
	X *mat.Dense
	Y []float64

	// DroppedRows counts input rows discarded for missing or non-numeric
	// values, mirrored into the run log for drift debugging.
	DroppedRows int
}

// Samples returns the row count.
func (t *Table) Samples() int {
	if t.X == nil {
		return 0
	}
	r, _ := t.X.Dims()
	return r
}

// Features returns the feature column count.
func (t *Table) Features() int {
	if t.X == nil {
		return 0
	}
	_, c := t.X.Dims()
	return c
}

// Load reads every partition into a single table. All partitions must share
// the header of the first one; target names the label column, or the last
// column when empty. Rows with empty or non-numeric cells are dropped rather
// than imputed, matching the upstream ETL contract.
func Load(files []string, target string) (*Table, error) {
	logger := log.GetLoggerWithName("dataset")

	if len(files) == 0 {
		return nil, errors.Wrap(errors.ErrNoDataFiles, "loading partitions")
	}

	var (
		header    []string
		targetCol = -1
		rows      [][]float64
		labels    []float64
		dropped   int
	)

	for _, file := range files {
		err := func() error {
			f, err := os.Open(file)
			if err != nil {
				return errors.Wrapf(err, "opening partition %s", file)
			}
			defer func() { _ = f.Close() }()

			r := csv.NewReader(f)
			r.ReuseRecord = true

			head, err := r.Read()
			if err != nil {
				return errors.Wrapf(err, "reading header of %s", file)
			}
			if header == nil {
				header = append([]string(nil), head...)
				targetCol = findTarget(header, target)
				if targetCol < 0 {
					return errors.NewValidationError("target", "label column not found", target)
				}
			} else if len(head) != len(header) {
				return errors.NewDimensionError("load", len(header), len(head), 1)
			}

			for {
				record, err := r.Read()
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return errors.Wrapf(err, "reading %s", file)
				}

				values, ok := parseRow(record)
				if !ok {
					dropped++
					continue
				}
				labels = append(labels, values[targetCol])
				rows = append(rows, dropColumn(values, targetCol))
			}
		}()
		if err != nil {
			return nil, err
		}
	}

	if len(rows) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "all rows dropped during load")
	}
	if dropped > 0 {
		errors.Warn(errors.NewDataConversionWarning("csv", "float64",
			fmt.Sprintf("%d rows dropped with missing or non-numeric values", dropped)))
	}

	nFeatures := len(rows[0])
	X := mat.NewDense(len(rows), nFeatures, nil)
	for i, row := range rows {
		X.SetRow(i, row)
	}

	logger.Info("partitions loaded",
		log.DataFilesKey, len(files),
		log.SamplesKey, len(rows),
		log.FeaturesKey, nFeatures,
		log.DroppedRowsKey, dropped)

	return &Table{X: X, Y: labels, DroppedRows: dropped}, nil
}

// Merge concatenates tables row-wise. Cluster modes load partitions on
// separate workers and merge the per-worker tables afterwards.
func Merge(tables ...*Table) (*Table, error) {
	var (
		total    int
		features int
		dropped  int
	)
	for _, t := range tables {
		if t == nil || t.Samples() == 0 {
			continue
		}
		if features == 0 {
			features = t.Features()
		} else if t.Features() != features {
			return nil, errors.NewDimensionError("merge", features, t.Features(), 1)
		}
		total += t.Samples()
		dropped += t.DroppedRows
	}
	if total == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "merging partitions")
	}

	X := mat.NewDense(total, features, nil)
	Y := make([]float64, 0, total)
	row := 0
	for _, t := range tables {
		if t == nil || t.Samples() == 0 {
			continue
		}
		for i := 0; i < t.Samples(); i++ {
			X.SetRow(row, mat.Row(nil, i, t.X))
			row++
		}
		Y = append(Y, t.Y...)
	}
	return &Table{X: X, Y: Y, DroppedRows: dropped}, nil
}

// findTarget resolves the label column index; empty target means the last
// column.
func findTarget(header []string, target string) int {
	if target == "" {
		return len(header) - 1
	}
	for i, name := range header {
		if name == target {
			return i
		}
	}
	return -1
}

// parseRow converts a CSV record to float64s, reporting ok=false when any
// cell is empty or non-numeric so the caller can drop the row.
func parseRow(record []string) ([]float64, bool) {
	values := make([]float64, len(record))
	for i, cell := range record {
		if cell == "" {
			return nil, false
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil || math.IsNaN(v) {
			return nil, false
		}
		values[i] = v
	}
	return values, true
}

func dropColumn(values []float64, col int) []float64 {
	out := make([]float64, 0, len(values)-1)
	out = append(out, values[:col]...)
	return append(out, values[col+1:]...)
}
