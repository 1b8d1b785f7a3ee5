// Package results aggregates per-replica network predictions into
// per-subject estimates and writes the CSV and console outputs.
package results

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"gonum.org/v1/gonum/stat"

	"github.com/ANTsXNet/BrainAgeGender/internal/models"
)

// Aggregate reduces the replica predictions for one subject to mean and
// standard deviation. Replicas whose age came out NaN are excluded from
// both statistics; if every replica is NaN the result fields are NaN.
func Aggregate(fileName string, preds []models.Prediction) models.SubjectResult {
	result := models.SubjectResult{
		FileName:    fileName,
		ReplicaAges: make([]float64, 0, len(preds)),
	}

	ages := make([]float64, 0, len(preds))
	genders := make([]float64, 0, len(preds))
	for _, p := range preds {
		result.ReplicaAges = append(result.ReplicaAges, p.Age)
		if math.IsNaN(p.Age) || math.IsNaN(p.Gender) {
			continue
		}
		ages = append(ages, p.Age)
		genders = append(genders, p.Gender)
	}

	if len(ages) == 0 {
		result.AgeMean = math.NaN()
		result.AgeStd = math.NaN()
		result.GenderMean = math.NaN()
		result.GenderStd = math.NaN()
		return result
	}

	result.AgeMean, result.AgeStd = stat.MeanStdDev(ages, nil)
	result.GenderMean, result.GenderStd = stat.MeanStdDev(genders, nil)
	if len(ages) == 1 {
		result.AgeStd = 0
		result.GenderStd = 0
	}
	return result
}

// Table holds one subject row per input image, in command-line order.
type Table struct {
	Rows []models.SubjectResult
}

// Append adds a subject result, preserving input order.
func (t *Table) Append(r models.SubjectResult) {
	t.Rows = append(t.Rows, r)
}

// WriteCSV writes the table with a FileName,Age,Gender header.
func (t *Table) WriteCSV(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create output file %s: %w", path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write([]string{"FileName", "Age", "Gender"}); err != nil {
		return err
	}
	for _, row := range t.Rows {
		record := []string{
			row.FileName,
			strconv.FormatFloat(row.AgeMean, 'f', 4, 64),
			strconv.FormatFloat(row.GenderMean, 'f', 4, 64),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// Print writes a human-readable table, used when no output file is wanted.
func (t *Table) Print(w io.Writer) {
	fmt.Fprintf(w, "%-40s %10s %10s\n", "FileName", "Age", "Gender")
	for _, row := range t.Rows {
		fmt.Fprintf(w, "%-40s %10.4f %10.4f\n", row.FileName, row.AgeMean, row.GenderMean)
	}
}

// PlotPath returns the histogram file path for one subject inside dir.
func PlotPath(dir, fileName string) string {
	base := filepath.Base(fileName)
	for ext := filepath.Ext(base); ext != ""; ext = filepath.Ext(base) {
		base = base[:len(base)-len(ext)]
	}
	return filepath.Join(dir, base+"_ages.png")
}
