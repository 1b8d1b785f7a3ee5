package results

import (
	"fmt"
	"math"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/ANTsXNet/BrainAgeGender/internal/models"
)

// PlotReplicaAges writes a histogram of one subject's per-replica age
// predictions into dir. NaN replicas are dropped; an all-NaN subject is
// skipped without error.
func PlotReplicaAges(dir string, result models.SubjectResult) error {
	ages := make(plotter.Values, 0, len(result.ReplicaAges))
	for _, a := range result.ReplicaAges {
		if !math.IsNaN(a) {
			ages = append(ages, a)
		}
	}
	if len(ages) == 0 {
		return nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("cannot create plot directory %s: %w", dir, err)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s (age %.1f ± %.1f)", result.FileName, result.AgeMean, result.AgeStd)
	p.X.Label.Text = "predicted age (years)"
	p.Y.Label.Text = "replicas"

	bins := len(ages)
	if bins > 16 {
		bins = 16
	}
	hist, err := plotter.NewHist(ages, bins)
	if err != nil {
		return err
	}
	p.Add(hist)

	return p.Save(5*vg.Inch, 4*vg.Inch, PlotPath(dir, result.FileName))
}
