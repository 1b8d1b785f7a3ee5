package brainage

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ANTsXNet/BrainAgeGender/internal/models"
	"github.com/ANTsXNet/BrainAgeGender/pkg/augment"
	"github.com/ANTsXNet/BrainAgeGender/pkg/config"
	"github.com/ANTsXNet/BrainAgeGender/pkg/template"
	"github.com/ANTsXNet/BrainAgeGender/pkg/volume"
)

// stubPredictor returns a fixed prediction cycle regardless of the inputs.
type stubPredictor struct {
	ages    []float64
	genders []float64
}

func (s *stubPredictor) Predict(batch *augment.Batch) ([]models.Prediction, error) {
	count := batch.PatchDims[0]
	preds := make([]models.Prediction, count)
	for i := range preds {
		preds[i] = models.Prediction{
			Site:   []float64{1, 0, 0},
			Age:    s.ages[i%len(s.ages)],
			Gender: s.genders[i%len(s.genders)],
		}
	}
	return preds, nil
}

// blobVolume builds a smooth blob centered in an n-cube.
func blobVolume(n int) *volume.Volume {
	v := volume.New(n, n, n)
	c := float64(n) / 2
	const sigma = 5.0
	i := 0
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				dx, dy, dz := float64(x)-c, float64(y)-c, float64(z)-c
				v.Data[i] = math.Exp(-(dx*dx + dy*dy + dz*dz) / (2 * sigma * sigma))
				i++
			}
		}
	}
	return v
}

// testAssets builds a small synthetic reference space on an n-cube grid so
// the pipeline runs without downloads.
func testAssets(n int) *template.Assets {
	tpl := blobVolume(n)
	mask := volume.New(n, n, n)
	for i := range mask.Data {
		mask.Data[i] = 1
	}
	return &template.Assets{
		Template:                    tpl,
		Brain:                       tpl.NormalizeIntensity(mask),
		TemplateSubsampled:          tpl.Subsample(),
		Mask:                        mask,
		PopulationAverage:           volume.New(n, n, n),
		PopulationAverageSubsampled: volume.New(n/2, n/2, n/2),
	}
}

// testConfig shrinks the augmentation so small grids fit.
func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Augmentation.SamplesPerSubject = 2
	cfg.Augmentation.PatchSize = 8
	cfg.Augmentation.CropMargin = 2
	cfg.Augmentation.Seed = 7
	return cfg
}

// writeSubject saves a synthetic subject image and returns its path.
func writeSubject(t *testing.T, dir string, n int) string {
	t.Helper()
	path := filepath.Join(dir, "subject.nii")
	if err := volume.WriteNIfTI(blobVolume(n), path, ""); err != nil {
		t.Fatalf("Cannot write subject image: %v", err)
	}
	return path
}

// TestParseArgs covers the positional argument contract.
func TestParseArgs(t *testing.T) {
	if _, _, err := ParseArgs(nil); err == nil {
		t.Errorf("Expected error for no arguments")
	}
	if _, _, err := ParseArgs([]string{"out.csv"}); err == nil {
		t.Errorf("Expected error for missing inputs")
	}

	out, inputs, err := ParseArgs([]string{"out.csv", "a.nii", "b.nii"})
	if err != nil {
		t.Fatalf("ParseArgs failed: %v", err)
	}
	if out != "out.csv" {
		t.Errorf("Expected output out.csv, got %q", out)
	}
	if len(inputs) != 2 || inputs[0] != "a.nii" || inputs[1] != "b.nii" {
		t.Errorf("Unexpected inputs: %v", inputs)
	}

	for _, name := range []string{"None", "none"} {
		out, _, err := ParseArgs([]string{name, "a.nii"})
		if err != nil {
			t.Fatalf("ParseArgs failed for %q: %v", name, err)
		}
		if out != "" {
			t.Errorf("Expected %q to suppress the output file, got %q", name, out)
		}
	}

	// Only the exact literals suppress the file; any other casing is a
	// regular output path.
	out, _, err = ParseArgs([]string{"NONE", "a.nii"})
	if err != nil {
		t.Fatalf("ParseArgs failed: %v", err)
	}
	if out != "NONE" {
		t.Errorf("Expected NONE kept as an output file, got %q", out)
	}
}

// TestPipelineRunWithStub runs the whole pipeline on a synthetic subject
// with an injected predictor and checks the aggregated CSV output.
func TestPipelineRunWithStub(t *testing.T) {
	const n = 32
	dir := t.TempDir()
	input := writeSubject(t, dir, n)
	outputFile := filepath.Join(dir, "out.csv")

	pipeline := NewPipeline(&Params{
		Inputs:     []string{input},
		OutputFile: outputFile,
		Config:     testConfig(),
		Logger:     zerolog.Nop(),
		Predictor:  &stubPredictor{ages: []float64{30, 40}, genders: []float64{0.4, 0.6}},
		Assets:     testAssets(n),
	})
	if err := pipeline.Run(); err != nil {
		t.Fatalf("Pipeline failed: %v", err)
	}

	rows := pipeline.Results().Rows
	if len(rows) != 1 {
		t.Fatalf("Expected 1 result row, got %d", len(rows))
	}
	if math.Abs(rows[0].AgeMean-35) > 1e-9 {
		t.Errorf("Expected age mean 35, got %f", rows[0].AgeMean)
	}
	if math.Abs(rows[0].GenderMean-0.5) > 1e-9 {
		t.Errorf("Expected gender mean 0.5, got %f", rows[0].GenderMean)
	}
	if _, err := os.Stat(outputFile); err != nil {
		t.Errorf("Expected CSV output file: %v", err)
	}
}

// TestPipelineKeepsInputOrder processes two subjects and checks row order.
func TestPipelineKeepsInputOrder(t *testing.T) {
	const n = 32
	dir := t.TempDir()

	first := filepath.Join(dir, "first.nii")
	if err := volume.WriteNIfTI(blobVolume(n), first, ""); err != nil {
		t.Fatalf("Cannot write image: %v", err)
	}
	second := filepath.Join(dir, "second.nii")
	if err := volume.WriteNIfTI(blobVolume(n), second, ""); err != nil {
		t.Fatalf("Cannot write image: %v", err)
	}

	pipeline := NewPipeline(&Params{
		Inputs:    []string{first, second},
		Config:    testConfig(),
		Logger:    zerolog.Nop(),
		Predictor: &stubPredictor{ages: []float64{50}, genders: []float64{0.5}},
		Assets:    testAssets(n),
	})
	if err := pipeline.Run(); err != nil {
		t.Fatalf("Pipeline failed: %v", err)
	}

	rows := pipeline.Results().Rows
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if rows[0].FileName != first || rows[1].FileName != second {
		t.Errorf("Rows out of order: %s, %s", rows[0].FileName, rows[1].FileName)
	}
}

// TestPipelineMissingInput surfaces the read error.
func TestPipelineMissingInput(t *testing.T) {
	pipeline := NewPipeline(&Params{
		Inputs:    []string{"/nonexistent/subject.nii"},
		Config:    testConfig(),
		Logger:    zerolog.Nop(),
		Predictor: &stubPredictor{ages: []float64{50}, genders: []float64{0.5}},
		Assets:    testAssets(32),
	})
	if err := pipeline.Run(); err == nil {
		t.Fatalf("Expected error for missing input image")
	}
}
