// Package brainage runs the full estimation pipeline: each input image is
// preprocessed, brain-extracted, registered to the template, augmented into
// a batch of perturbed two-channel inputs and pushed through the pretrained
// network; the per-replica predictions are averaged into one age and gender
// estimate per subject.
package brainage

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/ANTsXNet/BrainAgeGender/internal/models"

	"github.com/ANTsXNet/BrainAgeGender/pkg/augment"
	"github.com/ANTsXNet/BrainAgeGender/pkg/config"
	"github.com/ANTsXNet/BrainAgeGender/pkg/extract"
	"github.com/ANTsXNet/BrainAgeGender/pkg/model"
	"github.com/ANTsXNet/BrainAgeGender/pkg/preprocess"
	"github.com/ANTsXNet/BrainAgeGender/pkg/register"
	"github.com/ANTsXNet/BrainAgeGender/pkg/results"
	"github.com/ANTsXNet/BrainAgeGender/pkg/template"
	"github.com/ANTsXNet/BrainAgeGender/pkg/visualization"
	"github.com/ANTsXNet/BrainAgeGender/pkg/volume"
)

// Params holds the pipeline configuration.
type Params struct {
	// Inputs lists the images to process, NIfTI files or DICOM series
	// directories, in output order.
	Inputs []string

	// OutputFile receives the CSV results; empty means print a table to
	// stdout instead.
	OutputFile string

	// Config carries the preprocessing, augmentation and asset settings.
	Config *config.Config

	// Logger receives progress output.
	Logger zerolog.Logger

	// Predictor overrides the pretrained network when non-nil, so tests
	// can run the pipeline without downloaded weights.
	Predictor model.Predictor

	// Assets overrides the downloaded reference space when non-nil.
	Assets *template.Assets
}

// Pipeline executes the estimation for a batch of subjects.
type Pipeline struct {
	params *Params
	table  results.Table
}

// NewPipeline creates a pipeline instance with the provided parameters.
func NewPipeline(params *Params) *Pipeline {
	return &Pipeline{params: params}
}

// Results returns the accumulated per-subject table after Run.
func (p *Pipeline) Results() *results.Table {
	return &p.table
}

// Run executes the pipeline for every input in order.
func (p *Pipeline) Run() error {
	logger := p.params.Logger
	cfg := p.params.Config

	logger.Info().Msg("step 1: preparing template assets")
	assets := p.params.Assets
	if assets == nil {
		var err error
		assets, err = template.Prepare(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to prepare template assets: %w", err)
		}
	}

	logger.Info().Msg("step 2: loading network weights")
	predictor := p.params.Predictor
	if predictor == nil {
		network := model.NewNetwork(model.DefaultConfig())
		if err := network.LoadWeights(assets.WeightsPath); err != nil {
			return fmt.Errorf("failed to load network weights: %w", err)
		}
		predictor = network
	}

	for i, input := range p.params.Inputs {
		logger.Info().
			Int("subject", i+1).
			Int("total", len(p.params.Inputs)).
			Str("input", input).
			Msg("step 3: processing subject")

		result, err := p.processSubject(input, assets, predictor)
		if err != nil {
			return fmt.Errorf("failed to process %s: %w", input, err)
		}
		p.table.Append(result)

		logger.Info().
			Str("input", input).
			Float64("age", result.AgeMean).
			Float64("ageStd", result.AgeStd).
			Float64("gender", result.GenderMean).
			Msg("subject finished")

		if dir := cfg.Output.PlotDir; dir != "" {
			if err := results.PlotReplicaAges(dir, result); err != nil {
				logger.Warn().Err(err).Str("input", input).Msg("could not write age histogram")
			}
		}
	}

	logger.Info().Msg("step 4: writing results")
	if p.params.OutputFile != "" {
		if err := p.table.WriteCSV(p.params.OutputFile); err != nil {
			return err
		}
		logger.Info().Str("file", p.params.OutputFile).Msg("results written")
	}
	return nil
}

// processSubject runs the per-image stages and aggregates the replica
// predictions.
func (p *Pipeline) processSubject(input string, assets *template.Assets, predictor model.Predictor) (models.SubjectResult, error) {
	cfg := p.params.Config
	logger := p.params.Logger

	img, err := volume.ReadImage(input)
	if err != nil {
		return models.SubjectResult{}, err
	}

	logger.Debug().Ints("dims", dimsSlice(img)).Msg("image loaded")

	mask := extract.NewExtractor().Mask(img)

	pre, err := preprocess.Run(img, preprocess.Options{
		BiasCorrection: cfg.Preprocessing.BiasCorrection,
		Denoise:        cfg.Preprocessing.Denoise,
		MatchingMode:   cfg.Preprocessing.IntensityMatching,
		Reference:      assets.Template,
		Mask:           mask,
		Logger:         logger,
	})
	if err != nil {
		return models.SubjectResult{}, err
	}

	masked, err := pre.ApplyMask(mask)
	if err != nil {
		return models.SubjectResult{}, err
	}
	brain := masked.NormalizeIntensity(mask)

	regOpts := register.DefaultOptions()
	regOpts.Logger = logger
	transform, err := register.Register(assets.Brain, brain, regOpts)
	if err != nil {
		return models.SubjectResult{}, err
	}

	// Warp the subject brain onto the template grid, then renormalize so
	// the intensity channel matches what the network was trained on. The
	// subsampled input is resampled from the normalized warp onto the
	// half-resolution template grid.
	warped := brain.ResampleToGrid(assets.Brain, transform).NormalizeIntensity(assets.Mask)
	warpedSub := warped.ResampleToGrid(assets.TemplateSubsampled, nil)

	diff, err := warped.Sub(assets.PopulationAverage)
	if err != nil {
		return models.SubjectResult{}, err
	}
	diffSub, err := warpedSub.Sub(assets.PopulationAverageSubsampled)
	if err != nil {
		return models.SubjectResult{}, err
	}

	if dir := cfg.Output.PlotDir; dir != "" {
		viewer := visualization.NewViewer(warped)
		if err := viewer.SaveMidSlices(dir, subjectPrefix(input)); err != nil {
			logger.Warn().Err(err).Str("input", input).Msg("could not write QC slices")
		}
	}

	sampler := augment.NewSampler(augment.Options{
		Count:             cfg.Augmentation.SamplesPerSubject,
		PatchSize:         cfg.Augmentation.PatchSize,
		Margin:            cfg.Augmentation.CropMargin,
		JitterRotation:    cfg.Augmentation.JitterRotation,
		JitterTranslation: cfg.Augmentation.JitterTranslation,
		JitterScale:       cfg.Augmentation.JitterScale,
		Seed:              cfg.Augmentation.Seed,
	})
	batch, err := sampler.Sample(warped, diff, warpedSub, diffSub)
	if err != nil {
		return models.SubjectResult{}, err
	}

	preds, err := predictor.Predict(batch)
	if err != nil {
		return models.SubjectResult{}, err
	}

	return results.Aggregate(input, preds), nil
}

func dimsSlice(v *volume.Volume) []int {
	d := v.Dims()
	return d[:]
}

// subjectPrefix derives a file-name stem for per-subject QC outputs.
func subjectPrefix(input string) string {
	base := filepath.Base(input)
	for ext := filepath.Ext(base); ext != ""; ext = filepath.Ext(base) {
		base = base[:len(base)-len(ext)]
	}
	return base
}
