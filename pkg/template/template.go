// Package template prepares the fixed reference space of the pipeline: it
// downloads the canonical brain template and the population-average images
// on first use, resamples them to the fixed 192x224x192 voxel grid (and its
// half-resolution counterpart), computes a brain probability mask on the
// template and derives the normalized, masked template brain used as the
// registration fixed image.
package template

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/ANTsXNet/BrainAgeGender/pkg/config"
	"github.com/ANTsXNet/BrainAgeGender/pkg/download"
	"github.com/ANTsXNet/BrainAgeGender/pkg/extract"
	"github.com/ANTsXNet/BrainAgeGender/pkg/volume"
)

// Fixed template grid. Every volume entering the network shares this
// geometry (or its half-resolution counterpart).
const (
	GridX = 192
	GridY = 224
	GridZ = 192
)

// Cached asset filenames inside the cache directory.
const (
	TemplateFile                    = "brainAgeTemplate.nii.gz"
	TemplateSubsampledFile          = "brainAgeTemplateSubsampled.nii.gz"
	PopulationAverageFile           = "brainAgePopulationAverage.nii.gz"
	PopulationAverageSubsampledFile = "brainAgePopulationAverageSubsampled.nii.gz"
	WeightsFile                     = "brainAgeGenderWeights.npy"
)

// Assets holds the prepared reference-space volumes, all resampled to the
// fixed grid (or its half-resolution counterpart) and ready for use.
type Assets struct {
	// Template is the resampled raw template on the full grid.
	Template *volume.Volume

	// Brain is the normalized, masked template brain: the registration
	// fixed image.
	Brain *volume.Volume

	// TemplateSubsampled is the half-resolution template grid the
	// subsampled network input is warped onto.
	TemplateSubsampled *volume.Volume

	// Mask is the brain probability mask computed on the template.
	Mask *volume.Volume

	// PopulationAverage is the difference-channel source on the full grid.
	PopulationAverage *volume.Volume

	// PopulationAverageSubsampled is its half-resolution counterpart.
	PopulationAverageSubsampled *volume.Volume

	// TemplatePath is the cached template file, reused as a NIfTI header
	// source when writing volumes.
	TemplatePath string

	// WeightsPath is the cached pretrained-weights file.
	WeightsPath string
}

// SubsampledDims returns the half-resolution grid dimensions.
func SubsampledDims() [3]int {
	return [3]int{GridX / 2, GridY / 2, GridZ / 2}
}

// Prepare downloads any missing assets and builds the reference space.
// Download failures are fatal; there is no retry.
func Prepare(cfg *config.Config, logger zerolog.Logger) (*Assets, error) {
	cacheDir := cfg.Assets.CacheDir
	fetches := []struct {
		url  string
		file string
	}{
		{cfg.Assets.TemplateURL, TemplateFile},
		{cfg.Assets.TemplateSubsampledURL, TemplateSubsampledFile},
		{cfg.Assets.PopulationAverageURL, PopulationAverageFile},
		{cfg.Assets.PopulationAverageSubsampledURL, PopulationAverageSubsampledFile},
		{cfg.Assets.WeightsURL, WeightsFile},
	}
	for _, f := range fetches {
		path := filepath.Join(cacheDir, f.file)
		logger.Debug().Str("file", f.file).Msg("checking cached asset")
		if err := download.Fetch(f.url, path); err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", f.file, err)
		}
	}

	templatePath := filepath.Join(cacheDir, TemplateFile)
	raw, err := volume.ReadNIfTI(templatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	tpl := raw.Resample(GridX, GridY, GridZ)

	sub := SubsampledDims()
	rawSub, err := volume.ReadNIfTI(filepath.Join(cacheDir, TemplateSubsampledFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read subsampled template: %w", err)
	}
	tplSub := rawSub.Resample(sub[0], sub[1], sub[2])

	popAvg, err := volume.ReadNIfTI(filepath.Join(cacheDir, PopulationAverageFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read population average: %w", err)
	}
	popAvg = popAvg.Resample(GridX, GridY, GridZ)

	popAvgSub, err := volume.ReadNIfTI(filepath.Join(cacheDir, PopulationAverageSubsampledFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read subsampled population average: %w", err)
	}
	popAvgSub = popAvgSub.Resample(sub[0], sub[1], sub[2])

	logger.Info().
		Ints("grid", []int{GridX, GridY, GridZ}).
		Msg("computing template brain mask")
	mask := extract.NewExtractor().Mask(tpl)

	masked, err := tpl.ApplyMask(mask)
	if err != nil {
		return nil, fmt.Errorf("failed to mask template: %w", err)
	}
	brain := masked.NormalizeIntensity(mask)

	return &Assets{
		Template:                    tpl,
		Brain:                       brain,
		TemplateSubsampled:          tplSub,
		Mask:                        mask,
		PopulationAverage:           popAvg,
		PopulationAverageSubsampled: popAvgSub,
		TemplatePath:                templatePath,
		WeightsPath:                 filepath.Join(cacheDir, WeightsFile),
	}, nil
}
