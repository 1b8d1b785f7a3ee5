// Package preprocess applies the image-level cleanup steps that precede
// registration: N4-style bias field correction, median-filter denoising and
// optional intensity matching against a reference image. Steps run in a
// fixed order and are independently toggleable; with everything disabled the
// input volume is returned untouched.
package preprocess

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/ANTsXNet/BrainAgeGender/pkg/volume"
)

// Matching modes accepted by Options.MatchingMode.
const (
	MatchingNone       = "none"
	MatchingRegression = "regression"
	MatchingHistogram  = "histogram"
)

const (
	biasFieldSigma     = 8.0
	biasIterations     = 3
	matchingQuantiles  = 101
	histogramBins      = 256
	medianFilterRadius = 1
)

// Options selects which preprocessing steps run and how.
type Options struct {
	// BiasCorrection toggles the multiplicative bias field estimate.
	BiasCorrection bool

	// Denoise toggles the 3x3x3 median filter.
	Denoise bool

	// MatchingMode is one of "none", "regression" or "histogram". Empty
	// means none. Any other value is a configuration error.
	MatchingMode string

	// Reference is the intensity-matching target; required for any mode
	// other than none.
	Reference *volume.Volume

	// Mask, when set, restricts bias correction and denoising to voxels
	// with probability above 0.5.
	Mask *volume.Volume

	// Logger receives per-step progress when verbose logging is enabled.
	Logger zerolog.Logger
}

// Run applies the configured steps in order: bias correction, denoising,
// intensity matching. The input is never mutated; when no step is enabled
// the input volume itself is returned.
func Run(img *volume.Volume, opts Options) (*volume.Volume, error) {
	mode := opts.MatchingMode
	if mode == "" {
		mode = MatchingNone
	}
	if mode != MatchingNone && mode != MatchingRegression && mode != MatchingHistogram {
		return nil, fmt.Errorf("unrecognized intensity matching mode %q", opts.MatchingMode)
	}
	if mode != MatchingNone && opts.Reference == nil {
		return nil, fmt.Errorf("intensity matching mode %q requires a reference image", mode)
	}

	out := img

	if opts.BiasCorrection {
		opts.Logger.Debug().Msg("bias field correction")
		out = biasCorrect(out, opts.Mask)
	}

	if opts.Denoise {
		opts.Logger.Debug().Msg("median filter denoising")
		out = medianFilter(out, opts.Mask)
	}

	switch mode {
	case MatchingRegression:
		opts.Logger.Debug().Msg("regression intensity matching")
		out = regressionMatch(out, opts.Reference)
	case MatchingHistogram:
		opts.Logger.Debug().Msg("histogram intensity matching")
		out = histogramMatch(out, opts.Reference)
	}

	return out, nil
}

// inMask reports whether voxel i participates in a masked step.
func inMask(mask *volume.Volume, i int) bool {
	return mask == nil || mask.Data[i] > 0.5
}

// biasCorrect estimates a smooth multiplicative intensity field in the log
// domain and divides it out. A wide Gaussian stands in for N4's B-spline
// field model; a few fixed iterations are enough for the registration that
// follows.
func biasCorrect(img *volume.Volume, mask *volume.Volume) *volume.Volume {
	min, _ := img.MinMax()
	shift := 1.0 - min

	logImg := volume.NewLike(img)
	for i, v := range img.Data {
		logImg.Data[i] = math.Log(v + shift)
	}

	for iter := 0; iter < biasIterations; iter++ {
		field := logImg.GaussianSmooth(biasFieldSigma)

		// Recenter the field so correction does not shift the global level.
		var sum float64
		var count int
		for i := range field.Data {
			if inMask(mask, i) {
				sum += field.Data[i]
				count++
			}
		}
		if count == 0 {
			break
		}
		mean := sum / float64(count)

		for i := range logImg.Data {
			if inMask(mask, i) {
				logImg.Data[i] -= field.Data[i] - mean
			}
		}
	}

	out := volume.NewLike(img)
	for i := range logImg.Data {
		if inMask(mask, i) {
			out.Data[i] = math.Exp(logImg.Data[i]) - shift
		} else {
			out.Data[i] = img.Data[i]
		}
	}
	return out
}

// medianFilter replaces every masked voxel with the median of its 3x3x3
// neighborhood, ignoring neighbors outside the grid.
func medianFilter(img *volume.Volume, mask *volume.Volume) *volume.Volume {
	out := img.Clone()
	window := make([]float64, 0, 27)

	i := 0
	for z := 0; z < img.Nz; z++ {
		for y := 0; y < img.Ny; y++ {
			for x := 0; x < img.Nx; x++ {
				if !inMask(mask, i) {
					i++
					continue
				}
				window = window[:0]
				for dz := -medianFilterRadius; dz <= medianFilterRadius; dz++ {
					for dy := -medianFilterRadius; dy <= medianFilterRadius; dy++ {
						for dx := -medianFilterRadius; dx <= medianFilterRadius; dx++ {
							xx, yy, zz := x+dx, y+dy, z+dz
							if xx < 0 || yy < 0 || zz < 0 || xx >= img.Nx || yy >= img.Ny || zz >= img.Nz {
								continue
							}
							window = append(window, img.At(xx, yy, zz))
						}
					}
				}
				out.Data[i] = median(window)
				i++
			}
		}
	}
	return out
}

// median returns the median of values; the slice is sorted in place.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sort.Float64s(values)
	n := len(values)
	if n%2 == 0 {
		return (values[n/2-1] + values[n/2]) / 2
	}
	return values[n/2]
}

// quantiles returns count evenly spaced quantiles of the volume's
// intensities.
func quantiles(img *volume.Volume, count int) []float64 {
	sorted := make([]float64, len(img.Data))
	copy(sorted, img.Data)
	sort.Float64s(sorted)

	out := make([]float64, count)
	for i := 0; i < count; i++ {
		pos := float64(i) / float64(count-1) * float64(len(sorted)-1)
		out[i] = sorted[int(pos)]
	}
	return out
}

// regressionMatch fits a least-squares linear map from the image's
// intensity quantiles to the reference's and applies it voxelwise.
func regressionMatch(img, ref *volume.Volume) *volume.Volume {
	qImg := quantiles(img, matchingQuantiles)
	qRef := quantiles(ref, matchingQuantiles)

	alpha, beta := stat.LinearRegression(qImg, qRef, nil, false)

	out := volume.NewLike(img)
	for i, v := range img.Data {
		out.Data[i] = alpha + beta*v
	}
	return out
}

// histogramMatch remaps the image intensities so their cumulative histogram
// follows the reference's, using 256 bins on both sides.
func histogramMatch(img, ref *volume.Volume) *volume.Volume {
	imgMin, imgMax := img.MinMax()
	refMin, refMax := ref.MinMax()
	if imgMax <= imgMin || refMax <= refMin {
		return img.Clone()
	}

	imgCDF := cumulativeHistogram(img, imgMin, imgMax)
	refCDF := cumulativeHistogram(ref, refMin, refMax)

	// For every source bin find the first reference bin whose CDF reaches
	// the same mass.
	lookup := make([]float64, histogramBins)
	j := 0
	refBinWidth := (refMax - refMin) / float64(histogramBins)
	for i := 0; i < histogramBins; i++ {
		for j < histogramBins-1 && refCDF[j] < imgCDF[i] {
			j++
		}
		lookup[i] = refMin + (float64(j)+0.5)*refBinWidth
	}

	imgBinWidth := (imgMax - imgMin) / float64(histogramBins)
	out := volume.NewLike(img)
	for i, v := range img.Data {
		bin := int((v - imgMin) / imgBinWidth)
		if bin >= histogramBins {
			bin = histogramBins - 1
		} else if bin < 0 {
			bin = 0
		}
		out.Data[i] = lookup[bin]
	}
	return out
}

// cumulativeHistogram returns the normalized cumulative 256-bin histogram.
func cumulativeHistogram(img *volume.Volume, min, max float64) []float64 {
	hist := make([]float64, histogramBins)
	binWidth := (max - min) / float64(histogramBins)
	for _, v := range img.Data {
		bin := int((v - min) / binWidth)
		if bin >= histogramBins {
			bin = histogramBins - 1
		} else if bin < 0 {
			bin = 0
		}
		hist[bin]++
	}

	total := float64(len(img.Data))
	cum := 0.0
	for i := range hist {
		cum += hist[i]
		hist[i] = cum / total
	}
	return hist
}
