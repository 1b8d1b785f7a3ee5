// Package extract estimates a voxelwise brain-tissue probability mask for a
// structural MRI volume. The estimate is deliberately lightweight: an Otsu
// threshold on a 256-bin intensity histogram separates head from background,
// a smooth-and-rethreshold pass suppresses speckle, and a final Gaussian
// smoothing converts the binary foreground into soft probabilities.
package extract

import (
	"github.com/ANTsXNet/BrainAgeGender/pkg/volume"
)

const histogramBins = 256

// Extractor computes brain probability masks.
type Extractor struct {
	// CleanupSigma controls the speckle-suppression smoothing in voxels.
	CleanupSigma float64

	// ProbabilitySigma controls the softness of the final mask edges.
	ProbabilitySigma float64
}

// NewExtractor returns an extractor with the pipeline defaults.
func NewExtractor() *Extractor {
	return &Extractor{
		CleanupSigma:     1.0,
		ProbabilitySigma: 2.0,
	}
}

// Mask returns a probability mask with img's geometry; values lie in [0,1].
func (e *Extractor) Mask(img *volume.Volume) *volume.Volume {
	threshold := OtsuThreshold(img)

	binary := volume.NewLike(img)
	for i, val := range img.Data {
		if val > threshold {
			binary.Data[i] = 1
		}
	}

	// Smooth and rethreshold to drop isolated foreground speckle and fill
	// small holes inside the head.
	cleaned := binary.GaussianSmooth(e.CleanupSigma)
	for i, val := range cleaned.Data {
		if val > 0.5 {
			cleaned.Data[i] = 1
		} else {
			cleaned.Data[i] = 0
		}
	}

	prob := cleaned.GaussianSmooth(e.ProbabilitySigma)
	for i, val := range prob.Data {
		if val < 0 {
			prob.Data[i] = 0
		} else if val > 1 {
			prob.Data[i] = 1
		}
	}
	return prob
}

// OtsuThreshold computes the Otsu foreground threshold over a 256-bin
// histogram of the volume's intensities.
func OtsuThreshold(img *volume.Volume) float64 {
	min, max := img.MinMax()
	if max <= min {
		return min
	}

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
	var sumAll float64
	for i, count := range hist {
		sumAll += float64(i) * count
	}

	var sumBelow, weightBelow float64
	bestBin := 0
	bestVariance := -1.0
	for i := 0; i < histogramBins-1; i++ {
		weightBelow += hist[i]
		if weightBelow == 0 {
			continue
		}
		weightAbove := total - weightBelow
		if weightAbove == 0 {
			break
		}
		sumBelow += float64(i) * hist[i]

		meanBelow := sumBelow / weightBelow
		meanAbove := (sumAll - sumBelow) / weightAbove
		diff := meanBelow - meanAbove
		variance := weightBelow * weightAbove * diff * diff
		if variance > bestVariance {
			bestVariance = variance
			bestBin = i
		}
	}

	return min + (float64(bestBin)+0.5)*binWidth
}
