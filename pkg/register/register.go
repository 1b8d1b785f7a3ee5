// Package register estimates the affine transform aligning a subject brain
// (moving image) to the template brain (fixed image). The estimate runs
// coarse to fine over a small image pyramid, minimizing mean-squared
// intensity error by gradient descent on seven parameters: translation,
// Euler rotation and uniform log-scale about the fixed image center.
package register

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/ANTsXNet/BrainAgeGender/pkg/volume"
)

const numParams = 7 // tx, ty, tz, rx, ry, rz, log-scale

// Options tunes the optimization schedule.
type Options struct {
	// PyramidFactors lists the subsampling factor per level, coarse first.
	PyramidFactors []int

	// Iterations is the gradient-descent budget per level.
	Iterations []int

	// SampleStride subsamples the fixed grid when evaluating the cost.
	SampleStride int

	// Logger receives per-level convergence info.
	Logger zerolog.Logger
}

// DefaultOptions returns the schedule used by the pipeline.
func DefaultOptions() Options {
	return Options{
		PyramidFactors: []int{4, 2, 1},
		Iterations:     []int{80, 40, 20},
		SampleStride:   2,
		Logger:         zerolog.Nop(),
	}
}

// Register returns the affine mapping fixed (template) physical space into
// moving (subject) physical space, so warping the moving image through it
// aligns it with the fixed image.
func Register(fixed, moving *volume.Volume, opts Options) (*volume.Affine, error) {
	if len(opts.PyramidFactors) == 0 || len(opts.PyramidFactors) != len(opts.Iterations) {
		return nil, fmt.Errorf("invalid pyramid schedule: %d factors, %d iteration budgets",
			len(opts.PyramidFactors), len(opts.Iterations))
	}
	if opts.SampleStride < 1 {
		opts.SampleStride = 1
	}

	center := [3]float64{}
	center[0], center[1], center[2] = fixed.VoxelToPhysical(
		float64(fixed.Nx)/2, float64(fixed.Ny)/2, float64(fixed.Nz)/2)

	params := make([]float64, numParams)

	for level, factor := range opts.PyramidFactors {
		fixedLevel := pyramidLevel(fixed, factor)
		movingLevel := pyramidLevel(moving, factor)

		params = optimizeLevel(fixedLevel, movingLevel, center, params,
			opts.Iterations[level], opts.SampleStride)

		opts.Logger.Debug().
			Int("level", level).
			Int("factor", factor).
			Float64("cost", cost(fixedLevel, movingLevel, toAffine(center, params), opts.SampleStride)).
			Msg("registration level finished")
	}

	return toAffine(center, params), nil
}

// pyramidLevel subsamples a volume by an integer factor.
func pyramidLevel(v *volume.Volume, factor int) *volume.Volume {
	if factor <= 1 {
		return v
	}
	nx, ny, nz := v.Nx/factor, v.Ny/factor, v.Nz/factor
	if nx < 2 || ny < 2 || nz < 2 {
		return v
	}
	return v.Resample(nx, ny, nz)
}

// toAffine builds the centered transform for a parameter vector.
func toAffine(center [3]float64, p []float64) *volume.Affine {
	return volume.CenteredRigid(
		center,
		[3]float64{p[3], p[4], p[5]},
		[3]float64{p[0], p[1], p[2]},
		math.Exp(p[6]),
	)
}

// cost is the mean-squared intensity error of the warped moving image
// against the fixed image, sampled on a strided fixed grid.
func cost(fixed, moving *volume.Volume, transform *volume.Affine, stride int) float64 {
	var sum float64
	var n int
	for z := 0; z < fixed.Nz; z += stride {
		for y := 0; y < fixed.Ny; y += stride {
			for x := 0; x < fixed.Nx; x += stride {
				px, py, pz := fixed.VoxelToPhysical(float64(x), float64(y), float64(z))
				mx, my, mz := transform.Apply(px, py, pz)
				vx, vy, vz := moving.PhysicalToVoxel(mx, my, mz)
				diff := fixed.At(x, y, z) - moving.Interpolate(vx, vy, vz)
				sum += diff * diff
				n++
			}
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// paramEpsilons are the central-difference step sizes per parameter.
var paramEpsilons = [numParams]float64{0.5, 0.5, 0.5, 0.01, 0.01, 0.01, 0.01}

// optimizeLevel runs gradient descent with backtracking on one pyramid
// level and returns the improved parameter vector.
func optimizeLevel(fixed, moving *volume.Volume, center [3]float64, start []float64,
	iterations, stride int) []float64 {

	params := make([]float64, numParams)
	copy(params, start)

	current := cost(fixed, moving, toAffine(center, params), stride)
	step := 1.0

	for iter := 0; iter < iterations; iter++ {
		grad := make([]float64, numParams)
		norm := 0.0
		for i := 0; i < numParams; i++ {
			eps := paramEpsilons[i]
			plus := make([]float64, numParams)
			minus := make([]float64, numParams)
			copy(plus, params)
			copy(minus, params)
			plus[i] += eps
			minus[i] -= eps
			g := (cost(fixed, moving, toAffine(center, plus), stride) -
				cost(fixed, moving, toAffine(center, minus), stride)) / (2 * eps)
			grad[i] = g
			norm += g * g
		}
		norm = math.Sqrt(norm)
		if norm == 0 {
			break
		}

		improved := false
		for ; step > 1e-6; step /= 2 {
			trial := make([]float64, numParams)
			for i := range trial {
				trial[i] = params[i] - step*paramEpsilons[i]*grad[i]/norm
			}
			trialCost := cost(fixed, moving, toAffine(center, trial), stride)
			if trialCost < current {
				params = trial
				current = trialCost
				improved = true
				// Allow the step to grow back after a success.
				step *= 2
				break
			}
		}
		if !improved {
			break
		}
	}
	return params
}
