// Package augment builds the randomly perturbed network inputs for one
// subject: a batch of fixed-size crops from the full-resolution warped image
// and a batch of affine-jittered copies of the subsampled image, each with
// two channels (normalized intensity and difference from the population
// average).
package augment

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/ANTsXNet/BrainAgeGender/pkg/volume"
)

// Channels per sample: normalized intensity and difference image.
const Channels = 2

// Options configures the sampler.
type Options struct {
	// Count is the number of augmented replicas.
	Count int

	// PatchSize is the edge length of the full-resolution crop.
	PatchSize int

	// Margin keeps crop corners this many voxels away from every border.
	Margin int

	// JitterRotation is the maximum rotation in degrees.
	JitterRotation float64

	// JitterTranslation is the maximum translation in voxels.
	JitterTranslation float64

	// JitterScale is the maximum relative scale perturbation.
	JitterScale float64

	// Seed fixes the RNG; 0 selects a time-based seed.
	Seed int64
}

// Batch holds the two batched input tensors as flat float32 buffers in
// row-major order with the channel dimension fastest. Shapes are
// (count, nx, ny, nz, 2).
type Batch struct {
	Patches   []float32
	PatchDims [5]int
	Images    []float32
	ImageDims [5]int
	Corners   [][3]int
}

// PatchTensor converts the patch batch into a gomlx tensor.
func (b *Batch) PatchTensor() *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions(b.Patches, b.PatchDims[:]...)
}

// ImageTensor converts the image batch into a gomlx tensor.
func (b *Batch) ImageTensor() *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions(b.Images, b.ImageDims[:]...)
}

// Sampler draws augmented replicas.
type Sampler struct {
	opts Options
	rng  *rand.Rand
}

// NewSampler creates a sampler for the given options.
func NewSampler(opts Options) *Sampler {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Sampler{
		opts: opts,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

// Sample builds the batch for one subject. img and diff share the
// full-resolution template grid; subImg and subDiff share the subsampled
// grid. Per replica, one random affine jitter is applied to the subsampled
// pair while an independent random crop is taken from the full-resolution
// pair.
func (s *Sampler) Sample(img, diff, subImg, subDiff *volume.Volume) (*Batch, error) {
	if img.Dims() != diff.Dims() {
		return nil, fmt.Errorf("image and difference dims differ: %v vs %v", img.Dims(), diff.Dims())
	}
	if subImg.Dims() != subDiff.Dims() {
		return nil, fmt.Errorf("subsampled image and difference dims differ: %v vs %v",
			subImg.Dims(), subDiff.Dims())
	}

	n := s.opts.Count
	p := s.opts.PatchSize
	sub := subImg.Dims()

	batch := &Batch{
		PatchDims: [5]int{n, p, p, p, Channels},
		ImageDims: [5]int{n, sub[0], sub[1], sub[2], Channels},
		Corners:   make([][3]int, 0, n),
	}
	batch.Patches = make([]float32, n*p*p*p*Channels)
	batch.Images = make([]float32, n*sub[0]*sub[1]*sub[2]*Channels)

	for replica := 0; replica < n; replica++ {
		corner, err := s.randomCorner(img.Dims())
		if err != nil {
			return nil, err
		}
		batch.Corners = append(batch.Corners, corner)

		patchImg, err := img.Crop(corner, [3]int{p, p, p})
		if err != nil {
			return nil, err
		}
		patchDiff, err := diff.Crop(corner, [3]int{p, p, p})
		if err != nil {
			return nil, err
		}
		fillSample(batch.Patches, batch.PatchDims, replica, patchImg, patchDiff)

		jitter := s.randomJitter(subImg)
		jitImg := subImg.ResampleToGrid(subImg, jitter)
		jitDiff := subDiff.ResampleToGrid(subDiff, jitter)
		fillSample(batch.Images, batch.ImageDims, replica, jitImg, jitDiff)
	}
	return batch, nil
}

// randomCorner draws the crop's lower corner uniformly from the in-bounds
// range offset by the margin. An empty range is an error.
func (s *Sampler) randomCorner(dims [3]int) ([3]int, error) {
	var corner [3]int
	for axis := 0; axis < 3; axis++ {
		lo := s.opts.Margin
		hi := dims[axis] - s.opts.PatchSize - s.opts.Margin
		if hi < lo {
			return corner, fmt.Errorf("volume axis %d too small for %d-voxel patch with margin %d (dim %d)",
				axis, s.opts.PatchSize, s.opts.Margin, dims[axis])
		}
		corner[axis] = lo + s.rng.Intn(hi-lo+1)
	}
	return corner, nil
}

// randomJitter draws a small centered affine perturbation for one replica.
func (s *Sampler) randomJitter(ref *volume.Volume) *volume.Affine {
	uniform := func(limit float64) float64 {
		return (2*s.rng.Float64() - 1) * limit
	}
	maxRad := s.opts.JitterRotation * math.Pi / 180

	var center [3]float64
	center[0], center[1], center[2] = ref.VoxelToPhysical(
		float64(ref.Nx)/2, float64(ref.Ny)/2, float64(ref.Nz)/2)

	rot := [3]float64{uniform(maxRad), uniform(maxRad), uniform(maxRad)}
	trans := [3]float64{
		uniform(s.opts.JitterTranslation) * ref.Spacing[0],
		uniform(s.opts.JitterTranslation) * ref.Spacing[1],
		uniform(s.opts.JitterTranslation) * ref.Spacing[2],
	}
	scale := 1 + uniform(s.opts.JitterScale)

	return volume.CenteredRigid(center, rot, trans, scale)
}

// fillSample writes an intensity/difference volume pair into one replica
// slot of a flat batch buffer.
func fillSample(dst []float32, dims [5]int, replica int, intensity, diff *volume.Volume) {
	nx, ny, nz := dims[1], dims[2], dims[3]
	for x := 0; x < nx; x++ {
		for y := 0; y < ny; y++ {
			for z := 0; z < nz; z++ {
				base := ((((replica*nx+x)*ny+y)*nz + z) * Channels)
				dst[base] = float32(intensity.At(x, y, z))
				dst[base+1] = float32(diff.At(x, y, z))
			}
		}
	}
}
