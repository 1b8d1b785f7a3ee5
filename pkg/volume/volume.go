// Package volume provides the 3D voxel volume type used throughout the
// brain age pipeline, together with the spatial operations the pipeline
// composes: trilinear interpolation, resampling onto fixed grids, cropping,
// masking, intensity normalization and Gaussian smoothing.
//
// A Volume stores its voxels as a flat []float64 buffer in x-fastest order
// (index = z*ny*nx + y*nx + x) plus spacing and origin metadata. Every
// operation returns a new Volume; inputs are never mutated.
package volume

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Volume is a 3D voxel array with spatial metadata.
type Volume struct {
	// Data holds the voxel values in x-fastest order.
	Data []float64

	// Nx, Ny, Nz are the grid dimensions in voxels.
	Nx, Ny, Nz int

	// Spacing is the physical voxel size in mm along each axis.
	Spacing [3]float64

	// Origin is the physical position of voxel (0,0,0) in mm.
	Origin [3]float64
}

// New allocates a zero-filled volume with unit spacing.
func New(nx, ny, nz int) *Volume {
	return &Volume{
		Data:    make([]float64, nx*ny*nz),
		Nx:      nx,
		Ny:      ny,
		Nz:      nz,
		Spacing: [3]float64{1, 1, 1},
	}
}

// NewLike allocates a zero-filled volume sharing ref's geometry.
func NewLike(ref *Volume) *Volume {
	v := New(ref.Nx, ref.Ny, ref.Nz)
	v.Spacing = ref.Spacing
	v.Origin = ref.Origin
	return v
}

// Len returns the number of voxels.
func (v *Volume) Len() int { return v.Nx * v.Ny * v.Nz }

// Dims returns the grid dimensions.
func (v *Volume) Dims() [3]int { return [3]int{v.Nx, v.Ny, v.Nz} }

// At returns the voxel value at integer coordinates. Out-of-bounds
// coordinates return zero, which is the background convention used by
// every resampling routine in the pipeline.
func (v *Volume) At(x, y, z int) float64 {
	if x < 0 || y < 0 || z < 0 || x >= v.Nx || y >= v.Ny || z >= v.Nz {
		return 0
	}
	return v.Data[(z*v.Ny+y)*v.Nx+x]
}

// Set writes the voxel value at integer coordinates. Out-of-bounds
// coordinates are ignored.
func (v *Volume) Set(x, y, z int, val float64) {
	if x < 0 || y < 0 || z < 0 || x >= v.Nx || y >= v.Ny || z >= v.Nz {
		return
	}
	v.Data[(z*v.Ny+y)*v.Nx+x] = val
}

// Clone returns a deep copy.
func (v *Volume) Clone() *Volume {
	out := NewLike(v)
	copy(out.Data, v.Data)
	return out
}

// Interpolate samples the volume at continuous voxel coordinates using
// trilinear interpolation. Samples outside the grid evaluate to zero.
func (v *Volume) Interpolate(x, y, z float64) float64 {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	z0 := int(math.Floor(z))
	fx := x - float64(x0)
	fy := y - float64(y0)
	fz := z - float64(z0)

	var acc float64
	for dz := 0; dz <= 1; dz++ {
		wz := 1 - fz
		if dz == 1 {
			wz = fz
		}
		for dy := 0; dy <= 1; dy++ {
			wy := 1 - fy
			if dy == 1 {
				wy = fy
			}
			for dx := 0; dx <= 1; dx++ {
				wx := 1 - fx
				if dx == 1 {
					wx = fx
				}
				w := wx * wy * wz
				if w == 0 {
					continue
				}
				acc += w * v.At(x0+dx, y0+dy, z0+dz)
			}
		}
	}
	return acc
}

// VoxelToPhysical converts voxel coordinates to physical mm coordinates.
func (v *Volume) VoxelToPhysical(x, y, z float64) (px, py, pz float64) {
	return v.Origin[0] + x*v.Spacing[0],
		v.Origin[1] + y*v.Spacing[1],
		v.Origin[2] + z*v.Spacing[2]
}

// PhysicalToVoxel converts physical mm coordinates to voxel coordinates.
func (v *Volume) PhysicalToVoxel(px, py, pz float64) (x, y, z float64) {
	return (px - v.Origin[0]) / v.Spacing[0],
		(py - v.Origin[1]) / v.Spacing[1],
		(pz - v.Origin[2]) / v.Spacing[2]
}

// Resample maps the volume onto a new grid of the given dimensions covering
// the same physical extent, adjusting the spacing accordingly.
func (v *Volume) Resample(nx, ny, nz int) *Volume {
	out := New(nx, ny, nz)
	out.Origin = v.Origin
	out.Spacing = [3]float64{
		v.Spacing[0] * float64(v.Nx) / float64(nx),
		v.Spacing[1] * float64(v.Ny) / float64(ny),
		v.Spacing[2] * float64(v.Nz) / float64(nz),
	}

	sx := float64(v.Nx) / float64(nx)
	sy := float64(v.Ny) / float64(ny)
	sz := float64(v.Nz) / float64(nz)

	i := 0
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				out.Data[i] = v.Interpolate(
					(float64(x)+0.5)*sx-0.5,
					(float64(y)+0.5)*sy-0.5,
					(float64(z)+0.5)*sz-0.5,
				)
				i++
			}
		}
	}
	return out
}

// Subsample halves the grid along every axis.
func (v *Volume) Subsample() *Volume {
	return v.Resample(v.Nx/2, v.Ny/2, v.Nz/2)
}

// ResampleToGrid warps the volume onto ref's grid. For every voxel of ref the
// physical position is mapped through the optional affine (template space to
// moving space; pass nil for identity) and the moving volume is sampled there.
func (v *Volume) ResampleToGrid(ref *Volume, transform *Affine) *Volume {
	out := NewLike(ref)
	i := 0
	for z := 0; z < ref.Nz; z++ {
		for y := 0; y < ref.Ny; y++ {
			for x := 0; x < ref.Nx; x++ {
				px, py, pz := ref.VoxelToPhysical(float64(x), float64(y), float64(z))
				if transform != nil {
					px, py, pz = transform.Apply(px, py, pz)
				}
				vx, vy, vz := v.PhysicalToVoxel(px, py, pz)
				out.Data[i] = v.Interpolate(vx, vy, vz)
				i++
			}
		}
	}
	return out
}

// Crop extracts a size[0]×size[1]×size[2] block whose lower corner sits at
// the given voxel coordinates. The block must lie fully inside the grid.
func (v *Volume) Crop(corner, size [3]int) (*Volume, error) {
	for axis := 0; axis < 3; axis++ {
		if corner[axis] < 0 || corner[axis]+size[axis] > v.Dims()[axis] {
			return nil, fmt.Errorf("crop corner %v size %v exceeds volume %v on axis %d",
				corner, size, v.Dims(), axis)
		}
	}
	out := New(size[0], size[1], size[2])
	out.Spacing = v.Spacing
	out.Origin[0], out.Origin[1], out.Origin[2] = v.VoxelToPhysical(
		float64(corner[0]), float64(corner[1]), float64(corner[2]))
	i := 0
	for z := 0; z < size[2]; z++ {
		for y := 0; y < size[1]; y++ {
			for x := 0; x < size[0]; x++ {
				out.Data[i] = v.At(corner[0]+x, corner[1]+y, corner[2]+z)
				i++
			}
		}
	}
	return out, nil
}

// Sub returns the voxelwise difference v - other. Geometry must match.
func (v *Volume) Sub(other *Volume) (*Volume, error) {
	if v.Len() != other.Len() || v.Dims() != other.Dims() {
		return nil, fmt.Errorf("dimension mismatch: %v vs %v", v.Dims(), other.Dims())
	}
	out := NewLike(v)
	for i := range v.Data {
		out.Data[i] = v.Data[i] - other.Data[i]
	}
	return out, nil
}

// ApplyMask multiplies the volume voxelwise by a mask of the same geometry.
func (v *Volume) ApplyMask(mask *Volume) (*Volume, error) {
	if v.Dims() != mask.Dims() {
		return nil, fmt.Errorf("mask dimension mismatch: %v vs %v", v.Dims(), mask.Dims())
	}
	out := NewLike(v)
	for i := range v.Data {
		out.Data[i] = v.Data[i] * mask.Data[i]
	}
	return out, nil
}

// MinMax returns the smallest and largest voxel values.
func (v *Volume) MinMax() (min, max float64) {
	if len(v.Data) == 0 {
		return 0, 0
	}
	min, max = v.Data[0], v.Data[0]
	for _, val := range v.Data {
		if val < min {
			min = val
		}
		if val > max {
			max = val
		}
	}
	return min, max
}

// Mean returns the mean voxel value.
func (v *Volume) Mean() float64 {
	return stat.Mean(v.Data, nil)
}

// NormalizeIntensity rescales the volume to zero mean and unit variance.
// When mask is non-nil only voxels with mask probability above 0.5
// contribute to the statistics; the rescaling is still applied everywhere.
func (v *Volume) NormalizeIntensity(mask *Volume) *Volume {
	var sample []float64
	if mask != nil && mask.Dims() == v.Dims() {
		for i, m := range mask.Data {
			if m > 0.5 {
				sample = append(sample, v.Data[i])
			}
		}
	}
	if len(sample) == 0 {
		sample = v.Data
	}
	mean, std := stat.MeanStdDev(sample, nil)
	if std == 0 || math.IsNaN(std) {
		std = 1
	}
	out := NewLike(v)
	for i, val := range v.Data {
		out.Data[i] = (val - mean) / std
	}
	return out
}

// GaussianSmooth convolves the volume with an isotropic Gaussian of the
// given sigma (in voxels) using three separable 1D passes.
func (v *Volume) GaussianSmooth(sigma float64) *Volume {
	if sigma <= 0 {
		return v.Clone()
	}
	radius := int(math.Ceil(3 * sigma))
	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for i := range kernel {
		d := float64(i - radius)
		kernel[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	cur := v
	for axis := 0; axis < 3; axis++ {
		next := NewLike(cur)
		i := 0
		for z := 0; z < cur.Nz; z++ {
			for y := 0; y < cur.Ny; y++ {
				for x := 0; x < cur.Nx; x++ {
					var acc, wsum float64
					for k := -radius; k <= radius; k++ {
						xx, yy, zz := x, y, z
						switch axis {
						case 0:
							xx += k
						case 1:
							yy += k
						default:
							zz += k
						}
						if xx < 0 || yy < 0 || zz < 0 || xx >= cur.Nx || yy >= cur.Ny || zz >= cur.Nz {
							continue
						}
						w := kernel[k+radius]
						acc += w * cur.Data[(zz*cur.Ny+yy)*cur.Nx+xx]
						wsum += w
					}
					if wsum > 0 {
						next.Data[i] = acc / wsum
					}
					i++
				}
			}
		}
		cur = next
	}
	return cur
}
