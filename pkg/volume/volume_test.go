package volume

import (
	"math"
	"testing"
)

// TestAtSetRoundTrip verifies voxel indexing and the zero background
// convention for out-of-bounds reads.
func TestAtSetRoundTrip(t *testing.T) {
	v := New(4, 5, 6)
	v.Set(1, 2, 3, 7.5)

	if got := v.At(1, 2, 3); got != 7.5 {
		t.Errorf("Expected 7.5 at (1,2,3), got %f", got)
	}
	if got := v.At(-1, 0, 0); got != 0 {
		t.Errorf("Expected 0 outside the grid, got %f", got)
	}
	if got := v.At(4, 0, 0); got != 0 {
		t.Errorf("Expected 0 outside the grid, got %f", got)
	}
}

// TestInterpolateMidpoint checks trilinear interpolation halfway between
// two voxels.
func TestInterpolateMidpoint(t *testing.T) {
	v := New(2, 1, 1)
	v.Set(0, 0, 0, 1.0)
	v.Set(1, 0, 0, 3.0)

	got := v.Interpolate(0.5, 0, 0)
	if math.Abs(got-2.0) > 1e-12 {
		t.Errorf("Expected midpoint value 2.0, got %f", got)
	}
}

// TestResampleIdentity ensures resampling onto the same grid reproduces
// the volume.
func TestResampleIdentity(t *testing.T) {
	v := New(4, 4, 4)
	for i := range v.Data {
		v.Data[i] = float64(i)
	}

	out := v.Resample(4, 4, 4)
	if out.Dims() != v.Dims() {
		t.Fatalf("Expected dims %v, got %v", v.Dims(), out.Dims())
	}
	for i := range v.Data {
		if math.Abs(out.Data[i]-v.Data[i]) > 1e-9 {
			t.Fatalf("Voxel %d changed under identity resample: %f vs %f", i, out.Data[i], v.Data[i])
		}
	}
}

// TestResampleHalvesSpacing verifies the spacing bookkeeping when halving
// the grid.
func TestResampleHalvesSpacing(t *testing.T) {
	v := New(8, 8, 8)
	v.Spacing = [3]float64{1, 1, 1}

	out := v.Subsample()
	if out.Dims() != [3]int{4, 4, 4} {
		t.Errorf("Expected dims [4 4 4], got %v", out.Dims())
	}
	for axis := 0; axis < 3; axis++ {
		if math.Abs(out.Spacing[axis]-2.0) > 1e-12 {
			t.Errorf("Expected spacing 2.0 on axis %d, got %f", axis, out.Spacing[axis])
		}
	}
}

// TestCropBounds checks the in-bounds crop and rejection of an
// out-of-bounds corner.
func TestCropBounds(t *testing.T) {
	v := New(10, 10, 10)
	for i := range v.Data {
		v.Data[i] = float64(i)
	}

	crop, err := v.Crop([3]int{2, 3, 4}, [3]int{4, 4, 4})
	if err != nil {
		t.Fatalf("In-bounds crop failed: %v", err)
	}
	if crop.Dims() != [3]int{4, 4, 4} {
		t.Errorf("Expected crop dims [4 4 4], got %v", crop.Dims())
	}
	if crop.At(0, 0, 0) != v.At(2, 3, 4) {
		t.Errorf("Crop corner mismatch: %f vs %f", crop.At(0, 0, 0), v.At(2, 3, 4))
	}

	if _, err := v.Crop([3]int{8, 0, 0}, [3]int{4, 4, 4}); err == nil {
		t.Errorf("Expected error for out-of-bounds crop")
	}
}

// TestSubAndMask covers the voxelwise difference and mask multiplication.
func TestSubAndMask(t *testing.T) {
	a := New(2, 2, 2)
	b := New(2, 2, 2)
	for i := range a.Data {
		a.Data[i] = 5
		b.Data[i] = 2
	}

	diff, err := a.Sub(b)
	if err != nil {
		t.Fatalf("Sub failed: %v", err)
	}
	for i := range diff.Data {
		if diff.Data[i] != 3 {
			t.Fatalf("Expected difference 3, got %f", diff.Data[i])
		}
	}

	mask := New(2, 2, 2)
	mask.Data[0] = 1
	masked, err := a.ApplyMask(mask)
	if err != nil {
		t.Fatalf("ApplyMask failed: %v", err)
	}
	if masked.Data[0] != 5 || masked.Data[1] != 0 {
		t.Errorf("Mask multiplication wrong: got %f and %f", masked.Data[0], masked.Data[1])
	}

	c := New(3, 2, 2)
	if _, err := a.Sub(c); err == nil {
		t.Errorf("Expected dimension mismatch error")
	}
}

// TestNormalizeIntensity verifies zero mean and unit variance after
// normalization.
func TestNormalizeIntensity(t *testing.T) {
	v := New(4, 4, 4)
	for i := range v.Data {
		v.Data[i] = float64(i % 7)
	}

	out := v.NormalizeIntensity(nil)

	mean := out.Mean()
	if math.Abs(mean) > 1e-9 {
		t.Errorf("Expected zero mean, got %g", mean)
	}

	var variance float64
	for _, val := range out.Data {
		variance += val * val
	}
	variance /= float64(len(out.Data) - 1)
	if math.Abs(variance-1.0) > 1e-6 {
		t.Errorf("Expected unit variance, got %g", variance)
	}
}

// TestGaussianSmoothPreservesConstant ensures a constant volume is a fixed
// point of smoothing.
func TestGaussianSmoothPreservesConstant(t *testing.T) {
	v := New(6, 6, 6)
	for i := range v.Data {
		v.Data[i] = 4.0
	}

	out := v.GaussianSmooth(1.0)
	for i := range out.Data {
		if math.Abs(out.Data[i]-4.0) > 1e-9 {
			t.Fatalf("Constant volume changed under smoothing at %d: %f", i, out.Data[i])
		}
	}
}
