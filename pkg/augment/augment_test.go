package augment

import (
	"math/rand"
	"testing"

	"github.com/ANTsXNet/BrainAgeGender/pkg/volume"
)

func noisyVolume(nx, ny, nz int, seed int64) *volume.Volume {
	rng := rand.New(rand.NewSource(seed))
	v := volume.New(nx, ny, nz)
	for i := range v.Data {
		v.Data[i] = rng.NormFloat64()
	}
	return v
}

func testOptions(count int) Options {
	return Options{
		Count:             count,
		PatchSize:         96,
		Margin:            10,
		JitterRotation:    2,
		JitterTranslation: 2,
		JitterScale:       0.02,
		Seed:              1234,
	}
}

// TestSampleShapes checks replica count and both tensor shapes for the
// fixed template geometry.
func TestSampleShapes(t *testing.T) {
	img := noisyVolume(192, 224, 192, 1)
	diff := noisyVolume(192, 224, 192, 2)
	subImg := noisyVolume(96, 112, 96, 3)
	subDiff := noisyVolume(96, 112, 96, 4)

	const count = 4
	batch, err := NewSampler(testOptions(count)).Sample(img, diff, subImg, subDiff)
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}

	if batch.PatchDims != [5]int{count, 96, 96, 96, 2} {
		t.Errorf("Expected patch dims [%d 96 96 96 2], got %v", count, batch.PatchDims)
	}
	if batch.ImageDims != [5]int{count, 96, 112, 96, 2} {
		t.Errorf("Expected image dims [%d 96 112 96 2], got %v", count, batch.ImageDims)
	}
	if len(batch.Patches) != count*96*96*96*2 {
		t.Errorf("Patch buffer length %d does not match dims", len(batch.Patches))
	}
	if len(batch.Images) != count*96*112*96*2 {
		t.Errorf("Image buffer length %d does not match dims", len(batch.Images))
	}
	if len(batch.Corners) != count {
		t.Errorf("Expected %d crop corners, got %d", count, len(batch.Corners))
	}
}

// TestCropCornersRespectMargin draws many replicas and verifies every
// corner stays inside [margin, dim-patch-margin].
func TestCropCornersRespectMargin(t *testing.T) {
	img := noisyVolume(192, 224, 192, 5)
	diff := noisyVolume(192, 224, 192, 6)
	subImg := noisyVolume(96, 112, 96, 7)
	subDiff := noisyVolume(96, 112, 96, 8)

	opts := testOptions(16)
	batch, err := NewSampler(opts).Sample(img, diff, subImg, subDiff)
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}

	dims := img.Dims()
	for r, corner := range batch.Corners {
		for axis := 0; axis < 3; axis++ {
			lo := opts.Margin
			hi := dims[axis] - opts.PatchSize - opts.Margin
			if corner[axis] < lo || corner[axis] > hi {
				t.Errorf("Replica %d corner %v outside [%d,%d] on axis %d",
					r, corner, lo, hi, axis)
			}
		}
	}
}

// TestSampleDeterministicUnderSeed reproduces the batch for a fixed seed.
func TestSampleDeterministicUnderSeed(t *testing.T) {
	img := noisyVolume(130, 130, 130, 9)
	diff := noisyVolume(130, 130, 130, 10)
	subImg := noisyVolume(65, 65, 65, 11)
	subDiff := noisyVolume(65, 65, 65, 12)

	opts := testOptions(3)
	first, err := NewSampler(opts).Sample(img, diff, subImg, subDiff)
	if err != nil {
		t.Fatalf("First sample failed: %v", err)
	}
	second, err := NewSampler(opts).Sample(img, diff, subImg, subDiff)
	if err != nil {
		t.Fatalf("Second sample failed: %v", err)
	}

	for i := range first.Corners {
		if first.Corners[i] != second.Corners[i] {
			t.Fatalf("Corners differ at replica %d: %v vs %v", i, first.Corners[i], second.Corners[i])
		}
	}
	for i := range first.Patches {
		if first.Patches[i] != second.Patches[i] {
			t.Fatalf("Patch buffers differ at %d", i)
		}
	}
	for i := range first.Images {
		if first.Images[i] != second.Images[i] {
			t.Fatalf("Image buffers differ at %d", i)
		}
	}
}

// TestBatchTensors converts both batch buffers into gomlx tensors and
// checks the tensor shapes match the batch dims.
func TestBatchTensors(t *testing.T) {
	img := noisyVolume(130, 130, 130, 17)
	diff := noisyVolume(130, 130, 130, 18)
	subImg := noisyVolume(65, 65, 65, 19)
	subDiff := noisyVolume(65, 65, 65, 20)

	batch, err := NewSampler(testOptions(2)).Sample(img, diff, subImg, subDiff)
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}

	patch := batch.PatchTensor()
	if got := patch.Shape().Dimensions; len(got) != 5 ||
		got[0] != 2 || got[1] != 96 || got[2] != 96 || got[3] != 96 || got[4] != 2 {
		t.Errorf("Unexpected patch tensor shape: %v", got)
	}
	image := batch.ImageTensor()
	if got := image.Shape().Dimensions; len(got) != 5 ||
		got[0] != 2 || got[1] != 65 || got[2] != 65 || got[3] != 65 || got[4] != 2 {
		t.Errorf("Unexpected image tensor shape: %v", got)
	}
}

// TestSampleTooSmallVolume reports the empty-crop-range error.
func TestSampleTooSmallVolume(t *testing.T) {
	img := noisyVolume(100, 100, 100, 13)
	diff := noisyVolume(100, 100, 100, 14)
	subImg := noisyVolume(50, 50, 50, 15)
	subDiff := noisyVolume(50, 50, 50, 16)

	// 100 < 96 + 2*10: the valid corner range is empty.
	if _, err := NewSampler(testOptions(2)).Sample(img, diff, subImg, subDiff); err == nil {
		t.Fatalf("Expected error for volume too small to crop")
	}
}

// TestChannelLayout verifies channel 1 carries intensity and channel 2 the
// difference image.
func TestChannelLayout(t *testing.T) {
	img := volume.New(130, 130, 130)
	diff := volume.New(130, 130, 130)
	for i := range img.Data {
		img.Data[i] = 1
		diff.Data[i] = -1
	}
	subImg := volume.New(65, 65, 65)
	subDiff := volume.New(65, 65, 65)

	opts := testOptions(1)
	opts.JitterRotation = 0
	opts.JitterTranslation = 0
	opts.JitterScale = 0

	batch, err := NewSampler(opts).Sample(img, diff, subImg, subDiff)
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}

	if batch.Patches[0] != 1 {
		t.Errorf("Expected intensity 1 in channel 1, got %f", batch.Patches[0])
	}
	if batch.Patches[1] != -1 {
		t.Errorf("Expected difference -1 in channel 2, got %f", batch.Patches[1])
	}
}
