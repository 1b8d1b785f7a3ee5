// Package visualization writes quality-control images for registered
// volumes: grayscale mid-slices along each axis, saved as JPEG next to the
// result plots so registration failures are easy to spot.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/ANTsXNet/BrainAgeGender/pkg/volume"
)

// Viewer renders slices of one volume with a fixed intensity window.
type Viewer struct {
	vol *volume.Volume

	// lo and hi bound the grayscale window; values outside are clamped.
	lo, hi float64
}

// NewViewer creates a viewer windowed to the volume's intensity range.
func NewViewer(vol *volume.Volume) *Viewer {
	lo, hi := vol.MinMax()
	if hi == lo {
		hi = lo + 1
	}
	return &Viewer{vol: vol, lo: lo, hi: hi}
}

func (v *Viewer) gray(value float64) color.Gray16 {
	t := (value - v.lo) / (v.hi - v.lo)
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	return color.Gray16{Y: uint16(t * 65535)}
}

// ExtractSlice renders one 2D slice perpendicular to the given axis.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var img *image.Gray16
	switch axis {
	case "x", "X":
		if position >= v.vol.Nx {
			return nil, fmt.Errorf("position %d exceeds x dimension %d", position, v.vol.Nx)
		}
		img = image.NewGray16(image.Rect(0, 0, v.vol.Ny, v.vol.Nz))
		for z := 0; z < v.vol.Nz; z++ {
			for y := 0; y < v.vol.Ny; y++ {
				img.SetGray16(y, z, v.gray(v.vol.At(position, y, z)))
			}
		}

	case "y", "Y":
		if position >= v.vol.Ny {
			return nil, fmt.Errorf("position %d exceeds y dimension %d", position, v.vol.Ny)
		}
		img = image.NewGray16(image.Rect(0, 0, v.vol.Nx, v.vol.Nz))
		for z := 0; z < v.vol.Nz; z++ {
			for x := 0; x < v.vol.Nx; x++ {
				img.SetGray16(x, z, v.gray(v.vol.At(x, position, z)))
			}
		}

	case "z", "Z":
		if position >= v.vol.Nz {
			return nil, fmt.Errorf("position %d exceeds z dimension %d", position, v.vol.Nz)
		}
		img = image.NewGray16(image.Rect(0, 0, v.vol.Nx, v.vol.Ny))
		for y := 0; y < v.vol.Ny; y++ {
			for x := 0; x < v.vol.Nx; x++ {
				img.SetGray16(x, y, v.gray(v.vol.At(x, y, position)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSlice saves a rendered slice as a JPEG image.
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveMidSlices writes the three orthogonal mid-slices of the volume into
// dir, named <prefix>_x.jpg, <prefix>_y.jpg and <prefix>_z.jpg.
func (v *Viewer) SaveMidSlices(dir, prefix string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	positions := map[string]int{
		"x": v.vol.Nx / 2,
		"y": v.vol.Ny / 2,
		"z": v.vol.Nz / 2,
	}
	for _, axis := range []string{"x", "y", "z"} {
		img, err := v.ExtractSlice(axis, positions[axis])
		if err != nil {
			return err
		}
		filename := filepath.Join(dir, fmt.Sprintf("%s_%s.jpg", prefix, axis))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}
	return nil
}
