package volume

import (
	"fmt"
	"os"

	"github.com/KyungWonPark/nifti"
)

// ReadNIfTI loads a NIfTI-1 volume from disk. Only the first timepoint is
// read; the pipeline works on 3D structural images.
func ReadNIfTI(path string) (*Volume, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var img nifti.Nifti1Image
	img.LoadImage(path, true)

	var header nifti.Nifti1Header
	header.LoadHeader(path)

	nx := int(header.Dim[1])
	ny := int(header.Dim[2])
	nz := int(header.Dim[3])
	if nx <= 0 || ny <= 0 || nz <= 0 {
		return nil, fmt.Errorf("%s has invalid dimensions %dx%dx%d", path, nx, ny, nz)
	}

	v := New(nx, ny, nz)
	v.Spacing = [3]float64{
		float64(header.Pixdim[1]),
		float64(header.Pixdim[2]),
		float64(header.Pixdim[3]),
	}
	for axis := range v.Spacing {
		if v.Spacing[axis] == 0 {
			v.Spacing[axis] = 1
		}
	}

	i := 0
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				v.Data[i] = float64(img.GetAt(uint32(x), uint32(y), uint32(z), 0))
				i++
			}
		}
	}
	return v, nil
}

// WriteNIfTI saves a volume as a NIfTI-1 file. The header geometry of
// headerSource (a readable NIfTI file, typically the template) is reused and
// its dimensions overwritten; pass "" to write with a default header.
func WriteNIfTI(v *Volume, path, headerSource string) error {
	img := nifti.NewImg(v.Nx, v.Ny, v.Nz, 1)

	if headerSource != "" {
		var header nifti.Nifti1Header
		header.LoadHeader(headerSource)
		img.SetNewHeader(header)
	}
	img.SetHeaderDim(v.Nx, v.Ny, v.Nz, 1)

	i := 0
	for z := 0; z < v.Nz; z++ {
		for y := 0; y < v.Ny; y++ {
			for x := 0; x < v.Nx; x++ {
				img.SetAt(uint32(x), uint32(y), uint32(z), 0, float32(v.Data[i]))
				i++
			}
		}
	}
	img.Save(path)
	return nil
}
