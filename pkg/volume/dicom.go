package volume

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// dicomSlice is one parsed file of a series, ordered by InstanceNumber.
type dicomSlice struct {
	instance int
	rows     int
	cols     int
	pixels   []float64
}

// ReadDICOMSeries stacks every DICOM file of one directory into a single
// volume. Slices are ordered by InstanceNumber and must agree on their
// in-plane dimensions. Pixel spacing is taken from the first slice; the
// slice spacing falls back to 1mm when SpacingBetweenSlices is absent.
func ReadDICOMSeries(dir string) (*Volume, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot read DICOM directory %s: %w", dir, err)
	}

	var slices []dicomSlice
	var rowSpacing, colSpacing, sliceSpacing float64

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if ext := strings.ToLower(filepath.Ext(name)); ext != ".dcm" && ext != "" {
			continue
		}
		path := filepath.Join(dir, name)

		dataset, err := dicom.ParseFile(path, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DICOM file %s: %w", path, err)
		}

		instance := len(slices)
		if el, err := dataset.FindElementByTag(tag.InstanceNumber); err == nil {
			if n, err := strconv.Atoi(strings.TrimSpace(dicom.MustGetStrings(el.Value)[0])); err == nil {
				instance = n
			}
		}

		if rowSpacing == 0 {
			if el, err := dataset.FindElementByTag(tag.PixelSpacing); err == nil {
				spacings := dicom.MustGetStrings(el.Value)
				if len(spacings) == 2 {
					rowSpacing, _ = strconv.ParseFloat(strings.TrimSpace(spacings[0]), 64)
					colSpacing, _ = strconv.ParseFloat(strings.TrimSpace(spacings[1]), 64)
				}
			}
			if el, err := dataset.FindElementByTag(tag.SpacingBetweenSlices); err == nil {
				raw := dicom.MustGetStrings(el.Value)
				if len(raw) > 0 {
					sliceSpacing, _ = strconv.ParseFloat(strings.TrimSpace(raw[0]), 64)
				}
			}
		}

		pixelDataElement, err := dataset.FindElementByTag(tag.PixelData)
		if err != nil {
			return nil, fmt.Errorf("%s has no pixel data: %w", path, err)
		}
		pixelDataInfo := dicom.MustGetPixelDataInfo(pixelDataElement.Value)
		for _, fr := range pixelDataInfo.Frames {
			native, err := fr.GetNativeFrame()
			if err != nil {
				return nil, fmt.Errorf("failed to decode frame in %s: %w", path, err)
			}
			pixels := make([]float64, native.Rows*native.Cols)
			for i := range pixels {
				pixels[i] = float64(native.Data[i][0])
			}
			slices = append(slices, dicomSlice{
				instance: instance,
				rows:     native.Rows,
				cols:     native.Cols,
				pixels:   pixels,
			})
		}
	}

	if len(slices) == 0 {
		return nil, fmt.Errorf("no DICOM slices found in %s", dir)
	}

	sort.Slice(slices, func(i, j int) bool { return slices[i].instance < slices[j].instance })

	cols, rows := slices[0].cols, slices[0].rows
	for _, s := range slices {
		if s.cols != cols || s.rows != rows {
			return nil, fmt.Errorf("inconsistent slice dimensions in %s: %dx%d vs %dx%d",
				dir, s.cols, s.rows, cols, rows)
		}
	}

	v := New(cols, rows, len(slices))
	if colSpacing > 0 && rowSpacing > 0 {
		v.Spacing[0] = colSpacing
		v.Spacing[1] = rowSpacing
	}
	if sliceSpacing > 0 {
		v.Spacing[2] = sliceSpacing
	}
	for z, s := range slices {
		copy(v.Data[z*rows*cols:(z+1)*rows*cols], s.pixels)
	}
	return v, nil
}

// ReadImage reads a subject image, dispatching on the path: directories are
// treated as DICOM series, files as NIfTI-1 volumes.
func ReadImage(path string) (*Volume, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read input %s: %w", path, err)
	}
	if info.IsDir() {
		return ReadDICOMSeries(path)
	}
	return ReadNIfTI(path)
}
