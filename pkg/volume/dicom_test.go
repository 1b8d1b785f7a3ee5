package volume

import (
	"os"
	"path/filepath"
	"testing"
)

// TestReadDICOMSeriesEmptyDir reports an error when no slices are found.
func TestReadDICOMSeriesEmptyDir(t *testing.T) {
	if _, err := ReadDICOMSeries(t.TempDir()); err == nil {
		t.Fatalf("Expected error for directory without DICOM files")
	}
}

// TestReadImageMissingPath surfaces the stat error.
func TestReadImageMissingPath(t *testing.T) {
	if _, err := ReadImage(filepath.Join(t.TempDir(), "missing.nii")); err == nil {
		t.Fatalf("Expected error for missing input")
	}
}

// TestReadImageDispatchesDirectory routes directories to the DICOM reader,
// which rejects a directory holding no parseable slices.
func TestReadImageDispatchesDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := ReadImage(dir); err == nil {
		t.Fatalf("Expected error for directory without DICOM slices")
	}
}
