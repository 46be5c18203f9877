package dataset

import (
	"strings"
	"testing"
)

func TestNewPetsDataset(t *testing.T) {
	root := createPetsDir(t, "Persian_1.jpg", "samoyed_2.jpg")

	ds, err := NewPetsDataset(root, 12)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if ds.NumClasses() != 37 {
		t.Errorf("Expected 37 classes, got %d", ds.NumClasses())
	}
	if ds.ImageSize() != 12 {
		t.Errorf("Expected image size 12, got %d", ds.ImageSize())
	}

	sample, err := ds.Get(1)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if sample.Label != 31 {
		t.Errorf("Expected samoyed to map to 31, got %d", sample.Label)
	}

	if !strings.Contains(ds.Summary(), "2 images") {
		t.Errorf("Unexpected summary: %s", ds.Summary())
	}
}
