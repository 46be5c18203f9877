package dataset

import (
	"fmt"
)

// PetsDataset is the Oxford-IIIT Pets image folder: JPEG files under
// <root>/images named "<breed>_<n>.jpg", labelled with the fixed pets vocabulary.
type PetsDataset struct {
	*ImageFolderDataset
}

// NewPetsDataset creates the pets dataset rooted at dataDir
func NewPetsDataset(dataDir string, imageSize int) (*PetsDataset, error) {
	ds, err := NewImageFolderDataset(dataDir, "images", "*.jpg", PetsVocabulary(), imageSize)
	if err != nil {
		return nil, err
	}
	return &PetsDataset{ImageFolderDataset: ds}, nil
}

// Summary returns a summary of the dataset
func (d *PetsDataset) Summary() string {
	return fmt.Sprintf("Pets Dataset: %d images, %d classes, %dx%d", d.Len(), d.NumClasses(), d.ImageSize(), d.ImageSize())
}
