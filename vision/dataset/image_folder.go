package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tsawler/petsbench/tensor"
	"github.com/tsawler/petsbench/vision/preprocessing"
)

// Sample is one preprocessed image and its class index
type Sample struct {
	Image *tensor.Tensor // [3, size, size] Float32, values in [0, 1]
	Label int
}

// ImageFolderDataset maps the image files found directly under one known
// subfolder of a root directory to (tensor, class index) pairs. Labels come
// from the filenames, not from the directory structure.
type ImageFolderDataset struct {
	imagePaths []string
	vocab      *Vocabulary
	processor  *preprocessing.ImageProcessor
}

// NewImageFolderDataset scans root/subdir for files matching pattern once.
// The file list is sorted by name so the order is the same on every platform.
func NewImageFolderDataset(root, subdir, pattern string, vocab *Vocabulary, imageSize int) (*ImageFolderDataset, error) {
	if vocab == nil {
		return nil, fmt.Errorf("vocabulary cannot be nil")
	}
	if imageSize <= 0 {
		return nil, fmt.Errorf("image size must be positive, got %d", imageSize)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatasetRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrDatasetRoot, root)
	}

	dir := filepath.Join(root, subdir)
	if _, err := os.ReadDir(dir); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatasetRoot, err)
	}

	files, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images matching %s found in %s", pattern, dir)
	}
	sort.Strings(files)

	return &ImageFolderDataset{
		imagePaths: files,
		vocab:      vocab,
		processor:  preprocessing.NewImageProcessor(imageSize),
	}, nil
}

// Len returns the number of items in the dataset
func (d *ImageFolderDataset) Len() int {
	return len(d.imagePaths)
}

// Path returns the file behind the sample at index
func (d *ImageFolderDataset) Path(index int) (string, error) {
	if index < 0 || index >= len(d.imagePaths) {
		return "", fmt.Errorf("index %d out of range [0, %d)", index, len(d.imagePaths))
	}
	return d.imagePaths[index], nil
}

// Vocabulary returns the class vocabulary
func (d *ImageFolderDataset) Vocabulary() *Vocabulary {
	return d.vocab
}

// NumClasses returns the number of classes
func (d *ImageFolderDataset) NumClasses() int {
	return d.vocab.Len()
}

// ImageSize returns the side length of the preprocessed images
func (d *ImageFolderDataset) ImageSize() int {
	return d.processor.TargetSize()
}

// LabelFor resolves the class index encoded in filename
func (d *ImageFolderDataset) LabelFor(filename string) (int, error) {
	label, err := ExtractLabel(filename)
	if err != nil {
		return 0, err
	}
	idx, ok := d.vocab.Index(label)
	if !ok {
		return 0, &LabelNotFoundError{Filename: filepath.Base(filename), Label: label}
	}
	return idx, nil
}

// Get returns the preprocessed image and label at the given index. The label
// is resolved before the image is decoded, so a bad filename fails fast.
func (d *ImageFolderDataset) Get(index int) (Sample, error) {
	path, err := d.Path(index)
	if err != nil {
		return Sample{}, err
	}

	label, err := d.LabelFor(path)
	if err != nil {
		return Sample{}, err
	}

	img, err := d.processor.LoadFile(path)
	if err != nil {
		return Sample{}, err
	}

	t, err := tensor.NewTensor([]int{img.Channels, img.Height, img.Width}, tensor.Float32, tensor.CPU, img.Data)
	if err != nil {
		return Sample{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	return Sample{Image: t, Label: label}, nil
}

// ClassDistribution returns the number of files per class name. It fails on
// the first filename that does not resolve to a class.
func (d *ImageFolderDataset) ClassDistribution() (map[string]int, error) {
	dist := make(map[string]int)
	for _, path := range d.imagePaths {
		idx, err := d.LabelFor(path)
		if err != nil {
			return nil, err
		}
		dist[d.vocab.Name(idx)]++
	}
	return dist, nil
}

// String returns a string representation of the dataset
func (d *ImageFolderDataset) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("ImageFolderDataset: %d samples, %d classes, %dx%d images\n",
		len(d.imagePaths), d.vocab.Len(), d.ImageSize(), d.ImageSize()))

	dist, err := d.ClassDistribution()
	if err != nil {
		sb.WriteString(fmt.Sprintf("Class distribution unavailable: %v\n", err))
		return sb.String()
	}

	sb.WriteString("Class distribution:\n")
	for _, className := range d.vocab.Names() {
		if count := dist[className]; count > 0 {
			sb.WriteString(fmt.Sprintf("  %s: %d samples\n", className, count))
		}
	}

	return sb.String()
}
