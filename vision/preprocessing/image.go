package preprocessing

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"sync"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ImageProcessor decodes images and turns them into network input. It keeps
// no per-call state outside a scratch pool, so one processor may be shared by
// all data loader workers.
type ImageProcessor struct {
	targetSize int
	scratch    sync.Pool
}

// NewImageProcessor creates a new image processor with the specified target size
func NewImageProcessor(targetSize int) *ImageProcessor {
	p := &ImageProcessor{targetSize: targetSize}
	p.scratch.New = func() interface{} {
		return image.NewRGBA(image.Rect(0, 0, targetSize, targetSize))
	}
	return p
}

// TargetSize returns the side length of the square output
func (p *ImageProcessor) TargetSize() int {
	return p.targetSize
}

// ProcessedImage represents a preprocessed image ready for neural network input
type ProcessedImage struct {
	Data     []float32
	Width    int
	Height   int
	Channels int
}

// LoadFile opens, decodes and preprocesses the image at path
func (p *ImageProcessor) LoadFile(path string) (*ProcessedImage, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, err := p.DecodeAndPreprocess(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// DecodeAndPreprocess decodes a JPEG, PNG or WebP image and preprocesses it for neural network input.
// Returns data in CHW format (channels, height, width) normalized to [0, 1]
func (p *ImageProcessor) DecodeAndPreprocess(reader io.Reader) (*ProcessedImage, error) {
	if p.targetSize <= 0 {
		return nil, fmt.Errorf("invalid target size %d", p.targetSize)
	}

	img, format, err := image.Decode(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("decoded %s image is empty", format)
	}

	targetImg := p.scratch.Get().(*image.RGBA)
	defer p.scratch.Put(targetImg)

	// Resize the whole frame to a square, ignoring aspect ratio. Alpha is
	// dropped, which makes the result an RGB image.
	draw.BiLinear.Scale(targetImg, targetImg.Bounds(), img, img.Bounds(), draw.Src, nil)

	size := p.targetSize
	plane := size * size
	data := make([]float32, 3*plane)

	for y := 0; y < size; y++ {
		row := targetImg.Pix[y*targetImg.Stride:]
		for x := 0; x < size; x++ {
			px := row[x*4 : x*4+4]
			idx := y*size + x
			data[0*plane+idx] = float32(px[0]) / 255.0 // R channel
			data[1*plane+idx] = float32(px[1]) / 255.0 // G channel
			data[2*plane+idx] = float32(px[2]) / 255.0 // B channel
		}
	}

	return &ProcessedImage{
		Data:     data,
		Width:    size,
		Height:   size,
		Channels: 3,
	}, nil
}
