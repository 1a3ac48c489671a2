// Package imaging renders sampled image tensors to files for inspection.
package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/raster-ml/pixelcnn/internal/tensor"
)

// Grid tiles a batch of images into one picture, row major. The input is
// a float32 [N, C, H, W] tensor with values in [0, 1]; C must be 1
// (grayscale) or 3 (RGB). rows*cols must cover the batch.
func Grid(images *tensor.RawTensor, rows, cols int) (image.Image, error) {
	shape := images.Shape()
	if len(shape) != 4 {
		return nil, fmt.Errorf("expected 4D [N,C,H,W] tensor, got %v", shape)
	}
	n, c, h, w := shape[0], shape[1], shape[2], shape[3]
	if c != 1 && c != 3 {
		return nil, fmt.Errorf("expected 1 or 3 channels, got %d", c)
	}
	if rows*cols < n {
		return nil, fmt.Errorf("grid %dx%d too small for %d images", rows, cols, n)
	}

	data := images.AsFloat32()
	bounds := image.Rect(0, 0, cols*w, rows*h)

	pixelAt := func(i, ch, y, x int) uint8 {
		v := data[((i*c+ch)*h+y)*w+x]
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		return uint8(v*255 + 0.5)
	}

	if c == 1 {
		img := image.NewGray(bounds)
		for i := 0; i < n; i++ {
			ox, oy := (i%cols)*w, (i/cols)*h
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					img.SetGray(ox+x, oy+y, color.Gray{Y: pixelAt(i, 0, y, x)})
				}
			}
		}
		return img, nil
	}

	img := image.NewRGBA(bounds)
	for i := 0; i < n; i++ {
		ox, oy := (i%cols)*w, (i/cols)*h
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.SetRGBA(ox+x, oy+y, color.RGBA{
					R: pixelAt(i, 0, y, x),
					G: pixelAt(i, 1, y, x),
					B: pixelAt(i, 2, y, x),
					A: 255,
				})
			}
		}
	}
	return img, nil
}

// SavePNG writes an image to path in PNG format.
func SavePNG(img image.Image, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}
