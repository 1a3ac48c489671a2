package dataset

import (
	"fmt"
	"math/rand"
	"path/filepath"

	"github.com/raster-ml/pixelcnn/internal/tensor"
)

// Dataset holds quantized images ready for autoregressive training.
//
// Each sample is stored twice: as a float32 image in [C, H, W] plane order
// whose values are bin centers (model input), and as the int32 bins in
// raster-major, channel-minor order (loss targets). The two layouts match
// the flattened logits the model produces.
type Dataset struct {
	Images  [][]float32 // [num_samples][C*H*W], values bin/(q-1)
	Targets [][]int32   // [num_samples][H*W*C]

	Channels int
	Height   int
	Width    int
	QLevels  int
}

// FromFloats quantizes raw intensities into a Dataset.
//
// pixels holds one sample per entry, each [C*H*W] in plane order with
// values in [0, 1].
func FromFloats(pixels [][]float32, channels, height, width, qLevels int) (*Dataset, error) {
	sampleSize := channels * height * width
	ds := &Dataset{
		Images:   make([][]float32, len(pixels)),
		Targets:  make([][]int32, len(pixels)),
		Channels: channels,
		Height:   height,
		Width:    width,
		QLevels:  qLevels,
	}

	for i, sample := range pixels {
		if len(sample) != sampleSize {
			return nil, fmt.Errorf("sample %d has %d values, want %d", i, len(sample), sampleSize)
		}

		img := make([]float32, sampleSize)
		tgt := make([]int32, sampleSize)
		for c := 0; c < channels; c++ {
			for y := 0; y < height; y++ {
				for x := 0; x < width; x++ {
					bin := Quantize(sample[(c*height+y)*width+x], qLevels)
					img[(c*height+y)*width+x] = Dequantize(bin, qLevels)
					tgt[(y*width+x)*channels+c] = bin
				}
			}
		}
		ds.Images[i] = img
		ds.Targets[i] = tgt
	}

	return ds, nil
}

// LoadMNIST loads and quantizes MNIST images from official IDX binary files.
//
// Expected files in dataDir:
//   - train-images-idx3-ubyte (or t10k-images-idx3-ubyte for test)
//
// maxSamples limits the number of images loaded (0 = load all).
func LoadMNIST(dataDir string, train bool, maxSamples, qLevels int) (*Dataset, error) {
	imageFile := filepath.Join(dataDir, "t10k-images-idx3-ubyte")
	if train {
		imageFile = filepath.Join(dataDir, "train-images-idx3-ubyte")
	}

	imagesRaw, rows, cols, err := readIDXImages(imageFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load images: %w", err)
	}

	numSamples := len(imagesRaw)
	if maxSamples > 0 && numSamples > maxSamples {
		numSamples = maxSamples
	}

	pixels := make([][]float32, numSamples)
	for i := 0; i < numSamples; i++ {
		sample := make([]float32, rows*cols)
		for j, b := range imagesRaw[i] {
			sample[j] = float32(b) / 255.0
		}
		pixels[i] = sample
	}

	return FromFloats(pixels, 1, rows, cols, qLevels)
}

// Synthetic builds a small dataset of banded patterns for pipeline tests
// and runs without MNIST files on disk. Each sample is a horizontal band
// of random intensity on a dark background, which gives the model an easy
// row-wise structure to learn.
func Synthetic(numSamples, channels, height, width, qLevels int, rng *rand.Rand) *Dataset {
	pixels := make([][]float32, numSamples)
	for i := range pixels {
		sample := make([]float32, channels*height*width)

		bandStart := rng.Intn(height)
		bandHeight := 1 + rng.Intn(height/2+1)
		intensity := 0.5 + 0.5*rng.Float32()

		for c := 0; c < channels; c++ {
			for y := bandStart; y < bandStart+bandHeight && y < height; y++ {
				for x := 0; x < width; x++ {
					sample[(c*height+y)*width+x] = intensity
				}
			}
		}
		pixels[i] = sample
	}

	ds, err := FromFloats(pixels, channels, height, width, qLevels)
	if err != nil {
		// FromFloats only fails on sample-size mismatch, which the
		// construction above cannot produce.
		panic(err)
	}
	return ds
}

// NumSamples returns the total number of samples in the dataset.
func (d *Dataset) NumSamples() int {
	return len(d.Images)
}

// Batch is a mini-batch of images and flattened targets.
type Batch[B tensor.Backend] struct {
	Images  *tensor.Tensor[float32, B] // [N, C, H, W]
	Targets *tensor.Tensor[int32, B]   // [N*H*W*C]
	Size    int
}

// CreateBatches splits a dataset into mini-batches.
//
// When rng is non-nil the sample order is shuffled first. The last batch
// may be smaller if the data doesn't divide evenly.
func CreateBatches[B tensor.Backend](d *Dataset, batchSize int, rng *rand.Rand, backend B) ([]*Batch[B], error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	numSamples := d.NumSamples()
	sampleSize := d.Channels * d.Height * d.Width

	indices := make([]int, numSamples)
	for i := range indices {
		indices[i] = i
	}
	if rng != nil {
		rng.Shuffle(numSamples, func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	numBatches := (numSamples + batchSize - 1) / batchSize
	batches := make([]*Batch[B], 0, numBatches)

	for start := 0; start < numSamples; start += batchSize {
		end := start + batchSize
		if end > numSamples {
			end = numSamples
		}
		n := end - start

		imagesRaw, err := tensor.NewRaw(
			tensor.Shape{n, d.Channels, d.Height, d.Width},
			tensor.Float32,
			backend.Device(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create images tensor: %w", err)
		}

		targetsRaw, err := tensor.NewRaw(
			tensor.Shape{n * d.Height * d.Width * d.Channels},
			tensor.Int32,
			backend.Device(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create targets tensor: %w", err)
		}

		imagesData := imagesRaw.AsFloat32()
		targetsData := targetsRaw.AsInt32()
		targetSize := d.Height * d.Width * d.Channels

		for j := start; j < end; j++ {
			idx := indices[j]
			copy(imagesData[(j-start)*sampleSize:(j-start+1)*sampleSize], d.Images[idx])
			copy(targetsData[(j-start)*targetSize:(j-start+1)*targetSize], d.Targets[idx])
		}

		batches = append(batches, &Batch[B]{
			Images:  tensor.New[float32, B](imagesRaw, backend),
			Targets: tensor.New[int32, B](targetsRaw, backend),
			Size:    n,
		})
	}

	return batches, nil
}
