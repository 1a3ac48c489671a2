package pixelcnn

import (
	"fmt"
	"math/rand"

	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/raster-ml/pixelcnn/internal/autodiff"
	"github.com/raster-ml/pixelcnn/internal/dataset"
	"github.com/raster-ml/pixelcnn/internal/tensor"
)

// Sampler draws images from a trained model pixel by pixel.
//
// All randomness comes from the rng passed at construction; nothing
// touches package-global random state, so runs are reproducible by
// seeding.
type Sampler[B tensor.Backend] struct {
	model   *Model[*autodiff.AutodiffBackend[B]]
	backend *autodiff.AutodiffBackend[B]
	rng     *rand.Rand
	src     exprand.Source
}

// NewSampler creates a sampler for a model built on an autodiff backend.
func NewSampler[B tensor.Backend](
	model *Model[*autodiff.AutodiffBackend[B]],
	backend *autodiff.AutodiffBackend[B],
	rng *rand.Rand,
) *Sampler[B] {
	return &Sampler[B]{
		model:   model,
		backend: backend,
		rng:     rng,
		// distuv draws from its own source type; derive it from the
		// caller's rng so one seed fixes the whole run.
		src: exprand.NewSource(rng.Uint64()),
	}
}

// Generate samples n images of the given size.
//
// The buffer starts as uniform noise in [0, 0.5); every position is then
// overwritten in raster order, so the noise only matters as padding seen
// by masked kernels before the first real pixels exist.
func (s *Sampler[B]) Generate(n, height, width int) *tensor.Tensor[float32, *autodiff.AutodiffBackend[B]] {
	c := s.model.Config().Channels

	raw, err := tensor.NewRaw(tensor.Shape{n, c, height, width}, tensor.Float32, s.backend.Device())
	if err != nil {
		panic(fmt.Sprintf("sampler: %v", err))
	}
	data := raw.AsFloat32()
	for i := range data {
		data[i] = s.rng.Float32() * 0.5
	}

	buffer := tensor.New[float32, *autodiff.AutodiffBackend[B]](raw, s.backend)
	s.sample(buffer, 0)
	return buffer
}

// Inpaint completes occluded images. Rows below cutRow are zeroed and
// re-sampled conditioned on the rows above, which are returned unchanged.
func (s *Sampler[B]) Inpaint(
	images *tensor.Tensor[float32, *autodiff.AutodiffBackend[B]],
	cutRow int,
) *tensor.Tensor[float32, *autodiff.AutodiffBackend[B]] {
	shape := images.Shape()
	if len(shape) != 4 || shape[1] != s.model.Config().Channels {
		panic(fmt.Sprintf("sampler: input shape %v does not match model channels %d",
			shape, s.model.Config().Channels))
	}
	if cutRow < 0 || cutRow > shape[2] {
		panic(fmt.Sprintf("sampler: cut row %d out of range [0, %d]", cutRow, shape[2]))
	}

	buffer := images.Clone()

	n, c, h, w := shape[0], shape[1], shape[2], shape[3]
	data := buffer.Raw().AsFloat32()
	for i := 0; i < n; i++ {
		for ch := 0; ch < c; ch++ {
			plane := data[(i*c+ch)*h*w : (i*c+ch+1)*h*w]
			for y := cutRow; y < h; y++ {
				for x := 0; x < w; x++ {
					plane[y*w+x] = 0
				}
			}
		}
	}

	s.sample(buffer, cutRow)
	return buffer
}

// sample fills the buffer from startRow downward, one channel value at a
// time. Each write is conditioned on everything already written through
// a full forward pass.
func (s *Sampler[B]) sample(buffer *tensor.Tensor[float32, *autodiff.AutodiffBackend[B]], startRow int) {
	shape := buffer.Shape()
	n, c, h, w := shape[0], shape[1], shape[2], shape[3]
	q := s.model.Config().QLevels

	tape := s.backend.Tape()
	wasRecording := tape.IsRecording()
	tape.StopRecording()
	defer func() {
		if wasRecording {
			tape.StartRecording()
		}
	}()

	data := buffer.Raw().AsFloat32()

	visitPositions(h, w, c, startRow, func(row, col, ch int) {
		logits := s.model.Forward(buffer).Raw().AsFloat32()

		// Gather the Q logits for (row, col, ch) of every sample into
		// one [n, q] tensor and softmax the rows together.
		rowLogits, err := tensor.NewRaw(tensor.Shape{n, q}, tensor.Float32, s.backend.Device())
		if err != nil {
			panic(fmt.Sprintf("sampler: %v", err))
		}
		rowData := rowLogits.AsFloat32()
		for i := 0; i < n; i++ {
			for bin := 0; bin < q; bin++ {
				outCh := bin*c + ch
				rowData[i*q+bin] = logits[((i*c*q+outCh)*h+row)*w+col]
			}
		}

		probs := s.backend.Softmax(rowLogits).AsFloat32()

		weights := make([]float64, q)
		for i := 0; i < n; i++ {
			for bin := 0; bin < q; bin++ {
				weights[bin] = float64(probs[i*q+bin])
			}
			drawn := int32(distuv.NewCategorical(weights, s.src).Rand())
			data[((i*c+ch)*h+row)*w+col] = dataset.Dequantize(drawn, q)
		}
	})
}

// visitPositions walks the sampling order: rows from startRow down, then
// columns left to right, then channels. Every position at or below
// startRow is visited exactly once.
func visitPositions(height, width, channels, startRow int, visit func(row, col, ch int)) {
	for row := startRow; row < height; row++ {
		for col := 0; col < width; col++ {
			for ch := 0; ch < channels; ch++ {
				visit(row, col, ch)
			}
		}
	}
}
