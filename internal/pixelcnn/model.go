// Package pixelcnn assembles the masked-convolution image model and its
// training and sampling loops.
//
// The model is autoregressive over pixels: every channel value is a
// categorical distribution over quantization bins, conditioned on the
// pixels above and to the left (and on earlier channels of the same
// pixel). Causality is enforced entirely by kernel masks, so training is
// a single dense forward pass while sampling proceeds pixel by pixel.
package pixelcnn

import (
	"fmt"
	"math/rand"

	"github.com/raster-ml/pixelcnn/internal/nn"
	"github.com/raster-ml/pixelcnn/internal/tensor"
)

// Config describes the model architecture.
type Config struct {
	Channels   int // image channels (1 for grayscale, 3 for RGB)
	QLevels    int // quantization bins per channel value
	Hidden     int // residual bottleneck width h; the feature width is 2h
	ResBlocks  int // number of residual blocks
	KernelSize int // spatial size of the first (type A) convolution, odd
}

// Model is the masked-convolution autoregressive image model.
//
// Input [N, C, H, W] images with bin-center values, output
// [N, C*Q, H, W] logits where the Q logits for channel c live in output
// channels q*C + c.
type Model[B tensor.Backend] struct {
	cfg Config

	input  *nn.MaskedConv2D[B] // type A, C -> 2h
	blocks []*nn.ResidualBlock[B]
	relu   *nn.ReLU[B]
	head1  *nn.Conv2D[B] // 1x1, 2h -> 2h
	head2  *nn.Conv2D[B] // 1x1, 2h -> 2h
	out    *nn.Conv2D[B] // 1x1, 2h -> C*Q

	backend B
}

// New builds a model from cfg with Xavier-initialized weights drawn
// from rng.
func New[B tensor.Backend](cfg Config, rng *rand.Rand, backend B) *Model[B] {
	if cfg.Channels <= 0 {
		panic(fmt.Sprintf("pixelcnn: invalid channels %d", cfg.Channels))
	}
	if cfg.QLevels < 2 {
		panic(fmt.Sprintf("pixelcnn: invalid quantization levels %d", cfg.QLevels))
	}
	if cfg.Hidden <= 0 {
		panic(fmt.Sprintf("pixelcnn: invalid hidden width %d", cfg.Hidden))
	}
	if cfg.ResBlocks < 0 {
		panic(fmt.Sprintf("pixelcnn: invalid residual block count %d", cfg.ResBlocks))
	}
	if cfg.KernelSize <= 0 || cfg.KernelSize%2 == 0 {
		panic(fmt.Sprintf("pixelcnn: kernel size must be odd and positive, got %d", cfg.KernelSize))
	}

	width := 2 * cfg.Hidden

	blocks := make([]*nn.ResidualBlock[B], cfg.ResBlocks)
	for i := range blocks {
		blocks[i] = nn.NewResidualBlock(cfg.Hidden, cfg.Channels, rng, backend)
	}

	return &Model[B]{
		cfg:     cfg,
		input:   nn.NewMaskedConv2D(nn.MaskA, cfg.Channels, width, cfg.KernelSize, cfg.Channels, rng, backend),
		blocks:  blocks,
		relu:    nn.NewReLU[B](),
		head1:   nn.NewConv2D(width, width, 1, 1, 1, 0, true, rng, backend),
		head2:   nn.NewConv2D(width, width, 1, 1, 1, 0, true, rng, backend),
		out:     nn.NewConv2D(width, cfg.Channels*cfg.QLevels, 1, 1, 1, 0, true, rng, backend),
		backend: backend,
	}
}

// Config returns the architecture the model was built with.
func (m *Model[B]) Config() Config {
	return m.cfg
}

// Forward maps images [N, C, H, W] to logits [N, C*Q, H, W].
func (m *Model[B]) Forward(images *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	x := m.input.Forward(images)

	for _, block := range m.blocks {
		x = block.Forward(x)
	}

	x = m.relu.Forward(x)
	x = m.head1.Forward(x)
	x = m.relu.Forward(x)
	x = m.head2.Forward(x)

	return m.out.Forward(x)
}

// FlattenLogits rearranges [N, C*Q, H, W] logits into the
// [N*H*W*C, Q] layout the cross-entropy loss consumes. Rows are ordered
// raster major with the channel innermost, matching dataset targets.
//
// The reshape and transpose go through the tensor API so the gradient of
// the loss flows back to the 4D logits.
func (m *Model[B]) FlattenLogits(logits *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := logits.Shape()
	if len(shape) != 4 || shape[1] != m.cfg.Channels*m.cfg.QLevels {
		panic(fmt.Sprintf("pixelcnn: logits shape %v does not match C*Q=%d channels",
			shape, m.cfg.Channels*m.cfg.QLevels))
	}

	n, h, w := shape[0], shape[2], shape[3]
	c, q := m.cfg.Channels, m.cfg.QLevels

	// [N, C*Q, H, W] -> [N, Q, C, H, W]: output channel q*C + c splits
	// into (q, c).
	x := logits.Reshape(n, q, c, h, w)
	// -> [N, H, W, C, Q]
	x = x.Transpose(0, 3, 4, 2, 1)
	// -> [N*H*W*C, Q]
	return x.Reshape(n*h*w*c, q)
}

// Parameters returns every trainable parameter of the model.
func (m *Model[B]) Parameters() []*nn.Parameter[B] {
	params := m.input.Parameters()
	for _, block := range m.blocks {
		params = append(params, block.Parameters()...)
	}
	params = append(params, m.head1.Parameters()...)
	params = append(params, m.head2.Parameters()...)
	params = append(params, m.out.Parameters()...)
	return params
}

// NumParameters returns the total element count over all parameters.
func (m *Model[B]) NumParameters() int {
	total := 0
	for _, p := range m.Parameters() {
		total += p.Tensor().NumElements()
	}
	return total
}
