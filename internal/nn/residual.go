package nn

import (
	"fmt"
	"math/rand"

	"github.com/raster-ml/pixelcnn/internal/tensor"
)

// ResidualBlock is the bottleneck residual block of the autoregressive
// image model.
//
// The block keeps the feature width 2h at its boundary and squeezes to h in
// the middle:
//
//	x -> ReLU -> 1x1 conv (2h -> h)
//	  -> ReLU -> masked 3x3 conv, mask B (h -> h)
//	  -> ReLU -> 1x1 conv (h -> 2h)
//	  -> + x
//
// Only the 3x3 convolution needs a mask: 1x1 convolutions never look at
// neighboring pixels, and the channel-group constraint is already enforced
// by the masked layers the signal has passed through.
type ResidualBlock[B tensor.Backend] struct {
	relu    *ReLU[B]
	squeeze *Conv2D[B]       // 1x1, 2h -> h
	masked  *MaskedConv2D[B] // 3x3 mask B, h -> h
	expand  *Conv2D[B]       // 1x1, h -> 2h
}

// NewResidualBlock creates a residual block with hidden width h.
// The input and output feature width is 2h.
func NewResidualBlock[B tensor.Backend](h, imageChannels int, rng *rand.Rand, backend B) *ResidualBlock[B] {
	if h <= 0 {
		panic(fmt.Sprintf("residualblock: invalid hidden width %d", h))
	}

	return &ResidualBlock[B]{
		relu:    NewReLU[B](),
		squeeze: NewConv2D(2*h, h, 1, 1, 1, 0, true, rng, backend),
		masked:  NewMaskedConv2D(MaskB, h, h, 3, imageChannels, rng, backend),
		expand:  NewConv2D(h, 2*h, 1, 1, 1, 0, true, rng, backend),
	}
}

// Forward computes the block output. Input and output are [N, 2h, H, W].
func (r *ResidualBlock[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	x := r.relu.Forward(input)
	x = r.squeeze.Forward(x)

	x = r.relu.Forward(x)
	x = r.masked.Forward(x)

	x = r.relu.Forward(x)
	x = r.expand.Forward(x)

	return x.Add(input)
}

// Parameters returns all trainable parameters of the block.
func (r *ResidualBlock[B]) Parameters() []*Parameter[B] {
	params := r.squeeze.Parameters()
	params = append(params, r.masked.Parameters()...)
	params = append(params, r.expand.Parameters()...)
	return params
}
