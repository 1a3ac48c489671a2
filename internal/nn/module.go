// Package nn implements the neural network layers for the autoregressive
// image model: masked and plain convolutions, residual blocks, activations
// and the categorical pixel loss.
//
// Design follows PyTorch's nn.Module adapted for Go generics: modules expose
// Forward and Parameters, and compose into larger modules.
package nn

import (
	"github.com/raster-ml/pixelcnn/internal/tensor"
)

// Module is the base interface for all neural network components.
//
// Type parameter B must satisfy the tensor.Backend interface.
type Module[B tensor.Backend] interface {
	// Forward computes the output of the module given an input tensor.
	Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]

	// Parameters returns all trainable parameters of this module,
	// including nested module parameters. Modules without trainable
	// parameters return nil.
	Parameters() []*Parameter[B]
}
