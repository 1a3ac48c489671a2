// Package ops defines the differentiable operations recorded on the
// gradient tape.
//
// Each operation captures its input and output tensors during the forward
// pass and computes input gradients from the output gradient during the
// backward pass.
package ops

import "github.com/raster-ml/pixelcnn/internal/tensor"

// Operation represents a differentiable operation in the computation graph.
type Operation interface {
	// Backward computes gradients for inputs given the output gradient.
	// Returns one gradient per input tensor, in the same order as Inputs.
	Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor

	// Inputs returns the input tensors for this operation.
	Inputs() []*tensor.RawTensor

	// Output returns the output tensor produced by this operation.
	Output() *tensor.RawTensor
}
