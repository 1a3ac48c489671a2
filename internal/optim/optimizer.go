// Package optim implements the optimization machinery for training:
// the Adam optimizer, global gradient norm clipping and learning rate decay.
//
// Design inspired by PyTorch's torch.optim, adapted for Go with type safety.
//
// Example usage:
//
//	optimizer := optim.NewAdam(model.Parameters(), optim.AdamConfig{LR: 3e-4}, backend)
//
//	for step := range steps {
//	    backend.Tape().StartRecording()
//	    loss := lossFunc.Forward(model.Forward(input), targets)
//	    grads := autodiff.Backward(loss, backend)
//	    optim.ClipGradNorm(collectGrads(model, grads), 1.0)
//	    optimizer.Step(grads)
//	    optimizer.ZeroGrad()
//	}
package optim

import (
	"github.com/raster-ml/pixelcnn/internal/nn"
	"github.com/raster-ml/pixelcnn/internal/tensor"
)

// Optimizer is the base interface for all optimization algorithms.
type Optimizer interface {
	// Step applies gradient updates to all parameters.
	// Takes the gradient map from Backward() and updates parameters
	// in place.
	Step(grads map[*tensor.RawTensor]*tensor.RawTensor)

	// ZeroGrad clears all parameter gradients.
	ZeroGrad()

	// GetLR returns the current learning rate.
	GetLR() float32
}

// getGradient retrieves the gradient for a parameter, or nil if the
// parameter wasn't part of the computation graph.
func getGradient[B tensor.Backend](param *nn.Parameter[B], grads map[*tensor.RawTensor]*tensor.RawTensor) *tensor.RawTensor {
	if param == nil {
		return nil
	}
	return grads[param.Tensor().Raw()]
}
