package nn

import (
	"github.com/raster-ml/pixelcnn/internal/tensor"
)

// CrossEntropyBackend is an interface for backends with a fused softmax
// cross-entropy.
type CrossEntropyBackend interface {
	CrossEntropy(logits, targets *tensor.RawTensor) *tensor.RawTensor
}

// CrossEntropyLoss computes cross-entropy loss for multi-class
// classification over raw logits.
//
// The pixel model treats every pixel channel as an independent
// classification over the quantization levels, so the "batch" dimension
// here is all pixel channels of the minibatch flattened together.
type CrossEntropyLoss[B tensor.Backend] struct {
	backend B
}

// NewCrossEntropyLoss creates a new cross-entropy loss function.
func NewCrossEntropyLoss[B tensor.Backend](backend B) *CrossEntropyLoss[B] {
	return &CrossEntropyLoss[B]{
		backend: backend,
	}
}

// Forward computes the mean cross-entropy loss.
//
// logits: [batch_size, num_classes], targets: [batch_size] class indices.
// When the backend is autodiff-aware the fused operation is recorded on the
// tape.
func (c *CrossEntropyLoss[B]) Forward(
	logits *tensor.Tensor[float32, B],
	targets *tensor.Tensor[int32, B],
) *tensor.Tensor[float32, B] {
	adBackend, ok := any(c.backend).(CrossEntropyBackend)
	if !ok {
		panic("crossEntropyLoss: backend must implement CrossEntropy (use autodiff.AutodiffBackend)")
	}

	resultRaw := adBackend.CrossEntropy(logits.Raw(), targets.Raw())
	return tensor.New[float32, B](resultRaw, c.backend)
}

// Parameters returns nil (loss functions have no trainable parameters).
func (c *CrossEntropyLoss[B]) Parameters() []*Parameter[B] {
	return nil
}
