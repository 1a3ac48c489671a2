package optim

import (
	"math"

	"github.com/raster-ml/pixelcnn/internal/tensor"
)

// ClipGradNorm rescales a set of gradients in place so their global L2 norm
// does not exceed maxNorm.
//
// The norm is computed over all gradients jointly, the way
// tf.clip_by_global_norm and torch.nn.utils.clip_grad_norm_ do it. If the
// norm is already within the bound the gradients are left untouched.
//
// Returns the norm measured before clipping.
func ClipGradNorm(grads []*tensor.RawTensor, maxNorm float32) float32 {
	if maxNorm <= 0 {
		panic("clipGradNorm: maxNorm must be positive")
	}

	var sumSquares float64
	for _, g := range grads {
		if g == nil {
			continue
		}
		for _, v := range g.AsFloat32() {
			sumSquares += float64(v) * float64(v)
		}
	}
	totalNorm := float32(math.Sqrt(sumSquares))

	if totalNorm > maxNorm {
		scale := maxNorm / totalNorm
		for _, g := range grads {
			if g == nil {
				continue
			}
			data := g.AsFloat32()
			for i := range data {
				data[i] *= scale
			}
		}
	}

	return totalNorm
}
