package ops

import (
	"fmt"

	"github.com/raster-ml/pixelcnn/internal/tensor"
)

// reduceBroadcast reduces a gradient tensor back to the target shape after a
// broadcast forward pass.
//
// Example:
//
//	forward:  x[N,C,H,W] + bias[1,C,1,1] -> [N,C,H,W]
//	backward: grad[N,C,H,W] -> gradBias[1,C,1,1] (summed over N, H, W)
func reduceBroadcast(grad *tensor.RawTensor, targetShape tensor.Shape, backend tensor.Backend) *tensor.RawTensor {
	gradShape := grad.Shape()

	if gradShape.Equal(targetShape) {
		return grad.Clone()
	}

	if len(targetShape) == 0 {
		return sumAll(grad)
	}

	// Broadcasting aligns shapes from the right; sum away leading dimensions
	// the target never had.
	result := grad
	for len(result.Shape()) > len(targetShape) {
		result = sumAlongDimension(result, 0)
		result = backend.Reshape(result, result.Shape()[1:].Clone())
	}

	// Then sum along dimensions where the target is 1.
	for i := 0; i < len(targetShape); i++ {
		if targetShape[i] == 1 && result.Shape()[i] > 1 {
			result = sumAlongDimension(result, i)
		}
	}

	if !result.Shape().Equal(targetShape) {
		result = backend.Reshape(result, targetShape)
	}

	return result
}

// sumAll sums all elements of a tensor into a scalar.
func sumAll(t *tensor.RawTensor) *tensor.RawTensor {
	result, err := tensor.NewRaw(tensor.Shape{}, t.DType(), t.Device())
	if err != nil {
		panic(fmt.Sprintf("sumAll: failed to create result: %v", err))
	}

	var sum float32
	for _, v := range t.AsFloat32() {
		sum += v
	}
	result.AsFloat32()[0] = sum
	return result
}

// sumAlongDimension sums a tensor along one dimension, keeping it as size 1.
func sumAlongDimension(t *tensor.RawTensor, dim int) *tensor.RawTensor {
	shape := t.Shape()
	if dim < 0 || dim >= len(shape) {
		panic(fmt.Sprintf("sumAlongDimension: invalid dimension %d for shape %v", dim, shape))
	}

	outShape := shape.Clone()
	outShape[dim] = 1

	result, err := tensor.NewRaw(outShape, t.DType(), t.Device())
	if err != nil {
		panic(fmt.Sprintf("sumAlongDimension: failed to create result: %v", err))
	}

	data := t.AsFloat32()
	out := result.AsFloat32()

	// outer iterates over dimensions before dim, inner over dimensions after.
	outer, inner := 1, 1
	for d := 0; d < dim; d++ {
		outer *= shape[d]
	}
	for d := dim + 1; d < len(shape); d++ {
		inner *= shape[d]
	}
	dimSize := shape[dim]

	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			var sum float32
			base := o * dimSize * inner
			for k := 0; k < dimSize; k++ {
				sum += data[base+k*inner+i]
			}
			out[o*inner+i] = sum
		}
	}

	return result
}

// Softmax computes softmax along the last dimension of a 2D tensor.
//
// Max-shifting keeps exp from overflowing. This helper runs outside the
// tape; the sampler uses it to turn logits into pixel-value probabilities.
func Softmax(input *tensor.RawTensor, device tensor.Device) *tensor.RawTensor {
	shape := input.Shape()
	if len(shape) != 2 {
		panic("softmax: only supports 2D tensors [batch_size, num_classes]")
	}

	output, err := tensor.NewRaw(shape, input.DType(), device)
	if err != nil {
		panic(err)
	}

	softmaxRows(input.AsFloat32(), output.AsFloat32(), shape[0], shape[1])
	return output
}

// softmaxRows computes a stable softmax independently for each row.
func softmaxRows(inputData, outputData []float32, rows, cols int) {
	for b := 0; b < rows; b++ {
		offset := b * cols

		maxVal := inputData[offset]
		for j := 1; j < cols; j++ {
			if inputData[offset+j] > maxVal {
				maxVal = inputData[offset+j]
			}
		}

		sumExp := float32(0.0)
		for j := 0; j < cols; j++ {
			idx := offset + j
			outputData[idx] = exp32(inputData[idx] - maxVal)
			sumExp += outputData[idx]
		}

		for j := 0; j < cols; j++ {
			outputData[offset+j] /= sumExp
		}
	}
}
