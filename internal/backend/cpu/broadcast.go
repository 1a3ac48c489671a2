package cpu

import (
	"github.com/raster-ml/pixelcnn/internal/tensor"
)

// broadcastBinary evaluates op element-wise over the broadcast output shape.
func broadcastBinary(dst, a, b []float32, aShape, bShape, outShape tensor.Shape, op func(x, y float32) float32) {
	outStrides := outShape.ComputeStrides()
	aStrides := broadcastStrides(aShape, outShape)
	bStrides := broadcastStrides(bShape, outShape)

	n := outShape.NumElements()
	for i := 0; i < n; i++ {
		aIdx := flatIndex(i, outStrides, aStrides)
		bIdx := flatIndex(i, outStrides, bStrides)
		dst[i] = op(a[aIdx], b[bIdx])
	}
}

// broadcastStrides computes strides for broadcasting inShape to outShape.
// Dimensions of size 1 and padded leading dimensions get stride 0.
func broadcastStrides(inShape, outShape tensor.Shape) []int {
	outDim := len(outShape)
	strides := make([]int, outDim)

	inDim := len(inShape)
	offset := outDim - inDim
	origStrides := inShape.ComputeStrides()

	for i := 0; i < outDim; i++ {
		inIdx := i - offset
		switch {
		case inIdx < 0 || inIdx >= inDim:
			strides[i] = 0
		case inShape[inIdx] == 1:
			strides[i] = 0
		default:
			strides[i] = origStrides[inIdx]
		}
	}

	return strides
}

// flatIndex maps a flat output index to a flat source index using
// broadcast-adjusted strides.
func flatIndex(outIdx int, outStrides, inStrides []int) int {
	flatIdx := 0
	for i := range outStrides {
		coord := outIdx / outStrides[i]
		outIdx %= outStrides[i]
		flatIdx += coord * inStrides[i]
	}
	return flatIdx
}
