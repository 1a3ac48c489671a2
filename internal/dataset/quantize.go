// Package dataset provides data loading, quantization, and batching for
// autoregressive image modeling.
//
// Pixel intensities in [0, 1] are discretized into q bins. The model
// consumes float32 images whose values are bin centers and predicts the
// integer bin of every channel value.
package dataset

// Quantize maps an intensity in [0, 1] to one of q bins.
//
// The cut points are the q uniform thresholds i/q; the bin is the index
// of the last threshold the value reaches. Values at or above (q-1)/q
// land in the top bin, so inputs slightly above 1 are clamped naturally.
func Quantize(x float32, q int) int32 {
	if q < 2 {
		panic("dataset: quantization levels must be >= 2")
	}
	bin := int32(0)
	for i := 1; i < q; i++ {
		if x >= float32(i)/float32(q) {
			bin++
		}
	}
	return bin
}

// Dequantize maps a bin back to an intensity in [0, 1].
//
// Bins spread over the full range, so bin 0 maps to 0 and bin q-1 maps
// to 1. Quantize(Dequantize(b, q), q) == b for every bin.
func Dequantize(bin int32, q int) float32 {
	if q < 2 {
		panic("dataset: quantization levels must be >= 2")
	}
	return float32(bin) / float32(q-1)
}
