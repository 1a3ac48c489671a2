package ops

import "math"

func exp32(x float32) float32 {
	return float32(math.Exp(float64(x)))
}

func log32(x float32) float32 {
	return float32(math.Log(float64(x)))
}
