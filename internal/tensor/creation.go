package tensor

import (
	"fmt"
	"math/rand"
)

// Zeros creates a tensor filled with zeros.
func Zeros[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	var dummy T
	raw, err := NewRaw(shape, inferDataType(dummy), b.Device())
	if err != nil {
		panic(fmt.Sprintf("tensor.Zeros: %v", err))
	}
	return New[T, B](raw, b)
}

// Ones creates a tensor filled with ones.
func Ones[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	var one T
	switch any(one).(type) {
	case float32:
		one = any(float32(1)).(T)
	case int32:
		one = any(int32(1)).(T)
	case uint8:
		one = any(uint8(1)).(T)
	case bool:
		one = any(true).(T)
	}
	return Full[T, B](shape, one, b)
}

// Full creates a tensor filled with the given value.
func Full[T DType, B Backend](shape Shape, value T, b B) *Tensor[T, B] {
	t := Zeros[T, B](shape, b)
	data := t.Data()
	for i := range data {
		data[i] = value
	}
	return t
}

// Rand creates a float32 tensor with values drawn uniformly from [0, 1)
// using the given random source.
func Rand[B Backend](shape Shape, rng *rand.Rand, b B) *Tensor[float32, B] {
	t := Zeros[float32, B](shape, b)
	data := t.Data()
	for i := range data {
		data[i] = rng.Float32()
	}
	return t
}

// RandUniform creates a float32 tensor with values drawn uniformly
// from [low, high) using the given random source.
func RandUniform[B Backend](shape Shape, low, high float32, rng *rand.Rand, b B) *Tensor[float32, B] {
	if high < low {
		panic(fmt.Sprintf("tensor.RandUniform: high (%v) < low (%v)", high, low))
	}
	t := Zeros[float32, B](shape, b)
	data := t.Data()
	span := high - low
	for i := range data {
		data[i] = low + span*rng.Float32()
	}
	return t
}

// Linspace creates a 1-D float32 tensor of n evenly spaced values
// from start to stop inclusive.
func Linspace[B Backend](start, stop float32, n int, b B) *Tensor[float32, B] {
	if n < 2 {
		panic(fmt.Sprintf("tensor.Linspace: need at least 2 points, got %d", n))
	}
	t := Zeros[float32, B](Shape{n}, b)
	data := t.Data()
	step := float64(stop-start) / float64(n-1)
	for i := range data {
		data[i] = start + float32(float64(i)*step)
	}
	data[n-1] = stop
	return t
}
