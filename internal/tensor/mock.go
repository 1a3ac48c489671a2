package tensor

import "fmt"

// Verify that MockBackend implements Backend.
var _ Backend = (*MockBackend)(nil)

// MockBackend is a simple backend for testing.
// It implements all operations naively for correctness verification.
type MockBackend struct{}

// NewMockBackend creates a new MockBackend.
func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

// Name returns the backend name.
func (m *MockBackend) Name() string {
	return "mock"
}

// Device returns the device type.
func (m *MockBackend) Device() Device {
	return CPU
}

// Add performs element-wise addition with broadcasting.
func (m *MockBackend) Add(a, b *RawTensor) *RawTensor {
	return m.elementWise(a, b, func(x, y float32) float32 { return x + y })
}

// Sub performs element-wise subtraction with broadcasting.
func (m *MockBackend) Sub(a, b *RawTensor) *RawTensor {
	return m.elementWise(a, b, func(x, y float32) float32 { return x - y })
}

// Mul performs element-wise multiplication with broadcasting.
func (m *MockBackend) Mul(a, b *RawTensor) *RawTensor {
	return m.elementWise(a, b, func(x, y float32) float32 { return x * y })
}

// Div performs element-wise division with broadcasting.
func (m *MockBackend) Div(a, b *RawTensor) *RawTensor {
	return m.elementWise(a, b, func(x, y float32) float32 { return x / y })
}

func (m *MockBackend) elementWise(a, b *RawTensor, op func(float32, float32) float32) *RawTensor {
	outShape, _, err := BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(err)
	}

	result, err := NewRaw(outShape, a.DType(), m.Device())
	if err != nil {
		panic(err)
	}

	aData := a.AsFloat32()
	bData := b.AsFloat32()
	resultData := result.AsFloat32()

	for i := 0; i < outShape.NumElements(); i++ {
		aIdx := m.broadcastIndex(i, outShape, a.Shape())
		bIdx := m.broadcastIndex(i, outShape, b.Shape())
		resultData[i] = op(aData[aIdx], bData[bIdx])
	}

	return result
}

// broadcastIndex maps a flat index in the output shape to the flat index
// in a (possibly smaller) operand shape under broadcasting rules.
func (m *MockBackend) broadcastIndex(flatIdx int, outShape, srcShape Shape) int {
	if outShape.Equal(srcShape) {
		return flatIdx
	}

	outStrides := outShape.ComputeStrides()
	srcStrides := srcShape.ComputeStrides()
	offset := len(outShape) - len(srcShape)

	srcIdx := 0
	for i, stride := range outStrides {
		coord := (flatIdx / stride) % outShape[i]
		if j := i - offset; j >= 0 {
			if srcShape[j] != 1 {
				srcIdx += coord * srcStrides[j]
			}
		}
	}
	return srcIdx
}

// Conv2D performs 2D convolution with naive nested loops.
func (m *MockBackend) Conv2D(input, kernel *RawTensor, stride, padding int) *RawTensor {
	n, cIn, h, w := input.Shape()[0], input.Shape()[1], input.Shape()[2], input.Shape()[3]
	cOut, kh, kw := kernel.Shape()[0], kernel.Shape()[2], kernel.Shape()[3]

	outH := (h+2*padding-kh)/stride + 1
	outW := (w+2*padding-kw)/stride + 1

	result, err := NewRaw(Shape{n, cOut, outH, outW}, Float32, m.Device())
	if err != nil {
		panic(err)
	}

	in := input.AsFloat32()
	k := kernel.AsFloat32()
	out := result.AsFloat32()

	for b := 0; b < n; b++ {
		for co := 0; co < cOut; co++ {
			for oy := 0; oy < outH; oy++ {
				for ox := 0; ox < outW; ox++ {
					var sum float32
					for ci := 0; ci < cIn; ci++ {
						for ky := 0; ky < kh; ky++ {
							for kx := 0; kx < kw; kx++ {
								iy := oy*stride + ky - padding
								ix := ox*stride + kx - padding
								if iy < 0 || iy >= h || ix < 0 || ix >= w {
									continue
								}
								sum += in[((b*cIn+ci)*h+iy)*w+ix] * k[((co*cIn+ci)*kh+ky)*kw+kx]
							}
						}
					}
					out[((b*cOut+co)*outH+oy)*outW+ox] = sum
				}
			}
		}
	}
	return result
}

// Conv2DInputBackward computes the gradient w.r.t. the convolution input.
func (m *MockBackend) Conv2DInputBackward(input, kernel, grad *RawTensor, stride, padding int) *RawTensor {
	n, cIn, h, w := input.Shape()[0], input.Shape()[1], input.Shape()[2], input.Shape()[3]
	cOut, kh, kw := kernel.Shape()[0], kernel.Shape()[2], kernel.Shape()[3]
	outH, outW := grad.Shape()[2], grad.Shape()[3]

	result, err := NewRaw(input.Shape(), Float32, m.Device())
	if err != nil {
		panic(err)
	}

	k := kernel.AsFloat32()
	g := grad.AsFloat32()
	out := result.AsFloat32()

	for b := 0; b < n; b++ {
		for co := 0; co < cOut; co++ {
			for oy := 0; oy < outH; oy++ {
				for ox := 0; ox < outW; ox++ {
					gv := g[((b*cOut+co)*outH+oy)*outW+ox]
					for ci := 0; ci < cIn; ci++ {
						for ky := 0; ky < kh; ky++ {
							for kx := 0; kx < kw; kx++ {
								iy := oy*stride + ky - padding
								ix := ox*stride + kx - padding
								if iy < 0 || iy >= h || ix < 0 || ix >= w {
									continue
								}
								out[((b*cIn+ci)*h+iy)*w+ix] += gv * k[((co*cIn+ci)*kh+ky)*kw+kx]
							}
						}
					}
				}
			}
		}
	}
	return result
}

// Conv2DKernelBackward computes the gradient w.r.t. the convolution kernel.
func (m *MockBackend) Conv2DKernelBackward(input, kernel, grad *RawTensor, stride, padding int) *RawTensor {
	n, cIn, h, w := input.Shape()[0], input.Shape()[1], input.Shape()[2], input.Shape()[3]
	cOut, kh, kw := kernel.Shape()[0], kernel.Shape()[2], kernel.Shape()[3]
	outH, outW := grad.Shape()[2], grad.Shape()[3]

	result, err := NewRaw(kernel.Shape(), Float32, m.Device())
	if err != nil {
		panic(err)
	}

	in := input.AsFloat32()
	g := grad.AsFloat32()
	out := result.AsFloat32()

	for b := 0; b < n; b++ {
		for co := 0; co < cOut; co++ {
			for oy := 0; oy < outH; oy++ {
				for ox := 0; ox < outW; ox++ {
					gv := g[((b*cOut+co)*outH+oy)*outW+ox]
					for ci := 0; ci < cIn; ci++ {
						for ky := 0; ky < kh; ky++ {
							for kx := 0; kx < kw; kx++ {
								iy := oy*stride + ky - padding
								ix := ox*stride + kx - padding
								if iy < 0 || iy >= h || ix < 0 || ix >= w {
									continue
								}
								out[((co*cIn+ci)*kh+ky)*kw+kx] += gv * in[((b*cIn+ci)*h+iy)*w+ix]
							}
						}
					}
				}
			}
		}
	}
	return result
}

// Reshape returns a copy of the tensor with a new shape.
func (m *MockBackend) Reshape(t *RawTensor, newShape Shape) *RawTensor {
	if t.NumElements() != newShape.NumElements() {
		panic(fmt.Sprintf("reshape: cannot reshape %v to %v", t.Shape(), newShape))
	}
	result, err := NewRaw(newShape, t.DType(), m.Device())
	if err != nil {
		panic(err)
	}
	copy(result.Data(), t.Data())
	return result
}

// Transpose permutes the tensor's dimensions element by element.
func (m *MockBackend) Transpose(t *RawTensor, axes ...int) *RawTensor {
	ndim := len(t.Shape())
	if len(axes) == 0 {
		axes = make([]int, ndim)
		for i := range axes {
			axes[i] = ndim - 1 - i
		}
	}
	if len(axes) != ndim {
		panic(fmt.Sprintf("transpose: expected %d axes, got %d", ndim, len(axes)))
	}

	newShape := make(Shape, ndim)
	for i, ax := range axes {
		newShape[i] = t.Shape()[ax]
	}

	result, err := NewRaw(newShape, t.DType(), m.Device())
	if err != nil {
		panic(err)
	}

	in := t.AsFloat32()
	out := result.AsFloat32()
	inStrides := t.Shape().ComputeStrides()
	outStrides := newShape.ComputeStrides()

	for i := range out {
		srcIdx := 0
		for d := 0; d < ndim; d++ {
			coord := (i / outStrides[d]) % newShape[d]
			srcIdx += coord * inStrides[axes[d]]
		}
		out[i] = in[srcIdx]
	}
	return result
}

// MulScalar multiplies every element by a scalar.
func (m *MockBackend) MulScalar(x *RawTensor, scalar any) *RawTensor {
	s, ok := scalar.(float32)
	if !ok {
		panic(fmt.Sprintf("mulscalar: unsupported scalar type %T", scalar))
	}
	result := x.Clone()
	data := result.AsFloat32()
	for i := range data {
		data[i] *= s
	}
	return result
}
