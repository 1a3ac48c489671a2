// Package cpu implements tensor operations on the CPU.
package cpu

import (
	"fmt"

	"github.com/raster-ml/pixelcnn/internal/tensor"
)

// Verify that CPUBackend implements Backend.
var _ tensor.Backend = (*CPUBackend)(nil)

// CPUBackend implements tensor operations on CPU.
//
// All computation is float32. Operations never modify their operands and
// always allocate a fresh output tensor, which the gradient tape relies on.
type CPUBackend struct {
	device tensor.Device
}

// New creates a new CPU backend.
func New() *CPUBackend {
	return &CPUBackend{
		device: tensor.CPU,
	}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *CPUBackend) Device() tensor.Device {
	return cpu.device
}

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binaryOp("add", a, b,
		func(dst, x, y []float32) {
			for i := range dst {
				dst[i] = x[i] + y[i]
			}
		},
		func(x, y float32) float32 { return x + y })
}

// Sub performs element-wise subtraction with NumPy-style broadcasting.
func (cpu *CPUBackend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binaryOp("sub", a, b,
		func(dst, x, y []float32) {
			for i := range dst {
				dst[i] = x[i] - y[i]
			}
		},
		func(x, y float32) float32 { return x - y })
}

// Mul performs element-wise multiplication with NumPy-style broadcasting.
func (cpu *CPUBackend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binaryOp("mul", a, b,
		func(dst, x, y []float32) {
			for i := range dst {
				dst[i] = x[i] * y[i]
			}
		},
		func(x, y float32) float32 { return x * y })
}

// Div performs element-wise division with NumPy-style broadcasting.
func (cpu *CPUBackend) Div(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binaryOp("div", a, b,
		func(dst, x, y []float32) {
			for i := range dst {
				dst[i] = x[i] / y[i]
			}
		},
		func(x, y float32) float32 { return x / y })
}

// binaryOp runs an element-wise binary operation. Same-shape operands take
// the vectorizable fast path; mismatched shapes go through broadcasting.
func (cpu *CPUBackend) binaryOp(
	name string,
	a, b *tensor.RawTensor,
	fast func(dst, x, y []float32),
	op func(x, y float32) float32,
) *tensor.RawTensor {
	if a.DType() != tensor.Float32 || b.DType() != tensor.Float32 {
		panic(fmt.Sprintf("%s: unsupported dtypes %s, %s", name, a.DType(), b.DType()))
	}

	outShape, needsBroadcast, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}

	result, err := tensor.NewRaw(outShape, a.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: failed to create result tensor: %v", name, err))
	}

	if !needsBroadcast {
		fast(result.AsFloat32(), a.AsFloat32(), b.AsFloat32())
		return result
	}

	broadcastBinary(result.AsFloat32(), a.AsFloat32(), b.AsFloat32(),
		a.Shape(), b.Shape(), outShape, op)
	return result
}

// MulScalar multiplies each element of the tensor by a scalar value.
func (cpu *CPUBackend) MulScalar(x *tensor.RawTensor, scalar any) *tensor.RawTensor {
	result, err := tensor.NewRaw(x.Shape(), x.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("mulScalar: failed to create result tensor: %v", err))
	}

	switch x.DType() {
	case tensor.Float32:
		s := scalar.(float32)
		src := x.AsFloat32()
		dst := result.AsFloat32()
		for i := range src {
			dst[i] = src[i] * s
		}
	case tensor.Int32:
		s := scalar.(int32)
		src := x.AsInt32()
		dst := result.AsInt32()
		for i := range src {
			dst[i] = src[i] * s
		}
	default:
		panic(fmt.Sprintf("mulScalar: unsupported dtype %v", x.DType()))
	}

	return result
}

// Reshape returns a tensor with the same data but different shape.
func (cpu *CPUBackend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	if err := newShape.Validate(); err != nil {
		panic(fmt.Sprintf("reshape: invalid shape: %v", err))
	}

	if t.NumElements() != newShape.NumElements() {
		panic(fmt.Sprintf("reshape: incompatible shapes: %v -> %v (different number of elements)",
			t.Shape(), newShape))
	}

	result, err := tensor.NewRaw(newShape, t.DType(), t.Device())
	if err != nil {
		panic(fmt.Sprintf("reshape: %v", err))
	}

	copy(result.Data(), t.Data())
	return result
}

// Transpose transposes the tensor by permuting its dimensions.
// With no axes given, all dimensions are reversed.
func (cpu *CPUBackend) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	shape := t.Shape()
	ndim := len(shape)

	if len(axes) == 0 {
		axes = make([]int, ndim)
		for i := range axes {
			axes[i] = ndim - 1 - i
		}
	}

	if len(axes) != ndim {
		panic(fmt.Sprintf("transpose: axes length %d != ndim %d", len(axes), ndim))
	}

	seen := make([]bool, ndim)
	for _, ax := range axes {
		if ax < 0 || ax >= ndim {
			panic(fmt.Sprintf("transpose: invalid axis %d for %dD tensor", ax, ndim))
		}
		if seen[ax] {
			panic(fmt.Sprintf("transpose: duplicate axis %d", ax))
		}
		seen[ax] = true
	}

	newShape := make(tensor.Shape, ndim)
	for i, ax := range axes {
		newShape[i] = shape[ax]
	}

	result, err := tensor.NewRaw(newShape, t.DType(), t.Device())
	if err != nil {
		panic(fmt.Sprintf("transpose: %v", err))
	}

	transposeFloat32(result, t, axes)
	return result
}

// transposeFloat32 copies elements into their permuted positions.
func transposeFloat32(dst, src *tensor.RawTensor, axes []int) {
	in := src.AsFloat32()
	out := dst.AsFloat32()

	inStrides := src.Shape().ComputeStrides()
	outShape := dst.Shape()
	outStrides := outShape.ComputeStrides()
	ndim := len(axes)

	for i := range out {
		rem := i
		srcIdx := 0
		for d := 0; d < ndim; d++ {
			coord := rem / outStrides[d]
			rem %= outStrides[d]
			srcIdx += coord * inStrides[axes[d]]
		}
		out[i] = in[srcIdx]
	}
}
