package tensor

// Backend defines the interface that compute backends must implement.
// Backends handle the actual computation for tensor operations; the tensor
// package only carries data and dispatches to the backend.
//
// The operation set is exactly what the autoregressive image model needs:
// element-wise arithmetic with broadcasting, 2D convolution with its two
// gradient kernels, and the shape manipulation used by the loss path.
type Backend interface {
	// Element-wise binary operations with NumPy-style broadcasting.
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor
	Div(a, b *RawTensor) *RawTensor

	// Conv2D performs 2D convolution.
	// Input [N, C_in, H, W], kernel [C_out, C_in, KH, KW].
	Conv2D(input, kernel *RawTensor, stride, padding int) *RawTensor

	// Conv2DInputBackward computes the convolution gradient w.r.t. input.
	Conv2DInputBackward(input, kernel, grad *RawTensor, stride, padding int) *RawTensor

	// Conv2DKernelBackward computes the convolution gradient w.r.t. kernel.
	Conv2DKernelBackward(input, kernel, grad *RawTensor, stride, padding int) *RawTensor

	// Shape operations.
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Transpose(t *RawTensor, axes ...int) *RawTensor

	// MulScalar multiplies every element by a scalar.
	MulScalar(x *RawTensor, scalar any) *RawTensor

	// Metadata.
	Name() string
	Device() Device
}
