package cpu

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raster-ml/pixelcnn/internal/tensor"
)

func rawFromSlice(t *testing.T, data []float32, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	copy(raw.AsFloat32(), data)
	return raw
}

func randomRaw(t *testing.T, shape tensor.Shape, rng *rand.Rand) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	data := raw.AsFloat32()
	for i := range data {
		data[i] = float32(rng.NormFloat64())
	}
	return raw
}

func TestAddSameShape(t *testing.T) {
	cpu := New()
	a := rawFromSlice(t, []float32{1, 2, 3, 4}, tensor.Shape{2, 2})
	b := rawFromSlice(t, []float32{10, 20, 30, 40}, tensor.Shape{2, 2})

	got := cpu.Add(a, b)
	assert.Equal(t, []float32{11, 22, 33, 44}, got.AsFloat32())

	// Operands must be left intact.
	assert.Equal(t, []float32{1, 2, 3, 4}, a.AsFloat32())
	assert.Equal(t, []float32{10, 20, 30, 40}, b.AsFloat32())
}

func TestAddBiasBroadcast(t *testing.T) {
	// The bias add in a conv layer broadcasts [1, C, 1, 1] over [N, C, H, W].
	cpu := New()
	x := rawFromSlice(t, []float32{
		1, 2, 3, 4,
		5, 6, 7, 8,
	}, tensor.Shape{1, 2, 2, 2})
	bias := rawFromSlice(t, []float32{10, 100}, tensor.Shape{1, 2, 1, 1})

	got := cpu.Add(x, bias)
	assert.Equal(t, []float32{
		11, 12, 13, 14,
		105, 106, 107, 108,
	}, got.AsFloat32())
}

func TestSubMulDiv(t *testing.T) {
	cpu := New()
	a := rawFromSlice(t, []float32{2, 4, 6}, tensor.Shape{3})
	b := rawFromSlice(t, []float32{1, 2, 3}, tensor.Shape{3})

	assert.Equal(t, []float32{1, 2, 3}, cpu.Sub(a, b).AsFloat32())
	assert.Equal(t, []float32{2, 8, 18}, cpu.Mul(a, b).AsFloat32())
	assert.Equal(t, []float32{2, 2, 2}, cpu.Div(a, b).AsFloat32())
}

func TestAddIncompatibleShapesPanics(t *testing.T) {
	cpu := New()
	a := rawFromSlice(t, []float32{1, 2, 3}, tensor.Shape{3})
	b := rawFromSlice(t, []float32{1, 2}, tensor.Shape{2})
	assert.Panics(t, func() { cpu.Add(a, b) })
}

func TestMulScalar(t *testing.T) {
	cpu := New()
	a := rawFromSlice(t, []float32{1, 2, 3}, tensor.Shape{3})

	got := cpu.MulScalar(a, float32(0.5))
	assert.Equal(t, []float32{0.5, 1, 1.5}, got.AsFloat32())
	assert.Equal(t, []float32{1, 2, 3}, a.AsFloat32())
}

func TestReshape(t *testing.T) {
	cpu := New()
	a := rawFromSlice(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})

	got := cpu.Reshape(a, tensor.Shape{6})
	assert.Equal(t, tensor.Shape{6}, got.Shape())
	assert.Equal(t, a.AsFloat32(), got.AsFloat32())

	assert.Panics(t, func() { cpu.Reshape(a, tensor.Shape{4}) })
}

func TestTranspose2D(t *testing.T) {
	cpu := New()
	a := rawFromSlice(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})

	got := cpu.Transpose(a)
	assert.Equal(t, tensor.Shape{3, 2}, got.Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, got.AsFloat32())
}

func TestTransposeMatchesMock(t *testing.T) {
	cpu := New()
	mock := tensor.NewMockBackend()
	rng := rand.New(rand.NewSource(7))

	x := randomRaw(t, tensor.Shape{2, 4, 3, 2, 2}, rng)
	axes := []int{0, 3, 4, 2, 1}

	got := cpu.Transpose(x, axes...)
	want := mock.Transpose(x, axes...)

	assert.True(t, want.Shape().Equal(got.Shape()))
	assert.InDeltaSlice(t, want.AsFloat32(), got.AsFloat32(), 1e-6)
}

func TestTransposeInvalidAxesPanics(t *testing.T) {
	cpu := New()
	a := rawFromSlice(t, []float32{1, 2, 3, 4}, tensor.Shape{2, 2})
	assert.Panics(t, func() { cpu.Transpose(a, 0) })
	assert.Panics(t, func() { cpu.Transpose(a, 0, 0) })
	assert.Panics(t, func() { cpu.Transpose(a, 0, 2) })
}
