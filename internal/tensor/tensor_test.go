package tensor

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShapeNumElements(t *testing.T) {
	assert.Equal(t, 1, Shape{}.NumElements())
	assert.Equal(t, 5, Shape{5}.NumElements())
	assert.Equal(t, 24, Shape{2, 3, 4}.NumElements())
}

func TestShapeValidate(t *testing.T) {
	assert.NoError(t, Shape{2, 3}.Validate())
	assert.Error(t, Shape{2, 0}.Validate())
	assert.Error(t, Shape{-1, 3}.Validate())
}

func TestShapeComputeStrides(t *testing.T) {
	assert.Equal(t, []int{12, 4, 1}, Shape{2, 3, 4}.ComputeStrides())
	assert.Equal(t, []int{1}, Shape{7}.ComputeStrides())
}

func TestBroadcastShapes(t *testing.T) {
	tests := []struct {
		name    string
		a, b    Shape
		want    Shape
		needs   bool
		wantErr bool
	}{
		{"equal", Shape{2, 3}, Shape{2, 3}, Shape{2, 3}, false, false},
		{"scalar broadcast", Shape{2, 3}, Shape{1}, Shape{2, 3}, true, false},
		{"bias broadcast", Shape{4, 128, 28, 28}, Shape{1, 128, 1, 1}, Shape{4, 128, 28, 28}, true, false},
		{"incompatible", Shape{2, 3}, Shape{4, 3}, nil, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, needs, err := BroadcastShapes(tt.a, tt.b)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.needs, needs)
		})
	}
}

func TestNewRaw(t *testing.T) {
	raw, err := NewRaw(Shape{2, 3}, Float32, CPU)
	require.NoError(t, err)
	assert.Equal(t, 6, raw.NumElements())
	assert.Equal(t, 24, raw.ByteSize())

	// Zero-initialized.
	for _, v := range raw.AsFloat32() {
		assert.Equal(t, float32(0), v)
	}

	_, err = NewRaw(Shape{0, 3}, Float32, CPU)
	assert.Error(t, err)
}

func TestRawTensorTypedViewPanics(t *testing.T) {
	raw, err := NewRaw(Shape{4}, Int32, CPU)
	require.NoError(t, err)
	assert.Panics(t, func() { raw.AsFloat32() })
	assert.NotPanics(t, func() { raw.AsInt32() })
}

func TestRawTensorClone(t *testing.T) {
	raw, err := NewRaw(Shape{3}, Float32, CPU)
	require.NoError(t, err)
	raw.AsFloat32()[0] = 1.5

	clone := raw.Clone()
	clone.AsFloat32()[0] = 9.0

	assert.Equal(t, float32(1.5), raw.AsFloat32()[0])
	assert.Equal(t, float32(9.0), clone.AsFloat32()[0])
}

func TestFromSlice(t *testing.T) {
	b := NewMockBackend()

	tr, err := FromSlice[float32]([]float32{1, 2, 3, 4}, Shape{2, 2}, b)
	require.NoError(t, err)
	assert.Equal(t, float32(3), tr.At(1, 0))

	_, err = FromSlice[float32]([]float32{1, 2, 3}, Shape{2, 2}, b)
	assert.Error(t, err)
}

func TestAtSetItem(t *testing.T) {
	b := NewMockBackend()
	tr := Zeros[float32](Shape{2, 3}, b)

	tr.Set(7.0, 1, 2)
	assert.Equal(t, float32(7.0), tr.At(1, 2))
	assert.Panics(t, func() { tr.At(2, 0) })
	assert.Panics(t, func() { tr.At(0) })

	scalar, err := FromSlice[float32]([]float32{42}, Shape{1}, b)
	require.NoError(t, err)
	assert.Equal(t, float32(42), scalar.Item())
	assert.Panics(t, func() { tr.Item() })
}

func TestCreation(t *testing.T) {
	b := NewMockBackend()

	ones := Ones[float32](Shape{2, 2}, b)
	assert.Equal(t, []float32{1, 1, 1, 1}, ones.Data())

	full := Full[int32](Shape{3}, 5, b)
	assert.Equal(t, []int32{5, 5, 5}, full.Data())

	rng := rand.New(rand.NewSource(42))
	r := Rand(Shape{100}, rng, b)
	for _, v := range r.Data() {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.Less(t, v, float32(1))
	}

	u := RandUniform(Shape{100}, 0, 0.5, rng, b)
	for _, v := range u.Data() {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.Less(t, v, float32(0.5))
	}
}

func TestLinspace(t *testing.T) {
	b := NewMockBackend()
	ls := Linspace(0, 1, 5, b)
	assert.InDeltaSlice(t, []float32{0, 0.25, 0.5, 0.75, 1}, ls.Data(), 1e-6)
}

func TestElementWiseOps(t *testing.T) {
	b := NewMockBackend()

	a, err := FromSlice[float32]([]float32{1, 2, 3, 4}, Shape{2, 2}, b)
	require.NoError(t, err)
	c, err := FromSlice[float32]([]float32{10, 20, 30, 40}, Shape{2, 2}, b)
	require.NoError(t, err)

	assert.Equal(t, []float32{11, 22, 33, 44}, a.Add(c).Data())
	assert.Equal(t, []float32{9, 18, 27, 36}, c.Sub(a).Data())
	assert.Equal(t, []float32{10, 40, 90, 160}, a.Mul(c).Data())
	assert.Equal(t, []float32{10, 10, 10, 10}, c.Div(a).Data())

	// Operands must stay intact.
	assert.Equal(t, []float32{1, 2, 3, 4}, a.Data())
}

func TestBroadcastAdd(t *testing.T) {
	b := NewMockBackend()

	x, err := FromSlice[float32]([]float32{1, 2, 3, 4, 5, 6}, Shape{2, 3}, b)
	require.NoError(t, err)
	bias, err := FromSlice[float32]([]float32{10, 20, 30}, Shape{3}, b)
	require.NoError(t, err)

	got := x.Add(bias)
	assert.Equal(t, Shape{2, 3}, got.Shape())
	assert.Equal(t, []float32{11, 22, 33, 14, 25, 36}, got.Data())
}

func TestReshape(t *testing.T) {
	b := NewMockBackend()
	tr, err := FromSlice[float32]([]float32{1, 2, 3, 4, 5, 6}, Shape{2, 3}, b)
	require.NoError(t, err)

	r := tr.Reshape(3, 2)
	assert.Equal(t, Shape{3, 2}, r.Shape())
	assert.Equal(t, tr.Data(), r.Data())
}

func TestTranspose2D(t *testing.T) {
	b := NewMockBackend()
	tr, err := FromSlice[float32]([]float32{1, 2, 3, 4, 5, 6}, Shape{2, 3}, b)
	require.NoError(t, err)

	got := tr.Transpose()
	assert.Equal(t, Shape{3, 2}, got.Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, got.Data())
}

func TestTranspose5D(t *testing.T) {
	// The loss path permutes [N, Q, C, H, W] to [N, H, W, C, Q].
	b := NewMockBackend()
	n, q, c, h, w := 2, 4, 3, 2, 2

	data := make([]float32, n*q*c*h*w)
	for i := range data {
		data[i] = float32(i)
	}
	tr, err := FromSlice[float32](data, Shape{n, q, c, h, w}, b)
	require.NoError(t, err)

	got := tr.Transpose(0, 3, 4, 2, 1)
	assert.Equal(t, Shape{n, h, w, c, q}, got.Shape())

	for bi := 0; bi < n; bi++ {
		for qi := 0; qi < q; qi++ {
			for ci := 0; ci < c; ci++ {
				for hi := 0; hi < h; hi++ {
					for wi := 0; wi < w; wi++ {
						assert.Equal(t, tr.At(bi, qi, ci, hi, wi), got.At(bi, hi, wi, ci, qi))
					}
				}
			}
		}
	}
}

func TestMulScalar(t *testing.T) {
	b := NewMockBackend()
	tr, err := FromSlice[float32]([]float32{1, 2, 3}, Shape{3}, b)
	require.NoError(t, err)

	got := tr.MulScalar(2.5)
	assert.Equal(t, []float32{2.5, 5, 7.5}, got.Data())
	assert.Equal(t, []float32{1, 2, 3}, tr.Data())
}
