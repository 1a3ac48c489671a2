package optim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raster-ml/pixelcnn/internal/backend/cpu"
	"github.com/raster-ml/pixelcnn/internal/nn"
	"github.com/raster-ml/pixelcnn/internal/tensor"
)

func newParam(t *testing.T, b *cpu.CPUBackend, data []float32, shape tensor.Shape) *nn.Parameter[*cpu.CPUBackend] {
	t.Helper()
	tr, err := tensor.FromSlice(data, shape, b)
	require.NoError(t, err)
	return nn.NewParameter("w", tr)
}

func gradFor(t *testing.T, p *nn.Parameter[*cpu.CPUBackend], data []float32) map[*tensor.RawTensor]*tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(p.Tensor().Shape(), tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	copy(raw.AsFloat32(), data)
	return map[*tensor.RawTensor]*tensor.RawTensor{p.Tensor().Raw(): raw}
}

func TestAdamFirstStep(t *testing.T) {
	b := cpu.New()
	p := newParam(t, b, []float32{1, 1}, tensor.Shape{2})

	opt := NewAdam([]*nn.Parameter[*cpu.CPUBackend]{p}, AdamConfig{LR: 0.1}, b)
	opt.Step(gradFor(t, p, []float32{1, -1}))

	// On the first step the bias-corrected update is lr * g/(|g| + eps),
	// so each parameter moves by almost exactly lr against its gradient.
	data := p.Tensor().Data()
	assert.InDelta(t, 0.9, data[0], 1e-4)
	assert.InDelta(t, 1.1, data[1], 1e-4)
	assert.Equal(t, 1, opt.GetTimestep())
}

func TestAdamConvergesOnQuadratic(t *testing.T) {
	b := cpu.New()
	p := newParam(t, b, []float32{5}, tensor.Shape{1})

	opt := NewAdam([]*nn.Parameter[*cpu.CPUBackend]{p}, AdamConfig{LR: 0.2}, b)

	// Minimize f(x) = x², gradient 2x.
	for i := 0; i < 200; i++ {
		x := p.Tensor().Data()[0]
		opt.Step(gradFor(t, p, []float32{2 * x}))
	}

	assert.InDelta(t, 0, p.Tensor().Data()[0], 0.05)
}

func TestAdamSkipsParamsWithoutGrad(t *testing.T) {
	b := cpu.New()
	p := newParam(t, b, []float32{1}, tensor.Shape{1})

	opt := NewAdam([]*nn.Parameter[*cpu.CPUBackend]{p}, AdamConfig{}, b)
	opt.Step(map[*tensor.RawTensor]*tensor.RawTensor{})

	assert.Equal(t, float32(1), p.Tensor().Data()[0])
}

func TestClipGradNorm(t *testing.T) {
	g1, err := tensor.NewRaw(tensor.Shape{2}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	g2, err := tensor.NewRaw(tensor.Shape{1}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)

	copy(g1.AsFloat32(), []float32{3, 0})
	copy(g2.AsFloat32(), []float32{4})

	// Global norm is 5; clipping to 1 scales every entry by 1/5.
	norm := ClipGradNorm([]*tensor.RawTensor{g1, g2}, 1.0)
	assert.InDelta(t, 5.0, norm, 1e-6)
	assert.InDelta(t, 0.6, g1.AsFloat32()[0], 1e-6)
	assert.InDelta(t, 0.8, g2.AsFloat32()[0], 1e-6)

	clipped := math.Sqrt(float64(g1.AsFloat32()[0]*g1.AsFloat32()[0] + g2.AsFloat32()[0]*g2.AsFloat32()[0]))
	assert.InDelta(t, 1.0, clipped, 1e-5)
}

func TestClipGradNormBelowThreshold(t *testing.T) {
	g, err := tensor.NewRaw(tensor.Shape{2}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	copy(g.AsFloat32(), []float32{0.3, 0.4})

	norm := ClipGradNorm([]*tensor.RawTensor{g}, 1.0)
	assert.InDelta(t, 0.5, norm, 1e-6)
	assert.Equal(t, []float32{0.3, 0.4}, g.AsFloat32())
}

func TestClipGradNormIgnoresNil(t *testing.T) {
	g, err := tensor.NewRaw(tensor.Shape{1}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	g.AsFloat32()[0] = 2

	norm := ClipGradNorm([]*tensor.RawTensor{nil, g}, 1.0)
	assert.InDelta(t, 2.0, norm, 1e-6)
	assert.InDelta(t, 1.0, g.AsFloat32()[0], 1e-6)
}

func TestExponentialDecay(t *testing.T) {
	b := cpu.New()
	p := newParam(t, b, []float32{1}, tensor.Shape{1})
	opt := NewAdam([]*nn.Parameter[*cpu.CPUBackend]{p}, AdamConfig{LR: 1.0}, b)

	decay := NewExponentialDecay(0.99995)
	for i := 0; i < 100; i++ {
		decay.Step(opt)
	}

	want := float32(math.Pow(0.99995, 100))
	assert.InDelta(t, want, opt.GetLR(), 1e-5)

	assert.Panics(t, func() { NewExponentialDecay(0) })
	assert.Panics(t, func() { NewExponentialDecay(1.5) })
}
