package pixelcnn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raster-ml/pixelcnn/internal/autodiff"
	"github.com/raster-ml/pixelcnn/internal/backend/cpu"
	"github.com/raster-ml/pixelcnn/internal/dataset"
	"github.com/raster-ml/pixelcnn/internal/tensor"
)

type testBackend = *autodiff.AutodiffBackend[*cpu.CPUBackend]

func newTestBackend() testBackend {
	return autodiff.New(cpu.New())
}

// tinyConfig is small enough for fast full forward passes in tests.
func tinyConfig() Config {
	return Config{
		Channels:   1,
		QLevels:    4,
		Hidden:     2,
		ResBlocks:  1,
		KernelSize: 3,
	}
}

func TestModelLogitsShape(t *testing.T) {
	b := newTestBackend()
	rng := rand.New(rand.NewSource(1))
	model := New(tinyConfig(), rng, b)

	images, err := tensor.FromSlice(make([]float32, 2*1*4*4), tensor.Shape{2, 1, 4, 4}, b)
	require.NoError(t, err)

	logits := model.Forward(images)
	assert.Equal(t, tensor.Shape{2, 4, 4, 4}, logits.Shape())
}

func TestModelLogitsShapeRGB(t *testing.T) {
	b := newTestBackend()
	rng := rand.New(rand.NewSource(1))
	cfg := Config{Channels: 3, QLevels: 4, Hidden: 2, ResBlocks: 1, KernelSize: 3}
	model := New(cfg, rng, b)

	images, err := tensor.FromSlice(make([]float32, 1*3*5*5), tensor.Shape{1, 3, 5, 5}, b)
	require.NoError(t, err)

	logits := model.Forward(images)
	assert.Equal(t, tensor.Shape{1, 12, 5, 5}, logits.Shape())
}

func TestNewPanicsOnBadConfig(t *testing.T) {
	b := newTestBackend()
	rng := rand.New(rand.NewSource(1))

	assert.Panics(t, func() { New(Config{Channels: 0, QLevels: 4, Hidden: 2, KernelSize: 3}, rng, b) })
	assert.Panics(t, func() { New(Config{Channels: 1, QLevels: 1, Hidden: 2, KernelSize: 3}, rng, b) })
	assert.Panics(t, func() { New(Config{Channels: 1, QLevels: 4, Hidden: 0, KernelSize: 3}, rng, b) })
	assert.Panics(t, func() { New(Config{Channels: 1, QLevels: 4, Hidden: 2, KernelSize: 4}, rng, b) })
}

func TestFlattenLogitsLayout(t *testing.T) {
	b := newTestBackend()
	rng := rand.New(rand.NewSource(1))
	cfg := Config{Channels: 2, QLevels: 3, Hidden: 2, ResBlocks: 0, KernelSize: 3}
	model := New(cfg, rng, b)

	n, c, q, h, w := 2, 2, 3, 2, 3

	// Encode every (sample, bin, channel, position) into a unique value so
	// the flattened layout is fully checked.
	data := make([]float32, n*c*q*h*w)
	for i := 0; i < n; i++ {
		for bin := 0; bin < q; bin++ {
			for ch := 0; ch < c; ch++ {
				outCh := bin*c + ch
				for y := 0; y < h; y++ {
					for x := 0; x < w; x++ {
						data[((i*c*q+outCh)*h+y)*w+x] = float32(((i*10+bin)*10+ch)*100 + y*10 + x)
					}
				}
			}
		}
	}
	logits, err := tensor.FromSlice(data, tensor.Shape{n, c * q, h, w}, b)
	require.NoError(t, err)

	flat := model.FlattenLogits(logits)
	require.Equal(t, tensor.Shape{n * h * w * c, q}, flat.Shape())

	// Rows are raster major with the channel innermost; columns are bins.
	for i := 0; i < n; i++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				for ch := 0; ch < c; ch++ {
					row := ((i*h+y)*w+x)*c + ch
					for bin := 0; bin < q; bin++ {
						want := float32(((i*10+bin)*10+ch)*100 + y*10 + x)
						require.Equal(t, want, flat.At(row, bin),
							"i=%d y=%d x=%d ch=%d bin=%d", i, y, x, ch, bin)
					}
				}
			}
		}
	}
}

func TestFlattenLogitsPanicsOnWrongChannels(t *testing.T) {
	b := newTestBackend()
	rng := rand.New(rand.NewSource(1))
	model := New(tinyConfig(), rng, b)

	bad, err := tensor.FromSlice(make([]float32, 2*3*4*4), tensor.Shape{2, 3, 4, 4}, b)
	require.NoError(t, err)

	assert.Panics(t, func() { model.FlattenLogits(bad) })
}

func TestParametersCoverAllLayers(t *testing.T) {
	b := newTestBackend()
	rng := rand.New(rand.NewSource(1))
	model := New(tinyConfig(), rng, b)

	// Input conv (w+b) + residual block (3 convs, w+b each) + two head
	// convs and the output conv (w+b each).
	assert.Len(t, model.Parameters(), 2+6+6)
	assert.Greater(t, model.NumParameters(), 0)
}

func memorizedBatch(t *testing.T, b testBackend) *dataset.Batch[testBackend] {
	t.Helper()

	rng := rand.New(rand.NewSource(9))
	ds := dataset.Synthetic(2, 1, 4, 4, 4, rng)
	batches, err := dataset.CreateBatches(ds, 2, nil, b)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	return batches[0]
}

func TestTrainStepDecreasesLoss(t *testing.T) {
	b := newTestBackend()
	rng := rand.New(rand.NewSource(5))
	model := New(tinyConfig(), rng, b)

	trainer := NewTrainer(model, TrainConfig{LR: 0.01}, b)
	batch := memorizedBatch(t, b)

	first := trainer.TrainStep(batch)
	second := trainer.TrainStep(batch)

	assert.Less(t, second, first)
	assert.Equal(t, 0, b.Tape().NumOps(), "tape must be cleared after a step")
}

func TestTrainEpochAveragesLoss(t *testing.T) {
	b := newTestBackend()
	rng := rand.New(rand.NewSource(5))
	model := New(tinyConfig(), rng, b)

	trainer := NewTrainer(model, TrainConfig{LR: 0.01}, b)

	ds := dataset.Synthetic(4, 1, 4, 4, 4, rand.New(rand.NewSource(2)))
	batches, err := dataset.CreateBatches(ds, 2, nil, b)
	require.NoError(t, err)

	loss := trainer.TrainEpoch(batches)
	assert.Greater(t, loss, float32(0))
}

func TestTrainConfigDefaults(t *testing.T) {
	b := newTestBackend()
	rng := rand.New(rand.NewSource(5))
	model := New(tinyConfig(), rng, b)

	trainer := NewTrainer(model, TrainConfig{}, b)
	cfg := trainer.Config()

	assert.Equal(t, 1, cfg.Epochs)
	assert.Equal(t, 16, cfg.BatchSize)
	assert.InDelta(t, 3e-4, cfg.LR, 1e-6)
	assert.InDelta(t, 0.99995, cfg.LRDecay, 1e-6)
	assert.InDelta(t, 1.0, cfg.ClipNorm, 1e-6)
}

func TestLRDecaysEveryStep(t *testing.T) {
	b := newTestBackend()
	rng := rand.New(rand.NewSource(5))
	model := New(tinyConfig(), rng, b)

	trainer := NewTrainer(model, TrainConfig{LR: 0.01, LRDecay: 0.5}, b)
	batch := memorizedBatch(t, b)

	trainer.TrainStep(batch)
	assert.InDelta(t, 0.005, trainer.LR(), 1e-8)
	trainer.TrainStep(batch)
	assert.InDelta(t, 0.0025, trainer.LR(), 1e-8)
}

func TestEvaluate(t *testing.T) {
	b := newTestBackend()
	rng := rand.New(rand.NewSource(5))
	model := New(tinyConfig(), rng, b)
	trainer := NewTrainer(model, TrainConfig{}, b)

	ds := dataset.Synthetic(4, 1, 4, 4, 4, rand.New(rand.NewSource(2)))
	batches, err := dataset.CreateBatches(ds, 2, nil, b)
	require.NoError(t, err)

	res := trainer.Evaluate(batches)
	assert.Greater(t, res.NLL, 0.0)
	assert.InDelta(t, res.NLL/math.Ln2, res.BitsPerDim, 1e-12)
	assert.Equal(t, 0, b.Tape().NumOps(), "evaluation must not record")
}

func TestVisitPositionsOrder(t *testing.T) {
	h, w, c := 3, 2, 2

	var got [][3]int
	visitPositions(h, w, c, 0, func(row, col, ch int) {
		got = append(got, [3]int{row, col, ch})
	})

	require.Len(t, got, h*w*c)

	var want [][3]int
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			for ch := 0; ch < c; ch++ {
				want = append(want, [3]int{row, col, ch})
			}
		}
	}
	assert.Equal(t, want, got)

	// Exactly once per position.
	seen := make(map[[3]int]int)
	for _, p := range got {
		seen[p]++
	}
	assert.Len(t, seen, h*w*c)
}

func TestVisitPositionsStartRow(t *testing.T) {
	var rows []int
	visitPositions(4, 1, 1, 2, func(row, col, ch int) {
		rows = append(rows, row)
	})
	assert.Equal(t, []int{2, 3}, rows)
}

func TestGenerateProducesBinCenters(t *testing.T) {
	b := newTestBackend()
	rng := rand.New(rand.NewSource(5))
	model := New(tinyConfig(), rng, b)

	sampler := NewSampler(model, b, rand.New(rand.NewSource(11)))
	images := sampler.Generate(2, 4, 4)

	require.Equal(t, tensor.Shape{2, 1, 4, 4}, images.Shape())

	q := model.Config().QLevels
	for _, v := range images.Data() {
		bin := dataset.Quantize(v, q)
		assert.InDelta(t, dataset.Dequantize(bin, q), v, 1e-6,
			"every sampled value must be a bin center")
	}
}

func TestGenerateDeterministicPerSeed(t *testing.T) {
	b1 := newTestBackend()
	b2 := newTestBackend()
	m1 := New(tinyConfig(), rand.New(rand.NewSource(5)), b1)
	m2 := New(tinyConfig(), rand.New(rand.NewSource(5)), b2)

	s1 := NewSampler(m1, b1, rand.New(rand.NewSource(11)))
	s2 := NewSampler(m2, b2, rand.New(rand.NewSource(11)))

	assert.Equal(t, s1.Generate(1, 4, 4).Data(), s2.Generate(1, 4, 4).Data())
}

func TestInpaintPreservesRowsAboveCut(t *testing.T) {
	b := newTestBackend()
	rng := rand.New(rand.NewSource(5))
	model := New(tinyConfig(), rng, b)
	sampler := NewSampler(model, b, rand.New(rand.NewSource(13)))

	ds := dataset.Synthetic(2, 1, 6, 5, 4, rand.New(rand.NewSource(3)))
	batches, err := dataset.CreateBatches(ds, 2, nil, b)
	require.NoError(t, err)

	cutRow := 3
	original := batches[0].Images
	completed := sampler.Inpaint(original, cutRow)

	require.Equal(t, original.Shape(), completed.Shape())

	h, w := 6, 5
	origData := original.Data()
	compData := completed.Data()
	for i := 0; i < 2; i++ {
		for y := 0; y < cutRow; y++ {
			for x := 0; x < w; x++ {
				idx := (i*h+y)*w + x
				require.Equal(t, origData[idx], compData[idx],
					"row %d above the cut must be untouched", y)
			}
		}
	}
}

func TestInpaintDoesNotModifyInput(t *testing.T) {
	b := newTestBackend()
	model := New(tinyConfig(), rand.New(rand.NewSource(5)), b)
	sampler := NewSampler(model, b, rand.New(rand.NewSource(13)))

	images, err := tensor.FromSlice(make([]float32, 16), tensor.Shape{1, 1, 4, 4}, b)
	require.NoError(t, err)
	for i := range images.Data() {
		images.Raw().AsFloat32()[i] = 1
	}
	snapshot := append([]float32(nil), images.Data()...)

	sampler.Inpaint(images, 2)
	assert.Equal(t, snapshot, images.Data())
}

func TestInpaintPanicsOnBadCutRow(t *testing.T) {
	b := newTestBackend()
	model := New(tinyConfig(), rand.New(rand.NewSource(5)), b)
	sampler := NewSampler(model, b, rand.New(rand.NewSource(13)))

	images, err := tensor.FromSlice(make([]float32, 16), tensor.Shape{1, 1, 4, 4}, b)
	require.NoError(t, err)

	assert.Panics(t, func() { sampler.Inpaint(images, -1) })
	assert.Panics(t, func() { sampler.Inpaint(images, 5) })
}
