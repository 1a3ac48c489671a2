package pixelcnn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/raster-ml/pixelcnn/internal/autodiff"
	"github.com/raster-ml/pixelcnn/internal/dataset"
	"github.com/raster-ml/pixelcnn/internal/optim"
	"github.com/raster-ml/pixelcnn/internal/tensor"
)

// TrainConfig holds training hyperparameters. Zero values select the
// defaults the model was tuned with.
type TrainConfig struct {
	Epochs    int
	BatchSize int
	LR        float32 // initial Adam learning rate (default 3e-4)
	LRDecay   float32 // multiplicative decay applied every step (default 0.99995)
	ClipNorm  float32 // global gradient-norm bound (default 1.0)
}

// withDefaults fills zero fields with the tuned defaults.
func (c TrainConfig) withDefaults() TrainConfig {
	if c.Epochs == 0 {
		c.Epochs = 1
	}
	if c.BatchSize == 0 {
		c.BatchSize = 16
	}
	if c.LR == 0 {
		c.LR = 3e-4
	}
	if c.LRDecay == 0 {
		c.LRDecay = 0.99995
	}
	if c.ClipNorm == 0 {
		c.ClipNorm = 1.0
	}
	return c
}

// Trainer drives gradient descent on a model.
//
// The learning rate decays multiplicatively after every optimizer step
// with no floor, so long runs train on a vanishing rate.
type Trainer[B tensor.Backend] struct {
	model   *Model[*autodiff.AutodiffBackend[B]]
	backend *autodiff.AutodiffBackend[B]
	opt     *optim.Adam[*autodiff.AutodiffBackend[B]]
	decay   *optim.ExponentialDecay
	cfg     TrainConfig
}

// NewTrainer creates a trainer for a model built on an autodiff backend.
func NewTrainer[B tensor.Backend](
	model *Model[*autodiff.AutodiffBackend[B]],
	cfg TrainConfig,
	backend *autodiff.AutodiffBackend[B],
) *Trainer[B] {
	cfg = cfg.withDefaults()

	opt := optim.NewAdam(model.Parameters(), optim.AdamConfig{LR: cfg.LR}, backend)

	return &Trainer[B]{
		model:   model,
		backend: backend,
		opt:     opt,
		decay:   optim.NewExponentialDecay(cfg.LRDecay),
		cfg:     cfg,
	}
}

// Config returns the effective training configuration.
func (t *Trainer[B]) Config() TrainConfig {
	return t.cfg
}

// LR returns the current learning rate.
func (t *Trainer[B]) LR() float32 {
	return t.opt.GetLR()
}

// TrainStep runs one optimizer step on a batch and returns the batch loss.
func (t *Trainer[B]) TrainStep(batch *dataset.Batch[*autodiff.AutodiffBackend[B]]) float32 {
	tape := t.backend.Tape()
	tape.StartRecording()
	defer tape.Clear()

	t.opt.ZeroGrad()

	logits := t.model.Forward(batch.Images)
	flat := t.model.FlattenLogits(logits)

	loss := t.backend.CrossEntropy(flat.Raw(), batch.Targets.Raw())
	lossValue := loss.AsFloat32()[0]

	lossTensor := tensor.New[float32, *autodiff.AutodiffBackend[B]](loss, t.backend)
	grads := autodiff.Backward(lossTensor, t.backend)

	// Clip the gradients of the parameters only; intermediate tensors on
	// the tape don't reach the optimizer.
	paramGrads := make([]*tensor.RawTensor, 0, len(t.model.Parameters()))
	for _, p := range t.model.Parameters() {
		paramGrads = append(paramGrads, grads[p.Tensor().Raw()])
	}
	optim.ClipGradNorm(paramGrads, t.cfg.ClipNorm)

	t.opt.Step(grads)
	t.decay.Step(t.opt)

	return lossValue
}

// TrainEpoch runs one pass over the batches and returns the mean loss.
func (t *Trainer[B]) TrainEpoch(batches []*dataset.Batch[*autodiff.AutodiffBackend[B]]) float32 {
	if len(batches) == 0 {
		panic("trainer: no batches")
	}

	total := float32(0)
	for _, batch := range batches {
		total += t.TrainStep(batch)
	}
	return total / float32(len(batches))
}

// EvalResult holds held-out metrics. NLL is the mean negative
// log-likelihood in nats per channel value; BitsPerDim is the same in
// bits.
type EvalResult struct {
	NLL        float64
	BitsPerDim float64
}

func (r EvalResult) String() string {
	return fmt.Sprintf("nll=%.4f bits/dim=%.4f", r.NLL, r.BitsPerDim)
}

// Evaluate computes held-out likelihood metrics with gradient recording
// off.
func (t *Trainer[B]) Evaluate(batches []*dataset.Batch[*autodiff.AutodiffBackend[B]]) EvalResult {
	if len(batches) == 0 {
		panic("trainer: no batches")
	}

	tape := t.backend.Tape()
	wasRecording := tape.IsRecording()
	tape.StopRecording()
	defer func() {
		if wasRecording {
			tape.StartRecording()
		}
	}()

	losses := make([]float64, len(batches))
	weights := make([]float64, len(batches))
	for i, batch := range batches {
		logits := t.model.Forward(batch.Images)
		flat := t.model.FlattenLogits(logits)
		loss := t.backend.CrossEntropy(flat.Raw(), batch.Targets.Raw())

		losses[i] = float64(loss.AsFloat32()[0])
		weights[i] = float64(batch.Size)
	}

	nll := stat.Mean(losses, weights)
	return EvalResult{
		NLL:        nll,
		BitsPerDim: nll / math.Ln2,
	}
}
