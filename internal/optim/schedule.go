package optim

// LRScheduler adjusts an optimizer's learning rate between steps.
type LRScheduler interface {
	Step(opt LRSettable)
}

// LRSettable is an optimizer whose learning rate can be changed, which is
// what schedulers need. Adam implements it.
type LRSettable interface {
	Optimizer
	SetLR(lr float32)
}

// ExponentialDecay multiplies the learning rate by a constant factor after
// every optimization step.
//
// With a factor just below 1 (the trainer uses 0.99995) the rate shrinks
// smoothly over the run without a floor.
type ExponentialDecay struct {
	Factor float32
}

// NewExponentialDecay creates a per-step exponential decay schedule.
func NewExponentialDecay(factor float32) *ExponentialDecay {
	if factor <= 0 || factor > 1 {
		panic("exponentialDecay: factor must be in (0, 1]")
	}
	return &ExponentialDecay{Factor: factor}
}

// Step applies one decay step to the optimizer's learning rate.
func (d *ExponentialDecay) Step(opt LRSettable) {
	opt.SetLR(opt.GetLR() * d.Factor)
}
