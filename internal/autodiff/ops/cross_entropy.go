package ops

import "github.com/raster-ml/pixelcnn/internal/tensor"

// CrossEntropyOp represents the fused softmax + cross-entropy loss.
//
// Forward:
//
//	Loss = mean(-log_softmax(logits)[targets])
//
// Backward:
//
//	∂L/∂logits = (softmax(logits) - y_one_hot) / batch_size
//
// The fused form avoids materializing probabilities in the forward pass and
// gives the numerically clean gradient above, which is why frameworks fuse
// the two operations.
//
// Shapes:
//   - logits: [batch_size, num_classes] float32
//   - targets: [batch_size] int32 class indices
//   - output: [1] scalar mean loss
//
// For the image model, batch_size here is N*H*W*C: one categorical
// prediction per pixel channel, averaged over all of them.
type CrossEntropyOp struct {
	logits  *tensor.RawTensor
	targets *tensor.RawTensor
	output  *tensor.RawTensor
}

// NewCrossEntropyOp creates a new CrossEntropyOp.
func NewCrossEntropyOp(logits, targets, output *tensor.RawTensor) *CrossEntropyOp {
	return &CrossEntropyOp{
		logits:  logits,
		targets: targets,
		output:  output,
	}
}

// Inputs returns the differentiable inputs. Targets are class indices and
// carry no gradient.
func (op *CrossEntropyOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.logits}
}

// Output returns the scalar loss tensor.
func (op *CrossEntropyOp) Output() *tensor.RawTensor {
	return op.output
}

// Backward computes the gradient with respect to logits.
func (op *CrossEntropyOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	logitsShape := op.logits.Shape()
	if len(logitsShape) != 2 {
		panic("crossEntropy: backward only supports 2D logits [batch_size, num_classes]")
	}

	batchSize := logitsShape[0]
	numClasses := logitsShape[1]

	logitsGrad, err := tensor.NewRaw(logitsShape, op.logits.DType(), op.logits.Device())
	if err != nil {
		panic(err)
	}

	logitsData := op.logits.AsFloat32()
	targetsData := op.targets.AsInt32()
	gradData := logitsGrad.AsFloat32()
	gradScale := outputGrad.AsFloat32()[0]

	probs := make([]float32, numClasses)
	for b := 0; b < batchSize; b++ {
		sampleLogits := logitsData[b*numClasses : (b+1)*numClasses]
		softmaxRows(sampleLogits, probs, 1, numClasses)

		target := int(targetsData[b])
		for i := 0; i < numClasses; i++ {
			grad := probs[i]
			if i == target {
				grad -= 1.0
			}
			gradData[b*numClasses+i] = gradScale * grad / float32(batchSize)
		}
	}

	return []*tensor.RawTensor{logitsGrad}
}

// CrossEntropyForward computes the mean negative log-likelihood of the
// target classes under the logits.
func CrossEntropyForward(logits, targets *tensor.RawTensor, device tensor.Device) *tensor.RawTensor {
	logitsShape := logits.Shape()
	if len(logitsShape) != 2 {
		panic("crossEntropy: logits must be 2D [batch_size, num_classes]")
	}

	targetsShape := targets.Shape()
	if len(targetsShape) != 1 {
		panic("crossEntropy: targets must be 1D [batch_size]")
	}

	batchSize := logitsShape[0]
	numClasses := logitsShape[1]

	if targetsShape[0] != batchSize {
		panic("crossEntropy: batch size mismatch between logits and targets")
	}

	output, err := tensor.NewRaw(tensor.Shape{1}, logits.DType(), device)
	if err != nil {
		panic(err)
	}

	logitsData := logits.AsFloat32()
	targetsData := targets.AsInt32()

	totalLoss := float32(0.0)
	for b := 0; b < batchSize; b++ {
		sampleLogits := logitsData[b*numClasses : (b+1)*numClasses]

		target := int(targetsData[b])
		if target < 0 || target >= numClasses {
			panic("crossEntropy: target index out of bounds")
		}

		totalLoss += -logSoftmaxAt(sampleLogits, target)
	}

	output.AsFloat32()[0] = totalLoss / float32(batchSize)
	return output
}

// logSoftmaxAt computes log_softmax(logits)[target] with the log-sum-exp
// trick for stability.
func logSoftmaxAt(logits []float32, target int) float32 {
	maxVal := logits[0]
	for _, v := range logits[1:] {
		if v > maxVal {
			maxVal = v
		}
	}

	sumExp := float32(0.0)
	for _, v := range logits {
		sumExp += exp32(v - maxVal)
	}

	return logits[target] - maxVal - log32(sumExp)
}
