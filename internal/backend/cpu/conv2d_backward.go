package cpu

import (
	"fmt"

	"github.com/raster-ml/pixelcnn/internal/tensor"
)

// Conv2DInputBackward computes the convolution gradient w.r.t. the input.
//
// Every output position that read an input element during the forward pass
// contributes grad[n, c_out, oh, ow] * kernel[c_out, c_in, kh, kw] back to it
// (transposed convolution).
//
// Reference: "A guide to convolution arithmetic for deep learning"
// (Dumoulin & Visin, 2016).
func (cpu *CPUBackend) Conv2DInputBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	inputShape := input.Shape()
	kernelShape := kernel.Shape()
	gradShape := grad.Shape()

	N := inputShape[0]
	CIn := inputShape[1]
	H := inputShape[2]
	W := inputShape[3]
	COut := kernelShape[0]
	KH := kernelShape[2]
	KW := kernelShape[3]
	HOut := gradShape[2]
	WOut := gradShape[3]

	inputGrad, err := tensor.NewRaw(tensor.Shape{N, CIn, H, W}, grad.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("conv2dInputBackward: failed to create gradient tensor: %v", err))
	}

	if grad.DType() != tensor.Float32 {
		panic(fmt.Sprintf("conv2dInputBackward: unsupported dtype %s", grad.DType()))
	}

	inputGradData := inputGrad.AsFloat32()
	gradData := grad.AsFloat32()
	kernelData := kernel.AsFloat32()

	for batch := 0; batch < N; batch++ {
		inputGradBatch := inputGradData[batch*CIn*H*W : (batch+1)*CIn*H*W]
		gradBatch := gradData[batch*COut*HOut*WOut : (batch+1)*COut*HOut*WOut]

		for outChan := 0; outChan < COut; outChan++ {
			kernelCOut := kernelData[outChan*CIn*KH*KW : (outChan+1)*CIn*KH*KW]

			for outH := 0; outH < HOut; outH++ {
				for outW := 0; outW < WOut; outW++ {
					gradVal := gradBatch[outChan*HOut*WOut+outH*WOut+outW]
					if gradVal == 0 {
						continue
					}

					for inChan := 0; inChan < CIn; inChan++ {
						inputGradCIn := inputGradBatch[inChan*H*W : (inChan+1)*H*W]
						kernelCIn := kernelCOut[inChan*KH*KW : (inChan+1)*KH*KW]

						for kh := 0; kh < KH; kh++ {
							hPos := outH*stride - padding + kh
							if hPos < 0 || hPos >= H {
								continue
							}
							for kw := 0; kw < KW; kw++ {
								wPos := outW*stride - padding + kw
								if wPos < 0 || wPos >= W {
									continue
								}
								inputGradCIn[hPos*W+wPos] += gradVal * kernelCIn[kh*KW+kw]
							}
						}
					}
				}
			}
		}
	}

	return inputGrad
}

// Conv2DKernelBackward computes the convolution gradient w.r.t. the kernel.
//
// kernelGrad[c_out, c_in, kh, kw] accumulates grad[n, c_out, oh, ow] times
// the input value that weight touched at each output position.
func (cpu *CPUBackend) Conv2DKernelBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	inputShape := input.Shape()
	kernelShape := kernel.Shape()
	gradShape := grad.Shape()

	N := inputShape[0]
	CIn := inputShape[1]
	H := inputShape[2]
	W := inputShape[3]
	COut := kernelShape[0]
	KH := kernelShape[2]
	KW := kernelShape[3]
	HOut := gradShape[2]
	WOut := gradShape[3]

	kernelGrad, err := tensor.NewRaw(tensor.Shape{COut, CIn, KH, KW}, grad.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("conv2dKernelBackward: failed to create gradient tensor: %v", err))
	}

	if grad.DType() != tensor.Float32 {
		panic(fmt.Sprintf("conv2dKernelBackward: unsupported dtype %s", grad.DType()))
	}

	kernelGradData := kernelGrad.AsFloat32()
	gradData := grad.AsFloat32()
	inputData := input.AsFloat32()

	for batch := 0; batch < N; batch++ {
		inputBatch := inputData[batch*CIn*H*W : (batch+1)*CIn*H*W]
		gradBatch := gradData[batch*COut*HOut*WOut : (batch+1)*COut*HOut*WOut]

		for outChan := 0; outChan < COut; outChan++ {
			kernelGradCOut := kernelGradData[outChan*CIn*KH*KW : (outChan+1)*CIn*KH*KW]

			for outH := 0; outH < HOut; outH++ {
				for outW := 0; outW < WOut; outW++ {
					gradVal := gradBatch[outChan*HOut*WOut+outH*WOut+outW]
					if gradVal == 0 {
						continue
					}

					for inChan := 0; inChan < CIn; inChan++ {
						inputCIn := inputBatch[inChan*H*W : (inChan+1)*H*W]
						kernelGradCIn := kernelGradCOut[inChan*KH*KW : (inChan+1)*KH*KW]

						for kh := 0; kh < KH; kh++ {
							hPos := outH*stride - padding + kh
							if hPos < 0 || hPos >= H {
								continue
							}
							for kw := 0; kw < KW; kw++ {
								wPos := outW*stride - padding + kw
								if wPos < 0 || wPos >= W {
									continue
								}
								kernelGradCIn[kh*KW+kw] += gradVal * inputCIn[hPos*W+wPos]
							}
						}
					}
				}
			}
		}
	}

	return kernelGrad
}
