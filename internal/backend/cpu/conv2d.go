package cpu

import (
	"fmt"

	"github.com/raster-ml/pixelcnn/internal/tensor"
)

// Conv2D performs 2D convolution using the im2col algorithm.
//
// Input shape: [batch, in_channels, height, width]
// Kernel shape: [out_channels, in_channels, kernel_h, kernel_w]
// Output shape: [batch, out_channels, out_h, out_w]
//
// Im2col transforms input patches into the rows of a column matrix so the
// convolution becomes a single matrix multiplication against the flattened
// kernel.
//
// Reference: "High Performance Convolutional Neural Networks for Document
// Processing" (Chellapilla et al., 2006).
func (cpu *CPUBackend) Conv2D(input, kernel *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	inputShape := input.Shape()
	kernelShape := kernel.Shape()

	if len(inputShape) != 4 {
		panic(fmt.Sprintf("conv2d: input must be 4D [N,C,H,W], got %dD", len(inputShape)))
	}
	if len(kernelShape) != 4 {
		panic(fmt.Sprintf("conv2d: kernel must be 4D [C_out,C_in,K_h,K_w], got %dD", len(kernelShape)))
	}

	N := inputShape[0]
	CIn := inputShape[1]
	H := inputShape[2]
	W := inputShape[3]
	COut := kernelShape[0]
	CInK := kernelShape[1]
	KH := kernelShape[2]
	KW := kernelShape[3]

	if CIn != CInK {
		panic(fmt.Sprintf("conv2d: input channels %d != kernel channels %d", CIn, CInK))
	}
	if stride < 1 {
		panic(fmt.Sprintf("conv2d: stride must be >= 1, got %d", stride))
	}

	HOut := (H+2*padding-KH)/stride + 1
	WOut := (W+2*padding-KW)/stride + 1

	if HOut <= 0 || WOut <= 0 {
		panic(fmt.Sprintf("conv2d: invalid output dimensions: out_h=%d, out_w=%d (check stride/padding)", HOut, WOut))
	}

	output, err := tensor.NewRaw(tensor.Shape{N, COut, HOut, WOut}, input.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("conv2d: failed to create output tensor: %v", err))
	}

	if input.DType() != tensor.Float32 {
		panic(fmt.Sprintf("conv2d: unsupported dtype %s", input.DType()))
	}

	conv2dFloat32(output, input, kernel, N, CIn, H, W, COut, KH, KW, HOut, WOut, stride, padding)
	return output
}

// conv2dFloat32 performs the im2col convolution for float32.
//
//  1. Im2col: [N, C, H, W] -> colBuf [N * H_out * W_out, C * K_h * K_w]
//  2. The kernel is already a [C_out, C * K_h * K_w] matrix in row-major.
//  3. MatMul: kernel @ colBuf^T -> [C_out, N * H_out * W_out]
//  4. Rearrange into [N, C_out, H_out, W_out].
func conv2dFloat32(output, input, kernel *tensor.RawTensor, N, CIn, H, W, COut, KH, KW, HOut, WOut, stride, padding int) {
	inputData := input.AsFloat32()
	kernelData := kernel.AsFloat32()
	outputData := output.AsFloat32()

	colWidth := CIn * KH * KW
	colHeight := N * HOut * WOut
	colBuf := make([]float32, colHeight*colWidth)

	im2colFloat32(colBuf, inputData, N, CIn, H, W, KH, KW, HOut, WOut, stride, padding)

	// result[i, j] = sum_k kernel[i, k] * colBuf[j, k]
	// colBuf is row-major [N*H_out*W_out, C*K_h*K_w], so the k axis is
	// contiguous for both operands.
	planeSize := HOut * WOut
	for i := 0; i < COut; i++ {
		kernelRow := kernelData[i*colWidth : (i+1)*colWidth]
		for j := 0; j < colHeight; j++ {
			colRow := colBuf[j*colWidth : (j+1)*colWidth]
			sum := float32(0.0)
			for k := range kernelRow {
				sum += kernelRow[k] * colRow[k]
			}
			// j encodes (n, out_h, out_w); write directly to [n, i, h, w].
			n := j / planeSize
			outputData[(n*COut+i)*planeSize+j%planeSize] = sum
		}
	}
}

// im2colFloat32 transforms the input tensor into a column matrix.
//
// Each row of colBuf holds the input patch for one output position,
// flattened in (channel, kernel_h, kernel_w) order. Out-of-bounds positions
// contribute zeros (implicit padding).
func im2colFloat32(colBuf, inputData []float32, N, C, H, W, KH, KW, HOut, WOut, stride, padding int) {
	colWidth := C * KH * KW
	colIdx := 0

	for n := 0; n < N; n++ {
		for outH := 0; outH < HOut; outH++ {
			for outW := 0; outW < WOut; outW++ {
				hStart := outH*stride - padding
				wStart := outW*stride - padding
				bufIdx := colIdx * colWidth

				for c := 0; c < C; c++ {
					for kh := 0; kh < KH; kh++ {
						for kw := 0; kw < KW; kw++ {
							h := hStart + kh
							w := wStart + kw

							if h >= 0 && h < H && w >= 0 && w < W {
								colBuf[bufIdx] = inputData[n*C*H*W+c*H*W+h*W+w]
							} else {
								colBuf[bufIdx] = 0.0
							}
							bufIdx++
						}
					}
				}

				colIdx++
			}
		}
	}
}
