package nn

import (
	"fmt"
	"math/rand"

	"github.com/raster-ml/pixelcnn/internal/tensor"
)

// MaskType selects which autoregressive mask a masked convolution uses.
type MaskType int

// Mask variants.
//
// MaskA is used for the first layer, where the prediction for a pixel
// channel must not see that channel's own input value. MaskB is used for
// every later layer, where the center connection within the same channel
// group is allowed because the value flowing through it already excludes
// the true pixel.
const (
	MaskA MaskType = iota
	MaskB
)

// String returns the mask type name.
func (m MaskType) String() string {
	switch m {
	case MaskA:
		return "A"
	case MaskB:
		return "B"
	default:
		panic(fmt.Sprintf("maskedconv2d: invalid mask type %d", int(m)))
	}
}

// MaskedConv2D is a 2D convolution whose kernel is multiplied by a fixed
// binary mask that blocks information flow from future pixels.
//
// In raster-scan order a pixel may only depend on pixels above it, pixels to
// its left in the same row, and (for mask B) earlier channel groups of
// itself. The mask zeroes every kernel position that would violate this:
//
//   - all rows strictly below the spatial center
//   - positions strictly right of center in the center row
//   - at the center position, channel group pairs that would let a channel
//     see itself (mask A) or a later channel (both masks)
//
// Feature channels are assigned to image channel groups cyclically:
// group(c) = c % imageChannels, so any feature width works with any number
// of image channels.
//
// The mask is applied by multiplying the kernel on the tape, which also
// zeroes the gradient of every masked weight. Masked weights therefore stay
// exactly zero throughout training.
//
// Convolutions are always stride 1 with same padding: the model must
// preserve the spatial grid so that every pixel position gets a prediction.
type MaskedConv2D[B tensor.Backend] struct {
	maskType      MaskType
	imageChannels int
	conv          *Conv2D[B]
	mask          *tensor.Tensor[float32, B]
	backend       B
}

// NewMaskedConv2D creates a masked convolution layer.
//
// kernelSize must be odd so the spatial center is well defined.
// imageChannels is the number of channels in the modeled images (1 for
// grayscale, 3 for RGB), which determines the channel grouping.
func NewMaskedConv2D[B tensor.Backend](
	maskType MaskType,
	inChannels, outChannels, kernelSize, imageChannels int,
	rng *rand.Rand,
	backend B,
) *MaskedConv2D[B] {
	if maskType != MaskA && maskType != MaskB {
		panic(fmt.Sprintf("maskedconv2d: invalid mask type %d", int(maskType)))
	}
	if kernelSize%2 == 0 {
		panic(fmt.Sprintf("maskedconv2d: kernel size must be odd, got %d", kernelSize))
	}
	if imageChannels <= 0 {
		panic(fmt.Sprintf("maskedconv2d: invalid image channels %d", imageChannels))
	}

	padding := (kernelSize - 1) / 2
	conv := NewConv2D(inChannels, outChannels, kernelSize, kernelSize, 1, padding, true, rng, backend)

	maskRaw := BuildMask(maskType, inChannels, outChannels, kernelSize, imageChannels, backend.Device())

	return &MaskedConv2D[B]{
		maskType:      maskType,
		imageChannels: imageChannels,
		conv:          conv,
		mask:          tensor.New[float32, B](maskRaw, backend),
		backend:       backend,
	}
}

// BuildMask constructs the binary kernel mask
// [out_channels, in_channels, k, k] for the given mask type.
func BuildMask(
	maskType MaskType,
	inChannels, outChannels, kernelSize, imageChannels int,
	device tensor.Device,
) *tensor.RawTensor {
	mask, err := tensor.NewRaw(
		tensor.Shape{outChannels, inChannels, kernelSize, kernelSize},
		tensor.Float32, device,
	)
	if err != nil {
		panic(fmt.Sprintf("maskedconv2d: failed to create mask: %v", err))
	}

	center := kernelSize / 2
	data := mask.AsFloat32()

	idx := 0
	for co := 0; co < outChannels; co++ {
		outGroup := co % imageChannels
		for ci := 0; ci < inChannels; ci++ {
			inGroup := ci % imageChannels
			for ky := 0; ky < kernelSize; ky++ {
				for kx := 0; kx < kernelSize; kx++ {
					data[idx] = maskValue(maskType, outGroup, inGroup, ky, kx, center)
					idx++
				}
			}
		}
	}

	return mask
}

// maskValue decides whether a single kernel weight is visible.
func maskValue(maskType MaskType, outGroup, inGroup, ky, kx, center int) float32 {
	switch {
	case ky > center:
		// Rows below the current pixel are always future context.
		return 0
	case ky == center && kx > center:
		// Same row, right of the current pixel.
		return 0
	case ky == center && kx == center:
		// The center weight connects input channel groups to output
		// channel groups at the current pixel.
		if inGroup > outGroup {
			return 0
		}
		if maskType == MaskA && inGroup == outGroup {
			return 0
		}
		return 1
	default:
		return 1
	}
}

// Forward applies the mask to the kernel and convolves.
func (m *MaskedConv2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	// Multiplying on the tape masks the kernel gradient the same way.
	maskedWeight := m.conv.Weight().Tensor().Mul(m.mask)

	outputRaw := m.backend.Conv2D(
		input.Raw(),
		maskedWeight.Raw(),
		m.conv.stride,
		m.conv.padding,
	)
	output := tensor.New[float32, B](outputRaw, m.backend)

	biasReshaped := m.conv.bias.Tensor().Reshape(1, m.conv.outChannels, 1, 1)
	return output.Add(biasReshaped)
}

// Parameters returns the underlying convolution parameters.
// The mask is a constant, not a parameter.
func (m *MaskedConv2D[B]) Parameters() []*Parameter[B] {
	return m.conv.Parameters()
}

// Mask returns the constant kernel mask.
func (m *MaskedConv2D[B]) Mask() *tensor.Tensor[float32, B] {
	return m.mask
}

// String returns a string representation of the layer.
func (m *MaskedConv2D[B]) String() string {
	return fmt.Sprintf("MaskedConv2D(mask=%s, in_channels=%d, out_channels=%d, kernel_size=%d, image_channels=%d)",
		m.maskType, m.conv.inChannels, m.conv.outChannels, m.conv.kernelSize[0], m.imageChannels)
}
