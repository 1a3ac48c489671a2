package nn

import (
	"math"
	"math/rand"

	"github.com/raster-ml/pixelcnn/internal/tensor"
)

// Xavier (Glorot) initialization for weights.
//
// Draws values from U(-b, b) with b = sqrt(6/(fan_in + fan_out)), which
// keeps activation variance roughly constant across layers.
//
// The random source is passed explicitly so runs are reproducible and
// independent model instances can be seeded independently.
func Xavier[B tensor.Backend](fanIn, fanOut int, shape tensor.Shape, rng *rand.Rand, backend B) *tensor.Tensor[float32, B] {
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))

	t, err := tensor.NewRaw(shape, tensor.Float32, backend.Device())
	if err != nil {
		panic(err)
	}

	data := t.AsFloat32()
	for i := range data {
		data[i] = float32((rng.Float64()*2.0 - 1.0) * bound)
	}

	return tensor.New[float32, B](t, backend)
}

// Zeros creates a tensor filled with zeros, the usual bias initialization.
func Zeros[B tensor.Backend](shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return tensor.Zeros[float32](shape, backend)
}
