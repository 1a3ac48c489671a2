package imaging

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raster-ml/pixelcnn/internal/tensor"
)

func grayBatch(t *testing.T, n, h, w int, fill float32) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(tensor.Shape{n, 1, h, w}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	data := raw.AsFloat32()
	for i := range data {
		data[i] = fill
	}
	return raw
}

func TestGridGray(t *testing.T) {
	raw := grayBatch(t, 4, 3, 2, 0)
	data := raw.AsFloat32()

	// Give each tile a distinct top-left pixel.
	for i := 0; i < 4; i++ {
		data[i*6] = float32(i) / 3.0
	}

	img, err := Grid(raw, 2, 2)
	require.NoError(t, err)

	gray, ok := img.(*image.Gray)
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 4, 6), gray.Bounds())

	// Tile i lands at (i%2*w, i/2*h).
	assert.Equal(t, uint8(0), gray.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(85), gray.GrayAt(2, 0).Y)
	assert.Equal(t, uint8(170), gray.GrayAt(0, 3).Y)
	assert.Equal(t, uint8(255), gray.GrayAt(2, 3).Y)
}

func TestGridRGB(t *testing.T) {
	raw, err := tensor.NewRaw(tensor.Shape{1, 3, 2, 2}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	data := raw.AsFloat32()

	// Red plane full on, green half, blue off.
	for i := 0; i < 4; i++ {
		data[i] = 1
		data[4+i] = 0.5
	}

	img, err := Grid(raw, 1, 1)
	require.NoError(t, err)

	rgba, ok := img.(*image.RGBA)
	require.True(t, ok)

	c := rgba.RGBAAt(0, 0)
	assert.Equal(t, uint8(255), c.R)
	assert.Equal(t, uint8(128), c.G)
	assert.Equal(t, uint8(0), c.B)
	assert.Equal(t, uint8(255), c.A)
}

func TestGridClampsOutOfRange(t *testing.T) {
	raw := grayBatch(t, 1, 1, 2, 0)
	data := raw.AsFloat32()
	data[0] = -0.5
	data[1] = 1.5

	img, err := Grid(raw, 1, 1)
	require.NoError(t, err)

	gray := img.(*image.Gray)
	assert.Equal(t, uint8(0), gray.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(255), gray.GrayAt(1, 0).Y)
}

func TestGridRejectsBadInput(t *testing.T) {
	raw, err := tensor.NewRaw(tensor.Shape{2, 2}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	_, err = Grid(raw, 1, 1)
	assert.Error(t, err)

	twoChan, err := tensor.NewRaw(tensor.Shape{1, 2, 2, 2}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	_, err = Grid(twoChan, 1, 1)
	assert.Error(t, err)

	_, err = Grid(grayBatch(t, 4, 2, 2, 0), 1, 2)
	assert.Error(t, err)
}

func TestSavePNG(t *testing.T) {
	img, err := Grid(grayBatch(t, 1, 2, 2, 0.5), 1, 1)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "grid.png")
	require.NoError(t, SavePNG(img, path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	decoded, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())
}
