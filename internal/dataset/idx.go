package dataset

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// idxImagesMagic identifies an IDX image file in the MNIST distribution.
const idxImagesMagic = 2051

// readIDXImages reads an IDX image file.
//
// Layout:
//
//	magic number: 0x00000803 (2051)
//	number of images: 4 bytes, big endian
//	number of rows, number of cols: 4 bytes each
//	pixel data: unsigned bytes (0-255), row major
func readIDXImages(filename string) (images [][]byte, rows, cols int, err error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, 0, 0, err
	}
	defer file.Close()

	var magic uint32
	if err := binary.Read(file, binary.BigEndian, &magic); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to read magic: %w", err)
	}
	if magic != idxImagesMagic {
		return nil, 0, 0, fmt.Errorf("invalid magic number: got %d, want %d", magic, idxImagesMagic)
	}

	var numImages, numRows, numCols uint32
	if err := binary.Read(file, binary.BigEndian, &numImages); err != nil {
		return nil, 0, 0, err
	}
	if err := binary.Read(file, binary.BigEndian, &numRows); err != nil {
		return nil, 0, 0, err
	}
	if err := binary.Read(file, binary.BigEndian, &numCols); err != nil {
		return nil, 0, 0, err
	}

	imageSize := int(numRows * numCols)
	images = make([][]byte, numImages)

	for i := range images {
		images[i] = make([]byte, imageSize)
		if _, err := io.ReadFull(file, images[i]); err != nil {
			return nil, 0, 0, fmt.Errorf("failed to read image %d: %w", i, err)
		}
	}

	return images, int(numRows), int(numCols), nil
}
