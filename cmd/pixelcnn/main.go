// Command pixelcnn trains a masked-convolution autoregressive model on
// MNIST, then writes sampled and in-painted image grids as PNG files.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/raster-ml/pixelcnn/internal/autodiff"
	"github.com/raster-ml/pixelcnn/internal/backend/cpu"
	"github.com/raster-ml/pixelcnn/internal/dataset"
	"github.com/raster-ml/pixelcnn/internal/imaging"
	"github.com/raster-ml/pixelcnn/internal/pixelcnn"
	"github.com/raster-ml/pixelcnn/internal/tensor"
)

func main() {
	dataDir := flag.String("data", "./data", "Directory containing MNIST IDX files")
	maxSamples := flag.Int("samples", 1000, "Max training samples to load (0 = all)")
	epochs := flag.Int("epochs", 2, "Number of training epochs")
	batchSize := flag.Int("batch", 16, "Batch size for training")
	lr := flag.Float64("lr", 3e-4, "Initial learning rate for Adam")
	qLevels := flag.Int("qlevels", 4, "Quantization levels per channel value")
	hidden := flag.Int("hidden", 8, "Residual bottleneck width h (feature width is 2h)")
	resBlocks := flag.Int("blocks", 3, "Number of residual blocks")
	kernelSize := flag.Int("kernel", 7, "Kernel size of the first masked convolution")
	numSamples := flag.Int("generate", 16, "Number of images to sample after training")
	occludeRow := flag.Int("occlude", 14, "Row below which test images are occluded for in-painting")
	seed := flag.Int64("seed", 42, "Random seed for init, shuffling, and sampling")
	outDir := flag.String("out", ".", "Directory for output PNG files")
	useSynthetic := flag.Bool("synthetic", false, "Use synthetic data (for testing without MNIST files)")
	flag.Parse()

	fmt.Println("🎨 PixelCNN - Autoregressive Image Generation")

	backend := autodiff.New(cpu.New())
	rng := rand.New(rand.NewSource(*seed))

	// Load data
	var trainData, testData *dataset.Dataset
	if *useSynthetic {
		fmt.Println("\n📊 Using synthetic data (banded test patterns)...")
		trainData = dataset.Synthetic(128, 1, 28, 28, *qLevels, rng)
		testData = dataset.Synthetic(32, 1, 28, 28, *qLevels, rng)
	} else {
		fmt.Printf("\n📊 Loading MNIST data from: %s\n", *dataDir)

		var err error
		trainData, err = dataset.LoadMNIST(*dataDir, true, *maxSamples, *qLevels)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Println("\n❌ Error: MNIST data files not found!")
				fmt.Println("\nDownload train-images-idx3-ubyte and t10k-images-idx3-ubyte")
				fmt.Println("from http://yann.lecun.com/exdb/mnist/ and gunzip them into the")
				fmt.Println("data directory, or run with -synthetic to use test patterns.")
				os.Exit(1)
			}
			log.Fatalf("Failed to load training data: %v", err)
		}

		testCount := *maxSamples / 5
		if testCount == 0 {
			testCount = 200
		}
		testData, err = dataset.LoadMNIST(*dataDir, false, testCount, *qLevels)
		if err != nil {
			log.Fatalf("Failed to load test data: %v", err)
		}
	}
	fmt.Printf("   Train: %d samples, Test: %d samples (%dx%d, q=%d)\n",
		trainData.NumSamples(), testData.NumSamples(),
		trainData.Height, trainData.Width, *qLevels)

	// Create model
	cfg := pixelcnn.Config{
		Channels:   trainData.Channels,
		QLevels:    *qLevels,
		Hidden:     *hidden,
		ResBlocks:  *resBlocks,
		KernelSize: *kernelSize,
	}
	model := pixelcnn.New(cfg, rng, backend)
	fmt.Printf("\n🧠 Model: %dx%d type-A conv -> %d residual blocks (h=%d) -> %d logit channels\n",
		cfg.KernelSize, cfg.KernelSize, cfg.ResBlocks, cfg.Hidden, cfg.Channels*cfg.QLevels)
	fmt.Printf("   %d trainable parameters\n", model.NumParameters())

	trainer := pixelcnn.NewTrainer(model, pixelcnn.TrainConfig{
		Epochs:    *epochs,
		BatchSize: *batchSize,
		LR:        float32(*lr),
	}, backend)

	testBatches, err := dataset.CreateBatches(testData, *batchSize, nil, backend)
	if err != nil {
		log.Fatalf("Failed to create test batches: %v", err)
	}

	// Training loop
	fmt.Printf("\n🎓 Training: %d epochs, batch=%d, lr=%g (decay %g/step, clip %g)\n",
		*epochs, *batchSize, trainer.Config().LR, trainer.Config().LRDecay, trainer.Config().ClipNorm)

	for epoch := 0; epoch < *epochs; epoch++ {
		batches, err := dataset.CreateBatches(trainData, *batchSize, rng, backend)
		if err != nil {
			log.Fatalf("Failed to create train batches: %v", err)
		}

		loss := trainer.TrainEpoch(batches)
		eval := trainer.Evaluate(testBatches)
		fmt.Printf("Epoch %2d/%d: loss=%.4f, test %s, lr=%.2e\n",
			epoch+1, *epochs, loss, eval, trainer.LR())
	}

	// Sample new images
	sampler := pixelcnn.NewSampler(model, backend, rng)

	fmt.Printf("\n🖼️  Sampling %d images...\n", *numSamples)
	generated := sampler.Generate(*numSamples, trainData.Height, trainData.Width)
	if err := saveGrid(generated.Raw(), *numSamples, filepath.Join(*outDir, "samples.png")); err != nil {
		log.Fatalf("Failed to save samples: %v", err)
	}

	// In-paint occluded test images
	fmt.Printf("🩹 In-painting %d test images occluded from row %d...\n",
		testBatches[0].Size, *occludeRow)
	completed := sampler.Inpaint(testBatches[0].Images, *occludeRow)
	if err := saveGrid(completed.Raw(), testBatches[0].Size, filepath.Join(*outDir, "inpainted.png")); err != nil {
		log.Fatalf("Failed to save in-painted images: %v", err)
	}

	fmt.Println("\n✅ Done")
}

// saveGrid tiles n images into a near-square grid and writes it as PNG.
func saveGrid(images *tensor.RawTensor, n int, path string) error {
	cols := 1
	for cols*cols < n {
		cols++
	}
	rows := (n + cols - 1) / cols

	img, err := imaging.Grid(images, rows, cols)
	if err != nil {
		return err
	}
	if err := imaging.SavePNG(img, path); err != nil {
		return err
	}
	fmt.Printf("   Saved %s (%dx%d grid)\n", path, rows, cols)
	return nil
}
