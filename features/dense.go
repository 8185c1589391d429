package features

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/camden-git/objectmatch/signature"
)

const (
	MinRegionSize = 32
	InputSize     = 224
	normEpsilon   = 1e-8
)

var (
	imageNetMean = [3]float32{0.485, 0.456, 0.406}
	imageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Tensor is a dense NCHW float32 input for an embedding model.
type Tensor struct {
	Shape [4]int
	Data  []float32
}

// EmbeddingOracle runs a preprocessed tensor through an embedding model.
type EmbeddingOracle interface {
	Forward(t Tensor) ([]float32, error)
	// Accelerated reports whether inference runs on a GPU.
	Accelerated() bool
}

// DenseEmbeddingExtractor produces one L2-normalised vector per region.
type DenseEmbeddingExtractor struct {
	oracle EmbeddingOracle
	name   string
}

func NewDenseEmbeddingExtractor(oracle EmbeddingOracle, name string) *DenseEmbeddingExtractor {
	return &DenseEmbeddingExtractor{oracle: oracle, name: name}
}

func (e *DenseEmbeddingExtractor) Name() string { return e.name }

// Accelerated reports whether the underlying oracle runs on a GPU.
func (e *DenseEmbeddingExtractor) Accelerated() bool { return e.oracle.Accelerated() }

// Extract rejects regions under MinRegionSize on either side, then resizes,
// normalises and embeds the rest.
func (e *DenseEmbeddingExtractor) Extract(img image.Image) (signature.Signature, error) {
	b := img.Bounds()
	if b.Dx() < MinRegionSize || b.Dy() < MinRegionSize {
		return nil, fmt.Errorf("%w: %dx%d", ErrRegionTooSmall, b.Dx(), b.Dy())
	}

	vec, err := e.oracle.Forward(Preprocess(img))
	if err != nil {
		return nil, fmt.Errorf("embedding forward: %w", err)
	}
	if len(vec) == 0 {
		return nil, ErrEmptyOutput
	}
	return signature.Embedding(L2Normalize(vec)), nil
}

// Preprocess resizes img to InputSize x InputSize and applies ImageNet
// mean/std normalisation channel by channel.
func Preprocess(img image.Image) Tensor {
	resized := imaging.Resize(img, InputSize, InputSize, imaging.Linear)
	plane := InputSize * InputSize
	data := make([]float32, 3*plane)
	for y := 0; y < InputSize; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < InputSize; x++ {
			px := row[x*4 : x*4+3]
			for c := 0; c < 3; c++ {
				v := float32(px[c]) / 255
				data[c*plane+y*InputSize+x] = (v - imageNetMean[c]) / imageNetStd[c]
			}
		}
	}
	return Tensor{Shape: [4]int{1, 3, InputSize, InputSize}, Data: data}
}

// L2Normalize returns vec divided by max(||vec||, 1e-8).
func L2Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Max(math.Sqrt(sum), normEpsilon)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
