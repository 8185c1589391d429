package features

import (
	"fmt"
	"image"
	"sort"

	"github.com/disintegration/imaging"

	"github.com/camden-git/objectmatch/signature"
)

// KeypointOracle detects keypoints on a grayscale image and returns one
// descriptor row per keypoint.
type KeypointOracle interface {
	DetectAndCompute(gray *image.Gray) ([][]float32, error)
}

// LocalDescriptorExtractor produces SIFT-style descriptor sets.
type LocalDescriptorExtractor struct {
	oracle KeypointOracle
	name   string
}

func NewLocalDescriptorExtractor(oracle KeypointOracle, name string) *LocalDescriptorExtractor {
	if name == "" {
		name = "sift"
	}
	return &LocalDescriptorExtractor{oracle: oracle, name: name}
}

func (e *LocalDescriptorExtractor) Name() string { return e.name }

// Extract converts img to grayscale and computes its descriptors. A region
// without keypoints yields an empty set and no error.
func (e *LocalDescriptorExtractor) Extract(img image.Image) (signature.Signature, error) {
	rows, err := e.oracle.DetectAndCompute(ToGray(img))
	if err != nil {
		return nil, fmt.Errorf("keypoint extraction: %w", err)
	}
	set, err := signature.NewDescriptorSet(rows)
	if err != nil {
		return nil, err
	}
	return set, nil
}

// ToGray returns a luminance copy of img with its origin at (0,0).
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	nrgba := imaging.Grayscale(img)
	b := nrgba.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+b.Dx()*4]
		dst := gray.Pix[y*gray.Stride : y*gray.Stride+b.Dx()]
		for x := range dst {
			dst[x] = src[x*4]
		}
	}
	return gray
}

// StrongestKeypoints returns the indices of the limit highest responses in
// descending order of response. Ties keep detection order.
func StrongestKeypoints(responses []float64, limit int) []int {
	idx := make([]int, len(responses))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return responses[idx[a]] > responses[idx[b]] })
	if limit > 0 && len(idx) > limit {
		idx = idx[:limit]
	}
	return idx
}
