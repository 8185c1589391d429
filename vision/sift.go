package vision

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/camden-git/objectmatch/features"
)

// SIFTExtractor computes SIFT descriptors with OpenCV, keeping at most
// MaxFeatures of the strongest keypoints.
type SIFTExtractor struct {
	mu          sync.Mutex
	sift        gocv.SIFT
	MaxFeatures int
}

func NewSIFTExtractor() *SIFTExtractor {
	return &SIFTExtractor{sift: gocv.NewSIFT(), MaxFeatures: features.SIFTFeatures}
}

// DetectAndCompute returns one 128-value row per keypoint.
func (s *SIFTExtractor) DetectAndCompute(gray *image.Gray) ([][]float32, error) {
	b := gray.Bounds()
	if b.Empty() {
		return nil, nil
	}
	pix := gray.Pix
	if gray.Stride != b.Dx() {
		pix = make([]byte, 0, b.Dx()*b.Dy())
		for y := b.Min.Y; y < b.Max.Y; y++ {
			off := gray.PixOffset(b.Min.X, y)
			pix = append(pix, gray.Pix[off:off+b.Dx()]...)
		}
	}
	mat, err := gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8UC1, pix)
	if err != nil {
		return nil, fmt.Errorf("building gray mat: %w", err)
	}
	defer mat.Close()
	mask := gocv.NewMat()
	defer mask.Close()

	s.mu.Lock()
	keypoints, descriptors := s.sift.DetectAndCompute(mat, mask)
	s.mu.Unlock()
	defer descriptors.Close()

	if len(keypoints) == 0 || descriptors.Empty() {
		return nil, nil
	}
	if descriptors.Rows() != len(keypoints) {
		return nil, fmt.Errorf("descriptor rows %d do not match %d keypoints", descriptors.Rows(), len(keypoints))
	}
	data, err := descriptors.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("reading descriptors: %w", err)
	}

	responses := make([]float64, len(keypoints))
	for i, kp := range keypoints {
		responses[i] = kp.Response
	}
	cols := descriptors.Cols()
	rows := make([][]float32, 0, min(len(keypoints), s.MaxFeatures))
	for _, i := range features.StrongestKeypoints(responses, s.MaxFeatures) {
		row := make([]float32, cols)
		copy(row, data[i*cols:(i+1)*cols])
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *SIFTExtractor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sift.Close()
}
