package detection

import (
	"errors"
	"image"
	"testing"
)

type fakeOracle struct {
	dets []RawDetection
	err  error
}

func (f *fakeOracle) Detect(img image.Image) ([]RawDetection, error) {
	return f.dets, f.err
}

func (f *fakeOracle) Labels() map[int]string {
	return map[int]string{0: "clipper", 1: "lighter"}
}

func TestAdapterFilters(t *testing.T) {
	oracle := &fakeOracle{dets: []RawDetection{
		{ClassID: 1, Confidence: 0.90, Box: image.Rect(0, 0, 10, 10)},
		{ClassID: 0, Confidence: 0.40, Box: image.Rect(1, 1, 11, 11)},
		{ClassID: 0, Confidence: 0.50, Box: image.Rect(2, 2, 12, 12)},
		{ClassID: 0, Confidence: 0.95, Box: image.Rect(3, 3, 13, 13)},
		{ClassID: 7, Confidence: 0.99, Box: image.Rect(4, 4, 14, 14)},
	}}
	a := NewAdapter(oracle)
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))

	tests := []struct {
		name        string
		threshold   float64
		targetClass string
		wantBoxes   []int
	}{
		{"class and threshold inclusive", 0.5, "clipper", []int{2, 3}},
		{"no class filter", 0.5, "", []int{0, 2, 3, 4}},
		{"unknown label falls back to id", 0.0, "7", []int{4}},
		{"nothing passes", 0.999, "clipper", nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := a.Detect(img, tc.threshold, tc.targetClass)
			if err != nil {
				t.Fatalf("Detect: %v", err)
			}
			if len(got) != len(tc.wantBoxes) {
				t.Fatalf("expected %d detections, got %d", len(tc.wantBoxes), len(got))
			}
			for i, idx := range tc.wantBoxes {
				if got[i].Index != idx {
					t.Fatalf("position %d: expected oracle index %d, got %d", i, idx, got[i].Index)
				}
				if got[i].Box != oracle.dets[idx].Box {
					t.Fatalf("position %d: expected box %v, got %v", i, oracle.dets[idx].Box, got[i].Box)
				}
			}
		})
	}
}

func TestAdapterErrors(t *testing.T) {
	boom := errors.New("boom")
	a := NewAdapter(&fakeOracle{err: boom})

	_, err := a.Detect(image.NewRGBA(image.Rect(0, 0, 4, 4)), 0.5, "")
	var detErr *DetectionError
	if !errors.As(err, &detErr) || !errors.Is(err, boom) {
		t.Fatalf("expected DetectionError wrapping oracle error, got %v", err)
	}

	_, err = a.Detect(nil, 0.5, "")
	if !errors.Is(err, ErrNoImage) {
		t.Fatalf("expected ErrNoImage, got %v", err)
	}
}
