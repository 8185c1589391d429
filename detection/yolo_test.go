package detection

import (
	"image"
	"strings"
	"testing"
)

func TestParseLabels(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[int]string
	}{
		{"plain lines", "person\nbicycle\n\nclipper\n", map[int]string{0: "person", 1: "bicycle", 2: "clipper"}},
		{"explicit ids", "# dataset\n0: person\n5: 'clipper'\nboat\n", map[int]string{0: "person", 5: "clipper", 6: "boat"}},
		{"space separated", "0 person\n1 fire hydrant\n", map[int]string{0: "person", 1: "fire hydrant"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLabels(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("ParseLabels: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for id, name := range tt.want {
				if got[id] != name {
					t.Fatalf("label %d = %q, want %q", id, got[id], name)
				}
			}
		})
	}

	if _, err := ParseLabels(strings.NewReader("\n# nothing\n")); err == nil {
		t.Fatal("expected error for empty labels")
	}
}

func TestDecodeYOLO(t *testing.T) {
	// 2 classes, 3 anchors, channel-major.
	out := []float32{
		// cx
		100, 320, 630,
		// cy
		100, 320, 630,
		// w
		40, 100, 40,
		// h
		20, 100, 40,
		// class 0
		0.9, 0.1, 0.2,
		// class 1
		0.3, 0.2, 0.8,
	}
	bounds := image.Rect(0, 0, 1280, 640)
	dets, err := DecodeYOLO(out, 2, bounds, 2, 1, YOLOMinConfidence)
	if err != nil {
		t.Fatalf("DecodeYOLO: %v", err)
	}
	if len(dets) != 2 {
		t.Fatalf("expected 2 detections, got %+v", dets)
	}
	if dets[0].ClassID != 0 || dets[0].Box != image.Rect(160, 90, 240, 110) {
		t.Fatalf("unexpected first detection %+v", dets[0])
	}
	if dets[1].ClassID != 1 || dets[1].Box != image.Rect(1220, 610, 1280, 640) {
		t.Fatalf("second box must be clipped to bounds, got %+v", dets[1])
	}
}

func TestDecodeYOLORejectsMalformedOutput(t *testing.T) {
	if _, err := DecodeYOLO(make([]float32, 7), 2, image.Rect(0, 0, 10, 10), 1, 1, 0.25); err == nil {
		t.Fatal("expected error for a tensor that does not divide into rows")
	}
	if _, err := DecodeYOLO(nil, 0, image.Rect(0, 0, 10, 10), 1, 1, 0.25); err == nil {
		t.Fatal("expected error for zero classes")
	}
}
