// Package detection filters the output of an object detector down to the
// regions the matching engine cares about.
package detection

import (
	"errors"
	"fmt"
	"image"
	"strconv"
)

var ErrNoImage = errors.New("no decodable image")

// RawDetection is one box reported by a detector, before any filtering.
type RawDetection struct {
	ClassID    int
	Confidence float64
	Box        image.Rectangle
}

// Oracle is an object detector. Detect must be safe for concurrent use or
// serialise internally.
type Oracle interface {
	Detect(img image.Image) ([]RawDetection, error)
	Labels() map[int]string
}

// Detection is a filtered detection with its class resolved to a label.
// Index is the position of the box in the oracle's unfiltered output.
type Detection struct {
	Index      int
	Label      string
	Confidence float64
	Box        image.Rectangle
}

// DetectionError reports a detector failure on a single image.
type DetectionError struct {
	Err error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("detection failed: %v", e.Err)
}

func (e *DetectionError) Unwrap() error {
	return e.Err
}

// Adapter applies the confidence threshold and target class filter to an
// Oracle's detections.
type Adapter struct {
	oracle Oracle
	labels map[int]string
}

func NewAdapter(oracle Oracle) *Adapter {
	return &Adapter{oracle: oracle, labels: oracle.Labels()}
}

// Label resolves a class id, falling back to its decimal form.
func (a *Adapter) Label(classID int) string {
	if l, ok := a.labels[classID]; ok {
		return l
	}
	return strconv.Itoa(classID)
}

// Labels lists the detector's class labels.
func (a *Adapter) Labels() map[int]string {
	out := make(map[int]string, len(a.labels))
	for k, v := range a.labels {
		out[k] = v
	}
	return out
}

// Detect keeps detections whose confidence is at least threshold and whose
// label equals targetClass (any label when targetClass is empty). The
// oracle's order is preserved. An image that passes nothing yields an empty
// slice and a nil error.
func (a *Adapter) Detect(img image.Image, threshold float64, targetClass string) ([]Detection, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, &DetectionError{Err: ErrNoImage}
	}
	raw, err := a.oracle.Detect(img)
	if err != nil {
		return nil, &DetectionError{Err: err}
	}

	out := make([]Detection, 0, len(raw))
	for i, d := range raw {
		if d.Confidence < threshold {
			continue
		}
		label := a.Label(d.ClassID)
		if targetClass != "" && label != targetClass {
			continue
		}
		out = append(out, Detection{Index: i, Label: label, Confidence: d.Confidence, Box: d.Box})
	}
	return out, nil
}
