package detection

import (
	"bufio"
	"fmt"
	"image"
	"io"
	"strconv"
	"strings"
)

const (
	// YOLOInputSize is the square network input the exported detector expects.
	YOLOInputSize = 640
	// YOLOMinConfidence drops candidates before non-maximum suppression.
	YOLOMinConfidence = 0.25
	// YOLONMSThreshold is the IoU above which overlapping boxes are suppressed.
	YOLONMSThreshold = 0.7
)

// ParseLabels reads one class label per line. Lines may also carry an
// explicit id as "3: boat" or "3 boat", which is how exported dataset
// files list their names. Blank lines and # comments are skipped.
func ParseLabels(r io.Reader) (map[int]string, error) {
	labels := make(map[int]string)
	scanner := bufio.NewScanner(r)
	next := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, name := next, line
		if i := strings.IndexAny(line, ": \t"); i > 0 {
			if n, err := strconv.Atoi(line[:i]); err == nil {
				id = n
				name = strings.TrimSpace(strings.TrimLeft(line[i:], ": \t"))
			}
		}
		name = strings.Trim(name, `"'`)
		if name == "" {
			return nil, fmt.Errorf("label %d has no name", id)
		}
		labels[id] = name
		next = id + 1
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading labels: %w", err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("no labels found")
	}
	return labels, nil
}

// DecodeYOLO turns a channel-major [4+numClasses, anchors] output tensor
// into boxes in source image coordinates. Each anchor contributes its best
// class when that score reaches minConfidence. scaleX and scaleY map
// network pixels back to the source image. Boxes are clipped to bounds.
func DecodeYOLO(out []float32, numClasses int, bounds image.Rectangle, scaleX, scaleY, minConfidence float64) ([]RawDetection, error) {
	rows := 4 + numClasses
	if numClasses <= 0 || len(out) == 0 || len(out)%rows != 0 {
		return nil, fmt.Errorf("unexpected detector output of %d values for %d classes", len(out), numClasses)
	}
	anchors := len(out) / rows
	at := func(row, anchor int) float64 { return float64(out[row*anchors+anchor]) }

	var dets []RawDetection
	for a := 0; a < anchors; a++ {
		classID, best := -1, 0.0
		for c := 0; c < numClasses; c++ {
			if s := at(4+c, a); s > best {
				classID, best = c, s
			}
		}
		if classID < 0 || best < minConfidence {
			continue
		}
		cx, cy, w, h := at(0, a), at(1, a), at(2, a), at(3, a)
		box := image.Rect(
			int((cx-w/2)*scaleX), int((cy-h/2)*scaleY),
			int((cx+w/2)*scaleX), int((cy+h/2)*scaleY),
		).Intersect(bounds)
		if box.Empty() {
			continue
		}
		dets = append(dets, RawDetection{ClassID: classID, Confidence: best, Box: box})
	}
	return dets, nil
}
