package vision

import (
	"fmt"
	"image"
	"log"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/camden-git/objectmatch/detection"
)

// YOLODetector runs an exported YOLO ONNX model. Calls are serialised
// because a gocv.Net is not safe for concurrent use.
type YOLODetector struct {
	mu          sync.Mutex
	net         gocv.Net
	labels      map[int]string
	numClasses  int
	accelerated bool
}

// NewYOLODetector loads the model at modelPath and its class names from
// labelsPath.
func NewYOLODetector(modelPath, labelsPath string) (*YOLODetector, error) {
	f, err := os.Open(labelsPath)
	if err != nil {
		return nil, fmt.Errorf("opening labels %s: %w", labelsPath, err)
	}
	labels, err := detection.ParseLabels(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("parsing labels %s: %w", labelsPath, err)
	}

	net, accelerated, err := loadNet(modelPath)
	if err != nil {
		return nil, err
	}

	numClasses := 0
	for id := range labels {
		numClasses = max(numClasses, id+1)
	}
	log.Printf("vision: detector ready with %d classes", numClasses)
	return &YOLODetector{net: net, labels: labels, numClasses: numClasses, accelerated: accelerated}, nil
}

func (d *YOLODetector) Labels() map[int]string {
	out := make(map[int]string, len(d.labels))
	for k, v := range d.labels {
		out[k] = v
	}
	return out
}

// Accelerated reports whether inference runs on CUDA.
func (d *YOLODetector) Accelerated() bool { return d.accelerated }

// Detect returns every box that survives the candidate floor and
// non-maximum suppression, in descending confidence order.
func (d *YOLODetector) Detect(img image.Image) ([]detection.RawDetection, error) {
	bounds := img.Bounds()
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("converting image: %w", err)
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(detection.YOLOInputSize, detection.YOLOInputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.mu.Lock()
	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	d.mu.Unlock()
	defer output.Close()

	sizes := output.Size()
	if len(sizes) != 3 || sizes[1] != 4+d.numClasses {
		return nil, fmt.Errorf("unexpected output dimensions %v for %d classes", sizes, d.numClasses)
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("reading detector output: %w", err)
	}

	scaleX := float64(bounds.Dx()) / detection.YOLOInputSize
	scaleY := float64(bounds.Dy()) / detection.YOLOInputSize
	candidates, err := detection.DecodeYOLO(data, d.numClasses, image.Rect(0, 0, bounds.Dx(), bounds.Dy()), scaleX, scaleY, detection.YOLOMinConfidence)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	boxes := make([]image.Rectangle, len(candidates))
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		boxes[i] = c.Box
		scores[i] = float32(c.Confidence)
	}
	keep := gocv.NMSBoxes(boxes, scores, detection.YOLOMinConfidence, detection.YOLONMSThreshold)

	out := make([]detection.RawDetection, 0, len(keep))
	for _, i := range keep {
		c := candidates[i]
		c.Box = c.Box.Add(bounds.Min)
		out = append(out, c)
	}
	return out, nil
}

func (d *YOLODetector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.net.Close()
	log.Println("vision: closed detector network")
}
