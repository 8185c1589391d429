package vision

import (
	"fmt"
	"log"
	"sync"

	"gocv.io/x/gocv"

	"github.com/camden-git/objectmatch/features"
)

// DNNEmbedder runs a preprocessed tensor through an ONNX embedding model
// and returns its pooled output vector.
type DNNEmbedder struct {
	mu          sync.Mutex
	net         gocv.Net
	model       features.EmbeddingModel
	accelerated bool
}

// NewDNNEmbedder loads the ONNX export of model from modelPath.
func NewDNNEmbedder(modelPath string, model features.EmbeddingModel) (*DNNEmbedder, error) {
	net, accelerated, err := loadNet(modelPath)
	if err != nil {
		return nil, err
	}
	log.Printf("vision: embedder %s ready (dim %d)", model.Name, model.Dim)
	return &DNNEmbedder{net: net, model: model, accelerated: accelerated}, nil
}

func (e *DNNEmbedder) Accelerated() bool { return e.accelerated }

func (e *DNNEmbedder) Forward(t features.Tensor) ([]float32, error) {
	want := t.Shape[0] * t.Shape[1] * t.Shape[2] * t.Shape[3]
	if want == 0 || len(t.Data) != want {
		return nil, fmt.Errorf("tensor shape %v does not match %d values", t.Shape, len(t.Data))
	}
	blob := gocv.NewMatWithSizes(t.Shape[:], gocv.MatTypeCV32F)
	defer blob.Close()
	dst, err := blob.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("allocating input blob: %w", err)
	}
	copy(dst, t.Data)

	e.mu.Lock()
	e.net.SetInput(blob, "")
	output := e.net.Forward("")
	e.mu.Unlock()
	defer output.Close()

	if output.Empty() {
		return nil, features.ErrEmptyOutput
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("reading embedding: %w", err)
	}
	if e.model.Dim > 0 && len(data) != e.model.Dim {
		return nil, fmt.Errorf("model %s produced %d values, expected %d", e.model.Name, len(data), e.model.Dim)
	}
	vec := make([]float32, len(data))
	copy(vec, data)
	return vec, nil
}

func (e *DNNEmbedder) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.net.Close()
	log.Println("vision: closed embedder network")
}
