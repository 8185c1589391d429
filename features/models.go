package features

import (
	"fmt"
	"sort"
)

// SIFTFeatures is the keypoint budget handed to the SIFT detector.
const SIFTFeatures = 5000

// DefaultEmbeddingModel is used when no model variant is configured.
const DefaultEmbeddingModel = "dinov2_vits14"

// EmbeddingModel describes one supported embedding model variant.
type EmbeddingModel struct {
	Name        string `json:"name"`
	Dim         int    `json:"embedding_dim"`
	Description string `json:"description"`
}

var embeddingModels = map[string]EmbeddingModel{
	"dinov2_vits14": {Name: "dinov2_vits14", Dim: 384, Description: "ViT-S/14, fastest"},
	"dinov2_vitb14": {Name: "dinov2_vitb14", Dim: 768, Description: "ViT-B/14, balanced"},
	"dinov2_vitl14": {Name: "dinov2_vitl14", Dim: 1024, Description: "ViT-L/14, more accurate"},
	"dinov2_vitg14": {Name: "dinov2_vitg14", Dim: 1536, Description: "ViT-g/14, most accurate"},
}

// LookupEmbeddingModel returns the catalogue entry for name.
func LookupEmbeddingModel(name string) (EmbeddingModel, error) {
	m, ok := embeddingModels[name]
	if !ok {
		return EmbeddingModel{}, fmt.Errorf("unknown embedding model %q", name)
	}
	return m, nil
}

// EmbeddingModels lists the catalogue ordered by embedding size.
func EmbeddingModels() []EmbeddingModel {
	out := make([]EmbeddingModel, 0, len(embeddingModels))
	for _, m := range embeddingModels {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dim < out[j].Dim })
	return out
}
