package matching

import (
	"fmt"
	"image"

	"github.com/camden-git/objectmatch/features"
	"github.com/camden-git/objectmatch/signature"
)

const (
	StrategySIFT   = "sift"
	StrategyDINOv2 = "dinov2"
)

// Strategy bundles an extractor with the matcher and thresholds that go with
// its signature kind.
type Strategy interface {
	Name() string
	Kind() signature.Kind
	Extract(img image.Image) (signature.Signature, error)
	// MinRegionSize is the smallest region side passed to Extract; 0 means
	// no floor.
	MinRegionSize() int
	KeepOnExtractionFailure() bool
	// MinSignatureSize is the smallest stored signature size worth scoring.
	MinSignatureSize() int
	// Accelerated reports whether extraction is bound to a GPU.
	Accelerated() bool
	Matcher(minSimilarity float64) Matcher
}

// LocalDescriptorStrategy matches keypoint descriptor sets with the ratio
// test. Regions whose extraction fails are kept without a signature.
type LocalDescriptorStrategy struct {
	extractor features.Extractor
}

func NewLocalDescriptorStrategy(extractor features.Extractor) *LocalDescriptorStrategy {
	return &LocalDescriptorStrategy{extractor: extractor}
}

func (s *LocalDescriptorStrategy) Name() string         { return s.extractor.Name() }
func (s *LocalDescriptorStrategy) Kind() signature.Kind { return signature.KindDescriptors }
func (s *LocalDescriptorStrategy) Extract(img image.Image) (signature.Signature, error) {
	return s.extractor.Extract(img)
}
func (s *LocalDescriptorStrategy) MinRegionSize() int            { return 0 }
func (s *LocalDescriptorStrategy) KeepOnExtractionFailure() bool { return true }
func (s *LocalDescriptorStrategy) MinSignatureSize() int         { return 10 }
func (s *LocalDescriptorStrategy) Accelerated() bool             { return false }

func (s *LocalDescriptorStrategy) Matcher(float64) Matcher {
	return RatioTestMatcher{Ratio: LoweRatio}
}

// DenseEmbeddingStrategy matches single embeddings by cosine similarity.
// Regions under the model's input floor are skipped and failed extractions
// are dropped.
type DenseEmbeddingStrategy struct {
	extractor   features.Extractor
	accelerated bool
}

func NewDenseEmbeddingStrategy(extractor features.Extractor) *DenseEmbeddingStrategy {
	s := &DenseEmbeddingStrategy{extractor: extractor}
	if a, ok := extractor.(interface{ Accelerated() bool }); ok {
		s.accelerated = a.Accelerated()
	}
	return s
}

func (s *DenseEmbeddingStrategy) Name() string         { return s.extractor.Name() }
func (s *DenseEmbeddingStrategy) Kind() signature.Kind { return signature.KindEmbedding }
func (s *DenseEmbeddingStrategy) Extract(img image.Image) (signature.Signature, error) {
	return s.extractor.Extract(img)
}
func (s *DenseEmbeddingStrategy) MinRegionSize() int            { return features.MinRegionSize }
func (s *DenseEmbeddingStrategy) KeepOnExtractionFailure() bool { return false }
func (s *DenseEmbeddingStrategy) MinSignatureSize() int         { return 100 }
func (s *DenseEmbeddingStrategy) Accelerated() bool             { return s.accelerated }

func (s *DenseEmbeddingStrategy) Matcher(minSimilarity float64) Matcher {
	return CosineMatcher{MinSimilarity: minSimilarity}
}

// Oracles carries the model backends a strategy may need.
type Oracles struct {
	Keypoints features.KeypointOracle
	Embedding features.EmbeddingOracle
}

// NewStrategy builds the strategy called name. model selects the embedding
// variant and is ignored by the descriptor strategy.
func NewStrategy(name, model string, oracles Oracles) (Strategy, error) {
	switch name {
	case StrategySIFT:
		if oracles.Keypoints == nil {
			return nil, fmt.Errorf("strategy %s needs a keypoint oracle", name)
		}
		return NewLocalDescriptorStrategy(features.NewLocalDescriptorExtractor(oracles.Keypoints, StrategySIFT)), nil
	case StrategyDINOv2:
		if model == "" {
			model = features.DefaultEmbeddingModel
		}
		if _, err := features.LookupEmbeddingModel(model); err != nil {
			return nil, err
		}
		if oracles.Embedding == nil {
			return nil, fmt.Errorf("strategy %s needs an embedding oracle", name)
		}
		return NewDenseEmbeddingStrategy(features.NewDenseEmbeddingExtractor(oracles.Embedding, model)), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}
