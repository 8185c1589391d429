// Package app assembles the feature store, asset storage and OpenCV
// oracles into engines for the server and the CLI.
package app

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/camden-git/objectmatch/config"
	"github.com/camden-git/objectmatch/database"
	"github.com/camden-git/objectmatch/features"
	"github.com/camden-git/objectmatch/matching"
	"github.com/camden-git/objectmatch/media"
	"github.com/camden-git/objectmatch/services"
	"github.com/camden-git/objectmatch/vision"
)

// App owns the long-lived resources behind every engine.
type App struct {
	Cfg     config.Config
	Store   *database.Store
	Storage *media.LocalStorage
	Engines *services.EngineCache

	mu        sync.Mutex
	detector  *vision.YOLODetector
	sift      *vision.SIFTExtractor
	embedders map[string]*vision.DNNEmbedder
}

// New opens the store and asset directories. Models are loaded lazily by
// the first engine that needs them.
func New(cfg config.Config) (*App, error) {
	for _, p := range []string{cfg.StoragePath, filepath.Dir(cfg.DatabasePath)} {
		if err := os.MkdirAll(p, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory %s: %w", p, err)
		}
	}

	store, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	storage, err := media.NewLocalStorage(cfg.StoragePath, map[media.AssetType]string{
		media.AssetTypeObject: filepath.Base(cfg.ExtractedObjectsPath),
		media.AssetTypeQuery:  filepath.Base(cfg.QueryObjectsPath),
		media.AssetTypeUpload: filepath.Base(cfg.UploadsPath),
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize media store: %w", err)
	}

	a := &App{Cfg: cfg, Store: store, Storage: storage, embedders: make(map[string]*vision.DNNEmbedder)}
	a.Engines = services.NewEngineCache(a.buildEngine)
	return a, nil
}

// DefaultKey is the engine selected by the configuration.
func (a *App) DefaultKey() services.EngineKey {
	key := services.EngineKey{TargetClass: a.Cfg.TargetClass, Strategy: a.Cfg.Strategy}
	if key.Strategy == matching.StrategyDINOv2 {
		key.Model = a.Cfg.EmbeddingModel
	}
	return key
}

// DefaultEngine returns the engine for DefaultKey.
func (a *App) DefaultEngine() (*services.Engine, error) {
	return a.Engines.Get(a.DefaultKey())
}

func (a *App) buildEngine(key services.EngineKey) (*services.Engine, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.detector == nil {
		detector, err := vision.NewYOLODetector(a.Cfg.DetectorModelPath, a.Cfg.DetectorLabelsPath)
		if err != nil {
			return nil, fmt.Errorf("loading detector: %w", err)
		}
		a.detector = detector
	}

	var oracles matching.Oracles
	switch key.Strategy {
	case matching.StrategySIFT:
		if a.sift == nil {
			a.sift = vision.NewSIFTExtractor()
		}
		oracles.Keypoints = a.sift
	case matching.StrategyDINOv2:
		name := key.Model
		if name == "" {
			name = features.DefaultEmbeddingModel
		}
		model, err := features.LookupEmbeddingModel(name)
		if err != nil {
			return nil, err
		}
		embedder, ok := a.embedders[model.Name]
		if !ok {
			embedder, err = vision.NewDNNEmbedder(a.embeddingModelPath(model.Name), model)
			if err != nil {
				return nil, fmt.Errorf("loading embedding model: %w", err)
			}
			a.embedders[model.Name] = embedder
		}
		oracles.Embedding = embedder
	}

	strategy, err := matching.NewStrategy(key.Strategy, key.Model, oracles)
	if err != nil {
		return nil, err
	}
	dirs := services.Dirs{
		Images:           a.Cfg.ImagesDir,
		ExtractedObjects: a.Cfg.ExtractedObjectsPath,
		QueryObjects:     a.Cfg.QueryObjectsPath,
	}
	return services.NewEngine(a.Store, a.Storage, a.detector, strategy, key.TargetClass, dirs), nil
}

// embeddingModelPath resolves the ONNX file for a model variant. The
// configured path serves the configured model; other variants are looked
// up next to it by name.
func (a *App) embeddingModelPath(name string) string {
	if name == a.Cfg.EmbeddingModel {
		return a.Cfg.EmbeddingModelPath
	}
	return filepath.Join(filepath.Dir(a.Cfg.EmbeddingModelPath), name+".onnx")
}

// Close releases the models and the store.
func (a *App) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.detector != nil {
		a.detector.Close()
	}
	if a.sift != nil {
		a.sift.Close()
	}
	for _, e := range a.embedders {
		e.Close()
	}
	if err := a.Store.Close(); err != nil {
		log.Printf("app: closing store: %v", err)
	}
}
