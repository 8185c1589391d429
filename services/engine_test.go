package services

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/camden-git/objectmatch/database"
	"github.com/camden-git/objectmatch/detection"
	"github.com/camden-git/objectmatch/features"
	"github.com/camden-git/objectmatch/matching"
	"github.com/camden-git/objectmatch/media"
	"github.com/camden-git/objectmatch/models"
	"github.com/camden-git/objectmatch/signature"
)

// wholeImageDetector reports one clipper covering the whole image, except
// for images exactly 40 pixels wide, which contain nothing.
type wholeImageDetector struct{}

func (wholeImageDetector) Detect(img image.Image) ([]detection.RawDetection, error) {
	if img.Bounds().Dx() == 40 {
		return nil, nil
	}
	return []detection.RawDetection{{ClassID: 0, Confidence: 0.9, Box: img.Bounds()}}, nil
}

func (wholeImageDetector) Labels() map[int]string {
	return map[int]string{0: "clipper", 1: "person"}
}

// intensityKeypoints derives twelve descriptors from the image brightness,
// so identical images give identical descriptor sets.
type intensityKeypoints struct{}

func (intensityKeypoints) DetectAndCompute(gray *image.Gray) ([][]float32, error) {
	v := float32(gray.GrayAt(0, 0).Y)
	rows := make([][]float32, 12)
	for i := range rows {
		row := make([]float32, signature.DescriptorDim)
		for j := range row {
			row[j] = v + float32((i+1)*(j%5+1)*20)
		}
		rows[i] = row
	}
	return rows, nil
}

type fixedEmbedder struct {
	vec         []float32
	accelerated bool
}

func (f fixedEmbedder) Forward(features.Tensor) ([]float32, error) { return f.vec, nil }
func (f fixedEmbedder) Accelerated() bool                          { return f.accelerated }

func unitVector(dim int, cos float64) []float32 {
	v := make([]float32, dim)
	v[0] = float32(cos)
	v[1] = float32(math.Sqrt(1 - cos*cos))
	return v
}

type testEnv struct {
	engine  *Engine
	store   *database.Store
	imgDir  string
	objDir  string
	baseDir string
}

func newTestEnv(t *testing.T, strategy matching.Strategy) *testEnv {
	t.Helper()
	base := t.TempDir()
	store, err := database.Open(filepath.Join(base, "features.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	storage, err := media.NewLocalStorage(base, map[media.AssetType]string{
		media.AssetTypeObject: "extracted_objects",
		media.AssetTypeQuery:  "query_objects",
	})
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	imgDir := filepath.Join(base, "images")
	if err := os.MkdirAll(imgDir, 0755); err != nil {
		t.Fatal(err)
	}
	dirs := Dirs{
		Images:           imgDir,
		ExtractedObjects: filepath.Join(base, "extracted_objects"),
		QueryObjects:     filepath.Join(base, "query_objects"),
	}
	return &testEnv{
		engine:  NewEngine(store, storage, wholeImageDetector{}, strategy, "clipper", dirs),
		store:   store,
		imgDir:  imgDir,
		objDir:  dirs.ExtractedObjects,
		baseDir: base,
	}
}

func writeUniform(t *testing.T, path string, size int, level uint8) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.NRGBA{R: level, G: level, B: level, A: 255})
		}
	}
	if err := imaging.Save(img, path); err != nil {
		t.Fatalf("save %s: %v", path, err)
	}
}

func siftStrategy() matching.Strategy {
	return matching.NewLocalDescriptorStrategy(features.NewLocalDescriptorExtractor(intensityKeypoints{}, "sift"))
}

func TestLoadDatabaseCountsEveryImage(t *testing.T) {
	env := newTestEnv(t, siftStrategy())
	writeUniform(t, filepath.Join(env.imgDir, "a.png"), 64, 50)
	writeUniform(t, filepath.Join(env.imgDir, "b.png"), 64, 120)
	writeUniform(t, filepath.Join(env.imgDir, "c.png"), 64, 200)
	writeUniform(t, filepath.Join(env.imgDir, "empty.png"), 40, 90)
	if err := os.WriteFile(filepath.Join(env.imgDir, "broken.jpg"), []byte("nope"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(env.imgDir, "notes.txt"), []byte("skip"), 0644); err != nil {
		t.Fatal(err)
	}

	var calls, lastTotal int
	stats, err := env.engine.LoadDatabase(context.Background(), env.imgDir, 0.5, 3, WithProgress(func(done, total int) {
		calls++
		lastTotal = total
	}))
	if err != nil {
		t.Fatalf("LoadDatabase: %v", err)
	}

	if stats.TotalImages != 5 || stats.ProcessedImages != 4 || stats.FailedImages != 1 || stats.TotalObjects != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.ProcessedImages+stats.FailedImages != stats.TotalImages {
		t.Fatalf("processed + failed must equal total: %+v", stats)
	}
	if calls != 5 || lastTotal != 5 {
		t.Fatalf("expected 5 progress reports of 5, got %d of %d", calls, lastTotal)
	}

	dbStats, err := env.engine.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if dbStats.DatabaseStats.ImageCount != 3 || dbStats.DatabaseStats.ObjectCount != 3 {
		t.Fatalf("images without regions must not be stored: %+v", dbStats.DatabaseStats)
	}
	if dbStats.DatabaseStats.MeanSignatureSize != 12 || dbStats.BoundExtractor != "sift" || dbStats.TargetClass != "clipper" {
		t.Fatalf("unexpected engine stats %+v", dbStats)
	}

	crops, _ := filepath.Glob(filepath.Join(env.objDir, "*_obj_000_conf0.90.jpg"))
	if len(crops) != 3 {
		t.Fatalf("expected 3 saved crops, got %v", crops)
	}
}

func TestLoadDatabaseEmptyAndMissingDirectories(t *testing.T) {
	env := newTestEnv(t, siftStrategy())

	stats, err := env.engine.LoadDatabase(context.Background(), env.imgDir, 0.5, 2)
	if err != nil || stats.TotalImages != 0 || stats.ProcessedImages != 0 {
		t.Fatalf("expected zero stats for an empty directory, got %+v, %v", stats, err)
	}
	if _, err := env.engine.LoadDatabase(context.Background(), filepath.Join(env.baseDir, "missing"), 0.5, 2); err == nil {
		t.Fatal("expected error for a missing directory")
	}
}

func TestLoadDatabaseCancelled(t *testing.T) {
	env := newTestEnv(t, siftStrategy())
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		writeUniform(t, filepath.Join(env.imgDir, name), 64, 80)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := env.engine.LoadDatabase(ctx, env.imgDir, 0.5, 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if stats.ProcessedImages+stats.FailedImages != stats.TotalImages {
		t.Fatalf("processed + failed must equal total: %+v", stats)
	}
}

func TestQueryObjectRanksExactMatchFirst(t *testing.T) {
	env := newTestEnv(t, siftStrategy())
	writeUniform(t, filepath.Join(env.imgDir, "a.png"), 64, 50)
	writeUniform(t, filepath.Join(env.imgDir, "b.png"), 64, 200)
	if _, err := env.engine.LoadDatabase(context.Background(), env.imgDir, 0.5, 1); err != nil {
		t.Fatalf("LoadDatabase: %v", err)
	}

	queryPath := filepath.Join(env.baseDir, "query.png")
	writeUniform(t, queryPath, 64, 50)
	results, err := env.engine.QueryObject(context.Background(), queryPath, DefaultQueryOptions())
	if err != nil {
		t.Fatalf("QueryObject: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one match")
	}
	first := results[0]
	if first.OriginalFilename != "a.png" || first.MatchesCount == nil || *first.MatchesCount != 12 {
		t.Fatalf("expected a.png first with 12 matches, got %+v", first)
	}
	if first.NormalizedScore == nil || *first.NormalizedScore != 1 {
		t.Fatalf("expected normalized score 1, got %v", first.NormalizedScore)
	}
	for i := 1; i < len(results); i++ {
		if results[i].SimilarityScore > results[i-1].SimilarityScore {
			t.Fatalf("results not sorted: %+v", results)
		}
	}

	opts := DefaultQueryOptions()
	opts.TopK = 1
	top, err := env.engine.QueryObject(context.Background(), queryPath, opts)
	if err != nil || len(top) != 1 {
		t.Fatalf("expected a single result with TopK=1, got %d, %v", len(top), err)
	}

	opts = DefaultQueryOptions()
	opts.ClassFilter = "person"
	none, err := env.engine.QueryObject(context.Background(), queryPath, opts)
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no matches for another class, got %d, %v", len(none), err)
	}
}

func TestQueryObjectEmptyResults(t *testing.T) {
	env := newTestEnv(t, siftStrategy())

	nothing := filepath.Join(env.baseDir, "nothing.png")
	writeUniform(t, nothing, 40, 10)
	results, err := env.engine.QueryObject(context.Background(), nothing, DefaultQueryOptions())
	if err != nil || results == nil || len(results) != 0 {
		t.Fatalf("expected an empty result without detections, got %v, %v", results, err)
	}

	broken := filepath.Join(env.baseDir, "broken.jpg")
	if err := os.WriteFile(broken, []byte("not an image"), 0644); err != nil {
		t.Fatal(err)
	}
	results, err = env.engine.QueryObject(context.Background(), broken, DefaultQueryOptions())
	if err != nil || len(results) != 0 {
		t.Fatalf("expected an empty result for an unreadable query, got %v, %v", results, err)
	}
}

func TestQueryObjectMinSimilarity(t *testing.T) {
	strategy := matching.NewDenseEmbeddingStrategy(
		features.NewDenseEmbeddingExtractor(fixedEmbedder{vec: unitVector(384, 1)}, "dinov2_vits14"))
	env := newTestEnv(t, strategy)
	ctx := context.Background()

	if err := env.store.BindStrategy(ctx, strategy.Name()); err != nil {
		t.Fatalf("BindStrategy: %v", err)
	}
	for _, c := range []struct {
		name string
		cos  float64
	}{{"low.jpg", 0.85}, {"high.jpg", 0.95}} {
		imageID, err := env.store.InsertImage(ctx, c.name, filepath.Join(env.imgDir, c.name), nil)
		if err != nil {
			t.Fatal(err)
		}
		_, err = env.store.InsertObject(ctx, imageID, models.Region{
			ObjectClass:     "clipper",
			Confidence:      0.8,
			BBox:            models.BBox{X1: 0, Y1: 0, X2: 64, Y2: 64},
			ObjectImagePath: c.name,
			Signature:       signature.Embedding(unitVector(384, c.cos)),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	queryPath := filepath.Join(env.baseDir, "query.png")
	writeUniform(t, queryPath, 64, 128)
	opts := DefaultQueryOptions()
	opts.MinSimilarity = 0.9
	results, err := env.engine.QueryObject(ctx, queryPath, opts)
	if err != nil {
		t.Fatalf("QueryObject: %v", err)
	}
	if len(results) != 1 || results[0].OriginalFilename != "high.jpg" {
		t.Fatalf("expected only high.jpg, got %+v", results)
	}
	if math.Abs(results[0].SimilarityScore-0.95) > 1e-4 || results[0].MatchesCount != nil {
		t.Fatalf("unexpected score %+v", results[0])
	}
}

func TestStrategyMismatchIsRejected(t *testing.T) {
	env := newTestEnv(t, siftStrategy())
	ctx := context.Background()
	if err := env.store.BindStrategy(ctx, "dinov2_vits14"); err != nil {
		t.Fatal(err)
	}
	writeUniform(t, filepath.Join(env.imgDir, "a.png"), 64, 50)

	if _, err := env.engine.LoadDatabase(ctx, env.imgDir, 0.5, 1); !errors.Is(err, database.ErrStrategyMismatch) {
		t.Fatalf("expected ErrStrategyMismatch from load, got %v", err)
	}
	if _, err := env.engine.QueryObject(ctx, filepath.Join(env.imgDir, "a.png"), DefaultQueryOptions()); !errors.Is(err, database.ErrStrategyMismatch) {
		t.Fatalf("expected ErrStrategyMismatch from query, got %v", err)
	}
}

func TestResetClearsStoreAndCrops(t *testing.T) {
	env := newTestEnv(t, siftStrategy())
	ctx := context.Background()
	writeUniform(t, filepath.Join(env.imgDir, "a.png"), 64, 50)
	if _, err := env.engine.LoadDatabase(ctx, env.imgDir, 0.5, 1); err != nil {
		t.Fatal(err)
	}

	if err := env.engine.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	stats, err := env.engine.GetStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.DatabaseStats.ImageCount != 0 || stats.DatabaseStats.ObjectCount != 0 || stats.BoundExtractor != "" {
		t.Fatalf("expected empty store after reset, got %+v", stats)
	}
	entries, err := os.ReadDir(env.objDir)
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected empty crop directory, got %d entries, %v", len(entries), err)
	}

	objects, total, err := env.engine.ListObjects(ctx, database.ObjectFilter{})
	if err != nil || len(objects) != 0 || total != 0 {
		t.Fatalf("expected no objects, got %d/%d, %v", len(objects), total, err)
	}
}

func TestWorkerCount(t *testing.T) {
	cpu := newTestEnv(t, siftStrategy()).engine
	gpu := newTestEnv(t, matching.NewDenseEmbeddingStrategy(
		features.NewDenseEmbeddingExtractor(fixedEmbedder{accelerated: true}, "dinov2_vits14"))).engine

	tests := []struct {
		name      string
		engine    *Engine
		requested int
		want      int
	}{
		{"cpu default", cpu, 0, DefaultWorkers},
		{"cpu explicit", cpu, 8, 8},
		{"gpu capped", gpu, 8, AcceleratedWorkerLimit},
		{"gpu below cap", gpu, 1, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.engine.WorkerCount(tc.requested); got != tc.want {
				t.Fatalf("expected %d workers, got %d", tc.want, got)
			}
		})
	}
}

func TestEngineCacheBuildsOnce(t *testing.T) {
	builds := 0
	cache := NewEngineCache(func(key EngineKey) (*Engine, error) {
		builds++
		if key.Strategy == "orb" {
			return nil, errors.New("unsupported")
		}
		return &Engine{targetClass: key.TargetClass}, nil
	})

	key := EngineKey{TargetClass: "clipper", Strategy: "sift"}
	a, err := cache.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := cache.Get(key)
	if a != b || builds != 1 {
		t.Fatalf("expected one shared engine, got %d builds", builds)
	}
	if _, err := cache.Get(EngineKey{TargetClass: "clipper", Strategy: "orb"}); err == nil {
		t.Fatal("expected factory error")
	}
	if cache.Len() != 1 {
		t.Fatalf("failed builds must not be cached, have %d", cache.Len())
	}
}
