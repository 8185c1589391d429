package services

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/camden-git/objectmatch/database"
	"github.com/camden-git/objectmatch/detection"
	"github.com/camden-git/objectmatch/matching"
	"github.com/camden-git/objectmatch/media"
	"github.com/camden-git/objectmatch/models"
	"github.com/camden-git/objectmatch/pipeline"
	"github.com/camden-git/objectmatch/signature"
	"github.com/camden-git/objectmatch/tracing"
	"github.com/camden-git/objectmatch/workers"
)

const (
	DefaultWorkers         = 4
	AcceleratedWorkerLimit = 2
	DefaultConfidence      = 0.5
	DefaultTopK            = 10
)

// Dirs are the filesystem locations an engine reports and writes to.
type Dirs struct {
	Images           string
	ExtractedObjects string
	QueryObjects     string
}

// LoadStats summarises one LoadDatabase run. ProcessedImages plus
// FailedImages always equals TotalImages.
type LoadStats struct {
	TotalImages     int     `json:"total_images"`
	ProcessedImages int     `json:"processed_images"`
	TotalObjects    int     `json:"total_objects"`
	FailedImages    int     `json:"failed_images"`
	ElapsedSeconds  float64 `json:"elapsed_seconds"`
}

// QueryOptions tunes QueryObject. TopK <= 0 returns every match.
type QueryOptions struct {
	Threshold     float64
	TopK          int
	ClassFilter   string
	MinSimilarity float64
}

func DefaultQueryOptions() QueryOptions {
	return QueryOptions{
		Threshold:     DefaultConfidence,
		TopK:          DefaultTopK,
		MinSimilarity: matching.DefaultMinSimilarity,
	}
}

// MatchResult is one stored object that matched a query. NormalizedScore
// and MatchesCount are only set for descriptor matching.
type MatchResult struct {
	ObjectID         int64       `json:"object_id"`
	SimilarityScore  float64     `json:"similarity_score"`
	NormalizedScore  *float64    `json:"normalized_score,omitempty"`
	MatchesCount     *int        `json:"matches_count,omitempty"`
	ObjectClass      string      `json:"object_class"`
	Confidence       float64     `json:"confidence"`
	BBox             models.BBox `json:"bbox"`
	OriginalFilename string      `json:"original_filename"`
	OriginalFilepath string      `json:"original_filepath"`
	ObjectImagePath  string      `json:"object_image_path"`
	SignatureSize    int         `json:"signature_size"`
}

// Stats describes the store and the engine configuration.
type Stats struct {
	DatabaseStats       database.Stats `json:"database_stats"`
	TargetClass         string         `json:"target_class"`
	Strategy            string         `json:"strategy"`
	FeatureExtractor    string         `json:"feature_extractor"`
	BoundExtractor      string         `json:"bound_extractor,omitempty"`
	Accelerated         bool           `json:"accelerated"`
	ImagesDir           string         `json:"images_dir"`
	ExtractedObjectsDir string         `json:"extracted_objects_dir"`
	QueryObjectsDir     string         `json:"query_objects_dir"`
}

// Engine loads image directories into the feature store and answers
// similarity queries against it with a single matching strategy.
type Engine struct {
	store         *database.Store
	storage       media.Store
	detector      *detection.Adapter
	strategy      matching.Strategy
	targetClass   string
	dirs          Dirs
	loadPipeline  *pipeline.Pipeline
	queryPipeline *pipeline.Pipeline
}

// NewEngine wires an engine. Crops of loaded images go to the object asset
// directory of storage and crops of query images to the query directory.
func NewEngine(store *database.Store, storage media.Store, oracle detection.Oracle, strategy matching.Strategy, targetClass string, dirs Dirs) *Engine {
	detector := detection.NewAdapter(oracle)
	return &Engine{
		store:         store,
		storage:       storage,
		detector:      detector,
		strategy:      strategy,
		targetClass:   targetClass,
		dirs:          dirs,
		loadPipeline:  pipeline.New(detector, strategy, media.NewProcessor(storage, media.AssetTypeObject), targetClass),
		queryPipeline: pipeline.New(detector, strategy, media.NewProcessor(storage, media.AssetTypeQuery), targetClass),
	}
}

func (e *Engine) Strategy() matching.Strategy { return e.strategy }
func (e *Engine) TargetClass() string         { return e.targetClass }
func (e *Engine) Dirs() Dirs                  { return e.dirs }

// Labels lists the detector's class labels.
func (e *Engine) Labels() map[int]string { return e.detector.Labels() }

// LoadOption customises a LoadDatabase run.
type LoadOption func(*loadOptions)

type loadOptions struct {
	progress workers.ProgressFunc
}

// WithProgress reports the number of finished images after each one.
func WithProgress(fn workers.ProgressFunc) LoadOption {
	return func(o *loadOptions) { o.progress = fn }
}

// WorkerCount resolves the number of load workers for a requested
// parallelism.
func (e *Engine) WorkerCount(maxParallelism int) int {
	n := maxParallelism
	if n <= 0 {
		n = DefaultWorkers
	}
	if e.strategy.Accelerated() && n > AcceleratedWorkerLimit {
		n = AcceleratedWorkerLimit
	}
	return n
}

// LoadDatabase ingests every supported image directly inside dir. Images
// that fail are counted and logged; they never abort the run. When ctx is
// cancelled, files not yet processed are counted as failed and the context
// error is returned with the stats.
func (e *Engine) LoadDatabase(ctx context.Context, dir string, threshold float64, maxParallelism int, opts ...LoadOption) (LoadStats, error) {
	start := time.Now()
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	files, err := media.ListImages(dir)
	if err != nil {
		return LoadStats{}, fmt.Errorf("listing images in %s: %w", dir, err)
	}
	stats := LoadStats{TotalImages: len(files)}
	if len(files) == 0 {
		log.Printf("engine: no images found in %s", dir)
		return stats, nil
	}

	if err := e.store.BindStrategy(ctx, e.strategy.Name()); err != nil {
		stats.FailedImages = len(files)
		return stats, err
	}

	n := e.WorkerCount(maxParallelism)
	ctx, span := tracing.StartLoadSpan(ctx, dir, n)
	defer span.End()
	log.Printf("engine: loading %d images from %s with %d worker(s)", len(files), dir, n)

	var mu sync.Mutex
	finished := 0
	dispatched := workers.RunBatch(ctx, files, n, func(ctx context.Context, workerID int, job workers.ImageJob) {
		objects, err := e.ingest(ctx, job.Path, threshold)

		mu.Lock()
		defer mu.Unlock()
		stats.TotalObjects += objects
		if err != nil {
			stats.FailedImages++
		} else {
			stats.ProcessedImages++
		}
		finished++
		if o.progress != nil {
			o.progress(finished, len(files))
		}
	})

	stats.FailedImages += len(files) - dispatched
	stats.ElapsedSeconds = time.Since(start).Seconds()
	tracing.RecordLoadResult(span, stats.TotalImages, stats.ProcessedImages, stats.FailedImages, stats.TotalObjects)
	log.Printf("engine: load of %s finished: %d processed, %d failed, %d objects in %.2fs",
		dir, stats.ProcessedImages, stats.FailedImages, stats.TotalObjects, stats.ElapsedSeconds)

	if err := ctx.Err(); err != nil {
		err = fmt.Errorf("load of %s interrupted: %w", dir, err)
		tracing.RecordError(span, err)
		return stats, err
	}
	return stats, nil
}

// ingest runs the region pipeline on one file and stores the image with
// its regions. Images without regions are not stored.
func (e *Engine) ingest(ctx context.Context, path string, threshold float64) (int, error) {
	regions, err := e.loadPipeline.ProcessImage(ctx, path, threshold)
	if err != nil {
		log.Printf("engine: failed to process %s: %v", path, err)
		return 0, err
	}
	if len(regions) == 0 {
		return 0, nil
	}

	imageID, err := e.store.InsertImage(ctx, filepath.Base(path), path, imageMeta(path))
	if err != nil {
		log.Printf("engine: failed to store image %s: %v", path, err)
		return 0, err
	}

	inserted := 0
	for _, region := range regions {
		if _, err := e.store.InsertObject(ctx, imageID, region); err != nil {
			log.Printf("engine: failed to store object of %s: %v", path, err)
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

func imageMeta(path string) *database.ImageMeta {
	meta, err := media.ReadMetadata(path)
	if err != nil {
		log.Printf("engine: metadata unavailable for %s: %v", path, err)
		return nil
	}
	return &database.ImageMeta{Width: meta.Width, Height: meta.Height, TakenAt: meta.TakenAt}
}

// QueryObject uses the first target object found in the image at path as
// the query and returns the stored objects that match it, best first. An
// unreadable image or one without a usable region gives an empty result.
func (e *Engine) QueryObject(ctx context.Context, path string, opts QueryOptions) ([]MatchResult, error) {
	ctx, span := tracing.StartQuerySpan(ctx, path, e.strategy.Name())
	defer span.End()

	results := []MatchResult{}
	regions, err := e.queryPipeline.ProcessImage(ctx, path, opts.Threshold)
	if err != nil {
		if pipeline.IsDecodeError(err) {
			return results, nil
		}
		tracing.RecordError(span, err)
		return nil, err
	}
	if len(regions) == 0 {
		log.Printf("engine: no %s detected in query image %s", e.targetClass, path)
		return results, nil
	}
	query := regions[0]
	if signature.IsEmpty(query.Signature) {
		log.Printf("engine: query object in %s has no features", path)
		return results, nil
	}

	bound, ok, err := e.store.BoundStrategy(ctx)
	if err != nil {
		return nil, err
	}
	if ok && bound != e.strategy.Name() {
		err := &database.StoreError{Op: "query", Err: fmt.Errorf("%w: store uses %q, engine uses %q", database.ErrStrategyMismatch, bound, e.strategy.Name())}
		tracing.RecordError(span, err)
		return nil, err
	}

	candidates, err := e.store.ListObjects(ctx, database.ObjectFilter{
		Class:            opts.ClassFilter,
		MinSignatureSize: e.strategy.MinSignatureSize(),
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	matcher := e.strategy.Matcher(opts.MinSimilarity)
	for _, c := range candidates {
		sig, err := signature.Decode(e.strategy.Kind(), c.Signature)
		if err != nil {
			log.Printf("engine: skipping object %d: %v", c.ID, err)
			continue
		}
		if signature.IsEmpty(sig) {
			continue
		}
		score := matcher.Match(query.Signature, sig)
		if !score.Accepted {
			continue
		}
		results = append(results, newMatchResult(c, score))
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].SimilarityScore > results[j].SimilarityScore
	})
	if opts.TopK > 0 && len(results) > opts.TopK {
		results = results[:opts.TopK]
	}

	tracing.RecordQueryResult(span, len(candidates), len(results))
	log.Printf("engine: query %s matched %d of %d candidates", filepath.Base(path), len(results), len(candidates))
	return results, nil
}

func newMatchResult(obj database.Object, score matching.Score) MatchResult {
	return MatchResult{
		ObjectID:         obj.ID,
		SimilarityScore:  score.Similarity,
		NormalizedScore:  score.Normalized,
		MatchesCount:     score.MatchesCount,
		ObjectClass:      obj.ObjectClass,
		Confidence:       obj.Confidence,
		BBox:             obj.BBox,
		OriginalFilename: obj.ImageFilename,
		OriginalFilepath: obj.ImagePath,
		ObjectImagePath:  obj.ObjectImagePath,
		SignatureSize:    obj.SignatureSize,
	}
}

// GetStats reports store statistics together with the engine setup.
func (e *Engine) GetStats(ctx context.Context) (Stats, error) {
	dbStats, err := e.store.AggregateStats(ctx)
	if err != nil {
		return Stats{}, err
	}
	bound, _, err := e.store.BoundStrategy(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		DatabaseStats:       dbStats,
		TargetClass:         e.targetClass,
		Strategy:            string(e.strategy.Kind()),
		FeatureExtractor:    e.strategy.Name(),
		BoundExtractor:      bound,
		Accelerated:         e.strategy.Accelerated(),
		ImagesDir:           e.dirs.Images,
		ExtractedObjectsDir: e.dirs.ExtractedObjects,
		QueryObjectsDir:     e.dirs.QueryObjects,
	}, nil
}

// ListObjects returns one page of stored objects and the total matching
// the filter.
func (e *Engine) ListObjects(ctx context.Context, f database.ObjectFilter) ([]database.Object, int64, error) {
	objects, err := e.store.ListObjects(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	total, err := e.store.CountObjects(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	return objects, total, nil
}

func (e *Engine) GetObject(ctx context.Context, id int64) (database.Object, error) {
	return e.store.GetObject(ctx, id)
}

// Reset empties the store, its strategy binding and the cropped region
// directories.
func (e *Engine) Reset(ctx context.Context) error {
	if err := e.store.Reset(ctx); err != nil {
		return err
	}
	for _, assetType := range []media.AssetType{media.AssetTypeObject, media.AssetTypeQuery} {
		if err := e.storage.Clear(assetType); err != nil {
			return fmt.Errorf("clearing %s assets: %w", assetType, err)
		}
	}
	log.Printf("engine: store reset")
	return nil
}
