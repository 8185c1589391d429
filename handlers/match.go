package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/camden-git/objectmatch/config"
	"github.com/camden-git/objectmatch/database"
	"github.com/camden-git/objectmatch/features"
	"github.com/camden-git/objectmatch/matching"
	"github.com/camden-git/objectmatch/media"
	"github.com/camden-git/objectmatch/services"
	"github.com/camden-git/objectmatch/signature"
	"github.com/camden-git/objectmatch/utils"
	"github.com/camden-git/objectmatch/workers"
)

const (
	maxUploadMemory     = 32 << 20
	defaultObjectsLimit = 100
	maxObjectsLimit     = 1000
)

// Engines hands out the engine for a target class and strategy.
type Engines interface {
	Get(key services.EngineKey) (*services.Engine, error)
}

// MatchHandler serves loading, querying and inspecting the feature store.
// Requests may pick a non-default engine with the target_class, strategy
// and model parameters.
type MatchHandler struct {
	Engines  Engines
	Defaults services.EngineKey
	Tasks    *workers.TaskManager
	Storage  media.Store
	Cfg      config.Config
}

type LoadDirectoryRequest struct {
	Directory  string   `json:"directory"`
	Confidence *float64 `json:"confidence,omitempty"`
	Workers    *int     `json:"workers,omitempty"`
}

type TaskAccepted struct {
	TaskID    string             `json:"task_id"`
	Status    workers.TaskStatus `json:"status"`
	Message   string             `json:"message"`
	StatusURL string             `json:"status_url"`
}

type QueryResponse struct {
	QueryImage   string                 `json:"query_image"`
	MatchesFound int                    `json:"matches_found"`
	Results      []services.MatchResult `json:"results"`
}

type ObjectsResponse struct {
	Objects []database.Object `json:"objects"`
	Total   int64             `json:"total"`
	Limit   int               `json:"limit"`
	Offset  int               `json:"offset"`
	HasMore bool              `json:"has_more"`
}

func (h *MatchHandler) engineFor(w http.ResponseWriter, r *http.Request) (*services.Engine, bool) {
	key := h.Defaults
	if v := strings.TrimSpace(r.FormValue("target_class")); v != "" {
		key.TargetClass = v
	}
	if v := strings.TrimSpace(r.FormValue("strategy")); v != "" {
		key.Strategy = strings.ToLower(v)
	}
	if v := strings.TrimSpace(r.FormValue("model")); v != "" {
		key.Model = v
	}
	if key.Strategy == matching.StrategySIFT {
		key.Model = ""
	}

	engine, err := h.Engines.Get(key)
	if err != nil {
		log.Printf("handlers: engine %s unavailable: %v", key, err)
		WriteAPIError(w, http.StatusServiceUnavailable, CodeEngineUnavailable, err.Error())
		return nil, false
	}
	return engine, true
}

func formFloat(r *http.Request, key string, def float64) (float64, error) {
	raw := strings.TrimSpace(r.FormValue(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || v > 1 {
		return 0, fmt.Errorf("%s must be a number between 0 and 1", key)
	}
	return v, nil
}

func formInt(r *http.Request, key string, def int) (int, error) {
	raw := strings.TrimSpace(r.FormValue(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return v, nil
}

func (h *MatchHandler) submitLoad(w http.ResponseWriter, engine *services.Engine, kind, dir string, confidence float64, numWorkers int, message string) {
	task, err := h.Tasks.Submit(kind, message, func(ctx context.Context, progress workers.ProgressFunc) (any, error) {
		stats, err := engine.LoadDatabase(ctx, dir, confidence, numWorkers, services.WithProgress(progress))
		if err != nil {
			return nil, err
		}
		return stats, nil
	})
	if err != nil {
		writeError(w, "submitting load task", err)
		return
	}
	writeJSON(w, http.StatusAccepted, TaskAccepted{
		TaskID:    task.ID,
		Status:    task.Status,
		Message:   message,
		StatusURL: "/api/tasks/" + task.ID,
	})
}

// LoadDirectory handles POST /load/directory.
func (h *MatchHandler) LoadDirectory(w http.ResponseWriter, r *http.Request) {
	var req LoadDirectoryRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request payload: "+err.Error())
			return
		}
	}

	dir := req.Directory
	if dir == "" {
		dir = h.Cfg.ImagesDir
	}
	confidence := h.Cfg.Confidence
	if req.Confidence != nil {
		if *req.Confidence < 0 || *req.Confidence > 1 {
			WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "confidence must be between 0 and 1")
			return
		}
		confidence = *req.Confidence
	}
	numWorkers := h.Cfg.Workers
	if req.Workers != nil && *req.Workers > 0 {
		numWorkers = *req.Workers
	}

	if stat, err := os.Stat(dir); err != nil || !stat.IsDir() {
		WriteAPIError(w, http.StatusNotFound, CodeNotFound, "Images directory not found")
		return
	}

	engine, ok := h.engineFor(w, r)
	if !ok {
		return
	}
	h.submitLoad(w, engine, "load_directory", dir, confidence, numWorkers, "Loading images from "+dir)
}

// LoadZip handles POST /load/zip with a multipart "file" archive.
func (h *MatchHandler) LoadZip(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid multipart form: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Missing file field")
		return
	}
	defer file.Close()
	if !strings.EqualFold(filepath.Ext(header.Filename), ".zip") {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Only ZIP files are supported")
		return
	}

	confidence, err := formFloat(r, "confidence", h.Cfg.Confidence)
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	numWorkers, err := formInt(r, "workers", h.Cfg.Workers)
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	engine, ok := h.engineFor(w, r)
	if !ok {
		return
	}

	batchID := uuid.NewString()
	zipPath, err := h.Storage.Save(media.AssetTypeUpload, "", batchID+".zip", file)
	if err != nil {
		writeError(w, "saving upload", err)
		return
	}
	defer os.Remove(zipPath)

	extractDir := filepath.Join(filepath.Dir(zipPath), batchID)
	images, err := utils.ExtractImagesFromZip(zipPath, extractDir)
	if err != nil {
		os.RemoveAll(extractDir)
		if errors.Is(err, utils.ErrNoImagesInArchive) {
			WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "No image files found in zip")
			return
		}
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid zip archive")
		log.Printf("handlers: extracting %s: %v", header.Filename, err)
		return
	}

	h.submitLoad(w, engine, "load_zip", extractDir, confidence, numWorkers,
		fmt.Sprintf("Loading %d images from %s", len(images), header.Filename))
}

// Query handles POST /query with a multipart "file" image.
func (h *MatchHandler) Query(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid multipart form: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Missing file field")
		return
	}
	defer file.Close()
	if !media.IsRasterImage(header.Filename) {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Unsupported image format")
		return
	}

	opts := services.QueryOptions{ClassFilter: strings.TrimSpace(r.FormValue("object_class"))}
	if opts.Threshold, err = formFloat(r, "confidence", h.Cfg.Confidence); err == nil {
		if opts.MinSimilarity, err = formFloat(r, "min_similarity", h.Cfg.MinSimilarity); err == nil {
			opts.TopK, err = formInt(r, "top_k", h.Cfg.TopK)
		}
	}
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	engine, ok := h.engineFor(w, r)
	if !ok {
		return
	}

	name := "query_" + uuid.NewString() + strings.ToLower(filepath.Ext(header.Filename))
	queryPath, err := h.Storage.Save(media.AssetTypeUpload, "", name, file)
	if err != nil {
		writeError(w, "saving upload", err)
		return
	}
	defer os.Remove(queryPath)

	results, err := engine.QueryObject(r.Context(), queryPath, opts)
	if err != nil {
		writeError(w, "query", err)
		return
	}
	if results == nil {
		results = []services.MatchResult{}
	}
	writeJSON(w, http.StatusOK, QueryResponse{
		QueryImage:   header.Filename,
		MatchesFound: len(results),
		Results:      results,
	})
}

// Stats handles GET /stats.
func (h *MatchHandler) Stats(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engineFor(w, r)
	if !ok {
		return
	}
	stats, err := engine.GetStats(r.Context())
	if err != nil {
		writeError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ListObjects handles GET /database/objects.
func (h *MatchHandler) ListObjects(w http.ResponseWriter, r *http.Request) {
	minSize, err := formInt(r, "min_signature_size", 0)
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	limit, err := formInt(r, "limit", defaultObjectsLimit)
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	if limit == 0 || limit > maxObjectsLimit {
		limit = maxObjectsLimit
	}
	offset, err := formInt(r, "offset", 0)
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	engine, ok := h.engineFor(w, r)
	if !ok {
		return
	}

	objects, total, err := engine.ListObjects(r.Context(), database.ObjectFilter{
		Class:            strings.TrimSpace(r.FormValue("object_class")),
		MinSignatureSize: minSize,
		Limit:            limit,
		Offset:           offset,
	})
	if err != nil {
		writeError(w, "listing objects", err)
		return
	}
	if objects == nil {
		objects = []database.Object{}
	}
	writeJSON(w, http.StatusOK, ObjectsResponse{
		Objects: objects,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: int64(offset+len(objects)) < total,
	})
}

// ObjectImage handles GET /database/objects/{object_id}/image.
func (h *MatchHandler) ObjectImage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "object_id"), 10, 64)
	if err != nil || id <= 0 {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid object id")
		return
	}
	engine, ok := h.engineFor(w, r)
	if !ok {
		return
	}
	obj, err := engine.GetObject(r.Context(), id)
	if err != nil {
		writeError(w, "getting object", err)
		return
	}

	reader, info, err := h.Storage.Open(obj.ObjectImagePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			WriteAPIError(w, http.StatusNotFound, CodeNotFound, "Object image file not found")
			return
		}
		writeError(w, "opening object image", err)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=\"object_%d.jpg\"", id))
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	if _, err := io.Copy(w, reader); err != nil {
		log.Printf("handlers: streaming object %d image: %v", id, err)
	}
}

// Clear handles DELETE /database/clear.
func (h *MatchHandler) Clear(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engineFor(w, r)
	if !ok {
		return
	}
	if err := engine.Reset(r.Context()); err != nil {
		writeError(w, "clearing database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Database cleared successfully"})
}

// Models handles GET /models.
func (h *MatchHandler) Models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"strategies":       []string{matching.StrategySIFT, matching.StrategyDINOv2},
		"default_strategy": h.Defaults.Strategy,
		"embedding_models": features.EmbeddingModels(),
		"default_model":    features.DefaultEmbeddingModel,
		"sift_features":    features.SIFTFeatures,
		"descriptor_dim":   signature.DescriptorDim,
	})
}

// Classes handles GET /classes.
func (h *MatchHandler) Classes(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engineFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"available_classes": engine.Labels(),
		"target_class":      engine.TargetClass(),
	})
}

// Health handles GET /health.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "timestamp": time.Now()})
}
