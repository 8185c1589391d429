package config

import (
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultExtractedObjectsSubDir = "extracted_objects"
	DefaultQueryObjectsSubDir     = "query_objects"
	DefaultUploadsSubDir          = "uploads"
)

const (
	defaultConfidence    = 0.5
	defaultMinSimilarity = 0.5
	defaultTopK          = 10
	defaultWorkers       = 4
	defaultTaskQueueSize = 16
	defaultTaskWorkers   = 1
	defaultSampleRate    = 1.0
)

// ConfigFileEnv names an optional config file (yaml, toml or json) read
// before the environment.
const ConfigFileEnv = "OBJECTMATCH_CONFIG"

type Config struct {
	// feature store
	DatabasePath string

	// default directory scanned by load requests
	ImagesDir string

	// generated assets: cropped regions, query crops and unpacked uploads
	StoragePath          string
	ExtractedObjectsPath string
	QueryObjectsPath     string
	UploadsPath          string

	// detection and matching
	TargetClass        string
	Strategy           string
	EmbeddingModel     string
	DetectorModelPath  string
	DetectorLabelsPath string
	EmbeddingModelPath string
	Confidence         float64
	MinSimilarity      float64
	TopK               int

	// worker settings
	Workers       int
	TaskQueueSize int
	TaskWorkers   int

	// HTTP
	Port           string
	CORSOrigins    []string
	AdminTokenHash string
	JWTSecret      string

	// tracing
	OTLPEndpoint    string
	TraceSampleRate float64
}

var defaults = map[string]any{
	"DATABASE_PATH":         "objects.db",
	"IMAGES_DIR":            "images",
	"STORAGE_DIR":           "data",
	"EXTRACTED_OBJECTS_DIR": DefaultExtractedObjectsSubDir,
	"QUERY_OBJECTS_DIR":     DefaultQueryObjectsSubDir,
	"UPLOADS_DIR":           DefaultUploadsSubDir,
	"TARGET_CLASS":          "clipper",
	"STRATEGY":              "sift",
	"EMBEDDING_MODEL":       "dinov2_vits14",
	"DETECTOR_MODEL_PATH":   "./models/best.onnx",
	"DETECTOR_LABELS_PATH":  "./models/labels.txt",
	"EMBEDDING_MODEL_PATH":  "./models/dinov2_vits14.onnx",
	"CONFIDENCE":            defaultConfidence,
	"MIN_SIMILARITY":        defaultMinSimilarity,
	"TOP_K":                 defaultTopK,
	"WORKERS":               defaultWorkers,
	"TASK_QUEUE_SIZE":       defaultTaskQueueSize,
	"TASK_WORKERS":          defaultTaskWorkers,
	"PORT":                  "8080",
	"CORS_ORIGINS":          "http://localhost:3000",
	"ADMIN_TOKEN_HASH":      "",
	"JWT_SECRET":            "",
	"OTLP_ENDPOINT":         "",
	"TRACE_SAMPLE_RATE":     defaultSampleRate,
}

// flagKeys maps CLI flag names to config keys for BindFlags.
var flagKeys = map[string]string{
	"db":              "DATABASE_PATH",
	"images-dir":      "IMAGES_DIR",
	"storage-dir":     "STORAGE_DIR",
	"class":           "TARGET_CLASS",
	"strategy":        "STRATEGY",
	"model":           "EMBEDDING_MODEL",
	"detector":        "DETECTOR_MODEL_PATH",
	"labels":          "DETECTOR_LABELS_PATH",
	"embedding-model": "EMBEDDING_MODEL_PATH",
	"confidence":      "CONFIDENCE",
	"similarity":      "MIN_SIMILARITY",
	"top-k":           "TOP_K",
	"workers":         "WORKERS",
	"otlp-endpoint":   "OTLP_ENDPOINT",
}

// New returns a viper instance layered as defaults, then the optional file
// named by OBJECTMATCH_CONFIG, then environment variables.
func New() (*viper.Viper, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()

	v.SetDefault(ConfigFileEnv, "")
	if path := v.GetString(ConfigFileEnv); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		log.Printf("config: loaded %s", path)
	}
	return v, nil
}

// BindFlags lets any flag of fs listed in flagKeys override its key. Flags
// that fs does not define are ignored.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("binding flag --%s: %w", name, err)
		}
	}
	return nil
}

func LoadConfig() (Config, error) {
	v, err := New()
	if err != nil {
		return Config{}, err
	}
	return FromViper(v)
}

// FromViper resolves v into a Config with absolute paths. Invalid numbers
// log a warning and fall back to their default.
func FromViper(v *viper.Viper) (Config, error) {
	absPath := func(key string) (string, error) {
		p := v.GetString(key)
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path for %s '%s': %w", key, p, err)
		}
		return abs, nil
	}

	dbPath, err := absPath("DATABASE_PATH")
	if err != nil {
		return Config{}, err
	}
	imagesDir, err := absPath("IMAGES_DIR")
	if err != nil {
		return Config{}, err
	}
	storage, err := absPath("STORAGE_DIR")
	if err != nil {
		return Config{}, err
	}

	strategy := strings.ToLower(v.GetString("STRATEGY"))
	if strategy != "sift" && strategy != "dinov2" {
		return Config{}, fmt.Errorf("invalid STRATEGY '%s': expected sift or dinov2", strategy)
	}

	cfg := Config{
		DatabasePath:         dbPath,
		ImagesDir:            imagesDir,
		StoragePath:          storage,
		ExtractedObjectsPath: filepath.Join(storage, filepath.Base(v.GetString("EXTRACTED_OBJECTS_DIR"))),
		QueryObjectsPath:     filepath.Join(storage, filepath.Base(v.GetString("QUERY_OBJECTS_DIR"))),
		UploadsPath:          filepath.Join(storage, filepath.Base(v.GetString("UPLOADS_DIR"))),
		TargetClass:          v.GetString("TARGET_CLASS"),
		Strategy:             strategy,
		EmbeddingModel:       v.GetString("EMBEDDING_MODEL"),
		DetectorModelPath:    v.GetString("DETECTOR_MODEL_PATH"),
		DetectorLabelsPath:   v.GetString("DETECTOR_LABELS_PATH"),
		EmbeddingModelPath:   v.GetString("EMBEDDING_MODEL_PATH"),
		Confidence:           unitFloat(v, "CONFIDENCE", defaultConfidence),
		MinSimilarity:        unitFloat(v, "MIN_SIMILARITY", defaultMinSimilarity),
		TopK:                 positiveInt(v, "TOP_K", defaultTopK),
		Workers:              positiveInt(v, "WORKERS", defaultWorkers),
		TaskQueueSize:        positiveInt(v, "TASK_QUEUE_SIZE", defaultTaskQueueSize),
		TaskWorkers:          positiveInt(v, "TASK_WORKERS", defaultTaskWorkers),
		Port:                 v.GetString("PORT"),
		CORSOrigins:          splitList(v.GetString("CORS_ORIGINS")),
		AdminTokenHash:       v.GetString("ADMIN_TOKEN_HASH"),
		JWTSecret:            v.GetString("JWT_SECRET"),
		OTLPEndpoint:         v.GetString("OTLP_ENDPOINT"),
		TraceSampleRate:      unitFloat(v, "TRACE_SAMPLE_RATE", defaultSampleRate),
	}
	return cfg, nil
}

func positiveInt(v *viper.Viper, key string, defaultVal int) int {
	valStr := v.GetString(key)
	val, err := strconv.Atoi(strings.TrimSpace(valStr))
	if err != nil || val <= 0 {
		log.Printf("config: invalid %s '%s', using default %d", key, valStr, defaultVal)
		return defaultVal
	}
	return val
}

func unitFloat(v *viper.Viper, key string, defaultVal float64) float64 {
	valStr := v.GetString(key)
	val, err := strconv.ParseFloat(strings.TrimSpace(valStr), 64)
	if err != nil || val < 0 || val > 1 {
		log.Printf("config: invalid %s '%s', using default %.2f", key, valStr, defaultVal)
		return defaultVal
	}
	return val
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
