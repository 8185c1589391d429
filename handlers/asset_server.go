package handlers

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// AssetServer serves the cropped region images under assetDir. It is
// mounted on a wildcard route and reads the relative path from the "*"
// URL parameter:
//
//	r.Get("/assets/objects/*", AssetServer(cfg.ExtractedObjectsPath))
func AssetServer(assetDir string) http.HandlerFunc {
	fullAssetDirPath := filepath.Clean(assetDir)
	log.Printf("handlers: serving assets from %s", fullAssetDirPath)

	return func(w http.ResponseWriter, r *http.Request) {
		relativePath := chi.URLParam(r, "*")
		if relativePath == "" || strings.Contains(relativePath, "..") {
			WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid asset path")
			return
		}

		cleanedAssetPath := filepath.Clean(filepath.Join(fullAssetDirPath, relativePath))
		if !strings.HasPrefix(cleanedAssetPath, fullAssetDirPath+string(filepath.Separator)) {
			WriteAPIError(w, http.StatusForbidden, CodeUnauthorized, "Forbidden")
			log.Printf("handlers: asset access outside %s: %s", fullAssetDirPath, r.URL.Path)
			return
		}

		if stat, err := os.Stat(cleanedAssetPath); os.IsNotExist(err) || (err == nil && stat.IsDir()) {
			WriteAPIError(w, http.StatusNotFound, CodeNotFound, "asset not found")
			return
		} else if err != nil {
			writeError(w, "stat asset", err)
			return
		}

		cacheDuration := 24 * time.Hour
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(cacheDuration.Seconds())))
		w.Header().Set("Expires", time.Now().Add(cacheDuration).Format(http.TimeFormat))

		http.ServeFile(w, r, cleanedAssetPath)
	}
}
