package media

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Store saves and serves generated assets such as cropped object regions.
type Store interface {
	// Save writes data to filename inside the asset type's directory, under
	// the optional relativeDirHint, and returns the absolute path written.
	Save(assetType AssetType, relativeDirHint string, filename string, data io.Reader) (string, error)
	// Open returns a reader for an absolute path inside the store.
	Open(fullPath string) (io.ReadCloser, os.FileInfo, error)
	// Clear removes every file of an asset type and recreates its directory.
	Clear(assetType AssetType) error
	// EnsureDir makes sure a specific asset type directory exists.
	EnsureDir(assetType AssetType) (string, error)
}

// LocalStorage implements Store on the local filesystem.
type LocalStorage struct {
	basePath        string
	resolvedPathMap map[AssetType]string
}

// NewLocalStorage maps each asset type to a subdirectory of basePath.
func NewLocalStorage(basePath string, subDirs map[AssetType]string) (*LocalStorage, error) {
	absBasePath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("invalid base storage path '%s': %w", basePath, err)
	}
	if err := os.MkdirAll(absBasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base storage directory '%s': %w", absBasePath, err)
	}

	resolved := make(map[AssetType]string, len(subDirs))
	for assetType, subDir := range subDirs {
		fullPath := filepath.Join(absBasePath, subDir)
		if !within(absBasePath, fullPath) {
			return nil, fmt.Errorf("invalid subdirectory configuration: '%s' resolves outside base path '%s'", subDir, absBasePath)
		}
		resolved[assetType] = fullPath
	}

	log.Printf("media.store: initialized LocalStorage at %s", absBasePath)
	return &LocalStorage{basePath: absBasePath, resolvedPathMap: resolved}, nil
}

func within(base, path string) bool {
	rel, err := filepath.Rel(base, filepath.Clean(path))
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Dir returns the absolute directory for an asset type without creating it.
func (ls *LocalStorage) Dir(assetType AssetType) (string, error) {
	dirPath, ok := ls.resolvedPathMap[assetType]
	if !ok {
		return "", fmt.Errorf("asset type '%s' is not configured", assetType)
	}
	return dirPath, nil
}

func (ls *LocalStorage) EnsureDir(assetType AssetType) (string, error) {
	dirPath, err := ls.Dir(assetType)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return "", fmt.Errorf("failed to ensure directory '%s': %w", dirPath, err)
	}
	return dirPath, nil
}

func (ls *LocalStorage) Save(assetType AssetType, relativeDirHint string, filename string, data io.Reader) (string, error) {
	baseAssetDir, err := ls.EnsureDir(assetType)
	if err != nil {
		return "", err
	}
	if filename == "" || filename != filepath.Base(filename) {
		return "", fmt.Errorf("invalid asset filename '%s'", filename)
	}

	targetDir := baseAssetDir
	if relativeDirHint != "" {
		targetDir = filepath.Join(baseAssetDir, relativeDirHint)
		if !within(baseAssetDir, targetDir) {
			return "", fmt.Errorf("invalid relative directory hint '%s'", relativeDirHint)
		}
		if err := os.MkdirAll(targetDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create sub-directory '%s': %w", targetDir, err)
		}
	}

	fullSavePath := filepath.Join(targetDir, filename)
	outFile, err := os.Create(fullSavePath)
	if err != nil {
		return "", fmt.Errorf("failed to create destination file '%s': %w", fullSavePath, err)
	}
	defer outFile.Close()

	if _, err := io.Copy(outFile, data); err != nil {
		outFile.Close()
		os.Remove(fullSavePath)
		return "", fmt.Errorf("failed to write data to '%s': %w", fullSavePath, err)
	}
	return fullSavePath, nil
}

// Open only serves files that live under the storage root.
func (ls *LocalStorage) Open(fullPath string) (io.ReadCloser, os.FileInfo, error) {
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get absolute path for '%s': %w", fullPath, err)
	}
	if !within(ls.basePath, absPath) {
		return nil, nil, fmt.Errorf("invalid path: access denied for '%s'", fullPath)
	}

	file, err := os.Open(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("asset not found at '%s': %w", fullPath, err)
		}
		return nil, nil, fmt.Errorf("failed to open asset '%s': %w", fullPath, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("failed to stat asset '%s': %w", fullPath, err)
	}
	return file, info, nil
}

func (ls *LocalStorage) Clear(assetType AssetType) error {
	dirPath, err := ls.Dir(assetType)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dirPath); err != nil {
		return fmt.Errorf("failed to clear '%s': %w", dirPath, err)
	}
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return fmt.Errorf("failed to recreate '%s': %w", dirPath, err)
	}
	log.Printf("media.store: cleared %s", dirPath)
	return nil
}
