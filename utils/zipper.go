package utils

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/facette/natsort"

	"github.com/camden-git/objectmatch/media"
)

var ErrNoImagesInArchive = errors.New("no image files found in archive")

// ExtractImagesFromZip copies every supported image in the archive at
// zipPath into destDir, flattening directories. Entries that would escape
// the archive root, hidden files and non-images are skipped. Clashing base
// names get a numeric suffix. The extracted paths are returned in natural
// order.
func ExtractImagesFromZip(zipPath, destDir string) ([]string, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open zip %s: %w", zipPath, err)
	}
	defer reader.Close()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create extraction directory %s: %w", destDir, err)
	}

	used := make(map[string]bool)
	var extracted []string
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		name := strings.ReplaceAll(entry.Name, "\\", "/")
		cleaned := path.Clean("/" + name)
		if cleaned != "/"+strings.TrimPrefix(name, "/") || strings.HasPrefix(name, "/") {
			log.Printf("zipper: skipping unsafe entry %q", entry.Name)
			continue
		}
		base := path.Base(cleaned)
		if strings.HasPrefix(base, ".") || strings.HasPrefix(cleaned, "/__MACOSX/") {
			continue
		}
		if !media.IsRasterImage(base) {
			continue
		}

		target := uniqueName(used, base)
		fullPath := filepath.Join(destDir, target)
		if err := extractEntry(entry, fullPath); err != nil {
			log.Printf("zipper: failed to extract %s: %v. Skipping.", entry.Name, err)
			continue
		}
		extracted = append(extracted, fullPath)
	}

	if len(extracted) == 0 {
		return nil, ErrNoImagesInArchive
	}
	sort.Slice(extracted, func(i, j int) bool {
		return natsort.Compare(filepath.Base(extracted[i]), filepath.Base(extracted[j]))
	})
	log.Printf("zipper: extracted %d images from %s", len(extracted), zipPath)
	return extracted, nil
}

func uniqueName(used map[string]bool, base string) string {
	name := base
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for i := 1; used[strings.ToLower(name)]; i++ {
		name = fmt.Sprintf("%s_%d%s", stem, i, ext)
	}
	used[strings.ToLower(name)] = true
	return name
}

func extractEntry(entry *zip.File, fullPath string) error {
	src, err := entry.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(fullPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(fullPath)
		return err
	}
	return dst.Close()
}
