package media

import (
	"fmt"
	"image"
	"io"
	"log"
	"os"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
)

// helper to safely get a string tag, trimming null terminators and quotes
func getString(exifData *exif.Exif, tagName exif.FieldName) *string {
	tag, err := exifData.Get(tagName)
	if err != nil || tag == nil {
		return nil
	}
	val, err := tag.StringVal()
	if err != nil {
		val = strings.Trim(tag.String(), `"`)
	}
	val = strings.TrimRight(val, "\x00")
	if val == "" {
		return nil
	}
	return &val
}

// ReadMetadata returns the dimensions of an image and, when present, its
// camera and capture time EXIF fields. Missing EXIF is not an error.
func ReadMetadata(filePath string) (*Metadata, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("metadata: failed to open file %s: %w", filePath, err)
	}
	defer file.Close()

	meta := &Metadata{}
	if cfg, _, err := image.DecodeConfig(file); err == nil {
		w, h := cfg.Width, cfg.Height
		meta.Width, meta.Height = &w, &h
	} else {
		log.Printf("metadata: could not decode dimensions of %s: %v", filePath, err)
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("metadata: failed to seek file %s: %w", filePath, err)
	}

	exifData, err := exif.Decode(file)
	if err != nil {
		// most PNG/WebP/BMP inputs carry no EXIF block
		return meta, nil
	}
	meta.CameraMake = getString(exifData, exif.Make)
	meta.CameraModel = getString(exifData, exif.Model)
	if dt, err := exifData.DateTime(); err == nil {
		ts := dt.Unix()
		meta.TakenAt = &ts
	}
	return meta, nil
}
