package media

import (
	"fmt"
	"image"
	"io"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

const RegionJpegQuality = 95

// Processor crops detected regions and writes them through a Store under
// one asset type.
type Processor struct {
	store     Store
	assetType AssetType
}

func NewProcessor(store Store, assetType AssetType) *Processor {
	return &Processor{store: store, assetType: assetType}
}

// RegionFilename builds the file name of the index-th accepted region of the
// image at sourcePath: {stem}_obj_{index:03d}_conf{confidence:.2f}.jpg
func RegionFilename(sourcePath string, index int, confidence float64) string {
	base := filepath.Base(sourcePath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return fmt.Sprintf("%s_obj_%03d_conf%.2f.jpg", stem, index, confidence)
}

// ClampRect intersects r with the image bounds. The result is empty when
// the box lies outside the image or has no area.
func ClampRect(r image.Rectangle, bounds image.Rectangle) image.Rectangle {
	return r.Canon().Intersect(bounds)
}

// Crop returns the pixels of img inside r, clamped to the image bounds, with
// the result's origin at (0,0).
func Crop(img image.Image, r image.Rectangle) (image.Image, error) {
	clamped := ClampRect(r, img.Bounds())
	if clamped.Empty() {
		return nil, fmt.Errorf("crop box %v is outside image bounds %v", r, img.Bounds())
	}
	return imaging.Crop(img, clamped), nil
}

// SaveRegion encodes region as JPEG into the processor's asset directory
// and returns the absolute path written.
func (p *Processor) SaveRegion(region image.Image, filename string) (string, error) {
	reader, writer := io.Pipe()
	go func() {
		err := imaging.Encode(writer, region, imaging.JPEG, imaging.JPEGQuality(RegionJpegQuality))
		if err != nil {
			writer.CloseWithError(fmt.Errorf("region encoding failed: %w", err))
			return
		}
		writer.Close()
	}()

	savedPath, err := p.store.Save(p.assetType, "", filename, reader)
	reader.Close()
	if err != nil {
		return "", fmt.Errorf("failed to save region via store: %w", err)
	}
	return savedPath, nil
}
