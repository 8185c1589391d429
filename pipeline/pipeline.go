// Package pipeline turns one source image into the object regions that get
// stored or used as a query.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"

	"go.opentelemetry.io/otel/attribute"

	"github.com/camden-git/objectmatch/detection"
	"github.com/camden-git/objectmatch/features"
	"github.com/camden-git/objectmatch/media"
	"github.com/camden-git/objectmatch/models"
	"github.com/camden-git/objectmatch/tracing"
)

// ImageDecodeError reports a source file that could not be read as an image.
type ImageDecodeError struct {
	Path string
	Err  error
}

func (e *ImageDecodeError) Error() string {
	return fmt.Sprintf("cannot decode image %s: %v", e.Path, e.Err)
}

func (e *ImageDecodeError) Unwrap() error {
	return e.Err
}

// Extraction is the part of a matching strategy the pipeline depends on.
type Extraction interface {
	features.Extractor
	// MinRegionSize is the smallest width and height a region may have
	// before extraction; 0 disables the check.
	MinRegionSize() int
	// KeepOnExtractionFailure reports whether a region whose extraction
	// failed is kept without a signature (true) or dropped (false).
	KeepOnExtractionFailure() bool
}

// RegionSaver persists a cropped region and returns where it was written.
type RegionSaver interface {
	SaveRegion(region image.Image, filename string) (string, error)
}

type Pipeline struct {
	detector    *detection.Adapter
	extraction  Extraction
	saver       RegionSaver
	targetClass string
}

func New(detector *detection.Adapter, extraction Extraction, saver RegionSaver, targetClass string) *Pipeline {
	return &Pipeline{
		detector:    detector,
		extraction:  extraction,
		saver:       saver,
		targetClass: targetClass,
	}
}

func (p *Pipeline) TargetClass() string {
	return p.targetClass
}

// ProcessImage detects target objects in the image at path, crops and
// signs each one and saves the crop. An unreadable file is logged and
// reported as *ImageDecodeError with no regions; a detector failure is
// returned as *detection.DetectionError.
func (p *Pipeline) ProcessImage(ctx context.Context, path string, threshold float64) ([]models.Region, error) {
	ctx, span := tracing.StartImageSpan(ctx, path)
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := media.DecodeImage(path)
	if err != nil {
		decodeErr := &ImageDecodeError{Path: path, Err: err}
		log.Printf("pipeline: %v", decodeErr)
		tracing.RecordError(span, decodeErr)
		return nil, decodeErr
	}

	detections, err := p.detector.Detect(img, threshold, p.targetClass)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	regions := make([]models.Region, 0, len(detections))
	for _, det := range detections {
		crop, err := media.Crop(img, det.Box)
		if err != nil {
			log.Printf("pipeline: skipping detection %d in %s: %v", det.Index, path, err)
			continue
		}

		if minSize := p.extraction.MinRegionSize(); minSize > 0 {
			b := crop.Bounds()
			if b.Dx() < minSize || b.Dy() < minSize {
				continue
			}
		}

		sig, err := p.extraction.Extract(crop)
		if err != nil {
			if !p.extraction.KeepOnExtractionFailure() {
				log.Printf("pipeline: dropping detection %d in %s: %v", det.Index, path, err)
				continue
			}
			log.Printf("pipeline: keeping detection %d in %s without signature: %v", det.Index, path, err)
			sig = nil
		}

		filename := media.RegionFilename(path, det.Index, det.Confidence)
		savedPath, err := p.saver.SaveRegion(crop, filename)
		if err != nil {
			return nil, fmt.Errorf("saving region %s: %w", filename, err)
		}

		regions = append(regions, models.Region{
			ObjectClass:     det.Label,
			Confidence:      det.Confidence,
			BBox:            models.BBoxFromRect(media.ClampRect(det.Box, img.Bounds())),
			ObjectImagePath: savedPath,
			Signature:       sig,
		})
	}

	span.SetAttributes(attribute.Int("image.regions", len(regions)))
	return regions, nil
}

// IsDecodeError reports whether err came from an unreadable source image.
func IsDecodeError(err error) bool {
	var decodeErr *ImageDecodeError
	return errors.As(err, &decodeErr)
}
