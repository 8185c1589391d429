// Package features computes signatures for cropped object regions.
package features

import (
	"errors"
	"image"

	"github.com/camden-git/objectmatch/signature"
)

var (
	ErrRegionTooSmall = errors.New("region below minimum size")
	ErrEmptyOutput    = errors.New("extractor produced no features")
)

// Extractor turns one region image into a signature. Errors are soft: the
// pipeline decides whether the region survives without a signature.
type Extractor interface {
	Extract(img image.Image) (signature.Signature, error)
	// Name identifies the extractor and its model variant.
	Name() string
}
