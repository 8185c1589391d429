package models

import (
	"image"

	"github.com/camden-git/objectmatch/signature"
)

// BBox is an axis-aligned box in source image pixels, X1<X2 and Y1<Y2.
type BBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

func BBoxFromRect(r image.Rectangle) BBox {
	return BBox{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y}
}

func (b BBox) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

func (b BBox) Width() int  { return b.X2 - b.X1 }
func (b BBox) Height() int { return b.Y2 - b.Y1 }

// Region is a detected, accepted object that has not been persisted yet.
// Signature is nil when extraction failed and the strategy keeps the object.
type Region struct {
	ObjectClass     string
	Confidence      float64
	BBox            BBox
	ObjectImagePath string
	Signature       signature.Signature
}

// SignatureSize returns the persisted size indicator for r.
func (r Region) SignatureSize() int {
	if signature.IsEmpty(r.Signature) {
		return 0
	}
	return r.Signature.Size()
}
