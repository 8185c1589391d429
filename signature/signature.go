// Package signature holds the per-region feature representations produced by
// the extractors and their BLOB encoding in the feature store.
package signature

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Kind identifies which family of signature a store holds.
type Kind string

const (
	KindDescriptors Kind = "descriptors"
	KindEmbedding   Kind = "embedding"
)

// DescriptorDim is the length of one SIFT descriptor row.
const DescriptorDim = 128

var ErrCorruptBlob = errors.New("signature: corrupt blob")

// Signature is an opaque feature representation for one image region.
// Size is the quality indicator persisted next to the blob: the keypoint
// count for descriptor sets and the dimensionality for embeddings.
type Signature interface {
	Kind() Kind
	Size() int
}

// DescriptorSet is a row-major matrix of local keypoint descriptors.
type DescriptorSet struct {
	Dim  int
	Data []float32
}

// NewDescriptorSet copies rows into a flat descriptor matrix. Every row must
// have the same length.
func NewDescriptorSet(rows [][]float32) (*DescriptorSet, error) {
	if len(rows) == 0 {
		return &DescriptorSet{Dim: DescriptorDim}, nil
	}
	dim := len(rows[0])
	if dim == 0 {
		return nil, fmt.Errorf("signature: descriptor rows must not be empty")
	}
	data := make([]float32, 0, len(rows)*dim)
	for i, r := range rows {
		if len(r) != dim {
			return nil, fmt.Errorf("signature: descriptor row %d has length %d, expected %d", i, len(r), dim)
		}
		data = append(data, r...)
	}
	return &DescriptorSet{Dim: dim, Data: data}, nil
}

func (d *DescriptorSet) Kind() Kind { return KindDescriptors }

// Len returns the number of descriptors (keypoints).
func (d *DescriptorSet) Len() int {
	if d == nil || d.Dim == 0 {
		return 0
	}
	return len(d.Data) / d.Dim
}

func (d *DescriptorSet) Size() int { return d.Len() }

// Row returns the i-th descriptor without copying.
func (d *DescriptorSet) Row(i int) []float32 {
	return d.Data[i*d.Dim : (i+1)*d.Dim]
}

// Embedding is a single dense, L2-normalised feature vector.
type Embedding []float32

func (e Embedding) Kind() Kind { return KindEmbedding }
func (e Embedding) Size() int  { return len(e) }

// IsEmpty reports whether sig carries no usable features.
func IsEmpty(sig Signature) bool {
	if sig == nil {
		return true
	}
	switch s := sig.(type) {
	case *DescriptorSet:
		return s == nil || s.Len() == 0
	case Embedding:
		return len(s) == 0
	}
	return sig.Size() == 0
}

// Encode serialises sig for storage. Empty signatures encode to nil so the
// store can keep them as NULL.
func Encode(sig Signature) ([]byte, error) {
	if IsEmpty(sig) {
		return nil, nil
	}
	switch s := sig.(type) {
	case *DescriptorSet:
		buf := make([]byte, 8+len(s.Data)*4)
		binary.LittleEndian.PutUint32(buf[0:4], uint32(s.Len()))
		binary.LittleEndian.PutUint32(buf[4:8], uint32(s.Dim))
		putFloats(buf[8:], s.Data)
		return buf, nil
	case Embedding:
		buf := make([]byte, len(s)*4)
		putFloats(buf, s)
		return buf, nil
	default:
		return nil, fmt.Errorf("signature: cannot encode %T", sig)
	}
}

// Decode is the inverse of Encode for a store bound to kind. A nil or empty
// blob decodes to a nil signature.
func Decode(kind Kind, blob []byte) (Signature, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	switch kind {
	case KindDescriptors:
		if len(blob) < 8 {
			return nil, fmt.Errorf("%w: descriptor header truncated (%d bytes)", ErrCorruptBlob, len(blob))
		}
		rows := int(binary.LittleEndian.Uint32(blob[0:4]))
		dim := int(binary.LittleEndian.Uint32(blob[4:8]))
		if dim == 0 || len(blob)-8 != rows*dim*4 {
			return nil, fmt.Errorf("%w: %d descriptors of dim %d do not fit %d bytes", ErrCorruptBlob, rows, dim, len(blob)-8)
		}
		return &DescriptorSet{Dim: dim, Data: getFloats(blob[8:])}, nil
	case KindEmbedding:
		if len(blob)%4 != 0 {
			return nil, fmt.Errorf("%w: embedding length %d is not a multiple of 4", ErrCorruptBlob, len(blob))
		}
		return Embedding(getFloats(blob)), nil
	default:
		return nil, fmt.Errorf("signature: unknown kind %q", kind)
	}
}

func putFloats(dst []byte, src []float32) {
	for i, v := range src {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
}

func getFloats(src []byte) []float32 {
	out := make([]float32, len(src)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
	return out
}
