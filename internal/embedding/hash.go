package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"image"
)

// HashEncoder derives deterministic pseudo-embeddings from a SHA-256 of the
// input. It needs no model runtime and is used for development and tests.
// Identical inputs always produce bit-identical vectors.
type HashEncoder struct {
	dims int
}

// NewHashEncoder creates a HashEncoder producing dims-length vectors.
func NewHashEncoder(dims int) *HashEncoder {
	return &HashEncoder{dims: dims}
}

func (e *HashEncoder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seed := sha256.Sum256(append([]byte("text\x00"), text...))
	return e.expand(seed), nil
}

// EncodeImage hashes the image size and its RGB samples.
func (e *HashEncoder) EncodeImage(ctx context.Context, img *image.RGBA) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := sha256.New()
	b := img.Bounds()
	var size [8]byte
	binary.LittleEndian.PutUint32(size[0:], uint32(b.Dx()))
	binary.LittleEndian.PutUint32(size[4:], uint32(b.Dy()))
	h.Write([]byte("image\x00"))
	h.Write(size[:])
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X, y)]
		for i := 0; i < len(row); i += 4 {
			h.Write(row[i : i+3])
		}
	}
	var seed [32]byte
	copy(seed[:], h.Sum(nil))
	return e.expand(seed), nil
}

// expand stretches a seed into dims values in [-1, 1]. No value is ever
// zero, so the result always has a positive norm.
func (e *HashEncoder) expand(seed [32]byte) []float32 {
	out := make([]float32, e.dims)
	var block [32]byte
	var counter [4]byte
	for i := range out {
		if i%len(block) == 0 {
			binary.LittleEndian.PutUint32(counter[:], uint32(i/len(block)))
			block = sha256.Sum256(append(seed[:], counter[:]...))
		}
		out[i] = float32(block[i%len(block)])/127.5 - 1.0
	}
	return out
}
