package embedding

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/nidhogg/embedgate/internal/embederr"
)

// MaxImagePixels bounds the decoded size of an input image.
const MaxImagePixels = 64 << 20

// DecodeImage decodes JPEG, PNG, GIF, WebP, BMP or TIFF data.
func DecodeImage(data []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, embederr.Decode(err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, embederr.Decode(fmt.Errorf("zero dimensions %dx%d", cfg.Width, cfg.Height))
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxImagePixels {
		return nil, embederr.Decode(fmt.Errorf("image of %dx%d pixels is too large", cfg.Width, cfg.Height))
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, embederr.Decode(err)
	}
	return img, nil
}

// ToRGB converts img into an opaque 8-bit RGB image anchored at the origin.
// Alpha is dropped rather than composited, so the same pixels yield the same
// colors whatever the source format.
func ToRGB(img image.Image) (*image.RGBA, error) {
	if img == nil {
		return nil, embederr.Decode(fmt.Errorf("no image data"))
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, embederr.Decode(fmt.Errorf("zero dimensions %dx%d", b.Dx(), b.Dy()))
	}

	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			dst.SetRGBA(x-b.Min.X, y-b.Min.Y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
		}
	}
	return dst, nil
}
