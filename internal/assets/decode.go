package assets

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Bitmap is a decoded RGBA8 image, rows top to bottom.
type Bitmap struct {
	Width  uint32
	Height uint32
	Pixels []byte
}

// DecodeFile decodes a png, jpeg, webp or bmp file into a Bitmap.
func DecodeFile(path string) (Bitmap, error) {
	f, err := os.Open(path)
	if err != nil {
		return Bitmap{}, err
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return Bitmap{}, fmt.Errorf("decode %s: %w", path, err)
	}
	b := img.Bounds()
	if b.Empty() {
		return Bitmap{}, fmt.Errorf("decode %s: empty %s image", path, format)
	}
	return ToBitmap(img), nil
}

// ToBitmap converts any image to tightly packed RGBA8.
func ToBitmap(img image.Image) Bitmap {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != 4*b.Dx() || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	return Bitmap{Width: uint32(b.Dx()), Height: uint32(b.Dy()), Pixels: rgba.Pix}
}
