package data

import (
	"image"
	_ "image/jpeg" // Essential: Registers JPEG format
	_ "image/png"
	"io"
	"os"

	"golang.org/x/image/draw"

	"github.com/b0tShaman/neuro-digits/ml"
)

const imageSide = 28

// LoadImage reads an image file and converts it to network input.
func LoadImage(path string, invert bool) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ConvertImage(f, invert)
}

// ConvertImage decodes an image of any size into 28x28 grayscale bytes,
// row-major. MNIST digits are light strokes on a dark background; set invert
// for dark-on-light scans.
func ConvertImage(r io.Reader, invert bool) ([]byte, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return nil, err
	}

	// Resize to 28x28
	dst := image.NewRGBA(image.Rect(0, 0, imageSide, imageSide))
	draw.CatmullRom.Scale(dst, dst.Rect, src, src.Bounds(), draw.Over, nil)

	out := make([]byte, 0, ml.InputSize)
	bounds := dst.Bounds()

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := dst.At(x, y).RGBA()
			// Standard Grayscale formula
			gray := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
			px := byte(min(gray+0.5, 255))
			if invert {
				px = 255 - px
			}
			out = append(out, px)
		}
	}
	return out, nil
}
