package scanning

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

const (
	// ScaleFactor is the linear upscale applied in both dimensions before OCR
	ScaleFactor = 2
	// BinaryThreshold is the gray level at or above which a pixel becomes white
	BinaryThreshold = 150
)

// Normalize prepares a raw capture for OCR: grayscale, 2x cubic upscale, hard binarization.
// The output is single-channel and only ever holds 0 or 255. The threshold is fixed; lighting
// is assumed to be controlled (desk or flatbed capture).
func Normalize(img image.Image) *image.Gray {
	b := img.Bounds()
	if b.Empty() {
		return image.NewGray(image.Rect(0, 0, 0, 0))
	}

	gray := imaging.Grayscale(img)
	scaled := imaging.Resize(gray, b.Dx()*ScaleFactor, b.Dy()*ScaleFactor, imaging.CatmullRom)

	sb := scaled.Bounds()
	out := image.NewGray(image.Rect(0, 0, sb.Dx(), sb.Dy()))
	for y := 0; y < sb.Dy(); y++ {
		row := scaled.Pix[y*scaled.Stride : y*scaled.Stride+sb.Dx()*4]
		for x := 0; x < sb.Dx(); x++ {
			// R == G == B after Grayscale, so the red channel is the luminance
			out.SetGray(x, y, binarize(row[x*4]))
		}
	}
	return out
}

func binarize(v uint8) color.Gray {
	if v >= BinaryThreshold {
		return color.Gray{Y: 255}
	}
	return color.Gray{Y: 0}
}
