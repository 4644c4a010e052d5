package ocr

import (
	"image"

	"github.com/disintegration/imaging"
)

// Frame converts any decoded camera image to an NRGBA buffer anchored at (0,0).
func Frame(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	return imaging.Clone(img)
}

// MeanLuminance returns the average of (R+G+B)/3 over all pixels.
func MeanLuminance(img *image.NRGBA) float64 {
	sum, n := lumaSum(img)
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(3*n)
}

// lumaSum returns the sum of R+G+B over every pixel and the pixel count.
func lumaSum(img *image.NRGBA) (uint64, uint64) {
	b := img.Rect
	w := b.Dx()
	var sum, n uint64
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for i := 0; i < len(row); i += 4 {
			sum += uint64(row[i]) + uint64(row[i+1]) + uint64(row[i+2])
			n++
		}
	}
	return sum, n
}

// Preprocess binarizes a frame against its global mean luminance. Pixels
// brighter than the mean become white, the rest (ties included) black. The
// three color channels are written identically and alpha is left as is.
// The source frame is not modified.
func Preprocess(src *image.NRGBA) *image.NRGBA {
	out := &image.NRGBA{
		Pix:    make([]uint8, len(src.Pix)),
		Stride: src.Stride,
		Rect:   src.Rect,
	}
	copy(out.Pix, src.Pix)
	sum, n := lumaSum(out)
	if n == 0 {
		return out
	}
	w := out.Rect.Dx()
	for y := 0; y < out.Rect.Dy(); y++ {
		row := out.Pix[y*out.Stride : y*out.Stride+w*4]
		for i := 0; i < len(row); i += 4 {
			// (r+g+b)/3 > sum/(3n)  <=>  (r+g+b)*n > sum
			px := uint64(row[i]) + uint64(row[i+1]) + uint64(row[i+2])
			var v uint8
			if px*n > sum {
				v = 255
			}
			row[i], row[i+1], row[i+2] = v, v, v
		}
	}
	return out
}
