package ocr

import (
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
)

func checkerboard(w, h int) *image.NRGBA {
	img := imaging.New(w, h, color.NRGBA{0, 0, 0, 255})
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				img.SetNRGBA(x, y, color.NRGBA{255, 255, 255, 255})
			}
		}
	}
	return img
}

func TestPreprocessCheckerboardUnchanged(t *testing.T) {
	in := checkerboard(8, 6)
	out := Preprocess(in)
	if out.Bounds() != in.Bounds() {
		t.Fatalf("expected bounds %v got %v", in.Bounds(), out.Bounds())
	}
	for i := range in.Pix {
		if in.Pix[i] != out.Pix[i] {
			t.Fatalf("pixel byte %d changed: expected %d got %d", i, in.Pix[i], out.Pix[i])
		}
	}
}

func TestPreprocessUniformGrayTiesToBlack(t *testing.T) {
	in := imaging.New(5, 5, color.NRGBA{128, 128, 128, 200})
	out := Preprocess(in)
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			c := out.NRGBAAt(x, y)
			if c.R != 0 || c.G != 0 || c.B != 0 {
				t.Fatalf("expected black at %d,%d got %v", x, y, c)
			}
			if c.A != 200 {
				t.Fatalf("expected alpha untouched at %d,%d got %d", x, y, c.A)
			}
		}
	}
	if in.NRGBAAt(0, 0).R != 128 {
		t.Fatalf("source frame was modified")
	}
}

func TestPreprocessThresholdIsGlobalMean(t *testing.T) {
	in := imaging.New(4, 1, color.NRGBA{0, 0, 0, 255})
	in.SetNRGBA(0, 0, color.NRGBA{10, 20, 30, 255})    // 20
	in.SetNRGBA(1, 0, color.NRGBA{90, 100, 110, 255})  // 100
	in.SetNRGBA(2, 0, color.NRGBA{200, 50, 50, 255})   // 100
	in.SetNRGBA(3, 0, color.NRGBA{250, 250, 250, 255}) // 250
	if m := MeanLuminance(in); m != 117.5 {
		t.Fatalf("expected mean 117.5 got %v", m)
	}
	out := Preprocess(in)
	want := []uint8{0, 0, 0, 255}
	for x, w := range want {
		c := out.NRGBAAt(x, 0)
		if c.R != w || c.G != w || c.B != w {
			t.Fatalf("pixel %d: expected %d got %v", x, w, c)
		}
	}
}

func TestPreprocessSubImageKeepsDimensions(t *testing.T) {
	base := checkerboard(10, 10)
	sub := base.SubImage(image.Rect(2, 3, 7, 9)).(*image.NRGBA)
	out := Preprocess(sub)
	if out.Bounds().Dx() != 5 || out.Bounds().Dy() != 6 {
		t.Fatalf("expected 5x6 got %dx%d", out.Bounds().Dx(), out.Bounds().Dy())
	}
	if out.NRGBAAt(2, 3) != base.NRGBAAt(2, 3) {
		t.Fatalf("expected binarized checkerboard to keep its pixels")
	}
}

func TestFrameNormalizesOrigin(t *testing.T) {
	base := checkerboard(10, 10)
	sub := base.SubImage(image.Rect(2, 3, 7, 9))
	f := Frame(sub)
	if f.Rect.Min != (image.Point{}) || f.Rect.Dx() != 5 || f.Rect.Dy() != 6 {
		t.Fatalf("expected 5x6 frame at origin got %v", f.Rect)
	}
}
