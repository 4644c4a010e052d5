//go:build !gocv

package camera

import (
	"context"
	"fmt"
	"image"

	"cardscan/pkg/scan"
)

// Webcam is unavailable in builds without the gocv tag.
type Webcam struct {
	Device int
}

// NewWebcam returns a capture that always reports ErrUnsupported.
func NewWebcam(device int) *Webcam {
	return &Webcam{Device: device}
}

func (w *Webcam) Open(ctx context.Context) error {
	return fmt.Errorf("webcam support not compiled in (build with -tags gocv): %w", scan.ErrUnsupported)
}

func (w *Webcam) Ready() bool { return false }

func (w *Webcam) Frame() (image.Image, error) { return nil, scan.ErrFrameNotReady }

func (w *Webcam) Close() error { return nil }
