//go:build gocv

package camera

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"cardscan/pkg/scan"
)

// Webcam captures frames from a local video device through OpenCV.
type Webcam struct {
	Device int

	mu     sync.Mutex
	cap    *gocv.VideoCapture
	mat    gocv.Mat
	width  int
	height int
}

// NewWebcam returns a capture for the given device index.
func NewWebcam(device int) *Webcam {
	return &Webcam{Device: device}
}

// Open acquires the device.
func (w *Webcam) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := gocv.OpenVideoCapture(w.Device)
	if err != nil {
		return fmt.Errorf("device %d: %v: %w", w.Device, err, scan.ErrDeviceNotFound)
	}
	if !c.IsOpened() {
		c.Close()
		return fmt.Errorf("device %d: %w", w.Device, scan.ErrDeviceBusy)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cap = c
	w.mat = gocv.NewMat()
	w.width = int(c.Get(gocv.VideoCaptureFrameWidth))
	w.height = int(c.Get(gocv.VideoCaptureFrameHeight))
	return nil
}

// Ready reports whether the device is open.
func (w *Webcam) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cap != nil && w.cap.IsOpened()
}

// Frame reads the next frame from the device.
func (w *Webcam) Frame() (image.Image, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cap == nil {
		return nil, scan.ErrFrameNotReady
	}
	if ok := w.cap.Read(&w.mat); !ok || w.mat.Empty() {
		return nil, scan.ErrFrameNotReady
	}
	return w.mat.ToImage()
}

// Resolution reports the negotiated capture size.
func (w *Webcam) Resolution() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.width, w.height
}

// Close releases the device. It is safe to call more than once.
func (w *Webcam) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cap == nil {
		return nil
	}
	w.mat.Close()
	err := w.cap.Close()
	w.cap = nil
	return err
}
