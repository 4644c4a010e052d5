package scan

import (
	"context"
	"image"
)

// Camera is the frame source the pipeline samples from.
type Camera interface {
	// Open acquires the stream. Failures should wrap ErrPermissionDenied,
	// ErrDeviceNotFound, ErrDeviceBusy, ErrSecurityRestricted or ErrUnsupported.
	Open(ctx context.Context) error
	// Ready reports whether a full frame of data is available.
	Ready() bool
	// Frame returns the current frame or ErrFrameNotReady.
	Frame() (image.Image, error)
	Close() error
}

// Describer is implemented by cameras that know their resolution after Open.
type Describer interface {
	Resolution() (width, height int)
}
