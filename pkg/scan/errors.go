package scan

import "errors"

// Camera acquisition failures. Camera implementations wrap their native
// errors with one of these so the pipeline can classify them.
var (
	ErrPermissionDenied   = errors.New("camera permission denied")
	ErrDeviceNotFound     = errors.New("camera not found")
	ErrDeviceBusy         = errors.New("camera busy")
	ErrSecurityRestricted = errors.New("camera access restricted")
	ErrUnsupported        = errors.New("camera not supported")
	ErrFrameNotReady      = errors.New("no frame available yet")
)

var (
	ErrEngineLoadTimeout = errors.New("ocr engine load timeout")
	ErrNotRunning        = errors.New("pipeline not running")
	ErrRetryNotAllowed   = errors.New("retry not allowed in this state, reload instead")
	ErrNoDialCode        = errors.New("no dial code available")
)
