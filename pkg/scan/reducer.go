package scan

import (
	"errors"
	"fmt"
	"time"

	"cardscan/pkg/ocr"
)

// DefaultSuccessHold is how long an accepted code stays displayed.
const DefaultSuccessHold = 3000 * time.Millisecond

// DefaultDiagnosticLimit bounds the diagnostic trail.
const DefaultDiagnosticLimit = 15

// Event is anything that changes pipeline state.
type Event interface{ event() }

type (
	// Reset discards the session. Hard also drops the counter and last code.
	Reset struct {
		SessionID        string
		ClearDiagnostics bool
		Hard             bool
	}
	Started        struct{ SessionID string }
	CameraGranted  struct{ Width, Height int }
	CameraFailed   struct{ Err error }
	EngineLoading  struct{ Engine string }
	EngineReady    struct{ Engine string }
	EngineFailed   struct{ Err error }
	ScanStarted    struct{}
	Progress       struct{ Percent int }
	Recognized     struct {
		Text string
		At   time.Time
	}
	RecognitionFailed struct {
		Err error
		At  time.Time
	}
	Tick       struct{ At time.Time }
	Diagnostic struct{ Message string }
)

func (Reset) event()             {}
func (Started) event()           {}
func (CameraGranted) event()     {}
func (CameraFailed) event()      {}
func (EngineLoading) event()     {}
func (EngineReady) event()       {}
func (EngineFailed) event()      {}
func (ScanStarted) event()       {}
func (Progress) event()          {}
func (Recognized) event()        {}
func (RecognitionFailed) event() {}
func (Tick) event()              {}
func (Diagnostic) event()        {}

// Reducer computes the next state. It holds only configuration; Reduce is pure.
type Reducer struct {
	Gate            Gate
	SuccessHold     time.Duration
	DiagnosticLimit int
}

// NewReducer returns a Reducer with default timings.
func NewReducer() Reducer {
	return Reducer{
		Gate:            Gate{Cooldown: DefaultCooldown},
		SuccessHold:     DefaultSuccessHold,
		DiagnosticLimit: DefaultDiagnosticLimit,
	}
}

// Reduce returns the state that follows st after ev. st is never modified.
func (r Reducer) Reduce(st State, ev Event) State {
	switch e := ev.(type) {
	case Reset:
		next := NewState()
		next.SessionID = e.SessionID
		if !e.Hard {
			next.ScanCount = st.ScanCount
			next.LastCode = st.LastCode
			if !e.ClearDiagnostics {
				next.Diagnostics = st.Diagnostics
				next.DiagnosticsTotal = st.DiagnosticsTotal
			}
		}
		return next

	case Started:
		if st.Status != StatusBooting {
			return st
		}
		st.SessionID = e.SessionID
		st.Status = StatusRequestingPermission
		return r.diag(st, "requesting camera permission")

	case CameraGranted:
		if st.Status != StatusRequestingPermission {
			return st
		}
		st = r.diag(st, "camera stream acquired")
		if e.Width > 0 && e.Height > 0 {
			st = r.diag(st, fmt.Sprintf("camera resolution: %dx%d", e.Width, e.Height))
		}
		st.Status = StatusOCRLoading
		return st

	case CameraFailed:
		if st.Status != StatusRequestingPermission {
			return st
		}
		status, msg := classifyCameraError(e.Err)
		st.Status = status
		st.ErrorMessage = msg
		st.FrameColor = FrameError
		return r.diag(st, "camera error: "+errString(e.Err))

	case EngineLoading:
		if st.Status != StatusOCRLoading {
			return st
		}
		return r.diag(st, "camera ready, loading OCR engine "+e.Engine)

	case EngineReady:
		if st.Status != StatusOCRLoading {
			return st
		}
		st.Status = StatusReady
		st.OCRReady = true
		st.OCRProgress = 100
		st.ErrorMessage = ""
		return r.diag(st, "OCR engine ready: "+e.Engine)

	case EngineFailed:
		if st.Status != StatusOCRLoading {
			return st
		}
		st.Status = StatusOCRError
		st.OCRReady = false
		st.FrameColor = FrameError
		st.ErrorMessage = "OCR engine setup failed: " + errString(e.Err)
		return r.diag(st, "OCR setup error: "+errString(e.Err))

	case ScanStarted:
		if st.Status != StatusReady {
			return st
		}
		st.Status = StatusScanning
		st.FrameColor = FrameYellow
		st.OCRProgress = 0
		return st

	case Progress:
		p := e.Percent
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		st.OCRProgress = p
		if p > 0 && p < 100 {
			st = r.diag(st, fmt.Sprintf("processing: %d%%", p))
		}
		return st

	case Recognized:
		if st.Status != StatusScanning {
			return st
		}
		return r.recognized(st, e.Text, e.At)

	case RecognitionFailed:
		if st.Status != StatusScanning {
			return st
		}
		if ocr.IsInitError(e.Err) {
			// engine lost its native state; only a reload recovers it
			st.Status = StatusOCRError
			st.OCRReady = false
			st.FrameColor = FrameError
			st.ErrorMessage = "OCR engine setup failed: " + errString(e.Err)
			return r.diag(st, "OCR setup error: "+errString(e.Err))
		}
		st = r.diag(st, "OCR error: "+errString(e.Err))
		return r.recognized(st, "", e.At)

	case Tick:
		if st.Status == StatusSuccess && e.At.Sub(st.SuccessAt) >= r.hold() {
			st.Status = StatusReady
			st.Code = ""
			st.FrameColor = FrameGreen
			st.SuccessAt = time.Time{}
		}
		return st

	case Diagnostic:
		return r.diag(st, e.Message)
	}
	return st
}

func (r Reducer) recognized(st State, text string, at time.Time) State {
	if text != "" {
		st = r.diag(st, "recognized text: "+ocr.Snippet(text, 50))
	} else {
		st = r.diag(st, "no text detected in frame")
	}
	code := ocr.ExtractCode(ocr.Normalize(text))
	if code == "" || !r.Gate.Accept(at, st.LastAcceptedAt) {
		st.Status = StatusReady
		st.FrameColor = FrameGreen
		return st
	}
	st.Status = StatusSuccess
	st.Code = code
	st.LastCode = code
	st.FrameColor = FrameSuccess
	st.ErrorMessage = ""
	st.ScanCount++
	st.LastAcceptedAt = at
	st.SuccessAt = at
	return r.diag(st, "card read: "+code)
}

func (r Reducer) hold() time.Duration {
	if r.SuccessHold <= 0 {
		return DefaultSuccessHold
	}
	return r.SuccessHold
}

// diag appends to a fresh slice so earlier states keep their trail.
func (r Reducer) diag(st State, msg string) State {
	limit := r.DiagnosticLimit
	if limit <= 0 {
		limit = DefaultDiagnosticLimit
	}
	keep := st.Diagnostics
	if len(keep) >= limit {
		keep = keep[len(keep)-limit+1:]
	}
	next := make([]string, 0, len(keep)+1)
	next = append(next, keep...)
	st.Diagnostics = append(next, msg)
	st.DiagnosticsTotal++
	return st
}

// classifyCameraError maps an acquisition failure onto a terminal status and
// the message shown for it. Unknown failures are reported as a missing camera.
func classifyCameraError(err error) (Status, string) {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return StatusPermissionDenied, "Camera permission was denied. Allow camera access and retry."
	case errors.Is(err, ErrDeviceNotFound):
		return StatusNoCamera, "No camera was found on this device."
	case errors.Is(err, ErrDeviceBusy):
		return StatusCameraBusy, "The camera is in use by another application or is disabled."
	case errors.Is(err, ErrSecurityRestricted):
		return StatusError, "Camera access is restricted. Make sure the page is served over HTTPS."
	case errors.Is(err, ErrUnsupported):
		return StatusNotSupported, "Camera capture is not supported here."
	}
	return StatusNoCamera, "Unable to access the camera."
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
