package scan

import (
	"time"

	"cardscan/pkg/ocr"
)

// Status is the lifecycle phase of the pipeline.
type Status string

const (
	StatusBooting              Status = "booting"
	StatusRequestingPermission Status = "requesting-permission"
	StatusPermissionDenied     Status = "permission-denied"
	StatusNoCamera             Status = "no-camera"
	StatusCameraBusy           Status = "camera-busy"
	StatusNotSupported         Status = "not-supported"
	StatusError                Status = "error"
	StatusOCRLoading           Status = "ocr-loading"
	StatusOCRError             Status = "ocr-error"
	StatusReady                Status = "ready"
	StatusScanning             Status = "scanning"
	StatusSuccess              Status = "success"
)

// Terminal reports whether the status is only left through Retry or Reload.
func (s Status) Terminal() bool {
	switch s {
	case StatusPermissionDenied, StatusNoCamera, StatusCameraBusy,
		StatusNotSupported, StatusError, StatusOCRError:
		return true
	}
	return false
}

// Retryable reports whether Retry is offered. Unsupported cameras and engine
// setup failures only recover through Reload.
func (s Status) Retryable() bool {
	return s != StatusNotSupported && s != StatusOCRError
}

// FrameColor is the viewfinder hint shown by the presentation layer.
type FrameColor string

const (
	FrameGreen   FrameColor = "green"
	FrameYellow  FrameColor = "yellow"
	FrameSuccess FrameColor = "success"
	FrameError   FrameColor = "error"
)

// State is the single source of truth the presentation layer reads.
type State struct {
	SessionID    string     `json:"session_id"`
	Status       Status     `json:"status"`
	Code         string     `json:"code,omitempty"`
	LastCode     string     `json:"last_code,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	FrameColor   FrameColor `json:"frame_color"`
	ScanCount    int        `json:"scan_count"`
	OCRReady     bool       `json:"ocr_ready"`
	OCRProgress  int        `json:"ocr_progress"`
	// Diagnostics holds the most recent entries, oldest first.
	Diagnostics      []string  `json:"diagnostics"`
	DiagnosticsTotal int       `json:"diagnostics_total"`
	LastAcceptedAt   time.Time `json:"last_accepted_at"`
	SuccessAt        time.Time `json:"-"`
}

// NewState returns the state of a freshly constructed pipeline.
func NewState() State {
	return State{Status: StatusBooting, FrameColor: FrameGreen, Diagnostics: []string{}}
}

// DialCode derives the USSD string of the current code ("" when none).
func (s State) DialCode() string { return ocr.DialCode(s.Code) }

// LastDialCode derives the USSD string of the last accepted code.
func (s State) LastDialCode() string { return ocr.DialCode(s.LastCode) }

// Clone returns a copy that shares no mutable memory with s.
func (s State) Clone() State {
	c := s
	c.Diagnostics = append([]string(nil), s.Diagnostics...)
	if c.Diagnostics == nil {
		c.Diagnostics = []string{}
	}
	return c
}
