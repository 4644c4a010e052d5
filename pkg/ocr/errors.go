package ocr

import (
	"errors"
	"fmt"
)

// ErrNoCode is returned when no plausible card number can be extracted.
var ErrNoCode = errors.New("no card number detected")

// ErrEngineNotReady is returned by Recognize before Init or after Close.
var ErrEngineNotReady = errors.New("ocr engine not ready")

// EngineError wraps a failure of a single engine operation. Op is "init" or "recognize".
type EngineError struct {
	Op     string
	Engine string
	Err    error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Engine, e.Op, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// IsInitError reports whether err came from an engine Init call.
func IsInitError(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Op == "init"
}
