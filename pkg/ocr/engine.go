package ocr

import (
	"context"
	"image"
	"time"
)

// ProgressFunc receives recognition progress in percent (0..100).
type ProgressFunc func(pct int)

// Result is the text an engine produced for one image.
type Result struct {
	Text       string
	Confidence float64
	Engine     string
	Duration   time.Duration
}

// Engine turns a raster image into text. Implementations are not required to
// be safe for concurrent Recognize calls; callers keep one call in flight.
type Engine interface {
	Name() string
	// Init prepares the engine. It may be called again after Close.
	Init(ctx context.Context) error
	Recognize(ctx context.Context, img image.Image, progress ProgressFunc) (Result, error)
	// Close releases native resources. Safe on a partially initialized engine.
	Close() error
}

func report(progress ProgressFunc, pct int) {
	if progress != nil {
		progress(pct)
	}
}

// digitConfidence estimates confidence as the share of code-relevant characters.
func digitConfidence(text string) float64 {
	n := Normalize(text)
	c := collapseSpaces(text)
	if len(c) == 0 {
		return 0
	}
	conf := float64(len(onlyDigits(n))) / float64(len([]rune(c)))
	if conf > 1 {
		conf = 1
	}
	return conf
}
