package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
)

// Cascade tries engines in order and stops at the first result that holds a
// card number. When none does it returns the last successful result.
type Cascade struct {
	engines []Engine
}

func NewCascade(engines ...Engine) *Cascade {
	return &Cascade{engines: engines}
}

func (c *Cascade) Name() string {
	names := make([]string, 0, len(c.engines))
	for _, e := range c.engines {
		names = append(names, e.Name())
	}
	return "cascade(" + strings.Join(names, ",") + ")"
}

func (c *Cascade) Init(ctx context.Context) error {
	if len(c.engines) == 0 {
		return &EngineError{Op: "init", Engine: c.Name(), Err: errors.New("no engines configured")}
	}
	for _, e := range c.engines {
		if err := e.Init(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cascade) Recognize(ctx context.Context, img image.Image, progress ProgressFunc) (Result, error) {
	var (
		last    Result
		haveRes bool
		errs    []error
	)
	n := len(c.engines)
	for i, e := range c.engines {
		step := func(pct int) { report(progress, (i*100+pct)/n) }
		res, err := e.Recognize(ctx, img, step)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, ferr := FindCode(res.Text); ferr == nil {
			report(progress, 100)
			return res, nil
		}
		last, haveRes = res, true
	}
	report(progress, 100)
	if haveRes {
		return last, nil
	}
	return Result{}, fmt.Errorf("all engines failed: %w", errors.Join(errs...))
}

func (c *Cascade) Close() error {
	var errs []error
	for _, e := range c.engines {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
