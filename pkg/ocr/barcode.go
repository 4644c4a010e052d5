package ocr

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
)

// BarcodeEngine decodes the linear barcode many cards print under the number.
// An image without a readable barcode yields empty text, not an error.
type BarcodeEngine struct {
	mu      sync.Mutex
	readers []gozxing.Reader
}

func NewBarcodeEngine() *BarcodeEngine { return &BarcodeEngine{} }

func (b *BarcodeEngine) Name() string { return "barcode" }

func (b *BarcodeEngine) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &EngineError{Op: "init", Engine: b.Name(), Err: err}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readers = []gozxing.Reader{
		oned.NewCode128Reader(),
		oned.NewITFReader(),
		oned.NewEAN13Reader(),
		oned.NewCode39Reader(),
	}
	return nil
}

func (b *BarcodeEngine) Recognize(ctx context.Context, img image.Image, progress ProgressFunc) (Result, error) {
	start := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.readers == nil {
		return Result{}, &EngineError{Op: "recognize", Engine: b.Name(), Err: ErrEngineNotReady}
	}
	report(progress, 0)
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return Result{}, &EngineError{Op: "recognize", Engine: b.Name(), Err: fmt.Errorf("bitmap: %w", err)}
	}
	res := Result{Engine: b.Name()}
	for i, reader := range b.readers {
		if err := ctx.Err(); err != nil {
			return Result{}, &EngineError{Op: "recognize", Engine: b.Name(), Err: err}
		}
		decoded, err := reader.Decode(bmp, nil)
		report(progress, (i+1)*100/len(b.readers))
		if err != nil {
			continue
		}
		res.Text = decoded.GetText()
		res.Confidence = 1
		break
	}
	report(progress, 100)
	res.Duration = time.Since(start)
	return res, nil
}

func (b *BarcodeEngine) Close() error {
	b.mu.Lock()
	b.readers = nil
	b.mu.Unlock()
	return nil
}
