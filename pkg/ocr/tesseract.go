package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// DefaultWhitelist keeps digits, the dial markers and the letters Normalize maps to digits.
const DefaultWhitelist = "0123456789#*OoQqLlIiZzVvYySsGgTtBb "

// TesseractConfig holds Tesseract client settings.
type TesseractConfig struct {
	Language    string
	Whitelist   string
	PageSegMode gosseract.PageSegMode
	// MinHeight upscales shorter frames before recognition (0 disables).
	MinHeight int
}

// TesseractEngine runs recognition through a single reused gosseract client.
type TesseractEngine struct {
	cfg    TesseractConfig
	mu     sync.Mutex
	client *gosseract.Client
}

// NewTesseractEngine creates an engine; the client is created by Init.
func NewTesseractEngine(cfg TesseractConfig) *TesseractEngine {
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.Whitelist == "" {
		cfg.Whitelist = DefaultWhitelist
	}
	if cfg.PageSegMode == 0 {
		cfg.PageSegMode = gosseract.PSM_SPARSE_TEXT
	}
	return &TesseractEngine{cfg: cfg}
}

func (t *TesseractEngine) Name() string { return "tesseract" }

func (t *TesseractEngine) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &EngineError{Op: "init", Engine: t.Name(), Err: err}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return nil
	}
	client := gosseract.NewClient()
	if err := client.SetLanguage(t.cfg.Language); err != nil {
		_ = client.Close()
		return &EngineError{Op: "init", Engine: t.Name(), Err: fmt.Errorf("set language %q: %w", t.cfg.Language, err)}
	}
	if err := client.SetWhitelist(t.cfg.Whitelist); err != nil {
		_ = client.Close()
		return &EngineError{Op: "init", Engine: t.Name(), Err: fmt.Errorf("set whitelist: %w", err)}
	}
	if err := client.SetPageSegMode(t.cfg.PageSegMode); err != nil {
		_ = client.Close()
		return &EngineError{Op: "init", Engine: t.Name(), Err: fmt.Errorf("set page seg mode: %w", err)}
	}
	// gosseract loads traineddata lazily on the first Text call; force it here
	// so a bad language or missing tessdata fails Init instead of every frame.
	if err := warmUp(client); err != nil {
		_ = client.Close()
		return &EngineError{Op: "init", Engine: t.Name(), Err: fmt.Errorf("load %q: %w", t.cfg.Language, err)}
	}
	t.client = client
	return nil
}

func warmUp(client *gosseract.Client) error {
	var buf bytes.Buffer
	blank := imaging.New(8, 8, color.White)
	if err := imaging.Encode(&buf, blank, imaging.PNG); err != nil {
		return err
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return err
	}
	_, err := client.Text()
	return err
}

func (t *TesseractEngine) Recognize(ctx context.Context, img image.Image, progress ProgressFunc) (Result, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return Result{}, &EngineError{Op: "recognize", Engine: t.Name(), Err: err}
	}
	if t.cfg.MinHeight > 0 && img.Bounds().Dy() < t.cfg.MinHeight {
		// nearest neighbor keeps a binarized frame two-level
		img = imaging.Resize(img, 0, t.cfg.MinHeight, imaging.NearestNeighbor)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return Result{}, &EngineError{Op: "recognize", Engine: t.Name(), Err: fmt.Errorf("encode frame: %w", err)}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return Result{}, &EngineError{Op: "recognize", Engine: t.Name(), Err: ErrEngineNotReady}
	}
	report(progress, 0)
	if err := t.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return Result{}, &EngineError{Op: "recognize", Engine: t.Name(), Err: fmt.Errorf("set image: %w", err)}
	}
	text, err := t.client.Text()
	if err != nil {
		return Result{}, &EngineError{Op: "recognize", Engine: t.Name(), Err: err}
	}
	report(progress, 100)
	return Result{
		Text:       text,
		Confidence: digitConfidence(text),
		Engine:     t.Name(),
		Duration:   time.Since(start),
	}, nil
}

func (t *TesseractEngine) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}
