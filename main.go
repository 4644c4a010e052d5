package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"cardscan/pkg/camera"
	"cardscan/pkg/notify"
	"cardscan/pkg/ocr"
	"cardscan/pkg/scan"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env not found, using system environment variables")
	}
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// `cardscan token <device>` prints a bearer token for a scanner client and exits.
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if cfg.JWTSecret == "" {
			log.Fatalf("JWT_SECRET must be set to issue tokens")
		}
		device := "scanner"
		if len(os.Args) > 2 {
			device = os.Args[2]
		}
		tok, err := signToken([]byte(cfg.JWTSecret), device, 30*24*time.Hour)
		if err != nil {
			log.Fatalf("sign: %v", err)
		}
		fmt.Println(tok)
		return
	}

	if err := run(cfg); err != nil {
		log.Fatalf("ERROR %v", err)
	}
}

// run owns every resource it opens; it returns only after they are released.
func run(cfg *Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cam, err := buildCamera(cfg)
	if err != nil {
		return fmt.Errorf("camera: %w", err)
	}
	eng, err := buildEngine(cfg)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	notifiers := notify.Fanout{notify.Log{}}
	if cfg.RedisURL != "" {
		pub, err := notify.NewRedisPublisher(ctx, cfg.RedisURL, cfg.RedisChannel)
		if err != nil {
			log.Printf("WARN redis notifications disabled: %v", err)
		} else {
			defer pub.Close()
			notifiers = append(notifiers, pub)
		}
	}

	pipeline := scan.New(cfg.PipelineConfig(), cam, eng, scan.WithNotifier(notifiers))
	pipeline.Start(ctx)
	defer pipeline.Stop()
	log.Printf("Scanner starting: source=%s engine=%s addr=%s", cfg.Source, eng.Name(), cfg.Addr)

	r := gin.Default()
	setupRoutes(r, pipeline, []byte(cfg.JWTSecret))
	if cfg.JWTSecret == "" {
		log.Printf("Warning: JWT_SECRET not set, control endpoints are unauthenticated")
	}

	srv := &http.Server{
		Addr:        cfg.Addr,
		Handler:     r,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	if err := serve(ctx, srv); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	log.Printf("Shutdown complete")
	return nil
}

// serve runs srv until ctx is done or the listener fails.
func serve(ctx context.Context, srv *http.Server) error {
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	log.Printf("Shutdown signal received, stopping scanner...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("WARN http shutdown: %v", err)
	}
	return nil
}

func buildCamera(cfg *Config) (scan.Camera, error) {
	switch cfg.Source {
	case "dir":
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("frame dir: %w", err)
		}
		return camera.NewDirSource(cfg.Dir), nil
	case "webcam":
		return camera.NewWebcam(cfg.Device), nil
	}
	return nil, fmt.Errorf("unknown source %q", cfg.Source)
}

func buildEngine(cfg *Config) (ocr.Engine, error) {
	tcfg := ocr.TesseractConfig{Language: cfg.Language, MinHeight: 600}
	switch cfg.Engine {
	case "tesseract":
		return ocr.NewTesseractEngine(tcfg), nil
	case "barcode":
		return ocr.NewBarcodeEngine(), nil
	case "cascade":
		return ocr.NewCascade(ocr.NewBarcodeEngine(), ocr.NewTesseractEngine(tcfg)), nil
	}
	return nil, fmt.Errorf("unknown engine %q", cfg.Engine)
}
