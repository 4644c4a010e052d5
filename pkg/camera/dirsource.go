package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/fsnotify/fsnotify"

	"cardscan/pkg/scan"
)

const (
	defaultSettle = 300 * time.Millisecond
	pollInterval  = 250 * time.Millisecond
)

// DirSource serves the newest image dropped into a directory as the live
// frame. Capture tools (or tests) write frames there; files are picked up
// once they stop changing.
type DirSource struct {
	Dir string
	// Settle is how long a file must stay unmodified before it is loaded.
	Settle time.Duration

	mu      sync.RWMutex
	frame   image.Image
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewDirSource returns a source watching dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{Dir: dir, Settle: defaultSettle}
}

// Open starts watching the directory and loads the newest existing frame.
func (d *DirSource) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(d.Dir)
	if err != nil {
		return classifyFSError(d.Dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory: %w", d.Dir, scan.ErrDeviceNotFound)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: %w", scan.ErrUnsupported)
	}
	if err := w.Add(d.Dir); err != nil {
		w.Close()
		return classifyFSError(d.Dir, err)
	}

	d.mu.Lock()
	d.watcher = w
	d.done = make(chan struct{})
	d.frame = nil
	d.mu.Unlock()

	if files := listImageFiles(d.Dir); len(files) > 0 {
		d.load(files[len(files)-1])
	}
	go d.watch(w, d.done)
	log.Printf("Watching %s for frames (debounced) ...", d.Dir)
	return nil
}

func (d *DirSource) watch(w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	settle := d.Settle
	if settle <= 0 {
		settle = defaultSettle
	}
	pending := map[string]time.Time{}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if !isSupportedExt(name) {
				continue
			}
			pending[name] = time.Now()
		case <-ticker.C:
			now := time.Now()
			var stable []string
			for name, t := range pending {
				if now.Sub(t) > settle {
					stable = append(stable, name)
					delete(pending, name)
				}
			}
			sort.Strings(stable)
			for _, name := range stable {
				d.load(name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Printf("watch error: %v", err)
		}
	}
}

func (d *DirSource) load(name string) {
	img, err := imaging.Open(filepath.Join(d.Dir, name))
	if err != nil {
		log.Printf("WARN frame %s: %v", name, err)
		return
	}
	d.mu.Lock()
	d.frame = img
	d.mu.Unlock()
	log.Printf("FRAME loaded %s (%dx%d)", name, img.Bounds().Dx(), img.Bounds().Dy())
}

// Ready reports whether a frame has been loaded.
func (d *DirSource) Ready() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.frame != nil
}

// Frame returns the newest loaded frame.
func (d *DirSource) Frame() (image.Image, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.frame == nil {
		return nil, scan.ErrFrameNotReady
	}
	return d.frame, nil
}

// Resolution reports the size of the current frame, or zero before one loads.
func (d *DirSource) Resolution() (int, int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.frame == nil {
		return 0, 0
	}
	b := d.frame.Bounds()
	return b.Dx(), b.Dy()
}

// Close stops watching. It is safe to call more than once.
func (d *DirSource) Close() error {
	d.mu.Lock()
	w, done := d.watcher, d.done
	d.watcher = nil
	d.mu.Unlock()
	if w == nil {
		return nil
	}
	err := w.Close()
	<-done
	d.mu.Lock()
	d.frame = nil
	d.mu.Unlock()
	return err
}

func classifyFSError(dir string, err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%s: %w", dir, scan.ErrDeviceNotFound)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%s: %w", dir, scan.ErrPermissionDenied)
	}
	return fmt.Errorf("%s: %v: %w", dir, err, scan.ErrDeviceBusy)
}

func listImageFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !isSupportedExt(e.Name()) {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out
}

func isSupportedExt(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff":
		return true
	}
	return false
}
