package scan

import (
	"context"
	"errors"
	"image"
	"strings"
	"sync"
	"testing"
	"time"

	"cardscan/pkg/ocr"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeCamera struct {
	mu      sync.Mutex
	openErr error
	opens   int
	closes  int
	open    bool
}

func (c *fakeCamera) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opens++
	if c.openErr != nil {
		return c.openErr
	}
	c.open = true
	return nil
}

func (c *fakeCamera) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeCamera) Frame() (image.Image, error) {
	if !c.Ready() {
		return nil, ErrFrameNotReady
	}
	return image.NewNRGBA(image.Rect(0, 0, 8, 8)), nil
}

func (c *fakeCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	c.open = false
	return nil
}

func (c *fakeCamera) Resolution() (int, int) { return 640, 480 }

func (c *fakeCamera) setOpenErr(err error) {
	c.mu.Lock()
	c.openErr = err
	c.mu.Unlock()
}

func (c *fakeCamera) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens, c.closes
}

// fakeEngine returns queued texts once each, then repeat (or "" when unset).
type fakeEngine struct {
	mu       sync.Mutex
	texts    []string
	repeat   string
	recErr   error
	initErr  error
	block    bool
	hang     chan struct{}
	inits    int
	closes   int
	requests int
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Init(ctx context.Context) error {
	e.mu.Lock()
	e.inits++
	block, hang, err := e.block, e.hang, e.initErr
	e.mu.Unlock()
	if hang != nil {
		<-hang
		return err
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (e *fakeEngine) Recognize(ctx context.Context, img image.Image, progress ocr.ProgressFunc) (ocr.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests++
	if progress != nil {
		progress(50)
	}
	if e.recErr != nil {
		return ocr.Result{}, e.recErr
	}
	text := e.repeat
	if len(e.texts) > 0 {
		text = e.texts[0]
		e.texts = e.texts[1:]
	}
	return ocr.Result{Text: text, Engine: "fake"}, nil
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	e.closes++
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) setInitErr(err error) {
	e.mu.Lock()
	e.initErr = err
	e.mu.Unlock()
}

func (e *fakeEngine) closeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closes
}

type recordingNotifier struct {
	ch chan Detection
}

func (n *recordingNotifier) Notify(ctx context.Context, d Detection) error {
	n.ch <- d
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TickInterval = time.Millisecond
	return cfg
}

func waitFor(t *testing.T, p *Pipeline, desc string, cond func(State) bool) State {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		st := p.Snapshot()
		if cond(st) {
			return st
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s, last state %+v", desc, p.Snapshot())
	return State{}
}

func hasDiag(st State, prefix string) bool {
	for _, d := range st.Diagnostics {
		if strings.HasPrefix(d, prefix) {
			return true
		}
	}
	return false
}

func TestPipelineScansCard(t *testing.T) {
	clock := &manualClock{now: t0}
	cam := &fakeCamera{}
	eng := &fakeEngine{texts: []string{"858 4111222233334444 #"}}
	notifier := &recordingNotifier{ch: make(chan Detection, 1)}
	p := New(testConfig(), cam, eng, WithClock(clock), WithNotifier(notifier))
	p.Start(context.Background())
	defer p.Stop()

	st := waitFor(t, p, "success", func(s State) bool { return s.Status == StatusSuccess })
	if st.Code != "4111222233334444" || st.DialCode() != "8584111222233334444#" {
		t.Fatalf("unexpected code %q dial %q", st.Code, st.DialCode())
	}
	if st.ScanCount != 1 || st.FrameColor != FrameSuccess {
		t.Fatalf("expected count 1 with success frame got %+v", st)
	}
	if !hasDiag(st, "camera resolution: 640x480") || !hasDiag(st, "card read: 4111222233334444") {
		t.Fatalf("missing diagnostics %v", st.Diagnostics)
	}

	select {
	case d := <-notifier.ch:
		if d.DialCode != "8584111222233334444#" || d.ScanCount != 1 || d.SessionID != st.SessionID {
			t.Fatalf("unexpected detection %+v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a notification")
	}

	clock.Advance(3000 * time.Millisecond)
	st = waitFor(t, p, "ready after hold", func(s State) bool {
		return s.Code == "" && s.Status != StatusSuccess
	})
	if st.LastCode != "4111222233334444" || st.ScanCount != 1 {
		t.Fatalf("expected last code kept got %+v", st)
	}
}

func TestPipelineCooldownAcrossFrames(t *testing.T) {
	clock := &manualClock{now: t0}
	cfg := testConfig()
	cfg.SuccessHold = 100 * time.Millisecond
	eng := &fakeEngine{repeat: "858123456789012#"}
	p := New(cfg, &fakeCamera{}, eng, WithClock(clock))
	p.Start(context.Background())
	defer p.Stop()

	waitFor(t, p, "first accept", func(s State) bool { return s.ScanCount == 1 })
	clock.Advance(time.Second)
	waitFor(t, p, "suppressed repeats", func(s State) bool {
		eng.mu.Lock()
		defer eng.mu.Unlock()
		return eng.requests >= 4
	})
	if st := p.Snapshot(); st.ScanCount != 1 {
		t.Fatalf("expected repeats inside cooldown ignored got count %d", st.ScanCount)
	}

	clock.Advance(1500 * time.Millisecond)
	waitFor(t, p, "second accept", func(s State) bool { return s.ScanCount == 2 })
}

func TestPipelineRecognitionErrorKeepsScanning(t *testing.T) {
	eng := &fakeEngine{recErr: errors.New("tesseract crashed")}
	p := New(testConfig(), &fakeCamera{}, eng)
	p.Start(context.Background())
	defer p.Stop()

	st := waitFor(t, p, "error diagnostic", func(s State) bool {
		return hasDiag(s, "OCR error: tesseract crashed")
	})
	if st.Status.Terminal() || st.ErrorMessage != "" {
		t.Fatalf("expected recognition error absorbed got %+v", st)
	}
}

func TestPipelineCameraDeniedThenRetry(t *testing.T) {
	cam := &fakeCamera{openErr: ErrPermissionDenied}
	p := New(testConfig(), cam, &fakeEngine{})
	p.Start(context.Background())
	defer p.Stop()

	st := waitFor(t, p, "permission denied", func(s State) bool { return s.Status == StatusPermissionDenied })
	if st.ErrorMessage == "" {
		t.Fatalf("expected an error message")
	}
	first := st.SessionID

	cam.setOpenErr(nil)
	if err := p.Retry(); err != nil {
		t.Fatalf("retry: %v", err)
	}
	st = waitFor(t, p, "ready after retry", func(s State) bool { return s.Status == StatusReady })
	if st.SessionID == first {
		t.Fatalf("expected a new session")
	}
	if hasDiag(st, "camera error:") {
		t.Fatalf("expected diagnostics cleared by retry got %v", st.Diagnostics)
	}
	if opens, _ := cam.counts(); opens != 2 {
		t.Fatalf("expected two open attempts got %d", opens)
	}
}

func TestPipelineEngineTimeoutNeedsReload(t *testing.T) {
	cfg := testConfig()
	cfg.EngineLoadTimeout = 20 * time.Millisecond
	eng := &fakeEngine{block: true}
	cam := &fakeCamera{}
	p := New(cfg, cam, eng)
	p.Start(context.Background())
	defer p.Stop()

	st := waitFor(t, p, "ocr-error", func(s State) bool { return s.Status == StatusOCRError })
	if !strings.Contains(st.ErrorMessage, "timeout") {
		t.Fatalf("expected timeout message got %q", st.ErrorMessage)
	}
	if err := p.Retry(); !errors.Is(err, ErrRetryNotAllowed) {
		t.Fatalf("expected retry refused got %v", err)
	}

	eng.mu.Lock()
	eng.block = false
	eng.mu.Unlock()
	if err := p.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	waitFor(t, p, "ready after reload", func(s State) bool { return s.Status == StatusReady })
	if _, closes := cam.counts(); closes != 1 {
		t.Fatalf("expected first camera stream released got %d closes", closes)
	}
	if eng.closeCount() != 1 {
		t.Fatalf("expected engine released once got %d", eng.closeCount())
	}
}

func TestPipelineReloadAfterInitIgnoringContext(t *testing.T) {
	cfg := testConfig()
	cfg.EngineLoadTimeout = 20 * time.Millisecond
	hang := make(chan struct{})
	eng := &fakeEngine{hang: hang}
	cam := &fakeCamera{}
	p := New(cfg, cam, eng)
	p.Start(context.Background())

	waitFor(t, p, "ocr-error", func(s State) bool { return s.Status == StatusOCRError })

	reloaded := make(chan error, 1)
	go func() { reloaded <- p.Reload() }()
	select {
	case err := <-reloaded:
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("reload blocked behind a hung engine init")
	}
	if _, closes := cam.counts(); closes < 1 {
		t.Fatalf("expected camera released on reload")
	}
	// the first Init is still running, so the new session times out waiting for it
	waitFor(t, p, "ocr-error again", func(s State) bool { return s.Status == StatusOCRError })
	if eng.closeCount() != 0 {
		t.Fatalf("expected engine left open while init is running got %d closes", eng.closeCount())
	}

	eng.mu.Lock()
	eng.hang = nil
	eng.mu.Unlock()
	close(hang)
	deadline := time.Now().Add(2 * time.Second)
	for eng.closeCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if eng.closeCount() != 1 {
		t.Fatalf("expected engine closed once the abandoned init returned got %d", eng.closeCount())
	}

	if err := p.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	waitFor(t, p, "ready after init recovers", func(s State) bool { return s.Status == StatusReady })

	stopped := make(chan struct{})
	go func() { p.Stop(); close(stopped) }()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("stop blocked")
	}
}

func TestPipelineReloadClearsCounter(t *testing.T) {
	eng := &fakeEngine{texts: []string{"858123456789012#"}}
	p := New(testConfig(), &fakeCamera{}, eng)
	p.Start(context.Background())
	defer p.Stop()

	waitFor(t, p, "accept", func(s State) bool { return s.ScanCount == 1 })
	if err := p.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	st := waitFor(t, p, "ready after reload", func(s State) bool { return s.Status == StatusReady })
	if st.ScanCount != 0 || st.LastCode != "" || st.Code != "" {
		t.Fatalf("expected counter and codes cleared got %+v", st)
	}
}

func TestPipelineStopReleases(t *testing.T) {
	cam := &fakeCamera{}
	eng := &fakeEngine{}
	p := New(testConfig(), cam, eng)
	p.Start(context.Background())
	p.Start(context.Background())
	waitFor(t, p, "ready", func(s State) bool { return s.Status == StatusReady || s.Status == StatusScanning })
	p.Stop()
	p.Stop()

	if _, closes := cam.counts(); closes != 1 {
		t.Fatalf("expected camera closed once got %d", closes)
	}
	if eng.closeCount() != 1 {
		t.Fatalf("expected engine closed once got %d", eng.closeCount())
	}
	if err := p.Retry(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning got %v", err)
	}
	st := p.Snapshot()
	if !hasDiag(st, "camera stream stopped") || !hasDiag(st, "OCR engine released") {
		t.Fatalf("expected release diagnostics got %v", st.Diagnostics)
	}
}

func TestPipelineDialAndCopy(t *testing.T) {
	eng := &fakeEngine{texts: []string{"858123456789012#"}}
	p := New(testConfig(), &fakeCamera{}, eng, WithClock(&manualClock{now: t0}))
	ctx := context.Background()

	var dialed string
	dialer := DialerFunc(func(ctx context.Context, code string) error { dialed = code; return nil })
	if err := p.Dial(ctx, dialer); !errors.Is(err, ErrNoDialCode) {
		t.Fatalf("expected ErrNoDialCode got %v", err)
	}

	p.Start(ctx)
	defer p.Stop()
	waitFor(t, p, "success", func(s State) bool { return s.Status == StatusSuccess })

	if err := p.Dial(ctx, dialer); err != nil {
		t.Fatalf("dial: %v", err)
	}
	if dialed != "858123456789012#" {
		t.Fatalf("expected dial code got %q", dialed)
	}
	var copied string
	clip := ClipboardFunc(func(ctx context.Context, text string) error { copied = text; return nil })
	if err := p.CopyCode(ctx, clip); err != nil || copied != "858123456789012#" {
		t.Fatalf("expected copied dial code got %q err %v", copied, err)
	}
	if st := p.Snapshot(); st.Status != StatusSuccess {
		t.Fatalf("expected dial and copy to leave state alone got %s", st.Status)
	}
}

func TestPipelineSubscribe(t *testing.T) {
	eng := &fakeEngine{texts: []string{"858123456789012#"}}
	p := New(testConfig(), &fakeCamera{}, eng, WithClock(&manualClock{now: t0}))
	ch, cancel := p.Subscribe()
	defer cancel()

	first := <-ch
	if first.Status != StatusBooting {
		t.Fatalf("expected initial snapshot booting got %s", first.Status)
	}
	p.Start(context.Background())
	defer p.Stop()

	timeout := time.After(3 * time.Second)
	for {
		select {
		case st := <-ch:
			if st.Status == StatusSuccess {
				return
			}
		case <-timeout:
			t.Fatalf("expected a success snapshot")
		}
	}
}
