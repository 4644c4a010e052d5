package scan

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"cardscan/pkg/ocr"
)

// DefaultEngineLoadTimeout bounds OCR engine initialization.
const DefaultEngineLoadTimeout = 60 * time.Second

// DefaultTickInterval approximates a 60 Hz display refresh.
const DefaultTickInterval = 16 * time.Millisecond

// Clock supplies wall-clock time; tests inject a manual one.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Detection describes one accepted scan.
type Detection struct {
	SessionID string    `json:"session_id"`
	Code      string    `json:"code"`
	DialCode  string    `json:"dial_code"`
	ScanCount int       `json:"scan_count"`
	At        time.Time `json:"at"`
}

// Notifier is told about every accepted scan. Failures are logged only.
type Notifier interface {
	Notify(ctx context.Context, d Detection) error
}

// Dialer performs the telephony action for a dial code.
type Dialer interface {
	Dial(ctx context.Context, dialCode string) error
}

// Clipboard receives a copied dial code.
type Clipboard interface {
	Copy(ctx context.Context, text string) error
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, dialCode string) error

func (f DialerFunc) Dial(ctx context.Context, dialCode string) error { return f(ctx, dialCode) }

// ClipboardFunc adapts a function to Clipboard.
type ClipboardFunc func(ctx context.Context, text string) error

func (f ClipboardFunc) Copy(ctx context.Context, text string) error { return f(ctx, text) }

// Config holds pipeline timings.
type Config struct {
	TickInterval      time.Duration
	SampleEvery       int
	Cooldown          time.Duration
	SuccessHold       time.Duration
	EngineLoadTimeout time.Duration
	DiagnosticLimit   int
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		TickInterval:      DefaultTickInterval,
		SampleEvery:       SampleEvery,
		Cooldown:          DefaultCooldown,
		SuccessHold:       DefaultSuccessHold,
		EngineLoadTimeout: DefaultEngineLoadTimeout,
		DiagnosticLimit:   DefaultDiagnosticLimit,
	}
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithClock replaces the wall clock used for cooldown and hold timing.
func WithClock(c Clock) Option { return func(p *Pipeline) { p.clock = c } }

// WithNotifier registers a Notifier for accepted scans.
func WithNotifier(n Notifier) Option { return func(p *Pipeline) { p.notifier = n } }

type envelope struct {
	session string
	ev      Event
}

type commandKind int

const (
	cmdRetry commandKind = iota
	cmdReload
)

type command struct {
	kind  commandKind
	reply chan error
}

// session owns the resources acquired by one start.
type session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	cameraOpen    bool
	engineStarted bool
}

func (s *session) markCamera() {
	s.mu.Lock()
	s.cameraOpen = true
	s.mu.Unlock()
}

func (s *session) markEngine() {
	s.mu.Lock()
	s.engineStarted = true
	s.mu.Unlock()
}

// Pipeline turns camera frames into accepted card codes. State is mutated
// only by the loop goroutine; OCR and acquisition run in helper goroutines
// that report back through events.
type Pipeline struct {
	cfg      Config
	camera   Camera
	engine   ocr.Engine
	clock    Clock
	notifier Notifier
	reducer  Reducer
	governor Governor

	mu     sync.RWMutex
	state  State
	subs   map[int]chan State
	nextID int

	events chan envelope
	cmds   chan command
	busy   atomic.Bool
	ticks  int
	sess   *session

	// stale is closed once an abandoned engine Init has returned and the
	// engine has been closed behind it.
	engineMu sync.Mutex
	stale    chan struct{}

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a pipeline around a camera and an OCR engine. Nothing is
// acquired until Start.
func New(cfg Config, camera Camera, engine ocr.Engine, opts ...Option) *Pipeline {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.SampleEvery <= 0 {
		cfg.SampleEvery = def.SampleEvery
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.SuccessHold <= 0 {
		cfg.SuccessHold = def.SuccessHold
	}
	if cfg.EngineLoadTimeout <= 0 {
		cfg.EngineLoadTimeout = def.EngineLoadTimeout
	}
	if cfg.DiagnosticLimit <= 0 {
		cfg.DiagnosticLimit = def.DiagnosticLimit
	}
	p := &Pipeline{
		cfg:    cfg,
		camera: camera,
		engine: engine,
		clock:  systemClock{},
		reducer: Reducer{
			Gate:            Gate{Cooldown: cfg.Cooldown},
			SuccessHold:     cfg.SuccessHold,
			DiagnosticLimit: cfg.DiagnosticLimit,
		},
		governor: Governor{Every: cfg.SampleEvery},
		state:    NewState(),
		subs:     map[int]chan State{},
		events:   make(chan envelope, 64),
		cmds:     make(chan command),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start launches the loop and begins acquisition. Calling Start on a running
// pipeline does nothing.
func (p *Pipeline) Start(ctx context.Context) {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(loopCtx, p.done)
}

// Stop ends the loop and releases the camera and the engine. It blocks until
// in-flight work has returned.
func (p *Pipeline) Stop() {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if !p.running {
		return
	}
	p.cancel()
	<-p.done
	p.running = false
}

// Run starts the pipeline and blocks until ctx is done.
func (p *Pipeline) Run(ctx context.Context) error {
	p.Start(ctx)
	<-ctx.Done()
	p.Stop()
	return ctx.Err()
}

// Snapshot returns a copy of the current state.
func (p *Pipeline) Snapshot() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.Clone()
}

// Subscribe returns a channel that receives a snapshot after every change.
// Slow readers only see the latest state. Call the returned func to stop.
func (p *Pipeline) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = ch
	ch <- p.state.Clone()
	p.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
		})
	}
}

// Retry resets and restarts acquisition. It is refused where only Reload helps.
func (p *Pipeline) Retry() error { return p.do(cmdRetry) }

// Reload discards all state, including the scan counter, and restarts.
func (p *Pipeline) Reload() error { return p.do(cmdReload) }

// Dial hands the current dial code to d without changing state.
func (p *Pipeline) Dial(ctx context.Context, d Dialer) error {
	code := p.Snapshot().DialCode()
	if code == "" {
		return ErrNoDialCode
	}
	return d.Dial(ctx, code)
}

// CopyCode hands the current dial code to c without changing state.
func (p *Pipeline) CopyCode(ctx context.Context, c Clipboard) error {
	code := p.Snapshot().DialCode()
	if code == "" {
		return ErrNoDialCode
	}
	return c.Copy(ctx, code)
}

func (p *Pipeline) do(kind commandKind) error {
	p.runMu.Lock()
	running, done := p.running, p.done
	p.runMu.Unlock()
	if !running {
		return ErrNotRunning
	}
	c := command{kind: kind, reply: make(chan error, 1)}
	select {
	case p.cmds <- c:
	case <-done:
		return ErrNotRunning
	}
	select {
	case err := <-c.reply:
		return err
	case <-done:
		return ErrNotRunning
	}
}

func (p *Pipeline) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	p.beginSession(Reset{})
	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.endSession()
			return
		case env := <-p.events:
			if p.sess != nil && env.session == p.sess.id {
				p.dispatch(env.ev)
			}
		case c := <-p.cmds:
			c.reply <- p.handle(c)
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Pipeline) handle(c command) error {
	switch c.kind {
	case cmdRetry:
		if !p.state.Status.Retryable() {
			return ErrRetryNotAllowed
		}
		p.dispatch(Diagnostic{Message: "retrying"})
		p.endSession()
		p.beginSession(Reset{ClearDiagnostics: true})
	case cmdReload:
		p.dispatch(Diagnostic{Message: "reloading"})
		p.endSession()
		p.beginSession(Reset{Hard: true})
	}
	return nil
}

func (p *Pipeline) beginSession(reset Reset) {
	sctx, cancel := context.WithCancel(context.Background())
	s := &session{id: uuid.NewString(), ctx: sctx, cancel: cancel}
	p.sess = s
	p.ticks = 0
	reset.SessionID = s.id
	p.dispatch(reset)
	p.dispatch(Started{SessionID: s.id})
	s.wg.Add(1)
	go p.acquire(s)
}

// endSession cancels in-flight work, waits for it and releases whatever the
// session acquired.
func (p *Pipeline) endSession() {
	s := p.sess
	if s == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.mu.Lock()
	engineStarted, cameraOpen := s.engineStarted, s.cameraOpen
	s.mu.Unlock()
	if engineStarted {
		if err := p.engine.Close(); err != nil {
			log.Printf("WARN engine close session=%s: %v", s.id, err)
		}
		p.dispatch(Diagnostic{Message: "OCR engine released"})
	}
	if cameraOpen {
		if err := p.camera.Close(); err != nil {
			log.Printf("WARN camera close session=%s: %v", s.id, err)
		}
		p.dispatch(Diagnostic{Message: "camera stream stopped"})
	}
	p.busy.Store(false)
	p.sess = nil
}

func (p *Pipeline) acquire(s *session) {
	defer s.wg.Done()
	if err := p.camera.Open(s.ctx); err != nil {
		p.emit(s, CameraFailed{Err: err})
		return
	}
	s.markCamera()
	var w, h int
	if d, ok := p.camera.(Describer); ok {
		w, h = d.Resolution()
	}
	p.emit(s, CameraGranted{Width: w, Height: h})
	p.emit(s, EngineLoading{Engine: p.engine.Name()})
	if err := p.initEngine(s); err != nil {
		p.emit(s, EngineFailed{Err: err})
		return
	}
	p.emit(s, EngineReady{Engine: p.engine.Name()})
}

func (p *Pipeline) initEngine(s *session) error {
	ctx, cancel := context.WithTimeout(s.ctx, p.cfg.EngineLoadTimeout)
	defer cancel()

	p.engineMu.Lock()
	stale := p.stale
	p.engineMu.Unlock()
	if stale != nil {
		select {
		case <-stale:
		case <-ctx.Done():
			return p.initAborted(s)
		}
	}

	s.markEngine()
	errc := make(chan error, 1)
	go func() {
		errc <- p.engine.Init(ctx)
	}()
	select {
	case err := <-errc:
		if err != nil && !ocr.IsInitError(err) {
			err = &ocr.EngineError{Op: "init", Engine: p.engine.Name(), Err: err}
		}
		return err
	case <-ctx.Done():
		p.abandonInit(s, errc)
		return p.initAborted(s)
	}
}

// abandonInit hands a still running Init to a goroutine that closes the
// engine once Init returns, so the session can be torn down without waiting.
func (p *Pipeline) abandonInit(s *session, errc <-chan error) {
	s.mu.Lock()
	s.engineStarted = false
	s.mu.Unlock()
	done := make(chan struct{})
	p.engineMu.Lock()
	p.stale = done
	p.engineMu.Unlock()
	go func() {
		defer close(done)
		err := <-errc
		if cerr := p.engine.Close(); cerr != nil {
			log.Printf("WARN engine close after abandoned init session=%s: %v", s.id, cerr)
		}
		log.Printf("OCR abandoned init returned session=%s err=%v", s.id, err)
		p.engineMu.Lock()
		if p.stale == done {
			p.stale = nil
		}
		p.engineMu.Unlock()
	}()
}

func (p *Pipeline) initAborted(s *session) error {
	if s.ctx.Err() != nil {
		return s.ctx.Err()
	}
	return fmt.Errorf("%w after %v", ErrEngineLoadTimeout, p.cfg.EngineLoadTimeout)
}

// emit delivers an event to the loop unless the session has ended.
func (p *Pipeline) emit(s *session, ev Event) {
	select {
	case p.events <- envelope{session: s.id, ev: ev}:
	case <-s.ctx.Done():
	}
}

func (p *Pipeline) tick() {
	p.dispatch(Tick{At: p.clock.Now()})
	st := p.state
	if st.Status != StatusReady || !st.OCRReady || p.busy.Load() || p.sess == nil {
		return
	}
	p.ticks++
	if !p.governor.ShouldSample(p.ticks, p.busy.Load(), st.OCRReady, p.camera.Ready()) {
		return
	}
	img, err := p.camera.Frame()
	if err != nil {
		if !errors.Is(err, ErrFrameNotReady) {
			p.dispatch(Diagnostic{Message: "frame error: " + err.Error()})
		}
		return
	}
	s := p.sess
	p.busy.Store(true)
	p.dispatch(ScanStarted{})
	s.wg.Add(1)
	go p.recognize(s, img)
}

func (p *Pipeline) recognize(s *session, img image.Image) {
	defer s.wg.Done()
	defer p.busy.Store(false)
	frame := ocr.Preprocess(ocr.Frame(img))
	res, err := p.engine.Recognize(s.ctx, frame, func(pct int) {
		p.emit(s, Progress{Percent: pct})
	})
	at := p.clock.Now()
	if err != nil {
		p.emit(s, RecognitionFailed{Err: err, At: at})
		return
	}
	p.emit(s, Recognized{Text: res.Text, At: at})
}

func (p *Pipeline) dispatch(ev Event) {
	p.mu.Lock()
	before := p.state
	p.state = p.reducer.Reduce(p.state, ev)
	after := p.state
	snap := after.Clone()
	for _, ch := range p.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
	p.mu.Unlock()

	logDiagnostics(before, after)
	if after.ScanCount > before.ScanCount && after.Status == StatusSuccess {
		p.notify(after)
	}
}

func logDiagnostics(before, after State) {
	added := after.DiagnosticsTotal - before.DiagnosticsTotal
	if added <= 0 {
		return
	}
	if added > len(after.Diagnostics) {
		added = len(after.Diagnostics)
	}
	for _, d := range after.Diagnostics[len(after.Diagnostics)-added:] {
		log.Printf("SCAN session=%s status=%s %s", after.SessionID, after.Status, d)
	}
}

func (p *Pipeline) notify(st State) {
	if p.notifier == nil || p.sess == nil {
		return
	}
	s := p.sess
	d := Detection{
		SessionID: st.SessionID,
		Code:      st.Code,
		DialCode:  st.DialCode(),
		ScanCount: st.ScanCount,
		At:        st.LastAcceptedAt,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		defer cancel()
		if err := p.notifier.Notify(ctx, d); err != nil {
			log.Printf("WARN notify code=%s: %v", d.Code, err)
		}
	}()
}
