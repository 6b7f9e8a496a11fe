// Package bridge owns the link between the host page and the embedded
// worker: it finds the target frame, delivers the worker payload into it and
// answers operator commands by talking to the worker over a channel.
package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/fpt/framebridge/internal/channel"
	"github.com/fpt/framebridge/internal/detector"
	"github.com/fpt/framebridge/internal/metrics"
	"github.com/fpt/framebridge/pkg/dom"
	pkgLogger "github.com/fpt/framebridge/pkg/logger"
)

// Page is the live host document the coordinator watches.
type Page interface {
	dom.Document
	Observe(fn func(dom.Mutation)) (cancel func())
}

// Finder runs a full target search.
type Finder interface {
	FindWithReport(ctx context.Context, root dom.Document) (dom.Element, detector.Report, error)
	Config() detector.Config
}

// Config controls the coordinator.
type Config struct {
	WorkerScriptURL string
	ReplyTimeout    time.Duration
	RecheckInterval time.Duration
	// QuickSelector is the cheap lookup run when the page gains nodes.
	QuickSelector string
}

// DefaultConfig returns the default timings.
func DefaultConfig() Config {
	return Config{
		WorkerScriptURL: "http://127.0.0.1:8765/static/iframe-worker.js",
		ReplyTimeout:    time.Second,
		RecheckInterval: 10 * time.Second,
		QuickSelector:   detector.DefaultQuickSelector,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.WorkerScriptURL == "" {
		return errors.New("worker script url is required")
	}
	if c.ReplyTimeout <= 0 {
		return errors.New("reply timeout must be positive")
	}
	if c.RecheckInterval <= 0 {
		return errors.New("recheck interval must be positive")
	}
	if c.QuickSelector == "" {
		return errors.New("quick selector is required")
	}
	return nil
}

// Handle is the claimed target frame.
type Handle struct {
	Element   dom.Element
	Via       string // startup, observer or recheck
	ClaimedAt time.Time
}

// InjectionState tracks payload delivery into the claimed frame.
type InjectionState string

const (
	InjectionIdle    InjectionState = "idle"
	InjectionPending InjectionState = "pending"
	InjectionScript  InjectionState = "injected"
	InjectionInline  InjectionState = "injected-inline"
	InjectionFailed  InjectionState = "failed"
)

// Coordinator holds the target handle and the channel to the worker.
type Coordinator struct {
	cfg      Config
	page     Page
	finder   Finder
	port     channel.Port
	registry *Registry
	logger   *pkgLogger.Logger

	handle atomic.Pointer[Handle]

	mu            sync.Mutex
	enabled       bool
	hiddenCount   int
	injection     InjectionState
	lastDetection *detector.Report
	runCtx        context.Context
	stopDiscovery context.CancelFunc
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator logger.
func WithLogger(l *pkgLogger.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l.WithComponent("coordinator")
	}
}

// New builds a coordinator. It does nothing until Run is called.
func New(cfg Config, page Page, finder Finder, port channel.Port, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid bridge config")
	}
	if page == nil || finder == nil || port == nil {
		return nil, errors.New("page, finder and port are required")
	}
	c := &Coordinator{
		cfg:       cfg,
		page:      page,
		finder:    finder,
		port:      port,
		registry:  NewRegistry(metrics.SetPending),
		logger:    pkgLogger.NewComponentLogger("coordinator"),
		enabled:   true,
		injection: InjectionIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run searches for the target once, falls back to passive discovery when
// the search fails and pumps inbound messages until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.runCtx != nil {
		c.mu.Unlock()
		return errors.New("coordinator already running")
	}
	c.runCtx = ctx
	c.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.pump(ctx)
	}()

	c.startup(ctx)

	<-ctx.Done()
	c.haltDiscovery()
	wg.Wait()
	c.logger.InfoWithIntention(pkgLogger.IntentionStatus, "Coordinator stopped")
	return nil
}

func (c *Coordinator) startup(ctx context.Context) {
	el, report, err := c.finder.FindWithReport(ctx, c.page)
	c.recordDetection(report)
	if err == nil {
		c.claim(ctx, el, "startup")
		return
	}
	if ctx.Err() != nil {
		return
	}
	if errors.Is(err, detector.ErrBoundaryDenied) {
		c.logger.Warn("Target content is isolated, falling back to passive discovery", "error", err)
	} else {
		c.logger.InfoWithIntention(pkgLogger.IntentionObserve, "Target not found, falling back to passive discovery", "error", err)
	}
	c.startDiscovery(ctx, false)
}

// startDiscovery subscribes to page mutations and starts the periodic
// re-check. Both stop once a handle is claimed or ctx ends.
func (c *Coordinator) startDiscovery(parent context.Context, immediate bool) {
	ctx, cancel := context.WithCancel(parent)
	c.mu.Lock()
	if c.stopDiscovery != nil {
		c.stopDiscovery()
	}
	c.stopDiscovery = cancel
	c.mu.Unlock()

	unobserve := c.page.Observe(func(m dom.Mutation) {
		if m.AddedNodes == 0 || ctx.Err() != nil {
			return
		}
		c.quickLookup(ctx)
	})
	go func() {
		<-ctx.Done()
		unobserve()
	}()
	go c.recheckLoop(ctx, immediate)

	c.logger.InfoWithIntention(pkgLogger.IntentionObserve, "Passive discovery started",
		"selector", c.cfg.QuickSelector, "interval", c.cfg.RecheckInterval)
}

func (c *Coordinator) haltDiscovery() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopDiscovery != nil {
		c.stopDiscovery()
		c.stopDiscovery = nil
	}
}

func (c *Coordinator) quickLookup(ctx context.Context) {
	if c.handle.Load() != nil {
		return
	}
	found := c.page.QueryAll(c.cfg.QuickSelector)
	if len(found) == 0 {
		return
	}
	c.logger.InfoWithIntention(pkgLogger.IntentionObserve, "Target appeared in page mutation",
		"id", found[0].ID(), "src", detector.Abbreviate(found[0].Src(), 100))
	c.claim(ctx, found[0], "observer")
}

func (c *Coordinator) recheckLoop(ctx context.Context, immediate bool) {
	if immediate && c.recheck(ctx) {
		return
	}

	ticker := time.NewTicker(c.cfg.RecheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.recheck(ctx) {
				return
			}
		}
	}
}

// recheck runs a full search while no handle is held. It reports whether
// the loop should stop.
func (c *Coordinator) recheck(ctx context.Context) bool {
	if c.handle.Load() != nil {
		return true
	}
	c.logger.DebugWithIntention(pkgLogger.IntentionDetect, "Periodic target re-check")
	el, report, err := c.finder.FindWithReport(ctx, c.page)
	if ctx.Err() != nil {
		return true
	}
	c.recordDetection(report)
	if err != nil {
		return false
	}
	c.claim(ctx, el, "recheck")
	return true
}

// claim stores el as the handle unless one is already held. Only the
// winner delivers the payload.
func (c *Coordinator) claim(ctx context.Context, el dom.Element, via string) bool {
	h := &Handle{Element: el, Via: via, ClaimedAt: time.Now()}
	if !c.handle.CompareAndSwap(nil, h) {
		c.logger.Debug("Target already claimed, dropping candidate", "via", via)
		return false
	}
	c.logger.InfoWithIntention(pkgLogger.IntentionSuccess, "Target claimed", "via", via, "id", el.ID())
	c.haltDiscovery()
	c.inject(c.baseContext(ctx), h)
	return true
}

// baseContext returns the Run context, which outlives discovery contexts.
func (c *Coordinator) baseContext(fallback context.Context) context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runCtx != nil {
		return c.runCtx
	}
	return fallback
}

// Reset drops the handle and restarts discovery with an immediate search.
func (c *Coordinator) Reset() {
	c.handle.Store(nil)
	c.mu.Lock()
	c.injection = InjectionIdle
	runCtx := c.runCtx
	c.mu.Unlock()

	c.logger.InfoWithIntention(pkgLogger.IntentionStatus, "Handle reset, rediscovering target")
	if runCtx == nil || runCtx.Err() != nil {
		return
	}
	c.startDiscovery(runCtx, true)
}

// Handle returns the claimed target, or nil.
func (c *Coordinator) Handle() *Handle {
	return c.handle.Load()
}

func (c *Coordinator) recordDetection(report detector.Report) {
	if report.Started.IsZero() {
		return
	}
	c.mu.Lock()
	c.lastDetection = &report
	c.mu.Unlock()
	metrics.ObserveDetection(report.Elapsed, report.Outcome.String())
}

// Status is the short state summary.
type Status struct {
	IframeFound     bool   `json:"iframeFound"`
	Enabled         bool   `json:"enabled"`
	HiddenCount     int    `json:"hiddenCount"`
	WorkerScriptURL string `json:"workerScriptUrl"`
}

// Status returns the current state summary.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		IframeFound:     c.handle.Load() != nil,
		Enabled:         c.enabled,
		HiddenCount:     c.hiddenCount,
		WorkerScriptURL: c.cfg.WorkerScriptURL,
	}
}
