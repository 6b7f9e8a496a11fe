// Package detector searches a host document for the embedded deal frame.
//
// A search runs four stages in order: container lookup, target lookup,
// validation and load wait. Container, target and load stages retry under
// their own RetryPolicy; validation runs once per discovered element.
package detector

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fpt/framebridge/pkg/dom"
	pkgLogger "github.com/fpt/framebridge/pkg/logger"
	"github.com/pkg/errors"
)

// Attempt describes one try of a retried stage.
type Attempt struct {
	Stage  Stage
	Number int // 1-based
	Wait   time.Duration
}

// AttemptObserver is called before every attempt of a retried stage.
type AttemptObserver func(Attempt)

// Report summarizes one Find call.
type Report struct {
	Started  time.Time
	Elapsed  time.Duration
	Stage    Stage // last stage entered
	Attempts map[Stage]int
	Outcome  Outcome
}

// session is the per-call detection state.
type session struct {
	started  time.Time
	stage    Stage
	attempts map[Stage]int
}

// Detector runs searches. It keeps no reference to a found element.
type Detector struct {
	cfg      Config
	logger   *pkgLogger.Logger
	observer AttemptObserver
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the detector logger.
func WithLogger(l *pkgLogger.Logger) Option {
	return func(d *Detector) {
		d.logger = l.WithComponent("detector")
	}
}

// WithAttemptObserver registers an observer for stage attempts.
func WithAttemptObserver(o AttemptObserver) Option {
	return func(d *Detector) {
		d.observer = o
	}
}

// New validates cfg and returns a Detector.
func New(cfg Config, opts ...Option) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid detector config")
	}
	d := &Detector{cfg: cfg, logger: pkgLogger.NewComponentLogger("detector")}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Config returns the detector configuration.
func (d *Detector) Config() Config {
	return d.cfg
}

// Find returns a validated, loaded target element. It returns an error
// matching ErrNotFound when a stage gives up, ErrBoundaryDenied when the
// target's content is isolated, or the context error when cancelled.
func (d *Detector) Find(ctx context.Context, root dom.Document) (dom.Element, error) {
	el, _, err := d.FindWithReport(ctx, root)
	return el, err
}

// FindWithReport is Find plus a summary of the search.
func (d *Detector) FindWithReport(ctx context.Context, root dom.Document) (dom.Element, Report, error) {
	s := &session{started: time.Now(), attempts: make(map[Stage]int)}
	d.logger.InfoWithIntention(pkgLogger.IntentionDetect, "Starting target search", "max_wait", d.cfg.MaxWait())

	el, err := d.find(ctx, s, root)

	report := Report{
		Started:  s.started,
		Elapsed:  time.Since(s.started),
		Stage:    s.stage,
		Attempts: s.attempts,
		Outcome:  Classify(err),
	}
	if err != nil {
		d.logger.Warn("Target search failed", "stage", s.stage, "outcome", report.Outcome, "elapsed", report.Elapsed, "error", err)
		return nil, report, err
	}
	d.logger.InfoWithIntention(pkgLogger.IntentionSuccess, "Target search finished",
		"elapsed", report.Elapsed, "id", el.ID(), "src", Abbreviate(el.Src(), 100))
	return el, report, nil
}

func (d *Detector) find(ctx context.Context, s *session, root dom.Document) (dom.Element, error) {
	container, err := d.findContainer(ctx, s, root)
	if err != nil {
		return nil, err
	}
	target, err := d.findTarget(ctx, s, container)
	if err != nil {
		return nil, err
	}
	if err := d.validate(s, target); err != nil {
		return nil, err
	}
	if err := d.waitForLoad(ctx, s, target); err != nil {
		return nil, err
	}
	return target, nil
}

func (d *Detector) findContainer(ctx context.Context, s *session, root dom.Document) (dom.Element, error) {
	d.logger.DebugWithIntention(pkgLogger.IntentionDetect, "Stage 1: container search", "selector", d.cfg.ContainerSelector)
	el, err := runStage(ctx, d, s, StageContainer, d.cfg.ContainerPolicy, func(n int) (dom.Element, error) {
		found := root.QueryAll(d.cfg.ContainerSelector)
		d.logger.Debug("Container query", "attempt", n, "matches", len(found))
		if len(found) == 0 {
			return nil, errNotYet
		}
		return found[0], nil
	})
	if err != nil {
		return nil, d.stageError(StageContainer, s, err)
	}
	d.logger.InfoWithIntention(pkgLogger.IntentionDetect, "Container found",
		"attempt", s.attempts[StageContainer], "id", el.ID(), "class", el.ClassName(), "children", el.ChildCount())
	return el, nil
}

func (d *Detector) findTarget(ctx context.Context, s *session, container dom.Element) (dom.Element, error) {
	d.logger.DebugWithIntention(pkgLogger.IntentionDetect, "Stage 2: target search", "selectors", d.cfg.TargetSelectors)
	el, err := runStage(ctx, d, s, StageTarget, d.cfg.TargetPolicy, func(n int) (dom.Element, error) {
		for _, sel := range d.cfg.TargetSelectors {
			found := container.QueryAll(sel)
			d.logger.Debug("Target query", "attempt", n, "selector", sel, "matches", len(found))
			if len(found) > 0 {
				d.logger.InfoWithIntention(pkgLogger.IntentionDetect, "Target found",
					"attempt", n, "selector", sel, "id", found[0].ID(), "src", Abbreviate(found[0].Src(), 100))
				return found[0], nil
			}
		}
		return nil, errNotYet
	})
	if err != nil {
		return nil, d.stageError(StageTarget, s, err)
	}
	return el, nil
}

// validate runs once per discovered element: a failed substring check is
// final for this search.
func (d *Detector) validate(s *session, target dom.Element) error {
	s.stage = StageValidate
	s.attempts[StageValidate]++
	d.notify(Attempt{Stage: StageValidate, Number: 1})

	src := target.Src()
	if !strings.Contains(src, d.cfg.RequiredPath) {
		d.logger.Warn("Target src lacks required path", "path", d.cfg.RequiredPath, "src", Abbreviate(src, 100))
		return &NotFoundError{Stage: StageValidate, Attempts: 1, Reason: "src lacks " + d.cfg.RequiredPath}
	}
	if !strings.Contains(src, d.cfg.RequiredQuery) {
		d.logger.Warn("Target src lacks required query marker", "marker", d.cfg.RequiredQuery)
		return &NotFoundError{Stage: StageValidate, Attempts: 1, Reason: "src lacks " + d.cfg.RequiredQuery}
	}

	content, err := target.ContentDocument()
	switch {
	case errors.Is(err, dom.ErrBoundaryDenied):
		d.logger.Error("Target content is isolated, aborting search", "error", err)
		return err
	case err != nil:
		d.logger.Debug("Content access allowed, document not attached yet", "reason", err)
	default:
		d.logger.Debug("Content access allowed", "ready_state", content.ReadyState())
	}
	return nil
}

func (d *Detector) waitForLoad(ctx context.Context, s *session, target dom.Element) error {
	d.logger.DebugWithIntention(pkgLogger.IntentionDetect, "Stage 4: load wait")
	_, err := runStage(ctx, d, s, StageLoad, d.cfg.LoadPolicy, func(n int) (struct{}, error) {
		content, err := target.ContentDocument()
		if err != nil {
			d.logger.Debug("Ready state probe failed", "attempt", n, "error", err)
			return struct{}{}, errNotYet
		}
		state := content.ReadyState()
		d.logger.Debug("Ready state", "attempt", n, "state", state)
		if state != dom.ReadyStateComplete {
			return struct{}{}, errNotYet
		}
		return struct{}{}, nil
	})
	if err != nil {
		return d.stageError(StageLoad, s, err)
	}
	d.logger.InfoWithIntention(pkgLogger.IntentionDetect, "Target loaded", "attempt", s.attempts[StageLoad])
	return nil
}

func (d *Detector) stageError(stage Stage, s *session, err error) error {
	if errors.Is(err, errNotYet) {
		return &NotFoundError{Stage: stage, Attempts: s.attempts[stage]}
	}
	return err
}

func (d *Detector) notify(a Attempt) {
	if d.observer != nil {
		d.observer(a)
	}
}

// runStage retries attempt under policy. errNotYet marks a retryable miss;
// any other error stops the stage.
func runStage[T any](ctx context.Context, d *Detector, s *session, stage Stage, policy RetryPolicy, attempt func(n int) (T, error)) (T, error) {
	s.stage = stage
	op := func() (T, error) {
		s.attempts[stage]++
		n := s.attempts[stage]
		d.notify(Attempt{Stage: stage, Number: n, Wait: policy.DelayBefore(n - 1)})
		res, err := attempt(n)
		if err != nil && !errors.Is(err, errNotYet) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(policy.backOff()),
		backoff.WithMaxTries(uint(policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
}

// Truncate returns at most the first n characters of s, never splitting
// a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// Abbreviate shortens s to n characters plus an ellipsis for logs.
func Abbreviate(s string, n int) string {
	if t := Truncate(s, n); len(t) < len(s) {
		return t + "..."
	}
	return s
}
