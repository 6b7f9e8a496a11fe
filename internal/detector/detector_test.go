package detector

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/fpt/framebridge/pkg/dom"
	pkgLogger "github.com/fpt/framebridge/pkg/logger"
)

const validSrc = "/crm/deal/details/42/?IFRAME=Y&IFRAME_TYPE=SIDE_SLIDER"

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.ContainerPolicy = MillisPolicy(5, 1, 2, 3, 4, 5)
	cfg.TargetPolicy = MillisPolicy(10, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
	cfg.LoadPolicy = MillisPolicy(5, 1, 2, 3, 4, 5)
	return cfg
}

func newTestDetector(t *testing.T, cfg Config, log *attemptLog) *Detector {
	t.Helper()
	d, err := New(cfg, WithLogger(pkgLogger.NewNopLogger()), WithAttemptObserver(log.observe))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func sumWaits(attempts []Attempt) time.Duration {
	var total time.Duration
	for _, a := range attempts {
		total += a.Wait
	}
	return total
}

func TestFindContainerNeverAppears(t *testing.T) {
	log := &attemptLog{}
	d := newTestDetector(t, fastConfig(), log)
	root := newFakeDoc(nil)

	start := time.Now()
	el, err := d.Find(context.Background(), root)
	elapsed := time.Since(start)

	if el != nil {
		t.Fatal("expected no element")
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Stage != StageContainer || nf.Attempts != 5 {
		t.Fatalf("expected container NotFoundError after 5 attempts, got %v", err)
	}
	if !errors.Is(err, ErrNotFound) || Classify(err) != OutcomeNotFound {
		t.Errorf("expected not-found classification, got %v", Classify(err))
	}
	if got := root.count(DefaultContainerSelector); got != 5 {
		t.Errorf("expected 5 container queries, got %d", got)
	}
	for _, s := range []Stage{StageTarget, StageValidate, StageLoad} {
		if n := len(log.stage(s)); n != 0 {
			t.Errorf("stage %s should not run, saw %d attempts", s, n)
		}
	}
	waits := sumWaits(log.stage(StageContainer))
	if want := fastConfig().ContainerPolicy.TotalWait(); waits != want {
		t.Errorf("recorded waits %s, want %s", waits, want)
	}
	if elapsed < waits {
		t.Errorf("elapsed %s shorter than configured waits %s", elapsed, waits)
	}
}

func TestFindTargetOnThirdAttempt(t *testing.T) {
	log := &attemptLog{}
	cfg := fastConfig()
	d := newTestDetector(t, cfg, log)

	target := &fakeElement{id: "deal-frame", src: validSrc, content: completeContent}
	children := newFakeDoc(func(sel string, call int) []dom.Element {
		// every selector is queried once per attempt; the first selector
		// starts matching on the third attempt
		if sel == DefaultTargetSelectors[0] && call >= 3 {
			return []dom.Element{target}
		}
		return nil
	})
	container := &fakeElement{id: "panel", children: children}
	root := newFakeDoc(func(sel string, _ int) []dom.Element {
		return []dom.Element{container}
	})

	el, report, err := d.FindWithReport(context.Background(), root)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if el != target {
		t.Fatalf("expected the scripted target, got %v", el)
	}
	if report.Outcome != OutcomeFound || report.Attempts[StageTarget] != 3 {
		t.Errorf("unexpected report %+v", report)
	}
	if w := sumWaits(log.stage(StageContainer)); w != 0 {
		t.Errorf("container found immediately should not wait, waited %s", w)
	}
	wantTarget := cfg.TargetPolicy.DelayBefore(1) + cfg.TargetPolicy.DelayBefore(2)
	if w := sumWaits(log.stage(StageTarget)); w != wantTarget {
		t.Errorf("target waits %s, want %s", w, wantTarget)
	}
	if n := len(log.stage(StageLoad)); n != 1 {
		t.Errorf("load should complete on first poll, saw %d attempts", n)
	}
	if report.Elapsed < wantTarget {
		t.Errorf("elapsed %s shorter than waits %s", report.Elapsed, wantTarget)
	}
	// all three patterns are tried on the two failed attempts
	if got := children.count(DefaultTargetSelectors[2]); got != 2 {
		t.Errorf("expected last pattern tried twice, got %d", got)
	}
}

func TestFindBoundaryDeniedAbortsImmediately(t *testing.T) {
	log := &attemptLog{}
	d := newTestDetector(t, fastConfig(), log)

	target := &fakeElement{src: validSrc, content: func(int) (dom.Content, error) {
		return nil, dom.ErrBoundaryDenied
	}}
	container := &fakeElement{children: newFakeDoc(func(string, int) []dom.Element {
		return []dom.Element{target}
	})}
	root := newFakeDoc(func(string, int) []dom.Element { return []dom.Element{container} })

	_, err := d.Find(context.Background(), root)
	if !errors.Is(err, ErrBoundaryDenied) {
		t.Fatalf("expected ErrBoundaryDenied, got %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("boundary denial must not look like not-found")
	}
	if Classify(err) != OutcomeBoundaryDenied {
		t.Errorf("Classify = %v", Classify(err))
	}
	if n := len(log.stage(StageLoad)); n != 0 {
		t.Errorf("load stage ran %d times after denial", n)
	}
	if n := len(log.stage(StageTarget)); n != 1 {
		t.Errorf("target stage should have stopped after its first hit, saw %d", n)
	}
	if target.probeCount() != 1 {
		t.Errorf("expected exactly one content probe, got %d", target.probeCount())
	}
}

func TestValidateMissingQueryMarkerSkipsProbe(t *testing.T) {
	log := &attemptLog{}
	d := newTestDetector(t, fastConfig(), log)

	target := &fakeElement{src: "/crm/deal/details/42/", content: completeContent}
	container := &fakeElement{children: newFakeDoc(func(sel string, _ int) []dom.Element {
		if sel == DefaultTargetSelectors[1] {
			return []dom.Element{target}
		}
		return nil
	})}
	root := newFakeDoc(func(string, int) []dom.Element { return []dom.Element{container} })

	_, err := d.Find(context.Background(), root)
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Stage != StageValidate {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if !strings.Contains(nf.Reason, DefaultRequiredQuery) {
		t.Errorf("reason should name the missing marker: %q", nf.Reason)
	}
	if target.probeCount() != 0 {
		t.Errorf("content probe must not run, ran %d times", target.probeCount())
	}
	if n := len(log.stage(StageValidate)); n != 1 {
		t.Errorf("validation is single shot, saw %d", n)
	}
}

func TestValidateMissingPath(t *testing.T) {
	d := newTestDetector(t, fastConfig(), &attemptLog{})
	target := &fakeElement{src: "/crm/lead/?IFRAME=Y"}
	container := &fakeElement{children: newFakeDoc(func(string, int) []dom.Element { return []dom.Element{target} })}
	root := newFakeDoc(func(string, int) []dom.Element { return []dom.Element{container} })

	_, err := d.Find(context.Background(), root)
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Stage != StageValidate || !strings.Contains(nf.Reason, DefaultRequiredPath) {
		t.Fatalf("expected path validation failure, got %v", err)
	}
}

func TestWaitForLoadRetriesUntilComplete(t *testing.T) {
	log := &attemptLog{}
	d := newTestDetector(t, fastConfig(), log)

	target := &fakeElement{src: validSrc, content: func(probe int) (dom.Content, error) {
		switch {
		case probe == 1: // validation probe
			return nil, dom.ErrContentUnavailable
		case probe < 4:
			return &fakeContent{state: dom.ReadyStateLoading}, nil
		default:
			return &fakeContent{state: dom.ReadyStateComplete}, nil
		}
	}}
	container := &fakeElement{children: newFakeDoc(func(string, int) []dom.Element { return []dom.Element{target} })}
	root := newFakeDoc(func(string, int) []dom.Element { return []dom.Element{container} })

	if _, err := d.Find(context.Background(), root); err != nil {
		t.Fatalf("Find: %v", err)
	}
	if n := len(log.stage(StageLoad)); n != 3 {
		t.Errorf("expected 3 load polls, got %d", n)
	}
}

func TestWaitForLoadGivesUp(t *testing.T) {
	d := newTestDetector(t, fastConfig(), &attemptLog{})
	target := &fakeElement{src: validSrc, content: func(int) (dom.Content, error) {
		return &fakeContent{state: dom.ReadyStateInteractive}, nil
	}}
	container := &fakeElement{children: newFakeDoc(func(string, int) []dom.Element { return []dom.Element{target} })}
	root := newFakeDoc(func(string, int) []dom.Element { return []dom.Element{container} })

	_, err := d.Find(context.Background(), root)
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Stage != StageLoad || nf.Attempts != 5 {
		t.Fatalf("expected load failure after 5 polls, got %v", err)
	}
}

func TestFindCancelled(t *testing.T) {
	cfg := fastConfig()
	cfg.ContainerPolicy = MillisPolicy(5, 1000)
	d := newTestDetector(t, cfg, &attemptLog{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := d.Find(ctx, newFakeDoc(nil))
	if Classify(err) != OutcomeCancelled {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("cancellation should interrupt the wait")
	}
}

func TestFindOnPage(t *testing.T) {
	page, err := dom.NewPage("https://corp.example.com/crm/deal/")
	if err != nil {
		t.Fatal(err)
	}
	if err := page.LoadHTML(`<html><body>
		<div class="side-panel-content-wrapper">
			<iframe class="side-panel-iframe" id="frame-1" src="` + validSrc + `"></iframe>
		</div></body></html>`); err != nil {
		t.Fatal(err)
	}
	frame, err := dom.NewFrameHTML(`<html><head></head><body></body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	frame.SetReadyState(dom.ReadyStateComplete)
	if err := page.SetFrame(validSrc, frame); err != nil {
		t.Fatal(err)
	}

	d := newTestDetector(t, fastConfig(), &attemptLog{})
	el, err := d.Find(context.Background(), page)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if el.ID() != "frame-1" {
		t.Errorf("unexpected element %q", el.ID())
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc"},
		{"сделка-42", 6, "сделка"},
		{"日本語のURL", 2, "日本"},
	}
	for _, tt := range tests {
		got := Truncate(tt.in, tt.n)
		if got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("Truncate(%q, %d) produced invalid UTF-8", tt.in, tt.n)
		}
	}

	if got := Abbreviate("сделка-42", 6); got != "сделка..." {
		t.Errorf("Abbreviate = %q", got)
	}
	if got := Abbreviate("abc", 6); got != "abc" {
		t.Errorf("Abbreviate short = %q", got)
	}
}
