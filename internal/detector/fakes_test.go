package detector

import (
	"sync"

	"github.com/fpt/framebridge/pkg/dom"
)

// fakeDoc answers queries through a callback so tests can script when
// elements appear.
type fakeDoc struct {
	mu      sync.Mutex
	queries map[string]int
	answer  func(selector string, call int) []dom.Element
}

func newFakeDoc(answer func(selector string, call int) []dom.Element) *fakeDoc {
	return &fakeDoc{queries: make(map[string]int), answer: answer}
}

func (d *fakeDoc) QueryAll(selector string) []dom.Element {
	d.mu.Lock()
	d.queries[selector]++
	call := d.queries[selector]
	d.mu.Unlock()
	if d.answer == nil {
		return nil
	}
	return d.answer(selector, call)
}

func (d *fakeDoc) ReadyState() string { return dom.ReadyStateComplete }

func (d *fakeDoc) count(selector string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queries[selector]
}

type fakeElement struct {
	id       string
	src      string
	children *fakeDoc

	mu      sync.Mutex
	probes  int
	content func(probe int) (dom.Content, error)
}

func (e *fakeElement) ID() string                      { return e.id }
func (e *fakeElement) ClassName() string               { return "" }
func (e *fakeElement) TagName() string                 { return "iframe" }
func (e *fakeElement) Src() string                     { return e.src }
func (e *fakeElement) Attr(string) (string, bool)      { return "", false }
func (e *fakeElement) ChildCount() int                 { return 0 }
func (e *fakeElement) Same(other dom.Element) bool     { return other == dom.Element(e) }
func (e *fakeElement) QueryAll(sel string) []dom.Element {
	if e.children == nil {
		return nil
	}
	return e.children.QueryAll(sel)
}

func (e *fakeElement) ContentDocument() (dom.Content, error) {
	e.mu.Lock()
	e.probes++
	n := e.probes
	e.mu.Unlock()
	if e.content == nil {
		return nil, dom.ErrContentUnavailable
	}
	return e.content(n)
}

func (e *fakeElement) probeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.probes
}

type fakeContent struct {
	state string
}

func (c *fakeContent) QueryAll(string) []dom.Element { return nil }
func (c *fakeContent) ReadyState() string            { return c.state }
func (c *fakeContent) AppendScript(string) error     { return nil }
func (c *fakeContent) Eval(string) error             { return nil }

func completeContent(int) (dom.Content, error) {
	return &fakeContent{state: dom.ReadyStateComplete}, nil
}

// attemptLog records observer callbacks.
type attemptLog struct {
	mu       sync.Mutex
	attempts []Attempt
}

func (l *attemptLog) observe(a Attempt) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts = append(l.attempts, a)
}

func (l *attemptLog) stage(s Stage) []Attempt {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Attempt
	for _, a := range l.attempts {
		if a.Stage == s {
			out = append(out, a)
		}
	}
	return out
}
