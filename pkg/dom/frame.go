package dom

import (
	"fmt"
	"html"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"
)

// ScriptPolicy controls which scripts a frame accepts.
type ScriptPolicy struct {
	BlockExternal bool
	BlockInline   bool
}

// Frame is the content document of an embedded frame.
type Frame struct {
	mu         sync.RWMutex
	doc        *goquery.Document
	readyState string
	policy     ScriptPolicy
	scripts    []string
}

// NewFrame parses r as the frame document. The frame starts in the loading state.
func NewFrame(r io.Reader) (*Frame, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse frame")
	}
	return &Frame{doc: doc, readyState: ReadyStateLoading}, nil
}

// NewFrameHTML is NewFrame for an in-memory string.
func NewFrameHTML(s string) (*Frame, error) {
	return NewFrame(strings.NewReader(s))
}

// SetReadyState updates the frame's ready state.
func (f *Frame) SetReadyState(state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readyState = state
}

// SetScriptPolicy replaces the frame's script policy.
func (f *Frame) SetScriptPolicy(p ScriptPolicy) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.policy = p
}

// Scripts lists the scripts attached so far: external sources as-is, inline
// scripts prefixed with "inline:".
func (f *Frame) Scripts() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.scripts...)
}

// QueryAll implements Document. Nested frames have no reachable content.
func (f *Frame) QueryAll(selector string) []Element {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return wrapSelection(f.doc.Find(selector), nil)
}

// ReadyState implements Document.
func (f *Frame) ReadyState() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.readyState
}

// AppendScript attaches an external script to the frame head.
func (f *Frame) AppendScript(src string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.policy.BlockExternal {
		return errors.Wrapf(ErrScriptBlocked, "external script %s", src)
	}
	target := f.insertionPoint()
	if target == nil {
		return ErrNoInsertionPoint
	}
	target.AppendHtml(fmt.Sprintf(`<script type="text/javascript" src="%s"></script>`, html.EscapeString(src)))
	f.scripts = append(f.scripts, src)
	return nil
}

// Eval runs inline source inside the frame.
func (f *Frame) Eval(source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.policy.BlockInline {
		return errors.Wrap(ErrScriptBlocked, "inline script")
	}
	target := f.insertionPoint()
	if target == nil {
		return ErrNoInsertionPoint
	}
	target.AppendHtml("<script>" + strings.ReplaceAll(source, "</script", "<\\/script") + "</script>")
	f.scripts = append(f.scripts, "inline:"+source)
	return nil
}

func (f *Frame) insertionPoint() *goquery.Selection {
	for _, sel := range []string{"head", "body"} {
		if s := f.doc.Find(sel).First(); s.Length() > 0 {
			return s
		}
	}
	return nil
}
