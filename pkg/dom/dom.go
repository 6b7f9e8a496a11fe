// Package dom models a host document and the frames embedded in it.
//
// A Page holds the latest parsed snapshot of the host document and notifies
// observers when a new snapshot changes its element structure. Frames carry
// the content documents of embedded frames; access to them follows the
// same-origin and sandbox rules a browser would apply.
package dom

import "github.com/pkg/errors"

// Document ready states.
const (
	ReadyStateLoading     = "loading"
	ReadyStateInteractive = "interactive"
	ReadyStateComplete    = "complete"
	ReadyStateUnknown     = "unknown"
)

var (
	// ErrBoundaryDenied is returned when a frame's content is isolated from the host.
	ErrBoundaryDenied = errors.New("dom: content access denied by isolation policy")
	// ErrContentUnavailable is returned when a frame has no content document yet.
	ErrContentUnavailable = errors.New("dom: content document not available")
	// ErrScriptBlocked is returned when the frame refuses a script.
	ErrScriptBlocked = errors.New("dom: script blocked by frame policy")
	// ErrNoInsertionPoint is returned when a frame document has nowhere to attach a script.
	ErrNoInsertionPoint = errors.New("dom: no head or body to attach script")
)

// Document is a queryable document tree.
type Document interface {
	// QueryAll returns the elements matching a CSS selector in document order.
	QueryAll(selector string) []Element
	ReadyState() string
}

// Element is a single element of a Document.
type Element interface {
	ID() string
	ClassName() string
	TagName() string
	Src() string
	Attr(name string) (string, bool)
	ChildCount() int
	QueryAll(selector string) []Element
	// ContentDocument returns the embedded document of a frame element.
	ContentDocument() (Content, error)
	// Same reports whether both values refer to the same node of the same snapshot.
	Same(other Element) bool
}

// Content is the document of an embedded frame, including its script surface.
type Content interface {
	Document
	AppendScript(src string) error
	Eval(source string) error
}
