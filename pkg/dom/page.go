package dom

import (
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"
)

// Mutation summarizes the structural change between two page snapshots.
type Mutation struct {
	AddedNodes   int
	RemovedNodes int
}

// Page is the live host document. Each Load swaps in a new snapshot.
type Page struct {
	mu         sync.RWMutex
	base       *url.URL
	doc        *goquery.Document
	sigs       map[string]int
	readyState string
	frames     map[string]*Frame

	obsMu     sync.Mutex
	observers map[int]func(Mutation)
	nextObsID int
}

// NewPage creates an empty page whose address is rawURL.
func NewPage(rawURL string) (*Page, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid page url %q", rawURL)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<html><head></head><body></body></html>"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build empty page")
	}
	return &Page{
		base:       base,
		doc:        doc,
		sigs:       elementSignatures(doc.Get(0)),
		readyState: ReadyStateLoading,
		frames:     make(map[string]*Frame),
		observers:  make(map[int]func(Mutation)),
	}, nil
}

// URL returns the page address.
func (p *Page) URL() string {
	return p.base.String()
}

// Load parses r as the new page snapshot and notifies observers when the
// element structure changed.
func (p *Page) Load(r io.Reader) error {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return errors.Wrap(err, "failed to parse page")
	}
	sigs := elementSignatures(doc.Get(0))

	p.mu.Lock()
	added, removed := diffSignatures(p.sigs, sigs)
	p.doc = doc
	p.sigs = sigs
	p.readyState = ReadyStateComplete
	p.mu.Unlock()

	if added > 0 || removed > 0 {
		p.notify(Mutation{AddedNodes: added, RemovedNodes: removed})
	}
	return nil
}

// LoadHTML is Load for an in-memory string.
func (p *Page) LoadHTML(s string) error {
	return p.Load(strings.NewReader(s))
}

// Observe registers fn for structural mutations. The returned func unregisters it.
func (p *Page) Observe(fn func(Mutation)) (cancel func()) {
	p.obsMu.Lock()
	id := p.nextObsID
	p.nextObsID++
	p.observers[id] = fn
	p.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.obsMu.Lock()
			delete(p.observers, id)
			p.obsMu.Unlock()
		})
	}
}

func (p *Page) notify(m Mutation) {
	p.obsMu.Lock()
	fns := make([]func(Mutation), 0, len(p.observers))
	for _, fn := range p.observers {
		fns = append(fns, fn)
	}
	p.obsMu.Unlock()

	for _, fn := range fns {
		fn(m)
	}
}

// QueryAll implements Document.
func (p *Page) QueryAll(selector string) []Element {
	p.mu.RLock()
	doc := p.doc
	p.mu.RUnlock()
	return wrapSelection(doc.Find(selector), p)
}

// ReadyState implements Document.
func (p *Page) ReadyState() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.readyState
}

// SetFrame attaches the content document served at src (relative to the page).
func (p *Page) SetFrame(src string, f *Frame) error {
	key, err := p.resolve(src)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if f == nil {
		delete(p.frames, key)
		return nil
	}
	p.frames[key] = f
	return nil
}

// Frame returns the content attached at src, if any.
func (p *Page) Frame(src string) (*Frame, bool) {
	key, err := p.resolve(src)
	if err != nil {
		return nil, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	f, ok := p.frames[key]
	return f, ok
}

// SameOrigin reports whether src resolves to the page's origin.
func (p *Page) SameOrigin(src string) bool {
	u, err := p.base.Parse(src)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, p.base.Scheme) && strings.EqualFold(u.Host, p.base.Host)
}

// ResolveURL returns src resolved against the page address.
func (p *Page) ResolveURL(src string) (string, error) {
	return p.resolve(src)
}

func (p *Page) resolve(src string) (string, error) {
	u, err := p.base.Parse(strings.TrimSpace(src))
	if err != nil {
		return "", errors.Wrapf(err, "invalid frame src %q", src)
	}
	u.Fragment = ""
	return u.String(), nil
}

func (p *Page) resolveFrame(e *element) (Content, error) {
	src := e.Src()
	if src == "" {
		return nil, ErrContentUnavailable
	}
	if !p.SameOrigin(src) {
		return nil, errors.Wrapf(ErrBoundaryDenied, "cross-origin frame %s", src)
	}
	if sandbox, ok := e.Attr("sandbox"); ok && !strings.Contains(sandbox, "allow-same-origin") {
		return nil, errors.Wrap(ErrBoundaryDenied, "sandboxed frame without allow-same-origin")
	}
	f, ok := p.Frame(src)
	if !ok {
		return nil, ErrContentUnavailable
	}
	return f, nil
}
