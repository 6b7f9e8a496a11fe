package dom

import (
	"github.com/PuerkitoBio/goquery"
)

// frameResolver resolves the content document behind a frame element.
type frameResolver interface {
	resolveFrame(e *element) (Content, error)
}

type element struct {
	sel   *goquery.Selection
	owner frameResolver
}

func wrapSelection(sel *goquery.Selection, owner frameResolver) []Element {
	out := make([]Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, &element{sel: s, owner: owner})
	})
	return out
}

func (e *element) ID() string {
	v, _ := e.sel.Attr("id")
	return v
}

func (e *element) ClassName() string {
	v, _ := e.sel.Attr("class")
	return v
}

func (e *element) TagName() string {
	return goquery.NodeName(e.sel)
}

func (e *element) Src() string {
	v, _ := e.sel.Attr("src")
	return v
}

func (e *element) Attr(name string) (string, bool) {
	return e.sel.Attr(name)
}

func (e *element) ChildCount() int {
	return e.sel.Children().Length()
}

func (e *element) QueryAll(selector string) []Element {
	return wrapSelection(e.sel.Find(selector), e.owner)
}

func (e *element) ContentDocument() (Content, error) {
	if e.owner == nil {
		return nil, ErrContentUnavailable
	}
	return e.owner.resolveFrame(e)
}

func (e *element) Same(other Element) bool {
	o, ok := other.(*element)
	if !ok || o == nil || len(o.sel.Nodes) == 0 || len(e.sel.Nodes) == 0 {
		return false
	}
	return e.sel.Nodes[0] == o.sel.Nodes[0]
}
