package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// buildDOMPath walks from node up to <html> and builds a CSS-like path.
func buildDOMPath(node *html.Node) string {
	var parts []string
	for n := node; n != nil && n.Type == html.ElementNode; n = n.Parent {
		if n.Data == "html" {
			break
		}
		segment := n.Data
		if id := nodeAttr(n, "id"); id != "" {
			segment += "#" + id
		} else if cls := strings.Fields(nodeAttr(n, "class")); len(cls) > 0 {
			segment += "." + cls[0]
		}
		parts = append(parts, segment)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

// nodeAttr returns the value of an attribute on a raw html.Node.
func nodeAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// elementSignatures counts element paths (plus src, so a frame retargeted in
// place still registers as a change) below root.
func elementSignatures(root *html.Node) map[string]int {
	sigs := make(map[string]int)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			key := buildDOMPath(n)
			if src := nodeAttr(n, "src"); src != "" {
				key += "[src=" + src + "]"
			}
			sigs[key]++
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return sigs
}

// diffSignatures returns how many elements were added and removed between snapshots.
func diffSignatures(before, after map[string]int) (added, removed int) {
	for k, n := range after {
		if d := n - before[k]; d > 0 {
			added += d
		}
	}
	for k, n := range before {
		if d := n - after[k]; d > 0 {
			removed += d
		}
	}
	return added, removed
}
