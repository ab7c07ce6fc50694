package page

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Document is one parsed snapshot of the host page. The page belongs to the
// marketplace, not to us: any part of it may be absent or renamed in the
// next snapshot, so nothing here is cached across snapshots.
type Document struct {
	Root       *html.Node
	Seq        uint64
	CapturedAt time.Time
}

// ParseDocument parses raw HTML into a Document with the given sequence number.
func ParseDocument(raw string, seq uint64) (*Document, error) {
	root, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return &Document{Root: root, Seq: seq, CapturedAt: time.Now()}, nil
}

// Element pairs a node found in a snapshot with a CSS selector that should
// resolve to the same element on the live page, so the driver can act on it.
type Element struct {
	Node     *html.Node
	Selector string
}

// attr returns the value of the named attribute, or "".
func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// hasAttr reports whether the node carries the named attribute at all.
func hasAttr(n *html.Node, name string) bool {
	for _, a := range n.Attr {
		if a.Key == name {
			return true
		}
	}
	return false
}

// walk visits every element node under root, stopping early if visit
// returns false.
func walk(root *html.Node, visit func(*html.Node) bool) {
	if root == nil {
		return
	}
	var rec func(*html.Node) bool
	rec = func(n *html.Node) bool {
		if n.Type == html.ElementNode && !visit(n) {
			return false
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !rec(c) {
				return false
			}
		}
		return true
	}
	rec(root)
}

// findFirst returns the first element under root matching pred, or nil.
func findFirst(root *html.Node, pred func(*html.Node) bool) *html.Node {
	var found *html.Node
	walk(root, func(n *html.Node) bool {
		if pred(n) {
			found = n
			return false
		}
		return true
	})
	return found
}

// findAll returns every element under root matching pred, in document order.
func findAll(root *html.Node, pred func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	walk(root, func(n *html.Node) bool {
		if pred(n) {
			out = append(out, n)
		}
		return true
	})
	return out
}

// textContent returns the concatenated trimmed text of a subtree.
func textContent(n *html.Node) string {
	if n == nil {
		return ""
	}
	var sb strings.Builder
	var rec func(*html.Node)
	rec = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	rec(n)
	return strings.TrimSpace(strings.Join(strings.Fields(sb.String()), " "))
}

// selectorFor builds a CSS selector for a snapshot node that the driver can
// replay against the live page. Prefers stable attributes (id, test id),
// falling back to a positional path from the nearest stable ancestor.
func selectorFor(n *html.Node) string {
	var parts []string
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		if id := attr(cur, "id"); id != "" {
			parts = append(parts, fmt.Sprintf("#%s", id))
			return joinReversed(parts)
		}
		if tid := attr(cur, testIDAttr); tid != "" {
			parts = append(parts, fmt.Sprintf("[%s=%q]", testIDAttr, tid))
			return joinReversed(parts)
		}
		parts = append(parts, fmt.Sprintf("%s:nth-of-type(%d)", cur.Data, nthOfType(cur)))
	}
	return joinReversed(parts)
}

func joinReversed(parts []string) string {
	var sb strings.Builder
	for i := len(parts) - 1; i >= 0; i-- {
		if sb.Len() > 0 {
			sb.WriteString(" > ")
		}
		sb.WriteString(parts[i])
	}
	return sb.String()
}

func nthOfType(n *html.Node) int {
	idx := 1
	for sib := n.PrevSibling; sib != nil; sib = sib.PrevSibling {
		if sib.Type == html.ElementNode && sib.Data == n.Data {
			idx++
		}
	}
	return idx
}
