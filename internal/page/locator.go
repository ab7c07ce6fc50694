package page

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// Selector constants for the marketplace messenger. These drift without
// notice; every lookup falls back to laxer heuristics and callers must
// treat nil as routine.
const (
	testIDAttr        = "data-testid"
	headerTestID      = "chat-top-bar"
	conversationAttr  = "data-conversation-id"
	itemTestID        = "conversation-item"
	messageTestID     = "chat-message"
	unreadTestID      = "unread-badge"
	loginFormTestID   = "login-form"
	messageListTestID = "messages-list"

	// Opening fragment of the handset icon path, the last-resort signal
	// that a header button is the phone reveal control.
	phoneIconPathFragment = "M6.62 10.79"
)

// ConversationItem is one row of the conversation list, read fresh on every
// scan and never mutated.
type ConversationItem struct {
	ConversationID string
	UserName       string
	RawPhoneText   string
	LastPreview    string
	LastRawTime    string
	UnreadCount    int
	AdInfo         string
	AdImageURL     string
}

// MessageNode is one message bubble of the open chat.
type MessageNode struct {
	Position int
	Incoming bool
	Content  string
	RawTime  string
}

// FindConversationHeader locates the open conversation's header region.
// Returns nil when no conversation is open.
func FindConversationHeader(d *Document) *Element {
	if d == nil || d.Root == nil {
		return nil
	}
	n := findFirst(d.Root, func(n *html.Node) bool {
		return attr(n, testIDAttr) == headerTestID
	})
	if n == nil {
		n = findFirst(d.Root, func(n *html.Node) bool {
			return n.Data == "header" && hasAttr(n, conversationAttr)
		})
	}
	if n == nil {
		return nil
	}
	return &Element{Node: n, Selector: selectorFor(n)}
}

// HeaderIdentity returns the display name shown in the open conversation's
// header. This is the only stable-enough identity signal the page offers:
// two conversations sharing a display name are indistinguishable here.
func HeaderIdentity(d *Document) string {
	h := FindConversationHeader(d)
	if h == nil {
		return ""
	}
	name := findFirst(h.Node, func(n *html.Node) bool {
		switch n.Data {
		case "h1", "h2", "h3", "strong":
			return textContent(n) != ""
		}
		return false
	})
	if name != nil {
		return textContent(name)
	}
	return textContent(h.Node)
}

// FindRevealControl locates the button that opens the phone disclosure
// panel. Tries the aria label first, then scans header buttons for the
// handset icon path data.
func FindRevealControl(d *Document) *Element {
	if d == nil || d.Root == nil {
		return nil
	}
	n := findFirst(d.Root, func(n *html.Node) bool {
		if n.Data != "button" {
			return false
		}
		label := strings.ToLower(attr(n, "aria-label"))
		return strings.Contains(label, "telefone") || strings.Contains(label, "phone")
	})
	if n == nil {
		header := FindConversationHeader(d)
		if header == nil {
			return nil
		}
		for _, btn := range findAll(header.Node, func(n *html.Node) bool { return n.Data == "button" }) {
			path := findFirst(btn, func(n *html.Node) bool {
				return n.Data == "path" && strings.HasPrefix(attr(n, "d"), phoneIconPathFragment)
			})
			if path != nil {
				n = btn
				break
			}
		}
	}
	if n == nil {
		return nil
	}
	return &Element{Node: n, Selector: selectorFor(n)}
}

// RevealControlExpanded reports whether the reveal control claims its
// disclosure panel is open.
func RevealControlExpanded(control *Element) bool {
	return control != nil && attr(control.Node, "aria-expanded") == "true"
}

// FindDisclosurePanel locates the dropdown the reveal control opens,
// resolved through the control's aria-controls relation. With a nil
// control it falls back to any open menu in the document that carries a
// telephone link.
func FindDisclosurePanel(d *Document, control *Element) *Element {
	if d == nil || d.Root == nil {
		return nil
	}
	if control != nil {
		if id := attr(control.Node, "aria-controls"); id != "" {
			n := findFirst(d.Root, func(n *html.Node) bool {
				return attr(n, "id") == id
			})
			if n != nil {
				return &Element{Node: n, Selector: selectorFor(n)}
			}
		}
	}
	n := findFirst(d.Root, func(n *html.Node) bool {
		if attr(n, "role") != "menu" {
			return false
		}
		return findTelAnchor(n) != nil
	})
	if n == nil {
		return nil
	}
	return &Element{Node: n, Selector: selectorFor(n)}
}

// TelLink extracts the raw phone text from a disclosure panel's tel: anchor.
// Returns ("", false) when the panel carries no telephone link yet.
func TelLink(panel *Element) (string, bool) {
	if panel == nil {
		return "", false
	}
	a := findTelAnchor(panel.Node)
	if a == nil {
		return "", false
	}
	raw := strings.TrimPrefix(attr(a, "href"), "tel:")
	if raw == "" {
		raw = textContent(a)
	}
	return strings.TrimSpace(raw), raw != ""
}

func findTelAnchor(root *html.Node) *html.Node {
	return findFirst(root, func(n *html.Node) bool {
		return n.Data == "a" && strings.HasPrefix(attr(n, "href"), "tel:")
	})
}

// ConversationItems scans the conversation list. Empty when the list is not
// rendered (login wall, detail-only view).
func ConversationItems(d *Document) []ConversationItem {
	if d == nil || d.Root == nil {
		return nil
	}
	nodes := findAll(d.Root, func(n *html.Node) bool {
		return attr(n, testIDAttr) == itemTestID || (n.Data == "li" && hasAttr(n, conversationAttr))
	})
	items := make([]ConversationItem, 0, len(nodes))
	for _, n := range nodes {
		item := ConversationItem{
			ConversationID: attr(n, conversationAttr),
			UserName:       childText(n, "user-name"),
			RawPhoneText:   childText(n, "user-phone"),
			LastPreview:    childText(n, "last-message"),
			LastRawTime:    childText(n, "last-message-time"),
			AdInfo:         childText(n, "ad-title"),
		}
		if img := findFirst(n, func(n *html.Node) bool { return n.Data == "img" }); img != nil {
			item.AdImageURL = attr(img, "src")
		}
		if badge := findFirst(n, func(n *html.Node) bool { return attr(n, testIDAttr) == unreadTestID }); badge != nil {
			if count, err := strconv.Atoi(textContent(badge)); err == nil && count > 0 {
				item.UnreadCount = count
			}
		}
		items = append(items, item)
	}
	return items
}

// OpenChatMessages returns the rendered message bubbles of the open chat in
// document order. Empty when no chat is open.
func OpenChatMessages(d *Document) []MessageNode {
	if d == nil || d.Root == nil {
		return nil
	}
	list := findFirst(d.Root, func(n *html.Node) bool {
		return attr(n, testIDAttr) == messageListTestID
	})
	root := d.Root
	if list != nil {
		root = list
	}
	nodes := findAll(root, func(n *html.Node) bool {
		return attr(n, testIDAttr) == messageTestID
	})
	msgs := make([]MessageNode, 0, len(nodes))
	for i, n := range nodes {
		content := childText(n, "message-text")
		if content == "" {
			content = textContent(n)
		}
		msgs = append(msgs, MessageNode{
			Position: i,
			Incoming: attr(n, "data-direction") != "out",
			Content:  content,
			RawTime:  childText(n, "message-time"),
		})
	}
	return msgs
}

// IsChatOpen reports whether a conversation is currently open.
func IsChatOpen(d *Document) bool {
	return FindConversationHeader(d) != nil
}

// IsLoginWall reports whether the page is showing its login form instead of
// the messenger.
func IsLoginWall(d *Document) bool {
	if d == nil || d.Root == nil {
		return false
	}
	return findFirst(d.Root, func(n *html.Node) bool {
		return attr(n, testIDAttr) == loginFormTestID
	}) != nil
}

// childText returns the text of the first descendant carrying the given
// test id, falling back to "" — sub-elements disappear independently.
func childText(root *html.Node, testID string) string {
	n := findFirst(root, func(n *html.Node) bool {
		return attr(n, testIDAttr) == testID
	})
	return textContent(n)
}
