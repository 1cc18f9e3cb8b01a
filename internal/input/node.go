package input

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	uiDumpPath = "/data/local/tmp/noadb-ui.xml"
	keyMoveEnd = 123
	keyDel     = 67
)

var errNodeNotFound = errors.New("no matching element on screen")

type uiNode struct {
	Text       string   `xml:"text,attr"`
	ResourceID string   `xml:"resource-id,attr"`
	Desc       string   `xml:"content-desc,attr"`
	Bounds     string   `xml:"bounds,attr"`
	Children   []uiNode `xml:"node"`
}

type uiHierarchy struct {
	Nodes []uiNode `xml:"node"`
}

// ClickNode taps the centre of the first element whose resource id is
// viewID. When viewID is empty or unmatched it falls back to the first
// element whose text or content description contains text, ignoring case.
func (s *Shell) ClickNode(ctx context.Context, viewID, text string) error {
	root, err := s.dumpUI(ctx)
	if err != nil {
		return err
	}

	var node *uiNode
	if viewID != "" {
		node = findNode(root.Nodes, byID(viewID))
	}
	if node == nil && text != "" {
		node = findNode(root.Nodes, byText(text))
	}
	if node == nil {
		return fmt.Errorf("click node (id=%q text=%q): %w", viewID, text, errNodeNotFound)
	}

	x, y, err := center(node.Bounds)
	if err != nil {
		return err
	}
	return s.Tap(ctx, x, y)
}

// SetText focuses the field whose resource id is viewID, deletes its
// current content and types text.
func (s *Shell) SetText(ctx context.Context, viewID, text string) error {
	root, err := s.dumpUI(ctx)
	if err != nil {
		return err
	}
	node := findNode(root.Nodes, byID(viewID))
	if node == nil {
		return fmt.Errorf("set text (id=%q): %w", viewID, errNodeNotFound)
	}

	x, y, err := center(node.Bounds)
	if err != nil {
		return err
	}
	if err := s.Tap(ctx, x, y); err != nil {
		return err
	}
	if n := len([]rune(node.Text)); n > 0 {
		if err := s.Key(ctx, keyMoveEnd); err != nil {
			return err
		}
		dels := make([]string, 0, n+1)
		dels = append(dels, "keyevent")
		for i := 0; i < n; i++ {
			dels = append(dels, itoa(keyDel))
		}
		if err := s.input(ctx, dels...); err != nil {
			return err
		}
	}
	return s.Text(ctx, text)
}

func (s *Shell) dumpUI(ctx context.Context) (*uiHierarchy, error) {
	if err := s.exec(ctx, "uiautomator", "dump", uiDumpPath); err != nil {
		return nil, fmt.Errorf("dump ui: %w", err)
	}
	out, err := s.run.Run(ctx, "cat", uiDumpPath)
	if err != nil {
		return nil, fmt.Errorf("read ui dump: %w", err)
	}

	var h uiHierarchy
	if err := xml.Unmarshal(out, &h); err != nil {
		return nil, fmt.Errorf("parse ui dump: %w", err)
	}
	s.log.Debug("ui dump", zap.Int("roots", len(h.Nodes)))
	return &h, nil
}

func byID(id string) func(*uiNode) bool {
	return func(n *uiNode) bool { return n.ResourceID == id }
}

func byText(text string) func(*uiNode) bool {
	want := strings.ToLower(text)
	return func(n *uiNode) bool {
		return strings.Contains(strings.ToLower(n.Text), want) ||
			strings.Contains(strings.ToLower(n.Desc), want)
	}
}

// findNode walks the tree depth first in document order.
func findNode(nodes []uiNode, match func(*uiNode) bool) *uiNode {
	for i := range nodes {
		n := &nodes[i]
		if match(n) {
			return n
		}
		if found := findNode(n.Children, match); found != nil {
			return found
		}
	}
	return nil
}

// center parses uiautomator bounds of the form "[x1,y1][x2,y2]".
func center(bounds string) (int, int, error) {
	var x1, y1, x2, y2 int
	if _, err := fmt.Sscanf(bounds, "[%d,%d][%d,%d]", &x1, &y1, &x2, &y2); err != nil {
		return 0, 0, fmt.Errorf("bad bounds %q: %w", bounds, err)
	}
	return (x1 + x2) / 2, (y1 + y2) / 2, nil
}
