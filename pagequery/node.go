package pagequery

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Node capabilities invoked on an absent node.
var ErrNotFound = errors.New("pagequery: element not found")

// ErrNoElement is returned when a capability is invoked on a group node that
// has no element of its own.
var ErrNoElement = errors.New("pagequery: node has no element")

// Element is a located page element.
type Element interface {
	Text(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, bool, error)
	Click(ctx context.Context) error
	Fill(ctx context.Context, value string) error
}

// Node is one level of a query result. A nil *Node is an absent field.
type Node struct {
	elem   Element
	fields map[string]*Node
	items  []*Node
}

// NewNode builds a present node. el may be nil for group nodes.
func NewNode(el Element, fields map[string]*Node) *Node {
	return &Node{elem: el, fields: fields}
}

// NewList builds a list node. An empty list is absent.
func NewList(items ...*Node) *Node {
	if len(items) == 0 {
		return nil
	}
	return &Node{items: items}
}

// Present reports whether the field was located.
func (n *Node) Present() bool { return n != nil }

// Exists is an alias of Present that reads better on flag fields.
func (n *Node) Exists() bool { return n != nil }

// Field returns the named child, or nil.
func (n *Node) Field(name string) *Node {
	if n == nil {
		return nil
	}
	return n.fields[name]
}

// Path walks nested fields: n.Path("header", "sign_in_btn").
func (n *Node) Path(names ...string) *Node {
	cur := n
	for _, name := range names {
		cur = cur.Field(name)
	}
	return cur
}

// Items returns the entries of a list node.
func (n *Node) Items() []*Node {
	if n == nil {
		return nil
	}
	return n.items
}

// Element returns the backing element, or nil.
func (n *Node) Element() Element {
	if n == nil {
		return nil
	}
	return n.elem
}

func (n *Node) element() (Element, error) {
	if n == nil {
		return nil, ErrNotFound
	}
	if n.elem == nil {
		return nil, ErrNoElement
	}
	return n.elem, nil
}

// Text returns the element's visible text (or value for inputs).
func (n *Node) Text(ctx context.Context) (string, error) {
	el, err := n.element()
	if err != nil {
		return "", err
	}
	return el.Text(ctx)
}

// TextOr returns the element text, or def when it is absent or unreadable.
func (n *Node) TextOr(ctx context.Context, def string) string {
	s, err := n.Text(ctx)
	if err != nil {
		return def
	}
	return s
}

// Attribute reads an attribute of the element.
func (n *Node) Attribute(ctx context.Context, name string) (string, bool, error) {
	el, err := n.element()
	if err != nil {
		return "", false, err
	}
	return el.Attribute(ctx, name)
}

// Click clicks the element.
func (n *Node) Click(ctx context.Context) error {
	el, err := n.element()
	if err != nil {
		return err
	}
	return el.Click(ctx)
}

// Fill replaces the element's value.
func (n *Node) Fill(ctx context.Context, value string) error {
	el, err := n.element()
	if err != nil {
		return err
	}
	return el.Fill(ctx, value)
}
