package pagequery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// ErrReadOnly is returned by Click and Fill on nodes built without an Actor.
var ErrReadOnly = errors.New("pagequery: snapshot is read-only")

// Actor performs interactions on a live page addressed by XPath.
type Actor interface {
	ClickXPath(ctx context.Context, xpath string) error
	FillXPath(ctx context.Context, xpath, value string) error
}

// QueryHTML parses a serialised document, resolves s and builds the result
// tree. Interactions are forwarded to act, which may be nil.
func QueryHTML(doc string, s Schema, act Actor) (*Node, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("pagequery: parse %s: %w", s.Name, err)
	}
	return Build(Resolve(root, s), act), nil
}

// Build converts a resolved match tree into Nodes.
func Build(m *Match, act Actor) *Node {
	if m == nil {
		return nil
	}
	if m.Items != nil {
		items := make([]*Node, 0, len(m.Items))
		for _, it := range m.Items {
			if n := Build(it, act); n != nil {
				items = append(items, n)
			}
		}
		return NewList(items...)
	}
	fields := make(map[string]*Node, len(m.Fields))
	for name, fm := range m.Fields {
		if n := Build(fm, act); n != nil {
			fields[name] = n
		}
	}
	var el Element
	if m.XPath != "" {
		el = &snapshotElement{match: m, act: act}
	}
	return NewNode(el, fields)
}

// snapshotElement serves reads from the DOM snapshot and forwards
// interactions to the live page.
type snapshotElement struct {
	match *Match
	act   Actor
}

func (e *snapshotElement) Text(context.Context) (string, error) {
	return e.match.Text, nil
}

func (e *snapshotElement) Attribute(_ context.Context, name string) (string, bool, error) {
	v, ok := e.match.Attrs[name]
	return v, ok, nil
}

func (e *snapshotElement) Click(ctx context.Context) error {
	if e.act == nil {
		return ErrReadOnly
	}
	return e.act.ClickXPath(ctx, e.match.XPath)
}

func (e *snapshotElement) Fill(ctx context.Context, value string) error {
	if e.act == nil {
		return ErrReadOnly
	}
	return e.act.FillXPath(ctx, e.match.XPath, value)
}
