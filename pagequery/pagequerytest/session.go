// Package pagequerytest provides a scripted in-memory browser session for
// engine tests. Query results are produced by per-schema handlers so a test
// can model a page that changes as the engine interacts with it.
package pagequerytest

import (
	"context"
	"errors"
	"sync"

	"github.com/hazyhaar/couponclip/model"
	"github.com/hazyhaar/couponclip/pagequery"
)

// Fields is the child map of a scripted node.
type Fields = map[string]*pagequery.Node

// Element is a scripted element. OnClick and OnFill, when set, run on the
// corresponding interaction and their error is returned to the caller.
type Element struct {
	Label   string
	Attrs   map[string]string
	OnClick func() error
	OnFill  func(value string) error

	mu     sync.Mutex
	clicks int
	fills  []string
}

// El builds an element with the given text and attribute pairs.
func El(label string, attrs ...string) *Element {
	e := &Element{Label: label, Attrs: make(map[string]string)}
	for i := 0; i+1 < len(attrs); i += 2 {
		e.Attrs[attrs[i]] = attrs[i+1]
	}
	return e
}

// Node wraps e in a present node.
func (e *Element) Node(fields Fields) *pagequery.Node {
	return pagequery.NewNode(e, fields)
}

func (e *Element) Text(context.Context) (string, error) { return e.Label, nil }

func (e *Element) Attribute(_ context.Context, name string) (string, bool, error) {
	v, ok := e.Attrs[name]
	return v, ok, nil
}

func (e *Element) Click(context.Context) error {
	e.mu.Lock()
	e.clicks++
	fn := e.OnClick
	e.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return nil
}

func (e *Element) Fill(_ context.Context, value string) error {
	e.mu.Lock()
	e.fills = append(e.fills, value)
	fn := e.OnFill
	e.mu.Unlock()
	if fn != nil {
		return fn(value)
	}
	return nil
}

// Clicks returns how many times the element was clicked.
func (e *Element) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

// Fills returns the values filled into the element.
func (e *Element) Fills() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.fills...)
}

// Handler answers one schema.
type Handler func() *pagequery.Node

// Session is a scripted pagequery.Session.
type Session struct {
	// NavigateErr, when set, fails every navigation.
	NavigateErr error
	// OnNavigate runs after each successful navigation.
	OnNavigate func(url string)
	// OnRestore runs after RestoreStorageState.
	OnRestore func(st *model.StorageState)

	mu       sync.Mutex
	url      string
	handlers map[string]Handler
	queries  map[string]int
	visited  []string
	state    *model.StorageState
	restored *model.StorageState
	closed   bool
}

// New returns an empty session at about:blank.
func New() *Session {
	return &Session{
		url:      "about:blank",
		handlers: make(map[string]Handler),
		queries:  make(map[string]int),
	}
}

// Handle registers the handler for the schema named name.
func (s *Session) Handle(name string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = h
}

// SetURL moves the page without recording a navigation.
func (s *Session) SetURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.url = url
}

// SetState sets the state StorageState reports.
func (s *Session) SetState(st *model.StorageState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.NavigateErr != nil {
		return s.NavigateErr
	}
	s.mu.Lock()
	s.url = url
	s.visited = append(s.visited, url)
	fn := s.OnNavigate
	s.mu.Unlock()
	if fn != nil {
		fn(url)
	}
	return nil
}

func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

func (s *Session) Query(ctx context.Context, schema pagequery.Schema) (*pagequery.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.queries[schema.Name]++
	h := s.handlers[schema.Name]
	s.mu.Unlock()
	if h == nil {
		return nil, nil
	}
	return h(), nil
}

func (s *Session) WaitIdle(ctx context.Context) error { return ctx.Err() }

func (s *Session) StorageState(context.Context) (*model.StorageState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("pagequerytest: session closed")
	}
	if s.state == nil {
		return &model.StorageState{}, nil
	}
	cp := *s.state
	return &cp, nil
}

func (s *Session) RestoreStorageState(_ context.Context, st *model.StorageState) error {
	s.mu.Lock()
	s.restored = st
	fn := s.OnRestore
	s.mu.Unlock()
	if fn != nil {
		fn(st)
	}
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Queries returns how many times the named schema was queried.
func (s *Session) Queries(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries[name]
}

// Visited returns the navigated URLs in order.
func (s *Session) Visited() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.visited...)
}

// Restored returns the last state passed to RestoreStorageState.
func (s *Session) Restored() *model.StorageState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restored
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Launcher hands out scripted sessions in order.
type Launcher struct {
	Err error

	mu       sync.Mutex
	sessions []*Session
	launched int
}

// NewLauncher returns a launcher serving sessions in order.
func NewLauncher(sessions ...*Session) *Launcher {
	return &Launcher{sessions: sessions}
}

func (l *Launcher) Launch(ctx context.Context) (pagequery.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.Err != nil {
		return nil, l.Err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.launched >= len(l.sessions) {
		return nil, errors.New("pagequerytest: no scripted session left")
	}
	s := l.sessions[l.launched]
	l.launched++
	return s, nil
}

// Launched returns how many sessions were handed out.
func (l *Launcher) Launched() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launched
}
