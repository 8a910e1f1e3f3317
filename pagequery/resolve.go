package pagequery

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Match is a resolved field. Group matches have an empty XPath.
type Match struct {
	XPath  string
	Text   string
	Attrs  map[string]string
	Fields map[string]*Match
	Items  []*Match
}

// Resolve locates every field of s in doc. It returns nil when no root
// field resolved.
func Resolve(doc *html.Node, s Schema) *Match {
	r := &resolver{doc: doc}
	root := &Match{Fields: make(map[string]*Match)}
	scope := r.body()
	for _, f := range s.Fields {
		if m := r.resolveField(scope, f); m != nil {
			root.Fields[f.Name] = m
		}
	}
	if len(root.Fields) == 0 {
		return nil
	}
	return root
}

type resolver struct {
	doc *html.Node
}

// body returns the <body> element, or the document when there is none.
func (r *resolver) body() *html.Node {
	if b := findFirst(r.doc, func(n *html.Node) bool { return n.DataAtom == atom.Body }); b != nil {
		return b
	}
	return r.doc
}

func (r *resolver) resolveField(scope *html.Node, f Field) *Match {
	switch {
	case f.Flag:
		return r.resolveFlag(scope, f)
	case f.List:
		return r.resolveList(scope, f)
	case strings.TrimSpace(f.Description) == "":
		return r.resolveGroup(scope, f)
	}

	loc := parseLocator(f.Description)
	searchRoot := scope
	if loc.kind == kindTitle {
		searchRoot = r.doc
	}
	n := r.best(searchRoot, loc)
	if n == nil {
		return nil
	}
	m := newMatch(n)
	for _, child := range f.Fields {
		if cm := r.resolveField(n, child); cm != nil {
			m.Fields[child.Name] = cm
		}
	}
	// A container whose every child is missing is a false positive unless
	// it was pinned by a quoted phrase.
	if len(f.Fields) > 0 && len(m.Fields) == 0 && len(loc.phrases) == 0 && loc.kind != kindHeader {
		return nil
	}
	return m
}

func (r *resolver) resolveGroup(scope *html.Node, f Field) *Match {
	m := &Match{Fields: make(map[string]*Match)}
	for _, child := range f.Fields {
		if cm := r.resolveField(scope, child); cm != nil {
			m.Fields[child.Name] = cm
		}
	}
	if len(m.Fields) == 0 {
		return nil
	}
	return m
}

// resolveFlag tests scope itself against the quoted phrases of f.
func (r *resolver) resolveFlag(scope *html.Node, f Field) *Match {
	loc := parseLocator(f.Description)
	label := labelOf(scope)
	classes := attrTokens(scope, "class")
	for _, p := range loc.phrases {
		if strings.Contains(label, p) {
			return newMatch(scope)
		}
		for _, c := range classes {
			if c == p {
				return newMatch(scope)
			}
		}
	}
	if attr(scope, "aria-pressed") == "true" || attr(scope, "aria-checked") == "true" {
		return newMatch(scope)
	}
	return nil
}

// resolveList finds the innermost containers under scope that hold every
// non-flag child of f.
func (r *resolver) resolveList(scope *html.Node, f Field) *Match {
	loc := parseLocator(f.Description)
	var qualified []*html.Node
	var items []*Match
	walkVisible(scope, false, func(n *html.Node) {
		if len(loc.keywords) > 0 && keywordHits(attrWords(n), loc.keywords) == 0 {
			return
		}
		m := newMatch(n)
		for _, child := range f.Fields {
			if cm := r.resolveField(n, child); cm != nil {
				m.Fields[child.Name] = cm
			}
		}
		for _, child := range f.Fields {
			if !child.Flag && m.Fields[child.Name] == nil {
				return
			}
		}
		qualified = append(qualified, n)
		items = append(items, m)
	})

	var out []*Match
	for i, n := range qualified {
		inner := false
		for j, other := range qualified {
			if i != j && isAncestor(n, other) {
				inner = true
				break
			}
		}
		if !inner {
			out = append(out, items[i])
		}
	}
	if len(out) == 0 {
		return nil
	}
	return &Match{Fields: make(map[string]*Match), Items: out}
}

type candidate struct {
	node  *html.Node
	score int
	size  int
	order int
}

// best returns the highest scoring candidate for loc under root.
func (r *resolver) best(root *html.Node, loc locator) *html.Node {
	var cands []candidate
	order := 0
	walkVisible(root, loc.kind == kindTitle, func(n *html.Node) {
		order++
		base := kindScore(n, loc.kind)
		if base == 0 {
			return
		}
		label := labelOf(n)
		score := base
		if len(loc.phrases) > 0 {
			ps := phraseScore(label, loc.phrases)
			if ps == 0 {
				return
			}
			score += ps
		}
		kw := 2*keywordHits(attrWords(n), loc.keywords) + keywordHits(tokenize(label), loc.keywords)
		if len(loc.phrases) == 0 && len(loc.keywords) > 0 && kw == 0 && needsKeyword(loc.kind) {
			return
		}
		if loc.kind == kindText && label == "" {
			return
		}
		score += kw
		cands = append(cands, candidate{node: n, score: score, size: len(label), order: order})
	})
	if len(cands) == 0 {
		return nil
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		if cands[i].size != cands[j].size {
			return cands[i].size < cands[j].size
		}
		return cands[i].order < cands[j].order
	})
	return cands[0].node
}

// needsKeyword reports whether a kind is too generic to accept a candidate
// that matches none of the description's keywords.
func needsKeyword(k kind) bool {
	switch k {
	case kindText, kindDialog, kindLink, kindButton:
		return true
	}
	return false
}

// kindScore rates how well n fits k. Zero means n is not a candidate.
func kindScore(n *html.Node, k kind) int {
	role := attr(n, "role")
	switch k {
	case kindButton:
		switch {
		case n.DataAtom == atom.Button, role == "button":
			return 3
		case n.DataAtom == atom.Input:
			switch strings.ToLower(attr(n, "type")) {
			case "submit", "button", "image":
				return 3
			}
		case n.DataAtom == atom.A:
			return 2
		}
	case kindLink:
		switch {
		case n.DataAtom == atom.A, role == "link":
			return 3
		case n.DataAtom == atom.Button, role == "button":
			return 1
		}
	case kindInput:
		switch n.DataAtom {
		case atom.Input:
			switch strings.ToLower(attr(n, "type")) {
			case "submit", "button", "image", "checkbox", "radio", "hidden", "reset", "file":
				return 0
			}
			return 3
		case atom.Textarea:
			return 2
		}
	case kindHeading:
		switch n.DataAtom {
		case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
			return 3
		}
		if role == "heading" {
			return 3
		}
	case kindDialog:
		switch {
		case n.DataAtom == atom.Dialog, role == "dialog", role == "alertdialog", attr(n, "aria-modal") == "true":
			return 4
		case hasTokenContaining(n, "modal", "dialog", "popup", "overlay"):
			return 3
		case n.DataAtom == atom.Form:
			return 1
		}
	case kindTitle:
		if n.DataAtom == atom.Title {
			return 3
		}
	case kindHeader:
		switch {
		case n.DataAtom == atom.Header, role == "banner":
			return 3
		case hasTokenContaining(n, "header", "masthead", "topbar"):
			return 2
		}
	case kindNav:
		switch {
		case n.DataAtom == atom.Nav, role == "navigation":
			return 3
		case hasTokenContaining(n, "nav", "menu"):
			return 2
		}
	case kindText:
		if n.Type == html.ElementNode {
			return 1
		}
	}
	return 0
}

// phraseScore rates label against the quoted phrases: 10 for an exact
// match, 5 for containment, 0 for none.
func phraseScore(label string, phrases []string) int {
	best := 0
	for _, p := range phrases {
		switch {
		case label == p:
			return 10
		case strings.Contains(label, p):
			best = 5
		}
	}
	return best
}

func keywordHits(words, keywords []string) int {
	if len(keywords) == 0 || len(words) == 0 {
		return 0
	}
	seen := make(map[string]bool, len(words))
	for _, w := range words {
		seen[stem(w)] = true
	}
	hits := 0
	for _, k := range keywords {
		if seen[k] {
			hits++
		}
	}
	return hits
}

// labelOf is the normalised human-facing label of n: its text plus the
// attributes browsers expose to assistive technology.
func labelOf(n *html.Node) string {
	if n.DataAtom == atom.Input || n.DataAtom == atom.Textarea {
		return normalize(strings.Join([]string{
			attr(n, "aria-label"), attr(n, "placeholder"), attr(n, "value"), attr(n, "title"),
		}, " "))
	}
	parts := []string{textOf(n)}
	for _, k := range []string{"aria-label", "title", "alt"} {
		if v := attr(n, k); v != "" {
			parts = append(parts, v)
		}
	}
	return normalize(strings.Join(parts, " "))
}

// textOf concatenates the visible text under n.
func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			b.WriteByte(' ')
			return
		}
		if c.Type == html.ElementNode && (skipped(c) || hidden(c)) && c != n {
			return
		}
		for ch := c.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// attrWords returns the identifying attribute tokens of n.
func attrWords(n *html.Node) []string {
	var words []string
	for _, k := range []string{"class", "id", "name", "type", "data-testid", "data-qa", "itemprop", "autocomplete", "href", "aria-label", "placeholder"} {
		words = append(words, attrTokens(n, k)...)
	}
	return words
}

func attrTokens(n *html.Node, key string) []string {
	return tokenize(attr(n, key))
}

func hasTokenContaining(n *html.Node, subs ...string) bool {
	for _, t := range append(attrTokens(n, "class"), attrTokens(n, "id")...) {
		for _, s := range subs {
			if strings.Contains(t, s) {
				return true
			}
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// skipped reports elements that never hold user-facing content.
func skipped(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Svg:
		return true
	}
	return false
}

// hidden reports elements the user cannot see according to markup alone.
func hidden(n *html.Node) bool {
	for _, a := range n.Attr {
		switch a.Key {
		case "hidden":
			return true
		case "aria-hidden":
			if a.Val == "true" {
				return true
			}
		case "type":
			if n.DataAtom == atom.Input && strings.EqualFold(a.Val, "hidden") {
				return true
			}
		case "style":
			s := strings.ReplaceAll(strings.ToLower(a.Val), " ", "")
			if strings.Contains(s, "display:none") || strings.Contains(s, "visibility:hidden") {
				return true
			}
		}
	}
	return false
}

// walkVisible calls fn for every visible element strictly below root. The
// <head> subtree is only entered when includeHead is set.
func walkVisible(root *html.Node, includeHead bool, fn func(*html.Node)) {
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				if c.Type == html.DocumentNode {
					walk(c)
				}
				continue
			}
			if c.DataAtom == atom.Head {
				if includeHead {
					fn(c)
					walk(c)
				}
				continue
			}
			if c.DataAtom == atom.Title {
				fn(c)
				continue
			}
			if skipped(c) || hidden(c) {
				continue
			}
			fn(c)
			walk(c)
		}
	}
	walk(root)
}

func findFirst(root *html.Node, pred func(*html.Node) bool) *html.Node {
	if root.Type == html.ElementNode && pred(root) {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if n := findFirst(c, pred); n != nil {
			return n
		}
	}
	return nil
}

// isAncestor reports whether a is a strict ancestor of n.
func isAncestor(a, n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p == a {
			return true
		}
	}
	return false
}

func newMatch(n *html.Node) *Match {
	attrs := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		attrs[a.Key] = a.Val
	}
	text := textOf(n)
	if n.DataAtom == atom.Input || n.DataAtom == atom.Textarea {
		text = attr(n, "value")
	}
	return &Match{
		XPath:  XPath(n),
		Text:   text,
		Attrs:  attrs,
		Fields: make(map[string]*Match),
	}
}

// XPath returns the absolute positional XPath of an element node.
func XPath(n *html.Node) string {
	var parts []string
	for c := n; c != nil && c.Type == html.ElementNode; c = c.Parent {
		idx := 1
		for s := c.PrevSibling; s != nil; s = s.PrevSibling {
			if s.Type == html.ElementNode && s.Data == c.Data {
				idx++
			}
		}
		parts = append(parts, fmt.Sprintf("%s[%d]", c.Data, idx))
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/")
}
