// Package pagequery lets the automation engines ask a page for elements by
// natural-language description instead of CSS or XPath.
//
// A Schema is a tree of Fields. Each Field carries a description such as
//
//	a button with text "Sign in"
//
// and resolves to a Node. Nodes are optional at every level: a field that
// could not be located is simply absent (a nil *Node), never an error. Every
// capability on a Node (Text, Attribute, Click, Fill) is nil-safe.
//
// Resolution runs against a DOM snapshot parsed with golang.org/x/net/html.
// Matches carry an absolute XPath so a live driver (see internal/browser)
// can act on the element it describes.
package pagequery

// Field describes one element to locate.
type Field struct {
	Name        string
	Description string

	// List fields resolve to the repeated containers holding all of their
	// non-flag children.
	List bool

	// Flag fields test the parent element itself: present when the parent's
	// text or class list carries one of the quoted phrases.
	Flag bool

	Fields []Field
}

// Schema is a named set of root fields.
type Schema struct {
	Name   string
	Fields []Field
}

// F is shorthand for a leaf or container field.
func F(name, description string, children ...Field) Field {
	return Field{Name: name, Description: description, Fields: children}
}

// Group is a field without its own locator: it passes its parent's scope to
// its children and is present when any child resolves.
func Group(name string, children ...Field) Field {
	return Field{Name: name, Fields: children}
}

// List is a repeated container field.
func List(name, description string, children ...Field) Field {
	return Field{Name: name, Description: description, List: true, Fields: children}
}

// Flag is a boolean field evaluated against its parent.
func Flag(name, description string) Field {
	return Field{Name: name, Description: description, Flag: true}
}
