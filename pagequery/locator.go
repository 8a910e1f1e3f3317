package pagequery

import (
	"strings"
	"unicode"
)

// kind is the element class a description asks for.
type kind int

const (
	kindText kind = iota
	kindButton
	kindLink
	kindInput
	kindHeading
	kindDialog
	kindTitle
	kindHeader
	kindNav
)

func (k kind) String() string {
	switch k {
	case kindButton:
		return "button"
	case kindLink:
		return "link"
	case kindInput:
		return "input"
	case kindHeading:
		return "heading"
	case kindDialog:
		return "dialog"
	case kindTitle:
		return "title"
	case kindHeader:
		return "header"
	case kindNav:
		return "nav"
	}
	return "text"
}

// kindNouns maps description nouns to element kinds. The first noun that
// appears in a description decides its kind.
var kindNouns = map[string]kind{
	"button":     kindButton,
	"btn":        kindButton,
	"link":       kindLink,
	"anchor":     kindLink,
	"input":      kindInput,
	"field":      kindInput,
	"textbox":    kindInput,
	"box":        kindInput,
	"heading":    kindHeading,
	"headline":   kindHeading,
	"modal":      kindDialog,
	"dialog":     kindDialog,
	"popup":      kindDialog,
	"overlay":    kindDialog,
	"header":     kindHeader,
	"banner":     kindHeader,
	"navigation": kindNav,
	"menu":       kindNav,
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "with": true, "to": true, "for": true,
	"of": true, "or": true, "and": true, "in": true, "on": true, "that": true,
	"from": true, "is": true, "it": true, "this": true, "your": true, "you": true,
	"if": true, "be": true, "any": true, "text": true, "containing": true,
	"showing": true, "which": true, "leads": true, "into": true, "by": true,
	"has": true, "have": true, "ve": true, "being": true, "used": true,
	"class": true, "s": true, "at": true, "as": true, "its": true, "use": true,
	"what": true, "where": true, "each": true, "when": true, "asking": true, "instead": true,
}

// locator is a parsed description.
type locator struct {
	kind     kind
	phrases  []string // quoted, lowercased, whitespace-normalised
	keywords []string // stemmed content words
}

// parseLocator turns a natural-language description into a locator.
//
// Quoted strings become phrases that the element's label must contain.
// The first kind noun outside quotes decides the element kind. Remaining
// content words become keywords scored against text and attributes.
func parseLocator(desc string) locator {
	var loc locator
	unquoted, phrases := splitQuoted(desc)
	for _, p := range phrases {
		if p = normalize(p); p != "" {
			loc.phrases = append(loc.phrases, p)
		}
	}

	words := tokenize(unquoted)
	kindSet := false
	lower := strings.ToLower(unquoted)
	if strings.Contains(lower, "page title") || strings.Contains(lower, "document head") {
		loc.kind = kindTitle
		kindSet = true
	}
	for _, w := range words {
		if k, ok := kindNouns[w]; ok {
			if !kindSet {
				loc.kind = k
				kindSet = true
			}
			continue
		}
		if stopwords[w] || len(w) < 2 {
			continue
		}
		loc.keywords = appendUnique(loc.keywords, stem(w))
	}
	return loc
}

// splitQuoted separates "double-quoted" phrases from the rest of s.
func splitQuoted(s string) (rest string, quoted []string) {
	var b strings.Builder
	for {
		i := strings.IndexByte(s, '"')
		if i < 0 {
			b.WriteString(s)
			break
		}
		j := strings.IndexByte(s[i+1:], '"')
		if j < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:i])
		b.WriteByte(' ')
		quoted = append(quoted, s[i+1:i+1+j])
		s = s[i+j+2:]
	}
	return b.String(), quoted
}

// tokenize lowercases s and splits it on anything that is not a letter or
// digit.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// normalize lowercases s and collapses whitespace.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// stem strips common English suffixes so "savings" and "saved" compare
// equal. It is deliberately crude.
func stem(w string) string {
	for _, suf := range []string{"ings", "ing", "ed", "es", "s"} {
		if len(w)-len(suf) >= 3 && strings.HasSuffix(w, suf) {
			return w[:len(w)-len(suf)]
		}
	}
	return w
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
