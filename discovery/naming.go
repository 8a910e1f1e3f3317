package discovery

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// titleSuffixes is the boilerplate stripped from page titles, longest
// first within each separator.
var titleSuffixes = []string{
	"| Online Grocery Shopping",
	"| Official Site",
	"| Home",
	"- Online Grocery Shopping",
	"- Official Site",
	"- Home",
}

// DefaultLoginOverrides maps a host fragment to the sign-in path of sites
// whose header link is unusable.
var DefaultLoginOverrides = map[string]string{
	"albertsons": "/account/sign-in",
}

// StoreName derives a display name from a page title, falling back to the
// registrable domain label of baseURL, title-cased.
func StoreName(title, baseURL string) string {
	name := strings.Join(strings.Fields(title), " ")
	for stripped := true; stripped; {
		stripped = false
		for _, suf := range titleSuffixes {
			if len(name) >= len(suf) && strings.EqualFold(name[len(name)-len(suf):], suf) {
				name = strings.TrimSpace(name[:len(name)-len(suf)])
				stripped = true
			}
		}
	}
	if name != "" {
		return name
	}
	return domainName(baseURL)
}

// domainName returns "Acme" for https://www.acme.co.uk.
func domainName(baseURL string) string {
	host := baseURL
	if u, err := url.Parse(baseURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	label := host
	if etld1, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		label = etld1
	} else {
		label = strings.TrimPrefix(label, "www.")
	}
	if i := strings.IndexByte(label, '.'); i > 0 {
		label = label[:i]
	}
	if label == "" {
		return "Store"
	}
	return cases.Title(language.Und).String(label)
}

// LoginURL resolves the sign-in target of a store. An href from the page
// wins, made absolute against origin; otherwise a known override applies,
// else {origin}/signin.
func LoginURL(href, origin string, overrides map[string]string) string {
	base, err := url.Parse(origin)
	if err != nil {
		return strings.TrimRight(origin, "/") + "/signin"
	}
	if href = strings.TrimSpace(href); usableHref(href) {
		if ref, err := url.Parse(href); err == nil {
			abs := base.ResolveReference(ref)
			if abs.Scheme == "http" || abs.Scheme == "https" {
				return abs.String()
			}
		}
	}
	host := strings.ToLower(base.Hostname())
	for fragment, path := range overrides {
		if strings.Contains(host, fragment) {
			return originOf(base) + path
		}
	}
	return originOf(base) + "/signin"
}

func usableHref(href string) bool {
	if href == "" || strings.HasPrefix(href, "#") {
		return false
	}
	return !strings.HasPrefix(strings.ToLower(href), "javascript:")
}

// Origin normalises rawURL to scheme://host[:port]. A missing scheme
// defaults to https.
func Origin(rawURL string) (string, error) {
	raw := strings.TrimSpace(rawURL)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", &url.Error{Op: "parse", URL: rawURL, Err: errNoHost}
	}
	return originOf(u), nil
}

func originOf(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}
