package browser

import "sort"

// Viewport is the emulated window size.
type Viewport struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Profile is the launch profile shared by every session: identity headers,
// window size and Chrome flags. Discovery and clipping use the same one.
type Profile struct {
	UserAgent      string            `yaml:"user_agent"`
	AcceptLanguage string            `yaml:"accept_language"`
	Viewport       Viewport          `yaml:"viewport"`
	Headers        map[string]string `yaml:"headers"`
	// Flags are Chrome command-line switches; an empty value is a bare
	// switch.
	Flags map[string]string `yaml:"flags"`
}

// DefaultProfile mimics a desktop Chrome on macOS.
func DefaultProfile() Profile {
	return Profile{
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
		AcceptLanguage: "en-US,en;q=0.9",
		Viewport:       Viewport{Width: 1920, Height: 1080},
		Headers: map[string]string{
			"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
			"Accept-Encoding":           "gzip, deflate, br",
			"DNT":                       "1",
			"Upgrade-Insecure-Requests": "1",
			"Sec-Fetch-Dest":            "document",
			"Sec-Fetch-Mode":            "navigate",
			"Sec-Fetch-Site":            "none",
			"Sec-Fetch-User":            "?1",
			"Cache-Control":             "max-age=0",
		},
		Flags: map[string]string{
			"disable-blink-features": "AutomationControlled",
			"disable-dev-shm-usage":  "",
			"no-sandbox":             "",
			"disable-web-security":   "",
			"disable-features":       "IsolateOrigins,site-per-process",
		},
	}
}

// withDefaults fills the empty parts of p from DefaultProfile.
func (p Profile) withDefaults() Profile {
	def := DefaultProfile()
	if p.UserAgent == "" {
		p.UserAgent = def.UserAgent
	}
	if p.AcceptLanguage == "" {
		p.AcceptLanguage = def.AcceptLanguage
	}
	if p.Viewport.Width <= 0 || p.Viewport.Height <= 0 {
		p.Viewport = def.Viewport
	}
	if p.Headers == nil {
		p.Headers = def.Headers
	}
	if p.Flags == nil {
		p.Flags = def.Flags
	}
	return p
}

// headerPairs flattens Headers into the key/value list rod expects, in a
// stable order. Accept-Language travels with the user agent override.
func (p Profile) headerPairs() []string {
	keys := make([]string, 0, len(p.Headers))
	for k := range p.Headers {
		if k == "Accept-Language" || k == "User-Agent" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, k, p.Headers[k])
	}
	return pairs
}
