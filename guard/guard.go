// Package guard holds the checks applied to operator input before a browser
// is pointed at it: target URL safety (no private or loopback hosts) and
// session secret strength.
package guard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// MinSecretLen is the minimum session secret length in bytes.
const MinSecretLen = 32

var (
	ErrSecretTooShort = fmt.Errorf("guard: secret must be at least %d bytes", MinSecretLen)
	ErrUnsafeScheme   = errors.New("guard: only http and https targets are allowed")
	ErrUnsafeTarget   = errors.New("guard: target resolves to a private or loopback address")
	ErrNoHost         = errors.New("guard: target has no host")
)

// ValidateSecret checks that secret is at least MinSecretLen bytes.
func ValidateSecret(secret string) error {
	if len(secret) < MinSecretLen {
		return ErrSecretTooShort
	}
	return nil
}

// Resolver looks up host addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Guard vets target URLs.
type Guard struct {
	resolver Resolver
}

// New returns a Guard using r, or net.DefaultResolver when r is nil.
func New(r Resolver) *Guard {
	if r == nil {
		r = net.DefaultResolver
	}
	return &Guard{resolver: r}
}

// CheckURL rejects rawURL when it is not http(s) or when its host is, or
// resolves to, a non-public address. A bare host is read as https. Lookup
// failures pass: the browser fails on its own when the host is unreachable.
func (g *Guard) CheckURL(ctx context.Context, rawURL string) error {
	raw := strings.TrimSpace(rawURL)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("guard: invalid URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return ErrNoHost
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return ErrUnsafeTarget
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if !public(addr) {
			return ErrUnsafeTarget
		}
		return nil
	}
	addrs, err := g.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if !public(a) {
			return fmt.Errorf("%w: %s", ErrUnsafeTarget, host)
		}
	}
	return nil
}

func public(a netip.Addr) bool {
	a = a.Unmap()
	return a.IsValid() &&
		!a.IsLoopback() &&
		!a.IsPrivate() &&
		!a.IsLinkLocalUnicast() &&
		!a.IsLinkLocalMulticast() &&
		!a.IsInterfaceLocalMulticast() &&
		!a.IsUnspecified()
}
