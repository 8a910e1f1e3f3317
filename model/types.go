// Package model holds the data types shared by the store automation engine:
// store identity, per-call credentials, serialised browser state, and the
// coupon offers produced by a clip run.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Credentials are supplied per call and live only for one session
// acquisition. They are never serialised.
type Credentials struct {
	Identifier string `json:"email_or_username"`
	Password   string `json:"password"`
}

// String redacts the password so credentials can never leak through %v.
func (c Credentials) String() string {
	return "Credentials{" + c.Identifier + ", ****}"
}

// Valid reports whether both fields are set.
func (c Credentials) Valid() bool {
	return c.Identifier != "" && c.Password != ""
}

// StoreConfig identifies a retailer automation target.
type StoreConfig struct {
	ID          *int64       `json:"id,omitempty"`
	Name        string       `json:"name"`
	BaseURL     string       `json:"base_url"`
	LoginURL    string       `json:"login_url"`
	Credentials *Credentials `json:"-"`
}

// WithCredentials returns a copy of cfg carrying creds.
func (cfg StoreConfig) WithCredentials(creds Credentials) StoreConfig {
	cfg.Credentials = &creds
	return cfg
}

// StoreKey returns the session-file identity of a store: its numeric ID when
// one has been assigned, otherwise a stable hash of the base URL. The hash
// is embedded in file names and must not change between runs.
func StoreKey(cfg StoreConfig) string {
	if cfg.ID != nil {
		return strconv.FormatInt(*cfg.ID, 10)
	}
	sum := sha256.Sum256([]byte(cfg.BaseURL))
	return "u" + hex.EncodeToString(sum[:8])
}

// Cookie is one browser cookie in storage-state form.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"` // unix seconds, -1 for session cookies
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// NameValue is a localStorage entry.
type NameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// OriginState is the localStorage content of one origin.
type OriginState struct {
	Origin       string      `json:"origin"`
	LocalStorage []NameValue `json:"localStorage"`
}

// StorageState is the serialised authentication state of a browser context.
type StorageState struct {
	Cookies []Cookie      `json:"cookies"`
	Origins []OriginState `json:"origins"`
}

// Empty reports whether the state carries nothing worth restoring.
func (s *StorageState) Empty() bool {
	return s == nil || (len(s.Cookies) == 0 && len(s.Origins) == 0)
}

// CouponOffer is the read-only description of one offer on a listing page.
type CouponOffer struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Savings     string `json:"savings"`
	Expiration  string `json:"expiration"`
	Terms       string `json:"terms"`
}

// ClipOutcome is the per-offer result of a clip attempt.
type ClipOutcome struct {
	Offer   CouponOffer
	Clipped bool
	Err     error
}

// ClipResult aggregates one clip run. Error is set only when a structural
// step (login, navigation) failed. Offers that failed to clip are dropped.
type ClipResult struct {
	StoreName string        `json:"store"`
	Clipped   []CouponOffer `json:"clipped_coupons"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}
