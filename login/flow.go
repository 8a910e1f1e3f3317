// Package login drives the multi-screen sign-in sequence of an unknown
// retail site.
//
// The flow is linear with optional skips:
//
//	InitialPrompt -> WelcomeModal? -> LoginOptions -> Password -> Verification
//
// Each step either finds its affordance and advances, is legitimately absent
// (WelcomeModal only), or is absent and aborts the whole flow.
package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/hazyhaar/couponclip/model"
	"github.com/hazyhaar/couponclip/pagequery"
	"github.com/hazyhaar/couponclip/wait"
)

var (
	ErrHeaderNotFound        = errors.New("header sign-in not found")
	ErrLoginModalNotFound    = errors.New("login modal not found")
	ErrPasswordModalNotFound = errors.New("password modal not found")
	ErrVerificationTimeout   = errors.New("login verification timed out")
)

// Step names a state of the flow.
type Step string

const (
	StepInitialPrompt Step = "initial_prompt"
	StepWelcomeModal  Step = "welcome_modal"
	StepLoginOptions  Step = "login_options"
	StepPassword      Step = "password"
	StepVerification  Step = "verification"
)

// StepError is the failure of one step.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string { return "login: " + string(e.Step) + ": " + e.Err.Error() }
func (e *StepError) Unwrap() error { return e.Err }

// pendingPaths are URL path fragments that mean the site is still on a
// sign-in screen.
var pendingPaths = []string{"/signin", "/login", "/account/sign-in"}

// Flow runs the login state machine.
type Flow struct {
	Timing wait.Timing
	Logger *slog.Logger
}

// NewFlow returns a flow with clipping timings.
func NewFlow(logger *slog.Logger) *Flow {
	f := &Flow{Logger: logger}
	f.defaults()
	return f
}

func (f *Flow) defaults() {
	f.Timing = f.Timing.WithDefaults(wait.ClipTiming())
	if f.Logger == nil {
		f.Logger = slog.Default()
	}
}

// Run signs in on page, which must already show the store. It returns nil
// once the header no longer offers to sign in. Credentials are never logged.
func (f *Flow) Run(ctx context.Context, page pagequery.Page, creds model.Credentials) error {
	f.defaults()
	if !creds.Valid() {
		return &StepError{Step: StepInitialPrompt, Err: errors.New("credentials missing")}
	}
	log := f.Logger.With("url", page.URL())
	opts := f.Timing.Elements(f.Logger)

	// InitialPrompt.
	header := wait.AwaitElements(ctx, page, HeaderQuery, opts)
	signIn := header.Path("header", "sign_in_btn")
	if !signIn.Present() {
		return &StepError{Step: StepInitialPrompt, Err: ErrHeaderNotFound}
	}
	if !wait.ClickWithDelay(ctx, signIn, f.Timing.ClickDelay, f.Logger) {
		return &StepError{Step: StepInitialPrompt, Err: fmt.Errorf("%w: click failed", ErrHeaderNotFound)}
	}
	wait.AwaitReady(ctx, page, f.Timing.Settle, f.Logger)
	log.DebugContext(ctx, "login: sign-in prompt opened")

	// WelcomeModal, optional: one look, no retries.
	welcome := wait.AwaitElements(ctx, page, WelcomeQuery, wait.Options{MaxAttempts: 1, Logger: f.Logger})
	if btn := welcome.Path("welcome_modal", "sign_in_btn"); btn.Present() {
		if wait.ClickWithDelay(ctx, btn, f.Timing.ClickDelay, f.Logger) {
			wait.AwaitReady(ctx, page, f.Timing.Settle, f.Logger)
			log.DebugContext(ctx, "login: welcome modal dismissed")
		}
	}

	// LoginOptions.
	options := wait.AwaitElements(ctx, page, OptionsQuery, opts)
	emailBox := options.Path("login_modal", "email_box")
	passwordBtn := options.Path("login_modal", "password_btn")
	if !emailBox.Present() || !passwordBtn.Present() {
		return &StepError{Step: StepLoginOptions, Err: ErrLoginModalNotFound}
	}
	if err := emailBox.Fill(ctx, creds.Identifier); err != nil {
		return &StepError{Step: StepLoginOptions, Err: fmt.Errorf("%w: fill identifier: %v", ErrLoginModalNotFound, err)}
	}
	if !wait.ClickWithDelay(ctx, passwordBtn, f.Timing.ClickDelay, f.Logger) {
		return &StepError{Step: StepLoginOptions, Err: fmt.Errorf("%w: password option click failed", ErrLoginModalNotFound)}
	}
	wait.AwaitReady(ctx, page, f.Timing.Settle, f.Logger)

	// Password.
	pw := wait.AwaitElements(ctx, page, PasswordQuery, opts)
	passwordBox := pw.Path("password_modal", "password_box")
	submit := pw.Path("password_modal", "sign_in_btn")
	if !passwordBox.Present() || !submit.Present() {
		return &StepError{Step: StepPassword, Err: ErrPasswordModalNotFound}
	}
	if err := passwordBox.Fill(ctx, creds.Password); err != nil {
		return &StepError{Step: StepPassword, Err: fmt.Errorf("%w: fill password: %v", ErrPasswordModalNotFound, err)}
	}
	if !wait.ClickWithDelay(ctx, submit, f.Timing.ClickDelay, f.Logger) {
		return &StepError{Step: StepPassword, Err: fmt.Errorf("%w: submit click failed", ErrPasswordModalNotFound)}
	}
	wait.AwaitReady(ctx, page, f.Timing.Settle, f.Logger)

	// Verification.
	for attempt := 1; attempt <= f.Timing.VerifyAttempts; attempt++ {
		if !Pending(page.URL()) {
			n, err := page.Query(ctx, HeaderQuery)
			if err == nil && isSignedIn(n) {
				log.InfoContext(ctx, "login: signed in", "attempt", attempt)
				return nil
			}
		}
		if attempt < f.Timing.VerifyAttempts && !wait.Sleep(ctx, f.Timing.VerifyInterval) {
			break
		}
	}
	return &StepError{Step: StepVerification, Err: ErrVerificationTimeout}
}

// Pending reports whether rawURL still points at a sign-in screen.
func Pending(rawURL string) bool {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	}
	path = strings.ToLower(path)
	for _, p := range pendingPaths {
		if strings.Contains(path, p) {
			return true
		}
	}
	return false
}

// SignedIn reports whether page shows a header without a sign-in
// affordance.
func SignedIn(ctx context.Context, page pagequery.Page, opts wait.Options) bool {
	return isSignedIn(wait.AwaitElements(ctx, page, HeaderQuery, opts))
}

func isSignedIn(n *pagequery.Node) bool {
	header := n.Field("header")
	return header.Present() && !header.Field("sign_in_btn").Present()
}
