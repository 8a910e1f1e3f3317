// Package clipper signs in to a store (reusing a cached session when it is
// still valid), opens its coupon listing and clips every offer not already
// clipped, page by page.
//
// Failures are split in two. Structural failures (login, navigation) end
// the run and are reported in ClipResult.Error. Per-offer failures are
// logged and the offer is dropped from the result; the loop moves on.
package clipper

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/couponclip/login"
	"github.com/hazyhaar/couponclip/model"
	"github.com/hazyhaar/couponclip/pagequery"
	"github.com/hazyhaar/couponclip/sessioncache"
	"github.com/hazyhaar/couponclip/wait"
)

var (
	ErrLoginFailed      = errors.New("login failed")
	ErrNavigationFailed = errors.New("navigation to coupons failed")

	errClickFailed  = errors.New("clip click failed")
	errNotConfirmed = errors.New("clip not confirmed")
)

// Config configures an Engine.
type Config struct {
	Launcher pagequery.Launcher
	Cache    *sessioncache.Cache
	// Flow runs sign-in when no cached session is valid. Default:
	// login.NewFlow.
	Flow   *login.Flow
	Timing wait.Timing
	// OnOutcome, when set, observes every attempted offer.
	OnOutcome func(store string, o model.ClipOutcome)
	// OnSession, when set, learns whether a run reused a cached session.
	OnSession func(store string, reused bool)
	Logger    *slog.Logger
}

func (c *Config) defaults() {
	c.Timing = c.Timing.WithDefaults(wait.ClipTiming())
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Flow == nil {
		c.Flow = login.NewFlow(c.Logger)
	}
}

// Engine runs clip jobs. Each call owns one browser session.
type Engine struct {
	config Config
	text   *bluemonday.Policy
}

// New creates an Engine.
func New(cfg Config) *Engine {
	cfg.defaults()
	return &Engine{config: cfg, text: bluemonday.StrictPolicy()}
}

// Clip runs one clip job for userID against cfg. It never panics or
// returns an error: structural failures land in the result's Error field.
func (e *Engine) Clip(ctx context.Context, cfg model.StoreConfig, userID int64) model.ClipResult {
	res := model.ClipResult{StoreName: cfg.Name, Clipped: []model.CouponOffer{}}
	log := e.config.Logger.With("store", cfg.Name, "user_id", userID)

	sess, err := e.config.Launcher.Launch(ctx)
	if err != nil {
		log.ErrorContext(ctx, "clipper: launch", "error", err)
		res.Error = "launch browser: " + err.Error()
		return res
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn("clipper: close session", "error", err)
		}
	}()

	if err := e.acquireSession(ctx, sess, cfg, userID, log); err != nil {
		log.WarnContext(ctx, "clipper: session acquisition failed", "error", err)
		res.Error = err.Error()
		return res
	}
	if err := e.openCoupons(ctx, sess); err != nil {
		log.WarnContext(ctx, "clipper: coupon navigation failed", "error", err)
		res.Error = err.Error()
		return res
	}

	res.Clipped = e.clipAll(ctx, sess, cfg.Name, log)
	res.Success = len(res.Clipped) > 0
	log.InfoContext(ctx, "clipper: run complete", "clipped", len(res.Clipped))
	return res
}

// acquireSession leaves sess signed in on the store home page. A cached
// session is tried first; a fresh login replaces it on disk.
func (e *Engine) acquireSession(ctx context.Context, sess pagequery.Session, cfg model.StoreConfig, userID int64, log *slog.Logger) error {
	key := model.StoreKey(cfg)
	cached, hadRecord := e.config.Cache.Load(userID, key)
	if hadRecord && !cached.Empty() {
		if err := sess.RestoreStorageState(ctx, cached); err != nil {
			log.WarnContext(ctx, "clipper: restore cached session", "error", err)
		}
	}

	if err := sess.Navigate(ctx, cfg.BaseURL); err != nil {
		return fmt.Errorf("%w: navigate: %v", ErrLoginFailed, err)
	}
	wait.AwaitReady(ctx, sess, e.config.Timing.Settle, e.config.Logger)

	if hadRecord {
		if login.SignedIn(ctx, sess, e.config.Timing.Elements(e.config.Logger)) {
			log.InfoContext(ctx, "clipper: reusing cached session")
			e.sessionSource(cfg.Name, true)
			return nil
		}
		log.InfoContext(ctx, "clipper: cached session no longer valid")
	}

	if cfg.Credentials == nil || !cfg.Credentials.Valid() {
		return fmt.Errorf("%w: no credentials", ErrLoginFailed)
	}
	if err := e.config.Flow.Run(ctx, sess, *cfg.Credentials); err != nil {
		return fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	e.sessionSource(cfg.Name, false)

	state, err := sess.StorageState(ctx)
	if err != nil {
		log.WarnContext(ctx, "clipper: capture session", "error", err)
		return nil
	}
	if hadRecord {
		if !e.config.Cache.Rotate(userID, key, state) {
			log.WarnContext(ctx, "clipper: rotate session failed")
		}
	} else if err := e.config.Cache.Save(userID, key, state); err != nil {
		log.WarnContext(ctx, "clipper: save session", "error", err)
	}
	return nil
}

func (e *Engine) sessionSource(store string, reused bool) {
	if e.config.OnSession != nil {
		e.config.OnSession(store, reused)
	}
}

// openCoupons clicks through to the coupon listing and confirms arrival by
// its heading.
func (e *Engine) openCoupons(ctx context.Context, sess pagequery.Session) error {
	opts := e.config.Timing.Elements(e.config.Logger)
	nav := wait.AwaitElements(ctx, sess, NavQuery, opts)
	link := nav.Path("coupon_section", "nav_link")
	if !link.Present() {
		return fmt.Errorf("%w: coupon link not found", ErrNavigationFailed)
	}
	if !wait.ClickWithDelay(ctx, link, e.config.Timing.ClickDelay, e.config.Logger) {
		return fmt.Errorf("%w: coupon link click failed", ErrNavigationFailed)
	}
	wait.AwaitReady(ctx, sess, e.config.Timing.Settle, e.config.Logger)

	listing := wait.AwaitElements(ctx, sess, PageQuery, opts)
	if !listing.Path("coupon_section", "heading").Present() {
		return fmt.Errorf("%w: coupon heading not found", ErrNavigationFailed)
	}
	return nil
}

// clipAll runs the clip loop until no "load more" affordance is left or a
// page reveals no offer not already seen. Offers are told apart by title
// and by their rank among the cards sharing that title, so identical
// titles ("Save $1.00") are each clipped.
func (e *Engine) clipAll(ctx context.Context, sess pagequery.Session, store string, log *slog.Logger) []model.CouponOffer {
	opts := e.config.Timing.Elements(e.config.Logger)
	seen := make(map[string]bool)
	clipped := []model.CouponOffer{}

	for pageNo := 1; ctx.Err() == nil; pageNo++ {
		listing := wait.AwaitElements(ctx, sess, PageQuery, opts)
		items := listing.Path("coupon_section", "available_coupons").Items()

		fresh := 0
		ranks := make(map[string]int)
		for i, item := range items {
			if ctx.Err() != nil {
				break
			}
			offer := e.readOffer(ctx, item)
			key := offerKey(offer.Title, ranks)
			if seen[key] {
				continue
			}
			seen[key] = true
			fresh++
			if offer.Title == "" {
				log.WarnContext(ctx, "clipper: offer without title skipped", "position", i)
				continue
			}

			btn := item.Field("clip_btn")
			if !btn.Present() || btn.Field("is_clipped").Exists() {
				continue
			}
			outcome := e.clipOne(ctx, sess, item, offer, key)
			if e.config.OnOutcome != nil {
				e.config.OnOutcome(store, outcome)
			}
			if outcome.Clipped {
				clipped = append(clipped, offer)
				log.DebugContext(ctx, "clipper: clipped", "title", offer.Title)
			} else {
				log.WarnContext(ctx, "clipper: offer skipped", "title", offer.Title, "error", outcome.Err)
			}
		}
		log.DebugContext(ctx, "clipper: page done", "page", pageNo, "offers", len(items), "new", fresh)
		if fresh == 0 {
			break
		}

		latest, err := sess.Query(ctx, PageQuery)
		if err != nil {
			log.WarnContext(ctx, "clipper: pagination query", "error", err)
			break
		}
		more := latest.Path("coupon_section", "pagination", "load_more_btn")
		if !more.Present() {
			break
		}
		if !wait.ClickWithDelay(ctx, more, e.config.Timing.ClickDelay, e.config.Logger) {
			break
		}
		wait.AwaitReady(ctx, sess, e.config.Timing.Settle, e.config.Logger)
	}
	return clipped
}

// offerKey identifies the n-th card titled title in listing order. ranks
// counts the titles met so far in the current listing.
func offerKey(title string, ranks map[string]int) string {
	n := ranks[title]
	ranks[title] = n + 1
	return title + "#" + strconv.Itoa(n)
}

// clipOne clicks the offer's clip button, then re-queries the listing until
// the card with the same key reports clipped or the budget runs out.
func (e *Engine) clipOne(ctx context.Context, sess pagequery.Session, item *pagequery.Node, offer model.CouponOffer, key string) model.ClipOutcome {
	out := model.ClipOutcome{Offer: offer}
	if !wait.ClickWithDelay(ctx, item.Field("clip_btn"), e.config.Timing.ClickDelay, e.config.Logger) {
		out.Err = errClickFailed
		return out
	}
	wait.AwaitReady(ctx, sess, e.config.Timing.Settle, e.config.Logger)

	for attempt := 1; attempt <= e.config.Timing.Attempts; attempt++ {
		listing, err := sess.Query(ctx, PageQuery)
		if err == nil && e.isClipped(ctx, listing, key) {
			out.Clipped = true
			return out
		}
		if attempt < e.config.Timing.Attempts && !wait.Sleep(ctx, e.config.Timing.Interval) {
			break
		}
	}
	out.Err = errNotConfirmed
	return out
}

func (e *Engine) isClipped(ctx context.Context, listing *pagequery.Node, key string) bool {
	ranks := make(map[string]int)
	for _, item := range listing.Path("coupon_section", "available_coupons").Items() {
		title := e.clean(item.Path("offer", "title").TextOr(ctx, ""))
		if offerKey(title, ranks) == key {
			return item.Path("clip_btn", "is_clipped").Exists()
		}
	}
	return false
}

func (e *Engine) readOffer(ctx context.Context, item *pagequery.Node) model.CouponOffer {
	offer := item.Field("offer")
	return model.CouponOffer{
		Title:       e.clean(offer.Field("title").TextOr(ctx, "")),
		Description: e.clean(offer.Field("description").TextOr(ctx, "")),
		Savings:     e.clean(offer.Field("savings").TextOr(ctx, "")),
		Expiration:  e.clean(offer.Field("expiration").TextOr(ctx, "")),
		Terms:       e.clean(offer.Field("terms").TextOr(ctx, "")),
	}
}

// clean strips any markup from scraped text and collapses whitespace.
func (e *Engine) clean(s string) string {
	s = html.UnescapeString(e.text.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}
