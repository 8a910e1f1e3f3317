package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/couponclip/model"
	"github.com/hazyhaar/couponclip/pagequery"
)

// Session is one incognito context driving one page. It answers semantic
// queries by snapshotting the DOM and acts on matches by XPath.
type Session struct {
	mgr   *Manager
	incog *rod.Browser
	page  *rod.Page
	done  bool
}

var (
	_ pagequery.Session = (*Session)(nil)
	_ pagequery.Actor   = (*Session)(nil)
)

func newSession(ctx context.Context, m *Manager, b *rod.Browser) (*Session, error) {
	cfg := m.cfg
	incog, err := b.Context(ctx).Incognito()
	if err != nil {
		return nil, fmt.Errorf("browser: incognito context: %w", err)
	}
	// The handles outlive ctx: every operation binds its own context and
	// Close tears down on a fresh one.
	incog = incog.Context(context.Background())
	s := &Session{mgr: m, incog: incog}

	var page *rod.Page
	if cfg.Mode == ModeHeadful {
		page, err = incog.Page(proto.TargetCreateTarget{URL: ""})
	} else {
		page, err = stealth.Page(incog)
	}
	if err != nil {
		tctx, cancel := s.detached()
		defer cancel()
		if cerr := incog.Context(tctx).Close(); cerr != nil {
			cfg.Logger.Debug("browser: close context", "error", cerr)
		}
		return nil, fmt.Errorf("browser: create page: %w", err)
	}
	s.page = page

	if err := s.applyProfile(ctx, cfg.Profile); err != nil {
		s.Close()
		return nil, err
	}
	if len(cfg.ResourceBlocking) > 0 {
		blockResources(s.page, cfg.ResourceBlocking)
	}
	return s, nil
}

// detached bounds a call by ActionTimeout alone, for work that must not
// depend on the run that opened the session, which may already be over.
func (s *Session) detached() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.mgr.cfg.ActionTimeout)
}

func (s *Session) applyProfile(ctx context.Context, p Profile) error {
	page := s.page.Context(ctx)
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      p.UserAgent,
		AcceptLanguage: p.AcceptLanguage,
	}); err != nil {
		return fmt.Errorf("browser: user agent: %w", err)
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             p.Viewport.Width,
		Height:            p.Viewport.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		return fmt.Errorf("browser: viewport: %w", err)
	}
	if pairs := p.headerPairs(); len(pairs) > 0 {
		if _, err := page.SetExtraHeaders(pairs); err != nil {
			return fmt.Errorf("browser: extra headers: %w", err)
		}
	}
	return nil
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.mgr.cfg.NavigationTimeout)
	defer cancel()
	if err := s.page.Context(navCtx).Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := s.page.Context(navCtx).WaitLoad(); err != nil {
		s.mgr.cfg.Logger.Warn("browser: wait load timeout", "url", url, "error", err)
	}
	return nil
}

func (s *Session) URL() string {
	ctx, cancel := s.detached()
	defer cancel()
	info, err := s.page.Context(ctx).Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Query snapshots the current DOM and resolves schema against it.
func (s *Session) Query(ctx context.Context, schema pagequery.Schema) (*pagequery.Node, error) {
	qctx, cancel := context.WithTimeout(ctx, s.mgr.cfg.ActionTimeout)
	defer cancel()
	doc, err := s.page.Context(qctx).HTML()
	if err != nil {
		return nil, fmt.Errorf("browser: snapshot: %w", err)
	}
	return pagequery.QueryHTML(doc, schema, s)
}

// WaitIdle waits for the load event, then for the DOM to stop changing.
func (s *Session) WaitIdle(ctx context.Context) error {
	ictx, cancel := context.WithTimeout(ctx, s.mgr.cfg.IdleTimeout)
	defer cancel()
	p := s.page.Context(ictx)
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("browser: wait load: %w", err)
	}
	if err := p.WaitDOMStable(300*time.Millisecond, 0); err != nil {
		return fmt.Errorf("browser: wait dom stable: %w", err)
	}
	return nil
}

func (s *Session) element(ctx context.Context, xpath string) (*rod.Element, error) {
	el, err := s.page.Context(ctx).Timeout(s.mgr.cfg.ActionTimeout).ElementX(xpath)
	if err != nil {
		return nil, fmt.Errorf("browser: locate %s: %w", xpath, err)
	}
	return el.CancelTimeout(), nil
}

func (s *Session) ClickXPath(ctx context.Context, xpath string) error {
	el, err := s.element(ctx, xpath)
	if err != nil {
		return err
	}
	if err := el.ScrollIntoView(); err != nil {
		s.mgr.cfg.Logger.Debug("browser: scroll into view", "error", err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: click: %w", err)
	}
	return nil
}

func (s *Session) FillXPath(ctx context.Context, xpath, value string) error {
	el, err := s.element(ctx, xpath)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("browser: select text: %w", err)
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("browser: input: %w", err)
	}
	return nil
}

// StorageState captures every cookie of the context and the localStorage
// of the current origin.
func (s *Session) StorageState(ctx context.Context) (*model.StorageState, error) {
	cookies, err := s.incog.Context(ctx).GetCookies()
	if err != nil {
		return nil, fmt.Errorf("browser: cookies: %w", err)
	}
	st := &model.StorageState{Cookies: fromNetworkCookies(cookies)}

	res, err := s.page.Context(ctx).Eval(`() => JSON.stringify({
		origin: location.origin,
		items: Object.keys(localStorage).map(k => [k, localStorage.getItem(k)]),
	})`)
	if err != nil {
		s.mgr.cfg.Logger.Debug("browser: read localStorage", "error", err)
		return st, nil
	}
	if origin, ok := parseLocalStorage(res.Value.Str()); ok {
		st.Origins = append(st.Origins, origin)
	}
	return st, nil
}

// RestoreStorageState installs cookies in the context and seeds
// localStorage on every future document of a matching origin.
func (s *Session) RestoreStorageState(ctx context.Context, st *model.StorageState) error {
	if st.Empty() {
		return nil
	}
	if len(st.Cookies) > 0 {
		if err := s.incog.Context(ctx).SetCookies(toCookieParams(st.Cookies)); err != nil {
			return fmt.Errorf("browser: set cookies: %w", err)
		}
	}
	if len(st.Origins) > 0 {
		js, err := localStorageSeed(st.Origins)
		if err != nil {
			return fmt.Errorf("browser: localStorage seed: %w", err)
		}
		if _, err := s.page.Context(ctx).EvalOnNewDocument(js); err != nil {
			return fmt.Errorf("browser: localStorage seed: %w", err)
		}
	}
	return nil
}

// Close closes the page and its context. It is safe to call twice.
func (s *Session) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	defer s.mgr.release()
	tctx, cancel := s.detached()
	defer cancel()
	if s.page != nil {
		if err := s.page.Context(tctx).Close(); err != nil {
			s.mgr.cfg.Logger.Debug("browser: close page", "error", err)
		}
	}
	if err := s.incog.Context(tctx).Close(); err != nil {
		return fmt.Errorf("browser: close context: %w", err)
	}
	return nil
}

func fromNetworkCookies(in []*proto.NetworkCookie) []model.Cookie {
	out := make([]model.Cookie, 0, len(in))
	for _, c := range in {
		expires := float64(c.Expires)
		if c.Session {
			expires = -1
		}
		out = append(out, model.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return out
}

func toCookieParams(in []model.Cookie) []*proto.NetworkCookieParam {
	out := make([]*proto.NetworkCookieParam, 0, len(in))
	for _, c := range in {
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: proto.NetworkCookieSameSite(c.SameSite),
		}
		if c.Expires > 0 {
			p.Expires = proto.TimeSinceEpoch(c.Expires)
		}
		out = append(out, p)
	}
	return out
}

func parseLocalStorage(raw string) (model.OriginState, bool) {
	var snap struct {
		Origin string      `json:"origin"`
		Items  [][2]string `json:"items"`
	}
	if err := json.Unmarshal([]byte(raw), &snap); err != nil || snap.Origin == "" || snap.Origin == "null" || len(snap.Items) == 0 {
		return model.OriginState{}, false
	}
	o := model.OriginState{Origin: snap.Origin}
	for _, kv := range snap.Items {
		o.LocalStorage = append(o.LocalStorage, model.NameValue{Name: kv[0], Value: kv[1]})
	}
	return o, true
}

// localStorageSeed builds a script that copies the stored entries of the
// document's origin into localStorage.
func localStorageSeed(origins []model.OriginState) (string, error) {
	data := make(map[string][][2]string, len(origins))
	for _, o := range origins {
		for _, kv := range o.LocalStorage {
			data[o.Origin] = append(data[o.Origin], [2]string{kv.Name, kv.Value})
		}
	}
	blob, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return `(() => {
	const data = ` + string(blob) + `;
	const items = data[location.origin];
	if (!items) return;
	for (const [k, v] of items) {
		try { localStorage.setItem(k, v); } catch (e) {}
	}
})()`, nil
}
