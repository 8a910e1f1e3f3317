// Package storetest scripts a whole retailer across browser sessions: home
// header, sign-in screens and a coupon listing. Each Launch opens a fresh
// scripted page; the account (accepted password, live session token,
// clipped offers) persists between them the way it would on a real site.
package storetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/hazyhaar/couponclip/clipper"
	"github.com/hazyhaar/couponclip/discovery"
	"github.com/hazyhaar/couponclip/login/logintest"
	"github.com/hazyhaar/couponclip/model"
	"github.com/hazyhaar/couponclip/pagequery"
	"github.com/hazyhaar/couponclip/pagequery/pagequerytest"
)

// Retailer is a scripted store and implements pagequery.Launcher.
type Retailer struct {
	Home  string
	Title string
	// Password, when set, is the only password the sign-in screen accepts.
	Password string
	// Err fails every Launch.
	Err error
	// Panic makes every Launch panic.
	Panic bool

	mu       sync.Mutex
	offers   []string
	clipped  map[string]bool
	token    string
	launches int
	logins   int
	pages    []*pagequerytest.Session
}

// New scripts a retailer at home whose page title is title.
func New(home, title string, offers ...string) *Retailer {
	return &Retailer{Home: home, Title: title, offers: offers, clipped: make(map[string]bool)}
}

// Launch opens a fresh scripted page on the retailer.
func (r *Retailer) Launch(ctx context.Context) (pagequery.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.Panic {
		panic("storetest: launch panic")
	}
	if r.Err != nil {
		return nil, r.Err
	}

	r.mu.Lock()
	r.launches++
	token := fmt.Sprintf("session-%d", r.launches)
	r.mu.Unlock()

	site := logintest.NewSite(r.Home)
	site.State = &model.StorageState{Cookies: []model.Cookie{{Name: "sid", Value: token, Path: "/", Expires: -1}}}

	submit := site.SubmitBtn.OnClick
	site.SubmitBtn.OnClick = func() error {
		fills := site.PasswordBox.Fills()
		if r.Password != "" && (len(fills) == 0 || fills[len(fills)-1] != r.Password) {
			return nil
		}
		r.mu.Lock()
		r.logins++
		r.token = token
		r.mu.Unlock()
		return submit()
	}
	site.Page.OnRestore = func(st *model.StorageState) {
		if r.accepts(st) {
			site.SetSignedIn(true)
		}
	}

	var (
		mu        sync.Mutex
		onCoupons bool
	)
	navLink := pagequerytest.El("Digital Coupons", "href", "/coupons")
	navLink.OnClick = func() error {
		mu.Lock()
		onCoupons = true
		mu.Unlock()
		site.Page.SetURL(r.Home + "/coupons")
		return nil
	}

	site.Page.Handle(discovery.StoreInfoQuery.Name, func() *pagequery.Node {
		fields := pagequerytest.Fields{"title": pagequerytest.El(r.Title).Node(nil)}
		if !site.SignedIn() {
			fields["sign_in_btn"] = pagequerytest.El("Sign In", "href", "/login").Node(nil)
		}
		return pagequery.NewNode(nil, pagequerytest.Fields{
			"header": pagequerytest.El(r.Title).Node(fields),
		})
	})
	site.Page.Handle(clipper.NavQuery.Name, func() *pagequery.Node {
		return pagequery.NewNode(nil, pagequerytest.Fields{
			"coupon_section": pagequery.NewNode(nil, pagequerytest.Fields{"nav_link": navLink.Node(nil)}),
		})
	})
	site.Page.Handle(clipper.PageQuery.Name, func() *pagequery.Node {
		mu.Lock()
		here := onCoupons
		mu.Unlock()
		if !here {
			return nil
		}
		return r.listing()
	})

	r.mu.Lock()
	r.pages = append(r.pages, site.Page)
	r.mu.Unlock()
	return site.Page, nil
}

func (r *Retailer) listing() *pagequery.Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]*pagequery.Node, 0, len(r.offers))
	for _, title := range r.offers {
		title := title
		label := "Clip"
		btnFields := pagequerytest.Fields{}
		if r.clipped[title] {
			label = "Clipped"
			btnFields["is_clipped"] = pagequerytest.El("Clipped").Node(nil)
		}
		btn := pagequerytest.El(label)
		btn.OnClick = func() error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.clipped[title] = true
			return nil
		}
		items = append(items, pagequery.NewNode(nil, pagequerytest.Fields{
			"offer": pagequery.NewNode(nil, pagequerytest.Fields{
				"title": pagequerytest.El(title).Node(nil),
			}),
			"clip_btn": btn.Node(btnFields),
		}))
	}
	return pagequery.NewNode(nil, pagequerytest.Fields{
		"coupon_section": pagequery.NewNode(nil, pagequerytest.Fields{
			"heading":           pagequerytest.El("Digital Coupons").Node(nil),
			"available_coupons": pagequery.NewList(items...),
		}),
	})
}

func (r *Retailer) accepts(st *model.StorageState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.token == "" || st == nil {
		return false
	}
	for _, c := range st.Cookies {
		if c.Name == "sid" && c.Value == r.token {
			return true
		}
	}
	return false
}

// Expire invalidates the live session so cached state stops working.
func (r *Retailer) Expire() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.token = ""
}

// Logins returns how many sign-ins succeeded.
func (r *Retailer) Logins() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logins
}

// Launches returns how many sessions were opened.
func (r *Retailer) Launches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.launches
}

// Clipped reports whether the offer titled title is clipped.
func (r *Retailer) Clipped(title string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clipped[title]
}

// AllClosed reports whether every launched session was closed.
func (r *Retailer) AllClosed() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.pages {
		if !p.Closed() {
			return fmt.Errorf("storetest: session %d left open", i+1)
		}
	}
	return nil
}
