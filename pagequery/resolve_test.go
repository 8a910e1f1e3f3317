package pagequery

import (
	"context"
	"strings"
	"testing"

	"golang.org/x/net/html"
)

const storePage = `<!DOCTYPE html>
<html>
<head><title>Acme Grocery | Official Site</title><script>var x = "Sign in";</script></head>
<body>
<header class="site-header">
  <a href="/" class="logo">Acme</a>
  <nav><a href="/weekly-ad">Weekly Ad</a><a href="/coupons">Digital Coupons</a></nav>
  <a href="/login" class="account-link">Sign In</a>
</header>
<main>
  <h1>Digital Coupons</h1>
  <section id="coupon-list">
    <div class="coupon-card">
      <h3 class="coupon-title">$1.00 off Cereal</h3>
      <p class="description">Any two boxes</p>
      <span class="savings">$1.00</span>
      <span class="expiration">Expires 12/31</span>
      <p class="terms">Limit one per household</p>
      <button class="clip-button">Clip</button>
    </div>
    <div class="coupon-card">
      <h3 class="coupon-title">Save $2 on Coffee</h3>
      <p class="description">Ground or whole bean</p>
      <span class="savings">$2.00</span>
      <button class="clip-button clipped">Clipped</button>
    </div>
    <div class="coupon-card" style="display: none">
      <h3 class="coupon-title">Hidden Offer</h3>
      <button class="clip-button">Clip</button>
    </div>
  </section>
  <button class="load-more">Load More</button>
</main>
</body>
</html>`

var headerSchema = Schema{Name: "header", Fields: []Field{
	F("header", "the site header banner at the top of the page",
		F("title", "the page title in the document head"),
		F("sign_in_btn", `the sign in button or link with text "Sign in" or "Log in"`),
	),
}}

var couponSchema = Schema{Name: "coupons", Fields: []Field{
	Group("coupon_section",
		F("nav_link", `the link to the coupons or deals section, e.g. "Coupons" or "Deals"`),
		F("heading", `the heading with text "Digital Coupons" or "Available Coupons"`),
		List("available_coupons", "each coupon card",
			Group("offer",
				F("title", "the offer title heading"),
				F("description", "the offer description text"),
				F("savings", "the savings amount text"),
				F("expiration", "the expiration date text"),
				F("terms", "the terms and details text"),
			),
			F("clip_btn", `the button to clip the coupon, e.g. "Clip" or "Clip Coupon" or "Clipped"`,
				Flag("is_clipped", `text "Clipped" or "Added" or class "clipped" or "added"`),
			),
		),
		Group("pagination",
			F("load_more_btn", `the button with text "Load more" or "Show more"`),
		),
	),
}}

var loginSchema = Schema{Name: "login", Fields: []Field{
	F("login_modal", "the sign in dialog with an email field",
		F("email_box", "the email or username input field"),
		F("password_btn", `the button with text "Sign in with password"`),
	),
}}

func mustQuery(t *testing.T, doc string, s Schema, act Actor) *Node {
	t.Helper()
	n, err := QueryHTML(doc, s, act)
	if err != nil {
		t.Fatalf("QueryHTML: %v", err)
	}
	return n
}

func TestParseLocator(t *testing.T) {
	tests := []struct {
		desc     string
		kind     kind
		phrases  []string
		keywords []string
	}{
		{`a button with text "Sign in"`, kindButton, []string{"sign in"}, nil},
		{"the page title in the document head", kindTitle, nil, []string{"page", "title", "document", "head"}},
		{"the email or username input field", kindInput, nil, []string{"email", "username"}},
		{"the savings amount text", kindText, nil, []string{"sav", "amount"}},
		{"the site header banner", kindHeader, nil, []string{"site"}},
	}
	for _, tt := range tests {
		loc := parseLocator(tt.desc)
		if loc.kind != tt.kind {
			t.Errorf("%q: kind got %s, want %s", tt.desc, loc.kind, tt.kind)
		}
		if strings.Join(loc.phrases, "|") != strings.Join(tt.phrases, "|") {
			t.Errorf("%q: phrases got %v, want %v", tt.desc, loc.phrases, tt.phrases)
		}
		if strings.Join(loc.keywords, "|") != strings.Join(tt.keywords, "|") {
			t.Errorf("%q: keywords got %v, want %v", tt.desc, loc.keywords, tt.keywords)
		}
	}
}

func TestResolve_HeaderTitleAndSignIn(t *testing.T) {
	ctx := context.Background()
	n := mustQuery(t, storePage, headerSchema, nil)

	header := n.Field("header")
	if !header.Present() {
		t.Fatal("header not found")
	}
	if got := header.Field("title").TextOr(ctx, ""); got != "Acme Grocery | Official Site" {
		t.Errorf("title: got %q", got)
	}
	btn := header.Field("sign_in_btn")
	if got := btn.TextOr(ctx, ""); got != "Sign In" {
		t.Errorf("sign in text: got %q, want %q", got, "Sign In")
	}
	href, ok, err := btn.Attribute(ctx, "href")
	if err != nil || !ok || href != "/login" {
		t.Errorf("sign in href: got %q ok=%v err=%v", href, ok, err)
	}
}

func TestResolve_SignedInHeaderHasNoSignIn(t *testing.T) {
	doc := `<html><head><title>Acme</title></head><body>
<header><a href="/account">Hi, Jane</a><a href="/logout">Sign out</a></header>
</body></html>`
	n := mustQuery(t, doc, headerSchema, nil)
	if !n.Path("header").Present() {
		t.Fatal("header not found")
	}
	if n.Path("header", "sign_in_btn").Present() {
		t.Error("sign in affordance should be absent once signed in")
	}
}

func TestResolve_NoHeader(t *testing.T) {
	n := mustQuery(t, `<html><body><p>maintenance</p></body></html>`, headerSchema, nil)
	if n.Path("header").Present() {
		t.Error("header should be absent")
	}
}

func TestResolve_CouponList(t *testing.T) {
	ctx := context.Background()
	n := mustQuery(t, storePage, couponSchema, nil)
	sec := n.Field("coupon_section")

	if got := sec.Field("nav_link").TextOr(ctx, ""); got != "Digital Coupons" {
		t.Errorf("nav link: got %q", got)
	}
	if got := sec.Field("heading").TextOr(ctx, ""); got != "Digital Coupons" {
		t.Errorf("heading: got %q", got)
	}

	items := sec.Field("available_coupons").Items()
	if len(items) != 2 {
		t.Fatalf("offers: got %d, want 2", len(items))
	}

	first := items[0]
	if got := first.Path("offer", "title").TextOr(ctx, ""); got != "$1.00 off Cereal" {
		t.Errorf("offer 0 title: got %q", got)
	}
	if got := first.Path("offer", "description").TextOr(ctx, ""); got != "Any two boxes" {
		t.Errorf("offer 0 description: got %q", got)
	}
	if got := first.Path("offer", "savings").TextOr(ctx, ""); got != "$1.00" {
		t.Errorf("offer 0 savings: got %q", got)
	}
	if got := first.Path("offer", "expiration").TextOr(ctx, ""); got != "Expires 12/31" {
		t.Errorf("offer 0 expiration: got %q", got)
	}
	if got := first.Path("offer", "terms").TextOr(ctx, ""); got != "Limit one per household" {
		t.Errorf("offer 0 terms: got %q", got)
	}
	if first.Path("clip_btn", "is_clipped").Exists() {
		t.Error("offer 0 should not be clipped")
	}

	second := items[1]
	if !second.Path("clip_btn", "is_clipped").Exists() {
		t.Error("offer 1 should be clipped")
	}
	if second.Path("offer", "terms").Present() {
		t.Error("offer 1 has no terms")
	}

	if got := sec.Path("pagination", "load_more_btn").TextOr(ctx, ""); got != "Load More" {
		t.Errorf("load more: got %q", got)
	}
}

func TestResolve_AbsentDialog(t *testing.T) {
	n := mustQuery(t, storePage, loginSchema, nil)
	if n.Present() {
		t.Error("login dialog should be absent on a page without one")
	}
}

func TestResolve_LoginDialog(t *testing.T) {
	doc := `<html><body>
<div role="dialog" aria-modal="true">
  <h2>Sign in or create an account</h2>
  <input type="email" name="email" placeholder="Email address">
  <button>Sign in with a one-time code</button>
  <button>Sign in with password</button>
</div>
</body></html>`
	ctx := context.Background()
	n := mustQuery(t, doc, loginSchema, nil)
	modal := n.Field("login_modal")
	if !modal.Field("email_box").Present() {
		t.Fatal("email box not found")
	}
	if got := modal.Field("password_btn").TextOr(ctx, ""); got != "Sign in with password" {
		t.Errorf("password option: got %q", got)
	}
}

type recordingActor struct {
	clicked []string
	filled  map[string]string
}

func (a *recordingActor) ClickXPath(_ context.Context, xpath string) error {
	a.clicked = append(a.clicked, xpath)
	return nil
}

func (a *recordingActor) FillXPath(_ context.Context, xpath, value string) error {
	if a.filled == nil {
		a.filled = make(map[string]string)
	}
	a.filled[xpath] = value
	return nil
}

func TestBuild_ForwardsInteractions(t *testing.T) {
	ctx := context.Background()
	act := &recordingActor{}
	n := mustQuery(t, storePage, headerSchema, act)
	if err := n.Path("header", "sign_in_btn").Click(ctx); err != nil {
		t.Fatalf("click: %v", err)
	}
	want := "/html[1]/body[1]/header[1]/a[2]"
	if len(act.clicked) != 1 || act.clicked[0] != want {
		t.Errorf("clicked: got %v, want [%s]", act.clicked, want)
	}
}

func TestBuild_ReadOnlyWithoutActor(t *testing.T) {
	n := mustQuery(t, storePage, headerSchema, nil)
	if err := n.Path("header", "sign_in_btn").Click(context.Background()); err != ErrReadOnly {
		t.Errorf("click without actor: got %v, want ErrReadOnly", err)
	}
}

func TestXPath(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(`<html><body><div></div><div><p>a</p><span></span><p>b</p></div></body></html>`))
	if err != nil {
		t.Fatal(err)
	}
	var last *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "p" {
			last = n
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if got, want := XPath(last), "/html[1]/body[1]/div[2]/p[2]"; got != want {
		t.Errorf("XPath: got %q, want %q", got, want)
	}
}
