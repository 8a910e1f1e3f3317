package clipper

import "github.com/hazyhaar/couponclip/pagequery"

// NavQuery locates the link into the coupons section.
var NavQuery = pagequery.Schema{Name: "coupon_nav", Fields: []pagequery.Field{
	pagequery.Group("coupon_section",
		pagequery.F("nav_link", `the link to the coupons or deals section, e.g. "Coupons" or "Digital Coupons" or "Deals"`),
	),
}}

// PageQuery reads the coupon listing.
var PageQuery = pagequery.Schema{Name: "coupon_page", Fields: []pagequery.Field{
	pagequery.Group("coupon_section",
		pagequery.F("heading", `the heading with text "Digital Coupons" or "Available Coupons" or "Coupons"`),
		pagequery.List("available_coupons", "each coupon card",
			pagequery.Group("offer",
				pagequery.F("title", "the offer title heading"),
				pagequery.F("description", "the offer description text"),
				pagequery.F("savings", "the savings amount text"),
				pagequery.F("expiration", "the expiration date text"),
				pagequery.F("terms", "the terms and details text"),
			),
			pagequery.F("clip_btn", `the button to clip the coupon, e.g. "Clip" or "Clip Coupon" or "Add" or "Clipped"`,
				pagequery.Flag("is_clipped", `text "Clipped" or "Added" or class "clipped" or "added"`),
			),
		),
		pagequery.Group("pagination",
			pagequery.F("load_more_btn", `the button with text "Load more" or "Show more"`),
		),
	),
}}
