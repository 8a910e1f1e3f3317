package login

import "github.com/hazyhaar/couponclip/pagequery"

// HeaderQuery locates the site header and its sign-in affordance. A present
// header without sign_in_btn means the session is authenticated.
var HeaderQuery = pagequery.Schema{Name: "login_header", Fields: []pagequery.Field{
	pagequery.F("header", "the site header banner at the top of the page",
		pagequery.F("sign_in_btn", `the sign in button or link with text "Sign in" or "Sign in / Register" or "Log in"`),
	),
}}

// WelcomeQuery locates the optional "shopped before" interstitial.
var WelcomeQuery = pagequery.Schema{Name: "login_welcome", Fields: []pagequery.Field{
	pagequery.F("welcome_modal", "the welcome dialog that asks whether you have shopped before",
		pagequery.F("sign_in_btn", `the button with text "Sign in"`),
	),
}}

// OptionsQuery locates the identifier prompt and the password path. The
// quoted phrase rules out one-time-code and business sign-in buttons.
var OptionsQuery = pagequery.Schema{Name: "login_options", Fields: []pagequery.Field{
	pagequery.F("login_modal", "the sign in dialog with an email field",
		pagequery.F("email_box", "the email or username input field"),
		pagequery.F("password_btn", `the button with text "Sign in with password"`),
	),
}}

// PasswordQuery locates the password prompt.
var PasswordQuery = pagequery.Schema{Name: "login_password", Fields: []pagequery.Field{
	pagequery.F("password_modal", "the password dialog",
		pagequery.F("password_box", "the password input field"),
		pagequery.F("sign_in_btn", `the submit button with text "Sign in" or "Log in"`),
	),
}}
