// Package logintest scripts a store whose sign-in screens react to the
// login flow, for tests of the engines built on top of it.
package logintest

import (
	"sync"

	"github.com/hazyhaar/couponclip/login"
	"github.com/hazyhaar/couponclip/model"
	"github.com/hazyhaar/couponclip/pagequery"
	"github.com/hazyhaar/couponclip/pagequery/pagequerytest"
)

const (
	stageHome = iota
	stageOptions
	stagePassword
	stageSignedIn
)

// Site is a scripted store at Home. A successful sign-in moves the page
// back to Home and makes the session report State.
type Site struct {
	Page  *pagequerytest.Session
	Home  string
	State *model.StorageState

	// NoPasswordModal makes the password screen never appear.
	NoPasswordModal bool

	HeaderBtn   *pagequerytest.Element
	EmailBox    *pagequerytest.Element
	PasswordBtn *pagequerytest.Element
	PasswordBox *pagequerytest.Element
	SubmitBtn   *pagequerytest.Element

	mu     sync.Mutex
	stage  int
	logins int
}

// NewSite scripts a store at home.
func NewSite(home string) *Site {
	s := &Site{
		Page:        pagequerytest.New(),
		Home:        home,
		State:       &model.StorageState{Cookies: []model.Cookie{{Name: "sid", Value: "fresh", Domain: "example.test", Path: "/", Expires: -1}}},
		HeaderBtn:   pagequerytest.El("Sign In", "href", "/signin"),
		EmailBox:    pagequerytest.El(""),
		PasswordBtn: pagequerytest.El("Sign in with password"),
		PasswordBox: pagequerytest.El(""),
		SubmitBtn:   pagequerytest.El("Sign in"),
	}
	s.HeaderBtn.OnClick = func() error {
		s.Page.SetURL(s.Home + "/signin")
		s.setStage(stageOptions)
		return nil
	}
	s.PasswordBtn.OnClick = func() error {
		if !s.NoPasswordModal {
			s.setStage(stagePassword)
		}
		return nil
	}
	s.SubmitBtn.OnClick = func() error {
		s.mu.Lock()
		s.logins++
		s.mu.Unlock()
		s.SetSignedIn(true)
		s.Page.SetURL(s.Home)
		return nil
	}

	s.Page.Handle(login.HeaderQuery.Name, func() *pagequery.Node {
		fields := pagequerytest.Fields{}
		if !s.SignedIn() {
			fields["sign_in_btn"] = s.HeaderBtn.Node(nil)
		}
		return pagequery.NewNode(nil, pagequerytest.Fields{
			"header": pagequerytest.El("Store").Node(fields),
		})
	})
	s.Page.Handle(login.OptionsQuery.Name, func() *pagequery.Node {
		if s.getStage() != stageOptions {
			return nil
		}
		return pagequery.NewNode(nil, pagequerytest.Fields{
			"login_modal": pagequerytest.El("Sign in").Node(pagequerytest.Fields{
				"email_box":    s.EmailBox.Node(nil),
				"password_btn": s.PasswordBtn.Node(nil),
			}),
		})
	})
	s.Page.Handle(login.PasswordQuery.Name, func() *pagequery.Node {
		if s.getStage() != stagePassword {
			return nil
		}
		return pagequery.NewNode(nil, pagequerytest.Fields{
			"password_modal": pagequerytest.El("Enter your password").Node(pagequerytest.Fields{
				"password_box": s.PasswordBox.Node(nil),
				"sign_in_btn":  s.SubmitBtn.Node(nil),
			}),
		})
	})
	return s
}

// SignedIn reports whether the scripted session is authenticated.
func (s *Site) SignedIn() bool {
	return s.getStage() == stageSignedIn
}

// SetSignedIn flips the authenticated state and the reported storage state.
func (s *Site) SetSignedIn(v bool) {
	if v {
		s.setStage(stageSignedIn)
		s.Page.SetState(s.State)
		return
	}
	s.setStage(stageHome)
	s.Page.SetState(nil)
}

// Logins returns how many times credentials were submitted.
func (s *Site) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

func (s *Site) setStage(v int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage = v
}

func (s *Site) getStage() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}
