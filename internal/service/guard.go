package service

import domainauth "github.com/prayermap/admin-console/internal/domain/auth"

// Decision is what a protected view should do for a given reconciler state.
type Decision int

const (
	// DecisionLoading means resolution is still in flight; show a loading indicator.
	DecisionLoading Decision = iota
	// DecisionRedirectLogin means nobody authorized is signed in.
	DecisionRedirectLogin
	// DecisionRender means an admin or moderator is signed in.
	DecisionRender
)

func (d Decision) String() string {
	switch d {
	case DecisionLoading:
		return "loading"
	case DecisionRedirectLogin:
		return "redirect_login"
	case DecisionRender:
		return "render"
	default:
		return "unknown"
	}
}

// Guard maps reconciler state to a Decision.
func Guard(st domainauth.State) Decision {
	switch {
	case st.Loading:
		return DecisionLoading
	case st.IsAdmin && st.Identity != nil:
		return DecisionRender
	default:
		return DecisionRedirectLogin
	}
}
