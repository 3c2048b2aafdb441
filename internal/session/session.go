// Package session owns the authentication state of a run: the cookie jar
// captured at login, its durable storage, and the login state machine.
package session

import (
	"errors"
	"time"
)

// ErrNotAuthenticated is returned by a non-interactive run without a valid
// session. Callers proceed in degraded (capped-result) mode rather than fail.
var ErrNotAuthenticated = errors.New("session: not authenticated")

// Status is the probe outcome for the current session.
type Status int

const (
	LoggedOut Status = iota
	LoggedIn
	// Expired means a previously captured session no longer authenticates.
	// Distinct from LoggedOut for diagnostics only; both require re-login.
	Expired
)

func (s Status) String() string {
	switch s {
	case LoggedIn:
		return "logged-in"
	case Expired:
		return "expired"
	default:
		return "logged-out"
	}
}

// Cookie is one browser cookie, shaped for stable JSON round-tripping.
type Cookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Domain  string    `json:"domain"`
	Path    string    `json:"path,omitempty"`
	Expires time.Time `json:"expires,omitempty"`
}

// State is the authentication state. A State written to disk must load back
// into an equivalent value.
type State struct {
	Cookies    []Cookie  `json:"cookies"`
	LoggedIn   bool      `json:"logged_in"`
	CapturedAt time.Time `json:"captured_at"`
}
