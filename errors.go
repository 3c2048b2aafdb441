package toksearch

import (
	"github.com/hazyhaar/toksearch/internal/acquire"
	"github.com/hazyhaar/toksearch/internal/browser"
	"github.com/hazyhaar/toksearch/internal/record"
	"github.com/hazyhaar/toksearch/internal/search"
	"github.com/hazyhaar/toksearch/internal/session"
)

// The error taxonomy of a run, re-exported so callers can errors.Is against
// it without importing internal packages.
var (
	// ErrInvalidInput: the request failed validation. Not retryable.
	ErrInvalidInput = search.ErrInvalidInput
	// ErrDriverLaunch: Chrome could not be started or attached. Not
	// retryable; the message carries a remediation hint.
	ErrDriverLaunch = browser.ErrLaunch
	// ErrNotAuthenticated: login required but the run is non-interactive.
	ErrNotAuthenticated = session.ErrNotAuthenticated
	// ErrNavigation: the target page could not be opened or driven, after
	// the bounded in-run retries.
	ErrNavigation = acquire.ErrNavigation
	// ErrPersistence: the record store could not be read or written.
	ErrPersistence = record.ErrPersistence
	// ErrCancelled: the run was interrupted; everything acquired before the
	// cancellation point is already persisted.
	ErrCancelled = search.ErrCancelled
)
