package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Driver is the page surface the manager needs: navigation, element probing,
// and cookie transfer. Implemented by internal/browser.Tab; faked in tests.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Has(ctx context.Context, selector string) (bool, error)
	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
}

// Config configures the Manager.
type Config struct {
	// HomeURL is probed to determine login status. Default: platform home.
	HomeURL string
	// LoginURL is opened for interactive login. Default: platform login page.
	LoginURL string
	// LoggedInSelector is an element present only for authenticated sessions.
	LoggedInSelector string
	// LoginTimeout bounds the interactive login wait. Default: 5m.
	LoginTimeout time.Duration
	// PollInterval is how often the login wait re-probes. Default: 2s.
	PollInterval time.Duration

	Logger *slog.Logger

	// Sleep waits for d or until ctx is done. Injectable for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c *Config) defaults() {
	if c.HomeURL == "" {
		c.HomeURL = "https://www.tiktok.com"
	}
	if c.LoginURL == "" {
		c.LoginURL = "https://www.tiktok.com/login"
	}
	if c.LoggedInSelector == "" {
		c.LoggedInSelector = `[data-e2e="profile-icon"]`
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = 5 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Sleep == nil {
		c.Sleep = sleep
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Manager owns the login state machine:
// LoggedOut → (login) → LoggedIn → (probe failure) → Expired → (re-login).
// It is the only component that mutates State.
type Manager struct {
	driver Driver
	store  Store
	cfg    Config

	state  *State
	status Status
	now    func() time.Time
}

// NewManager creates a Manager over the given driver and store.
func NewManager(driver Driver, store Store, cfg Config) *Manager {
	cfg.defaults()
	return &Manager{driver: driver, store: store, cfg: cfg, now: time.Now}
}

// State returns the current session state, nil before any login or restore.
func (m *Manager) State() *State { return m.state }

// Status returns the last observed status without probing.
func (m *Manager) Status() Status { return m.status }

// Restore loads a previously saved session and replays its cookies into the
// driver. A missing or unreadable session file is not an error: the run
// simply starts logged out.
func (m *Manager) Restore(ctx context.Context) {
	log := m.cfg.Logger
	st, err := m.store.Load()
	if err != nil {
		log.Warn("session: saved session unreadable, starting logged out", "error", err)
		return
	}
	if st == nil {
		return
	}
	if err := m.driver.SetCookies(ctx, st.Cookies); err != nil {
		log.Warn("session: replaying cookies failed, starting logged out", "error", err)
		return
	}
	m.state = st
	log.Info("session: restored", "cookies", len(st.Cookies), "captured_at", st.CapturedAt)
}

// CheckStatus probes the live page for the authenticated-only element.
// It reports Expired when a restored session no longer authenticates.
// The session state itself is not mutated.
func (m *Manager) CheckStatus(ctx context.Context) (Status, error) {
	if err := m.driver.Navigate(ctx, m.cfg.HomeURL); err != nil {
		return LoggedOut, fmt.Errorf("session: probe navigation: %w", err)
	}
	present, err := m.driver.Has(ctx, m.cfg.LoggedInSelector)
	if err != nil {
		return LoggedOut, fmt.Errorf("session: probe: %w", err)
	}
	switch {
	case present:
		m.status = LoggedIn
	case m.state != nil && m.state.LoggedIn:
		m.status = Expired
	default:
		m.status = LoggedOut
	}
	return m.status, nil
}

// EnsureAuthenticated returns a logged-in State, performing an interactive
// login when allowed. With interactive=false and no valid session it returns
// ErrNotAuthenticated so the caller can continue in degraded mode.
func (m *Manager) EnsureAuthenticated(ctx context.Context, interactive bool) (*State, error) {
	log := m.cfg.Logger

	status, err := m.CheckStatus(ctx)
	if err != nil {
		return nil, err
	}
	if status == LoggedIn {
		return m.capture(ctx)
	}
	log.Info("session: not authenticated", "status", status.String())

	if !interactive {
		return nil, ErrNotAuthenticated
	}
	return m.interactiveLogin(ctx)
}

// interactiveLogin opens the login surface and waits, bounded by
// LoginTimeout, for the authenticated element to appear.
func (m *Manager) interactiveLogin(ctx context.Context) (*State, error) {
	log := m.cfg.Logger

	if err := m.driver.Navigate(ctx, m.cfg.LoginURL); err != nil {
		return nil, fmt.Errorf("session: open login page: %w", err)
	}
	log.Info("session: waiting for login", "timeout", m.cfg.LoginTimeout)

	deadline := m.now().Add(m.cfg.LoginTimeout)
	for m.now().Before(deadline) {
		present, err := m.driver.Has(ctx, m.cfg.LoggedInSelector)
		if err != nil {
			return nil, fmt.Errorf("session: login probe: %w", err)
		}
		if present {
			return m.capture(ctx)
		}
		if err := m.cfg.Sleep(ctx, m.cfg.PollInterval); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: login wait timed out after %s", ErrNotAuthenticated, m.cfg.LoginTimeout)
}

// capture snapshots the driver's cookies into a fresh State and persists it.
// A persistence failure is logged, not fatal: the live session is still good.
func (m *Manager) capture(ctx context.Context) (*State, error) {
	cookies, err := m.driver.Cookies(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: capture cookies: %w", err)
	}
	st := &State{Cookies: cookies, LoggedIn: true, CapturedAt: m.now()}
	if err := m.store.Save(st); err != nil {
		m.cfg.Logger.Warn("session: persist failed", "error", err)
	}
	m.state = st
	m.status = LoggedIn
	return st, nil
}

// Invalidate marks the session Expired. Used when the platform truncates
// results despite an accepted session, which means the next run re-logs-in.
func (m *Manager) Invalidate() {
	m.status = Expired
	if m.state != nil {
		m.state.LoggedIn = false
		if err := m.store.Save(m.state); err != nil {
			m.cfg.Logger.Warn("session: persist expired state failed", "error", err)
		}
	}
	m.cfg.Logger.Warn("session: marked expired")
}
