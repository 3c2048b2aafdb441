package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileStore_RoundTrip(t *testing.T) {
	// WHAT: Save then Load returns an equivalent State.
	// WHY: The on-disk session must restore the same in-memory state.
	path := filepath.Join(t.TempDir(), "session.json")
	fs, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	want := &State{
		Cookies: []Cookie{
			{Name: "sid", Value: "abc", Domain: ".tiktok.com", Path: "/", Expires: time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)},
			{Name: "tt_csrf", Value: "xyz", Domain: ".tiktok.com"},
		},
		LoggedIn:   true,
		CapturedAt: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	}
	if err := fs.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := fs.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil || !got.LoggedIn || len(got.Cookies) != 2 {
		t.Fatalf("state: %+v", got)
	}
	if got.Cookies[0] != want.Cookies[0] || !got.CapturedAt.Equal(want.CapturedAt) {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestFileStore_MissingFileIsNoSession(t *testing.T) {
	// WHAT: Load on a path that was never written returns (nil, nil).
	// WHY: First runs have no session and that is not an error.
	fs, _ := NewFileStore(filepath.Join(t.TempDir(), "absent.json"))
	st, err := fs.Load()
	if err != nil || st != nil {
		t.Errorf("got (%v, %v), want (nil, nil)", st, err)
	}
}

func TestFileStore_CorruptFileErrors(t *testing.T) {
	// WHAT: A garbage session file yields an error, not a State.
	// WHY: The manager downgrades this to logged-out with a warning.
	path := filepath.Join(t.TempDir(), "session.json")
	os.WriteFile(path, []byte("{not json"), 0o600)
	fs, _ := NewFileStore(path)
	if _, err := fs.Load(); err == nil {
		t.Error("expected parse error")
	}
}

func TestFileStore_EncryptedRoundTrip(t *testing.T) {
	// WHAT: With a key, the payload is sealed on disk and loads back cleanly.
	// WHY: Cookies are credentials; the file must not be readable plaintext.
	path := filepath.Join(t.TempDir(), "session.bin")
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	fs, err := NewFileStore(path, WithKey(key))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if err := fs.Save(&State{LoggedIn: true, CapturedAt: time.Now()}); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, _ := os.ReadFile(path)
	if len(raw) == 0 || raw[0] == '{' {
		t.Error("payload looks like plaintext JSON")
	}

	st, err := fs.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if st == nil || !st.LoggedIn {
		t.Errorf("state: %+v", st)
	}

	// Wrong key must not decrypt.
	other, _ := NewFileStore(path, WithKey(make([]byte, 32)))
	if _, err := other.Load(); err == nil {
		t.Error("expected decrypt failure with wrong key")
	}
}

func TestNewFileStore_RejectsBadKeySize(t *testing.T) {
	// WHAT: A key that is not 32 bytes is rejected at construction.
	// WHY: Fail at startup, not at the first save.
	if _, err := NewFileStore("x", WithKey([]byte("short"))); err == nil {
		t.Error("expected key size error")
	}
}

// fakeDriver scripts the probe and cookie surface for manager tests.
type fakeDriver struct {
	loggedIn      bool
	loginAfterNav bool // flips loggedIn once the login URL is visited
	navigated     []string
	cookies       []Cookie
	setCookies    []Cookie
	navErr        error
}

func (f *fakeDriver) Navigate(_ context.Context, url string) error {
	if f.navErr != nil {
		return f.navErr
	}
	f.navigated = append(f.navigated, url)
	if f.loginAfterNav && url == "https://www.tiktok.com/login" {
		f.loggedIn = true
	}
	return nil
}

func (f *fakeDriver) Has(_ context.Context, _ string) (bool, error) { return f.loggedIn, nil }

func (f *fakeDriver) Cookies(_ context.Context) ([]Cookie, error) { return f.cookies, nil }

func (f *fakeDriver) SetCookies(_ context.Context, cs []Cookie) error {
	f.setCookies = cs
	return nil
}

func instantSleep(_ context.Context, _ time.Duration) error { return nil }

func TestManager_CheckStatus(t *testing.T) {
	// WHAT: The probe distinguishes logged-in, logged-out, and expired.
	// WHY: Expired (a restored session that stopped working) is a distinct
	// diagnostic even though both cases require re-login.
	ctx := context.Background()

	d := &fakeDriver{loggedIn: true}
	m := NewManager(d, &MemStore{}, Config{})
	if st, err := m.CheckStatus(ctx); err != nil || st != LoggedIn {
		t.Errorf("logged-in probe: got %v, %v", st, err)
	}

	d = &fakeDriver{}
	m = NewManager(d, &MemStore{}, Config{})
	if st, _ := m.CheckStatus(ctx); st != LoggedOut {
		t.Errorf("logged-out probe: got %v", st)
	}

	// Restored session that no longer authenticates → Expired.
	store := &MemStore{}
	store.Save(&State{LoggedIn: true, CapturedAt: time.Now()})
	d = &fakeDriver{}
	m = NewManager(d, store, Config{})
	m.Restore(ctx)
	if st, _ := m.CheckStatus(ctx); st != Expired {
		t.Errorf("expired probe: got %v", st)
	}
}

func TestManager_EnsureAuthenticated_NonInteractive(t *testing.T) {
	// WHAT: A non-interactive run without a session gets ErrNotAuthenticated.
	// WHY: The pipeline continues in degraded mode instead of failing.
	m := NewManager(&fakeDriver{}, &MemStore{}, Config{Sleep: instantSleep})
	_, err := m.EnsureAuthenticated(context.Background(), false)
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("got %v, want ErrNotAuthenticated", err)
	}
}

func TestManager_EnsureAuthenticated_InteractiveLogin(t *testing.T) {
	// WHAT: Interactive login opens the login page, waits for the
	// authenticated element, captures cookies, and persists the state.
	// WHY: This is the whole login lifecycle in one pass.
	d := &fakeDriver{
		loginAfterNav: true,
		cookies:       []Cookie{{Name: "sid", Value: "v", Domain: ".tiktok.com"}},
	}
	store := &MemStore{}
	m := NewManager(d, store, Config{Sleep: instantSleep, PollInterval: time.Millisecond})

	st, err := m.EnsureAuthenticated(context.Background(), true)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !st.LoggedIn || len(st.Cookies) != 1 {
		t.Errorf("state: %+v", st)
	}
	saved, _ := store.Load()
	if saved == nil || !saved.LoggedIn {
		t.Error("state not persisted")
	}
	if m.Status() != LoggedIn {
		t.Errorf("status: got %v", m.Status())
	}
}

func TestManager_EnsureAuthenticated_AlreadyLoggedIn(t *testing.T) {
	// WHAT: An already-authenticated session returns immediately without
	// touching the login page.
	// WHY: ensureAuthenticated must be cheap on the happy path.
	d := &fakeDriver{loggedIn: true, cookies: []Cookie{{Name: "sid"}}}
	m := NewManager(d, &MemStore{}, Config{Sleep: instantSleep})

	if _, err := m.EnsureAuthenticated(context.Background(), false); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	for _, url := range d.navigated {
		if url == "https://www.tiktok.com/login" {
			t.Error("login page visited despite valid session")
		}
	}
}

func TestManager_RestoreReplaysCookies(t *testing.T) {
	// WHAT: Restore pushes saved cookies into the driver.
	// WHY: The browser only authenticates with the cookies replayed.
	store := &MemStore{}
	store.Save(&State{
		Cookies:  []Cookie{{Name: "sid", Value: "v", Domain: ".tiktok.com"}},
		LoggedIn: true,
	})
	d := &fakeDriver{}
	m := NewManager(d, store, Config{})
	m.Restore(context.Background())
	if len(d.setCookies) != 1 || d.setCookies[0].Name != "sid" {
		t.Errorf("cookies not replayed: %v", d.setCookies)
	}
	if m.State() == nil {
		t.Error("state not adopted")
	}
}
