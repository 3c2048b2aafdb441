package acquire

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeDriver replays scripted snapshots and scripted step failures.
type fakeDriver struct {
	fragments  []string // snapshot per scroll, cycled off the end
	scrollErrs []error  // error per scroll call, nil-padded
	scrolls    int
	navErr     error
}

func (f *fakeDriver) Navigate(_ context.Context, _ string) error { return f.navErr }

func (f *fakeDriver) Scroll(_ context.Context) error {
	f.scrolls++
	if f.scrolls-1 < len(f.scrollErrs) {
		return f.scrollErrs[f.scrolls-1]
	}
	return nil
}

func (f *fakeDriver) HTML(_ context.Context) (string, error) {
	i := f.scrolls - 1
	if i >= len(f.fragments) {
		return "", nil
	}
	return f.fragments[i], nil
}

func instantSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func testConfig() Config {
	return Config{
		MaxScrolls:      10,
		StagnationLimit: 3,
		Sleep:           instantSleep,
	}
}

// countingHandler reports one new item per non-empty fragment.
func countingHandler(calls *int) FragmentHandler {
	return func(_ context.Context, _ int, fragment string) (int, error) {
		*calls++
		if fragment == "" {
			return 0, nil
		}
		return 1, nil
	}
}

func TestRun_StagnationTerminates(t *testing.T) {
	// WHAT: Three consecutive zero-new snapshots end the run with
	// ReasonStagnation.
	// WHY: Stagnation is the end-of-results signal that distinguishes
	// "nothing more to load" from "still loading".
	d := &fakeDriver{fragments: []string{"a", "b", "", "", ""}}
	var calls int
	out, err := New(d, testConfig()).Run(context.Background(), "u", 100, countingHandler(&calls))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Reason != ReasonStagnation {
		t.Errorf("reason: got %q", out.Reason)
	}
	if out.Scrolls != 5 {
		t.Errorf("scrolls: got %d, want 5 (2 productive + 3 stagnant)", out.Scrolls)
	}
	if out.Items != 2 {
		t.Errorf("items: got %d, want 2", out.Items)
	}
}

func TestRun_MaxResultsTerminates(t *testing.T) {
	// WHAT: Reaching the requested cap stops scrolling immediately.
	// WHY: No reason to keep loading once the caller has enough.
	d := &fakeDriver{fragments: []string{"a", "b", "c", "d"}}
	var calls int
	out, err := New(d, testConfig()).Run(context.Background(), "u", 2, countingHandler(&calls))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Reason != ReasonMaxResults {
		t.Errorf("reason: got %q", out.Reason)
	}
	if out.Scrolls != 2 {
		t.Errorf("scrolls: got %d, want 2", out.Scrolls)
	}
}

func TestRun_ScrollBudgetTerminates(t *testing.T) {
	// WHAT: The attempt bound ends a run that never stagnates or fills up.
	// WHY: The loop must be finite even against an endless feed.
	cfg := testConfig()
	cfg.MaxScrolls = 4
	d := &fakeDriver{fragments: []string{"a", "b", "c", "d", "e"}}
	var calls int
	out, err := New(d, cfg).Run(context.Background(), "u", 100, countingHandler(&calls))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Reason != ReasonScrollBudget || out.Scrolls != 4 {
		t.Errorf("got reason=%q scrolls=%d", out.Reason, out.Scrolls)
	}
}

func TestRun_SingleFailureRetried(t *testing.T) {
	// WHAT: One failed scroll is retried once and the run continues.
	// WHY: Transient driver hiccups must not abort a whole acquisition.
	d := &fakeDriver{
		fragments:  []string{"", "a", "", "", ""},
		scrollErrs: []error{errors.New("flaky")},
	}
	var calls int
	out, err := New(d, testConfig()).Run(context.Background(), "u", 1, countingHandler(&calls))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// First Scroll call fails, the retry (call 2) succeeds and snapshots "a".
	if out.Items != 1 || out.Reason != ReasonMaxResults {
		t.Errorf("outcome: %+v", out)
	}
}

func TestRun_RepeatedFailureAborts(t *testing.T) {
	// WHAT: Two consecutive step failures return ErrNavigation, and
	// fragments already delivered stay counted.
	// WHY: Partial results are preserved, not discarded.
	d := &fakeDriver{
		fragments:  []string{"a", "", ""},
		scrollErrs: []error{nil, errors.New("down"), errors.New("still down")},
	}
	var calls int
	out, err := New(d, testConfig()).Run(context.Background(), "u", 100, countingHandler(&calls))
	if !errors.Is(err, ErrNavigation) {
		t.Fatalf("err: got %v, want ErrNavigation", err)
	}
	if out.Items != 1 || out.Fragments != 1 {
		t.Errorf("partial outcome lost: %+v", out)
	}
	if calls != 1 {
		t.Errorf("handler calls: got %d, want 1", calls)
	}
}

func TestRun_NavigateFailureIsNavigationError(t *testing.T) {
	// WHAT: Failing to open the target URL (after the retry) is ErrNavigation.
	// WHY: The caller maps this to its navigation taxonomy.
	d := &fakeDriver{navErr: errors.New("dns")}
	out, err := New(d, testConfig()).Run(context.Background(), "u", 5, countingHandler(new(int)))
	if !errors.Is(err, ErrNavigation) {
		t.Fatalf("err: got %v", err)
	}
	if out.Scrolls != 0 {
		t.Errorf("scrolls: got %d, want 0", out.Scrolls)
	}
}

func TestRun_CancellationAtStepBoundary(t *testing.T) {
	// WHAT: A cancelled context stops the loop at the next step boundary
	// with ReasonCancelled.
	// WHY: Cooperative cancellation must not interrupt mid-snapshot.
	ctx, cancel := context.WithCancel(context.Background())
	d := &fakeDriver{fragments: []string{"a", "b", "c"}}

	handler := func(_ context.Context, attempt int, _ string) (int, error) {
		if attempt == 2 {
			cancel()
		}
		return 1, nil
	}
	out, err := New(d, testConfig()).Run(ctx, "u", 100, handler)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err: got %v", err)
	}
	if out.Reason != ReasonCancelled {
		t.Errorf("reason: got %q", out.Reason)
	}
	if out.Items != 2 {
		t.Errorf("items before cancel: got %d, want 2", out.Items)
	}
}

func TestRun_MinDelayAppliedEveryStep(t *testing.T) {
	// WHAT: The rate-limit delay is requested before every scroll,
	// including the final one.
	// WHY: The delay is mandatory and not skippable.
	var delays []time.Duration
	cfg := testConfig()
	cfg.MinDelay = 250 * time.Millisecond
	cfg.SettleInterval = time.Millisecond
	cfg.Sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	d := &fakeDriver{fragments: []string{"a", "b"}}
	if _, err := New(d, cfg).Run(context.Background(), "u", 2, countingHandler(new(int))); err != nil {
		t.Fatalf("run: %v", err)
	}

	var rateLimits int
	for _, d := range delays {
		if d == 250*time.Millisecond {
			rateLimits++
		}
	}
	if rateLimits != 2 {
		t.Errorf("rate-limit sleeps: got %d, want 2", rateLimits)
	}
}
