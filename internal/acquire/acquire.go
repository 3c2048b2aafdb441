// Package acquire drives the scroll/wait/snapshot loop against a page
// driver, producing raw DOM fragments until the result set stops growing.
//
// The loop is sequential and blocking by nature: each scroll depends on the
// DOM state the previous one produced, so there is no fan-out over steps.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrNavigation is returned after repeated scroll or snapshot failures.
// Fragments already delivered to the handler remain valid.
var ErrNavigation = errors.New("acquire: navigation failed")

// Driver is the page surface the acquirer needs.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Scroll(ctx context.Context) error
	HTML(ctx context.Context) (string, error)
}

// FragmentHandler consumes one snapshot and reports how many previously
// unseen items it contained. That count feeds the stagnation counter and the
// result cap; a handler error aborts the run.
type FragmentHandler func(ctx context.Context, attempt int, fragment string) (newItems int, err error)

// Reason says why acquisition stopped.
type Reason string

const (
	ReasonMaxResults   Reason = "max-results"
	ReasonStagnation   Reason = "stagnation"
	ReasonScrollBudget Reason = "scroll-budget"
	ReasonCancelled    Reason = "cancelled"
)

// Config configures the Acquirer.
type Config struct {
	// MaxScrolls bounds the number of scroll attempts. Default: 50.
	MaxScrolls int
	// StagnationLimit is how many consecutive no-new-content snapshots end
	// the run. This is the primary end-of-results signal. Default: 3.
	StagnationLimit int
	// SettleInterval is the fixed wait for dynamic content after a scroll.
	// Default: 3s.
	SettleInterval time.Duration
	// MinDelay rate-limits every scroll step. Mandatory, never skipped,
	// including the final iteration.
	MinDelay time.Duration
	// RetryBackoff is the pause before the single per-step retry. Default: 2s.
	RetryBackoff time.Duration

	Logger *slog.Logger

	// Sleep waits for d or until ctx is done. Injectable for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c *Config) defaults() {
	if c.MaxScrolls <= 0 {
		c.MaxScrolls = 50
	}
	if c.StagnationLimit <= 0 {
		c.StagnationLimit = 3
	}
	if c.SettleInterval <= 0 {
		c.SettleInterval = 3 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Sleep == nil {
		c.Sleep = sleep
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Outcome summarizes a finished (or aborted) acquisition.
type Outcome struct {
	Scrolls   int
	Fragments int
	Items     int // distinct new items reported by the handler
	Reason    Reason
}

// Acquirer runs the acquisition loop. Not restartable: a new navigation is
// required for every run.
type Acquirer struct {
	driver Driver
	cfg    Config
}

// New creates an Acquirer over the given driver.
func New(driver Driver, cfg Config) *Acquirer {
	cfg.defaults()
	return &Acquirer{driver: driver, cfg: cfg}
}

// Run navigates to url and loops scroll → wait → snapshot → handler until a
// termination condition fires: maxResults distinct items, the stagnation
// threshold, the scroll budget, or cancellation (checked only at step
// boundaries). On repeated step failure it returns ErrNavigation together
// with the partial Outcome; everything already handed to the handler stands.
func (a *Acquirer) Run(ctx context.Context, url string, maxResults int, handler FragmentHandler) (*Outcome, error) {
	log := a.cfg.Logger
	out := &Outcome{}

	if err := a.step(ctx, func() error { return a.driver.Navigate(ctx, url) }); err != nil {
		return out, fmt.Errorf("%w: open %s: %v", ErrNavigation, url, err)
	}
	if err := a.cfg.Sleep(ctx, a.cfg.SettleInterval); err != nil {
		out.Reason = ReasonCancelled
		return out, err
	}

	stagnant := 0
	for attempt := 1; attempt <= a.cfg.MaxScrolls; attempt++ {
		if err := ctx.Err(); err != nil {
			out.Reason = ReasonCancelled
			return out, err
		}

		// Mandatory rate limit on every step, final iteration included.
		if err := a.cfg.Sleep(ctx, a.cfg.MinDelay); err != nil {
			out.Reason = ReasonCancelled
			return out, err
		}

		var fragment string
		err := a.step(ctx, func() error {
			if err := a.driver.Scroll(ctx); err != nil {
				return err
			}
			if err := a.cfg.Sleep(ctx, a.cfg.SettleInterval); err != nil {
				return err
			}
			var err error
			fragment, err = a.driver.HTML(ctx)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				out.Reason = ReasonCancelled
				return out, ctx.Err()
			}
			return out, fmt.Errorf("%w: scroll %d: %v", ErrNavigation, attempt, err)
		}

		out.Scrolls = attempt
		out.Fragments++

		newItems, err := handler(ctx, attempt, fragment)
		if err != nil {
			return out, err
		}
		out.Items += newItems

		if newItems == 0 {
			stagnant++
		} else {
			stagnant = 0
		}
		log.Debug("acquire: step", "attempt", attempt, "new_items", newItems, "total", out.Items, "stagnant", stagnant)

		if out.Items >= maxResults {
			out.Reason = ReasonMaxResults
			return out, nil
		}
		if stagnant >= a.cfg.StagnationLimit {
			log.Info("acquire: stagnation threshold reached, treating as end of results",
				"attempt", attempt, "threshold", a.cfg.StagnationLimit)
			out.Reason = ReasonStagnation
			return out, nil
		}
	}

	out.Reason = ReasonScrollBudget
	return out, nil
}

// step runs fn, retrying once after a short backoff. Two consecutive
// failures surface the second error.
func (a *Acquirer) step(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	a.cfg.Logger.Warn("acquire: step failed, retrying once", "error", err)
	if serr := a.cfg.Sleep(ctx, a.cfg.RetryBackoff); serr != nil {
		return serr
	}
	return fn()
}
