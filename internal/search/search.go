// Package search coordinates one search-and-persist run: resolve the
// navigation target, ensure authentication, drive acquisition, extract and
// dedup records, and merge them into the store.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hazyhaar/toksearch/internal/acquire"
	"github.com/hazyhaar/toksearch/internal/extract"
	"github.com/hazyhaar/toksearch/internal/record"
	"github.com/hazyhaar/toksearch/internal/session"
)

// ErrInvalidInput is returned when a request fails validation.
var ErrInvalidInput = errors.New("search: invalid request")

// ErrCancelled is returned after cooperative cancellation. Records
// accumulated before the cancellation point are already persisted.
var ErrCancelled = errors.New("search: cancelled")

// Mode selects how the target is interpreted.
type Mode string

const (
	ModeKeyword Mode = "keyword"
	ModeChannel Mode = "channel"
)

// Request describes one search run. Immutable once issued.
type Request struct {
	Mode             Mode
	Target           string
	MaxResults       int
	MinDelay         time.Duration
	InteractiveLogin bool
}

// Validate checks the request once, before any resource is acquired.
func (r *Request) Validate() error {
	target := strings.TrimSpace(r.Target)
	switch r.Mode {
	case ModeKeyword:
		if utf8.RuneCountInString(target) < 2 {
			return fmt.Errorf("%w: query must be at least 2 characters", ErrInvalidInput)
		}
	case ModeChannel:
		if strings.TrimPrefix(target, "@") == "" {
			return fmt.Errorf("%w: empty channel name", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, r.Mode)
	}
	if r.MaxResults <= 0 {
		return fmt.Errorf("%w: max results must be positive", ErrInvalidInput)
	}
	if r.MinDelay < 0 {
		return fmt.Errorf("%w: negative delay", ErrInvalidInput)
	}
	return nil
}

// targetURL resolves the navigation target for the request mode.
func (r *Request) targetURL() string {
	if r.Mode == ModeChannel {
		return extract.BuildChannelURL(r.Target)
	}
	return extract.BuildSearchURL(r.Target)
}

// Result is the terminal outcome of a run.
type Result struct {
	StorePath         string
	TotalRecords      int
	NewThisRun        int
	DuplicatesSkipped int
	// Reason explains why the run ended: complete, degraded, stagnation,
	// scroll-budget, or cancelled. Fewer-than-requested records is still
	// success, with the reason saying why.
	Reason   string
	Degraded bool
}

// Progress is emitted after every scroll step.
type Progress struct {
	ScrollAttempt int
	Fragments     int
	NewRecords    int
}

// Notifier receives progress and the terminal result. Implementations must
// not block: the pipeline never waits on the presentation side.
type Notifier interface {
	Progress(ev Progress)
	Done(res Result, runErr error)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) Progress(Progress)  {}
func (NopNotifier) Done(Result, error) {}

// AuthManager is the slice of session.Manager the orchestrator needs.
type AuthManager interface {
	EnsureAuthenticated(ctx context.Context, interactive bool) (*session.State, error)
	Invalidate()
}

// Source produces fragments for a navigation target. Implemented by
// acquire.Acquirer; faked in tests.
type Source interface {
	Run(ctx context.Context, url string, maxResults int, h acquire.FragmentHandler) (*acquire.Outcome, error)
}

// Extractor turns a fragment into candidate records.
type Extractor interface {
	Extract(fragment, query string) []record.VideoRecord
}

// Config configures the Orchestrator.
type Config struct {
	// UnauthenticatedCap is the platform's result limit without a login.
	// Degraded-mode runs are capped here. Default: 6.
	UnauthenticatedCap int

	Logger Logger
}

// Logger is the slog surface used here, kept minimal for test fakes.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

func (c *Config) defaults() {
	if c.UnauthenticatedCap <= 0 {
		c.UnauthenticatedCap = 6
	}
}

// Orchestrator runs the pipeline end to end for one request.
type Orchestrator struct {
	auth      AuthManager
	source    Source
	extractor Extractor
	store     record.Store
	notify    Notifier
	cfg       Config
}

// New creates an Orchestrator. notify may be nil.
func New(auth AuthManager, source Source, extractor Extractor, store record.Store, notify Notifier, cfg Config) *Orchestrator {
	cfg.defaults()
	if notify == nil {
		notify = NopNotifier{}
	}
	return &Orchestrator{
		auth:      auth,
		source:    source,
		extractor: extractor,
		store:     store,
		notify:    notify,
		cfg:       cfg,
	}
}

// Run executes the request. Whatever fresh records were accumulated before a
// failure or cancellation are persisted before the error surfaces.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	log := o.cfg.Logger

	// Authentication. Missing auth on a non-interactive run degrades the
	// run to the platform's unauthenticated cap instead of failing it.
	degraded := false
	maxResults := req.MaxResults
	_, err := o.auth.EnsureAuthenticated(ctx, req.InteractiveLogin)
	switch {
	case errors.Is(err, session.ErrNotAuthenticated):
		degraded = true
		if maxResults > o.cfg.UnauthenticatedCap {
			maxResults = o.cfg.UnauthenticatedCap
		}
		if log != nil {
			log.Warn("search: no session, degraded mode",
				"cap", o.cfg.UnauthenticatedCap, "requested", req.MaxResults)
		}
	case err != nil:
		return nil, err
	}

	known := o.store.Known()
	runSeen := make(map[string]bool)
	var fresh []record.VideoRecord
	dupes := 0
	fragments := 0

	handler := func(_ context.Context, attempt int, fragment string) (int, error) {
		fragments++
		candidates := o.extractor.Extract(fragment, req.Target)
		for _, c := range candidates {
			runSeen[c.ID] = true
		}
		accepted, d := record.Filter(candidates, known)
		// A single snapshot can overshoot the remaining budget; records past
		// it never reach the store.
		if remaining := maxResults - len(fresh); remaining < len(accepted) {
			if remaining < 0 {
				remaining = 0
			}
			accepted = accepted[:remaining]
		}
		fresh = append(fresh, accepted...)
		dupes += d
		o.notify.Progress(Progress{
			ScrollAttempt: attempt,
			Fragments:     fragments,
			NewRecords:    len(fresh),
		})
		return len(accepted), nil
	}

	outcome, runErr := o.source.Run(ctx, req.targetURL(), maxResults, handler)

	// Best-effort durability: merge whatever we have, even on failure.
	total, mergeErr := o.store.Merge(context.WithoutCancel(ctx), fresh)
	if mergeErr != nil {
		res := &Result{StorePath: o.store.Path(), Reason: "persistence-failed", Degraded: degraded}
		o.notify.Done(*res, mergeErr)
		return res, mergeErr
	}

	res := &Result{
		StorePath:         o.store.Path(),
		TotalRecords:      total,
		NewThisRun:        len(fresh),
		DuplicatesSkipped: dupes,
		Degraded:          degraded,
		Reason:            reason(outcome, degraded, runErr),
	}

	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		runErr = fmt.Errorf("%w: %v", ErrCancelled, runErr)
	}

	o.staleSessionCheck(outcome, req, degraded, len(runSeen), len(fresh))
	o.notify.Done(*res, runErr)
	if runErr != nil {
		return res, runErr
	}
	if log != nil {
		log.Info("search: run finished",
			"reason", res.Reason, "new", res.NewThisRun,
			"duplicates", res.DuplicatesSkipped, "total", res.TotalRecords)
	}
	return res, nil
}

// staleSessionCheck flags a session that the platform accepted but still
// truncated: logged in, asked for more than the unauthenticated cap, yet the
// feed stagnated within the cap. Marked Expired so the next run re-logs-in.
// All-duplicate runs are exempt: a rerun over a saturated store stagnates for
// a different reason.
func (o *Orchestrator) staleSessionCheck(outcome *acquire.Outcome, req Request, degraded bool, distinct, fresh int) {
	if degraded || outcome == nil || outcome.Reason != acquire.ReasonStagnation {
		return
	}
	if req.MaxResults <= o.cfg.UnauthenticatedCap {
		return
	}
	if fresh == 0 || distinct == 0 || distinct > o.cfg.UnauthenticatedCap {
		return
	}
	if o.cfg.Logger != nil {
		o.cfg.Logger.Warn("search: authenticated run truncated at unauthenticated cap, marking session expired",
			"distinct", distinct, "cap", o.cfg.UnauthenticatedCap)
	}
	o.auth.Invalidate()
}

func reason(outcome *acquire.Outcome, degraded bool, runErr error) string {
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) ||
			errors.Is(runErr, ErrCancelled) {
			return "cancelled"
		}
		return "aborted"
	}
	if degraded {
		return "degraded"
	}
	if outcome == nil {
		return "complete"
	}
	switch outcome.Reason {
	case acquire.ReasonMaxResults:
		return "complete"
	case acquire.ReasonStagnation:
		return "stagnation"
	case acquire.ReasonScrollBudget:
		return "scroll-budget"
	default:
		return string(outcome.Reason)
	}
}
