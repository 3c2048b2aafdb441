// Package toksearch turns a search query or channel name into a durable,
// deduplicated store of video records, driving a real Chrome through the
// platform's scroll-rendered result feed.
package toksearch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hazyhaar/toksearch/internal/acquire"
	"github.com/hazyhaar/toksearch/internal/browser"
	"github.com/hazyhaar/toksearch/internal/extract"
	"github.com/hazyhaar/toksearch/internal/record"
	"github.com/hazyhaar/toksearch/internal/search"
	"github.com/hazyhaar/toksearch/internal/session"
)

// Request describes one search run.
type Request = search.Request

// Result is the terminal outcome of a run.
type Result = search.Result

// Mode selects how the request target is interpreted.
type Mode = search.Mode

const (
	ModeKeyword = search.ModeKeyword
	ModeChannel = search.ModeChannel
)

// Searcher owns the configuration and runs searches. Each Run acquires its
// own browser and record store and releases both on every exit path; a
// Searcher itself holds no resources and may be reused across runs.
type Searcher struct {
	cfg    *Config
	logger *slog.Logger
}

// New creates a Searcher. A nil cfg means all defaults; a nil logger means
// slog.Default.
func New(cfg *Config, logger *slog.Logger) (*Searcher, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{cfg: cfg, logger: logger}, nil
}

// Run executes one search-and-persist run.
func (s *Searcher) Run(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	log := s.logger.With("run_id", runID)

	sinks, err := s.buildSinks()
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, sink := range sinks {
			if err := sink.Close(); err != nil {
				log.Warn("toksearch: sink close failed", "error", err)
			}
		}
	}()

	// Interactive login needs a window the user can see.
	headless := s.cfg.Browser.Mode == "headless"
	if req.InteractiveLogin && headless {
		log.Info("toksearch: interactive login requested, switching to headful")
		headless = false
	}

	mgr := browser.NewManager(browser.Config{
		Headless:     headless,
		RemoteURL:    s.cfg.Browser.Remote,
		UserAgent:    s.cfg.Browser.UserAgent,
		WindowWidth:  s.cfg.Browser.WindowWidth,
		WindowHeight: s.cfg.Browser.WindowHeight,
		Logger:       log,
	})
	if _, err := mgr.Start(ctx); err != nil {
		return nil, err
	}
	defer mgr.Close()

	tab, err := browser.OpenTab(ctx, mgr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDriverLaunch, err)
	}
	defer tab.Close()

	key, err := s.cfg.sessionKey()
	if err != nil {
		return nil, err
	}
	var fileOpts []session.FileOption
	if key != nil {
		fileOpts = append(fileOpts, session.WithKey(key))
	}
	sessStore, err := session.NewFileStore(s.cfg.Session.Path, fileOpts...)
	if err != nil {
		return nil, err
	}
	auth := session.NewManager(tab, sessStore, session.Config{
		LoginTimeout: s.cfg.Session.LoginTimeout,
		Logger:       log,
	})
	auth.Restore(ctx)

	store, err := record.Open(s.cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	minDelay := req.MinDelay
	if minDelay <= 0 {
		minDelay = s.cfg.Search.MinDelay
	}
	acq := acquire.New(tab, acquire.Config{
		MaxScrolls:      s.cfg.Search.MaxScrolls,
		StagnationLimit: s.cfg.Search.StagnationLimit,
		SettleInterval:  s.cfg.Search.SettleInterval,
		MinDelay:        minDelay,
		Logger:          log,
	})

	notify := newFanout(ctx, runID, sinks, log)
	defer notify.stop()

	orch := search.New(auth, acq, extract.New(log), store, notify, search.Config{
		UnauthenticatedCap: s.cfg.Search.UnauthenticatedCap,
		Logger:             log,
	})

	log.Info("toksearch: run starting",
		"mode", req.Mode, "target", req.Target, "max_results", req.MaxResults,
		"store", s.cfg.Store.Path)
	return orch.Run(ctx, req)
}

func (s *Searcher) buildSinks() ([]Sink, error) {
	sinks := make([]Sink, 0, len(s.cfg.Sinks))
	for _, sc := range s.cfg.Sinks {
		switch sc.Type {
		case "stdout":
			sinks = append(sinks, NewStdoutSink(nil))
		case "webhook":
			sinks = append(sinks, NewWebhookSink(sc.URL, WithWebhookLogger(s.logger)))
		default:
			return nil, fmt.Errorf("%w: unknown sink type %q", ErrInvalidInput, sc.Type)
		}
	}
	return sinks, nil
}
