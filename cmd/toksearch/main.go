// Command toksearch scrapes video records from a search query or a creator
// channel into a deduplicated store.
//
// Usage:
//
//	toksearch -query "funny cats" -max 50 -out videos.xlsx
//	toksearch -channel somecreator -out videos.db
//	toksearch -query "funny cats" -interactive-login
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazyhaar/toksearch"
)

func main() {
	query := flag.String("query", "", "search query (keyword mode)")
	channel := flag.String("channel", "", "creator channel name, with or without @ (channel mode)")
	maxResults := flag.Int("max", 50, "maximum number of records to collect")
	out := flag.String("out", "", "record store path (.xlsx workbook or .db SQLite)")
	headful := flag.Bool("headful", false, "run Chrome with a visible window")
	delay := flag.Duration("delay", 0, "minimum delay between scroll steps (0 = config default)")
	interactiveLogin := flag.Bool("interactive-login", false, "open a login window and wait before searching")
	configPath := flag.String("config", "", "path to toksearch.yaml config file")
	sessionPath := flag.String("session", "", "session file path")
	webhook := flag.String("webhook", "", "POST progress and result events to this URL")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, logger, options{
		query:            *query,
		channel:          *channel,
		maxResults:       *maxResults,
		out:              *out,
		headful:          *headful,
		delay:            *delay,
		interactiveLogin: *interactiveLogin,
		configPath:       *configPath,
		sessionPath:      *sessionPath,
		webhook:          *webhook,
	})
	switch {
	case err == nil:
	case errors.Is(err, toksearch.ErrCancelled):
		logger.Warn("toksearch: interrupted, partial results persisted")
		os.Exit(2)
	default:
		logger.Error("toksearch: fatal", "error", err)
		os.Exit(1)
	}
}

type options struct {
	query            string
	channel          string
	maxResults       int
	out              string
	headful          bool
	delay            time.Duration
	interactiveLogin bool
	configPath       string
	sessionPath      string
	webhook          string
}

func run(ctx context.Context, logger *slog.Logger, opts options) error {
	if (opts.query == "") == (opts.channel == "") {
		fmt.Fprintln(os.Stderr, "usage: toksearch -query <text> | -channel <name> [flags]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	var cfg *toksearch.Config
	if opts.configPath != "" {
		loaded, err := toksearch.LoadConfigFile(opts.configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = &toksearch.Config{}
	}

	// Flags override the config file.
	if opts.out != "" {
		cfg.Store.Path = opts.out
	} else if cfg.Store.Path == "" {
		target := opts.query
		if target == "" {
			target = opts.channel
		}
		cfg.Store.Path = toksearch.DefaultStorePath(target)
	}
	if opts.sessionPath != "" {
		cfg.Session.Path = opts.sessionPath
	}
	if opts.headful {
		cfg.Browser.Mode = "headful"
	}
	if opts.webhook != "" {
		cfg.Sinks = append(cfg.Sinks, toksearch.SinkConfig{Type: "webhook", URL: opts.webhook})
	}

	s, err := toksearch.New(cfg, logger)
	if err != nil {
		return err
	}

	req := toksearch.Request{
		Mode:             toksearch.ModeKeyword,
		Target:           opts.query,
		MaxResults:       opts.maxResults,
		MinDelay:         opts.delay,
		InteractiveLogin: opts.interactiveLogin,
	}
	if opts.channel != "" {
		req.Mode = toksearch.ModeChannel
		req.Target = opts.channel
	}

	res, err := s.Run(ctx, req)
	if err != nil {
		return err
	}
	logger.Info("toksearch: done",
		"store", res.StorePath, "total", res.TotalRecords, "new", res.NewThisRun,
		"duplicates", res.DuplicatesSkipped, "reason", res.Reason, "degraded", res.Degraded)
	return nil
}
