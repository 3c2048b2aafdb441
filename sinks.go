package toksearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/hazyhaar/toksearch/internal/search"
)

// ProgressEvent is emitted after every scroll step of a run.
type ProgressEvent struct {
	RunID         string `json:"run_id"`
	ScrollAttempt int    `json:"scroll_attempt"`
	Fragments     int    `json:"fragments"`
	NewRecords    int    `json:"new_records"`
}

// ResultEvent is the single terminal event of a run.
type ResultEvent struct {
	RunID             string `json:"run_id"`
	Status            string `json:"status"` // ok | error
	Error             string `json:"error,omitempty"`
	StorePath         string `json:"store_path"`
	TotalRecords      int    `json:"total_records"`
	NewThisRun        int    `json:"new_this_run"`
	DuplicatesSkipped int    `json:"duplicates_skipped"`
	Reason            string `json:"reason"`
	Degraded          bool   `json:"degraded"`
}

// Sink is the output interface for run events. Implementations must be safe
// for sequential use from a single run.
type Sink interface {
	SendProgress(ctx context.Context, ev ProgressEvent) error
	SendResult(ctx context.Context, ev ResultEvent) error
	Close() error
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// StdoutSink writes JSON lines to an io.Writer (default os.Stdout).
type StdoutSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewStdoutSink creates a Stdout sink. If w is nil, os.Stdout is used.
func NewStdoutSink(w io.Writer) *StdoutSink {
	if w == nil {
		w = os.Stdout
	}
	return &StdoutSink{enc: json.NewEncoder(w)}
}

func (s *StdoutSink) SendProgress(_ context.Context, ev ProgressEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(envelope{Type: "progress", Data: ev})
}

func (s *StdoutSink) SendResult(_ context.Context, ev ResultEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(envelope{Type: "result", Data: ev})
}

func (s *StdoutSink) Close() error { return nil }

// WebhookSink POSTs JSON to a URL with retry and exponential backoff.
type WebhookSink struct {
	url        string
	client     *http.Client
	maxRetries int
	logger     *slog.Logger
}

// WebhookOption configures a WebhookSink.
type WebhookOption func(*WebhookSink)

// WithWebhookRetries sets the maximum number of retries. Default: 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *WebhookSink) { w.maxRetries = n }
}

// WithWebhookLogger sets a custom logger.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *WebhookSink) { w.logger = l }
}

// WithWebhookClient sets a custom HTTP client.
func WithWebhookClient(c *http.Client) WebhookOption {
	return func(w *WebhookSink) { w.client = c }
}

// NewWebhookSink creates a webhook sink targeting the given URL.
func NewWebhookSink(url string, opts ...WebhookOption) *WebhookSink {
	w := &WebhookSink{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *WebhookSink) SendProgress(ctx context.Context, ev ProgressEvent) error {
	return w.post(ctx, "progress", ev)
}

func (w *WebhookSink) SendResult(ctx context.Context, ev ResultEvent) error {
	return w.post(ctx, "result", ev)
}

func (w *WebhookSink) Close() error { return nil }

func (w *WebhookSink) post(ctx context.Context, typ string, data any) error {
	body, err := json.Marshal(envelope{Type: typ, Data: data})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("webhook: new request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			lastErr = err
			w.logger.Warn("webhook: request failed", "attempt", attempt+1, "error", err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("webhook: status %d", resp.StatusCode)
		w.logger.Warn("webhook: bad status", "attempt", attempt+1, "status", resp.StatusCode)
	}
	return fmt.Errorf("webhook: all retries exhausted: %w", lastErr)
}

// CallbackSink delivers events to in-process functions, zero serialisation.
// Either callback may be nil.
type CallbackSink struct {
	onProgress func(ctx context.Context, ev ProgressEvent) error
	onResult   func(ctx context.Context, ev ResultEvent) error
}

// NewCallbackSink creates an in-process callback sink.
func NewCallbackSink(
	onProgress func(ctx context.Context, ev ProgressEvent) error,
	onResult func(ctx context.Context, ev ResultEvent) error,
) *CallbackSink {
	return &CallbackSink{onProgress: onProgress, onResult: onResult}
}

func (c *CallbackSink) SendProgress(ctx context.Context, ev ProgressEvent) error {
	if c.onProgress == nil {
		return nil
	}
	return c.onProgress(ctx, ev)
}

func (c *CallbackSink) SendResult(ctx context.Context, ev ResultEvent) error {
	if c.onResult == nil {
		return nil
	}
	return c.onResult(ctx, ev)
}

func (c *CallbackSink) Close() error { return nil }

// progressBacklog bounds queued progress events per run.
const progressBacklog = 64

// resultDeliveryTimeout bounds terminal-event delivery after the run ends.
const resultDeliveryTimeout = 15 * time.Second

// fanout adapts the pipeline's notifications onto the configured sinks. Sink
// failures are logged and swallowed: presentation never blocks or fails the
// pipeline. Progress events go through a buffered queue drained by a
// background goroutine, so a slow or unreachable sink never stalls the scrape
// loop; a full backlog drops the event. Delivery uses the run context, which
// cuts webhook retries on cancellation. The terminal event is sent after the
// queue drains, on a detached bounded context, so it still goes out when the
// run was cancelled.
type fanout struct {
	runID  string
	sinks  []Sink
	logger *slog.Logger

	queue   chan ProgressEvent
	drained chan struct{}
	closing sync.Once
}

func newFanout(ctx context.Context, runID string, sinks []Sink, logger *slog.Logger) *fanout {
	f := &fanout{
		runID:   runID,
		sinks:   sinks,
		logger:  logger,
		queue:   make(chan ProgressEvent, progressBacklog),
		drained: make(chan struct{}),
	}
	go f.drain(ctx)
	return f
}

func (f *fanout) drain(ctx context.Context) {
	defer close(f.drained)
	for e := range f.queue {
		for _, s := range f.sinks {
			if err := s.SendProgress(ctx, e); err != nil {
				f.logger.Warn("toksearch: progress sink failed", "error", err)
			}
		}
	}
}

func (f *fanout) Progress(ev search.Progress) {
	e := ProgressEvent{
		RunID:         f.runID,
		ScrollAttempt: ev.ScrollAttempt,
		Fragments:     ev.Fragments,
		NewRecords:    ev.NewRecords,
	}
	select {
	case f.queue <- e:
	default:
		f.logger.Warn("toksearch: sink backlog full, progress event dropped",
			"scroll_attempt", e.ScrollAttempt)
	}
}

// stop releases the drain goroutine on runs that end before Done is called.
func (f *fanout) stop() {
	f.closing.Do(func() { close(f.queue) })
}

func (f *fanout) Done(res search.Result, runErr error) {
	f.stop()
	<-f.drained

	e := ResultEvent{
		RunID:             f.runID,
		Status:            "ok",
		StorePath:         res.StorePath,
		TotalRecords:      res.TotalRecords,
		NewThisRun:        res.NewThisRun,
		DuplicatesSkipped: res.DuplicatesSkipped,
		Reason:            res.Reason,
		Degraded:          res.Degraded,
	}
	if runErr != nil {
		e.Status = "error"
		e.Error = runErr.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), resultDeliveryTimeout)
	defer cancel()
	for _, s := range f.sinks {
		if err := s.SendResult(ctx, e); err != nil {
			f.logger.Warn("toksearch: result sink failed", "error", err)
		}
	}
}
