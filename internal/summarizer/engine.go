// Package summarizer keeps a rolling window of completed transcript
// fragments and turns it into summaries and follow-up questions through
// the OpenAI Responses API.
package summarizer

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/signally/internal/logx"
	"pkt.systems/signally/schema"
)

// Config tunes the engine. Zero values select the defaults. Set
// MaxTruncateRetries to NoTruncateRetry to fail oversized payloads without
// trimming the window.
type Config struct {
	Model              string
	ReasoningEffort    string
	Threshold          int
	WindowCapacity     int
	MaxPayloadBytes    int
	TruncateTo         int
	MaxTruncateRetries int
	HistoryContext     int
}

// Engine defaults.
const (
	DefaultModel              = "gpt-5-nano"
	DefaultReasoningEffort    = "low"
	DefaultMaxPayloadBytes    = 100000
	DefaultTruncateTo         = 3
	DefaultMaxTruncateRetries = 1
	DefaultHistoryContext     = 5

	// NoTruncateRetry disables the truncate-and-retry step.
	NoTruncateRetry = -1
)

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.ReasoningEffort == "" {
		c.ReasoningEffort = DefaultReasoningEffort
	}
	if c.Threshold <= 0 {
		c.Threshold = schema.DefaultSummaryThreshold
	}
	if c.WindowCapacity <= 0 {
		c.WindowCapacity = schema.DefaultWindowCapacity
	}
	if c.MaxPayloadBytes <= 0 {
		c.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if c.TruncateTo <= 0 {
		c.TruncateTo = DefaultTruncateTo
	}
	switch {
	case c.MaxTruncateRetries == 0:
		c.MaxTruncateRetries = DefaultMaxTruncateRetries
	case c.MaxTruncateRetries < 0:
		c.MaxTruncateRetries = 0
	}
	if c.HistoryContext <= 0 {
		c.HistoryContext = DefaultHistoryContext
	}
	return c
}

// Result is one successful summarization.
type Result struct {
	Summary string
	// Questions is everything the model returned.
	Questions []string
	// NewQuestions is the subset never seen before in this session.
	NewQuestions []string
	Truncated    bool
}

// Snapshot is a copy of the engine state.
type Snapshot struct {
	Window    []string
	Count     int
	Summaries []schema.SummaryRecord
	FollowUps []string
}

// Engine owns the summarization window, summary history and follow-up set.
type Engine struct {
	cfg    Config
	client Completer
	log    pslog.Logger
	now    func() time.Time

	mu        sync.Mutex
	apiKey    string
	window    []string
	count     int
	summaries []schema.SummaryRecord
	followUps []string
	seen      map[string]struct{}
	epoch     uint64
}

// New constructs an Engine. A nil logger falls back to the context logger
// of each call.
func New(cfg Config, client Completer, logger pslog.Logger) *Engine {
	if client == nil {
		client = NewResponsesClient()
	}
	return &Engine{
		cfg:    cfg.withDefaults(),
		client: client,
		log:    logger,
		now:    time.Now,
		seen:   make(map[string]struct{}),
	}
}

// SetAPIKey replaces the key used for subsequent calls.
func (e *Engine) SetAPIKey(key string) {
	e.mu.Lock()
	e.apiKey = strings.TrimSpace(key)
	e.mu.Unlock()
}

// HasAPIKey reports whether a key is configured.
func (e *Engine) HasAPIKey() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.apiKey != ""
}

// AddTranscription appends a fragment text and reports whether the
// cadence threshold was reached. Blank text is ignored.
func (e *Engine) AddTranscription(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	e.mu.Lock()
	e.window = append(e.window, text)
	if len(e.window) > e.cfg.WindowCapacity {
		e.window = append([]string(nil), e.window[len(e.window)-e.cfg.WindowCapacity:]...)
	}
	e.count++
	count := e.count
	size := len(e.window)
	e.mu.Unlock()
	candidate := count%e.cfg.Threshold == 0
	if e.log != nil {
		e.log.Trace("summarizer transcription added", "count", count, "window", size, "candidate", candidate)
	}
	return candidate
}

// Reset clears all session state. Calls in flight are discarded.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.window = nil
	e.count = 0
	e.summaries = nil
	e.followUps = nil
	e.seen = make(map[string]struct{})
	e.epoch++
	e.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Window:    append([]string(nil), e.window...),
		Count:     e.count,
		Summaries: append([]schema.SummaryRecord(nil), e.summaries...),
		FollowUps: append([]string(nil), e.followUps...),
	}
}

// GenerateSummary summarizes the current window.
func (e *Engine) GenerateSummary(ctx context.Context) (Result, error) {
	log := e.logger(ctx)
	e.mu.Lock()
	key := e.apiKey
	epoch := e.epoch
	window := append([]string(nil), e.window...)
	summaries := make([]string, 0, len(e.summaries))
	for _, record := range e.summaries {
		summaries = append(summaries, record.Text)
	}
	followUps := lastN(e.followUps, e.cfg.HistoryContext)
	e.mu.Unlock()
	summaries = lastN(summaries, e.cfg.HistoryContext)

	if key == "" {
		log.Warn("summarizer generate rejected", "reason", "missing api key")
		return Result{}, ErrNoCredential
	}
	if len(window) == 0 {
		return Result{}, ErrEmptyWindow
	}

	var body []byte
	truncated := false
	for attempt := 0; ; attempt++ {
		data, err := json.Marshal(buildRequest(e.cfg.Model, e.cfg.ReasoningEffort, summaries, followUps, window))
		if err != nil {
			return Result{}, err
		}
		if len(data) <= e.cfg.MaxPayloadBytes {
			body = data
			break
		}
		if attempt >= e.cfg.MaxTruncateRetries {
			log.Warn("summarizer payload too large", "bytes", len(data), "limit", e.cfg.MaxPayloadBytes, "attempts", attempt)
			return Result{}, ErrPayloadTooLarge
		}
		log.Warn("summarizer payload trimmed", "bytes", len(data), "limit", e.cfg.MaxPayloadBytes, "keep", e.cfg.TruncateTo)
		window = lastN(window, e.cfg.TruncateTo)
		truncated = true
		e.mu.Lock()
		if e.epoch == epoch {
			e.window = lastN(e.window, e.cfg.TruncateTo)
		}
		e.mu.Unlock()
	}

	log.Debug("summarizer request start", "model", e.cfg.Model, "window", len(window), "bytes", len(body))
	start := time.Now()
	text, err := e.client.Complete(ctx, key, body)
	if err != nil {
		log.Warn("summarizer request failed", "err", err, "duration_ms", time.Since(start).Milliseconds())
		return Result{}, err
	}
	parsed, err := parseSummary(text)
	if err != nil {
		log.Warn("summarizer response invalid", "err", err, "preview", logx.Preview(text, 200))
		return Result{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.epoch != epoch {
		log.Debug("summarizer result discarded", "reason", "reset")
		return Result{}, ErrReset
	}
	e.summaries = append(e.summaries, schema.SummaryRecord{Text: parsed.Summary, CreatedAt: e.now()})
	result := Result{
		Summary:   parsed.Summary,
		Questions: parsed.FollowUpQuestions,
		Truncated: truncated,
	}
	for _, q := range parsed.FollowUpQuestions {
		if _, ok := e.seen[q]; ok {
			continue
		}
		e.seen[q] = struct{}{}
		e.followUps = append(e.followUps, q)
		result.NewQuestions = append(result.NewQuestions, q)
	}
	log.Info("summarizer request ok", "questions", len(result.Questions), "new_questions", len(result.NewQuestions), "duration_ms", time.Since(start).Milliseconds())
	return result, nil
}

func (e *Engine) logger(ctx context.Context) pslog.Logger {
	if e.log != nil {
		return e.log
	}
	return pslog.Ctx(ctx)
}
