package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeCompleter struct {
	mu      sync.Mutex
	replies []string
	err     error
	bodies  [][]byte
	keys    []string
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeCompleter) Complete(ctx context.Context, apiKey string, body []byte) (string, error) {
	f.mu.Lock()
	f.bodies = append(f.bodies, append([]byte(nil), body...))
	f.keys = append(f.keys, apiKey)
	block := f.block
	entered := f.entered
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", ErrEmptyResponse
	}
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return reply, nil
}

func (f *fakeCompleter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bodies)
}

func (f *fakeCompleter) lastRequest(t *testing.T) request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.bodies) == 0 {
		t.Fatalf("no request recorded")
	}
	var req request
	if err := json.Unmarshal(f.bodies[len(f.bodies)-1], &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	return req
}

func summaryReply(summary string, questions ...string) string {
	data, _ := json.Marshal(summaryPayload{Summary: summary, FollowUpQuestions: questions})
	return string(data)
}

func newTestEngine(cfg Config, client Completer) *Engine {
	e := New(cfg, client, nil)
	e.SetAPIKey("sk-test")
	return e
}

func TestAddTranscriptionKeepsNewestTen(t *testing.T) {
	e := newTestEngine(Config{}, &fakeCompleter{})
	for i := 1; i <= 11; i++ {
		e.AddTranscription(fmt.Sprintf("%d", i))
	}
	want := []string{"2", "3", "4", "5", "6", "7", "8", "9", "10", "11"}
	if got := e.Snapshot().Window; !reflect.DeepEqual(got, want) {
		t.Fatalf("window = %v, want %v", got, want)
	}
	if got := e.Snapshot().Count; got != 11 {
		t.Fatalf("count = %d, want 11", got)
	}
}

func TestAddTranscriptionIgnoresBlank(t *testing.T) {
	e := newTestEngine(Config{}, &fakeCompleter{})
	if e.AddTranscription("   \n\t") {
		t.Fatalf("expected blank text to be rejected")
	}
	snap := e.Snapshot()
	if len(snap.Window) != 0 || snap.Count != 0 {
		t.Fatalf("blank text mutated state: %+v", snap)
	}
}

func TestAddTranscriptionCadence(t *testing.T) {
	cases := []struct {
		threshold int
		want      []bool
	}{
		{1, []bool{true, true, true, true}},
		{3, []bool{false, false, true, false, false, true}},
	}
	for _, tc := range cases {
		e := newTestEngine(Config{Threshold: tc.threshold}, &fakeCompleter{})
		for i, want := range tc.want {
			if got := e.AddTranscription(fmt.Sprintf("fragment %d", i)); got != want {
				t.Fatalf("threshold %d add #%d = %v, want %v", tc.threshold, i+1, got, want)
			}
		}
	}
}

func TestGenerateSummaryWithoutKeyFailsFast(t *testing.T) {
	client := &fakeCompleter{replies: []string{summaryReply("s", "q?")}}
	e := New(Config{}, client, nil)
	e.AddTranscription("hello")
	if _, err := e.GenerateSummary(context.Background()); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
	if client.calls() != 0 {
		t.Fatalf("expected no network call, got %d", client.calls())
	}
}

func TestGenerateSummaryEmptyWindow(t *testing.T) {
	client := &fakeCompleter{}
	e := newTestEngine(Config{}, client)
	if _, err := e.GenerateSummary(context.Background()); !errors.Is(err, ErrEmptyWindow) {
		t.Fatalf("expected ErrEmptyWindow, got %v", err)
	}
	if client.calls() != 0 {
		t.Fatalf("expected no network call")
	}
}

func TestGenerateSummaryBuildsPrompt(t *testing.T) {
	client := &fakeCompleter{replies: []string{
		summaryReply("Team said hello.", "Who is on the team?", "What is next?", "When do we meet?"),
		summaryReply("Second.", "Anything else?"),
	}}
	e := newTestEngine(Config{}, client)
	e.AddTranscription("Hello")
	e.AddTranscription(" team ")

	if _, err := e.GenerateSummary(context.Background()); err != nil {
		t.Fatalf("generate: %v", err)
	}
	req := client.lastRequest(t)
	if req.Model != DefaultModel {
		t.Fatalf("model = %q", req.Model)
	}
	if req.Reasoning == nil || req.Reasoning.Effort != "low" {
		t.Fatalf("reasoning = %+v", req.Reasoning)
	}
	if len(req.Input) != 2 || req.Input[0].Role != "developer" || req.Input[1].Role != "user" {
		t.Fatalf("unexpected input roles: %+v", req.Input)
	}
	if !strings.HasSuffix(req.Input[0].Content, "PREVIOUS FOLLOW-UP QUESTIONS (DO NOT REPEAT):\nNone yet.") {
		t.Fatalf("developer prompt missing empty follow-up list: %q", req.Input[0].Content)
	}
	wantUser := "PREVIOUS CONTEXT:\nThis is the first summary.\n\nNEW TRANSCRIPTION:\nHello  team\n\nGenerate a concise summary and 3 relevant follow-up questions in valid JSON format."
	if req.Input[1].Content != wantUser {
		t.Fatalf("user message = %q, want %q", req.Input[1].Content, wantUser)
	}
	if client.keys[0] != "sk-test" {
		t.Fatalf("api key = %q", client.keys[0])
	}

	if _, err := e.GenerateSummary(context.Background()); err != nil {
		t.Fatalf("generate second: %v", err)
	}
	req = client.lastRequest(t)
	if !strings.Contains(req.Input[0].Content, "1. Who is on the team?\n2. What is next?\n3. When do we meet?") {
		t.Fatalf("developer prompt missing previous questions: %q", req.Input[0].Content)
	}
	if !strings.HasPrefix(req.Input[1].Content, "PREVIOUS CONTEXT:\n1. Team said hello.\n\nNEW TRANSCRIPTION:") {
		t.Fatalf("user message missing previous summary: %q", req.Input[1].Content)
	}
}

func TestGenerateSummaryListsOnlyLastFiveFollowUps(t *testing.T) {
	client := &fakeCompleter{replies: []string{
		summaryReply("one", "q1", "q2", "q3"),
		summaryReply("two", "q4", "q5", "q6"),
		summaryReply("three", "q7"),
	}}
	e := newTestEngine(Config{}, client)
	e.AddTranscription("text")
	for i := 0; i < 3; i++ {
		if _, err := e.GenerateSummary(context.Background()); err != nil {
			t.Fatalf("generate %d: %v", i, err)
		}
	}
	dev := client.lastRequest(t).Input[0].Content
	if !strings.Contains(dev, "1. q2\n2. q3\n3. q4\n4. q5\n5. q6") {
		t.Fatalf("expected last five follow-ups, got %q", dev)
	}
	if strings.Contains(dev, "q1") {
		t.Fatalf("oldest follow-up should have rolled off: %q", dev)
	}
}

func TestGenerateSummaryDeduplicatesFollowUps(t *testing.T) {
	reply := summaryReply("Summary.", "Q1?", "Q2?", "Q3?")
	client := &fakeCompleter{replies: []string{reply, reply}}
	e := newTestEngine(Config{}, client)
	e.AddTranscription("hello")

	first, err := e.GenerateSummary(context.Background())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(first.NewQuestions) != 3 {
		t.Fatalf("expected 3 new questions, got %v", first.NewQuestions)
	}
	before := len(e.Snapshot().FollowUps)

	second, err := e.GenerateSummary(context.Background())
	if err != nil {
		t.Fatalf("generate second: %v", err)
	}
	if len(second.NewQuestions) != 0 {
		t.Fatalf("expected no new questions, got %v", second.NewQuestions)
	}
	if len(second.Questions) != 3 {
		t.Fatalf("expected raw questions to be returned, got %v", second.Questions)
	}
	if after := len(e.Snapshot().FollowUps); after != before {
		t.Fatalf("follow-up set grew from %d to %d", before, after)
	}
	if got := len(e.Snapshot().Summaries); got != 2 {
		t.Fatalf("expected 2 summaries, got %d", got)
	}
}

func TestGenerateSummaryTruncatesOversizedPayload(t *testing.T) {
	client := &fakeCompleter{replies: []string{summaryReply("short", "q?")}}
	e := newTestEngine(Config{MaxPayloadBytes: 6000}, client)
	for i := 0; i < 10; i++ {
		e.AddTranscription(fmt.Sprintf("entry%02d %s", i, strings.Repeat("x", 1000)))
	}

	res, err := e.GenerateSummary(context.Background())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !res.Truncated {
		t.Fatalf("expected truncated result")
	}
	if client.calls() != 1 {
		t.Fatalf("expected exactly one upstream call, got %d", client.calls())
	}
	user := client.lastRequest(t).Input[1].Content
	for i := 0; i < 7; i++ {
		if strings.Contains(user, fmt.Sprintf("entry%02d", i)) {
			t.Fatalf("entry%02d should have been truncated", i)
		}
	}
	for i := 7; i < 10; i++ {
		if !strings.Contains(user, fmt.Sprintf("entry%02d", i)) {
			t.Fatalf("entry%02d missing from truncated window", i)
		}
	}
	if got := len(e.Snapshot().Window); got != 3 {
		t.Fatalf("engine window = %d entries, want 3", got)
	}
}

func TestGenerateSummaryGivesUpAfterRetryCap(t *testing.T) {
	client := &fakeCompleter{replies: []string{summaryReply("s", "q?")}}
	e := newTestEngine(Config{MaxPayloadBytes: 100}, client)
	e.AddTranscription("hello")
	if _, err := e.GenerateSummary(context.Background()); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if client.calls() != 0 {
		t.Fatalf("expected no upstream call")
	}
}

func TestGenerateSummaryDefaultConfigTrimsLargeWindow(t *testing.T) {
	client := &fakeCompleter{replies: []string{summaryReply("s", "q?")}}
	e := newTestEngine(Config{}, client)
	for i := 0; i < 10; i++ {
		e.AddTranscription(strings.Repeat("y", 15000))
	}
	res, err := e.GenerateSummary(context.Background())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !res.Truncated || client.calls() != 1 {
		t.Fatalf("truncated=%v calls=%d", res.Truncated, client.calls())
	}
}

func TestGenerateSummaryNoTruncateRetry(t *testing.T) {
	client := &fakeCompleter{replies: []string{summaryReply("s", "q?")}}
	e := newTestEngine(Config{MaxPayloadBytes: 6000, MaxTruncateRetries: NoTruncateRetry}, client)
	for i := 0; i < 10; i++ {
		e.AddTranscription(strings.Repeat("x", 1000))
	}
	if _, err := e.GenerateSummary(context.Background()); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if client.calls() != 0 || len(e.Snapshot().Window) != 10 {
		t.Fatalf("window should stay intact without retry")
	}
}

func TestGenerateSummaryRejectsMalformedOutput(t *testing.T) {
	cases := []struct {
		name  string
		reply string
	}{
		{"not-json", "Here is your summary: things happened."},
		{"missing-summary", `{"followUpQuestions": ["a?"]}`},
		{"empty-summary", `{"summary": "", "followUpQuestions": ["a?"]}`},
		{"missing-questions", `{"summary": "ok"}`},
		{"questions-not-array", `{"summary": "ok", "followUpQuestions": "a?"}`},
		{"questions-null", `{"summary": "ok", "followUpQuestions": null}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := &fakeCompleter{replies: []string{tc.reply}}
			e := newTestEngine(Config{}, client)
			e.AddTranscription("hello")
			if _, err := e.GenerateSummary(context.Background()); !errors.Is(err, ErrInvalidResponse) {
				t.Fatalf("expected ErrInvalidResponse, got %v", err)
			}
			snap := e.Snapshot()
			if len(snap.Summaries) != 0 || len(snap.FollowUps) != 0 {
				t.Fatalf("failed summary mutated state: %+v", snap)
			}
		})
	}
}

func TestGenerateSummaryStripsCodeFences(t *testing.T) {
	client := &fakeCompleter{replies: []string{"```json\n" + summaryReply("Fenced.", "Q?") + "\n```"}}
	e := newTestEngine(Config{}, client)
	e.AddTranscription("hello")
	res, err := e.GenerateSummary(context.Background())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Summary != "Fenced." {
		t.Fatalf("summary = %q", res.Summary)
	}
}

func TestGenerateSummaryPropagatesUpstreamError(t *testing.T) {
	client := &fakeCompleter{err: &APIError{Status: 401, Message: "bad key"}}
	e := newTestEngine(Config{}, client)
	e.AddTranscription("hello")
	_, err := e.GenerateSummary(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 401 {
		t.Fatalf("expected APIError 401, got %v", err)
	}
	if got := err.Error(); got != "API request failed: 401 Unauthorized: bad key" {
		t.Fatalf("error text = %q", got)
	}
}

func TestGenerateSummaryDiscardedAfterReset(t *testing.T) {
	client := &fakeCompleter{
		replies: []string{summaryReply("late", "q?")},
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	e := newTestEngine(Config{}, client)
	e.AddTranscription("hello")

	errCh := make(chan error, 1)
	go func() {
		_, err := e.GenerateSummary(context.Background())
		errCh <- err
	}()
	select {
	case <-client.entered:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for request")
	}
	e.Reset()
	close(client.block)

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrReset) {
			t.Fatalf("expected ErrReset, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for result")
	}
	snap := e.Snapshot()
	if len(snap.Summaries) != 0 || len(snap.FollowUps) != 0 || len(snap.Window) != 0 {
		t.Fatalf("reset engine mutated by stale result: %+v", snap)
	}
}

func TestResetClearsEverything(t *testing.T) {
	client := &fakeCompleter{replies: []string{summaryReply("s", "q?")}}
	e := newTestEngine(Config{}, client)
	e.AddTranscription("a")
	if _, err := e.GenerateSummary(context.Background()); err != nil {
		t.Fatalf("generate: %v", err)
	}
	e.Reset()
	snap := e.Snapshot()
	if len(snap.Window) != 0 || snap.Count != 0 || len(snap.Summaries) != 0 || len(snap.FollowUps) != 0 {
		t.Fatalf("reset left state behind: %+v", snap)
	}
	if !e.HasAPIKey() {
		t.Fatalf("reset should keep the api key")
	}
}
