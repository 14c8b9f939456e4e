package streaming

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kestrel-ai/chatplane/internal/llm"
)

func parseFrames(t *testing.T, body string) []Frame {
	t.Helper()
	var frames []Frame
	for _, chunk := range strings.Split(strings.TrimSpace(body), "\n\n") {
		line := strings.TrimPrefix(chunk, "data: ")
		var f Frame
		if err := json.Unmarshal([]byte(line), &f); err != nil {
			t.Fatalf("parse frame %q: %v", line, err)
		}
		frames = append(frames, f)
	}
	return frames
}

func TestRun_HappyPath(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, ok := NewWriter(rec)
	if !ok {
		t.Fatal("expected flusher support from httptest.ResponseRecorder")
	}

	var persisted string
	persist := func(ctx context.Context, text string) error {
		persisted = text
		return nil
	}

	source := func(ctx context.Context, onToken func(string)) (string, llm.Usage, error) {
		onToken("hello ")
		onToken("world")
		return "hello world", llm.Usage{InputTokens: 3, OutputTokens: 2}, nil
	}

	Run(context.Background(), sw, source, persist, nil)

	frames := parseFrames(t, rec.Body.String())
	if len(frames) != 3 {
		t.Fatalf("expected 2 token frames + 1 completion frame, got %d", len(frames))
	}
	if frames[0].Token != "hello " || frames[1].Token != "world" {
		t.Fatalf("unexpected token frames: %+v", frames[:2])
	}
	last := frames[len(frames)-1]
	if !last.Done || last.FullText != "hello world" {
		t.Fatalf("expected terminal completion frame, got %+v", last)
	}
	if last.Usage == nil || last.Usage.Total() != 5 {
		t.Fatalf("expected usage to ride the completion frame, got %+v", last.Usage)
	}
	if persisted != "hello world" {
		t.Fatalf("expected persisted text %q, got %q", "hello world", persisted)
	}
}

func TestRun_ErrorAfterTokensEmitsErrorFrame(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, _ := NewWriter(rec)

	var persisted string
	persist := func(ctx context.Context, text string) error {
		persisted = text
		return nil
	}

	source := func(ctx context.Context, onToken func(string)) (string, llm.Usage, error) {
		onToken("partial")
		return "", llm.Usage{}, errUpstream
	}

	Run(context.Background(), sw, source, persist, nil)

	frames := parseFrames(t, rec.Body.String())
	last := frames[len(frames)-1]
	if last.Error == "" {
		t.Fatalf("expected an error frame, got %+v", last)
	}
	if persisted != "partial" {
		t.Fatalf("expected best-effort partial persist, got %q", persisted)
	}
}

func TestRun_SynchronousFailureBeforeAnyFrameDoesNotPersist(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, _ := NewWriter(rec)

	persistCalled := false
	persist := func(ctx context.Context, text string) error {
		persistCalled = true
		return nil
	}

	source := func(ctx context.Context, onToken func(string)) (string, llm.Usage, error) {
		return "", llm.Usage{}, errUpstream
	}

	Run(context.Background(), sw, source, persist, nil)

	if sw.Started() {
		t.Fatalf("expected no frames written")
	}
	if persistCalled {
		t.Fatalf("expected no persistence on synchronous pre-stream failure")
	}
}

func TestRun_DisconnectPersistsPartialBuffer(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, _ := NewWriter(rec)

	ctx, cancel := context.WithCancel(context.Background())

	var persisted string
	persist := func(ctx context.Context, text string) error {
		persisted = text
		return nil
	}

	source := func(ctx context.Context, onToken func(string)) (string, llm.Usage, error) {
		onToken("before disconnect ")
		cancel() // simulate client going away mid-stream
		onToken("dropped")
		return "before disconnect dropped", llm.Usage{}, nil
	}

	Run(ctx, sw, source, persist, nil)

	if persisted != "before disconnect " {
		t.Fatalf("expected only pre-disconnect buffer persisted, got %q", persisted)
	}
}

func TestSimulatedFromText(t *testing.T) {
	source := SimulatedFromText("alpha beta gamma", time.Millisecond, 2*time.Millisecond)
	var got []string
	full, usage, err := source(context.Background(), func(tok string) { got = append(got, tok) })
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if full != "alpha beta gamma" {
		t.Fatalf("unexpected full text: %q", full)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 tokens, got %d: %v", len(got), got)
	}
	if usage.OutputTokens == 0 {
		t.Fatalf("expected a non-zero estimated usage")
	}
}

var errUpstream = &testError{"upstream failed"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
