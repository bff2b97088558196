package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"clusterplane/internal/scheduler"
	"clusterplane/internal/store"

	"github.com/google/uuid"
)

type fakeChannel struct {
	name     string
	failures int // fail this many sends before succeeding
	sent     []string
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Send(ctx context.Context, recipient, text string) error {
	if c.failures > 0 {
		c.failures--
		return errors.New("temporarily unavailable")
	}
	c.sent = append(c.sent, text)
	return nil
}

type fakeEvents struct {
	types []string
}

func (f *fakeEvents) AppendEvent(ctx context.Context, tx store.DBTransaction, instanceID uuid.UUID, eventType string, payload interface{}) error {
	f.types = append(f.types, eventType)
	return nil
}

func testDispatcher(events *fakeEvents) *Dispatcher {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := NewDispatcher(events, Config{MaxRetries: 3, Backoff: time.Millisecond}, logger)
	d.sleep = func(ctx context.Context, _ time.Duration) error { return nil }
	return d
}

func TestDispatch_DeliversAndRecordsEvent(t *testing.T) {
	events := &fakeEvents{}
	d := testDispatcher(events)
	ch := &fakeChannel{name: "telegram"}
	d.RegisterChannel(ch)

	err := d.Dispatch(context.Background(), Notification{
		InstanceID: uuid.New(),
		Channel:    "telegram",
		Recipient:  "12345",
		Text:       "Daily summary ready",
	})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(ch.sent) != 1 {
		t.Errorf("sent %d messages, want 1", len(ch.sent))
	}
	if len(events.types) != 1 || events.types[0] != "notification.delivered" {
		t.Errorf("events = %v, want [notification.delivered]", events.types)
	}
}

func TestDispatch_RetriesTransientFailure(t *testing.T) {
	events := &fakeEvents{}
	d := testDispatcher(events)
	ch := &fakeChannel{name: "telegram", failures: 2}
	d.RegisterChannel(ch)

	err := d.Dispatch(context.Background(), Notification{
		InstanceID: uuid.New(), Channel: "telegram", Recipient: "1", Text: "hi",
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if len(ch.sent) != 1 {
		t.Errorf("sent %d messages, want 1", len(ch.sent))
	}
}

func TestDispatch_ExhaustedRetriesRecordsFailure(t *testing.T) {
	events := &fakeEvents{}
	d := testDispatcher(events)
	ch := &fakeChannel{name: "telegram", failures: 99}
	d.RegisterChannel(ch)

	err := d.Dispatch(context.Background(), Notification{
		InstanceID: uuid.New(), Channel: "telegram", Recipient: "1", Text: "hi",
	})
	if err == nil {
		t.Fatal("expected delivery failure")
	}
	if len(events.types) != 1 || events.types[0] != "notification.failed" {
		t.Errorf("events = %v, want [notification.failed]", events.types)
	}
}

func TestDispatch_LongTextIsChunkedInOrder(t *testing.T) {
	events := &fakeEvents{}
	d := testDispatcher(events)
	ch := &fakeChannel{name: "telegram"}
	d.RegisterChannel(ch)

	var sb strings.Builder
	for i := 0; i < 500; i++ {
		sb.WriteString("position line with some ticker details\n")
	}

	err := d.Dispatch(context.Background(), Notification{
		InstanceID: uuid.New(), Channel: "telegram", Recipient: "1", Text: sb.String(),
	})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(ch.sent) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(ch.sent))
	}
	for i, chunk := range ch.sent {
		if len(chunk) > MaxMessageLength {
			t.Errorf("chunk %d has %d bytes, max %d", i, len(chunk), MaxMessageLength)
		}
	}
}

func TestDispatch_UnknownChannel(t *testing.T) {
	d := testDispatcher(&fakeEvents{})
	err := d.Dispatch(context.Background(), Notification{Channel: "pager", Recipient: "1", Text: "x"})
	if err == nil {
		t.Error("expected error for unknown channel")
	}
}

func TestChunkText_PrefersNewlineBoundaries(t *testing.T) {
	text := strings.Repeat("a", 2000) + "\n" + strings.Repeat("b", 2000)
	chunks := ChunkText(text)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if strings.Contains(chunks[0], "b") || strings.Contains(chunks[1], "a") {
		t.Error("chunk split ignored the newline boundary")
	}
}

func TestChunkText_ShortTextSingleChunk(t *testing.T) {
	chunks := ChunkText("short")
	if len(chunks) != 1 || chunks[0] != "short" {
		t.Errorf("got %v", chunks)
	}
}

func TestEscapeHTML(t *testing.T) {
	got := EscapeHTML(`<b>&"ticker"</b>`)
	if strings.ContainsAny(got, "<>") {
		t.Errorf("unescaped markup in %q", got)
	}
	if !strings.Contains(got, "&amp;") {
		t.Errorf("ampersand not escaped in %q", got)
	}
}

func TestTelegramChannel_Send(t *testing.T) {
	var got sendMessageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/bottest-token/") {
			t.Errorf("token missing from path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	ch := NewTelegramChannel("test-token", server.URL)
	if err := ch.Send(context.Background(), "9876", "<b>Summary</b>"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got.ChatID != "9876" || got.ParseMode != "HTML" {
		t.Errorf("request = %+v", got)
	}
}

func TestTelegramChannel_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok": false, "description": "chat not found"}`))
	}))
	defer server.Close()

	ch := NewTelegramChannel("t", server.URL)
	err := ch.Send(context.Background(), "0", "x")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("expected api error, got %v", err)
	}
}

func TestJobHandler_MalformedPayloadIsPermanent(t *testing.T) {
	d := testDispatcher(&fakeEvents{})
	handler := JobHandler(d)

	err := handler(context.Background(), &store.Job{Payload: json.RawMessage(`{not json`)})
	if !scheduler.IsPermanent(err) {
		t.Errorf("expected permanent error, got %v", err)
	}
}

func TestJobHandler_DeliveryFailureIsTransient(t *testing.T) {
	events := &fakeEvents{}
	d := testDispatcher(events)
	d.RegisterChannel(&fakeChannel{name: "telegram", failures: 99})
	handler := JobHandler(d)

	payload, _ := json.Marshal(JobPayload{Channel: "telegram", Recipient: "1", Text: "x"})
	err := handler(context.Background(), &store.Job{InstanceID: uuid.New(), Payload: payload})
	if err == nil || scheduler.IsPermanent(err) {
		t.Errorf("expected transient error, got %v", err)
	}
}
