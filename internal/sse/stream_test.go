package sse

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestWriterEmitsLifecycle(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	chatID := uuid.New()
	msgID := uuid.New()
	if err := w.Start(chatID, "gpt-4o-mini"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Chunk("hel"); err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if err := w.Chunk("lo"); err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if err := w.End(msgID, "hello"); err != nil {
		t.Fatalf("End: %v", err)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"event: start",
		chatID.String(),
		"event: chunk",
		`"content":"hel"`,
		"event: end",
		msgID.String(),
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}
}

func TestWriterDropsEventsAfterTerminal(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	if err := w.End(uuid.Nil, "done"); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := w.Chunk("late"); err != nil {
		t.Fatalf("Chunk after terminal should be a silent no-op, got %v", err)
	}
	if err := w.Error("internal", "boom"); err != nil {
		t.Fatalf("Error after terminal should be a silent no-op, got %v", err)
	}

	body := rec.Body.String()
	if strings.Contains(body, "late") || strings.Contains(body, "event: error") {
		t.Fatalf("events leaked after terminal:\n%s", body)
	}
	if strings.Count(body, "event: end") != 1 {
		t.Fatalf("expected exactly one terminal event:\n%s", body)
	}
}
