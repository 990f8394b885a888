package sse

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// Event kinds on the generation stream. Every stream carries one start, any
// number of chunks, and exactly one terminal (end or error).
const (
	EventStart = "start"
	EventChunk = "chunk"
	EventEnd   = "end"
	EventError = "error"
)

type startPayload struct {
	ChatID string `json:"chat_id"`
	Model  string `json:"model"`
}

type chunkPayload struct {
	Content string `json:"content"`
}

type endPayload struct {
	MessageID string `json:"message_id,omitempty"`
	Content   string `json:"content"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Writer serializes generation events onto one HTTP response. Writes after a
// terminal event are dropped, which keeps the one-terminal discipline even if
// a caller misbehaves.
type Writer struct {
	w        http.ResponseWriter
	flusher  http.Flusher
	terminal bool
}

func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &Writer{w: w, flusher: flusher}, nil
}

func (s *Writer) Start(chatID uuid.UUID, model string) error {
	return s.emit(EventStart, startPayload{ChatID: chatID.String(), Model: model})
}

func (s *Writer) Chunk(text string) error {
	return s.emit(EventChunk, chunkPayload{Content: text})
}

func (s *Writer) End(messageID uuid.UUID, fullText string) error {
	p := endPayload{Content: fullText}
	if messageID != uuid.Nil {
		p.MessageID = messageID.String()
	}
	err := s.emit(EventEnd, p)
	s.terminal = true
	return err
}

func (s *Writer) Error(code, message string) error {
	if s.terminal {
		return nil
	}
	err := s.emit(EventError, errorPayload{Code: code, Message: message})
	s.terminal = true
	return err
}

func (s *Writer) emit(event string, payload any) error {
	if s.terminal {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
