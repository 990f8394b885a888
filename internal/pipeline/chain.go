package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/chatelio/chatelio-backend/internal/logger"
)

const condensePrompt = `Given the following conversation and a follow up question, rephrase the follow up question to be a standalone question that captures all relevant context.

Chat history:
%s

Follow up question: %s

Standalone question:`

const answerSystemPrompt = `You are a helpful assistant answering questions for one organization using only its knowledge base.

Use the following context to answer. If the context does not contain the answer, say you don't know rather than inventing one. Keep answers concise and grounded in the context.

Context:
%s`

// Handle is one built retrieval-and-generation pipeline, valid for a single
// tenant and model. Handles are immutable after construction; per-request
// state (chat id, question) arrives through Ask.
type Handle struct {
	TenantID string
	Model    string

	chat      ChatModel
	retriever Retriever
	history   HistoryProvider
	topK      int
	log       *logger.Logger
}

func NewHandle(tenantID, model string, chat ChatModel, retriever Retriever, history HistoryProvider, topK int, log *logger.Logger) *Handle {
	if topK <= 0 {
		topK = 4
	}
	return &Handle{
		TenantID:  tenantID,
		Model:     model,
		chat:      chat,
		retriever: retriever,
		history:   history,
		topK:      topK,
		log:       log.With("component", "pipeline", "tenant_id", tenantID, "model", model),
	}
}

// Ask runs the full chain for one question: condense against history, retrieve
// from the tenant namespace, then stream the grounded answer. Every delta is
// forwarded to onDelta and accumulated; the full answer is returned even when
// the stream errors midway, so callers can persist the partial text.
func (h *Handle) Ask(ctx context.Context, chatID, question string, onDelta func(string) error) (string, error) {
	turns, err := h.history.RecentTurns(ctx, h.TenantID, chatID)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}

	standalone := question
	if len(turns) > 0 {
		condensed, err := h.chat.Complete(ctx, "", []Turn{{
			Role:    "human",
			Content: fmt.Sprintf(condensePrompt, renderHistory(turns), question),
		}})
		if err != nil {
			// Retrieval on the raw question beats failing the whole request.
			h.log.Warn("condense failed, using raw question", "error", err.Error())
		} else if s := strings.TrimSpace(condensed); s != "" {
			standalone = s
		}
	}

	chunks, err := h.retriever.Retrieve(ctx, standalone, h.topK)
	if err != nil {
		return "", fmt.Errorf("retrieve context: %w", err)
	}

	system := fmt.Sprintf(answerSystemPrompt, renderContext(chunks))
	prompt := append(append([]Turn{}, turns...), Turn{Role: "human", Content: question})

	var sb strings.Builder
	streamErr := h.chat.Stream(ctx, system, prompt, func(delta string) error {
		sb.WriteString(delta)
		return onDelta(delta)
	})
	return sb.String(), streamErr
}

func renderHistory(turns []Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		label := "Human"
		if t.Role == "ai" {
			label = "Assistant"
		}
		sb.WriteString(label)
		sb.WriteString(": ")
		sb.WriteString(t.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

func renderContext(chunks []string) string {
	if len(chunks) == 0 {
		return "(no relevant documents found)"
	}
	return strings.Join(chunks, "\n\n---\n\n")
}
