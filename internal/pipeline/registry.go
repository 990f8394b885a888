package pipeline

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/chatelio/chatelio-backend/internal/apierr"
	"github.com/chatelio/chatelio-backend/internal/clients/gemini"
	"github.com/chatelio/chatelio-backend/internal/clients/openai"
	"github.com/chatelio/chatelio-backend/internal/logger"
)

// Turn is one prior exchange row fed into the prompt.
type Turn struct {
	Role    string
	Content string
}

// ChatModel abstracts one configured LLM. Stream pushes content deltas to
// onDelta as they arrive; Complete buffers the whole answer.
type ChatModel interface {
	Complete(ctx context.Context, system string, turns []Turn) (string, error)
	Stream(ctx context.Context, system string, turns []Turn, onDelta func(string) error) error
}

// Embedder turns text into query/document vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever fetches the tenant's relevant chunks for a standalone query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]string, error)
}

// HistoryProvider hands back the recent transcript of one chat. Implementations
// must take both ids per call rather than capturing either one.
type HistoryProvider interface {
	RecentTurns(ctx context.Context, tenantID, chatID string) ([]Turn, error)
}

type modelEntry struct {
	Name        string  `yaml:"name"`
	Provider    string  `yaml:"provider"`
	ModelID     string  `yaml:"model_id"`
	Temperature float64 `yaml:"temperature"`
}

type registryFile struct {
	Models []modelEntry `yaml:"models"`
}

// Registry is the closed set of models requests may name. Loaded once at
// startup; an unknown name is a build error, never a passthrough.
type Registry struct {
	entries map[string]modelEntry
	openai  *openai.Client
	gemini  *gemini.Client
	log     *logger.Logger
}

func LoadRegistry(path string, oc *openai.Client, gc *gemini.Client, log *logger.Logger) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model registry: %w", err)
	}
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse model registry: %w", err)
	}
	if len(file.Models) == 0 {
		return nil, fmt.Errorf("model registry %s lists no models", path)
	}

	entries := make(map[string]modelEntry, len(file.Models))
	for _, e := range file.Models {
		if e.Name == "" || e.ModelID == "" {
			return nil, fmt.Errorf("model registry entry missing name or model_id")
		}
		switch e.Provider {
		case "openai", "gemini":
		default:
			return nil, fmt.Errorf("model %q: unknown provider %q", e.Name, e.Provider)
		}
		entries[e.Name] = e
	}
	return &Registry{entries: entries, openai: oc, gemini: gc, log: log.With("component", "model_registry")}, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}

// Resolve returns the ChatModel for a registered name. Unknown names and
// names whose provider client is not configured fail as build errors so the
// caller never caches a half-usable handle.
func (r *Registry) Resolve(name string) (ChatModel, error) {
	entry, ok := r.entries[name]
	if !ok {
		return nil, &apierr.PipelineBuildError{Model: name, Reason: fmt.Errorf("model not registered")}
	}
	switch entry.Provider {
	case "openai":
		if r.openai == nil {
			return nil, &apierr.PipelineBuildError{Model: name, Reason: fmt.Errorf("openai client not configured")}
		}
		return &openaiModel{client: r.openai, modelID: entry.ModelID, temperature: entry.Temperature}, nil
	case "gemini":
		if r.gemini == nil {
			return nil, &apierr.PipelineBuildError{Model: name, Reason: fmt.Errorf("gemini client not configured")}
		}
		return &geminiModel{client: r.gemini, modelID: entry.ModelID, temperature: entry.Temperature}, nil
	}
	return nil, &apierr.PipelineBuildError{Model: name, Reason: fmt.Errorf("unknown provider %q", entry.Provider)}
}

type openaiModel struct {
	client      *openai.Client
	modelID     string
	temperature float64
}

func (m *openaiModel) Complete(ctx context.Context, system string, turns []Turn) (string, error) {
	return m.client.Complete(ctx, m.modelID, m.temperature, toOpenAIMessages(system, turns))
}

func (m *openaiModel) Stream(ctx context.Context, system string, turns []Turn, onDelta func(string) error) error {
	return m.client.Stream(ctx, m.modelID, m.temperature, toOpenAIMessages(system, turns), onDelta)
}

func toOpenAIMessages(system string, turns []Turn) []openai.ChatMessage {
	msgs := make([]openai.ChatMessage, 0, len(turns)+1)
	if system != "" {
		msgs = append(msgs, openai.ChatMessage{Role: "system", Content: system})
	}
	for _, t := range turns {
		role := "user"
		if t.Role == "ai" {
			role = "assistant"
		}
		msgs = append(msgs, openai.ChatMessage{Role: role, Content: t.Content})
	}
	return msgs
}

type geminiModel struct {
	client      *gemini.Client
	modelID     string
	temperature float64
}

func (m *geminiModel) Complete(ctx context.Context, system string, turns []Turn) (string, error) {
	return m.client.Complete(ctx, m.modelID, m.temperature, system, toGeminiContents(turns))
}

func (m *geminiModel) Stream(ctx context.Context, system string, turns []Turn, onDelta func(string) error) error {
	return m.client.Stream(ctx, m.modelID, m.temperature, system, toGeminiContents(turns), onDelta)
}

func toGeminiContents(turns []Turn) []gemini.Content {
	contents := make([]gemini.Content, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.Role == "ai" {
			role = "model"
		}
		contents = append(contents, gemini.Content{Role: role, Parts: []gemini.Part{{Text: t.Content}}})
	}
	return contents
}
