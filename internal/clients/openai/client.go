package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/chatelio/chatelio-backend/internal/logger"
	"github.com/chatelio/chatelio-backend/internal/utils"
)

const defaultBaseURL = "https://api.openai.com/v1"

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	maxRetries int
	log        *logger.Logger
}

func NewClient(log *logger.Logger) (*Client, error) {
	l := log.With("client", "openai")
	apiKey := utils.GetEnv("OPENAI_API_KEY", "", l)
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: utils.GetEnv("OPENAI_BASE_URL", defaultBaseURL, l),
		httpClient: &http.Client{
			Timeout: time.Duration(utils.GetEnvAsInt("OPENAI_TIMEOUT_SEC", 120, l)) * time.Second,
		},
		maxRetries: utils.GetEnvAsInt("OPENAI_MAX_RETRIES", 3, l),
		log:        l,
	}, nil
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed returns one vector per input, in input order.
func (c *Client) Embed(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	body := embedRequest{Model: model, Input: inputs}
	var out embedResponse
	if err := c.doJSON(ctx, "/embeddings", body, &out); err != nil {
		return nil, err
	}
	vectors := make([][]float32, len(inputs))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// Complete runs a non-streaming chat completion and returns the full text.
// Used for the condense step, where the output feeds retrieval rather than
// the client.
func (c *Client) Complete(ctx context.Context, model string, temperature float64, messages []ChatMessage) (string, error) {
	body := chatRequest{Model: model, Messages: messages, Temperature: temperature}
	var out chatResponse
	if err := c.doJSON(ctx, "/chat/completions", body, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices")
	}
	return out.Choices[0].Message.Content, nil
}

// Stream runs a streaming chat completion, invoking onDelta for each content
// fragment as it arrives. Streaming requests are not retried once bytes have
// been delivered.
func (c *Client) Stream(ctx context.Context, model string, temperature float64, messages []ChatMessage, onDelta func(string) error) error {
	body := chatRequest{Model: model, Messages: messages, Temperature: temperature, Stream: true}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("openai stream: status %d: %s", resp.StatusCode, string(data))
	}
	return readDeltaStream(resp.Body, onDelta)
}

func (c *Client) doJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt, lastErr); err != nil {
				return err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			c.log.Warn("openai request failed", "path", path, "attempt", attempt, "error", err.Error())
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			if ra := retryAfter(resp); ra > 0 {
				lastErr = &rateLimited{after: ra}
			}
			c.log.Warn("openai retryable status", "path", path, "status", resp.StatusCode, "attempt", attempt)
			continue
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("openai %s: status %d: %s", path, resp.StatusCode, string(data))
		}
		if readErr != nil {
			lastErr = readErr
			continue
		}
		if out != nil {
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("decode openai response: %w", err)
			}
		}
		return nil
	}
	return fmt.Errorf("openai %s: retries exhausted: %w", path, lastErr)
}

type rateLimited struct {
	after time.Duration
}

func (e *rateLimited) Error() string {
	return "rate limited"
}

func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func (c *Client) backoff(ctx context.Context, attempt int, lastErr error) error {
	delay := time.Duration(1<<uint(attempt-1)) * time.Second
	if rl, ok := lastErr.(*rateLimited); ok && rl.after > delay {
		delay = rl.after
	}
	delay += time.Duration(rand.Int63n(int64(500 * time.Millisecond)))
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
