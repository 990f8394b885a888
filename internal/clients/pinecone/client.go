package pinecone

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

// Client talks to a single Pinecone index over its data-plane host.
type Client struct {
	apiKey     string
	indexHost  string
	httpClient *http.Client
	maxRetries int
	log        *logger.Logger
}

func NewClient(log *logger.Logger) (*Client, error) {
	l := log.With("client", "pinecone")
	apiKey := utils.GetEnv("PINECONE_API_KEY", "", l)
	if apiKey == "" {
		return nil, fmt.Errorf("PINECONE_API_KEY is required")
	}
	host := utils.GetEnv("PINECONE_INDEX_HOST", "", l)
	if host == "" {
		return nil, fmt.Errorf("PINECONE_INDEX_HOST is required")
	}
	return &Client{
		apiKey:    apiKey,
		indexHost: host,
		httpClient: &http.Client{
			Timeout: time.Duration(utils.GetEnvAsInt("PINECONE_TIMEOUT_SEC", 30, l)) * time.Second,
		},
		maxRetries: utils.GetEnvAsInt("PINECONE_MAX_RETRIES", 3, l),
		log:        l,
	}, nil
}

type Vector struct {
	ID       string            `json:"id"`
	Values   []float32         `json:"values"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type upsertRequest struct {
	Vectors   []Vector `json:"vectors"`
	Namespace string   `json:"namespace"`
}

type queryRequest struct {
	Vector          []float32 `json:"vector"`
	TopK            int       `json:"topK"`
	Namespace       string    `json:"namespace"`
	IncludeMetadata bool      `json:"includeMetadata"`
}

type QueryMatch struct {
	ID       string            `json:"id"`
	Score    float32           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type queryResponse struct {
	Matches []QueryMatch `json:"matches"`
}

type statsResponse struct {
	Namespaces map[string]struct {
		VectorCount int `json:"vectorCount"`
	} `json:"namespaces"`
	TotalVectorCount int `json:"totalVectorCount"`
}

func (c *Client) Upsert(ctx context.Context, namespace string, vectors []Vector) error {
	body := upsertRequest{Vectors: vectors, Namespace: namespace}
	return c.do(ctx, http.MethodPost, "/vectors/upsert", body, nil)
}

func (c *Client) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]QueryMatch, error) {
	body := queryRequest{Vector: vector, TopK: topK, Namespace: namespace, IncludeMetadata: true}
	var out queryResponse
	if err := c.do(ctx, http.MethodPost, "/query", body, &out); err != nil {
		return nil, err
	}
	return out.Matches, nil
}

// DeleteNamespace drops every vector in the namespace. Pinecone treats an
// unknown namespace as a no-op, which suits callers clearing empty tenants.
func (c *Client) DeleteNamespace(ctx context.Context, namespace string) error {
	body := map[string]any{"deleteAll": true, "namespace": namespace}
	return c.do(ctx, http.MethodPost, "/vectors/delete", body, nil)
}

// NamespaceVectorCount probes index stats for one namespace. Absent namespaces
// count as zero.
func (c *Client) NamespaceVectorCount(ctx context.Context, namespace string) (int, error) {
	var out statsResponse
	if err := c.do(ctx, http.MethodPost, "/describe_index_stats", map[string]any{}, &out); err != nil {
		return 0, err
	}
	ns, ok := out.Namespaces[namespace]
	if !ok {
		return 0, nil
	}
	return ns.VectorCount, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt, lastErr); err != nil {
				return err
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, c.indexHost+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Api-Key", c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			c.log.Warn("pinecone request failed", "path", path, "attempt", attempt, "error", err.Error())
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = &retryableError{status: resp.StatusCode, retryAfter: parseRetryAfter(resp)}
			c.log.Warn("pinecone retryable status", "path", path, "status", resp.StatusCode, "attempt", attempt)
			continue
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("pinecone %s: status %d: %s", path, resp.StatusCode, string(data))
		}
		if readErr != nil {
			lastErr = readErr
			continue
		}
		if out != nil {
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("decode pinecone response: %w", err)
			}
		}
		return nil
	}
	return fmt.Errorf("pinecone %s: retries exhausted: %w", path, lastErr)
}

type retryableError struct {
	status     int
	retryAfter time.Duration
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("status %d", e.status)
}

func parseRetryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func sleepBackoff(ctx context.Context, attempt int, lastErr error) error {
	delay := time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
	if re, ok := lastErr.(*retryableError); ok && re.retryAfter > delay {
		delay = re.retryAfter
	}
	delay += time.Duration(rand.Int63n(int64(250 * time.Millisecond)))
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
