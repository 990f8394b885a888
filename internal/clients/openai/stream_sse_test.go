package openai

import (
	"fmt"
	"strings"
	"testing"
)

func TestReadDeltaStreamCollectsContent(t *testing.T) {
	body := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		``,
		`: keep-alive comment`,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		``,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	var got strings.Builder
	err := readDeltaStream(strings.NewReader(body), func(d string) error {
		got.WriteString(d)
		return nil
	})
	if err != nil {
		t.Fatalf("readDeltaStream: %v", err)
	}
	if got.String() != "Hello" {
		t.Fatalf("collected %q, want %q", got.String(), "Hello")
	}
}

func TestReadDeltaStreamSkipsMalformedLines(t *testing.T) {
	body := strings.Join([]string{
		`data: not-json`,
		`data: {"choices":[{"delta":{"content":"ok"}}]}`,
		`data: [DONE]`,
	}, "\n")

	var got strings.Builder
	if err := readDeltaStream(strings.NewReader(body), func(d string) error {
		got.WriteString(d)
		return nil
	}); err != nil {
		t.Fatalf("readDeltaStream: %v", err)
	}
	if got.String() != "ok" {
		t.Fatalf("collected %q", got.String())
	}
}

func TestReadDeltaStreamStopsOnCallbackError(t *testing.T) {
	body := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"first"}}]}`,
		`data: {"choices":[{"delta":{"content":"second"}}]}`,
		`data: [DONE]`,
	}, "\n")

	calls := 0
	err := readDeltaStream(strings.NewReader(body), func(d string) error {
		calls++
		return fmt.Errorf("client gone")
	})
	if err == nil {
		t.Fatalf("expected callback error to propagate")
	}
	if calls != 1 {
		t.Fatalf("expected the read to stop after the first delta, got %d calls", calls)
	}
}
