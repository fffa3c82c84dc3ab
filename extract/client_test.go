package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// chatServer fakes an OpenAI-compatible endpoint returning canned
// message contents in order, then repeating the last one.
func chatServer(t *testing.T, contents ...string) (*httptest.Server, *int) {
	t.Helper()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Temperature != 0 {
			t.Errorf("temperature = %v, want 0", req.Temperature)
		}

		i := calls
		if i >= len(contents) {
			i = len(contents) - 1
		}
		calls++

		resp := fmt.Sprintf(`{"id":"cmpl-1","model":"%s","choices":[{"index":0,"message":{"role":"assistant","content":%s},"finish_reason":"stop"}],"usage":{"prompt_tokens":100,"completion_tokens":50,"total_tokens":150}}`,
			req.Model, mustJSON(contents[i]))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func mustJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func newTestClient(baseURL string) *Client {
	return NewClient(Config{
		BaseURL:     baseURL,
		Model:       "openai/gpt-oss-120b",
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
	})
}

func TestExtractOK(t *testing.T) {
	srv, calls := chatServer(t, validInvoiceJSON)
	c := newTestClient(srv.URL)

	res := c.Extract(context.Background(), "doc-001", "INVOICE 379183\nDate: 08/05/2025")
	if res.Status != StatusOK {
		t.Fatalf("status = %q (%s), want ok", res.Status, res.Error)
	}
	if res.DocumentID != "doc-001" {
		t.Fatalf("document id = %q", res.DocumentID)
	}
	if res.Data == nil || res.Data.InvoiceNumber != "379183" {
		t.Fatalf("data = %+v", res.Data)
	}
	if *calls != 1 {
		t.Fatalf("calls = %d, want 1", *calls)
	}
}

func TestExtractFencedResponse(t *testing.T) {
	srv, _ := chatServer(t, "```json\n"+validInvoiceJSON+"\n```")
	c := newTestClient(srv.URL)

	res := c.Extract(context.Background(), "doc-002", "some ocr text")
	if res.Status != StatusOK {
		t.Fatalf("status = %q (%s)", res.Status, res.Error)
	}
}

func TestExtractRepairRetry(t *testing.T) {
	// First response is missing line_items; the repair retry succeeds.
	broken := strings.Replace(validInvoiceJSON, `"line_items"`, `"items"`, 1)
	srv, calls := chatServer(t, broken, validInvoiceJSON)
	c := newTestClient(srv.URL)

	res := c.Extract(context.Background(), "doc-003", "ocr")
	if res.Status != StatusOK {
		t.Fatalf("status = %q (%s), want ok after repair", res.Status, res.Error)
	}
	if *calls != 2 {
		t.Fatalf("calls = %d, want 2 (original + repair)", *calls)
	}
}

func TestExtractMalformedAfterRepair(t *testing.T) {
	srv, calls := chatServer(t, "not json at all", "still not json")
	c := newTestClient(srv.URL)

	res := c.Extract(context.Background(), "doc-004", "ocr")
	if res.Status != StatusMalformed {
		t.Fatalf("status = %q, want malformed", res.Status)
	}
	if res.Data != nil {
		t.Fatal("malformed result must not carry data")
	}
	if *calls != 2 {
		t.Fatalf("calls = %d, want 2", *calls)
	}
}

func TestExtractEndpointDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	res := c.Extract(context.Background(), "doc-005", "ocr")
	if res.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", res.Status)
	}
	if res.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", res.Attempts)
	}
	if res.Data != nil {
		t.Fatal("failed result must not carry data")
	}
}

func TestExtractContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	c := newTestClient(srv.URL)
	res := c.Extract(ctx, "doc-006", "ocr")
	if res.Status != StatusFailed {
		t.Fatalf("status = %q, want failed on cancellation", res.Status)
	}
}

func TestExtractSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		resp := fmt.Sprintf(`{"choices":[{"message":{"content":%s}}]}`, mustJSON(validInvoiceJSON))
		w.Write([]byte(resp))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Model: "m", APIKey: "gsk_test", BaseBackoff: time.Millisecond})
	res := c.Extract(context.Background(), "doc-007", "ocr")
	if res.Status != StatusOK {
		t.Fatalf("status = %q (%s)", res.Status, res.Error)
	}
	if gotAuth != "Bearer gsk_test" {
		t.Fatalf("auth = %q", gotAuth)
	}
}
