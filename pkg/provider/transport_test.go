package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/jsonrpc"
)

func testOpts() TransportOptions {
	opts := TransportOptions{
		RequestTimeout: 2 * time.Second,
		SSEOpenTimeout: time.Second,
		KillGrace:      time.Second,
	}
	opts.fill()
	return opts
}

func TestHTTPTransport_SendRequest(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req jsonrpc.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		resp := jsonrpc.NewSuccessResponse(req.ID, map[string]any{"ok": true})
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	tr, err := NewTransport(config.McpServerConfig{
		Identifier: "backend",
		Transport:  config.McpTransportHTTP,
		URL:        server.URL,
		Auth:       &config.JWTAuth{Token: "static-token"},
	}, testOpts())
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}

	req, _ := jsonrpc.NewRequest(1, "tools/list", nil)
	resp, err := tr.SendRequest(context.Background(), req)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if gotAuth != "Bearer static-token" {
		t.Errorf("authorization = %q", gotAuth)
	}
}

func TestHTTPTransport_Non200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	tr := newHTTPTransport(config.McpServerConfig{Identifier: "backend", URL: server.URL}, nil, testOpts())

	req, _ := jsonrpc.NewRequest(1, "tools/list", nil)
	if _, err := tr.SendRequest(context.Background(), req); err == nil || !strings.Contains(err.Error(), "HTTP 500") {
		t.Fatalf("expected HTTP 500 error, got %v", err)
	}
}

// sseBackend is a minimal MCP SSE server: it captures the stream writer and
// replies to posted requests through it on demand.
type sseBackend struct {
	mu       sync.Mutex
	flusher  http.Flusher
	writer   http.ResponseWriter
	streamed chan struct{}
	posts    chan jsonrpc.Request
}

func newSSEBackend() *sseBackend {
	return &sseBackend{
		streamed: make(chan struct{}),
		posts:    make(chan jsonrpc.Request, 16),
	}
}

func (b *sseBackend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp/sse", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("clientId") == "" {
			http.Error(w, "missing clientId", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()

		b.mu.Lock()
		b.writer = w
		b.flusher = w.(http.Flusher)
		b.mu.Unlock()
		close(b.streamed)

		<-r.Context().Done()
	})
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-mcp-client-id") == "" {
			http.Error(w, "missing client id", http.StatusBadRequest)
			return
		}
		var req jsonrpc.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b.posts <- req
		w.WriteHeader(http.StatusAccepted)
	})
	return mux
}

// emit writes one SSE frame carrying a JSON-RPC response.
func (b *sseBackend) emit(t *testing.T, event string, resp jsonrpc.Response) {
	t.Helper()
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshaling response: %v", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if event != "" {
		fmt.Fprintf(b.writer, "event: %s\n", event)
	}
	fmt.Fprintf(b.writer, "data: %s\n\n", data)
	b.flusher.Flush()
}

func (b *sseBackend) emitComment(comment string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fmt.Fprintf(b.writer, ": %s\n\n", comment)
	b.flusher.Flush()
}

func TestSSETransport_CorrelatesOutOfOrderResponses(t *testing.T) {
	backend := newSSEBackend()
	server := httptest.NewServer(backend.handler(t))
	defer server.Close()

	tr := newSSETransport(config.McpServerConfig{
		Identifier: "backend",
		Transport:  config.McpTransportSSE,
		URL:        server.URL,
	}, nil, testOpts())
	if err := tr.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer tr.Close()
	<-backend.streamed

	// Two concurrent requests; the backend answers them in reverse order.
	type result struct {
		resp *jsonrpc.Response
		err  error
	}
	results := make(map[int64]chan result)
	for _, id := range []int64{1, 2} {
		ch := make(chan result, 1)
		results[id] = ch
		req, _ := jsonrpc.NewRequest(id, "tools/call", map[string]any{"n": id})
		go func() {
			resp, err := tr.SendRequest(context.Background(), req)
			ch <- result{resp, err}
		}()
	}

	// Wait for both posts, keepalive in between, then answer 2 before 1.
	<-backend.posts
	<-backend.posts
	backend.emitComment("keepalive")

	two := json.RawMessage(`2`)
	one := json.RawMessage(`1`)
	backend.emit(t, "mcp-response", jsonrpc.NewSuccessResponse(&two, map[string]any{"answer": "second"}))
	backend.emit(t, "", jsonrpc.NewSuccessResponse(&one, map[string]any{"answer": "first"}))

	for id, want := range map[int64]string{1: "first", 2: "second"} {
		res := <-results[id]
		if res.err != nil {
			t.Fatalf("request %d: %v", id, res.err)
		}
		var payload map[string]any
		if err := json.Unmarshal(res.resp.Result, &payload); err != nil {
			t.Fatalf("request %d result: %v", id, err)
		}
		if payload["answer"] != want {
			t.Errorf("request %d got %v, want %q", id, payload["answer"], want)
		}
	}
}

func TestSSETransport_OpenTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(3 * time.Second)
	}))
	defer server.Close()

	opts := testOpts()
	opts.SSEOpenTimeout = 50 * time.Millisecond
	tr := newSSETransport(config.McpServerConfig{Identifier: "backend", URL: server.URL}, nil, opts)

	if err := tr.Initialize(context.Background()); err == nil || !strings.Contains(err.Error(), "timeout") {
		t.Fatalf("expected open timeout, got %v", err)
	}
}

func TestSSETransport_DisconnectRejectsPending(t *testing.T) {
	backend := newSSEBackend()
	server := httptest.NewServer(backend.handler(t))
	defer server.Close()

	tr := newSSETransport(config.McpServerConfig{
		Identifier: "backend",
		URL:        server.URL,
	}, nil, testOpts())
	if err := tr.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	<-backend.streamed

	req, _ := jsonrpc.NewRequest(7, "tools/call", nil)
	done := make(chan error, 1)
	go func() {
		_, err := tr.SendRequest(context.Background(), req)
		done <- err
	}()
	<-backend.posts

	tr.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected pending request to fail on close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending request not rejected")
	}
}
