package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cubicler/cubicler/pkg/auth"
	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/jsonrpc"
)

// sseTransport pairs a POST endpoint for outbound requests with a long-lived
// event stream for inbound responses. The two sides correlate through the
// client id carried on both, and responses match pending requests by JSON-RPC
// id.
type sseTransport struct {
	cfg      config.McpServerConfig
	tokens   auth.TokenSource
	opts     TransportOptions
	clientID string

	postClient   *http.Client
	streamClient *http.Client

	mu        sync.Mutex
	connected bool
	cancel    context.CancelFunc
	pending   map[string]chan *jsonrpc.Response
}

func newSSETransport(cfg config.McpServerConfig, tokens auth.TokenSource, opts TransportOptions) *sseTransport {
	return &sseTransport{
		cfg:          cfg,
		tokens:       tokens,
		opts:         opts,
		clientID:     uuid.NewString(),
		postClient:   &http.Client{Timeout: opts.RequestTimeout},
		streamClient: &http.Client{}, // the stream outlives any request timeout
		pending:      make(map[string]chan *jsonrpc.Response),
	}
}

func (t *sseTransport) ServerIdentifier() string { return t.cfg.Identifier }

func (t *sseTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *sseTransport) baseURL() string {
	return strings.TrimRight(t.cfg.URL, "/")
}

// Initialize opens the response stream. The server must accept the GET within
// the open timeout or the transport reports failure.
func (t *sseTransport) Initialize(ctx context.Context) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	streamURL := t.baseURL() + "/mcp/sse?clientId=" + url.QueryEscape(t.clientID)
	if t.tokens != nil {
		token, err := t.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("acquiring token: %w", err)
		}
		streamURL += "&token=" + url.QueryEscape(token)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, streamURL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("creating stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	type opened struct {
		resp *http.Response
		err  error
	}
	ch := make(chan opened, 1)
	go func() {
		resp, err := t.streamClient.Do(req)
		ch <- opened{resp, err}
	}()

	timer := time.NewTimer(t.opts.SSEOpenTimeout)
	defer timer.Stop()

	select {
	case o := <-ch:
		if o.err != nil {
			cancel()
			return fmt.Errorf("opening SSE stream: %w", o.err)
		}
		if o.resp.StatusCode != http.StatusOK {
			o.resp.Body.Close()
			cancel()
			return fmt.Errorf("opening SSE stream: HTTP %d", o.resp.StatusCode)
		}
		t.mu.Lock()
		t.connected = true
		t.cancel = cancel
		t.mu.Unlock()
		go t.readLoop(o.resp.Body)
		return nil
	case <-timer.C:
		cancel()
		return fmt.Errorf("opening SSE stream: timeout after %s", t.opts.SSEOpenTimeout)
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// readLoop parses SSE frames off the stream and resolves pending requests.
// Comment frames (keepalives) are skipped. Stream end rejects everything
// pending.
func (t *sseTransport) readLoop(body io.ReadCloser) {
	defer body.Close()
	defer t.dropConnection()

	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	var event string
	var data bytes.Buffer

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				t.deliver(event, data.Bytes())
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// keepalive comment
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
}

// deliver routes one complete SSE frame to its pending caller.
func (t *sseTransport) deliver(event string, data []byte) {
	if event != "" && event != "message" && event != "mcp-response" {
		return
	}

	var resp jsonrpc.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		t.opts.Logger.Debug("discarding unparseable SSE frame", "server", t.cfg.Identifier, "error", err)
		return
	}

	key := jsonrpc.IDKey(resp.ID)
	t.mu.Lock()
	ch, ok := t.pending[key]
	if ok {
		delete(t.pending, key)
	}
	t.mu.Unlock()
	if ok {
		ch <- &resp
	}
}

func (t *sseTransport) SendRequest(ctx context.Context, req jsonrpc.Request) (*jsonrpc.Response, error) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	key := jsonrpc.IDKey(req.ID)
	ch := make(chan *jsonrpc.Response, 1)
	t.pending[key] = ch
	t.mu.Unlock()

	abandon := func() {
		t.mu.Lock()
		delete(t.pending, key)
		t.mu.Unlock()
	}

	if err := t.post(ctx, req); err != nil {
		abandon()
		return nil, err
	}

	timer := time.NewTimer(t.opts.RequestTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrTransportClosed
		}
		return resp, nil
	case <-timer.C:
		abandon()
		return nil, fmt.Errorf("timeout waiting for response from %s", t.cfg.Identifier)
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	}
}

func (t *sseTransport) post(ctx context.Context, req jsonrpc.Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL()+"/mcp", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-mcp-client-id", t.clientID)
	for k, v := range t.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	if t.tokens != nil {
		token, err := t.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("acquiring token: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.postClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("posting request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("posting request: HTTP %d", resp.StatusCode)
	}
	return nil
}

// dropConnection marks the transport disconnected and rejects all pending
// callers.
func (t *sseTransport) dropConnection() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.connected = false
	for key, ch := range t.pending {
		close(ch)
		delete(t.pending, key)
	}
}

func (t *sseTransport) Close() error {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.dropConnection()
	return nil
}
