package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/cubicler/cubicler/pkg/auth"
	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/jsonrpc"
)

// httpTransport performs one POST per JSON-RPC request.
type httpTransport struct {
	cfg    config.McpServerConfig
	tokens auth.TokenSource
	client *http.Client
}

func newHTTPTransport(cfg config.McpServerConfig, tokens auth.TokenSource, opts TransportOptions) *httpTransport {
	return &httpTransport{
		cfg:    cfg,
		tokens: tokens,
		client: &http.Client{Timeout: opts.RequestTimeout},
	}
}

func (t *httpTransport) ServerIdentifier() string { return t.cfg.Identifier }

// Initialize is a no-op; HTTP holds no connection state.
func (t *httpTransport) Initialize(context.Context) error { return nil }

func (t *httpTransport) IsConnected() bool { return true }

func (t *httpTransport) Close() error { return nil }

func (t *httpTransport) SendRequest(ctx context.Context, req jsonrpc.Request) (*jsonrpc.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range t.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	if t.tokens != nil {
		token, err := t.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquiring token: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("HTTP %d: %s", httpResp.StatusCode, msg)
	}

	var resp jsonrpc.Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &resp, nil
}
