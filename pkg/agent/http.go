package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cubicler/cubicler/pkg/auth"
	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/model"
)

// HTTPTransport POSTs the request to the agent's URL and waits for one
// response. Tool callbacks are out of band; the agent reaches the broker's
// /mcp endpoint on its own.
type HTTPTransport struct {
	cfg    config.HTTPAgentTransport
	tokens auth.TokenSource
	client *http.Client
}

// NewHTTPTransport creates the transport. Timeout <= 0 falls back to the
// default dispatch timeout.
func NewHTTPTransport(cfg config.HTTPAgentTransport, timeout time.Duration) (*HTTPTransport, error) {
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	tokens, err := auth.SourceFromConfig(cfg.Auth)
	if err != nil {
		return nil, err
	}
	return &HTTPTransport{
		cfg:    cfg,
		tokens: tokens,
		client: &http.Client{Timeout: timeout},
	}, nil
}

func (t *HTTPTransport) Dispatch(ctx context.Context, req *model.AgentRequest) (*model.AgentResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling agent request: %w", err)
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
		return nil, fmt.Errorf("calling agent: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("agent returned HTTP %d: %s", httpResp.StatusCode, msg)
	}

	var resp model.AgentResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding agent response: %w", err)
	}
	if err := resp.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent response: %w", err)
	}
	return &resp, nil
}
