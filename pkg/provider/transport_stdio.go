package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/jsonrpc"
)

// stdioTransport talks line-delimited JSON-RPC to a spawned subprocess.
// stdout carries protocol frames, stderr is forwarded to the log.
type stdioTransport struct {
	cfg  config.McpServerConfig
	opts TransportOptions

	mu        sync.Mutex
	connected bool
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	pending   map[string]chan *jsonrpc.Response
}

func newStdioTransport(cfg config.McpServerConfig, opts TransportOptions) *stdioTransport {
	return &stdioTransport{
		cfg:     cfg,
		opts:    opts,
		pending: make(map[string]chan *jsonrpc.Response),
	}
}

func (t *stdioTransport) ServerIdentifier() string { return t.cfg.Identifier }

func (t *stdioTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Initialize spawns the configured command with piped stdio.
func (t *stdioTransport) Initialize(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return nil
	}

	cmd := exec.Command(t.cfg.Command, t.cfg.Args...)
	cmd.Dir = t.cfg.Cwd
	cmd.Env = os.Environ()
	for k, v := range t.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", t.cfg.Command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.connected = true

	go t.readLoop(stdout)
	go t.logStderr(stderr)

	return nil
}

// readLoop routes JSON-RPC responses from stdout to pending callers. Lines
// that do not parse as JSON-RPC are ignored; some servers print banners.
func (t *stdioTransport) readLoop(stdout io.Reader) {
	defer t.dropConnection()

	scanner := bufio.NewScanner(stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp jsonrpc.Response
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}
		if resp.ID == nil {
			continue
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
}

func (t *stdioTransport) logStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		t.opts.Logger.Debug("mcp server stderr", "server", t.cfg.Identifier, "line", scanner.Text())
	}
}

func (t *stdioTransport) SendRequest(ctx context.Context, req jsonrpc.Request) (*jsonrpc.Response, error) {
	t.mu.Lock()
	if !t.connected || t.stdin == nil {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	key := jsonrpc.IDKey(req.ID)
	ch := make(chan *jsonrpc.Response, 1)
	t.pending[key] = ch
	stdin := t.stdin
	t.mu.Unlock()

	abandon := func() {
		t.mu.Lock()
		delete(t.pending, key)
		t.mu.Unlock()
	}

	data, err := json.Marshal(req)
	if err != nil {
		abandon()
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	if _, err := stdin.Write(append(data, '\n')); err != nil {
		abandon()
		return nil, fmt.Errorf("writing to stdin: %w", err)
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

// dropConnection marks the transport dead and rejects all pending callers.
func (t *stdioTransport) dropConnection() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.connected = false
	for key, ch := range t.pending {
		close(ch)
		delete(t.pending, key)
	}
}

// Close stops the subprocess: SIGTERM, then SIGKILL after the grace period.
func (t *stdioTransport) Close() error {
	t.mu.Lock()
	cmd := t.cmd
	stdin := t.stdin
	t.cmd = nil
	t.stdin = nil
	t.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}
	t.dropConnection()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	_ = cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-done:
		return nil
	case <-time.After(t.opts.KillGrace):
		_ = cmd.Process.Kill()
		<-done
		return nil
	}
}
