package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/jsonrpc"
	"github.com/cubicler/cubicler/pkg/model"
)

// StdioPoolOptions tunes a stdio agent pool.
type StdioPoolOptions struct {
	DispatchTimeout time.Duration
	KillGrace       time.Duration
	Logger          *slog.Logger
	// Tools services the worker's inbound tools/list and tools/call requests.
	Tools ToolDispatcher
}

// StdioPool runs an agent as pooled child processes speaking line-delimited
// JSON-RPC. Worker 0 is the primary; it is spawned on first use and never
// idles out. Additional workers are spawned on demand up to maxPoolSize and
// reaped after maxIdle of inactivity.
type StdioPool struct {
	cfg  config.StdioAgentTransport
	opts StdioPoolOptions

	maxPool      int
	maxIdle      time.Duration
	queueTimeout time.Duration
	queueMax     int

	requestID atomic.Int64
	nextID    atomic.Int64

	mu      sync.Mutex
	workers []*stdioWorker
	cursor  int
	waiters []chan *stdioWorker
	closed  bool
	reaper  *time.Ticker
	done    chan struct{}
}

// NewStdioPool creates a pool for one agent's stdio config.
func NewStdioPool(cfg config.StdioAgentTransport, opts StdioPoolOptions) *StdioPool {
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = DefaultDispatchTimeout
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = DefaultKillGrace
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	p := &StdioPool{
		cfg:          cfg,
		opts:         opts,
		maxPool:      cfg.MaxPoolSize,
		maxIdle:      time.Duration(cfg.MaxIdleMs) * time.Millisecond,
		queueTimeout: time.Duration(cfg.QueueTimeout) * time.Millisecond,
		queueMax:     DefaultQueueMaxSize,
		done:         make(chan struct{}),
	}
	if p.maxPool <= 0 {
		p.maxPool = DefaultMaxPoolSize
	}
	if p.maxIdle <= 0 {
		p.maxIdle = DefaultMaxIdle
	}
	if p.queueTimeout <= 0 {
		p.queueTimeout = DefaultQueueTimeout
	}
	if cfg.QueueMaxSize != nil {
		p.queueMax = *cfg.QueueMaxSize
	}
	return p
}

// Dispatch reserves a worker, sends the request, and services the worker's
// tool callbacks until it responds.
func (p *StdioPool) Dispatch(ctx context.Context, req *model.AgentRequest) (*model.AgentResponse, error) {
	return p.DispatchWith(ctx, req, nil)
}

// DispatchWith is Dispatch with a per-call tool dispatcher. The factory uses
// it to route this dispatch's worker callbacks through the agent's
// restriction guard; a nil tools falls back to the pool-wide dispatcher.
func (p *StdioPool) DispatchWith(ctx context.Context, req *model.AgentRequest, tools ToolDispatcher) (*model.AgentResponse, error) {
	w, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	if tools != nil {
		w.mu.Lock()
		w.tools = tools
		w.mu.Unlock()
	}

	resp, err := w.dispatch(ctx, req)
	if err != nil {
		// A worker that failed a dispatch is not trusted to be Ready again.
		p.remove(w)
		w.terminate()
		return nil, err
	}

	p.release(w)
	return resp, nil
}

// acquire returns a reserved Ready worker: round-robin over the live pool,
// spawn under capacity, otherwise queue.
func (p *StdioPool) acquire(ctx context.Context) (*stdioWorker, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("agent pool closed")
	}

	if w := p.reserveLocked(); w != nil {
		p.mu.Unlock()
		return w, nil
	}

	if len(p.workers) < p.maxPool {
		w, err := p.spawnLocked()
		p.mu.Unlock()
		return w, err
	}

	if len(p.waiters) >= p.queueMax {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: queue full", ErrPoolSaturated)
	}
	waiter := make(chan *stdioWorker, 1)
	p.waiters = append(p.waiters, waiter)
	p.mu.Unlock()

	timer := time.NewTimer(p.queueTimeout)
	defer timer.Stop()

	select {
	case w, ok := <-waiter:
		if !ok {
			return nil, fmt.Errorf("agent pool closed")
		}
		return w, nil
	case <-timer.C:
		p.dropWaiter(waiter)
		return nil, fmt.Errorf("%w: queue wait timed out", ErrPoolSaturated)
	case <-ctx.Done():
		p.dropWaiter(waiter)
		return nil, ctx.Err()
	}
}

// reserveLocked picks the next Ready worker starting at the rotating cursor.
func (p *StdioPool) reserveLocked() *stdioWorker {
	n := len(p.workers)
	for i := 0; i < n; i++ {
		w := p.workers[(p.cursor+i)%n]
		if w.reserve() {
			p.cursor = (p.cursor + i + 1) % n
			return w
		}
	}
	return nil
}

// spawnLocked starts a new worker, already reserved for the caller.
func (p *StdioPool) spawnLocked() (*stdioWorker, error) {
	w := &stdioWorker{
		pool:    p,
		id:      p.nextID.Add(1),
		primary: len(p.workers) == 0,
		busy:    true,
		pending: make(map[string]chan *jsonrpc.Response),
	}
	if err := w.start(); err != nil {
		return nil, fmt.Errorf("spawning agent worker: %w", err)
	}
	p.workers = append(p.workers, w)

	if p.reaper == nil {
		p.reaper = time.NewTicker(p.maxIdle / 4)
		go p.reapLoop()
	}
	return w, nil
}

// release returns a worker to Ready, or hands it straight to the next
// queued waiter.
func (p *StdioPool) release(w *stdioWorker) {
	p.mu.Lock()
	if len(p.waiters) > 0 {
		waiter := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.mu.Unlock()
		waiter <- w
		return
	}
	p.mu.Unlock()
	w.unreserve()
}

// remove takes a worker out of the pool. If a waiter is queued and capacity
// opened up, a replacement worker is spawned for it.
func (p *StdioPool) remove(w *stdioWorker) {
	p.mu.Lock()
	for i, other := range p.workers {
		if other == w {
			p.workers = append(p.workers[:i], p.workers[i+1:]...)
			break
		}
	}
	var waiter chan *stdioWorker
	var replacement *stdioWorker
	if len(p.waiters) > 0 && len(p.workers) < p.maxPool && !p.closed {
		if next, err := p.spawnLocked(); err == nil {
			waiter = p.waiters[0]
			p.waiters = p.waiters[1:]
			replacement = next
		}
	}
	p.mu.Unlock()

	if waiter != nil {
		waiter <- replacement
	}
}

// dropWaiter abandons a queued waiter after a timeout or cancellation. If
// the waiter is no longer in the queue, a handoff is committed: whoever
// popped it will send exactly one worker (or close the channel on pool
// shutdown), so wait for it and put the worker back.
func (p *StdioPool) dropWaiter(waiter chan *stdioWorker) {
	p.mu.Lock()
	found := false
	for i, other := range p.waiters {
		if other == waiter {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			found = true
			break
		}
	}
	p.mu.Unlock()

	if found {
		return
	}
	if w, ok := <-waiter; ok && w != nil {
		p.release(w)
	}
}

// reapLoop terminates non-primary workers idle past maxIdle.
func (p *StdioPool) reapLoop() {
	for {
		select {
		case <-p.done:
			return
		case <-p.reaper.C:
		}

		var idle []*stdioWorker
		p.mu.Lock()
		for _, w := range p.workers {
			if !w.primary && w.idleFor() > p.maxIdle && w.reserve() {
				idle = append(idle, w)
			}
		}
		for _, w := range idle {
			for i, other := range p.workers {
				if other == w {
					p.workers = append(p.workers[:i], p.workers[i+1:]...)
					break
				}
			}
		}
		p.mu.Unlock()

		for _, w := range idle {
			p.opts.Logger.Debug("reaping idle agent worker", "worker", w.id)
			w.terminate()
		}
	}
}

// Close terminates every worker and rejects queued waiters.
func (p *StdioPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	workers := p.workers
	p.workers = nil
	waiters := p.waiters
	p.waiters = nil
	if p.reaper != nil {
		p.reaper.Stop()
	}
	close(p.done)
	p.mu.Unlock()

	for _, waiter := range waiters {
		close(waiter)
	}
	for _, w := range workers {
		w.terminate()
	}
}

// stdioWorker is one child process. At most one dispatch is in flight per
// worker; inbound tools/* requests interleave with it.
type stdioWorker struct {
	pool    *StdioPool
	id      int64
	primary bool

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	writeMu sync.Mutex

	mu       sync.Mutex
	busy     bool
	alive    bool
	lastUsed time.Time
	pending  map[string]chan *jsonrpc.Response
	exitDesc string
	tools    ToolDispatcher // per-dispatch override, nil between dispatches
}

// reserve atomically claims a Ready worker.
func (w *stdioWorker) reserve() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.alive || w.busy {
		return false
	}
	w.busy = true
	return true
}

func (w *stdioWorker) unreserve() {
	w.mu.Lock()
	w.busy = false
	w.lastUsed = time.Now()
	w.tools = nil
	w.mu.Unlock()
}

// toolDispatcher returns the dispatcher for inbound requests: the current
// dispatch's override when one is set, otherwise the pool-wide one.
func (w *stdioWorker) toolDispatcher() ToolDispatcher {
	w.mu.Lock()
	t := w.tools
	w.mu.Unlock()
	if t == nil {
		t = w.pool.opts.Tools
	}
	return t
}

func (w *stdioWorker) idleFor() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.busy {
		return 0
	}
	return time.Since(w.lastUsed)
}

func (w *stdioWorker) start() error {
	cfg := w.pool.cfg
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Cwd
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
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
		return fmt.Errorf("starting %s: %w", cfg.Command, err)
	}

	w.cmd = cmd
	w.stdin = stdin
	w.alive = true
	w.lastUsed = time.Now()

	go w.readLoop(stdout)
	go w.logStderr(stderr)
	go w.waitExit()

	return nil
}

// waitExit observes the process end and records how it died so an in-flight
// dispatch can report it.
func (w *stdioWorker) waitExit() {
	err := w.cmd.Wait()

	desc := "Agent process exited with code 0"
	if state := w.cmd.ProcessState; state != nil {
		code := state.ExitCode()
		desc = fmt.Sprintf("Agent process exited with code %d", code)
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			desc = fmt.Sprintf("%s, signal %s", desc, ws.Signal())
		}
	} else if err != nil {
		desc = fmt.Sprintf("Agent process exited: %v", err)
	}

	w.mu.Lock()
	w.alive = false
	w.exitDesc = desc
	for key, ch := range w.pending {
		close(ch)
		delete(w.pending, key)
	}
	w.mu.Unlock()

	w.pool.remove(w)
}

// readLoop demultiplexes the worker's stdout: responses to our dispatch
// resolve pending entries; inbound tools/* requests are serviced
// concurrently; anything else gets MethodNotFound.
func (w *stdioWorker) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var head struct {
			ID     *json.RawMessage `json:"id"`
			Method string           `json:"method"`
		}
		if err := json.Unmarshal(line, &head); err != nil {
			w.pool.opts.Logger.Debug("discarding non-JSON-RPC line from agent", "worker", w.id)
			continue
		}

		if head.Method != "" {
			var req jsonrpc.Request
			if err := json.Unmarshal(line, &req); err != nil {
				continue
			}
			go w.serveInbound(&req)
			continue
		}

		var resp jsonrpc.Response
		if err := json.Unmarshal(line, &resp); err != nil || resp.ID == nil {
			continue
		}
		key := jsonrpc.IDKey(resp.ID)
		w.mu.Lock()
		ch, ok := w.pending[key]
		if ok {
			delete(w.pending, key)
		}
		w.mu.Unlock()
		if ok {
			ch <- &resp
		}
	}
}

// serveInbound forwards one agent-initiated request to the tool dispatcher.
func (w *stdioWorker) serveInbound(req *jsonrpc.Request) {
	var resp jsonrpc.Response
	switch req.Method {
	case "tools/list", "tools/call":
		if tools := w.toolDispatcher(); tools == nil {
			resp = jsonrpc.NewErrorResponse(req.ID, jsonrpc.InternalError, "no tool dispatcher configured")
		} else {
			resp = tools.HandleRequest(context.Background(), req)
		}
	default:
		resp = jsonrpc.NewErrorResponse(req.ID, jsonrpc.MethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
	if err := w.writeLine(resp); err != nil {
		w.pool.opts.Logger.Warn("writing tool response to agent", "worker", w.id, "error", err)
	}
}

func (w *stdioWorker) logStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		w.pool.opts.Logger.Debug("agent stderr", "worker", w.id, "line", scanner.Text())
	}
}

func (w *stdioWorker) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_, err = w.stdin.Write(append(data, '\n'))
	return err
}

// dispatch performs one dispatch exchange with this worker.
func (w *stdioWorker) dispatch(ctx context.Context, agentReq *model.AgentRequest) (*model.AgentResponse, error) {
	req, err := jsonrpc.NewRequest(w.pool.requestID.Add(1), "dispatch", agentReq)
	if err != nil {
		return nil, err
	}
	key := jsonrpc.IDKey(req.ID)

	ch := make(chan *jsonrpc.Response, 1)
	w.mu.Lock()
	if !w.alive {
		desc := w.exitDesc
		w.mu.Unlock()
		return nil, fmt.Errorf("%s", desc)
	}
	w.pending[key] = ch
	w.mu.Unlock()

	abandon := func() {
		w.mu.Lock()
		delete(w.pending, key)
		w.mu.Unlock()
	}

	if err := w.writeLine(req); err != nil {
		abandon()
		return nil, fmt.Errorf("writing dispatch to agent: %w", err)
	}

	timer := time.NewTimer(w.pool.opts.DispatchTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			w.mu.Lock()
			desc := w.exitDesc
			w.mu.Unlock()
			if desc == "" {
				desc = "agent worker closed"
			}
			return nil, fmt.Errorf("%s", desc)
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		var agentResp model.AgentResponse
		if err := json.Unmarshal(resp.Result, &agentResp); err != nil {
			return nil, fmt.Errorf("unmarshaling agent response: %w", err)
		}
		if err := agentResp.Validate(); err != nil {
			return nil, fmt.Errorf("invalid agent response: %w", err)
		}
		return &agentResp, nil
	case <-timer.C:
		abandon()
		return nil, fmt.Errorf("timeout waiting for agent worker %d", w.id)
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	}
}

// terminate stops the process: SIGTERM, then SIGKILL after the grace period.
func (w *stdioWorker) terminate() {
	w.mu.Lock()
	alive := w.alive
	w.alive = false
	w.mu.Unlock()

	if w.stdin != nil {
		w.stdin.Close()
	}
	if !alive || w.cmd == nil || w.cmd.Process == nil {
		return
	}

	_ = w.cmd.Process.Signal(syscall.SIGTERM)

	deadline := time.After(w.pool.opts.KillGrace)
	check := time.NewTicker(50 * time.Millisecond)
	defer check.Stop()
	for {
		select {
		case <-deadline:
			_ = w.cmd.Process.Kill()
			return
		case <-check.C:
			if w.cmd.ProcessState != nil {
				return
			}
		}
	}
}
