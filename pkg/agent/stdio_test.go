package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cubicler/cubicler/pkg/access"
	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/jsonrpc"
	"github.com/cubicler/cubicler/pkg/naming"
)

// tokenResolver resolves hash tokens from a fixed table.
type tokenResolver map[string]string

func (m tokenResolver) IdentifierForToken(token string) (string, bool) {
	id, ok := m[token]
	return id, ok
}

// recordingDispatcher is a scripted ToolDispatcher for worker callbacks.
type recordingDispatcher struct {
	mu    sync.Mutex
	calls []string
}

func (d *recordingDispatcher) HandleRequest(ctx context.Context, req *jsonrpc.Request) jsonrpc.Response {
	d.mu.Lock()
	d.calls = append(d.calls, req.Method)
	d.mu.Unlock()
	return jsonrpc.NewSuccessResponse(req.ID, map[string]any{"tools": []any{}})
}

const agentResponseJSON = `{"timestamp":"2024-01-01T00:00:00Z","type":"text","content":"ok","metadata":{"usedToken":1,"usedTools":0}}`

func shellPool(t *testing.T, script string, cfg config.StdioAgentTransport, opts StdioPoolOptions) *StdioPool {
	t.Helper()
	cfg.Command = "sh"
	cfg.Args = []string{"-c", script}
	pool := NewStdioPool(cfg, opts)
	t.Cleanup(pool.Close)
	return pool
}

func TestStdioPool_Dispatch(t *testing.T) {
	// The worker reads our dispatch request and answers request id 1.
	script := `read line; echo '{"jsonrpc":"2.0","id":1,"result":` + agentResponseJSON + `}'; sleep 1`
	pool := shellPool(t, script, config.StdioAgentTransport{}, StdioPoolOptions{DispatchTimeout: 5 * time.Second})

	resp, err := pool.Dispatch(context.Background(), testAgentRequest())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if *resp.Content != "ok" {
		t.Errorf("content = %q", *resp.Content)
	}
}

func TestStdioPool_InboundToolCallback(t *testing.T) {
	// The worker asks for tools/list mid-dispatch, waits for the reply, then
	// answers the dispatch.
	script := `read line
echo '{"jsonrpc":"2.0","id":"cb1","method":"tools/list"}'
read reply
echo '{"jsonrpc":"2.0","id":1,"result":` + agentResponseJSON + `}'
sleep 1`
	tools := &recordingDispatcher{}
	pool := shellPool(t, script, config.StdioAgentTransport{}, StdioPoolOptions{
		DispatchTimeout: 5 * time.Second,
		Tools:           tools,
	})

	if _, err := pool.Dispatch(context.Background(), testAgentRequest()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	tools.mu.Lock()
	defer tools.mu.Unlock()
	if len(tools.calls) != 1 || tools.calls[0] != "tools/list" {
		t.Errorf("tool callbacks = %v", tools.calls)
	}
}

func TestStdioPool_WorkerExitFailsDispatch(t *testing.T) {
	script := `read line; exit 3`
	pool := shellPool(t, script, config.StdioAgentTransport{}, StdioPoolOptions{DispatchTimeout: 5 * time.Second})

	_, err := pool.Dispatch(context.Background(), testAgentRequest())
	if err == nil || !strings.Contains(err.Error(), "exited with code 3") {
		t.Fatalf("expected exit-code error, got %v", err)
	}
}

func TestStdioPool_SaturationQueueFull(t *testing.T) {
	zero := 0
	// Workers never answer; the single slot stays Busy.
	pool := shellPool(t, `sleep 30`, config.StdioAgentTransport{
		MaxPoolSize:  1,
		QueueMaxSize: &zero,
	}, StdioPoolOptions{DispatchTimeout: 10 * time.Second})

	started := make(chan struct{})
	go func() {
		close(started)
		pool.Dispatch(context.Background(), testAgentRequest())
	}()
	<-started

	// Give the first dispatch time to claim the only worker.
	deadline := time.After(2 * time.Second)
	for {
		pool.mu.Lock()
		n := len(pool.workers)
		pool.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first worker never spawned")
		case <-time.After(5 * time.Millisecond):
		}
	}

	_, err := pool.Dispatch(context.Background(), testAgentRequest())
	if !errors.Is(err, ErrPoolSaturated) {
		t.Fatalf("expected ErrPoolSaturated, got %v", err)
	}
}

func TestStdioPool_SaturationQueueTimeout(t *testing.T) {
	pool := shellPool(t, `sleep 30`, config.StdioAgentTransport{
		MaxPoolSize:  1,
		QueueTimeout: 50,
	}, StdioPoolOptions{DispatchTimeout: 10 * time.Second})

	started := make(chan struct{})
	go func() {
		close(started)
		pool.Dispatch(context.Background(), testAgentRequest())
	}()
	<-started

	deadline := time.After(2 * time.Second)
	for {
		pool.mu.Lock()
		n := len(pool.workers)
		pool.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first worker never spawned")
		case <-time.After(5 * time.Millisecond):
		}
	}

	_, err := pool.Dispatch(context.Background(), testAgentRequest())
	if !errors.Is(err, ErrPoolSaturated) {
		t.Fatalf("expected queue timeout saturation, got %v", err)
	}
}

func TestStdioPool_RestrictedToolCallbackSkipsBackend(t *testing.T) {
	token := naming.ServerHash("weather_api", "http://wx:9")
	eval := access.NewEvaluator(&config.AgentConfig{
		RestrictedTools: []string{"weather_api.get_current"},
	}, tokenResolver{token: "weather_api"})

	// The worker calls the restricted tool mid-dispatch, reads the error
	// reply, then answers the dispatch.
	script := `read line
echo '{"jsonrpc":"2.0","id":"cb1","method":"tools/call","params":{"name":"` + token + `_get_current"}}'
read reply
echo '{"jsonrpc":"2.0","id":1,"result":` + agentResponseJSON + `}'
sleep 1`
	backend := &recordingDispatcher{}
	pool := shellPool(t, script, config.StdioAgentTransport{}, StdioPoolOptions{
		DispatchTimeout: 5 * time.Second,
		Tools:           backend,
	})

	if _, err := pool.DispatchWith(context.Background(), testAgentRequest(), eval.Guard(backend)); err != nil {
		t.Fatalf("DispatchWith: %v", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.calls) != 0 {
		t.Errorf("restricted tool callback must not reach the backend, got %v", backend.calls)
	}
}

func TestStdioPool_DropWaiterAfterHandoff(t *testing.T) {
	pool := NewStdioPool(config.StdioAgentTransport{}, StdioPoolOptions{})
	t.Cleanup(pool.Close)

	w := &stdioWorker{pool: pool, busy: true, alive: true, pending: map[string]chan *jsonrpc.Response{}}
	pool.mu.Lock()
	pool.workers = []*stdioWorker{w}
	pool.mu.Unlock()

	// release popped the waiter and committed the handoff before the waiter
	// timed out; dropWaiter must take the worker and return it to Ready.
	waiter := make(chan *stdioWorker, 1)
	waiter <- w
	pool.dropWaiter(waiter)

	if !w.reserve() {
		t.Fatal("worker left reserved after an abandoned handoff")
	}
}

func TestStdioPool_WorkerReuse(t *testing.T) {
	// The worker loops: each dispatch gets an answer echoing the request id.
	// Request ids are numeric and increment, so extract them with sed.
	script := `while read line; do
  id=$(printf '%s' "$line" | sed 's/.*"id":\([0-9]*\),.*/\1/')
  echo '{"jsonrpc":"2.0","id":'"$id"',"result":` + agentResponseJSON + `}'
done`
	pool := shellPool(t, script, config.StdioAgentTransport{MaxPoolSize: 1}, StdioPoolOptions{DispatchTimeout: 5 * time.Second})

	for i := 0; i < 3; i++ {
		if _, err := pool.Dispatch(context.Background(), testAgentRequest()); err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}

	pool.mu.Lock()
	n := len(pool.workers)
	pool.mu.Unlock()
	if n != 1 {
		t.Errorf("expected the single worker to be reused, pool has %d", n)
	}
}
