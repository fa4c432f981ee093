package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Bojackxiang/n8n-demo/pkg/eventbus"
	"github.com/Bojackxiang/n8n-demo/pkg/models"
	"github.com/Bojackxiang/n8n-demo/pkg/persistence"
	"github.com/Bojackxiang/n8n-demo/pkg/persistence/file"
	"github.com/Bojackxiang/n8n-demo/pkg/protocol"
	"github.com/Bojackxiang/n8n-demo/pkg/registry"
	"github.com/stretchr/testify/require"
)

var testBackoff = BackoffPolicy{Initial: time.Millisecond, Multiplier: 2, Max: 5 * time.Millisecond}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func stubClient(fn roundTripFunc) *http.Client {
	return &http.Client{Transport: fn}
}

func okResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// scripted replaces the ACTION executor with per-node behaviour.
type scripted struct {
	mu      sync.Mutex
	calls   []string
	running atomic.Int32
	peak    atomic.Int32
	steps   map[string]func(ctx context.Context, execCtx *models.ExecutionContext) (models.Outputs, error)
}

func newScripted() *scripted {
	return &scripted{steps: make(map[string]func(context.Context, *models.ExecutionContext) (models.Outputs, error))}
}

func (s *scripted) on(nodeID string, fn func(ctx context.Context, execCtx *models.ExecutionContext) (models.Outputs, error)) *scripted {
	s.steps[nodeID] = fn

	return s
}

func (s *scripted) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.calls))
	copy(out, s.calls)

	return out
}

func (s *scripted) Type() models.NodeType               { return models.NodeTypeAction }
func (s *scripted) Name() string                        { return "Scripted" }
func (s *scripted) Description() string                 { return "test executor" }
func (s *scripted) Schema() map[string]any              { return nil }
func (s *scripted) ValidateConfig(map[string]any) error { return nil }

func (s *scripted) Ports() protocol.PortSpec {
	return protocol.PortSpec{Inputs: []string{models.DefaultPort}, Outputs: []string{models.DefaultPort}}
}

func (s *scripted) Execute(ctx context.Context, execCtx *models.ExecutionContext, _ map[string]any) (models.Outputs, error) {
	s.mu.Lock()
	s.calls = append(s.calls, execCtx.InstanceID)
	fn := s.steps[execCtx.NodeID]
	s.mu.Unlock()

	n := s.running.Add(1)
	defer s.running.Add(-1)

	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	if fn != nil {
		return fn(ctx, execCtx)
	}

	data := models.CloneMap(execCtx.Main())
	if data == nil {
		data = map[string]any{}
	}

	data[execCtx.NodeID] = execCtx.Iteration

	return models.Outputs{models.DefaultPort: data}, nil
}

func always(err error) func(context.Context, *models.ExecutionContext) (models.Outputs, error) {
	return func(context.Context, *models.ExecutionContext) (models.Outputs, error) {
		return nil, err
	}
}

type harness struct {
	engine   *Engine
	store    persistence.RunRepository
	registry *registry.Registry
	script   *scripted
}

func newHarness(t *testing.T, client *http.Client, opts ...Option) *harness {
	t.Helper()

	return newHarnessWithStore(t, file.NewPersistence(t.TempDir()).Runs(), client, opts...)
}

// newHarnessAt opens a file store under root so several engines can share a log.
func newHarnessAt(t *testing.T, root string, opts ...Option) *harness {
	t.Helper()

	return newHarnessWithStore(t, file.NewPersistence(root).Runs(), nil, opts...)
}

func newHarnessWithStore(t *testing.T, store persistence.RunRepository, client *http.Client, opts ...Option) *harness {
	t.Helper()

	if client == nil {
		client = stubClient(func(*http.Request) (*http.Response, error) {
			return okResponse(`{}`), nil
		})
	}

	reg := registry.NewDefault(quietLogger(), registry.Options{HTTPClient: client})
	script := newScripted()
	reg.MustRegister(script)

	base := []Option{WithLogger(quietLogger()), WithBackoff(testBackoff)}
	e := New(store, reg, append(base, opts...)...)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = e.Shutdown(ctx)
	})

	return &harness{engine: e, store: store, registry: reg, script: script}
}

func (h *harness) launch(t *testing.T, wf *models.Workflow, req LaunchRequest) *models.Run {
	t.Helper()

	run, err := h.engine.Launch(context.Background(), wf, req)
	require.NoError(t, err)

	return run
}

func (h *harness) wait(t *testing.T, runID string) *models.Run {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run, err := h.engine.Wait(ctx, runID)
	require.NoError(t, err)

	return run
}

func (h *harness) records(t *testing.T, runID string) map[string]*models.NodeExecutionRecord {
	t.Helper()

	list, err := h.store.ListNodeInstances(context.Background(), runID)
	require.NoError(t, err)

	out := make(map[string]*models.NodeExecutionRecord, len(list))
	for _, rec := range list {
		out[rec.InstanceID] = rec
	}

	return out
}

func (h *harness) everRunning(t *testing.T, runID string) map[string]bool {
	t.Helper()

	evs, err := h.store.Events(context.Background(), runID)
	require.NoError(t, err)

	out := make(map[string]bool)
	for _, ev := range evs {
		if ev.Type == models.NodeEventRunning {
			out[ev.Node.InstanceID] = true
		}
	}

	return out
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *recordingPublisher) Events() []eventbus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]eventbus.Event(nil), p.events...)
}

var errStoreDown = errors.New("disk full")

// failingStore fails every append after the first allowed ones.
type failingStore struct {
	persistence.RunRepository

	allowed atomic.Int32
}

func (s *failingStore) AppendEvents(ctx context.Context, runID string, events ...*models.RunEvent) error {
	if s.allowed.Add(-1) < 0 {
		return errStoreDown
	}

	return s.RunRepository.AppendEvents(ctx, runID, events...)
}
