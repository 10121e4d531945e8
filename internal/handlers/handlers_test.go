package handlers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/jterm-dev/jterm/internal/config"
	"github.com/jterm-dev/jterm/internal/pty"
	"github.com/jterm-dev/jterm/internal/recording"
	"github.com/jterm-dev/jterm/internal/storage"
	"github.com/jterm-dev/jterm/internal/ws"
)

// testEnv wires real registries against a throwaway sqlite store.
type testEnv struct {
	cfg     *config.Config
	ptys    *pty.Registry
	recs    *recording.Registry
	manager *ws.Manager
	store   *storage.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Terminal.DefaultShell = "/bin/sh"
	cfg.Terminal.StopTimeout = 2 * time.Second
	cfg.Recording.BatchWindow = 50 * time.Millisecond
	cfg.Recording.BatchMaxGap = 30 * time.Millisecond
	cfg.WebSocket.PingInterval = time.Hour
	cfg.WebSocket.PongTimeout = time.Hour

	store, err := storage.Open(context.Background(), cfg.DatabasePath(), cfg.Recording.MaxEvents)
	require.NoError(t, err)

	env := &testEnv{
		cfg:     cfg,
		ptys:    pty.NewRegistry(time.Minute),
		recs:    recording.NewRegistry(cfg.Recording, store),
		manager: ws.NewManager(cfg.WebSocket),
		store:   store,
	}
	t.Cleanup(func() {
		env.manager.Shutdown()
		env.recs.Shutdown()
		env.ptys.Shutdown()
		env.store.Close()
	})
	return env
}

func (e *testEnv) app() *fiber.App {
	app := fiber.New()
	v1 := app.Group("/v1")
	NewSessionsHandler(e.ptys, e.recs, e.manager).RegisterRoutes(v1)
	NewRecordingsHandler(e.recs).RegisterRoutes(v1)
	return app
}

// fakeWSConn satisfies ws.Conn and records everything written to it.
type fakeWSConn struct {
	mu       sync.Mutex
	messages []interface{}
	closed   bool
}

func (f *fakeWSConn) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, v)
	return nil
}

func (f *fakeWSConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWSConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// byType returns every ServerMessage of the given type written so far.
func (f *fakeWSConn) byType(msgType string) []ServerMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ServerMessage
	for _, v := range f.messages {
		if sm, ok := v.(ServerMessage); ok && sm.Type == msgType {
			out = append(out, sm)
		}
	}
	return out
}

func (f *fakeWSConn) waitForType(t *testing.T, msgType string, timeout time.Duration) ServerMessage {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if msgs := f.byType(msgType); len(msgs) > 0 {
			return msgs[0]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no %q message within %v", msgType, timeout)
	return ServerMessage{}
}
