// Package client implements the interactive terminal client used by the
// attach command. It speaks the same websocket protocol the browser does.
package client

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gorilla/websocket"
	"golang.org/x/term"

	"github.com/jterm-dev/jterm/internal/handlers"
	"github.com/jterm-dev/jterm/internal/logger"
	"github.com/jterm-dev/jterm/internal/recovery"
)

// Options configures an attach run.
type Options struct {
	// Endpoint is the websocket URL, e.g. ws://localhost:8437/v1/terminal/ws.
	Endpoint  string
	SessionID string
	Shell     string
	User      string
	Record    bool
}

// Attach connects to a jterm server, creates a session sized to the local
// terminal, and bridges stdin/stdout until the session or connection ends.
func Attach(ctx context.Context, opts Options) error {
	u, err := url.Parse(opts.Endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	if opts.User != "" {
		q := u.Query()
		q.Set("user", opts.User)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.String(), err)
	}
	defer conn.Close()

	a := &attachment{conn: conn, opts: opts}
	return a.run(ctx)
}

type attachment struct {
	conn *websocket.Conn
	opts Options

	writeMu sync.Mutex

	mu        sync.Mutex
	sessionID string
}

func (a *attachment) send(msg handlers.ClientMessage) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.conn.WriteJSON(msg)
}

func (a *attachment) session() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

func (a *attachment) setSession(id string) {
	a.mu.Lock()
	a.sessionID = id
	a.mu.Unlock()
}

func termSize() (cols, rows uint16) {
	cols, rows = 80, 24
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		if w, h, err := term.GetSize(fd); err == nil && w > 0 && h > 0 {
			cols, rows = uint16(w), uint16(h)
		}
	}
	return cols, rows
}

func (a *attachment) run(ctx context.Context) error {
	// First message from the server is the connected handshake.
	var hello handlers.ServerMessage
	if err := a.conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("read handshake: %w", err)
	}
	if hello.Type != "connected" {
		return fmt.Errorf("unexpected handshake message %q", hello.Type)
	}

	cols, rows := termSize()
	if err := a.send(handlers.ClientMessage{
		Type:      "create_session",
		SessionID: a.opts.SessionID,
		Cols:      cols,
		Rows:      rows,
		Shell:     a.opts.Shell,
	}); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		defer term.Restore(fd, oldState) //nolint:errcheck
	}

	done := make(chan error, 1)

	recovery.SafeGo("attach-stdin", func() {
		buf := make([]byte, 1024)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				sessionID := a.session()
				if sessionID == "" {
					continue
				}
				if err := a.send(handlers.ClientMessage{
					Type:      "input",
					SessionID: sessionID,
					Data:      string(buf[:n]),
				}); err != nil {
					done <- err
					return
				}
			}
			if err != nil {
				done <- nil
				return
			}
		}
	})

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	recovery.SafeGo("attach-winch", func() {
		for range winch {
			sessionID := a.session()
			if sessionID == "" {
				continue
			}
			cols, rows := termSize()
			_ = a.send(handlers.ClientMessage{
				Type:      "resize",
				SessionID: sessionID,
				Cols:      cols,
				Rows:      rows,
			})
		}
	})

	recovery.SafeGo("attach-read", func() {
		done <- a.readLoop()
	})

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *attachment) readLoop() error {
	for {
		var msg handlers.ServerMessage
		if err := a.conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)
		}

		switch msg.Type {
		case "session_created":
			a.setSession(msg.SessionID)
			if a.opts.Record {
				_ = a.send(handlers.ClientMessage{Type: "start_recording", SessionID: msg.SessionID})
			}
		case "output":
			os.Stdout.WriteString(msg.Data)
		case "ping":
			_ = a.send(handlers.ClientMessage{Type: "pong"})
		case "recording_started":
			logger.Debugf("recording %s started", msg.Metadata["recordingId"])
		case "session_closed":
			return nil
		case "error":
			return fmt.Errorf("server error: %s", msg.Data)
		}
	}
}
