package handlers

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/jterm-dev/jterm/internal/config"
	"github.com/jterm-dev/jterm/internal/logger"
	"github.com/jterm-dev/jterm/internal/models"
	"github.com/jterm-dev/jterm/internal/pty"
	"github.com/jterm-dev/jterm/internal/recording"
	"github.com/jterm-dev/jterm/internal/termutil"
	"github.com/jterm-dev/jterm/internal/ws"

	"github.com/google/uuid"
)

// TerminalHandler owns the terminal websocket endpoint. Each connection can
// create sessions, stream I/O, and control recording; sessions a connection
// created are torn down when it goes away.
type TerminalHandler struct {
	cfg     *config.Config
	ptys    *pty.Registry
	recs    *recording.Registry
	manager *ws.Manager
}

// NewTerminalHandler creates a terminal websocket handler.
func NewTerminalHandler(cfg *config.Config, ptys *pty.Registry, recs *recording.Registry, manager *ws.Manager) *TerminalHandler {
	return &TerminalHandler{cfg: cfg, ptys: ptys, recs: recs, manager: manager}
}

// RegisterRoutes registers the terminal websocket route.
func (h *TerminalHandler) RegisterRoutes(v1 fiber.Router) {
	v1.Get("/terminal/ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades the request to a terminal websocket connection
// @Summary Terminal WebSocket connection
// @Description Establishes the websocket used for session control, I/O streaming, and recording control
// @Tags terminal
// @Param user query string false "User ID for connection tracking"
// @Success 101 {string} string "Switching Protocols"
// @Router /v1/terminal/ws [get]
func (h *TerminalHandler) HandleWebSocket(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		userID := c.Query("user", "")
		return websocket.New(func(conn *websocket.Conn) {
			h.handleConnection(conn, userID)
		})(c)
	}
	return fiber.ErrUpgradeRequired
}

// ownedSession tracks per-session wiring created by one connection: the
// output callback handle and the UTF-8 decoder carrying partial multibyte
// sequences across chunk boundaries.
type ownedSession struct {
	decoder *termutil.Decoder
	cbID    int
}

func (h *TerminalHandler) handleConnection(conn *websocket.Conn, userID string) {
	connID := h.manager.Register(conn, userID)
	owned := make(map[string]*ownedSession)

	defer h.cleanupConnection(connID, owned)

	hello := newServerMessage(msgConnected, "", connID)
	if err := h.manager.Send(connID, hello); err != nil {
		return
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			logger.Debugf("ws connection %s read ended: %v", connID, err)
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			_ = h.manager.Send(connID, errorMessage("", "malformed message"))
			continue
		}
		h.dispatch(connID, userID, &msg, owned)
	}
}

// cleanupConnection is the disconnect path. Every step is attempted: stop
// recordings, force-destroy owned PTYs, deregister the connection.
func (h *TerminalHandler) cleanupConnection(connID string, owned map[string]*ownedSession) {
	for sessionID := range owned {
		if _, err := h.recs.Stop(sessionID); err != nil {
			logger.Warnf("disconnect cleanup: stop recording for %s: %v", sessionID, err)
		}
		if err := h.ptys.Destroy(sessionID, true); err != nil {
			logger.Warnf("disconnect cleanup: destroy session %s: %v", sessionID, err)
		}
	}
	h.manager.Disconnect(connID)
}

func (h *TerminalHandler) dispatch(connID, userID string, msg *ClientMessage, owned map[string]*ownedSession) {
	switch msg.Type {
	case cmdCreateSession:
		h.createSession(connID, msg, owned)
	case cmdInput:
		h.input(connID, msg)
	case cmdResize:
		h.resize(connID, msg)
	case cmdCloseSession:
		h.closeSession(connID, msg, owned)
	case cmdStartRecording:
		h.startRecording(connID, userID, msg)
	case cmdStopRecording:
		h.stopRecording(connID, msg)
	case cmdPing:
		_ = h.manager.Send(connID, newServerMessage(msgPong, msg.SessionID, ""))
	case cmdPong:
		h.manager.Pong(connID)
	default:
		_ = h.manager.Send(connID, errorMessage(msg.SessionID, fmt.Sprintf("unknown command %q", msg.Type)))
	}
}

func (h *TerminalHandler) sendError(connID, sessionID string, err error) {
	_ = h.manager.Send(connID, errorMessage(sessionID, err.Error()))
}

func (h *TerminalHandler) createSession(connID string, msg *ClientMessage, owned map[string]*ownedSession) {
	sessionID := msg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	size := models.TerminalSize{Cols: msg.Cols, Rows: msg.Rows}
	if size.Cols == 0 {
		size.Cols = h.cfg.Terminal.DefaultCols
	}
	if size.Rows == 0 {
		size.Rows = h.cfg.Terminal.DefaultRows
	}
	shell := msg.Shell
	if shell == "" {
		shell = h.cfg.Terminal.DefaultShell
	}

	inst, err := h.ptys.Create(sessionID, pty.Config{
		Shell:       shell,
		Size:        size,
		WorkDir:     msg.WorkDir,
		StopTimeout: h.cfg.Terminal.StopTimeout,
		ReadBufSize: h.cfg.Terminal.ReadBufSize,
	})
	if err != nil {
		h.sendError(connID, sessionID, err)
		return
	}

	decoder := termutil.NewDecoder()
	cbID := inst.RegisterOutputCallback(func(chunk []byte) {
		text := decoder.Write(chunk)
		if text == "" {
			return
		}
		h.recs.RecordOutput(sessionID, text)
		out := newServerMessage(msgOutput, sessionID, text)
		h.manager.SendToSession(sessionID, out)
		// The creating connection keeps receiving this session's output
		// even after it binds to a newer session.
		if bound, ok := h.manager.SessionFor(connID); !ok || bound != sessionID {
			_ = h.manager.Send(connID, out)
		}
	})
	owned[sessionID] = &ownedSession{decoder: decoder, cbID: cbID}

	if err := h.manager.BindSession(connID, sessionID); err != nil {
		logger.Warnf("bind session %s to connection %s: %v", sessionID, connID, err)
	}

	created := newServerMessage(msgSessionCreated, sessionID, "")
	created.Metadata = map[string]string{
		"cols":  strconv.Itoa(int(size.Cols)),
		"rows":  strconv.Itoa(int(size.Rows)),
		"shell": shell,
		"pid":   strconv.Itoa(inst.PID()),
	}
	if err := h.manager.Send(connID, created); err != nil {
		return
	}
	_ = h.manager.Send(connID, newServerMessage(msgOutput, sessionID, welcomeBanner))
}

func (h *TerminalHandler) input(connID string, msg *ClientMessage) {
	if msg.SessionID == "" {
		h.sendError(connID, "", errors.New("input requires a sessionId"))
		return
	}
	if err := h.ptys.Write(msg.SessionID, msg.Data); err != nil {
		h.sendError(connID, msg.SessionID, err)
		return
	}
	h.recs.RecordInput(msg.SessionID, msg.Data)
}

func (h *TerminalHandler) resize(connID string, msg *ClientMessage) {
	size := models.TerminalSize{Cols: msg.Cols, Rows: msg.Rows}
	if err := h.ptys.Resize(msg.SessionID, size); err != nil {
		h.sendError(connID, msg.SessionID, err)
		return
	}
	h.recs.RecordResize(msg.SessionID, size)

	ack := newServerMessage(msgResizeAck, msg.SessionID, "")
	ack.Metadata = map[string]string{
		"cols": strconv.Itoa(int(size.Cols)),
		"rows": strconv.Itoa(int(size.Rows)),
	}
	_ = h.manager.Send(connID, ack)
}

func (h *TerminalHandler) closeSession(connID string, msg *ClientMessage, owned map[string]*ownedSession) {
	sessionID := msg.SessionID
	if _, err := h.recs.Stop(sessionID); err != nil {
		logger.Warnf("close session %s: stop recording: %v", sessionID, err)
	}
	if err := h.ptys.Destroy(sessionID, false); err != nil {
		h.sendError(connID, sessionID, err)
		return
	}
	delete(owned, sessionID)
	_ = h.manager.BindSession(connID, "")
	_ = h.manager.Send(connID, newServerMessage(msgSessionClosed, sessionID, ""))
}

func (h *TerminalHandler) startRecording(connID, userID string, msg *ClientMessage) {
	inst, err := h.ptys.Get(msg.SessionID)
	if err != nil {
		h.sendError(connID, msg.SessionID, err)
		return
	}

	rec, err := h.recs.Start(msg.SessionID, userID, inst.Size())
	if err != nil {
		h.sendError(connID, msg.SessionID, err)
		return
	}

	started := newServerMessage(msgRecordingStarted, msg.SessionID, "")
	started.Metadata = map[string]string{"recordingId": rec.RecordingID()}
	_ = h.manager.Send(connID, started)
}

func (h *TerminalHandler) stopRecording(connID string, msg *ClientMessage) {
	meta, err := h.recs.Stop(msg.SessionID)
	if err != nil {
		h.sendError(connID, msg.SessionID, err)
		return
	}
	if meta == nil {
		h.sendError(connID, msg.SessionID, fmt.Errorf("%w: no active recording for session %s", models.ErrNotFound, msg.SessionID))
		return
	}

	stopped := newServerMessage(msgRecordingStopped, msg.SessionID, "")
	stopped.Metadata = map[string]string{
		"recordingId": meta.RecordingID,
		"eventCount":  strconv.Itoa(meta.EventCount),
		"durationMs":  strconv.FormatInt(meta.Duration, 10),
	}
	_ = h.manager.Send(connID, stopped)
}
