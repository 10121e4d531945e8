package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/jterm-dev/jterm/internal/models"
	"github.com/jterm-dev/jterm/internal/pty"
	"github.com/jterm-dev/jterm/internal/recording"
	"github.com/jterm-dev/jterm/internal/ws"
)

// SessionsHandler exposes the REST surface for live terminal sessions and
// connection statistics.
type SessionsHandler struct {
	ptys    *pty.Registry
	recs    *recording.Registry
	manager *ws.Manager
}

// NewSessionsHandler creates a sessions REST handler.
func NewSessionsHandler(ptys *pty.Registry, recs *recording.Registry, manager *ws.Manager) *SessionsHandler {
	return &SessionsHandler{ptys: ptys, recs: recs, manager: manager}
}

// RegisterRoutes registers session and connection routes.
func (h *SessionsHandler) RegisterRoutes(v1 fiber.Router) {
	v1.Get("/terminal/sessions", h.ListSessions)
	v1.Get("/terminal/sessions/stats", h.AggregateStats)
	v1.Get("/terminal/sessions/:id/stats", h.SessionStats)
	v1.Delete("/terminal/sessions/:id", h.DestroySession)
	v1.Get("/ws/stats", h.ConnectionStats)
}

// httpError maps sentinel error kinds to status codes.
func httpError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, models.ErrAlreadyExists), errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrActive):
		status = fiber.StatusConflict
	case errors.Is(err, models.ErrInvalidConfig):
		status = fiber.StatusBadRequest
	case errors.Is(err, models.ErrTerminated):
		status = fiber.StatusGone
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// ListSessions lists live sessions
// @Summary List live terminal sessions
// @Description Returns per-session stats for every live PTY
// @Tags sessions
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /v1/terminal/sessions [get]
func (h *SessionsHandler) ListSessions(c *fiber.Ctx) error {
	stats := h.ptys.AllStats()
	return c.JSON(fiber.Map{
		"count":    len(stats),
		"sessions": stats,
	})
}

// AggregateStats returns totals across all sessions
// @Summary Aggregate terminal statistics
// @Tags sessions
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /v1/terminal/sessions/stats [get]
func (h *SessionsHandler) AggregateStats(c *fiber.Ctx) error {
	all := h.ptys.AllStats()

	var bytesRead, bytesWritten, readOps, writeOps, errCount int64
	alive := 0
	for _, s := range all {
		bytesRead += s.BytesRead
		bytesWritten += s.BytesWritten
		readOps += s.ReadOperations
		writeOps += s.WriteOperations
		errCount += s.Errors
		if s.IsAlive {
			alive++
		}
	}

	return c.JSON(fiber.Map{
		"sessions":         len(all),
		"aliveSessions":    alive,
		"activeRecordings": h.recs.ActiveCount(),
		"bytesRead":        bytesRead,
		"bytesWritten":     bytesWritten,
		"readOperations":   readOps,
		"writeOperations":  writeOps,
		"errors":           errCount,
	})
}

// SessionStats returns one session's stats
// @Summary Terminal session statistics
// @Tags sessions
// @Param id path string true "Session ID"
// @Produce json
// @Success 200 {object} pty.Stats
// @Failure 404 {object} map[string]string
// @Router /v1/terminal/sessions/{id}/stats [get]
func (h *SessionsHandler) SessionStats(c *fiber.Ctx) error {
	inst, err := h.ptys.Get(c.Params("id"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(inst.GetStats())
}

// DestroySession force-destroys a session
// @Summary Destroy a terminal session
// @Description Stops any active recording and force-destroys the PTY
// @Tags sessions
// @Param id path string true "Session ID"
// @Success 204
// @Router /v1/terminal/sessions/{id} [delete]
func (h *SessionsHandler) DestroySession(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	if _, err := h.ptys.Get(sessionID); err != nil {
		return httpError(c, err)
	}
	if _, err := h.recs.Stop(sessionID); err != nil {
		return httpError(c, err)
	}
	if err := h.ptys.Destroy(sessionID, true); err != nil {
		return httpError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ConnectionStats returns websocket connection statistics
// @Summary WebSocket connection statistics
// @Tags connections
// @Produce json
// @Success 200 {object} ws.Stats
// @Router /v1/ws/stats [get]
func (h *SessionsHandler) ConnectionStats(c *fiber.Ctx) error {
	return c.JSON(h.manager.GetStats())
}
