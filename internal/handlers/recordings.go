package handlers

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jterm-dev/jterm/internal/models"
	"github.com/jterm-dev/jterm/internal/recording"
)

// RecordingsHandler exposes the REST surface for stored recordings: listing,
// event retrieval, export, processing, checkpoints, and deletion.
type RecordingsHandler struct {
	recs *recording.Registry
}

// NewRecordingsHandler creates a recordings REST handler.
func NewRecordingsHandler(recs *recording.Registry) *RecordingsHandler {
	return &RecordingsHandler{recs: recs}
}

// RegisterRoutes registers recording routes.
func (h *RecordingsHandler) RegisterRoutes(v1 fiber.Router) {
	v1.Get("/recordings", h.ListRecordings)
	v1.Get("/recordings/:id", h.GetRecording)
	v1.Get("/recordings/:id/events", h.GetEvents)
	v1.Get("/recordings/:id/export", h.ExportRecording)
	v1.Get("/recordings/:id/checkpoints", h.ListCheckpoints)
	v1.Post("/recordings/:id/process", h.ProcessRecording)
	v1.Delete("/recordings/:id", h.DeleteRecording)
	v1.Post("/terminal/sessions/:id/checkpoint", h.AddCheckpoint)
	v1.Post("/terminal/sessions/:id/command", h.RecordCommand)
}

// ListRecordings lists stored recordings
// @Summary List recordings
// @Description Lists stored recordings, optionally scoped to one session
// @Tags recordings
// @Param session query string false "Session ID filter"
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /v1/recordings [get]
func (h *RecordingsHandler) ListRecordings(c *fiber.Ctx) error {
	recs, err := h.recs.List(c.Query("session", ""))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(fiber.Map{
		"count":      len(recs),
		"recordings": recs,
	})
}

// GetRecording returns one recording's metadata
// @Summary Get a recording
// @Tags recordings
// @Param id path string true "Recording ID"
// @Produce json
// @Success 200 {object} models.Recording
// @Failure 404 {object} map[string]string
// @Router /v1/recordings/{id} [get]
func (h *RecordingsHandler) GetRecording(c *fiber.Ctx) error {
	rec, err := h.recs.Get(c.Params("id"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(rec)
}

// GetEvents returns a recording's event log
// @Summary Get recording events
// @Description Returns decompressed events with optional type, time range, and pagination filters
// @Tags recordings
// @Param id path string true "Recording ID"
// @Param type query string false "Event type filter"
// @Param since query string false "RFC3339 lower bound"
// @Param until query string false "RFC3339 upper bound"
// @Param offset query int false "Events to skip"
// @Param limit query int false "Max events returned"
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /v1/recordings/{id}/events [get]
func (h *RecordingsHandler) GetEvents(c *fiber.Ctx) error {
	filter := recording.EventFilter{
		Offset: c.QueryInt("offset", 0),
		Limit:  c.QueryInt("limit", 0),
	}
	if typ := c.Query("type", ""); typ != "" {
		filter.Types = []models.EventType{models.EventType(typ)}
	}
	if since := c.Query("since", ""); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return httpError(c, fmt.Errorf("%w: bad since: %v", models.ErrInvalidConfig, err))
		}
		filter.Since = t
	}
	if until := c.Query("until", ""); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return httpError(c, fmt.Errorf("%w: bad until: %v", models.ErrInvalidConfig, err))
		}
		filter.Until = t
	}

	events, err := h.recs.GetEvents(c.Params("id"), filter)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(fiber.Map{
		"count":  len(events),
		"events": events,
	})
}

// ExportRecording downloads a recording in a playback format
// @Summary Export a recording
// @Description Renders the recording as json, asciicast, html player, or plain text
// @Tags recordings
// @Param id path string true "Recording ID"
// @Param format query string false "json | asciicast | html | text"
// @Produce octet-stream
// @Success 200 {string} string
// @Router /v1/recordings/{id}/export [get]
func (h *RecordingsHandler) ExportRecording(c *fiber.Ctx) error {
	format, err := recording.ParseFormat(c.Query("format", "json"))
	if err != nil {
		return httpError(c, err)
	}

	data, rec, err := h.recs.Export(c.Params("id"), format)
	if err != nil {
		return httpError(c, err)
	}

	c.Set(fiber.HeaderContentType, format.ContentType())
	c.Set(fiber.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="recording-%s%s"`, rec.RecordingID, format.Extension()))
	return c.Send(data)
}

// ListCheckpoints returns a recording's checkpoints
// @Summary List recording checkpoints
// @Tags recordings
// @Param id path string true "Recording ID"
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /v1/recordings/{id}/checkpoints [get]
func (h *RecordingsHandler) ListCheckpoints(c *fiber.Ctx) error {
	cps, err := h.recs.Checkpoints(c.Params("id"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(fiber.Map{
		"count":       len(cps),
		"checkpoints": cps,
	})
}

// ProcessRecording finalizes a stopped recording
// @Summary Process a recording
// @Description Verifies the stored event log and marks the recording ready for playback
// @Tags recordings
// @Param id path string true "Recording ID"
// @Produce json
// @Success 200 {object} models.Recording
// @Failure 409 {object} map[string]string
// @Router /v1/recordings/{id}/process [post]
func (h *RecordingsHandler) ProcessRecording(c *fiber.Ctx) error {
	rec, err := h.recs.Process(c.Params("id"))
	if err != nil {
		if rec != nil {
			// Verification failed; report the failed state with the error.
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error":     err.Error(),
				"recording": rec,
			})
		}
		return httpError(c, err)
	}
	return c.JSON(rec)
}

// DeleteRecording removes a stored recording
// @Summary Delete a recording
// @Tags recordings
// @Param id path string true "Recording ID"
// @Success 204
// @Failure 409 {object} map[string]string
// @Router /v1/recordings/{id} [delete]
func (h *RecordingsHandler) DeleteRecording(c *fiber.Ctx) error {
	if err := h.recs.Delete(c.Params("id")); err != nil {
		return httpError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type checkpointRequest struct {
	Description string `json:"description"`
}

// AddCheckpoint adds a manual checkpoint to a session's active recording
// @Summary Add a checkpoint
// @Tags recordings
// @Param id path string true "Session ID"
// @Accept json
// @Success 204
// @Failure 404 {object} map[string]string
// @Router /v1/terminal/sessions/{id}/checkpoint [post]
func (h *RecordingsHandler) AddCheckpoint(c *fiber.Ctx) error {
	rec, ok := h.recs.Active(c.Params("id"))
	if !ok {
		return httpError(c, fmt.Errorf("%w: no active recording for session %s", models.ErrNotFound, c.Params("id")))
	}

	var req checkpointRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return httpError(c, fmt.Errorf("%w: %v", models.ErrInvalidConfig, err))
		}
	}
	if err := rec.Checkpoint(req.Description); err != nil {
		return httpError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type commandRequest struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exitCode"`
}

// RecordCommand annotates a session's active recording with a command boundary
// @Summary Record a command boundary
// @Tags recordings
// @Param id path string true "Session ID"
// @Accept json
// @Success 204
// @Router /v1/terminal/sessions/{id}/command [post]
func (h *RecordingsHandler) RecordCommand(c *fiber.Ctx) error {
	var req commandRequest
	if err := c.BodyParser(&req); err != nil {
		return httpError(c, fmt.Errorf("%w: %v", models.ErrInvalidConfig, err))
	}
	h.recs.RecordCommand(c.Params("id"), req.Command, req.ExitCode)
	return c.SendStatus(fiber.StatusNoContent)
}
