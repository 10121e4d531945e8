// Package handlers exposes the terminal websocket endpoint and the REST
// surface for sessions and recordings.
package handlers

import (
	"time"
)

// Client commands accepted on the terminal websocket.
const (
	cmdCreateSession  = "create_session"
	cmdInput          = "input"
	cmdResize         = "resize"
	cmdCloseSession   = "close_session"
	cmdStartRecording = "start_recording"
	cmdStopRecording  = "stop_recording"
	cmdPing           = "ping"
	cmdPong           = "pong"
)

// Server message types sent on the terminal websocket.
const (
	msgConnected         = "connected"
	msgSessionCreated    = "session_created"
	msgOutput            = "output"
	msgResizeAck         = "resize_ack"
	msgSessionClosed     = "session_closed"
	msgRecordingStarted  = "recording_started"
	msgRecordingStopped  = "recording_stopped"
	msgError             = "error"
	msgPong              = "pong"
)

// ClientMessage is the envelope read from the websocket. Fields beyond Type
// are command-specific; unused ones stay zero.
type ClientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      string `json:"data,omitempty"`
	Cols      uint16 `json:"cols,omitempty"`
	Rows      uint16 `json:"rows,omitempty"`
	Shell     string `json:"shell,omitempty"`
	WorkDir   string `json:"workDir,omitempty"`
}

// ServerMessage is the envelope written to the websocket.
type ServerMessage struct {
	Type      string            `json:"type"`
	SessionID string            `json:"sessionId,omitempty"`
	Data      string            `json:"data,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func newServerMessage(msgType, sessionID, data string) ServerMessage {
	return ServerMessage{
		Type:      msgType,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func errorMessage(sessionID, detail string) ServerMessage {
	return newServerMessage(msgError, sessionID, detail)
}

// welcomeBanner is written as the first output of a new session.
const welcomeBanner = "\x1b[1;32mjterm\x1b[0m \x1b[90m·\x1b[0m terminal session ready\r\n"
