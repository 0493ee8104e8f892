// Package socket implements the per-session WebSocket protocol: the JSON
// control messages, authentication, heartbeat liveness, the send pump that
// serializes outbound writes, and the state machine driving audio into a
// chunk processor.
package socket

import "github.com/MrWong99/vocoserve/internal/asr"

// Inbound message types.
const (
	TypeWelcome  = "welcome"
	TypeAudioEnd = "audioend"
	TypePong     = "pong"
)

// ClientMessage is the shape of every inbound JSON frame.
type ClientMessage struct {
	Type        string         `json:"type"`
	MsgID       int            `json:"msg_id"`
	Data        map[string]any `json:"data,omitempty"`
	ClientID    string         `json:"client_id,omitempty"`
	AccessToken string         `json:"access_token,omitempty"`
}

// Error is a wire-level protocol error sent to the client as
// {code, name, message}.
type Error struct {
	Code    int    `json:"code"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

// The protocol error vocabulary.
var (
	ErrInvalidMessage = Error{Code: 400, Name: "InvalidMessage", Message: "message malformed or not allowed"}
	ErrProcessError   = Error{Code: 400, Name: "ProcessError", Message: "processor is not accepting audio"}
	ErrUnauthorized   = Error{Code: 401, Name: "Unauthorized", Message: "not authorized"}
	ErrTimeout        = Error{Code: 408, Name: "TimeoutMessage", Message: "session timed out"}
	ErrNotPossible    = Error{Code: 418, Name: "NotPossible", Message: "not possible in this state"}
)

func asrEngineError(message string) Error {
	return Error{Code: 500, Name: "AsrEngineError", Message: message}
}

func chunkProcessorError(message string) Error {
	return Error{Code: 500, Name: "ChunkProcessorError", Message: message}
}

// ServerInfo describes the server's capabilities, reported in the welcome
// response and on GET /settings.
type ServerInfo struct {
	Version   string   `json:"version"`
	Engine    string   `json:"engine"`
	Models    []string `json:"models"`
	Languages []string `json:"languages"`
	Features  []string `json:"features"`
}

// welcomeInfo is ServerInfo plus the session's resolved engine options.
type welcomeInfo struct {
	ServerInfo
	Options map[string]any `json:"options"`
}

type welcomeMessage struct {
	Type  string      `json:"type"`
	MsgID int         `json:"msg_id"`
	Code  int         `json:"code"`
	Info  welcomeInfo `json:"info"`
}

// responseMessage acknowledges an inbound request, echoing its msg_id.
type responseMessage struct {
	Type  string `json:"type"`
	MsgID int    `json:"msg_id"`
	Code  int    `json:"code"`
	Name  string `json:"name"`
}

type resultMessage struct {
	Type         string            `json:"type"`
	MsgID        int               `json:"msg_id"`
	Code         int               `json:"code"`
	Transcript   string            `json:"transcript"`
	IsFinal      bool              `json:"isFinal"`
	Confidence   float64           `json:"confidence"`
	Duration     float64           `json:"duration,omitempty"`
	Features     map[string]any    `json:"features,omitempty"`
	Alternatives []asr.Alternative `json:"alternatives,omitempty"`
}

type pingMessage struct {
	Type  string `json:"type"`
	MsgID int    `json:"msg_id"`
	Code  int    `json:"code"`
}

type errorMessage struct {
	Type    string `json:"type"`
	MsgID   int    `json:"msg_id"`
	Code    int    `json:"code"`
	Name    string `json:"name"`
	Message string `json:"message"`
}
