package protocol

import (
	"encoding/json"
	"time"
)

// Message types exchanged over the relay
const (
	// Client-originated
	MessageTypeBrowserConnect = "browser_connect"
	MessageTypeDesktopConnect = "desktop_connect"
	MessageTypeEditRequest    = "edit_request"
	MessageTypeCodeUpdate     = "code_update"
	MessageTypeInfo           = "info"
	MessageTypePing           = "ping"
	MessageTypeGetStatus      = "get_status"
	MessageTypeStatusConnect  = "status_connect"

	// Server-originated
	MessageTypeConnectionInit = "connection_init"
	MessageTypeConnectionAck  = "connection_ack"
	MessageTypePong           = "pong"
	MessageTypeStatus         = "status"
	MessageTypeStatusUpdate   = "status_update"
	MessageTypeError          = "error"
)

// Limits enforced by the validator
const (
	// MaxUserIDLength bounds the caller-supplied user identity string.
	MaxUserIDLength = 255

	// MaxCodeSize bounds any code payload. A peer that sends one oversized
	// frame is likely to send more, so the connection is dropped as well.
	MaxCodeSize = 10 << 20
)

// CodePayload is the payload of edit_request and code_update frames
type CodePayload struct {
	SnippetID string `json:"snippetId,omitempty"`
	Code      string `json:"code"`
	FileType  string `json:"fileType,omitempty"`
}

// Message is the wire envelope for every frame. Unrecognized fields in
// inbound frames are ignored for forward compatibility; omitempty keeps
// outbound frames minimal.
type Message struct {
	Type         string                 `json:"type"`
	ConnectionID string                 `json:"connectionId,omitempty"`
	UserID       string                 `json:"userId,omitempty"`
	SessionID    string                 `json:"sessionId,omitempty"`
	SnippetID    string                 `json:"snippetId,omitempty"`
	Status       string                 `json:"status,omitempty"`
	Role         string                 `json:"role,omitempty"`
	Message      string                 `json:"message,omitempty"`
	Payload      json.RawMessage        `json:"payload,omitempty"`
	Data         map[string]interface{} `json:"data,omitempty"`
	Timestamp    int64                  `json:"timestamp,omitempty"`
}

func now() int64 {
	return time.Now().UnixMilli()
}

// NewConnectionInit builds the handshake frame carrying the server-assigned
// connection identity. The client must treat this value as authoritative.
func NewConnectionInit(connectionID string) *Message {
	return &Message{
		Type:         MessageTypeConnectionInit,
		ConnectionID: connectionID,
		Timestamp:    now(),
	}
}

// NewConnectionAck acknowledges a role declaration
func NewConnectionAck(connectionID, role string) *Message {
	return &Message{
		Type:         MessageTypeConnectionAck,
		ConnectionID: connectionID,
		Status:       "connected",
		Role:         role,
		Timestamp:    now(),
	}
}

// NewPong echoes a ping payload with a server timestamp
func NewPong(payload json.RawMessage) *Message {
	return &Message{
		Type:      MessageTypePong,
		Payload:   payload,
		Timestamp: now(),
	}
}

// NewError builds an error frame
func NewError(message string) *Message {
	return &Message{
		Type:      MessageTypeError,
		Message:   message,
		Timestamp: now(),
	}
}

// NewStatusUpdate notifies a browser that its user's desktop availability
// changed. Status is "desktop_connected" or "desktop_disconnected".
func NewStatusUpdate(status string) *Message {
	return &Message{
		Type:      MessageTypeStatusUpdate,
		Status:    status,
		Timestamp: now(),
	}
}

// NewStatus builds a status snapshot frame
func NewStatus(data map[string]interface{}) *Message {
	return &Message{
		Type:      MessageTypeStatus,
		Data:      data,
		Timestamp: now(),
	}
}

// NewEditRequestForward builds the edit_request frame delivered to a desktop
// connection when a browser opens an edit session.
func NewEditRequestForward(sessionID, userID string, payload CodePayload) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      MessageTypeEditRequest,
		SessionID: sessionID,
		UserID:    userID,
		SnippetID: payload.SnippetID,
		Payload:   raw,
		Timestamp: now(),
	}, nil
}

// NewCodeUpdateForward builds the code_update frame delivered to the bound
// browser connection when the desktop agent reports a file change.
func NewCodeUpdateForward(sessionID, snippetID, code string) (*Message, error) {
	raw, err := json.Marshal(CodePayload{SnippetID: snippetID, Code: code})
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      MessageTypeCodeUpdate,
		SessionID: sessionID,
		SnippetID: snippetID,
		Payload:   raw,
		Timestamp: now(),
	}, nil
}
