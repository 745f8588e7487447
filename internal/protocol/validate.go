package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Precondition failures surfaced to peers. The strings are part of the wire
// contract; clients match on them.
var (
	ErrNoDesktop       = errors.New("No desktop connection found")
	ErrSessionNotFound = errors.New("Session not found")
)

// ValidationError describes a rejected inbound frame. Fatal marks frames
// whose sender should be disconnected rather than merely answered.
type ValidationError struct {
	Message string
	Fatal   bool
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// Command is a fully validated inbound frame, one variant per message type.
// A missing field is caught here, never downstream.
type Command interface {
	CommandType() string
}

// BrowserConnect declares the browser role for a user identity
type BrowserConnect struct {
	UserID string
}

// DesktopConnect declares the desktop role for a user identity
type DesktopConnect struct {
	UserID string
}

// EditRequest opens (or overwrites) an edit session
type EditRequest struct {
	UserID    string
	SessionID string
	Payload   CodePayload
}

// CodeUpdate carries new code for an open session
type CodeUpdate struct {
	SessionID string
	Code      string
}

// Info is an advisory message; logged and counted, no reply
type Info struct {
	SessionID string
	SnippetID string
	Message   string
}

// Ping requests a pong echo of its opaque payload
type Ping struct {
	Payload json.RawMessage
}

// GetStatus requests a status snapshot
type GetStatus struct{}

// Hello is a client echo of the connection_init handshake; it has no effect
type Hello struct{}

func (BrowserConnect) CommandType() string { return MessageTypeBrowserConnect }
func (DesktopConnect) CommandType() string { return MessageTypeDesktopConnect }
func (EditRequest) CommandType() string    { return MessageTypeEditRequest }
func (CodeUpdate) CommandType() string     { return MessageTypeCodeUpdate }
func (Info) CommandType() string           { return MessageTypeInfo }
func (Ping) CommandType() string           { return MessageTypePing }
func (GetStatus) CommandType() string      { return MessageTypeGetStatus }
func (Hello) CommandType() string          { return MessageTypeConnectionInit }

var knownTypes = map[string]bool{
	MessageTypeBrowserConnect: true,
	MessageTypeDesktopConnect: true,
	MessageTypeEditRequest:    true,
	MessageTypeCodeUpdate:     true,
	MessageTypeInfo:           true,
	MessageTypePing:           true,
	MessageTypeGetStatus:      true,
	MessageTypeStatusConnect:  true,
	MessageTypeConnectionInit: true,
}

// Validate checks a raw inbound frame against the connection's
// server-assigned identity and converts it to a typed command. It never
// mutates state; checks run in contract order and short-circuit on the
// first failure.
func Validate(assignedID string, raw []byte) (Command, *ValidationError) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, invalid("Invalid JSON")
	}

	msgType, ok := stringField(fields, "type")
	if !ok {
		return nil, invalid("Message must have a string type field")
	}

	if !knownTypes[msgType] {
		return nil, invalid(fmt.Sprintf("Unknown message type: %s", msgType))
	}

	// The handshake echo is the only frame that may omit connectionId; it is
	// the frame that communicates the identity in the first place.
	if msgType != MessageTypeConnectionInit {
		rawID, present := fields["connectionId"]
		if !present {
			return nil, invalid("Message must have a string connectionId field")
		}
		var connID string
		if err := json.Unmarshal(rawID, &connID); err != nil {
			return nil, invalid("Message must have a string connectionId field")
		}
		if connID != assignedID {
			return nil, invalid("Invalid connectionId")
		}
	}

	switch msgType {
	case MessageTypeConnectionInit:
		return Hello{}, nil

	case MessageTypeBrowserConnect, MessageTypeDesktopConnect:
		userID, verr := requireUserID(fields)
		if verr != nil {
			return nil, verr
		}
		if msgType == MessageTypeBrowserConnect {
			return BrowserConnect{UserID: userID}, nil
		}
		return DesktopConnect{UserID: userID}, nil

	case MessageTypeEditRequest:
		userID, verr := requireUserID(fields)
		if verr != nil {
			return nil, verr
		}
		sessionID, ok := stringField(fields, "sessionId")
		if !ok {
			return nil, invalid("Message must have a string sessionId field")
		}
		payload, verr := requireCodePayload(fields, true)
		if verr != nil {
			return nil, verr
		}
		return EditRequest{UserID: userID, SessionID: sessionID, Payload: payload}, nil

	case MessageTypeCodeUpdate:
		sessionID, ok := stringField(fields, "sessionId")
		if !ok {
			return nil, invalid("Message must have a string sessionId field")
		}
		payload, verr := requireCodePayload(fields, false)
		if verr != nil {
			return nil, verr
		}
		return CodeUpdate{SessionID: sessionID, Code: payload.Code}, nil

	case MessageTypeInfo:
		message, ok := stringField(fields, "message")
		if !ok {
			return nil, invalid("Message must have a string message field")
		}
		sessionID, haveSession := stringField(fields, "sessionId")
		snippetID, haveSnippet := stringField(fields, "snippetId")
		if !haveSession && !haveSnippet {
			return nil, invalid("Message must have a string sessionId or snippetId field")
		}
		return Info{SessionID: sessionID, SnippetID: snippetID, Message: message}, nil

	case MessageTypePing:
		return Ping{Payload: fields["payload"]}, nil

	case MessageTypeGetStatus, MessageTypeStatusConnect:
		return GetStatus{}, nil
	}

	return nil, invalid(fmt.Sprintf("Unknown message type: %s", msgType))
}

func stringField(fields map[string]json.RawMessage, name string) (string, bool) {
	raw, ok := fields[name]
	if !ok {
		return "", false
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false
	}
	return value, true
}

func requireUserID(fields map[string]json.RawMessage) (string, *ValidationError) {
	userID, ok := stringField(fields, "userId")
	if !ok {
		return "", invalid("Message must have a string userId field")
	}
	// Arbitrary text is accepted, non-ASCII included; only the length is
	// bounded, counted in characters.
	if utf8.RuneCountInString(userID) > MaxUserIDLength {
		return "", invalid(fmt.Sprintf("userId must be at most %d characters", MaxUserIDLength))
	}
	return userID, nil
}

func requireCodePayload(fields map[string]json.RawMessage, needSnippet bool) (CodePayload, *ValidationError) {
	raw, ok := fields["payload"]
	if !ok {
		return CodePayload{}, invalid("Message must have a payload object")
	}

	var payloadFields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payloadFields); err != nil || payloadFields == nil {
		return CodePayload{}, invalid("Message must have a payload object")
	}

	var payload CodePayload
	var verr *ValidationError
	if payload.Code, ok = stringField(payloadFields, "code"); !ok {
		return CodePayload{}, invalid("Payload must have a string code field")
	}
	if len(payload.Code) > MaxCodeSize {
		verr = invalid("Code payload too large")
		verr.Fatal = true
		return CodePayload{}, verr
	}
	if needSnippet {
		if payload.SnippetID, ok = stringField(payloadFields, "snippetId"); !ok {
			return CodePayload{}, invalid("Payload must have a string snippetId field")
		}
	} else {
		payload.SnippetID, _ = stringField(payloadFields, "snippetId")
	}
	payload.FileType, _ = stringField(payloadFields, "fileType")
	return payload, nil
}
