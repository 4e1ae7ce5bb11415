package ipc

import (
	"context"
	"encoding/json"
)

// Envelope types.
const (
	TypeResponse = "response"
	TypeEvent    = "event"
)

// CommandSubscribe asks the server to stream events on the connection.
const CommandSubscribe = "subscribe"

// Command is sent by clients.
type Command struct {
	ID      int      `json:"id"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// Envelope frames every message the server writes, one JSON document per
// line.
type Envelope struct {
	Type   string          `json:"type"`
	ID     int             `json:"id,omitempty"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Event  json.RawMessage `json:"event,omitempty"`
}

// Handler executes a command. The result is marshalled to JSON.
type Handler func(ctx context.Context, cmd Command) (interface{}, error)

// RemoteError is a command failure reported by the server.
type RemoteError struct {
	Command string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Command + ": " + e.Message
}
