package ipc

import "encoding/json"

// Request represents a command sent from the CLI to the service.
type Request struct {
	Command string          `json:"command"`        // e.g. "history", "clean", "status"
	Args    json.RawMessage `json:"args,omitempty"` // Command-specific arguments
}

// Response represents a reply from the service to the CLI.
type Response struct {
	Status  string          `json:"status"`            // "ok" or "error"
	Message string          `json:"message,omitempty"` // Error text
	Data    json.RawMessage `json:"data,omitempty"`    // Command-specific data
}

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Handler answers one request. A returned error becomes an error response.
type Handler func(req *Request) (any, error)
