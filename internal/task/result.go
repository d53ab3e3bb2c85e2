package task

import (
	"context"
	"encoding/json"
)

// Result is what an executor returns: exactly one of Success, Retry or Fatal.
type Result interface {
	isResult()
}

// Success ends the task; a nil ExtraInfo keeps the stored payload.
type Success struct{ ExtraInfo json.RawMessage }

// Retry sends the task back to PREPARING with updated extra info.
type Retry struct{ ExtraInfo json.RawMessage }

// Fatal ends the task as FAILURE.
type Fatal struct{ ExtraInfo json.RawMessage }

func (Success) isResult() {}
func (Retry) isResult()   {}
func (Fatal) isResult()   {}

// Executor runs one task type. A returned error is treated as unhandled:
// the task fails immediately with the error in its history.
type Executor interface {
	Type() Type
	Execute(ctx context.Context, t *Task) (Result, error)
}
