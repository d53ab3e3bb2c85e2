// Package task holds durable task records and the engine that runs them.
package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type selects the executor for a task.
type Type string

const (
	TypePullFile   Type = "pull_file"
	TypePullIcon   Type = "pull_icon"
	TypeCleanup    Type = "cleanup"
	TypeSyncFanout Type = "sync_fanout"
)

// Status of a task. PREPARING is re-entered on retry; SUCCESS and FAILURE
// are terminal.
type Status string

const (
	StatusPreparing Status = "PREPARING"
	StatusExecuting Status = "EXECUTING"
	StatusSuccess   Status = "SUCCESS"
	StatusFailure   Status = "FAILURE"
)

func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

var (
	ErrNotFound       = errors.New("task not found")
	ErrStatusConflict = errors.New("task status changed concurrently")
	ErrNoExecutor     = errors.New("no executor registered for task type")
)

// Task is the durable record.
type Task struct {
	ID         int64           `json:"id"`
	Type       Type            `json:"type"`
	SubjectID  int64           `json:"subjectId"`
	Status     Status          `json:"status"`
	CreateTime time.Time       `json:"createTime"`
	ModifyTime time.Time       `json:"modifyTime"`
	ExtraInfo  json.RawMessage `json:"extraInfo,omitempty"`
}

// Retry bounds: retry while len(history) < bound.
const (
	DefaultRetryBound = 3
	ShortRetryBound   = 2
	maxHistories      = 8
)

// ExecutionHistory records one failed attempt.
type ExecutionHistory struct {
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// BaseExtraInfo is embedded by every typed extra info payload.
type BaseExtraInfo struct {
	Histories []ExecutionHistory `json:"executionHistories,omitempty"`
}

// AddHistory appends a failure, keeping at most maxHistories entries.
func (b *BaseExtraInfo) AddHistory(start time.Time, err error) {
	b.Histories = append(b.Histories, newHistory(start, err))
	if len(b.Histories) > maxHistories {
		b.Histories = b.Histories[len(b.Histories)-maxHistories:]
	}
}

// ShouldRetry reports whether another attempt is allowed under bound.
func (b *BaseExtraInfo) ShouldRetry(bound int) bool {
	return len(b.Histories) < bound
}

func newHistory(start time.Time, err error) ExecutionHistory {
	code := CodeUnhandled
	var te *Error
	if errors.As(err, &te) {
		code = te.Code
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return ExecutionHistory{
		StartTime: start.UnixMilli(),
		EndTime:   time.Now().UnixMilli(),
		Code:      code,
		Message:   msg,
	}
}

// PullFileExtraInfo tracks which chunks have arrived.
type PullFileExtraInfo struct {
	BaseExtraInfo
	PullChunks []bool `json:"pullChunks,omitempty"`
}

// PullIconExtraInfo names the icon to fetch and who has it.
type PullIconExtraInfo struct {
	BaseExtraInfo
	Source   string `json:"source"`
	DeviceID string `json:"deviceId"`
}

// SyncExtraInfo records the devices a fan-out could not reach.
type SyncExtraInfo struct {
	BaseExtraInfo
	FailDeviceIDs []string `json:"failDeviceIds,omitempty"`
}

// CleanupExtraInfo reports what the last cleanup run removed.
type CleanupExtraInfo struct {
	BaseExtraInfo
	AgeDeleted       int   `json:"ageDeleted,omitempty"`
	ThresholdDeleted int   `json:"thresholdDeleted,omitempty"`
	Cutoff           int64 `json:"cutoff,omitempty"`
}

// Encode marshals a typed extra info payload.
func Encode(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("task: encode extra info: %v", err))
	}
	return raw
}

// Decode unmarshals raw into v; empty raw leaves v untouched.
func Decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode task extra info: %w", err)
	}
	return nil
}

// appendHistory adds a failure entry to any extra info payload without
// knowing its concrete type.
func appendHistory(raw json.RawMessage, start time.Time, err error) json.RawMessage {
	fields := map[string]json.RawMessage{}
	if len(raw) > 0 {
		if uerr := json.Unmarshal(raw, &fields); uerr != nil {
			fields = map[string]json.RawMessage{}
		}
	}
	var base BaseExtraInfo
	if h, ok := fields["executionHistories"]; ok {
		_ = json.Unmarshal(h, &base.Histories)
	}
	base.AddHistory(start, err)
	fields["executionHistories"] = Encode(base.Histories)
	return Encode(fields)
}

// Histories extracts the execution history of any extra info payload.
func Histories(raw json.RawMessage) []ExecutionHistory {
	var base BaseExtraInfo
	_ = Decode(raw, &base)
	return base.Histories
}
