package domain

import (
	"errors"
	"time"
)

// ErrorKind classifies why an execution failed. Empty on success.
type ErrorKind string

const (
	ErrKindNone             ErrorKind = ""
	ErrKindTimeout          ErrorKind = "timeout"
	ErrKindCrash            ErrorKind = "crash"
	ErrKindResourceExceeded ErrorKind = "resource_exceeded"
	ErrKindConfiguration    ErrorKind = "configuration"
)

// ExecutionResult is the bounded outcome of a single sandbox invocation.
// Failures are values, never propagated panics: whatever happens inside
// the sandbox ends up here.
type ExecutionResult struct {
	Success   bool
	Output    string
	Truncated bool
	ErrorKind ErrorKind
	Duration  time.Duration
}

// ErrStoreUnavailable signals that the command store could not be read.
// The coordinator degrades to "no commands fire" rather than surfacing it.
var ErrStoreUnavailable = errors.New("command store unavailable")

// ErrNotFound signals a missing command or guild record.
var ErrNotFound = errors.New("not found")

// AuditEntry is one row of the bounded per-guild audit stream the
// coordinator appends after every dispatched execution.
type AuditEntry struct {
	At         time.Time `json:"at"`
	GuildID    string    `json:"guild_id"`
	UserID     string    `json:"user_id"`
	CommandID  string    `json:"command_id"`
	Success    bool      `json:"success"`
	ErrorKind  ErrorKind `json:"error_kind,omitempty"`
	DurationMs int64     `json:"duration_ms"`
}
