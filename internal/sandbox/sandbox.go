// Package sandbox executes user-authored snippets in isolated,
// resource-bounded runtimes. One Runner per language; every invocation
// gets a fresh execution unit, a hard wall-clock timeout and a capped
// output buffer. Nothing that happens inside a runner escapes as a
// panic: all outcomes are ExecutionResult values.
package sandbox

import (
	"context"
	"time"

	"github.com/keshon/guildscript/internal/domain"
)

// Limits bounds a single invocation.
type Limits struct {
	Timeout       time.Duration
	MemoryBytes   int64
	OutputByteCap int
}

// Invocation is the read-only, message-derived context exposed to the
// executing snippet. It carries plain values only, never a live handle
// to the gateway session.
type Invocation struct {
	AuthorID   string
	AuthorName string
	ChannelID  string
	Content    string
	Args       []string
}

// Runner executes one snippet per call under the given limits.
type Runner interface {
	Language() domain.Language
	Execute(ctx context.Context, code string, inv Invocation, limits Limits) domain.ExecutionResult
}
