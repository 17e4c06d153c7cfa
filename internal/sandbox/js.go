package sandbox

import (
	"context"
	"errors"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"

	"github.com/keshon/guildscript/internal/domain"
)

// errInterrupted is the value passed to vm.Interrupt on timeout.
const errInterrupted = "execution timed out"

// JSRunner executes JavaScript snippets on an embedded goja runtime.
// A fresh runtime per invocation means no shared interpreter state and
// no host capabilities beyond the injected ctx object.
type JSRunner struct {
	log zerolog.Logger
}

func NewJSRunner(log zerolog.Logger) *JSRunner {
	return &JSRunner{log: log.With().Str("runner", "javascript").Logger()}
}

func (r *JSRunner) Language() domain.Language { return domain.LangJavaScript }

// Execute runs the snippet as the body of a function, so a bare
// `return 'hi'` is valid code. Output is whatever reply() accumulated
// plus the snippet's return value.
func (r *JSRunner) Execute(ctx context.Context, code string, inv Invocation, limits Limits) (res domain.ExecutionResult) {
	start := time.Now()
	out := newCappedBuffer(limits.OutputByteCap)

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Interface("panic", rec).Msg("runtime panicked")
			res = domain.ExecutionResult{
				ErrorKind: domain.ErrKindCrash,
				Duration:  time.Since(start),
			}
		}
	}()

	vm := goja.New()
	// Unbounded JS recursion would exhaust the host stack; cap it so it
	// surfaces as a StackOverflowError instead.
	vm.SetMaxCallStackSize(2048)

	vm.Set("ctx", map[string]any{
		"author":  map[string]any{"id": inv.AuthorID, "name": inv.AuthorName},
		"channel": map[string]any{"id": inv.ChannelID},
		"content": inv.Content,
		"args":    inv.Args,
	})
	vm.Set("reply", func(text string) {
		out.AppendString(text)
		out.AppendString("\n")
	})

	execCtx, cancel := context.WithTimeout(ctx, limits.Timeout)
	defer cancel()
	stop := context.AfterFunc(execCtx, func() {
		vm.Interrupt(errInterrupted)
	})
	defer stop()

	v, err := vm.RunString("(function(){\n" + code + "\n})();")
	dur := time.Since(start)

	if err != nil {
		kind := domain.ErrKindCrash
		var soErr *goja.StackOverflowError
		var intErr *goja.InterruptedError
		switch {
		case errors.As(err, &soErr):
			kind = domain.ErrKindResourceExceeded
		case errors.As(err, &intErr), errors.Is(execCtx.Err(), context.DeadlineExceeded):
			kind = domain.ErrKindTimeout
		}
		r.log.Debug().Err(err).Str("kind", string(kind)).Msg("execution failed")
		return domain.ExecutionResult{ErrorKind: kind, Duration: dur}
	}

	if v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
		out.AppendString(v.String())
	}

	return domain.ExecutionResult{
		Success:   true,
		Output:    out.String(),
		Truncated: out.Truncated(),
		Duration:  dur,
	}
}
