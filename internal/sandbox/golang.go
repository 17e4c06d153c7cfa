package sandbox

import (
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/keshon/guildscript/internal/domain"
)

// GoRunner interprets Go snippets with yaegi instead of compiling them.
// Interpretation avoids toolchain invocation per message and lets a
// context cancel halt the running program.
//
// Contract: the snippet must define
//
//	func Run(input string) (string, error)
//
// where input is the triggering message content.
type GoRunner struct {
	log     zerolog.Logger
	allowed map[string]bool
	symbols interp.Exports
}

func NewGoRunner(log zerolog.Logger) *GoRunner {
	allowed := map[string]bool{
		"bytes":           true,
		"encoding/base64": true,
		"encoding/json":   true,
		"errors":          true,
		"fmt":             true,
		"math":            true,
		"math/rand":       true,
		"regexp":          true,
		"sort":            true,
		"strconv":         true,
		"strings":         true,
		"time":            true,
		"unicode":         true,
		// os, os/exec, net, net/http, syscall, unsafe and friends
		// stay out: no filesystem, network or process access.
	}

	// The interpreter only ever sees symbols for whitelisted packages.
	// Import validation is the first gate; this is the second, so a hole
	// in the former still cannot reach the host.
	symbols := make(interp.Exports, len(allowed))
	for key, pkg := range stdlib.Symbols {
		// Symbol keys are "importpath/pkgname", e.g. "math/rand/rand".
		idx := strings.LastIndexByte(key, '/')
		if idx < 0 || !allowed[key[:idx]] {
			continue
		}
		symbols[key] = pkg
	}

	return &GoRunner{
		log:     log.With().Str("runner", "go").Logger(),
		allowed: allowed,
		symbols: symbols,
	}
}

func (r *GoRunner) Language() domain.Language { return domain.LangGo }

func (r *GoRunner) Execute(ctx context.Context, code string, inv Invocation, limits Limits) (res domain.ExecutionResult) {
	start := time.Now()
	out := newCappedBuffer(limits.OutputByteCap)

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Interface("panic", rec).Msg("interpreter panicked")
			res = domain.ExecutionResult{
				ErrorKind: domain.ErrKindCrash,
				Duration:  time.Since(start),
			}
		}
	}()

	fullCode := r.wrapCode(code, inv.Content)

	if err := r.validateImports(fullCode); err != nil {
		r.log.Debug().Err(err).Msg("rejected imports")
		return domain.ExecutionResult{ErrorKind: domain.ErrKindCrash, Duration: time.Since(start)}
	}

	execCtx, cancel := context.WithTimeout(ctx, limits.Timeout)
	defer cancel()

	i := interp.New(interp.Options{})
	if err := i.Use(r.symbols); err != nil {
		r.log.Error().Err(err).Msg("failed to load symbols")
		return domain.ExecutionResult{ErrorKind: domain.ErrKindConfiguration, Duration: time.Since(start)}
	}

	if _, err := i.EvalWithContext(execCtx, fullCode); err != nil {
		return r.failure(execCtx, err, start)
	}

	// The driver call runs under the same context, so a timeout halts
	// the interpreter instead of leaving a goroutine spinning.
	v, err := i.EvalWithContext(execCtx, "main.__sandboxMain()")
	dur := time.Since(start)
	if err != nil {
		return r.failure(execCtx, err, start)
	}

	if v.IsValid() {
		if s, ok := v.Interface().(string); ok {
			out.AppendString(s)
		}
	}

	return domain.ExecutionResult{
		Success:   true,
		Output:    out.String(),
		Truncated: out.Truncated(),
		Duration:  dur,
	}
}

// failure classifies an eval error. Any interruption of the context,
// deadline or shutdown cancel, is a timeout rather than a crash of the
// user's command.
func (r *GoRunner) failure(execCtx context.Context, err error, start time.Time) domain.ExecutionResult {
	kind := domain.ErrKindCrash
	if execCtx.Err() != nil {
		kind = domain.ErrKindTimeout
	}
	r.log.Debug().Err(err).Str("kind", string(kind)).Msg("execution failed")
	return domain.ExecutionResult{ErrorKind: kind, Duration: time.Since(start)}
}

// validateImports parses the wrapped source and rejects any import
// outside the whitelist before the interpreter ever sees the code.
func (r *GoRunner) validateImports(src string) error {
	f, err := parser.ParseFile(token.NewFileSet(), "snippet.go", src, parser.ImportsOnly)
	if err != nil {
		return fmt.Errorf("parse imports: %w", err)
	}

	var forbidden []string
	for _, imp := range f.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			return fmt.Errorf("malformed import %s", imp.Path.Value)
		}
		if !r.allowed[path] {
			forbidden = append(forbidden, path)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports: %v", forbidden)
	}
	return nil
}

// wrapCode ensures a package clause and appends the driver that feeds
// the message content to Run and panics on its error so failures
// surface as eval errors.
func (r *GoRunner) wrapCode(code, input string) string {
	var b strings.Builder
	if !strings.Contains(code, "package main") {
		b.WriteString("package main\n\n")
	}
	b.WriteString(code)
	b.WriteString("\n\nvar __sandboxInput = ")
	b.WriteString(strconv.Quote(input))
	b.WriteString("\n\nfunc __sandboxMain() string {\n")
	b.WriteString("\tout, err := Run(__sandboxInput)\n")
	b.WriteString("\tif err != nil {\n\t\tpanic(err.Error())\n\t}\n")
	b.WriteString("\treturn out\n}\n")
	return b.String()
}
