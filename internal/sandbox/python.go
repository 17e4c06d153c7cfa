package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/guildscript/internal/domain"
)

// pyHarness runs inside the child: applies the memory rlimit, builds a
// restricted global namespace (no open/eval/exec, whitelisted imports
// only) and executes the snippet. Exit 3 marks a memory-limit hit so
// the parent can classify it apart from ordinary crashes.
const pyHarness = `
import builtins as _b, json, sys

_payload = json.load(sys.stdin)

try:
    import resource
    _limit = int(_payload.get("memory_bytes") or 0)
    if _limit > 0:
        resource.setrlimit(resource.RLIMIT_AS, (_limit, _limit))
except (ImportError, ValueError, OSError):
    pass

_allowed = {"math", "json", "random", "re", "string", "datetime",
            "textwrap", "itertools", "functools", "collections"}
_real_import = _b.__import__

def _import(name, *args, **kwargs):
    if name.split(".")[0] not in _allowed:
        raise ImportError("import of %r is not allowed" % name)
    return _real_import(name, *args, **kwargs)

_blocked = {"open", "input", "exit", "quit", "help", "breakpoint",
            "compile", "eval", "exec", "__import__"}
_safe = {n: getattr(_b, n) for n in dir(_b) if n not in _blocked}
_safe["__import__"] = _import

def _reply(text):
    sys.stdout.write(str(text) + "\n")

_globals = {"__builtins__": _safe, "ctx": _payload.get("ctx") or {}, "reply": _reply}

try:
    exec(compile(_payload["code"], "<command>", "exec"), _globals)
except MemoryError:
    sys.exit(3)
except SystemExit:
    raise
except BaseException as e:
    sys.stderr.write(type(e).__name__ + ": " + str(e))
    sys.exit(1)
`

const pyMemoryExitCode = 3

// PythonRunner executes Python snippets in an isolated subprocess: its
// own process group, a scrubbed environment, code and context delivered
// over stdin. Timeout kills the whole group, never just the leader, so
// a snippet that forks cannot outlive its invocation.
type PythonRunner struct {
	bin string
	log zerolog.Logger
}

func NewPythonRunner(bin string, log zerolog.Logger) *PythonRunner {
	if bin == "" {
		bin = "python3"
	}
	return &PythonRunner{bin: bin, log: log.With().Str("runner", "python").Logger()}
}

func (r *PythonRunner) Language() domain.Language { return domain.LangPython }

func (r *PythonRunner) Execute(ctx context.Context, code string, inv Invocation, limits Limits) domain.ExecutionResult {
	start := time.Now()

	payload, err := json.Marshal(map[string]any{
		"code": code,
		"ctx": map[string]any{
			"author":  map[string]any{"id": inv.AuthorID, "name": inv.AuthorName},
			"channel": map[string]any{"id": inv.ChannelID},
			"content": inv.Content,
			"args":    inv.Args,
		},
		"memory_bytes": limits.MemoryBytes,
	})
	if err != nil {
		r.log.Error().Err(err).Msg("payload marshal failed")
		return domain.ExecutionResult{ErrorKind: domain.ErrKindConfiguration, Duration: time.Since(start)}
	}

	execCtx, cancel := context.WithTimeout(ctx, limits.Timeout)
	defer cancel()

	out := newCappedBuffer(limits.OutputByteCap)
	errBuf := newCappedBuffer(512)

	cmd := exec.CommandContext(execCtx, r.bin, "-I", "-c", pyHarness)
	cmd.Env = []string{"PATH=/usr/bin:/bin", "LANG=C.UTF-8"}
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = out
	cmd.Stderr = errBuf
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Negative pid targets the process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second

	runErr := cmd.Run()
	dur := time.Since(start)

	if runErr != nil {
		kind := domain.ErrKindCrash
		var exitErr *exec.ExitError
		switch {
		// Deadline or shutdown cancel: the process was interrupted, the
		// command itself did not crash.
		case execCtx.Err() != nil:
			kind = domain.ErrKindTimeout
		case errors.As(runErr, &exitErr) && exitErr.ExitCode() == pyMemoryExitCode:
			kind = domain.ErrKindResourceExceeded
		}
		r.log.Debug().Err(runErr).Str("kind", string(kind)).Str("stderr", errBuf.String()).Msg("execution failed")
		return domain.ExecutionResult{ErrorKind: kind, Duration: dur}
	}

	return domain.ExecutionResult{
		Success:   true,
		Output:    out.String(),
		Truncated: out.Truncated(),
		Duration:  dur,
	}
}
