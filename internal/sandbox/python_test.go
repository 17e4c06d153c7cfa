package sandbox

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/guildscript/internal/domain"
)

func requirePython(t *testing.T) string {
	t.Helper()
	bin, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not available")
	}
	return bin
}

func TestPythonReplySuccess(t *testing.T) {
	r := NewPythonRunner(requirePython(t), zerolog.Nop())
	res := r.Execute(context.Background(), `reply("pong")`, testInvocation(), testLimits())

	require.True(t, res.Success)
	assert.Equal(t, "pong\n", res.Output)
}

func TestPythonContextExposed(t *testing.T) {
	r := NewPythonRunner(requirePython(t), zerolog.Nop())
	code := `reply(ctx["author"]["name"] + "|" + ctx["args"][0])`
	res := r.Execute(context.Background(), code, testInvocation(), testLimits())

	require.True(t, res.Success)
	assert.Equal(t, "tester|world\n", res.Output)
}

func TestPythonExceptionIsCrash(t *testing.T) {
	r := NewPythonRunner(requirePython(t), zerolog.Nop())
	res := r.Execute(context.Background(), `raise ValueError("boom")`, testInvocation(), testLimits())

	assert.False(t, res.Success)
	assert.Equal(t, domain.ErrKindCrash, res.ErrorKind)
}

func TestPythonInfiniteLoopTimesOut(t *testing.T) {
	r := NewPythonRunner(requirePython(t), zerolog.Nop())
	limits := testLimits()
	limits.Timeout = 300 * time.Millisecond

	start := time.Now()
	res := r.Execute(context.Background(), "while True:\n    pass", testInvocation(), limits)
	elapsed := time.Since(start)

	assert.False(t, res.Success)
	assert.Equal(t, domain.ErrKindTimeout, res.ErrorKind)
	assert.Less(t, elapsed, 5*time.Second, "process group must be killed, not waited on")
}

func TestPythonForbiddenImportIsCrash(t *testing.T) {
	r := NewPythonRunner(requirePython(t), zerolog.Nop())
	res := r.Execute(context.Background(), "import socket\nreply('up')", testInvocation(), testLimits())

	assert.False(t, res.Success)
	assert.Equal(t, domain.ErrKindCrash, res.ErrorKind)
}

func TestPythonAllowedImportWorks(t *testing.T) {
	r := NewPythonRunner(requirePython(t), zerolog.Nop())
	res := r.Execute(context.Background(), "import math\nreply(str(int(math.pi)))", testInvocation(), testLimits())

	require.True(t, res.Success)
	assert.Equal(t, "3\n", res.Output)
}

func TestPythonOpenBlocked(t *testing.T) {
	r := NewPythonRunner(requirePython(t), zerolog.Nop())
	res := r.Execute(context.Background(), `open("/etc/passwd")`, testInvocation(), testLimits())

	assert.False(t, res.Success)
	assert.Equal(t, domain.ErrKindCrash, res.ErrorKind)
}

func TestPythonMemoryLimitIsResourceExceeded(t *testing.T) {
	r := NewPythonRunner(requirePython(t), zerolog.Nop())
	limits := testLimits()
	limits.MemoryBytes = 64 << 20

	res := r.Execute(context.Background(), `x = " " * (512 * 1024 * 1024)`, testInvocation(), limits)

	assert.False(t, res.Success)
	assert.Equal(t, domain.ErrKindResourceExceeded, res.ErrorKind)
}

func TestPythonParentCancelIsTimeoutNotCrash(t *testing.T) {
	r := NewPythonRunner(requirePython(t), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := r.Execute(ctx, `reply("never")`, testInvocation(), testLimits())

	assert.False(t, res.Success)
	assert.Equal(t, domain.ErrKindTimeout, res.ErrorKind)
}

func TestPythonOutputTruncatedAtCap(t *testing.T) {
	r := NewPythonRunner(requirePython(t), zerolog.Nop())
	limits := testLimits()
	limits.OutputByteCap = 16

	res := r.Execute(context.Background(), `reply("z" * 400)`, testInvocation(), limits)

	require.True(t, res.Success)
	assert.True(t, res.Truncated)
	assert.Len(t, res.Output, 16)
}
