package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/guildscript/internal/domain"
)

func testLimits() Limits {
	return Limits{
		Timeout:       2 * time.Second,
		MemoryBytes:   64 << 20,
		OutputByteCap: 1900,
	}
}

func testInvocation() Invocation {
	return Invocation{
		AuthorID:   "user-1",
		AuthorName: "tester",
		ChannelID:  "chan-1",
		Content:    "!hello world",
		Args:       []string{"world"},
	}
}

func TestJSReturnValueBecomesOutput(t *testing.T) {
	r := NewJSRunner(zerolog.Nop())
	res := r.Execute(context.Background(), "return 'hi'", testInvocation(), testLimits())

	require.True(t, res.Success)
	assert.Equal(t, "hi", res.Output)
	assert.False(t, res.Truncated)
	assert.Equal(t, domain.ErrKindNone, res.ErrorKind)
}

func TestJSReplyAccumulates(t *testing.T) {
	r := NewJSRunner(zerolog.Nop())
	res := r.Execute(context.Background(), "reply('one'); reply('two');", testInvocation(), testLimits())

	require.True(t, res.Success)
	assert.Equal(t, "one\ntwo\n", res.Output)
}

func TestJSContextObject(t *testing.T) {
	r := NewJSRunner(zerolog.Nop())
	code := "return ctx.author.name + '|' + ctx.channel.id + '|' + ctx.args[0]"
	res := r.Execute(context.Background(), code, testInvocation(), testLimits())

	require.True(t, res.Success)
	assert.Equal(t, "tester|chan-1|world", res.Output)
}

func TestJSInfiniteLoopTimesOut(t *testing.T) {
	r := NewJSRunner(zerolog.Nop())
	limits := testLimits()
	limits.Timeout = 150 * time.Millisecond

	start := time.Now()
	res := r.Execute(context.Background(), "while(true){}", testInvocation(), limits)
	elapsed := time.Since(start)

	assert.False(t, res.Success)
	assert.Equal(t, domain.ErrKindTimeout, res.ErrorKind)
	assert.Less(t, elapsed, 2*time.Second, "timeout must terminate execution, not hang")
}

func TestJSThrowIsCrashNotPanic(t *testing.T) {
	r := NewJSRunner(zerolog.Nop())
	res := r.Execute(context.Background(), "throw new Error('boom')", testInvocation(), testLimits())

	assert.False(t, res.Success)
	assert.Equal(t, domain.ErrKindCrash, res.ErrorKind)
}

func TestJSSyntaxErrorIsCrash(t *testing.T) {
	r := NewJSRunner(zerolog.Nop())
	res := r.Execute(context.Background(), "function {", testInvocation(), testLimits())

	assert.False(t, res.Success)
	assert.Equal(t, domain.ErrKindCrash, res.ErrorKind)
}

func TestJSUnboundedRecursionIsResourceExceeded(t *testing.T) {
	r := NewJSRunner(zerolog.Nop())
	res := r.Execute(context.Background(), "function f(){ return f(); } return f();", testInvocation(), testLimits())

	assert.False(t, res.Success)
	assert.Equal(t, domain.ErrKindResourceExceeded, res.ErrorKind)
}

func TestJSOutputTruncatedAtCap(t *testing.T) {
	r := NewJSRunner(zerolog.Nop())
	limits := testLimits()
	limits.OutputByteCap = 64

	res := r.Execute(context.Background(), "return 'x'.repeat(500)", testInvocation(), limits)

	require.True(t, res.Success)
	assert.True(t, res.Truncated)
	assert.Len(t, res.Output, 64)
	assert.Equal(t, strings.Repeat("x", 64), res.Output)
}

func TestJSNoHostCapabilities(t *testing.T) {
	r := NewJSRunner(zerolog.Nop())
	// require/process/fetch do not exist in a bare runtime.
	for _, code := range []string{"return typeof require", "return typeof process", "return typeof fetch"} {
		res := r.Execute(context.Background(), code, testInvocation(), testLimits())
		require.True(t, res.Success, code)
		assert.Equal(t, "undefined", res.Output, code)
	}
}

func TestJSFreshRuntimePerInvocation(t *testing.T) {
	r := NewJSRunner(zerolog.Nop())

	res := r.Execute(context.Background(), "globalThis.leak = 42; return 'set'", testInvocation(), testLimits())
	require.True(t, res.Success)

	res = r.Execute(context.Background(), "return typeof globalThis.leak", testInvocation(), testLimits())
	require.True(t, res.Success)
	assert.Equal(t, "undefined", res.Output)
}
