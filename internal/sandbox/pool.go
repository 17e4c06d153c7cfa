package sandbox

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/keshon/guildscript/internal/domain"
)

// Pool bounds the number of concurrently running sandboxed executions
// and dispatches to the runner registered for each language. Once the
// bound is reached, further executions queue for at most queueWait and
// then fail fast as ResourceExceeded.
type Pool struct {
	sem       *semaphore.Weighted
	queueWait time.Duration
	runners   map[domain.Language]Runner
	log       zerolog.Logger
}

func NewPool(maxConcurrent int64, queueWait time.Duration, log zerolog.Logger, runners ...Runner) *Pool {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	m := make(map[domain.Language]Runner, len(runners))
	for _, r := range runners {
		m[r.Language()] = r
	}
	return &Pool{
		sem:       semaphore.NewWeighted(maxConcurrent),
		queueWait: queueWait,
		runners:   m,
		log:       log.With().Str("component", "sandbox-pool").Logger(),
	}
}

// Execute acquires a slot and runs the snippet. An unknown language is
// a configuration error; a full queue is ResourceExceeded.
func (p *Pool) Execute(ctx context.Context, lang domain.Language, code string, inv Invocation, limits Limits) domain.ExecutionResult {
	runner, ok := p.runners[lang]
	if !ok {
		p.log.Error().Str("language", string(lang)).Msg("no runner registered")
		return domain.ExecutionResult{ErrorKind: domain.ErrKindConfiguration}
	}

	acquireCtx, cancel := context.WithTimeout(ctx, p.queueWait)
	defer cancel()
	if err := p.sem.Acquire(acquireCtx, 1); err != nil {
		p.log.Warn().Str("language", string(lang)).Msg("execution queue full")
		return domain.ExecutionResult{ErrorKind: domain.ErrKindResourceExceeded}
	}
	defer p.sem.Release(1)

	return runner.Execute(ctx, code, inv, limits)
}
