// Package engine orchestrates a single inbound message: trigger
// matching, rate-limit admission, sandbox dispatch and reply assembly.
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/guildscript/internal/domain"
	"github.com/keshon/guildscript/internal/ratelimit"
	"github.com/keshon/guildscript/internal/sandbox"
	"github.com/keshon/guildscript/internal/storage"
)

// Coordinator wires the command store, rate limiter and sandbox pool.
// HandleMessage is safe to call concurrently; per-key atomicity in the
// limiter and per-invocation isolation in the sandbox carry correctness.
type Coordinator struct {
	store   *storage.Storage
	limiter *ratelimit.Limiter
	pool    *sandbox.Pool
	matcher *Matcher
	limits  sandbox.Limits
	log     zerolog.Logger
}

func NewCoordinator(store *storage.Storage, limiter *ratelimit.Limiter, pool *sandbox.Pool, limits sandbox.Limits, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:   store,
		limiter: limiter,
		pool:    pool,
		matcher: NewMatcher(log),
		limits:  limits,
		log:     log.With().Str("component", "coordinator").Logger(),
	}
}

// HandleMessage evaluates every stored command against the message and
// returns the replies to deliver. Commands are independent: one
// command's failure never stops its siblings. A store read failure
// degrades to "no commands fire".
func (c *Coordinator) HandleMessage(ctx context.Context, msg domain.Message) []domain.OutboundReply {
	if msg.IsFromBot || msg.GuildID == "" {
		return nil
	}

	cmds, err := c.store.ListCommands(msg.GuildID)
	if err != nil {
		c.log.Warn().Err(err).Str("guild", msg.GuildID).Msg("store read failed, treating guild as empty")
		return nil
	}
	if len(cmds) == 0 {
		return nil
	}

	prefix, err := c.store.GetPrefix(msg.GuildID)
	if err != nil {
		prefix = c.store.DefaultPrefix
	}
	firstOnly, err := c.store.FirstMatchOnly(msg.GuildID)
	if err != nil {
		firstOnly = false
	}

	matches := c.matcher.Match(msg, cmds, prefix, firstOnly)
	if len(matches) == 0 {
		return nil
	}

	var replies []domain.OutboundReply
	rateNotified := false

	for _, m := range matches {
		cmd := m.Command

		if !c.limiter.Admit(msg.GuildID, cmd.ID, msg.AuthorID, cmd.Cooldown()) {
			c.log.Debug().Str("guild", msg.GuildID).Str("command", cmd.ID).Str("user", msg.AuthorID).Msg("on cooldown")
			if !rateNotified {
				replies = append(replies, domain.OutboundReply{
					ChannelID: msg.ChannelID,
					Text:      "This command is on cooldown, try again shortly.",
				})
				rateNotified = true
			}
			continue
		}

		if !c.limiter.AdmitUserThroughput(msg.GuildID, msg.AuthorID) ||
			!c.limiter.AdmitGuildThroughput(msg.GuildID) {
			c.log.Debug().Str("guild", msg.GuildID).Str("user", msg.AuthorID).Msg("throughput ceiling hit")
			if !rateNotified {
				replies = append(replies, domain.OutboundReply{
					ChannelID: msg.ChannelID,
					Text:      "Rate limit reached, try again in a minute.",
				})
				rateNotified = true
			}
			continue
		}

		inv := sandbox.Invocation{
			AuthorID:   msg.AuthorID,
			AuthorName: msg.AuthorName,
			ChannelID:  msg.ChannelID,
			Content:    msg.Content,
			Args:       m.Args,
		}

		result := c.pool.Execute(ctx, cmd.Language, cmd.Code, inv, c.limits)

		if err := c.store.AppendAudit(msg.GuildID, domain.AuditEntry{
			At:         time.Now().UTC(),
			GuildID:    msg.GuildID,
			UserID:     msg.AuthorID,
			CommandID:  cmd.ID,
			Success:    result.Success,
			ErrorKind:  result.ErrorKind,
			DurationMs: result.Duration.Milliseconds(),
		}); err != nil {
			c.log.Warn().Err(err).Str("guild", msg.GuildID).Msg("audit append failed")
		}

		if result.Success {
			if result.Output != "" {
				replies = append(replies, domain.OutboundReply{
					ChannelID: msg.ChannelID,
					Text:      result.Output,
				})
			}
			continue
		}

		c.log.Info().
			Str("guild", msg.GuildID).
			Str("command", cmd.ID).
			Str("kind", string(result.ErrorKind)).
			Dur("duration", result.Duration).
			Msg("command execution failed")

		replies = append(replies, domain.OutboundReply{
			ChannelID: msg.ChannelID,
			Text:      failureNotice(result.ErrorKind),
		})
	}

	return replies
}

// failureNotice maps an error kind to the short, generic user-facing
// message. Stack traces and host details never leave the logs.
func failureNotice(kind domain.ErrorKind) string {
	switch kind {
	case domain.ErrKindTimeout:
		return "Error: command timed out."
	case domain.ErrKindResourceExceeded:
		return "Error: command exceeded its resource limits."
	case domain.ErrKindConfiguration:
		return "Error: command is misconfigured."
	default:
		return "Error: command failed."
	}
}
