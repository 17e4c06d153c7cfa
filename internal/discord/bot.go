// Package discord adapts the chat gateway to the engine: message
// events in, replies out. The engine never sees the session.
package discord

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/keshon/guildscript/internal/domain"
	"github.com/keshon/guildscript/internal/engine"
)

const replyChunkLimit = 2000

// Bot owns the gateway session and feeds inbound messages to the
// coordinator. Outbound replies pass through a process-wide limiter so
// a burst of firing commands cannot trip gateway rate limits.
type Bot struct {
	dg       *discordgo.Session
	engine   *engine.Coordinator
	throttle *rate.Limiter
	log      zerolog.Logger
}

func NewBot(token string, eng *engine.Coordinator, log zerolog.Logger) (*Bot, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &Bot{
		dg:       dg,
		engine:   eng,
		throttle: rate.NewLimiter(rate.Limit(20), 5),
		log:      log.With().Str("component", "discord").Logger(),
	}, nil
}

// Run opens the gateway session and blocks until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	b.configureIntents()
	b.dg.AddHandler(b.onReady)
	b.dg.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		b.onMessageCreate(ctx, s, m)
	})

	if err := b.dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	defer b.dg.Close()

	<-ctx.Done()
	b.log.Info().Msg("shutdown signal received, closing session")
	return nil
}

func (b *Bot) configureIntents() {
	b.dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.log.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("gateway ready")
}

// onMessageCreate converts the event into the engine's message shape,
// runs the coordinator and delivers its replies.
func (b *Bot) onMessageCreate(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID {
		return
	}

	var roleIDs []string
	if m.Member != nil {
		roleIDs = m.Member.Roles
	}

	msg := domain.Message{
		ID:            m.ID,
		GuildID:       m.GuildID,
		ChannelID:     m.ChannelID,
		AuthorID:      m.Author.ID,
		AuthorName:    m.Author.Username,
		Content:       m.Content,
		MemberRoleIDs: roleIDs,
		IsFromBot:     m.Author.Bot,
	}

	replies := b.engine.HandleMessage(ctx, msg)
	for _, reply := range replies {
		b.send(ctx, reply)
	}
}

func (b *Bot) send(ctx context.Context, reply domain.OutboundReply) {
	for _, chunk := range splitMessage(reply.Text, replyChunkLimit) {
		if err := b.throttle.Wait(ctx); err != nil {
			return
		}
		if _, err := b.dg.ChannelMessageSend(reply.ChannelID, chunk); err != nil {
			b.log.Error().Err(err).Str("channel", reply.ChannelID).Msg("send failed")
			return
		}
	}
}

// splitMessage splits text into chunks within the gateway's message
// size limit, preferring newline boundaries.
func splitMessage(msg string, limit int) []string {
	var result []string
	for len(msg) > limit {
		cut := strings.LastIndex(msg[:limit], "\n")
		if cut == -1 {
			cut = limit
		}
		result = append(result, strings.TrimSpace(msg[:cut]))
		msg = strings.TrimSpace(msg[cut:])
	}
	if msg != "" {
		result = append(result, msg)
	}
	return result
}
