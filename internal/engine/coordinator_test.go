package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/guildscript/internal/domain"
	"github.com/keshon/guildscript/internal/ratelimit"
	"github.com/keshon/guildscript/internal/sandbox"
	"github.com/keshon/guildscript/internal/storage"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *storage.Storage) {
	t.Helper()

	store, err := storage.New(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	limiter := ratelimit.New(ratelimit.DefaultConfig())
	pool := sandbox.NewPool(4, time.Second, zerolog.Nop(), sandbox.NewJSRunner(zerolog.Nop()))
	limits := sandbox.Limits{
		Timeout:       2 * time.Second,
		OutputByteCap: 1900,
	}

	return NewCoordinator(store, limiter, pool, limits, zerolog.Nop()), store
}

func inbound(content string) domain.Message {
	return domain.Message{
		ID:         "msg-1",
		GuildID:    "guild-1",
		ChannelID:  "chan-1",
		AuthorID:   "user-1",
		AuthorName: "tester",
		Content:    content,
	}
}

func TestHandleMessagePrefixCommandEndToEnd(t *testing.T) {
	c, store := newTestCoordinator(t)

	require.NoError(t, store.SaveCommand("guild-1", domain.Command{
		ID:          "hello",
		TriggerMode: domain.TriggerPrefix,
		TriggerText: "hello",
		Language:    domain.LangJavaScript,
		Code:        "return 'hi'",
	}))

	replies := c.HandleMessage(context.Background(), inbound("!hello world"))
	require.Len(t, replies, 1)
	assert.Equal(t, "chan-1", replies[0].ChannelID)
	assert.Equal(t, "hi", replies[0].Text)
}

func TestHandleMessageIgnoresBotsAndDMs(t *testing.T) {
	c, store := newTestCoordinator(t)

	require.NoError(t, store.SaveCommand("guild-1", domain.Command{
		ID:          "hello",
		TriggerMode: domain.TriggerContains,
		TriggerText: "hello",
		Language:    domain.LangJavaScript,
		Code:        "return 'hi'",
	}))

	bot := inbound("hello")
	bot.IsFromBot = true
	assert.Empty(t, c.HandleMessage(context.Background(), bot))

	dm := inbound("hello")
	dm.GuildID = ""
	assert.Empty(t, c.HandleMessage(context.Background(), dm))
}

func TestHandleMessageIdenticalTriggersProduceTwoReplies(t *testing.T) {
	c, store := newTestCoordinator(t)

	for _, id := range []string{"first", "second"} {
		require.NoError(t, store.SaveCommand("guild-1", domain.Command{
			ID:          id,
			TriggerMode: domain.TriggerContains,
			TriggerText: "ping",
			Language:    domain.LangJavaScript,
			Code:        "return '" + id + "'",
		}))
	}

	replies := c.HandleMessage(context.Background(), inbound("well ping there"))
	require.Len(t, replies, 2)
	assert.Equal(t, "first", replies[0].Text)
	assert.Equal(t, "second", replies[1].Text)
}

func TestHandleMessageFirstMatchOnlyToggle(t *testing.T) {
	c, store := newTestCoordinator(t)
	require.NoError(t, store.SetFirstMatchOnly("guild-1", true))

	for _, id := range []string{"first", "second"} {
		require.NoError(t, store.SaveCommand("guild-1", domain.Command{
			ID:          id,
			TriggerMode: domain.TriggerContains,
			TriggerText: "ping",
			Language:    domain.LangJavaScript,
			Code:        "return '" + id + "'",
		}))
	}

	replies := c.HandleMessage(context.Background(), inbound("ping"))
	require.Len(t, replies, 1)
	assert.Equal(t, "first", replies[0].Text)
}

func TestHandleMessageCooldownDeniesSecondAttempt(t *testing.T) {
	c, store := newTestCoordinator(t)

	require.NoError(t, store.SaveCommand("guild-1", domain.Command{
		ID:          "hello",
		TriggerMode: domain.TriggerPrefix,
		TriggerText: "hello",
		Language:    domain.LangJavaScript,
		Code:        "return 'hi'",
		CooldownMs:  2000,
	}))

	first := c.HandleMessage(context.Background(), inbound("!hello"))
	require.Len(t, first, 1)
	assert.Equal(t, "hi", first[0].Text)

	second := c.HandleMessage(context.Background(), inbound("!hello"))
	require.Len(t, second, 1)
	assert.Contains(t, second[0].Text, "cooldown")

	// A different user is not affected by this user's cooldown.
	other := inbound("!hello")
	other.AuthorID = "user-2"
	third := c.HandleMessage(context.Background(), other)
	require.Len(t, third, 1)
	assert.Equal(t, "hi", third[0].Text)
}

func TestHandleMessageFailureDoesNotStopSiblings(t *testing.T) {
	c, store := newTestCoordinator(t)

	require.NoError(t, store.SaveCommand("guild-1", domain.Command{
		ID:          "broken",
		TriggerMode: domain.TriggerContains,
		TriggerText: "ping",
		Language:    domain.LangJavaScript,
		Code:        "throw new Error('boom')",
	}))
	require.NoError(t, store.SaveCommand("guild-1", domain.Command{
		ID:          "ok",
		TriggerMode: domain.TriggerContains,
		TriggerText: "ping",
		Language:    domain.LangJavaScript,
		Code:        "return 'fine'",
	}))

	replies := c.HandleMessage(context.Background(), inbound("ping"))
	require.Len(t, replies, 2)
	assert.Contains(t, replies[0].Text, "Error:")
	assert.NotContains(t, replies[0].Text, "boom") // no detail leaks
	assert.Equal(t, "fine", replies[1].Text)
}

func TestHandleMessageAppendsAudit(t *testing.T) {
	c, store := newTestCoordinator(t)

	require.NoError(t, store.SaveCommand("guild-1", domain.Command{
		ID:          "hello",
		TriggerMode: domain.TriggerPrefix,
		TriggerText: "hello",
		Language:    domain.LangJavaScript,
		Code:        "return 'hi'",
	}))

	c.HandleMessage(context.Background(), inbound("!hello"))

	entries, err := store.FetchAudit("guild-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0].CommandID)
	assert.Equal(t, "user-1", entries[0].UserID)
	assert.True(t, entries[0].Success)
}

func TestHandleMessageUserThroughputCeiling(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	limiter := ratelimit.New(ratelimit.Config{UserLimit: 2, GuildLimit: 100, Window: time.Minute})
	pool := sandbox.NewPool(4, time.Second, zerolog.Nop(), sandbox.NewJSRunner(zerolog.Nop()))
	c := NewCoordinator(store, limiter, pool, sandbox.Limits{Timeout: time.Second, OutputByteCap: 1900}, zerolog.Nop())

	// A 1ms cooldown keeps the per-command gate out of the way so the
	// user ceiling is what gets exercised.
	require.NoError(t, store.SaveCommand("guild-1", domain.Command{
		ID:          "ping",
		TriggerMode: domain.TriggerContains,
		TriggerText: "ping",
		Language:    domain.LangJavaScript,
		Code:        "return 'pong'",
		CooldownMs:  1,
	}))

	var texts []string
	for i := 0; i < 3; i++ {
		time.Sleep(5 * time.Millisecond)
		replies := c.HandleMessage(context.Background(), inbound("ping"))
		require.Len(t, replies, 1, "message %d", i)
		texts = append(texts, replies[0].Text)
	}

	assert.Equal(t, "pong", texts[0])
	assert.Equal(t, "pong", texts[1])
	assert.Contains(t, texts[2], "Rate limit")
}
