package engine

import (
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/keshon/guildscript/internal/domain"
)

// Matched pairs a firing command with the argument list derived from
// the message content.
type Matched struct {
	Command domain.Command
	Args    []string
}

// Matcher decides which of a guild's commands fire for a message.
// Compiled trigger patterns are cached by pattern text; save-time
// validation guarantees they compile, so a cache miss is cheap and a
// compile failure here is a configuration bug, logged and skipped.
type Matcher struct {
	mu         sync.RWMutex
	regexCache map[string]*regexp.Regexp
	log        zerolog.Logger
}

func NewMatcher(log zerolog.Logger) *Matcher {
	return &Matcher{
		regexCache: make(map[string]*regexp.Regexp),
		log:        log.With().Str("component", "matcher").Logger(),
	}
}

// Match evaluates commands in stored order and returns every one that
// fires and passes its role/channel restrictions. With firstOnly set,
// evaluation stops after the first command that actually fires.
func (m *Matcher) Match(msg domain.Message, cmds []domain.Command, guildPrefix string, firstOnly bool) []Matched {
	var out []Matched
	for _, cmd := range cmds {
		args, ok := m.triggerFires(msg.Content, cmd, guildPrefix)
		if !ok {
			continue
		}
		if !restrictionsAllow(cmd, msg) {
			continue
		}
		out = append(out, Matched{Command: cmd, Args: args})
		if firstOnly {
			break
		}
	}
	return out
}

func (m *Matcher) triggerFires(content string, cmd domain.Command, guildPrefix string) ([]string, bool) {
	if cmd.TriggerText == "" {
		// Rejected at save time; seeing one here means corrupted data.
		m.log.Error().Str("command", cmd.ID).Msg("empty trigger text, skipping")
		return nil, false
	}

	switch cmd.TriggerMode {
	case domain.TriggerPrefix:
		full := cmd.EffectivePrefix(guildPrefix) + cmd.TriggerText
		if !strings.HasPrefix(content, full) {
			return nil, false
		}
		return strings.Fields(content[len(full):]), true

	case domain.TriggerExactMatch:
		if content != cmd.TriggerText {
			return nil, false
		}
		return nil, true

	case domain.TriggerStartsWith:
		if !strings.HasPrefix(strings.ToLower(content), strings.ToLower(cmd.TriggerText)) {
			return nil, false
		}
		return strings.Fields(content), true

	case domain.TriggerContains:
		if !strings.Contains(strings.ToLower(content), strings.ToLower(cmd.TriggerText)) {
			return nil, false
		}
		return strings.Fields(content), true

	case domain.TriggerRegex:
		re, err := m.compiled(cmd.TriggerText)
		if err != nil {
			m.log.Error().Err(err).Str("command", cmd.ID).Msg("stored pattern does not compile, skipping")
			return nil, false
		}
		if !re.MatchString(content) {
			return nil, false
		}
		return strings.Fields(content), true

	default:
		m.log.Error().Str("command", cmd.ID).Str("mode", string(cmd.TriggerMode)).Msg("unknown trigger mode, skipping")
		return nil, false
	}
}

// compiled returns the cached case-insensitive pattern, compiling on
// first use.
func (m *Matcher) compiled(pattern string) (*regexp.Regexp, error) {
	m.mu.RLock()
	re, ok := m.regexCache[pattern]
	m.mu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.regexCache[pattern] = re
	m.mu.Unlock()
	return re, nil
}

// restrictionsAllow applies role and channel restrictions after a
// trigger fires. Empty sets mean no restriction.
func restrictionsAllow(cmd domain.Command, msg domain.Message) bool {
	if len(cmd.AllowedChannelIDs) > 0 {
		if !contains(cmd.AllowedChannelIDs, msg.ChannelID) {
			return false
		}
	}
	if len(cmd.AllowedRoleIDs) > 0 {
		allowed := false
		for _, role := range msg.MemberRoleIDs {
			if contains(cmd.AllowedRoleIDs, role) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
