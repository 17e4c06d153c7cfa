package domain

import (
	"fmt"
	"regexp"
	"time"
)

// TriggerMode decides how a command's trigger text is matched against
// incoming message content.
type TriggerMode string

const (
	TriggerPrefix     TriggerMode = "prefix"
	TriggerExactMatch TriggerMode = "exact"
	TriggerStartsWith TriggerMode = "starts_with"
	TriggerContains   TriggerMode = "contains"
	TriggerRegex      TriggerMode = "regex"
)

// Language selects the sandbox runner a command's code executes under.
type Language string

const (
	LangJavaScript Language = "javascript"
	LangPython     Language = "python"
	LangGo         Language = "go"
)

const (
	// DefaultCooldownMs applies when a command is saved without an
	// explicit cooldown.
	DefaultCooldownMs int64 = 3000

	// MaxCooldownMs caps per-command cooldowns at one hour.
	MaxCooldownMs int64 = 3600000
)

// Command is a guild-scoped, user-authored trigger+code record. The
// engine treats commands as read-only; all writes go through the
// dashboard API, which validates before persisting.
type Command struct {
	ID                string      `json:"id"`
	TriggerMode       TriggerMode `json:"trigger_mode"`
	TriggerText       string      `json:"trigger_text"`
	Prefix            string      `json:"prefix,omitempty"`
	Language          Language    `json:"language"`
	Code              string      `json:"code"`
	AllowedRoleIDs    []string    `json:"allowed_role_ids,omitempty"`
	AllowedChannelIDs []string    `json:"allowed_channel_ids,omitempty"`
	CooldownMs        int64       `json:"cooldown_ms"`
	CreatedBy         string      `json:"created_by,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// Cooldown returns the per-user cooldown as a duration.
func (c *Command) Cooldown() time.Duration {
	return time.Duration(c.CooldownMs) * time.Millisecond
}

// EffectivePrefix returns the command's own prefix if set, else the
// guild prefix. Only meaningful for TriggerPrefix commands.
func (c *Command) EffectivePrefix(guildPrefix string) string {
	if c.Prefix != "" {
		return c.Prefix
	}
	return guildPrefix
}

// Validate checks a command record against the save-time invariants.
// Invalid regex patterns, empty triggers and oversized code are rejected
// here so the match path never sees them.
func (c *Command) Validate(maxCodeBytes int) error {
	switch c.TriggerMode {
	case TriggerPrefix, TriggerExactMatch, TriggerStartsWith, TriggerContains, TriggerRegex:
	default:
		return fmt.Errorf("unknown trigger mode %q", c.TriggerMode)
	}

	if c.TriggerText == "" {
		return fmt.Errorf("trigger text cannot be empty")
	}

	if c.TriggerMode == TriggerRegex {
		if _, err := regexp.Compile("(?i)" + c.TriggerText); err != nil {
			return fmt.Errorf("invalid trigger pattern: %w", err)
		}
	}

	switch c.Language {
	case LangJavaScript, LangPython, LangGo:
	default:
		return fmt.Errorf("unknown language %q", c.Language)
	}

	if c.Code == "" {
		return fmt.Errorf("code cannot be empty")
	}
	if maxCodeBytes > 0 && len(c.Code) > maxCodeBytes {
		return fmt.Errorf("code exceeds %d bytes", maxCodeBytes)
	}

	if c.CooldownMs < 0 {
		return fmt.Errorf("cooldown cannot be negative")
	}
	if c.CooldownMs > MaxCooldownMs {
		return fmt.Errorf("cooldown exceeds %d ms", MaxCooldownMs)
	}

	return nil
}
