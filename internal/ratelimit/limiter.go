// Package ratelimit tracks per-(guild,command,user) cooldowns and
// per-user / per-guild fixed-window throughput ceilings.
//
// State is process-local and lost on restart; a restart resets all
// cooldowns and windows. The limiter itself cannot become unavailable,
// and the declared policy for any future external-store swap is
// fail-open: if the backing store cannot answer, admit.
package ratelimit

import (
	"sync"
	"time"
)

// Config holds the throughput ceilings.
type Config struct {
	UserLimit   int           // admitted actions per user per window
	GuildLimit  int           // admitted actions per guild per window
	Window      time.Duration // fixed window span
	SweepMaxAge time.Duration // cooldown entries older than this are swept
}

// DefaultConfig returns the standard ceilings: 10 user actions and
// 100 guild actions per minute.
func DefaultConfig() Config {
	return Config{
		UserLimit:   10,
		GuildLimit:  100,
		Window:      time.Minute,
		SweepMaxAge: time.Hour,
	}
}

type cooldownKey struct {
	GuildID   string
	CommandID string
	UserID    string
}

type windowKey struct {
	GuildID string
	UserID  string // empty for guild-scope windows
}

type window struct {
	start time.Time
	count int
}

// Limiter answers admit/deny in O(1). A single mutex makes every
// admission check an atomic read-modify-write: two concurrent calls for
// the same key can never both observe "not on cooldown" and proceed.
type Limiter struct {
	mu        sync.Mutex
	cfg       Config
	cooldowns map[cooldownKey]time.Time
	windows   map[windowKey]*window

	now func() time.Time // test seam
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.SweepMaxAge <= 0 {
		cfg.SweepMaxAge = time.Hour
	}
	return &Limiter{
		cfg:       cfg,
		cooldowns: make(map[cooldownKey]time.Time),
		windows:   make(map[windowKey]*window),
		now:       time.Now,
	}
}

// Admit checks the per-(guild,command,user) cooldown. A denied call
// leaves state untouched; an admitted call records the fire time in the
// same critical section.
func (l *Limiter) Admit(guildID, commandID, userID string, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}

	key := cooldownKey{guildID, commandID, userID}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if last, ok := l.cooldowns[key]; ok && now.Sub(last) < cooldown {
		return false
	}
	l.cooldowns[key] = now
	return true
}

// AdmitUserThroughput checks the per-(guild,user) fixed window.
func (l *Limiter) AdmitUserThroughput(guildID, userID string) bool {
	return l.admitWindow(windowKey{guildID, userID}, l.cfg.UserLimit)
}

// AdmitGuildThroughput checks the per-guild fixed window.
func (l *Limiter) AdmitGuildThroughput(guildID string) bool {
	return l.admitWindow(windowKey{GuildID: guildID}, l.cfg.GuildLimit)
}

func (l *Limiter) admitWindow(key windowKey, limit int) bool {
	if limit <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.cfg.Window {
		l.windows[key] = &window{start: now, count: 1}
		return true
	}
	if w.count >= limit {
		return false
	}
	w.count++
	return true
}

// Sweep drops expired windows and stale cooldown entries so the maps do
// not grow without bound.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, last := range l.cooldowns {
		if now.Sub(last) > l.cfg.SweepMaxAge {
			delete(l.cooldowns, key)
		}
	}
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.cfg.Window {
			delete(l.windows, key)
		}
	}
}
