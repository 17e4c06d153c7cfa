// Package storage keeps one Record per guild inside the datastore:
// the command list (in stored order), guild settings and the bounded
// audit stream. The engine reads it on every message; writes come from
// the dashboard API.
package storage

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/keshon/guildscript/datastore"
	"github.com/keshon/guildscript/internal/domain"
)

const auditLogLimit = 200

// Storage wraps the datastore with guild-record accessors.
type Storage struct {
	ds *datastore.DataStore

	// mu serializes the record read-modify-write cycle. The datastore
	// only guards single Get/Set calls; without this, two concurrent
	// writers each round-trip the same record and the last Set wins,
	// dropping the other's change.
	mu sync.Mutex

	// Save-time invariants, fixed at construction.
	MaxCodeBytes        int
	MaxCommandsPerGuild int
	DefaultPrefix       string
}

// Record is the persisted per-guild state.
type Record struct {
	Prefix         string              `json:"prefix,omitempty"`
	FirstMatchOnly bool                `json:"first_match_only,omitempty"`
	Commands       []domain.Command    `json:"commands"`
	AuditLog       []domain.AuditEntry `json:"audit_log,omitempty"`
}

// New opens (or creates) the backing datastore at filePath.
func New(filePath string) (*Storage, error) {
	ds, err := datastore.New(filePath)
	if err != nil {
		return nil, err
	}
	return &Storage{
		ds:                  ds,
		MaxCodeBytes:        16384,
		MaxCommandsPerGuild: 200,
		DefaultPrefix:       "!",
	}, nil
}

// NewWithDataStore wraps an already-open datastore.
func NewWithDataStore(ds *datastore.DataStore) *Storage {
	return &Storage{
		ds:                  ds,
		MaxCodeBytes:        16384,
		MaxCommandsPerGuild: 200,
		DefaultPrefix:       "!",
	}
}

func (s *Storage) Close() error {
	return s.ds.Close()
}

// getOrCreateGuildRecord fetches the guild's record, creating an empty
// one if the guild has never been seen. The datastore holds untyped
// JSON, so the record round-trips through encoding/json.
func (s *Storage) getOrCreateGuildRecord(guildID string) (*Record, error) {
	data, exists := s.ds.Get(guildID)
	if !exists {
		return &Record{}, nil
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal guild record: %v", domain.ErrStoreUnavailable, err)
	}

	var record Record
	if err := json.Unmarshal(jsonData, &record); err != nil {
		return nil, fmt.Errorf("%w: unmarshal guild record: %v", domain.ErrStoreUnavailable, err)
	}

	return &record, nil
}

// ListCommands returns the guild's commands in stored order.
func (s *Storage) ListCommands(guildID string) ([]domain.Command, error) {
	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return nil, err
	}
	return record.Commands, nil
}

// GetCommand returns one command by id.
func (s *Storage) GetCommand(guildID, id string) (*domain.Command, error) {
	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return nil, err
	}
	for i := range record.Commands {
		if record.Commands[i].ID == id {
			return &record.Commands[i], nil
		}
	}
	return nil, fmt.Errorf("command %s: %w", id, domain.ErrNotFound)
}

// SaveCommand validates and persists a command. An existing id is fully
// overwritten in place, keeping its stored position; a new id is
// appended. The per-guild command cap applies to new commands only.
func (s *Storage) SaveCommand(guildID string, cmd domain.Command) error {
	if cmd.ID == "" {
		return fmt.Errorf("command id cannot be empty")
	}
	if cmd.CooldownMs == 0 {
		cmd.CooldownMs = domain.DefaultCooldownMs
	}
	if err := cmd.Validate(s.MaxCodeBytes); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	cmd.UpdatedAt = now

	for i := range record.Commands {
		if record.Commands[i].ID == cmd.ID {
			cmd.CreatedAt = record.Commands[i].CreatedAt
			if cmd.CreatedBy == "" {
				cmd.CreatedBy = record.Commands[i].CreatedBy
			}
			record.Commands[i] = cmd
			s.ds.Set(guildID, record)
			return nil
		}
	}

	if s.MaxCommandsPerGuild > 0 && len(record.Commands) >= s.MaxCommandsPerGuild {
		return fmt.Errorf("guild command limit of %d reached", s.MaxCommandsPerGuild)
	}

	cmd.CreatedAt = now
	record.Commands = append(record.Commands, cmd)
	s.ds.Set(guildID, record)
	return nil
}

// DeleteCommand removes a command by id.
func (s *Storage) DeleteCommand(guildID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return err
	}

	updated := make([]domain.Command, 0, len(record.Commands))
	found := false
	for _, c := range record.Commands {
		if c.ID == id {
			found = true
			continue
		}
		updated = append(updated, c)
	}
	if !found {
		return fmt.Errorf("command %s: %w", id, domain.ErrNotFound)
	}

	record.Commands = updated
	s.ds.Set(guildID, record)
	return nil
}

// GetPrefix returns the guild's configured prefix, falling back to the
// storage-wide default.
func (s *Storage) GetPrefix(guildID string) (string, error) {
	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return "", err
	}
	if record.Prefix == "" {
		return s.DefaultPrefix, nil
	}
	return record.Prefix, nil
}

// SetPrefix sets the guild's prefix. Empty resets to the default.
func (s *Storage) SetPrefix(guildID, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return err
	}
	record.Prefix = prefix
	s.ds.Set(guildID, record)
	return nil
}

// FirstMatchOnly reports whether the guild opted into first-match-only
// dispatch. The default is fire-all-matches.
func (s *Storage) FirstMatchOnly(guildID string) (bool, error) {
	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return false, err
	}
	return record.FirstMatchOnly, nil
}

// SetFirstMatchOnly toggles first-match-only dispatch for a guild.
func (s *Storage) SetFirstMatchOnly(guildID string, v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return err
	}
	record.FirstMatchOnly = v
	s.ds.Set(guildID, record)
	return nil
}

// AppendAudit appends an entry to the guild's audit stream, evicting the
// oldest entries past the cap.
func (s *Storage) AppendAudit(guildID string, entry domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return err
	}

	record.AuditLog = append(record.AuditLog, entry)
	if len(record.AuditLog) > auditLogLimit {
		record.AuditLog = record.AuditLog[len(record.AuditLog)-auditLogLimit:]
	}
	s.ds.Set(guildID, record)
	return nil
}

// FetchAudit returns the guild's audit stream, oldest first.
func (s *Storage) FetchAudit(guildID string) ([]domain.AuditEntry, error) {
	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return nil, err
	}
	return record.AuditLog, nil
}
