// Package datastore is a small JSON file-backed key-value store. Data
// lives in memory and is flushed to disk atomically on an interval and
// on Close. Keys map to arbitrary JSON-encodable values.
package datastore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds datastore options.
type Config struct {
	FilePath         string
	AutoSaveInterval time.Duration
	BackupCount      int // number of timestamped backups to keep
	Logger           zerolog.Logger
}

// DefaultConfig returns the standard configuration for a store at filePath.
func DefaultConfig(filePath string) Config {
	return Config{
		FilePath:         filePath,
		AutoSaveInterval: 10 * time.Second,
		BackupCount:      3,
		Logger:           zerolog.Nop(),
	}
}

// DataStore is safe for concurrent use. Close must be called to stop the
// autosave goroutine and flush pending changes.
type DataStore struct {
	mu           sync.RWMutex
	data         map[string]any
	file         string
	cfg          Config
	lastChecksum string

	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// New creates a DataStore with default configuration.
func New(filePath string) (*DataStore, error) {
	return NewWithConfig(DefaultConfig(filePath))
}

// NewWithConfig creates a DataStore, loading existing data if the file
// is present and creating an empty file otherwise.
func NewWithConfig(cfg Config) (*DataStore, error) {
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	ds := &DataStore{
		data: make(map[string]any),
		file: cfg.FilePath,
		cfg:  cfg,
		done: make(chan struct{}),
	}

	if _, err := os.Stat(cfg.FilePath); os.IsNotExist(err) {
		if err := ds.writeFileAtomic([]byte("{}")); err != nil {
			return nil, fmt.Errorf("failed to create empty store file: %w", err)
		}
	} else if err == nil {
		if err := ds.loadFromFile(); err != nil {
			return nil, fmt.Errorf("failed to load store file: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat store file: %w", err)
	}

	if cfg.AutoSaveInterval > 0 {
		ds.wg.Add(1)
		go ds.autoSave()
	}

	return ds, nil
}

// Set stores a key-value pair.
func (ds *DataStore) Set(key string, value any) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.closed {
		return
	}
	ds.data[key] = value
}

// Get retrieves a value by key.
func (ds *DataStore) Get(key string) (any, bool) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	value, exists := ds.data[key]
	return value, exists
}

// Delete removes a key-value pair.
func (ds *DataStore) Delete(key string) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.closed {
		return
	}
	delete(ds.data, key)
}

// Keys returns all keys in sorted order.
func (ds *DataStore) Keys() []string {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	keys := make([]string, 0, len(ds.data))
	for k := range ds.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SaveToFile forces an immediate flush to disk.
func (ds *DataStore) SaveToFile() error {
	return ds.saveToFile()
}

// Close stops the autosave goroutine and performs a final flush.
func (ds *DataStore) Close() error {
	ds.mu.Lock()
	if ds.closed {
		ds.mu.Unlock()
		return nil
	}
	ds.closed = true
	ds.mu.Unlock()

	close(ds.done)
	ds.wg.Wait()
	return ds.saveToFile()
}

func (ds *DataStore) saveToFile() error {
	ds.mu.RLock()
	data, err := json.MarshalIndent(ds.data, "", "  ")
	ds.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	checksum := checksum(data)
	if checksum == ds.loadChecksum() {
		return nil
	}

	if ds.cfg.BackupCount > 0 {
		if err := ds.createBackup(); err != nil {
			ds.cfg.Logger.Warn().Err(err).Msg("backup failed")
		}
	}

	if err := ds.writeFileAtomic(data); err != nil {
		return err
	}
	ds.storeChecksum(checksum)
	return nil
}

func (ds *DataStore) loadChecksum() string {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.lastChecksum
}

func (ds *DataStore) storeChecksum(sum string) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.lastChecksum = sum
}

func (ds *DataStore) loadFromFile() error {
	data, err := os.ReadFile(ds.file)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var temp map[string]any
	if err := json.Unmarshal(data, &temp); err != nil {
		return fmt.Errorf("invalid JSON format: %w", err)
	}

	ds.mu.Lock()
	ds.data = temp
	ds.lastChecksum = checksum(data)
	ds.mu.Unlock()
	return nil
}

// writeFileAtomic writes via a temp file, fsync and rename so a crash
// mid-write never leaves a truncated store behind.
func (ds *DataStore) writeFileAtomic(data []byte) error {
	tmpFile := ds.file + ".tmp"

	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	f, err := os.OpenFile(tmpFile, os.O_RDWR, 0644)
	if err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to open temp file for sync: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpFile)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	f.Close()

	if err := os.Rename(tmpFile, ds.file); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (ds *DataStore) createBackup() error {
	if _, err := os.Stat(ds.file); os.IsNotExist(err) {
		return nil
	}

	backupFile := fmt.Sprintf("%s.backup.%s", ds.file, time.Now().Format("20060102_150405"))

	src, err := os.Open(ds.file)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(backupFile)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return err
	}

	ds.cleanupOldBackups()
	return nil
}

func (ds *DataStore) cleanupOldBackups() {
	matches, err := filepath.Glob(ds.file + ".backup.*")
	if err != nil || len(matches) <= ds.cfg.BackupCount {
		return
	}
	// Backup names embed their timestamp, so lexical order is age order.
	sort.Strings(matches)
	for _, path := range matches[:len(matches)-ds.cfg.BackupCount] {
		os.Remove(path)
	}
}

func (ds *DataStore) autoSave() {
	defer ds.wg.Done()

	ticker := time.NewTicker(ds.cfg.AutoSaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ds.done:
			return
		case <-ticker.C:
			if err := ds.saveToFile(); err != nil {
				ds.cfg.Logger.Error().Err(err).Msg("autosave failed")
			}
		}
	}
}

func checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
