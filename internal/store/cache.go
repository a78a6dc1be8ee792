package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"typetrace/internal/event"
)

// FallbackCache holds finalized sessions that could not be persisted.
// A completed session is never silently dropped: on store failure the
// record is written here as JSON and retried later.
type FallbackCache struct {
	dir string
}

// NewFallbackCache creates a cache rooted at dir.
func NewFallbackCache(dir string) *FallbackCache {
	return &FallbackCache{dir: dir}
}

// Put writes a session record to the cache.
func (c *FallbackCache) Put(rec *event.SessionRecord) error {
	if err := os.MkdirAll(c.dir, 0700); err != nil {
		return fmt.Errorf("create fallback directory: %w", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	path := filepath.Join(c.dir, rec.ID+".json")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write cached session: %w", err)
	}
	return nil
}

// List returns the IDs of cached sessions.
func (c *FallbackCache) List() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read fallback directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// Get reads a cached session record.
func (c *FallbackCache) Get(id string) (*event.SessionRecord, error) {
	data, err := os.ReadFile(filepath.Join(c.dir, id+".json"))
	if err != nil {
		return nil, fmt.Errorf("read cached session: %w", err)
	}

	var rec event.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal cached session: %w", err)
	}
	return &rec, nil
}

// Remove deletes a cached session after successful persistence.
func (c *FallbackCache) Remove(id string) error {
	err := os.Remove(filepath.Join(c.dir, id+".json"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cached session: %w", err)
	}
	return nil
}

// Drain retries persistence for every cached session, removing entries
// that save successfully. It returns the number persisted and the
// first error encountered, continuing past individual failures.
func (c *FallbackCache) Drain(s *Store) (int, error) {
	ids, err := c.List()
	if err != nil {
		return 0, err
	}

	persisted := 0
	var firstErr error
	for _, id := range ids {
		rec, err := c.Get(id)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := s.SaveSession(rec); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := c.Remove(id); err != nil && firstErr == nil {
			firstErr = err
		}
		persisted++
	}
	return persisted, firstErr
}
