// Package history is the conversation store: one append-only text file per
// conversation key, human-readable record lines, full sequential read for
// history replay.
package history

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Key identifies one conversation log on disk.
type Key struct {
	name string
}

// PairKey derives the canonical key for a one-to-one conversation. The
// participants are ordered lexicographically, so PairKey(a, b) == PairKey(b, a).
func PairKey(a, b string) Key {
	if b < a {
		a, b = b, a
	}
	return Key{name: "conversation_" + a + "_" + b + ".txt"}
}

// GroupKey derives the key for a group conversation.
func GroupKey(groupID string) Key {
	return Key{name: "conversation_" + groupID + ".txt"}
}

// Filename is the key's file name within the store directory.
func (k Key) Filename() string { return k.name }

// Store appends and reads conversation logs under one directory. A single
// store-wide mutex serializes all file access: the required invariant is
// that no two appends interleave their bytes, not per-key parallelism.
type Store struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

func New(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// Append writes one record for key, flushed to stable storage before
// returning. The record line is "[<timestamp>] <sender>: <text>".
func (s *Store) Append(key Key, sender, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create conversation dir: %w", err)
	}

	path := filepath.Join(s.dir, key.Filename())
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	record := fmt.Sprintf("[%s] %s: %s\n", s.now().Format(time.ANSIC), sender, text)
	if _, err := f.WriteString(record); err != nil {
		return fmt.Errorf("append %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	return nil
}

// ReadAll returns every record for key in append order. When no log exists
// for the key the slice is nil and the error is nil; an existing log with no
// records yields an empty non-nil slice.
func (s *Store) ReadAll(key Key) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(filepath.Join(s.dir, key.Filename()))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	lines := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}
