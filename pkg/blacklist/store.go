// Package blacklist stores the location prefixes that must never appear in
// the recently used list. Prefixes are kept only as salted digests; the
// plaintext never reaches the disk.
package blacklist

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/adrg/xdg"
	"github.com/spf13/afero"

	"github.com/entrhq/recent-scrub/pkg/location"
	"github.com/entrhq/recent-scrub/pkg/permissions"
)

var (
	// ErrCorrupt means the blacklist file exists but cannot be parsed.
	// Callers must not scrub with a blacklist they could not read.
	ErrCorrupt = errors.New("blacklist: corrupt blacklist file")

	// ErrPersist means the blacklist could not be written. The previous file
	// is left in place.
	ErrPersist = errors.New("blacklist: failed to persist blacklist")
)

// DefaultFileName is the blacklist file name inside the XDG data directory.
// It is deliberately unremarkable.
const DefaultFileName = "grms.conf"

// DefaultPath returns $XDG_DATA_HOME/grms.conf.
func DefaultPath() string {
	return filepath.Join(xdg.DataHome, DefaultFileName)
}

// Store is a set of hashed prefixes backed by a file.
type Store struct {
	fs   afero.Fs
	path string

	mu      sync.RWMutex
	salt    []byte
	entries []Entry // sorted by Length, then Digest
}

// Load reads the blacklist at path. A missing file yields an empty store.
// A file that exists but cannot be parsed yields an error wrapping ErrCorrupt.
func Load(fs afero.Fs, path string) (*Store, error) {
	s := &Store{fs: fs, path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload replaces the in-memory set with the file contents. On failure the
// previous set is kept and the error is returned.
func (s *Store) Reload() error {
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.mu.Lock()
		s.salt = nil
		s.entries = nil
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("blacklist: read %s: %w", s.path, err)
	}

	doc, err := decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%s: %w", s.path, err)
	}

	s.mu.Lock()
	s.salt = doc.salt
	s.entries = doc.entries
	s.mu.Unlock()
	return nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Len returns the number of stored prefixes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Entries returns a copy of the stored entries, shortest prefix first.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = Entry{Digest: slices.Clone(e.Digest), Length: e.Length}
	}
	return out
}

// Matches reports whether location falls under a stored prefix. The
// location is normalised first; unparseable input never matches.
func (s *Store) Matches(loc string) bool {
	norm, err := location.Normalize(loc)
	if err != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexLocked(norm) >= 0
}

// Add hashes the normalised prefix and persists the set. It reports false
// without writing when the prefix is already covered by a stored one.
func (s *Store) Add(prefix string) (bool, error) {
	norm, err := location.Normalize(prefix)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(norm) >= 0 {
		return false, nil
	}

	prevSalt, prevEntries := s.salt, slices.Clone(s.entries)
	if s.salt == nil {
		salt, err := newSalt()
		if err != nil {
			return false, err
		}
		s.salt = salt
	}
	s.entries = append(s.entries, Entry{Digest: hashPrefix(s.salt, norm), Length: len(norm)})
	sortEntries(s.entries)

	if err := s.saveLocked(); err != nil {
		if errors.Is(err, ErrPersist) {
			s.salt, s.entries = prevSalt, prevEntries
		}
		return false, err
	}
	return true, nil
}

// Remove drops every stored prefix that covers location and persists the
// set. It returns the number of prefixes removed.
func (s *Store) Remove(loc string) (int, error) {
	norm, err := location.Normalize(loc)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := slices.Clone(s.entries)
	removed := 0
	for {
		idx := s.indexLocked(norm)
		if idx < 0 {
			break
		}
		s.entries = slices.Delete(s.entries, idx, idx+1)
		removed++
	}
	if removed == 0 {
		return 0, nil
	}

	if err := s.saveLocked(); err != nil {
		if errors.Is(err, ErrPersist) {
			s.entries = prev
		}
		return 0, err
	}
	return removed, nil
}

// Save writes the set to disk atomically.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// saveLocked writes to a temp file in the target directory and renames it
// over the target, so a crash never leaves a truncated blacklist.
func (s *Store) saveLocked() error {
	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("%w: create directory %s: %v", ErrPersist, dir, err)
	}

	tmp, err := afero.TempFile(s.fs, dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", ErrPersist, err)
	}
	tmpPath := tmp.Name()

	data := encode(&document{version: FormatVersion, salt: s.salt, entries: s.entries})
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = s.fs.Remove(tmpPath)
		return fmt.Errorf("%w: write temp file: %v", ErrPersist, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = s.fs.Remove(tmpPath)
		return fmt.Errorf("%w: sync temp file: %v", ErrPersist, err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpPath)
		return fmt.Errorf("%w: close temp file: %v", ErrPersist, err)
	}
	if err := s.fs.Chmod(tmpPath, permissions.OwnerOnly); err != nil {
		_ = s.fs.Remove(tmpPath)
		return fmt.Errorf("%w: chmod temp file: %v", ErrPersist, err)
	}

	// Atomic rename
	if err := s.fs.Rename(tmpPath, s.path); err != nil {
		_ = s.fs.Remove(tmpPath)
		return fmt.Errorf("%w: rename temp file: %v", ErrPersist, err)
	}

	if _, err := permissions.Enforce(s.fs, s.path); err != nil {
		return fmt.Errorf("blacklist: saved %s but could not verify its mode: %w", s.path, err)
	}
	return nil
}

// indexLocked returns the index of the first entry that is a segment-bounded
// prefix of norm, or -1. Entries are sorted by length, so the scan stops at
// the first prefix longer than norm.
func (s *Store) indexLocked(norm string) int {
	var (
		lastLen        = -1
		salted, legacy []byte
	)
	for i, e := range s.entries {
		if e.Length > len(norm) {
			break
		}
		if !location.HasSegmentPrefix(norm, e.Length) {
			continue
		}
		if e.Length != lastLen {
			lastLen = e.Length
			salted, legacy = nil, nil
		}
		candidate := norm[:e.Length]
		if e.Legacy() {
			if legacy == nil {
				legacy = hashLegacy(candidate)
			}
			if digestEqual(e.Digest, legacy) {
				return i
			}
			continue
		}
		if s.salt == nil {
			continue
		}
		if salted == nil {
			salted = hashPrefix(s.salt, candidate)
		}
		if digestEqual(e.Digest, salted) {
			return i
		}
	}
	return -1
}
