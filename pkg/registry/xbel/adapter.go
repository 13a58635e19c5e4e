// Package xbel implements registry.Adapter over a freedesktop XBEL
// "recently-used.xbel" file, the on-disk store of the GTK recent manager.
//
// Writers (GTK applications, and this adapter) replace the file by writing a
// temporary file and renaming it, so change notification watches the parent
// directory rather than the file itself.
package xbel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/adrg/xdg"
	"github.com/spf13/afero"

	"github.com/entrhq/recent-scrub/pkg/logging"
	"github.com/entrhq/recent-scrub/pkg/registry"
)

// DefaultFileName is the file GTK keeps its recently used list in.
const DefaultFileName = "recently-used.xbel"

// DefaultPath returns $XDG_DATA_HOME/recently-used.xbel.
func DefaultPath() string {
	return filepath.Join(xdg.DataHome, DefaultFileName)
}

// Adapter is a registry backed by one XBEL file.
type Adapter struct {
	fs   afero.Fs
	path string
	log  *logging.Logger

	// mu serialises read-modify-write cycles from this process.
	mu sync.Mutex
}

var _ registry.Adapter = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger used for notification errors.
func WithLogger(l *logging.Logger) Option {
	return func(a *Adapter) {
		a.log = l
	}
}

// Open returns an adapter for the XBEL file at path. The file itself may not
// exist yet, but its directory must. An existing file must parse.
func Open(fs afero.Fs, path string, opts ...Option) (*Adapter, error) {
	a := &Adapter{fs: fs, path: path, log: logging.Nop()}
	for _, opt := range opts {
		opt(a)
	}

	dir := filepath.Dir(path)
	info, err := fs.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", registry.ErrUnavailable, path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s: parent is not a directory", registry.ErrUnavailable, path)
	}

	if _, _, err := a.read(); err != nil {
		return nil, fmt.Errorf("%w: %v", registry.ErrUnavailable, err)
	}
	return a, nil
}

// OpenFunc adapts Open for registry.Discover.
func OpenFunc(fs afero.Fs, opts ...Option) registry.OpenFunc {
	return func(path string) (registry.Adapter, error) {
		return Open(fs, path, opts...)
	}
}

// Name returns the file path.
func (a *Adapter) Name() string {
	return a.path
}

// BackingFile returns the XBEL file path.
func (a *Adapter) BackingFile() (string, bool) {
	return a.path, true
}

// List returns the entries currently in the file.
func (a *Adapter) List(_ context.Context) ([]registry.Entry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, marks, err := a.read()
	if err != nil {
		return nil, err
	}
	entries := make([]registry.Entry, len(marks))
	for i, m := range marks {
		entries[i] = m.entry
	}
	return entries, nil
}

// Remove deletes every bookmark whose href equals uri.
func (a *Adapter) Remove(_ context.Context, uri string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	data, marks, err := a.read()
	if err != nil {
		return err
	}

	var doomed []bookmark
	for _, m := range marks {
		if m.entry.URI == uri {
			doomed = append(doomed, m)
		}
	}
	if len(doomed) == 0 {
		return fmt.Errorf("%w: %s", registry.ErrNotFound, a.path)
	}
	return a.write(excise(data, doomed))
}

// Purge deletes every bookmark.
func (a *Adapter) Purge(_ context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	data, marks, err := a.read()
	if err != nil {
		return 0, err
	}
	if len(marks) == 0 {
		return 0, nil
	}
	return len(marks), a.write(excise(data, marks))
}

// Subscribe signals on any change to the file. Mode-only changes are
// ignored; they come from the permission enforcer and do not alter the entry
// set.
func (a *Adapter) Subscribe() (*registry.Subscription, error) {
	return registry.WatchFile(a.path, a.log)
}

// read returns the raw document and its bookmarks. A missing file is an
// empty registry.
func (a *Adapter) read() ([]byte, []bookmark, error) {
	data, err := afero.ReadFile(a.fs, a.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("xbel: read %s: %w", a.path, err)
	}
	marks, err := scan(data)
	if err != nil {
		return nil, nil, fmt.Errorf("xbel: %s: %w", a.path, err)
	}
	return data, marks, nil
}

// write replaces the file atomically, keeping its current mode.
func (a *Adapter) write(data []byte) error {
	mode := os.FileMode(0o600)
	if info, err := a.fs.Stat(a.path); err == nil {
		mode = info.Mode().Perm()
	}

	dir := filepath.Dir(a.path)
	tmp, err := afero.TempFile(a.fs, dir, "."+filepath.Base(a.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("xbel: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = a.fs.Remove(tmpPath)
		return fmt.Errorf("xbel: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = a.fs.Remove(tmpPath)
		return fmt.Errorf("xbel: close temp file: %w", err)
	}
	if err := a.fs.Chmod(tmpPath, mode); err != nil {
		_ = a.fs.Remove(tmpPath)
		return fmt.Errorf("xbel: chmod temp file: %w", err)
	}
	if err := a.fs.Rename(tmpPath, a.path); err != nil {
		_ = a.fs.Remove(tmpPath)
		return fmt.Errorf("xbel: atomic rename %s: %w", a.path, err)
	}
	return nil
}
