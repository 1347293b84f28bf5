package tokenstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/jrsteele09/learnbox-auth/internal/errors"
	"github.com/jrsteele09/learnbox-auth/tenants"
	"github.com/rs/zerolog/log"
)

var (
	_ Store       = (*File)(nil)
	_ Preferences = (*File)(nil)
	_ Watcher     = (*File)(nil)
)

const fileMode = 0o600

// File keeps the record in a JSON file shared by every process pointing at the
// same path. Writes go through a temp file and rename.
type File struct {
	path       string
	tenantPath string
	lock       sync.Mutex
}

func NewFile(path string) *File {
	path = filepath.Clean(path)
	return &File{
		path:       path,
		tenantPath: strings.TrimSuffix(path, filepath.Ext(path)) + ".tenant",
	}
}

func (f *File) Path() string {
	return f.path
}

func (f *File) Save(_ context.Context, rec Record) error {
	data, err := encode(rec)
	if err != nil {
		return err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	return writeAtomic(f.path, data)
}

func (f *File) Load(_ context.Context) (*Record, error) {
	f.lock.Lock()
	data, err := os.ReadFile(f.path)
	f.lock.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	return decode(data)
}

func (f *File) Clear(_ context.Context) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

func (f *File) SelectedTenant(_ context.Context) (tenants.Selection, error) {
	data, err := os.ReadFile(f.tenantPath)
	if errors.Is(err, os.ErrNotExist) {
		return tenants.SelectionNone, nil
	}
	if err != nil {
		return tenants.SelectionNone, fmt.Errorf("failed to read selected tenant: %w", err)
	}
	return tenants.Selection(data).Normalize(), nil
}

func (f *File) SetSelectedTenant(_ context.Context, sel tenants.Selection) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	return writeAtomic(f.tenantPath, []byte(sel.String()))
}

// Watch reports changes to the session file made by any process. The
// directory is watched so that replacement by rename is seen.
func (f *File) Watch(ctx context.Context) (<-chan Change, error) {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	changes := make(chan Change, 1)
	go func() {
		defer close(changes)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != f.path {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
					!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
					continue
				}
				_, statErr := os.Stat(f.path)
				change := Change{Cleared: errors.Is(statErr, os.ErrNotExist)}
				select {
				case changes <- change:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Str("path", f.path).Msg("session file watcher error")
			}
		}
	}()
	return changes, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
