package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/custodia-labs/graphgate/internal/core/domain"
)

// File is a SecretVault backed by a JSON file of key -> secret pairs. A
// watcher reloads the file when an operator (or rotation tooling) rewrites
// it, so rotated client secrets take effect without a restart.
//
// The file is expected to be protected by filesystem permissions; the
// adapter enforces 0600 on writes.
type File struct {
	path string
	log  zerolog.Logger

	mu      sync.RWMutex
	secrets map[string]domain.Secret

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFile opens (creating if missing) the secrets file at path and starts
// the rotation watcher.
func NewFile(path string, log zerolog.Logger) (*File, error) {
	f := &File{
		path:    path,
		log:     log,
		secrets: make(map[string]domain.Secret),
		done:    make(chan struct{}),
	}

	if err := f.load(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load secrets file: %w", err)
		}
		if err := f.flush(); err != nil {
			return nil, fmt.Errorf("create secrets file: %w", err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory, not the file: editors and rotation tools
	// replace the file by rename, which drops a direct file watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch secrets dir: %w", err)
	}
	f.watcher = watcher
	go f.watch()

	return f, nil
}

// StoreSecret implements driven.SecretVault.
func (f *File) StoreSecret(_ context.Context, key string, value domain.Secret) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.secrets[key] = value
	if err := f.flushLocked(); err != nil {
		return &domain.VaultError{Op: "store", Key: key, Err: err}
	}
	return nil
}

// FetchSecret implements driven.SecretVault.
func (f *File) FetchSecret(_ context.Context, key string) (domain.Secret, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	value, ok := f.secrets[key]
	if !ok {
		return "", &domain.VaultError{Op: "fetch", Key: key, Err: domain.ErrSecretNotFound}
	}
	return value, nil
}

// DeleteSecret implements driven.SecretVault.
func (f *File) DeleteSecret(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.secrets[key]; !ok {
		return nil
	}
	delete(f.secrets, key)
	if err := f.flushLocked(); err != nil {
		return &domain.VaultError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// Close stops the rotation watcher.
func (f *File) Close() error {
	close(f.done)
	return f.watcher.Close()
}

// watch reloads the secrets file when it changes on disk.
func (f *File) watch() {
	for {
		select {
		case <-f.done:
			return
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(f.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := f.load(); err != nil {
				f.log.Warn().Err(err).Msg("reload secrets file")
				continue
			}
			f.log.Info().Msg("secrets file reloaded")
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.log.Warn().Err(err).Msg("secrets watcher error")
		}
	}
}

func (f *File) load() error {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return err
	}
	loaded := make(map[string]domain.Secret)
	if len(raw) > 0 {
		plain := make(map[string]string)
		if err := json.Unmarshal(raw, &plain); err != nil {
			return err
		}
		for k, v := range plain {
			loaded[k] = domain.Secret(v)
		}
	}

	f.mu.Lock()
	f.secrets = loaded
	f.mu.Unlock()
	return nil
}

func (f *File) flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushLocked()
}

// flushLocked writes the current secrets with owner-only permissions.
// Callers hold f.mu. Secrets are written raw here: domain.Secret redacts
// on JSON marshal, so the map is converted first.
func (f *File) flushLocked() error {
	plain := make(map[string]string, len(f.secrets))
	for k, v := range f.secrets {
		plain[k] = v.Reveal()
	}
	raw, err := json.MarshalIndent(plain, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, raw, 0o600)
}
