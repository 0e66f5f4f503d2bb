// Package settings persists the user-facing switches to a YAML file and
// picks up edits made to that file while the daemon runs.
package settings

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Settings are the switches a settings panel exposes.
type Settings struct {
	Enabled       bool `yaml:"enabled" json:"enabled"`
	AutoUpdateURL bool `yaml:"auto_update_url" json:"autoUpdateUrl"`
}

// reloadDelay coalesces the burst of events an editor save produces.
const reloadDelay = 100 * time.Millisecond

type File struct {
	path   string
	logger zerolog.Logger

	mu   sync.Mutex
	last Settings
}

// Open loads path, writing defaults there first when the file does not exist.
func Open(path string, defaults Settings, logger zerolog.Logger) (*File, Settings, error) {
	f := &File{path: path, logger: logger}
	current, err := f.Load()
	if errors.Is(err, fs.ErrNotExist) {
		if err := f.Save(defaults); err != nil {
			return nil, Settings{}, err
		}
		return f, defaults, nil
	}
	if err != nil {
		return nil, Settings{}, err
	}
	return f, current, nil
}

func (f *File) Path() string {
	return f.path
}

// Load reads the file. Keys missing from the file keep their zero value.
func (f *File) Load() (Settings, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return Settings{}, err
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parse %s: %w", f.path, err)
	}
	f.mu.Lock()
	f.last = s
	f.mu.Unlock()
	return s, nil
}

// Save replaces the file atomically.
func (f *File) Save(s Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp settings file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace settings file: %w", err)
	}
	f.last = s
	return nil
}

// Watch calls apply whenever the file changes to something other than what
// was last loaded or saved. It blocks until ctx is done. The directory is
// watched rather than the file because editors replace files on save.
func (f *File) Watch(ctx context.Context, apply func(Settings)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(f.path), err)
	}
	f.logger.Info().Str("path", f.path).Msg("watching settings file")

	target := filepath.Clean(f.path)
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				pending = time.After(reloadDelay)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn().Err(err).Msg("settings watcher error")

		case <-pending:
			pending = nil
			f.reload(apply)
		}
	}
}

func (f *File) reload(apply func(Settings)) {
	f.mu.Lock()
	before := f.last
	f.mu.Unlock()

	next, err := f.Load()
	if err != nil {
		// A half-written file or a rename in flight; the next event retries.
		f.logger.Debug().Err(err).Msg("reload settings")
		return
	}
	if next == before {
		return
	}
	f.logger.Info().Bool("enabled", next.Enabled).Bool("auto_update_url", next.AutoUpdateURL).Msg("settings file changed")
	apply(next)
}
