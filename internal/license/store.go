package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EnvVar overrides any stored license when set.
const EnvVar = "AEGISX_LICENSE_KEY"

// Provider is a source of a stored license string. A source with nothing
// stored reports found == false with a nil error.
type Provider interface {
	Load(ctx context.Context) (value string, found bool, err error)
	Name() string
}

// Writer is a Provider that can also persist and remove the license.
type Writer interface {
	Provider
	Save(ctx context.Context, value string) error
	Remove(ctx context.Context) error
}

// EnvProvider reads the license from an environment variable.
type EnvProvider struct {
	Var string
}

// NewEnvProvider returns a provider for EnvVar.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{Var: EnvVar}
}

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) Load(context.Context) (string, bool, error) {
	v := strings.TrimSpace(os.Getenv(p.Var))
	return v, v != "", nil
}

// FileProvider stores the license as a single plaintext line in a file.
// Save overwrites the file wholesale; concurrent writers are not
// coordinated and the last write wins.
type FileProvider struct {
	Path string
}

// NewFileProvider returns a provider for path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{Path: path}
}

// DefaultFilePath returns ~/.aegisx/license.
func DefaultFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, ".aegisx", "license"), nil
}

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) Load(context.Context) (string, bool, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read license file: %w", err)
	}
	v := strings.TrimSpace(string(data))
	return v, v != "", nil
}

func (p *FileProvider) Save(_ context.Context, value string) error {
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o700); err != nil {
		return fmt.Errorf("create license directory: %w", err)
	}
	if err := os.WriteFile(p.Path, []byte(strings.TrimSpace(value)+"\n"), 0o600); err != nil {
		return fmt.Errorf("write license file: %w", err)
	}
	return nil
}

// Remove deletes the license file. A missing file is not an error.
func (p *FileProvider) Remove(context.Context) error {
	if err := os.Remove(p.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove license file: %w", err)
	}
	return nil
}

// Watch calls onChange whenever the license file is written, created or
// removed, until ctx is done. The parent directory is watched so the file
// may come and go.
func (p *FileProvider) Watch(ctx context.Context, logger *slog.Logger, onChange func()) error {
	dir := filepath.Dir(p.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create license directory: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create license watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer w.Close()
		target := filepath.Clean(p.Path)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
					logger.Debug("license file changed", "path", ev.Name, "op", ev.Op.String())
					onChange()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("license watcher error", "error", err)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// MemoryProvider holds the license in memory.
type MemoryProvider struct {
	mu    sync.Mutex
	value string
}

// NewMemoryProvider returns a provider holding value ("" for none).
func NewMemoryProvider(value string) *MemoryProvider {
	return &MemoryProvider{value: value}
}

func (p *MemoryProvider) Name() string { return "memory" }

func (p *MemoryProvider) Load(context.Context) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.value != "", nil
}

func (p *MemoryProvider) Save(_ context.Context, value string) error {
	p.mu.Lock()
	p.value = strings.TrimSpace(value)
	p.mu.Unlock()
	return nil
}

func (p *MemoryProvider) Remove(context.Context) error {
	p.mu.Lock()
	p.value = ""
	p.mu.Unlock()
	return nil
}

// Chain tries providers in order and returns the first stored value.
type Chain []Provider

// DefaultChain resolves the environment override first, then the file.
func DefaultChain(file *FileProvider) Chain {
	return Chain{NewEnvProvider(), file}
}

// Resolve returns the first value found and the name of the provider that
// held it. found is false when no provider has a value; that is not an
// error. A provider error stops the walk.
func (c Chain) Resolve(ctx context.Context) (value, source string, found bool, err error) {
	for _, p := range c {
		v, ok, err := p.Load(ctx)
		if err != nil {
			return "", p.Name(), false, fmt.Errorf("%s provider: %w", p.Name(), err)
		}
		if ok {
			return v, p.Name(), true, nil
		}
	}
	return "", "", false, nil
}

// Writer returns the first provider in the chain that can persist a value.
func (c Chain) Writer() (Writer, bool) {
	for _, p := range c {
		if w, ok := p.(Writer); ok {
			return w, true
		}
	}
	return nil, false
}
