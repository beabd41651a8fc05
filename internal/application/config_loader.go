package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-arbiter/internal/ports"
)

var _ ports.ConfigLoader = (*FileConfigLoader)(nil)

// FileConfigLoader reads Config from a YAML file with strict decoding and
// validates it. It implements ports.ConfigLoader.
type FileConfigLoader struct {
	path      string
	validator *validator.Validate
	logger    *zap.Logger
}

// NewFileConfigLoader creates a loader for path.
// NewFileConfigLoader returns an error if validator registration fails.
func NewFileConfigLoader(path string, logger *zap.Logger) (*FileConfigLoader, error) {
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileConfigLoader{path: filepath.Clean(path), validator: v, logger: logger}, nil
}

// Path returns the file the loader reads.
func (l *FileConfigLoader) Path() string { return l.path }

// Load reads the file into config, which must be a *Config. Fields absent
// from the file keep the values config already holds, so callers usually
// pass a pointer to DefaultConfig(). A missing file is reported as
// ports.ErrConfigNotFound.
func (l *FileConfigLoader) Load(ctx context.Context, config any) error {
	cfg, ok := config.(*Config)
	if !ok {
		return ports.NewConfigError(l.path, fmt.Errorf("unsupported config type %T", config))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ports.NewConfigError(l.path, ports.ErrConfigNotFound)
		}
		return ports.NewConfigError(l.path, fmt.Errorf("failed to read file: %w", err))
	}

	next := *cfg
	if err := DecodeConfig(bytes.NewReader(data), &next); err != nil {
		return ports.NewConfigError(l.path, err)
	}
	if err := l.validator.Struct(&next); err != nil {
		return ports.NewConfigError(l.path, fmt.Errorf("struct validation failed: %w", err))
	}
	*cfg = next
	return nil
}

// Watch reloads the file after every debounced change and passes the new
// *Config to callback. Invalid edits are logged and skipped; the callback
// only ever sees validated configuration. The returned stop function ends
// watching and waits for the watcher goroutine to exit.
func (l *FileConfigLoader) Watch(ctx context.Context, config any, callback func(any)) (func(), error) {
	base, ok := config.(*Config)
	if !ok {
		return nil, ports.NewConfigError(l.path, fmt.Errorf("unsupported config type %T", config))
	}
	seed := *base

	fw := NewFileWatcher(l.path, DefaultDebounce, l.logger)
	err := fw.Start(ctx, func() {
		next := seed
		if err := l.Load(ctx, &next); err != nil {
			l.logger.Warn("ignoring invalid configuration change", zap.String("path", l.path), zap.Error(err))
			return
		}
		l.logger.Info("configuration reloaded", zap.String("path", l.path))
		callback(&next)
	})
	if err != nil {
		return nil, ports.NewConfigError(l.path, err)
	}
	return fw.Stop, nil
}

// DecodeConfig strictly decodes YAML into cfg, failing on unknown fields
// so typos are not silently ignored. An empty document leaves cfg as is.
func DecodeConfig(r io.Reader, cfg *Config) error {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("YAML decode failed: %w", err)
	}
	return nil
}
