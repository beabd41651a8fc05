// Package storage implements ports.DecisionStore on an embedded badger
// database and in memory.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/ahrav/go-arbiter/internal/domain"
	"github.com/ahrav/go-arbiter/internal/ports"
)

// keyPrefix namespaces decision snapshots inside the database.
const keyPrefix = "decisions/"

// Config configures a BadgerStore.
type Config struct {
	// Path is the data directory. Required unless InMemory is set.
	Path string
	// InMemory keeps the database in memory; nothing survives Close.
	InMemory bool
	// SyncWrites fsyncs every write.
	SyncWrites bool
	// GCInterval runs value log GC periodically. Zero disables it.
	GCInterval time.Duration
	// GCDiscardRatio is passed to RunValueLogGC.
	GCDiscardRatio float64
	// Logger receives badger's internal logs. Nil silences them.
	Logger *zap.Logger
}

// DefaultConfig returns a durable on-disk configuration for path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration suitable for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// zapLogger adapts zap to badger.Logger.
type zapLogger struct {
	s *zap.SugaredLogger
}

func (l zapLogger) Errorf(format string, args ...any) { l.s.Errorf(strings.TrimSpace(format), args...) }

func (l zapLogger) Warningf(format string, args ...any) {
	l.s.Warnf(strings.TrimSpace(format), args...)
}

func (l zapLogger) Infof(format string, args ...any) { l.s.Infof(strings.TrimSpace(format), args...) }

func (l zapLogger) Debugf(format string, args ...any) {
	l.s.Debugf(strings.TrimSpace(format), args...)
}

var _ ports.DecisionStore = (*BadgerStore)(nil)

// BadgerStore persists session snapshots as JSON values in badger.
type BadgerStore struct {
	db     *badger.DB
	logger *zap.Logger

	stopGC chan struct{}
	gcDone chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// OpenBadger opens or creates the database described by cfg.
func OpenBadger(cfg Config) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
		opts = opts.WithLogger(nil)
	} else {
		opts = opts.WithLogger(zapLogger{s: logger.Named("badger").Sugar()})
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}

	s := &BadgerStore{db: db, logger: logger, closed: make(chan struct{})}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

func (s *BadgerStore) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			if err := s.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("badger value log GC failed", zap.Error(err))
			}
		}
	}
}

func (s *BadgerStore) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Load returns the snapshot stored under key.
func (s *BadgerStore) Load(ctx context.Context, key string) (domain.SessionSnapshot, bool, error) {
	if err := s.check(ctx); err != nil {
		return domain.SessionSnapshot{}, false, ports.NewStoreError(key, "load", err)
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.SessionSnapshot{}, false, nil
	}
	if err != nil {
		return domain.SessionSnapshot{}, false, ports.NewStoreError(key, "load", err)
	}

	snap, err := decodeSnapshot(data)
	if err != nil {
		return domain.SessionSnapshot{}, false, ports.NewStoreError(key, "load", err)
	}
	return snap, true, nil
}

// Save replaces the snapshot stored under key.
func (s *BadgerStore) Save(ctx context.Context, key string, snapshot domain.SessionSnapshot) error {
	if err := s.check(ctx); err != nil {
		return ports.NewStoreError(key, "save", err)
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return ports.NewStoreError(key, "save", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+key), data)
	})
	if err != nil {
		return ports.NewStoreError(key, "save", err)
	}
	return nil
}

// Delete removes the snapshot stored under key.
func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	if err := s.check(ctx); err != nil {
		return ports.NewStoreError(key, "delete", err)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + key))
	})
	if err != nil {
		return ports.NewStoreError(key, "delete", err)
	}
	return nil
}

// Keys lists every stored key in sorted order.
func (s *BadgerStore) Keys(ctx context.Context) ([]string, error) {
	if err := s.check(ctx); err != nil {
		return nil, ports.NewStoreError("", "keys", err)
	}
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, strings.TrimPrefix(string(it.Item().Key()), keyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, ports.NewStoreError("", "keys", err)
	}
	slices.Sort(keys)
	return keys, nil
}

// Close stops background GC and closes the database. Further calls fail
// with ports.ErrStoreClosed.
func (s *BadgerStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.stopGC != nil {
			close(s.stopGC)
			<-s.gcDone
		}
		err = s.db.Close()
	})
	return err
}

func (s *BadgerStore) check(ctx context.Context) error {
	if s.isClosed() {
		return ports.ErrStoreClosed
	}
	return ctx.Err()
}

// decodeSnapshot parses a stored snapshot. Snapshots written before labels
// and feedbacks existed decode with empty maps.
func decodeSnapshot(data []byte) (domain.SessionSnapshot, error) {
	snap := domain.NewSessionSnapshot()
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.SessionSnapshot{}, fmt.Errorf("%w: %v", ports.ErrStoreCorrupted, err)
	}
	if snap.Version == "" {
		return domain.SessionSnapshot{}, fmt.Errorf("%w: missing version", ports.ErrStoreCorrupted)
	}
	return snap, nil
}
