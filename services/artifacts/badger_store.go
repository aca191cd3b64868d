// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Key spaces inside BadgerDB. Metadata and content live under separate
// prefixes so Stat never loads blob values.
const (
	metaPrefix = "meta:"
	blobPrefix = "blob:"
)

// Config holds configuration for the Badger-backed store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required for persistent databases. Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output.
	// If nil, BadgerDB logging is disabled.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Set to 0 to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	GCDiscardRatio float64

	// SigningSecret enables signed artifact URLs when non-empty.
	SigningSecret []byte
}

// DefaultConfig returns production defaults: synchronous writes, GC every
// five minutes at a 50% discard ratio.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests: in-memory mode, no
// sync, GC disabled.
func InMemoryConfig() Config {
	return Config{
		InMemory: true,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore implements Store on an embedded BadgerDB instance.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB transactions provide isolation.
type BadgerStore struct {
	db     *badger.DB
	signer *signer
	logger *slog.Logger

	gcStop chan struct{}
	gcDone chan struct{}
}

// Open creates a BadgerStore with the given configuration.
//
// Opens the database at the configured path (creating the directory if
// needed) or in memory, and starts the GC loop when configured.
// Callers must Close() the returned store.
func Open(cfg Config) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent artifact store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create artifact store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	s := &BadgerStore{
		db:     db,
		logger: cfg.Logger,
	}
	if len(cfg.SigningSecret) > 0 {
		s.signer = newSigner(cfg.SigningSecret)
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gcStop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}

	return s, nil
}

// Close stops the GC loop and closes the database.
func (s *BadgerStore) Close() error {
	if s.gcStop != nil {
		close(s.gcStop)
		<-s.gcDone
		s.gcStop = nil
	}
	return s.db.Close()
}

// Put writes content into a bucket and returns its metadata.
//
// The identifier has the form "file-<bucket>-<12 hex>-<unix ts>". The hex
// segment comes from a fresh UUID, so identifiers are never reused even
// for identical content written in the same second.
func (s *BadgerStore) Put(ctx context.Context, bucket Bucket, content []byte, ext string) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	if !bucket.Valid() {
		return Artifact{}, fmt.Errorf("%w: %q", ErrInvalidBucket, bucket)
	}
	if len(content) == 0 {
		return Artifact{}, ErrEmptyContent
	}

	entropy := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	now := time.Now().UTC()
	digest := sha256.Sum256(content)

	art := Artifact{
		ID:          fmt.Sprintf("file-%s-%s-%d", bucket, entropy, now.Unix()),
		Bucket:      bucket,
		SHA256:      hex.EncodeToString(digest[:]),
		Size:        int64(len(content)),
		ContentType: ContentTypeFor(strings.ToLower(ext)),
		CreatedAt:   now,
	}

	meta, err := json.Marshal(art)
	if err != nil {
		return Artifact{}, fmt.Errorf("marshal artifact metadata: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(metaPrefix+art.ID), meta); err != nil {
			return err
		}
		return txn.Set([]byte(blobPrefix+art.ID), content)
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("store artifact %s: %w", art.ID, err)
	}

	return art, nil
}

// Get returns the content and metadata for an artifact. The content is
// re-hashed and compared to the recorded digest; a mismatch returns
// ErrIntegrity without the content.
func (s *BadgerStore) Get(ctx context.Context, id string) ([]byte, Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, Artifact{}, err
	}

	var art Artifact
	var content []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metaPrefix + id))
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &art)
		}); err != nil {
			return fmt.Errorf("decode artifact metadata: %w", err)
		}

		blob, err := txn.Get([]byte(blobPrefix + id))
		if err != nil {
			return err
		}
		content, err = blob.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, Artifact{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, Artifact{}, fmt.Errorf("load artifact %s: %w", id, err)
	}

	digest := sha256.Sum256(content)
	if hex.EncodeToString(digest[:]) != art.SHA256 {
		return nil, Artifact{}, fmt.Errorf("%w: %s", ErrIntegrity, id)
	}

	return content, art, nil
}

// Stat returns metadata without loading the content.
func (s *BadgerStore) Stat(ctx context.Context, id string) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}

	var art Artifact
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metaPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &art)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Artifact{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("stat artifact %s: %w", id, err)
	}
	return art, nil
}

// Delete removes an artifact's metadata and content.
func (s *BadgerStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(metaPrefix + id)); err != nil {
			return err
		}
		if err := txn.Delete([]byte(metaPrefix + id)); err != nil {
			return err
		}
		return txn.Delete([]byte(blobPrefix + id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("delete artifact %s: %w", id, err)
	}
	return nil
}

// SignedURL returns a self-validating path for the artifact, or
// ErrSigningDisabled when no signing secret is configured.
func (s *BadgerStore) SignedURL(id string, ttl time.Duration) (string, error) {
	if s.signer == nil {
		return "", ErrSigningDisabled
	}
	token := s.signer.sign(id, time.Now().Add(ttl))
	return fmt.Sprintf("/api/v1/files/%s?token=%s", id, token), nil
}

// VerifyToken checks a signed URL token for the given artifact id.
// Always false when signing is not configured.
func (s *BadgerStore) VerifyToken(id, token string) bool {
	if s.signer == nil {
		return false
	}
	return s.signer.verify(id, token)
}

// Stats iterates metadata keys and returns per-bucket counts and the
// total stored size.
func (s *BadgerStore) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}

	stats := Stats{Counts: make(map[Bucket]int)}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(metaPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var art Artifact
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &art)
			}); err != nil {
				return err
			}
			stats.Counts[art.Bucket]++
			stats.TotalBytes += art.Size
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("collect artifact stats: %w", err)
	}
	return stats, nil
}

func (s *BadgerStore) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				if s.logger != nil {
					s.logger.Warn("artifact store GC error", slog.String("error", err.Error()))
				}
			}
		}
	}
}

var _ Store = (*BadgerStore)(nil)
