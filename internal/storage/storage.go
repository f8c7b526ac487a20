// Package storage persists the trained model as a single artifact bundle.
// It uses BoltDB as the underlying storage engine: the classifier, the scaler,
// the feature order and a manifest live as JSON values in one bucket of one
// file, written in a single transaction.
//
// A bundle is replaced atomically. Save writes a complete database to a
// temporary file next to the target and renames it into place, so a reader
// sees either the previous bundle or the new one, never a mix.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"

	"titanic-predictor/internal/ml"
)

const (
	// FileName is the bundle file inside the artifact directory.
	FileName = "titanic-model.db"

	artifactsBucket = "artifacts"

	classifierKey = "classifier"
	scalerKey     = "scaler"
	featuresKey   = "features"
	manifestKey   = "manifest"

	openTimeout = 1 * time.Second
)

// ErrArtifactLoad is matched by every error returned from Load.
var ErrArtifactLoad = errors.New("artifact load failed")

// ArtifactLoadError describes why a bundle could not be loaded.
type ArtifactLoadError struct {
	Path string
	Err  error
}

func (e *ArtifactLoadError) Error() string {
	return fmt.Sprintf("load artifacts from %s: %v", e.Path, e.Err)
}

func (e *ArtifactLoadError) Unwrap() error { return e.Err }

// Is reports ErrArtifactLoad as a match so callers can test the kind without
// caring about the cause.
func (e *ArtifactLoadError) Is(target error) bool { return target == ErrArtifactLoad }

// Store reads and writes the bundle file in one directory.
type Store struct {
	dir string
}

// New returns a store rooted at dir. Nothing is touched on disk until Save
// or Load.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Path is the full path of the bundle file.
func (s *Store) Path() string {
	return filepath.Join(s.dir, FileName)
}

// Exists reports whether a bundle file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

// Save validates b and atomically replaces the bundle file with it.
func (s *Store) Save(b *Bundle) error {
	if err := b.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid bundle: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary bundle: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	db, err := bbolt.Open(tmpPath, 0o600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return fmt.Errorf("failed to open temporary bundle: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(artifactsBucket))
		if err != nil {
			return fmt.Errorf("create artifacts bucket: %w", err)
		}
		values := []struct {
			key string
			v   any
		}{
			{classifierKey, b.Forest},
			{scalerKey, b.Scaler},
			{featuresKey, b.Features},
			{manifestKey, b.Manifest},
		}
		for _, kv := range values {
			data, err := json.Marshal(kv.v)
			if err != nil {
				return fmt.Errorf("marshal %s: %w", kv.key, err)
			}
			if err := bucket.Put([]byte(kv.key), data); err != nil {
				return fmt.Errorf("put %s: %w", kv.key, err)
			}
		}
		return nil
	})
	if closeErr := db.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close temporary bundle: %w", closeErr)
	}
	if err != nil {
		return fmt.Errorf("failed to write bundle: %w", err)
	}

	if err := os.Rename(tmpPath, s.Path()); err != nil {
		return fmt.Errorf("failed to install bundle: %w", err)
	}
	committed = true

	log.Info().
		Str("path", s.Path()).
		Int("trees", len(b.Forest.Trees)).
		Int("format_version", b.Manifest.FormatVersion).
		Msg("Artifact bundle saved")
	return nil
}

// Load reads and validates the bundle. Every failure is an
// *ArtifactLoadError, including the panics bbolt raises on damaged pages.
func (s *Store) Load() (bundle *Bundle, err error) {
	path := s.Path()
	fail := func(err error) (*Bundle, error) {
		return nil, &ArtifactLoadError{Path: path, Err: err}
	}
	defer func() {
		if r := recover(); r != nil {
			bundle, err = fail(fmt.Errorf("corrupt database: %v", r))
		}
	}()

	if _, err := os.Stat(path); err != nil {
		return fail(err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: openTimeout, ReadOnly: true})
	if err != nil {
		return fail(fmt.Errorf("open database: %w", err))
	}
	defer db.Close()

	b := &Bundle{
		Forest: &ml.RandomForest{},
		Scaler: ml.NewStandardScaler(),
	}
	err = db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(artifactsBucket))
		if bucket == nil {
			return fmt.Errorf("bucket %q not found", artifactsBucket)
		}
		targets := []struct {
			key string
			v   any
		}{
			{manifestKey, &b.Manifest},
			{featuresKey, &b.Features},
			{scalerKey, b.Scaler},
			{classifierKey, b.Forest},
		}
		for _, kv := range targets {
			// bbolt values are only valid inside the transaction; Unmarshal copies.
			data := bucket.Get([]byte(kv.key))
			if data == nil {
				return fmt.Errorf("key %q not found", kv.key)
			}
			if err := json.Unmarshal(data, kv.v); err != nil {
				return fmt.Errorf("decode %s: %w", kv.key, err)
			}
		}
		return nil
	})
	if err != nil {
		return fail(err)
	}
	if err := b.Validate(); err != nil {
		return fail(err)
	}

	log.Debug().Str("path", path).Time("trained_at", b.Manifest.TrainedAt).Msg("Artifact bundle loaded")
	return b, nil
}
