// Package cache stores compiled program images in SQLite, keyed by the
// SHA-256 of the source text.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chazu/venom/compiler"
	"github.com/chazu/venom/vm"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("venom.cache")

// ErrNotFound indicates no usable image is cached for the source.
var ErrNotFound = errors.New("image not cached")

// Store is a compiled image cache backed by a SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the cache database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS images (
		hash TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		image BLOB NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Key returns the cache key for source.
func Key(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached image for source. Entries written with a different
// image version are treated as missing.
func (s *Store) Get(ctx context.Context, source string) ([]byte, error) {
	var (
		version int
		image   []byte
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT version, image FROM images WHERE hash = ?", Key(source),
	).Scan(&version, &image)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying image: %w", err)
	}
	if version != vm.ImageVersion {
		log.Debugf("ignoring cached image with version %d", version)
		return nil, ErrNotFound
	}
	return image, nil
}

// Put stores image as the compiled form of source, replacing any previous entry.
func (s *Store) Put(ctx context.Context, source string, image []byte) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO images (hash, version, image, created_at) VALUES (?, ?, ?, ?)",
		Key(source), vm.ImageVersion, image, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving image: %w", err)
	}
	return nil
}

// Len returns the number of cached entries.
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM images").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting images: %w", err)
	}
	return n, nil
}

// Compile returns the program for source, decoding a cached image when one
// exists and compiling (then caching) otherwise. Compile errors are returned
// unchanged and never cached. A cached image that fails to decode is
// discarded and the source recompiled.
func (s *Store) Compile(ctx context.Context, source string) (*vm.Program, error) {
	image, err := s.Get(ctx, source)
	switch {
	case err == nil:
		prog, derr := vm.DecodeImage(image)
		if derr == nil {
			log.Debugf("cache hit %s", Key(source)[:12])
			return prog, nil
		}
		log.Warningf("discarding cached image: %s", derr)
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	prog, err := compiler.Compile(source)
	if err != nil {
		return nil, err
	}
	image, err = vm.EncodeImage(prog)
	if err != nil {
		prog.Release()
		return nil, err
	}
	if err := s.Put(ctx, source, image); err != nil {
		prog.Release()
		return nil, err
	}
	log.Debugf("cache store %s (%d bytes)", Key(source)[:12], len(image))
	return prog, nil
}
