package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
)

// CollectionKey is the fixed key holding the serialized configuration list.
const CollectionKey = "CONFIGS"

var (
	ErrUnknownBackend = errors.New("unknown storage backend")
	ErrInvalidKey     = errors.New("invalid storage key")
)

// Storage is a synchronous key-value medium.
type Storage interface {
	// Get returns the value stored under key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Close releases the underlying resources.
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend string // memory|file|sqlite|badger|redis

	// Path is a directory for file/badger and a database file for sqlite.
	// An empty path gives badger an in-memory store.
	Path string

	Redis RedisConfig
}

// Open creates a Storage based on the backend name. An empty backend means "file".
func Open(opts Options) (Storage, error) {
	backend := opts.Backend
	if backend == "" {
		backend = "file"
	}

	switch backend {
	case "memory":
		return NewMemory(), nil
	case "file":
		if opts.Path == "" {
			return nil, fmt.Errorf("file backend requires a path")
		}
		return NewFile(opts.Path)
	case "sqlite":
		if opts.Path == "" {
			return nil, fmt.Errorf("sqlite backend requires a path")
		}
		path := opts.Path
		if filepath.Ext(path) == "" {
			path = filepath.Join(path, "tilemap.sqlite")
		}
		return NewSqlite(path)
	case "badger":
		return NewBadger(opts.Path)
	case "redis":
		return NewRedis(opts.Redis)
	default:
		return nil, fmt.Errorf("%w: %s (supported: memory, file, sqlite, badger, redis)", ErrUnknownBackend, backend)
	}
}

func checkKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return nil
}
