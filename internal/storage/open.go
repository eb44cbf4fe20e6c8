// Package storage provides persistent session.Store backends.
package storage

import (
	"context"
	"fmt"

	"hls-relay/internal/session"
)

// Kinds accepted by Open.
const (
	KindSQLite = "sqlite"
	KindRedis  = "redis"
	KindFile   = "file"
	KindMemory = "memory"
)

// Backend is a session.Store that holds resources.
type Backend interface {
	session.Store
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Kind       string
	SQLitePath string
	FilePath   string
	Redis      RedisConfig
}

// Open returns the backend named by opts.Kind.
func Open(ctx context.Context, opts Options) (Backend, error) {
	var (
		b   Backend
		err error
	)
	switch opts.Kind {
	case KindSQLite, "":
		b, err = openSQLiteBackend(opts.SQLitePath)
	case KindRedis:
		b, err = openRedisBackend(ctx, opts.Redis)
	case KindFile:
		b, err = openFileBackend(opts.FilePath)
	case KindMemory:
		b = memoryBackend{session.NewInMemoryStore()}
	default:
		err = fmt.Errorf("unknown session store %q", opts.Kind)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func openSQLiteBackend(path string) (Backend, error) {
	s, err := OpenSQLite(path, DefaultSQLiteConfig())
	if err != nil {
		return nil, err
	}
	return s, nil
}

func openRedisBackend(ctx context.Context, cfg RedisConfig) (Backend, error) {
	s, err := NewRedisStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func openFileBackend(path string) (Backend, error) {
	s, err := NewFileStore(path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

type memoryBackend struct {
	*session.InMemoryStore
}

func (memoryBackend) Close() error { return nil }
