package diagram

import (
	"context"
	"path"
	"strings"

	"go.trai.ch/zerr"
)

// Store persists one opaque record per repository key ("owner/repo").
// Put overwrites whatever was stored before.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, content []byte) error
}

var (
	ErrNotFound   = zerr.New("diagram not found")
	ErrInvalidKey = zerr.New("invalid diagram key")
	ErrNilStore   = zerr.New("store is nil")
)

// normalizeKey trims the key and rejects anything that could escape a
// directory or bucket prefix.
func normalizeKey(key string) (string, error) {
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return "", zerr.Wrap(ErrInvalidKey, "key is required")
	}
	if strings.Contains(key, "\\") || path.Clean(key) != key {
		return "", zerr.With(zerr.Wrap(ErrInvalidKey, "key is not clean"), "key", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." {
			return "", zerr.With(zerr.Wrap(ErrInvalidKey, "key has relative segment"), "key", key)
		}
	}
	return key, nil
}
