package diagram

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStore checks the behavior every backend shares.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "acme/widgets")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "acme/widgets", []byte(`{"diagram":"v1"}`)))
	got, err := s.Get(ctx, "acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, `{"diagram":"v1"}`, string(got))

	require.NoError(t, s.Put(ctx, "acme/widgets", []byte(`{"diagram":"v2"}`)))
	got, err = s.Get(ctx, "acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, `{"diagram":"v2"}`, string(got), "put overwrites")

	_, err = s.Get(ctx, "acme/gadgets")
	assert.ErrorIs(t, err, ErrNotFound)

	for _, bad := range []string{"", "  ", "../etc/passwd", "acme/../x", "acme//x"} {
		assert.ErrorIs(t, s.Put(ctx, bad, []byte("x")), ErrInvalidKey, bad)
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	exerciseStore(t, s)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStoreCopiesContent(t *testing.T) {
	s := NewMemoryStore()
	buf := []byte("abc")
	require.NoError(t, s.Put(context.Background(), "a/b", buf))
	buf[0] = 'z'
	got, err := s.Get(context.Background(), "a/b")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestDiskStore(t *testing.T) {
	root := t.TempDir()
	s := NewDiskStore(root)
	exerciseStore(t, s)

	_, err := os.Stat(filepath.Join(root, "acme", "widgets.json"))
	assert.NoError(t, err)
}

func TestDiskStoreRequiresRoot(t *testing.T) {
	err := NewDiskStore("  ").Put(context.Background(), "a/b", []byte("x"))
	assert.Error(t, err)
}

func TestBadgerStoreInMemory(t *testing.T) {
	s, err := OpenBadgerStore(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	exerciseStore(t, s)
}

func TestBadgerStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenBadgerStore(BadgerConfig{Path: dir})
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), "acme/widgets", []byte("kept")))
	require.NoError(t, s.Close())

	s, err = OpenBadgerStore(BadgerConfig{Path: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	got, err := s.Get(context.Background(), "acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, "kept", string(got))
}

func TestBadgerStoreHonorsCanceledContext(t *testing.T) {
	s, err := OpenBadgerStore(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Put(ctx, "a/b", []byte("x")), context.Canceled)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("CACHE_PG_DSN")
	if dsn == "" {
		t.Skip("CACHE_PG_DSN not set")
	}
	db, err := OpenPostgres(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, _ = db.Exec(`DELETE FROM diagram_cache WHERE repo_key IN ('acme/widgets', 'acme/gadgets')`)
	exerciseStore(t, NewPostgresStore(db))
}

func TestPostgresStoreNilDB(t *testing.T) {
	_, err := NewPostgresStore(nil).Get(context.Background(), "a/b")
	assert.ErrorIs(t, err, ErrNilStore)
}

func TestS3ConfigValidation(t *testing.T) {
	_, err := NewS3Store(S3Config{})
	assert.Error(t, err)
	_, err = NewS3Store(S3Config{Endpoint: "localhost:9000"})
	assert.Error(t, err)
	_, err = NewS3Store(S3Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"})
	assert.Error(t, err)

	s, err := NewS3Store(S3Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b", Bucket: "diagrams", Prefix: "/cache/"})
	require.NoError(t, err)
	assert.Equal(t, "cache/acme/widgets.json", s.objectKey("acme/widgets"))
}

func TestS3Store(t *testing.T) {
	endpoint := os.Getenv("CACHE_S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("CACHE_S3_ENDPOINT not set")
	}
	s, err := NewS3Store(S3Config{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("CACHE_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("CACHE_S3_SECRET_KEY"),
		Bucket:    "gitdiagram-test",
		Prefix:    t.Name() + "-" + strconv.FormatInt(time.Now().UnixNano(), 10),
	})
	require.NoError(t, err)
	exerciseStore(t, s)
}
