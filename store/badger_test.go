package store

import (
	"context"
	"testing"

	"github.com/nymote/irminsule/value"
)

func setupBadger(t *testing.T) Stores {
	b, err := OpenBadger(BadgerConfig{InMemory: true})
	tassert(t, err == nil, "open badger: %v", err)
	t.Cleanup(func() { b.Close() })
	return b.Stores()
}

func TestBadgerStores(t *testing.T) {
	exerciseStores(t, setupBadger(t))
}

func TestBadgerPersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b, err := OpenBadger(BadgerConfig{Path: dir, SyncWrites: true})
	tassert(t, err == nil, "open: %v", err)
	s := b.Stores()
	blob := value.NewBlob([]byte("durable"))
	k, err := s.Put(ctx, blob)
	tassert(t, err == nil, "put: %v", err)
	err = b.Close()
	tassert(t, err == nil, "close: %v", err)

	b2, err := OpenBadger(BadgerConfig{Path: dir})
	tassert(t, err == nil, "reopen: %v", err)
	defer b2.Close()
	got, ok, err := b2.Stores().Values.Read(ctx, k)
	tassert(t, err == nil && ok, "value lost: %v", err)
	tassert(t, value.Equal(got, blob), "value changed across reopen")
}
