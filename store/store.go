// Package store defines the three store contracts -- key graph,
// value, tag -- and their in-memory, on-disk and badger backends.
// Key and value contents are append-only; tags are the only mutable
// state.
package store

import (
	"context"
	"fmt"

	"github.com/nymote/irminsule/key"
	"github.com/nymote/irminsule/value"
)

// Tag is a human-chosen name bound to a key.
type Tag string

// KeyStore is an append-only DAG of keys.  Edges run predecessor to
// successor; unknown keys answer with empty slices rather than
// errors.  The graph may know keys whose values have not arrived yet.
type KeyStore interface {
	AddKey(ctx context.Context, k key.Key) error
	AddRelation(ctx context.Context, pred, succ key.Key) error
	List(ctx context.Context) ([]key.Key, error)
	Pred(ctx context.Context, k key.Key) ([]key.Key, error)
	Succ(ctx context.Context, k key.Key) ([]key.Key, error)
}

// ValueStore is a content-addressed immutable map.  Write is
// idempotent; Read returns ok == false for unknown keys.
type ValueStore interface {
	Write(ctx context.Context, v *value.Value) (key.Key, error)
	Read(ctx context.Context, k key.Key) (v *value.Value, ok bool, err error)
}

// TagStore is the mutable namespace.  Updates to a single tag are
// serialized; dangling tags are allowed.
type TagStore interface {
	Update(ctx context.Context, t Tag, k key.Key) error
	Remove(ctx context.Context, t Tag) error
	Read(ctx context.Context, t Tag) (k key.Key, ok bool, err error)
	List(ctx context.Context) ([]Tag, error)
}

// TagEvent reports one tag mutation.  Key is nil on removal.
type TagEvent struct {
	Tag Tag
	Key key.Key
}

// TagWatcher is implemented by tag stores that can notify on change.
type TagWatcher interface {
	WatchTags(ctx context.Context) (<-chan TagEvent, error)
}

// Stores bundles the three stores of one database instance.
type Stores struct {
	Keys   KeyStore
	Values ValueStore
	Tags   TagStore
}

// Put writes v and records its predecessor relations in the key
// graph, so succ queries see the new vertex immediately.
func (s Stores) Put(ctx context.Context, v *value.Value) (k key.Key, err error) {
	k, err = s.Values.Write(ctx, v)
	if err != nil {
		return nil, err
	}
	err = s.Keys.AddKey(ctx, k)
	if err != nil {
		return nil, err
	}
	for _, p := range v.Pred() {
		err = s.Keys.AddRelation(ctx, p, k)
		if err != nil {
			return nil, err
		}
	}
	return k, nil
}

// IntegrityError reports a value whose stored bytes no longer hash to
// its key.
type IntegrityError struct {
	Want key.Key
	Got  key.Key
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity: want %s got %s", e.Want, e.Got)
}

// NotDbError reports a directory that does not hold a database.
type NotDbError struct {
	Dir string
}

func (e *NotDbError) Error() string {
	return fmt.Sprintf("not a database: %s", e.Dir)
}

// ExistsError reports a non-empty directory handed to Create.
type ExistsError struct {
	Dir string
}

func (e *ExistsError) Error() string {
	return fmt.Sprintf("directory not empty: %s", e.Dir)
}
