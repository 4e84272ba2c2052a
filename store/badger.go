package store

import (
	"context"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/nymote/irminsule/key"
	"github.com/nymote/irminsule/value"
)

// Badger is an embedded-KV backend over dgraph's badger.  One badger
// instance holds all three stores under distinct key prefixes:
//
//	v/<digest>          canonical value bytes
//	t/<name>            tag binding, raw digest
//	gv/<digest>         graph vertex marker
//	gp/<succ><pred>     predecessor edge index
//	gs/<pred><succ>     successor edge index
type Badger struct {
	db *badger.DB
}

// BadgerConfig mirrors the knobs we expose; InMemory is for tests.
type BadgerConfig struct {
	Path       string
	InMemory   bool
	SyncWrites bool
}

func OpenBadger(cfg BadgerConfig) (b *Badger, err error) {
	opts := badger.DefaultOptions(cfg.Path)
	opts = opts.WithInMemory(cfg.InMemory)
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger")
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

func (b *Badger) Stores() Stores {
	return Stores{
		Keys:   &badgerKeys{b},
		Values: &badgerValues{b},
		Tags:   &badgerTags{b},
	}
}

func bkey(prefix string, parts ...[]byte) []byte {
	out := []byte(prefix)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func (b *Badger) setNX(k, v []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, v)
	})
}

func (b *Badger) get(k []byte) (v []byte, ok bool, err error) {
	err = b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		ok = true
		v, err = item.ValueCopy(nil)
		return err
	})
	return v, ok, err
}

// scan calls fn with the suffix of every key under prefix.
func (b *Badger) scan(prefix []byte, fn func(suffix []byte)) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().KeyCopy(nil)
			fn(k[len(prefix):])
		}
		return nil
	})
}

type badgerKeys struct{ b *Badger }

func (s *badgerKeys) AddKey(ctx context.Context, k key.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.b.setNX(bkey("gv/", k), nil)
}

func (s *badgerKeys) AddRelation(ctx context.Context, pred, succ key.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.b.db.Update(func(txn *badger.Txn) error {
		for _, k := range [][]byte{
			bkey("gv/", pred),
			bkey("gv/", succ),
			bkey("gp/", succ, pred),
			bkey("gs/", pred, succ),
		} {
			if err := txn.Set(k, nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *badgerKeys) List(ctx context.Context) (keys []key.Key, err error) {
	if err = ctx.Err(); err != nil {
		return nil, err
	}
	err = s.b.scan([]byte("gv/"), func(suffix []byte) {
		keys = append(keys, key.Key(suffix))
	})
	key.Sort(keys)
	return keys, err
}

func (s *badgerKeys) Pred(ctx context.Context, k key.Key) (keys []key.Key, err error) {
	if err = ctx.Err(); err != nil {
		return nil, err
	}
	err = s.b.scan(bkey("gp/", k), func(suffix []byte) {
		keys = append(keys, key.Key(suffix))
	})
	return keys, err
}

func (s *badgerKeys) Succ(ctx context.Context, k key.Key) (keys []key.Key, err error) {
	if err = ctx.Err(); err != nil {
		return nil, err
	}
	err = s.b.scan(bkey("gs/", k), func(suffix []byte) {
		keys = append(keys, key.Key(suffix))
	})
	return keys, err
}

type badgerValues struct{ b *Badger }

func (s *badgerValues) Write(ctx context.Context, v *value.Value) (k key.Key, err error) {
	if err = ctx.Err(); err != nil {
		return nil, err
	}
	k = v.Key()
	err = s.b.setNX(bkey("v/", k), v.Encode())
	if err != nil {
		return nil, err
	}
	return k, nil
}

func (s *badgerValues) Read(ctx context.Context, k key.Key) (v *value.Value, ok bool, err error) {
	if err = ctx.Err(); err != nil {
		return nil, false, err
	}
	buf, ok, err := s.b.get(bkey("v/", k))
	if err != nil || !ok {
		return nil, false, err
	}
	v, _, err = value.Decode(buf)
	if err != nil {
		return nil, false, err
	}
	if !v.Key().Equal(k) {
		return nil, false, &IntegrityError{Want: k, Got: v.Key()}
	}
	return v, true, nil
}

type badgerTags struct{ b *Badger }

func (s *badgerTags) Update(ctx context.Context, t Tag, k key.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.b.setNX(bkey("t/", []byte(t)), k)
}

func (s *badgerTags) Remove(ctx context.Context, t Tag) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.b.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(bkey("t/", []byte(t)))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

func (s *badgerTags) Read(ctx context.Context, t Tag) (k key.Key, ok bool, err error) {
	if err = ctx.Err(); err != nil {
		return nil, false, err
	}
	buf, ok, err := s.b.get(bkey("t/", []byte(t)))
	if err != nil || !ok {
		return nil, false, err
	}
	return key.Key(buf), true, nil
}

func (s *badgerTags) List(ctx context.Context) (tags []Tag, err error) {
	if err = ctx.Err(); err != nil {
		return nil, err
	}
	err = s.b.scan([]byte("t/"), func(suffix []byte) {
		tags = append(tags, Tag(suffix))
	})
	return tags, err
}
