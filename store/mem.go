package store

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/nymote/irminsule/key"
	"github.com/nymote/irminsule/value"
)

// Mem is the reference in-memory backend.  One mutex per store; keys
// are immutable once inserted so readers copy nothing but slices.

type MemKeyStore struct {
	mu    sync.Mutex
	keys  map[string]key.Key
	preds map[string][]key.Key
	succs map[string][]key.Key
}

func NewMemKeyStore() *MemKeyStore {
	return &MemKeyStore{
		keys:  make(map[string]key.Key),
		preds: make(map[string][]key.Key),
		succs: make(map[string][]key.Key),
	}
}

func (s *MemKeyStore) AddKey(ctx context.Context, k key.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[string(k)] = k
	return nil
}

func (s *MemKeyStore) AddRelation(ctx context.Context, pred, succ key.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[string(pred)] = pred
	s.keys[string(succ)] = succ
	if hasKey(s.succs[string(pred)], succ) {
		return nil
	}
	s.succs[string(pred)] = append(s.succs[string(pred)], succ)
	s.preds[string(succ)] = append(s.preds[string(succ)], pred)
	return nil
}

func (s *MemKeyStore) List(ctx context.Context) (keys []key.Key, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		keys = append(keys, k)
	}
	key.Sort(keys)
	return keys, nil
}

func (s *MemKeyStore) Pred(ctx context.Context, k key.Key) ([]key.Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]key.Key{}, s.preds[string(k)]...), nil
}

func (s *MemKeyStore) Succ(ctx context.Context, k key.Key) ([]key.Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]key.Key{}, s.succs[string(k)]...), nil
}

// Has reports whether k is a known vertex.
func (s *MemKeyStore) Has(k key.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[string(k)]
	return ok
}

func hasKey(keys []key.Key, k key.Key) bool {
	for _, have := range keys {
		if have.Equal(k) {
			return true
		}
	}
	return false
}

type MemValueStore struct {
	mu     sync.Mutex
	values map[string]*value.Value
}

func NewMemValueStore() *MemValueStore {
	return &MemValueStore{values: make(map[string]*value.Value)}
}

func (s *MemValueStore) Write(ctx context.Context, v *value.Value) (key.Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k := v.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[string(k)]; !ok {
		s.values[string(k)] = v
		log.Debugf("mem value write %s", k)
	}
	return k, nil
}

func (s *MemValueStore) Read(ctx context.Context, k key.Key) (*value.Value, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[string(k)]
	return v, ok, nil
}

type MemTagStore struct {
	mu   sync.Mutex
	tags map[Tag]key.Key
	subs []chan TagEvent
}

func NewMemTagStore() *MemTagStore {
	return &MemTagStore{tags: make(map[Tag]key.Key)}
}

func (s *MemTagStore) Update(ctx context.Context, t Tag, k key.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[t] = k
	s.notify(TagEvent{Tag: t, Key: k})
	return nil
}

func (s *MemTagStore) Remove(ctx context.Context, t Tag) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, present := s.tags[t]
	delete(s.tags, t)
	if present {
		s.notify(TagEvent{Tag: t})
	}
	return nil
}

func (s *MemTagStore) Read(ctx context.Context, t Tag) (key.Key, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.tags[t]
	return k, ok, nil
}

func (s *MemTagStore) List(ctx context.Context) (tags []Tag, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for t := range s.tags {
		tags = append(tags, t)
	}
	return tags, nil
}

// WatchTags returns a channel of tag mutations.  The channel closes
// when ctx is cancelled.
func (s *MemTagStore) WatchTags(ctx context.Context) (<-chan TagEvent, error) {
	ch := make(chan TagEvent, 16)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub == ch {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

// notify sends ev without blocking; slow subscribers lose events.
// Callers hold s.mu, which also orders sends before any close.
func (s *MemTagStore) notify(ev TagEvent) {
	for _, sub := range s.subs {
		select {
		case sub <- ev:
		default:
			log.Debugf("tag watch subscriber full, dropping %v", ev.Tag)
		}
	}
}

// NewMem returns a Stores wired to fresh in-memory backends.
func NewMem() Stores {
	return Stores{
		Keys:   NewMemKeyStore(),
		Values: NewMemValueStore(),
		Tags:   NewMemTagStore(),
	}
}
