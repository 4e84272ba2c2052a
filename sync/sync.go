// Package sync computes the minimum-transfer subgraphs behind pull
// and push and drives value transfer against a remote peer.
package sync

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/nymote/irminsule/graph"
	"github.com/nymote/irminsule/key"
	"github.com/nymote/irminsule/store"
	"github.com/nymote/irminsule/value"
)

// MaxPullVertices is the default safety cap on a single pull closure.
const MaxPullVertices = 1000000

// TagBinding pairs a tag with the key it names.
type TagBinding struct {
	Tag store.Tag
	Key key.Key
}

// PullTooLargeError reports a closure that hit the vertex cap.
type PullTooLargeError struct {
	Max int
}

func (e *PullTooLargeError) Error() string {
	return fmt.Sprintf("pull closure exceeds %d vertices", e.Max)
}

// Closure walks the key graph backwards from sinks, stopping descent
// at any key in roots, and returns the visited vertices with their
// induced edges.  With no roots the full ancestor set comes back.
func Closure(ctx context.Context, keys store.KeyStore, sinks, roots []key.Key, max int) (g *graph.Graph, err error) {
	if max <= 0 {
		max = MaxPullVertices
	}
	rootSet := make(map[string]bool, len(roots))
	for _, r := range roots {
		rootSet[string(r)] = true
	}

	g = graph.New()
	queue := make([]key.Key, 0, len(sinks))
	for _, s := range sinks {
		if rootSet[string(s)] {
			continue
		}
		queue = append(queue, s)
	}
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		if g.HasVertex(k) {
			continue
		}
		g.AddVertex(k)
		if g.Len() > max {
			return nil, &PullTooLargeError{Max: max}
		}
		preds, err := keys.Pred(ctx, k)
		if err != nil {
			return nil, err
		}
		for _, p := range preds {
			if rootSet[string(p)] {
				continue
			}
			queue = append(queue, p)
		}
	}

	// induced edges: both endpoints must have been visited
	for _, k := range g.Vertices() {
		preds, err := keys.Pred(ctx, k)
		if err != nil {
			return nil, err
		}
		for _, p := range preds {
			if g.HasVertex(p) {
				g.AddEdge(p, k)
			}
		}
	}
	return g, nil
}

// PullKeys resolves sinks through the tag store and returns the
// closure of their ancestors, cut by roots.
func PullKeys(ctx context.Context, s store.Stores, roots []key.Key, sinks []store.Tag, max int) (*graph.Graph, error) {
	var sinkKeys []key.Key
	for _, t := range sinks {
		k, ok, err := s.Tags.Read(ctx, t)
		if err != nil {
			return nil, err
		}
		if !ok {
			// unknown sink tags contribute nothing
			continue
		}
		sinkKeys = append(sinkKeys, k)
	}
	return Closure(ctx, s.Keys, sinkKeys, roots, max)
}

// PullTags snapshots the whole tag namespace.
func PullTags(ctx context.Context, s store.Stores) (tags []TagBinding, err error) {
	names, err := s.Tags.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range names {
		k, ok, err := s.Tags.Read(ctx, t)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		tags = append(tags, TagBinding{Tag: t, Key: k})
	}
	return tags, nil
}

// PushKeys inserts the transferred subgraph and advances tags.  The
// caller is responsible for minimizing g; values travel separately.
func PushKeys(ctx context.Context, s store.Stores, g *graph.Graph, tags []TagBinding) (err error) {
	for _, k := range g.Vertices() {
		if err = s.Keys.AddKey(ctx, k); err != nil {
			return err
		}
	}
	for _, e := range g.Edges() {
		if err = s.Keys.AddRelation(ctx, e.Pred, e.Succ); err != nil {
			return err
		}
	}
	return PushTags(ctx, s, tags)
}

// PushTags advances tag bindings, last writer wins per tag.
func PushTags(ctx context.Context, s store.Stores, tags []TagBinding) (err error) {
	for _, b := range tags {
		if err = s.Tags.Update(ctx, b.Tag, b.Key); err != nil {
			return err
		}
	}
	return nil
}

// Event is one watch notification: the tags that moved and the graph
// newly reachable from their values.
type Event struct {
	Tags  []TagBinding
	Delta *graph.Graph
}

// Watch subscribes to tag changes and emits, per change, the delta
// graph reachable from the new value but not from the previous one.
// An empty tags filter watches everything.  The tag store must
// support notification.
func Watch(ctx context.Context, s store.Stores, tags []store.Tag) (<-chan Event, error) {
	watcher, ok := s.Tags.(store.TagWatcher)
	if !ok {
		return nil, fmt.Errorf("tag store %T does not support watch", s.Tags)
	}

	subscribed := make(map[store.Tag]bool, len(tags))
	for _, t := range tags {
		subscribed[t] = true
	}

	// snapshot current values so the first event reports a delta,
	// not the full history
	prev := make(map[store.Tag]key.Key)
	current, err := PullTags(ctx, s)
	if err != nil {
		return nil, err
	}
	for _, b := range current {
		prev[b.Tag] = b.Key
	}

	events, err := watcher.WatchTags(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		for ev := range events {
			if len(subscribed) > 0 && !subscribed[ev.Tag] {
				continue
			}
			if ev.Key == nil {
				delete(prev, ev.Tag)
				continue
			}
			var roots []key.Key
			if old, ok := prev[ev.Tag]; ok {
				if old.Equal(ev.Key) {
					continue
				}
				roots = []key.Key{old}
			}
			delta, err := Closure(ctx, s.Keys, []key.Key{ev.Key}, roots, 0)
			if err != nil {
				log.Debugf("watch closure: %v", err)
				return
			}
			prev[ev.Tag] = ev.Key
			select {
			case out <- Event{
				Tags:  []TagBinding{{Tag: ev.Tag, Key: ev.Key}},
				Delta: delta,
			}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Peer is the remote side of a sync, satisfied by the protocol
// client.
type Peer interface {
	ValWrite(ctx context.Context, v *value.Value) (key.Key, error)
	ValRead(ctx context.Context, k key.Key) (*value.Value, bool, error)
	SyncPullKeys(ctx context.Context, roots []key.Key, sinks []store.Tag) (*graph.Graph, error)
	SyncPullTags(ctx context.Context) ([]TagBinding, error)
	SyncPushKeys(ctx context.Context, g *graph.Graph, tags []TagBinding) error
	SyncPushTags(ctx context.Context, tags []TagBinding) error
}

// Pull fetches the closure below sinks from the peer, merges the
// graph shape locally, then fetches any values we lack.  Roots
// default to the local keys of the sink tags, so repeated pulls move
// only the new slice of history.
func Pull(ctx context.Context, p Peer, local store.Stores, roots []key.Key, sinks []store.Tag) (g *graph.Graph, err error) {
	if roots == nil {
		for _, t := range sinks {
			k, ok, err := local.Tags.Read(ctx, t)
			if err != nil {
				return nil, err
			}
			if ok {
				roots = append(roots, k)
			}
		}
	}
	g, err = p.SyncPullKeys(ctx, roots, sinks)
	if err != nil {
		return nil, err
	}
	log.Debugf("pull: %d vertices", g.Len())

	// graph shape first, values second, so the key graph can answer
	// queries about history we have not fetched yet
	for _, k := range g.Vertices() {
		if err = local.Keys.AddKey(ctx, k); err != nil {
			return nil, err
		}
	}
	for _, e := range g.Edges() {
		if err = local.Keys.AddRelation(ctx, e.Pred, e.Succ); err != nil {
			return nil, err
		}
	}

	for _, k := range g.Vertices() {
		_, have, err := local.Values.Read(ctx, k)
		if err != nil {
			return nil, err
		}
		if have {
			continue
		}
		v, ok, err := p.ValRead(ctx, k)
		if err != nil {
			return nil, err
		}
		if !ok {
			// the peer tracked the key without its value; legal
			continue
		}
		if _, err = local.Values.Write(ctx, v); err != nil {
			return nil, err
		}
	}

	// advance local sink tags to the remote heads
	remote, err := p.SyncPullTags(ctx)
	if err != nil {
		return nil, err
	}
	want := make(map[store.Tag]bool, len(sinks))
	for _, t := range sinks {
		want[t] = true
	}
	for _, b := range remote {
		if want[b.Tag] {
			if err = local.Tags.Update(ctx, b.Tag, b.Key); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// Push sends the subgraph under the named local tags that the remote
// does not already have, then streams the missing values and finally
// advances the remote tags.
func Push(ctx context.Context, p Peer, local store.Stores, tags []store.Tag) (err error) {
	remote, err := p.SyncPullTags(ctx)
	if err != nil {
		return err
	}
	var remoteHeads []key.Key
	for _, b := range remote {
		remoteHeads = append(remoteHeads, b.Key)
	}

	var sinkKeys []key.Key
	var bindings []TagBinding
	for _, t := range tags {
		k, ok, err := local.Tags.Read(ctx, t)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("push: unknown tag %q", t)
		}
		sinkKeys = append(sinkKeys, k)
		bindings = append(bindings, TagBinding{Tag: t, Key: k})
	}

	g, err := Closure(ctx, local.Keys, sinkKeys, remoteHeads, 0)
	if err != nil {
		return err
	}
	log.Debugf("push: %d vertices", g.Len())

	err = p.SyncPushKeys(ctx, g, bindings)
	if err != nil {
		return err
	}

	// the protocol does not move values on push; stream them now
	for _, k := range g.Vertices() {
		v, ok, err := local.Values.Read(ctx, k)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if _, err = p.ValWrite(ctx, v); err != nil {
			return err
		}
	}
	return nil
}
