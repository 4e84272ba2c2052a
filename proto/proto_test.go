package proto

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nymote/irminsule/key"
	"github.com/nymote/irminsule/store"
	"github.com/nymote/irminsule/sync"
	"github.com/nymote/irminsule/value"
)

// test boolean condition
func tassert(t *testing.T, cond bool, txt string, args ...interface{}) {
	t.Helper()
	if !cond {
		t.Fatalf(txt, args...)
	}
}

// serve starts a server over a unix socket and returns a connected
// client plus the server's stores.
func serve(t *testing.T) (*Client, store.Stores) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s := store.NewMem()
	srv := &Server{
		Stores:  s,
		Metrics: NewMetrics(prometheus.NewRegistry()),
	}
	sock := filepath.Join(t.TempDir(), "irmin.sock")
	listener, err := net.Listen("unix", sock)
	tassert(t, err == nil, "listen: %v", err)
	go srv.Serve(ctx, listener)

	c, err := Dial("unix", sock)
	tassert(t, err == nil, "dial: %v", err)
	t.Cleanup(func() { c.Close() })
	return c, s
}

func TestKeyOps(t *testing.T) {
	ctx := context.Background()
	c, _ := serve(t)

	ka := key.Of([]byte("a"))
	kb := key.Of([]byte("b"))

	err := c.KeyAdd(ctx, ka)
	tassert(t, err == nil, "key add: %v", err)
	err = c.KeyRel(ctx, ka, kb)
	tassert(t, err == nil, "key rel: %v", err)

	keys, err := c.KeyList(ctx)
	tassert(t, err == nil, "key list: %v", err)
	tassert(t, len(keys) == 2, "listed %d keys", len(keys))

	preds, err := c.KeyPred(ctx, kb)
	tassert(t, err == nil, "key pred: %v", err)
	tassert(t, len(preds) == 1 && preds[0].Equal(ka), "pred(kb) wrong")
	succs, err := c.KeySucc(ctx, ka)
	tassert(t, err == nil, "key succ: %v", err)
	tassert(t, len(succs) == 1 && succs[0].Equal(kb), "succ(ka) wrong")
}

func TestValOps(t *testing.T) {
	ctx := context.Background()
	c, s := serve(t)

	blob := value.NewBlob([]byte("hello"))
	k, err := c.ValWrite(ctx, blob)
	tassert(t, err == nil, "val write: %v", err)
	tassert(t, k.Equal(blob.Key()), "wire key != value key")

	// the server records graph vertices for written values
	keys, err := s.Keys.List(ctx)
	tassert(t, err == nil, "list: %v", err)
	tassert(t, len(keys) == 1 && keys[0].Equal(k), "value write did not add vertex")

	got, ok, err := c.ValRead(ctx, k)
	tassert(t, err == nil, "val read: %v", err)
	tassert(t, ok, "value missing")
	tassert(t, value.Equal(got, blob), "value round trip over the wire")

	_, ok, err = c.ValRead(ctx, key.Of([]byte("missing")))
	tassert(t, err == nil, "missing val read: %v", err)
	tassert(t, !ok, "phantom value over the wire")
}

func TestValWritePreds(t *testing.T) {
	ctx := context.Background()
	c, _ := serve(t)

	ka, err := c.ValWrite(ctx, value.NewBlob([]byte("a")))
	tassert(t, err == nil, "write a: %v", err)
	kn, err := c.ValWrite(ctx, value.NewBlob([]byte("n"), ka))
	tassert(t, err == nil, "write n: %v", err)

	succs, err := c.KeySucc(ctx, ka)
	tassert(t, err == nil, "succ: %v", err)
	tassert(t, len(succs) == 1 && succs[0].Equal(kn), "pred edge not recorded")
}

func TestTagOps(t *testing.T) {
	ctx := context.Background()
	c, _ := serve(t)

	k := key.Of([]byte("head"))
	err := c.TagUpdate(ctx, "main", k)
	tassert(t, err == nil, "tag update: %v", err)

	got, ok, err := c.TagRead(ctx, "main")
	tassert(t, err == nil, "tag read: %v", err)
	tassert(t, ok && got.Equal(k), "tag read wrong")

	tags, err := c.TagList(ctx)
	tassert(t, err == nil, "tag list: %v", err)
	tassert(t, len(tags) == 1 && tags[0] == "main", "tag list %v", tags)

	err = c.TagRemove(ctx, "main")
	tassert(t, err == nil, "tag remove: %v", err)
	_, ok, err = c.TagRead(ctx, "main")
	tassert(t, err == nil, "tag read 2: %v", err)
	tassert(t, !ok, "tag survived remove")
}

func TestErrKeepsConnection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s := store.NewMem()
	srv := &Server{Stores: s, MaxPullVertices: 1}
	sock := filepath.Join(t.TempDir(), "irmin.sock")
	listener, err := net.Listen("unix", sock)
	tassert(t, err == nil, "listen: %v", err)
	go srv.Serve(ctx, listener)
	c, err := Dial("unix", sock)
	tassert(t, err == nil, "dial: %v", err)
	defer c.Close()

	_, _, k3 := makeChain(t, s)

	// the oversized closure comes back as ERR, not as a closed
	// connection
	_, err = c.SyncPullKeys(ctx, nil, []store.Tag{"head"})
	_, isRemote := err.(*RemoteError)
	tassert(t, isRemote, "cap violation: %v", err)

	got, ok, err := c.TagRead(ctx, "head")
	tassert(t, err == nil && ok, "connection dead after ERR: %v", err)
	tassert(t, got.Equal(k3), "tag read wrong after ERR")
}

// makeChain builds k1 <- k2 <- k3 with tag "head" -> k3.
func makeChain(t *testing.T, s store.Stores) (k1, k2, k3 key.Key) {
	ctx := context.Background()
	var err error
	k1, err = s.Put(ctx, value.NewBlob([]byte("one")))
	tassert(t, err == nil, "put k1: %v", err)
	k2, err = s.Put(ctx, value.NewBlob([]byte("two"), k1))
	tassert(t, err == nil, "put k2: %v", err)
	k3, err = s.Put(ctx, value.NewBlob([]byte("three"), k2))
	tassert(t, err == nil, "put k3: %v", err)
	err = s.Tags.Update(ctx, "head", k3)
	tassert(t, err == nil, "tag: %v", err)
	return
}

func TestSyncOverWire(t *testing.T) {
	ctx := context.Background()
	c, remote := serve(t)
	k1, k2, k3 := makeChain(t, remote)

	// pull from an empty client store
	local := store.NewMem()
	g, err := sync.Pull(ctx, c, local, nil, []store.Tag{"head"})
	tassert(t, err == nil, "pull: %v", err)
	tassert(t, g.Len() == 3, "pulled %d vertices", g.Len())

	for _, k := range []key.Key{k1, k2, k3} {
		_, ok, err := local.Values.Read(ctx, k)
		tassert(t, err == nil && ok, "value %s not fetched: %v", k, err)
	}
	tk, ok, err := local.Tags.Read(ctx, "head")
	tassert(t, err == nil && ok, "sink tag not advanced: %v", err)
	tassert(t, tk.Equal(k3), "sink tag wrong")

	// a second pull moves nothing new
	g, err = sync.Pull(ctx, c, local, nil, []store.Tag{"head"})
	tassert(t, err == nil, "second pull: %v", err)
	tassert(t, g.Len() == 0, "second pull moved %d vertices", g.Len())

	// extend locally and push back
	k4, err := local.Put(ctx, value.NewBlob([]byte("four"), k3))
	tassert(t, err == nil, "put k4: %v", err)
	err = local.Tags.Update(ctx, "head", k4)
	tassert(t, err == nil, "advance: %v", err)
	err = sync.Push(ctx, c, local, []store.Tag{"head"})
	tassert(t, err == nil, "push: %v", err)

	v, ok, err := remote.Values.Read(ctx, k4)
	tassert(t, err == nil && ok, "pushed value missing: %v", err)
	tassert(t, string(v.Content()) == "four", "pushed value content %q", v.Content())
	tk, ok, err = remote.Tags.Read(ctx, "head")
	tassert(t, err == nil && ok, "pushed tag missing: %v", err)
	tassert(t, tk.Equal(k4), "remote head not advanced")
}

func TestPullWithRootCutoffOverWire(t *testing.T) {
	ctx := context.Background()
	c, remote := serve(t)
	k1, k2, _ := makeChain(t, remote)

	g, err := c.SyncPullKeys(ctx, []key.Key{k1}, []store.Tag{"head"})
	tassert(t, err == nil, "pull: %v", err)
	tassert(t, g.Len() == 2, "vertices %d", g.Len())
	tassert(t, !g.HasVertex(k1), "root not excluded")
	tassert(t, g.HasVertex(k2), "k2 missing")
}

func TestWatchOverWire(t *testing.T) {
	ctx := context.Background()
	c, remote := serve(t)
	k1, _, _ := makeChain(t, remote)

	events, err := c.Watch(ctx, []store.Tag{"main"})
	tassert(t, err == nil, "watch: %v", err)

	err = remote.Tags.Update(ctx, "main", k1)
	tassert(t, err == nil, "update: %v", err)

	ev := <-events
	tassert(t, len(ev.Tags) == 1 && ev.Tags[0].Tag == "main", "event tags %v", ev.Tags)
	tassert(t, ev.Tags[0].Key.Equal(k1), "event key wrong")
	tassert(t, ev.Delta.Len() == 1, "delta %d", ev.Delta.Len())
}

func TestUnknownOpcode(t *testing.T) {
	ctx := context.Background()
	c, _ := serve(t)

	// hand-roll a bogus request; the server must answer ERR and keep
	// the connection alive
	c.w.WriteU8(0xee)
	err := c.roundtrip(ctx)
	_, isRemote := err.(*RemoteError)
	tassert(t, isRemote, "unknown opcode: %v", err)

	err = c.KeyAdd(ctx, key.Of([]byte("still alive")))
	tassert(t, err == nil, "connection dead after ERR: %v", err)
}
