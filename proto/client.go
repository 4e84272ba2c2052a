package proto

import (
	"context"
	"net"

	"github.com/pkg/errors"

	"github.com/nymote/irminsule/codec"
	"github.com/nymote/irminsule/graph"
	"github.com/nymote/irminsule/key"
	"github.com/nymote/irminsule/store"
	"github.com/nymote/irminsule/sync"
	"github.com/nymote/irminsule/value"
)

// Client drives one protocol connection.  Calls are not safe for
// concurrent use; responses come back in request order.
type Client struct {
	conn net.Conn
	w    *codec.Window
}

// Dial connects to a server on network ("tcp" or "unix").
func Dial(network, addr string) (c *Client, err error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, errors.Wrap(err, "dial")
	}
	return NewClient(conn), nil
}

func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn, w: codec.NewWindow(conn, 0)}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// roundtrip flushes the queued request and checks the reply status.
func (c *Client) roundtrip(ctx context.Context) (err error) {
	if err = c.w.Flush(ctx); err != nil {
		return err
	}
	status, err := c.w.ReadU8(ctx)
	if err != nil {
		return err
	}
	if status == StatusErr {
		msg, err := c.w.ReadString(ctx)
		if err != nil {
			return err
		}
		return &RemoteError{Msg: msg}
	}
	if status != StatusOK {
		return &codec.DecodeError{Msg: "bad status byte"}
	}
	return nil
}

func (c *Client) KeyAdd(ctx context.Context, k key.Key) error {
	c.w.WriteU8(OpKeyAdd)
	c.w.WriteKey(k)
	return c.roundtrip(ctx)
}

func (c *Client) KeyRel(ctx context.Context, pred, succ key.Key) error {
	c.w.WriteU8(OpKeyRel)
	c.w.WriteKey(pred)
	c.w.WriteKey(succ)
	return c.roundtrip(ctx)
}

func (c *Client) KeyList(ctx context.Context) ([]key.Key, error) {
	c.w.WriteU8(OpKeyList)
	if err := c.roundtrip(ctx); err != nil {
		return nil, err
	}
	return c.w.ReadKeys(ctx)
}

func (c *Client) KeyPred(ctx context.Context, k key.Key) ([]key.Key, error) {
	c.w.WriteU8(OpKeyPred)
	c.w.WriteKey(k)
	if err := c.roundtrip(ctx); err != nil {
		return nil, err
	}
	return c.w.ReadKeys(ctx)
}

func (c *Client) KeySucc(ctx context.Context, k key.Key) ([]key.Key, error) {
	c.w.WriteU8(OpKeySucc)
	c.w.WriteKey(k)
	if err := c.roundtrip(ctx); err != nil {
		return nil, err
	}
	return c.w.ReadKeys(ctx)
}

func (c *Client) ValWrite(ctx context.Context, v *value.Value) (key.Key, error) {
	c.w.WriteU8(OpValWrite)
	c.w.WriteValue(v)
	if err := c.roundtrip(ctx); err != nil {
		return nil, err
	}
	return c.w.ReadKey(ctx)
}

func (c *Client) ValRead(ctx context.Context, k key.Key) (v *value.Value, ok bool, err error) {
	c.w.WriteU8(OpValRead)
	c.w.WriteKey(k)
	if err = c.roundtrip(ctx); err != nil {
		return nil, false, err
	}
	present, err := c.w.ReadU8(ctx)
	if err != nil {
		return nil, false, err
	}
	if present == optNone {
		return nil, false, nil
	}
	v, err = c.w.ReadValue(ctx)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (c *Client) TagUpdate(ctx context.Context, t store.Tag, k key.Key) error {
	c.w.WriteU8(OpTagUpdate)
	c.w.WriteString(string(t))
	c.w.WriteKey(k)
	return c.roundtrip(ctx)
}

func (c *Client) TagRemove(ctx context.Context, t store.Tag) error {
	c.w.WriteU8(OpTagRemove)
	c.w.WriteString(string(t))
	return c.roundtrip(ctx)
}

func (c *Client) TagRead(ctx context.Context, t store.Tag) (k key.Key, ok bool, err error) {
	c.w.WriteU8(OpTagRead)
	c.w.WriteString(string(t))
	if err = c.roundtrip(ctx); err != nil {
		return nil, false, err
	}
	present, err := c.w.ReadU8(ctx)
	if err != nil {
		return nil, false, err
	}
	if present == optNone {
		return nil, false, nil
	}
	k, err = c.w.ReadKey(ctx)
	if err != nil {
		return nil, false, err
	}
	return k, true, nil
}

func (c *Client) TagList(ctx context.Context) (tags []store.Tag, err error) {
	c.w.WriteU8(OpTagList)
	if err = c.roundtrip(ctx); err != nil {
		return nil, err
	}
	names, err := c.w.ReadStrings(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		tags = append(tags, store.Tag(name))
	}
	return tags, nil
}

func (c *Client) SyncPullKeys(ctx context.Context, roots []key.Key, sinks []store.Tag) (*graph.Graph, error) {
	c.w.WriteU8(OpSyncPullKeys)
	c.w.WriteKeys(roots)
	writeTags(c.w, sinks)
	if err := c.roundtrip(ctx); err != nil {
		return nil, err
	}
	return c.w.ReadGraph(ctx)
}

func (c *Client) SyncPullTags(ctx context.Context) ([]sync.TagBinding, error) {
	c.w.WriteU8(OpSyncPullTags)
	if err := c.roundtrip(ctx); err != nil {
		return nil, err
	}
	return readBindings(ctx, c.w)
}

func (c *Client) SyncPushKeys(ctx context.Context, g *graph.Graph, tags []sync.TagBinding) error {
	c.w.WriteU8(OpSyncPushKeys)
	c.w.WriteGraph(g)
	writeBindings(c.w, tags)
	return c.roundtrip(ctx)
}

func (c *Client) SyncPushTags(ctx context.Context, tags []sync.TagBinding) error {
	c.w.WriteU8(OpSyncPushTags)
	writeBindings(c.w, tags)
	return c.roundtrip(ctx)
}

// Watch subscribes to tag changes on the server.  The connection
// stays in streaming mode; close the client to stop.  Events arrive
// on the returned channel until the stream ends.
func (c *Client) Watch(ctx context.Context, tags []store.Tag) (<-chan sync.Event, error) {
	c.w.WriteU8(OpWatch)
	writeTags(c.w, tags)
	if err := c.roundtrip(ctx); err != nil {
		return nil, err
	}
	out := make(chan sync.Event)
	go func() {
		defer close(out)
		for {
			bindings, err := readBindings(ctx, c.w)
			if err != nil {
				return
			}
			delta, err := c.w.ReadGraph(ctx)
			if err != nil {
				return
			}
			select {
			case out <- sync.Event{Tags: bindings, Delta: delta}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

var _ sync.Peer = (*Client)(nil)
