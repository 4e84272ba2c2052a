package proto

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/nymote/irminsule/codec"
	"github.com/nymote/irminsule/store"
	"github.com/nymote/irminsule/sync"
)

// Server answers protocol requests against one set of stores.  Each
// connection is handled by a single goroutine reading one full
// request, dispatching, and writing one full response, in order.
type Server struct {
	Stores          store.Stores
	WindowSize      int
	MaxPullVertices int
	Metrics         *Metrics
}

// Serve accepts connections until ctx is cancelled or the listener
// fails.
func (srv *Server) Serve(ctx context.Context, listener net.Listener) (err error) {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "accept")
		}
		go srv.handle(ctx, conn)
	}
}

// handle runs one connection to completion.
func (srv *Server) handle(ctx context.Context, conn net.Conn) {
	srv.Metrics.connOpen()
	defer srv.Metrics.connClose()
	defer conn.Close()

	// unblock pending conn reads when the server shuts down
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	w := codec.NewWindow(conn, srv.WindowSize)
	for {
		op, err := w.ReadU8(ctx)
		if err != nil {
			if errors.Cause(err) != io.EOF && ctx.Err() == nil {
				log.Debugf("read opcode: %v", err)
			}
			return
		}
		srv.Metrics.request(op)
		start := time.Now()

		if op == OpWatch {
			// watch upgrades the connection to server-streaming;
			// it never returns to request/response mode
			err = srv.watch(ctx, w)
			if err != nil && ctx.Err() == nil {
				log.Debugf("watch: %v", err)
			}
			return
		}

		err = srv.dispatch(ctx, w, op)
		srv.Metrics.observe(time.Since(start).Seconds())
		if err != nil {
			srv.Metrics.errored(op)
			var perr *ProtocolError
			if errors.As(err, &perr) {
				// recoverable: report and keep the connection
				w.WriteU8(StatusErr)
				w.WriteString(perr.Msg)
				if ferr := w.Flush(ctx); ferr != nil {
					return
				}
				continue
			}
			log.Debugf("%s: %v", OpName(op), err)
			return
		}
		if err = w.Flush(ctx); err != nil {
			return
		}
	}
}

// dispatch reads the request arguments, runs the operation, and
// queues the response.  Nothing is flushed on error so a ProtocolError
// reply starts from a clean window.
func (srv *Server) dispatch(ctx context.Context, w *codec.Window, op byte) (err error) {
	s := srv.Stores
	switch op {
	case OpKeyAdd:
		k, err := w.ReadKey(ctx)
		if err != nil {
			return err
		}
		if err = s.Keys.AddKey(ctx, k); err != nil {
			return err
		}
		w.WriteU8(StatusOK)

	case OpKeyRel:
		pred, err := w.ReadKey(ctx)
		if err != nil {
			return err
		}
		succ, err := w.ReadKey(ctx)
		if err != nil {
			return err
		}
		if err = s.Keys.AddRelation(ctx, pred, succ); err != nil {
			return err
		}
		w.WriteU8(StatusOK)

	case OpKeyList:
		keys, err := s.Keys.List(ctx)
		if err != nil {
			return err
		}
		w.WriteU8(StatusOK)
		w.WriteKeys(keys)

	case OpKeyPred, OpKeySucc:
		k, err := w.ReadKey(ctx)
		if err != nil {
			return err
		}
		if op == OpKeyPred {
			preds, err := s.Keys.Pred(ctx, k)
			if err != nil {
				return err
			}
			w.WriteU8(StatusOK)
			w.WriteKeys(preds)
		} else {
			succs, err := s.Keys.Succ(ctx, k)
			if err != nil {
				return err
			}
			w.WriteU8(StatusOK)
			w.WriteKeys(succs)
		}

	case OpValWrite:
		v, err := w.ReadValue(ctx)
		if err != nil {
			return err
		}
		k, err := s.Put(ctx, v)
		if err != nil {
			return err
		}
		w.WriteU8(StatusOK)
		w.WriteKey(k)

	case OpValRead:
		k, err := w.ReadKey(ctx)
		if err != nil {
			return err
		}
		v, ok, err := s.Values.Read(ctx, k)
		if err != nil {
			return err
		}
		w.WriteU8(StatusOK)
		if !ok {
			w.WriteU8(optNone)
		} else {
			w.WriteU8(optSome)
			w.WriteValue(v)
		}

	case OpTagUpdate:
		name, err := w.ReadString(ctx)
		if err != nil {
			return err
		}
		k, err := w.ReadKey(ctx)
		if err != nil {
			return err
		}
		if err = s.Tags.Update(ctx, store.Tag(name), k); err != nil {
			return &ProtocolError{Msg: err.Error()}
		}
		w.WriteU8(StatusOK)

	case OpTagRemove:
		name, err := w.ReadString(ctx)
		if err != nil {
			return err
		}
		if err = s.Tags.Remove(ctx, store.Tag(name)); err != nil {
			return &ProtocolError{Msg: err.Error()}
		}
		w.WriteU8(StatusOK)

	case OpTagRead:
		name, err := w.ReadString(ctx)
		if err != nil {
			return err
		}
		k, ok, err := s.Tags.Read(ctx, store.Tag(name))
		if err != nil {
			return &ProtocolError{Msg: err.Error()}
		}
		w.WriteU8(StatusOK)
		if !ok {
			w.WriteU8(optNone)
		} else {
			w.WriteU8(optSome)
			w.WriteKey(k)
		}

	case OpTagList:
		tags, err := s.Tags.List(ctx)
		if err != nil {
			return err
		}
		w.WriteU8(StatusOK)
		names := make([]string, 0, len(tags))
		for _, t := range tags {
			names = append(names, string(t))
		}
		w.WriteStrings(names)

	case OpSyncPullKeys:
		roots, err := w.ReadKeys(ctx)
		if err != nil {
			return err
		}
		sinks, err := readTags(ctx, w)
		if err != nil {
			return err
		}
		g, err := sync.PullKeys(ctx, s, roots, sinks, srv.MaxPullVertices)
		if err != nil {
			return &ProtocolError{Msg: err.Error()}
		}
		w.WriteU8(StatusOK)
		w.WriteGraph(g)

	case OpSyncPullTags:
		tags, err := sync.PullTags(ctx, s)
		if err != nil {
			return err
		}
		w.WriteU8(StatusOK)
		writeBindings(w, tags)

	case OpSyncPushKeys:
		g, err := w.ReadGraph(ctx)
		if err != nil {
			return err
		}
		tags, err := readBindings(ctx, w)
		if err != nil {
			return err
		}
		if err = sync.PushKeys(ctx, s, g, tags); err != nil {
			return err
		}
		w.WriteU8(StatusOK)

	case OpSyncPushTags:
		tags, err := readBindings(ctx, w)
		if err != nil {
			return err
		}
		if err = sync.PushTags(ctx, s, tags); err != nil {
			return err
		}
		w.WriteU8(StatusOK)

	default:
		return &ProtocolError{Msg: "unknown opcode " + OpName(op)}
	}
	return nil
}

// watch reads the subscription, acks it, then streams one frame per
// tag change until the client goes away.
func (srv *Server) watch(ctx context.Context, w *codec.Window) (err error) {
	tags, err := readTags(ctx, w)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := sync.Watch(ctx, srv.Stores, tags)
	if err != nil {
		w.WriteU8(StatusErr)
		w.WriteString(err.Error())
		return w.Flush(ctx)
	}
	w.WriteU8(StatusOK)
	if err = w.Flush(ctx); err != nil {
		return err
	}
	for ev := range events {
		writeBindings(w, ev.Tags)
		w.WriteGraph(ev.Delta)
		if err = w.Flush(ctx); err != nil {
			// client hung up; the deferred cancel unsubscribes
			return err
		}
	}
	return nil
}
