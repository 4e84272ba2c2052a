package codec

import (
	"context"
	"encoding/binary"
	"unicode/utf8"

	"github.com/nymote/irminsule/graph"
	"github.com/nymote/irminsule/key"
	"github.com/nymote/irminsule/value"
)

// Wire format: fixed-width big-endian integers (4-byte lengths and
// counts), length-prefixed UTF-8 strings with no terminator, counted
// lists, raw digest bytes for keys, and the canonical value encoding
// from the value package.

func (w *Window) WriteUint32(u uint32) {
	w.put(binary.BigEndian.AppendUint32(nil, u))
}

func (w *Window) ReadUint32(ctx context.Context) (u uint32, err error) {
	if err = w.Need(ctx, 4); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(w.take(4)), nil
}

func (w *Window) WriteUint64(u uint64) {
	w.put(binary.BigEndian.AppendUint64(nil, u))
}

func (w *Window) ReadUint64(ctx context.Context) (u uint64, err error) {
	if err = w.Need(ctx, 8); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(w.take(8)), nil
}

func (w *Window) WriteU8(b byte) {
	w.put([]byte{b})
}

func (w *Window) ReadU8(ctx context.Context) (b byte, err error) {
	if err = w.Need(ctx, 1); err != nil {
		return 0, err
	}
	return w.take(1)[0], nil
}

func (w *Window) WriteBytes(b []byte) {
	w.WriteUint32(uint32(len(b)))
	w.put(b)
}

func (w *Window) ReadBytes(ctx context.Context) (b []byte, err error) {
	length, err := w.ReadUint32(ctx)
	if err != nil {
		return nil, err
	}
	if err = w.Need(ctx, int(length)); err != nil {
		return nil, err
	}
	return append([]byte{}, w.take(int(length))...), nil
}

func (w *Window) WriteString(s string) {
	w.WriteBytes([]byte(s))
}

func (w *Window) ReadString(ctx context.Context) (s string, err error) {
	b, err := w.ReadBytes(ctx)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", &DecodeError{Msg: "string is not UTF-8"}
	}
	return string(b), nil
}

func (w *Window) WriteKey(k key.Key) {
	w.put(k)
}

func (w *Window) ReadKey(ctx context.Context) (k key.Key, err error) {
	if err = w.Need(ctx, key.Width); err != nil {
		return nil, err
	}
	return key.Key(append([]byte{}, w.take(key.Width)...)), nil
}

func (w *Window) WriteKeys(keys []key.Key) {
	w.WriteUint32(uint32(len(keys)))
	for _, k := range keys {
		w.WriteKey(k)
	}
}

func (w *Window) ReadKeys(ctx context.Context) (keys []key.Key, err error) {
	count, err := w.ReadUint32(ctx)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < count; i++ {
		k, err := w.ReadKey(ctx)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func (w *Window) WriteStrings(ss []string) {
	w.WriteUint32(uint32(len(ss)))
	for _, s := range ss {
		w.WriteString(s)
	}
}

func (w *Window) ReadStrings(ctx context.Context) (ss []string, err error) {
	count, err := w.ReadUint32(ctx)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < count; i++ {
		s, err := w.ReadString(ctx)
		if err != nil {
			return nil, err
		}
		ss = append(ss, s)
	}
	return ss, nil
}

// WriteValue emits the canonical encoding; the bytes on the wire are
// exactly the bytes the key is derived from.
func (w *Window) WriteValue(v *value.Value) {
	w.put(v.Encode())
}

func (w *Window) ReadValue(ctx context.Context) (v *value.Value, err error) {
	kind, err := w.ReadU8(ctx)
	if err != nil {
		return nil, err
	}
	var content []byte
	var entries []value.Entry
	switch value.Kind(kind) {
	case value.KindBlob:
		content, err = w.ReadBytes(ctx)
		if err != nil {
			return nil, err
		}
	case value.KindNode:
		count, err := w.ReadUint32(ctx)
		if err != nil {
			return nil, err
		}
		for i := uint32(0); i < count; i++ {
			label, err := w.ReadString(ctx)
			if err != nil {
				return nil, err
			}
			child, err := w.ReadKey(ctx)
			if err != nil {
				return nil, err
			}
			entries = append(entries, value.Entry{Label: label, Child: child})
		}
		content, err = w.ReadBytes(ctx)
		if err != nil {
			return nil, err
		}
	default:
		return nil, &DecodeError{Msg: "unknown value kind"}
	}
	preds, err := w.ReadKeys(ctx)
	if err != nil {
		return nil, err
	}
	if value.Kind(kind) == value.KindBlob {
		return value.NewBlob(content, preds...), nil
	}
	return value.NewNode(entries, content, preds...), nil
}

func (w *Window) WriteGraph(g *graph.Graph) {
	w.WriteKeys(g.Vertices())
	edges := g.Edges()
	w.WriteUint32(uint32(len(edges)))
	for _, e := range edges {
		w.WriteKey(e.Pred)
		w.WriteKey(e.Succ)
	}
}

func (w *Window) ReadGraph(ctx context.Context) (g *graph.Graph, err error) {
	vertices, err := w.ReadKeys(ctx)
	if err != nil {
		return nil, err
	}
	g = graph.New()
	for _, k := range vertices {
		g.AddVertex(k)
	}
	count, err := w.ReadUint32(ctx)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < count; i++ {
		pred, err := w.ReadKey(ctx)
		if err != nil {
			return nil, err
		}
		succ, err := w.ReadKey(ctx)
		if err != nil {
			return nil, err
		}
		g.AddEdge(pred, succ)
	}
	return g, nil
}

// Sizeof helpers mirror the write side for framing arithmetic.

func SizeUint32() int { return 4 }

func SizeBytes(b []byte) int { return 4 + len(b) }

func SizeString(s string) int { return 4 + len(s) }

func SizeKey() int { return key.Width }

func SizeKeys(keys []key.Key) int { return 4 + len(keys)*key.Width }

func SizeValue(v *value.Value) int { return v.EncodedLen() }

func SizeGraph(g *graph.Graph) int {
	return SizeKeys(g.Vertices()) + 4 + len(g.Edges())*2*key.Width
}
