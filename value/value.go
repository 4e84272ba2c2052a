// Package value implements the immutable blob-or-node payload stored
// in the database.  A value carries its predecessor keys; its own key
// is the digest of its canonical encoding, so equal values collide on
// the same key no matter who wrote them.
package value

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/nymote/irminsule/key"
)

// Kind discriminates the payload on the wire.  These bytes are
// frozen: changing one invalidates every previously computed key.
type Kind byte

const (
	KindBlob Kind = 0x01
	KindNode Kind = 0x02
)

// Entry is one child pointer of a node, ordered by authoring.
type Entry struct {
	Label string
	Child key.Key
}

// Value is an immutable payload plus the keys of its predecessors in
// the DAG.  Construct with NewBlob or NewNode; the zero Value is not
// usable.
type Value struct {
	kind    Kind
	content []byte  // blob bytes; optional inline content on a node
	entries []Entry // node children
	preds   []key.Key
	_key    key.Key // cached digest of Encode()
}

// NewBlob returns a leaf value holding buf.
func NewBlob(buf []byte, preds ...key.Key) *Value {
	return &Value{
		kind:    KindBlob,
		content: append([]byte{}, buf...),
		preds:   canonPreds(preds),
	}
}

// NewNode returns a node value with the given child entries and
// optional inline content.
func NewNode(entries []Entry, content []byte, preds ...key.Key) *Value {
	return &Value{
		kind:    KindNode,
		content: append([]byte{}, content...),
		entries: append([]Entry{}, entries...),
		preds:   canonPreds(preds),
	}
}

// canonPreds sorts and dedups the predecessor list so the derived key
// does not depend on argument order.
func canonPreds(preds []key.Key) []key.Key {
	out := make([]key.Key, len(preds))
	copy(out, preds)
	return key.Dedup(out)
}

func (v *Value) Kind() Kind { return v.kind }

// Content returns the blob bytes, or a node's inline content.
func (v *Value) Content() []byte { return v.content }

// Entries returns a node's child pointers in authored order.
func (v *Value) Entries() []Entry { return v.entries }

// Pred returns the sorted predecessor keys.
func (v *Value) Pred() []key.Key { return v.preds }

// Key returns the digest of the canonical encoding, cached after the
// first call.
func (v *Value) Key() key.Key {
	if v._key == nil {
		v._key = key.Of(v.Encode())
	}
	return v._key
}

// Child returns the key bound to label on a node.
func (v *Value) Child(label string) (k key.Key, ok bool) {
	for _, e := range v.entries {
		if e.Label == label {
			return e.Child, true
		}
	}
	return nil, false
}

// EncodedLen returns the canonical encoding length in bytes.
func (v *Value) EncodedLen() int {
	n := 1 // kind
	switch v.kind {
	case KindBlob:
		n += 4 + len(v.content)
	case KindNode:
		n += 4
		for _, e := range v.entries {
			n += 4 + len(e.Label) + key.Width
		}
		n += 4 + len(v.content)
	}
	n += 4 + len(v.preds)*key.Width
	return n
}

// Encode returns the canonical big-endian encoding.  This is also the
// wire representation; the key is the digest of these bytes.
func (v *Value) Encode() []byte {
	buf := make([]byte, 0, v.EncodedLen())
	buf = append(buf, byte(v.kind))
	switch v.kind {
	case KindBlob:
		buf = appendBytes(buf, v.content)
	case KindNode:
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(v.entries)))
		for _, e := range v.entries {
			buf = appendBytes(buf, []byte(e.Label))
			buf = append(buf, e.Child...)
		}
		buf = appendBytes(buf, v.content)
	default:
		panic(fmt.Sprintf("unhandled kind %d", v.kind))
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(v.preds)))
	for _, p := range v.preds {
		buf = append(buf, p...)
	}
	return buf
}

func appendBytes(buf, b []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

// DecodeError reports malformed bytes from the wire or storage.
type DecodeError struct {
	Msg string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode: %s", e.Msg)
}

// Decode parses one canonical encoding from buf and returns the value
// and the number of bytes consumed.
func Decode(buf []byte) (v *Value, n int, err error) {
	if len(buf) < 1 {
		return nil, 0, &DecodeError{Msg: "short value"}
	}
	kind := Kind(buf[0])
	n = 1
	v = &Value{kind: kind}
	switch kind {
	case KindBlob:
		v.content, n, err = takeBytes(buf, n)
		if err != nil {
			return nil, 0, err
		}
	case KindNode:
		var count uint32
		count, n, err = takeUint32(buf, n)
		if err != nil {
			return nil, 0, err
		}
		for i := uint32(0); i < count; i++ {
			var label []byte
			label, n, err = takeBytes(buf, n)
			if err != nil {
				return nil, 0, err
			}
			var k key.Key
			k, n, err = takeKey(buf, n)
			if err != nil {
				return nil, 0, err
			}
			v.entries = append(v.entries, Entry{Label: string(label), Child: k})
		}
		v.content, n, err = takeBytes(buf, n)
		if err != nil {
			return nil, 0, err
		}
	default:
		return nil, 0, &DecodeError{Msg: fmt.Sprintf("unknown kind %#x", buf[0])}
	}
	var count uint32
	count, n, err = takeUint32(buf, n)
	if err != nil {
		return nil, 0, err
	}
	for i := uint32(0); i < count; i++ {
		var k key.Key
		k, n, err = takeKey(buf, n)
		if err != nil {
			return nil, 0, err
		}
		v.preds = append(v.preds, k)
	}
	return v, n, nil
}

func takeUint32(buf []byte, off int) (u uint32, n int, err error) {
	if off+4 > len(buf) {
		return 0, 0, &DecodeError{Msg: "short uint32"}
	}
	return binary.BigEndian.Uint32(buf[off:]), off + 4, nil
}

func takeBytes(buf []byte, off int) (b []byte, n int, err error) {
	length, off, err := takeUint32(buf, off)
	if err != nil {
		return nil, 0, err
	}
	if off+int(length) > len(buf) {
		return nil, 0, &DecodeError{Msg: "short bytes"}
	}
	return append([]byte{}, buf[off:off+int(length)]...), off + int(length), nil
}

func takeKey(buf []byte, off int) (k key.Key, n int, err error) {
	if off+key.Width > len(buf) {
		return nil, 0, &DecodeError{Msg: "short key"}
	}
	return key.Key(append([]byte{}, buf[off:off+key.Width]...)), off + key.Width, nil
}

// Resolver reconciles two divergent child keys during a merge.  A
// false return aborts the merge.
type Resolver func(a, b key.Key) (key.Key, bool)

// Merge combines two values three-way style.  Identical values merge
// to themselves, blob leaves merge only when byte-equal, nodes merge
// label-wise with divergent children handed to resolve.  The result's
// predecessors are the two input keys; ok is false on conflict.
func Merge(resolve Resolver, a, b *Value) (merged *Value, ok bool) {
	if a.Key().Equal(b.Key()) {
		return a, true
	}
	if a.kind != b.kind {
		return nil, false
	}
	preds := []key.Key{a.Key(), b.Key()}
	switch a.kind {
	case KindBlob:
		if bytes.Equal(a.content, b.content) {
			return NewBlob(a.content, preds...), true
		}
		return nil, false
	case KindNode:
		if !bytes.Equal(a.content, b.content) {
			return nil, false
		}
		labels := map[string]bool{}
		for _, e := range a.entries {
			labels[e.Label] = true
		}
		for _, e := range b.entries {
			labels[e.Label] = true
		}
		ordered := make([]string, 0, len(labels))
		for l := range labels {
			ordered = append(ordered, l)
		}
		sort.Strings(ordered)
		var entries []Entry
		for _, l := range ordered {
			ka, inA := a.Child(l)
			kb, inB := b.Child(l)
			switch {
			case inA && inB && ka.Equal(kb):
				entries = append(entries, Entry{Label: l, Child: ka})
			case inA && inB:
				k, rok := resolve(ka, kb)
				if !rok {
					return nil, false
				}
				entries = append(entries, Entry{Label: l, Child: k})
			case inA:
				entries = append(entries, Entry{Label: l, Child: ka})
			default:
				entries = append(entries, Entry{Label: l, Child: kb})
			}
		}
		return NewNode(entries, a.content, preds...), true
	}
	return nil, false
}

// Equal compares canonical encodings.
func Equal(a, b *Value) bool {
	return a.Key().Equal(b.Key())
}
