package value

import (
	"encoding/json"
	"testing"

	"github.com/nymote/irminsule/key"
)

// test boolean condition
func tassert(t *testing.T, cond bool, txt string, args ...interface{}) {
	t.Helper()
	if !cond {
		t.Fatalf(txt, args...)
	}
}

func TestBlobKey(t *testing.T) {
	a := NewBlob([]byte("hello"))
	b := NewBlob([]byte("hello"))
	tassert(t, a.Key().Equal(b.Key()), "same content, different keys")
	c := NewBlob([]byte("world"))
	tassert(t, !a.Key().Equal(c.Key()), "different content, same key")
	tassert(t, len(a.Pred()) == 0, "fresh blob has preds")
}

func TestPredOrderInvariance(t *testing.T) {
	ka := key.Of([]byte("a"))
	kb := key.Of([]byte("b"))
	v1 := NewBlob([]byte("x"), ka, kb)
	v2 := NewBlob([]byte("x"), kb, ka)
	tassert(t, v1.Key().Equal(v2.Key()), "pred order changed the key")
	tassert(t, v1.Pred()[0].Compare(v1.Pred()[1]) < 0, "preds not sorted")
}

func TestEncodeDecode(t *testing.T) {
	ka := key.Of([]byte("a"))
	kb := key.Of([]byte("b"))
	cases := []*Value{
		NewBlob(nil),
		NewBlob([]byte("hello")),
		NewBlob([]byte("hello"), ka),
		NewNode(nil, nil),
		NewNode([]Entry{{Label: "l1", Child: ka}, {Label: "l2", Child: kb}}, nil, ka, kb),
		NewNode([]Entry{{Label: "x", Child: ka}}, []byte("inline"), ka),
	}
	for i, v := range cases {
		enc := v.Encode()
		tassert(t, len(enc) == v.EncodedLen(), "case %d: sizeof %d != len %d", i, v.EncodedLen(), len(enc))
		back, n, err := Decode(enc)
		tassert(t, err == nil, "case %d: decode: %v", i, err)
		tassert(t, n == len(enc), "case %d: consumed %d of %d", i, n, len(enc))
		tassert(t, Equal(v, back), "case %d: round trip changed the value", i)
	}
}

func TestDecodeErrors(t *testing.T) {
	_, _, err := Decode(nil)
	tassert(t, err != nil, "decoded empty buffer")
	_, _, err = Decode([]byte{0xff})
	tassert(t, err != nil, "decoded unknown kind")
	v := NewBlob([]byte("hello"))
	enc := v.Encode()
	_, _, err = Decode(enc[:len(enc)-1])
	tassert(t, err != nil, "decoded truncated value")
}

func TestJSONRoundTrip(t *testing.T) {
	ka := key.Of([]byte("a"))
	v := NewNode([]Entry{{Label: "l", Child: ka}}, []byte("c"), ka)
	buf, err := json.Marshal(v)
	tassert(t, err == nil, "marshal: %v", err)
	back := &Value{}
	err = json.Unmarshal(buf, back)
	tassert(t, err == nil, "unmarshal: %v", err)
	tassert(t, Equal(v, back), "json round trip changed the key")
}

func keepSecond(a, b key.Key) (key.Key, bool) {
	return b, true
}

func TestMergeReflexive(t *testing.T) {
	v := NewBlob([]byte("x"))
	out, ok := Merge(keepSecond, v, v)
	tassert(t, ok, "self merge conflicted")
	tassert(t, Equal(out, v), "self merge changed the value")
}

func TestMergeBlobs(t *testing.T) {
	a := NewBlob([]byte("x"))
	b := NewBlob([]byte("x"), key.Of([]byte("parent")))
	out, ok := Merge(keepSecond, a, b)
	tassert(t, ok, "equal blob bytes conflicted")
	tassert(t, string(out.Content()) == "x", "merged content %q", out.Content())
	tassert(t, len(out.Pred()) == 2, "merged preds %d", len(out.Pred()))

	_, ok = Merge(keepSecond, NewBlob([]byte("x")), NewBlob([]byte("y")))
	tassert(t, !ok, "divergent blobs merged")
}

func TestMergeNodes(t *testing.T) {
	ka := key.Of([]byte("a"))
	kb := key.Of([]byte("b"))
	n1 := NewNode([]Entry{{Label: "l", Child: ka}}, nil)
	n2 := NewNode([]Entry{{Label: "l", Child: ka}, {Label: "m", Child: kb}}, nil)

	out, ok := Merge(keepSecond, n1, n2)
	tassert(t, ok, "node merge conflicted")
	got, found := out.Child("l")
	tassert(t, found && got.Equal(ka), "lost child l")
	got, found = out.Child("m")
	tassert(t, found && got.Equal(kb), "lost child m")
	preds := out.Pred()
	tassert(t, len(preds) == 2, "preds %d", len(preds))
	want := []key.Key{n1.Key(), n2.Key()}
	key.Sort(want)
	tassert(t, preds[0].Equal(want[0]) && preds[1].Equal(want[1]),
		"preds are not the merged inputs")
}

func TestMergeCommutativeKeys(t *testing.T) {
	ka := key.Of([]byte("a"))
	kb := key.Of([]byte("b"))
	n1 := NewNode([]Entry{{Label: "l", Child: ka}}, nil)
	n2 := NewNode([]Entry{{Label: "m", Child: kb}}, nil)

	ab, ok := Merge(keepSecond, n1, n2)
	tassert(t, ok, "merge a,b conflicted")
	ba, ok := Merge(keepSecond, n2, n1)
	tassert(t, ok, "merge b,a conflicted")
	tassert(t, ab.Key().Equal(ba.Key()), "merge keys differ: %s %s", ab.Key(), ba.Key())
}

func TestMergeDivergentChild(t *testing.T) {
	ka := key.Of([]byte("a"))
	kb := key.Of([]byte("b"))
	n1 := NewNode([]Entry{{Label: "l", Child: ka}}, nil)
	n2 := NewNode([]Entry{{Label: "l", Child: kb}}, nil)

	out, ok := Merge(keepSecond, n1, n2)
	tassert(t, ok, "resolver merge conflicted")
	got, _ := out.Child("l")
	tassert(t, got.Equal(kb), "resolver result ignored")

	refuse := func(a, b key.Key) (key.Key, bool) { return nil, false }
	_, ok = Merge(refuse, n1, n2)
	tassert(t, !ok, "refusing resolver did not abort")
}

func TestMergeMixedKinds(t *testing.T) {
	_, ok := Merge(keepSecond, NewBlob([]byte("x")), NewNode(nil, nil))
	tassert(t, !ok, "blob/node merged")
}
