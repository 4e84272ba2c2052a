package stream

import (
	"bytes"
	"context"
	"math/rand"
	"testing"

	"github.com/stevegt/readercomp"

	"github.com/nymote/irminsule/key"
	"github.com/nymote/irminsule/store"
)

// test boolean condition
func tassert(t *testing.T, cond bool, txt string, args ...interface{}) {
	t.Helper()
	if !cond {
		t.Fatalf(txt, args...)
	}
}

// testChunker returns a chunker with small boundaries so short test
// streams still split into several chunks.
func testChunker(t *testing.T) *Rabin {
	ck, err := Rabin{MinSize: 1 * kiB, MaxSize: 8 * kiB}.Init()
	tassert(t, err == nil, "chunker init: %v", err)
	return ck
}

func randbuf(n int) []byte {
	rng := rand.New(rand.NewSource(42))
	buf := make([]byte, n)
	rng.Read(buf)
	return buf
}

func TestImportCatRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := store.NewMem()

	buf := randbuf(100 * kiB)
	root, err := Import(ctx, s, bytes.NewReader(buf), testChunker(t))
	tassert(t, err == nil, "import: %v", err)
	tassert(t, root != nil, "nil root")

	var out bytes.Buffer
	err = Cat(ctx, s, root, &out)
	tassert(t, err == nil, "cat: %v", err)

	ok, err := readercomp.Equal(bytes.NewReader(buf), bytes.NewReader(out.Bytes()), 4096)
	tassert(t, err == nil, "readercomp: %v", err)
	tassert(t, ok, "cat output differs from input")
}

func TestImportDeterministic(t *testing.T) {
	ctx := context.Background()
	buf := randbuf(64 * kiB)

	// the same polynomial must produce the same root key
	ck1 := testChunker(t)
	ck2, err := Rabin{Poly: ck1.Poly, MinSize: ck1.MinSize, MaxSize: ck1.MaxSize}.Init()
	tassert(t, err == nil, "chunker init: %v", err)

	r1, err := Import(ctx, store.NewMem(), bytes.NewReader(buf), ck1)
	tassert(t, err == nil, "import 1: %v", err)
	r2, err := Import(ctx, store.NewMem(), bytes.NewReader(buf), ck2)
	tassert(t, err == nil, "import 2: %v", err)
	tassert(t, r1.Equal(r2), "same input, different roots")
}

func TestImportEmpty(t *testing.T) {
	ctx := context.Background()
	s := store.NewMem()
	root, err := Import(ctx, s, bytes.NewReader(nil), testChunker(t))
	tassert(t, err == nil, "import: %v", err)

	var out bytes.Buffer
	err = Cat(ctx, s, root, &out)
	tassert(t, err == nil, "cat: %v", err)
	tassert(t, out.Len() == 0, "empty stream produced %d bytes", out.Len())
}

func TestCatMissingValue(t *testing.T) {
	ctx := context.Background()
	s := store.NewMem()
	err := Cat(ctx, s, key.Of([]byte("missing")), &bytes.Buffer{})
	tassert(t, err != nil, "cat of missing value succeeded")
}
