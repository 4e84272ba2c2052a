package graph

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

func TestEdgeImpliesVertices(t *testing.T) {
	g := New()
	ka := key.Of([]byte("a"))
	kb := key.Of([]byte("b"))
	g.AddEdge(ka, kb)
	tassert(t, g.HasVertex(ka) && g.HasVertex(kb), "edge endpoints not inserted")
	tassert(t, g.HasEdge(ka, kb), "edge lost")
	tassert(t, !g.HasEdge(kb, ka), "edge direction ignored")
}

func TestIdempotent(t *testing.T) {
	g := New()
	ka := key.Of([]byte("a"))
	kb := key.Of([]byte("b"))
	g.AddEdge(ka, kb)
	g.AddEdge(ka, kb)
	g.AddVertex(ka)
	tassert(t, g.Len() == 2, "vertices %d", g.Len())
	tassert(t, len(g.Edges()) == 1, "edges %d", len(g.Edges()))
}

func TestSortedListings(t *testing.T) {
	g := New()
	for _, s := range []string{"z", "m", "a"} {
		g.AddVertex(key.Of([]byte(s)))
	}
	vs := g.Vertices()
	for i := 1; i < len(vs); i++ {
		tassert(t, vs[i-1].Compare(vs[i]) < 0, "vertices not sorted")
	}
}

func TestUnion(t *testing.T) {
	a := New()
	b := New()
	ka := key.Of([]byte("a"))
	kb := key.Of([]byte("b"))
	kc := key.Of([]byte("c"))
	a.AddEdge(ka, kb)
	b.AddEdge(kb, kc)
	a.Union(b)
	tassert(t, a.Len() == 3, "union vertices %d", a.Len())
	tassert(t, a.HasEdge(ka, kb) && a.HasEdge(kb, kc), "union lost edges")
}

func TestJSONRoundTrip(t *testing.T) {
	g := New()
	ka := key.Of([]byte("a"))
	kb := key.Of([]byte("b"))
	g.AddEdge(ka, kb)
	buf, err := json.Marshal(g)
	tassert(t, err == nil, "marshal: %v", err)
	back := New()
	err = json.Unmarshal(buf, back)
	tassert(t, err == nil, "unmarshal: %v", err)
	tassert(t, back.Len() == 2 && back.HasEdge(ka, kb), "json round trip")
}
