// Package graph holds the vertex and edge sets exchanged by the sync
// protocol.  A Graph is a plain value, detached from any store; edges
// run predecessor to successor.
package graph

import (
	"encoding/json"

	"golang.org/x/exp/slices"

	"github.com/nymote/irminsule/key"
)

// Edge is a (pred, succ) pair.
type Edge struct {
	Pred key.Key
	Succ key.Key
}

type Graph struct {
	vertices map[string]key.Key
	edges    map[string]Edge
}

func New() *Graph {
	return &Graph{
		vertices: make(map[string]key.Key),
		edges:    make(map[string]Edge),
	}
}

// AddVertex inserts k; idempotent.
func (g *Graph) AddVertex(k key.Key) {
	g.vertices[string(k)] = k
}

// AddEdge inserts the edge and both endpoints; idempotent.
func (g *Graph) AddEdge(pred, succ key.Key) {
	g.AddVertex(pred)
	g.AddVertex(succ)
	g.edges[string(pred)+string(succ)] = Edge{Pred: pred, Succ: succ}
}

func (g *Graph) HasVertex(k key.Key) bool {
	_, ok := g.vertices[string(k)]
	return ok
}

func (g *Graph) HasEdge(pred, succ key.Key) bool {
	_, ok := g.edges[string(pred)+string(succ)]
	return ok
}

// Vertices returns all vertices, sorted byte-wise for determinism.
func (g *Graph) Vertices() []key.Key {
	out := make([]key.Key, 0, len(g.vertices))
	for _, k := range g.vertices {
		out = append(out, k)
	}
	key.Sort(out)
	return out
}

// Edges returns all edges ordered by (pred, succ).
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Edge) int {
		if c := a.Pred.Compare(b.Pred); c != 0 {
			return c
		}
		return a.Succ.Compare(b.Succ)
	})
	return out
}

func (g *Graph) Len() int {
	return len(g.vertices)
}

// Union adds every vertex and edge of other into g.
func (g *Graph) Union(other *Graph) {
	for _, k := range other.vertices {
		g.AddVertex(k)
	}
	for _, e := range other.edges {
		g.AddEdge(e.Pred, e.Succ)
	}
}

type jsonGraph struct {
	Vertices []key.Key    `json:"vertices"`
	Edges    [][2]key.Key `json:"edges"`
}

func (g *Graph) MarshalJSON() ([]byte, error) {
	jg := jsonGraph{Vertices: g.Vertices(), Edges: [][2]key.Key{}}
	for _, e := range g.Edges() {
		jg.Edges = append(jg.Edges, [2]key.Key{e.Pred, e.Succ})
	}
	return json.Marshal(jg)
}

// Pretty returns an indented JSON rendering for debug output.
func (g *Graph) Pretty() string {
	buf, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return err.Error()
	}
	return string(buf)
}

func (g *Graph) UnmarshalJSON(buf []byte) (err error) {
	var jg jsonGraph
	err = json.Unmarshal(buf, &jg)
	if err != nil {
		return
	}
	out := New()
	for _, k := range jg.Vertices {
		out.AddVertex(k)
	}
	for _, e := range jg.Edges {
		out.AddEdge(e[0], e[1])
	}
	*g = *out
	return nil
}
