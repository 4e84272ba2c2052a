/*

Irminsule is a distributed content-addressed object database: an
immutable DAG of values named by their hashes, a mutable tag
namespace over graph roots, and a sync protocol that moves subgraphs
between peers.

Vocabulary:

- key: cryptographic digest of a value's canonical encoding; fixed
	width, byte-wise ordered
- value: immutable blob or node payload plus a list of predecessor
	keys; a node is an ordered list of (label, key) entries with
	optional inline content
- predecessor: parent of a value in the DAG; predecessors are hashed
	into the key, so the graph is acyclic by construction
- tag: human-readable mutable name pointing at a key; the only
	mutable state in the system
- key graph: append-only vertex and edge sets over keys; may track
	keys whose values have not arrived yet
- closure: ancestor set of a group of sink keys, optionally cut by a
	set of root keys; the unit of transfer for pull and push
- window: contiguous byte buffer with a read offset and a page-in
	primitive; the target of all binary I/O
- watch: server-streamed feed of tag changes plus the graph delta
	newly reachable from each change

The stores live in store (memory, disk, badger), the wire format in
codec, the opcode protocol in proto, and the closure computations in
sync.  cmd/irmin wires them into a CLI and daemon.

*/

package irminsule
