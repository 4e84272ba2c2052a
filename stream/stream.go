// Package stream imports byte streams of arbitrary size as chunked
// blob trees and concatenates them back out.  Chunk boundaries are
// content-defined so shared runs of bytes dedup across imports.
package stream

import (
	"context"
	"io"

	"github.com/pkg/errors"
	resticRabin "github.com/restic/chunker"
	log "github.com/sirupsen/logrus"

	"github.com/nymote/irminsule/key"
	"github.com/nymote/irminsule/store"
	"github.com/nymote/irminsule/value"
)

const (
	kiB = 1024
	miB = 1024 * kiB

	defMinSize = 512 * kiB
	defMaxSize = 8 * miB
)

// Rabin lightly wraps restic's chunker on the slight chance that we
// might need to replace it someday.
type Rabin struct {
	Poly    resticRabin.Pol
	C       *resticRabin.Chunker
	MinSize uint
	MaxSize uint
}

func (c Rabin) Init() (res *Rabin, err error) {
	if c.MinSize == 0 {
		c.MinSize = defMinSize
	}
	if c.MaxSize == 0 {
		c.MaxSize = defMaxSize
	}
	if c.Poly == 0 {
		c.Poly, err = resticRabin.RandomPolynomial()
	}
	return &c, err
}

func (c *Rabin) Start(rd io.Reader) {
	c.C = resticRabin.NewWithBoundaries(rd, c.Poly, c.MinSize, c.MaxSize)
}

func (c *Rabin) Next(buf []byte) (chunk resticRabin.Chunk, err error) {
	return c.C.Next(buf)
}

// Import chunks rd into blob leaves and links them under a
// left-leaning node tree, returning the root key.  Each node's
// predecessors are its children, so the key graph records the tree
// shape as it grows.
func Import(ctx context.Context, s store.Stores, rd io.Reader, ck *Rabin) (root key.Key, err error) {
	ck.Start(rd)

	buf := make([]byte, ck.MaxSize+1)
	for {
		chunk, err := ck.Next(buf)
		if errors.Cause(err) == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		blob := value.NewBlob(chunk.Data)
		blobKey, err := s.Put(ctx, blob)
		if err != nil {
			return nil, err
		}
		log.Debugf("import chunk %s (%d bytes)", blobKey, len(chunk.Data))

		if root == nil {
			root = blobKey
			continue
		}
		node := value.NewNode([]value.Entry{
			{Label: "0", Child: root},
			{Label: "1", Child: blobKey},
		}, nil, root, blobKey)
		root, err = s.Put(ctx, node)
		if err != nil {
			return nil, err
		}
	}
	if root == nil {
		// empty stream imports as an empty blob
		return s.Put(ctx, value.NewBlob(nil))
	}
	return root, nil
}

// Cat writes the concatenated leaf contents under root to wr,
// left-to-right.
func Cat(ctx context.Context, s store.Stores, root key.Key, wr io.Writer) (err error) {
	v, ok, err := s.Values.Read(ctx, root)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Errorf("missing value %s", root)
	}
	switch v.Kind() {
	case value.KindBlob:
		_, err = wr.Write(v.Content())
		return err
	case value.KindNode:
		for _, e := range v.Entries() {
			if err = Cat(ctx, s, e.Child, wr); err != nil {
				return err
			}
		}
		if len(v.Content()) > 0 {
			_, err = wr.Write(v.Content())
		}
		return err
	}
	return errors.Errorf("unhandled kind %d", v.Kind())
}
