package proto

import (
	"context"

	"github.com/nymote/irminsule/codec"
	"github.com/nymote/irminsule/store"
	"github.com/nymote/irminsule/sync"
)

// Tag bindings travel as a counted list of (name, key) pairs.

func writeBindings(w *codec.Window, tags []sync.TagBinding) {
	w.WriteUint32(uint32(len(tags)))
	for _, b := range tags {
		w.WriteString(string(b.Tag))
		w.WriteKey(b.Key)
	}
}

func readBindings(ctx context.Context, w *codec.Window) (tags []sync.TagBinding, err error) {
	count, err := w.ReadUint32(ctx)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < count; i++ {
		name, err := w.ReadString(ctx)
		if err != nil {
			return nil, err
		}
		k, err := w.ReadKey(ctx)
		if err != nil {
			return nil, err
		}
		tags = append(tags, sync.TagBinding{Tag: store.Tag(name), Key: k})
	}
	return tags, nil
}

func writeTags(w *codec.Window, tags []store.Tag) {
	w.WriteUint32(uint32(len(tags)))
	for _, t := range tags {
		w.WriteString(string(t))
	}
}

func readTags(ctx context.Context, w *codec.Window) (tags []store.Tag, err error) {
	count, err := w.ReadUint32(ctx)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < count; i++ {
		name, err := w.ReadString(ctx)
		if err != nil {
			return nil, err
		}
		tags = append(tags, store.Tag(name))
	}
	return tags, nil
}
