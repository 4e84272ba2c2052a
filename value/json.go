package value

import (
	"encoding/json"

	"github.com/nymote/irminsule/key"
)

// The JSON mirror is a debug surface only; the wire format is the
// canonical binary encoding in Encode.

type jsonEntry struct {
	Label string  `json:"label"`
	Child key.Key `json:"child"`
}

type jsonNode struct {
	Entries []jsonEntry `json:"entries"`
	Content string      `json:"content,omitempty"`
}

type jsonValue struct {
	Blob *string   `json:"blob,omitempty"`
	Node *jsonNode `json:"node,omitempty"`
	Pred []key.Key `json:"pred"`
}

func (v *Value) MarshalJSON() ([]byte, error) {
	jv := jsonValue{Pred: v.preds}
	if jv.Pred == nil {
		jv.Pred = []key.Key{}
	}
	switch v.kind {
	case KindBlob:
		s := string(v.content)
		jv.Blob = &s
	case KindNode:
		node := &jsonNode{Entries: []jsonEntry{}, Content: string(v.content)}
		for _, e := range v.entries {
			node.Entries = append(node.Entries, jsonEntry{Label: e.Label, Child: e.Child})
		}
		jv.Node = node
	}
	return json.Marshal(jv)
}

func (v *Value) UnmarshalJSON(buf []byte) (err error) {
	var jv jsonValue
	err = json.Unmarshal(buf, &jv)
	if err != nil {
		return
	}
	if jv.Blob != nil {
		*v = *NewBlob([]byte(*jv.Blob), jv.Pred...)
		return nil
	}
	if jv.Node == nil {
		return &DecodeError{Msg: "json value has neither blob nor node"}
	}
	var entries []Entry
	for _, e := range jv.Node.Entries {
		entries = append(entries, Entry{Label: e.Label, Child: e.Child})
	}
	*v = *NewNode(entries, []byte(jv.Node.Content), jv.Pred...)
	return nil
}

// Pretty returns an indented JSON rendering for debug output.
func (v *Value) Pretty() string {
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err.Error()
	}
	return string(buf)
}
