package key

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/exp/slices"
)

// Width is the digest width in bytes.  Every Key in a store has this
// width; the wire format relies on it, so it is fixed at build time
// rather than per-store.
const Width = sha1.Size

// Key is the content digest of a value's canonical encoding.  Keys
// are immutable; ordering is byte-wise.
type Key []byte

// Of hashes buf and returns the resulting key.
func Of(buf []byte) Key {
	sum := sha1.Sum(buf)
	return Key(sum[:])
}

// Concat returns the digest of the concatenated raw digests.
func Concat(keys []Key) Key {
	var buf []byte
	for _, k := range keys {
		buf = append(buf, k...)
	}
	return Of(buf)
}

// FromHex parses a hex-encoded digest.
func FromHex(s string) (k Key, err error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(raw) != Width {
		return nil, fmt.Errorf("bad key length %d", len(raw))
	}
	return Key(raw), nil
}

func (k Key) Equal(other Key) bool {
	return bytes.Equal(k, other)
}

// Compare orders keys byte-wise, like bytes.Compare.
func (k Key) Compare(other Key) int {
	return bytes.Compare(k, other)
}

// Hash returns the first machine word of the digest, for hash-table
// bucketing.
func (k Key) Hash() uint64 {
	return binary.BigEndian.Uint64(k[:8])
}

func (k Key) Length() int {
	return len(k)
}

func (k Key) String() string {
	return hex.EncodeToString(k)
}

func (k Key) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *Key) UnmarshalJSON(buf []byte) (err error) {
	var s string
	err = json.Unmarshal(buf, &s)
	if err != nil {
		return
	}
	parsed, err := FromHex(s)
	if err != nil {
		return
	}
	*k = parsed
	return
}

// Sort orders keys in place, byte-wise ascending.
func Sort(keys []Key) {
	slices.SortFunc(keys, func(a, b Key) int { return bytes.Compare(a, b) })
}

// Dedup sorts keys and removes duplicates.
func Dedup(keys []Key) []Key {
	Sort(keys)
	return slices.CompactFunc(keys, func(a, b Key) bool { return a.Equal(b) })
}
