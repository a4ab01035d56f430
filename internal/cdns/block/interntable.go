package block

import "encoding/binary"

// InternTable assigns stable 1-based indices to unique values for the
// lifetime of a block. Equal values always map to the same index; a new
// value gets the next index in insertion order. The canonical byte key of a
// value decides equality.
type InternTable[T any] struct {
	key     func(T) string
	indexes map[string]uint64
	items   []T
}

// NewInternTable returns an empty table using key to derive the canonical
// form of each value.
func NewInternTable[T any](key func(T) string) *InternTable[T] {
	return &InternTable[T]{
		key:     key,
		indexes: make(map[string]uint64),
	}
}

// Add interns v and returns its 1-based index.
func (t *InternTable[T]) Add(v T) uint64 {
	k := t.key(v)
	if idx, ok := t.indexes[k]; ok {
		return idx
	}
	t.items = append(t.items, v)
	idx := uint64(len(t.items))
	t.indexes[k] = idx
	return idx
}

// Len returns the number of unique values in the table.
func (t *InternTable[T]) Len() int {
	return len(t.items)
}

// Items returns the interned values in insertion order. Entry i holds the
// value with index i+1.
func (t *InternTable[T]) Items() []T {
	return t.items
}

// Clear drops all values. Indices restart at 1.
func (t *InternTable[T]) Clear() {
	t.items = nil
	t.indexes = make(map[string]uint64)
}

// keyBuilder builds canonical byte keys for structured values. Optional
// fields contribute a presence tag before their value, so values differing
// only in which fields are set never collide.
type keyBuilder struct {
	b []byte
}

func (k *keyBuilder) bytes(p []byte) {
	k.b = binary.BigEndian.AppendUint32(k.b, uint32(len(p)))
	k.b = append(k.b, p...)
}

func (k *keyBuilder) u64(v uint64) {
	k.b = binary.BigEndian.AppendUint64(k.b, v)
}

func (k *keyBuilder) opt(present bool) {
	if present {
		k.b = append(k.b, 1)
	} else {
		k.b = append(k.b, 0)
	}
}

func (k *keyBuilder) String() string {
	return string(k.b)
}

// optKey appends a presence-tagged unsigned field to a key.
func optKey[T ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uint](k *keyBuilder, v *T) {
	k.opt(v != nil)
	if v != nil {
		k.u64(uint64(*v))
	}
}

// bytesKey returns the canonical key of a raw byte string, for the address
// and name/rdata tables.
func bytesKey(b []byte) string {
	return string(b)
}

// indexListKey returns the canonical key of a list of table indices, for
// the question-list and rr-list tables.
func indexListKey(l []uint64) string {
	var k keyBuilder
	for _, v := range l {
		k.u64(v)
	}
	return k.String()
}
