// storage.go - Account storage: scalar slots and key-value maps.
//
// A storage slot is either a single word or a map from word keys to word
// values with a content-addressed root. Reads never fail: unset slots and
// unknown keys are the zero word. Map updates keep an append-only log so old
// values stay discoverable through old roots.

package account

import (
	"sort"

	"notevm/internal/word"
)

// SlotKind tags a storage slot as scalar or map.
type SlotKind uint8

const (
	SlotScalar SlotKind = iota
	SlotMap
)

// Storage is an ordered sequence of slots.
type Storage struct {
	slots []slot
}

type slot struct {
	kind  SlotKind
	value word.Word
	m     *StorageMap
}

// NewStorage creates storage with the given number of scalar slots, all zero.
func NewStorage(numSlots int) *Storage {
	s := &Storage{slots: make([]slot, numSlots)}
	return s
}

// NumSlots returns the slot count.
func (s *Storage) NumSlots() int { return len(s.slots) }

// EnsureSlot grows the storage so that index is addressable.
func (s *Storage) EnsureSlot(index uint8) {
	for int(index) >= len(s.slots) {
		s.slots = append(s.slots, slot{})
	}
}

// DeclareMap turns a slot into a map slot. A no-op if it already is one.
func (s *Storage) DeclareMap(index uint8) {
	s.EnsureSlot(index)
	if s.slots[index].m == nil {
		s.slots[index] = slot{kind: SlotMap, m: NewStorageMap()}
	}
}

// GetItem reads a scalar slot. Unset slots read as the zero word.
func (s *Storage) GetItem(index uint8) word.Word {
	if int(index) >= len(s.slots) {
		return word.ZeroWord
	}
	return s.slots[index].value
}

// SetItem writes a scalar slot and returns the previous value. Writing a
// scalar over a map slot retires the map, so the commitment tracks the
// scalar from then on.
func (s *Storage) SetItem(index uint8, value word.Word) word.Word {
	s.EnsureSlot(index)
	old := s.slots[index].value
	s.slots[index] = slot{kind: SlotScalar, value: value}
	return old
}

// GetMapItem reads a key from a map slot. Missing maps and keys read zero.
func (s *Storage) GetMapItem(index uint8, key word.Word) word.Word {
	if int(index) >= len(s.slots) || s.slots[index].m == nil {
		return word.ZeroWord
	}
	return s.slots[index].m.Get(key)
}

// SetMapItem writes a key into a map slot, declaring the map if needed.
// Returns the map root before the write and the previous value.
func (s *Storage) SetMapItem(index uint8, key, value word.Word) (oldRoot, oldValue word.Word) {
	s.DeclareMap(index)
	return s.slots[index].m.Set(key, value)
}

// MapRoot returns the current root of a map slot, or zero for non-map slots.
func (s *Storage) MapRoot(index uint8) word.Word {
	if int(index) >= len(s.slots) || s.slots[index].m == nil {
		return word.ZeroWord
	}
	return s.slots[index].m.Root()
}

// Clone deep-copies the storage.
func (s *Storage) Clone() *Storage {
	c := &Storage{slots: make([]slot, len(s.slots))}
	for i, sl := range s.slots {
		c.slots[i] = slot{kind: sl.kind, value: sl.value}
		if sl.m != nil {
			c.slots[i].m = sl.m.Clone()
		}
	}
	return c
}

// Commitment hashes all slots in order: scalar values directly, map slots by
// their roots.
func (s *Storage) Commitment() word.Word {
	words := make([]word.Word, 0, len(s.slots))
	for _, sl := range s.slots {
		if sl.m != nil {
			words = append(words, sl.m.Root())
		} else {
			words = append(words, sl.value)
		}
	}
	return word.HashWithDomain("storage", words...)
}

// StorageMap is a word-keyed map with a content-addressed root and an
// append-only update log. The log ties every historical root to the write
// that produced it, so an old value remains auditable through its old root.
type StorageMap struct {
	entries map[word.Word]word.Word
	root    word.Word
	log     []MapUpdate
}

// MapUpdate records one map write: the roots before and after, the key, and
// the old and new values.
type MapUpdate struct {
	OldRoot  word.Word
	NewRoot  word.Word
	Key      word.Word
	OldValue word.Word
	NewValue word.Word
}

// NewStorageMap returns an empty map with the zero root.
func NewStorageMap() *StorageMap {
	return &StorageMap{entries: make(map[word.Word]word.Word)}
}

// Get reads a key; missing keys are the zero word.
func (m *StorageMap) Get(key word.Word) word.Word {
	return m.entries[key]
}

// Set writes a key, recomputes the root, and appends to the update log.
// Returns the root before the write and the previous value.
func (m *StorageMap) Set(key, value word.Word) (oldRoot, oldValue word.Word) {
	oldRoot = m.root
	oldValue = m.entries[key]
	if value.IsZero() {
		delete(m.entries, key)
	} else {
		m.entries[key] = value
	}
	m.root = m.computeRoot()
	m.log = append(m.log, MapUpdate{
		OldRoot:  oldRoot,
		NewRoot:  m.root,
		Key:      key,
		OldValue: oldValue,
		NewValue: value,
	})
	return oldRoot, oldValue
}

// Root returns the current content-addressed root.
func (m *StorageMap) Root() word.Word { return m.root }

// Log returns the append-only update history.
func (m *StorageMap) Log() []MapUpdate { return m.log }

// ValueAtRoot walks the log backwards to recover the value a key held when
// the map was at the given root.
func (m *StorageMap) ValueAtRoot(root, key word.Word) (word.Word, bool) {
	if root == m.root {
		return m.entries[key], true
	}
	val := m.entries[key]
	for i := len(m.log) - 1; i >= 0; i-- {
		u := m.log[i]
		if u.Key == key {
			val = u.OldValue
		}
		if u.OldRoot == root {
			return val, true
		}
	}
	return word.ZeroWord, false
}

// Entries returns the live entries in canonical order.
func (m *StorageMap) Entries() []MapEntry {
	out := make([]MapEntry, 0, len(m.entries))
	for k, v := range m.entries {
		out = append(out, MapEntry{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return lessWord(out[i].Key, out[j].Key) })
	return out
}

// MapEntry is a single live key-value pair.
type MapEntry struct {
	Key   word.Word `json:"key"`
	Value word.Word `json:"value"`
}

// Clone deep-copies the map, including its log.
func (m *StorageMap) Clone() *StorageMap {
	c := NewStorageMap()
	for k, v := range m.entries {
		c.entries[k] = v
	}
	c.root = m.root
	c.log = append([]MapUpdate(nil), m.log...)
	return c
}

func (m *StorageMap) computeRoot() word.Word {
	if len(m.entries) == 0 {
		return word.ZeroWord
	}
	entries := m.Entries()
	words := make([]word.Word, 0, 2*len(entries))
	for _, e := range entries {
		words = append(words, e.Key, e.Value)
	}
	return word.HashWithDomain("storage-map", words...)
}

func lessWord(a, b word.Word) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
