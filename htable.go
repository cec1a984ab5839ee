// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package htable is a goroutine-safe, string-keyed hash table using separate
// chaining. It is meant as a building block for caches, symbol tables and
// registries that want explicit control over capacity and allocation.
//
// # Layout
//
// A Table is an array of capacity chain heads. A key is hashed with 64-bit
// FNV-1a (see WithHash to substitute another function) and the bucket is
// selected by masking the hash with capacity-1. The capacity must therefore
// be a power of two. This is not verified: a capacity that is not a power of
// two silently leaves some buckets unreachable, which degrades performance
// but never correctness.
//
// Each bucket heads a singly linked chain of nodes. New keys are appended at
// the tail of their chain, so a chain lists its keys oldest first. A key
// occurs in at most one node across the whole table.
//
// The table never resizes itself. The load factor (Len/Capacity) is the
// caller's to manage using Resize, which rehashes every entry into a freshly
// allocated bucket array.
//
// # Locking
//
// A single sync.RWMutex guards the bucket array, every chain and the entry
// count. Get and Len take the read lock; Set, Remove, Resize and Close take
// the write lock. Each of these holds the lock for exactly one call, so any
// two mutations are totally ordered and every read observes a state
// consistent with some point in that order.
//
// Iterators are the exception. An Iterator acquires the lock when it is
// opened and releases it only when it is closed:
//
//	it := t.Iter()
//	defer it.Close()
//	for e := it.Next(); e != nil; e = it.Next() {
//	  fmt.Printf("%s: %v\n", e.Key(), e.Value)
//	}
//
// A shared iterator (Iter) blocks every writer until it is closed. An
// exclusive iterator (IterMut) blocks every other operation until it is
// closed. An iterator that is never closed deadlocks the table. Prefer All
// and AllMut, which release the lock on every exit path.
//
// # Allocation
//
// The bucket array and the chain nodes are obtained from an Allocator (see
// WithAllocator), which allows pool or arena allocators and test
// instrumentation to be substituted without changing the table. Values are
// never owned by the table: Remove hands the removed value back to the
// caller and Close drops values without inspecting them.
package htable

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sys/cpu"
)

const debug = false

var (
	// ErrAllocFailed is returned when the table's Allocator fails to provide
	// a bucket array or node. The operation that failed leaves the table as
	// it was.
	ErrAllocFailed = errors.New("htable: allocation failed")
	// ErrInvalidCapacity is returned for a capacity that is not positive.
	ErrInvalidCapacity = errors.New("htable: capacity must be positive")
	// ErrClosed is returned by mutations on a Table after Close.
	ErrClosed = errors.New("htable: table is closed")
)

// Entry holds a key and value. The key of an entry is fixed once it is in a
// table; the value may be modified through an exclusive Iterator.
type Entry[V any] struct {
	key   string
	Value V
}

// Key returns the entry's key.
func (e *Entry[V]) Key() string {
	return e.key
}

// Node is a link in a bucket's chain. Nodes are owned by the table they are
// stored in and are only exposed so that an Allocator can provide them.
type Node[V any] struct {
	entry Entry[V]
	next  *Node[V]
}

// Table is a chained hash table from string keys to values of type V. It is
// safe for concurrent use by multiple goroutines. The zero value for a Table
// is not usable; use New.
type Table[V any] struct {
	// The hash function for keys. Fixed at construction.
	hash hashFn
	// The allocator to use for the bucket array and nodes. Fixed at
	// construction.
	allocator Allocator[V]

	// Keep mu on its own cache line so that a table embedded alongside
	// other frequently written data does not false share with it.
	_  cpu.CacheLinePad
	mu sync.RWMutex
	_  cpu.CacheLinePad

	// buckets is capacity in length. It is nil once the table is closed.
	buckets []*Node[V]
	// The number of chain heads. Used as a mask, so it is expected to be a
	// power of two.
	capacity int
	// The number of nodes reachable from buckets.
	used int
}

// New constructs a new Table with the specified capacity, which should be a
// power of two. The capacity is used as given and does not change unless
// Resize is called.
//
// New returns ErrInvalidCapacity if capacity is not positive and
// ErrAllocFailed if the allocator cannot provide the bucket array.
func New[V any](capacity int, options ...option[V]) (*Table[V], error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}

	t := &Table[V]{
		hash:      fnv1a,
		allocator: defaultAllocator[V]{},
	}

	for _, op := range options {
		op.apply(t)
	}

	buckets, err := t.allocBuckets(capacity)
	if err != nil {
		return nil, err
	}
	t.buckets = buckets
	t.capacity = capacity

	t.checkInvariants()
	return t, nil
}

// Close releases every node and the bucket array back to the configured
// allocator. It is unnecessary to close a table using the default allocator.
// The caller must ensure no other goroutine is using the table or will use
// it once Close is called. Close itself is idempotent.
func (t *Table[V]) Close() {
	it := t.IterMut()
	defer it.Close()

	if t.buckets == nil {
		return
	}
	t.freeBuckets(t.buckets)
	t.buckets = nil
	t.capacity = 0
	t.used = 0
}

// Len returns the number of entries in the table.
func (t *Table[V]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.used
}

// Capacity returns the number of buckets in the table.
func (t *Table[V]) Capacity() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.capacity
}

// Set inserts an entry into the table, overwriting the value of an existing
// entry with the same key. The previous value is dropped without
// inspection; callers that need it should Get or Remove it first.
//
// Set allocates at most one node. If the allocation fails Set returns
// ErrAllocFailed and the table is unchanged.
func (t *Table[V]) Set(key string, value V) error {
	h := t.hash(key)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.buckets == nil {
		return ErrClosed
	}
	if err := t.set(h, key, value); err != nil {
		return err
	}
	t.checkInvariants()
	return nil
}

// set is Set with the write lock held.
func (t *Table[V]) set(h uint64, key string, value V) error {
	i := t.bucket(h)
	if debug {
		fmt.Printf("set(%q): hash=%016x bucket=%d\n", key, h, i)
	}

	// Walk the chain by the address of each link so that an empty bucket
	// and the tail of a non-empty chain are handled the same way.
	link := &t.buckets[i]
	for *link != nil {
		n := *link
		if n.entry.key == key {
			if debug {
				fmt.Printf("set(updating): bucket=%d key=%q\n", i, key)
			}
			n.entry.Value = value
			return nil
		}
		link = &n.next
	}

	n := t.allocator.AllocNode()
	if n == nil {
		if debug {
			fmt.Printf("set(alloc-failed): bucket=%d key=%q\n", i, key)
		}
		return ErrAllocFailed
	}
	n.entry = Entry[V]{key: key, Value: value}
	n.next = nil
	*link = n
	t.used++
	if debug {
		fmt.Printf("set(inserting): bucket=%d key=%q used=%d\n", i, key, t.used)
	}
	return nil
}

// Get retrieves the value from the table for the specified key, returning
// ok=false if the key is not present.
func (t *Table[V]) Get(key string) (value V, ok bool) {
	h := t.hash(key)

	t.mu.RLock()
	defer t.mu.RUnlock()

	if n := t.find(h, key); n != nil {
		return n.entry.Value, true
	}
	if debug {
		fmt.Printf("get(not-found): key=%q\n", key)
	}
	return value, false
}

// find returns the node holding key, or nil. The lock must be held.
func (t *Table[V]) find(h uint64, key string) *Node[V] {
	if t.buckets == nil {
		return nil
	}
	for n := t.buckets[t.bucket(h)]; n != nil; n = n.next {
		if n.entry.key == key {
			return n
		}
	}
	return nil
}

// Remove deletes the entry for the specified key from the table and returns
// its value, returning ok=false if the key is not present. The table keeps
// no reference to the returned value.
func (t *Table[V]) Remove(key string) (value V, ok bool) {
	h := t.hash(key)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.buckets == nil {
		return value, false
	}

	i := t.bucket(h)
	var prev *Node[V]
	for n := t.buckets[i]; n != nil; prev, n = n, n.next {
		if n.entry.key != key {
			continue
		}
		if prev == nil {
			t.buckets[i] = n.next
		} else {
			prev.next = n.next
		}
		value = n.entry.Value
		t.freeNode(n)
		t.used--
		if debug {
			fmt.Printf("remove(%q): bucket=%d used=%d\n", key, i, t.used)
		}
		t.checkInvariants()
		return value, true
	}

	if debug {
		fmt.Printf("remove(not-found): bucket=%d key=%q\n", i, key)
	}
	return value, false
}

// Resize rehashes every entry into a new bucket array of newCapacity
// buckets, which should be a power of two. A newCapacity smaller than Len is
// accepted but produces long chains.
//
// Resize holds the write lock for its whole duration and allocates a new
// node for every entry. If any allocation fails the new structure is
// released, the table is left as it was and ErrAllocFailed is returned.
func (t *Table[V]) Resize(newCapacity int) error {
	if newCapacity <= 0 {
		return ErrInvalidCapacity
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.buckets == nil {
		return ErrClosed
	}

	// Build the resized table using the normal insertion path so that bucket
	// indexes are recomputed under the new mask. The original nodes stay in
	// place until the resized table is complete.
	resized := &Table[V]{
		hash:      t.hash,
		allocator: t.allocator,
		capacity:  newCapacity,
	}
	buckets, err := resized.allocBuckets(newCapacity)
	if err != nil {
		return err
	}
	resized.buckets = buckets

	if debug {
		fmt.Printf("resize: capacity=%d->%d used=%d\n", t.capacity, newCapacity, t.used)
	}

	for _, n := range t.buckets {
		for ; n != nil; n = n.next {
			if err := resized.set(t.hash(n.entry.key), n.entry.key, n.entry.Value); err != nil {
				if debug {
					fmt.Printf("resize(alloc-failed): reinserted=%d of %d\n", resized.used, t.used)
				}
				resized.freeBuckets(resized.buckets)
				return err
			}
		}
	}

	t.freeBuckets(t.buckets)
	t.buckets = resized.buckets
	t.capacity = resized.capacity
	t.used = resized.used

	t.checkInvariants()
	return nil
}

// bucket returns the index of the bucket for hash value h.
func (t *Table[V]) bucket(h uint64) int {
	return int(h & uint64(t.capacity-1))
}

// allocBuckets obtains a bucket array of n chain heads from the allocator.
func (t *Table[V]) allocBuckets(n int) ([]*Node[V], error) {
	buckets := t.allocator.AllocBuckets(n)
	if len(buckets) < n {
		if buckets != nil {
			t.allocator.FreeBuckets(buckets)
		}
		return nil, ErrAllocFailed
	}
	return buckets[:n:n], nil
}

// freeBuckets returns every node reachable from buckets, and then buckets
// itself, to the allocator.
func (t *Table[V]) freeBuckets(buckets []*Node[V]) {
	for i, n := range buckets {
		for n != nil {
			next := n.next
			t.freeNode(n)
			n = next
		}
		buckets[i] = nil
	}
	t.allocator.FreeBuckets(buckets)
}

// freeNode zeroes n, dropping its references to the key, value and the rest
// of the chain, and returns it to the allocator.
func (t *Table[V]) freeNode(n *Node[V]) {
	*n = Node[V]{}
	t.allocator.FreeNode(n)
}

func (t *Table[V]) checkInvariants() {
	if invariants {
		if t.buckets == nil {
			if t.used != 0 || t.capacity != 0 {
				panic(fmt.Sprintf("invariant failed: closed table has used=%d capacity=%d", t.used, t.capacity))
			}
			return
		}
		if len(t.buckets) != t.capacity {
			panic(fmt.Sprintf("invariant failed: %d buckets, but capacity is %d\n%s",
				len(t.buckets), t.capacity, t.debugString()))
		}

		// Every node must be in the bucket its key hashes to, and no key may
		// appear twice.
		seen := make(map[string]int)
		var used int
		for i, n := range t.buckets {
			for ; n != nil; n = n.next {
				key := n.entry.key
				if j, ok := seen[key]; ok {
					panic(fmt.Sprintf("invariant failed: key %q found in buckets %d and %d\n%s",
						key, j, i, t.debugString()))
				}
				seen[key] = i
				if b := t.bucket(t.hash(key)); b != i {
					panic(fmt.Sprintf("invariant failed: key %q found in bucket %d, but hashes to %d\n%s",
						key, i, b, t.debugString()))
				}
				used++
			}
		}

		if used != t.used {
			panic(fmt.Sprintf("invariant failed: found %d nodes, but used count is %d\n%s",
				used, t.used, t.debugString()))
		}
	}
}

func (t *Table[V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  used=%d\n", t.capacity, t.used)
	for i, n := range t.buckets {
		if n == nil {
			continue
		}
		fmt.Fprintf(&buf, "  %4d:", i)
		for ; n != nil; n = n.next {
			fmt.Fprintf(&buf, " %q", n.entry.key)
		}
		buf.WriteString("\n")
	}
	return buf.String()
}
