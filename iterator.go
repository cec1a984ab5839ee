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

package htable

type lockMode uint8

const (
	lockShared lockMode = iota
	lockExclusive
)

// Iterator is a cursor over the entries of a Table. It holds the table's
// lock from the moment it is opened until Close is called, so every
// Iterator must be closed exactly once.
//
// Entries are returned in ascending bucket order and, within a bucket, in
// the order they were inserted.
type Iterator[V any] struct {
	t *Table[V]
	// The node most recently returned by Next, or nil before the first call
	// and once the iterator is exhausted.
	node *Node[V]
	// The index of the next bucket to scan once node's chain is exhausted.
	nextBucket int
	mode       lockMode
	closed     bool
}

// Iter returns an iterator that holds the table's read lock until it is
// closed. Get and other shared iterators may proceed concurrently, but no
// Set, Remove, Resize or Close can proceed until the iterator is closed. A
// long-lived shared iterator starves every writer.
func (t *Table[V]) Iter() *Iterator[V] {
	t.mu.RLock()
	return &Iterator[V]{t: t, mode: lockShared}
}

// IterMut returns an iterator that holds the table's write lock until it is
// closed. No other operation, read or write, can proceed until the iterator
// is closed.
//
// The Value of an entry returned by an exclusive iterator may be modified in
// place. Inserting or removing keys while the iterator is open is not
// supported: calling Set or Remove on the table from the goroutine holding
// the iterator deadlocks.
func (t *Table[V]) IterMut() *Iterator[V] {
	t.mu.Lock()
	return &Iterator[V]{t: t, mode: lockExclusive}
}

// TryIter is like Iter but returns ok=false instead of blocking if the read
// lock is not immediately available.
func (t *Table[V]) TryIter() (it *Iterator[V], ok bool) {
	if !t.mu.TryRLock() {
		return nil, false
	}
	return &Iterator[V]{t: t, mode: lockShared}, true
}

// TryIterMut is like IterMut but returns ok=false instead of blocking if the
// write lock is not immediately available.
func (t *Table[V]) TryIterMut() (it *Iterator[V], ok bool) {
	if !t.mu.TryLock() {
		return nil, false
	}
	return &Iterator[V]{t: t, mode: lockExclusive}, true
}

// Next advances the iterator and returns the next entry, or nil once every
// entry has been returned. Once Next has returned nil it always returns nil.
// The returned entry must not be used after the iterator is closed.
func (it *Iterator[V]) Next() *Entry[V] {
	if n := it.nextNode(); n != nil {
		return &n.entry
	}
	return nil
}

func (it *Iterator[V]) nextNode() *Node[V] {
	if it.closed {
		return nil
	}

	// Continue along the current chain.
	if it.node != nil && it.node.next != nil {
		it.node = it.node.next
		return it.node
	}

	// Move on to the head of the next non-empty bucket.
	buckets := it.t.buckets
	for it.nextBucket < len(buckets) {
		n := buckets[it.nextBucket]
		it.nextBucket++
		if n != nil {
			it.node = n
			return n
		}
	}

	it.node = nil
	return nil
}

// Close releases the table's lock. After Close, Next always returns nil.
// Close is idempotent so that it may be deferred alongside an explicit call.
func (it *Iterator[V]) Close() {
	if it.closed {
		return
	}
	it.closed = true
	it.node = nil

	switch it.mode {
	case lockExclusive:
		it.t.mu.Unlock()
	default:
		it.t.mu.RUnlock()
	}
}

// All calls yield sequentially for each key and value present in the table
// while holding the read lock. If yield returns false, iteration stops. The
// lock is released when All returns, including when yield panics. yield must
// not call Set, Remove, Resize or Close on the table.
func (t *Table[V]) All(yield func(key string, value V) bool) {
	it := t.Iter()
	defer it.Close()

	for e := it.Next(); e != nil; e = it.Next() {
		if !yield(e.key, e.Value) {
			return
		}
	}
}

// AllMut calls yield sequentially for each entry in the table while holding
// the write lock. yield may modify the entry's Value. If yield returns
// false, iteration stops. The lock is released when AllMut returns,
// including when yield panics.
func (t *Table[V]) AllMut(yield func(e *Entry[V]) bool) {
	it := t.IterMut()
	defer it.Close()

	for e := it.Next(); e != nil; e = it.Next() {
		if !yield(e) {
			return
		}
	}
}
