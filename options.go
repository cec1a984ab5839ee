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

// option provide an interface to do work on Table while it is being created.
type option[V any] interface {
	apply(t *Table[V])
}

type hashOption[V any] struct {
	hash hashFn
}

func (op hashOption[V]) apply(t *Table[V]) {
	t.hash = op.hash
}

// WithHash is an option to specify the hash function to use for a Table[V].
// The function must be deterministic. The default is 64-bit FNV-1a.
func WithHash[V any](hash func(key string) uint64) option[V] {
	return hashOption[V]{hash}
}

// Allocator specifies an interface for allocating and releasing the memory
// used by a Table: the bucket array and the chain nodes. The default
// allocator utilizes Go's builtin make() and new() and allows the GC to
// reclaim memory.
//
// An allocator signals failure by returning nil. A Table never retries a
// failed allocation.
//
// If the allocator is manually managing memory and requires that buckets and
// nodes be freed then Table.Close must be called in order to ensure
// FreeBuckets and FreeNode are called.
type Allocator[V any] interface {
	// AllocBuckets should return a slice equivalent to make([]*Node[V], n),
	// or nil if the allocation cannot be satisfied.
	AllocBuckets(n int) []*Node[V]

	// AllocNode should return a zeroed node equivalent to new(Node[V]), or
	// nil if the allocation cannot be satisfied.
	AllocNode() *Node[V]

	// FreeBuckets can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocBuckets. Every element is nil when FreeBuckets is called.
	FreeBuckets(v []*Node[V])

	// FreeNode can optionally release the memory associated with a node that
	// is guaranteed to have been allocated by AllocNode and is no longer
	// reachable from the table. The node has been zeroed.
	FreeNode(n *Node[V])
}

type defaultAllocator[V any] struct{}

func (defaultAllocator[V]) AllocBuckets(n int) []*Node[V] {
	return make([]*Node[V], n)
}

func (defaultAllocator[V]) AllocNode() *Node[V] {
	return new(Node[V])
}

func (defaultAllocator[V]) FreeBuckets(v []*Node[V]) {
}

func (defaultAllocator[V]) FreeNode(n *Node[V]) {
}

type allocatorOption[V any] struct {
	allocator Allocator[V]
}

func (op allocatorOption[V]) apply(t *Table[V]) {
	t.allocator = op.allocator
}

// WithAllocator is an option for specify the Allocator to use for a Table[V].
// The allocator is fixed for the lifetime of the table.
func WithAllocator[V any](allocator Allocator[V]) option[V] {
	return allocatorOption[V]{allocator}
}
