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

import "sync"

// PoolAllocator is an Allocator that recycles nodes through a sync.Pool,
// which reduces allocation churn for workloads that frequently Remove and
// Set keys or Resize. Bucket arrays are allocated with make. A PoolAllocator
// may be shared by any number of tables.
type PoolAllocator[V any] struct {
	nodes sync.Pool
}

var _ Allocator[int] = (*PoolAllocator[int])(nil)

// NewPoolAllocator returns an empty PoolAllocator.
func NewPoolAllocator[V any]() *PoolAllocator[V] {
	a := &PoolAllocator[V]{}
	a.nodes.New = func() any {
		return new(Node[V])
	}
	return a
}

func (a *PoolAllocator[V]) AllocBuckets(n int) []*Node[V] {
	return make([]*Node[V], n)
}

func (a *PoolAllocator[V]) AllocNode() *Node[V] {
	return a.nodes.Get().(*Node[V])
}

func (a *PoolAllocator[V]) FreeBuckets(v []*Node[V]) {
}

// FreeNode returns n to the pool. The table has already zeroed n, so a
// pooled node does not keep the previous key or value reachable.
func (a *PoolAllocator[V]) FreeNode(n *Node[V]) {
	a.nodes.Put(n)
}
