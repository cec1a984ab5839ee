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

import "github.com/cespare/xxhash/v2"

const (
	fnvOffset64 = 14695981039346656037
	fnvPrime64  = 1099511628211
)

type hashFn func(key string) uint64

// fnv1a is the 64-bit FNV-1a hash of key. It is unseeded, so the same key
// hashes to the same value in every process. Keys chosen by an adversary can
// be made to collide in a single bucket; the table is intended for trusted
// keys.
func fnv1a(key string) uint64 {
	h := uint64(fnvOffset64)
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= fnvPrime64
	}
	return h
}

// XXHash is a hash function for use with WithHash. It is considerably faster
// than the default FNV-1a on long keys and, like FNV-1a, is unseeded.
func XXHash(key string) uint64 {
	return xxhash.Sum64String(key)
}
