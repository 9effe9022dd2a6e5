/*
Copyright 2011-2017 Frederic Langlet
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
you may obtain a copy of the License at

                http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package transform

import (
	"sort"
)

// Suffix sorting primitive used by the BWT and BWTS. The block transforms
// only rely on ComputeSuffixArray, so the sorter can be swapped for a
// faster algorithm (divsufsort, SA-IS) without touching them.
//
// This implementation uses prefix doubling (Manber & Myers): suffixes are
// ranked by their first k characters, then k is doubled until all ranks
// are distinct. O(n log^2 n) overall.

type suffixSorter struct {
	rank []int32
	tmp  []int32
}

func newSuffixSorter() (*suffixSorter, error) {
	this := new(suffixSorter)
	this.rank = make([]int32, 0)
	this.tmp = make([]int32, 0)
	return this, nil
}

// ComputeSuffixArray fills sa with the indexes of the sorted suffixes of
// src. A suffix that is a prefix of another sorts first.
func (this *suffixSorter) ComputeSuffixArray(src []byte, sa []int32) {
	n := len(src)

	if len(this.rank) < n {
		this.rank = make([]int32, n)
		this.tmp = make([]int32, n)
	}

	rank := this.rank[0:n]
	tmp := this.tmp[0:n]

	for i := 0; i < n; i++ {
		sa[i] = int32(i)
		rank[i] = int32(src[i])
	}

	for k := 1; ; k <<= 1 {
		// Rank of the suffix starting k positions after i (-1 past the end)
		key := func(i int32) int32 {
			if int(i)+k < n {
				return rank[int(i)+k]
			}

			return -1
		}

		sort.Slice(sa, func(x, y int) bool {
			a, b := sa[x], sa[y]

			if rank[a] != rank[b] {
				return rank[a] < rank[b]
			}

			return key(a) < key(b)
		})

		tmp[sa[0]] = 0

		for i := 1; i < n; i++ {
			tmp[sa[i]] = tmp[sa[i-1]]

			if rank[sa[i]] != rank[sa[i-1]] || key(sa[i]) != key(sa[i-1]) {
				tmp[sa[i]]++
			}
		}

		copy(rank, tmp)

		if int(rank[sa[n-1]]) == n-1 {
			break
		}
	}
}
