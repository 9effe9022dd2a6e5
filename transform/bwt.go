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
	"errors"
	"fmt"
)

// The Burrows-Wheeler Transform is a reversible permutation of the data
// in the original message that exposes locality to the downstream stages.
//
// Burrows M and Wheeler D, [A block sorting lossless data compression
// algorithm], Technical Report 124, Digital Equipment Corporation, 1994
//
// The permutation is derived from a suffix array rather than by sorting
// rotations:
//
// E.G.    0123456789A
// Source: mississippi\0
// Suffix array SA : 10 7 4 1 0 9 8 6 3 5 2
// BWT[i] = input[SA[i]-1] => BWT(input) = pssm[i]pissii (+ primary index 4)
//
// The guard (virtual trailing sentinel) is handled internally and is
// entirely transparent.
//
// This implementation extends the canonical algorithm with up to
// _BWT_MAX_CHUNKS primary indexes, one per data chunk, so that chunks can
// be inverted independently.

const (
	_BWT_MAX_BLOCK_SIZE = 1024 * 1024 * 1024
	_BWT_MAX_CHUNKS     = 8
	_BWT_CHUNK_SIZE     = 1 << 23
)

// BWT is the block sorting transform with per chunk primary indexes.
type BWT struct {
	buffer         []uint32
	primaryIndexes [8]uint
	saAlgo         *suffixSorter
	sa             []int32
}

// NewBWT creates a new instance of BWT
func NewBWT() (*BWT, error) {
	this := new(BWT)
	this.buffer = make([]uint32, 0)
	this.sa = make([]int32, 0)
	return this, nil
}

// PrimaryIndex returns the primary index of the n-th chunk
func (this *BWT) PrimaryIndex(n int) uint {
	return this.primaryIndexes[n]
}

// SetPrimaryIndex sets the primary index of the n-th chunk
func (this *BWT) SetPrimaryIndex(n int, primaryIndex uint) bool {
	if n < 0 || n >= len(this.primaryIndexes) {
		return false
	}

	this.primaryIndexes[n] = primaryIndex
	return true
}

// GetBWTChunks returns the number of chunks for the given block size:
// ceil(size / _BWT_CHUNK_SIZE), capped at _BWT_MAX_CHUNKS.
func GetBWTChunks(size int) int {
	if size <= _BWT_CHUNK_SIZE {
		return 1
	}

	res := (size + _BWT_CHUNK_SIZE - 1) >> 23

	if res > _BWT_MAX_CHUNKS {
		return _BWT_MAX_CHUNKS
	}

	return res
}

// MaxBWTBlockSize returns the maximum size of a BWT block
func MaxBWTBlockSize() int {
	return _BWT_MAX_BLOCK_SIZE
}

// Forward applies the transform. The primary indexes are available
// through PrimaryIndex() afterwards.
func (this *BWT) Forward(src, dst []byte) (uint, uint, error) {
	if len(src) == 0 {
		return 0, 0, nil
	}

	if &src[0] == &dst[0] {
		return 0, 0, errors.New("input and output buffers cannot be equal")
	}

	count := len(src)

	if count > MaxBWTBlockSize() {
		return 0, 0, fmt.Errorf("the max BWT block size is %v, got %v", MaxBWTBlockSize(), count)
	}

	if count > len(dst) {
		return 0, 0, fmt.Errorf("block size is %v, output buffer length is %v", count, len(dst))
	}

	if count < 2 {
		if count == 1 {
			dst[0] = src[0]
		}

		this.SetPrimaryIndex(0, 0)
		return uint(count), uint(count), nil
	}

	if this.saAlgo == nil {
		var err error

		if this.saAlgo, err = newSuffixSorter(); err != nil {
			return 0, 0, err
		}
	}

	if len(this.sa) < count {
		this.sa = make([]int32, count)
	}

	sa := this.sa[0:count]
	this.saAlgo.ComputeSuffixArray(src[0:count], sa)
	n := 0
	chunks := GetBWTChunks(count)

	if chunks == 1 {
		for n < count {
			if sa[n] == 0 {
				this.SetPrimaryIndex(0, uint(n))
				break
			}

			dst[n] = src[sa[n]-1]
			n++
		}

		dst[n] = src[count-1]
		n++

		for n < count {
			dst[n] = src[sa[n]-1]
			n++
		}
	} else {
		step := int32(count / chunks)

		if int(step)*chunks != count {
			step++
		}

		for n < count {
			if sa[n]%step == 0 {
				this.SetPrimaryIndex(int(sa[n]/step), uint(n))

				if sa[n] == 0 {
					break
				}
			}

			dst[n] = src[sa[n]-1]
			n++
		}

		dst[n] = src[count-1]
		n++

		for n < count {
			if sa[n]%step == 0 {
				this.SetPrimaryIndex(int(sa[n]/step), uint(n))
			}

			dst[n] = src[sa[n]-1]
			n++
		}
	}

	return uint(count), uint(count), nil
}

// Inverse applies the reverse transform. The primary indexes must have
// been set beforehand.
func (this *BWT) Inverse(src, dst []byte) (uint, uint, error) {
	if len(src) == 0 {
		return 0, 0, nil
	}

	if &src[0] == &dst[0] {
		return 0, 0, errors.New("input and output buffers cannot be equal")
	}

	count := len(src)

	if count > MaxBWTBlockSize() {
		return 0, 0, fmt.Errorf("the max BWT block size is %v, got %v", MaxBWTBlockSize(), count)
	}

	if count > len(dst) {
		return 0, 0, fmt.Errorf("block size is %v, output buffer length is %v", count, len(dst))
	}

	if count < 2 {
		if count == 1 {
			dst[0] = src[0]
		}

		return uint(count), uint(count), nil
	}

	if int(this.PrimaryIndex(0)) >= count {
		return 0, 0, errors.New("invalid primary index")
	}

	if count < 1<<24 {
		return this.inverseRegularBlock(src, dst, count)
	}

	return this.inverseBigBlock(src, dst, count)
}

// When count < 1<<24, the rank and the value are packed in one uint32.
func (this *BWT) inverseRegularBlock(src, dst []byte, count int) (uint, uint, error) {
	if len(this.buffer) < count {
		this.buffer = make([]uint32, count)
	}

	data := this.buffer
	buckets := [256]uint32{}

	// Build the array of packed rank + value, starting at the primary
	// index position (which stands for the virtual sentinel row)
	pIdx := int(this.PrimaryIndex(0))
	val0 := uint32(src[pIdx])
	data[pIdx] = val0
	buckets[val0]++

	for i := 0; i < pIdx; i++ {
		val := uint32(src[i])
		data[i] = (buckets[val] << 8) | val
		buckets[val]++
	}

	for i := pIdx + 1; i < count; i++ {
		val := uint32(src[i])
		data[i] = (buckets[val] << 8) | val
		buckets[val]++
	}

	sum := uint32(0)

	for i, b := range &buckets {
		buckets[i] = sum
		sum += b
	}

	chunks := GetBWTChunks(count)
	idx := count - 1

	if chunks == 1 {
		ptr := data[pIdx]
		dst[idx] = byte(ptr)
		idx--

		for idx >= 0 {
			ptr = data[(ptr>>8)+buckets[ptr&0xFF]]
			dst[idx] = byte(ptr)
			idx--
		}

		return uint(count), uint(count), nil
	}

	// Walk the chunks from the last to the first, restarting at each
	// chunk primary index
	step := count / chunks

	if step*chunks != count {
		step++
	}

	for i := chunks - 1; i >= 0; i-- {
		endIdx := i * step
		ptr := data[pIdx]
		dst[idx] = byte(ptr)
		idx--

		for idx >= endIdx {
			ptr = data[(ptr>>8)+buckets[ptr&0xFF]]
			dst[idx] = byte(ptr)
			idx--
		}

		if i > 0 {
			pIdx = int(this.PrimaryIndex(i))

			if pIdx >= count {
				return 0, 0, errors.New("invalid primary index")
			}
		}
	}

	return uint(count), uint(count), nil
}

// When count >= 1<<24, the rank is kept in its own uint32 array and the
// value is read back from the source.
func (this *BWT) inverseBigBlock(src, dst []byte, count int) (uint, uint, error) {
	if len(this.buffer) < count {
		this.buffer = make([]uint32, count)
	}

	data := this.buffer
	buckets := [256]uint32{}

	pIdx := int(this.PrimaryIndex(0))
	data[pIdx] = buckets[src[pIdx]]
	buckets[src[pIdx]]++

	for i := 0; i < pIdx; i++ {
		data[i] = buckets[src[i]]
		buckets[src[i]]++
	}

	for i := pIdx + 1; i < count; i++ {
		data[i] = buckets[src[i]]
		buckets[src[i]]++
	}

	sum := uint32(0)

	for i, b := range &buckets {
		buckets[i] = sum
		sum += b
	}

	chunks := GetBWTChunks(count)
	idx := count - 1
	step := count / chunks

	if step*chunks != count {
		step++
	}

	for i := chunks - 1; i >= 0; i-- {
		endIdx := i * step
		val := src[pIdx]
		dst[idx] = val
		idx--
		n := data[pIdx] + buckets[val]

		for idx >= endIdx {
			val = src[n]
			dst[idx] = val
			idx--
			n = data[n] + buckets[val]
		}

		if i > 0 {
			pIdx = int(this.PrimaryIndex(i))

			if pIdx >= count {
				return 0, 0, errors.New("invalid primary index")
			}
		}
	}

	return uint(count), uint(count), nil
}

// MaxEncodedLen returns the max size required for the encoding output buffer
func (this *BWT) MaxEncodedLen(srcLen int) int {
	return srcLen
}
