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

// Move-To-Front Transform. The forward direction keeps the symbols in 16
// bucketed linked lists to bound the cost of the rank lookup; the lists
// are rebalanced when the head list grows past a threshold.

const (
	_MTFT_RESET_THRESHOLD = 64
	_MTFT_LIST_LENGTH     = 17
)

type mtftPayload struct {
	previous *mtftPayload
	next     *mtftPayload
	value    byte
}

// MTFT is the Move-To-Front transform.
type MTFT struct {
	lengths [16]int
	buckets [256]byte
	heads   [16]*mtftPayload
	anchor  *mtftPayload
}

// NewMTFT creates a new instance of MTFT
func NewMTFT() (*MTFT, error) {
	return new(MTFT), nil
}

// Inverse decodes the ranks back into symbols with a flat index table.
func (this *MTFT) Inverse(src, dst []byte) (uint, uint, error) {
	if len(src) == 0 {
		return 0, 0, nil
	}

	if &src[0] == &dst[0] {
		return 0, 0, errors.New("input and output buffers cannot be equal")
	}

	count := len(src)

	if count > len(dst) {
		return 0, 0, fmt.Errorf("block size is %v, output buffer length is %v", count, len(dst))
	}

	indexes := this.buckets

	for i := range indexes {
		indexes[i] = byte(i)
	}

	value := byte(0)

	for i := 0; i < count; i++ {
		if src[i] == 0 {
			dst[i] = value
			continue
		}

		idx := int(src[i])
		value = indexes[idx]
		dst[i] = value

		if idx <= 16 {
			for j := idx - 1; j >= 0; j-- {
				indexes[j+1] = indexes[j]
			}
		} else {
			copy(indexes[1:], indexes[0:idx])
		}

		indexes[0] = value
	}

	return uint(count), uint(count), nil
}

// initLists builds the linked lists: 1 item in bucket 0 and
// _MTFT_LIST_LENGTH in each other. Used by Forward only.
func (this *MTFT) initLists() {
	array := make([]*mtftPayload, 257)
	array[0] = &mtftPayload{value: 0}
	previous := array[0]
	this.heads[0] = previous
	this.lengths[0] = 1
	this.buckets[0] = 0
	listIdx := byte(0)

	for i := 1; i < 256; i++ {
		array[i] = &mtftPayload{value: byte(i)}

		if (i-1)%_MTFT_LIST_LENGTH == 0 {
			listIdx++
			this.heads[listIdx] = array[i]
			this.lengths[listIdx] = _MTFT_LIST_LENGTH
		}

		this.buckets[i] = listIdx
		previous.next = array[i]
		array[i].previous = previous
		previous = array[i]
	}

	// A fake end payload gives every payload a successor
	array[256] = &mtftPayload{value: 0}
	this.anchor = array[256]
	previous.next = this.anchor
}

// balanceLists recreates one list with 1 item and 15 lists with
// _MTFT_LIST_LENGTH items, updating lengths and buckets accordingly.
// Used by Forward only.
func (this *MTFT) balanceLists(resetValues bool) {
	this.lengths[0] = 1
	p := this.heads[0].next
	val := byte(0)

	if resetValues == true {
		this.heads[0].value = byte(0)
		this.buckets[0] = 0
	}

	for listIdx := byte(1); listIdx < 16; listIdx++ {
		this.heads[listIdx] = p
		this.lengths[listIdx] = _MTFT_LIST_LENGTH

		for n := 0; n < _MTFT_LIST_LENGTH; n++ {
			if resetValues == true {
				val++
				p.value = val
			}

			this.buckets[int(p.value)] = listIdx
			p = p.next
		}
	}
}

// Forward encodes symbols as their current rank.
func (this *MTFT) Forward(src, dst []byte) (uint, uint, error) {
	if len(src) == 0 {
		return 0, 0, nil
	}

	if &src[0] == &dst[0] {
		return 0, 0, errors.New("input and output buffers cannot be equal")
	}

	count := len(src)

	if count > len(dst) {
		return 0, 0, fmt.Errorf("block size is %v, output buffer length is %v", count, len(dst))
	}

	if this.anchor == nil {
		this.initLists()
	} else {
		this.balanceLists(true)
	}

	previous := this.heads[0].value

	for ii := 0; ii < count; ii++ {
		current := src[ii]

		if current == previous {
			dst[ii] = byte(0)
			continue
		}

		// Find the list index
		listIdx := int(this.buckets[int(current)])
		p := this.heads[listIdx]
		idx := 0

		for i := 0; i < listIdx; i++ {
			idx += this.lengths[i]
		}

		// Find the index in the list (at most _MTFT_RESET_THRESHOLD steps)
		for p.value != current {
			p = p.next
			idx++
		}

		dst[ii] = byte(idx)

		// Unlink (the end anchor ensures p.next != nil)
		p.previous.next = p.next
		p.next.previous = p.previous

		// Add to the head of the first list
		p.next = this.heads[0]
		p.next.previous = p
		this.heads[0] = p

		// Update the list information
		if listIdx != 0 {
			if p == this.heads[listIdx] {
				this.heads[listIdx] = p.previous.next
			}

			this.buckets[int(current)] = 0

			if this.lengths[0] >= _MTFT_RESET_THRESHOLD {
				this.balanceLists(false)
			} else {
				this.lengths[listIdx]--
				this.lengths[0]++
			}
		}

		previous = current
	}

	return uint(count), uint(count), nil
}

// MaxEncodedLen returns the max size required for the encoding output buffer
func (this *MTFT) MaxEncodedLen(srcLen int) int {
	return srcLen
}
