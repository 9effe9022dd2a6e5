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

	bloq "github.com/bloqpack/bloq"
)

const (
	_SEQUENCE_SKIP_MASK = byte(0xFF)
)

// Sequence chains up to 8 byte transforms. Stage i reads from one buffer
// and writes into the other (ping-pong); a stage that fails (typically
// for lack of output space or unsuitable data) is recorded in the skip
// flags and bypassed, the data passing through unchanged.
type Sequence struct {
	transforms []bloq.ByteTransform
	skipFlags  byte // bit 7-i set = stage i skipped
}

// NewSequence creates a Sequence over the provided transforms.
func NewSequence(transforms []bloq.ByteTransform) (*Sequence, error) {
	if transforms == nil {
		return nil, errors.New("invalid null transforms parameter")
	}

	if len(transforms) == 0 || len(transforms) > 8 {
		return nil, errors.New("only 1 to 8 transforms allowed")
	}

	this := new(Sequence)
	this.transforms = transforms
	return this, nil
}

// Forward runs every stage in order. Returns the number of bytes read and
// written. Fails if every stage was skipped: the caller then stores the
// data unmodified.
func (this *Sequence) Forward(src, dst []byte) (uint, uint, error) {
	this.skipFlags = _SEQUENCE_SKIP_MASK

	if len(src) == 0 {
		return 0, 0, nil
	}

	if &src[0] == &dst[0] {
		return 0, 0, errors.New("input and output buffers cannot be equal")
	}

	requiredSize := this.MaxEncodedLen(len(src))

	if len(dst) < requiredSize {
		return 0, 0, fmt.Errorf("output buffer is too small - size: %d, required %d", len(dst), requiredSize)
	}

	blockSize := uint(len(src))
	length := blockSize
	in, out := src, dst
	swaps := 0

	for i, t := range this.transforms {
		savedLength := length

		if len(out) < requiredSize {
			out = make([]byte, requiredSize)
		}

		// Apply the forward transform
		if _, dstLen, err := t.Forward(in[0:length], out); err != nil {
			// The transform does not apply to this data or would expand
			// it beyond the provided space: skip the stage
			length = savedLength
			continue
		} else {
			length = dstLen
		}

		this.skipFlags &= ^(1 << (7 - uint(i)))
		in, out = out, in
		swaps++
	}

	if this.skipFlags == _SEQUENCE_SKIP_MASK {
		return blockSize, blockSize, errors.New("all transforms skipped")
	}

	if swaps&1 == 0 {
		copy(dst, in[0:length])
	}

	return blockSize, length, nil
}

// Inverse walks the stages in reverse order, bypassing the skipped ones.
func (this *Sequence) Inverse(src, dst []byte) (uint, uint, error) {
	if len(src) == 0 {
		return 0, 0, nil
	}

	if &src[0] == &dst[0] {
		return 0, 0, errors.New("input and output buffers cannot be equal")
	}

	blockSize := uint(len(src))

	if this.skipFlags == _SEQUENCE_SKIP_MASK {
		copy(dst, src)
		return blockSize, blockSize, nil
	}

	length := blockSize
	in, out := src, dst
	var err error
	swaps := 0

	for i := len(this.transforms) - 1; i >= 0; i-- {
		if this.skipFlags&(1<<(7-uint(i))) != 0 {
			continue
		}

		if len(out) < len(dst) {
			out = make([]byte, len(dst))
		}

		// All inverse transforms must succeed
		if _, length, err = this.transforms[i].Inverse(in[0:length], out); err != nil {
			break
		}

		in, out = out, in
		swaps++
	}

	if err == nil && swaps&1 == 0 {
		copy(dst, in[0:length])
	}

	return blockSize, length, err
}

// MaxEncodedLen returns the max size required for the encoding output buffer
func (this *Sequence) MaxEncodedLen(srcLen int) int {
	requiredSize := srcLen

	for _, t := range this.transforms {
		reqSize := t.MaxEncodedLen(requiredSize)

		if reqSize > requiredSize {
			requiredSize = reqSize
		}
	}

	return requiredSize
}

// Len returns the number of transforms in the sequence (in [1..8])
func (this *Sequence) Len() int {
	return len(this.transforms)
}

// SkipFlags returns the flags marking the skipped stages (bit set = skip)
func (this *Sequence) SkipFlags() byte {
	return this.skipFlags
}

// SetSkipFlags sets the flags marking the stages to bypass on inverse
func (this *Sequence) SetSkipFlags(flags byte) bool {
	this.skipFlags = flags
	return true
}
