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

// X86 jump codec. Rewrites the PC relative displacements of E8/E9
// call/jump instructions into absolute form to create repetitions in the
// displacement bytes, improving downstream entropy coding.
// Adapted from MCM: https://github.com/mathieuchartier/mcm

const (
	_X86_INSTRUCTION_MASK = 0xFE
	_X86_INSTRUCTION_JUMP = 0xE8
	_X86_ADDRESS_MASK     = 0xD5
	_X86_ESCAPE           = 0x02
)

// X86Codec rewrites E8/E9 displacements; an escape byte keeps the inverse
// unambiguous when a displacement byte collides with the encoding.
type X86Codec struct {
}

// NewX86Codec creates a new instance of X86Codec
func NewX86Codec() (*X86Codec, error) {
	return &X86Codec{}, nil
}

// Forward rewrites the jump targets. Declines (stage skipped) when the
// jump density suggests the input is not binary code.
func (this *X86Codec) Forward(src, dst []byte) (uint, uint, error) {
	if len(src) == 0 {
		return 0, 0, nil
	}

	if &src[0] == &dst[0] {
		return 0, 0, errors.New("input and output buffers cannot be equal")
	}

	count := len(src)

	if n := this.MaxEncodedLen(count); len(dst) < n {
		return 0, 0, fmt.Errorf("output buffer is too small - size: %d, required %d", len(dst), n)
	}

	jumps := 0
	end := count - 8

	for i := 0; i < end; i++ {
		if src[i]&_X86_INSTRUCTION_MASK == _X86_INSTRUCTION_JUMP {
			// Count valid relative jumps (E8/E9 .. .. .. 00/FF)
			if src[i+4] == 0 || src[i+4] == 255 {
				// No encoding conflict ?
				if src[i+1] != 0 && src[i+1] != 1 && src[i+1] != _X86_ESCAPE {
					jumps++
				}
			}
		}
	}

	if jumps < (count >> 7) {
		// Not enough jump instructions: either not a binary or not worth
		// the rewrite. Very crude filter obviously.
		return 0, 0, errors.New("not a binary or not enough jumps")
	}

	srcIdx := 0
	dstIdx := 0

	for srcIdx < end {
		dst[dstIdx] = src[srcIdx]
		dstIdx++
		srcIdx++

		// Relative jump ?
		if src[srcIdx-1]&_X86_INSTRUCTION_MASK != _X86_INSTRUCTION_JUMP {
			continue
		}

		cur := src[srcIdx]

		if cur == 0 || cur == 1 || cur == _X86_ESCAPE {
			// The conflict prevents encoding the address: emit the escape
			dst[dstIdx] = _X86_ESCAPE
			dst[dstIdx+1] = cur
			srcIdx++
			dstIdx += 2
			continue
		}

		sgn := src[srcIdx+3]

		// Invalid sign of the displacement => false positive ?
		if sgn != 0 && sgn != 255 {
			continue
		}

		addr := int32(src[srcIdx]) | (int32(src[srcIdx+1]) << 8) |
			(int32(src[srcIdx+2]) << 16) | (int32(sgn) << 24)

		addr += int32(srcIdx)
		dst[dstIdx] = byte(sgn + 1)
		dst[dstIdx+1] = _X86_ADDRESS_MASK ^ byte(addr>>16)
		dst[dstIdx+2] = _X86_ADDRESS_MASK ^ byte(addr>>8)
		dst[dstIdx+3] = _X86_ADDRESS_MASK ^ byte(addr)
		srcIdx += 4
		dstIdx += 4
	}

	for srcIdx < count {
		dst[dstIdx] = src[srcIdx]
		dstIdx++
		srcIdx++
	}

	return uint(srcIdx), uint(dstIdx), nil
}

// Inverse restores the PC relative displacements.
func (this *X86Codec) Inverse(src, dst []byte) (uint, uint, error) {
	if len(src) == 0 {
		return 0, 0, nil
	}

	if &src[0] == &dst[0] {
		return 0, 0, errors.New("input and output buffers cannot be equal")
	}

	count := len(src)
	srcIdx := 0
	dstIdx := 0
	end := count - 8

	for srcIdx < end {
		dst[dstIdx] = src[srcIdx]
		dstIdx++
		srcIdx++

		// Relative jump ?
		if src[srcIdx-1]&_X86_INSTRUCTION_MASK != _X86_INSTRUCTION_JUMP {
			continue
		}

		sgn := src[srcIdx]

		if sgn == _X86_ESCAPE {
			// Not an encoded address: skip the escape symbol
			srcIdx++
			continue
		}

		// Invalid sign of the displacement => false positive ?
		if sgn != 1 && sgn != 0 {
			continue
		}

		addr := (_X86_ADDRESS_MASK ^ int32(src[srcIdx+3])) |
			((_X86_ADDRESS_MASK ^ int32(src[srcIdx+2])) << 8) |
			((_X86_ADDRESS_MASK ^ int32(src[srcIdx+1])) << 16) |
			((0xFF & int32(sgn-1)) << 24)

		addr -= int32(dstIdx)
		dst[dstIdx] = byte(addr)
		dst[dstIdx+1] = byte(addr >> 8)
		dst[dstIdx+2] = byte(addr >> 16)
		dst[dstIdx+3] = byte(sgn - 1)
		srcIdx += 4
		dstIdx += 4
	}

	for srcIdx < count {
		dst[dstIdx] = src[srcIdx]
		dstIdx++
		srcIdx++
	}

	return uint(srcIdx), uint(dstIdx), nil
}

// MaxEncodedLen returns the max size required for the encoding output buffer
func (this *X86Codec) MaxEncodedLen(srcLen int) int {
	return (srcLen * 5) >> 2
}
