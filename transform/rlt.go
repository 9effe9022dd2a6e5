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

// Implementation of the Mespotine RLE.
// See [An overhead-reduced and improved Run-Length-Encoding Method]
// by Meo Mespotine.
// A first pass counts the bytes that benefit from run encoding; a 32 byte
// bitmap header marks the participating bytes. Lengths are transmitted on
// 1 to 3 bytes:
// runThreshold  <= runLen < 224+runThreshold   -> 1 byte
// 224+threshold <= runLen < 7936+threshold     -> 2 bytes
// 7936+thresh.  <= runLen < 65536+7936+thresh. -> 3 bytes

const (
	_RLT_RUN_LEN_ENCODE1 = 224
	_RLT_RUN_LEN_ENCODE2 = (256 - 1 - _RLT_RUN_LEN_ENCODE1) << 8
	_RLT_MAX_RUN         = 0xFFFF + _RLT_RUN_LEN_ENCODE2
)

// RLT is a run length codec with a per byte participation filter.
type RLT struct {
	runThreshold uint
}

// NewRLT creates a new instance of RLT with the provided run threshold
// (at least 2).
func NewRLT(threshold uint) (*RLT, error) {
	if threshold < 2 {
		return nil, errors.New("invalid run threshold parameter (must be at least 2)")
	}

	this := new(RLT)
	this.runThreshold = threshold
	return this, nil
}

// RunThreshold returns the minimum run length encoded by this codec.
func (this *RLT) RunThreshold() uint {
	return this.runThreshold
}

// Forward encodes the input block.
func (this *RLT) Forward(src, dst []byte) (uint, uint, error) {
	if len(src) == 0 {
		return 0, 0, nil
	}

	if len(dst) == 0 {
		return 0, 0, errors.New("invalid empty destination buffer")
	}

	if &src[0] == &dst[0] {
		return 0, 0, errors.New("input and output buffers cannot be equal")
	}

	if n := this.MaxEncodedLen(len(src)); len(dst) < n {
		return 0, 0, fmt.Errorf("output buffer is too small - size: %d, required %d", len(dst), n)
	}

	counters := [256]int{}
	flags := [32]byte{}
	srcIdx := uint(0)
	dstIdx := uint(0)
	srcEnd := uint(len(src))
	dstEnd := uint(len(dst))
	dstEnd4 := dstEnd - 4
	run := 0
	threshold := int(this.runThreshold)
	maxRun := _RLT_MAX_RUN + int(this.runThreshold)
	var err error

	// Initialize with a value different from the first byte
	prev := ^src[srcIdx]

	// Step 1: compute the per byte run savings and set the flags
	for srcIdx < srcEnd {
		val := src[srcIdx]
		srcIdx++

		if prev == val && run < _RLT_MAX_RUN {
			run++
			continue
		}

		if run >= threshold {
			counters[prev] += (run - threshold - 1)
		}

		prev = val
		run = 1
	}

	if run >= threshold {
		counters[prev] += (run - threshold - 1)
	}

	for i := range counters {
		if counters[i] > 0 {
			flags[i>>3] |= (1 << uint(7-(i&7)))
		}
	}

	// Write the flags to the output
	for i := range flags {
		dst[dstIdx] = flags[i]
		dstIdx++
	}

	srcIdx = 0
	prev = ^src[srcIdx]
	run = 0

	// Step 2: emit the run lengths and the literals.
	// Note that runs over the threshold may still be emitted as literals
	// (for bytes with an unset participation flag).
	for srcIdx < srcEnd && dstIdx < dstEnd {
		val := src[srcIdx]
		srcIdx++

		if prev == val && run < maxRun && counters[prev] > 0 {
			run++

			if run < threshold {
				dst[dstIdx] = prev
				dstIdx++
			}

			continue
		}

		if run >= threshold {
			run -= threshold

			if dstIdx >= dstEnd4 {
				if run >= _RLT_RUN_LEN_ENCODE2 {
					break
				}

				if run >= _RLT_RUN_LEN_ENCODE1 && dstIdx > dstEnd4 {
					break
				}
			}

			dst[dstIdx] = prev
			dstIdx++

			// Encode the run length
			if run >= _RLT_RUN_LEN_ENCODE1 {
				if run < _RLT_RUN_LEN_ENCODE2 {
					run -= _RLT_RUN_LEN_ENCODE1
					dst[dstIdx] = byte(_RLT_RUN_LEN_ENCODE1 + (run >> 8))
					dstIdx++
				} else {
					run -= _RLT_RUN_LEN_ENCODE2
					dst[dstIdx] = byte(0xFF)
					dst[dstIdx+1] = byte(run >> 8)
					dstIdx += 2
				}
			}

			dst[dstIdx] = byte(run)
			dstIdx++
		}

		dst[dstIdx] = val
		dstIdx++
		prev = val
		run = 1
	}

	// Flush the pending run
	if run >= threshold {
		run -= threshold

		if dstIdx >= dstEnd4 {
			if run >= _RLT_RUN_LEN_ENCODE2 {
				err = errors.New("not enough space in destination buffer")
			} else if run >= _RLT_RUN_LEN_ENCODE1 && dstIdx > dstEnd4 {
				err = errors.New("not enough space in destination buffer")
			}
		} else {
			dst[dstIdx] = prev
			dstIdx++

			if run >= _RLT_RUN_LEN_ENCODE1 {
				if run < _RLT_RUN_LEN_ENCODE2 {
					run -= _RLT_RUN_LEN_ENCODE1
					dst[dstIdx] = byte(_RLT_RUN_LEN_ENCODE1 + (run >> 8))
					dstIdx++
				} else {
					run -= _RLT_RUN_LEN_ENCODE2
					dst[dstIdx] = byte(0xFF)
					dst[dstIdx+1] = byte(run >> 8)
					dstIdx += 2
				}
			}

			dst[dstIdx] = byte(run)
			dstIdx++
		}
	}

	if srcIdx != srcEnd {
		err = errors.New("not enough space in destination buffer")
	}

	return srcIdx, dstIdx, err
}

// Inverse decodes the input block.
func (this *RLT) Inverse(src, dst []byte) (uint, uint, error) {
	if len(src) == 0 {
		return 0, 0, nil
	}

	if len(dst) == 0 {
		return 0, 0, errors.New("invalid empty destination buffer")
	}

	if &src[0] == &dst[0] {
		return 0, 0, errors.New("input and output buffers cannot be equal")
	}

	counters := [256]int{}
	srcIdx := uint(0)
	dstIdx := uint(0)
	srcEnd := uint(len(src))
	dstEnd := uint(len(dst))
	run := uint(0)
	threshold := this.runThreshold
	maxRun := uint(_RLT_MAX_RUN) + this.runThreshold
	var err error

	// Read the participation flags
	for i, j := 0, 0; i < 32; i++ {
		flag := src[srcIdx]
		srcIdx++
		counters[j] = int(flag>>7) & 1
		counters[j+1] = int(flag>>6) & 1
		counters[j+2] = int(flag>>5) & 1
		counters[j+3] = int(flag>>4) & 1
		counters[j+4] = int(flag>>3) & 1
		counters[j+5] = int(flag>>2) & 1
		counters[j+6] = int(flag>>1) & 1
		counters[j+7] = int(flag) & 1
		j += 8
	}

	if srcIdx >= srcEnd {
		return srcIdx, dstIdx, errors.New("invalid input data")
	}

	// Initialize with a value different from the first byte
	prev := ^src[srcIdx]

	for srcIdx < srcEnd {
		val := src[srcIdx]
		srcIdx++

		if prev == val && counters[prev] > 0 {
			run++

			if run >= threshold {
				// Decode the length
				run = uint(src[srcIdx])
				srcIdx++

				if run == 0xFF {
					if srcIdx+1 >= srcEnd {
						break
					}

					run = (uint(src[srcIdx]) << 8) | uint(src[srcIdx+1])
					srcIdx += 2
					run += _RLT_RUN_LEN_ENCODE2
				} else if run >= _RLT_RUN_LEN_ENCODE1 {
					if srcIdx >= srcEnd {
						break
					}

					run = ((run - _RLT_RUN_LEN_ENCODE1) << 8) | uint(src[srcIdx])
					run += _RLT_RUN_LEN_ENCODE1
					srcIdx++
				}

				if dstIdx+run > dstEnd || run > maxRun {
					err = errors.New("not enough space in destination buffer")
					break
				}

				// Emit 'run' times the previous byte
				for run >= 4 {
					dst[dstIdx] = prev
					dst[dstIdx+1] = prev
					dst[dstIdx+2] = prev
					dst[dstIdx+3] = prev
					dstIdx += 4
					run -= 4
				}

				for run > 0 {
					dst[dstIdx] = prev
					dstIdx++
					run--
				}

				run = 0
			}
		} else {
			prev = val
			run = 1
		}

		if dstIdx >= dstEnd {
			break
		}

		dst[dstIdx] = val
		dstIdx++
	}

	if err == nil && srcIdx != srcEnd {
		err = errors.New("not enough space in destination buffer")
	}

	return srcIdx, dstIdx, err
}

// MaxEncodedLen returns the max size required for the encoding output buffer
func (this *RLT) MaxEncodedLen(srcLen int) int {
	return srcLen + 32
}
