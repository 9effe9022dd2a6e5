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

// Zero Run Length Encoding, a simple encoding by Wheeler closely related
// to Run Length Encoding. Only runs of 0 are processed and the run length
// is emitted one digit per byte (most significant bit stripped). Well
// adapted to post BWT/MTFT data.

const (
	_ZRLT_MAX_RUN = 0x7FFFFFFF
)

// ZRLT encodes runs of zeros; other values are shifted up by one with an
// escape for 0xFE/0xFF.
type ZRLT struct {
}

// NewZRLT creates a new instance of ZRLT
func NewZRLT() (*ZRLT, error) {
	return &ZRLT{}, nil
}

// Forward encodes the input block. Fails (never truncates) when the
// output would exceed the input length.
func (this *ZRLT) Forward(src, dst []byte) (uint, uint, error) {
	if len(src) == 0 {
		return 0, 0, nil
	}

	if &src[0] == &dst[0] {
		return 0, 0, errors.New("input and output buffers cannot be equal")
	}

	if n := this.MaxEncodedLen(len(src)); len(dst) < n {
		return 0, 0, fmt.Errorf("output buffer is too small - size: %d, required %d", len(dst), n)
	}

	srcEnd, dstEnd := uint(len(src)), uint(len(dst))
	dstEnd2 := dstEnd - 2
	runLength := uint32(1)
	srcIdx, dstIdx := uint(0), uint(0)
	var err error

	for srcIdx < srcEnd {
		if src[srcIdx] == 0 {
			runLength++
			srcIdx++

			if srcIdx < srcEnd && runLength < _ZRLT_MAX_RUN {
				continue
			}
		}

		if runLength > 1 {
			// Encode the length
			log2, _ := bloq.Log2(runLength)

			if dstIdx >= dstEnd-uint(log2) {
				break
			}

			// Write every bit as a byte except the most significant one
			for log2 > 0 {
				log2--
				dst[dstIdx] = byte((runLength >> log2) & 1)
				dstIdx++
			}

			runLength = 1
			continue
		}

		if src[srcIdx] >= 0xFE {
			if dstIdx >= dstEnd2 {
				break
			}

			dst[dstIdx] = 0xFF
			dstIdx++
			dst[dstIdx] = src[srcIdx] - 0xFE
		} else {
			if dstIdx >= dstEnd {
				break
			}

			dst[dstIdx] = src[srcIdx] + 1
		}

		srcIdx++
		dstIdx++

		if dstIdx >= dstEnd {
			break
		}
	}

	if srcIdx != srcEnd || runLength != 1 {
		err = errors.New("output buffer is too small")
	}

	return srcIdx, dstIdx, err
}

// Inverse decodes the input block.
func (this *ZRLT) Inverse(src, dst []byte) (uint, uint, error) {
	if len(src) == 0 {
		return 0, 0, nil
	}

	if &src[0] == &dst[0] {
		return 0, 0, errors.New("input and output buffers cannot be equal")
	}

	srcEnd, dstEnd := len(src), len(dst)
	runLength := 1
	srcIdx, dstIdx := 0, 0
	var err error

	for dstIdx < dstEnd {
		if runLength > 1 {
			runLength--
			dst[dstIdx] = 0
			dstIdx++
			continue
		}

		if srcIdx >= srcEnd {
			break
		}

		if src[srcIdx] <= 1 {
			// Rebuild the run length bit by bit (the MSB is implicit)
			runLength = 1

			for src[srcIdx] <= 1 {
				runLength += (runLength + int(src[srcIdx]))
				srcIdx++

				if srcIdx >= srcEnd {
					break
				}
			}

			continue
		}

		// Regular data processing
		if src[srcIdx] == 0xFF {
			srcIdx++

			if srcIdx >= srcEnd {
				break
			}

			dst[dstIdx] = 0xFE + src[srcIdx]
		} else {
			dst[dstIdx] = src[srcIdx] - 1
		}

		srcIdx++
		dstIdx++
	}

	// Pending run of zeros at the end of the block
	end := dstIdx + runLength - 1

	if end > dstEnd {
		err = errors.New("output buffer is too small")
	} else {
		for dstIdx < end {
			dst[dstIdx] = 0
			dstIdx++
		}

		if srcIdx < srcEnd {
			err = errors.New("output buffer is too small")
		}
	}

	return uint(srcIdx), uint(dstIdx), err
}

// MaxEncodedLen returns the max size required for the encoding output
// buffer. ZRLT may expand, in which case Forward fails and the stage is
// skipped.
func (this *ZRLT) MaxEncodedLen(srcLen int) int {
	return srcLen
}
