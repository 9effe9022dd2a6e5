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
	"encoding/binary"
	"errors"
	"fmt"

	bloq "github.com/bloqpack/bloq"
)

// Reduced Offset Lempel Ziv transform. Matches are searched among the
// positions recorded for the key made of the previous two bytes, so a
// match is transmitted as a small ring index instead of a full offset.
// Literals, match lengths and match indexes are coded with an embedded
// binary range coder driven by dedicated predictors.
// Code loosely based on 'balz' by Ilya Muravyov.
// More details at http://ezcodesample.com/rolz/rolz_article.html

const (
	_ROLZ_HASH_SIZE      = 1 << 16
	_ROLZ_MIN_MATCH      = 3
	_ROLZ_MAX_MATCH      = _ROLZ_MIN_MATCH + 255
	_ROLZ_LOG_POS_CHECKS = 5
	_ROLZ_CHUNK_SIZE     = 1 << 26 // 64 MB
	_ROLZ_HASH_MASK      = int32(^(_ROLZ_CHUNK_SIZE - 1))
	_ROLZ_LITERAL_FLAG   = 0
	_ROLZ_MATCH_FLAG     = 1
	_ROLZ_HASH           = int32(200002979)
	_ROLZ_MIN_BLOCK_SIZE = 64
	_ROLZ_MAX_BLOCK_SIZE = 1 << 27 // 128 MB
	_ROLZ_TOP            = uint64(0x00FFFFFFFFFFFFFF)
	_ROLZ_MASK_24_56     = uint64(0x00FFFFFFFF000000)
	_ROLZ_MASK_0_56      = uint64(0x00FFFFFFFFFFFFFF)
	_ROLZ_MASK_0_32      = uint64(0x00000000FFFFFFFF)
)

func rolzGetKey(p []byte) uint32 {
	return uint32(binary.LittleEndian.Uint16(p))
}

func rolzHash(p []byte) int32 {
	return ((int32(binary.LittleEndian.Uint32(p)) & 0x00FFFFFF) * _ROLZ_HASH) & _ROLZ_HASH_MASK
}

func rolzEmitCopy(buf []byte, dstIdx, ref, matchLen int) int {
	buf[dstIdx] = buf[ref]
	buf[dstIdx+1] = buf[ref+1]
	buf[dstIdx+2] = buf[ref+2]
	dstIdx += 3
	ref += 3

	for matchLen >= 4 {
		buf[dstIdx] = buf[ref]
		buf[dstIdx+1] = buf[ref+1]
		buf[dstIdx+2] = buf[ref+2]
		buf[dstIdx+3] = buf[ref+3]
		dstIdx += 4
		ref += 4
		matchLen -= 4
	}

	for matchLen != 0 {
		buf[dstIdx] = buf[ref]
		dstIdx++
		ref++
		matchLen--
	}

	return dstIdx
}

// ROLZCodec is the Reduced Offset Lempel Ziv codec.
type ROLZCodec struct {
	matches        []int32
	counters       []int32
	logPosChecks   uint
	maskChecks     int32
	posChecks      int32
	litPredictor   *rolzPredictor
	matchPredictor *rolzPredictor
}

// NewROLZCodec creates a new instance of ROLZCodec providing the log of
// the number of match positions to check during encoding (in [2..8]).
func NewROLZCodec(logPosChecks uint) (*ROLZCodec, error) {
	if logPosChecks < 2 || logPosChecks > 8 {
		return nil, fmt.Errorf("ROLZ codec: invalid logPosChecks parameter: %v (must be in [2..8])", logPosChecks)
	}

	this := new(ROLZCodec)
	this.logPosChecks = logPosChecks
	this.posChecks = 1 << logPosChecks
	this.maskChecks = this.posChecks - 1
	this.counters = make([]int32, 1<<16)
	this.matches = make([]int32, _ROLZ_HASH_SIZE<<logPosChecks)
	this.litPredictor, _ = newRolzPredictor(9)
	this.matchPredictor, _ = newRolzPredictor(logPosChecks)
	return this, nil
}

// findMatch returns the ring index and the length (minus the minimum
// match) of the best match at 'pos', or (-1, -1). The current position is
// recorded in the ring.
func (this *ROLZCodec) findMatch(buf []byte, pos int) (int, int) {
	key := rolzGetKey(buf[pos-2:])
	m := this.matches[key<<this.logPosChecks : (key+1)<<this.logPosChecks]
	hash32 := rolzHash(buf[pos : pos+4])
	counter := this.counters[key]
	bestLen := _ROLZ_MIN_MATCH - 1
	bestIdx := -1
	curBuf := buf[pos:]
	maxMatch := _ROLZ_MAX_MATCH

	if maxMatch > len(buf)-pos {
		maxMatch = len(buf) - pos
	}

	// Check all the recorded positions
	for i := counter; i > counter-this.posChecks; i-- {
		ref := m[i&this.maskChecks]

		if ref == 0 {
			break
		}

		// The hash check may save a memory access
		if ref&_ROLZ_HASH_MASK != hash32 {
			continue
		}

		ref &= ^_ROLZ_HASH_MASK
		refBuf := buf[ref:]

		if refBuf[0] != curBuf[0] {
			continue
		}

		n := 1

		for n < maxMatch && refBuf[n] == curBuf[n] {
			n++
		}

		if n > bestLen {
			bestIdx = int(counter - i)
			bestLen = n

			if bestLen == maxMatch {
				break
			}
		}
	}

	// Register the current position
	this.counters[key]++
	m[(counter+1)&this.maskChecks] = hash32 | int32(pos)

	if bestLen < _ROLZ_MIN_MATCH {
		return -1, -1
	}

	return bestIdx, bestLen - _ROLZ_MIN_MATCH
}

// Forward compresses the block. Chunks of up to 64 MB are processed
// independently; the first two bytes of each chunk and the last four
// bytes of the block are always literals.
func (this *ROLZCodec) Forward(src, dst []byte) (uint, uint, error) {
	if len(src) == 0 {
		return 0, 0, nil
	}

	if &src[0] == &dst[0] {
		return 0, 0, errors.New("ROLZ codec: input and output buffers cannot be equal")
	}

	if len(src) < _ROLZ_MIN_BLOCK_SIZE {
		return 0, 0, errors.New("ROLZ codec: block too small, skip")
	}

	if len(src) > _ROLZ_MAX_BLOCK_SIZE {
		return 0, 0, fmt.Errorf("ROLZ codec: the max block size is %d, got %d", _ROLZ_MAX_BLOCK_SIZE, len(src))
	}

	if n := this.MaxEncodedLen(len(src)); len(dst) < n {
		return 0, 0, fmt.Errorf("ROLZ codec: output buffer is too small - size: %d, required %d", len(dst), n)
	}

	srcIdx := 0
	dstIdx := 0
	srcEnd := len(src) - 4
	sizeChunk := len(src)

	if sizeChunk > _ROLZ_CHUNK_SIZE {
		sizeChunk = _ROLZ_CHUNK_SIZE
	}

	startChunk := 0
	binary.BigEndian.PutUint32(dst[dstIdx:], uint32(len(src)))
	dstIdx += 4
	this.litPredictor.reset()
	this.matchPredictor.reset()
	predictors := [2]bloq.Predictor{this.litPredictor, this.matchPredictor}
	re := newRolzEncoder(predictors[:], dst, &dstIdx)

	for i := range this.counters {
		this.counters[i] = 0
	}

	// Main loop
	for startChunk < srcEnd {
		for i := range this.matches {
			this.matches[i] = 0
		}

		endChunk := startChunk + sizeChunk

		if endChunk >= srcEnd {
			endChunk = srcEnd
		}

		sizeChunk = endChunk - startChunk
		buf := src[startChunk:endChunk]
		srcIdx = 0

		// Literal seeds at the start of the chunk
		this.litPredictor.setContext(0)
		re.setContext(_ROLZ_LITERAL_FLAG)
		re.encodeBit(_ROLZ_LITERAL_FLAG)
		re.encodeByte(buf[srcIdx])
		srcIdx++

		if startChunk+1 < srcEnd {
			re.encodeBit(_ROLZ_LITERAL_FLAG)
			re.encodeByte(buf[srcIdx])
			srcIdx++
		}

		for srcIdx < sizeChunk {
			this.litPredictor.setContext(buf[srcIdx-1])
			re.setContext(_ROLZ_LITERAL_FLAG)
			matchIdx, matchLen := this.findMatch(buf, srcIdx)

			if matchIdx == -1 {
				re.encodeBit(_ROLZ_LITERAL_FLAG)
				re.encodeByte(buf[srcIdx])
				srcIdx++
			} else {
				re.encodeBit(_ROLZ_MATCH_FLAG)
				re.encodeByte(byte(matchLen))
				this.matchPredictor.setContext(buf[srcIdx-1])
				re.setContext(_ROLZ_MATCH_FLAG)

				for shift := this.logPosChecks; shift > 0; shift-- {
					re.encodeBit(byte(matchIdx>>(shift-1)) & 1)
				}

				srcIdx += (matchLen + _ROLZ_MIN_MATCH)
			}
		}

		startChunk = endChunk
	}

	// Emit the last literals
	srcIdx += (startChunk - sizeChunk)
	re.setContext(_ROLZ_LITERAL_FLAG)

	for i := 0; i < 4; i++ {
		this.litPredictor.setContext(src[srcIdx-1])
		re.encodeBit(_ROLZ_LITERAL_FLAG)
		re.encodeByte(src[srcIdx])
		srcIdx++
	}

	re.dispose()
	var err error

	if srcIdx != len(src) {
		err = errors.New("ROLZ codec: destination buffer too small")
	} else if dstIdx >= len(src) {
		err = errors.New("ROLZ codec: no compression")
	}

	return uint(srcIdx), uint(dstIdx), err
}

// Inverse decompresses the block.
func (this *ROLZCodec) Inverse(src, dst []byte) (uint, uint, error) {
	if len(src) == 0 {
		return 0, 0, nil
	}

	if &src[0] == &dst[0] {
		return 0, 0, errors.New("ROLZ codec: input and output buffers cannot be equal")
	}

	if len(src) < 5 {
		return 0, 0, errors.New("ROLZ codec: invalid input data")
	}

	srcIdx := 0
	dstIdx := 0
	dstEnd := int(binary.BigEndian.Uint32(src[srcIdx:]))
	srcIdx += 4

	if dstEnd <= 4 || dstEnd > _ROLZ_MAX_BLOCK_SIZE || dstEnd > len(dst) {
		return 0, 0, errors.New("ROLZ codec: invalid output block size in stream")
	}

	dataEnd := dstEnd - 4
	sizeChunk := dstEnd

	if sizeChunk > _ROLZ_CHUNK_SIZE {
		sizeChunk = _ROLZ_CHUNK_SIZE
	}

	startChunk := 0
	this.litPredictor.reset()
	this.matchPredictor.reset()
	predictors := [2]bloq.Predictor{this.litPredictor, this.matchPredictor}
	rd := newRolzDecoder(predictors[:], src, &srcIdx)

	for i := range this.counters {
		this.counters[i] = 0
	}

	// Main loop
	for startChunk < dataEnd {
		for i := range this.matches {
			this.matches[i] = 0
		}

		endChunk := startChunk + sizeChunk

		if endChunk >= dataEnd {
			endChunk = dataEnd
		}

		sizeChunk = endChunk - startChunk
		buf := dst[startChunk:endChunk]
		dstIdx = 0

		// Literal seeds at the start of the chunk
		this.litPredictor.setContext(0)
		rd.setContext(_ROLZ_LITERAL_FLAG)

		if rd.decodeBit() != _ROLZ_LITERAL_FLAG {
			return uint(srcIdx), uint(startChunk), errors.New("ROLZ codec: invalid input data")
		}

		buf[dstIdx] = rd.decodeByte()
		dstIdx++

		if startChunk+1 < dataEnd {
			if rd.decodeBit() != _ROLZ_LITERAL_FLAG {
				return uint(srcIdx), uint(startChunk), errors.New("ROLZ codec: invalid input data")
			}

			buf[dstIdx] = rd.decodeByte()
			dstIdx++
		}

		for dstIdx < sizeChunk {
			savedIdx := dstIdx
			key := rolzGetKey(buf[dstIdx-2:])
			m := this.matches[key<<this.logPosChecks : (key+1)<<this.logPosChecks]
			this.litPredictor.setContext(buf[dstIdx-1])
			rd.setContext(_ROLZ_LITERAL_FLAG)

			if rd.decodeBit() == _ROLZ_MATCH_FLAG {
				matchLen := int(rd.decodeByte())

				// Sanity check
				if dstIdx+matchLen+_ROLZ_MIN_MATCH > sizeChunk {
					return uint(srcIdx), uint(startChunk + dstIdx), errors.New("ROLZ codec: invalid input data")
				}

				this.matchPredictor.setContext(buf[dstIdx-1])
				rd.setContext(_ROLZ_MATCH_FLAG)
				matchIdx := int32(0)

				for shift := this.logPosChecks; shift > 0; shift-- {
					matchIdx |= int32(rd.decodeBit() << (shift - 1))
				}

				ref := m[(this.counters[key]-matchIdx)&this.maskChecks]
				dstIdx = rolzEmitCopy(buf, dstIdx, int(ref), matchLen)
			} else {
				buf[dstIdx] = rd.decodeByte()
				dstIdx++
			}

			// Update the ring
			this.counters[key]++
			m[this.counters[key]&this.maskChecks] = int32(savedIdx)
		}

		startChunk = endChunk
	}

	// Read the last literals
	dstIdx += (startChunk - sizeChunk)
	rd.setContext(_ROLZ_LITERAL_FLAG)

	for i := 0; i < 4; i++ {
		this.litPredictor.setContext(dst[dstIdx-1])

		if rd.decodeBit() != _ROLZ_LITERAL_FLAG {
			return uint(srcIdx), uint(dstIdx), errors.New("ROLZ codec: invalid input data")
		}

		dst[dstIdx] = rd.decodeByte()
		dstIdx++
	}

	rd.dispose()
	var err error

	if srcIdx != len(src) {
		err = errors.New("ROLZ codec: invalid input data")
	}

	return uint(srcIdx), uint(dstIdx), err
}

// MaxEncodedLen returns the max size required for the encoding output
// buffer. Some extra space is allocated for incompressible data since the
// destination index is not checked for each output byte.
func (this *ROLZCodec) MaxEncodedLen(srcLen int) int {
	if srcLen >= _ROLZ_CHUNK_SIZE {
		return srcLen
	}

	if srcLen <= 512 {
		return srcLen + 32
	}

	return srcLen + srcLen/8
}

// rolzPredictor estimates the probability of the next bit with two
// counters adapting at different rates.
type rolzPredictor struct {
	p1      []int32
	p2      []int32
	logSize uint
	size    int32
	c1      int32
	ctx     int32
}

func newRolzPredictor(logPosChecks uint) (*rolzPredictor, error) {
	this := new(rolzPredictor)
	this.logSize = logPosChecks
	this.size = 1 << logPosChecks
	this.p1 = make([]int32, 256*this.size)
	this.p2 = make([]int32, 256*this.size)
	this.reset()
	return this, nil
}

func (this *rolzPredictor) reset() {
	this.c1 = 1
	this.ctx = 0

	for i := range this.p1 {
		this.p1[i] = 1 << 15
		this.p2[i] = 1 << 15
	}
}

// Update adjusts both counters, the first at rate 3, the second at rate 6.
func (this *rolzPredictor) Update(bit byte) {
	idx := this.ctx + this.c1
	b := int32(bit)
	this.p1[idx] -= (((this.p1[idx] - (-b & 0xFFFF)) >> 3) + b)
	this.p2[idx] -= (((this.p2[idx] - (-b & 0xFFFF)) >> 6) + b)
	this.c1 <<= 1
	this.c1 += b

	if this.c1 >= this.size {
		this.c1 = 1
	}
}

// Get returns the blended probability in [0..4095].
func (this *rolzPredictor) Get() int {
	idx := this.ctx + this.c1
	return int(this.p1[idx]+this.p2[idx]) >> 5
}

func (this *rolzPredictor) setContext(ctx byte) {
	this.ctx = int32(ctx) << this.logSize
}

// rolzEncoder is a 56 bit binary range coder writing into a byte slice.
type rolzEncoder struct {
	predictors []bloq.Predictor
	predictor  bloq.Predictor
	buf        []byte
	idx        *int
	low        uint64
	high       uint64
}

func newRolzEncoder(predictors []bloq.Predictor, buf []byte, idx *int) *rolzEncoder {
	this := new(rolzEncoder)
	this.low = 0
	this.high = _ROLZ_TOP
	this.buf = buf
	this.idx = idx
	this.predictors = predictors
	this.predictor = predictors[0]
	return this
}

func (this *rolzEncoder) setContext(n int) {
	this.predictor = this.predictors[n]
}

func (this *rolzEncoder) encodeByte(val byte) {
	this.encodeBit((val >> 7) & 1)
	this.encodeBit((val >> 6) & 1)
	this.encodeBit((val >> 5) & 1)
	this.encodeBit((val >> 4) & 1)
	this.encodeBit((val >> 3) & 1)
	this.encodeBit((val >> 2) & 1)
	this.encodeBit((val >> 1) & 1)
	this.encodeBit(val & 1)
}

func (this *rolzEncoder) encodeBit(bit byte) {
	// Compute the interval split
	split := (((this.high - this.low) >> 4) * uint64(this.predictor.Get())) >> 8

	if bit != 0 {
		this.high = this.low + split
	} else {
		this.low += (split + 1)
	}

	this.predictor.Update(bit)

	// Emit the identical leading 32 bits
	for (this.low^this.high)&_ROLZ_MASK_24_56 == 0 {
		binary.BigEndian.PutUint32(this.buf[*this.idx:*this.idx+4], uint32(this.high>>32))
		*this.idx += 4
		this.low <<= 32
		this.high = (this.high << 32) | _ROLZ_MASK_0_32
	}
}

func (this *rolzEncoder) dispose() {
	for i := 0; i < 8; i++ {
		this.buf[*this.idx+i] = byte(this.low >> 56)
		this.low <<= 8
	}

	*this.idx += 8
}

// rolzDecoder mirrors rolzEncoder.
type rolzDecoder struct {
	predictors []bloq.Predictor
	predictor  bloq.Predictor
	buf        []byte
	idx        *int
	low        uint64
	high       uint64
	current    uint64
}

func newRolzDecoder(predictors []bloq.Predictor, buf []byte, idx *int) *rolzDecoder {
	this := new(rolzDecoder)
	this.low = 0
	this.high = _ROLZ_TOP
	this.buf = buf
	this.idx = idx
	this.current = uint64(0)

	for i := 0; i < 8; i++ {
		this.current = (this.current << 8) | uint64(this.buf[*this.idx+i])
	}

	*this.idx += 8
	this.predictors = predictors
	this.predictor = predictors[0]
	return this
}

func (this *rolzDecoder) setContext(n int) {
	this.predictor = this.predictors[n]
}

func (this *rolzDecoder) decodeByte() byte {
	return (this.decodeBit() << 7) |
		(this.decodeBit() << 6) |
		(this.decodeBit() << 5) |
		(this.decodeBit() << 4) |
		(this.decodeBit() << 3) |
		(this.decodeBit() << 2) |
		(this.decodeBit() << 1) |
		this.decodeBit()
}

func (this *rolzDecoder) decodeBit() byte {
	// Compute the interval split
	split := this.low + ((((this.high - this.low) >> 4) * uint64(this.predictor.Get())) >> 8)
	var bit byte

	if split >= this.current {
		bit = 1
		this.high = split
		this.predictor.Update(1)
	} else {
		bit = 0
		this.low = split + 1
		this.predictor.Update(0)
	}

	// Pull 32 bits from the stream
	for (this.low^this.high)&_ROLZ_MASK_24_56 == 0 {
		this.low = (this.low << 32) & _ROLZ_MASK_0_56
		this.high = ((this.high << 32) | _ROLZ_MASK_0_32) & _ROLZ_MASK_0_56
		val := uint64(binary.BigEndian.Uint32(this.buf[*this.idx : *this.idx+4]))
		this.current = ((this.current << 32) | val) & _ROLZ_MASK_0_56
		*this.idx += 4
	}

	return bit
}

func (this *rolzDecoder) dispose() {
}
