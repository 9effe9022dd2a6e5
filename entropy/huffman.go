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

package entropy

import (
	"errors"
	"fmt"
	"sort"

	bloq "github.com/bloqpack/bloq"
)

const (
	_HUF_DECODING_BATCH_SIZE = 12 // in bits
	_HUF_DECODING_MASK       = (1 << _HUF_DECODING_BATCH_SIZE) - 1
	_HUF_MAX_DECODING_INDEX  = (_HUF_DECODING_BATCH_SIZE << 8) | 0xFF
	_HUF_MAX_CHUNK_SIZE      = uint(1 << 16)
	_HUF_SYMBOL_ABSENT       = (1 << 31) - 1
	_HUF_MAX_SYMBOL_SIZE     = 24
	_HUF_BUFFER_SIZE         = (_HUF_MAX_SYMBOL_SIZE << 8) + 256
)

type frequencyComparator struct {
	ranks       []int
	frequencies []int
}

func byIncreasingFrequency(ranks []int, frequencies []int) frequencyComparator {
	return frequencyComparator{ranks: ranks, frequencies: frequencies}
}

func (this frequencyComparator) Less(i, j int) bool {
	// Frequency (natural order) as first key
	ri := this.ranks[i]
	rj := this.ranks[j]

	if this.frequencies[ri] != this.frequencies[rj] {
		return this.frequencies[ri] < this.frequencies[rj]
	}

	// Symbol (natural order) as second key
	return ri < rj
}

func (this frequencyComparator) Len() int {
	return len(this.ranks)
}

func (this frequencyComparator) Swap(i, j int) {
	this.ranks[i], this.ranks[j] = this.ranks[j], this.ranks[i]
}

// generateCanonicalCodes assigns canonical codes to the symbols given
// their code sizes. Returns the number of codes or -1 on overflow.
func generateCanonicalCodes(sizes []byte, codes []uint, symbols []int) int {
	count := len(symbols)

	// Sort by increasing size (first key) and increasing value (second key)
	if count > 1 {
		var buf [_HUF_BUFFER_SIZE]byte

		for i := 0; i < count; i++ {
			buf[(int(sizes[symbols[i]]-1)<<8)|symbols[i]] = 1
		}

		n := 0

		for i := range &buf {
			if buf[i] != 0 {
				symbols[n] = i & 0xFF
				n++

				if n == count {
					break
				}
			}
		}
	}

	code := uint(0)
	length := sizes[symbols[0]]

	for _, s := range symbols {
		if sizes[s] > length {
			code <<= (sizes[s] - length)
			length = sizes[s]

			if length > _HUF_MAX_SYMBOL_SIZE {
				return -1
			}
		}

		codes[s] = code
		code++
	}

	return count
}

// HuffmanEncoder is a canonical Huffman encoder. Frequencies are
// re-estimated for every chunk; the code lengths are derived in place
// (no tree) and transmitted as Exp-Golomb deltas after the alphabet.
type HuffmanEncoder struct {
	bitstream bloq.OutputBitStream
	codes     [256]uint
	alphabet  [256]int
	sranks    [256]int
	chunkSize int
}

// NewHuffmanEncoder creates an instance of HuffmanEncoder.
// An optional chunk size may be provided: NewHuffmanEncoder(bs, 16384).
// The default chunk size is 65536 bytes.
func NewHuffmanEncoder(bs bloq.OutputBitStream, args ...uint) (*HuffmanEncoder, error) {
	if bs == nil {
		return nil, errors.New("Huffman codec: invalid null bitstream parameter")
	}

	if len(args) > 1 {
		return nil, errors.New("Huffman codec: at most one chunk size can be provided")
	}

	chkSize := _HUF_MAX_CHUNK_SIZE

	if len(args) == 1 {
		chkSize = args[0]
	}

	if chkSize < 1024 {
		return nil, errors.New("Huffman codec: the chunk size must be at least 1024")
	}

	if chkSize > _HUF_MAX_CHUNK_SIZE {
		return nil, fmt.Errorf("Huffman codec: the chunk size must be at most %d", _HUF_MAX_CHUNK_SIZE)
	}

	this := new(HuffmanEncoder)
	this.bitstream = bs
	this.chunkSize = int(chkSize)

	for i := 0; i < 256; i++ {
		this.codes[i] = uint(i)
	}

	return this, nil
}

// Rebuild the Huffman codes and emit the chunk header.
func (this *HuffmanEncoder) updateFrequencies(frequencies []int) (int, error) {
	if frequencies == nil || len(frequencies) != 256 {
		return 0, errors.New("Huffman codec: invalid frequencies parameter")
	}

	count := 0
	var sizes [256]byte

	for i := range this.codes {
		this.codes[i] = 0

		if frequencies[i] > 0 {
			this.alphabet[count] = i
			count++
		}
	}

	symbols := this.alphabet[0:count]
	EncodeAlphabet(this.bitstream, symbols)

	// Transmit code lengths only, frequencies and codes do not matter
	if err := this.computeCodeLengths(frequencies, sizes[:], count); err != nil {
		return count, err
	}

	egenc, err := NewExpGolombEncoder(this.bitstream, true)

	if err != nil {
		return count, err
	}

	// Deltas of consecutive code lengths against a +2 baseline
	prevSize := byte(2)

	for _, s := range symbols {
		currSize := sizes[s]
		egenc.EncodeByte(currSize - prevSize)
		prevSize = currSize
	}

	if generateCanonicalCodes(sizes[:], this.codes[:], this.sranks[0:count]) < 0 {
		return count, fmt.Errorf("Huffman codec: could not generate codes: max code length (%v bits) exceeded", _HUF_MAX_SYMBOL_SIZE)
	}

	// Pack size and code (size <= _HUF_MAX_SYMBOL_SIZE bits)
	for _, s := range symbols {
		this.codes[s] |= (uint(sizes[s]) << 24)
	}

	return count, nil
}

// See [In-Place Calculation of Minimum-Redundancy Codes]
// by Alistair Moffat & Jyrki Katajainen
func (this *HuffmanEncoder) computeCodeLengths(frequencies []int, sizes []byte, count int) error {
	if count == 1 {
		this.sranks[0] = this.alphabet[0]
		sizes[this.alphabet[0]] = 1
		return nil
	}

	// Sort ranks by increasing frequency (first key) and value (second key)
	copy(this.sranks[:], this.alphabet[0:count])
	sort.Sort(byIncreasingFrequency(this.sranks[0:count], frequencies))
	var buffer [256]int
	buf := buffer[0:count]

	for i := range buf {
		buf[i] = frequencies[this.sranks[i]]
	}

	computeInPlaceSizesPhase1(buf)
	computeInPlaceSizesPhase2(buf)
	var err error

	for i := range buf {
		codeLen := byte(buf[i])

		if codeLen == 0 || codeLen > _HUF_MAX_SYMBOL_SIZE {
			err = fmt.Errorf("Huffman codec: could not generate codes: max code length (%v bits) exceeded", _HUF_MAX_SYMBOL_SIZE)
			break
		}

		sizes[this.sranks[i]] = codeLen
	}

	return err
}

func computeInPlaceSizesPhase1(data []int) {
	n := len(data)

	for s, r, t := 0, 0, 0; t < n-1; t++ {
		sum := 0

		for i := 0; i < 2; i++ {
			if s >= n || (r < t && data[r] < data[s]) {
				sum += data[r]
				data[r] = t
				r++
			} else {
				sum += data[s]

				if s > t {
					data[s] = 0
				}

				s++
			}
		}

		data[t] = sum
	}
}

func computeInPlaceSizesPhase2(data []int) {
	n := len(data)
	levelTop := n - 2 // root
	depth := 1
	i := n
	totalNodesAtLevel := 2

	for i > 0 {
		k := levelTop

		for k > 0 && data[k-1] >= levelTop {
			k--
		}

		internalNodesAtLevel := levelTop - k
		leavesAtLevel := totalNodesAtLevel - internalNodesAtLevel

		for j := 0; j < leavesAtLevel; j++ {
			i--
			data[i] = depth
		}

		totalNodesAtLevel = internalNodesAtLevel << 1
		levelTop = k
		depth++
	}
}

// Write computes the frequencies for every chunk and encodes the block.
func (this *HuffmanEncoder) Write(block []byte) (int, error) {
	if block == nil {
		return 0, errors.New("Huffman codec: invalid null block parameter")
	}

	if len(block) == 0 {
		return 0, nil
	}

	end := len(block)
	startChunk := 0
	sizeChunk := this.chunkSize

	for startChunk < end {
		endChunk := startChunk + sizeChunk

		if endChunk > end {
			endChunk = end
		}

		var frequencies [256]int
		bloq.ComputeHistogram(block[startChunk:endChunk], frequencies[:], true, false)

		if _, err := this.updateFrequencies(frequencies[:]); err != nil {
			return 0, err
		}

		c := this.codes
		bs := this.bitstream
		endChunk2 := 2*((endChunk-startChunk)/2) + startChunk

		for i := startChunk; i < endChunk2; i += 2 {
			// Pack 2 codes into 1 uint64 (2 * 24 bits max)
			code1 := c[block[i]]
			codeLen1 := uint(code1 >> 24)
			code2 := c[block[i+1]]
			codeLen2 := uint(code2 >> 24)
			st := (uint64(code1&0xFFFFFF) << codeLen2) | uint64(code2&0xFFFFFF)
			bs.WriteBits(st, codeLen1+codeLen2)
		}

		for i := endChunk2; i < endChunk; i++ {
			code := c[block[i]]
			bs.WriteBits(uint64(code), code>>24)
		}

		startChunk = endChunk
	}

	return len(block), nil
}

// Dispose does nothing
func (this *HuffmanEncoder) Dispose() {
}

// BitStream returns the underlying bitstream
func (this *HuffmanEncoder) BitStream() bloq.OutputBitStream {
	return this.bitstream
}

// HuffmanDecoder is a canonical Huffman decoder. Symbols are decoded with
// a 12 bit fast table; longer codes fall back to a per-length indirection.
type HuffmanDecoder struct {
	bitstream  bloq.InputBitStream
	codes      [256]uint
	alphabet   [256]int
	sizes      [256]byte
	fdTable    []uint16 // fast decoding table
	sdTable    [256]uint
	sdtIndexes []int // per length offsets into sdTable (can be negative)
	chunkSize  int
	state      uint64 // bits read from the bitstream
	bits       uint   // number of unused bits in 'state'
	minCodeLen int8
}

// NewHuffmanDecoder creates an instance of HuffmanDecoder.
// An optional chunk size may be provided: NewHuffmanDecoder(bs, 16384).
// The default chunk size is 65536 bytes.
func NewHuffmanDecoder(bs bloq.InputBitStream, args ...uint) (*HuffmanDecoder, error) {
	if bs == nil {
		return nil, errors.New("Huffman codec: invalid null bitstream parameter")
	}

	if len(args) > 1 {
		return nil, errors.New("Huffman codec: at most one chunk size can be provided")
	}

	chkSize := _HUF_MAX_CHUNK_SIZE

	if len(args) == 1 {
		chkSize = args[0]
	}

	if chkSize < 1024 {
		return nil, errors.New("Huffman codec: the chunk size must be at least 1024")
	}

	if chkSize > _HUF_MAX_CHUNK_SIZE {
		return nil, fmt.Errorf("Huffman codec: the chunk size must be at most %d", _HUF_MAX_CHUNK_SIZE)
	}

	this := new(HuffmanDecoder)
	this.bitstream = bs
	this.fdTable = make([]uint16, 1<<_HUF_DECODING_BATCH_SIZE)
	this.sdtIndexes = make([]int, _HUF_MAX_SYMBOL_SIZE+1)
	this.chunkSize = int(chkSize)
	this.minCodeLen = 8

	// Default lengths & canonical codes
	for i := 0; i < 256; i++ {
		this.sizes[i] = 8
		this.codes[i] = uint(i)
	}

	return this, nil
}

// readLengths decodes the chunk header and rebuilds the decoding tables.
func (this *HuffmanDecoder) readLengths() (int, error) {
	count, err := DecodeAlphabet(this.bitstream, this.alphabet[:])

	if count == 0 || err != nil {
		return count, err
	}

	egdec, err := NewExpGolombDecoder(this.bitstream, true)

	if err != nil {
		return 0, err
	}

	var currSize int8
	this.minCodeLen = _HUF_MAX_SYMBOL_SIZE
	prevSize := int8(2)
	symbols := this.alphabet[0:count]

	// Read lengths
	for i, s := range symbols {
		if s > len(this.codes) {
			return 0, fmt.Errorf("invalid bitstream: incorrect Huffman symbol %v", s)
		}

		this.codes[s] = 0
		currSize = prevSize + int8(egdec.DecodeByte())

		if currSize <= 0 || currSize > _HUF_MAX_SYMBOL_SIZE {
			return 0, fmt.Errorf("invalid bitstream: incorrect size %v for Huffman symbol %v", currSize, i)
		}

		if this.minCodeLen > currSize {
			this.minCodeLen = currSize
		}

		this.sizes[s] = byte(currSize)
		prevSize = currSize
	}

	if generateCanonicalCodes(this.sizes[:], this.codes[:], symbols) < 0 {
		return count, fmt.Errorf("invalid bitstream: could not generate codes: max code length (%v bits) exceeded", _HUF_MAX_SYMBOL_SIZE)
	}

	this.buildDecodingTables(count)
	return count, nil
}

// The slow decoding table contains the codes in natural order.
// The fast decoding table contains all the prefixes with
// _HUF_DECODING_BATCH_SIZE bits.
func (this *HuffmanDecoder) buildDecodingTables(count int) {
	for i := range this.fdTable {
		this.fdTable[i] = 0
	}

	for i := range this.sdTable {
		this.sdTable[i] = 0
	}

	for i := range this.sdtIndexes {
		this.sdtIndexes[i] = _HUF_SYMBOL_ABSENT
	}

	length := byte(0)

	for i := 0; i < count; i++ {
		s := uint(this.alphabet[i])
		code := this.codes[s]

		if this.sizes[s] > length {
			length = this.sizes[s]
			this.sdtIndexes[length] = i - int(code)
		}

		// Fill the slow decoding table
		val := (uint(this.sizes[s]) << 8) | s
		this.sdTable[i] = val

		// Fill the fast decoding table: all batch-size bit values starting
		// with the code prefix point at the symbol
		if length < _HUF_DECODING_BATCH_SIZE {
			idx := code << (_HUF_DECODING_BATCH_SIZE - length)
			end := idx + (1 << (_HUF_DECODING_BATCH_SIZE - length))

			for idx < end {
				this.fdTable[idx] = uint16(val)
				idx++
			}
		} else {
			idx := code >> (length - _HUF_DECODING_BATCH_SIZE)
			this.fdTable[idx] = uint16(val)
		}
	}
}

// Read uses fastDecodeByte until the near end of each chunk.
func (this *HuffmanDecoder) Read(block []byte) (int, error) {
	if block == nil {
		return 0, errors.New("Huffman codec: invalid null block parameter")
	}

	if len(block) == 0 {
		return 0, nil
	}

	end := len(block)
	startChunk := 0
	sizeChunk := this.chunkSize

	for startChunk < end {
		// Reinitialize the Huffman tables
		if r, err := this.readLengths(); r == 0 || err != nil {
			return startChunk, err
		}

		if this.minCodeLen == 0 {
			return startChunk, errors.New("invalid bitstream: incorrect Huffman code length")
		}

		endChunk := startChunk + sizeChunk

		if endChunk > end {
			endChunk = end
		}

		// Compute the minimum number of bits required in the bitstream
		// for fast decoding
		endPaddingSize := 64 / int(this.minCodeLen)

		if int(this.minCodeLen)*endPaddingSize != 64 {
			endPaddingSize++
		}

		endChunk8 := (endChunk - endPaddingSize) & -8

		if endChunk8 < startChunk {
			endChunk8 = startChunk
		}

		for i := startChunk; i < endChunk8; i += 8 {
			// Fast decoding (reads _HUF_DECODING_BATCH_SIZE bits at a time)
			block[i] = this.fastDecodeByte()
			block[i+1] = this.fastDecodeByte()
			block[i+2] = this.fastDecodeByte()
			block[i+3] = this.fastDecodeByte()
			block[i+4] = this.fastDecodeByte()
			block[i+5] = this.fastDecodeByte()
			block[i+6] = this.fastDecodeByte()
			block[i+7] = this.fastDecodeByte()
		}

		for i := endChunk8; i < endChunk; i++ {
			// Fallback to one bit at a time
			block[i] = this.slowDecodeByte(0, 0)
		}

		startChunk = endChunk
	}

	return len(block), nil
}

func (this *HuffmanDecoder) slowDecodeByte(code int, codeLen uint) byte {
	for codeLen < _HUF_MAX_SYMBOL_SIZE {
		codeLen++
		code <<= 1

		if this.bits == 0 {
			code |= this.bitstream.ReadBit()
		} else {
			// Consume the remaining bits in 'state'
			this.bits--
			code |= int((this.state >> this.bits) & 1)
		}

		idx := this.sdtIndexes[codeLen]

		if idx == _HUF_SYMBOL_ABSENT { // no code with this length ?
			continue
		}

		if this.sdTable[idx+code]>>8 == codeLen {
			return byte(this.sdTable[idx+code])
		}
	}

	panic(errors.New("invalid bitstream: incorrect Huffman code"))
}

// 64 bits must be available in the bitstream
func (this *HuffmanDecoder) fastDecodeByte() byte {
	if this.bits < _HUF_DECODING_BATCH_SIZE {
		// Fetch more bits from the bitstream.
		// No need to mask 'state': uint64(x) << 64 == 0
		read := this.bitstream.ReadBits(64 - this.bits)
		this.state = (this.state << (64 - this.bits)) | read
		this.bits = 64
	}

	// Retrieve the symbol from the fast decoding table
	val := this.fdTable[int(this.state>>(this.bits-_HUF_DECODING_BATCH_SIZE))&_HUF_DECODING_MASK]

	if val > _HUF_MAX_DECODING_INDEX {
		this.bits -= _HUF_DECODING_BATCH_SIZE
		return this.slowDecodeByte(int(this.state>>this.bits)&_HUF_DECODING_MASK, _HUF_DECODING_BATCH_SIZE)
	}

	this.bits -= uint(val >> 8)
	return byte(val)
}

// BitStream returns the underlying bitstream
func (this *HuffmanDecoder) BitStream() bloq.InputBitStream {
	return this.bitstream
}

// Dispose does nothing
func (this *HuffmanDecoder) Dispose() {
}
