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

	bloq "github.com/bloqpack/bloq"
)

// Order 0 range coder based on the one by Dmitry Subbotin, itself derived
// from the algorithm described by G.N.N Martin in his seminal article:
// [G.N.N. Martin on the Data Recording Conference, Southampton, 1979]

const (
	_TOP_RANGE                = uint64(0x0FFFFFFFFFFFFFFF)
	_BOTTOM_RANGE             = uint64(0x000000000000FFFF)
	_RANGE_MASK               = uint64(0x0FFFFFFF00000000)
	_DEFAULT_RANGE_CHUNK_SIZE = uint(1 << 16) // 64 KB by default
	_DEFAULT_RANGE_LOG_RANGE  = uint(13)
)

// RangeEncoder is the encoding half of the order 0 range codec.
type RangeEncoder struct {
	low       uint64
	rng       uint64
	alphabet  [256]int
	freqs     [256]int
	cumFreqs  [257]uint64
	bitstream bloq.OutputBitStream
	chunkSize uint
	logRange  uint
	shift     uint
}

// NewRangeEncoder creates a RangeEncoder. Optional arguments are the
// chunk size and the log range: NewRangeEncoder(bs, 16384, 14).
// Frequencies are re-estimated for every chunk (65536 bytes by default).
func NewRangeEncoder(bs bloq.OutputBitStream, args ...uint) (*RangeEncoder, error) {
	if bs == nil {
		return nil, errors.New("Range codec: invalid null bitstream parameter")
	}

	if len(args) > 2 {
		return nil, errors.New("Range codec: at most one chunk size and one log range can be provided")
	}

	chkSize := _DEFAULT_RANGE_CHUNK_SIZE
	logRange := _DEFAULT_RANGE_LOG_RANGE

	if len(args) > 0 {
		chkSize = args[0]
	}

	if len(args) > 1 {
		logRange = args[1]
	}

	if chkSize < 1024 {
		return nil, errors.New("Range codec: the chunk size must be at least 1024")
	}

	if chkSize > 1<<30 {
		return nil, errors.New("Range codec: the chunk size must be at most 2^30")
	}

	if logRange < 8 || logRange > 15 {
		return nil, fmt.Errorf("Range codec: invalid range parameter: %v (must be in [8..15])", logRange)
	}

	this := new(RangeEncoder)
	this.bitstream = bs
	this.logRange = logRange
	this.chunkSize = chkSize
	return this, nil
}

func (this *RangeEncoder) updateFrequencies(frequencies []int, size int, lr uint) (int, error) {
	alphabetSize, err := NormalizeFrequencies(frequencies, this.alphabet[:], size, 1<<lr)

	if err != nil {
		return alphabetSize, err
	}

	if alphabetSize > 0 {
		this.cumFreqs[0] = 0

		// Cumulated frequencies scaled to the range
		for i := range frequencies {
			this.cumFreqs[i+1] = this.cumFreqs[i] + uint64(frequencies[i])
		}
	}

	this.encodeHeader(alphabetSize, this.alphabet[:], frequencies, lr)
	return alphabetSize, nil
}

func (this *RangeEncoder) encodeHeader(alphabetSize int, alphabet []int, frequencies []int, lr uint) {
	EncodeAlphabet(this.bitstream, alphabet[0:alphabetSize])

	if alphabetSize == 0 {
		return
	}

	this.bitstream.WriteBits(uint64(lr-8), 3)
	chkSize := 16

	if alphabetSize <= 64 {
		chkSize = 8
	}

	llr := uint(3)

	for 1<<llr <= lr {
		llr++
	}

	// Encode the frequencies (except the first one) by chunks
	for i := 1; i < alphabetSize; i += chkSize {
		max := 0
		logMax := uint(1)
		endj := i + chkSize

		if endj > alphabetSize {
			endj = alphabetSize
		}

		for j := i; j < endj; j++ {
			if frequencies[alphabet[j]] > max {
				max = frequencies[alphabet[j]]
			}
		}

		for 1<<logMax <= max {
			logMax++
		}

		this.bitstream.WriteBits(uint64(logMax-1), llr)

		for j := i; j < endj; j++ {
			this.bitstream.WriteBits(uint64(frequencies[alphabet[j]]), logMax)
		}
	}
}

// Write encodes the block, re-estimating statistics for every chunk.
func (this *RangeEncoder) Write(block []byte) (int, error) {
	if block == nil {
		return 0, errors.New("Range codec: invalid null block parameter")
	}

	if len(block) == 0 {
		return 0, nil
	}

	sizeChunk := int(this.chunkSize)
	startChunk := 0
	end := len(block)

	for startChunk < end {
		this.rng = _TOP_RANGE
		this.low = 0
		lr := this.logRange

		endChunk := startChunk + sizeChunk

		if endChunk > end {
			endChunk = end
		}

		// Lower the log range when the chunk is small
		for lr > 8 && 1<<lr > endChunk-startChunk {
			lr--
		}

		this.shift = lr
		buf := block[startChunk:endChunk]
		bloq.ComputeHistogram(buf, this.freqs[:], true, false)

		if _, err := this.updateFrequencies(this.freqs[:], len(buf), lr); err != nil {
			return startChunk, err
		}

		for i := range buf {
			this.encodeByte(buf[i])
		}

		// Flush 'low'
		this.bitstream.WriteBits(this.low, 60)
		startChunk = endChunk
	}

	return len(block), nil
}

func (this *RangeEncoder) encodeByte(b byte) {
	// Compute the next low and range
	symbol := int(b)
	cumFreq := this.cumFreqs[symbol]
	this.rng >>= this.shift
	this.low += (cumFreq * this.rng)
	this.rng *= (this.cumFreqs[symbol+1] - cumFreq)

	// If the left-most digits are the same throughout the range, write
	// the bits to the bitstream
	for {
		if (this.low^(this.low+this.rng))&_RANGE_MASK != 0 {
			if this.rng > _BOTTOM_RANGE {
				break
			}

			// Normalize
			this.rng = -this.low & _BOTTOM_RANGE
		}

		this.bitstream.WriteBits(this.low>>32, 28)
		this.rng <<= 28
		this.low <<= 28
	}
}

// BitStream returns the underlying bitstream
func (this *RangeEncoder) BitStream() bloq.OutputBitStream {
	return this.bitstream
}

// Dispose does nothing
func (this *RangeEncoder) Dispose() {
}

// RangeDecoder is the decoding half of the order 0 range codec.
type RangeDecoder struct {
	code      uint64
	low       uint64
	rng       uint64
	alphabet  [256]int
	freqs     [256]int
	cumFreqs  [257]uint64
	f2s       []uint16 // frequency -> symbol
	bitstream bloq.InputBitStream
	chunkSize uint
	shift     uint
}

// NewRangeDecoder creates a RangeDecoder. An optional chunk size may be
// provided: NewRangeDecoder(bs, 16384). The default is 65536 bytes.
func NewRangeDecoder(bs bloq.InputBitStream, args ...uint) (*RangeDecoder, error) {
	if bs == nil {
		return nil, errors.New("Range codec: invalid null bitstream parameter")
	}

	if len(args) > 1 {
		return nil, errors.New("Range codec: at most one chunk size can be provided")
	}

	chkSize := _DEFAULT_RANGE_CHUNK_SIZE

	if len(args) == 1 {
		chkSize = args[0]
	}

	if chkSize < 1024 {
		return nil, errors.New("Range codec: the chunk size must be at least 1024")
	}

	if chkSize > 1<<30 {
		return nil, errors.New("Range codec: the chunk size must be at most 2^30")
	}

	this := new(RangeDecoder)
	this.bitstream = bs
	this.f2s = make([]uint16, 0)
	this.chunkSize = chkSize
	return this, nil
}

func (this *RangeDecoder) decodeHeader(frequencies []int) (int, error) {
	alphabetSize, err := DecodeAlphabet(this.bitstream, this.alphabet[:])

	if err != nil || alphabetSize == 0 {
		return alphabetSize, err
	}

	if alphabetSize != 256 {
		for i := range frequencies {
			frequencies[i] = 0
		}
	}

	// Decode the frequencies
	logRange := uint(8 + this.bitstream.ReadBits(3))
	scale := 1 << logRange
	this.shift = logRange
	sum := 0
	chkSize := 16

	if alphabetSize <= 64 {
		chkSize = 8
	}

	llr := uint(3)

	for 1<<llr <= logRange {
		llr++
	}

	// Decode the frequencies (except the first one)
	for i := 1; i < alphabetSize; i += chkSize {
		logMax := uint(1 + this.bitstream.ReadBits(llr))
		endj := i + chkSize

		if endj > alphabetSize {
			endj = alphabetSize
		}

		for j := i; j < endj; j++ {
			val := int(this.bitstream.ReadBits(logMax))

			if val <= 0 || val >= scale {
				return alphabetSize, fmt.Errorf("invalid bitstream: incorrect frequency %v for symbol '%v' in range decoder", val, this.alphabet[j])
			}

			frequencies[this.alphabet[j]] = val
			sum += val
		}
	}

	// Infer the first frequency
	if scale <= sum {
		return alphabetSize, fmt.Errorf("invalid bitstream: incorrect frequency %v for symbol '%v' in range decoder", frequencies[this.alphabet[0]], this.alphabet[0])
	}

	frequencies[this.alphabet[0]] = scale - sum
	this.cumFreqs[0] = 0

	if len(this.f2s) < scale {
		this.f2s = make([]uint16, scale)
	}

	// Reverse mapping
	for i := range frequencies {
		this.cumFreqs[i+1] = this.cumFreqs[i] + uint64(frequencies[i])
		base := int(this.cumFreqs[i])

		for j := frequencies[i] - 1; j >= 0; j-- {
			this.f2s[base+j] = uint16(i)
		}
	}

	return alphabetSize, nil
}

// Read resets the frequency statistics for each chunk of the block.
func (this *RangeDecoder) Read(block []byte) (int, error) {
	if block == nil {
		return 0, errors.New("Range codec: invalid null block parameter")
	}

	end := len(block)
	startChunk := 0
	sizeChunk := int(this.chunkSize)

	for startChunk < end {
		alphabetSize, err := this.decodeHeader(this.freqs[:])

		if err != nil || alphabetSize == 0 {
			return startChunk, err
		}

		this.rng = _TOP_RANGE
		this.low = 0
		this.code = this.bitstream.ReadBits(60)
		endChunk := startChunk + sizeChunk

		if endChunk > end {
			endChunk = end
		}

		buf := block[startChunk:endChunk]

		for i := range buf {
			buf[i] = this.decodeByte()
		}

		startChunk = endChunk
	}

	return len(block), nil
}

func (this *RangeDecoder) decodeByte() byte {
	// Compute the next low and range
	this.rng >>= this.shift
	count := int((this.code - this.low) / this.rng)
	symbol := this.f2s[count]
	cumFreq := this.cumFreqs[symbol]
	this.low += (cumFreq * this.rng)
	this.rng *= (this.cumFreqs[symbol+1] - cumFreq)

	// If the left-most digits are the same throughout the range, read
	// bits from the bitstream
	for {
		if (this.low^(this.low+this.rng))&_RANGE_MASK != 0 {
			if this.rng > _BOTTOM_RANGE {
				break
			}

			// Normalize
			this.rng = -this.low & _BOTTOM_RANGE
		}

		this.code = (this.code << 28) | this.bitstream.ReadBits(28)
		this.rng <<= 28
		this.low <<= 28
	}

	return byte(symbol)
}

// BitStream returns the underlying bitstream
func (this *RangeDecoder) BitStream() bloq.InputBitStream {
	return this.bitstream
}

// Dispose does nothing
func (this *RangeDecoder) Dispose() {
}
