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

// Asymmetric Numeral System codec, orders 0 and 1.
// See "Asymmetric Numeral System" by Jarek Duda at
// http://arxiv.org/abs/0902.0271
// Some code has been ported from https://github.com/rygorous/ryg_rans

const (
	_ANS_TOP                = 1 << 23
	_DEFAULT_ANS_CHUNK_SIZE = uint(1 << 15) // 32 KB by default
	_DEFAULT_ANS_LOG_RANGE  = uint(13)      // max possible with _ANS_TOP = 1<<23
)

type ansEncSymbol struct {
	xMax     int    // (exclusive) upper bound of the pre-normalization interval
	bias     int
	cmplFreq int    // (1 << scale_bits) - freq
	invShift uint8  // reciprocal shift
	invFreq  uint64 // fixed point reciprocal frequency
}

func (this *ansEncSymbol) reset(cumFreq, freq int, logRange uint) {
	// Keep xMax positive
	if freq >= 1<<logRange {
		freq = (1 << logRange) - 1
	}

	this.xMax = ((_ANS_TOP >> logRange) << 8) * freq
	this.cmplFreq = (1 << logRange) - freq

	if freq < 2 {
		this.invFreq = 0xFFFFFFFF
		this.invShift = 32
		this.bias = cumFreq + (1 << logRange) - 1
	} else {
		shift := uint(0)

		for freq > 1<<shift {
			shift++
		}

		// Alverson, "Integer Division using reciprocals"
		this.invFreq = (((1 << (shift + 31)) + uint64(freq-1)) / uint64(freq)) & 0xFFFFFFFF
		this.invShift = uint8(32 + shift - 1)
		this.bias = cumFreq
	}
}

type ansDecSymbol struct {
	cumFreq int
	freq    int
}

func (this *ansDecSymbol) reset(cumFreq, freq int, logRange uint) {
	// Mirror the encoder
	if freq >= 1<<logRange {
		freq = (1 << logRange) - 1
	}

	this.cumFreq = cumFreq
	this.freq = freq
}

// ANSRangeEncoder encodes a block with a rANS of the given order.
type ANSRangeEncoder struct {
	bitstream bloq.OutputBitStream
	alphabet  []int
	freqs     []int
	symbols   []ansEncSymbol
	buffer    []byte
	chunkSize int
	order     uint
	logRange  uint
}

// NewANSRangeEncoder creates an ANSRangeEncoder. Optional arguments are
// the order (0 or 1), the chunk size and the log range:
// NewANSRangeEncoder(bs, 1, 16384, 12).
// Frequencies are re-estimated for every chunk.
func NewANSRangeEncoder(bs bloq.OutputBitStream, args ...uint) (*ANSRangeEncoder, error) {
	if bs == nil {
		return nil, errors.New("ANS codec: invalid null bitstream parameter")
	}

	if len(args) > 3 {
		return nil, errors.New("ANS codec: at most order, chunk size and log range can be provided")
	}

	chkSize := _DEFAULT_ANS_CHUNK_SIZE
	logRange := _DEFAULT_ANS_LOG_RANGE
	order := uint(0)

	if len(args) > 0 {
		order = args[0]
	}

	if len(args) > 1 {
		chkSize = args[1]
	} else if order == 1 {
		chkSize <<= 8
	}

	if len(args) > 2 {
		logRange = args[2]
	}

	if order != 0 && order != 1 {
		return nil, errors.New("ANS codec: the order must be 0 or 1")
	}

	if chkSize < 1024 {
		return nil, errors.New("ANS codec: the chunk size must be at least 1024")
	}

	if chkSize > 1<<30 {
		return nil, errors.New("ANS codec: the chunk size must be at most 2^30")
	}

	if logRange < 8 || logRange > 15 {
		return nil, fmt.Errorf("ANS codec: invalid range: %v (must be in [8..15])", logRange)
	}

	this := new(ANSRangeEncoder)
	this.bitstream = bs
	this.order = order
	dim := int(255*order + 1)
	this.alphabet = make([]int, dim*256)
	this.freqs = make([]int, dim*257) // freqs[x][256] = total of freqs[x][0..255]
	this.symbols = make([]ansEncSymbol, dim*256)
	this.buffer = make([]byte, 0)
	this.logRange = logRange
	this.chunkSize = int(chkSize)
	return this, nil
}

// Compute the cumulated frequencies and encode the chunk header
func (this *ANSRangeEncoder) updateFrequencies(frequencies []int, lr uint) (int, error) {
	res := 0
	endk := int(255*this.order + 1)
	this.bitstream.WriteBits(uint64(lr-8), 3)

	for k := 0; k < endk; k++ {
		f := frequencies[257*k : 257*(k+1)]
		symb := this.symbols[k<<8 : (k+1)<<8]
		curAlphabet := this.alphabet[k<<8 : (k+1)<<8]
		alphabetSize, err := NormalizeFrequencies(f, curAlphabet, f[256], 1<<lr)

		if err != nil {
			return res, err
		}

		if alphabetSize > 0 {
			sum := 0

			for i := 0; i < 256; i++ {
				if f[i] == 0 {
					continue
				}

				symb[i].reset(sum, f[i], lr)
				sum += f[i]
			}
		}

		this.encodeHeader(alphabetSize, curAlphabet, f, lr)
		res += alphabetSize
	}

	return res, nil
}

// Encode the alphabet and frequencies of one context
func (this *ANSRangeEncoder) encodeHeader(alphabetSize int, alphabet []int, frequencies []int, lr uint) {
	EncodeAlphabet(this.bitstream, alphabet[0:alphabetSize])

	if alphabetSize == 0 {
		return
	}

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

// Write computes the frequencies for every chunk and encodes the block.
func (this *ANSRangeEncoder) Write(block []byte) (int, error) {
	if block == nil {
		return 0, errors.New("ANS codec: invalid null block parameter")
	}

	if len(block) == 0 {
		return 0, nil
	}

	sizeChunk := this.chunkSize

	if sizeChunk > len(block) {
		// The stride is unchanged, only the renormalization buffer shrinks
		sizeChunk = len(block)
	}

	end := len(block)
	startChunk := 0

	for i := range this.symbols {
		this.symbols[i] = ansEncSymbol{}
	}

	if len(this.buffer) < 2*sizeChunk+64 {
		this.buffer = make([]byte, 2*sizeChunk+64)
	}

	for startChunk < end {
		endChunk := startChunk + sizeChunk
		lr := this.logRange

		if endChunk > end {
			endChunk = end
		}

		// Lower the log range when the chunk is small
		for lr > 8 && 1<<lr > endChunk-startChunk {
			lr--
		}

		if _, err := this.rebuildStatistics(block[startChunk:endChunk], lr); err != nil {
			return startChunk, err
		}

		this.encodeChunk(block[startChunk:endChunk])
		startChunk = endChunk
	}

	return end, nil
}

func (this *ANSRangeEncoder) encodeChunk(block []byte) {
	st := _ANS_TOP
	n := 0

	if this.order == 0 {
		symb := this.symbols[0:256]

		for i := len(block) - 1; i >= 0; i-- {
			sym := symb[block[i]]

			for st >= sym.xMax {
				this.buffer[n] = byte(st)
				n++
				st >>= 8
			}

			// C(s,x) = M floor(x/q_s) + mod(x,q_s) + b_s
			q := int((uint64(st) * sym.invFreq) >> sym.invShift)
			st = st + sym.bias + q*sym.cmplFreq
		}
	} else { // order 1
		symb := this.symbols
		prv := int(block[len(block)-1])

		for i := len(block) - 2; i >= 0; i-- {
			cur := int(block[i])
			sym := symb[(cur<<8)+prv]

			for st >= sym.xMax {
				this.buffer[n] = byte(st)
				n++
				st >>= 8
			}

			q := int((uint64(st) * sym.invFreq) >> sym.invShift)
			st = st + sym.bias + q*sym.cmplFreq
			prv = cur
		}

		// Last symbol in context 0
		sym := symb[prv]

		for st >= sym.xMax {
			this.buffer[n] = byte(st)
			n++
			st >>= 8
		}

		q := int((uint64(st) * sym.invFreq) >> sym.invShift)
		st = st + sym.bias + q*sym.cmplFreq
	}

	// Write the final ANS state
	this.bitstream.WriteBits(uint64(st), 32)

	// Emit the renormalization bytes in reverse order
	for n--; n >= 0; n-- {
		this.bitstream.WriteBits(uint64(this.buffer[n]), 8)
	}
}

// Compute the chunk frequencies and encode the chunk header
func (this *ANSRangeEncoder) rebuildStatistics(block []byte, lr uint) (int, error) {
	bloq.ComputeHistogram(block, this.freqs, this.order == 0, true)
	return this.updateFrequencies(this.freqs, lr)
}

// Dispose does nothing
func (this *ANSRangeEncoder) Dispose() {
}

// BitStream returns the underlying bitstream
func (this *ANSRangeEncoder) BitStream() bloq.OutputBitStream {
	return this.bitstream
}

// ANSRangeDecoder decodes a block encoded by ANSRangeEncoder.
type ANSRangeDecoder struct {
	bitstream bloq.InputBitStream
	freqs     []int
	symbols   []ansDecSymbol
	f2s       []byte // frequency -> symbol
	alphabet  []int
	chunkSize int
	logRange  uint
	order     uint
}

// NewANSRangeDecoder creates an ANSRangeDecoder. Optional arguments are
// the order (0 or 1) and the chunk size: NewANSRangeDecoder(bs, 1, 16384).
func NewANSRangeDecoder(bs bloq.InputBitStream, args ...uint) (*ANSRangeDecoder, error) {
	if bs == nil {
		return nil, errors.New("ANS codec: invalid null bitstream parameter")
	}

	if len(args) > 2 {
		return nil, errors.New("ANS codec: at most order and chunk size can be provided")
	}

	chkSize := _DEFAULT_ANS_CHUNK_SIZE
	order := uint(0)

	if len(args) > 0 {
		order = args[0]
	}

	if len(args) > 1 {
		chkSize = args[1]
	} else if order == 1 {
		chkSize <<= 8
	}

	if order != 0 && order != 1 {
		return nil, errors.New("ANS codec: the order must be 0 or 1")
	}

	if chkSize < 1024 {
		return nil, errors.New("ANS codec: the chunk size must be at least 1024")
	}

	if chkSize > 1<<30 {
		return nil, errors.New("ANS codec: the chunk size must be at most 2^30")
	}

	this := new(ANSRangeDecoder)
	this.bitstream = bs
	this.chunkSize = int(chkSize)
	this.order = order
	dim := int(255*order + 1)
	this.alphabet = make([]int, dim*256)
	this.freqs = make([]int, dim*256)
	this.f2s = make([]byte, 0)
	this.symbols = make([]ansDecSymbol, dim*256)
	return this, nil
}

// Decode the alphabet and frequencies of every context
func (this *ANSRangeDecoder) decodeHeader(frequencies []int) (int, error) {
	res := 0
	dim := int(255*this.order + 1)
	this.logRange = uint(8 + this.bitstream.ReadBits(3))

	if this.logRange < 8 || this.logRange > 16 {
		return 0, fmt.Errorf("invalid bitstream: incorrect range %v in ANS decoder", this.logRange)
	}

	scale := 1 << this.logRange

	if len(this.f2s) < dim*scale {
		this.f2s = make([]byte, dim*scale)
	}

	for k := 0; k < dim; k++ {
		f := frequencies[k<<8 : (k+1)<<8]
		alphabet := this.alphabet[k<<8 : (k+1)<<8]
		alphabetSize, err := DecodeAlphabet(this.bitstream, alphabet)

		if err != nil {
			return alphabetSize, err
		}

		if alphabetSize == 0 {
			continue
		}

		if alphabetSize != 256 {
			for i := range f {
				f[i] = 0
			}
		}

		chkSize := 16
		sum := 0
		llr := uint(3)

		if alphabetSize <= 64 {
			chkSize = 8
		}

		for 1<<llr <= this.logRange {
			llr++
		}

		// Decode the frequencies (except the first one) by chunks
		for i := 1; i < alphabetSize; i += chkSize {
			logMax := uint(1 + this.bitstream.ReadBits(llr))

			if 1<<logMax > scale {
				return alphabetSize, fmt.Errorf("invalid bitstream: incorrect frequency size %v in ANS decoder", logMax)
			}

			endj := i + chkSize

			if endj > alphabetSize {
				endj = alphabetSize
			}

			for j := i; j < endj; j++ {
				freq := int(this.bitstream.ReadBits(logMax))

				if freq <= 0 || freq >= scale {
					return alphabetSize, fmt.Errorf("invalid bitstream: incorrect frequency %v for symbol '%v' in ANS decoder", freq, alphabet[j])
				}

				f[alphabet[j]] = freq
				sum += freq
			}
		}

		// Infer the first frequency
		if scale <= sum {
			return alphabetSize, fmt.Errorf("invalid bitstream: incorrect frequency %v for symbol '%v' in ANS decoder", f[alphabet[0]], alphabet[0])
		}

		f[alphabet[0]] = scale - sum
		sum = 0
		symb := this.symbols[k<<8 : (k+1)<<8]
		freq2sym := this.f2s[k<<this.logRange : (k+1)<<this.logRange]

		// Reverse mapping
		for i := range f {
			if f[i] == 0 {
				continue
			}

			for j := f[i] - 1; j >= 0; j-- {
				freq2sym[sum+j] = byte(i)
			}

			symb[i].reset(sum, f[i], this.logRange)
			sum += f[i]
		}

		res += alphabetSize
	}

	return res, nil
}

// Read decodes the block, chunk by chunk.
func (this *ANSRangeDecoder) Read(block []byte) (int, error) {
	if block == nil {
		return 0, errors.New("ANS codec: invalid null block parameter")
	}

	if len(block) == 0 {
		return 0, nil
	}

	end := len(block)
	startChunk := 0
	sizeChunk := this.chunkSize

	for i := range this.symbols {
		this.symbols[i] = ansDecSymbol{}
	}

	for startChunk < end {
		alphabetSize, err := this.decodeHeader(this.freqs)

		if err != nil || alphabetSize == 0 {
			return startChunk, err
		}

		endChunk := startChunk + sizeChunk

		if endChunk > end {
			endChunk = end
		}

		this.decodeChunk(block[startChunk:endChunk])
		startChunk = endChunk
	}

	return len(block), nil
}

func (this *ANSRangeDecoder) decodeChunk(block []byte) {
	// Read the initial ANS state
	st := int(this.bitstream.ReadBits(32))
	lr := this.logRange
	mask := (1 << lr) - 1

	if this.order == 0 {
		freq2sym := this.f2s[0 : mask+1]
		symb := this.symbols[0:256]

		for i := range block {
			cur := freq2sym[st&mask]
			block[i] = cur
			sym := symb[cur]

			// D(x) = (s, q_s (x/M) + mod(x,M) - b_s)
			st = sym.freq*(st>>lr) + (st & mask) - sym.cumFreq

			// Normalize
			for st < _ANS_TOP {
				st = (st << 8) | int(this.bitstream.ReadBits(8))
			}
		}
	} else {
		symb := this.symbols
		prv := int(0)

		for i := range block {
			cur := this.f2s[(prv<<lr)+(st&mask)]
			block[i] = cur
			sym := symb[(prv<<8)+int(cur)]

			st = sym.freq*(st>>lr) + (st & mask) - sym.cumFreq

			// Normalize
			for st < _ANS_TOP {
				st = (st << 8) | int(this.bitstream.ReadBits(8))
			}

			prv = int(cur)
		}
	}
}

// BitStream returns the underlying bitstream
func (this *ANSRangeDecoder) BitStream() bloq.InputBitStream {
	return this.bitstream
}

// Dispose does nothing
func (this *ANSRangeDecoder) Dispose() {
}
