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
	"encoding/binary"
	"errors"

	bloq "github.com/bloqpack/bloq"
)

// Fixed width (56 bit) binary range coder parameterized by a Predictor.

const (
	_BINARY_ENTROPY_TOP = uint64(0x00FFFFFFFFFFFFFF)
	_MASK_24_56         = uint64(0x00FFFFFFFF000000)
	_MASK_0_56          = uint64(0x00FFFFFFFFFFFFFF)
	_MASK_0_24          = uint64(0x0000000000FFFFFF)
	_MASK_0_32          = uint64(0x00000000FFFFFFFF)
)

// BinaryEntropyEncoder codes bits with probabilities supplied by the
// predictor. Renormalized output bytes accumulate in an internal chunk
// buffer emitted to the bitstream with a varint byte count.
type BinaryEntropyEncoder struct {
	predictor bloq.Predictor
	low       uint64
	high      uint64
	bitstream bloq.OutputBitStream
	disposed  bool
	buffer    []byte
	index     int
}

// NewBinaryEntropyEncoder creates a BinaryEntropyEncoder over the given
// bitstream, driven by the given predictor.
func NewBinaryEntropyEncoder(bs bloq.OutputBitStream, predictor bloq.Predictor) (*BinaryEntropyEncoder, error) {
	if bs == nil {
		return nil, errors.New("invalid null bitstream parameter")
	}

	if predictor == nil {
		return nil, errors.New("invalid null predictor parameter")
	}

	this := new(BinaryEntropyEncoder)
	this.predictor = predictor
	this.low = 0
	this.high = _BINARY_ENTROPY_TOP
	this.bitstream = bs
	this.buffer = make([]byte, 0)
	return this, nil
}

// EncodeByte codes the 8 bits of val, most significant first.
func (this *BinaryEntropyEncoder) EncodeByte(val byte) {
	this.EncodeBit((val >> 7) & 1)
	this.EncodeBit((val >> 6) & 1)
	this.EncodeBit((val >> 5) & 1)
	this.EncodeBit((val >> 4) & 1)
	this.EncodeBit((val >> 3) & 1)
	this.EncodeBit((val >> 2) & 1)
	this.EncodeBit((val >> 1) & 1)
	this.EncodeBit(val & 1)
}

// EncodeBit codes one bit.
func (this *BinaryEntropyEncoder) EncodeBit(bit byte) {
	// Compute the interval split. Written to maximize the accuracy of the
	// multiplication/division over 56 bit arithmetic.
	split := (((this.high - this.low) >> 4) * uint64(this.predictor.Get())) >> 8

	if bit != 0 {
		this.high = this.low + split
	} else {
		this.low += (split + 1)
	}

	this.predictor.Update(bit)

	// Emit the identical leading 32 bits
	for (this.low^this.high)&_MASK_24_56 == 0 {
		this.flush()
	}
}

// Write codes the whole block, splitting it into chunks so that the
// internal buffer stays bounded.
func (this *BinaryEntropyEncoder) Write(block []byte) (int, error) {
	count := len(block)

	if count > 1<<30 {
		return -1, errors.New("invalid block size parameter (max is 1<<30)")
	}

	startChunk := 0
	length := count

	if count >= 1<<26 {
		// Large blocks are split to bound memory usage
		if count < 1<<29 {
			length = count >> 3
		} else {
			length = count >> 4
		}
	} else if count < 64 {
		length = 64
	}

	for startChunk < count {
		chunkSize := length

		if startChunk+length >= count {
			chunkSize = count - startChunk
		}

		if len(this.buffer) < (chunkSize*9)>>3 {
			this.buffer = make([]byte, (chunkSize*9)>>3)
		}

		this.index = 0
		buf := block[startChunk : startChunk+chunkSize]

		for i := range buf {
			this.EncodeByte(buf[i])
		}

		WriteVarInt(this.bitstream, this.index)
		this.bitstream.WriteArray(this.buffer, uint(8*this.index))
		startChunk += chunkSize

		if startChunk < count {
			this.bitstream.WriteBits(this.low|_MASK_0_24, 56)
		}
	}

	return count, nil
}

func (this *BinaryEntropyEncoder) flush() {
	binary.BigEndian.PutUint32(this.buffer[this.index:], uint32(this.high>>24))
	this.index += 4
	this.low <<= 32
	this.high = (this.high << 32) | _MASK_0_32
}

// BitStream returns the underlying bitstream
func (this *BinaryEntropyEncoder) BitStream() bloq.OutputBitStream {
	return this.bitstream
}

// Dispose flushes the last 56 bits of the coder state.
func (this *BinaryEntropyEncoder) Dispose() {
	if this.disposed == true {
		return
	}

	this.disposed = true
	this.bitstream.WriteBits(this.low|_MASK_0_24, 56)
}

// BinaryEntropyDecoder mirrors BinaryEntropyEncoder.
type BinaryEntropyDecoder struct {
	predictor bloq.Predictor
	low       uint64
	high      uint64
	current   uint64
	bitstream bloq.InputBitStream
	buffer    []byte
	index     int
}

// NewBinaryEntropyDecoder creates a BinaryEntropyDecoder over the given
// bitstream, driven by the given predictor.
func NewBinaryEntropyDecoder(bs bloq.InputBitStream, predictor bloq.Predictor) (*BinaryEntropyDecoder, error) {
	if bs == nil {
		return nil, errors.New("invalid null bitstream parameter")
	}

	if predictor == nil {
		return nil, errors.New("invalid null predictor parameter")
	}

	this := new(BinaryEntropyDecoder)
	this.predictor = predictor
	this.low = 0
	this.high = _BINARY_ENTROPY_TOP
	this.bitstream = bs
	this.buffer = make([]byte, 0)
	return this, nil
}

// DecodeByte decodes 8 bits, most significant first.
func (this *BinaryEntropyDecoder) DecodeByte() byte {
	return (this.DecodeBit() << 7) |
		(this.DecodeBit() << 6) |
		(this.DecodeBit() << 5) |
		(this.DecodeBit() << 4) |
		(this.DecodeBit() << 3) |
		(this.DecodeBit() << 2) |
		(this.DecodeBit() << 1) |
		this.DecodeBit()
}

// DecodeBit decodes one bit.
func (this *BinaryEntropyDecoder) DecodeBit() byte {
	// Compute the interval split
	mid := this.low + ((((this.high - this.low) >> 4) * uint64(this.predictor.Get())) >> 8)
	var bit byte

	if mid >= this.current {
		bit = 1
		this.high = mid
		this.predictor.Update(1)
	} else {
		bit = 0
		this.low = mid + 1
		this.predictor.Update(0)
	}

	// Pull 32 bits from the chunk buffer
	for (this.low^this.high)&_MASK_24_56 == 0 {
		this.read()
	}

	return bit
}

func (this *BinaryEntropyDecoder) read() {
	this.low = (this.low << 32) & _MASK_0_56
	this.high = ((this.high << 32) | _MASK_0_32) & _MASK_0_56
	val := uint64(binary.BigEndian.Uint32(this.buffer[this.index:]))
	this.current = ((this.current << 32) | val) & _MASK_0_56
	this.index += 4
}

// Read decodes count bytes, chunked like the encoder.
func (this *BinaryEntropyDecoder) Read(block []byte) (int, error) {
	count := len(block)

	if count > 1<<30 {
		return -1, errors.New("invalid block size parameter (max is 1<<30)")
	}

	startChunk := 0
	length := count

	if count >= 1<<26 {
		if count < 1<<29 {
			length = count >> 3
		} else {
			length = count >> 4
		}
	} else if count < 64 {
		length = 64
	}

	for startChunk < count {
		chunkSize := length

		if startChunk+length >= count {
			chunkSize = count - startChunk
		}

		if len(this.buffer) < (chunkSize*9)>>3 {
			this.buffer = make([]byte, (chunkSize*9)>>3)
		}

		szBytes := ReadVarInt(this.bitstream)
		this.current = this.bitstream.ReadBits(56)

		if szBytes != 0 {
			this.bitstream.ReadArray(this.buffer, uint(8*szBytes))
		}

		this.index = 0
		buf := block[startChunk : startChunk+chunkSize]

		for i := range buf {
			buf[i] = this.DecodeByte()
		}

		startChunk += chunkSize
	}

	return count, nil
}

// BitStream returns the underlying bitstream
func (this *BinaryEntropyDecoder) BitStream() bloq.InputBitStream {
	return this.bitstream
}

// Dispose does nothing for the decoder.
func (this *BinaryEntropyDecoder) Dispose() {
}
