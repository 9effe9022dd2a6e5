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
	bloq "github.com/bloqpack/bloq"
)

// NullEntropyEncoder is a pass through codec writing the input bytes
// directly (byte aligned) to the bitstream.
type NullEntropyEncoder struct {
	bitstream bloq.OutputBitStream
}

// NewNullEntropyEncoder creates a new instance of NullEntropyEncoder
func NewNullEntropyEncoder(bs bloq.OutputBitStream) (*NullEntropyEncoder, error) {
	this := new(NullEntropyEncoder)
	this.bitstream = bs
	return this, nil
}

// Write copies the block to the bitstream.
func (this *NullEntropyEncoder) Write(block []byte) (int, error) {
	res := 0
	count := len(block)
	idx := 0

	for count > 0 {
		ckSize := count

		if ckSize > 1<<23 {
			ckSize = 1 << 23
		}

		res += int(this.bitstream.WriteArray(block[idx:], uint(8*ckSize)) >> 3)
		idx += ckSize
		count -= ckSize
	}

	return res, nil
}

// BitStream returns the underlying bitstream
func (this *NullEntropyEncoder) BitStream() bloq.OutputBitStream {
	return this.bitstream
}

// Dispose does nothing
func (this *NullEntropyEncoder) Dispose() {
}

// NullEntropyDecoder is a pass through codec reading bytes directly
// from the bitstream.
type NullEntropyDecoder struct {
	bitstream bloq.InputBitStream
}

// NewNullEntropyDecoder creates a new instance of NullEntropyDecoder
func NewNullEntropyDecoder(bs bloq.InputBitStream) (*NullEntropyDecoder, error) {
	this := new(NullEntropyDecoder)
	this.bitstream = bs
	return this, nil
}

// Read copies bytes from the bitstream into the block.
func (this *NullEntropyDecoder) Read(block []byte) (int, error) {
	res := 0
	count := len(block)
	idx := 0

	for count > 0 {
		ckSize := count

		if ckSize > 1<<23 {
			ckSize = 1 << 23
		}

		res += int(this.bitstream.ReadArray(block[idx:], uint(8*ckSize)) >> 3)
		idx += ckSize
		count -= ckSize
	}

	return res, nil
}

// BitStream returns the underlying bitstream
func (this *NullEntropyDecoder) BitStream() bloq.InputBitStream {
	return this.bitstream
}

// Dispose does nothing
func (this *NullEntropyDecoder) Dispose() {
}
