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

package io

import (
	"bytes"
	"math/rand"
	"testing"

	bloq "github.com/bloqpack/bloq"
	"github.com/bloqpack/bloq/util"
)

func genData(shape string, size int, seed int64) []byte {
	r := rand.New(rand.NewSource(seed))
	data := make([]byte, size)

	switch shape {
	case "zeros":

	case "text":
		words := []string{"the ", "quick ", "brown ", "fox ", "jumps ", "over ", "a ", "lazy ", "dog ", "and ", "then ", "rests. "}
		res := make([]byte, 0, size)

		for len(res) < size {
			res = append(res, words[r.Intn(len(words))]...)
		}

		return res[0:size]

	case "runs":
		val := byte(0)

		for i := range data {
			if r.Intn(40) == 0 {
				val = byte(r.Intn(256))
			}

			data[i] = val
		}

	case "random":
		for i := range data {
			data[i] = byte(r.Intn(256))
		}
	}

	return data
}

func compress(t *testing.T, data []byte, entropyName, transformName string, blockSize, jobs uint, checksum bool) []byte {
	t.Helper()
	bs := util.NewBufferStream(make([]byte, 0, len(data)+1024))
	w, err := NewWriter(bs, entropyName, transformName, blockSize, jobs, checksum)

	if err != nil {
		t.Fatal(err)
	}

	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	return bs.Bytes()
}

func decompress(t *testing.T, compressed []byte, jobs uint) ([]byte, error) {
	t.Helper()
	bs := util.NewBufferStream(compressed)
	r, err := NewReader(bs, jobs)

	if err != nil {
		t.Fatal(err)
	}

	res := make([]byte, 0)
	buf := make([]byte, 65536)

	for {
		n, err := r.Read(buf)

		if n > 0 {
			res = append(res, buf[0:n]...)
		}

		if err != nil {
			return res, err
		}

		if n == 0 {
			break
		}
	}

	if err := r.Close(); err != nil {
		return res, err
	}

	return res, nil
}

func checkRoundTrip(t *testing.T, data []byte, entropyName, transformName string, blockSize, jobs uint, checksum bool) {
	t.Helper()
	compressed := compress(t, data, entropyName, transformName, blockSize, jobs, checksum)
	decoded, err := decompress(t, compressed, jobs)

	if err != nil {
		t.Fatalf("%v+%v: decompression error: %v", transformName, entropyName, err)
	}

	if !bytes.Equal(data, decoded) {
		t.Fatalf("%v+%v: decoded data differs from original (%v vs %v bytes)",
			transformName, entropyName, len(decoded), len(data))
	}
}

func TestRoundTripCombos(t *testing.T) {
	data := genData("text", 200000, 1)
	transforms := []string{"NONE", "LZ4", "SNAPPY", "RLT", "ZRLT", "MTFT", "RANK", "TEXT", "ROLZ", "BWT", "BWTS", "BWT+MTFT+ZRLT", "TEXT+LZ4"}
	entropies := []string{"NONE", "HUFFMAN", "ANS0", "ANS1", "RANGE", "FPAQ", "CM"}

	for _, tr := range transforms {
		for _, en := range entropies {
			checkRoundTrip(t, data, en, tr, 65536, 1, false)
		}
	}
}

func TestRoundTripTPAQ(t *testing.T) {
	data := genData("text", 50000, 2)
	checkRoundTrip(t, data, "TPAQ", "BWT+MTFT+ZRLT", 32768, 1, true)
}

func TestRoundTripShapes(t *testing.T) {
	for _, shape := range []string{"zeros", "runs", "random", "text"} {
		for _, size := range []int{1, 100, 65536, 500000} {
			data := genData(shape, size, int64(size))
			checkRoundTrip(t, data, "HUFFMAN", "BWT+MTFT+ZRLT", 65536, 2, true)
		}
	}
}

func TestEmptyInput(t *testing.T) {
	compressed := compress(t, []byte{}, "HUFFMAN", "BWT+MTFT+ZRLT", 65536, 2, true)

	// Header only stream: 120 bits = 15 bytes
	if len(compressed) != 15 {
		t.Fatalf("expected a 15 byte header only stream, got %v byte(s)", len(compressed))
	}

	decoded, err := decompress(t, compressed, 2)

	if err != nil {
		t.Fatal(err)
	}

	if len(decoded) != 0 {
		t.Fatalf("expected empty output, got %v byte(s)", len(decoded))
	}
}

func TestSingleByte(t *testing.T) {
	data := []byte{0x00}
	compressed := compress(t, data, "NONE", "NONE", 1024, 1, false)

	// header (15) + skip mask (1) + transformed size (1) + coded size (1) + payload (1)
	if len(compressed) != 19 {
		t.Fatalf("expected a 19 byte stream, got %v byte(s)", len(compressed))
	}

	// Frame: stored block, both sizes = 1, payload = 0x00
	frame := compressed[15:]

	if frame[1] != 1 || frame[2] != 1 || frame[3] != 0x00 {
		t.Fatalf("unexpected frame: %x", frame)
	}

	decoded, err := decompress(t, compressed, 1)

	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(data, decoded) {
		t.Fatal("decoded data differs from original")
	}
}

func TestParallelDeterminism(t *testing.T) {
	data := genData("text", 1000000, 3)
	ref := compress(t, data, "HUFFMAN", "BWT+MTFT+ZRLT", 65536, 1, true)

	for _, jobs := range []uint{2, 4, 7} {
		res := compress(t, data, "HUFFMAN", "BWT+MTFT+ZRLT", 65536, jobs, true)

		if !bytes.Equal(ref, res) {
			t.Fatalf("compressed output differs between 1 and %v job(s)", jobs)
		}
	}

	// Decoding tolerates any number of jobs
	for _, jobs := range []uint{1, 3, 8} {
		decoded, err := decompress(t, ref, jobs)

		if err != nil {
			t.Fatal(err)
		}

		if !bytes.Equal(data, decoded) {
			t.Fatalf("decoded data differs from original with %v job(s)", jobs)
		}
	}
}

func TestChecksumMismatch(t *testing.T) {
	data := genData("text", 100000, 4)
	compressed := compress(t, data, "HUFFMAN", "LZ4", 32768, 2, true)

	// Flip one bit in a payload byte past the header
	corrupted := make([]byte, len(compressed))
	copy(corrupted, compressed)
	corrupted[len(corrupted)/2] ^= 0x10

	decoded, err := decompress(t, corrupted, 2)

	if err == nil {
		t.Fatal("expected a decoding error on a corrupted stream")
	}

	if se, isSE := err.(*Error); isSE {
		if se.ErrorCode() != bloq.ERR_CRC_CHECK && se.ErrorCode() != bloq.ERR_PROCESS_BLOCK &&
			se.ErrorCode() != bloq.ERR_BLOCK_SIZE && se.ErrorCode() != bloq.ERR_INVALID_CODEC {
			t.Fatalf("unexpected error code: %v", se.ErrorCode())
		}
	}

	// No byte past the corrupted block may be delivered
	if len(decoded) > len(data) {
		t.Fatalf("too many bytes delivered: %v", len(decoded))
	}
}

func TestInvalidHeader(t *testing.T) {
	compressed := compress(t, []byte("hello"), "NONE", "NONE", 1024, 1, false)
	compressed[0] ^= 0xFF

	if _, err := decompress(t, compressed, 1); err == nil {
		t.Fatal("expected an error on an invalid stream type")
	}
}

func TestWriterParameters(t *testing.T) {
	bs := util.NewBufferStream(make([]byte, 0, 64))

	if _, err := NewWriter(bs, "HUFFMAN", "NONE", 100, 1, false); err == nil {
		t.Fatal("expected an error for a block size below the minimum")
	}

	if _, err := NewWriter(bs, "HUFFMAN", "NONE", 1<<27, 1, false); err == nil {
		t.Fatal("expected an error for a block size above the maximum")
	}

	if _, err := NewWriter(bs, "HUFFMAN", "NONE", 65536, 0, false); err == nil {
		t.Fatal("expected an error for a null job count")
	}
}
