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
	"bytes"
	"math/rand"
	"testing"

	bloq "github.com/bloqpack/bloq"
	"github.com/bloqpack/bloq/bitstream"
	"github.com/bloqpack/bloq/util"
)

func testData(name string, size int) []byte {
	r := rand.New(rand.NewSource(777))
	data := make([]byte, size)

	switch name {
	case "zeros":
		// nothing to do

	case "small-alphabet":
		for i := range data {
			data[i] = byte(r.Intn(5))
		}

	case "runs":
		val := byte(0)

		for i := range data {
			if i%17 == 0 {
				val = byte(r.Intn(256))
			}

			data[i] = val
		}

	case "random":
		for i := range data {
			data[i] = byte(r.Intn(256))
		}

	case "text":
		return testDataText(size, r)
	}

	return data
}

func testDataText(size int, r *rand.Rand) []byte {
	words := []string{"the ", "quick ", "brown ", "fox ", "jumps ", "over ", "lazy ", "dog. "}
	res := make([]byte, 0, size)

	for len(res) < size {
		res = append(res, words[r.Intn(len(words))]...)
	}

	return res[0:size]
}

func encodeDecode(t *testing.T, codec string, data []byte) {
	t.Helper()
	bs := util.NewBufferStream(make([]byte, 0, len(data)+65536))
	obs, err := bitstream.NewWriter(bs, 16384)

	if err != nil {
		t.Fatal(err)
	}

	ctx := make(map[string]interface{})
	ctx["codec"] = codec
	ctx["blockSize"] = uint(len(data))
	ctx["size"] = uint(len(data))
	ee, err := NewEntropyEncoder(obs, ctx, GetType(codec))

	if err != nil {
		t.Fatal(err)
	}

	if _, err = ee.Write(data); err != nil {
		t.Fatal(err)
	}

	ee.Dispose()
	obs.Close()

	ibs, err := bitstream.NewReader(bs, 16384)

	if err != nil {
		t.Fatal(err)
	}

	ed, err := NewEntropyDecoder(ibs, ctx, GetType(codec))

	if err != nil {
		t.Fatal(err)
	}

	decoded := make([]byte, len(data))

	if _, err = ed.Read(decoded); err != nil {
		t.Fatal(err)
	}

	ed.Dispose()

	if !bytes.Equal(data, decoded) {
		for i := range data {
			if data[i] != decoded[i] {
				t.Fatalf("%v: decoded data differs from original at index %v", codec, i)
			}
		}

		t.Fatalf("%v: decoded data differs from original", codec)
	}
}

func testCodec(t *testing.T, codec string) {
	t.Helper()

	for _, shape := range []string{"zeros", "small-alphabet", "runs", "random", "text"} {
		for _, size := range []int{64, 1000, 65537} {
			encodeDecode(t, codec, testData(shape, size))
		}
	}
}

func TestHuffmanCodec(t *testing.T) {
	testCodec(t, "HUFFMAN")
}

func TestRangeCodec(t *testing.T) {
	testCodec(t, "RANGE")
}

func TestANS0Codec(t *testing.T) {
	testCodec(t, "ANS0")
}

func TestANS1Codec(t *testing.T) {
	testCodec(t, "ANS1")
}

func TestFPAQCodec(t *testing.T) {
	testCodec(t, "FPAQ")
}

func TestCMCodec(t *testing.T) {
	testCodec(t, "CM")
}

func TestTPAQCodec(t *testing.T) {
	// A single size: the TPAQ predictor tables are big
	for _, shape := range []string{"small-alphabet", "random", "text"} {
		encodeDecode(t, "TPAQ", testData(shape, 10000))
	}
}

func TestNullCodec(t *testing.T) {
	testCodec(t, "NONE")
}

func TestExpGolomb(t *testing.T) {
	data := testData("runs", 2000)
	bs := util.NewBufferStream(make([]byte, 0, 8192))
	obs, _ := bitstream.NewWriter(bs, 16384)
	egenc, _ := NewExpGolombEncoder(obs, true)
	egenc.Write(data)
	obs.Close()

	ibs, _ := bitstream.NewReader(bs, 16384)
	egdec, _ := NewExpGolombDecoder(ibs, true)
	decoded := make([]byte, len(data))
	egdec.Read(decoded)

	if !bytes.Equal(data, decoded) {
		t.Fatal("decoded data differs from original")
	}
}

func TestAlphabetFull(t *testing.T) {
	alphabet := make([]int, 256)

	for i := range alphabet {
		alphabet[i] = i
	}

	checkAlphabet(t, alphabet)
	checkAlphabet(t, alphabet[0:64])
}

func TestAlphabetPartial(t *testing.T) {
	// Bitmap mode (32 <= count <= 224)
	alphabet := make([]int, 0)

	for i := 3; i < 256; i += 2 {
		alphabet = append(alphabet, i)
	}

	checkAlphabet(t, alphabet)

	// Delta mode, few symbols
	checkAlphabet(t, []int{2, 7, 9, 33, 150})

	// Delta mode, almost full alphabet (absent symbols encoded)
	alphabet = alphabet[0:0]

	for i := 0; i < 256; i++ {
		if i != 17 && i != 80 {
			alphabet = append(alphabet, i)
		}
	}

	checkAlphabet(t, alphabet)
}

func checkAlphabet(t *testing.T, alphabet []int) {
	t.Helper()
	bs := util.NewBufferStream(make([]byte, 0, 1024))
	obs, _ := bitstream.NewWriter(bs, 1024)
	EncodeAlphabet(obs, alphabet)
	obs.Close()

	ibs, _ := bitstream.NewReader(bs, 1024)
	decoded := make([]int, 256)
	count, err := DecodeAlphabet(ibs, decoded)

	if err != nil {
		t.Fatal(err)
	}

	if count != len(alphabet) {
		t.Fatalf("expected %v symbols, got %v", len(alphabet), count)
	}

	for i := range alphabet {
		if alphabet[i] != decoded[i] {
			t.Fatalf("symbol mismatch at index %v: %v != %v", i, alphabet[i], decoded[i])
		}
	}
}

func TestNormalizeFrequencies(t *testing.T) {
	freqs := make([]int, 256)
	r := rand.New(rand.NewSource(5))
	total := 0

	for i := 0; i < 256; i++ {
		freqs[i] = r.Intn(1000)
		total += freqs[i]
	}

	alphabet := make([]int, 256)
	scale := 1 << 12
	count, err := NormalizeFrequencies(freqs, alphabet, total, scale)

	if err != nil {
		t.Fatal(err)
	}

	sum := 0

	for i := 0; i < count; i++ {
		if freqs[alphabet[i]] <= 0 {
			t.Fatalf("null frequency for present symbol %v", alphabet[i])
		}

		sum += freqs[alphabet[i]]
	}

	if sum != scale {
		t.Fatalf("normalized frequencies sum to %v, expected %v", sum, scale)
	}
}

func TestVarInt(t *testing.T) {
	for _, v := range []int{0, 1, 127, 128, 255, 16384, 1 << 20, (1 << 26) - 1} {
		bs := util.NewBufferStream(make([]byte, 0, 16))
		obs, _ := bitstream.NewWriter(bs, 1024)
		WriteVarInt(obs, v)
		obs.Close()

		ibs, _ := bitstream.NewReader(bs, 1024)

		if res := ReadVarInt(ibs); res != v {
			t.Fatalf("expected %v, got %v", v, res)
		}
	}
}

func TestFirstOrderEntropy(t *testing.T) {
	histo := [256]int{}
	data := testData("random", 4096)
	bloq.ComputeHistogram(data, histo[:], true, false)

	if e := bloq.ComputeFirstOrderEntropy1024(len(data), histo[:]); e < 973 {
		t.Fatalf("expected random data to be flagged incompressible, entropy: %v", e)
	}

	data = testData("zeros", 4096)
	bloq.ComputeHistogram(data, histo[:], true, false)

	if e := bloq.ComputeFirstOrderEntropy1024(len(data), histo[:]); e != 0 {
		t.Fatalf("expected zero entropy, got %v", e)
	}
}
