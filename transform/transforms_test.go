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
	"bytes"
	"math/rand"
	"testing"

	bloq "github.com/bloqpack/bloq"
)

func getTransform(name string) (bloq.ByteTransform, error) {
	ctx := make(map[string]interface{})
	ctx["transform"] = name

	switch name {
	case "NONE":
		return NewNullTransform()

	case "LZ4":
		return NewLZ4Codec()

	case "SNAPPY":
		return NewSnappyCodec()

	case "ZRLT":
		return NewZRLT()

	case "RLT":
		return NewRLT(3)

	case "MTFT":
		return NewMTFT()

	case "RANK":
		return NewSBRT(SBRT_MODE_RANK)

	case "TIMESTAMP":
		return NewSBRT(SBRT_MODE_TIMESTAMP)

	case "ROLZ":
		return NewROLZCodec(_ROLZ_LOG_POS_CHECKS)

	case "X86":
		return NewX86Codec()

	case "TEXT":
		return NewTextCodecWithCtx(&ctx)

	case "BWT":
		return NewBWTBlockCodecWithCtx(&ctx)

	case "BWTS":
		return NewBWTS()

	default:
		panic("no such transform: " + name)
	}
}

func genBlock(shape string, size int, seed int64) []byte {
	r := rand.New(rand.NewSource(seed))
	data := make([]byte, size)

	switch shape {
	case "zeros":

	case "sparse-zeros":
		for i := range data {
			if r.Intn(8) == 0 {
				data[i] = byte(1 + r.Intn(250))
			}
		}

	case "small-alphabet":
		for i := range data {
			data[i] = byte(r.Intn(4))
		}

	case "runs":
		val := byte(0)

		for i := range data {
			if r.Intn(30) == 0 {
				val = byte(r.Intn(256))
			}

			data[i] = val
		}

	case "text":
		words := []string{"the ", "quick ", "brown ", "fox ", "jumps ", "over ", "a ", "lazy ", "dog ", "and ", "then ", "some. "}
		res := make([]byte, 0, size)

		for len(res) < size {
			res = append(res, words[r.Intn(len(words))]...)
		}

		return res[0:size]

	case "random":
		for i := range data {
			data[i] = byte(r.Intn(256))
		}
	}

	return data
}

// roundTrip runs forward then inverse and compares with the original.
// A forward refusal (the transform declined the data) is not a failure:
// the transform sequence would simply skip the stage.
func roundTrip(t *testing.T, name string, data []byte) {
	t.Helper()
	tf, err := getTransform(name)

	if err != nil {
		t.Fatal(err)
	}

	output := make([]byte, tf.MaxEncodedLen(len(data))+32)
	_, dstLen, err := tf.Forward(data, output)

	if err != nil {
		t.Logf("%v declined %v byte(s): %v", name, len(data), err)
		return
	}

	// A fresh instance decodes (transforms are per block objects)
	ti, err := getTransform(name)

	if err != nil {
		t.Fatal(err)
	}

	decoded := make([]byte, len(data)+32)
	_, oIdx, err := ti.Inverse(output[0:dstLen], decoded)

	if err != nil {
		t.Fatalf("%v: inverse failed on %v byte(s): %v", name, len(data), err)
	}

	if int(oIdx) != len(data) {
		t.Fatalf("%v: decoded %v byte(s), expected %v", name, oIdx, len(data))
	}

	if !bytes.Equal(data, decoded[0:oIdx]) {
		for i := range data {
			if data[i] != decoded[i] {
				t.Fatalf("%v: decoded data differs from original at index %v", name, i)
			}
		}
	}
}

func testTransform(t *testing.T, name string) {
	t.Helper()

	for _, shape := range []string{"zeros", "sparse-zeros", "small-alphabet", "runs", "text", "random"} {
		for _, size := range []int{80, 1024, 65536} {
			roundTrip(t, name, genBlock(shape, size, int64(size)))
		}
	}
}

func TestNullTransform(t *testing.T) {
	testTransform(t, "NONE")
}

func TestLZ4(t *testing.T) {
	testTransform(t, "LZ4")
}

func TestSnappy(t *testing.T) {
	testTransform(t, "SNAPPY")
}

func TestZRLT(t *testing.T) {
	testTransform(t, "ZRLT")
}

func TestRLT(t *testing.T) {
	testTransform(t, "RLT")
}

func TestMTFT(t *testing.T) {
	testTransform(t, "MTFT")
}

func TestRank(t *testing.T) {
	testTransform(t, "RANK")
}

func TestTimeStamp(t *testing.T) {
	testTransform(t, "TIMESTAMP")
}

func TestROLZ(t *testing.T) {
	for _, shape := range []string{"runs", "text", "small-alphabet"} {
		for _, size := range []int{80, 1024, 65536} {
			roundTrip(t, "ROLZ", genBlock(shape, size, int64(size)))
		}
	}
}

func TestText(t *testing.T) {
	testTransform(t, "TEXT")
}

func TestX86(t *testing.T) {
	// Synthetic code section: E8 xx xx xx 00 call sites amid filler
	r := rand.New(rand.NewSource(11))
	data := make([]byte, 4096)

	for i := 0; i < len(data)-8; i++ {
		if r.Intn(16) == 0 {
			data[i] = 0xE8
			data[i+1] = byte(8 + r.Intn(200))
			data[i+2] = byte(r.Intn(256))
			data[i+3] = byte(r.Intn(256))
			data[i+4] = 0
			i += 4
		} else {
			data[i] = byte(0x88 + r.Intn(5))
		}
	}

	roundTrip(t, "X86", data)
}

func TestZRLTScenario(t *testing.T) {
	// A run of 17 zeros is carried as the value 18 (the counter starts
	// at 1): 18 = 0b10010 emits the 4 bits after the MSB as bytes
	data := make([]byte, 17)
	zrlt, _ := NewZRLT()
	output := make([]byte, 17)
	_, dstLen, err := zrlt.Forward(data, output)

	if err != nil {
		t.Fatal(err)
	}

	expected := []byte{0, 0, 1, 0}

	if dstLen != 4 || !bytes.Equal(output[0:dstLen], expected) {
		t.Fatalf("expected output %v, got %v", expected, output[0:dstLen])
	}
}

func TestRLTThreshold(t *testing.T) {
	// Long runs exercise the 2 and 3 byte length encodings
	data := make([]byte, 70000)

	for i := 0; i < 300; i++ {
		data[i] = 42
	}

	for i := 40000; i < 70000; i++ {
		data[i] = 7
	}

	roundTrip(t, "RLT", data)
}

func TestSequenceSkipMask(t *testing.T) {
	// ZRLT expands random data and gets skipped; NONE always runs
	zrlt, _ := NewZRLT()
	null, _ := NewNullTransform()
	seq, err := NewSequence([]bloq.ByteTransform{zrlt, null})

	if err != nil {
		t.Fatal(err)
	}

	data := genBlock("random", 4096, 3)
	output := make([]byte, seq.MaxEncodedLen(len(data)))

	if _, _, err = seq.Forward(data, output); err != nil {
		t.Fatal(err)
	}

	// Bit 7 (stage 0, ZRLT) skipped, bit 6 (stage 1, NONE) executed
	if flags := seq.SkipFlags(); flags != 0xBF {
		t.Fatalf("expected skip flags bf, got %x", flags)
	}

	inv, _ := NewSequence([]bloq.ByteTransform{mustZRLT(), mustNull()})
	inv.SetSkipFlags(seq.SkipFlags())
	decoded := make([]byte, len(data))

	if _, _, err := inv.Inverse(output[0:len(data)], decoded); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(data, decoded) {
		t.Fatal("decoded data differs from original")
	}
}

func mustZRLT() bloq.ByteTransform {
	z, _ := NewZRLT()
	return z
}

func mustNull() bloq.ByteTransform {
	n, _ := NewNullTransform()
	return n
}

func TestSequenceAllSkipped(t *testing.T) {
	zrlt, _ := NewZRLT()
	seq, _ := NewSequence([]bloq.ByteTransform{zrlt})
	data := genBlock("random", 1024, 17)
	output := make([]byte, seq.MaxEncodedLen(len(data)))

	if _, _, err := seq.Forward(data, output); err == nil {
		t.Fatal("expected a failure when every stage is skipped")
	}

	if seq.SkipFlags() != 0xFF {
		t.Fatalf("expected skip flags ff, got %x", seq.SkipFlags())
	}
}

func TestFactoryNames(t *testing.T) {
	for _, name := range []string{"NONE", "BWT", "BWTS", "LZ4", "SNAPPY", "RLT", "ZRLT", "MTFT", "RANK", "X86", "TEXT", "ROLZ"} {
		tType := GetType(name)
		res, err := GetName(tType)

		if err != nil {
			t.Fatal(err)
		}

		if res != name {
			t.Fatalf("expected %v, got %v", name, res)
		}
	}

	// Composition: NONE stages are filtered out
	tType := GetType("BWT+MTFT+ZRLT")
	res, _ := GetName(tType)

	if res != "BWT+MTFT+ZRLT" {
		t.Fatalf("expected BWT+MTFT+ZRLT, got %v", res)
	}

	if GetType("NONE+ZRLT") != GetType("ZRLT") {
		t.Fatal("expected NONE stages to be filtered out")
	}
}
