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
	"testing"
)

func TestSuffixSorter(t *testing.T) {
	src := []byte("mississippi")
	sa := make([]int32, len(src))
	ss, _ := newSuffixSorter()
	ss.ComputeSuffixArray(src, sa)
	expected := []int32{10, 7, 4, 1, 0, 9, 8, 6, 3, 5, 2}

	for i := range expected {
		if sa[i] != expected[i] {
			t.Fatalf("incorrect suffix array: %v, expected %v", sa, expected)
		}
	}
}

func TestBWTKnownPermutation(t *testing.T) {
	// BWT(mississippi) = pssmipissii with primary index 4
	src := []byte("mississippi")
	dst := make([]byte, len(src))
	bwt, _ := NewBWT()

	if _, _, err := bwt.Forward(src, dst); err != nil {
		t.Fatal(err)
	}

	if string(dst) != "pssmipissii" {
		t.Fatalf("incorrect BWT output: %q", string(dst))
	}

	if bwt.PrimaryIndex(0) != 4 {
		t.Fatalf("incorrect primary index: %v", bwt.PrimaryIndex(0))
	}

	inv, _ := NewBWT()
	inv.SetPrimaryIndex(0, bwt.PrimaryIndex(0))
	decoded := make([]byte, len(src))

	if _, _, err := inv.Inverse(dst, decoded); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(src, decoded) {
		t.Fatalf("incorrect inverse BWT output: %q", string(decoded))
	}
}

func TestBWTRoundTrip(t *testing.T) {
	for _, shape := range []string{"text", "runs", "small-alphabet", "random"} {
		for _, size := range []int{2, 80, 1024, 100000} {
			data := genBlock(shape, size, int64(size)+1)
			bwt, _ := NewBWT()
			output := make([]byte, size)

			if _, _, err := bwt.Forward(data, output); err != nil {
				t.Fatal(err)
			}

			inv, _ := NewBWT()

			for i := 0; i < 8; i++ {
				inv.SetPrimaryIndex(i, bwt.PrimaryIndex(i))
			}

			decoded := make([]byte, size)

			if _, _, err := inv.Inverse(output, decoded); err != nil {
				t.Fatal(err)
			}

			if !bytes.Equal(data, decoded) {
				t.Fatalf("BWT round trip failed for %v/%v", shape, size)
			}
		}
	}
}

func TestBWTBlockCodecHeader(t *testing.T) {
	// Small block: the primary index fits the 6 low bits of the mode
	// byte, the header is 1 byte and the 2 top bits are 00
	src := []byte("banana\x00")
	codec, _ := NewBWTBlockCodec()
	dst := make([]byte, codec.MaxEncodedLen(len(src)))
	_, dstLen, err := codec.Forward(src, dst)

	if err != nil {
		t.Fatal(err)
	}

	if int(dstLen) != len(src)+1 {
		t.Fatalf("expected a 1 byte header, output length %v", dstLen)
	}

	if dst[0]>>6 != 0 {
		t.Fatalf("expected mode bits 00, got %x", dst[0]>>6)
	}

	dec, _ := NewBWTBlockCodec()
	decoded := make([]byte, len(src))
	_, oIdx, err := dec.Inverse(dst[0:dstLen], decoded)

	if err != nil {
		t.Fatal(err)
	}

	if int(oIdx) != len(src) || !bytes.Equal(src, decoded) {
		t.Fatalf("BWT block codec round trip failed: %q", string(decoded[0:oIdx]))
	}
}

func TestBWTBlockCodecRoundTrip(t *testing.T) {
	for _, size := range []int{16, 1024, 65536, 300000} {
		data := genBlock("text", size, int64(size))
		codec, _ := NewBWTBlockCodec()
		dst := make([]byte, codec.MaxEncodedLen(len(data)))
		_, dstLen, err := codec.Forward(data, dst)

		if err != nil {
			t.Fatal(err)
		}

		dec, _ := NewBWTBlockCodec()
		decoded := make([]byte, len(data))
		_, oIdx, err := dec.Inverse(dst[0:dstLen], decoded)

		if err != nil {
			t.Fatal(err)
		}

		if int(oIdx) != len(data) || !bytes.Equal(data, decoded) {
			t.Fatalf("BWT block codec round trip failed for size %v", size)
		}
	}
}

func TestBWTSRoundTrip(t *testing.T) {
	for _, shape := range []string{"text", "runs", "small-alphabet", "random"} {
		for _, size := range []int{2, 80, 1024, 65536} {
			data := genBlock(shape, size, int64(size)+3)
			bwts, _ := NewBWTS()
			output := make([]byte, size)

			if _, _, err := bwts.Forward(data, output); err != nil {
				t.Fatal(err)
			}

			inv, _ := NewBWTS()
			decoded := make([]byte, size)

			if _, _, err := inv.Inverse(output, decoded); err != nil {
				t.Fatal(err)
			}

			if !bytes.Equal(data, decoded) {
				t.Fatalf("BWTS round trip failed for %v/%v", shape, size)
			}
		}
	}
}
