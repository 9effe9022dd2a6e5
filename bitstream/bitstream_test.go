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

package bitstream

import (
	"math/rand"
	"testing"

	"github.com/bloqpack/bloq/util"
	"github.com/icza/mighty"
)

func TestWriteReadBits(t *testing.T) {
	eq := mighty.Eq(t)
	bs := util.NewBufferStream(make([]byte, 0, 16384))
	obs, err := NewWriter(bs, 16384)

	if err != nil {
		t.Fatal(err)
	}

	values := make([]uint64, 0)
	widths := make([]uint, 0)
	r := rand.New(rand.NewSource(1234567))

	for i := 0; i < 5000; i++ {
		w := uint(1 + r.Intn(64))
		v := r.Uint64() & (0xFFFFFFFFFFFFFFFF >> (64 - w))
		values = append(values, v)
		widths = append(widths, w)
		obs.WriteBits(v, w)
	}

	written := obs.Written()

	if _, err := obs.Close(); err != nil {
		t.Fatal(err)
	}

	ibs, err := NewReader(bs, 16384)

	if err != nil {
		t.Fatal(err)
	}

	for i := range values {
		eq(values[i], ibs.ReadBits(widths[i]))
	}

	eq(written, ibs.Read())
}

func TestWriteReadSingleBits(t *testing.T) {
	eq := mighty.Eq(t)
	bs := util.NewBufferStream(make([]byte, 0, 1024))
	obs, _ := NewWriter(bs, 1024)
	r := rand.New(rand.NewSource(42))
	bits := make([]int, 777)

	for i := range bits {
		bits[i] = r.Intn(2)
		obs.WriteBit(bits[i])
	}

	obs.Close()
	ibs, _ := NewReader(bs, 1024)

	for i := range bits {
		eq(bits[i], ibs.ReadBit())
	}
}

func TestWriteReadArrayAligned(t *testing.T) {
	eq := mighty.Eq(t)
	bs := util.NewBufferStream(make([]byte, 0, 70000))
	obs, _ := NewWriter(bs, 1024)
	r := rand.New(rand.NewSource(7))
	data := make([]byte, 65536)

	for i := range data {
		data[i] = byte(r.Intn(256))
	}

	// One byte header: the array write starts on a byte boundary
	obs.WriteBits(0xA5, 8)
	obs.WriteArray(data, uint(8*len(data)))
	obs.Close()

	ibs, _ := NewReader(bs, 1024)
	eq(uint64(0xA5), ibs.ReadBits(8))
	check := make([]byte, len(data))
	ibs.ReadArray(check, uint(8*len(check)))

	for i := range data {
		if data[i] != check[i] {
			t.Fatalf("difference at index %v: %v != %v", i, data[i], check[i])
		}
	}
}

func TestWriteReadArrayNotAligned(t *testing.T) {
	bs := util.NewBufferStream(make([]byte, 0, 70000))
	obs, _ := NewWriter(bs, 1024)
	r := rand.New(rand.NewSource(9))
	data := make([]byte, 33333)

	for i := range data {
		data[i] = byte(r.Intn(256))
	}

	obs.WriteBits(5, 3)
	obs.WriteArray(data, uint(8*len(data)))
	obs.WriteBits(3, 2)
	obs.Close()

	ibs, _ := NewReader(bs, 1024)

	if v := ibs.ReadBits(3); v != 5 {
		t.Fatalf("expected 5, got %v", v)
	}

	check := make([]byte, len(data))
	ibs.ReadArray(check, uint(8*len(check)))

	for i := range data {
		if data[i] != check[i] {
			t.Fatalf("difference at index %v: %v != %v", i, data[i], check[i])
		}
	}

	if v := ibs.ReadBits(2); v != 3 {
		t.Fatalf("expected 3, got %v", v)
	}
}

func TestClosedStream(t *testing.T) {
	bs := util.NewBufferStream(make([]byte, 0, 1024))
	obs, _ := NewWriter(bs, 1024)
	obs.WriteBits(0x0F, 4)
	obs.Close()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected a panic when writing to a closed stream")
		}
	}()

	obs.WriteBits(1, 1)
}

func TestEndOfStream(t *testing.T) {
	bs := util.NewBufferStream(make([]byte, 0, 1024))
	obs, _ := NewWriter(bs, 1024)
	obs.WriteBits(0xFFFF, 16)
	obs.Close()

	ibs, _ := NewReader(bs, 1024)
	ibs.ReadBits(16)

	if more, _ := ibs.HasMoreToRead(); more == true {
		t.Fatal("expected the end of stream")
	}

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected a panic when reading past the end of stream")
		}
	}()

	ibs.ReadBits(8)
}
