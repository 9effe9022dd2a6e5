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

package hash

import (
	"testing"
)

func TestXXHash32Empty(t *testing.T) {
	// Reference value from the xxHash test suite
	h, _ := NewXXHash32(0)

	if res := h.Hash([]byte{}); res != 0x02CC5D05 {
		t.Fatalf("incorrect hash of empty input: %x", res)
	}
}

func TestXXHash32Sensitivity(t *testing.T) {
	h, _ := NewXXHash32(0x4B414E5A)
	data := make([]byte, 1000)

	for i := range data {
		data[i] = byte(i)
	}

	h1 := h.Hash(data)
	data[500] ^= 0x01
	h2 := h.Hash(data)

	if h1 == h2 {
		t.Fatal("expected different hashes after a bit flip")
	}

	data[500] ^= 0x01

	if h.Hash(data) != h1 {
		t.Fatal("expected a deterministic hash")
	}
}
