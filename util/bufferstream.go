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

package util

import (
	"errors"
	"io"
)

// BufferStream is a closable read/write stream backed by a byte slice.
// It lets the block tasks run a private bitstream over in-memory data.
// Reads consume from the front of the written data.
type BufferStream struct {
	buf    []byte
	off    int
	closed bool
}

// NewBufferStream creates a BufferStream. The provided slice (possibly
// empty, with spare capacity) becomes the initial content.
func NewBufferStream(buf []byte) *BufferStream {
	return &BufferStream{buf: buf}
}

// Write appends the provided bytes to the stream.
func (this *BufferStream) Write(b []byte) (int, error) {
	if this.closed == true {
		return 0, errors.New("stream closed")
	}

	this.buf = append(this.buf, b...)
	return len(b), nil
}

// Read copies pending bytes into b. Returns io.EOF when drained.
func (this *BufferStream) Read(b []byte) (int, error) {
	if this.closed == true {
		return 0, errors.New("stream closed")
	}

	if this.off >= len(this.buf) {
		return 0, io.EOF
	}

	n := copy(b, this.buf[this.off:])
	this.off += n
	return n, nil
}

// Close prevents further reads and writes. Idempotent.
func (this *BufferStream) Close() error {
	this.closed = true
	return nil
}

// Len returns the number of bytes written and not yet consumed.
func (this *BufferStream) Len() int {
	return len(this.buf) - this.off
}

// Bytes returns the written data.
func (this *BufferStream) Bytes() []byte {
	return this.buf
}
