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
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	bloq "github.com/bloqpack/bloq"
	"github.com/bloqpack/bloq/bitstream"
	"github.com/bloqpack/bloq/entropy"
	"github.com/bloqpack/bloq/transform"
	"github.com/bloqpack/bloq/util"
	"github.com/bloqpack/bloq/util/hash"
	perrors "github.com/pkg/errors"
)

// Write to/read from a stream using a 2 step process:
// Encoding:
// - step 1: a transform sequence reduces the size of the input data
//           (bytes input and output)
// - step 2: an entropy coder compresses the results of step 1
//           (bytes input, bits output)
// Decoding is the exact reverse process.
//
// Stream header (bit exact, 120 bits):
//   32  magic "KANZ"
//    3  version
//    1  has checksum
//    5  entropy codec id
//   48  transform ids (8 stages x 6 bits, stage 0 in the high bits)
//   26  block size in bytes
//    5  reserved (zero)
//
// Per block frame (byte aligned):
//    8  skip mask (0xFF = block stored raw, no entropy coding)
//   vb  transformed size (base 128 varint)
//   vb  coded size (bytes)
//  [32] XXHash32 of the raw bytes, if the stream carries checksums
//    *  coded payload
//
// There is no end of stream marker: every frame is byte aligned, so a
// clean end of stream when probing for the next frame terminates the
// decoding. A header-only stream decodes to empty output.

const (
	_STREAM_TYPE                = 0x4B414E5A // "KANZ"
	_STREAM_FORMAT_VERSION      = 1
	_STREAM_DEFAULT_BUFFER_SIZE = 256 * 1024
	_EXTRA_BUFFER_SIZE          = 256
	_COPY_BLOCK_MASK            = byte(0xFF)
	_MIN_BITSTREAM_BLOCK_SIZE   = 1024
	_MAX_BITSTREAM_BLOCK_SIZE   = (1 << 26) - 1
	_SMALL_BLOCK_SIZE           = 15
	_MAX_CONCURRENCY            = 64
	_CANCEL_TASKS_ID            = -1
)

// Error is an extended error carrying a message and one of the process
// status codes of the root package.
type Error struct {
	msg  string
	code int
}

// Error returns the formatted error message
func (this *Error) Error() string {
	return fmt.Sprintf("%v (code %v)", this.msg, this.code)
}

// Message returns the message associated with the error
func (this *Error) Message() string {
	return this.msg
}

// ErrorCode returns the code associated with the error
func (this *Error) ErrorCode() int {
	return this.code
}

type blockBuffer struct {
	// A slice enclosed in a struct so that the stream and the tasks can
	// share and re-allocate it without extra copies.
	Buf []byte
}

// Writer compresses data into an io.WriteCloser, block by block.
// Blocks are processed concurrently but always written in order.
type Writer struct {
	blockSize     uint
	hasher        *hash.XXHash32
	data          []byte
	buffers       []blockBuffer
	entropyType   uint32
	transformType uint64
	obs           bloq.OutputBitStream
	initialized   int32
	closed        int32
	blockID       int32
	curIdx        int
	jobs          int
	listeners     []bloq.Listener
	ctx           map[string]interface{}
}

type encodingTask struct {
	iBuffer            *blockBuffer
	oBuffer            *blockBuffer
	hasher             *hash.XXHash32
	blockLength        uint
	blockTransformType uint64
	blockEntropyType   uint32
	currentBlockID     int32
	processedBlockID   *int32
	wg                 *sync.WaitGroup
	listeners          []bloq.Listener
	obs                bloq.OutputBitStream
	err                *Error
	ctx                map[string]interface{}
}

// NewWriter creates a Writer using the provided entropy codec and
// transform names.
func NewWriter(os io.WriteCloser, codec, transformName string, blockSize, jobs uint, checksum bool) (*Writer, error) {
	ctx := make(map[string]interface{})
	ctx["codec"] = codec
	ctx["transform"] = transformName
	ctx["blockSize"] = blockSize
	ctx["jobs"] = jobs
	ctx["checksum"] = checksum
	return NewWriterWithCtx(os, ctx)
}

// NewWriterWithCtx creates a Writer using a map of parameters
func NewWriterWithCtx(os io.WriteCloser, ctx map[string]interface{}) (*Writer, error) {
	if os == nil {
		return nil, &Error{msg: "invalid null writer parameter", code: bloq.ERR_CREATE_STREAM}
	}

	if ctx == nil {
		return nil, &Error{msg: "invalid null context parameter", code: bloq.ERR_CREATE_STREAM}
	}

	entropyCodec := ctx["codec"].(string)
	transformName := ctx["transform"].(string)
	tasks := ctx["jobs"].(uint)

	if tasks == 0 || tasks > _MAX_CONCURRENCY {
		errMsg := fmt.Sprintf("the number of jobs must be in [1..%v]", _MAX_CONCURRENCY)
		return nil, &Error{msg: errMsg, code: bloq.ERR_CREATE_STREAM}
	}

	bSize := ctx["blockSize"].(uint)

	if bSize > _MAX_BITSTREAM_BLOCK_SIZE {
		errMsg := fmt.Sprintf("the block size must be at most %d", _MAX_BITSTREAM_BLOCK_SIZE)
		return nil, &Error{msg: errMsg, code: bloq.ERR_BLOCK_SIZE}
	}

	if bSize < _MIN_BITSTREAM_BLOCK_SIZE {
		errMsg := fmt.Sprintf("the block size must be at least %d", _MIN_BITSTREAM_BLOCK_SIZE)
		return nil, &Error{msg: errMsg, code: bloq.ERR_BLOCK_SIZE}
	}

	if uint64(bSize)*uint64(tasks) >= uint64(1<<31) {
		tasks = (1 << 31) / bSize
	}

	this := new(Writer)
	var err error

	if this.obs, err = bitstream.NewWriter(os, _STREAM_DEFAULT_BUFFER_SIZE); err != nil {
		return nil, &Error{msg: perrors.Wrap(err, "cannot create output bit stream").Error(), code: bloq.ERR_CREATE_BITSTREAM}
	}

	// Check the entropy type validity (panics on unknown name)
	this.entropyType = entropy.GetType(entropyCodec)

	// Check the transform type validity (panics on unknown name)
	this.transformType = transform.GetType(transformName)

	this.blockSize = bSize

	if checksum := ctx["checksum"].(bool); checksum == true {
		this.hasher, _ = hash.NewXXHash32(_STREAM_TYPE)
	}

	this.jobs = int(tasks)
	this.data = make([]byte, 0)
	this.buffers = make([]blockBuffer, 2*this.jobs)

	for i := range this.buffers {
		this.buffers[i] = blockBuffer{Buf: make([]byte, 0)}
	}

	this.blockID = 0
	this.listeners = make([]bloq.Listener, 0)
	this.ctx = ctx
	return this, nil
}

// AddListener registers an event listener. Returns true when added.
func (this *Writer) AddListener(bl bloq.Listener) bool {
	if bl == nil {
		return false
	}

	this.listeners = append(this.listeners, bl)
	return true
}

// RemoveListener unregisters an event listener. Returns true when removed.
func (this *Writer) RemoveListener(bl bloq.Listener) bool {
	for i, e := range this.listeners {
		if e == bl {
			this.listeners = append(this.listeners[:i], this.listeners[i+1:]...)
			return true
		}
	}

	return false
}

func (this *Writer) writeHeader() *Error {
	cksum := 0

	if this.hasher != nil {
		cksum = 1
	}

	if this.obs.WriteBits(_STREAM_TYPE, 32) != 32 {
		return &Error{msg: "cannot write bitstream type to header", code: bloq.ERR_WRITE_FILE}
	}

	if this.obs.WriteBits(_STREAM_FORMAT_VERSION, 3) != 3 {
		return &Error{msg: "cannot write bitstream version to header", code: bloq.ERR_WRITE_FILE}
	}

	if this.obs.WriteBits(uint64(cksum), 1) != 1 {
		return &Error{msg: "cannot write checksum flag to header", code: bloq.ERR_WRITE_FILE}
	}

	if this.obs.WriteBits(uint64(this.entropyType), 5) != 5 {
		return &Error{msg: "cannot write entropy type to header", code: bloq.ERR_WRITE_FILE}
	}

	if this.obs.WriteBits(this.transformType, 48) != 48 {
		return &Error{msg: "cannot write transform types to header", code: bloq.ERR_WRITE_FILE}
	}

	if this.obs.WriteBits(uint64(this.blockSize), 26) != 26 {
		return &Error{msg: "cannot write block size to header", code: bloq.ERR_WRITE_FILE}
	}

	if this.obs.WriteBits(0, 5) != 5 {
		return &Error{msg: "cannot write reserved bits to header", code: bloq.ERR_WRITE_FILE}
	}

	if len(this.listeners) > 0 {
		evt := bloq.NewEvent(bloq.EVT_COMPRESSION_START, -1, 0, 0, this.hasher != nil, time.Now())
		notifyListeners(this.listeners, evt)
	}

	return nil
}

// Write buffers len(block) bytes, triggering block encoding whenever a
// full batch of blocks is available. Returns the number of bytes consumed
// and the first error encountered.
func (this *Writer) Write(block []byte) (int, error) {
	if atomic.LoadInt32(&this.closed) == 1 {
		return 0, &Error{msg: "stream closed", code: bloq.ERR_WRITE_FILE}
	}

	startChunk := 0
	remaining := len(block)

	for remaining > 0 {
		lenChunk := len(block) - startChunk

		if lenChunk+this.curIdx >= len(this.data) {
			// Limit to the number of available bytes in the buffer
			lenChunk = len(this.data) - this.curIdx
		}

		if lenChunk > 0 {
			// Process a chunk of in-buffer data. No access to the
			// bitstream required.
			copy(this.data[this.curIdx:], block[startChunk:startChunk+lenChunk])
			this.curIdx += lenChunk
			startChunk += lenChunk
			remaining -= lenChunk

			if remaining == 0 {
				break
			}
		}

		if this.curIdx >= len(this.data) {
			// Buffer full, time to encode
			if err := this.processBlock(false); err != nil {
				return len(block) - remaining, err
			}
		}
	}

	return len(block) - remaining, nil
}

// Close flushes the buffered data and releases resources. The stream
// header is written even when no data was ever buffered, so an empty
// input yields a valid, header-only stream. Idempotent.
func (this *Writer) Close() error {
	if atomic.SwapInt32(&this.closed, 1) == 1 {
		return nil
	}

	if this.curIdx > 0 {
		if err := this.processBlock(true); err != nil {
			return err
		}

		this.curIdx = 0
	}

	if atomic.SwapInt32(&this.initialized, 1) == 0 {
		if err := this.writeHeader(); err != nil {
			return err
		}
	}

	if _, err := this.obs.Close(); err != nil {
		return &Error{msg: perrors.Wrap(err, "cannot close bitstream").Error(), code: bloq.ERR_WRITE_FILE}
	}

	if len(this.listeners) > 0 {
		evt := bloq.NewEvent(bloq.EVT_COMPRESSION_END, -1, int64(this.GetWritten()), 0, this.hasher != nil, time.Now())
		notifyListeners(this.listeners, evt)
	}

	// Release resources
	this.data = make([]byte, 0)

	for i := range this.buffers {
		this.buffers[i] = blockBuffer{Buf: make([]byte, 0)}
	}

	return nil
}

func (this *Writer) processBlock(force bool) error {
	if force == false {
		bufSize := this.jobs * int(this.blockSize)

		if len(this.data) < bufSize {
			extraBuf := make([]byte, bufSize-len(this.data))
			this.data = append(this.data, extraBuf...)
			return nil
		}
	}

	if this.curIdx == 0 {
		return nil
	}

	if atomic.SwapInt32(&this.initialized, 1) == 0 {
		if err := this.writeHeader(); err != nil {
			return err
		}
	}

	offset := 0

	// Protect against concurrent modification of the listener list
	listeners := make([]bloq.Listener, len(this.listeners))
	copy(listeners, this.listeners)

	tasks := make([]*encodingTask, 0, this.jobs)
	wg := sync.WaitGroup{}

	// One task per block, processed concurrently but emitted in order
	for taskID := 0; taskID < this.jobs; taskID++ {
		if this.curIdx == 0 {
			break
		}

		sz := this.curIdx

		if sz >= int(this.blockSize) {
			sz = int(this.blockSize)
		}

		// Add padding for incompressible data
		length := sz

		if length >= 1024<<6 {
			length += (length >> 6)
		} else {
			length += 1024
		}

		if len(this.buffers[2*taskID].Buf) < length {
			this.buffers[2*taskID].Buf = make([]byte, length)
		}

		copy(this.buffers[2*taskID].Buf, this.data[offset:offset+sz])
		copyCtx := make(map[string]interface{})

		for k, v := range this.ctx {
			copyCtx[k] = v
		}

		wg.Add(1)
		offset += sz
		this.curIdx -= sz

		task := &encodingTask{
			iBuffer:            &this.buffers[2*taskID],
			oBuffer:            &this.buffers[2*taskID+1],
			hasher:             this.hasher,
			blockLength:        uint(sz),
			blockTransformType: this.transformType,
			blockEntropyType:   this.entropyType,
			currentBlockID:     this.blockID + int32(taskID) + 1,
			processedBlockID:   &this.blockID,
			wg:                 &wg,
			obs:                this.obs,
			listeners:          listeners,
			ctx:                copyCtx}

		tasks = append(tasks, task)
		go task.encode()
	}

	// Wait for the completion of all tasks
	wg.Wait()

	// Report the first error in block order
	for _, t := range tasks {
		if t.err != nil {
			return t.err
		}
	}

	return nil
}

// GetWritten returns the number of bytes written so far
func (this *Writer) GetWritten() uint64 {
	return (this.obs.Written() + 7) >> 3
}

func (this *encodingTask) encode() {
	data := this.iBuffer.Buf
	checksum := uint32(0)
	rawBlock := false

	defer func() {
		if r := recover(); r != nil {
			if err, isErr := r.(error); isErr {
				this.err = &Error{msg: err.Error(), code: bloq.ERR_PROCESS_BLOCK}
			} else {
				this.err = &Error{msg: fmt.Sprintf("%v", r), code: bloq.ERR_PROCESS_BLOCK}
			}
		}

		// Unblock the other tasks
		if this.err != nil {
			atomic.StoreInt32(this.processedBlockID, _CANCEL_TASKS_ID)
		} else if atomic.LoadInt32(this.processedBlockID) == this.currentBlockID-1 {
			atomic.StoreInt32(this.processedBlockID, this.currentBlockID)
		}

		this.wg.Done()
	}()

	// Compute the block checksum
	if this.hasher != nil {
		checksum = this.hasher.Hash(data[0:this.blockLength])
	}

	if this.blockLength <= _SMALL_BLOCK_SIZE {
		// Not worth transforming or entropy coding
		rawBlock = true
	} else if skip, prst := this.ctx["skipBlocks"]; prst == true && skip.(bool) == true {
		histo := [256]int{}
		bloq.ComputeHistogram(data[0:this.blockLength], histo[:], true, false)
		entropy1024 := bloq.ComputeFirstOrderEntropy1024(int(this.blockLength), histo[:])

		if entropy1024 >= entropy.INCOMPRESSIBLE_THRESHOLD {
			// Likely incompressible data
			rawBlock = true
		}
	}

	skipFlags := _COPY_BLOCK_MASK
	postTransformLength := this.blockLength
	var payload []byte
	var raw []byte

	if rawBlock == false {
		// The sequence ping-pongs between the two task buffers, so the
		// raw bytes must be preserved for the stored block fallback
		raw = make([]byte, this.blockLength)
		copy(raw, data[0:this.blockLength])

		this.ctx["size"] = this.blockLength
		t, err := transform.New(&this.ctx, this.blockTransformType)

		if err != nil {
			this.err = &Error{msg: err.Error(), code: bloq.ERR_CREATE_CODEC}
			return
		}

		requiredSize := t.MaxEncodedLen(int(this.blockLength))

		if len(this.iBuffer.Buf) < requiredSize {
			extraBuf := make([]byte, requiredSize-len(this.iBuffer.Buf))
			data = append(data, extraBuf...)
			this.iBuffer.Buf = data
		}

		if len(this.oBuffer.Buf) < requiredSize {
			this.oBuffer.Buf = make([]byte, requiredSize)
		}

		buffer := this.oBuffer.Buf

		// Forward transform. Failure means every stage was skipped:
		// the block is then stored raw.
		if _, dstLen, err := t.Forward(data[0:this.blockLength], buffer); err == nil {
			postTransformLength = dstLen
			skipFlags = t.SkipFlags()
			this.ctx["size"] = postTransformLength

			// Entropy encode into a block local bitstream
			bufStream := util.NewBufferStream(make([]byte, 0, postTransformLength+_EXTRA_BUFFER_SIZE))
			obs, _ := bitstream.NewWriter(bufStream, 16384)
			ee, err := entropy.NewEntropyEncoder(obs, this.ctx, this.blockEntropyType)

			if err != nil {
				this.err = &Error{msg: err.Error(), code: bloq.ERR_CREATE_CODEC}
				return
			}

			if _, err = ee.Write(buffer[0:postTransformLength]); err != nil {
				this.err = &Error{msg: err.Error(), code: bloq.ERR_PROCESS_BLOCK}
				return
			}

			// Dispose may write to the bitstream
			ee.Dispose()
			obs.Close()
			payload = bufStream.Bytes()

			if uint(len(payload)) >= this.blockLength {
				// The coded block expands the data: store it raw instead
				payload = nil
			}
		}
	}

	if payload == nil {
		// Stored block: raw bytes, no entropy coding
		skipFlags = _COPY_BLOCK_MASK
		postTransformLength = this.blockLength

		if raw != nil {
			payload = raw
		} else {
			payload = data[0:this.blockLength]
		}
	}

	// Lock free synchronization: wait for the previous block frame
	for {
		taskID := atomic.LoadInt32(this.processedBlockID)

		if taskID == _CANCEL_TASKS_ID {
			return
		}

		if taskID == this.currentBlockID-1 {
			break
		}

		runtime.Gosched()
	}

	if len(this.listeners) > 0 {
		// Notify in block order
		evt := bloq.NewEvent(bloq.EVT_BEFORE_TRANSFORM, int(this.currentBlockID),
			int64(this.blockLength), checksum, this.hasher != nil, time.Now())
		notifyListeners(this.listeners, evt)
		evt = bloq.NewEvent(bloq.EVT_AFTER_TRANSFORM, int(this.currentBlockID),
			int64(postTransformLength), checksum, this.hasher != nil, time.Now())
		notifyListeners(this.listeners, evt)
		evt = bloq.NewEvent(bloq.EVT_BEFORE_ENTROPY, int(this.currentBlockID),
			int64(postTransformLength), checksum, this.hasher != nil, time.Now())
		notifyListeners(this.listeners, evt)
		evt = bloq.NewEvent(bloq.EVT_AFTER_ENTROPY, int(this.currentBlockID),
			int64(len(payload)), checksum, this.hasher != nil, time.Now())
		notifyListeners(this.listeners, evt)
	}

	// Emit the block frame to the shared bitstream
	this.obs.WriteBits(uint64(skipFlags), 8)
	entropy.WriteVarInt(this.obs, int(postTransformLength))
	entropy.WriteVarInt(this.obs, len(payload))

	if this.hasher != nil {
		this.obs.WriteBits(uint64(checksum), 32)
	}

	for n := 0; n < len(payload); {
		chkSize := len(payload) - n

		if chkSize > 1<<23 {
			chkSize = 1 << 23
		}

		this.obs.WriteArray(payload[n:], uint(8*chkSize))
		n += chkSize
	}
}

func notifyListeners(listeners []bloq.Listener, evt *bloq.Event) {
	defer func() {
		//lint:ignore SA9003 ignore panics in listeners
		if r := recover(); r != nil {
			// Ignore panics in block listeners
		}
	}()

	for _, bl := range listeners {
		bl.ProcessEvent(evt)
	}
}

type decodingTaskResult struct {
	err            *Error
	data           []byte
	decoded        int
	blockID        int
	checksum       uint32
	completionTime time.Time
}

// Reader decompresses data from an io.ReadCloser, block by block.
// Frames are read in order from the shared bitstream; block decoding
// itself runs concurrently.
type Reader struct {
	blockSize     uint
	hasher        *hash.XXHash32
	data          []byte
	buffers       []blockBuffer
	entropyType   uint32
	transformType uint64
	ibs           bloq.InputBitStream
	initialized   int32
	closed        int32
	blockID       int32
	maxIdx        int
	curIdx        int
	jobs          int
	listeners     []bloq.Listener
	ctx           map[string]interface{}
}

type decodingTask struct {
	iBuffer            *blockBuffer
	oBuffer            *blockBuffer
	hasher             *hash.XXHash32
	blockLength        uint
	blockTransformType uint64
	blockEntropyType   uint32
	currentBlockID     int32
	processedBlockID   *int32
	wg                 *sync.WaitGroup
	listeners          []bloq.Listener
	ibs                bloq.InputBitStream
	ctx                map[string]interface{}
}

// NewReader creates a Reader decoding from the provided stream with up to
// 'jobs' concurrent block decoders.
func NewReader(is io.ReadCloser, jobs uint) (*Reader, error) {
	ctx := make(map[string]interface{})
	ctx["jobs"] = jobs
	return NewReaderWithCtx(is, ctx)
}

// NewReaderWithCtx creates a Reader using a map of parameters
func NewReaderWithCtx(is io.ReadCloser, ctx map[string]interface{}) (*Reader, error) {
	if is == nil {
		return nil, &Error{msg: "invalid null reader parameter", code: bloq.ERR_CREATE_STREAM}
	}

	if ctx == nil {
		return nil, &Error{msg: "invalid null context parameter", code: bloq.ERR_CREATE_STREAM}
	}

	tasks := ctx["jobs"].(uint)

	if tasks == 0 || tasks > _MAX_CONCURRENCY {
		errMsg := fmt.Sprintf("the number of jobs must be in [1..%v]", _MAX_CONCURRENCY)
		return nil, &Error{msg: errMsg, code: bloq.ERR_CREATE_STREAM}
	}

	this := new(Reader)
	this.jobs = int(tasks)
	this.blockID = 0
	this.data = make([]byte, 0)
	this.buffers = make([]blockBuffer, 2*this.jobs)

	for i := range this.buffers {
		this.buffers[i] = blockBuffer{Buf: make([]byte, 0)}
	}

	var err error

	if this.ibs, err = bitstream.NewReader(is, _STREAM_DEFAULT_BUFFER_SIZE); err != nil {
		errMsg := perrors.Wrap(err, "cannot create input bit stream").Error()
		return nil, &Error{msg: errMsg, code: bloq.ERR_CREATE_BITSTREAM}
	}

	this.listeners = make([]bloq.Listener, 0)
	this.ctx = ctx
	this.entropyType = entropy.NONE_TYPE
	this.transformType = transform.NONE_TYPE
	return this, nil
}

// AddListener registers an event listener. Returns true when added.
func (this *Reader) AddListener(bl bloq.Listener) bool {
	if bl == nil {
		return false
	}

	this.listeners = append(this.listeners, bl)
	return true
}

// RemoveListener unregisters an event listener. Returns true when removed.
func (this *Reader) RemoveListener(bl bloq.Listener) bool {
	for i, e := range this.listeners {
		if e == bl {
			this.listeners = append(this.listeners[:i], this.listeners[i+1:]...)
			return true
		}
	}

	return false
}

func (this *Reader) readHeader() error {
	// Read the stream type
	fileType := this.ibs.ReadBits(32)

	if fileType != _STREAM_TYPE {
		return &Error{msg: "invalid stream type", code: bloq.ERR_INVALID_FILE}
	}

	version := this.ibs.ReadBits(3)

	if version != _STREAM_FORMAT_VERSION {
		errMsg := fmt.Sprintf("cannot read this version of the stream: %d", version)
		return &Error{msg: errMsg, code: bloq.ERR_STREAM_VERSION}
	}

	// Read the block checksum flag
	if this.ibs.ReadBit() == 1 {
		this.hasher, _ = hash.NewXXHash32(_STREAM_TYPE)
	}

	// Read the entropy codec id
	this.entropyType = uint32(this.ibs.ReadBits(5))
	this.ctx["codec"] = entropy.GetName(this.entropyType)

	// Read the transform ids: 8*6 bits
	this.transformType = this.ibs.ReadBits(48)

	if name, err := transform.GetName(this.transformType); err == nil {
		this.ctx["transform"] = name
	} else {
		return &Error{msg: "invalid transform ids in stream header", code: bloq.ERR_INVALID_FILE}
	}

	// Read the block size
	this.blockSize = uint(this.ibs.ReadBits(26))
	this.ctx["blockSize"] = this.blockSize

	if this.blockSize < _MIN_BITSTREAM_BLOCK_SIZE || this.blockSize > _MAX_BITSTREAM_BLOCK_SIZE {
		errMsg := fmt.Sprintf("invalid bitstream, incorrect block size: %d", this.blockSize)
		return &Error{msg: errMsg, code: bloq.ERR_BLOCK_SIZE}
	}

	if uint64(this.blockSize)*uint64(this.jobs) >= uint64(1<<31) {
		this.jobs = int(uint(1<<31) / this.blockSize)
	}

	// Read the reserved bits
	this.ibs.ReadBits(5)

	if len(this.listeners) > 0 {
		msg := fmt.Sprintf("checksum set to %v\n", this.hasher != nil)
		msg += fmt.Sprintf("block size set to %d bytes\n", this.blockSize)
		w1 := entropy.GetName(this.entropyType)
		msg += fmt.Sprintf("using %v entropy codec (stage 1)\n", w1)
		w2, _ := transform.GetName(this.transformType)
		msg += fmt.Sprintf("using %v transform (stage 2)\n", w2)
		evt := bloq.NewEventFromString(bloq.EVT_AFTER_HEADER_DECODING, -1, msg, time.Now())
		notifyListeners(this.listeners, evt)
	}

	return nil
}

// Close releases resources. Idempotent.
func (this *Reader) Close() error {
	if atomic.SwapInt32(&this.closed, 1) == 1 {
		return nil
	}

	if _, err := this.ibs.Close(); err != nil {
		return &Error{msg: perrors.Wrap(err, "cannot close bitstream").Error(), code: bloq.ERR_READ_FILE}
	}

	// Release resources
	this.maxIdx = 0
	this.data = make([]byte, 0)

	for i := range this.buffers {
		this.buffers[i] = blockBuffer{Buf: make([]byte, 0)}
	}

	return nil
}

// Read reads up to len(block) decompressed bytes into block.
// Returns the number of bytes read (0 at the end of stream) and any error.
func (this *Reader) Read(block []byte) (int, error) {
	if atomic.LoadInt32(&this.closed) == 1 {
		return 0, &Error{msg: "stream closed", code: bloq.ERR_READ_FILE}
	}

	startChunk := 0
	remaining := len(block)

	for remaining > 0 {
		lenChunk := len(block) - startChunk

		if lenChunk+this.curIdx >= this.maxIdx {
			// Limit to the number of available bytes in the buffer
			lenChunk = this.maxIdx - this.curIdx
		}

		if lenChunk > 0 {
			copy(block[startChunk:], this.data[this.curIdx:this.curIdx+lenChunk])
			this.curIdx += lenChunk
			startChunk += lenChunk
			remaining -= lenChunk

			if remaining == 0 {
				break
			}
		}

		// Buffer empty, time to decode
		if this.curIdx >= this.maxIdx {
			var err error

			if this.maxIdx, err = this.processBlock(); err != nil {
				return len(block) - remaining, err
			}

			if this.maxIdx == 0 {
				// Reached the end of stream
				if len(block) == remaining {
					// EOF and no byte read in this call
					return 0, nil
				}

				break
			}
		}
	}

	return len(block) - remaining, nil
}

func (this *Reader) processBlock() (int, error) {
	if atomic.SwapInt32(&this.initialized, 1) == 0 {
		if err := this.readHeader(); err != nil {
			return 0, err
		}
	}

	if atomic.LoadInt32(&this.blockID) == _CANCEL_TASKS_ID {
		return 0, nil
	}

	blkSize := int(this.blockSize)

	// Add a padding area for temporarily expanded blocks
	if _EXTRA_BUFFER_SIZE >= (blkSize >> 4) {
		blkSize += _EXTRA_BUFFER_SIZE
	} else {
		blkSize += (blkSize >> 4)
	}

	// Protect against concurrent modification of the listener list
	listeners := make([]bloq.Listener, len(this.listeners))
	copy(listeners, this.listeners)

	results := make([]decodingTaskResult, this.jobs)
	wg := sync.WaitGroup{}
	firstID := this.blockID

	for taskID := 0; taskID < this.jobs; taskID++ {
		if len(this.buffers[2*taskID].Buf) < blkSize+1024 {
			this.buffers[2*taskID].Buf = make([]byte, blkSize+1024)
		}

		copyCtx := make(map[string]interface{})

		for k, v := range this.ctx {
			copyCtx[k] = v
		}

		results[taskID] = decodingTaskResult{}
		wg.Add(1)

		task := &decodingTask{
			iBuffer:            &this.buffers[2*taskID],
			oBuffer:            &this.buffers[2*taskID+1],
			hasher:             this.hasher,
			blockLength:        uint(blkSize),
			blockTransformType: this.transformType,
			blockEntropyType:   this.entropyType,
			currentBlockID:     firstID + int32(taskID) + 1,
			processedBlockID:   &this.blockID,
			wg:                 &wg,
			listeners:          listeners,
			ibs:                this.ibs,
			ctx:                copyCtx}

		go task.decode(&results[taskID])
	}

	// Wait for the completion of all tasks
	wg.Wait()
	decoded := 0

	// Process the results in block order
	for _, r := range results {
		decoded += r.decoded

		if r.err != nil {
			return 0, r.err
		}
	}

	if decoded > this.jobs*int(this.blockSize) {
		return 0, &Error{msg: "invalid data", code: bloq.ERR_PROCESS_BLOCK}
	}

	if len(this.data) < decoded {
		extraBuf := make([]byte, decoded-len(this.data))
		this.data = append(this.data, extraBuf...)
	}

	offset := 0

	for _, r := range results {
		if r.decoded == 0 {
			break
		}

		copy(this.data[offset:], r.data[0:r.decoded])
		offset += r.decoded

		if len(listeners) > 0 {
			// Notify after transform, in block order
			evt := bloq.NewEvent(bloq.EVT_AFTER_TRANSFORM, r.blockID,
				int64(r.decoded), r.checksum, this.hasher != nil, r.completionTime)
			notifyListeners(listeners, evt)
		}
	}

	this.curIdx = 0
	return decoded, nil
}

// GetRead returns the number of bytes read so far
func (this *Reader) GetRead() uint64 {
	return (this.ibs.Read() + 7) >> 3
}

func (this *decodingTask) decode(res *decodingTaskResult) {
	data := this.iBuffer.Buf
	buffer := this.oBuffer.Buf
	decoded := 0
	checksum1 := uint32(0)

	defer func() {
		res.data = this.iBuffer.Buf
		res.decoded = decoded
		res.blockID = int(this.currentBlockID)
		res.completionTime = time.Now()
		res.checksum = checksum1

		if r := recover(); r != nil {
			if err, isErr := r.(error); isErr {
				res.err = &Error{msg: err.Error(), code: bloq.ERR_PROCESS_BLOCK}
			} else {
				res.err = &Error{msg: fmt.Sprintf("%v", r), code: bloq.ERR_PROCESS_BLOCK}
			}

			res.decoded = 0
		}

		// Unblock the other tasks
		if res.err != nil || res.decoded == 0 {
			atomic.StoreInt32(this.processedBlockID, _CANCEL_TASKS_ID)
		} else if atomic.LoadInt32(this.processedBlockID) == this.currentBlockID-1 {
			atomic.StoreInt32(this.processedBlockID, this.currentBlockID)
		}

		this.wg.Done()
	}()

	// Lock free synchronization: wait for the frame of the previous block
	// to be read from the shared bitstream
	for {
		taskID := atomic.LoadInt32(this.processedBlockID)

		if taskID == _CANCEL_TASKS_ID {
			return
		}

		if taskID == this.currentBlockID-1 {
			break
		}

		runtime.Gosched()
	}

	// End of stream: every frame is byte aligned, so a clean end of
	// stream shows up when probing for the next frame.
	if more, _ := this.ibs.HasMoreToRead(); more == false {
		return
	}

	// Read the frame from the shared bitstream
	skipFlags := byte(this.ibs.ReadBits(8))
	preTransformLength := entropy.ReadVarInt(this.ibs)
	payloadLength := entropy.ReadVarInt(this.ibs)

	if preTransformLength == 0 || preTransformLength > _MAX_BITSTREAM_BLOCK_SIZE {
		res.err = &Error{msg: fmt.Sprintf("invalid transformed block length: %d", preTransformLength), code: bloq.ERR_BLOCK_SIZE}
		return
	}

	if payloadLength <= 0 || payloadLength > _MAX_BITSTREAM_BLOCK_SIZE+_EXTRA_BUFFER_SIZE {
		res.err = &Error{msg: fmt.Sprintf("invalid coded block length: %d", payloadLength), code: bloq.ERR_BLOCK_SIZE}
		return
	}

	// Extract the checksum from the bitstream (if any)
	if this.hasher != nil {
		checksum1 = uint32(this.ibs.ReadBits(32))
	}

	maxL := payloadLength

	if int(this.blockLength) > maxL {
		maxL = int(this.blockLength)
	}

	if preTransformLength+_EXTRA_BUFFER_SIZE > maxL {
		maxL = preTransformLength + _EXTRA_BUFFER_SIZE
	}

	if len(data) < maxL {
		data = make([]byte, maxL)
		this.iBuffer.Buf = data
	}

	for n := 0; n < payloadLength; {
		chkSize := payloadLength - n

		if chkSize > 1<<23 {
			chkSize = 1 << 23
		}

		this.ibs.ReadArray(data[n:], uint(8*chkSize))
		n += chkSize
	}

	// The frame is fully read: unblock the task processing the next block
	atomic.StoreInt32(this.processedBlockID, this.currentBlockID)

	// All the code below runs concurrently
	if skipFlags == _COPY_BLOCK_MASK && payloadLength == preTransformLength {
		// Stored block: the payload is the raw data
		decoded = preTransformLength

		if this.hasher != nil {
			checksum2 := this.hasher.Hash(data[0:decoded])

			if checksum2 != checksum1 {
				errMsg := fmt.Sprintf("corrupted bitstream: expected checksum %x, found %x", checksum1, checksum2)
				res.err = &Error{msg: errMsg, code: bloq.ERR_CRC_CHECK}
				decoded = 0
			}
		}

		return
	}

	bufferSize := int(this.blockLength)

	if bufferSize < preTransformLength+_EXTRA_BUFFER_SIZE {
		bufferSize = preTransformLength + _EXTRA_BUFFER_SIZE
	}

	if len(buffer) < bufferSize {
		buffer = make([]byte, bufferSize)
		this.oBuffer.Buf = buffer
	}

	this.ctx["size"] = uint(preTransformLength)

	// Decode the payload with a block local bitstream. The entropy
	// decoder is rebuilt for each block (stateless per block).
	bufStream := util.NewBufferStream(data[0:payloadLength])
	ibs, _ := bitstream.NewReader(bufStream, 16384)
	ed, err := entropy.NewEntropyDecoder(ibs, this.ctx, this.blockEntropyType)

	if err != nil {
		res.err = &Error{msg: err.Error(), code: bloq.ERR_INVALID_CODEC}
		return
	}

	defer ed.Dispose()

	if _, err = ed.Read(buffer[0:preTransformLength]); err != nil {
		res.err = &Error{msg: err.Error(), code: bloq.ERR_PROCESS_BLOCK}
		return
	}

	// Inverse the transform sequence using the skip mask
	t, err := transform.New(&this.ctx, this.blockTransformType)

	if err != nil {
		res.err = &Error{msg: err.Error(), code: bloq.ERR_INVALID_CODEC}
		return
	}

	t.SetSkipFlags(skipFlags)
	var oIdx uint

	if _, oIdx, err = t.Inverse(buffer[0:preTransformLength], data); err != nil {
		res.err = &Error{msg: err.Error(), code: bloq.ERR_PROCESS_BLOCK}
		return
	}

	decoded = int(oIdx)

	// Verify the checksum
	if this.hasher != nil {
		checksum2 := this.hasher.Hash(data[0:decoded])

		if checksum2 != checksum1 {
			errMsg := fmt.Sprintf("corrupted bitstream: expected checksum %x, found %x", checksum1, checksum2)
			res.err = &Error{msg: errMsg, code: bloq.ERR_CRC_CHECK}
			decoded = 0
			return
		}
	}
}
