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

// TPAQPredictor is a context mixing bit predictor derived from a heavily
// modified version of Tangelo 2.4 (itself derived from PAQ8 by Matt
// Mahoney). Seven context models (hashed into bit history state maps) and
// a match model feed an 8 input neural mixer, optionally refined by SSE
// stages.

const (
	_TPAQ_MAX_LENGTH       = 88
	_TPAQ_MASK_80808080    = int32(-2139062144) // 0x80808080
	_TPAQ_MASK_F0F0F0F0    = int32(-252645136)  // 0xF0F0F0F0
	_TPAQ_MASK_4F4FFFFF    = int32(1330642943)  // 0x4F4FFFFF
	_TPAQ_HASH             = int32(0x7FEB352D)
	_TPAQ_BEGIN_LEARN_RATE = 60 << 7
	_TPAQ_END_LEARN_RATE   = 11 << 7
)

// Bit history states within a context. State 0 is the initial state,
// states 1-30 cover all sequences of 1-4 bits, higher states approximate
// (n0, n1) counter pairs, aging the counter of the opposite bit.
var _TPAQ_STATE_TRANSITIONS = [2][256]uint8{
	// Bit 0
	{
		1, 3, 143, 4, 5, 6, 7, 8, 9, 10,
		11, 12, 13, 14, 15, 16, 17, 18, 19, 20,
		21, 22, 23, 24, 25, 26, 27, 28, 29, 30,
		31, 32, 33, 34, 35, 36, 37, 38, 39, 40,
		41, 42, 43, 44, 45, 46, 47, 48, 49, 50,
		51, 52, 47, 54, 55, 56, 57, 58, 59, 60,
		61, 62, 63, 64, 65, 66, 67, 68, 69, 6,
		71, 71, 71, 61, 75, 56, 77, 78, 77, 80,
		81, 82, 83, 84, 85, 86, 87, 88, 77, 90,
		91, 92, 80, 94, 95, 96, 97, 98, 99, 90,
		101, 94, 103, 101, 102, 104, 107, 104, 105, 108,
		111, 112, 113, 114, 115, 116, 92, 118, 94, 103,
		119, 122, 123, 94, 113, 126, 113, 128, 129, 114,
		131, 132, 112, 134, 111, 134, 110, 134, 134, 128,
		128, 142, 143, 115, 113, 142, 128, 148, 149, 79,
		148, 142, 148, 150, 155, 149, 157, 149, 159, 149,
		131, 101, 98, 115, 114, 91, 79, 58, 1, 170,
		129, 128, 110, 174, 128, 176, 129, 174, 179, 174,
		176, 141, 157, 179, 185, 157, 187, 188, 168, 151,
		191, 192, 188, 187, 172, 175, 170, 152, 185, 170,
		176, 170, 203, 148, 185, 203, 185, 192, 209, 188,
		211, 192, 213, 214, 188, 216, 168, 84, 54, 54,
		221, 54, 55, 85, 69, 63, 56, 86, 58, 230,
		231, 57, 229, 56, 224, 54, 54, 66, 58, 54,
		61, 57, 222, 78, 85, 82, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0,
	},
	// Bit 1
	{
		2, 163, 169, 163, 165, 89, 245, 217, 245, 245,
		233, 244, 227, 74, 221, 221, 218, 226, 243, 218,
		238, 242, 74, 238, 241, 240, 239, 224, 225, 221,
		232, 72, 224, 228, 223, 225, 238, 73, 167, 76,
		237, 234, 231, 72, 31, 63, 225, 237, 236, 235,
		53, 234, 53, 234, 229, 219, 229, 233, 232, 228,
		226, 72, 74, 222, 75, 220, 167, 57, 218, 70,
		168, 72, 73, 74, 217, 76, 167, 79, 79, 166,
		162, 162, 162, 162, 165, 89, 89, 165, 89, 162,
		93, 93, 93, 161, 100, 93, 93, 93, 93, 93,
		161, 102, 120, 104, 105, 106, 108, 106, 109, 110,
		160, 134, 108, 108, 126, 117, 117, 121, 119, 120,
		107, 124, 117, 117, 125, 127, 124, 139, 130, 124,
		133, 109, 110, 135, 110, 136, 137, 138, 127, 140,
		141, 145, 144, 124, 125, 146, 147, 151, 125, 150,
		127, 152, 153, 154, 156, 139, 158, 139, 156, 139,
		130, 117, 163, 164, 141, 163, 147, 2, 2, 199,
		171, 172, 173, 177, 175, 171, 171, 178, 180, 172,
		181, 182, 183, 184, 186, 178, 189, 181, 181, 190,
		193, 182, 182, 194, 195, 196, 197, 198, 169, 200,
		201, 202, 204, 180, 205, 206, 207, 208, 210, 194,
		212, 184, 215, 193, 184, 208, 193, 163, 219, 168,
		94, 217, 223, 224, 225, 76, 227, 217, 229, 219,
		79, 86, 165, 217, 214, 225, 216, 216, 234, 75,
		214, 237, 74, 74, 163, 217, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0,
	},
}

var _TPAQ_STATE_MAP = [256]int32{
	-31, -400, 406, -547, -642, -743, -827, -901,
	-901, -974, -945, -955, -1060, -1031, -1044, -956,
	-994, -1035, -1147, -1069, -1111, -1145, -1096, -1084,
	-1171, -1199, -1062, -1498, -1199, -1199, -1328, -1405,
	-1275, -1248, -1167, -1448, -1441, -1199, -1357, -1160,
	-1437, -1428, -1238, -1343, -1526, -1331, -1443, -2047,
	-2047, -2044, -2047, -2047, -2047, -232, -414, -573,
	-517, -768, -627, -666, -644, -740, -721, -829,
	-770, -963, -863, -1099, -811, -830, -277, -1036,
	-286, -218, -42, -411, 141, -1014, -1028, -226,
	-469, -540, -573, -581, -594, -610, -628, -711,
	-670, -144, -408, -485, -464, -173, -221, -310,
	-335, -375, -324, -413, -99, -179, -105, -150,
	-63, -9, 56, 83, 119, 144, 198, 118,
	-42, -96, -188, -285, -376, 107, -138, 38,
	-82, 186, -114, -190, 200, 327, 65, 406,
	108, -95, 308, 171, -18, 343, 135, 398,
	415, 464, 514, 494, 508, 519, 92, -123,
	343, 575, 585, 516, -7, -156, 209, 574,
	613, 621, 670, 107, 989, 210, 961, 246,
	254, -12, -108, 97, 281, -143, 41, 173,
	-209, 583, -55, 250, 354, 558, 43, 274,
	14, 488, 545, 84, 528, 519, 587, 634,
	663, 95, 700, 94, -184, 730, 742, 162,
	-10, 708, 692, 773, 707, 855, 811, 703,
	790, 871, 806, 9, 867, 840, 990, 1023,
	1409, 194, 1397, 183, 1462, 178, -23, 1403,
	247, 172, 1, -32, -170, 72, -508, -46,
	-365, -26, -146, 101, -18, -163, -422, -461,
	-146, -69, -78, -319, -334, -232, -99, 0,
	47, -74, 0, -452, 14, -57, 1, 1,
	1, 1, 1, 1, 1, 1, 1, 1,
}

func hashTPAQ(x, y int32) int32 {
	h := x*_TPAQ_HASH ^ y*_TPAQ_HASH
	return h>>1 ^ h>>9 ^ x>>2 ^ y>>3 ^ _TPAQ_HASH
}

func createContext(ctxID, cx int32) int32 {
	cx = cx*987654323 + ctxID
	cx = (cx << 16) | int32(uint32(cx)>>16)
	return cx*123456791 + ctxID
}

// TPAQPredictor predicts the next bit with a mix of context models.
type TPAQPredictor struct {
	pr              int   // next predicted value (0-4095)
	c0              int32 // bitwise context: last 0-7 bits with a leading 1
	c4              int32 // last 4 whole bytes
	c8              int32 // previous 4 whole bytes
	bpos            uint  // number of bits in c0
	pos             int32
	binCount        int32
	matchLen        int32
	matchPos        int32
	hash            int32
	statesMask      int32
	mixersMask      int32
	hashMask        int32
	bufferMask      int32
	sse0            *LogisticAdaptiveProbMap
	sse1            *LogisticAdaptiveProbMap
	mixers          []tpaqMixer
	mixer           *tpaqMixer
	buffer          []int8
	hashes          []int32 // hash table (context -> buffer position)
	bigStatesMap    []uint8
	smallStatesMap0 []uint8
	smallStatesMap1 []uint8
	idx0            int32 // state map indexes
	idx1            int32
	idx2            int32
	idx3            int32
	idx4            int32
	idx5            int32
	idx6            int32
	ctx0            int32 // contexts
	ctx1            int32
	ctx2            int32
	ctx3            int32
	ctx4            int32
	ctx5            int32
	ctx6            int32
	extra           bool
}

// NewTPAQPredictor creates a new instance of TPAQPredictor, sizing its
// tables from the block size found in the context map (if any).
func NewTPAQPredictor(ctx *map[string]interface{}) (*TPAQPredictor, error) {
	this := new(TPAQPredictor)
	statesSize := 1 << 24
	mixersSize := 1 << 12
	hashSize := 1 << 20
	bufferSize := 1 << 22
	this.extra = false
	extraMem := uint(0)

	if ctx != nil {
		if val, containsKey := (*ctx)["codec"]; containsKey {
			this.extra = val.(string) == "TPAQX"
		}

		if this.extra == true {
			extraMem = 1
		}

		// Requested block size drives the history and states budget
		if val, containsKey := (*ctx)["blockSize"]; containsKey {
			rbsz := val.(uint)

			if rbsz >= 32*1024*1024 {
				statesSize = 1 << 27
				bufferSize = 1 << 26
				hashSize = 1 << 24
			} else if rbsz >= 4*1024*1024 {
				statesSize = 1 << 26
				bufferSize = 1 << 24
				hashSize = 1 << 22
			} else if rbsz >= 1024*1024 {
				statesSize = 1 << 25
				bufferSize = 1 << 22
			} else {
				statesSize = 1 << 23
				bufferSize = 1 << 19
				hashSize = 1 << 18
			}
		}

		// Actual size of the current block.
		// Too many mixers hurts compression for small blocks.
		if val, containsKey := (*ctx)["size"]; containsKey {
			absz := val.(uint)

			if absz >= 16*1024*1024 {
				mixersSize = 1 << 16
			} else if absz >= 8*1024*1024 {
				mixersSize = 1 << 14
			} else if absz >= 4*1024*1024 {
				mixersSize = 1 << 12
			} else if absz >= 1024*1024 {
				mixersSize = 1 << 10
			} else {
				mixersSize = 1 << 9
			}
		}
	}

	mixersSize <<= extraMem
	statesSize <<= extraMem
	hashSize <<= (2 * extraMem)

	this.mixers = make([]tpaqMixer, mixersSize)

	for i := range this.mixers {
		this.mixers[i].init()
	}

	this.mixer = &this.mixers[0]
	this.pr = 2048
	this.c0 = 1
	this.bigStatesMap = make([]uint8, statesSize)
	this.smallStatesMap0 = make([]uint8, 1<<16)
	this.smallStatesMap1 = make([]uint8, 1<<24)
	this.hashes = make([]int32, hashSize)
	this.buffer = make([]int8, bufferSize)
	this.statesMask = int32(statesSize - 1)
	this.mixersMask = int32(mixersSize - 1)
	this.hashMask = int32(hashSize - 1)
	this.bufferMask = int32(bufferSize - 1)

	var err error

	if this.extra == true {
		this.sse0, err = NewLogisticAdaptiveProbMap(256, 7)

		if err == nil {
			this.sse1, err = NewLogisticAdaptiveProbMap(65536, 7)
		}
	}

	return this, err
}

// Update adjusts the model with the observed bit.
func (this *TPAQPredictor) Update(bit byte) {
	y := int(bit)
	this.mixer.update(y)
	this.bpos++
	this.c0 = (this.c0 << 1) | int32(bit)

	if this.c0 > 255 {
		this.buffer[this.pos&this.bufferMask] = int8(this.c0)
		this.pos++
		this.c8 = (this.c8 << 8) | ((this.c4 >> 24) & 0xFF)
		this.c4 = (this.c4 << 8) | (this.c0 & 0xFF)
		this.hash = (((this.hash * _TPAQ_HASH) << 4) + this.c4) & this.hashMask
		this.c0 = 1
		this.bpos = 0
		this.binCount += ((this.c4 >> 7) & 1)

		// Select the neural net
		this.mixer = &this.mixers[this.c4&this.mixersMask]

		// Derive the model contexts from the byte history
		this.ctx0 = (this.c4 & 0xFF) << 8
		this.ctx1 = (this.c4 & 0xFFFF) << 8
		this.ctx2 = createContext(2, this.c4&0x00FFFFFF)
		this.ctx3 = createContext(3, this.c4)

		if this.binCount < this.pos>>2 {
			// Mostly text or mixed
			var h1, h2 int32

			if this.c4&_TPAQ_MASK_80808080 == 0 {
				h1 = this.c4 & _TPAQ_MASK_4F4FFFFF
			} else {
				h1 = this.c4 & _TPAQ_MASK_80808080
			}

			if this.c8&_TPAQ_MASK_80808080 == 0 {
				h2 = this.c8 & _TPAQ_MASK_4F4FFFFF
			} else {
				h2 = this.c8 & _TPAQ_MASK_80808080
			}

			this.ctx4 = createContext(this.c4&0xFFFF, this.c4^(this.c8&0xFFFF))
			this.ctx5 = hashTPAQ(h1, h2)
			this.ctx6 = hashTPAQ(this.c8&_TPAQ_MASK_F0F0F0F0, this.c4&_TPAQ_MASK_F0F0F0F0)
		} else {
			// Mostly binary
			this.ctx4 = createContext(_TPAQ_HASH, this.c4^(this.c4&0x000FFFFF))
			this.ctx5 = hashTPAQ(this.ctx1, this.c8>>16)
			this.ctx6 = this.ctx0 | (this.c8 << 16)
		}

		this.findMatch()

		// Keep track of the current position
		this.hashes[this.hash] = this.pos
	}

	// Update the bit history states and fetch the next predictions
	c := this.c0
	table := &_TPAQ_STATE_TRANSITIONS[bit]
	this.smallStatesMap0[this.idx0] = table[this.smallStatesMap0[this.idx0]]
	this.idx0 = this.ctx0 + c
	p0 := _TPAQ_STATE_MAP[this.smallStatesMap0[this.idx0]]
	this.smallStatesMap1[this.idx1] = table[this.smallStatesMap1[this.idx1]]
	this.idx1 = this.ctx1 + c
	p1 := _TPAQ_STATE_MAP[this.smallStatesMap1[this.idx1]]
	this.bigStatesMap[this.idx2] = table[this.bigStatesMap[this.idx2]]
	this.idx2 = (this.ctx2 + c) & this.statesMask
	p2 := _TPAQ_STATE_MAP[this.bigStatesMap[this.idx2]]
	this.bigStatesMap[this.idx3] = table[this.bigStatesMap[this.idx3]]
	this.idx3 = (this.ctx3 + c) & this.statesMask
	p3 := _TPAQ_STATE_MAP[this.bigStatesMap[this.idx3]]
	this.bigStatesMap[this.idx4] = table[this.bigStatesMap[this.idx4]]
	this.idx4 = (this.ctx4 + c) & this.statesMask
	p4 := _TPAQ_STATE_MAP[this.bigStatesMap[this.idx4]]
	this.bigStatesMap[this.idx5] = table[this.bigStatesMap[this.idx5]]
	this.idx5 = (this.ctx5 + c) & this.statesMask
	p5 := _TPAQ_STATE_MAP[this.bigStatesMap[this.idx5]]
	this.bigStatesMap[this.idx6] = table[this.bigStatesMap[this.idx6]]
	this.idx6 = (this.ctx6 + c) & this.statesMask
	p6 := _TPAQ_STATE_MAP[this.bigStatesMap[this.idx6]]

	p7 := this.getMatchContextPred()

	// Mix predictions using the neural net
	p := this.mixer.get(p0, p1, p2, p3, p4, p5, p6, p7)

	// SSE (Secondary Symbol Estimation)
	if this.extra == true {
		if this.binCount < (this.pos >> 3) {
			p = this.sse1.Get(y, p, int(this.ctx0+c))
		} else {
			if this.binCount >= (this.pos >> 2) {
				p = this.sse0.Get(y, p, int(this.c0))
			}

			p = (3*this.sse1.Get(y, p, int(this.ctx0+c)) + p + 2) >> 2
		}
	}

	this.pr = p + int((uint32(p)-2048)>>31)
}

// Get returns the probability of 1 in the [0..4095] range.
func (this *TPAQPredictor) Get() int {
	return this.pr
}

func (this *TPAQPredictor) findMatch() {
	// Update the ongoing sequence match or detect a new match (LZ like)
	if this.matchLen > 0 {
		if this.matchLen < _TPAQ_MAX_LENGTH {
			this.matchLen++
		}

		this.matchPos++
	} else {
		// Retrieve the match position
		this.matchPos = this.hashes[this.hash]

		// Detect a match
		if this.matchPos != 0 && this.pos-this.matchPos <= this.bufferMask {
			r := this.matchLen + 1

			for r <= _TPAQ_MAX_LENGTH && this.buffer[(this.pos-r)&this.bufferMask] == this.buffer[(this.matchPos-r)&this.bufferMask] {
				r++
			}

			this.matchLen = r - 1
		}
	}
}

// getMatchContextPred returns the match model prediction in [-2048..2048]
func (this *TPAQPredictor) getMatchContextPred() int32 {
	p := int32(0)

	if this.matchLen > 0 {
		if this.c0 == ((int32(this.buffer[this.matchPos&this.bufferMask])&0xFF)|256)>>(8-this.bpos) {
			// Compute the mixer input from the run length
			if this.matchLen <= 24 {
				p = this.matchLen
			} else {
				p = (24 + ((this.matchLen - 24) >> 3))
			}

			if ((this.buffer[this.matchPos&this.bufferMask] >> (7 - this.bpos)) & 1) == 0 {
				p = -p
			}

			p <<= 6
		} else {
			this.matchLen = 0
		}
	}

	return p
}

// tpaqMixer combines the model outputs with a single layer neural net.
type tpaqMixer struct {
	pr                             int // squashed prediction
	skew                           int32
	w0, w1, w2, w3, w4, w5, w6, w7 int32
	p0, p1, p2, p3, p4, p5, p6, p7 int32
	learnRate                      int32
}

func (this *tpaqMixer) init() {
	this.pr = 2048
	this.skew = 0
	this.w0 = 32768
	this.w1 = 32768
	this.w2 = 32768
	this.w3 = 32768
	this.w4 = 32768
	this.w5 = 32768
	this.w6 = 32768
	this.w7 = 32768
	this.learnRate = _TPAQ_BEGIN_LEARN_RATE
}

// Adjust the weights to minimize the coding cost of the last prediction
func (this *tpaqMixer) update(bit int) {
	err := (int32((bit<<12)-this.pr) * this.learnRate) >> 10

	if err == 0 {
		return
	}

	// Quickly decaying learn rate
	this.learnRate += ((_TPAQ_END_LEARN_RATE - this.learnRate) >> 31)
	this.skew += err

	this.w0 += ((this.p0 * err) >> 12)
	this.w1 += ((this.p1 * err) >> 12)
	this.w2 += ((this.p2 * err) >> 12)
	this.w3 += ((this.p3 * err) >> 12)
	this.w4 += ((this.p4 * err) >> 12)
	this.w5 += ((this.p5 * err) >> 12)
	this.w6 += ((this.p6 * err) >> 12)
	this.w7 += ((this.p7 * err) >> 12)
}

func (this *tpaqMixer) get(p0, p1, p2, p3, p4, p5, p6, p7 int32) int {
	this.p0 = p0
	this.p1 = p1
	this.p2 = p2
	this.p3 = p3
	this.p4 = p4
	this.p5 = p5
	this.p6 = p6
	this.p7 = p7

	// Neural net dot product (sum of weights*inputs)
	this.pr = bloq.Squash(int((this.w0*p0 + this.w1*p1 + this.w2*p2 + this.w3*p3 +
		this.w4*p4 + this.w5*p5 + this.w6*p6 + this.w7*p7 +
		this.skew + 65536) >> 17))

	return this.pr
}
