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
	"fmt"
	"strings"

	bloq "github.com/bloqpack/bloq"
)

const (
	_ONE_SHIFT = 6                  // bits per transform id
	_MAX_SHIFT = (8 - 1) * _ONE_SHIFT // 8 transforms
	_MASK      = (1 << _ONE_SHIFT) - 1

	// Up to 64 transforms can be declared (6 bit id)
	NONE_TYPE   = uint64(0)  // copy
	BWT_TYPE    = uint64(1)  // Burrows Wheeler
	BWTS_TYPE   = uint64(2)  // Burrows Wheeler Scott (bijective)
	LZ4_TYPE    = uint64(3)  // LZ4
	SNAPPY_TYPE = uint64(4)  // Snappy
	RLT_TYPE    = uint64(5)  // run length
	ZRLT_TYPE   = uint64(6)  // zero run length
	MTFT_TYPE   = uint64(7)  // move to front
	RANK_TYPE   = uint64(8)  // rank
	X86_TYPE    = uint64(9)  // X86 call/jump rewrite
	DICT_TYPE   = uint64(10) // text codec
	ROLZ_TYPE   = uint64(11) // reduced offset LZ
)

// New creates a Sequence instantiating the stages packed in the provided
// 48 bit transform id (eight 6 bit stage ids, stage 0 in the high bits).
func New(ctx *map[string]interface{}, transformType uint64) (*Sequence, error) {
	nbtr := 0

	for s := _MAX_SHIFT; s >= 0; s -= _ONE_SHIFT {
		if (transformType>>uint(s))&_MASK != NONE_TYPE {
			nbtr++
		}
	}

	// Only null transforms ? Keep one.
	if nbtr == 0 {
		nbtr = 1
	}

	transforms := make([]bloq.ByteTransform, nbtr)
	nbtr = 0
	var err error

	for i := 0; i < 8 && nbtr < len(transforms); i++ {
		t := (transformType >> (_MAX_SHIFT - _ONE_SHIFT*uint(i))) & _MASK

		if t != NONE_TYPE || i == 0 {
			if transforms[nbtr], err = newToken(ctx, t); err != nil {
				return nil, err
			}

			nbtr++
		}
	}

	return NewSequence(transforms)
}

func newToken(ctx *map[string]interface{}, transformType uint64) (bloq.ByteTransform, error) {
	switch transformType {

	case DICT_TYPE:
		return NewTextCodecWithCtx(ctx)

	case ROLZ_TYPE:
		return NewROLZCodec(_ROLZ_LOG_POS_CHECKS)

	case BWT_TYPE:
		return NewBWTBlockCodecWithCtx(ctx)

	case BWTS_TYPE:
		return NewBWTS()

	case LZ4_TYPE:
		return NewLZ4Codec()

	case SNAPPY_TYPE:
		return NewSnappyCodec()

	case RANK_TYPE:
		return NewSBRT(SBRT_MODE_RANK)

	case MTFT_TYPE:
		return NewMTFT()

	case ZRLT_TYPE:
		return NewZRLT()

	case RLT_TYPE:
		return NewRLT(3)

	case X86_TYPE:
		return NewX86Codec()

	case NONE_TYPE:
		return NewNullTransform()

	default:
		return nil, fmt.Errorf("unknown transform type: '%v'", transformType)
	}
}

// GetName returns the '+' separated names of the stages packed in the
// transform id.
func GetName(transformType uint64) (string, error) {
	var s string

	for i := uint(0); i < 8; i++ {
		t := (transformType >> (_MAX_SHIFT - _ONE_SHIFT*i)) & _MASK

		if t == NONE_TYPE {
			continue
		}

		name, err := getNameToken(t)

		if err != nil {
			return "", err
		}

		if len(s) != 0 {
			s += "+"
		}

		s += name
	}

	if len(s) == 0 {
		name, err := getNameToken(NONE_TYPE)

		if err != nil {
			return "", err
		}

		s += name
	}

	return s, nil
}

func getNameToken(transformType uint64) (string, error) {
	switch transformType {

	case DICT_TYPE:
		return "TEXT", nil

	case ROLZ_TYPE:
		return "ROLZ", nil

	case BWT_TYPE:
		return "BWT", nil

	case BWTS_TYPE:
		return "BWTS", nil

	case LZ4_TYPE:
		return "LZ4", nil

	case SNAPPY_TYPE:
		return "SNAPPY", nil

	case RANK_TYPE:
		return "RANK", nil

	case MTFT_TYPE:
		return "MTFT", nil

	case ZRLT_TYPE:
		return "ZRLT", nil

	case RLT_TYPE:
		return "RLT", nil

	case X86_TYPE:
		return "X86", nil

	case NONE_TYPE:
		return "NONE", nil

	default:
		return "", fmt.Errorf("unknown transform type: '%v'", transformType)
	}
}

// GetType returns the packed transform id for a '+' separated list of
// stage names. Null stages are filtered out (except a lone NONE).
func GetType(name string) uint64 {
	if strings.IndexByte(name, byte('+')) < 0 {
		return getTypeToken(name) << _MAX_SHIFT
	}

	tokens := strings.Split(name, "+")

	if len(tokens) == 0 {
		panic(fmt.Errorf("unknown transform type: '%v'", name))
	}

	if len(tokens) > 8 {
		panic(fmt.Errorf("only 8 transforms allowed: '%v'", name))
	}

	res := uint64(0)
	shift := _MAX_SHIFT

	for _, token := range tokens {
		tkType := getTypeToken(token)

		// Skip null transforms
		if tkType != NONE_TYPE {
			res |= (tkType << uint(shift))
			shift -= _ONE_SHIFT
		}
	}

	return res
}

func getTypeToken(name string) uint64 {
	switch strings.ToUpper(name) {

	case "TEXT":
		return DICT_TYPE

	case "BWT":
		return BWT_TYPE

	case "BWTS":
		return BWTS_TYPE

	case "ROLZ":
		return ROLZ_TYPE

	case "LZ4":
		return LZ4_TYPE

	case "SNAPPY":
		return SNAPPY_TYPE

	case "RANK":
		return RANK_TYPE

	case "MTFT":
		return MTFT_TYPE

	case "ZRLT":
		return ZRLT_TYPE

	case "RLT":
		return RLT_TYPE

	case "X86":
		return X86_TYPE

	case "NONE":
		return NONE_TYPE

	default:
		panic(fmt.Errorf("unknown transform type: '%v'", name))
	}
}
