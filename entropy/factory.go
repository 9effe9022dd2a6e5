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
	"fmt"
	"strings"

	bloq "github.com/bloqpack/bloq"
)

// Bidirectional mapping between entropy codec names, 5 bit ids and
// constructors.
const (
	NONE_TYPE    = uint32(0) // no compression
	HUFFMAN_TYPE = uint32(1) // Huffman
	FPAQ_TYPE    = uint32(2) // fast PAQ (order 0)
	RANGE_TYPE   = uint32(4) // range
	ANS0_TYPE    = uint32(5) // asymmetric numeral system, order 0
	CM_TYPE      = uint32(6) // context model
	TPAQ_TYPE    = uint32(7) // tangelo PAQ
	ANS1_TYPE    = uint32(8) // asymmetric numeral system, order 1
	TPAQX_TYPE   = uint32(9) // tangelo PAQ extra
)

// NewEntropyDecoder creates an entropy decoder of the given type over the
// provided bitstream.
func NewEntropyDecoder(ibs bloq.InputBitStream, ctx map[string]interface{},
	entropyType uint32) (bloq.EntropyDecoder, error) {
	switch entropyType {

	case HUFFMAN_TYPE:
		return NewHuffmanDecoder(ibs)

	case ANS0_TYPE:
		return NewANSRangeDecoder(ibs, 0)

	case ANS1_TYPE:
		return NewANSRangeDecoder(ibs, 1)

	case RANGE_TYPE:
		return NewRangeDecoder(ibs)

	case FPAQ_TYPE:
		predictor, _ := NewFPAQPredictor()
		return NewBinaryEntropyDecoder(ibs, predictor)

	case CM_TYPE:
		predictor, _ := NewCMPredictor()
		return NewBinaryEntropyDecoder(ibs, predictor)

	case TPAQ_TYPE, TPAQX_TYPE:
		predictor, err := NewTPAQPredictor(&ctx)

		if err != nil {
			return nil, err
		}

		return NewBinaryEntropyDecoder(ibs, predictor)

	case NONE_TYPE:
		return NewNullEntropyDecoder(ibs)

	default:
		return nil, fmt.Errorf("unsupported entropy codec type: '%d'", entropyType)
	}
}

// NewEntropyEncoder creates an entropy encoder of the given type over the
// provided bitstream.
func NewEntropyEncoder(obs bloq.OutputBitStream, ctx map[string]interface{},
	entropyType uint32) (bloq.EntropyEncoder, error) {
	switch entropyType {

	case HUFFMAN_TYPE:
		return NewHuffmanEncoder(obs)

	case ANS0_TYPE:
		return NewANSRangeEncoder(obs, 0)

	case ANS1_TYPE:
		return NewANSRangeEncoder(obs, 1)

	case RANGE_TYPE:
		return NewRangeEncoder(obs)

	case FPAQ_TYPE:
		predictor, _ := NewFPAQPredictor()
		return NewBinaryEntropyEncoder(obs, predictor)

	case CM_TYPE:
		predictor, _ := NewCMPredictor()
		return NewBinaryEntropyEncoder(obs, predictor)

	case TPAQ_TYPE, TPAQX_TYPE:
		predictor, err := NewTPAQPredictor(&ctx)

		if err != nil {
			return nil, err
		}

		return NewBinaryEntropyEncoder(obs, predictor)

	case NONE_TYPE:
		return NewNullEntropyEncoder(obs)

	default:
		return nil, fmt.Errorf("unsupported entropy codec type: '%d'", entropyType)
	}
}

// GetName returns the name of the entropy codec given its type
func GetName(entropyType uint32) string {
	switch entropyType {

	case HUFFMAN_TYPE:
		return "HUFFMAN"

	case ANS0_TYPE:
		return "ANS0"

	case ANS1_TYPE:
		return "ANS1"

	case RANGE_TYPE:
		return "RANGE"

	case FPAQ_TYPE:
		return "FPAQ"

	case CM_TYPE:
		return "CM"

	case TPAQ_TYPE:
		return "TPAQ"

	case TPAQX_TYPE:
		return "TPAQX"

	case NONE_TYPE:
		return "NONE"

	default:
		panic(fmt.Errorf("unsupported entropy codec type: '%d'", entropyType))
	}
}

// GetType returns the type of the entropy codec given its name
func GetType(entropyName string) uint32 {
	switch strings.ToUpper(entropyName) {

	case "HUFFMAN":
		return HUFFMAN_TYPE

	case "ANS", "ANS0":
		return ANS0_TYPE

	case "ANS1":
		return ANS1_TYPE

	case "RANGE":
		return RANGE_TYPE

	case "FPAQ":
		return FPAQ_TYPE

	case "CM":
		return CM_TYPE

	case "TPAQ":
		return TPAQ_TYPE

	case "TPAQX":
		return TPAQX_TYPE

	case "NONE":
		return NONE_TYPE

	default:
		panic(fmt.Errorf("unsupported entropy codec type: '%s'", entropyName))
	}
}
