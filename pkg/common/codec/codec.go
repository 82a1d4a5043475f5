/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package codec encodes scalar values as tagged, self-describing byte strings and derives stable
// attribute encodings from them.
package codec

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
)

// Kind is the type discriminant of an encoded value.
type Kind uint8

// Supported kinds.
const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindString
	KindBytes
)

var kindNames = map[Kind]string{
	KindNull:   "null",
	KindBool:   "bool",
	KindInt:    "int",
	KindUint:   "uint",
	KindFloat:  "float",
	KindString: "string",
	KindBytes:  "bytes",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}

	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// fixed payload widths; zero means variable.
var payloadSize = map[Kind]int{
	KindNull:  0,
	KindBool:  1,
	KindInt:   8,
	KindUint:  8,
	KindFloat: 8,
}

// Value is a decoded value: its kind and the payload bytes. It serializes as the CBOR array
// [kind, payload].
type Value struct {
	_       struct{} `cbor:",toarray"`
	Kind    Kind
	Payload []byte
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
}

// ValueOf converts a Go scalar to a Value. Signed integers of every width share KindInt and unsigned ones
// KindUint, so the encoding does not depend on the declared width.
func ValueOf(v interface{}) (Value, error) { //nolint:gocyclo
	switch t := v.(type) {
	case nil:
		return Value{Kind: KindNull}, nil
	case bool:
		if t {
			return Value{Kind: KindBool, Payload: []byte{1}}, nil
		}

		return Value{Kind: KindBool, Payload: []byte{0}}, nil
	case int:
		return intValue(int64(t)), nil
	case int8:
		return intValue(int64(t)), nil
	case int16:
		return intValue(int64(t)), nil
	case int32:
		return intValue(int64(t)), nil
	case int64:
		return intValue(t), nil
	case uint:
		return uintValue(uint64(t)), nil
	case uint8:
		return uintValue(uint64(t)), nil
	case uint16:
		return uintValue(uint64(t)), nil
	case uint32:
		return uintValue(uint64(t)), nil
	case uint64:
		return uintValue(t), nil
	case float32:
		return floatValue(float64(t)), nil
	case float64:
		return floatValue(t), nil
	case string:
		return Value{Kind: KindString, Payload: []byte(t)}, nil
	case []byte:
		return Value{Kind: KindBytes, Payload: append([]byte{}, t...)}, nil
	default:
		return Value{}, errs.New(errs.ErrValidation, "codec: unsupported type %T", v)
	}
}

func intValue(i int64) Value {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(i))

	return Value{Kind: KindInt, Payload: b}
}

func uintValue(u uint64) Value {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, u)

	return Value{Kind: KindUint, Payload: b}
}

func floatValue(f float64) Value {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, math.Float64bits(f))

	return Value{Kind: KindFloat, Payload: b}
}

// Interface returns the Go value: nil, bool, int64, uint64, float64, string or []byte.
func (v Value) Interface() (interface{}, error) {
	if err := v.validate(); err != nil {
		return nil, err
	}

	switch v.Kind {
	case KindNull:
		return nil, nil
	case KindBool:
		return v.Payload[0] == 1, nil
	case KindInt:
		return int64(binary.BigEndian.Uint64(v.Payload)), nil
	case KindUint:
		return binary.BigEndian.Uint64(v.Payload), nil
	case KindFloat:
		return math.Float64frombits(binary.BigEndian.Uint64(v.Payload)), nil
	case KindString:
		return string(v.Payload), nil
	default:
		return append([]byte{}, v.Payload...), nil
	}
}

func (v Value) validate() error {
	if _, ok := kindNames[v.Kind]; !ok {
		return errs.New(errs.ErrPayloadStructure, "codec: unknown %s", v.Kind)
	}

	if size, fixed := payloadSize[v.Kind]; fixed && len(v.Payload) != size {
		return errs.New(errs.ErrPayloadStructure, "codec: %s payload has %d bytes, expected %d",
			v.Kind, len(v.Payload), size)
	}

	if v.Kind == KindBool && v.Payload[0] > 1 {
		return errs.New(errs.ErrPayloadStructure, "codec: invalid bool payload %#x", v.Payload[0])
	}

	if v.Kind == KindString && !utf8.Valid(v.Payload) {
		return errs.New(errs.ErrPayloadStructure, "codec: string payload is not valid utf-8")
	}

	return nil
}

// Encode returns the canonical tagged encoding of v.
func Encode(v interface{}) ([]byte, error) {
	val, err := ValueOf(v)
	if err != nil {
		return nil, err
	}

	return encodeValue(val)
}

func encodeValue(val Value) ([]byte, error) {
	if val.Payload == nil {
		val.Payload = []byte{}
	}

	b, err := encMode.Marshal(val)
	if err != nil {
		return nil, errs.Wrap(errs.ErrPayloadStructure, err, "codec: encode")
	}

	return b, nil
}

// Decode parses a tagged encoding. Trailing bytes, unknown kinds and payloads of the wrong size fail with
// errs.ErrPayloadStructure.
func Decode(data []byte) (Value, error) {
	var val Value

	if err := decMode.Unmarshal(data, &val); err != nil {
		return Value{}, errs.Wrap(errs.ErrPayloadStructure, err, "codec: decode")
	}

	if err := val.validate(); err != nil {
		return Value{}, err
	}

	return val, nil
}

// EncodeAttribute renders v as a decimal string suited to equality matching. Integers that fit in 32 signed
// bits render as themselves. Everything else renders as the decimal value of the SHA-256 digest of its
// tagged encoding, so values of different kinds never collide: true, "1" and 1 all differ.
func EncodeAttribute(v interface{}) (string, error) {
	val, err := ValueOf(v)
	if err != nil {
		return "", err
	}

	if i, ok := int32Of(val); ok {
		return strconv.FormatInt(int64(i), 10), nil
	}

	b, err := encodeValue(val)
	if err != nil {
		return "", err
	}

	digest := sha256.Sum256(b)

	return new(big.Int).SetBytes(digest[:]).String(), nil
}

func int32Of(val Value) (int32, bool) {
	switch val.Kind {
	case KindInt:
		i := int64(binary.BigEndian.Uint64(val.Payload))
		if i >= math.MinInt32 && i <= math.MaxInt32 {
			return int32(i), true
		}
	case KindUint:
		u := binary.BigEndian.Uint64(val.Payload)
		if u <= math.MaxInt32 {
			return int32(u), true
		}
	}

	return 0, false
}

// MustEncodeAttribute is EncodeAttribute for values known to be supported.
func MustEncodeAttribute(v interface{}) string {
	s, err := EncodeAttribute(v)
	if err != nil {
		panic(fmt.Sprintf("codec: %v", err))
	}

	return s
}
