// Package payload implements the typed-value codec used to carry
// PubSub values over a Transport message: a small tagged union of
// null, u32, string, JSON, and raw binary, each with a fixed
// byte encoding. Grounded on pyembc/stream/transport.py's
// PayloadType/payload_encode/payload_decode from original_source/.
package payload

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"embedlink/ecode"
)

// DType tags the wire encoding of a value.
type DType uint8

const (
	Null DType = 0
	U32  DType = 1
	Str  DType = 4
	JSON DType = 5
	Bin  DType = 6
)

func (d DType) String() string {
	switch d {
	case Null:
		return "NULL"
	case U32:
		return "U32"
	case Str:
		return "STR"
	case JSON:
		return "JSON"
	case Bin:
		return "BIN"
	default:
		return fmt.Sprintf("DType(%d)", uint8(d))
	}
}

// Encode picks a DType for v and renders it to bytes:
//   - nil                -> Null, one zero byte
//   - uint32 (or int in [0, 1<<32)) -> U32, 4 bytes little-endian
//   - string             -> Str, UTF-8 bytes + NUL
//   - []byte             -> Bin, raw bytes
//   - anything else      -> JSON, UTF-8 JSON text + NUL
func Encode(v any) (DType, []byte, error) {
	switch x := v.(type) {
	case nil:
		return Null, []byte{0}, nil
	case uint32:
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, x)
		return U32, buf, nil
	case int:
		if x < 0 || x >= (1<<32) {
			return 0, nil, ecode.New(ecode.ParameterInvalid, "int %d does not fit in u32", x)
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(x))
		return U32, buf, nil
	case string:
		b := append([]byte(x), 0)
		return Str, b, nil
	case []byte:
		return Bin, append([]byte(nil), x...), nil
	default:
		j, err := json.Marshal(x)
		if err != nil {
			return 0, nil, fmt.Errorf("payload: marshal json: %w", err)
		}
		return JSON, append(j, 0), nil
	}
}

// Decode renders the wire bytes for dtype back into a Go value. It
// never returns an error for a malformed payload: per the reserved
// PubSub-over-Transport semantics, a bad decode yields a nil/zero
// value and the caller is expected to drop the publish, not fail.
func Decode(dtype DType, data []byte) (any, bool) {
	switch dtype {
	case Null:
		return nil, true
	case U32:
		if len(data) != 4 {
			return nil, false
		}
		return binary.LittleEndian.Uint32(data), true
	case Str:
		return decodeCString(data)
	case JSON:
		s, ok := decodeCString(data)
		if !ok {
			return nil, false
		}
		str, _ := s.(string)
		if str == "" {
			return nil, true
		}
		var v any
		if err := json.Unmarshal([]byte(str), &v); err != nil {
			return nil, false
		}
		return v, true
	case Bin:
		return append([]byte(nil), data...), true
	default:
		return nil, false
	}
}

// decodeCString strips a single trailing NUL and validates UTF-8, the
// same tolerant-to-empty behaviour as the original's _to_str: a
// zero/one-byte payload decodes to the empty string rather than an error.
func decodeCString(data []byte) (any, bool) {
	if len(data) <= 1 {
		return "", true
	}
	b := data[:len(data)-1]
	if !utf8.Valid(b) {
		return nil, false
	}
	return string(b), true
}
