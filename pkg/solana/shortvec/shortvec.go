// Package shortvec implements the compact-u16 length prefix used throughout
// the transaction wire format.
package shortvec

import (
	"io"
	"math"

	"github.com/pkg/errors"
)

const maxEncodedBytes = 3

// EncodeLen writes length as a compact-u16 into w. Lengths above
// math.MaxUint16 are rejected.
func EncodeLen(w io.Writer, length int) (int, error) {
	if length < 0 || length > math.MaxUint16 {
		return 0, errors.Errorf("len %d outside [0, %d]", length, math.MaxUint16)
	}

	encoded := make([]byte, 0, maxEncodedBytes)
	for {
		b := byte(length & 0x7f)
		length >>= 7
		if length == 0 {
			encoded = append(encoded, b)
			break
		}
		encoded = append(encoded, b|0x80)
	}

	return w.Write(encoded)
}

// DecodeLen reads a compact-u16 length from r.
func DecodeLen(r io.Reader) (int, error) {
	var val int
	one := make([]byte, 1)

	for i := 0; ; i++ {
		if i == maxEncodedBytes {
			return 0, errors.Errorf("invalid size: more than %d bytes", maxEncodedBytes)
		}

		if _, err := io.ReadFull(r, one); err != nil {
			return 0, err
		}

		val |= int(one[0]&0x7f) << (i * 7)
		if one[0]&0x80 == 0 {
			return val, nil
		}
	}
}
