package query

import (
	"encoding/binary"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

// Cursor is a record id encoded big endian.
type Cursor []byte

func ToCursor(id uint64) Cursor {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

func (c Cursor) ToUint64() uint64 {
	return binary.BigEndian.Uint64(c)
}

func (c Cursor) String() string {
	return base58.Encode(c)
}

// ParseCursor decodes a cursor rendered by String.
func ParseCursor(s string) (Cursor, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return nil, errors.Wrap(err, "invalid cursor")
	}
	if len(b) != 8 {
		return nil, errors.Errorf("invalid cursor length: %d", len(b))
	}
	return b, nil
}
