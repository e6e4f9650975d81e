package pointer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIfValid(t *testing.T) {
	assert.Nil(t, IfValid(false, uint32(5)))
	assert.EqualValues(t, 5, *IfValid(true, uint32(5)))
	assert.Equal(t, "x", *IfValid(true, "x"))
}

func TestOrDefault(t *testing.T) {
	assert.Equal(t, "fallback", OrDefault(nil, "fallback"))
	assert.Equal(t, "x", OrDefault(To("x"), "fallback"))
}

func TestCopy(t *testing.T) {
	assert.Nil(t, Copy[time.Time](nil))

	original := To(uint32(7))
	copied := Copy(original)
	*original = 8
	assert.EqualValues(t, 7, *copied)

	now := time.Now()
	assert.Equal(t, now, *Copy(&now))
}
