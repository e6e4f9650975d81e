package solana

import (
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateProgramAddress(t *testing.T) {
	exceededSeed := make([]byte, maxSeedLength+1)
	maxSeed := make([]byte, maxSeedLength)

	// Vectors are from the runtime's own test suite, typo included.
	publicKey, err := base58.Decode("SeedPubey1111111111111111111111111111111111")
	require.NoError(t, err)
	programID, err := base58.Decode("BPFLoader1111111111111111111111111111111111")
	require.NoError(t, err)

	_, err = CreateProgramAddress(programID, exceededSeed)
	assert.Equal(t, ErrMaxSeedLengthExceeded, err)
	_, err = CreateProgramAddress(programID, []byte("short seed"), exceededSeed)
	assert.Equal(t, ErrMaxSeedLengthExceeded, err)

	_, err = CreateProgramAddress(programID, maxSeed)
	assert.NoError(t, err)

	for _, tc := range []struct {
		expected string
		input    [][]byte
	}{
		{
			expected: "3gF2KMe9KiC6FNVBmfg9i267aMPvK37FewCip4eGBFcT",
			input:    [][]byte{{}, {1}},
		},
		{
			expected: "7ytmC1nT1xY4RfxCV2ZgyA7UakC93do5ZdyhdF3EtPj7",
			input:    [][]byte{[]byte("☉")},
		},
		{
			expected: "HwRVBufQ4haG5XSgpspwKtNd3PC9GM9m1196uJW36vds",
			input:    [][]byte{[]byte("Talking"), []byte("Squirrels")},
		},
		{
			expected: "GUs5qLUfsEHkcMB9T38vjr18ypEhRuNWiePW2LoK4E3K",
			input:    [][]byte{publicKey},
		},
	} {
		key, err := CreateProgramAddress(programID, tc.input...)
		require.NoError(t, err)
		assert.Equal(t, tc.expected, base58.Encode(key))
	}

	a, err := CreateProgramAddress(programID, []byte("Talking"))
	require.NoError(t, err)
	b, err := CreateProgramAddress(programID, []byte("Talking"), []byte("Squirrels"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCreateProgramAddress_TooManySeeds(t *testing.T) {
	seeds := make([][]byte, maxSeeds+1)
	_, err := CreateProgramAddress(make([]byte, 32), seeds...)
	assert.Equal(t, ErrTooManySeeds, err)
}

func TestFindProgramAddress(t *testing.T) {
	programID, err := base58.Decode("BPFLoader1111111111111111111111111111111111")
	require.NoError(t, err)

	for i := 0; i < 256; i++ {
		seed := []byte{byte(i)}

		address, bump, err := FindProgramAddressAndBump(programID, []byte("pool"), seed)
		require.NoError(t, err)
		assert.NotZero(t, bump)

		expected, err := CreateProgramAddress(programID, []byte("pool"), seed, []byte{bump})
		require.NoError(t, err)
		assert.EqualValues(t, expected, address)

		// Every higher bump must have landed on the curve.
		for higher := int(bump) + 1; higher <= 255; higher++ {
			_, err := CreateProgramAddress(programID, []byte("pool"), seed, []byte{byte(higher)})
			assert.Equal(t, ErrInvalidPublicKey, err)
		}

		again, err := FindProgramAddress(programID, []byte("pool"), seed)
		require.NoError(t, err)
		assert.EqualValues(t, address, again)
	}
}

func TestFindProgramAddress_DistinctSeeds(t *testing.T) {
	programID := make([]byte, 32)
	programID[0] = 7

	seen := make(map[string]struct{})
	for _, tag := range []string{"deposit", "withdraw", "reserve", "temp"} {
		address, err := FindProgramAddress(programID, []byte("pool"), []byte(tag))
		require.NoError(t, err)

		_, ok := seen[string(address)]
		require.False(t, ok)
		seen[string(address)] = struct{}{}
	}
}

func TestFindProgramAddress_SeedErrors(t *testing.T) {
	_, _, err := FindProgramAddressAndBump(make([]byte, 32), make([]byte, maxSeedLength+1))
	assert.Equal(t, ErrMaxSeedLengthExceeded, err)

	// The bump itself occupies a seed slot.
	_, _, err = FindProgramAddressAndBump(make([]byte, 32), make([][]byte, maxSeeds)...)
	assert.Equal(t, ErrTooManySeeds, err)
}
