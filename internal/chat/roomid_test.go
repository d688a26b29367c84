package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeRoomID(t *testing.T) {
	tcases := []struct {
		name     string
		uidA     string
		uidB     string
		expected string
		err      error
	}{
		{
			name:     "lower id first",
			uidA:     "alice",
			uidB:     "bob",
			expected: "alice_bob",
		},
		{
			name:     "order independent",
			uidA:     "bob",
			uidB:     "alice",
			expected: "alice_bob",
		},
		{
			name:     "self chat",
			uidA:     "alice",
			uidB:     "alice",
			expected: "alice_alice",
		},
		{
			name: "empty first id",
			uidA: "",
			uidB: "bob",
			err:  ErrInvalidIdentifier,
		},
		{
			name: "empty second id",
			uidA: "alice",
			uidB: "",
			err:  ErrInvalidIdentifier,
		},
		{
			name: "separator in id",
			uidA: "ali_ce",
			uidB: "bob",
			err:  ErrInvalidIdentifier,
		},
		{
			name: "whitespace padded id",
			uidA: " alice",
			uidB: "bob",
			err:  ErrInvalidIdentifier,
		},
		{
			name: "path separator in id",
			uidA: "ali/ce",
			uidB: "bob",
			err:  ErrInvalidIdentifier,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			roomId, err := ComputeRoomID(tc.uidA, tc.uidB)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err, "expected error for %q/%q", tc.uidA, tc.uidB)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, tc.expected, roomId, "expected canonical room id")
		})
	}
}

func TestComputeRoomID_commutative(t *testing.T) {
	pairs := [][2]string{
		{"u1", "u2"},
		{"zed", "amy"},
		{"6jjGidArdGUbzQCpCLLY", "A8x0NN6BCvhQFZx1xmFj"},
	}

	for _, pair := range pairs {
		ab, err := ComputeRoomID(pair[0], pair[1])
		assert.NoError(t, err)
		ba, err := ComputeRoomID(pair[1], pair[0])
		assert.NoError(t, err)
		assert.Equalf(t, ab, ba, "expected ComputeRoomID(%q, %q) to be commutative", pair[0], pair[1])

		again, err := ComputeRoomID(pair[0], pair[1])
		assert.NoError(t, err)
		assert.Equal(t, ab, again, "expected repeated calls to be stable")
	}
}
