package notehasher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeccakComputeIsDeterministic(t *testing.T) {
	var contract, slot [32]byte
	contract[0] = 1
	slot[0] = 2
	note := []byte("a note")

	h := Keccak{}
	hash1, nullifier1, err := h.Compute(contract, slot, note)
	assert.NoError(t, err)

	hash2, nullifier2, err := h.Compute(contract, slot, note)
	assert.NoError(t, err)

	assert.Equal(t, *hash1, *hash2)
	assert.Equal(t, *nullifier1, *nullifier2)
	assert.NotEqual(t, *hash1, *nullifier1)
}

func TestKeccakComputeDiffersByNote(t *testing.T) {
	var contract, slot [32]byte
	h := Keccak{}

	hash1, _, _ := h.Compute(contract, slot, []byte("one"))
	hash2, _, _ := h.Compute(contract, slot, []byte("two"))

	assert.NotEqual(t, *hash1, *hash2)
}
