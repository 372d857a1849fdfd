// Package notehasher provides a default, replaceable implementation of
// domain.NoteHasher. spec.md §9 places computeNoteHashAndNullifier's real
// per-contract dispatch out of scope; production deployments inject their
// own domain.NoteHasher at NoteProcessor construction. This one exists so
// the synchronizer has something concrete to run against in tests and
// fixtures, grounded on the Keccak256 helper the pack's Ethereum-adjacent
// repos (hermez-node, ava-labs-avalanchego) pull from go-ethereum/crypto.
package notehasher

import (
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/l2privacy/client-sync/src/domain"
)

// Keccak hashes contractAddress ‖ storageSlot ‖ note to derive a note hash,
// and contractAddress ‖ noteHash to derive its siloed nullifier.
type Keccak struct{}

var _ domain.NoteHasher = Keccak{}

func (Keccak) Compute(contractAddress [32]byte, storageSlot [32]byte, note []byte) (*[32]byte, *[32]byte, error) {
	buf := make([]byte, 0, 64+len(note))
	buf = append(buf, contractAddress[:]...)
	buf = append(buf, storageSlot[:]...)
	buf = append(buf, note...)

	var noteHash [32]byte
	copy(noteHash[:], crypto.Keccak256(buf))

	nullifierInput := make([]byte, 0, 64)
	nullifierInput = append(nullifierInput, contractAddress[:]...)
	nullifierInput = append(nullifierInput, noteHash[:]...)

	var nullifier [32]byte
	copy(nullifier[:], crypto.Keccak256(nullifierInput))

	return &noteHash, &nullifier, nil
}
