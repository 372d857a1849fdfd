// Package domain holds the data model and external-collaborator contracts
// the synchronizer is built against: block headers, notes, deferred notes,
// per-account sync status, and the Database/NodeClient/NoteHasher facades.
package domain

import "time"

// BlockHeader mirrors the tree roots the node commits to for a given block.
// Downstream simulation/query components read this to build a consistent view.
type BlockHeader struct {
	BlockNumber uint64

	NoteHashTreeRoot   [32]byte
	NullifierTreeRoot  [32]byte
	ContractTreeRoot   [32]byte
	L1ToL2TreeRoot     [32]byte
	ArchiveTreeRoot    [32]byte
	PublicDataTreeRoot [32]byte

	GlobalVariablesHash [32]byte
}

// EncryptedLog is a single encrypted payload attached to a transaction,
// positioned by its coordinates within the block.
type EncryptedLog struct {
	TxIndex        int
	LogIndexInTx   int
	Data           []byte
}

// EncryptedLogBundle is the flat list of encrypted logs for every
// transaction in one block, as returned by NodeClient.GetLogs.
type EncryptedLogBundle struct {
	BlockNumber uint64
	Logs        []EncryptedLog
}

// Transaction is the on-chain-ordered subset of a transaction's data the
// synchronizer needs: the commitments it created and the log entries
// attached to it are looked up by TxIndex against EncryptedLogBundle.
type Transaction struct {
	TxHash         [32]byte
	NewCommitments [][32]byte
	Nullifier      [32]byte
}

// Block is a single L2 block: its transactions in on-chain order, the
// index in the note-hash tree its first commitment occupies, and the
// tree roots it committed to.
type Block struct {
	Number          uint64
	DataStartIndex  uint64
	Transactions    []Transaction
	Header          BlockHeader
	Timestamp       time.Time
}

// L2BlockContext is the transient, per-batch wrapper spec.md names:
// (block, blockNumber, firstNoteHashIndex).
type L2BlockContext struct {
	Block              *Block
	BlockNumber        uint64
	FirstNoteHashIndex uint64
}

// NewL2BlockContext computes FirstNoteHashIndex as the block's DataStartIndex,
// the cumulative count of note-hash leaves before this block.
func NewL2BlockContext(block *Block) *L2BlockContext {
	return &L2BlockContext{
		Block:              block,
		BlockNumber:        block.Number,
		FirstNoteHashIndex: block.DataStartIndex,
	}
}

// NoteDao is a decrypted-and-interpreted note, persisted only after both
// decryption and contract-side interpretation succeed.
type NoteDao struct {
	PublicKey        [64]byte
	ContractAddress  [32]byte
	StorageSlot      [32]byte
	Note             []byte
	NoteHash         [32]byte
	SiloedNullifier  [32]byte
	TxHash           [32]byte
	LeafIndex        uint64
}

// DeferredNoteDao is a decrypted note whose contract code isn't known
// locally yet. It carries everything needed to finish interpretation once
// the contract registers: the tx's new commitments (to locate the note
// hash), its nullifier, and where its commitments start in the note-hash
// tree.
type DeferredNoteDao struct {
	PublicKey           [64]byte
	Note                []byte
	ContractAddress     [32]byte
	StorageSlot         [32]byte
	TxHash              [32]byte
	TxNullifier         [32]byte
	NewCommitments      [][32]byte
	DataStartIndexForTx uint64
}

// NoteProcessorStatus is the observable state of one account's NoteProcessor.
type NoteProcessorStatus struct {
	PublicKey     [64]byte
	SyncedToBlock uint64
}

// CompleteAddress is the public information required to nullify/derive
// from an account: its public key, partial address, and metadata. The
// full derivation and secret-holding side live in the external
// account/keystore registry; this is the read-through mirror the
// Database needs to answer getCompleteAddress.
type CompleteAddress struct {
	PublicKey     [64]byte
	PartialAddress [32]byte
}
