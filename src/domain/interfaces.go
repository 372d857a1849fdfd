package domain

import "context"

// LogKind selects which log stream NodeClient.GetLogs fetches.
type LogKind int

const (
	LogKindEncrypted LogKind = iota
	LogKindUnencrypted
)

// TreeID identifies one of the node's merkle trees, used by FindLeafIndex.
type TreeID int

const (
	TreeIDNoteHash TreeID = iota
	TreeIDNullifier
	TreeIDContract
	TreeIDL1ToL2
	TreeIDArchive
	TreeIDPublicData
)

// Snapshot selects which version of a tree FindLeafIndex looks against.
type Snapshot string

const LatestSnapshot Snapshot = "latest"

// NodeClient is the remote L2 node RPC contract the synchronizer consumes.
// getBlocks and getLogs are guaranteed by the node to return entries in
// ascending block-number order with no gaps in the prefix they cover.
type NodeClient interface {
	GetBlockNumber(ctx context.Context) (uint64, error)
	GetBlockHeader(ctx context.Context) (*BlockHeader, error)
	GetBlocks(ctx context.Context, from uint64, limit int) ([]*Block, error)
	GetLogs(ctx context.Context, from uint64, limit int, kind LogKind) ([]*EncryptedLogBundle, error)
	FindLeafIndex(ctx context.Context, snapshot Snapshot, tree TreeID, leaf [32]byte) (*uint64, error)
}

// Database is the durable storage contract the synchronizer consumes. Every
// operation is atomic; the synchronizer never holds a transaction open
// across a suspension point.
type Database interface {
	GetBlockNumber(ctx context.Context) (*uint64, error)
	SetBlockData(ctx context.Context, blockNumber uint64, header *BlockHeader) error

	AddNotes(ctx context.Context, notes []*NoteDao) error
	RemoveNullifiedNotes(ctx context.Context, nullifiers [][32]byte, publicKey [64]byte) ([]*NoteDao, error)

	AddDeferredNotes(ctx context.Context, notes []*DeferredNoteDao) error
	GetDeferredNotesByContract(ctx context.Context, address [32]byte) ([]*DeferredNoteDao, error)
	RemoveDeferredNotesByContract(ctx context.Context, address [32]byte) ([]*DeferredNoteDao, error)

	GetCompleteAddress(ctx context.Context, address [64]byte) (*CompleteAddress, error)
	SetCompleteAddress(ctx context.Context, complete *CompleteAddress) error

	GetNoteProcessorStatus(ctx context.Context, publicKey [64]byte) (*NoteProcessorStatus, error)
	SetNoteProcessorStatus(ctx context.Context, status *NoteProcessorStatus) error

	// EstimateSize reports the on-disk footprint of the tables this facade
	// owns, in bytes. Observability only.
	EstimateSize(ctx context.Context) (uint64, error)
}

// DecodedNote is what NoteHasher.Compute needs and what decryptNote (out of
// scope, an external collaborator) is assumed to produce for each
// successfully decrypted log.
type DecodedNote struct {
	ContractAddress [32]byte
	StorageSlot     [32]byte
	Note            []byte
}

// NoteDecryptor decrypts a single encrypted log against an account's
// private key. It is the pluggable cryptographic capability spec.md places
// out of scope (§1); NoteProcessor depends on it as an injected interface.
type NoteDecryptor interface {
	Decrypt(log *EncryptedLog, keyStore KeyStore) (*DecodedNote, error)
}

// NoteHasher is the pluggable per-contract "compute note hash and
// nullifier" capability spec.md describes in §9 as
// `{compute(contract, storageSlot, note) -> (hash, nullifier)?}`.
// A nil return with a nil error means the contract could not interpret
// the note (e.g. it doesn't recognize the storage slot).
type NoteHasher interface {
	Compute(contractAddress [32]byte, storageSlot [32]byte, note []byte) (noteHash *[32]byte, siloedNullifier *[32]byte, err error)
}

// ContractRegistry answers whether a contract's code is known locally.
// The account/keystore registry and the L1 rollup contracts are external
// collaborators per spec.md §1; this is the minimal surface NoteProcessor
// needs from them.
type ContractRegistry interface {
	HasCode(contractAddress [32]byte) bool
}

// KeyStore is the external collaborator holding an account's decryption
// secrets. Out of scope per spec.md §1; NoteProcessor only calls into it
// through NoteDecryptor.
type KeyStore interface {
	PublicKey() [64]byte
}
