package store

import "time"

// The gorm models below map 1:1 onto the tables in migrations/0001_init.sql. Variable-
// length and fixed-size hashes are all persisted as BYTEA and converted to
// and from the domain package's fixed-size arrays at the edges of Database.

type blockHeaderModel struct {
	BlockNumber         uint64 `gorm:"primaryKey;column:block_number"`
	NoteHashTreeRoot    []byte `gorm:"column:note_hash_tree_root"`
	NullifierTreeRoot   []byte `gorm:"column:nullifier_tree_root"`
	ContractTreeRoot    []byte `gorm:"column:contract_tree_root"`
	L1ToL2TreeRoot      []byte `gorm:"column:l1_to_l2_tree_root"`
	ArchiveTreeRoot     []byte `gorm:"column:archive_tree_root"`
	PublicDataTreeRoot  []byte `gorm:"column:public_data_tree_root"`
	GlobalVariablesHash []byte `gorm:"column:global_variables_hash"`
}

func (blockHeaderModel) TableName() string { return "block_headers" }

type noteModel struct {
	ID              uint64 `gorm:"primaryKey;column:id"`
	PublicKey       []byte `gorm:"column:public_key"`
	ContractAddress []byte `gorm:"column:contract_address"`
	StorageSlot     []byte `gorm:"column:storage_slot"`
	Note            []byte `gorm:"column:note"`
	NoteHash        []byte `gorm:"column:note_hash"`
	SiloedNullifier []byte `gorm:"column:siloed_nullifier"`
	TxHash          []byte `gorm:"column:tx_hash"`
	LeafIndex       uint64 `gorm:"column:leaf_index"`
	CreatedAt       time.Time
}

func (noteModel) TableName() string { return "notes" }

type deferredNoteModel struct {
	ID                  uint64 `gorm:"primaryKey;column:id"`
	PublicKey           []byte `gorm:"column:public_key"`
	ContractAddress     []byte `gorm:"column:contract_address"`
	StorageSlot         []byte `gorm:"column:storage_slot"`
	Note                []byte `gorm:"column:note"`
	TxHash              []byte `gorm:"column:tx_hash"`
	TxNullifier         []byte `gorm:"column:tx_nullifier"`
	NewCommitments      []byte `gorm:"column:new_commitments"`
	DataStartIndexForTx uint64 `gorm:"column:data_start_index_for_tx"`
	CreatedAt           time.Time
}

func (deferredNoteModel) TableName() string { return "deferred_notes" }

type completeAddressModel struct {
	Address        []byte `gorm:"primaryKey;column:address"`
	PublicKey      []byte `gorm:"column:public_key"`
	PartialAddress []byte `gorm:"column:partial_address"`
}

func (completeAddressModel) TableName() string { return "complete_addresses" }

type noteProcessorStatusModel struct {
	PublicKey     []byte `gorm:"primaryKey;column:public_key"`
	SyncedToBlock uint64 `gorm:"column:synced_to_block"`
}

func (noteProcessorStatusModel) TableName() string { return "note_processor_status" }
