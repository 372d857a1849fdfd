package store

import (
	"context"
	"fmt"

	"github.com/l2privacy/client-sync/src/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Database is the gorm-backed implementation of domain.Database. It never
// opens a transaction spanning a suspension point, matching the
// no-long-held-locks discipline the synchronizer's SerialQueue depends on.
// Most methods are a single statement; RemoveNullifiedNotes and
// RemoveDeferredNotesByContract select and then delete, and EstimateSize
// queries each table in turn.
type Database struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (self *Database) GetBlockNumber(ctx context.Context) (*uint64, error) {
	var out struct{ Max *uint64 }
	err := self.db.WithContext(ctx).Model(&blockHeaderModel{}).
		Select("MAX(block_number) as max").Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out.Max, nil
}

func (self *Database) SetBlockData(ctx context.Context, blockNumber uint64, header *domain.BlockHeader) error {
	model := &blockHeaderModel{
		BlockNumber:         blockNumber,
		NoteHashTreeRoot:    header.NoteHashTreeRoot[:],
		NullifierTreeRoot:   header.NullifierTreeRoot[:],
		ContractTreeRoot:    header.ContractTreeRoot[:],
		L1ToL2TreeRoot:      header.L1ToL2TreeRoot[:],
		ArchiveTreeRoot:     header.ArchiveTreeRoot[:],
		PublicDataTreeRoot:  header.PublicDataTreeRoot[:],
		GlobalVariablesHash: header.GlobalVariablesHash[:],
	}

	return self.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "block_number"}},
		UpdateAll: true,
	}).Create(model).Error
}

func (self *Database) AddNotes(ctx context.Context, notes []*domain.NoteDao) error {
	models := make([]*noteModel, len(notes))
	for i, n := range notes {
		models[i] = &noteModel{
			PublicKey:       n.PublicKey[:],
			ContractAddress: n.ContractAddress[:],
			StorageSlot:     n.StorageSlot[:],
			Note:            n.Note,
			NoteHash:        n.NoteHash[:],
			SiloedNullifier: n.SiloedNullifier[:],
			TxHash:          n.TxHash[:],
			LeafIndex:       n.LeafIndex,
		}
	}

	return self.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&models).Error
}

func (self *Database) RemoveNullifiedNotes(ctx context.Context, nullifiers [][32]byte, publicKey [64]byte) ([]*domain.NoteDao, error) {
	raw := make([][]byte, len(nullifiers))
	for i, n := range nullifiers {
		raw[i] = n[:]
	}

	var models []*noteModel
	err := self.db.WithContext(ctx).
		Where("public_key = ? AND siloed_nullifier IN ?", publicKey[:], raw).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}

	ids := make([]uint64, len(models))
	for i, m := range models {
		ids[i] = m.ID
	}
	if err := self.db.WithContext(ctx).Where("id IN ?", ids).Delete(&noteModel{}).Error; err != nil {
		return nil, err
	}

	out := make([]*domain.NoteDao, len(models))
	for i, m := range models {
		out[i] = noteFromModel(m)
	}
	return out, nil
}

func (self *Database) AddDeferredNotes(ctx context.Context, notes []*domain.DeferredNoteDao) error {
	models := make([]*deferredNoteModel, len(notes))
	for i, n := range notes {
		models[i] = &deferredNoteModel{
			PublicKey:           n.PublicKey[:],
			ContractAddress:     n.ContractAddress[:],
			StorageSlot:         n.StorageSlot[:],
			Note:                n.Note,
			TxHash:              n.TxHash[:],
			TxNullifier:         n.TxNullifier[:],
			NewCommitments:      encodeCommitments(n.NewCommitments),
			DataStartIndexForTx: n.DataStartIndexForTx,
		}
	}

	return self.db.WithContext(ctx).Create(&models).Error
}

func (self *Database) GetDeferredNotesByContract(ctx context.Context, address [32]byte) ([]*domain.DeferredNoteDao, error) {
	var models []*deferredNoteModel
	err := self.db.WithContext(ctx).Where("contract_address = ?", address[:]).Find(&models).Error
	if err != nil {
		return nil, err
	}

	out := make([]*domain.DeferredNoteDao, len(models))
	for i, m := range models {
		out[i] = deferredNoteFromModel(m)
	}
	return out, nil
}

func (self *Database) RemoveDeferredNotesByContract(ctx context.Context, address [32]byte) ([]*domain.DeferredNoteDao, error) {
	notes, err := self.GetDeferredNotesByContract(ctx, address)
	if err != nil {
		return nil, err
	}
	if len(notes) == 0 {
		return nil, nil
	}

	err = self.db.WithContext(ctx).Where("contract_address = ?", address[:]).Delete(&deferredNoteModel{}).Error
	if err != nil {
		return nil, err
	}
	return notes, nil
}

func (self *Database) GetCompleteAddress(ctx context.Context, address [64]byte) (*domain.CompleteAddress, error) {
	var model completeAddressModel
	err := self.db.WithContext(ctx).Where("address = ?", address[:]).Take(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}

	out := &domain.CompleteAddress{}
	copy(out.PublicKey[:], model.PublicKey)
	copy(out.PartialAddress[:], model.PartialAddress)
	return out, nil
}

func (self *Database) SetCompleteAddress(ctx context.Context, complete *domain.CompleteAddress) error {
	model := &completeAddressModel{
		Address:        complete.PublicKey[:],
		PublicKey:      complete.PublicKey[:],
		PartialAddress: complete.PartialAddress[:],
	}

	return self.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		UpdateAll: true,
	}).Create(model).Error
}

func (self *Database) GetNoteProcessorStatus(ctx context.Context, publicKey [64]byte) (*domain.NoteProcessorStatus, error) {
	var model noteProcessorStatusModel
	err := self.db.WithContext(ctx).Where("public_key = ?", publicKey[:]).Take(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}

	out := &domain.NoteProcessorStatus{SyncedToBlock: model.SyncedToBlock}
	copy(out.PublicKey[:], model.PublicKey)
	return out, nil
}

func (self *Database) SetNoteProcessorStatus(ctx context.Context, status *domain.NoteProcessorStatus) error {
	model := &noteProcessorStatusModel{
		PublicKey:     status.PublicKey[:],
		SyncedToBlock: status.SyncedToBlock,
	}

	return self.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "public_key"}},
		UpdateAll: true,
	}).Create(model).Error
}

func (self *Database) EstimateSize(ctx context.Context) (uint64, error) {
	tables := []string{"block_headers", "notes", "deferred_notes", "complete_addresses", "note_processor_status"}

	var total uint64
	for _, table := range tables {
		var size uint64
		err := self.db.WithContext(ctx).
			Raw(fmt.Sprintf("SELECT pg_total_relation_size('%s')", table)).
			Scan(&size).Error
		if err != nil {
			return 0, err
		}
		total += size
	}
	return total, nil
}

func noteFromModel(m *noteModel) *domain.NoteDao {
	out := &domain.NoteDao{Note: m.Note, LeafIndex: m.LeafIndex}
	copy(out.PublicKey[:], m.PublicKey)
	copy(out.ContractAddress[:], m.ContractAddress)
	copy(out.StorageSlot[:], m.StorageSlot)
	copy(out.NoteHash[:], m.NoteHash)
	copy(out.SiloedNullifier[:], m.SiloedNullifier)
	copy(out.TxHash[:], m.TxHash)
	return out
}

func deferredNoteFromModel(m *deferredNoteModel) *domain.DeferredNoteDao {
	out := &domain.DeferredNoteDao{
		Note:                m.Note,
		NewCommitments:      decodeCommitments(m.NewCommitments),
		DataStartIndexForTx: m.DataStartIndexForTx,
	}
	copy(out.PublicKey[:], m.PublicKey)
	copy(out.ContractAddress[:], m.ContractAddress)
	copy(out.StorageSlot[:], m.StorageSlot)
	copy(out.TxHash[:], m.TxHash)
	copy(out.TxNullifier[:], m.TxNullifier)
	return out
}

func encodeCommitments(commitments [][32]byte) []byte {
	out := make([]byte, 0, len(commitments)*32)
	for _, c := range commitments {
		out = append(out, c[:]...)
	}
	return out
}

func decodeCommitments(raw []byte) [][32]byte {
	out := make([][32]byte, len(raw)/32)
	for i := range out {
		copy(out[i][:], raw[i*32:(i+1)*32])
	}
	return out
}
