// Package noteprocessor implements NoteProcessor, the per-account state
// machine described in spec.md §4.5: given a batch of (block,
// encrypted-log-bundle) pairs, it decrypts addressed logs, promotes decoded
// notes into the database, defers the rest, and advances syncedToBlock.
package noteprocessor

import (
	"context"
	"fmt"
	"time"

	"github.com/l2privacy/client-sync/src/domain"
	"github.com/l2privacy/client-sync/src/utils/logger"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// MaxNoteHashesPerTx is the address space every transaction reserves in
// the note-hash tree, regardless of how many commitments it actually
// emits. firstNoteHashIndex for a transaction is computed by summing this
// constant over the preceding transactions in its block (spec.md §4.5
// step 1a), not by summing their actual commitment counts.
const MaxNoteHashesPerTx = 64

// Stats are incremented only by the owning NoteProcessor during process().
type Stats struct {
	DecryptFailures     atomic.Uint64
	NoteHashMismatches  atomic.Uint64
	NotesAdded          atomic.Uint64
	NotesDeferred       atomic.Uint64
}

// NoteProcessor is the per-account state machine from spec.md §4.5.
type NoteProcessor struct {
	publicKey [64]byte
	keyStore  domain.KeyStore
	db        domain.Database
	node      domain.NodeClient
	decryptor domain.NoteDecryptor
	hasher    domain.NoteHasher
	contracts domain.ContractRegistry

	log *logrus.Entry

	// syncedToBlock is owned exclusively by this NoteProcessor and only
	// ever mutated from within process(), which the Synchronizer only ever
	// calls from its SerialQueue worker.
	syncedToBlock uint64

	// startedAt is spec.md §4.5's catch-up timer: set once, at construction,
	// and read by the Synchronizer to fill CaughtUpEvent.DurationMs.
	startedAt time.Time

	Stats Stats
}

// New constructs a NoteProcessor starting at startingBlock - 1, per
// spec.md's Data Model: "syncedToBlock starts at startingBlock - 1".
func New(publicKey [64]byte, keyStore domain.KeyStore, db domain.Database, node domain.NodeClient,
	decryptor domain.NoteDecryptor, hasher domain.NoteHasher, contracts domain.ContractRegistry,
	startingBlock uint64, tag string) *NoteProcessor {

	return &NoteProcessor{
		publicKey:     publicKey,
		keyStore:      keyStore,
		db:            db,
		node:          node,
		decryptor:     decryptor,
		hasher:        hasher,
		contracts:     contracts,
		log:           logger.NewSublogger("note-processor" + tag),
		syncedToBlock: startingBlock - 1,
		startedAt:     time.Now(),
	}
}

// PublicKey identifies which account this processor serves.
func (self *NoteProcessor) PublicKey() [64]byte {
	return self.publicKey
}

// SyncedToBlock is the highest block number this processor has fully
// ingested.
func (self *NoteProcessor) SyncedToBlock() uint64 {
	return self.syncedToBlock
}

// Elapsed is how long this processor has been running, from construction
// to now. The Synchronizer reads it once, when the processor catches up,
// to fill CaughtUpEvent.DurationMs.
func (self *NoteProcessor) Elapsed() time.Duration {
	return time.Since(self.startedAt)
}

// IsSynchronized is true iff syncedToBlock >= the node's latest block.
func (self *NoteProcessor) IsSynchronized(ctx context.Context) (bool, error) {
	latest, err := self.node.GetBlockNumber(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %w", domain.ErrTransientNode, err)
	}
	return self.syncedToBlock >= latest, nil
}

// Process runs the algorithm from spec.md §4.5. Preconditions: blockContexts
// is non-empty; encryptedLogsPerBlock[i] corresponds to blockContexts[i];
// every blockContexts[i].BlockNumber == syncedToBlock + 1 + i.
//
// syncedToBlock advances block by block. A database failure aborts the
// call and leaves syncedToBlock at the last block persisted before the
// failure; a per-log decryption/interpretation failure is never fatal.
func (self *NoteProcessor) Process(ctx context.Context, blockContexts []*domain.L2BlockContext, encryptedLogsPerBlock []*domain.EncryptedLogBundle) error {
	if len(blockContexts) == 0 {
		return fmt.Errorf("%w: process called with no blocks", domain.ErrInvariantViolation)
	}
	if len(blockContexts) != len(encryptedLogsPerBlock) {
		return fmt.Errorf("%w: %d block contexts but %d log bundles", domain.ErrInvariantViolation, len(blockContexts), len(encryptedLogsPerBlock))
	}

	for i, bc := range blockContexts {
		expected := self.syncedToBlock + 1 + uint64(i)
		if bc.BlockNumber != expected {
			return fmt.Errorf("%w: block context %d has number %d, expected %d", domain.ErrInvariantViolation, i, bc.BlockNumber, expected)
		}
	}

	for i, bc := range blockContexts {
		newNotes, deferredNotes, err := self.processBlock(bc, encryptedLogsPerBlock[i])
		if err != nil {
			return err
		}

		if err := self.persist(ctx, newNotes, deferredNotes); err != nil {
			return err
		}

		status := &domain.NoteProcessorStatus{PublicKey: self.publicKey, SyncedToBlock: bc.BlockNumber}
		if err := self.db.SetNoteProcessorStatus(ctx, status); err != nil {
			return fmt.Errorf("persist note processor status: %w", err)
		}

		self.syncedToBlock = bc.BlockNumber
	}

	return nil
}

func (self *NoteProcessor) persist(ctx context.Context, newNotes []*domain.NoteDao, deferredNotes []*domain.DeferredNoteDao) error {
	if len(newNotes) > 0 {
		if err := self.db.AddNotes(ctx, newNotes); err != nil {
			return fmt.Errorf("add notes: %w", err)
		}
	}
	if len(deferredNotes) > 0 {
		if err := self.db.AddDeferredNotes(ctx, deferredNotes); err != nil {
			return fmt.Errorf("add deferred notes: %w", err)
		}
	}

	self.Stats.NotesAdded.Add(uint64(len(newNotes)))
	self.Stats.NotesDeferred.Add(uint64(len(deferredNotes)))
	return nil
}

func (self *NoteProcessor) processBlock(bc *domain.L2BlockContext, logs *domain.EncryptedLogBundle) (newNotes []*domain.NoteDao, deferredNotes []*domain.DeferredNoteDao, err error) {
	logsByTx := make(map[int][]domain.EncryptedLog)
	if logs != nil {
		for _, l := range logs.Logs {
			logsByTx[l.TxIndex] = append(logsByTx[l.TxIndex], l)
		}
	}

	var firstNoteHashIndex uint64 = bc.FirstNoteHashIndex

	for txIndex, tx := range bc.Block.Transactions {
		txFirstNoteHashIndex := firstNoteHashIndex
		firstNoteHashIndex += MaxNoteHashesPerTx

		for _, l := range logsByTx[txIndex] {
			decoded, decErr := self.decryptor.Decrypt(&l, self.keyStore)
			if decErr != nil {
				self.log.WithError(decErr).Debug("Failed to decrypt log")
				self.Stats.DecryptFailures.Add(1)
				continue
			}

			note, deferred := self.interpret(decoded, &tx, txFirstNoteHashIndex)
			if deferred != nil {
				deferredNotes = append(deferredNotes, deferred)
				continue
			}
			if note != nil {
				newNotes = append(newNotes, note)
			}
		}
	}

	return newNotes, deferredNotes, nil
}

// interpret is shared by processBlock and decodeDeferredNotes: it runs
// step 1c of spec.md §4.5's algorithm for one decrypted note.
func (self *NoteProcessor) interpret(decoded *domain.DecodedNote, tx *domain.Transaction, firstNoteHashIndex uint64) (note *domain.NoteDao, deferred *domain.DeferredNoteDao) {
	if !self.contracts.HasCode(decoded.ContractAddress) {
		return nil, &domain.DeferredNoteDao{
			PublicKey:           self.publicKey,
			Note:                decoded.Note,
			ContractAddress:     decoded.ContractAddress,
			StorageSlot:         decoded.StorageSlot,
			TxHash:              tx.TxHash,
			TxNullifier:         tx.Nullifier,
			NewCommitments:      tx.NewCommitments,
			DataStartIndexForTx: firstNoteHashIndex,
		}
	}

	noteHash, siloedNullifier, err := self.hasher.Compute(decoded.ContractAddress, decoded.StorageSlot, decoded.Note)
	if err != nil || noteHash == nil {
		self.log.WithError(err).Debug("Failed to compute note hash and nullifier")
		self.Stats.NoteHashMismatches.Add(1)
		return nil, nil
	}

	position := indexOfCommitment(tx.NewCommitments, *noteHash)
	if position < 0 {
		// Spoofed or mismatched log: the contract emitted a note hash that
		// doesn't appear among this tx's commitments.
		self.Stats.NoteHashMismatches.Add(1)
		return nil, nil
	}

	return &domain.NoteDao{
		PublicKey:       self.publicKey,
		ContractAddress: decoded.ContractAddress,
		StorageSlot:     decoded.StorageSlot,
		Note:            decoded.Note,
		NoteHash:        *noteHash,
		SiloedNullifier: *siloedNullifier,
		TxHash:          tx.TxHash,
		LeafIndex:       firstNoteHashIndex + uint64(position),
	}, nil
}

func indexOfCommitment(commitments [][32]byte, target [32]byte) int {
	found := -1
	for i, c := range commitments {
		if c == target {
			if found != -1 {
				// Appears more than once: spec.md requires exactly one
				// occurrence. Treat as not found, same as absent.
				return -1
			}
			found = i
		}
	}
	return found
}

// DecodeDeferredNotes is used by the Synchronizer during
// reprocessDeferredNotesForContract (spec.md §4.6 step 3). Identical to
// the interpretation step above but the contract is now guaranteed
// present; notes that still fail to interpret are dropped.
func (self *NoteProcessor) DecodeDeferredNotes(deferred []*domain.DeferredNoteDao) []*domain.NoteDao {
	var out []*domain.NoteDao

	for _, d := range deferred {
		noteHash, siloedNullifier, err := self.hasher.Compute(d.ContractAddress, d.StorageSlot, d.Note)
		if err != nil || noteHash == nil {
			self.log.WithError(err).Debug("Deferred note failed to interpret")
			continue
		}

		position := indexOfCommitment(d.NewCommitments, *noteHash)
		if position < 0 {
			continue
		}

		out = append(out, &domain.NoteDao{
			PublicKey:       d.PublicKey,
			ContractAddress: d.ContractAddress,
			StorageSlot:     d.StorageSlot,
			Note:            d.Note,
			NoteHash:        *noteHash,
			SiloedNullifier: *siloedNullifier,
			TxHash:          d.TxHash,
			LeafIndex:       d.DataStartIndexForTx + uint64(position),
		})
	}

	return out
}
