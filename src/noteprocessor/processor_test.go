package noteprocessor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/l2privacy/client-sync/src/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDB struct {
	mock.Mock

	lastStatus *domain.NoteProcessorStatus
}

func (m *mockDB) GetBlockNumber(ctx context.Context) (*uint64, error) { return nil, nil }
func (m *mockDB) SetBlockData(ctx context.Context, blockNumber uint64, header *domain.BlockHeader) error {
	return nil
}
func (m *mockDB) AddNotes(ctx context.Context, notes []*domain.NoteDao) error {
	args := m.Called(notes)
	return args.Error(0)
}
func (m *mockDB) RemoveNullifiedNotes(ctx context.Context, nullifiers [][32]byte, publicKey [64]byte) ([]*domain.NoteDao, error) {
	return nil, nil
}
func (m *mockDB) AddDeferredNotes(ctx context.Context, notes []*domain.DeferredNoteDao) error {
	args := m.Called(notes)
	return args.Error(0)
}
func (m *mockDB) GetDeferredNotesByContract(ctx context.Context, address [32]byte) ([]*domain.DeferredNoteDao, error) {
	return nil, nil
}
func (m *mockDB) RemoveDeferredNotesByContract(ctx context.Context, address [32]byte) ([]*domain.DeferredNoteDao, error) {
	return nil, nil
}
func (m *mockDB) GetCompleteAddress(ctx context.Context, address [64]byte) (*domain.CompleteAddress, error) {
	return nil, nil
}
func (m *mockDB) SetCompleteAddress(ctx context.Context, complete *domain.CompleteAddress) error {
	return nil
}
func (m *mockDB) GetNoteProcessorStatus(ctx context.Context, publicKey [64]byte) (*domain.NoteProcessorStatus, error) {
	return nil, nil
}
func (m *mockDB) SetNoteProcessorStatus(ctx context.Context, status *domain.NoteProcessorStatus) error {
	m.lastStatus = status
	return nil
}
func (m *mockDB) EstimateSize(ctx context.Context) (uint64, error) { return 0, nil }

type mockNode struct {
	mock.Mock
}

func (m *mockNode) GetBlockNumber(ctx context.Context) (uint64, error) {
	args := m.Called()
	return args.Get(0).(uint64), args.Error(1)
}
func (m *mockNode) GetBlockHeader(ctx context.Context) (*domain.BlockHeader, error) { return nil, nil }
func (m *mockNode) GetBlocks(ctx context.Context, from uint64, limit int) ([]*domain.Block, error) {
	return nil, nil
}
func (m *mockNode) GetLogs(ctx context.Context, from uint64, limit int, kind domain.LogKind) ([]*domain.EncryptedLogBundle, error) {
	return nil, nil
}
func (m *mockNode) FindLeafIndex(ctx context.Context, snapshot domain.Snapshot, tree domain.TreeID, leaf [32]byte) (*uint64, error) {
	return nil, nil
}

type echoDecryptor struct {
	addressed map[int]*domain.DecodedNote // keyed by LogIndexInTx
}

func (d *echoDecryptor) Decrypt(log *domain.EncryptedLog, keyStore domain.KeyStore) (*domain.DecodedNote, error) {
	decoded, ok := d.addressed[log.LogIndexInTx]
	if !ok {
		return nil, errors.New("not addressed to this account")
	}
	return decoded, nil
}

type fixedHasher struct {
	hash       [32]byte
	nullifier  [32]byte
}

func (h *fixedHasher) Compute(contractAddress, storageSlot [32]byte, note []byte) (*[32]byte, *[32]byte, error) {
	hash := h.hash
	nullifier := h.nullifier
	return &hash, &nullifier, nil
}

type registry struct {
	known map[[32]byte]bool
}

func (r *registry) HasCode(addr [32]byte) bool { return r.known[addr] }

type fakeKeyStore struct{ pk [64]byte }

func (k *fakeKeyStore) PublicKey() [64]byte { return k.pk }

func contractAddr(b byte) [32]byte {
	var a [32]byte
	a[0] = b
	return a
}

func TestProcessSingleBlockSingleNote(t *testing.T) {
	var pk [64]byte
	pk[0] = 1
	contract := contractAddr(7)

	var noteHash [32]byte
	noteHash[0] = 42

	decoded := &domain.DecodedNote{ContractAddress: contract, Note: []byte("note")}
	decryptor := &echoDecryptor{addressed: map[int]*domain.DecodedNote{0: decoded}}
	hasher := &fixedHasher{hash: noteHash}
	contracts := &registry{known: map[[32]byte]bool{contract: true}}

	db := &mockDB{}
	db.On("AddNotes", mock.Anything).Return(nil)

	node := &mockNode{}

	np := New(pk, &fakeKeyStore{pk: pk}, db, node, decryptor, hasher, contracts, 1, "")

	block := &domain.Block{
		Number:         1,
		DataStartIndex: 100,
		Transactions: []domain.Transaction{
			{TxHash: [32]byte{1}, NewCommitments: [][32]byte{noteHash}},
		},
	}
	bc := domain.NewL2BlockContext(block)
	logs := &domain.EncryptedLogBundle{BlockNumber: 1, Logs: []domain.EncryptedLog{{TxIndex: 0, LogIndexInTx: 0}}}

	err := np.Process(context.Background(), []*domain.L2BlockContext{bc}, []*domain.EncryptedLogBundle{logs})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), np.SyncedToBlock())
	assert.Equal(t, uint64(1), np.Stats.NotesAdded.Load())

	addedNotes := db.Calls[0].Arguments[0].([]*domain.NoteDao)
	require.Len(t, addedNotes, 1)
	assert.Equal(t, uint64(100), addedNotes[0].LeafIndex)

	require.NotNil(t, db.lastStatus)
	assert.Equal(t, pk, db.lastStatus.PublicKey)
	assert.Equal(t, uint64(1), db.lastStatus.SyncedToBlock)
}

func TestProcessDefersWhenContractUnknown(t *testing.T) {
	var pk [64]byte
	contract := contractAddr(9)

	decoded := &domain.DecodedNote{ContractAddress: contract, Note: []byte("note")}
	decryptor := &echoDecryptor{addressed: map[int]*domain.DecodedNote{0: decoded}}
	hasher := &fixedHasher{}
	contracts := &registry{known: map[[32]byte]bool{}}

	db := &mockDB{}
	db.On("AddDeferredNotes", mock.Anything).Return(nil)

	node := &mockNode{}
	np := New(pk, &fakeKeyStore{pk: pk}, db, node, decryptor, hasher, contracts, 1, "")

	block := &domain.Block{
		Number:         1,
		DataStartIndex: 0,
		Transactions:   []domain.Transaction{{TxHash: [32]byte{1}}},
	}
	bc := domain.NewL2BlockContext(block)
	logs := &domain.EncryptedLogBundle{Logs: []domain.EncryptedLog{{TxIndex: 0, LogIndexInTx: 0}}}

	err := np.Process(context.Background(), []*domain.L2BlockContext{bc}, []*domain.EncryptedLogBundle{logs})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), np.Stats.NotesDeferred.Load())
}

func TestProcessDropsMismatchedNoteHash(t *testing.T) {
	var pk [64]byte
	contract := contractAddr(3)

	decoded := &domain.DecodedNote{ContractAddress: contract}
	decryptor := &echoDecryptor{addressed: map[int]*domain.DecodedNote{0: decoded}}
	var wrongHash [32]byte
	wrongHash[0] = 99
	hasher := &fixedHasher{hash: wrongHash}
	contracts := &registry{known: map[[32]byte]bool{contract: true}}

	db := &mockDB{}
	node := &mockNode{}
	np := New(pk, &fakeKeyStore{pk: pk}, db, node, decryptor, hasher, contracts, 1, "")

	block := &domain.Block{
		Number: 1,
		Transactions: []domain.Transaction{
			{TxHash: [32]byte{1}, NewCommitments: [][32]byte{{1, 2, 3}}},
		},
	}
	bc := domain.NewL2BlockContext(block)
	logs := &domain.EncryptedLogBundle{Logs: []domain.EncryptedLog{{TxIndex: 0}}}

	err := np.Process(context.Background(), []*domain.L2BlockContext{bc}, []*domain.EncryptedLogBundle{logs})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), np.Stats.NoteHashMismatches.Load())
	assert.Equal(t, uint64(0), np.Stats.NotesAdded.Load())
	db.AssertNotCalled(t, "AddNotes", mock.Anything)
}

func TestProcessRejectsOutOfOrderBlocks(t *testing.T) {
	db := &mockDB{}
	node := &mockNode{}
	np := New([64]byte{}, &fakeKeyStore{}, db, node, &echoDecryptor{}, &fixedHasher{}, &registry{}, 5, "")

	block := &domain.Block{Number: 10}
	bc := domain.NewL2BlockContext(block)

	err := np.Process(context.Background(), []*domain.L2BlockContext{bc}, []*domain.EncryptedLogBundle{{}})
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
}

func TestIsSynchronized(t *testing.T) {
	db := &mockDB{}
	node := &mockNode{}
	node.On("GetBlockNumber").Return(uint64(5), nil)

	np := New([64]byte{}, &fakeKeyStore{}, db, node, &echoDecryptor{}, &fixedHasher{}, &registry{}, 6, "")

	ok, err := np.IsSynchronized(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestElapsedGrowsFromConstruction(t *testing.T) {
	db := &mockDB{}
	node := &mockNode{}
	np := New([64]byte{}, &fakeKeyStore{}, db, node, &echoDecryptor{}, &fixedHasher{}, &registry{}, 1, "")

	time.Sleep(time.Millisecond)
	assert.Greater(t, np.Elapsed(), time.Duration(0))
}
