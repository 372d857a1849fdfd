package synchronizer

import (
	"context"
	"testing"
	"time"

	"github.com/l2privacy/client-sync/src/domain"
	"github.com/l2privacy/client-sync/src/noteprocessor"
	"github.com/l2privacy/client-sync/src/utils/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDB struct {
	mock.Mock
}

func (m *mockDB) GetBlockNumber(ctx context.Context) (*uint64, error) {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.(*uint64), args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockDB) SetBlockData(ctx context.Context, blockNumber uint64, header *domain.BlockHeader) error {
	args := m.Called(blockNumber, header)
	return args.Error(0)
}
func (m *mockDB) AddNotes(ctx context.Context, notes []*domain.NoteDao) error {
	args := m.Called(notes)
	return args.Error(0)
}
func (m *mockDB) RemoveNullifiedNotes(ctx context.Context, nullifiers [][32]byte, publicKey [64]byte) ([]*domain.NoteDao, error) {
	return nil, nil
}
func (m *mockDB) AddDeferredNotes(ctx context.Context, notes []*domain.DeferredNoteDao) error {
	return nil
}
func (m *mockDB) GetDeferredNotesByContract(ctx context.Context, address [32]byte) ([]*domain.DeferredNoteDao, error) {
	return nil, nil
}
func (m *mockDB) RemoveDeferredNotesByContract(ctx context.Context, address [32]byte) ([]*domain.DeferredNoteDao, error) {
	return nil, nil
}
func (m *mockDB) GetCompleteAddress(ctx context.Context, address [64]byte) (*domain.CompleteAddress, error) {
	args := m.Called(address)
	if v := args.Get(0); v != nil {
		return v.(*domain.CompleteAddress), args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockDB) SetCompleteAddress(ctx context.Context, complete *domain.CompleteAddress) error {
	args := m.Called(complete)
	return args.Error(0)
}
func (m *mockDB) GetNoteProcessorStatus(ctx context.Context, publicKey [64]byte) (*domain.NoteProcessorStatus, error) {
	args := m.Called(publicKey)
	if v := args.Get(0); v != nil {
		return v.(*domain.NoteProcessorStatus), args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockDB) SetNoteProcessorStatus(ctx context.Context, status *domain.NoteProcessorStatus) error {
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
func (m *mockNode) GetBlockHeader(ctx context.Context) (*domain.BlockHeader, error) {
	args := m.Called()
	return args.Get(0).(*domain.BlockHeader), args.Error(1)
}
func (m *mockNode) GetBlocks(ctx context.Context, from uint64, limit int) ([]*domain.Block, error) {
	args := m.Called(from, limit)
	if v := args.Get(0); v != nil {
		return v.([]*domain.Block), args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockNode) GetLogs(ctx context.Context, from uint64, limit int, kind domain.LogKind) ([]*domain.EncryptedLogBundle, error) {
	args := m.Called(from, limit, kind)
	if v := args.Get(0); v != nil {
		return v.([]*domain.EncryptedLogBundle), args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockNode) FindLeafIndex(ctx context.Context, snapshot domain.Snapshot, tree domain.TreeID, leaf [32]byte) (*uint64, error) {
	return nil, nil
}

type noopDecryptor struct{}

func (noopDecryptor) Decrypt(log *domain.EncryptedLog, keyStore domain.KeyStore) (*domain.DecodedNote, error) {
	return nil, assert.AnError
}

type noopHasher struct{}

func (noopHasher) Compute(contractAddress, storageSlot [32]byte, note []byte) (*[32]byte, *[32]byte, error) {
	return nil, nil, nil
}

type noopContracts struct{}

func (noopContracts) HasCode(addr [32]byte) bool { return false }

type recordingDecryptor struct {
	logs []domain.EncryptedLog
}

func (r *recordingDecryptor) Decrypt(log *domain.EncryptedLog, keyStore domain.KeyStore) (*domain.DecodedNote, error) {
	r.logs = append(r.logs, *log)
	return nil, assert.AnError
}

type fakeKeyStore struct{ pk [64]byte }

func (k *fakeKeyStore) PublicKey() [64]byte { return k.pk }

func newTestSynchronizer(db domain.Database, node domain.NodeClient) *Synchronizer {
	cfg := &config.Synchronizer{
		Limit:                    1,
		RetryInterval:            time.Millisecond,
		InnerRetryInterval:       time.Millisecond,
		InnerRetryMaxElapsedTime: 10 * time.Millisecond,
		InitialL2BlockNum:        1,
	}
	return New(cfg, db, node, noopDecryptor{}, noopHasher{}, noopContracts{}, "")
}

func TestWorkReturnsFalseWhenNoEncryptedLogs(t *testing.T) {
	db := &mockDB{}
	var nilBlock *uint64
	db.On("GetBlockNumber").Return(nilBlock, nil)

	node := &mockNode{}
	node.On("GetLogs", uint64(1), 1, domain.LogKindEncrypted).Return([]*domain.EncryptedLogBundle{}, nil)

	s := newTestSynchronizer(db, node)
	s.initialSyncBlockNumber = 0

	progressed, err := s.work(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, progressed)
}

func TestAddAccountIsIdempotent(t *testing.T) {
	db := &mockDB{}
	db.On("SetCompleteAddress", mock.Anything).Return(nil)
	db.On("GetNoteProcessorStatus", mock.Anything).Return(nil, nil)
	node := &mockNode{}

	s := newTestSynchronizer(db, node)

	var pk [64]byte
	pk[0] = 7
	s.AddAccount(pk, &fakeKeyStore{pk: pk}, 1)
	s.AddAccount(pk, &fakeKeyStore{pk: pk}, 1)

	require.Eventually(t, func() bool {
		future := s.queue.Put(func(ctx context.Context) (any, error) {
			return s.catchUp.Len(), nil
		})
		result, err := future.Wait(context.Background())
		return err == nil && result.(int) == 1
	}, time.Second, time.Millisecond)
}

func TestAddAccountRehydratesPersistedSyncedToBlock(t *testing.T) {
	db := &mockDB{}
	db.On("SetCompleteAddress", mock.Anything).Return(nil)

	var pk [64]byte
	pk[0] = 9
	persisted := &domain.NoteProcessorStatus{PublicKey: pk, SyncedToBlock: 41}
	db.On("GetNoteProcessorStatus", pk).Return(persisted, nil)

	node := &mockNode{}
	s := newTestSynchronizer(db, node)

	s.AddAccount(pk, &fakeKeyStore{pk: pk}, 1)

	require.Eventually(t, func() bool {
		future := s.queue.Put(func(ctx context.Context) (any, error) {
			return s.catchUp.Len(), nil
		})
		result, err := future.Wait(context.Background())
		return err == nil && result.(int) == 1
	}, time.Second, time.Millisecond)

	future := s.queue.Put(func(ctx context.Context) (any, error) {
		return s.catchUp.Front().SyncedToBlock(), nil
	})
	result, err := future.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(41), result.(uint64))
}

func TestIsAccountStateSynchronizedUnregistered(t *testing.T) {
	db := &mockDB{}
	var pk [64]byte
	var nilAddr *domain.CompleteAddress
	db.On("GetCompleteAddress", pk).Return(nilAddr, nil)
	node := &mockNode{}

	s := newTestSynchronizer(db, node)

	_, err := s.IsAccountStateSynchronized(context.Background(), pk)
	assert.ErrorIs(t, err, domain.ErrUnregisteredAccount)
}

func TestIsAccountStateSynchronizedRecipientOnly(t *testing.T) {
	db := &mockDB{}
	var pk [64]byte
	complete := &domain.CompleteAddress{PublicKey: pk}
	db.On("GetCompleteAddress", pk).Return(complete, nil)
	node := &mockNode{}

	s := newTestSynchronizer(db, node)

	_, err := s.IsAccountStateSynchronized(context.Background(), pk)
	assert.ErrorIs(t, err, domain.ErrRecipientOnlyAccount)
}

func TestWorkFeedsOnlyEncryptedLogsToProcessor(t *testing.T) {
	db := &mockDB{}
	var nilBlock *uint64
	db.On("GetBlockNumber").Return(nilBlock, nil)
	db.On("SetBlockData", uint64(1), mock.Anything).Return(nil)

	block := &domain.Block{
		Number:       1,
		Transactions: []domain.Transaction{{TxHash: [32]byte{1}}},
	}

	encBundle := &domain.EncryptedLogBundle{BlockNumber: 1, Logs: []domain.EncryptedLog{{TxIndex: 0, LogIndexInTx: 0, Data: []byte("enc")}}}
	unencBundle := &domain.EncryptedLogBundle{BlockNumber: 1, Logs: []domain.EncryptedLog{{TxIndex: 0, LogIndexInTx: 1, Data: []byte("unenc")}}}

	node := &mockNode{}
	node.On("GetLogs", uint64(1), 1, domain.LogKindEncrypted).Return([]*domain.EncryptedLogBundle{encBundle}, nil)
	node.On("GetLogs", uint64(1), 1, domain.LogKindUnencrypted).Return([]*domain.EncryptedLogBundle{unencBundle}, nil)
	node.On("GetBlocks", uint64(1), 1).Return([]*domain.Block{block}, nil)

	seen := &recordingDecryptor{}
	var pk [64]byte
	pk[0] = 5
	np := noteprocessor.New(pk, &fakeKeyStore{pk: pk}, db, node, seen, noopHasher{}, noopContracts{}, 1, "")

	s := newTestSynchronizer(db, node)
	s.active = append(s.active, np)
	s.initialSyncBlockNumber = 0

	progressed, err := s.work(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, progressed)

	require.Len(t, seen.logs, 1)
	assert.Equal(t, []byte("enc"), seen.logs[0].Data)
}

func TestWorkNoteProcessorCatchUpEmitsDurationMs(t *testing.T) {
	db := &mockDB{}
	block := uint64(5)
	db.On("GetBlockNumber").Return(&block, nil)

	var pk [64]byte
	pk[0] = 3
	np := noteprocessor.New(pk, &fakeKeyStore{pk: pk}, db, &mockNode{}, noopDecryptor{}, noopHasher{}, noopContracts{}, 6, "")

	s := newTestSynchronizer(db, &mockNode{})
	s.catchUp.PushBack(np)

	var captured CaughtUpEvent
	s.onCaughtUp = func(e CaughtUpEvent) { captured = e }

	time.Sleep(time.Millisecond)
	progressed, err := s.workNoteProcessorCatchUp(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, progressed)

	assert.Equal(t, pk, captured.PublicKey)
	assert.GreaterOrEqual(t, captured.DurationMs, int64(1))
	assert.Len(t, s.active, 1)
}

func TestGetSyncStatusReportsBlockNumber(t *testing.T) {
	db := &mockDB{}
	block := uint64(42)
	db.On("GetBlockNumber").Return(&block, nil)
	node := &mockNode{}

	s := newTestSynchronizer(db, node)

	status, err := s.GetSyncStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), status.Blocks)
	assert.Empty(t, status.Notes)
}
