// Package synchronizer implements the top-level control loop from
// spec.md §4.6: it composes the SerialQueue, PeriodicTicker, NodeClient,
// Database, and one NoteProcessor per registered account into the
// background sync process described in §2 component 6.
package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/l2privacy/client-sync/src/domain"
	"github.com/l2privacy/client-sync/src/noteprocessor"
	"github.com/l2privacy/client-sync/src/syncqueue"
	"github.com/l2privacy/client-sync/src/ticker"
	"github.com/l2privacy/client-sync/src/utils/config"
	"github.com/l2privacy/client-sync/src/utils/logger"
	"github.com/l2privacy/client-sync/src/utils/task"

	"github.com/gammazero/deque"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CaughtUpEvent is emitted when a catching-up NoteProcessor reaches the
// global cursor, per spec.md §6's "note-processor-caught-up" event.
type CaughtUpEvent struct {
	PublicKey  [64]byte
	DurationMs int64
	DbSize     uint64
	Stats      noteprocessor.Stats
}

// SyncStatus is the response shape for getSyncStatus (spec.md §6).
type SyncStatus struct {
	Blocks uint64
	Notes  map[string]uint64
}

// Synchronizer is the control plane from spec.md §4.6.
type Synchronizer struct {
	cfg       *config.Synchronizer
	db        domain.Database
	node      domain.NodeClient
	contracts domain.ContractRegistry
	decryptor domain.NoteDecryptor
	hasher    domain.NoteHasher

	queue  *syncqueue.SerialQueue
	ticker *ticker.PeriodicTicker

	log        *logrus.Entry
	instanceID string

	// onCaughtUp is called from within the queue's worker goroutine; it
	// must not block or submit to the queue itself.
	onCaughtUp func(CaughtUpEvent)

	// Instrumentation hooks wired by the caller (e.g. to monitor.Report
	// counters), all invoked from within the queue's worker goroutine.
	// Left as no-ops by default so Synchronizer has no dependency on the
	// monitor package.
	onTransientNodeErr  func()
	onMalformedBatchErr func()
	onDatabaseErr       func()
	onNodeHeight        func(uint64)
	onSyncerHeight      func(uint64)

	startMu sync.Mutex
	running bool

	// active and catchUp are owned exclusively by the queue's worker
	// goroutine (spec.md §5); every access happens inside a queue Task.
	active  []*noteprocessor.NoteProcessor
	catchUp deque.Deque[*noteprocessor.NoteProcessor]

	initialSyncBlockNumber uint64
}

// New constructs a Synchronizer. instanceID, if non-empty, suffixes the
// sublogger tag for multi-instance deployments (spec.md §6).
func New(cfg *config.Synchronizer, db domain.Database, node domain.NodeClient,
	decryptor domain.NoteDecryptor, hasher domain.NoteHasher, contracts domain.ContractRegistry,
	instanceID string) *Synchronizer {

	tag := "synchronizer"
	if instanceID != "" {
		tag = fmt.Sprintf("synchronizer[%s]", instanceID)
	}

	return &Synchronizer{
		cfg:                 cfg,
		db:                  db,
		node:                node,
		contracts:           contracts,
		decryptor:           decryptor,
		hasher:              hasher,
		queue:               syncqueue.New(tag),
		log:                 logger.NewSublogger(tag),
		instanceID:          instanceID,
		onCaughtUp:          func(CaughtUpEvent) {},
		onTransientNodeErr:  func() {},
		onMalformedBatchErr: func() {},
		onDatabaseErr:       func() {},
		onNodeHeight:        func(uint64) {},
		onSyncerHeight:      func(uint64) {},
	}
}

// WithOnCaughtUp registers a callback for the note-processor-caught-up
// event. Must be called before Start.
func (self *Synchronizer) WithOnCaughtUp(f func(CaughtUpEvent)) *Synchronizer {
	self.onCaughtUp = f
	return self
}

// WithInstrumentation registers callbacks for the error and height
// counters a monitor.Report exposes at GET /status. Must be called
// before Start.
func (self *Synchronizer) WithInstrumentation(onTransientNodeErr, onMalformedBatchErr, onDatabaseErr func(), onNodeHeight, onSyncerHeight func(uint64)) *Synchronizer {
	self.onTransientNodeErr = onTransientNodeErr
	self.onMalformedBatchErr = onMalformedBatchErr
	self.onDatabaseErr = onDatabaseErr
	self.onNodeHeight = onNodeHeight
	self.onSyncerHeight = onSyncerHeight
	return self
}

// Start is idempotent: it submits initialSync to the queue and awaits it,
// then starts the periodic ticker driving sync(limit).
func (self *Synchronizer) Start(ctx context.Context) error {
	self.startMu.Lock()
	defer self.startMu.Unlock()

	if self.running {
		return nil
	}

	future := self.queue.Put(self.initialSync)
	if _, err := future.Wait(ctx); err != nil {
		return fmt.Errorf("initial sync: %w", err)
	}

	limit := self.cfg.Limit
	if limit < 1 {
		limit = 1
	}

	self.ticker = ticker.New("sync", func(tickCtx context.Context) (bool, error) {
		return self.tick(tickCtx, limit)
	}, self.cfg.RetryInterval)
	self.ticker.Start(ctx)

	self.running = true
	return nil
}

// Stop stops the ticker and drains the queue.
func (self *Synchronizer) Stop(ctx context.Context) error {
	self.startMu.Lock()
	defer self.startMu.Unlock()

	if !self.running {
		return nil
	}
	self.running = false

	if self.ticker != nil {
		self.ticker.Stop()
	}
	return self.queue.End(ctx)
}

func (self *Synchronizer) isRunning() bool {
	self.startMu.Lock()
	defer self.startMu.Unlock()
	return self.running
}

// retry wraps f in a pinned-interval sleep-and-retry (§7: "no exponential
// backoff at this layer"), bounded by cfg.InnerRetryMaxElapsedTime. It
// absorbs a handful of quick retries within a single queue task before
// the caller falls back to the outer tick cadence.
func (self *Synchronizer) retry(ctx context.Context, label string, f func() error) error {
	return task.NewRetry().
		WithContext(ctx).
		WithInitialInterval(self.cfg.InnerRetryInterval).
		WithMaxInterval(self.cfg.InnerRetryInterval).
		WithMaxElapsedTime(self.cfg.InnerRetryMaxElapsedTime).
		WithOnError(func(err error) {
			self.log.WithError(err).Debugf("Retrying %s", label)
		}).
		Run(f)
}

func (self *Synchronizer) initialSync(ctx context.Context) (any, error) {
	var blockNumber uint64
	err := self.retry(ctx, "GetBlockNumber", func() (err error) {
		blockNumber, err = self.node.GetBlockNumber(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrTransientNode, err)
	}

	var header *domain.BlockHeader
	err = self.retry(ctx, "GetBlockHeader", func() (err error) {
		header, err = self.node.GetBlockHeader(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrTransientNode, err)
	}

	err = self.retry(ctx, "SetBlockData", func() error {
		return self.db.SetBlockData(ctx, blockNumber, header)
	})
	if err != nil {
		self.onDatabaseErr()
		return nil, err
	}

	self.initialSyncBlockNumber = blockNumber
	self.onNodeHeight(blockNumber)
	self.onSyncerHeight(blockNumber)
	return nil, nil
}

// tick is the PeriodicTicker's Fn: it runs sync's inner loop (spec.md
// §4.6 sync) to completion, submitting one work unit to the queue per
// iteration so foreground tasks can interleave between them, then
// reports no further progress so the ticker sleeps retryInterval.
func (self *Synchronizer) tick(ctx context.Context, limit int) (bool, error) {
	correlationID := uuid.New().String()
	log := self.log.WithField("correlationId", correlationID)

	for self.isRunning() {
		future := self.queue.Put(func(taskCtx context.Context) (any, error) {
			if self.catchUp.Len() > 0 {
				return self.workNoteProcessorCatchUp(taskCtx, limit)
			}
			return self.work(taskCtx, limit)
		})

		result, err := future.Wait(ctx)
		if err != nil {
			log.WithError(err).Error("Sync task failed")
			return false, err
		}

		progressed, _ := result.(bool)
		if !progressed {
			break
		}
	}

	return false, nil
}

// work is step "work(limit)" from spec.md §4.6; it must run inside a
// queue task, since it reads/writes self.active.
func (self *Synchronizer) work(ctx context.Context, limit int) (bool, error) {
	var dbBlock *uint64
	err := self.retry(ctx, "GetBlockNumber", func() (err error) {
		dbBlock, err = self.db.GetBlockNumber(ctx)
		return err
	})
	if err != nil {
		self.onDatabaseErr()
		return false, err
	}

	from := self.initialSyncBlockNumber + 1
	if dbBlock != nil {
		from = *dbBlock + 1
	}

	var encLogs []*domain.EncryptedLogBundle
	err = self.retry(ctx, "GetLogs(encrypted)", func() (err error) {
		encLogs, err = self.node.GetLogs(ctx, from, limit, domain.LogKindEncrypted)
		return err
	})
	if err != nil {
		return self.handleNodeErr(err)
	}
	if len(encLogs) == 0 {
		return false, nil
	}

	var unLogs []*domain.EncryptedLogBundle
	err = self.retry(ctx, "GetLogs(unencrypted)", func() (err error) {
		unLogs, err = self.node.GetLogs(ctx, from, limit, domain.LogKindUnencrypted)
		return err
	})
	if err != nil {
		return self.handleNodeErr(err)
	}
	unLogsWasNil := unLogs == nil
	if !unLogsWasNil && len(unLogs) == 0 {
		return false, nil
	}

	var blocks []*domain.Block
	err = self.retry(ctx, "GetBlocks", func() (err error) {
		blocks, err = self.node.GetBlocks(ctx, from, len(encLogs))
		return err
	})
	if err != nil {
		return self.handleNodeErr(err)
	}
	if len(blocks) == 0 {
		return false, nil
	}

	if len(encLogs) > len(blocks) {
		encLogs = encLogs[:len(blocks)]
	}

	// unLogs is only the step-3 emptiness gate above; NoteProcessor.Process
	// is driven off encLogs alone (spec.md §4.6 step 8).
	var filteredBlocks []*domain.Block
	var filteredLogs []*domain.EncryptedLogBundle
	for i, b := range blocks {
		if b.Number < from {
			continue
		}
		filteredBlocks = append(filteredBlocks, b)
		filteredLogs = append(filteredLogs, encLogs[i])
	}
	if len(filteredBlocks) == 0 {
		return false, nil
	}

	blockContexts := make([]*domain.L2BlockContext, len(filteredBlocks))
	for i, b := range filteredBlocks {
		blockContexts[i] = domain.NewL2BlockContext(b)
	}

	lastBlock := filteredBlocks[len(filteredBlocks)-1]
	if lastBlock.Number >= self.initialSyncBlockNumber {
		err := self.retry(ctx, "SetBlockData", func() error {
			return self.db.SetBlockData(ctx, lastBlock.Number, &lastBlock.Header)
		})
		if err != nil {
			self.onDatabaseErr()
			return false, err
		}
	}
	self.onSyncerHeight(lastBlock.Number)

	for _, processor := range self.active {
		if err := processor.Process(ctx, blockContexts, filteredLogs); err != nil {
			self.onDatabaseErr()
			return false, err
		}
	}

	return true, nil
}

func (self *Synchronizer) handleNodeErr(err error) (bool, error) {
	switch {
	case errors.Is(err, domain.ErrTransientNode):
		self.onTransientNodeErr()
		self.log.WithError(err).Debug("Node error, will retry next tick")
		return false, nil
	case errors.Is(err, domain.ErrMalformedBatch):
		self.onMalformedBatchErr()
		self.log.WithError(err).Debug("Node error, will retry next tick")
		return false, nil
	}
	return false, err
}

// workNoteProcessorCatchUp is spec.md §4.6's catch-up mode, operating on
// catchUp's head. Must run inside a queue task.
func (self *Synchronizer) workNoteProcessorCatchUp(ctx context.Context, limit int) (bool, error) {
	if self.catchUp.Len() == 0 {
		return false, nil
	}
	processor := self.catchUp.Front()

	var dbBlock *uint64
	err := self.retry(ctx, "GetBlockNumber", func() (err error) {
		dbBlock, err = self.db.GetBlockNumber(ctx)
		return err
	})
	if err != nil {
		self.onDatabaseErr()
		return false, err
	}
	if dbBlock == nil {
		return false, fmt.Errorf("%w: global cursor unset during catch-up", domain.ErrInvariantViolation)
	}
	to := *dbBlock

	if processor.SyncedToBlock() >= to {
		self.catchUp.PopFront()
		self.active = append(self.active, processor)
		self.emitCaughtUp(ctx, processor)
		return true, nil
	}

	from := processor.SyncedToBlock() + 1
	effectiveLimit := limit
	if remaining := int(to - from + 1); remaining < effectiveLimit {
		effectiveLimit = remaining
	}
	if effectiveLimit < 1 {
		return false, fmt.Errorf("%w: catch-up limit %d < 1 (from=%d, to=%d)", domain.ErrInvariantViolation, effectiveLimit, from, to)
	}

	var encLogs []*domain.EncryptedLogBundle
	err = self.retry(ctx, "GetLogs(encrypted)", func() (err error) {
		encLogs, err = self.node.GetLogs(ctx, from, effectiveLimit, domain.LogKindEncrypted)
		return err
	})
	if err != nil {
		return self.handleNodeErr(err)
	}
	if len(encLogs) == 0 {
		return self.handleNodeErr(fmt.Errorf("%w: empty encrypted logs during catch-up", domain.ErrMalformedBatch))
	}

	var blocks []*domain.Block
	err = self.retry(ctx, "GetBlocks", func() (err error) {
		blocks, err = self.node.GetBlocks(ctx, from, len(encLogs))
		return err
	})
	if err != nil {
		return self.handleNodeErr(err)
	}
	if len(blocks) == 0 {
		return self.handleNodeErr(fmt.Errorf("%w: empty blocks during catch-up", domain.ErrMalformedBatch))
	}

	if len(encLogs) > len(blocks) {
		encLogs = encLogs[:len(blocks)]
	}

	blockContexts := make([]*domain.L2BlockContext, len(blocks))
	for i, b := range blocks {
		blockContexts[i] = domain.NewL2BlockContext(b)
	}

	if err := processor.Process(ctx, blockContexts, encLogs); err != nil {
		self.onDatabaseErr()
		return false, err
	}

	return true, nil
}

func (self *Synchronizer) emitCaughtUp(ctx context.Context, processor *noteprocessor.NoteProcessor) {
	dbSize, err := self.db.EstimateSize(ctx)
	if err != nil {
		self.log.WithError(err).Debug("Failed to estimate DB size for caught-up event")
	}

	self.onCaughtUp(CaughtUpEvent{
		PublicKey:  processor.PublicKey(),
		DurationMs: processor.Elapsed().Milliseconds(),
		DbSize:     dbSize,
		Stats:      processor.Stats,
	})
}

// AddAccount is idempotent and never suspends: it enqueues the
// registration and returns immediately (spec.md §4.6).
func (self *Synchronizer) AddAccount(publicKey [64]byte, keyStore domain.KeyStore, startingBlock uint64) {
	self.queue.Put(func(ctx context.Context) (any, error) {
		for _, p := range self.active {
			if p.PublicKey() == publicKey {
				return nil, nil
			}
		}
		for i := 0; i < self.catchUp.Len(); i++ {
			if self.catchUp.At(i).PublicKey() == publicKey {
				return nil, nil
			}
		}

		effectiveStart := startingBlock
		status, err := self.db.GetNoteProcessorStatus(ctx, publicKey)
		if err != nil {
			self.log.WithError(err).Error("Failed to load persisted note processor status")
		} else if status != nil {
			effectiveStart = status.SyncedToBlock + 1
		}

		np := noteprocessor.New(publicKey, keyStore, self.db, self.node, self.decryptor, self.hasher, self.contracts, effectiveStart, self.tagSuffix())
		self.catchUp.PushBack(np)

		complete := &domain.CompleteAddress{PublicKey: publicKey}
		if err := self.db.SetCompleteAddress(ctx, complete); err != nil {
			self.log.WithError(err).Error("Failed to persist account registration")
		}

		return nil, nil
	})
}

func (self *Synchronizer) tagSuffix() string {
	if self.instanceID == "" {
		return ""
	}
	return "[" + self.instanceID + "]"
}

// ReprocessDeferredNotesForContract implements spec.md §4.6's
// reprocessDeferredNotesForContract, submitted through the serial queue.
func (self *Synchronizer) ReprocessDeferredNotesForContract(ctx context.Context, address [32]byte) error {
	future := self.queue.Put(func(taskCtx context.Context) (any, error) {
		return nil, self.reprocessDeferredNotesForContract(taskCtx, address)
	})
	_, err := future.Wait(ctx)
	return err
}

func (self *Synchronizer) reprocessDeferredNotesForContract(ctx context.Context, address [32]byte) error {
	deferred, err := self.db.GetDeferredNotesByContract(ctx, address)
	if err != nil {
		return err
	}
	if len(deferred) == 0 {
		return nil
	}

	byTxHash := make(map[[32]byte][]*domain.DeferredNoteDao)
	for _, d := range deferred {
		byTxHash[d.TxHash] = append(byTxHash[d.TxHash], d)
	}

	var newNotes []*domain.NoteDao
	for _, group := range byTxHash {
		for _, processor := range self.active {
			var forProcessor []*domain.DeferredNoteDao
			for _, d := range group {
				if d.PublicKey == processor.PublicKey() {
					forProcessor = append(forProcessor, d)
				}
			}
			if len(forProcessor) == 0 {
				continue
			}
			newNotes = append(newNotes, processor.DecodeDeferredNotes(forProcessor)...)
		}
	}

	if _, err := self.db.RemoveDeferredNotesByContract(ctx, address); err != nil {
		return err
	}
	if len(newNotes) > 0 {
		if err := self.db.AddNotes(ctx, newNotes); err != nil {
			return err
		}
	}

	byPublicKey := make(map[[64]byte][]*domain.NoteDao)
	for _, n := range newNotes {
		byPublicKey[n.PublicKey] = append(byPublicKey[n.PublicKey], n)
	}

	for publicKey, notes := range byPublicKey {
		var relevantNullifiers [][32]byte
		for _, n := range notes {
			leafIndex, err := self.node.FindLeafIndex(ctx, domain.LatestSnapshot, domain.TreeIDNullifier, n.SiloedNullifier)
			if err != nil {
				return err
			}
			if leafIndex != nil {
				relevantNullifiers = append(relevantNullifiers, n.SiloedNullifier)
			}
		}
		if len(relevantNullifiers) == 0 {
			continue
		}
		if _, err := self.db.RemoveNullifiedNotes(ctx, relevantNullifiers, publicKey); err != nil {
			return err
		}
	}

	return nil
}

// GetSyncStatus implements spec.md §6's getSyncStatus.
func (self *Synchronizer) GetSyncStatus(ctx context.Context) (*SyncStatus, error) {
	future := self.queue.Put(func(taskCtx context.Context) (any, error) {
		blockNumber, err := self.db.GetBlockNumber(taskCtx)
		if err != nil {
			return nil, err
		}

		status := &SyncStatus{Notes: make(map[string]uint64)}
		if blockNumber != nil {
			status.Blocks = *blockNumber
		}
		for _, p := range self.active {
			status.Notes[fmt.Sprintf("%x", p.PublicKey())] = p.SyncedToBlock()
		}
		return status, nil
	})

	result, err := future.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return result.(*SyncStatus), nil
}

// IsGlobalStateSynchronized implements spec.md §6's isGlobalStateSynchronized.
func (self *Synchronizer) IsGlobalStateSynchronized(ctx context.Context) (bool, error) {
	future := self.queue.Put(func(taskCtx context.Context) (any, error) {
		latest, err := self.node.GetBlockNumber(taskCtx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrTransientNode, err)
		}
		blockNumber, err := self.db.GetBlockNumber(taskCtx)
		if err != nil {
			return nil, err
		}
		return blockNumber != nil && *blockNumber >= latest, nil
	})

	result, err := future.Wait(ctx)
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// IsAccountStateSynchronized implements spec.md §6's
// isAccountStateSynchronized. It raises ErrUnregisteredAccount for a
// public key with no processor and no DB registration, and
// ErrRecipientOnlyAccount for one known only as a note recipient.
func (self *Synchronizer) IsAccountStateSynchronized(ctx context.Context, publicKey [64]byte) (bool, error) {
	future := self.queue.Put(func(taskCtx context.Context) (any, error) {
		for _, p := range self.active {
			if p.PublicKey() == publicKey {
				return p.IsSynchronized(taskCtx)
			}
		}
		for i := 0; i < self.catchUp.Len(); i++ {
			p := self.catchUp.At(i)
			if p.PublicKey() == publicKey {
				return p.IsSynchronized(taskCtx)
			}
		}

		complete, err := self.db.GetCompleteAddress(taskCtx, publicKey)
		if err != nil {
			return nil, err
		}
		if complete == nil {
			return nil, domain.ErrUnregisteredAccount
		}
		return nil, domain.ErrRecipientOnlyAccount
	})

	result, err := future.Wait(ctx)
	if err != nil {
		return false, err
	}
	if result == nil {
		return false, nil
	}
	return result.(bool), nil
}
