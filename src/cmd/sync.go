package cmd

import (
	"context"
	"errors"

	"github.com/l2privacy/client-sync/src/domain"
	"github.com/l2privacy/client-sync/src/monitor"
	"github.com/l2privacy/client-sync/src/noderpc"
	"github.com/l2privacy/client-sync/src/notehasher"
	"github.com/l2privacy/client-sync/src/store"
	"github.com/l2privacy/client-sync/src/synchronizer"
	"github.com/l2privacy/client-sync/src/utils/logger"
	"github.com/l2privacy/client-sync/src/utils/task"

	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(syncCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Scan L2 blocks and maintain the local note database",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		log := logger.NewSublogger("sync-cmd")

		if err = store.Migrate(ctx, conf); err != nil {
			return err
		}

		db, err := store.NewConnection(ctx, conf, "l2sync")
		if err != nil {
			return err
		}

		// decryptor and contracts are owned by the wider client that
		// embeds this module as a library: a wallet supplies the
		// decryption capability and contract bytecode cache to
		// synchronizer.New before calling AddAccount. The bare binary
		// only observes global chain progress.
		sync := synchronizer.New(&conf.Synchronizer, store.New(db), noderpc.New(&conf.Node),
			noopDecryptor{}, notehasher.Keccak{}, noopContractRegistry{}, "").
			WithOnCaughtUp(func(event synchronizer.CaughtUpEvent) {
				log.WithField("publicKey", event.PublicKey).Info("Note processor caught up")
			})

		report := monitor.NewMonitor().WithMaxHistorySize(30)
		server := monitor.NewServer(conf).
			WithMonitor(report).
			WithSyncStatusProvider(sync)

		sync.WithInstrumentation(
			func() { report.Report.Errors.TransientNode.Inc() },
			func() { report.Report.Errors.MalformedBatch.Inc() },
			func() { report.Report.Errors.Database.Inc() },
			func(h uint64) { report.Report.NodeCurrentHeight.Store(int64(h)) },
			func(h uint64) { report.Report.SyncerCurrentHeight.Store(int64(h)) },
		)

		controller := task.NewTask(conf, "sync-controller").
			WithSubtask(report.Task).
			WithSubtask(server.Task)
		if err = controller.Start(); err != nil {
			return err
		}

		if err = sync.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()

		log.Info("Shutting down")
		if err = sync.Stop(context.Background()); err != nil {
			log.WithError(err).Error("Failed to stop synchronizer cleanly")
		}
		controller.StopWait()
		return nil
	},
	PostRunE: func(cmd *cobra.Command, args []string) (err error) {
		log := logger.NewSublogger("root-cmd")
		log.Debug("Finished sync command")
		return
	},
}

var errNoDecryptorWired = errors.New("no NoteDecryptor wired: this binary only observes global chain progress")

type noopDecryptor struct{}

func (noopDecryptor) Decrypt(log *domain.EncryptedLog, keyStore domain.KeyStore) (*domain.DecodedNote, error) {
	return nil, errNoDecryptorWired
}

type noopContractRegistry struct{}

func (noopContractRegistry) HasCode(addr [32]byte) bool { return false }
