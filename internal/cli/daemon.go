package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/mailsync/internal/auth"
	"github.com/nhle/mailsync/internal/control"
	"github.com/nhle/mailsync/internal/credential"
	"github.com/nhle/mailsync/internal/daemon"
	"github.com/nhle/mailsync/internal/logger"
	"github.com/nhle/mailsync/internal/mail"
	"github.com/nhle/mailsync/internal/notifier"
	"github.com/nhle/mailsync/internal/store"
)

var (
	daemonInterval int
	daemonKeep     int
	daemonPages    int
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon in the foreground",
	Long: `Daemon runs the synchronization loop: scheduled polling, IMAP IDLE
push, cache pruning, and desktop notifications for new mail. On first
run it opens a browser for the OAuth consent flow.

Only one instance runs at a time; a second invocation exits cleanly.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().IntVar(&daemonInterval, "interval", 0, "poll interval in seconds (overrides config)")
	daemonCmd.Flags().IntVar(&daemonKeep, "keep", 0, "summaries to retain after pruning (overrides config)")
	daemonCmd.Flags().IntVar(&daemonPages, "pages", 0, "pages refreshed per cycle (overrides config)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if daemonInterval > 0 {
		cfg.Daemon.IntervalSec = daemonInterval
	}
	if daemonKeep > 0 {
		cfg.Daemon.KeepRecent = daemonKeep
	}
	if daemonPages > 0 {
		cfg.Daemon.Pages = daemonPages
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()
	log := zl.Sugar()

	repo, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	cache, err := auth.DefaultTokenCache()
	if err != nil {
		return err
	}
	tokens, err := auth.NewManager(cfg, credential.Store{}, cache, log)
	if err != nil {
		return err
	}

	d := daemon.New(
		repo,
		mail.NewClient(cfg.IMAPServer, cfg.UserEmail),
		tokens,
		notifier.NewDesktop("mailsync"),
		log,
		daemon.Config{
			Interval:   time.Duration(cfg.Daemon.IntervalSec) * time.Second,
			KeepRecent: cfg.Daemon.KeepRecent,
			Pages:      cfg.Daemon.Pages,
		},
	)

	sock, err := control.SocketPath()
	if err != nil {
		return err
	}

	err = d.Run(cmd.Context(), sock)
	if errors.Is(err, daemon.ErrAlreadyRunning) {
		fmt.Println("mailsync daemon is already running")
		return nil
	}
	return err
}
