// Package cli wires the mailsync commands: the long-running daemon plus
// thin clients that talk to it over the control socket.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/nhle/mailsync/internal/model"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "mailsync",
	Short: "Personal mailbox sync daemon",
	Long: `mailsync keeps a local SQLite cache of your inbox in step with the
server: a daemon polls on a schedule, reacts to IMAP push notifications,
and raises a desktop notification for every newly arrived message.

The remaining commands talk to a running daemon over its control socket.`,
	SilenceUsage: true,
}

// Execute runs the root command under the given signal-aware context.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default: ~/.config/mailsync/config.yaml)")
}

func loadConfig() (*model.AppConfig, error) {
	path := configPath
	if path == "" {
		path = model.DefaultConfigPath()
	}
	return model.LoadConfig(path)
}
