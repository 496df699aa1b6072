package cli

import (
	"github.com/spf13/cobra"

	"github.com/nhle/mailsync/internal/control"
)

var (
	syncPageNum  uint32
	syncPageSize uint32
)

var syncPageCmd = &cobra.Command{
	Use:   "sync-page",
	Short: "Ask the daemon to refresh one page of the mailbox",
	Long: `Sync-page tells the running daemon to fetch one page of summaries
(page 0 is the newest), cache any missing bodies, and prune the cache.
It never raises notifications.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := control.Send(control.Request{
			Cmd:      control.CmdSyncPage,
			Page:     syncPageNum,
			PageSize: syncPageSize,
		})
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}

func init() {
	rootCmd.AddCommand(syncPageCmd)
	syncPageCmd.Flags().Uint32Var(&syncPageNum, "page", 0, "zero-based page index, newest first")
	syncPageCmd.Flags().Uint32Var(&syncPageSize, "page-size", 0, "messages per page (default 20)")
}
