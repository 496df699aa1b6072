package cli

import (
	"github.com/spf13/cobra"

	"github.com/nhle/mailsync/internal/control"
)

var fetchRawUID uint32

var fetchRawCmd = &cobra.Command{
	Use:   "fetch-raw",
	Short: "Ask the daemon to download and cache one complete message",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := control.Send(control.Request{
			Cmd: control.CmdFetchRaw,
			UID: fetchRawUID,
		})
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}

func init() {
	rootCmd.AddCommand(fetchRawCmd)
	fetchRawCmd.Flags().Uint32Var(&fetchRawUID, "uid", 0, "message identifier to download")
	_ = fetchRawCmd.MarkFlagRequired("uid")
}
