package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhle/mailsync/internal/control"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the daemon is alive",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := control.Send(control.Request{Cmd: control.CmdPing})
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}

func printResponse(resp *control.Response) error {
	if !resp.OK {
		return fmt.Errorf("daemon: %s", resp.Message)
	}
	fmt.Println(resp.Message)
	return nil
}
