package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/mailsync/internal/store"
)

var (
	listPageNum  uint32
	listPageSize uint32
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show a page of cached message summaries",
	Long: `List reads straight from the local cache without contacting the
daemon or the server, so it works offline and reflects the last sync.`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().Uint32Var(&listPageNum, "page", 0, "zero-based page index, newest first")
	listCmd.Flags().Uint32Var(&listPageSize, "page-size", 20, "summaries per page")
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	repo, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	page, err := repo.ListPage(cmd.Context(), listPageNum, listPageSize)
	if err != nil {
		return err
	}
	if len(page) == 0 {
		fmt.Println("no cached messages on this page")
		return nil
	}

	for _, s := range page {
		date := ""
		if s.DateEpoch > 0 {
			date = time.Unix(s.DateEpoch, 0).Format("2006-01-02 15:04")
		}
		fmt.Printf("%8d  %-16s  %-24.24s  %s\n", s.ID, date, s.FromName, s.Subject)
	}
	return nil
}
