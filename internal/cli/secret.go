package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nhle/mailsync/internal/credential"
)

var secretClientID string

var setSecretCmd = &cobra.Command{
	Use:   "set-client-secret",
	Short: "Store the OAuth client secret in the system keyring",
	Long: `Set-client-secret reads the secret from stdin and stores it in the
system credential store, keyed by the OAuth client ID. The config file
never holds the secret. Omit --client-id to use the configured one.`,
	RunE: runSetSecret,
}

func init() {
	rootCmd.AddCommand(setSecretCmd)
	setSecretCmd.Flags().StringVar(&secretClientID, "client-id", "", "OAuth client ID the secret belongs to")
}

func runSetSecret(cmd *cobra.Command, args []string) error {
	clientID := secretClientID
	if clientID == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		clientID = cfg.ClientID
	}

	fmt.Fprint(os.Stderr, "Client secret: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("reading secret: %w", err)
	}
	secret := strings.TrimSpace(line)
	if secret == "" {
		return fmt.Errorf("empty secret")
	}

	if err := (credential.Store{}).Set(credential.ClientSecretKey(clientID), secret); err != nil {
		return err
	}
	fmt.Println("client secret stored")
	return nil
}
