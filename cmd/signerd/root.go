package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "signerd",
		Short:         "Nostr remote signer daemon with a wallet-connect sub-client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := resolveLogLevel(cmd)
			return err
		},
	}
	cmd.PersistentFlags().String("config", "", "Path to signer.yaml (default: configs/signer.yaml, signer.yaml)")
	cmd.PersistentFlags().String("key-file", "", "Encrypted device key file (overrides config)")
	cmd.PersistentFlags().String("passphrase-file", "", "Read the key passphrase from this file instead of SIGNER_KEY_PASSPHRASE or stdin")
	cmd.PersistentFlags().String("log-level", "", "Log level: debug|info|warn|error")
	cmd.PersistentFlags().String("log-format", "", "Log format: text|json")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newKeygenCmd())
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newPubkeyCmd())
	cmd.AddCommand(newBunkerCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}
