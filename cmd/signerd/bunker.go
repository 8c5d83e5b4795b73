package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"nostr-signer/go-backend/internal/crypto"
	"nostr-signer/go-backend/internal/signer"
)

func newBunkerCmd() *cobra.Command {
	var relays []string
	cmd := &cobra.Command{
		Use:   "bunker",
		Short: "Print the bunker:// pairing URL for the configured connect secret",
		Long: "Print the bunker:// pairing URL. A running daemon without a configured " +
			"connect secret generates its own; use `signerd status` or the RPC " +
			"signer.bunker_url method to read that one.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := configFromCmd(cmd)
			if err != nil {
				return err
			}
			id, err := unlockIdentity(cmd)
			if err != nil {
				return err
			}
			pub, err := crypto.ParsePublicKeyHex(id.PubKey)
			if err != nil {
				return err
			}
			if len(relays) == 0 && cfg.Relay.Endpoint != "" {
				relays = []string{cfg.Relay.Endpoint}
			}
			if len(relays) == 0 {
				return fmt.Errorf("no relay configured; pass --relay")
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), signer.BunkerURL(pub, relays, cfg.Signer.ConnectSecret))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&relays, "relay", nil, "Relay URL to advertise (repeatable)")
	return cmd
}
