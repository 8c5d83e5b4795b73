package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"nostr-signer/go-backend/internal/identity"
)

func newKeygenCmd() *cobra.Command {
	var force bool
	var outputJSON bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a device key from a new mnemonic and store it encrypted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := configFromCmd(cmd)
			if err != nil {
				return err
			}
			mgr, err := identityManager(cfg)
			if err != nil {
				return err
			}
			in := bufio.NewReader(cmd.InOrStdin())
			passphrase, err := readPassphrase(cmd, in, "New key passphrase: ")
			if err != nil {
				return err
			}
			id, mnemonic, err := mgr.Create(passphrase, force)
			if err != nil {
				return fmt.Errorf("create key file %s: %w", mgr.Path(), err)
			}
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"pubkey":   id.PubKey,
					"npub":     id.Npub,
					"key_file": mgr.Path(),
					"mnemonic": mnemonic,
				})
			}
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Write the mnemonic down; it is shown once and is the only backup of this key.")
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "pubkey: %s\nnpub: %s\nkey_file: %s\nmnemonic: %s\n", id.PubKey, id.Npub, mgr.Path(), mnemonic)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing key file")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print as JSON")
	return cmd
}

func newImportCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "import [secret|-]",
		Short: "Import an existing key (hex, nsec or mnemonic) into the encrypted key file",
		Long:  "Import an existing key. Pass - or nothing to read the secret from the first line of stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := configFromCmd(cmd)
			if err != nil {
				return err
			}
			mgr, err := identityManager(cfg)
			if err != nil {
				return err
			}
			in := bufio.NewReader(cmd.InOrStdin())
			secret := ""
			if len(args) == 1 && args[0] != "-" {
				secret = args[0]
			} else {
				_, _ = fmt.Fprint(cmd.ErrOrStderr(), "Secret (hex, nsec or mnemonic): ")
				if secret, err = readLine(in); err != nil {
					return err
				}
			}
			if strings.TrimSpace(secret) == "" {
				return errors.New("secret is required")
			}
			passphrase, err := readPassphrase(cmd, in, "New key passphrase: ")
			if err != nil {
				return err
			}
			id, err := mgr.Import(secret, passphrase, force)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "pubkey: %s\nnpub: %s\nsource: %s\nkey_file: %s\n", id.PubKey, id.Npub, id.Source, mgr.Path())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing key file")
	return cmd
}

func newPubkeyCmd() *cobra.Command {
	var outputJSON bool
	cmd := &cobra.Command{
		Use:   "pubkey",
		Short: "Print the device public key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := unlockIdentity(cmd)
			if err != nil {
				return err
			}
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), id)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "pubkey: %s\nnpub: %s\n", id.PubKey, id.Npub)
			return nil
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print as JSON")
	return cmd
}

// unlockIdentity opens the key file only to describe it; the key is wiped
// before returning.
func unlockIdentity(cmd *cobra.Command) (identity.Identity, error) {
	cfg, _, err := configFromCmd(cmd)
	if err != nil {
		return identity.Identity{}, err
	}
	mgr, err := identityManager(cfg)
	if err != nil {
		return identity.Identity{}, err
	}
	passphrase, err := readPassphrase(cmd, bufio.NewReader(cmd.InOrStdin()), "Key passphrase: ")
	if err != nil {
		return identity.Identity{}, err
	}
	keys, id, err := mgr.Unlock(passphrase)
	if err != nil {
		return identity.Identity{}, err
	}
	keys.Close()
	return id, nil
}
