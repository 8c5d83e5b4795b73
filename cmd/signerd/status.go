package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"nostr-signer/go-backend/internal/engine"
)

func newStatusCmd() *cobra.Command {
	var outputJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running daemon over its local RPC endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := configFromCmd(cmd)
			if err != nil {
				return err
			}
			var st engine.Status
			if err := callRPC(cmd, "http://"+cfg.RPC.Addr+"/rpc", cfg.RPC.Token, "engine.status", &st); err != nil {
				return err
			}
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "pubkey: %s\nrelay: %s (%s, attempts=%d)\n", st.PublicKey, st.Relay.Endpoint, st.Relay.State, st.Relay.Attempts)
			_, _ = fmt.Fprintf(out, "pending_approvals: %d\noutbox: %d\nwallet_paired: %v\n", len(st.PendingApprovals), st.Outbox, st.WalletPaired)
			if st.Invoice != nil {
				_, _ = fmt.Fprintf(out, "invoice: %s %d msat\n", st.Invoice.Status, st.Invoice.AmountMsat)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print as JSON")
	return cmd
}

func callRPC(cmd *cobra.Command, endpoint, token, method string, out any) error {
	body, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "method": method})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc %s: http %d", method, resp.StatusCode)
	}
	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return err
	}
	if envelope.Error != nil {
		return fmt.Errorf("rpc %s: %s (%d)", method, envelope.Error.Message, envelope.Error.Code)
	}
	return json.Unmarshal(envelope.Result, out)
}
