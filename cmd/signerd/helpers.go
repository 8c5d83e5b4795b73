package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"nostr-signer/go-backend/internal/app"
	"nostr-signer/go-backend/internal/config"
	"nostr-signer/go-backend/internal/identity"
)

const passphraseEnv = "SIGNER_KEY_PASSPHRASE"

var errEmptyPassphrase = errors.New("passphrase is empty")

// configFromCmd loads the config file and applies persistent flag overrides.
func configFromCmd(cmd *cobra.Command) (config.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, source, err := config.LoadFromPath(path)
	if err != nil {
		return config.Config{}, "", err
	}
	if keyFile, _ := cmd.Flags().GetString("key-file"); strings.TrimSpace(keyFile) != "" {
		cfg.Identity.KeyFile = strings.TrimSpace(keyFile)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if format, _ := cmd.Flags().GetString("log-format"); format != "" {
		cfg.Logging.Format = format
	}
	return config.Normalize(cfg), source, nil
}

func resolveLogLevel(cmd *cobra.Command) (slog.Level, error) {
	raw, _ := cmd.Flags().GetString("log-level")
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "debug", "info", "warn", "warning", "error":
		return app.ParseLevel(raw), nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid --log-level %q", raw)
	}
}

func loggerFromConfig(cmd *cobra.Command, cfg config.Config) *slog.Logger {
	return app.NewLogger(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
}

func identityManager(cfg config.Config) (*identity.Manager, error) {
	return identity.NewManager(cfg.Identity.KeyFile)
}

// readPassphrase takes the passphrase from --passphrase-file, the
// environment, or the first line of stdin, in that order.
func readPassphrase(cmd *cobra.Command, in *bufio.Reader, prompt string) (string, error) {
	if path, _ := cmd.Flags().GetString("passphrase-file"); strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return nonEmpty(strings.TrimRight(string(raw), "\r\n"))
	}
	if v := os.Getenv(passphraseEnv); v != "" {
		return v, nil
	}
	_, _ = fmt.Fprint(cmd.ErrOrStderr(), prompt)
	line, err := readLine(in)
	if err != nil {
		return "", err
	}
	return nonEmpty(line)
}

func readLine(in *bufio.Reader) (string, error) {
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func nonEmpty(v string) (string, error) {
	if v == "" {
		return "", errEmptyPassphrase
	}
	return v, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
