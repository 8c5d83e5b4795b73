package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"nostr-signer/go-backend/internal/adapters/rpc"
	"nostr-signer/go-backend/internal/app"
	"nostr-signer/go-backend/internal/engine"
	"nostr-signer/go-backend/internal/metrics"
)

const notificationBacklog = 256

func newServeCmd() *cobra.Command {
	var rpcAddr string
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the signer engine, the local RPC server and the metrics endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, source, err := configFromCmd(cmd)
			if err != nil {
				return err
			}
			if rpcAddr != "" {
				cfg.RPC.Addr = rpcAddr
			}
			if metricsAddr != "" {
				cfg.Metrics.Addr = metricsAddr
			}
			if strings.EqualFold(cfg.RPC.Token, "auto") {
				token, err := rpc.GenerateToken()
				if err != nil {
					return err
				}
				cfg.RPC.Token = token
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "rpc_token: %s\n", token)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := loggerFromConfig(cmd, cfg)
			logger.Info("configuration loaded", "operation", "serve.start", "source", source, "relay", cfg.Relay.Endpoint, "wallet", cfg.Wallet.PairingURL != "", "rpc_addr", cfg.RPC.Addr, "metrics_addr", cfg.Metrics.Addr)

			mgr, err := identityManager(cfg)
			if err != nil {
				return err
			}
			passphrase, err := readPassphrase(cmd, bufio.NewReader(cmd.InOrStdin()), "Key passphrase: ")
			if err != nil {
				return err
			}
			keys, id, err := mgr.Unlock(passphrase)
			if err != nil {
				return fmt.Errorf("unlock %s: %w", mgr.Path(), err)
			}
			defer keys.Close()
			logger.Info("device key unlocked", "operation", "serve.start", "npub", id.Npub)

			m := metrics.New(cfg.Metrics.Runtime)
			hub := app.NewNotificationHub(notificationBacklog)
			eng, err := engine.New(engine.Options{
				Engine:    cfg.Engine,
				Relay:     cfg.Relay,
				Signer:    cfg.Signer,
				Wallet:    cfg.Wallet,
				Keys:      keys,
				Observer:  app.HubObserver{Hub: hub},
				Approvals: app.NewApprovalStateStore(cfg.Identity.StatePath(), passphrase),
				Metrics:   m,
				Logger:    logger,
			})
			if err != nil {
				return err
			}
			server := rpc.NewServer(rpc.Options{
				Addr:         cfg.RPC.Addr,
				Token:        cfg.RPC.Token,
				RequireToken: cfg.RPC.RequireToken,
				RateLimit:    rpc.RateLimitConfig{RPS: cfg.RPC.RateLimitRPS, Burst: cfg.RPC.RateLimitBurst},
				Streams:      rpc.StreamLimitConfig{MaxGlobal: cfg.RPC.StreamMaxGlobal, MaxPerClient: cfg.RPC.StreamMaxPerClient},
				Logger:       logger,
			}, eng, hub)

			g, gctx := errgroup.WithContext(runCtx)
			g.Go(func() error { return eng.Run(gctx) })
			g.Go(func() error { return server.Run(gctx) })
			if cfg.Metrics.Addr != "" {
				g.Go(func() error { return serveMetrics(gctx, cfg.Metrics.Addr, m.Handler(), logger) })
			}
			err = g.Wait()
			logger.Info("signer stopped", "operation", "serve.stop")
			return err
		},
	}
	cmd.Flags().StringVar(&rpcAddr, "rpc-addr", "", "JSON-RPC listen address (overrides config)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus listen address (overrides config; empty disables)")
	return cmd
}

func serveMetrics(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()
	logger.Info("metrics listening", "operation", "metrics.start", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}
