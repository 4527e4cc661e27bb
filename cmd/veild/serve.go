package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"veil/internal/config"
	"veil/internal/hashing"
	"veil/internal/ledger"
	"veil/internal/logging"
	"veil/internal/metrics"
	"veil/internal/mixer"
	"veil/internal/quantum"
	"veil/internal/service"
	"veil/p2p"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP daemon",
	Long: `Run the HTTP daemon with the configured ledger backend.

Examples:
  # Start with the default config (written to veil.yaml if missing)
  veild serve

  # Start with an in-memory ledger and debug logging
  VEIL_STORAGE_BACKEND=memory VEIL_LOG_LEVEL=debug veild serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Duration("shutdown-timeout", 30*time.Second, "graceful shutdown timeout")
}

func runServe(cmd *cobra.Command, _ []string) error {
	shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck
	audit := logging.NewAudit(cfg.Logging)
	defer audit.Sync() //nolint:errcheck

	store, persist, err := openStore(cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := persist(); err != nil {
			logger.Error("failed to persist ledger", zap.Error(err))
		}
	}()

	verifier, err := buildVerifier(cfg.Vault)
	if err != nil {
		return err
	}

	var prover *mixer.Prover
	if cfg.Mixer.SNARK.Enabled {
		logger.Info("loading withdrawal circuit keys", zap.String("dir", cfg.Mixer.SNARK.KeyDir))
		if prover, err = mixer.NewProver(cfg.Mixer.SNARK.KeyDir); err != nil {
			return fmt.Errorf("failed to set up mixer snark: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	var node *p2p.Node
	var network service.PaymentNetwork
	if cfg.P2P.Listen != "" {
		if node, err = startNode(cfg.P2P, &wg, logger); err != nil {
			return err
		}
		network = node
		wg.Add(1)
		go func() {
			defer wg.Done()
			node.RunHealthChecks(ctx, cfg.P2P.HealthInterval)
		}()
	}

	svc := service.New(service.Options{
		Store:           store,
		Verifier:        verifier,
		Prover:          prover,
		Metrics:         metrics.New(),
		Logger:          logger,
		Audit:           audit,
		ThreatWindow:    cfg.Threat.Window,
		DefaultTimeLock: cfg.Vault.DefaultTimeLock,
		Network:         network,
	})
	health := service.NewHealthChecker(Version)
	health.RegisterDefaultChecks(svc)
	limiter := service.NewClientRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	api := service.NewAPI(svc, health, limiter)

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           api.Router(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting veild",
			zap.String("version", Version),
			zap.String("listen", cfg.Server.Listen),
			zap.String("storage", cfg.Storage.Backend),
			zap.String("verifier", cfg.Vault.Verifier),
			zap.Bool("snark", svc.SNARKEnabled()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down gracefully", zap.Error(err))
	}
	stop()
	if node != nil {
		_ = node.Close()
	}
	wg.Wait()
	logger.Info("veild stopped")
	return nil
}

// openStore returns the ledger and a function that persists it on shutdown.
func openStore(cfg config.StorageConfig, logger *zap.Logger) (ledger.Store, func() error, error) {
	switch cfg.Backend {
	case config.BackendBolt:
		if err := os.MkdirAll(dirOf(cfg.Path), 0o755); err != nil {
			return nil, nil, errors.Wrap(err, "create storage directory")
		}
		store, err := ledger.OpenBolt(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		l := ledger.NewLedger()
		if cfg.SnapshotPath != "" {
			if loaded, err := ledger.LoadLedgerFromFile(cfg.SnapshotPath); err == nil {
				l = loaded
				logger.Info("restored ledger snapshot", zap.String("path", cfg.SnapshotPath))
			} else if !os.IsNotExist(errors.Cause(err)) {
				return nil, nil, err
			}
		}
		persist := func() error {
			if cfg.SnapshotPath == "" {
				return nil
			}
			if err := os.MkdirAll(dirOf(cfg.SnapshotPath), 0o755); err != nil {
				return err
			}
			return l.SaveToFile(cfg.SnapshotPath)
		}
		return l, persist, nil
	}
}

func dirOf(path string) string {
	if i := strings.LastIndexByte(path, '/'); i > 0 {
		return path[:i]
	}
	return "."
}

func buildVerifier(cfg config.VaultConfig) (quantum.Verifier, error) {
	if cfg.Verifier != config.VerifierDilithium {
		return quantum.LengthVerifier{}, nil
	}
	v := quantum.NewDilithiumVerifier()
	for i, encoded := range cfg.DilithiumKeys {
		packed, err := hex.DecodeString(encoded)
		if err != nil {
			return nil, errors.Wrapf(err, "vault.dilithium_keys[%d]", i)
		}
		if _, err := v.RegisterPacked(packed); err != nil {
			return nil, errors.Wrapf(err, "vault.dilithium_keys[%d]", i)
		}
	}
	return v, nil
}

// startNode starts the announcement gossip node. Peers are given as id=host:port. With a
// scan key the node records, and logs, every relayed payment addressed to that key.
func startNode(cfg config.P2PConfig, wg *sync.WaitGroup, logger *zap.Logger) (*p2p.Node, error) {
	peers := make(map[string]string, len(cfg.Peers))
	for _, entry := range cfg.Peers {
		id, addr, ok := strings.Cut(entry, "=")
		if !ok || id == "" || addr == "" {
			return nil, errors.Errorf("p2p peer %q: want id=host:port", entry)
		}
		peers[id] = addr
	}
	log := logger.Named("p2p")
	node := p2p.NewNode(cfg.NodeID, cfg.Listen, peers, wg, log)
	if cfg.ScanKey != "" {
		key, err := hashing.ParseDigest(cfg.ScanKey)
		if err != nil {
			return nil, errors.Wrap(err, "p2p.scan_key")
		}
		node.SetScanKey(key, func(p p2p.ReceivedPayment) {
			log.Info("payment received",
				zap.Stringer("stealth_address", p.StealthAddress),
				zap.Bool("amount_known", p.AmountKnown),
			)
		})
	}
	if err := node.StartServer(); err != nil {
		return nil, err
	}
	return node, nil
}
