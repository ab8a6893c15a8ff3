// Package main is the CLI entry point for prodtrackerd.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/crypto/bcrypt"

	"github.com/geb16/prodtracker/internal/api"
	"github.com/geb16/prodtracker/internal/auth"
	"github.com/geb16/prodtracker/internal/blocker"
	"github.com/geb16/prodtracker/internal/classify"
	"github.com/geb16/prodtracker/internal/config"
	"github.com/geb16/prodtracker/internal/domain"
	"github.com/geb16/prodtracker/internal/guard"
	"github.com/geb16/prodtracker/internal/infra"
	"github.com/geb16/prodtracker/internal/monitor"
	"github.com/geb16/prodtracker/internal/pairing"
	"github.com/geb16/prodtracker/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "prodtrackerd",
	Short: "Productivity tracker daemon",
	Long: `prodtrackerd ingests signed heartbeats from paired devices, samples
the desktop foreground window, classifies activity into signal and
noise, and blocks distracting sites through the hosts file when the
distraction threshold is crossed.`,
	Version: Version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tracker daemon (HTTP API plus desktop monitor)",
	Long: `Starts the HTTP API for device heartbeats and, unless disabled,
the desktop foreground sampler. State lives in an encrypted local
store; heartbeat windows live in Redis when PT_REDIS_URL is set,
otherwise in process memory.`,
	RunE: runServe,
}

var pairTokenCmd = &cobra.Command{
	Use:   "pair-token <device-id>",
	Short: "Issue a short-lived pairing token for a device",
	Args:  cobra.ExactArgs(1),
	RunE:  runPairToken,
}

var hashCredentialCmd = &cobra.Command{
	Use:   "hash-credential",
	Short: "Hash an admin credential for PT_ADMIN_CRED_HASH",
	Long: `Reads the credential from stdin and prints its bcrypt hash.
Set the output as PT_ADMIN_CRED_HASH in the daemon environment.`,
	RunE: runHashCredential,
}

var blockCmd = &cobra.Command{
	Use:   "block",
	Short: "Manually activate site blocking on a running daemon",
	RunE:  func(cmd *cobra.Command, args []string) error { return postAdmin("/api/v1/block") },
}

var unblockCmd = &cobra.Command{
	Use:   "unblock",
	Short: "Manually deactivate site blocking on a running daemon",
	RunE:  func(cmd *cobra.Command, args []string) error { return postAdmin("/api/v1/unblock") },
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether the daemon is running",
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("prodtrackerd %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
	},
}

var (
	noMonitor  bool
	tokenTTL   time.Duration
	daemonAddr string
	adminCred  string
)

func init() {
	serveCmd.Flags().BoolVar(&noMonitor, "no-monitor", false, "Disable the desktop foreground sampler")
	pairTokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 10*time.Minute, "Token lifetime")

	for _, c := range []*cobra.Command{blockCmd, unblockCmd, statusCmd} {
		c.Flags().StringVar(&daemonAddr, "addr", "http://127.0.0.1:8787", "Daemon base URL")
	}
	for _, c := range []*cobra.Command{blockCmd, unblockCmd} {
		c.Flags().StringVar(&adminCred, "credential", "", "Admin credential (or PT_ADMIN_CREDENTIAL)")
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pairTokenCmd)
	rootCmd.AddCommand(hashCredentialCmd)
	rootCmd.AddCommand(blockCmd)
	rootCmd.AddCommand(unblockCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	key, err := infra.NewFileKeyProvider(cfg.DataDir).EnsureKey()
	if err != nil {
		return fmt.Errorf("failed to load store key: %w", err)
	}
	store, err := infra.NewEncryptedStore(cfg.DataDir, key)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	// Shared state backend: Redis when configured, otherwise in-process.
	var (
		guardState domain.GuardState
		window     domain.SampleWindow
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()

		guardState = infra.NewRedisGuardState(client, 2*cfg.HeartbeatMaxSkew)
		window = infra.NewRedisSampleWindow(client,
			time.Duration(cfg.LookbackMinutes)*time.Minute, cfg.SampleInterval)
		logger.Info("using redis state backend")
	} else {
		guardState = infra.NewMemoryGuardState()
		window = infra.NewMemorySampleWindow(
			time.Duration(cfg.LookbackMinutes)*time.Minute, cfg.SampleInterval)
		logger.Info("using in-process state backend")
	}

	loader, classifier, err := classify.NewLoader(cfg.RulesFile, logger)
	if err != nil {
		return fmt.Errorf("failed to load classification rules: %w", err)
	}
	if loader != nil {
		loader.Watch()
	}

	registry := pairing.NewRegistry(store, auth.NewTokenVerifier(cfg.PairingSecret), logger)

	g := guard.New(guardState, guard.Config{
		MaxSkew:      cfg.HeartbeatMaxSkew,
		Capacity:     cfg.RateCapacity,
		RefillPerSec: cfg.RateRefillPerSec,
	}, logger)

	b := blocker.New(
		infra.NewHostsFile(cfg.HostsPath),
		infra.NewHostsBackupStore(cfg.BackupDir),
		store,
		cfg.BlockDomains,
		logger,
	)

	pipelineCfg := usecase.DefaultPipelineConfig()
	pipelineCfg.SampleInterval = cfg.SampleInterval
	pipelineCfg.DistractionThreshold = cfg.DistractionThreshold
	pipeline := usecase.NewPipeline(registry, g, window, classifier, b, pipelineCfg, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !noMonitor {
		mon := monitor.New(monitor.Config{
			SampleInterval: cfg.MonitorInterval,
			NoiseStreak:    cfg.MonitorNoiseStreak,
		}, infra.NewX11Sampler(), classifier, window, b, logger)
		go func() {
			if err := mon.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("desktop monitor exited", zap.Error(err))
			}
		}()
	}

	server := api.NewServer(pipeline, registry, b, store,
		api.NewAdminGate(cfg.AdminCredHash), logger)
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.ListenAddr))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	return nil
}

func runPairToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	token, err := auth.NewTokenVerifier(cfg.PairingSecret).IssuePairingToken(args[0], tokenTTL)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func runHashCredential(cmd *cobra.Command, args []string) error {
	cred, err := io.ReadAll(os.Stdin)
	if err != nil {
		return err
	}
	cred = []byte(strings.TrimSpace(string(cred)))
	if len(cred) == 0 {
		return fmt.Errorf("empty credential")
	}

	hash, err := bcrypt.GenerateFromPassword(cred, bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	fmt.Println(string(hash))
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	resp, err := http.Get(daemonAddr + "/healthz")
	if err != nil {
		fmt.Println("Status: NOT RUNNING")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		fmt.Println("Status: RUNNING")
	} else {
		fmt.Printf("Status: UNHEALTHY (%d)\n", resp.StatusCode)
	}
	return nil
}

func postAdmin(path string) error {
	cred := adminCred
	if cred == "" {
		cred = os.Getenv("PT_ADMIN_CREDENTIAL")
	}
	if cred == "" {
		return fmt.Errorf("admin credential required (--credential or PT_ADMIN_CREDENTIAL)")
	}

	req, err := http.NewRequest(http.MethodPost, daemonAddr+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set(api.AdminCredentialHeader, cred)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request rejected: %s", resp.Status)
	}

	var state domain.BlockState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return err
	}
	fmt.Printf("Blocking: %s\n", state.Phase)
	if state.Reason != "" {
		fmt.Printf("Reason: %s\n", state.Reason)
	}
	if state.ExpiresAt != nil {
		fmt.Printf("Expires: %s\n", state.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func createLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
