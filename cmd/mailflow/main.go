package main

import (
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

	"github.com/mailflow/mailflow/internal/cli"
	"github.com/mailflow/mailflow/internal/config"
	"github.com/mailflow/mailflow/internal/objectstore"
	"github.com/mailflow/mailflow/internal/relay"
	"github.com/mailflow/mailflow/internal/runner"
	"github.com/mailflow/mailflow/internal/server"
	"github.com/mailflow/mailflow/internal/storage"
	"github.com/mailflow/mailflow/internal/token"
	"github.com/mailflow/mailflow/internal/version"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "mailflow",
		Short:   "Email outreach campaign manager",
		Version: version.Version,
	}

	rootCmd.AddCommand(
		serverCmd(),
		logsCmd(),
		campaignCmd(),
		configCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the campaign server",
		RunE:  runServer,
	}
	cmd.Flags().String("config-dir", ".", "Directory to search for a mailflow config file")
	cmd.Flags().String("addr", "", "Address to listen on (overrides config)")
	cmd.Flags().String("base-url", "", "Externally reachable base URL (overrides config)")
	return cmd
}

// loadConfig reads the config file, then folds in flag and environment
// overrides. Env wins over file, flags win over env.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	dir, _ := cmd.Flags().GetString("config-dir")

	cfg, name, err := config.Load(dir)
	switch {
	case errors.Is(err, config.ErrNoConfig):
		cfg = config.Default()
	case err != nil:
		return nil, err
	default:
		slog.Info("loaded config", "file", name)
	}

	applyEnv(cfg)

	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Addr = addr
	}
	if baseURL, _ := cmd.Flags().GetString("base-url"); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return cfg, nil
}

func applyEnv(cfg *config.Config) {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.Addr, "MAILFLOW_ADDR")
	set(&cfg.BaseURL, "MAILFLOW_BASE_URL")
	set(&cfg.Database.Driver, "MAILFLOW_DB_DRIVER")
	set(&cfg.Database.DSN, "MAILFLOW_DB_DSN")
	set(&cfg.Objects.Backend, "MAILFLOW_OBJECTS_BACKEND")
	set(&cfg.Objects.Dir, "MAILFLOW_OBJECTS_DIR")
	set(&cfg.Objects.Endpoint, "MAILFLOW_S3_ENDPOINT")
	set(&cfg.Objects.Region, "MAILFLOW_S3_REGION")
	set(&cfg.Objects.AccessKeyID, "MAILFLOW_S3_ACCESS_KEY_ID")
	set(&cfg.Objects.SecretAccessKey, "MAILFLOW_S3_SECRET_ACCESS_KEY")
	set(&cfg.Objects.Bucket, "MAILFLOW_S3_BUCKET")
	set(&cfg.Runner.WebhookURL, "MAILFLOW_RUNNER_WEBHOOK_URL")
	set(&cfg.Runner.Secret, "MAILFLOW_RUNNER_SECRET")
	set(&cfg.UnsubscribeSecret, "MAILFLOW_UNSUBSCRIBE_SECRET")
}

func openStorage(cfg *config.Config, log *slog.Logger) (storage.Storage, error) {
	switch cfg.Database.Driver {
	case "postgres":
		log.Info("initializing storage", "driver", "postgres")
		return storage.NewPostgres(cfg.Database.DSN, log)
	default:
		log.Info("initializing storage", "driver", "sqlite", "path", cfg.Database.DSN)
		return storage.NewSQLite(cfg.Database.DSN)
	}
}

func openObjects(cfg *config.Config, log *slog.Logger) (objectstore.ObjectStore, error) {
	switch cfg.Objects.Backend {
	case "s3":
		log.Info("initializing object store", "backend", "s3", "bucket", cfg.Objects.Bucket)
		return objectstore.NewS3Store(objectstore.S3Config{
			Endpoint:        cfg.Objects.Endpoint,
			Region:          cfg.Objects.Region,
			AccessKeyID:     cfg.Objects.AccessKeyID,
			SecretAccessKey: cfg.Objects.SecretAccessKey,
			Bucket:          cfg.Objects.Bucket,
		}, log)
	default:
		log.Info("initializing object store", "backend", "filesystem", "dir", cfg.Objects.Dir)
		return objectstore.NewFilesystemStore(cfg.Objects.Dir, cfg.BaseURL, log)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log := slog.Default()

	store, err := openStorage(cfg, log)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	defer store.Close()

	objects, err := openObjects(cfg, log)
	if err != nil {
		return fmt.Errorf("initialize object store: %w", err)
	}

	if cfg.Runner.WebhookURL == "" {
		log.Warn("runner webhook not configured - campaigns cannot be sent")
	}
	if cfg.UnsubscribeSecret == "" {
		log.Warn("unsubscribe secret not configured - using an ephemeral one, links break on restart")
		cfg.UnsubscribeSecret = storage.NewID()
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost" + cfg.Addr
	}

	sessions := relay.NewStore()
	runnerClient := runner.NewClient(cfg.Runner.WebhookURL, cfg.Runner.Secret)
	signer := token.NewSigner(cfg.UnsubscribeSecret)

	streamHandler := server.NewStreamHandler(sessions, log)
	relayHandler := server.NewRelayHandler(sessions, store, streamHandler, log)
	apiHandler := server.NewAPIHandler(store, objects, runnerClient, signer, baseURL, log)

	mux := http.NewServeMux()

	// Log relay: webhook ingestion from the runner plus polling reads
	mux.Handle("/campaigns/", noCache(relayHandler))

	// Management API
	mux.Handle("/api/", noCache(apiHandler))

	// WebSocket live log stream
	mux.HandleFunc("/ws/logs/", streamHandler.ServeHTTP)

	// Public unsubscribe link
	mux.HandleFunc("/unsubscribe", apiHandler.HandleUnsubscribe)

	// The filesystem object store serves its own downloads; S3 hands out
	// presigned URLs pointing at the bucket instead.
	if fsStore, ok := objects.(*objectstore.FilesystemStore); ok {
		files := http.StripPrefix("/files/", http.FileServer(http.Dir(fsStore.Dir())))
		mux.Handle("/files/", files)
	}

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		log.Info("starting server", "addr", cfg.Addr, "base_url", baseURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown error", "error", err)
		}
	}

	return nil
}

func logsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs <campaign-id>",
		Short: "Tail campaign logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serverURL, _ := cmd.Flags().GetString("server")
			history, _ := cmd.Flags().GetBool("history")
			follow, _ := cmd.Flags().GetBool("follow")

			if !storage.ValidID(args[0]) {
				return fmt.Errorf("invalid campaign id %q", args[0])
			}

			opts := cli.LogsOptions{
				ServerURL:  strings.TrimSuffix(serverURL, "/"),
				CampaignID: args[0],
				History:    history,
				Follow:     follow,
			}
			return cli.Logs(cmd.Context(), opts, os.Stdout)
		},
	}
	cmd.Flags().String("server", serverURLDefault(), "Server URL")
	cmd.Flags().Bool("history", false, "Read the durable log snapshot instead of the live session")
	cmd.Flags().Bool("follow", false, "Stream over WebSocket instead of polling")
	return cmd
}

func campaignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "campaign",
		Short: "Manage campaigns",
	}

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Create a campaign from a YAML/TOML/JSON definition file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serverURL, _ := cmd.Flags().GetString("server")
			csvPath, _ := cmd.Flags().GetString("csv")

			opts := cli.ImportOptions{
				ServerURL: strings.TrimSuffix(serverURL, "/"),
				File:      args[0],
				CSVPath:   csvPath,
			}
			return cli.ImportCampaign(cmd.Context(), opts, os.Stdout)
		},
	}
	importCmd.Flags().String("server", serverURLDefault(), "Server URL")
	importCmd.Flags().String("csv", "", "Local recipient CSV to upload and attach")

	cmd.AddCommand(importCmd)
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the mailflow config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("config-dir")
			_, name, err := config.Load(dir)
			if err != nil {
				return err
			}
			fmt.Printf("%s is valid\n", name)
			return nil
		},
	}
	validateCmd.Flags().String("config-dir", ".", "Directory to search for a mailflow config file")

	cmd.AddCommand(validateCmd)
	return cmd
}

func serverURLDefault() string {
	if v := os.Getenv("MAILFLOW_SERVER"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func noCache(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		h.ServeHTTP(w, r)
	})
}
