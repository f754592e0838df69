package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/souldream/backend/internal/auth"
	"github.com/souldream/backend/internal/calendar"
	"github.com/souldream/backend/internal/config"
	"github.com/souldream/backend/internal/credentials"
	"github.com/souldream/backend/internal/database"
	"github.com/souldream/backend/internal/gcal"
	"github.com/souldream/backend/internal/logging"
	"github.com/souldream/backend/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "souldream-api",
		Short: "SoulDream calendar backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("google-calendar-id", defaults.GetString("google.calendar_id"), "Remote calendar identifier")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Backend token TTL in minutes")
	cmd.PersistentFlags().Int("sync-remote-timeout-seconds", defaults.GetInt("sync.remote_timeout_seconds"), "Per-call remote API timeout in seconds")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "google.calendar_id", "google-calendar-id")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "sync.remote_timeout_seconds", "sync-remote-timeout-seconds")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "souldream-auth",
		Audience:      "souldream-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	credentialStore, err := credentials.NewStore(credentials.StoreConfig{
		Database: db,
		Clock:    time.Now,
	})
	if err != nil {
		return err
	}

	remoteFactory, err := gcal.NewFactory(gcal.FactoryConfig{
		Tokens:     credentialStore,
		CalendarID: appConfig.GoogleCalendarID,
		Logger:     logging.Named(logger, "gcal"),
	})
	if err != nil {
		return err
	}

	eventStore, err := calendar.NewStore(calendar.StoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: calendar.NewUUIDProvider(),
		Logger:     logging.Named(logger, "store"),
	})
	if err != nil {
		return err
	}

	orchestrator, err := calendar.NewOrchestrator(calendar.OrchestratorConfig{
		Store:         eventStore,
		Remotes:       remoteFactory,
		Clock:         time.Now,
		Logger:        logging.Named(logger, "sync"),
		RemoteTimeout: appConfig.SyncRemoteTimeout,
	})
	if err != nil {
		return err
	}

	tracker, err := calendar.NewTracker(calendar.TrackerConfig{
		Database:     db,
		Orchestrator: orchestrator,
		Clock:        time.Now,
		IDProvider:   calendar.NewUUIDProvider(),
		Logger:       logging.Named(logger, "tracker"),
	})
	if err != nil {
		return err
	}

	runner := calendar.NewRunner(tracker, logging.Named(logger, "runner"))

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		Events:       eventStore,
		Tracker:      tracker,
		Runner:       runner,
		Credentials:  credentialStore,
		Remotes:      remoteFactory,
		Logger:       logging.Named(logger, "http"),
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
