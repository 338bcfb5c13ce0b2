package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/bookworm/internal/auth"
	"github.com/MarcoPoloResearchLab/bookworm/internal/config"
	"github.com/MarcoPoloResearchLab/bookworm/internal/database"
	"github.com/MarcoPoloResearchLab/bookworm/internal/logging"
	"github.com/MarcoPoloResearchLab/bookworm/internal/server"
	"github.com/MarcoPoloResearchLab/bookworm/internal/snapshots"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const serverShutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	var allowedOrigins []string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the snapshot sync server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), allowedOrigins)
		},
	}
	defaults := config.NewViper()
	flags := cmd.Flags()
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("signing-secret", "", "Session signing secret (overrides env)")
	flags.StringSliceVar(&allowedOrigins, "allowed-origin", nil, "CORS origin allowed to call the API (repeatable; default any)")
	bindLocalFlag(cmd, "http.address", "http-address")
	bindLocalFlag(cmd, "database.path", "database-path")
	bindLocalFlag(cmd, "auth.signing_secret", "signing-secret")
	return cmd
}

func bindLocalFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func runServer(ctx context.Context, allowedOrigins []string) error {
	appConfig, err := config.LoadServer(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer database.Close(db) //nolint:errcheck

	snapshotService, err := snapshots.NewService(snapshots.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.Issuer,
		CookieName:    appConfig.CookieName,
	})
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	gin.SetMode(gin.ReleaseMode)
	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:       sessions,
		Snapshots:      snapshotService,
		Realtime:       server.NewRealtimeDispatcher(),
		Metrics:        registry,
		AllowedOrigins: allowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newTokenCommand() *cobra.Command {
	var (
		userID      string
		displayName string
	)
	mintCmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint a session token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.LoadServer(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.SigningSecret),
				Issuer:        appConfig.Issuer,
				TokenTTL:      appConfig.TokenTTL,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.IssueSessionToken(userID, displayName)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			mutedColor.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	mintCmd.Flags().StringVar(&userID, "subject", "", "User id the token authorizes")
	mintCmd.Flags().StringVar(&displayName, "name", "", "Display name")
	_ = mintCmd.MarkFlagRequired("subject")

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Session token utilities",
	}
	tokenCmd.AddCommand(mintCmd)
	return tokenCmd
}
