// Arcanum content server: the writings library, music playlist, spellbook,
// and the oracle voice session bridge.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/arcanumlabs/arcanum/internal/api"
	"github.com/arcanumlabs/arcanum/internal/config"
	"github.com/arcanumlabs/arcanum/internal/content"
	"github.com/arcanumlabs/arcanum/internal/gemini"
	"github.com/arcanumlabs/arcanum/internal/identity"
	"github.com/arcanumlabs/arcanum/internal/oracle"
	"github.com/arcanumlabs/arcanum/internal/spellbook"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := content.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready")

	imageClient, err := gemini.NewImageClient(ctx, cfg.GeminiAPIKey, cfg.ImageModel)
	if err != nil {
		slog.Error("Failed to create image client", "error", err)
		os.Exit(1)
	}
	editor := spellbook.NewEditor(imageClient, logger)

	auth := identity.NewWorkOSAuthenticator(identity.WorkOSConfig{
		APIKey:      cfg.WorkOSAPIKey,
		ClientID:    cfg.WorkOSClientID,
		RedirectURI: cfg.RedirectURI(),
	})
	idsvc := identity.NewService(auth, store, !cfg.IsDevelopment(), logger)

	openChannel := func(ctx context.Context, session oracle.ChannelConfig) (oracle.Channel, error) {
		return gemini.OpenLiveChannel(ctx, gemini.LiveConfig{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.LiveModel,
			Logger: logger,
		}, session)
	}
	bridge := api.NewOracleBridge(openChannel, cfg.OracleVoice, cfg.OraclePrompt, logger)

	handler := api.NewHandler(store, idsvc, editor, logger)
	router := api.NewRouter(handler, bridge, []string{"*"})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
	}
}
