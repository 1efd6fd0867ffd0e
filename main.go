package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"photoart/acquire"
	"photoart/config"
	"photoart/gateway"
	"photoart/imagehost"
	"photoart/logger"
	"photoart/middleware"
	"photoart/providers"
	"photoart/styles"
	"photoart/web"

	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// No logger yet; the config decides its format.
		bootLog := logger.New("production")
		bootLog.Fatal().Err(err).Msg("failed to load configuration")
	}
	log := logger.New(cfg.Settings.AppEnv)
	for _, w := range cfg.Warnings {
		log.Warn().Msg(w)
	}

	gw := gateway.New(styles.Default(), newProviders(cfg, log), newImageHost(cfg, log), log.With().Str("component", "gateway").Logger())

	acq := acquire.New(acquire.Options{
		Compress: cfg.Upload.Compress,
		MaxEdge:  cfg.Upload.MaxEdge,
		Quality:  cfg.Upload.Quality,
		Format:   cfg.Upload.OutputFormat,
		MaxBytes: cfg.Upload.MaxBytes,
	}, log.With().Str("component", "acquire").Logger())

	auth := middleware.NewAuth(cfg.Settings.WebPassword, cfg.APIKeys.ImageAPI, cfg.Settings.SessionSecret, log)

	srv := web.NewServer(gw, acq, auth, web.Options{
		DownloadHosts:  cfg.Settings.DownloadHostAllowlist,
		MaxUploadBytes: cfg.Upload.MaxBytes,
	}, log)

	server := &http.Server{
		Addr:              ":" + cfg.Settings.Port,
		Handler:           srv.Routes(),
		ReadTimeout:       cfg.HTTP.ReadTimeout(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTP.WriteTimeout(),
		IdleTimeout:       cfg.HTTP.IdleTimeout(),
	}

	go func() {
		log.Info().Msgf("photoart listening on :%s", cfg.Settings.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.IdleTimeout())
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to shutdown server")
	}
	gw.Wait()
	log.Info().Msg("server stopped")
}

// newProviders registers every provider client. Clients without a credential
// are still registered so a request for their styles fails as a missing
// credential rather than an unknown provider.
func newProviders(cfg *config.Config, log zerolog.Logger) []providers.ImageProvider {
	provs := []providers.ImageProvider{
		providers.NewFalAIProvider(cfg.APIKeys.FalAI, log.With().Str("provider", providers.FalAIName).Logger()),
		providers.NewModelScopeProvider(cfg.APIKeys.ModelScope, log.With().Str("provider", providers.ModelScopeName).Logger()),
		providers.NewPollinationsAIProvider(cfg.APIKeys.PollinationsAI, log.With().Str("provider", providers.PollinationsAIName).Logger()),
		providers.NewCloudflareProvider(cfg.CloudflareCredentials.AccountID, cfg.CloudflareCredentials.APIToken,
			log.With().Str("provider", providers.CloudflareName).Logger()),
	}
	for _, p := range provs {
		if !p.HasCredentials() {
			log.Warn().Str("provider", p.Name()).Msg("provider has no credentials; its styles will be unavailable")
		}
	}
	return provs
}

func newImageHost(cfg *config.Config, log zerolog.Logger) imagehost.Uploader {
	var host imagehost.Uploader
	switch cfg.Settings.ImageHost {
	case "nodeimage":
		host = imagehost.NewNodeImageClient(cfg.APIKeys.NodeImage)
	default:
		host = imagehost.NewFalStorageClient(cfg.APIKeys.FalAI)
	}
	if !host.HasCredentials() {
		log.Warn().Str("image_host", host.Name()).Msg("image host has no credentials; styles that need a hosted image will be unavailable")
	}
	return host
}
