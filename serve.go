// serve.go
//
// Process wiring for the HTTP server.
// Responsibilities:
//   - Load the catalog and build the selector, session codec and image store.
//   - Start the rate limiter sweeper.
//   - Serve until SIGINT/SIGTERM, then shut down gracefully.

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/robalobadob/almadle/internal/catalog"
	"github.com/robalobadob/almadle/internal/httpserver"
	"github.com/robalobadob/almadle/internal/imagestore"
	"github.com/robalobadob/almadle/internal/selector"
	"github.com/robalobadob/almadle/internal/session"
)

func serve(ctx context.Context, cfg *Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := catalog.Load(ctx, cfg.catalogPath)
	if err != nil {
		return err
	}
	sel, err := selector.New(cat, cfg.location())
	if err != nil {
		return err
	}
	if cfg.secret == devSecret {
		log.Warn().Msg("using the development session secret; set ALMADLE_SECRET")
	}
	codec, err := session.NewCodec(cfg.secret)
	if err != nil {
		return err
	}
	images, err := imageStore(ctx, cfg)
	if err != nil {
		return err
	}

	limiter := httpserver.NewLimiter(cfg.rateRPS, cfg.rateBurst, limiterIdleTTL)
	go limiter.Run(ctx, limiterSweep)

	srv := httpserver.New(httpserver.Deps{
		Catalog:        cat,
		Selector:       sel,
		Sessions:       session.Transport{Codec: codec, Secure: cfg.production},
		Images:         images,
		Limiter:        limiter,
		ClientOrigin:   cfg.clientOrigin,
		RequestTimeout: cfg.requestTimeout,
	})

	httpSrv := &http.Server{
		Addr:              net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.requestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		<-ctx.Done()
		log.Info().Msg("shutdown signal received, shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http server shutdown")
		}
		close(idleConnsClosed)
	}()

	log.Info().
		Str("addr", httpSrv.Addr).
		Int("dishes", cat.Len()).
		Str("timezone", cfg.timezone).
		Bool("production", cfg.production).
		Msg("starting almadle")
	if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-idleConnsClosed
	log.Info().Msg("server shutdown complete")
	return nil
}

// imageStore returns the photo lookup chain: S3 first when a bucket is
// configured, then the local directories.
func imageStore(ctx context.Context, cfg *Config) (imagestore.Store, error) {
	var chain imagestore.Chain
	if cfg.s3Bucket != "" {
		s3, err := imagestore.NewS3(ctx, cfg.s3Bucket, cfg.s3Prefix, cfg.s3Region)
		if err != nil {
			return nil, err
		}
		chain = append(chain, s3)
	}
	if len(cfg.imageDirs) > 0 {
		chain = append(chain, imagestore.Dirs(cfg.imageDirs))
	}
	if len(chain) == 0 {
		return nil, errors.New("no image source configured: set --image-dirs or --s3-bucket")
	}
	return chain, nil
}

// writeSnapshot publishes the configured catalog as a SQLite file.
func writeSnapshot(ctx context.Context, cfg *Config) error {
	cat, err := catalog.Load(ctx, cfg.catalogPath)
	if err != nil {
		return err
	}
	return catalog.WriteSQLite(ctx, cfg.snapshotOut, cat)
}
