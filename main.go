package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"ptu-remote/internal/config"
	"ptu-remote/internal/driver"
	"ptu-remote/internal/flir"
	"ptu-remote/internal/lifecycle"
	"ptu-remote/internal/server"
	"ptu-remote/internal/telemetry"
)

func main() {
	// Command line flags override the config file
	configPath := flag.String("config", "", "path to YAML config (default $PTU_CONFIG or ./ptu.yaml)")
	listenAddr := flag.String("listen", "", "HTTP listen address")
	address := flag.String("address", "", "PTU IP address")
	rtspURL := flag.String("rtsp", "", "RTSP URL for the payload camera")
	flag.Parse()

	cfg, path, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if *listenAddr != "" {
		cfg.Server.Listen = *listenAddr
	}
	if *address != "" {
		cfg.Device.Address = *address
	}
	if *rtspURL != "" {
		cfg.Video.RTSPURL = *rtspURL
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	setupLogging(cfg.Log)
	if path != "" {
		log.Info().Str("path", path).Msg("loaded config")
	}
	if worst := cfg.WorstCaseCycle(); cfg.Control.Period < worst {
		log.Warn().
			Dur("period", cfg.Control.Period).
			Dur("worst_case", worst).
			Msg("control period is shorter than a cycle against an unreachable unit; cycles will overrun")
	}

	ctrl, err := flir.NewController(cfg.Controller())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create controller")
	}
	defer ctrl.Close()

	drv := driver.New(driver.Config{
		Name:      cfg.Device.Name,
		QueueSize: cfg.Control.QueueSize,
	}, ctrl)

	srv := server.New(server.Config{
		ListenAddr: cfg.Server.Listen,
		StaticDir:  cfg.Server.StaticDir,
		RTSPURL:    cfg.Video.RTSPURL,
		ICEServers: cfg.Video.ICEServers,
		Device:     cfg.Device.Name,
		Endpoint:   ctrl.Endpoint(),
	}, drv)
	drv.AddPublisher(srv)

	if cfg.Influx.URL != "" {
		influx := telemetry.Dial(telemetry.Config{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
		})
		defer influx.Close()
		drv.AddPublisher(influx)
		log.Info().Str("url", cfg.Influx.URL).Str("bucket", cfg.Influx.Bucket).Msg("recording telemetry")
	}

	shell := lifecycle.New(cfg.Device.Name, drv, cfg.Control.Period)

	log.Info().
		Str("device", cfg.Device.Name).
		Str("address", cfg.Device.Address).
		Str("listen", cfg.Server.Listen).
		Dur("period", cfg.Control.Period).
		Bool("video", cfg.Video.RTSPURL != "").
		Msg("PTU driver starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return shell.Run(ctx)
	})
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("driver exited with error")
		os.Exit(1)
	}
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
