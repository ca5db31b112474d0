package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"

	"gnss-survey/internal/config"
	"gnss-survey/internal/logger"
	"gnss-survey/internal/web"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile string `short:"c" long:"config"  env:"CONFIG_FILE"  description:"Path to YAML config; built-in defaults when empty"`
	Connect    bool   `long:"connect"           env:"GNSS_CONNECT" description:"Connect to the receiver at startup"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	logs := web.NewLogBuffer(500)
	opts.Logger.Setup(logs)

	cfg, err := loadConfig(opts.ConfigFile)
	if err != nil {
		log.Fatal().Err(err).Str("path", opts.ConfigFile).Msg("config load failed")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logs)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()

	log.Info().
		Str("source", cfg.Source).
		Str("store", cfg.Store.DataPath()).
		Uint32("next_feature_id", a.session.Snapshot().ActiveID).
		Msg("gnss-survey starting")

	if opts.Connect {
		if err := a.link.Connect(ctx); err != nil {
			log.Warn().Err(err).Msg("initial connect failed")
		}
	}

	if cfg.Web.Enable {
		log.Info().Str("listen", cfg.Web.Listen).Msg("web ui enabled")
		if err := web.Serve(ctx, cfg.Web.Listen, a.webDeps()); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("web server stopped")
			cancel()
		}
	} else {
		<-ctx.Done()
	}
	log.Info().Msg("gnss-survey stopping")
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}
