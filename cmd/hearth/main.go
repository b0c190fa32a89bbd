package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teilomillet/hearth/config"
	"github.com/teilomillet/hearth/errors"
	"github.com/teilomillet/hearth/server"
	"github.com/teilomillet/hearth/server/homeassistant"
	"github.com/teilomillet/hearth/server/provider"
	"github.com/teilomillet/hearth/server/validation"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	configFile = flag.String("config", "hearth.yaml", "Path to configuration file")
	validate   = flag.Bool("validate", false, "Validate configuration and exit")
	version    = flag.Bool("version", false, "Print version and exit")
)

const Version = "v0.1.0"

// startupTimeout bounds each Home Assistant or model call made before the
// server starts.
const startupTimeout = 15 * time.Second

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("hearth %s\n", Version)
		os.Exit(0)
	}

	cfg, err := config.LoadFile(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *validate {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Critical error: Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	errors.SetLogger(logger)

	if err := run(logger); err != nil {
		logger.Fatal("Server startup or runtime error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	watcher, err := config.NewConfigWatcher(*configFile, logger.Named("config"))
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	defer watcher.Close()
	cfg := watcher.GetCurrentConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	haLogger := logger.Named("homeassistant")
	ha := homeassistant.NewClient(cfg.HomeAssistant, haLogger)
	ws, err := homeassistant.NewWSClient(cfg.HomeAssistant, haLogger)
	if err != nil {
		return fmt.Errorf("home assistant websocket: %w", err)
	}

	locationCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	locationName, err := ha.LocationName(locationCtx)
	cancel()
	if err != nil {
		logger.Warn("could not read location name from Home Assistant; retrying on later turns", zap.Error(err))
	}

	deps := server.Dependencies{
		Devices:      homeassistant.NewSource(ha, ws, cfg.HomeAssistant.Assistant, haLogger),
		Invoker:      ha,
		LocationName: locationName,
		Location:     ha,
	}
	if counter, err := validation.NewTokenCounter(cfg.LLM.Model); err != nil {
		logger.Warn("prompt token counting disabled", zap.Error(err))
	} else {
		deps.TokenCounter = counter
	}

	srv, err := server.NewServer(watcher, deps, logger)
	if err != nil {
		return fmt.Errorf("server initialization failed: %w", err)
	}

	if cfg.LLM.VerifyOnStart {
		verifyCtx, cancel := context.WithTimeout(ctx, startupTimeout)
		err := srv.Verify(verifyCtx)
		cancel()
		switch {
		case errors.Is(err, provider.ErrAuth):
			return fmt.Errorf("model credentials rejected: %w", err)
		case err != nil:
			logger.Warn("could not reach the model provider", zap.Error(err))
		default:
			logger.Info("model credentials verified",
				zap.String("provider", cfg.LLM.Provider),
				zap.String("model", cfg.LLM.Model),
			)
		}
	}

	logger.Info("starting hearth",
		zap.String("version", Version),
		zap.Int("port", cfg.Server.Port),
		zap.String("location", locationName),
	)
	return srv.Start(ctx)
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Format == "text" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}
