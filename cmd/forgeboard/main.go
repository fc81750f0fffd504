package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/jslitzker/forgeboard/internal/config"
	"github.com/jslitzker/forgeboard/internal/logger"
	"github.com/jslitzker/forgeboard/internal/server"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to main config file")
	customLogConfigs := flag.String("log-config", "", "comma-separated paths to custom provided log config files")
	bootstrap := flag.Bool("bootstrap", true, "create an initial admin account when the user table is empty")
	flag.Parse()

	// initilize logging manager
	logManager, logger := initializeLogging(customLogConfigs)
	defer syncLoggers(logManager)

	cfg := loadConfig(configPath, logger)

	errChan := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// build server and initialize components
	srv := initializeServer(ctx, cfg, *bootstrap, errChan, logger)
	// run server
	runServer(ctx, cancel, srv, errChan, logger)
}

// initializeLogging initializes the logger manager and retrieves the main logger.
func initializeLogging(customLogConfigs *string) (*logger.LoggerManager, *zap.Logger) {
	logConfigPaths := []string{"log.config.json"}
	if *customLogConfigs != "" {
		customConfigs := strings.Split(*customLogConfigs, ",")
		for _, customConfig := range customConfigs {
			if tp := strings.TrimSpace(customConfig); tp != "" {
				logConfigPaths = append(logConfigPaths, tp)
			}
		}
	}

	logManager, err := logger.NewLoggerManager(logConfigPaths)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	mainLogger, err := logManager.GetLogger("forgeboard")
	if err != nil {
		mainLogger, err = logManager.GetLogger("default")
		if err != nil {
			log.Fatalf("Failed to get logger: %v", err)
		}
	}
	return logManager, mainLogger
}

// Ensure that all logger buffers are flushed before the application exits.
func syncLoggers(logManager *logger.LoggerManager) {
	if err := logManager.Sync(); err != nil {
		log.Printf("Failed to sync loggers: %s", err)
	}
}

func loadConfig(configPath *string, logger *zap.Logger) *config.Forgeboard {
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if err := cfg.Validate(logger); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}
	return cfg
}

// runServer starts the server and listens for shutdown signals
func runServer(
	ctx context.Context,
	cancel context.CancelFunc,
	srv *server.Server,
	errChan chan error,
	logger *zap.Logger,
) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Start(); err != nil {
			errChan <- err
		}
	}()

	// Listen for OS signals for graceful shutdown (e.g., SIGINT, SIGTERM).
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
		logger.Warn("Shutdown signal received. Initializing graceful shutdown")
		cancel()
	case err := <-errChan:
		logger.Fatal("Server error triggered shutdown", zap.Error(err))
	case <-ctx.Done():
	}

	<-done
	logger.Info("Server shutdown completed")
}
