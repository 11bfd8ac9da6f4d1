package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hookbin/hookbin/internal/capture"
	"github.com/hookbin/hookbin/internal/config"
	"github.com/hookbin/hookbin/internal/metrics"
	"github.com/hookbin/hookbin/internal/server"
	"github.com/hookbin/hookbin/internal/storage"
	"github.com/hookbin/hookbin/internal/stream"
	"github.com/hookbin/hookbin/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application represents the main application
type Application struct {
	config         *config.Config
	store          storage.BinStore
	registry       *stream.Registry
	pipeline       *capture.Pipeline
	metricsManager *metrics.Manager
	server         *server.HTTPServer
	ctx            context.Context
	cancel         context.CancelFunc
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	// Initialize logger
	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Initialize components
	if err := app.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	utils.GetLogger().Info("Logger initialized", map[string]interface{}{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	})

	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	logger := utils.GetLogger()
	logger.Info("Initializing application components")

	// Initialize metrics
	if app.config.Server.EnableMetrics {
		app.metricsManager = metrics.NewManager()
	}

	// Initialize bin store
	if err := app.initializeStore(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Initialize subscription registry
	app.registry = stream.NewRegistry(&stream.RegistryConfig{
		KeepAliveInterval: app.config.Stream.KeepAliveInterval,
		SubscriberBuffer:  app.config.Stream.SubscriberBuffer,
	}, app.metricsManager)
	if err := app.registry.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start subscription registry: %w", err)
	}

	// Initialize capture pipeline
	app.pipeline = capture.NewPipeline(app.store, app.registry, app.metricsManager)

	// Initialize HTTP server
	if err := app.initializeServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	logger.Info("All components initialized successfully")
	return nil
}

// initializeStore initializes the bin store
func (app *Application) initializeStore() error {
	logger := utils.GetLogger()
	logger.Info("Initializing bin store", map[string]interface{}{
		"type": app.config.Storage.Type,
	})

	if err := storage.ValidateStorageConfig(&app.config.Storage); err != nil {
		return err
	}

	var err error
	app.store, err = storage.NewBinStore(&app.config.Storage)
	if err != nil {
		return fmt.Errorf("failed to create bin store: %w", err)
	}

	// Connect to storage
	if err := app.store.Connect(); err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}

	// Run migrations
	if err := app.store.Migrate(); err != nil {
		return fmt.Errorf("failed to run storage migrations: %w", err)
	}

	logger.Info("Bin store initialized successfully")
	return nil
}

// initializeServer initializes the HTTP server
func (app *Application) initializeServer() error {
	serverCfg := &server.ServerConfig{
		Port:          app.config.Server.Port,
		Host:          app.config.Server.Host,
		ReadTimeout:   app.config.Server.ReadTimeout,
		EnableMetrics: app.config.Server.EnableMetrics,
		EnableHealth:  app.config.Server.EnableHealth,
	}

	var err error
	app.server, err = server.NewHTTPServer(serverCfg, app.store, app.registry, app.pipeline, app.metricsManager)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	return nil
}

// Start starts the application
func (app *Application) Start() error {
	logger := utils.GetLogger()
	logger.Info("Starting hookbin", map[string]interface{}{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
	})

	if err := app.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	logger.Info("hookbin started successfully", map[string]interface{}{
		"server_address": fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"storage":        app.config.Storage.Type,
	})

	return nil
}

// Stop stops the application gracefully
func (app *Application) Stop() error {
	logger := utils.GetLogger()
	logger.Info("Stopping hookbin")

	// Cancel context to stop all components
	app.cancel()

	// Stop components in reverse order
	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			logger.Error("Failed to stop HTTP server", map[string]interface{}{"error": err})
		}
	}

	if app.registry != nil {
		if err := app.registry.Stop(); err != nil {
			logger.Error("Failed to stop subscription registry", map[string]interface{}{"error": err})
		}
	}

	if app.store != nil {
		if err := app.store.Close(); err != nil {
			logger.Error("Failed to close storage", map[string]interface{}{"error": err})
		}
	}

	logger.Info("hookbin stopped successfully")
	return nil
}

// CLI Commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "hookbin",
	Short:   "HTTP request capture and inspection service",
	Long:    `hookbin captures arbitrary inbound HTTP requests addressed to a generated bin id, persists them in arrival order, and lets viewers inspect the history live or after the fact.`,
	Version: AppVersion,
	RunE:    runServer,
}

// runServer is the main command to run the service
func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	configPath := viper.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Create application
	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// Set up signal handling for graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	// Start application
	if err := app.Start(); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	// Wait for shutdown signal
	<-signalChan
	fmt.Println("\nReceived shutdown signal, stopping application...")

	// Stop application
	if err := app.Stop(); err != nil {
		return fmt.Errorf("failed to stop application: %w", err)
	}

	return nil
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hookbin %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		if err := storage.ValidateStorageConfig(&cfg.Storage); err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Storage: %s\n", cfg.Storage.Type)
		fmt.Printf("Listen: %s:%d\n", cfg.Server.Host, cfg.Server.Port)

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path")
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	configCmd.AddCommand(validateConfigCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
