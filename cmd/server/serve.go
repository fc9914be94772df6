package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"accountsync/internal/api"
	"accountsync/internal/bridge"
	"accountsync/internal/config"
	"accountsync/internal/engine"
	"accountsync/internal/models"
	"accountsync/internal/repository"
	"accountsync/internal/websocket"
	"accountsync/pkg/crypto"
	"accountsync/pkg/retry"
	"accountsync/pkg/utils"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and synchronization engine",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := utils.InitGlobalLogger(utils.LogConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		Development: cfg.Logging.Development,
	})
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// База данных
	db, err := initDatabase(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := repository.Migrate(ctx, db, cfg.Database.Driver); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	ledger := repository.NewLedger(db)

	// Учётные данные сохраняются только при заданном ключе шифрования
	var credentials engine.CredentialStore
	if cfg.Security.EncryptionKey != "" {
		sealer, err := crypto.NewSealer([]byte(cfg.Security.EncryptionKey))
		if err != nil {
			return fmt.Errorf("init encryption: %w", err)
		}
		credentials = repository.NewCredentialsRepository(db, sealer)
	} else {
		log.Warn("ENCRYPTION_KEY is not set, credentials will not be stored and accounts will not be restored")
	}

	// Движок
	events := engine.NewEventBus(cfg.Sync.EventBuffer)
	registry := engine.NewRegistry(accountConfig(cfg), riskDefaults(cfg.Risk), engine.RegistryDeps{
		Ledger:      ledger,
		Credentials: credentials,
		RiskParams:  ledger,
		Transports:  transportFactory(cfg.Bridge, log),
		Events:      events,
		Random:      engine.NewRandomSource(cfg.Simulator.Seed),
		Log:         log,
	})

	// WebSocket hub
	hub := websocket.NewHub(cfg.Server.AllowedOrigins, log)
	go hub.Run()
	go hub.Consume(ctx, events.Events())

	restored, err := registry.Restore(ctx)
	if err != nil {
		log.Error("restore accounts failed", utils.Err(err))
	} else if restored > 0 {
		log.Info("accounts reconnected", utils.Int("count", restored))
	}

	// Push-уведомления через LISTEN/NOTIFY (только postgres)
	if cfg.Database.Driver == "postgres" && cfg.Database.ListenChannel != "" {
		listener := repository.NewPushListener(cfg.Database.DSN(), cfg.Database.ListenChannel, registry, log)
		go func() {
			if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("push listener stopped", utils.Err(err))
			}
		}()
	}

	// HTTP
	router := api.SetupRoutes(&api.Dependencies{
		Registry:       registry,
		SyncLogs:       ledger,
		ClosedPosition: ledger,
		Hub:            hub,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Log:            log,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting server", utils.String("addr", server.Addr), utils.Bool("https", cfg.Server.UseHTTPS))
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Graceful shutdown
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			log.Error("server failed", utils.Err(err))
		}
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", utils.Err(err))
	}
	if err := registry.Shutdown(shutdownCtx); err != nil {
		log.Error("engine shutdown incomplete", utils.Err(err))
	}
	hub.Stop()

	log.Info("server exited", utils.Int64("ws_dropped", hub.DroppedMessages()))
	return nil
}

// transportFactory создаёт отдельный клиент моста на каждый счёт
func transportFactory(cfg config.BridgeConfig, log *utils.Logger) engine.TransportFactory {
	return func(accountID string) bridge.Transport {
		return bridge.NewClient(bridge.Config{
			BaseURL:   cfg.BaseURL,
			Timeout:   cfg.RequestTimeout,
			RateLimit: cfg.RateLimit,
			RateBurst: cfg.RateBurst,
		}, log.WithAccount(accountID))
	}
}

// accountConfig переводит конфигурацию сервиса в настройки счёта
func accountConfig(cfg *config.Config) engine.AccountConfig {
	reconnect := retry.ReconnectConfig()
	if cfg.Sync.ReconnectInitial > 0 {
		reconnect.InitialDelay = cfg.Sync.ReconnectInitial
	}
	if cfg.Sync.ReconnectMaxDelay > 0 {
		reconnect.MaxDelay = cfg.Sync.ReconnectMaxDelay
	}

	return engine.AccountConfig{
		PollInterval: cfg.Sync.PollInterval,
		PushBuffer:   cfg.Sync.PushBuffer,
		MagicNumber:  cfg.Bridge.MagicNumber,
		Supervisor: engine.SupervisorConfig{
			ProbeInterval: cfg.Sync.ProbeInterval,
			Reconnect:     reconnect,
		},
		Reconciler: engine.ReconcilerConfig{
			FailureThreshold: cfg.Sync.FailureThreshold,
			CallTimeout:      cfg.Bridge.RequestTimeout,
		},
		Simulator: engine.SimulatorConfig{
			DriftFraction: cfg.Simulator.DriftFraction,
			DemoBalance:   cfg.Simulator.DemoBalance,
			Leverage:      cfg.Simulator.Leverage,
			Currency:      cfg.Simulator.Currency,
		},
	}
}

func riskDefaults(cfg config.RiskConfig) models.RiskParameters {
	return models.RiskParameters{
		MaxDailyLoss:        cfg.MaxDailyLoss,
		MaxPositionSize:     cfg.MaxPositionSize,
		MaxConcurrentTrades: cfg.MaxConcurrentTrades,
		RiskPerTrade:        cfg.RiskPerTrade,
		CorrelationLimit:    cfg.CorrelationLimit,
	}
}

// initDatabase создает подключение к базе данных и ждёт её готовности
func initDatabase(ctx context.Context, cfg config.DatabaseConfig, log *utils.Logger) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	if cfg.Driver == "sqlite3" {
		// один писатель, иначе "database is locked"
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	retryCfg := retry.DatabaseConfig()
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn("database not ready, retrying",
			utils.Int("attempt", attempt),
			utils.Duration("delay", delay),
			utils.Err(err),
		)
	}

	err = retry.Do(ctx, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	}, retryCfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("connected to database",
		utils.String("driver", cfg.Driver),
		utils.String("dsn", cfg.DSNWithoutPassword()),
	)
	return db, nil
}
