// ABOUTME: Entry point for the warden control plane
// ABOUTME: Loads config, starts seeded sessions, and runs the Matrix command surface

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/warden/internal/access"
	"github.com/2389/warden/internal/bot"
	"github.com/2389/warden/internal/config"
	"github.com/2389/warden/internal/directory"
	"github.com/2389/warden/internal/onboarding"
	"github.com/2389/warden/internal/pool"
	"github.com/2389/warden/internal/protocol"
	"github.com/2389/warden/internal/protocol/protocolfake"
	"github.com/2389/warden/internal/store"
)

const banner = `
__      ____ _ _ __ __| | ___ _ __
\ \ /\ / / _' | '__/ _' |/ _ \ '_ \
 \ V  V / (_| | | | (_| |  __/ | | |
  \_/\_/ \__,_|_|  \__,_|\___|_| |_|
`

// getConfigPath returns the path to the warden config file.
// Priority: WARDEN_CONFIG env var > warden.yaml in the working directory.
func getConfigPath() string {
	if envPath := os.Getenv("WARDEN_CONFIG"); envPath != "" {
		return envPath
	}
	return "warden.yaml"
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Optional .env for secrets referenced by the config file
	_ = godotenv.Load()

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := setupLogger(cfg.Logging.Level)

	// Print startup info
	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("User:       %s\n", cfg.Matrix.UserID)
	green.Print("    ▶ ")
	fmt.Printf("Driver:     %s\n", cfg.Protocol.Driver)
	green.Print("    ▶ ")
	fmt.Printf("Accounts:   %d seeded\n", len(cfg.Accounts))
	fmt.Println()

	// Graceful shutdown context first - all operations should respect it
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	actions, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening audit store: %w", err)
	}
	defer actions.Close()

	factory, err := newFactory(cfg.Protocol.Driver)
	if err != nil {
		return err
	}

	sessions := pool.New(cfg.Sessions.Dir, logger)
	defer sessions.CloseAll()

	startSeededAccounts(ctx, cfg, sessions, factory, logger)

	index := directory.NewIndex()
	dir := directory.NewService(sessions, index, logger)
	grants := access.NewRegistry(logger)
	auth := access.NewAuthorizer(cfg.Admins, grants)
	flows := onboarding.NewManager(sessions, factory, logger)

	router := bot.NewRouter(sessions, flows, grants, auth, dir, actions, logger)

	operators := make(map[string]int64, len(cfg.Matrix.Operators))
	for _, op := range cfg.Matrix.Operators {
		operators[op.MatrixID] = op.ID
	}
	matrix, err := bot.NewMatrix(bot.MatrixOptions{
		Homeserver:    cfg.Matrix.Homeserver,
		UserID:        cfg.Matrix.UserID,
		AccessToken:   cfg.Matrix.AccessToken,
		AllowedRooms:  cfg.Matrix.AllowedRooms,
		CommandPrefix: cfg.Matrix.CommandPrefix,
		Operators:     operators,
	}, router, logger)
	if err != nil {
		return fmt.Errorf("creating matrix transport: %w", err)
	}

	go grants.RunSweep(ctx, cfg.Access.SweepInterval, matrix)

	logger.Info("warden started", "accounts", sessions.Len(), "admins", len(cfg.Admins))
	return matrix.Run(ctx)
}

// newFactory selects the protocol driver.
func newFactory(driver string) (protocol.Factory, error) {
	switch driver {
	case "fake":
		return protocolfake.New(), nil
	default:
		return nil, fmt.Errorf("unknown protocol driver %q", driver)
	}
}

// startSeededAccounts opens every configured account and registers it in the
// pool. A failed account is logged and skipped; the rest still come up.
func startSeededAccounts(ctx context.Context, cfg *config.Config, sessions *pool.Pool, factory protocol.Factory, logger *slog.Logger) {
	for _, ac := range cfg.Accounts {
		var proxy *protocol.Proxy
		if ac.Proxy != nil {
			proxy = &protocol.Proxy{
				Host:     ac.Proxy.Host,
				Port:     ac.Proxy.Port,
				Username: ac.Proxy.Username,
				Password: ac.Proxy.Password,
			}
		}
		creds := protocol.Credentials{APIID: ac.APIID, APIHash: ac.APIHash}

		session, err := factory.Open(ctx, ac.Phone, creds, proxy, sessions.SessionPath(ac.Label))
		if err != nil {
			logger.Error("failed to start seeded account", "phone", ac.Phone, "error", err)
			continue
		}
		account := pool.Account{Phone: ac.Phone, Credentials: creds, Label: ac.Label, Proxy: proxy}
		if err := sessions.Add(account, session); err != nil {
			logger.Error("failed to register seeded account", "phone", ac.Phone, "error", err)
			_ = session.Close()
			continue
		}
		logger.Info("seeded account started", "phone", ac.Phone, "label", ac.Label)
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
