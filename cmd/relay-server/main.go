package main

import (
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/metatx-labs/metatx-relay-go/pkg/authorizer"
	"github.com/metatx-labs/metatx-relay-go/pkg/config"
	"github.com/metatx-labs/metatx-relay-go/pkg/logger"
	"github.com/metatx-labs/metatx-relay-go/pkg/persistence"
	badgerstore "github.com/metatx-labs/metatx-relay-go/pkg/persistence/badger"
	"github.com/metatx-labs/metatx-relay-go/pkg/persistence/memory"
	redisstore "github.com/metatx-labs/metatx-relay-go/pkg/persistence/redis"
	"github.com/metatx-labs/metatx-relay-go/pkg/registry"
	"github.com/metatx-labs/metatx-relay-go/pkg/server"
	"github.com/metatx-labs/metatx-relay-go/pkg/treasury"
)

func main() {
	app := &cli.App{
		Name:  "relay-server",
		Usage: "Meta-transaction relay server",
		Description: `A relay server that verifies off-chain-signed authorizations and executes
the intended action on behalf of the signer, exactly once per nonce.

This server implements:
- ECDSA signature verification over digest(signer || encodedCall || nonce)
- Per-signer monotonic nonce replay protection
- Tagged-variant action dispatch with capability-checked handlers
- Persisted audit trail of executed authorizations`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   8080,
				Usage:   "HTTP server port",
				EnvVars: []string{config.EnvRelayPort},
			},
			&cli.StringFlag{
				Name:     "owner",
				Usage:    "Ethereum address allowed to move treasury funds",
				EnvVars:  []string{config.EnvRelayOwnerAddress},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "persistence",
				Value:   string(config.PersistenceBadger),
				Usage:   "Nonce store backend: " + config.SupportedPersistenceTypesString(),
				EnvVars: []string{config.EnvRelayPersistence},
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Value:   "./relay-data",
				Usage:   "Badger data directory",
				EnvVars: []string{config.EnvRelayDataDir},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis server address (host:port)",
				EnvVars: []string{config.EnvRelayRedisAddress},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Value:   0,
				Usage:   "Redis database number (0-15)",
				EnvVars: []string{config.EnvRelayRedisDB},
			},
			&cli.Float64Flag{
				Name:    "rate-limit",
				Value:   50,
				Usage:   "Accepted authorize submissions per second",
				EnvVars: []string{config.EnvRelayRateLimit},
			},
			&cli.StringFlag{
				Name:  "seed-balance",
				Usage: "Initial treasury balance credited to the owner (decimal)",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvRelayVerbose},
			},
		},
		Action: runRelayServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runRelayServer(c *cli.Context) error {
	cfg := &config.RelayServerConfig{
		Port:         c.Int("port"),
		OwnerAddress: c.String("owner"),
		Persistence:  config.PersistenceType(c.String("persistence")),
		DataDir:      c.String("data-dir"),
		RedisAddress: c.String("redis-address"),
		RedisDB:      c.Int("redis-db"),
		RateLimit:    c.Float64("rate-limit"),
		Debug:        c.Bool("verbose"),
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	store, err := buildStore(cfg, l)
	if err != nil {
		return fmt.Errorf("failed to initialize nonce store: %w", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.HealthCheck(); err != nil {
		return fmt.Errorf("nonce store health check failed: %w", err)
	}

	reg := registry.NewActionRegistry(l)

	vault := treasury.NewTreasury(cfg.Owner(), l)
	if err := reg.Register(treasury.ActionTransfer, vault.TransferHandler()); err != nil {
		return fmt.Errorf("failed to register treasury handler: %w", err)
	}

	if seed := c.String("seed-balance"); seed != "" {
		amount, ok := new(big.Int).SetString(seed, 10)
		if !ok {
			return fmt.Errorf("invalid seed balance: %s", seed)
		}
		if err := vault.Deposit(cfg.Owner(), amount); err != nil {
			return fmt.Errorf("failed to seed treasury: %w", err)
		}
		l.Sugar().Infow("Seeded treasury balance", "owner", cfg.OwnerAddress, "amount", seed)
	}

	auth := authorizer.NewAuthorizer(store, reg, l)

	srv := server.NewServer(auth, l, cfg.Port, cfg.RateLimit)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	l.Sugar().Infow("Relay server running",
		"port", cfg.Port,
		"persistence", cfg.Persistence.String(),
		"owner", cfg.OwnerAddress,
		"actions", reg.Actions(),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	l.Sugar().Infow("Shutting down", "signal", sig.String())
	return srv.Stop()
}

func buildStore(cfg *config.RelayServerConfig, l *zap.Logger) (persistence.INonceStore, error) {
	switch cfg.Persistence {
	case config.PersistenceMemory:
		return memory.NewMemoryStore(), nil
	case config.PersistenceBadger:
		return badgerstore.NewBadgerStore(cfg.DataDir, l)
	case config.PersistenceRedis:
		return redisstore.NewRedisStore(&redisstore.RedisConfig{
			Address: cfg.RedisAddress,
			DB:      cfg.RedisDB,
		}, l)
	default:
		return nil, fmt.Errorf("unsupported persistence type: %s", cfg.Persistence)
	}
}
