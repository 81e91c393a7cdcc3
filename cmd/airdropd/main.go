package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/gagliardetto/solana-go"

	"github.com/ploutoslabs/airdrop/ledger"
	"github.com/ploutoslabs/airdrop/logger"
	"github.com/ploutoslabs/airdrop/metrics"
	"github.com/ploutoslabs/airdrop/program"
	"github.com/ploutoslabs/airdrop/server"
	"github.com/ploutoslabs/airdrop/store"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	listenAddrFlag := flag.String("listen-addr", ":8080", "HTTP listen address (or set LISTEN_ADDR env var)")
	programIDFlag := flag.String("program-id", "", "program identity for address derivation (or set PROGRAM_ID env var; defaults to the deployed program)")
	inMemoryFlag := flag.Bool("in-memory", false, "run against an in-memory ledger instead of Postgres (local development only)")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", 15*time.Second, "graceful shutdown timeout")

	// PostgreSQL configuration
	pgHostFlag := flag.String("postgres-host", "", "PostgreSQL host (or set POSTGRES_HOST env var)")
	pgPortFlag := flag.String("postgres-port", "", "PostgreSQL port (or set POSTGRES_PORT env var)")
	pgDatabaseFlag := flag.String("postgres-db", "", "PostgreSQL database (or set POSTGRES_DB env var)")
	pgUserFlag := flag.String("postgres-user", "", "PostgreSQL user (or set POSTGRES_USER env var)")
	pgPasswordFlag := flag.String("postgres-password", "", "PostgreSQL password (or set POSTGRES_PASSWORD env var)")
	pgMigrateFlag := flag.Bool("postgres-migrate", false, "run database migrations on startup (or set POSTGRES_RUN_MIGRATIONS=true)")

	flag.Parse()

	// .env is optional; flags and real env vars win over it.
	_ = godotenv.Load()

	log := logger.New(*verboseFlag)

	if env := os.Getenv("LISTEN_ADDR"); env != "" && *listenAddrFlag == ":8080" {
		*listenAddrFlag = env
	}
	if env := os.Getenv("PROGRAM_ID"); env != "" && *programIDFlag == "" {
		*programIDFlag = env
	}
	if env := os.Getenv("POSTGRES_HOST"); env != "" && *pgHostFlag == "" {
		*pgHostFlag = env
	}
	if env := os.Getenv("POSTGRES_PORT"); env != "" && *pgPortFlag == "" {
		*pgPortFlag = env
	}
	if env := os.Getenv("POSTGRES_DB"); env != "" && *pgDatabaseFlag == "" {
		*pgDatabaseFlag = env
	}
	if env := os.Getenv("POSTGRES_USER"); env != "" && *pgUserFlag == "" {
		*pgUserFlag = env
	}
	if env := os.Getenv("POSTGRES_PASSWORD"); env != "" && *pgPasswordFlag == "" {
		*pgPasswordFlag = env
	}
	if os.Getenv("POSTGRES_RUN_MIGRATIONS") == "true" {
		*pgMigrateFlag = true
	}

	programID := program.DefaultProgramID
	if *programIDFlag != "" {
		pk, err := solana.PublicKeyFromBase58(*programIDFlag)
		if err != nil {
			return fmt.Errorf("invalid program id: %w", err)
		}
		programID = pk
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var ldg program.Ledger
	if *inMemoryFlag {
		log.Warn("main: running with in-memory ledger, state will not survive restart")
		ldg = ledger.NewMemory()
	} else {
		pgCfg := store.PgConfig{
			Host:     *pgHostFlag,
			Port:     *pgPortFlag,
			Database: *pgDatabaseFlag,
			Username: *pgUserFlag,
			Password: *pgPasswordFlag,
		}
		pool, err := store.Connect(ctx, pgCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		defer pool.Close()
		log.Info("main: connected to postgres", "host", pgCfg.Host, "database", pgCfg.Database)

		if *pgMigrateFlag {
			if err := store.Migrate(pgCfg); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info("main: migrations complete")
		}

		st, err := store.New(store.Config{Logger: log, Pool: pool})
		if err != nil {
			return fmt.Errorf("failed to create store: %w", err)
		}
		ldg = st
	}

	prog, err := program.New(program.Config{
		Logger:    log,
		Ledger:    ldg,
		ProgramID: programID,
	})
	if err != nil {
		return fmt.Errorf("failed to create program: %w", err)
	}

	srv, err := server.New(server.Config{
		Logger:          log,
		Program:         prog,
		ListenAddr:      *listenAddrFlag,
		ShutdownTimeout: *shutdownTimeoutFlag,
		VersionInfo:     server.VersionInfo{Version: version, Commit: commit, Date: date},
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
	log.Info("main: starting", "version", version, "program_id", programID.String())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx)
	})
	return g.Wait()
}
