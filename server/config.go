package server

import (
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/ploutoslabs/airdrop/program"
)

// VersionInfo describes the running build.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

type Config struct {
	Logger            *slog.Logger
	Program           *program.Program
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	VersionInfo       VersionInfo

	// Rate limit applied per IP to the mutating operation routes.
	OperationRate  rate.Limit
	OperationBurst int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Program == nil {
		return errors.New("program is required")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	if cfg.OperationRate <= 0 {
		// 60 operations/minute per IP with a burst of 10
		cfg.OperationRate = rate.Every(time.Minute / 60)
	}
	if cfg.OperationBurst <= 0 {
		cfg.OperationBurst = 10
	}
	return nil
}
