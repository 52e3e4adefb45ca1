package params

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Sequencer holds the batch production settings.
type Sequencer struct {
	// TickInterval paces the batch loop. Default 100ms.
	TickInterval time.Duration
	// UseFillSalt enables per-fill PID salting. The salt presence is uniform
	// across every fill of a batch.
	UseFillSalt bool
	// FillSaltSeed keys the rotating salt function. A fresh seed on a re-run
	// rotates every PID.
	FillSaltSeed [32]byte
	// PIDCacheTTL bounds the trusted-path PID reverse index.
	PIDCacheTTL time.Duration
}

// Node holds process-level settings.
type Node struct {
	DatabaseURL string
	BindAddr    string
	LogLevel    string
	LogFile     string
	// ArchivePath locates the local pebble copy of finalized blocks.
	// Empty disables the archive.
	ArchivePath string
}

type Config struct {
	Sequencer Sequencer
	Node      Node
}

func Default() Config {
	return Config{
		Sequencer: Sequencer{
			TickInterval: 100 * time.Millisecond,
			UseFillSalt:  false,
			PIDCacheTTL:  10 * time.Minute,
		},
		Node: Node{
			BindAddr:    "0.0.0.0:8080",
			LogLevel:    "info",
			LogFile:     "",
			ArchivePath: "data/archive",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment
// variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.Node.DatabaseURL = getEnv("DATABASE_URL", cfg.Node.DatabaseURL)
	cfg.Node.BindAddr = getEnv("BIND_ADDR", cfg.Node.BindAddr)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.ArchivePath = getEnv("ARCHIVE_PATH", cfg.Node.ArchivePath)

	if tick := os.Getenv("TICK_INTERVAL_MS"); tick != "" {
		if ms, err := strconv.Atoi(tick); err == nil && ms > 0 {
			cfg.Sequencer.TickInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if ttl := os.Getenv("PID_CACHE_TTL_MS"); ttl != "" {
		if ms, err := strconv.Atoi(ttl); err == nil && ms > 0 {
			cfg.Sequencer.PIDCacheTTL = time.Duration(ms) * time.Millisecond
		}
	}
	if salt := os.Getenv("USE_FILL_SALT"); salt != "" {
		cfg.Sequencer.UseFillSalt = salt == "true"
	}

	// Seed from env when pinned, random otherwise so every process run
	// rotates PIDs.
	if seed := os.Getenv("FILL_SALT_SEED"); seed != "" {
		if raw, err := hex.DecodeString(seed); err == nil && len(raw) == 32 {
			copy(cfg.Sequencer.FillSaltSeed[:], raw)
		}
	} else if cfg.Sequencer.UseFillSalt {
		_, _ = rand.Read(cfg.Sequencer.FillSaltSeed[:])
	}

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
