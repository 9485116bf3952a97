package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the advisory service.
// Values come from the environment; a .env file is loaded when present.
type Config struct {
	Port int

	// Ledger
	RPCURL          string
	ContractAddress string
	// PaymentTokenAddress selects the payment asset: when set, analysis
	// requests are paid in the ERC-20 token; when empty, in native coin.
	PaymentTokenAddress string
	RelayerPrivateKey   string

	// Relay endpoint used by the orchestrator for gasless submission.
	RelayURL string

	// Clearing node (payment channels)
	ClearNodeWSURL     string
	ClearNodeFaucetURL string
	ClearNodeHTTPBase  string
	CounterpartyAddr   string

	// AI
	GeminiAPIKey string

	// Storage
	DatabaseURL string // Postgres DSN; SQLitePath is used when empty
	SQLitePath  string
	ReportsDir  string
	UploadsDir  string
}

const (
	defaultPort          = 3001
	defaultRPCURL        = "http://127.0.0.1:7545"
	defaultClearNodeWS   = "wss://clearnet-sandbox.yellow.com/ws"
	defaultClearNodeHTTP = "https://clearnet-sandbox.yellow.com/faucet/requestTokens"
	defaultClearNodeBase = "https://clearnet-sandbox.yellow.com"
	defaultCounterparty  = "0x000000000000000000000000000000000000dEaD"
	defaultSQLitePath    = "greenchain.db"
	defaultReportsDir    = "reports"
	defaultUploadsDir    = "uploads"
)

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when it exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                defaultPort,
		RPCURL:              envOr("RPC_URL", defaultRPCURL),
		ContractAddress:     os.Getenv("CONTRACT_ADDRESS"),
		PaymentTokenAddress: os.Getenv("PAYMENT_TOKEN_ADDRESS"),
		RelayerPrivateKey:   os.Getenv("RELAYER_PRIVATE_KEY"),
		RelayURL:            os.Getenv("RELAY_URL"),
		ClearNodeWSURL:      envOr("CLEARNODE_WS_URL", defaultClearNodeWS),
		ClearNodeFaucetURL:  envOr("CLEARNODE_FAUCET_URL", defaultClearNodeHTTP),
		ClearNodeHTTPBase:   envOr("CLEARNODE_HTTP_BASE", defaultClearNodeBase),
		CounterpartyAddr:    envOr("CHANNEL_COUNTERPARTY", defaultCounterparty),
		GeminiAPIKey:        os.Getenv("GEMINI_API_KEY"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		SQLitePath:          envOr("SQLITE_PATH", defaultSQLitePath),
		ReportsDir:          envOr("REPORTS_DIR", defaultReportsDir),
		UploadsDir:          envOr("UPLOADS_DIR", defaultUploadsDir),
	}

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Port = port
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
