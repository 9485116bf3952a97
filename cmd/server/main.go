package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tether007/greenChain-Advisory/internal/analysis"
	"github.com/tether007/greenChain-Advisory/internal/api"
	"github.com/tether007/greenChain-Advisory/internal/channel"
	"github.com/tether007/greenChain-Advisory/internal/config"
	"github.com/tether007/greenChain-Advisory/internal/database"
	"github.com/tether007/greenChain-Advisory/internal/ledger"
	"github.com/tether007/greenChain-Advisory/internal/orchestrator"
	"github.com/tether007/greenChain-Advisory/internal/relay"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var db *database.Database
	if cfg.DatabaseURL != "" {
		db, err = database.NewPostgres(cfg.DatabaseURL)
	} else {
		db, err = database.NewSqlite(cfg.SQLitePath)
	}
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	for _, dir := range []string{cfg.ReportsDir, cfg.UploadsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("Failed to create %s: %v", dir, err)
		}
	}

	// The ledger client, relayer, and payment orchestrator are optional: with
	// no sponsor key configured the service still serves registration, AI
	// analysis, history, and marketplace routes.
	var (
		ledgerClient *ledger.Client
		relayerSvc   *relay.Relayer
		finalizer    *ledger.Finalizer
	)
	if cfg.RelayerPrivateKey != "" {
		ledgerClient, err = ledger.Dial(cfg.RPCURL, cfg.RelayerPrivateKey)
		if err != nil {
			log.Fatalf("Failed to connect to RPC %s: %v", cfg.RPCURL, err)
		}
		relayerSvc = relay.NewRelayer(ledgerClient)
		log.Printf("Relayer account: %s", ledgerClient.From().Hex())

		if cfg.ContractAddress != "" {
			advisor := ledger.NewAdvisor(ledgerClient, common.HexToAddress(cfg.ContractAddress))
			finalizer = ledger.NewFinalizer(ledgerClient, advisor)
		}
	}

	var ai analysis.Advisor
	if cfg.GeminiAPIKey != "" {
		gemini, err := analysis.NewGemini(context.Background(), cfg.GeminiAPIKey)
		if err != nil {
			log.Fatalf("Failed to initialize Gemini client: %v", err)
		}
		defer gemini.Close()
		ai = gemini
	} else {
		log.Println("GEMINI_API_KEY not set, AI analysis disabled")
	}

	var chainFinalizer analysis.Finalizer
	if finalizer != nil {
		chainFinalizer = finalizer
	}
	dispatch := analysis.NewDispatch(db, ai, chainFinalizer, cfg.ReportsDir)

	channels := channel.NewManager(channel.Config{
		WSURL:     cfg.ClearNodeWSURL,
		FaucetURL: cfg.ClearNodeFaucetURL,
		HTTPBase:  cfg.ClearNodeHTTPBase,
	})
	defer channels.CloseAll()

	var orch *orchestrator.Orchestrator
	if ledgerClient != nil && cfg.ContractAddress != "" {
		var gasless orchestrator.GaslessSender
		if cfg.RelayURL != "" {
			gasless = relay.NewClient(cfg.RelayURL)
		}
		orch = orchestrator.New(ledgerClient, gasless, dispatch, orchestrator.ManagerProvider{Manager: channels}, orchestrator.Config{
			ContractAddress: cfg.ContractAddress,
			TokenAddress:    cfg.PaymentTokenAddress,
			Counterparty:    cfg.CounterpartyAddr,
		})
	} else {
		log.Println("Contract or relayer key not configured, payment routes disabled")
	}

	server := api.NewServer(api.Options{
		DB:         db,
		Dispatch:   dispatch,
		Orch:       orch,
		Relayer:    relayerSvc,
		Channels:   channels,
		ReportsDir: cfg.ReportsDir,
		UploadsDir: cfg.UploadsDir,
	})

	go func() {
		log.Printf("Server listening on port %d", cfg.Port)
		if err := server.Start(cfg.Port); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	if err := server.Shutdown(); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
