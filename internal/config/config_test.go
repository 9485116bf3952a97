package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3001, cfg.Port)
	assert.Equal(t, "http://127.0.0.1:7545", cfg.RPCURL)
	assert.Equal(t, "wss://clearnet-sandbox.yellow.com/ws", cfg.ClearNodeWSURL)
	assert.Equal(t, "0x000000000000000000000000000000000000dEaD", cfg.CounterpartyAddr)
	assert.Equal(t, "reports", cfg.ReportsDir)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("RPC_URL", "http://localhost:8545")
	t.Setenv("PAYMENT_TOKEN_ADDRESS", "0x5555555555555555555555555555555555555555")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "http://localhost:8545", cfg.RPCURL)
	assert.Equal(t, "0x5555555555555555555555555555555555555555", cfg.PaymentTokenAddress)
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Setenv("PORT", "not-a-port")

	_, err := Load()
	assert.Error(t, err)
}
