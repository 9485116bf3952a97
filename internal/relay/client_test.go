package relay

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tether007/greenChain-Advisory/internal/ledger"
)

func TestSendGasless(t *testing.T) {
	var received relayRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		json.NewEncoder(w).Encode(relayResponse{Hash: "0xabc0000000000000000000000000000000000000000000000000000000000001", Status: 1})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	handle, err := client.SendGasless(context.Background(), ledger.Request{
		To:    "0x1111111111111111111111111111111111111111",
		Data:  []byte{0x01, 0x02},
		Value: big.NewInt(1000),
	})
	require.NoError(t, err)

	assert.Equal(t, ledger.PathRelayed, handle.Path)
	assert.NotEqual(t, common.Hash{}, handle.Hash)

	assert.Equal(t, "0x1111111111111111111111111111111111111111", received.To)
	assert.Equal(t, "0x0102", received.Data)
	assert.Equal(t, "1000", received.Value)
}

func TestSendGasless_OmitsZeroValue(t *testing.T) {
	var received relayRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		json.NewEncoder(w).Encode(relayResponse{Hash: "0x01", Status: 1})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.SendGasless(context.Background(), ledger.Request{
		To:   "0x1111111111111111111111111111111111111111",
		Data: []byte{0x01},
	})
	require.NoError(t, err)
	assert.Empty(t, received.Value)
}

func TestSendGasless_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "insufficient relayer funds", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.SendGasless(context.Background(), ledger.Request{To: "0x11", Data: []byte{0x01}})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestSendGasless_MissingHash(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(relayResponse{Status: 1})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.SendGasless(context.Background(), ledger.Request{To: "0x11", Data: []byte{0x01}})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestSendGasless_Unconfigured(t *testing.T) {
	client := NewClient("")
	assert.False(t, client.Available())

	_, err := client.SendGasless(context.Background(), ledger.Request{To: "0x11"})
	assert.ErrorIs(t, err, ErrUnavailable)
}
