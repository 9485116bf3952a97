package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/tether007/greenChain-Advisory/internal/ledger"
)

var (
	ErrUnavailable = errors.New("no relay session available")
	ErrRejected    = errors.New("relay rejected transaction")
)

// Client submits transactions through a fee-sponsoring relay. The relay signs
// and broadcasts with its own funds; nothing is locally observable beyond the
// returned handle.
type Client struct {
	url  string
	http *http.Client
}

func NewClient(url string) *Client {
	return &Client{
		url:  url,
		http: &http.Client{Timeout: 90 * time.Second},
	}
}

// Available reports whether a relay endpoint is configured.
func (c *Client) Available() bool {
	return c != nil && c.url != ""
}

type relayRequest struct {
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value,omitempty"`
}

type relayResponse struct {
	Hash   string `json:"hash"`
	Status uint64 `json:"status"`
	Error  string `json:"error,omitempty"`
}

// SendGasless forwards {to, data, value} to the sponsoring relay and returns
// a handle comparable to a direct submission.
func (c *Client) SendGasless(ctx context.Context, req ledger.Request) (ledger.TxHandle, error) {
	if !c.Available() {
		return ledger.TxHandle{}, ErrUnavailable
	}

	payload := relayRequest{
		To:   req.To,
		Data: hexutil.Encode(req.Data),
	}
	if req.Value != nil && req.Value.Sign() > 0 {
		payload.Value = req.Value.String()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return ledger.TxHandle{}, fmt.Errorf("failed to marshal relay request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return ledger.TxHandle{}, fmt.Errorf("failed to create relay request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return ledger.TxHandle{}, fmt.Errorf("relay request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ledger.TxHandle{}, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var relayResp relayResponse
	if err := json.NewDecoder(resp.Body).Decode(&relayResp); err != nil {
		return ledger.TxHandle{}, fmt.Errorf("failed to decode relay response: %w", err)
	}
	if relayResp.Hash == "" {
		return ledger.TxHandle{}, fmt.Errorf("%w: missing transaction hash", ErrRejected)
	}

	return ledger.TxHandle{
		Hash: common.HexToHash(relayResp.Hash),
		Path: ledger.PathRelayed,
	}, nil
}
