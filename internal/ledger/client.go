package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	ErrInvalidAddress   = errors.New("invalid ledger address")
	ErrContractNotFound = errors.New("no contract code at address")
	ErrSubmission       = errors.New("transaction submission rejected")
	ErrReceiptTimeout   = errors.New("timed out waiting for transaction receipt")
	ErrEventNotFound    = errors.New("event not found in receipt")
)

// SubmissionPath records how a transaction reached the network.
type SubmissionPath string

const (
	PathDirect  SubmissionPath = "direct"
	PathRelayed SubmissionPath = "relayed"
)

// TxHandle identifies a submitted transaction regardless of submission path.
type TxHandle struct {
	Hash common.Hash
	Path SubmissionPath
}

// Request is a value/data-bearing contract call. Immutable once submitted.
type Request struct {
	To    string
	Data  []byte
	Value *big.Int
}

// Backend is the subset of the Ethereum client the ledger client depends on.
// *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

const (
	// Fixed gas budget ceiling for advisory contract calls.
	defaultGasLimit = 300000

	defaultPollInterval = time.Second
	defaultPollAttempts = 60
)

// Client submits transactions from a local signing key and resolves receipts.
type Client struct {
	backend Backend
	key     *ecdsa.PrivateKey
	from    common.Address

	gasLimit     uint64
	pollInterval time.Duration
	pollAttempts int
}

// NewClient wraps a backend with a signing key.
func NewClient(backend Backend, key *ecdsa.PrivateKey) *Client {
	return &Client{
		backend:      backend,
		key:          key,
		from:         crypto.PubkeyToAddress(key.PublicKey),
		gasLimit:     defaultGasLimit,
		pollInterval: defaultPollInterval,
		pollAttempts: defaultPollAttempts,
	}
}

// Dial connects to a JSON-RPC node and loads the hex-encoded signing key.
func Dial(rpcURL, hexKey string) (*Client, error) {
	backend, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}

	key, err := crypto.HexToECDSA(trimHexPrefix(hexKey))
	if err != nil {
		return nil, fmt.Errorf("invalid signing key: %w", err)
	}

	return NewClient(backend, key), nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// From returns the client's signing address.
func (c *Client) From() common.Address {
	return c.from
}

// SetPolling overrides the receipt polling interval and attempt ceiling.
func (c *Client) SetPolling(interval time.Duration, attempts int) {
	c.pollInterval = interval
	c.pollAttempts = attempts
}

// VerifyContract checks that the address is well formed and has deployed code.
func (c *Client) VerifyContract(ctx context.Context, address string) (common.Address, error) {
	if !common.IsHexAddress(address) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}

	addr := common.HexToAddress(address)
	code, err := c.backend.CodeAt(ctx, addr, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to query code at %s: %w", address, err)
	}
	if len(code) == 0 {
		return common.Address{}, fmt.Errorf("%w: %s", ErrContractNotFound, address)
	}

	return addr, nil
}

// Submit signs and broadcasts a contract call from the local key.
func (c *Client) Submit(ctx context.Context, req Request) (TxHandle, error) {
	to, err := c.VerifyContract(ctx, req.To)
	if err != nil {
		return TxHandle{}, err
	}

	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return TxHandle{}, fmt.Errorf("failed to fetch nonce: %w", err)
	}

	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return TxHandle{}, fmt.Errorf("failed to fetch gas price: %w", err)
	}

	chainID, err := c.backend.ChainID(ctx)
	if err != nil {
		return TxHandle{}, fmt.Errorf("failed to fetch chain id: %w", err)
	}

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	tx, err := types.SignNewTx(c.key, types.LatestSignerForChainID(chainID), &types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      c.gasLimit,
		GasPrice: gasPrice,
		Data:     req.Data,
	})
	if err != nil {
		return TxHandle{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.backend.SendTransaction(ctx, tx); err != nil {
		return TxHandle{}, fmt.Errorf("%w: %v", ErrSubmission, err)
	}

	return TxHandle{Hash: tx.Hash(), Path: PathDirect}, nil
}

// AwaitReceipt polls for the transaction receipt at a fixed interval up to the
// attempt ceiling. A transaction that never confirms within the budget
// surfaces ErrReceiptTimeout; the caller must not assume either outcome.
func (c *Client) AwaitReceipt(ctx context.Context, handle TxHandle) (*types.Receipt, error) {
	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		receipt, err := c.backend.TransactionReceipt(ctx, handle.Hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			// Transient node errors keep the budget ticking rather than
			// aborting the wait.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}

	return nil, fmt.Errorf("%w: %s after %d attempts", ErrReceiptTimeout, handle.Hash.Hex(), c.pollAttempts)
}

// Call executes a read-only contract call.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.backend.CallContract(ctx, ethereum.CallMsg{
		From: c.from,
		To:   &to,
		Data: data,
	}, nil)
}
