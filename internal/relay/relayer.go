package relay

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/tether007/greenChain-Advisory/internal/ledger"
)

// Relayer is the server side of the gasless path: it signs submitted calls
// with the sponsor key, broadcasts them, and waits for their receipts. The
// sponsor is a trusted external signer holding its own funds.
type Relayer struct {
	client *ledger.Client
}

func NewRelayer(client *ledger.Client) *Relayer {
	return &Relayer{client: client}
}

// Relay broadcasts {to, data, value} from the sponsor key and waits for the
// receipt. The returned status follows receipt semantics: 1 success, 0 revert.
func (r *Relayer) Relay(ctx context.Context, to, data string, value *big.Int) (string, uint64, error) {
	callData, err := hexutil.Decode(data)
	if err != nil {
		return "", 0, fmt.Errorf("invalid call data: %w", err)
	}

	handle, err := r.client.Submit(ctx, ledger.Request{
		To:    to,
		Data:  callData,
		Value: value,
	})
	if err != nil {
		return "", 0, err
	}

	receipt, err := r.client.AwaitReceipt(ctx, handle)
	if err != nil {
		return handle.Hash.Hex(), 0, err
	}

	return handle.Hash.Hex(), receipt.Status, nil
}
