package ledger

import (
	"context"
	"fmt"
	"math/big"
)

// Finalizer performs the advisory completeAnalysis write from the sponsor key
// after a successful off-chain analysis.
type Finalizer struct {
	client  *Client
	advisor *Advisor
}

func NewFinalizer(client *Client, advisor *Advisor) *Finalizer {
	return &Finalizer{client: client, advisor: advisor}
}

func (f *Finalizer) GetAnalysis(ctx context.Context, analysisID *big.Int) (*OnChainAnalysis, error) {
	return f.advisor.GetAnalysis(ctx, analysisID)
}

func (f *Finalizer) CompleteAnalysis(ctx context.Context, analysisID *big.Int, diagnosis, advice string) error {
	data, err := f.advisor.CompleteAnalysisData(analysisID, diagnosis, advice)
	if err != nil {
		return fmt.Errorf("failed to encode completeAnalysis: %w", err)
	}

	handle, err := f.client.Submit(ctx, Request{
		To:   f.advisor.Address.Hex(),
		Data: data,
	})
	if err != nil {
		return err
	}

	receipt, err := f.client.AwaitReceipt(ctx, handle)
	if err != nil {
		return err
	}
	if receipt.Status == 0 {
		return fmt.Errorf("completeAnalysis reverted for id %s", analysisID)
	}
	return nil
}
