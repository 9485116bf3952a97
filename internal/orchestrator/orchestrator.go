package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/tether007/greenChain-Advisory/internal/analysis"
	"github.com/tether007/greenChain-Advisory/internal/channel"
	"github.com/tether007/greenChain-Advisory/internal/ledger"
)

var (
	ErrInvalidContract     = errors.New("destination is not a deployed contract")
	ErrPaymentReverted     = errors.New("payment transaction reverted")
	ErrPaymentTimeout      = errors.New("payment confirmation timed out")
	ErrPaymentEventMissing = errors.New("payment event missing from receipt")
)

// Ledger is the submission surface the orchestrator drives.
type Ledger interface {
	VerifyContract(ctx context.Context, address string) (common.Address, error)
	Submit(ctx context.Context, req ledger.Request) (ledger.TxHandle, error)
	AwaitReceipt(ctx context.Context, handle ledger.TxHandle) (*types.Receipt, error)
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// GaslessSender submits through a fee-sponsoring relay.
type GaslessSender interface {
	Available() bool
	SendGasless(ctx context.Context, req ledger.Request) (ledger.TxHandle, error)
}

// Dispatcher is the off-chain analysis collaborator.
type Dispatcher interface {
	Register(ctx context.Context, analysisID, farmerAddress, imageHash string) error
	Run(ctx context.Context, analysisID, imagePath, mimeType string) (*analysis.Result, error)
}

// ChannelSession is the per-identity payment channel session.
type ChannelSession interface {
	Connect(ctx context.Context) error
	ActiveChannelID() string
	OpenChannel(ctx context.Context, participants []string, challengeDuration uint32) (string, error)
	CloseActiveChannel(ctx context.Context) error
}

// SessionProvider hands out channel sessions by user identity.
type SessionProvider interface {
	Session(identity string) ChannelSession
}

// ManagerProvider adapts *channel.Manager to SessionProvider.
type ManagerProvider struct {
	Manager *channel.Manager
}

func (p ManagerProvider) Session(identity string) ChannelSession {
	return p.Manager.Session(identity)
}

// Config fixes the orchestrator's policy before any flow starts. Asset
// selection is static: a configured token address selects the ERC-20 path
// for every payment; it is never renegotiated mid-flow.
type Config struct {
	ContractAddress   string
	TokenAddress      string
	Counterparty      string
	ChallengeDuration uint32
}

type Orchestrator struct {
	ledger   Ledger
	relay    GaslessSender
	dispatch Dispatcher
	sessions SessionProvider
	cfg      Config
}

func New(l Ledger, relay GaslessSender, dispatch Dispatcher, sessions SessionProvider, cfg Config) *Orchestrator {
	if cfg.ChallengeDuration == 0 {
		cfg.ChallengeDuration = 600
	}
	return &Orchestrator{
		ledger:   l,
		relay:    relay,
		dispatch: dispatch,
		sessions: sessions,
		cfg:      cfg,
	}
}

// ImageToken derives the client-side correlation token for an upload from its
// name, size, and the current time. It is not a content hash: two uploads of
// the same bytes get different tokens and the token does not authenticate
// content.
func ImageToken(name string, size int64) string {
	return fmt.Sprintf("%s-%d-%d", name, size, time.Now().UnixMilli())
}

// PaymentRequest describes one analysis payment. Immutable once submitted.
type PaymentRequest struct {
	Payer       string
	ImageName   string
	ImageSize   int64
	PreferRelay bool
}

// PaymentResult is the confirmed outcome of a payment flow.
type PaymentResult struct {
	AnalysisID string
	TxHash     string
	Amount     *big.Int
	ImageHash  string
	Path       ledger.SubmissionPath
}

// RequestPayment runs one payment flow: contract validation, price read,
// submission (relayed when preferred and available, direct otherwise),
// bounded receipt wait, event decode, and dispatch registration.
//
// A timeout is terminal for this attempt: the charge may or may not have
// landed, so the flow never resubmits; reconciliation is the caller's
// explicit decision.
func (o *Orchestrator) RequestPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	contractAddr, err := o.ledger.VerifyContract(ctx, o.cfg.ContractAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContract, err)
	}

	imageHash := ImageToken(req.ImageName, req.ImageSize)
	advisor := ledger.NewAdvisor(o.ledger, contractAddr)
	useRelay := req.PreferRelay && o.relay != nil && o.relay.Available()

	var handle ledger.TxHandle
	if o.cfg.TokenAddress != "" {
		handle, err = o.payWithToken(ctx, advisor, imageHash, useRelay)
	} else {
		handle, err = o.payNative(ctx, advisor, imageHash, useRelay)
	}
	if err != nil {
		return nil, err
	}

	receipt, err := o.ledger.AwaitReceipt(ctx, handle)
	if err != nil {
		if errors.Is(err, ledger.ErrReceiptTimeout) {
			return nil, fmt.Errorf("%w: %v", ErrPaymentTimeout, err)
		}
		return nil, err
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return nil, fmt.Errorf("%w: tx %s", ErrPaymentReverted, handle.Hash.Hex())
	}

	event, err := ledger.DecodePaymentReceived(receipt)
	if err != nil {
		if errors.Is(err, ledger.ErrEventNotFound) {
			return nil, fmt.Errorf("%w: tx %s", ErrPaymentEventMissing, handle.Hash.Hex())
		}
		return nil, err
	}

	analysisID := event.AnalysisID.String()

	// Registration is fire-and-forget here; dispatch owns idempotence and the
	// UI can re-register a confirmed id at any time.
	if err := o.dispatch.Register(ctx, analysisID, req.Payer, imageHash); err != nil {
		log.Printf("failed to register analysis %s: %v", analysisID, err)
	}

	return &PaymentResult{
		AnalysisID: analysisID,
		TxHash:     handle.Hash.Hex(),
		Amount:     event.Amount,
		ImageHash:  imageHash,
		Path:       handle.Path,
	}, nil
}

func (o *Orchestrator) payNative(ctx context.Context, advisor *ledger.Advisor, imageHash string, useRelay bool) (ledger.TxHandle, error) {
	price, err := advisor.NativePrice(ctx)
	if err != nil {
		return ledger.TxHandle{}, fmt.Errorf("failed to read analysis price: %w", err)
	}

	data, err := advisor.RequestAnalysisData(imageHash)
	if err != nil {
		return ledger.TxHandle{}, fmt.Errorf("failed to encode requestAnalysis: %w", err)
	}

	req := ledger.Request{
		To:    o.cfg.ContractAddress,
		Data:  data,
		Value: price,
	}
	if useRelay {
		return o.relay.SendGasless(ctx, req)
	}
	return o.ledger.Submit(ctx, req)
}

func (o *Orchestrator) payWithToken(ctx context.Context, advisor *ledger.Advisor, imageHash string, useRelay bool) (ledger.TxHandle, error) {
	price, err := advisor.TokenPrice(ctx)
	if err != nil {
		return ledger.TxHandle{}, fmt.Errorf("failed to read token analysis price: %w", err)
	}

	// Approve exactly the price, then spend it.
	approveData, err := ledger.ApproveData(advisor.Address, price)
	if err != nil {
		return ledger.TxHandle{}, fmt.Errorf("failed to encode approve: %w", err)
	}
	approveReq := ledger.Request{To: o.cfg.TokenAddress, Data: approveData}

	requestData, err := advisor.RequestAnalysisTokenData(imageHash)
	if err != nil {
		return ledger.TxHandle{}, fmt.Errorf("failed to encode requestAnalysisToken: %w", err)
	}
	paymentReq := ledger.Request{To: o.cfg.ContractAddress, Data: requestData}

	if useRelay {
		if _, err := o.relay.SendGasless(ctx, approveReq); err != nil {
			return ledger.TxHandle{}, fmt.Errorf("token approve failed: %w", err)
		}
		return o.relay.SendGasless(ctx, paymentReq)
	}

	approveHandle, err := o.ledger.Submit(ctx, approveReq)
	if err != nil {
		return ledger.TxHandle{}, fmt.Errorf("token approve failed: %w", err)
	}
	approveReceipt, err := o.ledger.AwaitReceipt(ctx, approveHandle)
	if err != nil {
		return ledger.TxHandle{}, fmt.Errorf("token approve confirmation failed: %w", err)
	}
	if approveReceipt.Status == types.ReceiptStatusFailed {
		return ledger.TxHandle{}, fmt.Errorf("%w: approve tx %s", ErrPaymentReverted, approveHandle.Hash.Hex())
	}

	return o.ledger.Submit(ctx, paymentReq)
}
