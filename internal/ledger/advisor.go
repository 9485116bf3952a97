package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Fixed ABI surface of the deployed CropAdvisor contract. Not renegotiable;
// the contract bytecode is an external collaborator.
const advisorABIJSON = `[
	{"type":"function","name":"analysisPrice","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"analysisPriceETH","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"analysisPriceToken","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"requestAnalysis","stateMutability":"payable","inputs":[{"name":"imageHash","type":"string"}],"outputs":[]},
	{"type":"function","name":"requestAnalysisToken","stateMutability":"nonpayable","inputs":[{"name":"imageHash","type":"string"}],"outputs":[]},
	{"type":"function","name":"completeAnalysis","stateMutability":"nonpayable","inputs":[{"name":"analysisId","type":"uint256"},{"name":"diagnosis","type":"string"},{"name":"advice","type":"string"}],"outputs":[]},
	{"type":"function","name":"getAnalysis","stateMutability":"view","inputs":[{"name":"analysisId","type":"uint256"}],"outputs":[{"name":"farmer","type":"address"},{"name":"imageHash","type":"string"},{"name":"diagnosis","type":"string"},{"name":"advice","type":"string"},{"name":"timestamp","type":"uint256"},{"name":"completed","type":"bool"}]},
	{"type":"event","name":"PaymentReceived","inputs":[{"name":"farmer","type":"address","indexed":true},{"name":"analysisId","type":"uint256","indexed":true},{"name":"amount","type":"uint256","indexed":false}],"anonymous":false}
]`

const erc20ABIJSON = `[
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// PaymentReceivedSignature is the only event the orchestrator consumes.
const PaymentReceivedSignature = "PaymentReceived(address,uint256,uint256)"

var (
	advisorABI = mustParseABI(advisorABIJSON)
	erc20ABI   = mustParseABI(erc20ABIJSON)

	paymentReceivedFields = []EventField{
		{Name: "farmer", Type: "address", Indexed: true},
		{Name: "analysisId", Type: "uint256", Indexed: true},
		{Name: "amount", Type: "uint256", Indexed: false},
	}
)

func mustParseABI(abiJSON string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid embedded ABI: %v", err))
	}
	return parsed
}

// Caller executes read-only contract calls.
type Caller interface {
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// Advisor wraps the read surface and call-data encoding of the CropAdvisor
// contract.
type Advisor struct {
	caller  Caller
	Address common.Address
}

func NewAdvisor(caller Caller, address common.Address) *Advisor {
	return &Advisor{caller: caller, Address: address}
}

// NativePrice reads the native-asset analysis price, falling back to the
// legacy single-asset price getter on contracts that predate dual pricing.
func (a *Advisor) NativePrice(ctx context.Context) (*big.Int, error) {
	price, err := a.readPrice(ctx, "analysisPriceETH")
	if err == nil {
		return price, nil
	}
	return a.readPrice(ctx, "analysisPrice")
}

// TokenPrice reads the ERC-20 analysis price.
func (a *Advisor) TokenPrice(ctx context.Context) (*big.Int, error) {
	return a.readPrice(ctx, "analysisPriceToken")
}

func (a *Advisor) readPrice(ctx context.Context, method string) (*big.Int, error) {
	data, err := advisorABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", method, err)
	}

	output, err := a.caller.Call(ctx, a.Address, data)
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}

	values, err := advisorABI.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	price, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s result type %T", method, values[0])
	}
	return price, nil
}

// RequestAnalysisData encodes the payable native-asset analysis request.
func (a *Advisor) RequestAnalysisData(imageHash string) ([]byte, error) {
	return advisorABI.Pack("requestAnalysis", imageHash)
}

// RequestAnalysisTokenData encodes the token-paid analysis request.
func (a *Advisor) RequestAnalysisTokenData(imageHash string) ([]byte, error) {
	return advisorABI.Pack("requestAnalysisToken", imageHash)
}

// CompleteAnalysisData encodes the advisory on-chain finalization call.
func (a *Advisor) CompleteAnalysisData(analysisID *big.Int, diagnosis, advice string) ([]byte, error) {
	return advisorABI.Pack("completeAnalysis", analysisID, diagnosis, advice)
}

// OnChainAnalysis mirrors the contract's analysis record.
type OnChainAnalysis struct {
	Farmer    common.Address
	ImageHash string
	Diagnosis string
	Advice    string
	Timestamp *big.Int
	Completed bool
}

// GetAnalysis reads the on-chain analysis state for the given identifier.
func (a *Advisor) GetAnalysis(ctx context.Context, analysisID *big.Int) (*OnChainAnalysis, error) {
	data, err := advisorABI.Pack("getAnalysis", analysisID)
	if err != nil {
		return nil, fmt.Errorf("failed to encode getAnalysis: %w", err)
	}

	output, err := a.caller.Call(ctx, a.Address, data)
	if err != nil {
		return nil, fmt.Errorf("getAnalysis call failed: %w", err)
	}

	values, err := advisorABI.Unpack("getAnalysis", output)
	if err != nil {
		return nil, fmt.Errorf("failed to decode getAnalysis result: %w", err)
	}
	if len(values) != 6 {
		return nil, fmt.Errorf("unexpected getAnalysis result arity %d", len(values))
	}

	record := &OnChainAnalysis{}
	record.Farmer, _ = values[0].(common.Address)
	record.ImageHash, _ = values[1].(string)
	record.Diagnosis, _ = values[2].(string)
	record.Advice, _ = values[3].(string)
	record.Timestamp, _ = values[4].(*big.Int)
	record.Completed, _ = values[5].(bool)
	return record, nil
}

// ApproveData encodes an ERC-20 approve for the given spender and amount.
func ApproveData(spender common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("approve", spender, amount)
}

// PaymentReceived is the decoded payment event. AnalysisID is the
// server-correlatable identifier minted by the contract.
type PaymentReceived struct {
	Farmer     common.Address
	AnalysisID *big.Int
	Amount     *big.Int
}

// DecodePaymentReceived extracts the single expected payment event from a
// receipt. A confirmed receipt without the event is a distinct, terminal
// condition from a reverted transaction.
func DecodePaymentReceived(receipt *types.Receipt) (*PaymentReceived, error) {
	fields, err := DecodeEvent(receipt, PaymentReceivedSignature, paymentReceivedFields)
	if err != nil {
		return nil, err
	}

	event := &PaymentReceived{}
	event.Farmer, _ = fields["farmer"].(common.Address)
	event.AnalysisID, _ = fields["analysisId"].(*big.Int)
	event.Amount, _ = fields["amount"].(*big.Int)
	if event.AnalysisID == nil {
		return nil, fmt.Errorf("payment event missing analysis id")
	}
	return event, nil
}
