package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/tether007/greenChain-Advisory/internal/analysis"
)

// FlowRequest drives the full channel-backed demo flow for one user.
type FlowRequest struct {
	Payer     string
	ImageName string
	ImageSize int64
	// ImagePath is the transient upload; when empty the AI step is skipped.
	ImagePath string
	MimeType  string
}

// FlowResult carries the outcome plus a human-readable step timeline.
type FlowResult struct {
	AnalysisID string           `json:"analysis_id,omitempty"`
	TxHash     string           `json:"tx_hash,omitempty"`
	ChannelID  string           `json:"channel_id,omitempty"`
	Result     *analysis.Result `json:"result,omitempty"`
	Steps      []string         `json:"steps"`
}

func (r *FlowResult) step(msg string) {
	r.Steps = append(r.Steps, fmt.Sprintf("%s - %s", time.Now().Format("15:04:05"), msg))
}

// RunChannelFlow executes the end-to-end gasless sequence: connect to the
// clearing node, open (or reuse) the payment channel, pay for the analysis
// through the relay, run the AI dispatch, and close the channel to settle.
// The partial FlowResult is returned alongside any error so callers can show
// how far the flow got.
func (o *Orchestrator) RunChannelFlow(ctx context.Context, req FlowRequest) (*FlowResult, error) {
	result := &FlowResult{}

	session := o.sessions.Session(req.Payer)

	result.step("Connecting to clearing node...")
	if err := session.Connect(ctx); err != nil {
		result.step("Connection failed.")
		return result, err
	}
	result.step("Connected and authenticated.")

	// Prefer the already-open channel; opening a second one would split
	// channel-id state across flows.
	channelID := session.ActiveChannelID()
	if channelID == "" {
		result.step("Opening channel...")
		opened, err := session.OpenChannel(ctx, []string{req.Payer, o.cfg.Counterparty}, o.cfg.ChallengeDuration)
		if err != nil {
			result.step("Open channel failed.")
			return result, err
		}
		channelID = opened
		result.step(fmt.Sprintf("Channel opened: %s", shortID(channelID)))
	} else {
		result.step(fmt.Sprintf("Using active channel: %s", shortID(channelID)))
	}
	result.ChannelID = channelID

	result.step("Submitting gasless transaction to request analysis...")
	payment, err := o.RequestPayment(ctx, PaymentRequest{
		Payer:       req.Payer,
		ImageName:   req.ImageName,
		ImageSize:   req.ImageSize,
		PreferRelay: true,
	})
	if err != nil {
		result.step("Payment failed.")
		return result, err
	}
	result.AnalysisID = payment.AnalysisID
	result.TxHash = payment.TxHash
	result.step(fmt.Sprintf("Payment confirmed, analysis id %s", payment.AnalysisID))

	if req.ImagePath != "" {
		result.step("Running AI analysis...")
		analysisResult, err := o.dispatch.Run(ctx, payment.AnalysisID, req.ImagePath, req.MimeType)
		if err != nil {
			result.step("AI analysis failed.")
			return result, err
		}
		result.Result = analysisResult
		result.step("AI analysis completed.")
	}

	result.step("Closing channel to settle...")
	if err := session.CloseActiveChannel(ctx); err != nil {
		result.step("Channel close failed.")
		return result, err
	}
	result.step("Channel close initiated. Settlement after challenge window.")

	return result, nil
}

func shortID(id string) string {
	if len(id) > 10 {
		return id[:10] + "..."
	}
	return id
}
