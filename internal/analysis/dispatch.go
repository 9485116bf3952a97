package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"os"
	"strings"

	"github.com/tether007/greenChain-Advisory/internal/database"
	"github.com/tether007/greenChain-Advisory/internal/ledger"
	"github.com/tether007/greenChain-Advisory/internal/models"
)

// Advisor is the AI collaborator: image bytes in, raw response text out.
type Advisor interface {
	Analyze(ctx context.Context, image []byte, mimeType string) (string, error)
}

// Finalizer performs the advisory on-chain completion write.
type Finalizer interface {
	GetAnalysis(ctx context.Context, analysisID *big.Int) (*ledger.OnChainAnalysis, error)
	CompleteAnalysis(ctx context.Context, analysisID *big.Int, diagnosis, advice string) error
}

const fallbackAdvice = "Please consult with a local agricultural expert for detailed treatment recommendations."

// PlantInfo is the AI's species identification.
type PlantInfo struct {
	Species    string  `json:"species"`
	LeafType   string  `json:"leafType"`
	Confidence float64 `json:"confidence"`
}

type Differential struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

type Treatment struct {
	Name     string `json:"name"`
	Dose     string `json:"dose"`
	Interval string `json:"interval"`
	Notes    string `json:"notes"`
}

type TimelineEntry struct {
	When    string   `json:"when"`
	Actions []string `json:"actions"`
}

// Result is the structured analysis returned to the caller. The system always
// returns some structured result: a malformed AI response degrades rather
// than fails.
type Result struct {
	Plant             *PlantInfo      `json:"plant,omitempty"`
	Diagnosis         string          `json:"diagnosis"`
	Differentials     []Differential  `json:"differentials,omitempty"`
	Severity          string          `json:"severity"`
	Confidence        float64         `json:"confidence"`
	MedicinePlan      []Treatment     `json:"medicinePlan,omitempty"`
	CulturalPractices []string        `json:"culturalPractices,omitempty"`
	Monitoring        []string        `json:"monitoring,omitempty"`
	Timeline          []TimelineEntry `json:"timeline,omitempty"`
	LabTests          []string        `json:"labTests,omitempty"`
	Advice            string          `json:"advice,omitempty"`
	Report            string          `json:"report,omitempty"`
}

// Dispatch owns the off-chain half of a paid analysis: registration, AI
// invocation, persistence, report rendering, and the advisory on-chain
// finalization.
type Dispatch struct {
	store      *database.Database
	ai         Advisor
	chain      Finalizer // nil disables on-chain finalization
	reportsDir string
}

func NewDispatch(store *database.Database, ai Advisor, chain Finalizer, reportsDir string) *Dispatch {
	return &Dispatch{
		store:      store,
		ai:         ai,
		chain:      chain,
		reportsDir: reportsDir,
	}
}

// Register inserts the pending record for an analysis identifier seen on
// chain. Registering the same identifier twice is a no-op, never an error:
// the store's uniqueness constraint is the de-duplication authority.
func (d *Dispatch) Register(ctx context.Context, analysisID, farmerAddress, imageHash string) error {
	return d.store.RegisterAnalysis(&models.Analysis{
		AnalysisID:    analysisID,
		FarmerAddress: farmerAddress,
		ImageHash:     imageHash,
	})
}

// Run invokes the AI collaborator once for a registered analysis, persists
// the result, finalizes on chain best-effort, and renders the report. The
// transient uploaded image at imagePath is removed on every exit path.
func (d *Dispatch) Run(ctx context.Context, analysisID, imagePath, mimeType string) (*Result, error) {
	defer func() {
		if err := os.Remove(imagePath); err != nil && !os.IsNotExist(err) {
			log.Printf("upload cleanup failed for %s: %v", imagePath, err)
		}
	}()

	if d.ai == nil {
		return nil, fmt.Errorf("AI advisor not configured")
	}

	image, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read uploaded image: %w", err)
	}

	raw, err := d.ai.Analyze(ctx, image, mimeType)
	if err != nil {
		return nil, fmt.Errorf("analysis failed: %w", err)
	}

	result := ParseResult(raw)

	// The row must already exist from registration; completion is a guarded
	// update, never an insert.
	if err := d.store.CompleteAnalysis(analysisID, result.Diagnosis, result.Advice, result.Confidence, result.Severity); err != nil {
		return nil, fmt.Errorf("failed to persist analysis %s: %w", analysisID, err)
	}

	d.finalizeOnChain(ctx, analysisID, result)

	report, err := WriteReport(d.reportsDir, analysisID, result, image, mimeType)
	if err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	result.Report = report

	return result, nil
}

// finalizeOnChain marks the analysis complete on the contract. This is an
// advisory write: failure must be observable but never fails the request the
// user already paid for.
func (d *Dispatch) finalizeOnChain(ctx context.Context, analysisID string, result *Result) {
	if d.chain == nil {
		return
	}

	id, ok := new(big.Int).SetString(analysisID, 10)
	if !ok {
		log.Printf("on-chain completion skipped: non-numeric analysis id %q", analysisID)
		return
	}

	current, err := d.chain.GetAnalysis(ctx, id)
	if err != nil {
		log.Printf("on-chain completion failed for %s: %v", analysisID, err)
		return
	}
	if current.Completed {
		return
	}

	if err := d.chain.CompleteAnalysis(ctx, id, result.Diagnosis, result.Advice); err != nil {
		log.Printf("on-chain completion failed for %s: %v", analysisID, err)
	}
}

// ParseResult extracts the structured JSON object from the AI response text.
// Responses without a parseable JSON object degrade to a truncated diagnosis
// with fixed medium severity and 0.75 confidence.
func ParseResult(text string) *Result {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		var result Result
		if err := json.Unmarshal([]byte(text[start:end+1]), &result); err == nil && result.Diagnosis != "" {
			return &result
		}
	}

	diagnosis := text
	if len(diagnosis) > 200 {
		diagnosis = diagnosis[:200]
	}
	return &Result{
		Diagnosis:  diagnosis + "...",
		Advice:     fallbackAdvice,
		Severity:   models.SeverityMedium,
		Confidence: 0.75,
	}
}
