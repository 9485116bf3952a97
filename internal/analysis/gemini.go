package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const geminiModel = "gemini-2.0-flash"

const advisorPrompt = `You are an expert agri-pathologist and crop advisor. Analyze the attached image.

Goals:
1) Identify the plant species and specific leaf (e.g., tomato leaf, grapevine leaf). Return best guess with confidence.
2) Detect likely disease/pest/nutrient issue(s). Include differentials with confidence and severity.
3) Provide clear, actionable recommendations separated into:
   - Medicine/Treatment Plan (active ingredients, doses, application intervals, safety notes)
   - Cultural/Technical Practices (irrigation, pruning, sanitation, spacing, crop rotation)
   - Monitoring & Prevention (scouting, thresholds, IPM)
   - Timeline (Day 0, Day 3-5, Week 2, Week 4)
4) Include when to seek lab testing and which tests.

Output strictly as compact JSON (no markdown) with this schema:
{
  "plant": {"species": "string", "leafType": "string", "confidence": 0.0},
  "diagnosis": "string",
  "differentials": [{"name": "string", "confidence": 0.0}],
  "severity": "low|medium|high",
  "confidence": 0.0,
  "medicinePlan": [{"name": "string", "dose": "string", "interval": "string", "notes": "string"}],
  "culturalPractices": ["string", "string"],
  "monitoring": ["string", "string"],
  "timeline": [{"when": "Day 0", "actions": ["string"]}, {"when": "Day 3-5", "actions": ["string"]}],
  "labTests": ["PCR for virus X", "Soil test NPK", "Microscopy for fungal spores"]
}

Be concise but specific. Prefer globally available actives over brand names where possible.`

// Gemini is the production AI collaborator.
type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, apiKey string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Gemini{client: client, model: geminiModel}, nil
}

// Analyze sends the image with the advisory prompt and returns the raw
// response text. Parsing and degradation are the dispatcher's concern.
func (g *Gemini) Analyze(ctx context.Context, image []byte, mimeType string) (string, error) {
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(0.3)

	resp, err := model.GenerateContent(ctx,
		genai.ImageData(imageFormat(mimeType), image),
		genai.Text(advisorPrompt),
	)
	if err != nil {
		return "", fmt.Errorf("generation request failed: %w", err)
	}

	var sb strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("empty model response")
	}
	return sb.String(), nil
}

func (g *Gemini) Close() error {
	return g.client.Close()
}

func imageFormat(mimeType string) string {
	format := strings.TrimPrefix(mimeType, "image/")
	if format == "" || format == mimeType {
		return "jpeg"
	}
	return format
}
