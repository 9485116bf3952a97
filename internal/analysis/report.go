package analysis

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// WriteReport renders the durable PDF artifact for a completed analysis and
// returns its filename. The name is deterministic from the render time and
// the analysis id so the UI can fetch it back by filename.
func WriteReport(dir, analysisID string, result *Result, uploadedImage []byte, mimeType string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create reports directory: %w", err)
	}

	filename := fmt.Sprintf("reports_%d_%s.pdf", time.Now().UnixMilli(), analysisID)

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(17, 17, 17)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, "CropAdvisor AI Report", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	embedImage(pdf, uploadedImage, mimeType)

	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(0, 6, fmt.Sprintf("Analysis ID: %s", analysisID), "", 1, "L", false, 0, "")
	if result.Plant != nil {
		pdf.CellFormat(0, 6, fmt.Sprintf("Plant: %s (%s) | Confidence: %.2f",
			orUnknown(result.Plant.Species), orLeaf(result.Plant.LeafType), result.Plant.Confidence), "", 1, "L", false, 0, "")
	}
	pdf.Ln(2)

	section(pdf, "Diagnosis")
	line(pdf, orNA(result.Diagnosis))

	section(pdf, "Severity & Confidence")
	line(pdf, fmt.Sprintf("Severity: %s | Confidence: %.2f", result.Severity, result.Confidence))

	if len(result.Differentials) > 0 {
		section(pdf, "Differentials")
		for _, d := range result.Differentials {
			line(pdf, fmt.Sprintf("- %s (conf: %.2f)", d.Name, d.Confidence))
		}
	}

	if len(result.MedicinePlan) > 0 {
		section(pdf, "Medicine / Treatment Plan")
		for _, m := range result.MedicinePlan {
			line(pdf, fmt.Sprintf("- %s | Dose: %s | Interval: %s | Notes: %s", m.Name, m.Dose, m.Interval, m.Notes))
		}
	}

	if len(result.CulturalPractices) > 0 {
		section(pdf, "Cultural / Technical Practices")
		for _, c := range result.CulturalPractices {
			line(pdf, "- "+c)
		}
	}

	if len(result.Monitoring) > 0 {
		section(pdf, "Monitoring & Prevention")
		for _, m := range result.Monitoring {
			line(pdf, "- "+m)
		}
	}

	if len(result.Timeline) > 0 {
		section(pdf, "Timeline")
		for _, t := range result.Timeline {
			line(pdf, t.When+":")
			for _, action := range t.Actions {
				line(pdf, "  - "+action)
			}
		}
	}

	if len(result.LabTests) > 0 {
		section(pdf, "Recommended Lab Tests")
		for _, l := range result.LabTests {
			line(pdf, "- "+l)
		}
	}

	if err := pdf.OutputFileAndClose(filepath.Join(dir, filename)); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return filename, nil
}

// embedImage adds the uploaded image when it is a decodable JPEG or PNG.
// Undecodable uploads are skipped rather than failing the report.
func embedImage(pdf *gofpdf.Fpdf, uploadedImage []byte, mimeType string) {
	imageType := pdfImageType(mimeType)
	if imageType == "" || len(uploadedImage) == 0 {
		return
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(uploadedImage)); err != nil {
		return
	}

	opts := gofpdf.ImageOptions{ImageType: imageType}
	pdf.RegisterImageOptionsReader("upload", opts, bytes.NewReader(uploadedImage))
	pdf.ImageOptions("upload", 30, pdf.GetY(), 150, 0, true, opts, 0, "")
	pdf.Ln(4)
}

func pdfImageType(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg":
		return "JPG"
	case "image/png":
		return "PNG"
	default:
		return ""
	}
}

func section(pdf *gofpdf.Fpdf, title string) {
	pdf.Ln(2)
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 8, title, "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 12)
}

func line(pdf *gofpdf.Fpdf, text string) {
	pdf.MultiCell(0, 6, text, "", "L", false)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func orLeaf(s string) string {
	if s == "" {
		return "Leaf"
	}
	return s
}
