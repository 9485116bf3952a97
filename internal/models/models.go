package models

import (
	"time"
)

// Severity buckets reported by the AI collaborator.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Analysis is one paid crop analysis. The row is created when the on-chain
// PaymentReceived event is first seen and completed once by the dispatch step.
// AnalysisID is the decimal-encoded identifier minted by the contract and is
// the sole correlation key between the on-chain payment and the off-chain
// result.
type Analysis struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	AnalysisID    string     `gorm:"uniqueIndex;not null" json:"analysis_id"`
	FarmerAddress string     `gorm:"index;not null" json:"farmer_address"`
	ImageHash     string     `gorm:"not null" json:"image_hash"`
	Diagnosis     string     `json:"diagnosis"`
	Advice        string     `json:"advice"`
	Confidence    float64    `json:"confidence"`
	Severity      string     `json:"severity"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at"`
}

// Listing is a produce marketplace entry.
type Listing struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ItemID        string    `gorm:"uniqueIndex;not null" json:"item_id"`
	FarmerAddress string    `gorm:"index;not null" json:"farmer_address"`
	Title         string    `gorm:"not null" json:"title"`
	Description   string    `json:"description"`
	Price         string    `gorm:"not null" json:"price"`
	Sold          bool      `gorm:"default:false" json:"sold"`
	CreatedAt     time.Time `json:"created_at"`
}
