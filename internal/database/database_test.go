package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tether007/greenChain-Advisory/internal/models"
	"gorm.io/gorm"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	db, err := NewSqlite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRegisterAnalysis_Conflict(t *testing.T) {
	db := newTestDatabase(t)

	require.NoError(t, db.RegisterAnalysis(&models.Analysis{
		AnalysisID: "42", FarmerAddress: "0x33", ImageHash: "first",
	}))
	require.NoError(t, db.RegisterAnalysis(&models.Analysis{
		AnalysisID: "42", FarmerAddress: "0x33", ImageHash: "second",
	}))

	var count int64
	require.NoError(t, db.DB.Model(&models.Analysis{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	record, err := db.GetAnalysis("42")
	require.NoError(t, err)
	assert.Equal(t, "first", record.ImageHash)
}

func TestCompleteAnalysis(t *testing.T) {
	db := newTestDatabase(t)
	require.NoError(t, db.RegisterAnalysis(&models.Analysis{
		AnalysisID: "42", FarmerAddress: "0x33", ImageHash: "h",
	}))

	require.NoError(t, db.CompleteAnalysis("42", "early blight", "spray fungicide", 0.88, models.SeverityHigh))

	record, err := db.GetAnalysis("42")
	require.NoError(t, err)
	assert.Equal(t, "early blight", record.Diagnosis)
	assert.Equal(t, models.SeverityHigh, record.Severity)
	assert.Equal(t, 0.88, record.Confidence)
	require.NotNil(t, record.CompletedAt)
}

func TestCompleteAnalysis_UnknownID(t *testing.T) {
	db := newTestDatabase(t)

	err := db.CompleteAnalysis("99", "d", "a", 0.5, models.SeverityLow)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestListAnalysesByFarmer(t *testing.T) {
	db := newTestDatabase(t)
	require.NoError(t, db.RegisterAnalysis(&models.Analysis{AnalysisID: "1", FarmerAddress: "0x33", ImageHash: "a"}))
	require.NoError(t, db.RegisterAnalysis(&models.Analysis{AnalysisID: "2", FarmerAddress: "0x33", ImageHash: "b"}))
	require.NoError(t, db.RegisterAnalysis(&models.Analysis{AnalysisID: "3", FarmerAddress: "0x44", ImageHash: "c"}))

	analyses, err := db.ListAnalysesByFarmer("0x33")
	require.NoError(t, err)
	assert.Len(t, analyses, 2)
	for _, a := range analyses {
		assert.Equal(t, "0x33", a.FarmerAddress)
	}
}

func TestListings(t *testing.T) {
	db := newTestDatabase(t)

	require.NoError(t, db.CreateListing(&models.Listing{
		ItemID: "item-1", FarmerAddress: "0x33", Title: "Tomato seedlings", Price: "5",
	}))
	require.NoError(t, db.CreateListing(&models.Listing{
		ItemID: "item-2", FarmerAddress: "0x44", Title: "Compost", Price: "3",
	}))

	open, err := db.ListOpenListings()
	require.NoError(t, err)
	assert.Len(t, open, 2)

	require.NoError(t, db.MarkListingSold("item-1"))

	open, err = db.ListOpenListings()
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "item-2", open[0].ItemID)
}

func TestMarkListingSold_Unknown(t *testing.T) {
	db := newTestDatabase(t)

	err := db.MarkListingSold("nope")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
