package analysis

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tether007/greenChain-Advisory/internal/database"
	"github.com/tether007/greenChain-Advisory/internal/ledger"
	"github.com/tether007/greenChain-Advisory/internal/models"
	"gorm.io/gorm"
)

const validResponse = `Here is the assessment:
{"plant":{"species":"Solanum lycopersicum","leafType":"tomato leaf","confidence":0.92},
"diagnosis":"Early blight (Alternaria solani)","severity":"high","confidence":0.88,
"advice":"Remove affected leaves and apply a protectant fungicide.",
"culturalPractices":["Avoid overhead irrigation"],"labTests":["Microscopy for fungal spores"]}`

type fakeAdvisor struct {
	response string
	err      error
	calls    int
}

func (a *fakeAdvisor) Analyze(ctx context.Context, image []byte, mimeType string) (string, error) {
	a.calls++
	return a.response, a.err
}

type fakeChain struct {
	completed     bool
	getErr        error
	completeErr   error
	completeCalls int
}

func (c *fakeChain) GetAnalysis(ctx context.Context, analysisID *big.Int) (*ledger.OnChainAnalysis, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	return &ledger.OnChainAnalysis{Completed: c.completed}, nil
}

func (c *fakeChain) CompleteAnalysis(ctx context.Context, analysisID *big.Int, diagnosis, advice string) error {
	c.completeCalls++
	return c.completeErr
}

func newTestStore(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.NewSqlite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func writeUpload(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.png")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestParseResult(t *testing.T) {
	t.Run("json embedded in prose", func(t *testing.T) {
		result := ParseResult(validResponse)
		assert.Equal(t, "Early blight (Alternaria solani)", result.Diagnosis)
		assert.Equal(t, "high", result.Severity)
		assert.Equal(t, 0.88, result.Confidence)
		require.NotNil(t, result.Plant)
		assert.Equal(t, "Solanum lycopersicum", result.Plant.Species)
	})

	t.Run("non-json response degrades", func(t *testing.T) {
		text := strings.Repeat("The leaf shows necrotic lesions. ", 20)
		result := ParseResult(text)
		assert.Equal(t, text[:200]+"...", result.Diagnosis)
		assert.Equal(t, fallbackAdvice, result.Advice)
		assert.Equal(t, models.SeverityMedium, result.Severity)
		assert.Equal(t, 0.75, result.Confidence)
	})

	t.Run("json without diagnosis degrades", func(t *testing.T) {
		result := ParseResult(`{"severity":"low"}`)
		assert.Equal(t, fallbackAdvice, result.Advice)
		assert.Equal(t, models.SeverityMedium, result.Severity)
	})
}

func TestRegister_Idempotent(t *testing.T) {
	store := newTestStore(t)
	dispatch := NewDispatch(store, &fakeAdvisor{}, nil, t.TempDir())
	ctx := context.Background()

	require.NoError(t, dispatch.Register(ctx, "42", "0x33", "leaf.jpg-1024-1"))
	require.NoError(t, dispatch.Register(ctx, "42", "0x33", "leaf.jpg-1024-2"))

	record, err := store.GetAnalysis("42")
	require.NoError(t, err)
	// The first registration wins.
	assert.Equal(t, "leaf.jpg-1024-1", record.ImageHash)
}

func TestRun(t *testing.T) {
	store := newTestStore(t)
	chain := &fakeChain{}
	reportsDir := t.TempDir()
	dispatch := NewDispatch(store, &fakeAdvisor{response: validResponse}, chain, reportsDir)
	ctx := context.Background()

	require.NoError(t, dispatch.Register(ctx, "42", "0x33", "leaf.jpg-1024-1"))
	upload := writeUpload(t, "not really a png")

	result, err := dispatch.Run(ctx, "42", upload, "image/png")
	require.NoError(t, err)

	assert.Equal(t, "Early blight (Alternaria solani)", result.Diagnosis)
	assert.NotEmpty(t, result.Report)
	_, err = os.Stat(filepath.Join(reportsDir, result.Report))
	assert.NoError(t, err)

	record, err := store.GetAnalysis("42")
	require.NoError(t, err)
	assert.Equal(t, "high", record.Severity)
	assert.NotNil(t, record.CompletedAt)

	assert.Equal(t, 1, chain.completeCalls)

	_, err = os.Stat(upload)
	assert.True(t, os.IsNotExist(err), "upload should be removed after the run")
}

func TestRun_UnregisteredAnalysis(t *testing.T) {
	store := newTestStore(t)
	dispatch := NewDispatch(store, &fakeAdvisor{response: validResponse}, nil, t.TempDir())
	upload := writeUpload(t, "bytes")

	_, err := dispatch.Run(context.Background(), "99", upload, "image/png")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	_, err = os.Stat(upload)
	assert.True(t, os.IsNotExist(err), "upload should be removed even on failure")
}

func TestRun_AIFailureRemovesUpload(t *testing.T) {
	store := newTestStore(t)
	dispatch := NewDispatch(store, &fakeAdvisor{err: errors.New("quota exceeded")}, nil, t.TempDir())
	ctx := context.Background()

	require.NoError(t, dispatch.Register(ctx, "42", "0x33", "leaf.jpg-1024-1"))
	upload := writeUpload(t, "bytes")

	_, err := dispatch.Run(ctx, "42", upload, "image/png")
	require.Error(t, err)

	_, err = os.Stat(upload)
	assert.True(t, os.IsNotExist(err))
}

func TestRun_SkipsFinalizationWhenCompleted(t *testing.T) {
	store := newTestStore(t)
	chain := &fakeChain{completed: true}
	dispatch := NewDispatch(store, &fakeAdvisor{response: validResponse}, chain, t.TempDir())
	ctx := context.Background()

	require.NoError(t, dispatch.Register(ctx, "42", "0x33", "leaf.jpg-1024-1"))

	_, err := dispatch.Run(ctx, "42", writeUpload(t, "bytes"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, 0, chain.completeCalls)
}

func TestRun_FinalizationFailureIsAdvisory(t *testing.T) {
	store := newTestStore(t)
	chain := &fakeChain{completeErr: errors.New("execution reverted")}
	dispatch := NewDispatch(store, &fakeAdvisor{response: validResponse}, chain, t.TempDir())
	ctx := context.Background()

	require.NoError(t, dispatch.Register(ctx, "42", "0x33", "leaf.jpg-1024-1"))

	result, err := dispatch.Run(ctx, "42", writeUpload(t, "bytes"), "image/png")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Report)
}
