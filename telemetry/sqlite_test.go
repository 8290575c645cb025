package telemetry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/llmgateway/provider"
)

func TestSQLite_ExportAndQuery(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "state", "telemetry.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	now := time.Now()
	events := []Event{
		{Kind: KindRequestStarted, Time: now, RequestID: "r1", TraceID: "abc", Model: "gpt-4o"},
		{Kind: KindAttemptFailed, Time: now, RequestID: "r1", Provider: "openai", ProviderModel: "gpt-4o", Attempt: 1, ErrorKind: "network", Error: "status 503"},
		{Kind: KindUsage, Time: now, RequestID: "r1", Provider: "openrouter", ProviderModel: "openai/gpt-4o", Usage: provider.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}},
		{Kind: KindRequestFinished, Time: now, RequestID: "r1", Provider: "openrouter", FinishReason: provider.FinishReasonStop, Duration: 1500 * time.Millisecond},
		{Kind: KindUsage, Time: now, RequestID: "r2", Provider: "openrouter", ProviderModel: "openai/gpt-4o", Usage: provider.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2}},
	}
	require.NoError(t, db.Export(context.Background(), events))

	got, err := db.Events(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, KindRequestStarted, got[0].Kind)
	assert.Equal(t, "abc", got[0].TraceID)
	assert.Equal(t, "status 503", got[1].Error)
	assert.Equal(t, 15, got[2].Usage.TotalTokens)
	assert.Equal(t, provider.FinishReasonStop, got[3].FinishReason)
	assert.Equal(t, 1500*time.Millisecond, got[3].Duration)

	summary, err := db.Summary(context.Background(), now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []UsageSummary{{
		Provider:         "openrouter",
		ProviderModel:    "openai/gpt-4o",
		Requests:         2,
		PromptTokens:     11,
		CompletionTokens: 6,
		TotalTokens:      17,
	}}, summary)

	later, err := db.Summary(context.Background(), now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, later)
}

func TestSQLite_WithBatcher(t *testing.T) {
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	b := NewBatcher(db, WithBatchSize(2))
	for i := 0; i < 5; i++ {
		b.Record(Event{Kind: KindRequestStarted, RequestID: "r"})
	}
	require.NoError(t, b.Close(context.Background()))

	got, err := db.Events(context.Background(), "r")
	require.NoError(t, err)
	assert.Len(t, got, 5)
}
