package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const redactedValue = "[REDACTED]"

func TestNewEvent(t *testing.T) {
	event := NewEvent(SourceHTTP)

	assert.Equal(t, SourceHTTP, event.Source)
	assert.Len(t, event.ID, 36)
	assert.False(t, event.Timestamp.IsZero())
	assert.NotEqual(t, event.ID, NewEvent(SourceHTTP).ID)
}

func TestEvent_Builders(t *testing.T) {
	event := NewEvent(SourceMCP).
		WithRequestID("req-123").
		WithParameters(map[string]any{"message": "top providers"}).
		WithQuery("SELECT 1 FROM claims", []string{"claims"}, 1).
		WithModel("test-model", 100, 20).
		WithResult("ok", true, "", 1500*time.Millisecond)

	assert.Equal(t, "req-123", event.RequestID)
	assert.Equal(t, "top providers", event.Parameters["message"])
	assert.Equal(t, []string{"claims"}, event.Tables)
	assert.Equal(t, 1, event.RowCount)
	assert.Equal(t, 100, event.InputTokens)
	assert.Equal(t, int64(1500), event.DurationMS)
	assert.True(t, event.Success)
}

func TestSanitizeParameters(t *testing.T) {
	assert.Nil(t, SanitizeParameters(nil))

	long := strings.Repeat("a", maxParameterChars+10)
	got := SanitizeParameters(map[string]any{
		"api_key": "sk-secret",
		"token":   "abc",
		"message": long,
		"limit":   10,
	})
	assert.Equal(t, redactedValue, got["api_key"])
	assert.Equal(t, redactedValue, got["token"])
	assert.Len(t, got["message"], maxParameterChars+3)
	assert.Equal(t, 10, got["limit"])
}

func TestSlogLogger_Log(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(slog.New(slog.NewJSONHandler(&buf, nil)), Config{Enabled: true})

	event := NewEvent(SourceHTTP).WithResult("validation_failure", false, "query rejected", time.Second)
	require.NoError(t, logger.Log(context.Background(), *event))
	require.NoError(t, logger.Close())

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "audit", rec["msg"])
	assert.Equal(t, "audit", rec["component"])
	assert.Equal(t, event.ID, rec["event_id"])
	assert.Equal(t, "validation_failure", rec["outcome"])
	assert.Equal(t, false, rec["success"])
}

func TestNoopLogger(t *testing.T) {
	var l Logger = &NoopLogger{}
	assert.NoError(t, l.Log(context.Background(), Event{}))
	assert.NoError(t, l.Close())
}
