package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"registro/internal/core"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestLoggerTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelDebug, Format: "json", Component: ComponentPipeline, Output: &buf})

	logger.InfoContext(context.Background(), "Snapshot published", FieldGeneration, uint64(3))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "pipeline", entry[FieldComponent])
	assert.Equal(t, float64(3), entry[FieldGeneration])
	assert.Equal(t, "Snapshot published", entry["msg"])
}

func TestLogFields(t *testing.T) {
	r := core.Record{ID: 9, OwnerID: 1, Kind: core.Income, Amount: "5", CategoryName: "Sales"}
	fields := NewFields().WithRecord(r).WithWindow(core.MonthWindow(2024, 5)).WithError(nil).ToSlice()

	assert.Equal(t, []any{
		FieldAmount, "5",
		FieldCategory, "Sales",
		FieldKind, "income",
		FieldOwnerID, int64(1),
		FieldRecordID, int64(9),
		FieldWindow, "month:2024-05",
	}, fields)
}

func TestContextLogger(t *testing.T) {
	logger := Discard().WithComponent(ComponentHTTP)
	ctx := NewContext(context.Background(), logger)

	assert.Same(t, logger, FromContext(ctx))
	assert.Equal(t, "unknown", FromContext(context.Background()).Component())
}

func TestLevelForStatus(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, LevelForStatus(200))
	assert.Equal(t, slog.LevelWarn, LevelForStatus(404))
	assert.Equal(t, slog.LevelError, LevelForStatus(503))
}
