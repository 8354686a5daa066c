package core

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductionLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewProductionLogger("waveflow-test", "info", "json")
	logger.SetOutput(&buf)

	logger.Info("Workflow started", map[string]interface{}{
		"workflow_id": "wf-1",
		"steps":       3,
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "waveflow-test", entry["service"])
	assert.Equal(t, "Workflow started", entry["message"])
	assert.Equal(t, "wf-1", entry["workflow_id"])
	assert.Equal(t, float64(3), entry["steps"])
	assert.NotEmpty(t, entry["time"])
}

func TestProductionLoggerTextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewProductionLogger("waveflow-test", "info", "text")
	logger.SetOutput(&buf)

	logger.Warn("Budget exceeded", map[string]interface{}{
		"budget":   1.0,
		"estimate": 1.2,
		"workflow": "wf-1",
	})

	line := buf.String()
	assert.Contains(t, line, "WARN")
	assert.Contains(t, line, "Budget exceeded")

	// Fields are emitted in sorted key order
	budgetIdx := strings.Index(line, "budget=")
	estimateIdx := strings.Index(line, "estimate=")
	workflowIdx := strings.Index(line, "workflow=")
	require.True(t, budgetIdx >= 0 && estimateIdx >= 0 && workflowIdx >= 0, "missing fields: %s", line)
	assert.Less(t, budgetIdx, estimateIdx)
	assert.Less(t, estimateIdx, workflowIdx)
}

func TestProductionLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewProductionLogger("waveflow-test", "warn", "text")
	logger.SetOutput(&buf)

	logger.Debug("debug line", nil)
	logger.Info("info line", nil)
	assert.Empty(t, buf.String())

	logger.Warn("warn line", nil)
	logger.Error("error line", nil)

	output := buf.String()
	assert.Contains(t, output, "warn line")
	assert.Contains(t, output, "error line")
}

func TestProductionLoggerEnvironmentLevel(t *testing.T) {
	t.Setenv("WAVEFLOW_LOG_LEVEL", "error")

	var buf bytes.Buffer
	logger := NewProductionLogger("waveflow-test", "", "text")
	logger.SetOutput(&buf)

	logger.Warn("suppressed", nil)
	assert.Empty(t, buf.String())

	logger.Error("emitted", nil)
	assert.Contains(t, buf.String(), "emitted")
}

func TestNoOpLoggerIsSilent(t *testing.T) {
	logger := &NoOpLogger{}
	logger.Info("msg", nil)
	logger.Error("msg", map[string]interface{}{"k": "v"})
	logger.Warn("msg", nil)
	logger.Debug("msg", nil)
}
