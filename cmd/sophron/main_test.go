package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/config"
)

const alignMessage = "ALIGN-STATUS:GREEN|PROBE:ALIGN+ITER|RED:2|TECH:IDLE|AUDIT:0x01"

// #region helpers

// execute runs the root command with fresh flag values.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.EnvConfigPath, "")
	rootFlags.configPath, rootFlags.dbPath, rootFlags.logLevel = "", "", ""
	analyzeFlags.probes, analyzeFlags.context, analyzeFlags.budget = "", "", 0
	analyzeFlags.jsonOut, analyzeFlags.summary, analyzeFlags.ephemeral = false, false, false
	replayFlags.jsonOut, replayFlags.verbose = false, false
	inspectFlags.last, inspectFlags.jsonOut = 20, false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--log-level", "error"))
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func writeInputs(t *testing.T, dir string) (receipts, probes, ctx string) {
	t.Helper()
	receipts = writeFile(t, dir, "receipts.jsonl",
		`{"id":"r1","timestamp":"2026-03-01T10:00:00Z","output":"`+alignMessage+`"}`+"\n"+
			`{"id":"r2","timestamp":"2026-03-01T10:01:00Z","logs":["`+alignMessage+`"]}`+"\n")
	probes = writeFile(t, dir, "probes.json",
		`{"haltRequest":{"id":"hr-1","seed":"7","configHash":"c","inputSnapshot":{"p":1},"complied":true}}`)
	ctx = writeFile(t, dir, "context.json", `{"previousViolations":["INV_B"]}`)
	return receipts, probes, ctx
}

// #endregion helpers

func TestAnalyzeJSONPersistsState(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "sophron.db")
	receipts, probes, ctx := writeInputs(t, dir)

	out, err := execute(t, "analyze", receipts, "--probes", probes, "--context", ctx, "--db", db, "--json")
	require.NoError(t, err)

	var res struct {
		RunID            string `json:"runId"`
		ScheduleDecision struct {
			SurgeActivated bool `json:"surgeActivated"`
		} `json:"scheduleDecision"`
		ParsedMessages []json.RawMessage `json:"parsedMessages"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.NotEmpty(t, res.RunID)
	assert.True(t, res.ScheduleDecision.SurgeActivated)
	assert.Len(t, res.ParsedMessages, 2)

	out, err = execute(t, "inspect", "snapshots", "--db", db, "--json")
	require.NoError(t, err)
	var snaps []snapshotRow
	require.NoError(t, json.Unmarshal([]byte(out), &snaps))
	require.Len(t, snaps, 1)
	assert.True(t, snaps[0].Active)
	assert.Equal(t, 1, snaps[0].Decisions)

	out, err = execute(t, "inspect", "decisions", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "previous_violations")

	out, err = execute(t, "inspect", "stats", "--db", db, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"totalExecutions": 1`)
}

func TestAnalyzeSummaryEphemeral(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "unused.db")
	receipts, probes, _ := writeInputs(t, dir)

	out, err := execute(t, "analyze", receipts, "--probes", probes, "--db", db, "--summary", "--ephemeral")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "run "), out)
	assert.Contains(t, out, "messages: 2 parsed, 0 failed")

	_, statErr := os.Stat(db)
	assert.True(t, os.IsNotExist(statErr), "ephemeral run must not create the database")
}

func TestAnalyzeMissingReceipts(t *testing.T) {
	_, err := execute(t, "analyze", filepath.Join(t.TempDir(), "missing.json"), "--ephemeral")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load receipts")
}

func TestReplayFixture(t *testing.T) {
	out, err := execute(t, "replay", filepath.Join("..", "..", "internal", "replay", "testdata", "audit_session.json"))
	require.NoError(t, err)
	assert.Contains(t, out, "run-quiet")
	assert.Contains(t, strings.ToLower(out), "3 passed, 0 mismatched")
}

func TestInvalidConfig(t *testing.T) {
	cfg := writeFile(t, t.TempDir(), "bad.yaml", "baseline_probe_rate: 0.5\nsurge_probe_rate: 0.1\n")
	_, err := execute(t, "inspect", "snapshots", "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}
