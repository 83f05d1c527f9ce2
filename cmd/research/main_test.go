package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Kocoro-lab/Shannon/go/research/internal/formatting"
	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestTokenHash(t *testing.T) {
	out, err := execute(t, "token", "hash", "sk-test")
	require.NoError(t, err)
	hash := strings.TrimSpace(out)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("sk-test")))
}

func TestTokenGenerateNeedsSecret(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("RESEARCH_AUTH_JWT_SECRET", "")
	_, err := execute(t, "token", "generate")
	assert.Error(t, err)
}

func TestExportFromFile(t *testing.T) {
	dir := t.TempDir()
	report := models.Report{
		Topic:            "Heat pumps",
		ExecutiveSummary: "Heat pumps are efficient.",
		Metadata:         models.ReportMetadata{Mode: models.ModeParallel},
	}
	data, err := formatting.ExportJSON(report)
	require.NoError(t, err)
	src := filepath.Join(dir, "report.json")
	require.NoError(t, os.WriteFile(src, data, 0o644))

	out, err := execute(t, "export", "--from", src, "--format", "md", "--out", "")
	require.NoError(t, err)
	assert.Contains(t, out, "Heat pumps")
	assert.Contains(t, out, "Heat pumps are efficient.")

	outDir := filepath.Join(dir, "out")
	out, err = execute(t, "export", "--from", src, "--format", "json", "--out", outDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Saved")
	written, err := os.ReadFile(filepath.Join(outDir, "Heat pumps.json"))
	require.NoError(t, err)
	back, err := formatting.ImportJSON(written)
	require.NoError(t, err)
	assert.Equal(t, report.Topic, back.Topic)
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	_, err := execute(t, "export", "--from", "x.json", "--format", "pdf")
	assert.Error(t, err)
}

func TestExportNeedsSource(t *testing.T) {
	_, err := execute(t, "export", "--from", "", "--format", "md")
	assert.Error(t, err)
}

func TestReplayMissingHistory(t *testing.T) {
	_, err := execute(t, "replay", filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replay")
}
