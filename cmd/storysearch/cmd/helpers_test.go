package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Canned JSONL stories used across command tests.
const (
	storyPasswordReset = `{"id":"US-1","title":"Password reset","content":"As a user I want to reset my password via an email link so that I can regain access.","project":"auth","priority":"high","labels":["security","email"]}`
	storyUsageExport   = `{"id":"US-2","title":"Export usage report","content":"As an analyst I want to export usage reports as CSV so that I can build dashboards.","project":"reporting","priority":"medium","labels":["analytics"]}`
	storyAuditTrail    = `{"id":"US-3","title":"Audit trail for settings","content":"As an admin I want every settings change logged so that compliance reviews are possible.","project":"platform","priority":"low","labels":["compliance"]}`
)

// setupTestEnv points every configuration source at a fresh temp dir:
// HOME (user config, default data dir, log files), the working directory
// (project config), and STORYSEARCH_DATA_DIR. Provider credentials are
// cleared so the offline static embedder is always selected.
func setupTestEnv(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()

	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("STORYSEARCH_DATA_DIR", filepath.Join(tmpDir, "data"))

	for _, key := range []string{
		"STORYSEARCH_ADDR",
		"STORYSEARCH_LOG_LEVEL",
		"STORYSEARCH_BM25_BACKEND",
		"STORYSEARCH_BM25_RATIO",
		"STORYSEARCH_DEFAULT_LIMIT",
		"STORYSEARCH_MAX_LIMIT",
		"STORYSEARCH_DEDUP_THRESHOLD",
		"STORYSEARCH_RERANK_ENABLED",
		"STORYSEARCH_RERANK_API_KEY",
		"STORYSEARCH_EMBEDDING_PROVIDER",
		"STORYSEARCH_EMBEDDING_API_KEY",
		"STORYSEARCH_EMBED_CACHE",
		"GROQ_API_KEY",
		"GROQ_API_BASE",
		"GROQ_MODEL",
		"EMBEDDING_API_BASE",
		"EMBEDDING_MODEL",
		"EMBEDDING_AUTH_TOKEN",
	} {
		t.Setenv(key, "")
	}

	oldDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(tmpDir))
	t.Cleanup(func() { _ = os.Chdir(oldDir) })

	return tmpDir
}

// writeStories writes one JSONL record per line to stories.jsonl in dir.
func writeStories(t *testing.T, dir string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, "stories.jsonl")
	content := strings.Join(lines, "\n") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// indexFixture runs 'storysearch index' over the given stories and fails
// the test if indexing does not succeed.
func indexFixture(t *testing.T, dir string, lines ...string) string {
	t.Helper()
	source := writeStories(t, dir, lines...)

	rootCmd := NewRootCmd()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"index", source})
	require.NoError(t, rootCmd.Execute(), "fixture indexing must succeed: %s", buf.String())
	return source
}
