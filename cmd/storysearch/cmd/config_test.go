package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigCmd_Help(t *testing.T) {
	// Given the config command invoked with --help
	rootCmd := NewRootCmd()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"config", "--help"})

	// When executing
	err := rootCmd.Execute()

	// Then the subcommands are listed
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "Usage:")
	assert.Contains(t, output, "init")
	assert.Contains(t, output, "show")
	assert.Contains(t, output, "path")
}

func TestConfigInitCmd_CreatesUserConfig(t *testing.T) {
	// Given a home with no user config
	tmpDir := setupTestEnv(t)

	// When running config init
	rootCmd := NewRootCmd()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"config", "init"})
	err := rootCmd.Execute()

	// Then the template is written to the user config path
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Created user configuration")

	configPath := filepath.Join(tmpDir, ".config", "storysearch", "config.yaml")
	data, readErr := os.ReadFile(configPath)
	require.NoError(t, readErr)
	assert.Contains(t, string(data), "storysearch")
}

func TestConfigInitCmd_ExistingConfig(t *testing.T) {
	// Given an existing user config
	setupTestEnv(t)
	initCmd := NewRootCmd()
	initBuf := &bytes.Buffer{}
	initCmd.SetOut(initBuf)
	initCmd.SetErr(initBuf)
	initCmd.SetArgs([]string{"config", "init"})
	require.NoError(t, initCmd.Execute())

	// When running config init again without --force
	rootCmd := NewRootCmd()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"config", "init"})
	err := rootCmd.Execute()

	// Then the existing file is left alone
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "User configuration already exists")
	assert.Contains(t, output, "--force")
}

func TestConfigInitCmd_ForceBacksUpExisting(t *testing.T) {
	// Given an existing user config
	setupTestEnv(t)
	initCmd := NewRootCmd()
	initBuf := &bytes.Buffer{}
	initCmd.SetOut(initBuf)
	initCmd.SetErr(initBuf)
	initCmd.SetArgs([]string{"config", "init"})
	require.NoError(t, initCmd.Execute())

	// When replacing it with --force
	rootCmd := NewRootCmd()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"config", "init", "--force"})
	err := rootCmd.Execute()

	// Then a fresh template is written and the old file is backed up
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "Replaced user configuration with a fresh template")
	assert.Contains(t, output, "Backup:")
}

func TestConfigInitCmd_Project(t *testing.T) {
	// Given a working directory with no project config
	tmpDir := setupTestEnv(t)

	// When running config init --project
	rootCmd := NewRootCmd()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"config", "init", "--project"})
	err := rootCmd.Execute()

	// Then storysearch.yaml is created in the current directory
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Created project configuration")
	_, statErr := os.Stat(filepath.Join(tmpDir, "storysearch.yaml"))
	assert.NoError(t, statErr)

	// And a second run refuses to overwrite it
	secondCmd := NewRootCmd()
	secondBuf := &bytes.Buffer{}
	secondCmd.SetOut(secondBuf)
	secondCmd.SetErr(secondBuf)
	secondCmd.SetArgs([]string{"config", "init", "--project"})
	require.NoError(t, secondCmd.Execute())
	assert.Contains(t, secondBuf.String(), "Project configuration already exists")
}

func TestConfigShowCmd_Defaults(t *testing.T) {
	// Given no configuration files at all
	setupTestEnv(t)

	// When showing the hardcoded defaults
	rootCmd := NewRootCmd()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"config", "show", "--source", "defaults"})
	err := rootCmd.Execute()

	// Then the defaults are rendered as YAML
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "defaults (hardcoded)")
	assert.Contains(t, output, "server:")
	assert.Contains(t, output, "default_limit: 10")
	assert.Contains(t, output, "bm25_ratio: 0.5")
}

func TestConfigShowCmd_UserMissing(t *testing.T) {
	// Given no user config file
	setupTestEnv(t)

	// When showing the user source
	rootCmd := NewRootCmd()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"config", "show", "--source", "user"})
	err := rootCmd.Execute()

	// Then the absence is reported without failing
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "No user configuration file found")
	assert.Contains(t, output, "storysearch config init")
}

func TestConfigShowCmd_ProjectMissing(t *testing.T) {
	// Given no project config in the working directory
	setupTestEnv(t)

	// When showing the project source
	rootCmd := NewRootCmd()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"config", "show", "--source", "project"})
	err := rootCmd.Execute()

	// Then the absence is reported without failing
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "No project configuration file found")
	assert.Contains(t, output, "config init --project")
}

func TestConfigShowCmd_InvalidSource(t *testing.T) {
	// Given an unknown source name
	setupTestEnv(t)
	rootCmd := NewRootCmd()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"config", "show", "--source", "bogus"})

	// When executing
	err := rootCmd.Execute()

	// Then the valid sources are listed in the error
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid source: bogus (use: merged, user, project, defaults)")
}

func TestConfigShowCmd_JSON(t *testing.T) {
	// Given the default environment
	tmpDir := setupTestEnv(t)

	// When showing the merged config as JSON
	rootCmd := NewRootCmd()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"config", "show", "--json"})
	err := rootCmd.Execute()

	// Then the payload parses and reflects the environment
	require.NoError(t, err)

	var payload struct {
		Search struct {
			DefaultLimit int `json:"default_limit"`
		} `json:"search"`
		Storage struct {
			DataDir string `json:"data_dir"`
		} `json:"storage"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &payload))
	assert.Equal(t, 10, payload.Search.DefaultLimit)
	assert.Equal(t, filepath.Join(tmpDir, "data"), payload.Storage.DataDir)
}

func TestConfigShowCmd_EnvOverride(t *testing.T) {
	// Given an environment override for the default limit
	setupTestEnv(t)
	t.Setenv("STORYSEARCH_DEFAULT_LIMIT", "25")

	// When showing the merged config
	rootCmd := NewRootCmd()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"config", "show", "--json"})
	err := rootCmd.Execute()

	// Then the environment wins over the defaults
	require.NoError(t, err)

	var payload struct {
		Search struct {
			DefaultLimit int `json:"default_limit"`
		} `json:"search"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &payload))
	assert.Equal(t, 25, payload.Search.DefaultLimit)
}

func TestConfigShowCmd_ProjectOverridesUser(t *testing.T) {
	// Given a user config and a project config with conflicting limits
	tmpDir := setupTestEnv(t)

	userDir := filepath.Join(tmpDir, ".config", "storysearch")
	require.NoError(t, os.MkdirAll(userDir, 0755))
	userCfg := "search:\n  default_limit: 15\n"
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "config.yaml"), []byte(userCfg), 0644))

	projectCfg := "search:\n  default_limit: 20\n"
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "storysearch.yaml"), []byte(projectCfg), 0644))

	// When showing the merged config
	rootCmd := NewRootCmd()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"config", "show", "--json"})
	err := rootCmd.Execute()

	// Then the project value wins
	require.NoError(t, err)

	var payload struct {
		Search struct {
			DefaultLimit int `json:"default_limit"`
		} `json:"search"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &payload))
	assert.Equal(t, 20, payload.Search.DefaultLimit)
}

func TestConfigRestoreCmd_NoBackups(t *testing.T) {
	// Given a home that has never taken a backup
	setupTestEnv(t)

	// When restoring
	rootCmd := NewRootCmd()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"config", "restore"})
	err := rootCmd.Execute()

	// Then nothing is restored and the user is told why
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No configuration backups found")
}

func TestConfigRestoreCmd_RestoresNewestBackup(t *testing.T) {
	// Given a customized config that init --force replaced
	tmpDir := setupTestEnv(t)
	configDir := filepath.Join(tmpDir, ".config", "storysearch")
	configPath := filepath.Join(configDir, "config.yaml")
	require.NoError(t, os.MkdirAll(configDir, 0755))
	custom := "version: 1\nsearch:\n  bm25_ratio: 0.7\n"
	require.NoError(t, os.WriteFile(configPath, []byte(custom), 0644))

	forceCmd := NewRootCmd()
	forceBuf := &bytes.Buffer{}
	forceCmd.SetOut(forceBuf)
	forceCmd.SetErr(forceBuf)
	forceCmd.SetArgs([]string{"config", "init", "--force"})
	require.NoError(t, forceCmd.Execute())

	// When restoring without naming a backup
	rootCmd := NewRootCmd()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"config", "restore"})
	err := rootCmd.Execute()

	// Then the customized content is back
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Restored user configuration")
	data, readErr := os.ReadFile(configPath)
	require.NoError(t, readErr)
	assert.Equal(t, custom, string(data))
}

func TestConfigRestoreCmd_ListsBackups(t *testing.T) {
	// Given one backup on disk
	tmpDir := setupTestEnv(t)
	configDir := filepath.Join(tmpDir, ".config", "storysearch")
	require.NoError(t, os.MkdirAll(configDir, 0755))
	backupName := filepath.Join(configDir, "config.yaml.bak.20260301-120000")
	require.NoError(t, os.WriteFile(backupName, []byte("snapshot"), 0644))

	// When listing
	rootCmd := NewRootCmd()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"config", "restore", "--list"})
	err := rootCmd.Execute()

	// Then the backup is shown
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Found 1 backup(s)")
	assert.Contains(t, buf.String(), "20260301-120000")
}
