package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/backlogic/storysearch/configs"
	"github.com/backlogic/storysearch/internal/config"
	"github.com/backlogic/storysearch/internal/output"
)

// projectConfigNames are the filenames probed, in order, when looking for
// a project-level configuration in the working directory.
var projectConfigNames = []string{
	"storysearch.yaml",
	"storysearch.yml",
	".storysearch.yaml",
	".storysearch.yml",
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage storysearch configuration",
		Long: `Manage storysearch configuration files.

Configuration is resolved in layers: hardcoded defaults, then the user
config (~/.config/storysearch/config.yaml), then a project config
(storysearch.yaml in the working directory), then STORYSEARCH_*
environment variables. Later layers win.`,
		Example: `  # Create a user configuration from the template
  storysearch config init

  # Create a project configuration next to your stories
  storysearch config init --project

  # Show the merged configuration the engine will actually use
  storysearch config show

  # Show only the project layer, as JSON
  storysearch config show --source project --json`,
	}

	cmd.AddCommand(newConfigInitCmd(), newConfigShowCmd(), newConfigPathCmd(), newConfigRestoreCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		force   bool
		project bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file from the template",
		Long: `Create a configuration file from the built-in template.

By default this writes the user configuration under
~/.config/storysearch/. With --project it writes storysearch.yaml into
the current directory instead, which is meant to be committed alongside
the story corpus.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if project {
				return runConfigInitProject(cmd, force)
			}
			return runConfigInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing file (user config is backed up first)")
	cmd.Flags().BoolVar(&project, "project", false, "Create a project config in the current directory")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration",
		Long: `Show the configuration as the engine resolves it.

--source selects which layer to display: the fully merged view, just the
user file, just the project file, or the hardcoded defaults.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd, jsonOutput, source)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config layer to show: merged, user, project, or defaults")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the user configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return nil
		},
	}
}

func newConfigRestoreCmd() *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "restore [backup-file]",
		Short: "Restore the user configuration from a backup",
		Long: `Restore the user configuration from a backup.

Backups are created whenever 'config init --force' replaces the file.
Without an argument the newest backup is restored; the current config
is backed up first either way.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				return runConfigRestoreList(cmd)
			}
			backupPath := ""
			if len(args) == 1 {
				backupPath = args[0]
			}
			return runConfigRestore(cmd, backupPath)
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "List available backups instead of restoring")
	return cmd
}

func runConfigRestoreList(cmd *cobra.Command) error {
	out := output.New(cmd.OutOrStdout())

	backups, err := config.ListUserConfigBackups()
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		out.Warning("No configuration backups found")
		return nil
	}

	out.Statusf("📋", "Found %d backup(s), newest first:", len(backups))
	for _, b := range backups {
		out.Status("", "  "+b)
	}
	return nil
}

func runConfigRestore(cmd *cobra.Command, backupPath string) error {
	out := output.New(cmd.OutOrStdout())

	if backupPath == "" {
		latest, err := config.LatestUserConfigBackup()
		if err != nil {
			return err
		}
		if latest == "" {
			out.Warning("No configuration backups found")
			out.Status("💡", "Backups are created when 'config init --force' replaces the file")
			return nil
		}
		backupPath = latest
	}

	if err := config.RestoreUserConfig(backupPath); err != nil {
		return fmt.Errorf("failed to restore config: %w", err)
	}

	out.Success("Restored user configuration")
	out.Statusf("📁", "From: %s", backupPath)
	return nil
}

func runConfigInit(cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout())
	path := config.GetUserConfigPath()

	switch {
	case !config.UserConfigExists():
		if err := os.MkdirAll(config.GetUserConfigDir(), 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := writeTemplate(path, configs.UserConfigTemplate); err != nil {
			return err
		}
		out.Success("Created user configuration")
		out.Statusf("📁", "Location: %s", path)
		out.Newline()
		out.Status("📋", "Next steps:")
		out.Status("", "  1. Edit the file to adjust search and storage settings")
		out.Status("", "  2. Export GROQ_API_KEY or EMBEDDING_AUTH_TOKEN for remote providers")
		out.Status("", "  3. Run 'storysearch config show' to verify the merged result")
		return nil

	case !force:
		out.Warning("User configuration already exists")
		out.Statusf("📁", "Location: %s", path)
		out.Newline()
		out.Status("💡", "Use --force to replace it with a fresh template (a backup is kept)")
		return nil

	default:
		backupPath, err := config.BackupUserConfig()
		if err != nil {
			return fmt.Errorf("failed to back up existing config: %w", err)
		}
		if err := writeTemplate(path, configs.UserConfigTemplate); err != nil {
			return err
		}
		out.Success("Replaced user configuration with a fresh template")
		out.Statusf("📁", "Location: %s", path)
		out.Statusf("💾", "Backup: %s", backupPath)
		return nil
	}
}

func runConfigInitProject(cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout())
	path := "storysearch.yaml"

	if fileExists(path) && !force {
		out.Warning("Project configuration already exists")
		out.Statusf("📁", "Location: %s", path)
		out.Newline()
		out.Status("💡", "Use --force to overwrite it with a fresh template")
		return nil
	}

	if err := writeTemplate(path, configs.ProjectConfigTemplate); err != nil {
		return err
	}

	out.Success("Created project configuration")
	out.Statusf("📁", "Location: %s", path)
	out.Status("💡", "Commit it alongside your story corpus")
	return nil
}

func runConfigShow(cmd *cobra.Command, asJSON bool, source string) error {
	out := output.New(cmd.OutOrStdout())

	cfg, sourceDesc, err := resolveConfigSource(out, source)
	if err != nil {
		return err
	}
	if cfg == nil {
		// The requested layer has no file yet; its absence was already
		// reported along with a hint on how to create it.
		return nil
	}

	if asJSON {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	out.Statusf("📋", "Configuration source: %s", sourceDesc)
	out.Newline()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// resolveConfigSource loads the layer named by source. A nil config with
// a nil error means the layer has no file; that was already reported to
// the user, so the caller should simply stop.
func resolveConfigSource(out *output.Writer, source string) (*config.Config, string, error) {
	switch source {
	case "merged":
		cfg, err := config.Load(".")
		if err != nil {
			return nil, "", fmt.Errorf("failed to load config: %w", err)
		}
		return cfg, "merged (defaults + user + project + env)", nil

	case "user":
		path := config.GetUserConfigPath()
		if !config.UserConfigExists() {
			out.Warning("No user configuration file found")
			out.Statusf("📁", "Expected at: %s", path)
			out.Status("💡", "Run 'storysearch config init' to create one")
			return nil, "", nil
		}
		cfg, err := readConfigFile(path)
		if err != nil {
			return nil, "", err
		}
		return cfg, fmt.Sprintf("user (%s)", path), nil

	case "project":
		path := findProjectConfig()
		if path == "" {
			cwd, _ := os.Getwd()
			out.Warning("No project configuration file found")
			out.Statusf("📁", "Expected at: %s", filepath.Join(cwd, "storysearch.yaml"))
			out.Status("💡", "Run 'storysearch config init --project' to create one")
			return nil, "", nil
		}
		cfg, err := readConfigFile(path)
		if err != nil {
			return nil, "", err
		}
		return cfg, fmt.Sprintf("project (%s)", path), nil

	case "defaults":
		return config.NewConfig(), "defaults (hardcoded)", nil

	default:
		return nil, "", fmt.Errorf("invalid source: %s (use: merged, user, project, defaults)", source)
	}
}

// readConfigFile parses a single YAML file layered over the defaults, so
// unset fields display their effective values rather than zeros.
func readConfigFile(path string) (*config.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	cfg := config.NewConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// findProjectConfig returns the first project config filename that exists
// in the working directory, or "" when none do.
func findProjectConfig() string {
	for _, name := range projectConfigNames {
		if fileExists(name) {
			return name
		}
	}
	return ""
}

// writeTemplate writes one of the embedded config templates to path.
func writeTemplate(path, template string) error {
	if err := os.WriteFile(path, []byte(template), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
