package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

//go:embed templates/instaapi.yaml
var configTemplate embed.FS

// configFileName is the default configuration file name.
const configFileName = ".instaapi"

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a documented instaapi configuration file",
		Long: `Init writes a .instaapi configuration file with every option set to its
default and a comment describing it.

Examples:
  # Create .instaapi in the current directory
  instaapi init

  # Create the file at a specific path
  instaapi init -o ~/.config/instaapi/config.yaml

  # Overwrite an existing file
  instaapi init -f`,
		Args: cobra.NoArgs,
		RunE: runInitCmd,
	}

	cmd.Flags().StringP("output", "o", configFileName,
		"Output file path for the configuration")
	cmd.Flags().BoolP("force", "f", false,
		"Overwrite existing configuration file")

	return cmd
}

func runInitCmd(cmd *cobra.Command, _ []string) error {
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	if !force {
		if _, err := os.Stat(outputPath); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use -f to overwrite)", outputPath)
		}
	}

	content, err := configTemplate.ReadFile("templates/instaapi.yaml")
	if err != nil {
		return fmt.Errorf("failed to read config template: %w", err)
	}

	if dir := filepath.Dir(outputPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	if err := os.WriteFile(outputPath, content, 0600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created configuration file: %s\n", outputPath)
	fmt.Fprintln(out, "\nAccount secrets go in the credentials file (default .env):")
	fmt.Fprintln(out, "  SESSION_ID=...  CSRF_TOKEN=...  DS_USER_ID=...")
	fmt.Fprintln(out, "Use SESSION_ID_2, CSRF_TOKEN_2, ... for more accounts.")
	return nil
}
