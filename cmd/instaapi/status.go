package main

import (
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/mpython77/instaapi-sub001/internal/config"
	"github.com/mpython77/instaapi-sub001/internal/engine"
	"github.com/mpython77/instaapi-sub001/internal/executor"
	"github.com/mpython77/instaapi-sub001/internal/report"
)

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sessions, proxies, rate headroom and recent outcomes",
		Long: `Status loads the configured accounts and proxies and prints their health,
the headroom left in each rate category and a breakdown of recent attempt
outcomes from the history database.

Examples:
  instaapi status
  instaapi status --markdown > status.md
  instaapi status --json --recent 20`,
		Args: cobra.NoArgs,
		RunE: runStatusCmd,
	}

	cmd.Flags().BoolP("json", "j", false, "Output JSON (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false, "Output Markdown (mutually exclusive with --json)")
	cmd.Flags().Int("recent", 0, "List this many recent attempts")
	cmd.Flags().Duration("window", report.DefaultWindow, "History window to summarize")
	cmd.MarkFlagsMutuallyExclusive("json", "markdown")

	return cmd
}

func runStatusCmd(cmd *cobra.Command, _ []string) error {
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}
	asMarkdown, err := cmd.Flags().GetBool("markdown")
	if err != nil {
		return err
	}
	recent, err := cmd.Flags().GetInt("recent")
	if err != nil {
		return err
	}
	window, err := cmd.Flags().GetDuration("window")
	if err != nil {
		return err
	}
	if recent < 0 || window <= 0 {
		return errors.New("--recent must be >= 0 and --window > 0")
	}

	ctx, cancel := signalContext(slog.Default())
	defer cancel()

	e, err := startEngine(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer e.Close() //nolint:errcheck // Best effort cleanup

	status, err := report.Collect(ctx, statusInput(e, recent, window))
	if err != nil {
		return err
	}

	var w report.Writer
	switch {
	case asJSON:
		w = report.NewJSONWriter(cmd.OutOrStdout(), report.WithPrettyPrint())
	case asMarkdown:
		w = report.NewMarkdownWriter(cmd.OutOrStdout())
	default:
		w = report.NewSimpleWriter(cmd.OutOrStdout(), report.WithVerbose(recent > 0))
	}
	_, err = w.Write(status)
	return err
}

// statusInput maps the engine onto the report input.
func statusInput(e *engine.Engine, recent int, window time.Duration) report.Input {
	in := report.Input{
		Store:      e.Store,
		Proxies:    e.Proxies,
		Governor:   e.Governor,
		Categories: statusCategories(e.Config),
		Window:     window,
		Recent:     recent,
	}
	// A nil *SnapshotDB must not become a non-nil interface.
	if e.History != nil {
		in.History = e.History
	}
	return in
}

// statusCategories lists the default category followed by the configured
// ones in name order.
func statusCategories(cfg *config.Config) []string {
	names := []string{executor.DefaultCategory}
	for name := range cfg.Categories {
		if name != executor.DefaultCategory {
			names = append(names, name)
		}
	}
	slices.Sort(names[1:])
	return names
}
