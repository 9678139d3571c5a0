package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mpython77/instaapi-sub001/internal/anon"
)

// NewLookupCmd creates the lookup command.
func NewLookupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lookup USERNAME [USERNAME...]",
		Short: "Look up public profiles without logging in",
		Long: `Lookup fetches public profile data with no account, trying the profile
page, the web profile query, the graph endpoint, the app endpoint and web
search in that order. The first strategy that returns a non-empty profile
wins; strategies that hit a login wall are skipped.

A profile no strategy could read is reported as unavailable, which is not
an error.

Examples:
  instaapi lookup instagram
  instaapi lookup --json natgeo nasa`,
		Args: cobra.MinimumNArgs(1),
		RunE: runLookupCmd,
	}

	cmd.Flags().BoolP("json", "j", false, "Print results as JSON")

	return cmd
}

func runLookupCmd(cmd *cobra.Command, args []string) error {
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(slog.Default())
	defer cancel()

	e, err := startEngine(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer e.Close() //nolint:errcheck // Best effort cleanup

	out := cmd.OutOrStdout()
	results := make([]anon.Result, 0, len(args))
	for _, username := range args {
		res, err := e.Anon.Lookup(ctx, username)
		if err != nil {
			return err
		}
		if !asJSON {
			writeLookup(cmd, username, res)
		}
		results = append(results, res)
	}
	if asJSON {
		return writeJSON(out, results)
	}
	return nil
}

func writeLookup(cmd *cobra.Command, username string, res anon.Result) {
	out := cmd.OutOrStdout()
	if !res.Available {
		fmt.Fprintf(out, "%s: unavailable (tried %s)\n", username, strings.Join(res.Tried, ", "))
		return
	}
	r := res.Record
	fmt.Fprintf(out, "%s (%s)\n", r.Username, r.FullName)
	fmt.Fprintf(out, "  id:        %s\n", r.ID)
	fmt.Fprintf(out, "  followers: %d\n", r.Followers)
	fmt.Fprintf(out, "  following: %d\n", r.Following)
	fmt.Fprintf(out, "  posts:     %d\n", r.Posts)
	fmt.Fprintf(out, "  private:   %t  verified: %t\n", r.IsPrivate, r.IsVerified)
	if r.Biography != "" {
		fmt.Fprintf(out, "  bio:       %s\n", strings.ReplaceAll(r.Biography, "\n", " "))
	}
	fmt.Fprintf(out, "  source:    %s\n", res.Source)
}
