package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mpython77/instaapi-sub001/internal/executor"
	"github.com/mpython77/instaapi-sub001/internal/transport"
)

// NewCallCmd creates the call command.
func NewCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call METHOD TARGET [TARGET...]",
		Short: "Execute a private-API call",
		Long: `Call executes one API call per TARGET with the configured accounts and
prints the decoded payload as indented JSON. TARGET is a path joined to
base_url or an absolute URL.

Several targets run concurrently on the worker pool and print a JSON array
in argument order; a failed target prints null and the command exits 1.

On failure the error is tagged with its kind, e.g. [rate_limited],
[authentication_expired] or [resource_not_found].

Examples:
  # Fetch a user profile
  instaapi call GET /api/v1/users/25025320/info/

  # Follow a user with a form body, in its own rate category
  instaapi call POST /api/v1/friendships/create/25025320/ --category follow -d user_id=25025320

  # Several profiles at once
  instaapi call GET /api/v1/users/1/info/ /api/v1/users/2/info/`,
		Args: cobra.MinimumNArgs(2),
		RunE: runCallCmd,
	}

	// -c is the global config flag, so the category has no shorthand.
	cmd.Flags().String("category", executor.DefaultCategory, "Rate-limit category of the call")
	cmd.Flags().StringArrayP("data", "d", nil, "Form field as key=value (repeatable)")
	cmd.Flags().String("json-body", "", "Raw JSON request body (ignored when --data is given)")
	cmd.Flags().StringArrayP("header", "H", nil, "Extra header as 'Name: value' (repeatable)")
	cmd.Flags().String("account", "", "Use this account instead of round-robin selection")

	return cmd
}

func runCallCmd(cmd *cobra.Command, args []string) error {
	calls, err := buildCalls(cmd, args)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(slog.Default())
	defer cancel()

	e, err := startEngine(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.PersistSessions(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("failed to persist sessions", "error", err)
		}
		_ = e.Close() //nolint:errcheck // Best effort cleanup
	}()

	account, err := cmd.Flags().GetString("account")
	if err != nil {
		return err
	}
	if account != "" {
		s, ok := e.Store.ByID(account)
		if !ok {
			return fmt.Errorf("unknown account %q", account)
		}
		for i := range calls {
			calls[i].Session = s
		}
	}

	out := cmd.OutOrStdout()
	if len(calls) == 1 {
		res, err := e.Executor.Execute(ctx, calls[0])
		if err != nil {
			return describeError(err)
		}
		return writeJSON(out, resultValue(res))
	}

	results, errs := e.Pool.RunAll(ctx, calls)
	values := make([]any, len(results))
	var failed []error
	for i, res := range results {
		if errs[i] != nil {
			failed = append(failed, fmt.Errorf("%s: %w", calls[i].Target, describeError(errs[i])))
			continue
		}
		values[i] = resultValue(res)
	}
	if err := writeJSON(out, values); err != nil {
		return err
	}
	return errors.Join(failed...)
}

// buildCalls turns METHOD TARGET... and the body flags into calls.
func buildCalls(cmd *cobra.Command, args []string) ([]executor.Call, error) {
	method := strings.ToUpper(args[0])

	category, err := cmd.Flags().GetString("category")
	if err != nil {
		return nil, err
	}
	data, err := cmd.Flags().GetStringArray("data")
	if err != nil {
		return nil, err
	}
	jsonBody, err := cmd.Flags().GetString("json-body")
	if err != nil {
		return nil, err
	}
	headers, err := cmd.Flags().GetStringArray("header")
	if err != nil {
		return nil, err
	}

	var form url.Values
	if len(data) > 0 {
		form = url.Values{}
		for _, kv := range data {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				return nil, fmt.Errorf("invalid --data %q (want key=value)", kv)
			}
			form.Add(k, v)
		}
	}

	var body any
	if jsonBody != "" && form == nil {
		if !json.Valid([]byte(jsonBody)) {
			return nil, errors.New("--json-body is not valid JSON")
		}
		body = json.RawMessage(jsonBody)
	}

	var extra transport.Header
	for _, h := range headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid --header %q (want 'Name: value')", h)
		}
		extra.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	calls := make([]executor.Call, 0, len(args)-1)
	for _, target := range args[1:] {
		calls = append(calls, executor.Call{
			Method:   method,
			Target:   target,
			Category: category,
			Form:     form,
			JSON:     body,
			Header:   extra.Clone(),
		})
	}
	return calls, nil
}

// resultValue is the printable form of a result: the decoded payload, or
// the raw body when it was not JSON.
func resultValue(res *executor.Result) any {
	if res.Payload != nil {
		return res.Payload
	}
	return string(res.Raw)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
