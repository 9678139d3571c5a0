package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mpython77/instaapi-sub001/internal/apierr"
	"github.com/mpython77/instaapi-sub001/internal/challenge"
	"github.com/mpython77/instaapi-sub001/internal/config"
	"github.com/mpython77/instaapi-sub001/internal/engine"
	"github.com/mpython77/instaapi-sub001/internal/log"
)

// NewRootCmd creates the root command for instaapi.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instaapi",
		Short: "Resilient client for the Instagram private API",
		Long: `instaapi executes private-API calls on behalf of one or more logged-in
accounts. Every call is paced by a rate governor, sent with a rotating
client identity and proxy, classified, and retried when the failure is
recoverable: expired sessions are refreshed, verification challenges are
resolved and rate limits back off.

Accounts are read from a KEY=value credential file (.env by default);
settings from .instaapi in the current or home directory.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().StringP("config", "c", "",
		"Configuration file path (default: .instaapi in current or home directory)")

	cmd.AddCommand(NewCallCmd())
	cmd.AddCommand(NewLookupCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// loadConfig resolves the configuration file and credentials named by the
// global flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.Verbose = getVerboseFlag(cmd)
	return cfg, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal, cancelling...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// startEngine loads the configuration, installs the secure logger and
// builds the engine. The caller closes the engine.
func startEngine(ctx context.Context, cmd *cobra.Command, requireAccounts bool) (*engine.Engine, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if requireAccounts {
		if err := cfg.RequireAccounts(); err != nil {
			return nil, fmt.Errorf("configuration error: %w (set SESSION_ID in %s)", err, cfg.CredentialsFile)
		}
	}

	logger := log.NewSecureLogger(cmd.ErrOrStderr(), cfg.Verbose)
	slog.SetDefault(logger)

	var opts []engine.Option
	if cfg.ChallengeInteractive {
		opts = append(opts, engine.WithCodeProvider(promptCode(cmd.InOrStdin(), cmd.ErrOrStderr())))
	}
	return engine.New(ctx, cfg, logger, opts...)
}

// promptCode asks for verification codes on the terminal.
func promptCode(in io.Reader, out io.Writer) challenge.CodeFunc {
	reader := bufio.NewReader(in)
	return func(ctx context.Context, req challenge.CodeRequest) (string, error) {
		fmt.Fprintf(out, "Verification required for account %s.\n", req.Account)
		fmt.Fprintf(out, "Enter the code sent by %s to %s: ", req.Channel, req.Contact)

		type line struct {
			s   string
			err error
		}
		ch := make(chan line, 1)
		go func() {
			s, err := reader.ReadString('\n')
			ch <- line{s, err}
		}()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case l := <-ch:
			code := strings.TrimSpace(l.s)
			if code == "" {
				if l.err != nil {
					return "", fmt.Errorf("failed to read verification code: %w", l.err)
				}
				return "", errors.New("empty verification code")
			}
			return code, nil
		}
	}
}

// describeError tags classified failures with their kind, e.g.
// "failed [rate_limited]: ...".
func describeError(err error) error {
	kind := apierr.KindOf(err)
	if kind == apierr.KindNone {
		return err
	}
	return fmt.Errorf("failed [%s]: %w", kind, err)
}
