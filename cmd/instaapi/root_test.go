package main

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/mpython77/instaapi-sub001/internal/apierr"
	"github.com/mpython77/instaapi-sub001/internal/challenge"
)

func TestNewRootCmd(t *testing.T) {
	t.Parallel()

	cmd := NewRootCmd()

	t.Run("has correct use", func(t *testing.T) {
		t.Parallel()
		if cmd.Use != "instaapi" {
			t.Errorf("expected use 'instaapi', got %q", cmd.Use)
		}
	})

	t.Run("has version", func(t *testing.T) {
		t.Parallel()
		if cmd.Version == "" {
			t.Error("expected non-empty version")
		}
	})

	t.Run("has persistent flags", func(t *testing.T) {
		t.Parallel()
		for name, short := range map[string]string{"verbose": "v", "config": "c"} {
			flag := cmd.PersistentFlags().Lookup(name)
			if flag == nil {
				t.Fatalf("expected %s flag", name)
			}
			if flag.Shorthand != short {
				t.Errorf("%s shorthand = %q, want %q", name, flag.Shorthand, short)
			}
		}
	})

	t.Run("has subcommands", func(t *testing.T) {
		t.Parallel()
		want := map[string]bool{"call": false, "lookup": false, "status": false, "init": false, "version": false}
		for _, sub := range cmd.Commands() {
			if _, ok := want[sub.Name()]; ok {
				want[sub.Name()] = true
			}
		}
		for name, found := range want {
			if !found {
				t.Errorf("missing subcommand %q", name)
			}
		}
	})
}

func TestDescribeError(t *testing.T) {
	t.Parallel()

	plain := errors.New("boom")
	if got := describeError(plain); got != plain {
		t.Errorf("unclassified error changed: %v", got)
	}

	classified := &apierr.Error{Kind: apierr.KindRateLimited, Op: "GET /feed", Status: http.StatusTooManyRequests}
	got := describeError(classified)
	if !strings.HasPrefix(got.Error(), "failed [rate_limited]") {
		t.Errorf("describeError() = %q", got)
	}
	if apierr.KindOf(got) != apierr.KindRateLimited {
		t.Error("kind lost after wrapping")
	}
}

func TestPromptCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"trims the line", "  123456 \n", "123456", false},
		{"no newline", "654321", "654321", false},
		{"empty line", "\n", "", true},
		{"closed input", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var out bytes.Buffer
			code, err := promptCode(strings.NewReader(tt.input), &out)(t.Context(), challenge.CodeRequest{
				Account: "1", Channel: challenge.ChannelEmail, Contact: "a***@example.com",
			})
			if (err != nil) != tt.wantErr || code != tt.want {
				t.Errorf("code = %q, err = %v", code, err)
			}
			if !strings.Contains(out.String(), "a***@example.com") {
				t.Errorf("prompt missing contact: %q", out.String())
			}
		})
	}
}

// writeTestConfig writes a configuration pointing every endpoint at srv and
// every state directory into a temp dir. When withAccount is set a
// credential file with one account is written too.
func writeTestConfig(t *testing.T, srv *httptest.Server, withAccount bool) string {
	t.Helper()
	dir := t.TempDir()

	creds := filepath.Join(dir, "accounts.env")
	if withAccount {
		if err := os.WriteFile(creds, []byte("SESSION_ID=7%3Aabc%3A1\nCSRF_TOKEN=tok\nDS_USER_ID=7\n"), 0600); err != nil {
			t.Fatal(err)
		}
	} else {
		if err := os.WriteFile(creds, []byte("# no accounts\n"), 0600); err != nil {
			t.Fatal(err)
		}
	}

	content := fmt.Sprintf(`base_url: %[1]s
web_base_url: %[1]s
credentials_file: %[2]s
snapshot_dir: %[3]s
db_dir: %[4]s
backoff_base: 5ms
backoff_max: 20ms
workers: 2
`, srv.URL, creds, filepath.Join(dir, "sessions"), dir)

	path := filepath.Join(dir, "instaapi.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

// syncBuffer is a bytes.Buffer safe for concurrent writers. Parallel CLI
// runs share slog.Default, so log lines may land in another run's buffer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&syncBuffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
