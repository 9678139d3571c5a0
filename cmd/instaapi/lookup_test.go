package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLookupCommand(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/users/web_profile_info/" && r.URL.Query().Get("username") == "alice" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"data":{"user":{"id":"42","username":"alice","full_name":"Alice","edge_followed_by":{"count":3}}}}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	t.Run("text output", func(t *testing.T) {
		t.Parallel()

		out, err := runCLI(t, "-c", writeTestConfig(t, srv, false), "lookup", "alice", "ghost")
		if err != nil {
			t.Fatalf("lookup error = %v", err)
		}
		for _, want := range []string{"alice (Alice)", "followers: 3", "ghost: unavailable (tried "} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("json output", func(t *testing.T) {
		t.Parallel()

		out, err := runCLI(t, "-c", writeTestConfig(t, srv, false), "lookup", "--json", "@alice")
		if err != nil {
			t.Fatalf("lookup error = %v", err)
		}
		var results []struct {
			Available bool
			Record    struct {
				ID string `json:"id"`
			}
		}
		if err := json.Unmarshal([]byte(out), &results); err != nil {
			t.Fatalf("invalid JSON: %v\n%s", err, out)
		}
		if len(results) != 1 || !results[0].Available || results[0].Record.ID != "42" {
			t.Errorf("results = %+v", results)
		}
	})
}
