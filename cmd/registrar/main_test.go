package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/registrar-ai/registrar/internal/api"
)

// writeTestConfig writes a minimal valid config with its data directory
// under a temp dir and returns its path.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := "models:\n" +
		"  default: test-model\n" +
		"  ollama_url: http://127.0.0.1:1\n" +
		"auth:\n" +
		"  jwt_secret: cmd-test-secret\n" +
		"data_dir: " + filepath.Join(dir, "db") + "\n"
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_Usage(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "Usage: registrar") {
		t.Errorf("usage output = %q", out.String())
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"bogus"}, "unknown command"},
		{[]string{"-x", "serve"}, "unknown flag"},
		{[]string{"-o", "yaml", "version"}, "unknown output format"},
		{[]string{"-config", "/nonexistent/config.yaml", "tools"}, "config file not found"},
	}
	for _, tt := range tests {
		err := run(context.Background(), &bytes.Buffer{}, &bytes.Buffer{}, tt.args)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("run(%v) err = %v, want %q", tt.args, err, tt.want)
		}
	}
}

func TestRun_VersionJSON(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"-o", "json", "version"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v (%s)", err, out.String())
	}
	if info["version"] == "" || info["go_version"] == "" {
		t.Errorf("info = %v", info)
	}
}

func TestParseCommandFlags(t *testing.T) {
	f, err := parseCommandFlags([]string{"-role", "TEACHER", "-user=u1", "what", "-thread", "t9", "is", "-ttl", "2h", "up"})
	if err != nil {
		t.Fatalf("parseCommandFlags: %v", err)
	}
	if f.role != "TEACHER" || f.user != "u1" || f.thread != "t9" || f.ttl != 2*time.Hour {
		t.Errorf("flags = %+v", f)
	}
	if !slices.Equal(f.trailing, []string{"what", "is", "up"}) {
		t.Errorf("trailing = %v", f.trailing)
	}

	if _, err := parseCommandFlags([]string{"-role"}); err == nil {
		t.Error("missing value: expected error")
	}
	if _, err := parseCommandFlags([]string{"-ttl", "soon"}); err == nil {
		t.Error("bad duration: expected error")
	}
}

func TestRun_SeedTokenTools(t *testing.T) {
	ctx := context.Background()
	cfgPath := writeTestConfig(t)

	var out bytes.Buffer
	if err := run(ctx, &out, &out, []string{"-config", cfgPath, "-o", "json", "seed"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	var users []map[string]string
	if err := json.Unmarshal(out.Bytes(), &users); err != nil || len(users) != 3 {
		t.Fatalf("seed output = %s (%v)", out.String(), err)
	}

	out.Reset()
	if err := run(ctx, &out, &out, []string{"-config", cfgPath, "token", "-user", "alice@college.test"}); err != nil {
		t.Fatalf("token: %v", err)
	}
	p, err := api.NewAuthenticator("cmd-test-secret", "").Verify(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("minted token does not verify: %v", err)
	}
	if p.Role != "STUDENT" {
		t.Errorf("token role = %q, want the stored STUDENT role", p.Role)
	}
	for _, u := range users {
		if u["email"] == "alice@college.test" && u["user_id"] != p.UserID {
			t.Errorf("token subject = %s, want %s", p.UserID, u["user_id"])
		}
	}

	out.Reset()
	if err := run(ctx, &out, &out, []string{"-config", cfgPath, "tools", "-role", "student"}); err != nil {
		t.Fatalf("tools: %v", err)
	}
	listing := out.String()
	if !strings.HasPrefix(listing, "STUDENT (") || !strings.Contains(listing, "get_my_schedule") {
		t.Errorf("tools output = %q", listing)
	}
	if strings.Contains(listing, "delete_existing_department") {
		t.Error("student listing includes delete_existing_department")
	}

	if err := run(ctx, &out, &out, []string{"-config", cfgPath, "token", "-user", "nobody@college.test"}); err == nil {
		t.Error("token for unknown user without -role: expected error")
	}
}
