package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

// fakeOllama serves /api/tags and a one-chunk /api/generate stream.
func fakeOllama(t *testing.T, reply string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var generates atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[{"name":"qwen2.5:3b"},{"name":"llama3.2:1b"}]}`)
	})
	mux.HandleFunc("POST /api/generate", func(w http.ResponseWriter, r *http.Request) {
		generates.Add(1)
		chunk, _ := json.Marshal(map[string]any{"response": reply, "done": true})
		w.Write(chunk)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &generates
}

// writeConfig writes a config pointing at ollamaURL with its data
// directory inside t.TempDir.
func writeConfig(t *testing.T, ollamaURL string, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`ollama:
  url: %s
  model: qwen2.5:3b
bridge:
  probe_timeout_sec: 2
data_dir: %s
%s`, ollamaURL, filepath.Join(dir, "db"), extra)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		var stdout, stderr bytes.Buffer
		if err := run(context.Background(), &stdout, &stderr, args); err != nil {
			t.Fatalf("run(%v) = %v", args, err)
		}
		if !strings.Contains(stdout.String(), "Usage: subzero") {
			t.Errorf("run(%v) output missing usage:\n%s", args, stdout.String())
		}
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown flag", []string{"-x"}, "unknown flag: -x"},
		{"unknown output", []string{"-o", "yaml", "version"}, "unknown output format"},
		{"unknown command", []string{"launch"}, "unknown command: launch"},
		{"ask without prompt", []string{"ask"}, "usage: subzero ask"},
		{"send without prompt", []string{"send"}, "usage: subzero send"},
		{"missing explicit config", []string{"-config", "/nonexistent/config.yaml", "status"}, "config file not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			err := run(context.Background(), &stdout, &stderr, tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("run(%v) = %v, want error containing %q", tt.args, err, tt.want)
			}
		})
	}
}

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want invocation
	}{
		{"defaults", []string{"status"}, invocation{output: "text", command: "status"}},
		{"separate values", []string{"-config", "c.yaml", "-o", "json", "tools"},
			invocation{configPath: "c.yaml", output: "json", command: "tools"}},
		{"joined values", []string{"--config=a=b.yaml", "--output=json", "version"},
			invocation{configPath: "a=b.yaml", output: "json", command: "version"}},
		{"command args keep dashes", []string{"ask", "-o", "what"},
			invocation{output: "text", command: "ask", args: []string{"-o", "what"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseArgs(tt.args)
			if err != nil {
				t.Fatal(err)
			}
			if got.configPath != tt.want.configPath || got.output != tt.want.output ||
				got.command != tt.want.command || strings.Join(got.args, " ") != strings.Join(tt.want.args, " ") {
				t.Errorf("parseArgs(%v) = %+v, want %+v", tt.args, got, tt.want)
			}
		})
	}

	if _, err := parseArgs([]string{"-config"}); err == nil {
		t.Error("expected an error for -config without a value")
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	path := writeConfig(t, "http://127.0.0.1:1", "log_format: xml\n")
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), &stdout, &stderr, []string{"-config=" + path, "tools"})
	if err == nil || !strings.Contains(err.Error(), "log_format") {
		t.Errorf("err = %v, want log_format validation error", err)
	}
}

func TestRunVersion(t *testing.T) {
	var text bytes.Buffer
	if err := runVersion(&text, "text"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text.String(), "version:") {
		t.Errorf("text output = %q", text.String())
	}

	var js bytes.Buffer
	if err := runVersion(&js, "json"); err != nil {
		t.Fatal(err)
	}
	var info map[string]string
	if err := json.Unmarshal(js.Bytes(), &info); err != nil {
		t.Fatalf("json output: %v", err)
	}
	if info["version"] == "" {
		t.Errorf("json output missing version: %v", info)
	}
}

func TestRunTools(t *testing.T) {
	path := writeConfig(t, "http://127.0.0.1:1", "")

	t.Run("list", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		if err := run(context.Background(), &stdout, &stderr, []string{"-config", path, "tools"}); err != nil {
			t.Fatal(err)
		}
		out := stdout.String()
		for _, want := range []string{"AUTO:", "LOG:", "CONFIRM:", "file_read", "run_command", "trade_buy"} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q", want)
			}
		}
		// Confirm-tier tools come after the auto ones.
		if strings.Index(out, "trade_buy") < strings.Index(out, "CONFIRM:") {
			t.Error("trade_buy listed before the CONFIRM heading")
		}
	})

	t.Run("json", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		if err := run(context.Background(), &stdout, &stderr, []string{"-config", path, "-o", "json", "tools"}); err != nil {
			t.Fatal(err)
		}
		var list []map[string]any
		if err := json.Unmarshal(stdout.Bytes(), &list); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(list) == 0 {
			t.Fatal("no tools listed")
		}
		if list[0]["name"] == "" || list[0]["tier"] == "" {
			t.Errorf("first entry = %v", list[0])
		}
	})

	t.Run("prompt", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		if err := run(context.Background(), &stdout, &stderr, []string{"-config", path, "tools", "prompt"}); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(stdout.String(), "@tool file_read") {
			t.Errorf("prompt missing file_read directive:\n%s", stdout.String())
		}
	})

	t.Run("bad argument", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		if err := run(context.Background(), &stdout, &stderr, []string{"-config", path, "tools", "everything"}); err == nil {
			t.Error("expected usage error")
		}
	})
}

func TestRunStatus(t *testing.T) {
	srv, _ := fakeOllama(t, "")
	path := writeConfig(t, srv.URL, "")

	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), &stdout, &stderr, []string{"-config", path, "status"}); err != nil {
		t.Fatalf("status: %v\n%s", err, stderr.String())
	}
	out := stdout.String()
	if !strings.Contains(out, "connected") || !strings.Contains(out, "llama3.2:1b") {
		t.Errorf("status output = %q", out)
	}

	stdout.Reset()
	if err := run(context.Background(), &stdout, &stderr, []string{"-config", path, "-o", "json", "status"}); err != nil {
		t.Fatal(err)
	}
	var got struct {
		Status struct {
			State string `json:"state"`
		} `json:"status"`
		Models []string `json:"models"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status.State != "connected" || len(got.Models) != 2 {
		t.Errorf("json status = %+v", got)
	}
}

func TestRunAsk(t *testing.T) {
	srv, generates := fakeOllama(t, "Four.")
	path := writeConfig(t, srv.URL, "")

	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), &stdout, &stderr, []string{"-config", path, "ask", "what", "is", "2+2?"}); err != nil {
		t.Fatalf("ask: %v", err)
	}
	if got := strings.TrimSpace(stdout.String()); got != "Four." {
		t.Errorf("ask output = %q, want %q", got, "Four.")
	}
	if generates.Load() != 1 {
		t.Errorf("generate calls = %d, want 1", generates.Load())
	}
	// ask keeps nothing on disk.
	if _, err := os.Stat(filepath.Join(filepath.Dir(path), "db")); !os.IsNotExist(err) {
		t.Errorf("data dir created by ask: %v", err)
	}
}

func TestRunSend_Delivered(t *testing.T) {
	srv, _ := fakeOllama(t, "Hello from the model.")
	path := writeConfig(t, srv.URL, "")

	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), &stdout, &stderr, []string{"-config", path, "-o", "json", "send", "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	var res sendResult
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Response != "Hello from the model." || res.Error != "" {
		t.Errorf("result = %+v", res)
	}
}

func TestRunSend_OfflineWithoutPersistence(t *testing.T) {
	srv, _ := fakeOllama(t, "")
	srv.Close()
	path := writeConfig(t, srv.URL, "")

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), &stdout, &stderr, []string{"-config", path, "send", "hi"})
	if err == nil || !strings.Contains(err.Error(), "offline") {
		t.Errorf("err = %v, want offline error", err)
	}
}

func TestPickLANAddr(t *testing.T) {
	ipNet := func(s string) net.Addr {
		_, n, err := net.ParseCIDR(s)
		if err != nil {
			t.Fatal(err)
		}
		n.IP = net.ParseIP(strings.Split(s, "/")[0])
		return n
	}
	tests := []struct {
		name  string
		addrs []net.Addr
		want  string
	}{
		{"none", nil, ""},
		{"loopback only", []net.Addr{ipNet("127.0.0.1/8")}, ""},
		{"public skipped", []net.Addr{ipNet("8.8.8.8/32"), ipNet("192.168.1.20/24")}, "192.168.1.20"},
		{"ipv6 skipped", []net.Addr{ipNet("fd00::1/64"), ipNet("10.0.0.5/8")}, "10.0.0.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pickLANAddr(tt.addrs)
			if tt.want == "" {
				if got != nil {
					t.Errorf("pickLANAddr = %v, want nil", got)
				}
				return
			}
			if got == nil || got.String() != tt.want {
				t.Errorf("pickLANAddr = %v, want %s", got, tt.want)
			}
		})
	}
}
