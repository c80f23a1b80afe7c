package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/subzero/internal/agent"
	"github.com/nugget/subzero/internal/bridge"
	"github.com/nugget/subzero/internal/events"
	"github.com/nugget/subzero/internal/llm"
	"github.com/nugget/subzero/internal/tools"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubClient answers every prompt with reply, or fails with err.
type stubClient struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

func (c *stubClient) Generate(context.Context, string, string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.reply, c.err
}

func (c *stubClient) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *stubClient) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

type fixture struct {
	client  *stubClient
	agent   *agent.Agent
	exec    *tools.Executor
	bridge  *bridge.Bridge
	bus     *events.Bus
	deletes atomic.Int32
	handler http.Handler
}

func newFixture(t *testing.T, reply string, withBridge bool) *fixture {
	t.Helper()
	f := &fixture{client: &stubClient{reply: reply}, bus: events.New()}

	reg, err := tools.NewRegistry(
		tools.Descriptor{
			Kind:        tools.KindFileRead,
			Description: "Read a file",
			Params:      []tools.Param{{Name: "path", Hint: "file.txt"}},
			Handler: func(_ context.Context, p map[string]string) tools.Result {
				return tools.OK("contents of " + p["path"])
			},
		},
		tools.Descriptor{
			Kind:        tools.KindFileDelete,
			Description: "Delete a file",
			Params:      []tools.Param{{Name: "path", Hint: "file.txt"}},
			Handler: func(context.Context, map[string]string) tools.Result {
				f.deletes.Add(1)
				return tools.OK("deleted")
			},
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	f.exec = tools.NewExecutor(reg, tools.ExecutorOptions{Logger: quietLogger(), Bus: f.bus})
	f.agent = agent.New(agent.Config{
		Client:   f.client,
		Model:    "qwen2.5:3b",
		Executor: f.exec,
		Logger:   quietLogger(),
	})

	cfg := Config{
		Agent:    f.agent,
		Executor: f.exec,
		Bus:      f.bus,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, "subzero_up 1")
		}),
		Logger: quietLogger(),
	}
	if withBridge {
		f.bridge = bridge.New(f.agent, bridge.Config{Logger: quietLogger(), Bus: f.bus}, bridge.Handlers{})
		t.Cleanup(func() { f.bridge.Close(context.Background()) })
		cfg.Bridge = f.bridge
	}
	f.handler = NewServer(cfg).Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealthAndVersion(t *testing.T) {
	f := newFixture(t, "", false)

	w := f.do(t, "GET", "/health", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "healthy") {
		t.Errorf("GET /health = %d %s", w.Code, w.Body.String())
	}

	w = f.do(t, "GET", "/v1/version", "")
	info := decode[map[string]string](t, w)
	if info["version"] == "" || info["go_version"] == "" {
		t.Errorf("version info = %v", info)
	}
}

func TestCORS(t *testing.T) {
	f := newFixture(t, "", false)

	w := f.do(t, "OPTIONS", "/api/chat", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("OPTIONS status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q", got)
	}
	w = f.do(t, "GET", "/health", "")
	if got := w.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "POST") {
		t.Errorf("Allow-Methods = %q", got)
	}
}

func TestStatus(t *testing.T) {
	t.Run("without bridge pings", func(t *testing.T) {
		f := newFixture(t, "", false)
		st := decode[map[string]any](t, f.do(t, "GET", "/api/status", ""))
		if st["ok"] != true || st["ollama"] != true || st["model"] != "qwen2.5:3b" {
			t.Errorf("status = %v", st)
		}
		if st["tool_count"] != float64(2) || st["tools"] != true {
			t.Errorf("tool_count = %v", st["tool_count"])
		}

		f.client.setErr(llm.ErrUnreachable)
		st = decode[map[string]any](t, f.do(t, "GET", "/api/status", ""))
		if st["ollama"] != false {
			t.Errorf("ollama = %v with failing ping", st["ollama"])
		}
	})

	t.Run("with bridge reports state", func(t *testing.T) {
		f := newFixture(t, "", true)
		f.client.setErr(llm.ErrUnreachable)
		f.bridge.Check(context.Background())

		st := decode[map[string]any](t, f.do(t, "GET", "/api/status", ""))
		if st["ollama"] != false {
			t.Errorf("ollama = %v, want false", st["ollama"])
		}
		b, ok := st["bridge"].(map[string]any)
		if !ok || b["state"] != "disconnected" {
			t.Errorf("bridge = %v", st["bridge"])
		}
	})
}

func TestChat(t *testing.T) {
	f := newFixture(t, "Here is **bold** text.\n@tool file_read path=\"notes.txt\"\n@tool file_delete path=\"old.txt\"", false)

	w := f.do(t, "POST", "/api/chat", `{"message": "read my notes", "session": "phone"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	resp := decode[ChatResponse](t, w)

	if !resp.OK || resp.Session != "phone" || resp.Model != "qwen2.5:3b" {
		t.Errorf("response = %+v", resp)
	}
	if !strings.Contains(resp.HTML, "<strong>bold</strong>") {
		t.Errorf("html = %q", resp.HTML)
	}
	if !strings.Contains(resp.Response, "[✓ file_read] contents of notes.txt") {
		t.Errorf("response missing tool output: %q", resp.Response)
	}
	if len(resp.Tools) != 2 {
		t.Fatalf("tools = %+v", resp.Tools)
	}
	if resp.Tools[0] != (ChatTool{Tool: "file_read", Success: true, Output: "contents of notes.txt"}) {
		t.Errorf("tools[0] = %+v", resp.Tools[0])
	}
	if !resp.Tools[1].NeedsConfirm || resp.Tools[1].Success || !resp.PendingConfirm {
		t.Errorf("tools[1] = %+v pending=%v", resp.Tools[1], resp.PendingConfirm)
	}
	if n := f.deletes.Load(); n != 0 {
		t.Errorf("file_delete ran %d times without confirmation", n)
	}

	hist := decode[map[string]any](t, f.do(t, "GET", "/api/history?session=phone", ""))
	if turns, _ := hist["turns"].([]any); len(turns) != 2 {
		t.Errorf("history turns = %v", hist["turns"])
	}
}

func TestChat_TruncatesToolOutput(t *testing.T) {
	f := newFixture(t, `@tool file_read path="`+strings.Repeat("é", 1500)+`"`, false)

	resp := decode[ChatResponse](t, f.do(t, "POST", "/api/chat", `{"message": "go"}`))
	if len(resp.Tools) != 1 {
		t.Fatalf("tools = %d", len(resp.Tools))
	}
	if n := len([]rune(resp.Tools[0].Output)); n != maxToolOutput {
		t.Errorf("output runes = %d, want %d", n, maxToolOutput)
	}
}

func TestChat_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{"empty message", `{"message": "   "}`, nil, http.StatusBadRequest, "No message"},
		{"missing message", `{}`, nil, http.StatusBadRequest, "No message"},
		{"bad json", `{"message":`, nil, http.StatusBadRequest, "invalid request body"},
		{"offline", `{"message": "hi"}`, fmt.Errorf("dial: %w", llm.ErrUnreachable), http.StatusServiceUnavailable, "Ollama is offline"},
		{"backend error", `{"message": "hi"}`, &llm.APIError{StatusCode: 500, Body: "boom"}, http.StatusBadGateway, "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "ok", false)
			f.client.setErr(tt.err)

			w := f.do(t, "POST", "/api/chat", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantCode, w.Body.String())
			}
			resp := decode[map[string]any](t, w)
			if resp["ok"] != false || !strings.Contains(fmt.Sprint(resp["error"]), tt.wantMsg) {
				t.Errorf("body = %v, want error containing %q", resp, tt.wantMsg)
			}
		})
	}
}

func TestChat_QueuesWhileDisconnected(t *testing.T) {
	f := newFixture(t, "back online", true)
	f.client.setErr(llm.ErrUnreachable)
	f.bridge.Check(context.Background())

	w := f.do(t, "POST", "/api/chat", `{"message": "are you there?", "session": "phone"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}
	resp := decode[ChatResponse](t, w)
	if !resp.Queued || resp.Session != "phone" || !strings.Contains(resp.Response, "1 waiting") {
		t.Errorf("response = %+v", resp)
	}
	if got := f.bridge.Queue(); len(got) != 1 || got[0] != "are you there?" {
		t.Errorf("queue = %v", got)
	}

	f.client.setErr(nil)
	f.bridge.Check(context.Background())
	if n := f.bridge.QueueLen(); n != 0 {
		t.Errorf("queue length after reconnect = %d", n)
	}
	hist, _ := f.agent.History(context.Background(), "phone")
	if len(hist) != 2 || hist[0].Content != "are you there?" || hist[1].Content != "back online" {
		t.Errorf("phone session history = %+v", hist)
	}
	if def, _ := f.agent.History(context.Background(), agent.DefaultSession); len(def) != 0 {
		t.Errorf("queued message landed in the default session: %+v", def)
	}
}

func TestClear(t *testing.T) {
	f := newFixture(t, "hello", false)
	f.do(t, "POST", "/api/chat", `{"message": "hi", "session": "s1"}`)

	w := f.do(t, "POST", "/api/clear", `{"session": "s1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	hist, _ := f.agent.History(context.Background(), "s1")
	if len(hist) != 0 {
		t.Errorf("history after clear = %d turns", len(hist))
	}

	// An empty body clears the default session.
	if w := f.do(t, "POST", "/api/clear", ""); w.Code != http.StatusOK {
		t.Errorf("empty clear status = %d", w.Code)
	}
}

func TestBridgeEndpoints(t *testing.T) {
	f := newFixture(t, "pong", true)

	// Checking state dispatches live.
	w := f.do(t, "POST", "/v1/bridge/send", `{"prompt": "ping", "wait": true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("send status = %d: %s", w.Code, w.Body.String())
	}
	sent := decode[BridgeSendResponse](t, w)
	if sent.Outcome != bridge.OutcomeSent || sent.Response != "pong" {
		t.Errorf("send = %+v", sent)
	}

	f.client.setErr(llm.ErrUnreachable)
	st := decode[bridge.Status](t, f.do(t, "POST", "/v1/bridge/check", ""))
	if st.State != bridge.StateDisconnected {
		t.Fatalf("state after failed check = %v", st.State)
	}

	w = f.do(t, "POST", "/v1/bridge/send", `{"prompt": "queued one"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("queued send status = %d", w.Code)
	}
	if q := decode[BridgeSendResponse](t, w); q.Outcome != bridge.OutcomeQueued || q.QueueLength != 1 {
		t.Errorf("queued send = %+v", q)
	}

	queue := decode[map[string]any](t, f.do(t, "GET", "/v1/bridge/queue", ""))
	if queue["count"] != float64(1) || queue["max"] != float64(bridge.DefaultMaxQueueSize) {
		t.Errorf("queue = %v", queue)
	}

	retry := decode[map[string]any](t, f.do(t, "POST", "/v1/bridge/retry", ""))
	if retry["delivered"] != float64(0) || retry["remaining"] != float64(1) {
		t.Errorf("retry while down = %v", retry)
	}

	f.client.setErr(nil)
	retry = decode[map[string]any](t, f.do(t, "POST", "/v1/bridge/retry", ""))
	if retry["delivered"] != float64(1) || retry["remaining"] != float64(0) {
		t.Errorf("retry after recovery = %v", retry)
	}

	status := decode[bridge.Status](t, f.do(t, "GET", "/v1/bridge/status", ""))
	if status.TotalSent != 2 {
		t.Errorf("total_sent = %d, want 2", status.TotalSent)
	}

	if w := f.do(t, "POST", "/v1/bridge/send", `{"prompt": ""}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty prompt status = %d", w.Code)
	}
}

func TestBridgeSend_RejectedAfterClose(t *testing.T) {
	f := newFixture(t, "x", true)
	if err := f.bridge.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	w := f.do(t, "POST", "/v1/bridge/send", `{"prompt": "late"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestBridgeEndpoints_NotConfigured(t *testing.T) {
	f := newFixture(t, "", false)
	for _, path := range []string{"/v1/bridge/status", "/v1/bridge/queue"} {
		if w := f.do(t, "GET", path, ""); w.Code != http.StatusServiceUnavailable {
			t.Errorf("GET %s = %d, want 503", path, w.Code)
		}
	}
	if w := f.do(t, "POST", "/v1/bridge/retry", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("POST retry = %d, want 503", w.Code)
	}
}

func TestToolEndpoints(t *testing.T) {
	f := newFixture(t, "", false)

	list := decode[map[string]any](t, f.do(t, "GET", "/v1/tools", ""))
	if items, _ := list["tools"].([]any); len(items) != 2 {
		t.Errorf("tools = %v", list["tools"])
	}

	w := f.do(t, "GET", "/v1/tools/prompt", "")
	if !strings.Contains(w.Body.String(), "@tool file_read") {
		t.Errorf("prompt = %q", w.Body.String())
	}

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantOK   bool
	}{
		{"auto tier", `{"name": "file_read", "params": {"path": "a.txt"}}`, http.StatusOK, true},
		{"confirm blocked", `{"name": "file_delete", "params": {"path": "a.txt"}}`, http.StatusForbidden, false},
		{"confirm approved", `{"name": "file_delete", "params": {"path": "a.txt"}, "confirm": true}`, http.StatusOK, true},
		{"unknown", `{"name": "teleport"}`, http.StatusNotFound, false},
		{"missing name", `{}`, http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, "POST", "/v1/tools/execute", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantCode == http.StatusBadRequest {
				return
			}
			res := decode[map[string]any](t, w)
			if res["success"] != tt.wantOK {
				t.Errorf("result = %v", res)
			}
		})
	}
	if n := f.deletes.Load(); n != 1 {
		t.Errorf("file_delete ran %d times, want 1", n)
	}

	log := decode[map[string]any](t, f.do(t, "GET", "/v1/tools/log?tool=file_delete", ""))
	if log["count"] != float64(1) {
		t.Errorf("log = %v", log)
	}
}

func TestAutoTrade(t *testing.T) {
	f := newFixture(t, "", false)

	w := f.do(t, "PUT", "/v1/tools/auto-trade", `{"enabled": true}`)
	if w.Code != http.StatusOK || !f.exec.AutoTrade() {
		t.Errorf("enable: status %d auto=%v", w.Code, f.exec.AutoTrade())
	}
	if w := f.do(t, "PUT", "/v1/tools/auto-trade", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing enabled status = %d", w.Code)
	}
}

func TestMetricsMounted(t *testing.T) {
	f := newFixture(t, "", false)
	w := f.do(t, "GET", "/metrics", "")
	if !strings.Contains(w.Body.String(), "subzero_up 1") {
		t.Errorf("metrics body = %q", w.Body.String())
	}
}

func TestEventStream(t *testing.T) {
	f := newFixture(t, "", false)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/bridge/events?source=bridge"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer resp.Body.Close()
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for f.bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The tools event is filtered out by the source query.
	f.bus.Emit(events.SourceTools, events.KindToolCall, map[string]any{"tool": "file_read"})
	f.bus.Emit(events.SourceBridge, events.KindStatusChange, map[string]any{"old": "checking", "new": "connected"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var e events.Event
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("read: %v", err)
	}
	if e.Source != events.SourceBridge || e.Kind != events.KindStatusChange || e.Data["new"] != "connected" {
		t.Errorf("event = %+v", e)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for f.bus.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream did not unsubscribe after client closed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDecodeBody_Limit(t *testing.T) {
	req := httptest.NewRequest("POST", "/", bytes.NewReader(bytes.Repeat([]byte("a"), maxBodyBytes+10)))
	var v map[string]any
	if err := decodeBody(httptest.NewRecorder(), req, &v); err == nil {
		t.Error("expected error for oversized body")
	}
}
