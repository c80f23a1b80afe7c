package llm

import (
	"context"
	"errors"
	"testing"
)

type stubClient struct {
	text    string
	err     error
	pingErr error
	calls   int
}

func (s *stubClient) Generate(context.Context, string, string) (string, error) {
	s.calls++
	return s.text, s.err
}

func (s *stubClient) Ping(context.Context) error { return s.pingErr }

func TestFallback_Generate(t *testing.T) {
	down := &stubClient{err: &unreachableError{err: errors.New("connection refused")}, pingErr: ErrUnreachable}
	up := &stubClient{text: "pong"}
	never := &stubClient{text: "unused"}

	f := NewFallback(quietLogger(), down, up, never)
	text, err := f.Generate(context.Background(), "m", "ping")
	if err != nil || text != "pong" {
		t.Fatalf("Generate = %q, %v", text, err)
	}
	if down.calls != 1 || up.calls != 1 || never.calls != 0 {
		t.Errorf("calls = %d/%d/%d", down.calls, up.calls, never.calls)
	}
	if err := f.Ping(context.Background()); err != nil {
		t.Errorf("Ping = %v, want nil when any client is up", err)
	}
}

func TestFallback_AllFail(t *testing.T) {
	a := &stubClient{err: &unreachableError{err: errors.New("refused")}, pingErr: ErrUnreachable}
	b := &stubClient{err: &APIError{StatusCode: 404}, pingErr: ErrUnreachable}

	f := NewFallback(quietLogger(), a, b)
	_, err := f.Generate(context.Background(), "m", "p")
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("joined error should keep ErrUnreachable: %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Errorf("joined error should keep the API error: %v", err)
	}
	if err := f.Ping(context.Background()); !errors.Is(err, ErrUnreachable) {
		t.Errorf("Ping = %v", err)
	}
}

func TestFallback_Empty(t *testing.T) {
	f := NewFallback(nil)
	if _, err := f.Generate(context.Background(), "m", "p"); err == nil {
		t.Error("expected error with no clients")
	}
	if err := f.Ping(context.Background()); err == nil {
		t.Error("expected ping error with no clients")
	}
}
