package kit

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

func TestChain_Order(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}

	base := func(_ context.Context, _ any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	resp, err := Chain(mw("a"), mw("b"))(base)(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "ok" {
		t.Fatalf("response: got %v", resp)
	}
	want := []string{"a_before", "b_before", "endpoint", "b_after", "a_after"}
	if len(order) != len(want) {
		t.Fatalf("order: got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d]: got %q, want %q", i, order[i], want[i])
		}
	}
}

func TestRecover(t *testing.T) {
	panicky := func(context.Context, any) (any, error) { panic("boom") }
	_, err := Recover(slog.Default())(panicky)(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
}

func TestLogging_PassesThrough(t *testing.T) {
	errFail := errors.New("fail")
	base := func(context.Context, any) (any, error) { return nil, errFail }
	_, err := Logging(slog.Default(), "clip")(base)(context.Background(), nil)
	if !errors.Is(err, errFail) {
		t.Fatalf("error: got %v, want %v", err, errFail)
	}
}

func TestContext_Values(t *testing.T) {
	ctx := context.Background()
	if UserID(ctx) != 0 || RequestID(ctx) != "" {
		t.Fatal("empty context should carry zero values")
	}
	if Transport(ctx) != "http" {
		t.Errorf("default transport: got %q", Transport(ctx))
	}

	ctx = WithUserID(ctx, 42)
	ctx = WithTransport(ctx, "mcp")
	ctx = WithRequestID(ctx, "req-1")
	if UserID(ctx) != 42 {
		t.Errorf("user id: got %d", UserID(ctx))
	}
	if Transport(ctx) != "mcp" {
		t.Errorf("transport: got %q", Transport(ctx))
	}
	if RequestID(ctx) != "req-1" {
		t.Errorf("request id: got %q", RequestID(ctx))
	}
}

func TestInputSchema(t *testing.T) {
	s := InputSchema(map[string]any{"url": map[string]any{"type": "string"}}, "url")
	if s["type"] != "object" {
		t.Errorf("type: got %v", s["type"])
	}
	req, ok := s["required"].([]string)
	if !ok || len(req) != 1 || req[0] != "url" {
		t.Errorf("required: got %v", s["required"])
	}
	if _, ok := InputSchema(nil)["required"]; ok {
		t.Error("required should be omitted when empty")
	}
}
