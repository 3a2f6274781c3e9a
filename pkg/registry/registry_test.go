package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/lumapart/raftengine/pkg/backend"
	"github.com/lumapart/raftengine/pkg/logpos"
)

func TestInvokeDispatchesToRegisteredFunction(t *testing.T) {
	r := New()
	r.Register("kv", "get", func(_ context.Context, _ backend.Handle, _ logpos.Position, table string, args []byte) ([]byte, error) {
		return []byte(table + ":" + string(args)), nil
	})

	reply, err := r.Invoke(context.Background(), "kv", "get", nil, logpos.Position{}, "orders", []byte("42"))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if string(reply) != "orders:42" {
		t.Errorf("unexpected reply: %s", reply)
	}
}

func TestInvokeUnknownFunction(t *testing.T) {
	r := New()
	_, err := r.Invoke(context.Background(), "kv", "missing", nil, logpos.Position{}, "orders", nil)
	var notFound *ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInvokeRecoversFromPanic(t *testing.T) {
	r := New()
	r.Register("kv", "boom", func(context.Context, backend.Handle, logpos.Position, string, []byte) ([]byte, error) {
		panic("kaboom")
	})

	_, err := r.Invoke(context.Background(), "kv", "boom", nil, logpos.Position{}, "orders", nil)
	if err == nil {
		t.Fatal("expected panic to surface as an error")
	}
}

func TestRegisterReplacesExisting(t *testing.T) {
	r := New()
	r.Register("kv", "get", func(context.Context, backend.Handle, logpos.Position, string, []byte) ([]byte, error) {
		return []byte("first"), nil
	})
	r.Register("kv", "get", func(context.Context, backend.Handle, logpos.Position, string, []byte) ([]byte, error) {
		return []byte("second"), nil
	})

	reply, err := r.Invoke(context.Background(), "kv", "get", nil, logpos.Position{}, "orders", nil)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if string(reply) != "second" {
		t.Errorf("expected the later registration to win, got %q", reply)
	}
}
