package session

import (
	"context"
	"testing"

	"sendboard/internal/storage"
	logx "sendboard/pkg/logx"
)

func TestManagerRejectsUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := NewManager(Config{Driver: "carrier-pigeon"}, logx.Nop()); err == nil {
		t.Fatal("expected unknown-driver error")
	}
}

func TestMockSessionLifecycle(t *testing.T) {
	t.Parallel()
	m, err := NewManager(Config{Driver: "mock"}, logx.Nop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	ctx := context.Background()
	s, err := m.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !s.Ready() {
		t.Fatal("mock session should be ready immediately")
	}
	if _, ok := s.Identity(); !ok {
		t.Fatal("mock session has no identity")
	}
	if _, ok := s.LoginTime(); !ok {
		t.Fatal("mock session has no login time")
	}

	// Same tenant gets the cached session, other tenants get their own.
	again, err := m.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if again != s {
		t.Fatal("session not cached across Get calls")
	}
	other, err := m.Get(ctx, "bob")
	if err != nil {
		t.Fatalf("Get bob: %v", err)
	}
	if other == s {
		t.Fatal("tenants share a session")
	}
}

func TestMockResolveByIDThenName(t *testing.T) {
	t.Parallel()
	m, _ := NewManager(Config{Driver: "mock"}, logx.Nop())
	ctx := context.Background()
	s, err := m.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	byID, err := s.Resolve(ctx, storage.TargetGroup, "room_001", "wrong name")
	if err != nil {
		t.Fatalf("resolve by id: %v", err)
	}
	if byID.ID() != "room_001" {
		t.Fatalf("resolved %s, want room_001", byID.ID())
	}

	byName, err := s.Resolve(ctx, storage.TargetGroup, "room_gone", "family")
	if err != nil {
		t.Fatalf("resolve by name: %v", err)
	}
	if byName.Name() != "family" {
		t.Fatalf("resolved %s, want family", byName.Name())
	}

	if _, err := s.Resolve(ctx, storage.TargetGroup, "nope", "nobody"); err != ErrNotFound {
		t.Fatalf("double miss: err = %v, want ErrNotFound", err)
	}

	// Group ids never resolve as contacts.
	if _, err := s.Resolve(ctx, storage.TargetContact, "room_001", "product team"); err != ErrNotFound {
		t.Fatalf("cross-type resolve: err = %v, want ErrNotFound", err)
	}
}

func TestRestartRecreatesSession(t *testing.T) {
	t.Parallel()
	m, _ := NewManager(Config{Driver: "mock"}, logx.Nop())
	ctx := context.Background()

	s, err := m.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := m.Restart(ctx, "alice"); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	fresh, err := m.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get after restart: %v", err)
	}
	if fresh == s {
		t.Fatal("restart did not recreate the session")
	}

	// Restarting a tenant with no live session is a no-op.
	if err := m.Restart(ctx, "bob"); err != nil {
		t.Fatalf("Restart idle tenant: %v", err)
	}
}

func TestTelegramRequiresToken(t *testing.T) {
	t.Parallel()
	m, err := NewManager(Config{
		Driver:   "telegram",
		Telegram: TelegramConfig{Tokens: map[string]string{"alice": "123:abc"}},
	}, logx.Nop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := m.Get(context.Background(), "bob"); err == nil {
		t.Fatal("expected error for tenant without a token")
	}
}
