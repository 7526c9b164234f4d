package session

import (
	"context"
	"time"

	"sendboard/internal/storage"
	logx "sendboard/pkg/logx"
)

// mockSession is a canned directory for development: always ready, sends go
// to the log instead of a real messaging account.
type mockSession struct {
	tenant  string
	log     logx.Logger
	started time.Time

	groups   []Info
	contacts []Info
}

func newMockSession(tenant string, log logx.Logger) *mockSession {
	return &mockSession{
		tenant: tenant,
		log:    log.With(logx.String("tenant", tenant), logx.String("session", "mock")),
		groups: []Info{
			{ID: "room_001", Name: "product team", MemberCount: 15},
			{ID: "room_002", Name: "weekend five-a-side", MemberCount: 8},
			{ID: "room_003", Name: "family", MemberCount: 6},
			{ID: "room_004", Name: "alerts staging", MemberCount: 3},
		},
		contacts: []Info{
			{ID: "contact_001", Name: "Sam Archer"},
			{ID: "contact_002", Name: "Lee Trinh"},
			{ID: "contact_003", Name: "File Helper"},
		},
	}
}

func (s *mockSession) Start(ctx context.Context) error {
	s.started = time.Now()
	return nil
}

func (s *mockSession) Stop(ctx context.Context) error { return nil }

func (s *mockSession) Ready() bool { return true }

func (s *mockSession) Identity() (Identity, bool) {
	return Identity{ID: "mock_" + s.tenant, Name: "Mock Bot"}, true
}

func (s *mockSession) LoginTime() (time.Time, bool) { return s.started, true }

func (s *mockSession) Resolve(ctx context.Context, ttype storage.TargetType, id, name string) (Target, error) {
	dir := s.contacts
	if ttype == storage.TargetGroup {
		dir = s.groups
	}
	for _, e := range dir {
		if e.ID == id {
			return &mockTarget{info: e, log: s.log}, nil
		}
	}
	for _, e := range dir {
		if e.Name == name {
			return &mockTarget{info: e, log: s.log}, nil
		}
	}
	return nil, ErrNotFound
}

func (s *mockSession) Groups(ctx context.Context) ([]Info, error) {
	return append([]Info(nil), s.groups...), nil
}

func (s *mockSession) Contacts(ctx context.Context) ([]Info, error) {
	return append([]Info(nil), s.contacts...), nil
}

type mockTarget struct {
	info Info
	log  logx.Logger
}

func (t *mockTarget) ID() string   { return t.info.ID }
func (t *mockTarget) Name() string { return t.info.Name }

func (t *mockTarget) SendText(ctx context.Context, text string) error {
	t.log.Info("mock send", logx.String("to", t.info.Name), logx.String("text", text))
	return nil
}

func (t *mockTarget) SendFile(ctx context.Context, path string) error {
	t.log.Info("mock send file", logx.String("to", t.info.Name), logx.String("path", path))
	return nil
}
