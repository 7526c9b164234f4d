package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sendboard/internal/session"
	"sendboard/internal/storage"
	logx "sendboard/pkg/logx"
)

type staticTenants []string

func (s staticTenants) Names() []string { return s }

type stubSession struct {
	ready bool
}

func (s *stubSession) Start(ctx context.Context) error    { return nil }
func (s *stubSession) Stop(ctx context.Context) error     { return nil }
func (s *stubSession) Ready() bool                        { return s.ready }
func (s *stubSession) Identity() (session.Identity, bool) { return session.Identity{}, false }
func (s *stubSession) LoginTime() (time.Time, bool)       { return time.Time{}, false }
func (s *stubSession) Resolve(context.Context, storage.TargetType, string, string) (session.Target, error) {
	return nil, session.ErrNotFound
}
func (s *stubSession) Groups(context.Context) ([]session.Info, error)   { return nil, nil }
func (s *stubSession) Contacts(context.Context) ([]session.Info, error) { return nil, nil }

type stubProvider struct {
	sessions map[string]session.Session
	errs     map[string]error
}

func (p *stubProvider) Get(ctx context.Context, tenant string) (session.Session, error) {
	if err := p.errs[tenant]; err != nil {
		return nil, err
	}
	return p.sessions[tenant], nil
}

type recordingSink struct {
	mu    sync.Mutex
	tasks []string // "<tenant>/<task-id>"
}

func (r *recordingSink) Dispatch(ctx context.Context, tenant string, task storage.Task) {
	r.mu.Lock()
	r.tasks = append(r.tasks, tenant+"/"+task.ID)
	r.mu.Unlock()
}

func (r *recordingSink) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tasks...)
}

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedTask(t *testing.T, st storage.Store, tenant string, task storage.Task) {
	t.Helper()
	err := st.Update(context.Background(), tenant, func(d *storage.Document) error {
		d.Tasks = append(d.Tasks, task)
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestTickDispatchesOnlyDuePending(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	now := time.Now()

	seedTask(t, st, "alice", storage.Task{ID: "due", Status: storage.StatusPending, ScheduleTime: now.Add(-time.Minute)})
	seedTask(t, st, "alice", storage.Task{ID: "future", Status: storage.StatusPending, ScheduleTime: now.Add(time.Hour)})
	seedTask(t, st, "alice", storage.Task{ID: "done", Status: storage.StatusSuccess, ScheduleTime: now.Add(-time.Hour)})
	seedTask(t, st, "alice", storage.Task{ID: "dead", Status: storage.StatusFailed, ScheduleTime: now.Add(-time.Hour)})

	sink := &recordingSink{}
	provider := &stubProvider{sessions: map[string]session.Session{"alice": &stubSession{ready: true}}}
	svc := New(Config{Enabled: true}, st, staticTenants{"alice"}, provider, sink, logx.Nop())

	svc.tick(context.Background())

	got := sink.seen()
	if len(got) != 1 || got[0] != "alice/due" {
		t.Fatalf("dispatched = %v, want [alice/due]", got)
	}
}

func TestTickSkipsNotReadySession(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	seedTask(t, st, "alice", storage.Task{ID: "due", Status: storage.StatusPending, ScheduleTime: time.Now().Add(-time.Minute)})

	sink := &recordingSink{}
	provider := &stubProvider{sessions: map[string]session.Session{"alice": &stubSession{ready: false}}}
	svc := New(Config{Enabled: true}, st, staticTenants{"alice"}, provider, sink, logx.Nop())

	svc.tick(context.Background())

	if got := sink.seen(); len(got) != 0 {
		t.Fatalf("dispatched despite not-ready session: %v", got)
	}
}

func TestTickTenantFailureDoesNotBlockOthers(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	now := time.Now()
	seedTask(t, st, "alice", storage.Task{ID: "a1", Status: storage.StatusPending, ScheduleTime: now.Add(-time.Minute)})
	seedTask(t, st, "bob", storage.Task{ID: "b1", Status: storage.StatusPending, ScheduleTime: now.Add(-time.Minute)})

	sink := &recordingSink{}
	provider := &stubProvider{
		sessions: map[string]session.Session{"bob": &stubSession{ready: true}},
		errs:     map[string]error{"alice": errors.New("no token")},
	}
	svc := New(Config{Enabled: true}, st, staticTenants{"alice", "bob"}, provider, sink, logx.Nop())

	svc.tick(context.Background())

	got := sink.seen()
	if len(got) != 1 || got[0] != "bob/b1" {
		t.Fatalf("dispatched = %v, want [bob/b1]", got)
	}
}

func TestStartRunsPeriodicSweeps(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	seedTask(t, st, "alice", storage.Task{ID: "due", Status: storage.StatusPending, ScheduleTime: time.Now().Add(-time.Minute)})

	sink := &recordingSink{}
	provider := &stubProvider{sessions: map[string]session.Session{"alice": &stubSession{ready: true}}}
	svc := New(Config{Enabled: true, Interval: 20 * time.Millisecond}, st, staticTenants{"alice"}, provider, sink, logx.Nop())

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(sink.seen()) >= 2 { // initial sweep plus at least one cron firing
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := len(sink.seen()); got < 2 {
		t.Fatalf("expected repeated sweeps, saw %d dispatches", got)
	}

	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	after := len(sink.seen())
	time.Sleep(60 * time.Millisecond)
	if got := len(sink.seen()); got != after {
		t.Fatalf("sweeps continued after Stop: %d -> %d", after, got)
	}
}

func TestDisabledScannerNeverSweeps(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	seedTask(t, st, "alice", storage.Task{ID: "due", Status: storage.StatusPending, ScheduleTime: time.Now().Add(-time.Minute)})

	sink := &recordingSink{}
	provider := &stubProvider{sessions: map[string]session.Session{"alice": &stubSession{ready: true}}}
	svc := New(Config{Enabled: false, Interval: 10 * time.Millisecond}, st, staticTenants{"alice"}, provider, sink, logx.Nop())

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(40 * time.Millisecond)
	if got := sink.seen(); len(got) != 0 {
		t.Fatalf("disabled scanner dispatched: %v", got)
	}
	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
