package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "sendboard/pkg/logx"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := Open(Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLazyCreateAndRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	doc, err := s.Load(ctx, "alice")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(doc.Tasks) != 0 || len(doc.Templates) != 0 || len(doc.Logs) != 0 {
		t.Fatalf("fresh document not empty: %+v", doc)
	}

	err = s.Update(ctx, "alice", func(d *Document) error {
		d.Tasks = append(d.Tasks, Task{
			ID:           NewID("task"),
			Kind:         KindText,
			TargetType:   TargetGroup,
			TargetID:     "g1",
			TargetName:   "ops",
			Content:      []string{"hello"},
			ScheduleTime: time.Now(),
			Recurrence:   "once",
			Status:       StatusPending,
			CreatedAt:    time.Now(),
		})
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	doc, err = s.Load(ctx, "alice")
	if err != nil {
		t.Fatalf("Load after update: %v", err)
	}
	if len(doc.Tasks) != 1 || doc.Tasks[0].TargetName != "ops" {
		t.Fatalf("unexpected tasks: %+v", doc.Tasks)
	}
}

func TestTenantIsolation(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := AppendLog(ctx, s, "alice", LogInfo, "alice only", ""); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}
	doc, err := s.Load(ctx, "bob")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(doc.Logs) != 0 {
		t.Fatalf("bob sees alice's logs: %+v", doc.Logs)
	}
}

func TestMigrationMissingTemplates(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	// A document written before the templates field existed.
	old := `{"tasks":[{"id":"t1","type":"text","targetType":"contact","targetId":"c1",` +
		`"targetName":"bob","content":["hi"],"scheduleTime":"2025-01-01T09:00:00Z",` +
		`"recurrence":"once","status":"pending","createdAt":"2025-01-01T08:00:00Z"}],` +
		`"logs":[{"id":"l1","timestamp":"2025-01-01T08:00:00Z","level":"info","message":"created"}]}`
	if err := os.MkdirAll(filepath.Join(dir, "alice"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "alice", "db.json"), []byte(old), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	doc, err := s.Load(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Templates == nil || len(doc.Templates) != 0 {
		t.Fatalf("templates not migrated to empty slice: %#v", doc.Templates)
	}
	if len(doc.Tasks) != 1 || doc.Tasks[0].ID != "t1" {
		t.Fatalf("tasks lost in migration: %+v", doc.Tasks)
	}
	if len(doc.Logs) != 1 {
		t.Fatalf("logs lost in migration: %+v", doc.Logs)
	}
}

func TestUpdateErrorLeavesDocumentUntouched(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := AppendLog(ctx, s, "alice", LogInfo, "one", ""); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}
	wantErr := os.ErrInvalid
	err := s.Update(ctx, "alice", func(d *Document) error {
		d.Logs = nil
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("Update error = %v, want %v", err, wantErr)
	}
	doc, err := s.Load(ctx, "alice")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(doc.Logs) != 1 {
		t.Fatalf("failed update mutated document: %+v", doc.Logs)
	}
}

func TestLoadReturnsCopy(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := AppendLog(ctx, s, "alice", LogInfo, "immutable", ""); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}
	doc, _ := s.Load(ctx, "alice")
	doc.Logs[0].Message = "scribbled"

	doc2, _ := s.Load(ctx, "alice")
	if doc2.Logs[0].Message != "immutable" {
		t.Fatal("Load exposed shared state")
	}
}

func TestInvalidTenantNames(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	for _, bad := range []string{"", "..", "a/b", `a\b`} {
		if _, err := s.Load(ctx, bad); err == nil {
			t.Fatalf("Load(%q): expected error", bad)
		}
	}
}
