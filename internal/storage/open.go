package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "sendboard/pkg/logx"
)

// Config configures the document store.
//
// Driver values:
//   - "file": one JSON document per tenant directory under Path
//   - "sqlite": single database file (optional build tag)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the per-tenant durable document store.
//
// Update applies fn atomically relative to other updates on the same tenant's
// document: read, mutate, persist happen as one step, so the scanner and a
// tenant's delivery queue may interleave safely.
type Store interface {
	Load(ctx context.Context, tenant string) (*Document, error)
	Update(ctx context.Context, tenant string, fn func(doc *Document) error) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// AppendLog appends an activity-log entry to the tenant's document.
func AppendLog(ctx context.Context, s Store, tenant string, level LogLevel, message, taskID string) error {
	return s.Update(ctx, tenant, func(doc *Document) error {
		doc.Logs = append(doc.Logs, LogEntry{
			ID:        NewID("log"),
			Timestamp: time.Now(),
			Level:     level,
			Message:   message,
			TaskID:    taskID,
		})
		return nil
	})
}
