//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	logx "sendboard/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps every tenant document as a JSON blob in one table.
// Updates run inside a transaction on a single-connection pool, which gives
// the read-modify-write atomicity the delivery core relies on.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Load(ctx context.Context, tenant string) (*Document, error) {
	if err := validTenant(tenant); err != nil {
		return nil, err
	}
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM documents WHERE tenant = ?`, tenant).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		doc := &Document{}
		doc.normalize()
		return doc, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeDocument(tenant, raw)
}

func (s *sqliteStore) Update(ctx context.Context, tenant string, fn func(doc *Document) error) error {
	if err := validTenant(tenant); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	doc := &Document{}
	var raw string
	err = tx.QueryRowContext(ctx, `SELECT doc FROM documents WHERE tenant = ?`, tenant).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		doc.normalize()
	case err != nil:
		return err
	default:
		doc, err = decodeDocument(tenant, raw)
		if err != nil {
			return err
		}
	}

	if err := fn(doc); err != nil {
		return err
	}
	doc.normalize()

	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents(tenant, doc) VALUES(?,?)
		 ON CONFLICT(tenant) DO UPDATE SET doc=excluded.doc`,
		tenant, string(b),
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func decodeDocument(tenant, raw string) (*Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("tenant %s: corrupt document: %w", tenant, err)
	}
	doc.normalize()
	return &doc, nil
}
