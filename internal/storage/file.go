package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "sendboard/pkg/logx"
)

// fileStore keeps one JSON document per tenant at <root>/<tenant>/db.json.
//
// Each tenant has its own lock, so updates for one tenant serialize while
// tenants stay fully independent. Writes are atomic (tmp + rename).
type fileStore struct {
	root string
	log  logx.Logger

	mu      sync.Mutex
	tenants map[string]*tenantDoc
}

type tenantDoc struct {
	mu  sync.Mutex
	doc *Document
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	root := strings.TrimSpace(cfg.Path)
	if root == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{root: root, log: log, tenants: map[string]*tenantDoc{}}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) Load(ctx context.Context, tenant string) (*Document, error) {
	td, err := s.checkout(tenant)
	if err != nil {
		return nil, err
	}
	td.mu.Lock()
	defer td.mu.Unlock()
	if err := s.ensureLoadedLocked(tenant, td); err != nil {
		return nil, err
	}
	return td.doc.Clone(), nil
}

func (s *fileStore) Update(ctx context.Context, tenant string, fn func(doc *Document) error) error {
	td, err := s.checkout(tenant)
	if err != nil {
		return err
	}
	td.mu.Lock()
	defer td.mu.Unlock()
	if err := s.ensureLoadedLocked(tenant, td); err != nil {
		return err
	}

	// Mutate a checked-out copy; commit only replaces the cached document
	// after a successful persist, so a failed write never leaves a half
	// mutated document behind.
	next := td.doc.Clone()
	if err := fn(next); err != nil {
		return err
	}
	next.normalize()
	if err := s.persist(tenant, next); err != nil {
		return err
	}
	td.doc = next
	return nil
}

func (s *fileStore) checkout(tenant string) (*tenantDoc, error) {
	if err := validTenant(tenant); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	td, ok := s.tenants[tenant]
	if !ok {
		td = &tenantDoc{}
		s.tenants[tenant] = td
	}
	return td, nil
}

func (s *fileStore) ensureLoadedLocked(tenant string, td *tenantDoc) error {
	if td.doc != nil {
		return nil
	}
	path := s.docPath(tenant)
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		// Lazily created on first access.
		doc := &Document{}
		doc.normalize()
		td.doc = doc
		s.log.Debug("tenant document created", logx.String("tenant", tenant), logx.String("path", path))
		return nil
	}
	if err != nil {
		return err
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("tenant %s: corrupt document: %w", tenant, err)
	}
	doc.normalize()
	td.doc = &doc
	return nil
}

func (s *fileStore) persist(tenant string, doc *Document) error {
	path := s.docPath(tenant)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *fileStore) docPath(tenant string) string {
	return filepath.Join(s.root, tenant, "db.json")
}

func validTenant(tenant string) error {
	t := strings.TrimSpace(tenant)
	if t == "" {
		return errors.New("tenant is required")
	}
	// Tenant names become directory names; reject anything path-like.
	if strings.ContainsAny(t, "/\\") || t == "." || t == ".." {
		return fmt.Errorf("invalid tenant name %q", tenant)
	}
	return nil
}
