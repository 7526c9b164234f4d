package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	logx "sendboard/pkg/logx"
)

// Config selects the session driver for all tenants.
type Config struct {
	Driver     string
	RatePerSec int
	Telegram   TelegramConfig
}

type TelegramConfig struct {
	// Tokens maps tenant name to that tenant's bot token.
	Tokens      map[string]string
	PollTimeout time.Duration
}

// Manager owns one session per tenant, constructed lazily on first access.
// It is an explicit registry passed by injection to the scanner and the API
// layer; nothing reaches sessions through package globals.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	log      logx.Logger
	sessions map[string]Session
}

func NewManager(cfg Config, log logx.Logger) (*Manager, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "telegram", "mock", "":
	default:
		return nil, errors.New("unknown session driver: " + cfg.Driver)
	}
	return &Manager{cfg: cfg, log: log, sessions: map[string]Session{}}, nil
}

// Get returns the tenant's session, creating and starting it on first access.
// A session that fails to start is not cached, so the next call retries.
func (m *Manager) Get(ctx context.Context, tenant string) (Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[tenant]
	m.mu.Unlock()
	if ok {
		return s, nil
	}

	s, err := m.build(tenant)
	if err != nil {
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		return nil, fmt.Errorf("start session for %s: %w", tenant, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.sessions[tenant]; ok {
		// Lost a race; keep the first one.
		go func() { _ = s.Stop(context.Background()) }()
		return cached, nil
	}
	m.sessions[tenant] = s
	m.log.Info("session started", logx.String("tenant", tenant), logx.String("driver", m.driver()))
	return s, nil
}

// Restart stops and discards the tenant's session; the next Get recreates it.
func (m *Manager) Restart(ctx context.Context, tenant string) error {
	m.mu.Lock()
	s, ok := m.sessions[tenant]
	delete(m.sessions, tenant)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	m.log.Info("session restarting", logx.String("tenant", tenant))
	return s.Stop(ctx)
}

// StopAll shuts every live session down. Used on process shutdown.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	sessions := make(map[string]Session, len(m.sessions))
	for k, v := range m.sessions {
		sessions[k] = v
	}
	m.sessions = map[string]Session{}
	m.mu.Unlock()

	for tenant, s := range sessions {
		if err := s.Stop(ctx); err != nil {
			m.log.Warn("session stop failed", logx.String("tenant", tenant), logx.Err(err))
		}
	}
}

func (m *Manager) build(tenant string) (Session, error) {
	switch m.driver() {
	case "mock":
		return newMockSession(tenant, m.log), nil
	case "telegram":
		token := strings.TrimSpace(m.cfg.Telegram.Tokens[tenant])
		if token == "" {
			return nil, fmt.Errorf("no telegram token configured for tenant %s", tenant)
		}
		return newTelegramSession(tenant, token, m.cfg.Telegram.PollTimeout, m.cfg.RatePerSec, m.log), nil
	default:
		return nil, errors.New("unknown session driver: " + m.cfg.Driver)
	}
}

func (m *Manager) driver() string {
	d := strings.ToLower(strings.TrimSpace(m.cfg.Driver))
	if d == "" {
		d = "mock"
	}
	return d
}
