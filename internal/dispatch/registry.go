package dispatch

import (
	"context"
	"sync"
	"time"

	"sendboard/internal/session"
	"sendboard/internal/storage"
	logx "sendboard/pkg/logx"
)

const defaultSendDelay = 500 * time.Millisecond

// SessionProvider hands the queue a tenant's session at delivery time, so a
// restarted session is picked up by the very next delivery.
type SessionProvider interface {
	Get(ctx context.Context, tenant string) (session.Session, error)
}

type Config struct {
	// SendDelay is the fixed pause between outbound messages of one tenant.
	SendDelay time.Duration
}

// Registry owns one Queue per tenant, created lazily on first access. It is
// constructed by the process root and passed by injection to the scanner and
// the API layer.
type Registry struct {
	store    storage.Store
	sessions SessionProvider
	log      logx.Logger

	mu     sync.Mutex
	cfg    Config
	queues map[string]*Queue
}

func NewRegistry(cfg Config, store storage.Store, sessions SessionProvider, log logx.Logger) *Registry {
	if cfg.SendDelay <= 0 {
		cfg.SendDelay = defaultSendDelay
	}
	return &Registry{
		store:    store,
		sessions: sessions,
		log:      log,
		cfg:      cfg,
		queues:   map[string]*Queue{},
	}
}

// Apply updates live-reloadable settings; running drain loops pick the new
// delay up on their next wait.
func (r *Registry) Apply(cfg Config) {
	if cfg.SendDelay <= 0 {
		cfg.SendDelay = defaultSendDelay
	}
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

// ForTenant returns the tenant's queue, creating it on first access.
func (r *Registry) ForTenant(tenant string) *Queue {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[tenant]
	if !ok {
		q = newQueue(tenant, r)
		r.queues[tenant] = q
	}
	return q
}

// Dispatch enqueues the task on its tenant's queue.
func (r *Registry) Dispatch(ctx context.Context, tenant string, task storage.Task) {
	r.ForTenant(tenant).Enqueue(ctx, task)
}

func (r *Registry) sendDelay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.SendDelay
}
