package scanner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"sendboard/internal/session"
	"sendboard/internal/storage"
	logx "sendboard/pkg/logx"
)

const defaultInterval = 10 * time.Second

// TenantSource enumerates the tenants whose documents get scanned.
type TenantSource interface {
	Names() []string
}

// SessionProvider yields a tenant's messaging session.
type SessionProvider interface {
	Get(ctx context.Context, tenant string) (session.Session, error)
}

// TaskSink receives due tasks; the dispatch registry implements it.
type TaskSink interface {
	Dispatch(ctx context.Context, tenant string, task storage.Task)
}

type Config struct {
	Enabled  bool
	Interval time.Duration
}

// Service periodically sweeps every tenant's document for pending tasks whose
// schedule time has arrived and hands them to the dispatcher. The sweep is the
// only producer for the delivery queues; queue-side dedup makes it safe for a
// task to be rediscovered on consecutive ticks.
type Service struct {
	store    storage.Store
	tenants  TenantSource
	sessions SessionProvider
	sink     TaskSink
	log      logx.Logger

	mu      sync.Mutex
	cfg     Config
	runner  *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

func New(cfg Config, store storage.Store, tenants TenantSource, sessions SessionProvider, sink TaskSink, log logx.Logger) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	return &Service{
		store:    store,
		tenants:  tenants,
		sessions: sessions,
		sink:     sink,
		log:      log.With(logx.String("svc", "scanner")),
		cfg:      cfg,
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if !s.cfg.Enabled {
		s.log.Info("scanner disabled")
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	if err := s.startRunnerLocked(); err != nil {
		s.cancel()
		return err
	}
	s.started = true
	s.log.Info("scanner started", logx.Duration("interval", s.cfg.Interval))

	// First sweep right away; the cron schedule only fires after one interval.
	go s.tick(s.ctx)
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	s.cancel()

	done := s.runner.Stop().Done()
	s.runner = nil
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("scanner stopped")
	return nil
}

// Apply installs a new configuration. An interval change restarts the cron
// schedule; toggling Enabled while running is not supported and takes effect
// on the next process start.
func (s *Service) Apply(cfg Config) error {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := cfg.Interval != s.cfg.Interval
	s.cfg = cfg
	if !s.started || !changed {
		return nil
	}

	<-s.runner.Stop().Done()
	if err := s.startRunnerLocked(); err != nil {
		return err
	}
	s.log.Info("scan interval updated", logx.Duration("interval", cfg.Interval))
	return nil
}

// startRunnerLocked builds and starts a fresh cron runner. Caller holds mu.
func (s *Service) startRunnerLocked() error {
	c := cron.New()
	spec := fmt.Sprintf("@every %s", s.cfg.Interval)
	if _, err := c.AddFunc(spec, func() { s.tick(s.ctx) }); err != nil {
		return fmt.Errorf("schedule scan job: %w", err)
	}
	c.Start()
	s.runner = c
	return nil
}

// tick sweeps all tenants. Per-tenant failures are logged and skipped; one
// tenant's broken session or document never blocks another's deliveries.
func (s *Service) tick(ctx context.Context) {
	for _, tenant := range s.tenants.Names() {
		if ctx.Err() != nil {
			return
		}
		s.scanTenant(ctx, tenant)
	}
}

func (s *Service) scanTenant(ctx context.Context, tenant string) {
	sess, err := s.sessions.Get(ctx, tenant)
	if err != nil {
		s.log.Debug("session unavailable, tenant skipped",
			logx.String("tenant", tenant), logx.Err(err))
		return
	}
	if !sess.Ready() {
		s.log.Debug("session not ready, tenant skipped", logx.String("tenant", tenant))
		return
	}

	doc, err := s.store.Load(ctx, tenant)
	if err != nil {
		s.log.Warn("document load failed", logx.String("tenant", tenant), logx.Err(err))
		return
	}

	now := time.Now()
	due := 0
	for _, task := range doc.Tasks {
		if task.Status != storage.StatusPending || task.ScheduleTime.After(now) {
			continue
		}
		s.sink.Dispatch(ctx, tenant, task)
		due++
	}
	if due > 0 {
		s.log.Debug("due tasks dispatched", logx.String("tenant", tenant), logx.Int("count", due))
	}
}
