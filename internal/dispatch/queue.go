package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sendboard/internal/schedule"
	"sendboard/internal/session"
	"sendboard/internal/storage"
	logx "sendboard/pkg/logx"
)

// Queue serializes delivery attempts for one tenant.
//
// Enqueue is cheap and never blocks: it appends to an in-memory FIFO and, if
// no drain loop is running, starts one. The drain loop pops one task at a
// time, executes the delivery, then waits the configured inter-message delay
// before the next pop, so a tenant's outbound rate stays gentle enough to not
// trip anti-automation detection on the messaging side.
type Queue struct {
	tenant   string
	store    storage.Store
	sessions SessionProvider
	log      logx.Logger
	reg      *Registry

	mu         sync.Mutex
	items      []storage.Task
	inFlight   map[string]struct{}
	processing bool
}

func newQueue(tenant string, reg *Registry) *Queue {
	return &Queue{
		tenant:   tenant,
		store:    reg.store,
		sessions: reg.sessions,
		log:      reg.log.With(logx.String("tenant", tenant)),
		reg:      reg,
		inFlight: map[string]struct{}{},
	}
}

// Enqueue appends the task unless a task with the same id is already queued or
// mid-delivery. The dedup guarantees at most one delivery attempt per task id
// at any time, even when the scanner re-discovers a task on a later tick
// while it is still awaiting drain.
func (q *Queue) Enqueue(ctx context.Context, task storage.Task) {
	q.mu.Lock()
	if _, dup := q.inFlight[task.ID]; dup {
		q.mu.Unlock()
		return
	}
	q.inFlight[task.ID] = struct{}{}
	q.items = append(q.items, task)
	start := !q.processing
	if start {
		q.processing = true
	}
	q.mu.Unlock()

	q.log.Debug("task queued", logx.String("task", task.ID), logx.Bool("drain_started", start))
	if start {
		go q.drain(ctx)
	}
}

// Len reports queued-but-undelivered tasks (for the dashboard status view).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// drain is single-flight per tenant: the processing flag ensures at most one
// loop runs at a time. It runs until the queue empties, then clears the flag
// so a future Enqueue can restart it.
func (q *Queue) drain(ctx context.Context) {
	for {
		q.mu.Lock()
		if len(q.items) == 0 || ctx.Err() != nil {
			q.processing = false
			q.mu.Unlock()
			return
		}
		task := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		q.deliver(ctx, task)

		q.mu.Lock()
		delete(q.inFlight, task.ID)
		q.mu.Unlock()

		select {
		case <-ctx.Done():
		case <-time.After(q.reg.sendDelay()):
		}
	}
}

// deliver executes one task end to end. Every error is absorbed here and
// converted into task status plus a log entry; nothing propagates to the
// drain loop, so one bad task never stalls the rest of the queue.
func (q *Queue) deliver(ctx context.Context, task storage.Task) {
	q.log.Debug("executing task", logx.String("task", task.ID), logx.String("target", task.TargetName))

	sess, err := q.sessions.Get(ctx, q.tenant)
	if err != nil {
		q.fail(ctx, task, fmt.Sprintf("session unavailable: %v", err))
		return
	}

	target, err := sess.Resolve(ctx, task.TargetType, task.TargetID, task.TargetName)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, session.ErrNotFound) {
			msg = fmt.Sprintf("Target not found: %s (%s)", task.TargetName, task.TargetID)
		}
		q.fail(ctx, task, msg)
		return
	}

	// Multi-entry content is sent batched: every entry goes out in order as
	// its own message, with the inter-message delay between entries.
	for i, content := range task.Content {
		if i > 0 {
			select {
			case <-ctx.Done():
				q.fail(ctx, task, ctx.Err().Error())
				return
			case <-time.After(q.reg.sendDelay()):
			}
		}
		if task.Kind == storage.KindFile {
			err = target.SendFile(ctx, content)
		} else {
			err = target.SendText(ctx, content)
		}
		if err != nil {
			q.fail(ctx, task, err.Error())
			return
		}
	}

	q.succeed(ctx, task)
}

// succeed marks a once task terminal, or advances a recurring task's schedule
// strictly into the future and returns it to the pending pool. The task is
// not re-enqueued here; the scanner picks it up again when it next comes due.
func (q *Queue) succeed(ctx context.Context, task storage.Task) {
	now := time.Now()
	var rescheduled time.Time

	err := q.store.Update(ctx, q.tenant, func(doc *storage.Document) error {
		t := doc.FindTask(task.ID)
		if t == nil {
			return nil
		}
		if t.Recurrence != "" && t.Recurrence != schedule.Once {
			next := schedule.Next(t.ScheduleTime, t.Recurrence, t.IntervalValue, t.IntervalUnit, now)
			if next.IsZero() {
				// Degenerate recurrence config; nothing further to schedule.
				t.Status = storage.StatusSuccess
			} else {
				t.ScheduleTime = next
				t.Status = storage.StatusPending
				rescheduled = next
			}
		} else {
			t.Status = storage.StatusSuccess
		}
		t.Error = ""
		t.UpdatedAt = &now

		rec := t.Recurrence
		if rec == "" {
			rec = schedule.Once
		}
		doc.Logs = append(doc.Logs, storage.LogEntry{
			ID:        storage.NewID("log"),
			Timestamp: now,
			Level:     storage.LogInfo,
			Message:   fmt.Sprintf("Task %s executed successfully. Recurrence: %s", t.ID, rec),
			TaskID:    t.ID,
		})
		return nil
	})
	if err != nil {
		q.log.Error("task result not persisted", logx.String("task", task.ID), logx.Err(err))
		return
	}

	if rescheduled.IsZero() {
		q.log.Info("task executed", logx.String("task", task.ID))
	} else {
		q.log.Info("task executed and rescheduled",
			logx.String("task", task.ID), logx.Time("next", rescheduled))
	}
}

// fail is terminal for the attempt: no automatic retry, the scanner never
// selects the task again because its status is no longer pending.
func (q *Queue) fail(ctx context.Context, task storage.Task, msg string) {
	now := time.Now()
	err := q.store.Update(ctx, q.tenant, func(doc *storage.Document) error {
		t := doc.FindTask(task.ID)
		if t != nil {
			t.Status = storage.StatusFailed
			t.Error = msg
			t.UpdatedAt = &now
		}
		doc.Logs = append(doc.Logs, storage.LogEntry{
			ID:        storage.NewID("log"),
			Timestamp: now,
			Level:     storage.LogError,
			Message:   fmt.Sprintf("Task %s failed: %s", task.ID, msg),
			TaskID:    task.ID,
		})
		return nil
	})
	if err != nil {
		q.log.Error("task failure not persisted", logx.String("task", task.ID), logx.Err(err))
	}
	q.log.Warn("task failed", logx.String("task", task.ID), logx.String("reason", msg))
}
