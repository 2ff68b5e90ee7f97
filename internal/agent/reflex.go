package agent

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"voxelagent.ai/internal/catalog"
	"voxelagent.ai/internal/observability"
	"voxelagent.ai/internal/world"
)

// reflexEngine consumes vital events for one session on a single goroutine,
// in arrival order. The queue is unbounded so the event pump never blocks
// behind a protocol that is waiting for the executor.
type reflexEngine struct {
	opts    Options
	cat     *catalog.Catalog
	log     *zap.Logger
	metrics *observability.Metrics
	rec     Recorder
	status  *statusBoard
	ls      *liveSession
	exec    Executor

	mu     sync.Mutex
	queue  []world.Event
	notify chan struct{}

	spawnOnce sync.Once
	spawned   chan struct{}
}

func newReflexEngine(m *Manager, ls *liveSession) *reflexEngine {
	return &reflexEngine{
		opts:    m.opts,
		cat:     m.cat,
		log:     m.log.Named("reflex"),
		metrics: m.metrics,
		rec:     m.rec,
		status:  m.status,
		ls:      ls,
		exec:    Executor{core: m.exec, source: SourceReflex, wait: true, pin: ls},
		notify:  make(chan struct{}, 1),
		spawned: make(chan struct{}),
	}
}

// wants reports whether the engine subscribes to kind.
func (r *reflexEngine) wants(kind world.EventKind) bool {
	switch kind {
	case world.EventHealth, world.EventDamage, world.EventFood:
		return true
	}
	return false
}

func (r *reflexEngine) enqueue(ev world.Event) {
	r.mu.Lock()
	r.queue = append(r.queue, ev)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *reflexEngine) markSpawned() {
	r.spawnOnce.Do(func() { close(r.spawned) })
}

func (r *reflexEngine) next(ctx context.Context) (world.Event, bool) {
	for {
		r.mu.Lock()
		if len(r.queue) > 0 {
			ev := r.queue[0]
			r.queue[0] = world.Event{}
			r.queue = r.queue[1:]
			r.mu.Unlock()
			return ev, true
		}
		r.mu.Unlock()
		select {
		case <-r.notify:
		case <-ctx.Done():
			return world.Event{}, false
		}
	}
}

func (r *reflexEngine) run(ctx context.Context) {
	select {
	case <-r.spawned:
	case <-ctx.Done():
		return
	}
	if !r.initSession(ctx) {
		return
	}
	for {
		ev, ok := r.next(ctx)
		if !ok {
			return
		}
		r.handle(ctx, ev)
	}
}

// initSession primes the movement and eating policies, then sends the login
// phrase after the configured delay. It reports false if ctx ended first.
func (r *reflexEngine) initSession(ctx context.Context) bool {
	if err := r.ls.Configure(r.opts.Movement, r.opts.AutoEat); err != nil {
		r.log.Warn("configure policies", zap.Error(err))
	}
	if r.opts.LoginPhrase != "" {
		if r.opts.LoginDelay > 0 {
			t := time.NewTimer(r.opts.LoginDelay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return false
			}
		}
		if err := r.ls.Chat("/login " + r.opts.LoginPhrase); err != nil {
			r.log.Warn("send login", zap.Error(err))
		}
	}
	r.log.Info("session initialized", zap.String("username", r.ls.username))
	return ctx.Err() == nil
}

// handle re-reads the vitals rather than trusting the event payload.
func (r *reflexEngine) handle(ctx context.Context, ev world.Event) {
	if ctx.Err() != nil {
		return
	}
	switch ev.Kind {
	case world.EventHealth:
		if r.ls.Vitals().Health < r.opts.HealthThreshold {
			r.status.setDanger(true)
			r.report(r.danger(ctx, string(ev.Kind)))
		} else if r.status.danger() {
			r.status.setDanger(false)
			r.log.Info("danger cleared")
		}
	case world.EventDamage:
		r.status.setDanger(true)
		r.report(r.danger(ctx, string(ev.Kind)))
	case world.EventFood:
		if r.ls.Vitals().Food < r.opts.FoodThreshold {
			r.report(r.hunger(ctx, string(ev.Kind)))
		}
	}
}

func (r *reflexEngine) report(rep ProtocolReport) {
	rep.Duration = time.Since(rep.StartedAt)
	failed := rep.FailedSteps()
	for _, s := range rep.Steps {
		if s.Failed() {
			r.log.Warn("reflex step failed",
				zap.String("protocol", rep.Protocol),
				zap.String("step", s.Step),
				zap.String("target", s.Target),
				zap.Error(s.Err))
		}
	}
	r.log.Info("reflex protocol",
		zap.String("protocol", rep.Protocol),
		zap.String("trigger", rep.Trigger),
		zap.String("outcome", rep.Outcome),
		zap.Int("threats", rep.Threats),
		zap.Int("failed_steps", len(failed)),
		zap.Duration("took", rep.Duration))
	r.metrics.RecordProtocol(rep.Protocol, rep.Outcome, failed)
	r.rec.RecordProtocol(rep)
}
