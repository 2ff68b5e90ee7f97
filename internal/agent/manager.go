// Package agent is the control loop of an embodied world agent: it owns the
// world session, serializes physical actions, answers perception reads and
// runs the danger and hunger reflexes.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"voxelagent.ai/internal/catalog"
	"voxelagent.ai/internal/logging"
	"voxelagent.ai/internal/observability"
	"voxelagent.ai/internal/world"
)

type Options struct {
	HealthThreshold  float64
	FoodThreshold    float64
	DangerRadius     float64
	HuntRadius       float64
	MaxFightHostiles int

	EntityRadius float64
	Volume       Volume

	LoginPhrase string
	LoginDelay  time.Duration

	ChatCapacity int
	RecentChat   int

	Movement world.MovementPolicy
	AutoEat  world.AutoEatPolicy

	// Defaults fill unset fields of the params given to Start.
	Defaults world.ConnectParams
}

func DefaultOptions() Options {
	return Options{
		HealthThreshold:  10,
		FoodThreshold:    10,
		DangerRadius:     10,
		HuntRadius:       20,
		MaxFightHostiles: 3,
		EntityRadius:     DefaultEntityRadius,
		Volume:           DefaultVolume(),
		LoginDelay:       2 * time.Second,
		ChatCapacity:     DefaultChatCapacity,
		RecentChat:       DefaultRecentChat,
		Movement:         world.DefaultMovementPolicy(),
		AutoEat:          world.DefaultAutoEatPolicy(),
		Defaults: world.ConnectParams{
			Host:     "localhost",
			Port:     25565,
			Username: "AliceBot",
			Auth:     "offline",
		},
	}
}

// normalized fills unset fields from DefaultOptions. LoginPhrase and
// LoginDelay are taken as given.
func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.HealthThreshold <= 0 {
		o.HealthThreshold = d.HealthThreshold
	}
	if o.FoodThreshold <= 0 {
		o.FoodThreshold = d.FoodThreshold
	}
	if o.DangerRadius <= 0 {
		o.DangerRadius = d.DangerRadius
	}
	if o.HuntRadius <= 0 {
		o.HuntRadius = d.HuntRadius
	}
	if o.MaxFightHostiles <= 0 {
		o.MaxFightHostiles = d.MaxFightHostiles
	}
	if o.EntityRadius <= 0 {
		o.EntityRadius = d.EntityRadius
	}
	if o.Volume == (Volume{}) {
		o.Volume = d.Volume
	}
	if o.ChatCapacity <= 0 {
		o.ChatCapacity = d.ChatCapacity
	}
	if o.RecentChat <= 0 {
		o.RecentChat = d.RecentChat
	}
	if o.AutoEat.Priority == "" {
		o.AutoEat = d.AutoEat
	}
	return o
}

type Config struct {
	Options   Options
	Connector world.Connector
	Catalog   *catalog.Catalog
	Logger    *zap.Logger
	Metrics   *observability.Metrics
	Recorder  Recorder
}

// liveSession is one connected world session and the goroutines serving it.
type liveSession struct {
	world.Session
	username string
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Manager owns the single world session. Start and Stop are serialized; reads
// and actions go through the atomically published live session.
type Manager struct {
	opts      Options
	connector world.Connector
	cat       *catalog.Catalog
	log       *zap.Logger
	metrics   *observability.Metrics
	rec       Recorder

	status *statusBoard
	chat   *ChatLog
	exec   *execCore

	live atomic.Pointer[liveSession]

	mu  sync.Mutex
	cur *liveSession

	// dialing cancels the connect of an in-flight Start.
	dialMu  sync.Mutex
	dialing context.CancelFunc
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Connector == nil {
		return nil, errors.New("agent: nil connector")
	}
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.Default()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	log := logging.OrNop(cfg.Logger)

	m := &Manager{
		opts:      cfg.Options.normalized(),
		connector: cfg.Connector,
		cat:       cfg.Catalog,
		log:       log.Named("lifecycle"),
		metrics:   cfg.Metrics,
		rec:       cfg.Recorder,
		status:    newStatusBoard(),
	}
	m.chat = NewChatLog(m.opts.ChatCapacity)
	m.status.onConn = func(c ConnState) { m.metrics.SetSessionState(string(c)) }
	m.status.onDanger = m.metrics.SetDanger
	m.exec = &execCore{
		slot:    make(chan struct{}, 1),
		status:  m.status,
		live:    &m.live,
		cat:     m.cat,
		log:     log.Named("executor"),
		metrics: m.metrics,
		rec:     m.rec,
	}
	m.metrics.SetSessionState(string(Disconnected))
	return m, nil
}

// Actions returns the operator view of the executor. Calls made while another
// action runs fail with ActionInProgress.
func (m *Manager) Actions() Executor {
	return Executor{core: m.exec, source: SourceOperator}
}

func (m *Manager) Catalog() *catalog.Catalog { return m.cat }

func (m *Manager) Chat() *ChatLog { return m.chat }

// StatusReport is the status read exposed to operators.
type StatusReport struct {
	Status
	SessionExists bool   `json:"sessionExists"`
	Username      string `json:"username,omitempty"`
	ChatCount     int    `json:"chatCount"`
}

func (m *Manager) Status() StatusReport {
	r := StatusReport{Status: m.status.get(), ChatCount: m.chat.Len()}
	if ls := m.live.Load(); ls != nil {
		r.SessionExists = true
		r.Username = ls.username
	}
	return r
}

// Start opens a new session, tearing down any existing one first. It returns
// once the session is open; the state becomes Connected when the world
// confirms the spawn. A concurrent Stop aborts the connect.
func (m *Manager) Start(ctx context.Context, p world.ConnectParams) error {
	p = m.withDefaults(p)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur != nil {
		m.log.Info("replacing existing session")
		m.teardownLocked()
	}

	m.status.setConn(Connecting)
	cctx, cancel := context.WithCancel(ctx)
	m.setDialing(cancel)
	sess, err := m.connector.Connect(cctx, p)
	m.setDialing(nil)
	cancel()
	if err != nil {
		m.status.setLastError(err.Error())
		m.status.setConn(Disconnected)
		m.log.Error("connect", zap.String("host", p.Host), zap.Int("port", p.Port), zap.Error(err))
		return fmt.Errorf("connect %s:%d: %w", p.Host, p.Port, err)
	}

	lctx, cancel := context.WithCancel(context.Background())
	ls := &liveSession{Session: sess, username: sess.Username(), ctx: lctx, cancel: cancel}
	if ls.username == "" {
		ls.username = p.Username
	}
	m.status.setLastError("")
	m.cur = ls
	m.live.Store(ls)

	reflex := newReflexEngine(m, ls)
	ls.wg.Add(2)
	go func() {
		defer ls.wg.Done()
		m.pump(ls, reflex)
	}()
	go func() {
		defer ls.wg.Done()
		reflex.run(ls.ctx)
	}()

	m.log.Info("session opened", zap.String("username", ls.username), zap.String("host", p.Host), zap.Int("port", p.Port))
	return nil
}

func (m *Manager) setDialing(cancel context.CancelFunc) {
	m.dialMu.Lock()
	m.dialing = cancel
	m.dialMu.Unlock()
}

// Stop tears down the current session. It is a no-op without one. An action
// in flight fails with SessionUnavailable; a connect in flight is aborted.
func (m *Manager) Stop() {
	m.dialMu.Lock()
	if m.dialing != nil {
		m.dialing()
	}
	m.dialMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return
	}
	m.teardownLocked()
	m.log.Info("session stopped")
}

func (m *Manager) teardownLocked() {
	ls := m.cur
	m.cur = nil
	m.live.CompareAndSwap(ls, nil)
	ls.cancel()
	_ = ls.Close()
	ls.wg.Wait()
	m.status.setDanger(false)
	m.status.setConn(Disconnected)
}

// Say sends a chat line. It is not an executor action.
func (m *Manager) Say(message string) error {
	ls := m.live.Load()
	if ls == nil {
		return noSession("chat")
	}
	if err := ls.Chat(message); err != nil {
		return delegated("chat", err)
	}
	return nil
}

func (m *Manager) withDefaults(p world.ConnectParams) world.ConnectParams {
	d := m.opts.Defaults
	if p.Host == "" {
		p.Host = d.Host
	}
	if p.Port == 0 {
		p.Port = d.Port
	}
	if p.Username == "" {
		p.Username = d.Username
	}
	if p.Version == "" {
		p.Version = d.Version
	}
	if p.Password == "" {
		p.Password = d.Password
	}
	if p.Auth == "" {
		p.Auth = d.Auth
	}
	return p
}

// pump routes session events until the session ends or is torn down.
func (m *Manager) pump(ls *liveSession, reflex *reflexEngine) {
	for {
		select {
		case <-ls.ctx.Done():
			return
		case <-ls.Done():
			m.detach(ls, "session closed")
			return
		case ev, ok := <-ls.Events():
			if !ok {
				m.detach(ls, "event stream closed")
				return
			}
			m.metrics.RecordEvent(string(ev.Kind))
			switch {
			case ev.Kind == world.EventSpawn:
				m.status.setConn(Connected)
				reflex.markSpawned()
			case ev.Kind == world.EventChat:
				m.ingestChat(ls, ev)
			case ev.Kind == world.EventError:
				msg := ev.Message
				if ev.Err != nil {
					msg = ev.Err.Error()
				}
				m.status.setLastError(msg)
				m.log.Error("session error", zap.String("error", msg))
			case ev.Kind == world.EventEnd:
				m.detach(ls, ev.Message)
				return
			case reflex.wants(ev.Kind):
				reflex.enqueue(ev)
			}
		}
	}
}

func (m *Manager) ingestChat(ls *liveSession, ev world.Event) {
	if strings.EqualFold(ev.Speaker, ls.username) {
		return
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	m.chat.Append(ChatEntry{Speaker: ev.Speaker, Message: ev.Message, Timestamp: at.UTC()})
	m.metrics.RecordChat()
}

// detach handles a session that ended on its own. Only the session that is
// still published is detached; a concurrent Stop owns the teardown otherwise.
func (m *Manager) detach(ls *liveSession, reason string) {
	if !m.live.CompareAndSwap(ls, nil) {
		return
	}
	ls.cancel()
	_ = ls.Close()
	m.status.setDanger(false)
	m.status.setConn(Disconnected)
	m.log.Warn("session ended", zap.String("reason", reason))
	go m.reap(ls)
}

// reap joins a detached session's goroutines, then releases it unless Start
// or Stop already did. A reflex handler still running at detach may have
// raised danger again; it is cleared once that handler is gone.
func (m *Manager) reap(ls *liveSession) {
	ls.wg.Wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur != ls {
		return
	}
	m.cur = nil
	m.status.setDanger(false)
}

// Close stops the current session.
func (m *Manager) Close() error {
	m.Stop()
	return nil
}
