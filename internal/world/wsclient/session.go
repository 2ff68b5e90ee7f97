package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voxelagent.ai/internal/protocol"
	"voxelagent.ai/internal/world"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("wsclient: session closed")

// RejectedError is a server-side refusal of an instant or task. Its message
// is the server's, verbatim.
type RejectedError struct {
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

type result struct {
	ok      bool
	code    string
	message string
}

// Session is a live world connection.
type Session struct {
	cfg      Config
	log      *zap.Logger
	username string

	conn    *websocket.Conn
	writeMu sync.Mutex

	events    chan world.Event
	done      chan struct{}
	closeOnce sync.Once
	firstObs  chan struct{}
	firstOnce sync.Once

	mu       sync.RWMutex
	welcome  protocol.WelcomeMsg
	st       state
	pending  map[string]chan result
	palette  []string
	recipes  map[string]world.Recipe
	mainHand string
}

func newSession(cfg Config, log *zap.Logger, conn *websocket.Conn, username string, w protocol.WelcomeMsg) *Session {
	return &Session{
		cfg:       cfg,
		log:       log.With(zap.String("agent_id", w.AgentID)),
		username:  username,
		conn:      conn,
		events:    make(chan world.Event, 256),
		done:      make(chan struct{}),
		firstObs:  make(chan struct{}),
		welcome:   w,
		st:        newState(w.AgentID, username),
		pending:   map[string]chan result{},
		recipes:   map[string]world.Recipe{},
	}
}

func (s *Session) Events() <-chan world.Event { return s.events }
func (s *Session) Done() <-chan struct{}      { return s.done }
func (s *Session) Username() string           { return s.username }

func (s *Session) Close() error {
	s.shutdown()
	return nil
}

func (s *Session) shutdown() bool {
	first := false
	s.closeOnce.Do(func() {
		first = true
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	return first
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) emit(ev world.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Session) readLoop() {
	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed() {
				return
			}
			reason := err.Error()
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Text != "" {
				reason = ce.Text
			}
			s.log.Warn("connection lost", zap.Error(err))
			s.emit(world.Event{Kind: world.EventEnd, Message: reason})
			s.shutdown()
			return
		}
		s.handleFrame(msg)
	}
}

func (s *Session) handleFrame(msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		s.emit(world.Event{Kind: world.EventError, Err: fmt.Errorf("bad frame: %w", err)})
		return
	}
	switch base.Type {
	case protocol.TypeCatalog:
		var c protocol.CatalogMsg
		if err := json.Unmarshal(msg, &c); err != nil {
			s.emit(world.Event{Kind: world.EventError, Err: fmt.Errorf("bad catalog: %w", err)})
			return
		}
		if err := s.applyCatalog(c); err != nil {
			s.emit(world.Event{Kind: world.EventError, Err: err})
		}
	case protocol.TypeObs:
		var o protocol.ObsMsg
		if err := json.Unmarshal(msg, &o); err != nil {
			s.emit(world.Event{Kind: world.EventError, Err: fmt.Errorf("bad obs: %w", err)})
			return
		}
		s.applyObs(o)
	}
}

func (s *Session) applyCatalog(c protocol.CatalogMsg) error {
	switch strings.ToLower(strings.TrimSpace(c.Name)) {
	case protocol.CatalogBlockPalette:
		var names []string
		if err := json.Unmarshal(c.Data, &names); err != nil {
			return fmt.Errorf("block palette: %w", err)
		}
		for i := range names {
			names[i] = strings.ToLower(names[i])
		}
		s.mu.Lock()
		s.palette = names
		s.mu.Unlock()
	case protocol.CatalogRecipes:
		var defs []protocol.RecipeDef
		if err := json.Unmarshal(c.Data, &defs); err != nil {
			return fmt.Errorf("recipes: %w", err)
		}
		recipes := make(map[string]world.Recipe, len(defs))
		for _, d := range defs {
			if len(d.Outputs) == 0 {
				continue
			}
			out := strings.ToLower(d.Outputs[0].Item)
			if _, dup := recipes[out]; dup {
				continue
			}
			recipes[out] = world.Recipe{ID: d.RecipeID, Output: out}
		}
		s.mu.Lock()
		s.recipes = recipes
		s.mu.Unlock()
	}
	return nil
}

func (s *Session) applyObs(o protocol.ObsMsg) {
	s.mu.Lock()
	if o.AgentID != "" {
		s.st.self.ID = o.AgentID
	}
	gridErr := s.st.grid.Apply(o.Voxels)
	derived := s.st.apply(o, s.welcome.WorldParams.DayTicks)
	s.mainHand = strings.ToLower(o.Equipment.MainHand)
	if s.mainHand == "none" {
		s.mainHand = ""
	}
	s.mu.Unlock()

	s.firstOnce.Do(func() { close(s.firstObs) })

	if gridErr != nil {
		s.emit(world.Event{Kind: world.EventError, Err: gridErr})
	}
	for _, ev := range derived {
		s.emit(ev)
	}
	for _, e := range o.Events {
		s.applyEvent(e)
	}
}

// applyEvent resolves pending operations and forwards damage and chat.
func (s *Session) applyEvent(e protocol.Event) {
	switch e.Str("type") {
	case protocol.EventActionResult:
		s.resolve(e.Str("ref"), result{ok: e.Bool("ok"), code: e.Str("code"), message: e.Str("message")})
	case protocol.EventTaskDone:
		s.resolve(e.Str("task_id"), result{ok: true})
	case protocol.EventTaskFail:
		s.resolve(e.Str("task_id"), result{code: e.Str("code"), message: e.Str("message")})
	case protocol.EventDamage:
		s.emit(world.Event{Kind: world.EventDamage, Message: e.Str("kind")})
	case protocol.EventChat:
		from := e.Str("from_name")
		if from == "" {
			from = s.nameOf(e.Str("from"))
		}
		s.emit(world.Event{Kind: world.EventChat, Speaker: from, Message: e.Str("text")})
	}
}

func (s *Session) nameOf(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id == s.st.self.ID {
		return s.username
	}
	for _, e := range s.st.entities {
		if e.ID == id && e.Name != "" {
			return e.Name
		}
	}
	return id
}

func (s *Session) resolve(ref string, r result) {
	if ref == "" {
		return
	}
	s.mu.Lock()
	ch, ok := s.pending[ref]
	delete(s.pending, ref)
	s.mu.Unlock()
	if ok {
		ch <- r
	}
}

// Reads.

func (s *Session) Self() world.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.self
}

func (s *Session) Vitals() world.Vitals {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.vitals
}

func (s *Session) Environment() world.Environment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.env
}

func (s *Session) Inventory() []world.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]world.Item(nil), s.st.inventory...)
}

func (s *Session) Entities() []world.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]world.Entity, 0, len(s.st.entities)+1)
	out = append(out, s.st.entities...)
	return append(out, s.st.self)
}

// BlockAt reports false outside the observed cube or before the palette is
// known.
func (s *Session) BlockAt(pos world.Vec3) (world.Block, bool) {
	p := pos.Floored()
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.st.grid.At(int(p.X), int(p.Y), int(p.Z))
	if !ok || int(id) >= len(s.palette) {
		return world.Block{}, false
	}
	return world.Block{Name: s.palette[id], Position: p}, true
}

func (s *Session) RecipeFor(item string) (world.Recipe, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recipes[strings.ToLower(item)]
	return r, ok
}

// Fire-and-forget instants.

func (s *Session) Configure(m world.MovementPolicy, e world.AutoEatPolicy) error {
	params := map[string]interface{}{
		"allow_dig":       m.AllowDig,
		"allow_sprint":    m.AllowSprint,
		"max_drop_down":   m.MaxDropDown,
		"allow_parkour":   m.AllowParkour,
		"can_open_doors":  m.CanOpenDoors,
		"scaffold_blocks": nonNil(m.ScaffoldBlocks),
		"auto_eat": map[string]interface{}{
			"priority":    e.Priority,
			"start_at":    e.StartAt,
			"banned_food": nonNil(e.BannedFood),
		},
	}
	return s.send(context.Background(), []protocol.InstantReq{{ID: newID("I"), Type: protocol.InstantPolicy, Params: params}}, nil, nil)
}

func (s *Session) Chat(message string) error {
	return s.send(context.Background(), []protocol.InstantReq{{ID: newID("I"), Type: protocol.InstantSay, Channel: "LOCAL", Text: message}}, nil, nil)
}

// Acknowledged operations.

func (s *Session) MoveTo(ctx context.Context, g world.Goal) error {
	return s.task(ctx, protocol.TaskReq{Type: protocol.TaskMoveTo, Target: cell(g.Pos), Tolerance: g.Range})
}

func (s *Session) MineBlock(ctx context.Context, b world.Block) error {
	return s.task(ctx, protocol.TaskReq{Type: protocol.TaskMine, BlockPos: cell(b.Position)})
}

// PlaceBlock places item into the cell adjacent to ref across face.
func (s *Session) PlaceBlock(ctx context.Context, ref world.Block, face world.Vec3, item world.Item) error {
	return s.task(ctx, protocol.TaskReq{Type: protocol.TaskPlace, BlockPos: cell(ref.Position.Add(face)), ItemID: item.Name})
}

func (s *Session) Craft(ctx context.Context, r world.Recipe, count int) error {
	return s.task(ctx, protocol.TaskReq{Type: protocol.TaskCraft, RecipeID: r.ID, Count: count})
}

func (s *Session) Equip(ctx context.Context, item world.Item, slot world.Slot) error {
	return s.instant(ctx, protocol.InstantReq{Type: protocol.InstantEquip, ItemID: item.Name, Slot: string(slot)})
}

// Consume eats whatever is in hand.
func (s *Session) Consume(ctx context.Context) error {
	s.mu.RLock()
	hand := s.mainHand
	s.mu.RUnlock()
	if hand == "" {
		return &RejectedError{Code: protocol.ErrNoResource, Message: "nothing in hand"}
	}
	return s.instant(ctx, protocol.InstantReq{Type: protocol.InstantEat, ItemID: hand, Count: 1})
}

func (s *Session) Attack(ctx context.Context, target world.Entity) error {
	return s.instant(ctx, protocol.InstantReq{Type: protocol.InstantAttack, TargetID: target.ID})
}

func (s *Session) instant(ctx context.Context, in protocol.InstantReq) error {
	in.ID = newID("I")
	return s.await(ctx, in.ID, false, func() error {
		return s.send(ctx, []protocol.InstantReq{in}, nil, nil)
	})
}

func (s *Session) task(ctx context.Context, t protocol.TaskReq) error {
	t.ID = newID("K")
	return s.await(ctx, t.ID, true, func() error {
		return s.send(ctx, nil, []protocol.TaskReq{t}, nil)
	})
}

// await registers id, sends, and blocks until the server answers, ctx ends
// or the session closes. An abandoned task is cancelled on the server.
func (s *Session) await(ctx context.Context, id string, cancellable bool, send func() error) error {
	ch := make(chan result, 1)
	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()
	forget := func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}

	if err := send(); err != nil {
		forget()
		return err
	}
	select {
	case r := <-ch:
		if r.ok {
			return nil
		}
		code := protocol.NormalizeCode(r.code)
		s.log.Debug("act rejected", zap.String("id", id), zap.String("code", code), zap.Bool("target", protocol.IsTargetCode(code)))
		return &RejectedError{Code: code, Message: r.message}
	case <-ctx.Done():
		forget()
		if cancellable && !s.closed() {
			if err := s.send(context.Background(), nil, nil, []string{id}); err != nil {
				s.log.Debug("cancel task", zap.String("id", id), zap.Error(err))
			}
		}
		return ctx.Err()
	case <-s.done:
		forget()
		return ErrClosed
	}
}

// send addresses an ACT at the latest observed tick, waiting briefly for the
// first OBS if none has arrived yet.
func (s *Session) send(ctx context.Context, instants []protocol.InstantReq, tasks []protocol.TaskReq, cancel []string) error {
	tick, agentID, err := s.waitForFirstObs(ctx)
	if err != nil {
		return err
	}
	b, err := json.Marshal(protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		Tick:            tick,
		AgentID:         agentID,
		Instants:        instants,
		Tasks:           tasks,
		Cancel:          cancel,
	})
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed() {
		return ErrClosed
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Session) waitForFirstObs(ctx context.Context) (uint64, string, error) {
	t := time.NewTimer(s.cfg.FirstObsTimeout)
	defer t.Stop()
	select {
	case <-s.firstObs:
	case <-ctx.Done():
		return 0, "", ctx.Err()
	case <-s.done:
		return 0, "", ErrClosed
	case <-t.C:
		return 0, "", fmt.Errorf("timeout waiting for obs")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.tick, s.st.self.ID, nil
}

func newID(prefix string) string { return prefix + "_" + uuid.NewString() }

func cell(v world.Vec3) [3]int {
	return [3]int{int(math.Floor(v.X)), int(math.Floor(v.Y)), int(math.Floor(v.Z))}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
