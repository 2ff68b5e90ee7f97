// Package worldtest provides a scripted in-memory world.Session for tests.
package worldtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"voxelagent.ai/internal/world"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("worldtest: session closed")

// Op names recorded in the call log.
const (
	OpConfigure = "configure"
	OpChat      = "chat"
	OpMove      = "move"
	OpMine      = "mine"
	OpPlace     = "place"
	OpEquip     = "equip"
	OpConsume   = "consume"
	OpCraft     = "craft"
	OpAttack    = "attack"
)

// Call is one recorded capability invocation. Only the fields relevant to Op
// are set.
type Call struct {
	Op      string
	Goal    world.Goal
	Block   world.Block
	Face    world.Vec3
	Item    world.Item
	Slot    world.Slot
	Recipe  world.Recipe
	Count   int
	Target  world.Entity
	Message string
}

func (c Call) String() string {
	switch c.Op {
	case OpMove:
		return fmt.Sprintf("move %s r=%g", c.Goal.Pos, c.Goal.Range)
	case OpEquip:
		return fmt.Sprintf("equip %s %s", c.Item.Name, c.Slot)
	case OpAttack:
		return fmt.Sprintf("attack %s#%s", c.Target.Name, c.Target.ID)
	case OpChat:
		return "chat " + c.Message
	default:
		return c.Op
	}
}

type hold struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

// Session is a fake world session. The zero value is not usable; use New.
type Session struct {
	mu sync.Mutex

	username    string
	self        world.Entity
	vitals      world.Vitals
	env         world.Environment
	inventory   []world.Item
	entities    []world.Entity
	entityReads [][]world.Entity
	blocks      map[world.Vec3]world.Block
	recipes     map[string]world.Recipe
	errs        map[string]error
	holds       map[string]*hold
	calls       []Call
	movementSet *world.MovementPolicy
	autoEatSet  *world.AutoEatPolicy

	events    chan world.Event
	done      chan struct{}
	closeOnce sync.Once
}

func New(username string) *Session {
	return &Session{
		username: username,
		self:     world.Entity{ID: "self", Name: username, Type: "player"},
		vitals:   world.Vitals{Health: 20, Food: 20, Saturation: 5, Oxygen: 20},
		env:      world.Environment{Time: 6000, Day: 1, Weather: "clear"},
		blocks:   map[world.Vec3]world.Block{},
		recipes:  map[string]world.Recipe{},
		errs:     map[string]error{},
		holds:    map[string]*hold{},
		events:   make(chan world.Event, 256),
		done:     make(chan struct{}),
	}
}

// Scripting.

func (s *Session) SetPosition(p world.Vec3) {
	s.mu.Lock()
	s.self.Position = p
	s.mu.Unlock()
}

func (s *Session) SetVitals(v world.Vitals) {
	s.mu.Lock()
	s.vitals = v
	s.mu.Unlock()
}

func (s *Session) SetHealth(h float64) {
	s.mu.Lock()
	s.vitals.Health = h
	s.mu.Unlock()
}

func (s *Session) SetFood(f float64) {
	s.mu.Lock()
	s.vitals.Food = f
	s.mu.Unlock()
}

func (s *Session) SetInventory(items ...world.Item) {
	s.mu.Lock()
	s.inventory = append([]world.Item(nil), items...)
	s.mu.Unlock()
}

func (s *Session) SetEntities(es ...world.Entity) {
	s.mu.Lock()
	s.entities = append([]world.Entity(nil), es...)
	s.mu.Unlock()
}

// QueueEntities scripts successive Entities reads: each read consumes the
// next list, and the last one stays once the queue is drained.
func (s *Session) QueueEntities(reads ...[]world.Entity) {
	s.mu.Lock()
	s.entityReads = append(s.entityReads, reads...)
	s.mu.Unlock()
}

func (s *Session) SetBlock(name string, pos world.Vec3) {
	s.mu.Lock()
	s.blocks[pos] = world.Block{Name: name, Position: pos}
	s.mu.Unlock()
}

func (s *Session) SetRecipe(item string, r world.Recipe) {
	s.mu.Lock()
	s.recipes[strings.ToLower(item)] = r
	s.mu.Unlock()
}

// FailOn makes every later call of op fail with err. A nil err clears it.
func (s *Session) FailOn(op string, err error) {
	s.mu.Lock()
	if err == nil {
		delete(s.errs, op)
	} else {
		s.errs[op] = err
	}
	s.mu.Unlock()
}

// Hold makes the next calls of op block until release is called, the call's
// context ends, or the session closes. entered is closed once a call is
// blocked.
func (s *Session) Hold(op string) (entered <-chan struct{}, release func()) {
	h := &hold{entered: make(chan struct{}), release: make(chan struct{})}
	s.mu.Lock()
	s.holds[op] = h
	s.mu.Unlock()
	return h.entered, func() {
		s.mu.Lock()
		if s.holds[op] == h {
			delete(s.holds, op)
		}
		s.mu.Unlock()
		close(h.release)
	}
}

// Emit delivers an event to the consumer. It gives up once the session is
// closed.
func (s *Session) Emit(ev world.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Calls returns a copy of the call log.
func (s *Session) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsOf filters the call log by op.
func (s *Session) CallsOf(op string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Ops returns the call log as strings, useful in assertion messages.
func (s *Session) Ops() []string {
	calls := s.Calls()
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.String())
	}
	return out
}

func (s *Session) Configured() (world.MovementPolicy, world.AutoEatPolicy, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.movementSet == nil || s.autoEatSet == nil {
		return world.MovementPolicy{}, world.AutoEatPolicy{}, false
	}
	return *s.movementSet, *s.autoEatSet, true
}

func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// world.Session

func (s *Session) Events() <-chan world.Event { return s.events }
func (s *Session) Done() <-chan struct{}      { return s.done }

func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *Session) Username() string { return s.username }

func (s *Session) Self() world.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

func (s *Session) Vitals() world.Vitals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vitals
}

func (s *Session) Environment() world.Environment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.env
}

func (s *Session) Inventory() []world.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]world.Item(nil), s.inventory...)
}

func (s *Session) Entities() []world.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entityReads) > 0 {
		s.entities = s.entityReads[0]
		s.entityReads = s.entityReads[1:]
	}
	out := append([]world.Entity(nil), s.entities...)
	return append(out, s.self)
}

func (s *Session) BlockAt(pos world.Vec3) (world.Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.blocks[pos]; ok {
		return b, true
	}
	return world.Block{Name: "air", Position: pos}, true
}

func (s *Session) RecipeFor(item string) (world.Recipe, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recipes[strings.ToLower(item)]
	return r, ok
}

func (s *Session) Configure(m world.MovementPolicy, e world.AutoEatPolicy) error {
	err := s.invoke(context.Background(), Call{Op: OpConfigure})
	s.mu.Lock()
	s.movementSet, s.autoEatSet = &m, &e
	s.mu.Unlock()
	return err
}

func (s *Session) Chat(message string) error {
	return s.invoke(context.Background(), Call{Op: OpChat, Message: message})
}

func (s *Session) MoveTo(ctx context.Context, g world.Goal) error {
	return s.invoke(ctx, Call{Op: OpMove, Goal: g})
}

func (s *Session) MineBlock(ctx context.Context, b world.Block) error {
	return s.invoke(ctx, Call{Op: OpMine, Block: b})
}

func (s *Session) PlaceBlock(ctx context.Context, ref world.Block, face world.Vec3, item world.Item) error {
	return s.invoke(ctx, Call{Op: OpPlace, Block: ref, Face: face, Item: item})
}

func (s *Session) Equip(ctx context.Context, item world.Item, slot world.Slot) error {
	return s.invoke(ctx, Call{Op: OpEquip, Item: item, Slot: slot})
}

func (s *Session) Consume(ctx context.Context) error {
	return s.invoke(ctx, Call{Op: OpConsume})
}

func (s *Session) Craft(ctx context.Context, r world.Recipe, count int) error {
	return s.invoke(ctx, Call{Op: OpCraft, Recipe: r, Count: count})
}

func (s *Session) Attack(ctx context.Context, target world.Entity) error {
	return s.invoke(ctx, Call{Op: OpAttack, Target: target})
}

func (s *Session) invoke(ctx context.Context, c Call) error {
	if s.Closed() {
		return ErrClosed
	}
	s.mu.Lock()
	s.calls = append(s.calls, c)
	err := s.errs[c.Op]
	h := s.holds[c.Op]
	s.mu.Unlock()

	if h != nil {
		h.once.Do(func() { close(h.entered) })
		select {
		case <-h.release:
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return ErrClosed
		}
	}
	return err
}
