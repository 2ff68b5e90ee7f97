package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"voxelagent.ai/internal/catalog"
	"voxelagent.ai/internal/observability"
	"voxelagent.ai/internal/world"
)

// execCore is the state shared by every Executor view: one action slot for
// the whole agent.
type execCore struct {
	slot    chan struct{}
	status  *statusBoard
	live    *atomic.Pointer[liveSession]
	cat     *catalog.Catalog
	log     *zap.Logger
	metrics *observability.Metrics
	rec     Recorder
}

func (c *execCore) release() { <-c.slot }

// Executor runs physical actions against the live session, at most one at a
// time across all views. An operator view rejects a call with
// ActionInProgress while the slot is taken; a reflex view waits for it and is
// pinned to the session it was created for.
type Executor struct {
	core   *execCore
	source string
	wait   bool
	pin    *liveSession
}

// action is a resolved request: a description for the status board and the
// effect to delegate to the session.
type action struct {
	desc string
	do   func(ctx context.Context, s world.Session) error
}

func (e Executor) run(ctx context.Context, op string, resolve func(s world.Session) (action, error)) (err error) {
	started := time.Now()
	desc := ""
	defer func() { e.core.finish(e.source, op, desc, started, err) }()

	ls, err := e.session(op)
	if err != nil {
		return err
	}
	if err := e.acquire(ctx, ls, op); err != nil {
		return err
	}
	defer e.core.release()

	a, err := resolve(ls)
	if err != nil {
		return err
	}
	desc = a.desc

	e.core.status.setAction(a.desc)
	defer e.core.status.setAction("")

	return e.await(ctx, ls, op, a.do)
}

func (e Executor) session(op string) (*liveSession, error) {
	ls := e.core.live.Load()
	if ls == nil {
		return nil, noSession(op)
	}
	if e.pin != nil && ls != e.pin {
		return nil, sessionLost(op)
	}
	if ls.ctx.Err() != nil {
		return nil, sessionLost(op)
	}
	return ls, nil
}

func (e Executor) acquire(ctx context.Context, ls *liveSession, op string) error {
	if e.wait {
		select {
		case e.core.slot <- struct{}{}:
			return nil
		case <-ls.ctx.Done():
			return sessionLost(op)
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
	}
	select {
	case e.core.slot <- struct{}{}:
		return nil
	default:
		return inProgress(op, e.core.status.currentAction())
	}
}

// await runs the effect and returns once it finishes or the session goes
// away, whichever comes first.
func (e Executor) await(ctx context.Context, ls *liveSession, op string, do func(context.Context, world.Session) error) error {
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ls.ctx, cancel)
	defer stop()

	res := make(chan error, 1)
	go func() { res <- do(opCtx, ls.Session) }()

	select {
	case err := <-res:
		switch {
		case err == nil:
			return nil
		case ls.ctx.Err() != nil:
			return sessionLost(op)
		case ctx.Err() != nil:
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
		var ae *ActionError
		if errors.As(err, &ae) {
			return err
		}
		return delegated(op, err)
	case <-ls.ctx.Done():
		return sessionLost(op)
	case <-ls.Done():
		return sessionLost(op)
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

func (c *execCore) finish(source, op, desc string, started time.Time, err error) {
	d := time.Since(started)
	rec := ActionRecord{
		ID:          uuid.NewString(),
		Op:          op,
		Source:      source,
		Description: desc,
		StartedAt:   started.UTC(),
		Duration:    d,
		OK:          err == nil,
	}
	outcome := ""
	if err != nil {
		rec.Code = CodeOf(err)
		rec.Error = err.Error()
		outcome = string(rec.Code)
		if outcome == "" {
			outcome = "error"
		}
		c.log.Info("action failed",
			zap.String("op", op),
			zap.String("source", source),
			zap.String("code", outcome),
			zap.Error(err))
	} else {
		c.log.Debug("action done", zap.String("op", op), zap.String("source", source), zap.Duration("took", d))
	}
	c.metrics.RecordAction(op, source, outcome, d)
	c.rec.RecordAction(rec)
}

// Operations.

func (e Executor) MoveTo(ctx context.Context, pos world.Vec3) error {
	return e.move(ctx, "move", "moving to "+pos.String(), pos)
}

func (e Executor) flee(ctx context.Context, pos world.Vec3) error {
	return e.move(ctx, "flee", "fleeing to "+pos.String(), pos)
}

func (e Executor) move(ctx context.Context, op, desc string, pos world.Vec3) error {
	return e.run(ctx, op, func(world.Session) (action, error) {
		return action{desc: desc, do: func(ctx context.Context, s world.Session) error {
			return s.MoveTo(ctx, world.Goal{Pos: pos})
		}}, nil
	})
}

func (e Executor) MineBlock(ctx context.Context, pos world.Vec3) error {
	return e.run(ctx, "mine", func(s world.Session) (action, error) {
		b, ok := s.BlockAt(pos)
		if !ok || e.core.cat.IsEmptyBlock(b.Name) {
			return action{}, targetNotFound("mine", "no block at %s", pos)
		}
		return action{
			desc: fmt.Sprintf("mining %s at %s", b.Name, pos),
			do:   func(ctx context.Context, s world.Session) error { return s.MineBlock(ctx, b) },
		}, nil
	})
}

// PlaceBlock places itemName against the block at pos on the given face.
func (e Executor) PlaceBlock(ctx context.Context, pos, face world.Vec3, itemName string) error {
	return e.run(ctx, "place", func(s world.Session) (action, error) {
		ref, ok := s.BlockAt(pos)
		if !ok || e.core.cat.IsEmptyBlock(ref.Name) {
			return action{}, targetNotFound("place", "no block at %s", pos)
		}
		it, ok := findItem(s.Inventory(), itemName)
		if !ok {
			return action{}, targetNotFound("place", "item %s not found in inventory", itemName)
		}
		return action{
			desc: fmt.Sprintf("placing %s at %s", it.Name, pos),
			do: func(ctx context.Context, s world.Session) error {
				if err := s.Equip(ctx, it, world.SlotHand); err != nil {
					return err
				}
				return s.PlaceBlock(ctx, ref, face, it)
			},
		}, nil
	})
}

// EquipItem moves an inventory item to dest ("" means hand).
func (e Executor) EquipItem(ctx context.Context, itemName, dest string) error {
	return e.run(ctx, "equip", func(s world.Session) (action, error) {
		slot, ok := world.ParseSlot(strings.ToLower(strings.TrimSpace(dest)))
		if !ok {
			return action{}, targetNotFound("equip", "unknown destination %q", dest)
		}
		it, ok := findItem(s.Inventory(), itemName)
		if !ok {
			return action{}, targetNotFound("equip", "item %s not found in inventory", itemName)
		}
		return action{
			desc: fmt.Sprintf("equipping %s to %s", it.Name, slot),
			do:   func(ctx context.Context, s world.Session) error { return s.Equip(ctx, it, slot) },
		}, nil
	})
}

func (e Executor) CraftItem(ctx context.Context, itemName string, count int) error {
	if count <= 0 {
		count = 1
	}
	return e.run(ctx, "craft", func(s world.Session) (action, error) {
		r, ok := s.RecipeFor(itemName)
		if !ok {
			return action{}, targetNotFound("craft", "no recipe for %s", itemName)
		}
		return action{
			desc: fmt.Sprintf("crafting %d %s", count, itemName),
			do:   func(ctx context.Context, s world.Session) error { return s.Craft(ctx, r, count) },
		}, nil
	})
}

// ConsumeItem equips a food item to hand and eats it.
func (e Executor) ConsumeItem(ctx context.Context, itemName string) error {
	return e.run(ctx, "consume", func(s world.Session) (action, error) {
		it, ok := findItem(s.Inventory(), itemName)
		if !ok {
			return action{}, targetNotFound("consume", "item %s not found in inventory", itemName)
		}
		return action{
			desc: "eating " + it.Name,
			do: func(ctx context.Context, s world.Session) error {
				if err := s.Equip(ctx, it, world.SlotHand); err != nil {
					return err
				}
				return s.Consume(ctx)
			},
		}, nil
	})
}

// AttackEntity pursues and attacks the nearest entity called name.
func (e Executor) AttackEntity(ctx context.Context, name string) error {
	return e.run(ctx, "attack", func(s world.Session) (action, error) {
		match := func(en world.Entity) bool { return strings.EqualFold(en.Name, name) }
		target, ok := nearest(nearbyEntities(s, math.Inf(1), match))
		if !ok {
			return action{}, targetNotFound("attack", "no %s nearby", name)
		}
		return attackAction(target.Entity), nil
	})
}

// attack re-resolves a previously selected entity by id and attacks it.
func (e Executor) attack(ctx context.Context, id string) error {
	return e.run(ctx, "attack", func(s world.Session) (action, error) {
		match := func(en world.Entity) bool { return en.ID == id }
		target, ok := nearest(nearbyEntities(s, math.Inf(1), match))
		if !ok {
			return action{}, targetNotFound("attack", "entity %s is gone", id)
		}
		return attackAction(target.Entity), nil
	})
}

func attackAction(target world.Entity) action {
	return action{
		desc: fmt.Sprintf("attacking %s", target.Name),
		do: func(ctx context.Context, s world.Session) error {
			return pursueAndAttack(ctx, s, target)
		},
	}
}

// pursueAndAttack closes to melee range, then strikes once.
func pursueAndAttack(ctx context.Context, s world.Session, target world.Entity) error {
	if err := s.MoveTo(ctx, world.Goal{Pos: target.Position, Range: 1}); err != nil {
		return err
	}
	return s.Attack(ctx, target)
}
