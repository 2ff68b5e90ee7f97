package agent

import (
	"context"
	"time"

	"voxelagent.ai/internal/world"
)

const (
	ProtocolDanger = "danger"
	ProtocolHunger = "hunger"
)

// StepResult is the outcome of one best-effort protocol step.
type StepResult struct {
	Step    string `json:"step"`
	Target  string `json:"target,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
	Err     error  `json:"-"`
	Error   string `json:"error,omitempty"`
}

func (r StepResult) Failed() bool { return r.Err != nil }

// ProtocolReport aggregates one protocol run.
type ProtocolReport struct {
	Protocol  string        `json:"protocol"`
	Trigger   string        `json:"trigger"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Threats   int           `json:"threats"`
	Outcome   string        `json:"outcome"`
	Steps     []StepResult  `json:"steps"`
}

// FailedSteps lists the names of failed steps in order.
func (r ProtocolReport) FailedSteps() []string {
	var out []string
	for _, s := range r.Steps {
		if s.Failed() {
			out = append(out, s.Step)
		}
	}
	return out
}

func (r *ProtocolReport) add(step, target string, err error) {
	res := StepResult{Step: step, Target: target, Err: err}
	if err != nil {
		res.Error = err.Error()
	}
	r.Steps = append(r.Steps, res)
}

func (r *ProtocolReport) skip(step, target string) {
	r.Steps = append(r.Steps, StepResult{Step: step, Target: target, Skipped: true})
}

// Danger protocol outcomes.
const (
	OutcomeFled       = "fled"
	OutcomeFought     = "fought"
	OutcomeNoThreat   = "no_threat"
	OutcomeAte        = "ate"
	OutcomeHunted     = "hunted"
	OutcomeNoFood     = "no_food"
	OutcomeIncomplete = "incomplete"
)

// danger runs the danger protocol against the current world state.
func (r *reflexEngine) danger(ctx context.Context, trigger string) ProtocolReport {
	rep := ProtocolReport{Protocol: ProtocolDanger, Trigger: trigger, StartedAt: time.Now().UTC()}
	s := r.ls

	for _, slot := range world.ArmorSlots {
		it, ok := r.cat.BestArmor(s.Inventory(), slot)
		if !ok {
			continue
		}
		rep.add("equip_armor", it.Name, r.exec.EquipItem(ctx, it.Name, string(slot)))
	}

	hostiles := r.hostiles()
	rep.Threats = len(hostiles)
	switch {
	case len(hostiles) > r.opts.MaxFightHostiles:
		// Re-read: the pack may have moved or despawned while armor went on.
		enemy, ok := nearest(r.hostiles())
		if !ok {
			rep.skip("flee", "")
			rep.Outcome = OutcomeNoThreat
			break
		}
		dest := fleePoint(s.Self().Position, enemy.Position)
		rep.add("flee", dest.String(), r.exec.flee(ctx, dest))
		rep.Outcome = OutcomeFled
	case len(hostiles) > 0:
		r.armAndAttack(ctx, &rep, hostiles)
		rep.Outcome = OutcomeFought
	default:
		rep.Outcome = OutcomeNoThreat
	}
	if len(rep.FailedSteps()) > 0 && rep.Outcome != OutcomeNoThreat {
		rep.Outcome = OutcomeIncomplete
	}
	return rep
}

// hunger runs the hunger protocol: eat if possible, else hunt.
func (r *reflexEngine) hunger(ctx context.Context, trigger string) ProtocolReport {
	rep := ProtocolReport{Protocol: ProtocolHunger, Trigger: trigger, StartedAt: time.Now().UTC()}

	if food, ok := r.cat.FirstFood(r.ls.Inventory()); ok {
		err := r.exec.ConsumeItem(ctx, food.Name)
		rep.add("eat", food.Name, err)
		if err == nil {
			rep.Outcome = OutcomeAte
			return rep
		}
	} else {
		rep.skip("eat", "")
	}

	animals := nearbyEntities(r.ls, r.opts.HuntRadius, func(e world.Entity) bool { return r.cat.IsAnimal(e.Name) })
	rep.Threats = len(animals)
	if len(animals) == 0 {
		rep.skip("hunt", "")
		rep.Outcome = OutcomeNoFood
		return rep
	}
	r.armAndAttack(ctx, &rep, animals)
	rep.Outcome = OutcomeHunted
	if len(rep.FailedSteps()) > 0 {
		rep.Outcome = OutcomeIncomplete
	}
	return rep
}

// armAndAttack equips the best weapon, then pursues and attacks the nearest
// candidate. Both steps run regardless of the other's outcome.
func (r *reflexEngine) armAndAttack(ctx context.Context, rep *ProtocolReport, candidates []NearbyEntity) {
	if w, ok := r.cat.BestWeapon(r.ls.Inventory()); ok {
		rep.add("equip_weapon", w.Name, r.exec.EquipItem(ctx, w.Name, string(world.SlotHand)))
	} else {
		rep.skip("equip_weapon", "")
	}
	target, _ := nearest(candidates)
	rep.add("attack", target.Name, r.exec.attack(ctx, target.ID))
}

func (r *reflexEngine) hostiles() []NearbyEntity {
	return nearbyEntities(r.ls, r.opts.DangerRadius, func(e world.Entity) bool { return r.cat.IsHostile(e.Name) })
}

// fleePoint extrapolates twice the horizontal offset from the enemy; height is
// kept.
func fleePoint(self, enemy world.Vec3) world.Vec3 {
	return self.Offset((self.X-enemy.X)*2, 0, (self.Z-enemy.Z)*2)
}
