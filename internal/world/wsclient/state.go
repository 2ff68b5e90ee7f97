package wsclient

import (
	"strings"

	"voxelagent.ai/internal/protocol"
	"voxelagent.ai/internal/world"
)

const defaultDayTicks = 24000

// state is the agent's view of the world as of the last OBS.
type state struct {
	tick      uint64
	spawned   bool
	self      world.Entity
	vitals    world.Vitals
	env       world.Environment
	inventory []world.Item
	entities  []world.Entity
	grid      protocol.Grid
}

func newState(agentID, username string) state {
	return state{self: world.Entity{ID: agentID, Name: username, Type: "agent"}}
}

// apply folds o into the state and returns the events it implies: spawn on the
// first frame, then health and food whenever they change.
func (st *state) apply(o protocol.ObsMsg, dayTicks int) []world.Event {
	if dayTicks <= 0 {
		dayTicks = defaultDayTicks
	}
	prev := st.vitals
	first := !st.spawned

	st.tick = o.Tick
	st.spawned = true
	st.self.Position = vec(o.Self.Pos)
	st.vitals = world.Vitals{
		Health:     float64(o.Self.HP),
		Food:       float64(o.Self.Hunger),
		Saturation: o.Self.Saturation,
		Oxygen:     float64(o.Self.Oxygen),
	}
	st.env = world.Environment{
		Time:    int64(o.World.TimeOfDay * float64(dayTicks)),
		Day:     int64(o.World.SeasonDay),
		Weather: strings.ToLower(o.World.Weather),
	}

	st.inventory = st.inventory[:0]
	for _, it := range o.Inventory {
		if it.Count <= 0 {
			continue
		}
		st.inventory = append(st.inventory, world.Item{Name: strings.ToLower(it.Item), Count: it.Count})
	}

	st.entities = st.entities[:0]
	for _, e := range o.Entities {
		if e.ID == st.self.ID {
			continue
		}
		// Agent names are usernames and keep their case.
		name := e.Name
		if name == "" {
			name = e.Type
		}
		if !strings.EqualFold(e.Type, "agent") {
			name = strings.ToLower(name)
		}
		st.entities = append(st.entities, world.Entity{
			ID:       e.ID,
			Name:     name,
			Type:     strings.ToLower(e.Type),
			Position: vec(e.Pos),
		})
	}

	var out []world.Event
	if first {
		out = append(out, world.Event{Kind: world.EventSpawn})
	}
	if first || st.vitals.Health != prev.Health {
		out = append(out, world.Event{Kind: world.EventHealth})
	}
	if first || st.vitals.Food != prev.Food {
		out = append(out, world.Event{Kind: world.EventFood})
	}
	return out
}

func vec(p [3]int) world.Vec3 {
	return world.Vec3{X: float64(p[0]), Y: float64(p[1]), Z: float64(p[2])}
}
