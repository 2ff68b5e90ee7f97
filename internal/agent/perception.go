package agent

import (
	"strings"
	"time"

	"voxelagent.ai/internal/world"
)

// Volume is a block box relative to the agent's floored position, bounds
// inclusive.
type Volume struct {
	MinX, MaxX int
	MinY, MaxY int
	MinZ, MaxZ int
}

// DefaultVolume is the 5x5x5 box from one block below the feet to three above.
func DefaultVolume() Volume {
	return Volume{MinX: -2, MaxX: 2, MinY: -1, MaxY: 3, MinZ: -2, MaxZ: 2}
}

const DefaultEntityRadius = 32.0

type NearbyEntity struct {
	world.Entity
	Distance float64 `json:"distance"`
}

type NearbyBlock struct {
	world.Block
	Distance float64 `json:"distance"`
}

// Snapshot is a point-in-time read of the world around the agent.
type Snapshot struct {
	Position    world.Vec3        `json:"position"`
	Health      float64           `json:"health"`
	Food        float64           `json:"food"`
	Saturation  float64           `json:"saturation"`
	Oxygen      float64           `json:"oxygen"`
	Environment world.Environment `json:"environment"`
	Danger      bool              `json:"danger"`
	RecentChat  []ChatEntry       `json:"recentChat"`
	Inventory   []world.Item      `json:"inventory"`
	Entities    []NearbyEntity    `json:"nearbyEntities"`
	Blocks      []NearbyBlock     `json:"nearbyBlocks"`
	TakenAt     time.Time         `json:"takenAt"`
}

// Perceive assembles a fresh snapshot. Entities are kept when strictly closer
// than entityRadius; blocks are scanned over vol. Zero values select the
// configured defaults.
func (m *Manager) Perceive(entityRadius float64, vol Volume) (Snapshot, error) {
	ls := m.live.Load()
	if ls == nil {
		return Snapshot{}, noSession("perceive")
	}
	if entityRadius <= 0 {
		entityRadius = m.opts.EntityRadius
	}
	if vol == (Volume{}) {
		vol = m.opts.Volume
	}
	self := ls.Self()
	v := ls.Vitals()
	return Snapshot{
		Position:    self.Position,
		Health:      v.Health,
		Food:        v.Food,
		Saturation:  v.Saturation,
		Oxygen:      v.Oxygen,
		Environment: ls.Environment(),
		Danger:      m.status.danger(),
		RecentChat:  m.chat.Recent(m.opts.RecentChat),
		Inventory:   nonNilItems(ls.Inventory()),
		Entities:    nearbyEntities(ls, entityRadius, nil),
		Blocks:      m.nearbyBlocks(ls, vol),
		TakenAt:     time.Now().UTC(),
	}, nil
}

func (m *Manager) Inventory() ([]world.Item, error) {
	ls := m.live.Load()
	if ls == nil {
		return nil, noSession("inventory")
	}
	return nonNilItems(ls.Inventory()), nil
}

func (m *Manager) Surroundings() ([]NearbyBlock, error) {
	ls := m.live.Load()
	if ls == nil {
		return nil, noSession("surroundings")
	}
	return m.nearbyBlocks(ls, m.opts.Volume), nil
}

// nearbyEntities scans every known entity except self, keeping those with
// distance < radius that satisfy keep (nil keeps all). Scan order is kept.
func nearbyEntities(s world.Session, radius float64, keep func(world.Entity) bool) []NearbyEntity {
	self := s.Self()
	out := []NearbyEntity{}
	for _, e := range s.Entities() {
		if e.ID == self.ID {
			continue
		}
		if keep != nil && !keep(e) {
			continue
		}
		d := self.Position.DistanceTo(e.Position)
		if d < radius {
			out = append(out, NearbyEntity{Entity: e, Distance: d})
		}
	}
	return out
}

// nearest returns the candidate with minimum distance; ties go to the first.
func nearest(es []NearbyEntity) (NearbyEntity, bool) {
	if len(es) == 0 {
		return NearbyEntity{}, false
	}
	best := es[0]
	for _, e := range es[1:] {
		if e.Distance < best.Distance {
			best = e
		}
	}
	return best, true
}

func (m *Manager) nearbyBlocks(s world.Session, vol Volume) []NearbyBlock {
	pos := s.Self().Position
	base := pos.Floored()
	out := []NearbyBlock{}
	for x := vol.MinX; x <= vol.MaxX; x++ {
		for y := vol.MinY; y <= vol.MaxY; y++ {
			for z := vol.MinZ; z <= vol.MaxZ; z++ {
				b, ok := s.BlockAt(base.Offset(float64(x), float64(y), float64(z)))
				if !ok || m.cat.IsEmptyBlock(b.Name) {
					continue
				}
				out = append(out, NearbyBlock{Block: b, Distance: pos.DistanceTo(b.Position)})
			}
		}
	}
	return out
}

func findItem(items []world.Item, name string) (world.Item, bool) {
	for _, it := range items {
		if strings.EqualFold(it.Name, name) {
			return it, true
		}
	}
	return world.Item{}, false
}

func nonNilItems(items []world.Item) []world.Item {
	if items == nil {
		return []world.Item{}
	}
	return items
}
