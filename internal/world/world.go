// Package world defines the capability surface the agent core consumes from a
// live world connection. Transport, chunk sync and path search live behind it.
package world

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Vec3 is a point (or direction) in world space.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) DistanceTo(o Vec3) float64 {
	dx, dy, dz := v.X-o.X, v.Y-o.Y, v.Z-o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

func (v Vec3) Floored() Vec3 {
	return Vec3{X: math.Floor(v.X), Y: math.Floor(v.Y), Z: math.Floor(v.Z)}
}

func (v Vec3) Offset(dx, dy, dz float64) Vec3 {
	return Vec3{X: v.X + dx, Y: v.Y + dy, Z: v.Z + dz}
}

func (v Vec3) Add(o Vec3) Vec3 { return v.Offset(o.X, o.Y, o.Z) }

func (v Vec3) String() string {
	return fmt.Sprintf("%s, %s, %s", fmtCoord(v.X), fmtCoord(v.Y), fmtCoord(v.Z))
}

func fmtCoord(f float64) string {
	if f == math.Trunc(f) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%.2f", f)
}

type Item struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
	Type  int    `json:"type"`
}

type Entity struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Position Vec3   `json:"position"`
}

type Block struct {
	Name     string `json:"name"`
	Position Vec3   `json:"position"`
}

type Environment struct {
	Time    int64  `json:"time"`
	Day     int64  `json:"day"`
	Weather string `json:"weather"`
}

type Vitals struct {
	Health     float64 `json:"health"`
	Food       float64 `json:"food"`
	Saturation float64 `json:"saturation"`
	Oxygen     float64 `json:"oxygen"`
}

// Slot is an equipment destination.
type Slot string

const (
	SlotHand  Slot = "hand"
	SlotHead  Slot = "head"
	SlotTorso Slot = "torso"
	SlotLegs  Slot = "legs"
	SlotFeet  Slot = "feet"
)

// ArmorSlots in the order armor is equipped.
var ArmorSlots = []Slot{SlotHead, SlotTorso, SlotLegs, SlotFeet}

func ParseSlot(s string) (Slot, bool) {
	switch Slot(s) {
	case "":
		return SlotHand, true
	case SlotHand, SlotHead, SlotTorso, SlotLegs, SlotFeet:
		return Slot(s), true
	default:
		return "", false
	}
}

// Goal is a movement target; the mover succeeds once within Range of Pos.
// Range 0 means the exact block.
type Goal struct {
	Pos   Vec3
	Range float64
}

// Recipe is an opaque crafting recipe handle resolved by the session.
type Recipe struct {
	ID     string `json:"id"`
	Output string `json:"output"`
}

type MovementPolicy struct {
	AllowDig       bool
	AllowSprint    bool
	MaxDropDown    int
	AllowParkour   bool
	CanOpenDoors   bool
	ScaffoldBlocks []string
}

func DefaultMovementPolicy() MovementPolicy {
	return MovementPolicy{
		AllowDig:     true,
		AllowSprint:  true,
		MaxDropDown:  4,
		AllowParkour: true,
		CanOpenDoors: true,
	}
}

type AutoEatPolicy struct {
	Priority   string
	StartAt    int
	BannedFood []string
}

func DefaultAutoEatPolicy() AutoEatPolicy {
	return AutoEatPolicy{Priority: "foodPoints", StartAt: 14, BannedFood: []string{}}
}

type EventKind string

const (
	EventSpawn  EventKind = "spawn"
	EventHealth EventKind = "health"
	EventDamage EventKind = "damage"
	EventFood   EventKind = "food"
	EventChat   EventKind = "chat"
	EventError  EventKind = "error"
	EventEnd    EventKind = "end"
)

// Event is one world notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind    EventKind
	At      time.Time
	Speaker string
	Message string
	Err     error
}

type ConnectParams struct {
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Version  string `json:"version,omitempty"`
	Password string `json:"password,omitempty"`
	Auth     string `json:"auth,omitempty"`
}

// Connector opens sessions.
type Connector interface {
	Connect(ctx context.Context, p ConnectParams) (Session, error)
}

// Session is a live connection to the world. Read accessors must be safe for
// concurrent use with the asynchronous operations. Asynchronous operations
// return once the effect completes or fails; they must return promptly after
// Close.
type Session interface {
	Events() <-chan Event
	Done() <-chan struct{}
	Close() error

	Username() string
	Self() Entity
	Vitals() Vitals
	Environment() Environment
	Inventory() []Item
	Entities() []Entity
	BlockAt(pos Vec3) (Block, bool)
	RecipeFor(item string) (Recipe, bool)

	Configure(m MovementPolicy, e AutoEatPolicy) error
	Chat(message string) error

	MoveTo(ctx context.Context, g Goal) error
	MineBlock(ctx context.Context, b Block) error
	PlaceBlock(ctx context.Context, ref Block, face Vec3, item Item) error
	Equip(ctx context.Context, item Item, slot Slot) error
	Consume(ctx context.Context) error
	Craft(ctx context.Context, r Recipe, count int) error
	Attack(ctx context.Context, target Entity) error
}
