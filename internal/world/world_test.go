package world

import (
	"math"
	"testing"
)

func TestVec3Distance(t *testing.T) {
	a := Vec3{X: 0, Y: 0, Z: 0}
	b := Vec3{X: 3, Y: 4, Z: 12}
	if d := a.DistanceTo(b); d != 13 {
		t.Fatalf("distance: got %v want 13", d)
	}
	if d := b.DistanceTo(a); d != 13 {
		t.Fatalf("distance not symmetric: %v", d)
	}
}

func TestVec3Floored(t *testing.T) {
	got := Vec3{X: 1.7, Y: -0.2, Z: -3.5}.Floored()
	want := Vec3{X: 1, Y: -1, Z: -4}
	if got != want {
		t.Fatalf("floored: got %+v want %+v", got, want)
	}
}

func TestVec3String(t *testing.T) {
	if s := (Vec3{X: 1, Y: 64, Z: -3}).String(); s != "1, 64, -3" {
		t.Fatalf("string: %q", s)
	}
	if s := (Vec3{X: 0.5, Y: 2, Z: math.Pi}).String(); s != "0.50, 2, 3.14" {
		t.Fatalf("string: %q", s)
	}
}

func TestParseSlot(t *testing.T) {
	if s, ok := ParseSlot(""); !ok || s != SlotHand {
		t.Fatalf("empty slot should default to hand, got %q %v", s, ok)
	}
	for _, s := range []Slot{SlotHand, SlotHead, SlotTorso, SlotLegs, SlotFeet} {
		if got, ok := ParseSlot(string(s)); !ok || got != s {
			t.Fatalf("parse %q: got %q %v", s, got, ok)
		}
	}
	if _, ok := ParseSlot("offhand"); ok {
		t.Fatalf("expected unknown slot rejected")
	}
}
