// Package catalog holds the static classification tables used for target and
// equipment selection. A Catalog is immutable once built and safe to share.
package catalog

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"voxelagent.ai/internal/world"
)

//go:embed default.json
var defaultRaw []byte

// File is the on-disk shape of a catalog (JSON or YAML).
type File struct {
	Hostile        []string            `yaml:"hostile" json:"hostile"`
	Animal         []string            `yaml:"animal" json:"animal"`
	Food           []string            `yaml:"food" json:"food"`
	EmptyBlocks    []string            `yaml:"empty_blocks" json:"empty_blocks"`
	WeaponSuffixes []string            `yaml:"weapon_suffixes" json:"weapon_suffixes"`
	ArmorSuffixes  map[string][]string `yaml:"armor_suffixes" json:"armor_suffixes"`
	Weapons        map[string]int      `yaml:"weapons" json:"weapons"`
	Armor          map[string]int      `yaml:"armor" json:"armor"`
}

type Catalog struct {
	hostile map[string]struct{}
	animal  map[string]struct{}
	food    map[string]struct{}
	empty   map[string]struct{}

	weaponSuffixes []string
	armorSuffixes  map[world.Slot][]string

	weapons map[string]int
	armor   map[string]int

	digest string
}

// Default returns the built-in tables.
func Default() *Catalog {
	c, err := Parse(defaultRaw)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded default: %v", err))
	}
	return c
}

// Parse builds a catalog from a JSON or YAML document.
func Parse(raw []byte) (*Catalog, error) {
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return build(f, sha256Hex(raw))
}

// Load reads an override file and merges it over the built-in tables: set
// entries are added, score entries replace the default score for that name.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var base File
	if err := yaml.Unmarshal(defaultRaw, &base); err != nil {
		return nil, fmt.Errorf("embedded default: %w", err)
	}
	var over File
	if err := yaml.Unmarshal(raw, &over); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	merged := merge(base, over)
	return build(merged, sha256Hex(append(append([]byte{}, defaultRaw...), raw...)))
}

func merge(base, over File) File {
	out := base
	out.Hostile = append(append([]string{}, base.Hostile...), over.Hostile...)
	out.Animal = append(append([]string{}, base.Animal...), over.Animal...)
	out.Food = append(append([]string{}, base.Food...), over.Food...)
	out.EmptyBlocks = append(append([]string{}, base.EmptyBlocks...), over.EmptyBlocks...)
	out.WeaponSuffixes = append(append([]string{}, base.WeaponSuffixes...), over.WeaponSuffixes...)

	out.ArmorSuffixes = map[string][]string{}
	for k, v := range base.ArmorSuffixes {
		out.ArmorSuffixes[k] = append([]string{}, v...)
	}
	for k, v := range over.ArmorSuffixes {
		out.ArmorSuffixes[k] = append(out.ArmorSuffixes[k], v...)
	}
	out.Weapons = mergeScores(base.Weapons, over.Weapons)
	out.Armor = mergeScores(base.Armor, over.Armor)
	return out
}

func mergeScores(a, b map[string]int) map[string]int {
	out := make(map[string]int, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func build(f File, digest string) (*Catalog, error) {
	c := &Catalog{
		hostile:       toSet(f.Hostile),
		animal:        toSet(f.Animal),
		food:          toSet(f.Food),
		empty:         toSet(f.EmptyBlocks),
		armorSuffixes: map[world.Slot][]string{},
		weapons:       map[string]int{},
		armor:         map[string]int{},
		digest:        digest,
	}
	for _, s := range f.WeaponSuffixes {
		if s = norm(s); s != "" {
			c.weaponSuffixes = append(c.weaponSuffixes, s)
		}
	}
	for k, v := range f.ArmorSuffixes {
		slot, ok := world.ParseSlot(norm(k))
		if !ok || slot == world.SlotHand {
			return nil, fmt.Errorf("catalog: armor_suffixes: bad slot %q", k)
		}
		for _, s := range v {
			if s = norm(s); s != "" {
				c.armorSuffixes[slot] = append(c.armorSuffixes[slot], s)
			}
		}
	}
	for k, v := range f.Weapons {
		if v < 0 {
			return nil, fmt.Errorf("catalog: weapons: negative score for %q", k)
		}
		c.weapons[norm(k)] = v
	}
	for k, v := range f.Armor {
		if v < 0 {
			return nil, fmt.Errorf("catalog: armor: negative score for %q", k)
		}
		c.armor[norm(k)] = v
	}
	return c, nil
}

func toSet(names []string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n = norm(n); n != "" {
			out[n] = struct{}{}
		}
	}
	return out
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (c *Catalog) Digest() string { return c.digest }

func (c *Catalog) IsHostile(name string) bool { return has(c.hostile, name) }
func (c *Catalog) IsAnimal(name string) bool  { return has(c.animal, name) }
func (c *Catalog) IsFood(name string) bool    { return has(c.food, name) }

// IsEmptyBlock reports whether a block name denotes an empty cell. The empty
// name always counts as empty.
func (c *Catalog) IsEmptyBlock(name string) bool {
	return norm(name) == "" || has(c.empty, name)
}

func has(set map[string]struct{}, name string) bool {
	_, ok := set[norm(name)]
	return ok
}

// WeaponScore returns the configured score, or 0 for unknown names.
func (c *Catalog) WeaponScore(name string) int { return c.weapons[norm(name)] }

// ArmorScore returns the configured score, or 0 for unknown names.
func (c *Catalog) ArmorScore(name string) int { return c.armor[norm(name)] }

func (c *Catalog) IsWeapon(name string) bool {
	n := norm(name)
	if _, ok := c.weapons[n]; ok {
		return true
	}
	return hasSuffix(n, c.weaponSuffixes)
}

// ArmorSlotOf returns the body slot an armor piece goes to.
func (c *Catalog) ArmorSlotOf(name string) (world.Slot, bool) {
	n := norm(name)
	for _, slot := range world.ArmorSlots {
		if hasSuffix(n, c.armorSuffixes[slot]) {
			return slot, true
		}
	}
	return "", false
}

func hasSuffix(name string, suffixes []string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

// BestWeapon picks the weapon with the highest score. Ties go to the first
// candidate in inventory order.
func (c *Catalog) BestWeapon(items []world.Item) (world.Item, bool) {
	return best(items, c.IsWeapon, c.WeaponScore)
}

// BestArmor picks the highest scoring piece for slot, same tie rule as BestWeapon.
func (c *Catalog) BestArmor(items []world.Item, slot world.Slot) (world.Item, bool) {
	fits := func(name string) bool {
		s, ok := c.ArmorSlotOf(name)
		return ok && s == slot
	}
	return best(items, fits, c.ArmorScore)
}

// FirstFood returns the first food item in inventory order.
func (c *Catalog) FirstFood(items []world.Item) (world.Item, bool) {
	for _, it := range items {
		if c.IsFood(it.Name) {
			return it, true
		}
	}
	return world.Item{}, false
}

func best(items []world.Item, candidate func(string) bool, score func(string) int) (world.Item, bool) {
	var (
		out   world.Item
		top   int
		found bool
	)
	for _, it := range items {
		if !candidate(it.Name) {
			continue
		}
		s := score(it.Name)
		if !found || s > top {
			out, top, found = it, s, true
		}
	}
	return out, found
}

// Summary is a sorted dump of the tables, for diagnostics.
type Summary struct {
	Digest  string         `json:"digest" yaml:"digest"`
	Hostile []string       `json:"hostile" yaml:"hostile"`
	Animal  []string       `json:"animal" yaml:"animal"`
	Food    []string       `json:"food" yaml:"food"`
	Weapons map[string]int `json:"weapons" yaml:"weapons"`
	Armor   map[string]int `json:"armor" yaml:"armor"`
}

func (c *Catalog) Summary() Summary {
	return Summary{
		Digest:  c.digest,
		Hostile: sortedKeys(c.hostile),
		Animal:  sortedKeys(c.animal),
		Food:    sortedKeys(c.food),
		Weapons: mergeScores(c.weapons, nil),
		Armor:   mergeScores(c.armor, nil),
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
