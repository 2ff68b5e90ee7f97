package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// Voxel encodings.
const (
	EncodingRLE   = "RLE"
	EncodingDelta = "DELTA"
)

// EncodeRLE encodes palette ids as base64 of (block_id, run_len) uvarint pairs.
func EncodeRLE(ids []uint16) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte
	for i := 0; i < len(ids); {
		b := ids[i]
		run := 1
		for i+run < len(ids) && ids[i+run] == b {
			run++
		}
		buf.Write(tmp[:binary.PutUvarint(tmp[:], uint64(b))])
		buf.Write(tmp[:binary.PutUvarint(tmp[:], uint64(run))])
		i += run
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func DecodeRLE(b64 string) ([]uint16, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	var out []uint16
	for i := 0; i < len(raw); {
		b, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if b > 0xFFFF {
			return nil, fmt.Errorf("block id too large: %d", b)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, uint16(b))
		}
	}
	return out, nil
}

// Grid is the agent's local voxel cube, kept current from OBS frames. Cells are
// stored dy outer, dz middle, dx inner, matching the server scan order.
type Grid struct {
	Center [3]int
	Radius int
	cells  []uint16
}

func gridLen(r int) int {
	d := 2*r + 1
	return d * d * d
}

// Apply folds one OBS voxel payload into the grid.
func (g *Grid) Apply(v VoxelsObs) error {
	switch v.Encoding {
	case EncodingRLE:
		ids, err := DecodeRLE(v.Data)
		if err != nil {
			return fmt.Errorf("voxels: %w", err)
		}
		if len(ids) != gridLen(v.Radius) {
			return fmt.Errorf("voxels: got %d cells for radius %d", len(ids), v.Radius)
		}
		g.cells = ids
	case EncodingDelta:
		if g.cells == nil || g.Radius != v.Radius {
			return fmt.Errorf("voxels: delta without base frame")
		}
		for _, op := range v.Ops {
			i, ok := g.index(v.Radius, op.D[0], op.D[1], op.D[2])
			if !ok {
				return fmt.Errorf("voxels: delta op out of range: %v", op.D)
			}
			g.cells[i] = op.B
		}
	case "":
		return nil
	default:
		return fmt.Errorf("voxels: unknown encoding %q", v.Encoding)
	}
	g.Center = v.Center
	g.Radius = v.Radius
	return nil
}

func (g *Grid) index(r, dx, dy, dz int) (int, bool) {
	if dx < -r || dx > r || dy < -r || dy > r || dz < -r || dz > r {
		return 0, false
	}
	d := 2*r + 1
	return (dy+r)*d*d + (dz+r)*d + (dx + r), true
}

// At returns the palette id at an absolute position, if it is inside the cube.
func (g *Grid) At(x, y, z int) (uint16, bool) {
	if g.cells == nil {
		return 0, false
	}
	i, ok := g.index(g.Radius, x-g.Center[0], y-g.Center[1], z-g.Center[2])
	if !ok {
		return 0, false
	}
	return g.cells[i], true
}
