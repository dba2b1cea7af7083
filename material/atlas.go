// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package material

import (
	"fmt"
	"image"
	"image/draw"
	"sort"

	xdraw "golang.org/x/image/draw"
)

// DefaultTileSize is the edge length tiles are rescaled to when BuildAtlas
// is called with tileSize 0.
const DefaultTileSize = 16

// Atlas is a square texture holding one tile per textured material, laid
// out on a power-of-two grid, plus a mip chain down to 1x1 tiles.
type Atlas struct {
	// Image is the base level. Mips[0] is the base as well; Mips[i] halves
	// the previous level.
	Image *image.RGBA
	Mips  []*image.RGBA

	// TileSize is the edge length of one tile at the base level.
	TileSize int

	// TilesPerRow is the grid width in tiles.
	TilesPerRow int

	// Index maps material id to its tile slot, row-major.
	Index map[uint32]int
}

// UV returns the normalized texture rectangle of a material's tile at the
// base level, or false if the material has no tile in the atlas.
func (a *Atlas) UV(id uint32) (u0, v0, u1, v1 float32, ok bool) {
	slot, ok := a.Index[id]
	if !ok {
		return 0, 0, 0, 0, false
	}
	step := 1 / float32(a.TilesPerRow)
	x := slot % a.TilesPerRow
	y := slot / a.TilesPerRow
	return float32(x) * step, float32(y) * step,
		float32(x+1) * step, float32(y+1) * step, true
}

// BuildAtlas packs the tiles of every textured material into one image.
// Materials without a Tile get a solid tile of their flat color, so every
// registered id has a slot. Tiles that do not match tileSize are rescaled
// with CatmullRom. tileSize 0 selects DefaultTileSize; other values must be
// a power of two so the mip chain stays tile-aligned.
func (r *Registry) BuildAtlas(tileSize int) (*Atlas, error) {
	if tileSize == 0 {
		tileSize = DefaultTileSize
	}
	if tileSize < 1 || tileSize&(tileSize-1) != 0 {
		return nil, fmt.Errorf("%w: tile size %d is not a power of two", ErrBadTile, tileSize)
	}

	r.mu.RLock()
	ids := make([]uint32, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	mats := make(map[uint32]Material, len(r.byID))
	for id, m := range r.byID {
		mats[id] = m
	}
	r.mu.RUnlock()

	// Deterministic slot order.
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	perRow := 1
	for perRow*perRow < len(ids) {
		perRow *= 2
	}
	if len(ids) == 0 {
		perRow = 1
	}

	base := image.NewRGBA(image.Rect(0, 0, perRow*tileSize, perRow*tileSize))
	index := make(map[uint32]int, len(ids))
	for slot, id := range ids {
		m := mats[id]
		dst := tileRect(slot, perRow, tileSize)
		if m.Tile == nil {
			draw.Draw(base, dst, image.NewUniform(m.Color), image.Point{}, draw.Src)
		} else {
			b := m.Tile.Bounds()
			if b.Dx() != b.Dy() || b.Dx() == 0 {
				return nil, fmt.Errorf("%w: material %d tile is %dx%d", ErrBadTile, id, b.Dx(), b.Dy())
			}
			if b.Dx() == tileSize {
				draw.Draw(base, dst, m.Tile, b.Min, draw.Src)
			} else {
				xdraw.CatmullRom.Scale(base, dst, m.Tile, b, xdraw.Src, nil)
			}
		}
		index[id] = slot
	}

	a := &Atlas{
		Image:       base,
		TileSize:    tileSize,
		TilesPerRow: perRow,
		Index:       index,
	}
	a.Mips = buildMips(base, tileSize)
	return a, nil
}

// buildMips halves the base image until tiles reach 1x1. Each level is
// resampled with ApproxBiLinear, which averages the 2x2 footprint and keeps
// tile boundaries aligned because tile sizes are powers of two.
func buildMips(base *image.RGBA, tileSize int) []*image.RGBA {
	mips := []*image.RGBA{base}
	prev := base
	for ts := tileSize; ts > 1; ts /= 2 {
		b := prev.Bounds()
		next := image.NewRGBA(image.Rect(0, 0, b.Dx()/2, b.Dy()/2))
		xdraw.ApproxBiLinear.Scale(next, next.Bounds(), prev, b, xdraw.Src, nil)
		mips = append(mips, next)
		prev = next
	}
	return mips
}

func tileRect(slot, perRow, tileSize int) image.Rectangle {
	x := (slot % perRow) * tileSize
	y := (slot / perRow) * tileSize
	return image.Rect(x, y, x+tileSize, y+tileSize)
}
