package chunk

// CPU reference implementation of the visibility kernel. The count and
// generate WGSL kernels implement the identical predicate and iteration
// order; this version backs tests and any host-side fallback path.

// IsSolid reports whether the voxel at (x, y, z) holds a non-Air material.
// Out-of-bounds positions are empty.
func (c *Chunk) IsSolid(x, y, z int) bool {
	return c.At(x, y, z) != Air
}

// IsFaceVisible reports whether the face of voxel (x, y, z) pointing in
// direction d is exposed. A neighbor outside the chunk cube always exposes
// the face: cross-chunk occlusion is deliberately not consulted, so boundary
// faces always emit. Inside the cube the face is visible iff the neighbor is
// not solid.
func (c *Chunk) IsFaceVisible(x, y, z int, d Direction) bool {
	dx, dy, dz := d.Normal()
	nx, ny, nz := x+dx, y+dy, z+dz
	if !c.InBounds(nx, ny, nz) {
		return true
	}
	return !c.IsSolid(nx, ny, nz)
}

// ForEachVisibleFace invokes fn once per visible face of the voxel at
// (x, y, z), in the fixed direction order +X, -X, +Y, -Y, +Z, -Z. A non-solid
// voxel emits nothing.
func (c *Chunk) ForEachVisibleFace(x, y, z int, fn func(Face)) {
	material := c.At(x, y, z)
	if material == Air {
		return
	}
	for d := Direction(0); d < DirectionCount; d++ {
		if c.IsFaceVisible(x, y, z, d) {
			fn(Face{
				X:         uint8(x),
				Y:         uint8(y),
				Z:         uint8(z),
				Direction: d,
				Material:  material,
			})
		}
	}
}

// CountFaces walks every voxel in linear index order and returns the total
// visible face count. Mirrors the count pass: the result sizes the mesh
// output region before generation.
func (c *Chunk) CountFaces() uint32 {
	var count uint32
	c.forEachVoxel(func(x, y, z int) {
		c.ForEachVisibleFace(x, y, z, func(Face) { count++ })
	})
	return count
}

// AppendFaces appends one record per visible face to dst and returns the
// extended slice. Mirrors the generate pass: slots are claimed by a
// monotonically advancing cursor over the same voxel and direction order as
// CountFaces, so len(result) - len(dst) always equals CountFaces().
func (c *Chunk) AppendFaces(dst []Face) []Face {
	c.forEachVoxel(func(x, y, z int) {
		c.ForEachVisibleFace(x, y, z, func(f Face) {
			dst = append(dst, f)
		})
	})
	return dst
}

// forEachVoxel visits every voxel with z outermost, matching linear index
// order.
func (c *Chunk) forEachVoxel(fn func(x, y, z int)) {
	for z := 0; z < c.size; z++ {
		for y := 0; y < c.size; y++ {
			for x := 0; x < c.size; x++ {
				fn(x, y, z)
			}
		}
	}
}
