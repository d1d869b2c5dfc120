package cube

import (
	"fmt"
	"iter"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl64"
)

// strict controls whether inverted bounds passed to Box are fatal.
var strict atomic.Bool

// SetStrictBounds changes how Box treats inverted bounds. When strict is true, constructing a box with a
// minimum greater than its maximum on any axis panics. When false (the default), the bounds are swapped
// and the problem is logged, so that malformed save data does not stop a running server.
func SetStrictBounds(v bool) {
	strict.Store(v)
}

// StrictBounds reports if strict bounds checking is enabled.
func StrictBounds() bool {
	return strict.Load()
}

// BoundingBox is an axis-aligned box of blocks. Both the minimum and the maximum corner are inclusive, so a
// box with equal minimum and maximum covers exactly one block.
type BoundingBox struct {
	minX, minY, minZ int
	maxX, maxY, maxZ int
}

// Box creates a BoundingBox from the bounds passed. Bounds where a minimum exceeds the matching maximum
// are swapped unless strict bounds are enabled, in which case Box panics.
func Box(minX, minY, minZ, maxX, maxY, maxZ int) BoundingBox {
	if maxX < minX || maxY < minY || maxZ < minZ {
		msg := fmt.Sprintf("invalid bounding box data, inverted bounds for: (%v,%v,%v) -> (%v,%v,%v)", minX, minY, minZ, maxX, maxY, maxZ)
		if strict.Load() {
			panic(msg)
		}
		slog.Default().Error(msg)
		minX, maxX = min(minX, maxX), max(minX, maxX)
		minY, maxY = min(minY, maxY), max(minY, maxY)
		minZ, maxZ = min(minZ, maxZ), max(minZ, maxZ)
	}
	return BoundingBox{minX: minX, minY: minY, minZ: minZ, maxX: maxX, maxY: maxY, maxZ: maxZ}
}

// BoxAt returns a BoundingBox covering the single block at the position passed.
func BoxAt(p Pos) BoundingBox {
	return BoundingBox{minX: p[0], minY: p[1], minZ: p[2], maxX: p[0], maxY: p[1], maxZ: p[2]}
}

// FromCorners returns the smallest BoundingBox containing both positions passed.
func FromCorners(a, b Pos) BoundingBox {
	return BoundingBox{
		minX: min(a[0], b[0]), minY: min(a[1], b[1]), minZ: min(a[2], b[2]),
		maxX: max(a[0], b[0]), maxY: max(a[1], b[1]), maxZ: max(a[2], b[2]),
	}
}

// Infinite returns a BoundingBox that contains every block position.
func Infinite() BoundingBox {
	return BoundingBox{
		minX: math.MinInt32, minY: math.MinInt32, minZ: math.MinInt32,
		maxX: math.MaxInt32, maxY: math.MaxInt32, maxZ: math.MaxInt32,
	}
}

// ChunkBox returns the BoundingBox of the chunk column at chunk coordinates x and z, spanning minY to maxY.
func ChunkBox(x, z int32, minY, maxY int) BoundingBox {
	bx, bz := int(x)<<4, int(z)<<4
	return Box(bx, minY, bz, bx+15, maxY, bz+15)
}

// EncapsulatingPositions returns the smallest BoundingBox containing every position in seq. The bool
// returned is false if seq yielded no positions.
func EncapsulatingPositions(seq iter.Seq[Pos]) (BoundingBox, bool) {
	var (
		box BoundingBox
		ok  bool
	)
	for p := range seq {
		if !ok {
			box, ok = BoxAt(p), true
			continue
		}
		box = box.EncapsulatePos(p)
	}
	return box, ok
}

// EncapsulatingBoxes returns the smallest BoundingBox containing every box in seq. The bool returned is
// false if seq yielded no boxes.
func EncapsulatingBoxes(seq iter.Seq[BoundingBox]) (BoundingBox, bool) {
	var (
		box BoundingBox
		ok  bool
	)
	for b := range seq {
		if !ok {
			box, ok = b, true
			continue
		}
		box = box.Encapsulate(b)
	}
	return box, ok
}

// Min returns the minimum corner of the box.
func (box BoundingBox) Min() Pos {
	return Pos{box.minX, box.minY, box.minZ}
}

// Max returns the maximum corner of the box.
func (box BoundingBox) Max() Pos {
	return Pos{box.maxX, box.maxY, box.maxZ}
}

// MinX returns the minimum X coordinate of the box.
func (box BoundingBox) MinX() int { return box.minX }

// MinY returns the minimum Y coordinate of the box.
func (box BoundingBox) MinY() int { return box.minY }

// MinZ returns the minimum Z coordinate of the box.
func (box BoundingBox) MinZ() int { return box.minZ }

// MaxX returns the maximum X coordinate of the box.
func (box BoundingBox) MaxX() int { return box.maxX }

// MaxY returns the maximum Y coordinate of the box.
func (box BoundingBox) MaxY() int { return box.maxY }

// MaxZ returns the maximum Z coordinate of the box.
func (box BoundingBox) MaxZ() int { return box.maxZ }

// Intersects checks if the box intersects with another box. Both boxes are treated as closed intervals,
// so boxes sharing only a face still intersect.
func (box BoundingBox) Intersects(o BoundingBox) bool {
	return box.maxX >= o.minX && box.minX <= o.maxX &&
		box.maxZ >= o.minZ && box.minZ <= o.maxZ &&
		box.maxY >= o.minY && box.minY <= o.maxY
}

// IntersectsXZ checks if the box intersects with the rectangle on the XZ plane passed, ignoring the Y axis.
func (box BoundingBox) IntersectsXZ(minX, minZ, maxX, maxZ int) bool {
	return box.maxX >= minX && box.minX <= maxX && box.maxZ >= minZ && box.minZ <= maxZ
}

// Encapsulate returns the box grown so that it also contains o.
func (box BoundingBox) Encapsulate(o BoundingBox) BoundingBox {
	box.minX, box.minY, box.minZ = min(box.minX, o.minX), min(box.minY, o.minY), min(box.minZ, o.minZ)
	box.maxX, box.maxY, box.maxZ = max(box.maxX, o.maxX), max(box.maxY, o.maxY), max(box.maxZ, o.maxZ)
	return box
}

// EncapsulatePos returns the box grown so that it also contains the position passed.
func (box BoundingBox) EncapsulatePos(p Pos) BoundingBox {
	return box.Encapsulate(BoxAt(p))
}

// Moved returns the box translated by the offsets passed.
func (box BoundingBox) Moved(dx, dy, dz int) BoundingBox {
	return BoundingBox{
		minX: box.minX + dx, minY: box.minY + dy, minZ: box.minZ + dz,
		maxX: box.maxX + dx, maxY: box.maxY + dy, maxZ: box.maxZ + dz,
	}
}

// InflatedBy returns the box grown by n blocks in every direction.
func (box BoundingBox) InflatedBy(n int) BoundingBox {
	return Box(box.minX-n, box.minY-n, box.minZ-n, box.maxX+n, box.maxY+n, box.maxZ+n)
}

// IsInside checks if the position passed lies within the box, including its edges.
func (box BoundingBox) IsInside(p Pos) bool {
	return p[0] >= box.minX && p[0] <= box.maxX &&
		p[2] >= box.minZ && p[2] <= box.maxZ &&
		p[1] >= box.minY && p[1] <= box.maxY
}

// XSpan returns the number of blocks the box covers on the X axis.
func (box BoundingBox) XSpan() int {
	return box.maxX - box.minX + 1
}

// YSpan returns the number of blocks the box covers on the Y axis.
func (box BoundingBox) YSpan() int {
	return box.maxY - box.minY + 1
}

// ZSpan returns the number of blocks the box covers on the Z axis.
func (box BoundingBox) ZSpan() int {
	return box.maxZ - box.minZ + 1
}

// Center returns the centre block of the box. For even spans the position is rounded towards the
// maximum corner.
func (box BoundingBox) Center() Pos {
	return Pos{
		box.minX + box.XSpan()/2,
		box.minY + box.YSpan()/2,
		box.minZ + box.ZSpan()/2,
	}
}

// Vec3Centre returns the exact geometric centre of the blocks covered by the box.
func (box BoundingBox) Vec3Centre() mgl64.Vec3 {
	return mgl64.Vec3{
		float64(box.minX) + float64(box.XSpan())/2,
		float64(box.minY) + float64(box.YSpan())/2,
		float64(box.minZ) + float64(box.ZSpan())/2,
	}
}

// Corners returns the eight corner positions of the box.
func (box BoundingBox) Corners() [8]Pos {
	return [8]Pos{
		{box.minX, box.minY, box.minZ},
		{box.minX, box.minY, box.maxZ},
		{box.minX, box.maxY, box.minZ},
		{box.minX, box.maxY, box.maxZ},
		{box.maxX, box.minY, box.minZ},
		{box.maxX, box.minY, box.maxZ},
		{box.maxX, box.maxY, box.minZ},
		{box.maxX, box.maxY, box.maxZ},
	}
}

// IntArray returns the box in the six-integer form it is saved in.
func (box BoundingBox) IntArray() [6]int32 {
	return [6]int32{int32(box.minX), int32(box.minY), int32(box.minZ), int32(box.maxX), int32(box.maxY), int32(box.maxZ)}
}

// BoxFromInts creates a BoundingBox from its six-integer saved form. An error is returned if v does not
// hold exactly six values.
func BoxFromInts(v []int32) (BoundingBox, error) {
	if len(v) != 6 {
		return BoundingBox{}, fmt.Errorf("bounding box needs 6 values, got %v", len(v))
	}
	return Box(int(v[0]), int(v[1]), int(v[2]), int(v[3]), int(v[4]), int(v[5])), nil
}

// String converts the box to a string in the format (1,2,3) -> (4,5,6).
func (box BoundingBox) String() string {
	return fmt.Sprintf("(%v,%v,%v) -> (%v,%v,%v)", box.minX, box.minY, box.minZ, box.maxX, box.maxY, box.maxZ)
}
