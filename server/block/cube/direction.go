package cube

import "fmt"

// Direction represents a direction towards one of the horizontal axes of the world.
type Direction int

const (
	// North represents the north direction, towards the negative Z.
	North Direction = iota
	// East represents the east direction, towards the positive X.
	East
	// South represents the south direction, towards the positive Z.
	South
	// West represents the west direction, towards the negative X.
	West
)

// Horizontal2D returns the legacy two-dimensional data value of the direction, as stored in the 'O' field
// of saved structure pieces: south=0, west=1, north=2, east=3.
func (d Direction) Horizontal2D() int32 {
	switch d {
	case South:
		return 0
	case West:
		return 1
	case North:
		return 2
	default:
		return 3
	}
}

// DirectionFrom2D returns the Direction matching the two-dimensional data value passed. The bool returned
// is false if the value does not represent a direction, such as -1.
func DirectionFrom2D(v int32) (Direction, bool) {
	switch v {
	case 0:
		return South, true
	case 1:
		return West, true
	case 2:
		return North, true
	case 3:
		return East, true
	}
	return 0, false
}

// RotateRight rotates the direction 90 degrees to the right horizontally and returns the new direction.
func (d Direction) RotateRight() Direction {
	return (d + 1) % 4
}

// RotateLeft rotates the direction 90 degrees to the left horizontally and returns the new direction.
func (d Direction) RotateLeft() Direction {
	return (d + 3) % 4
}

// Opposite returns the opposite direction.
func (d Direction) Opposite() Direction {
	return (d + 2) % 4
}

// String returns the Direction as a string.
func (d Direction) String() string {
	switch d {
	case North:
		return "north"
	case East:
		return "east"
	case South:
		return "south"
	case West:
		return "west"
	}
	panic("invalid direction")
}

// Rotation is a clockwise rotation applied to a structure template around the Y axis.
type Rotation uint8

const (
	RotationNone Rotation = iota
	Clockwise90
	Clockwise180
	CounterClockwise90
)

// Rotations returns all rotations in clockwise order.
func Rotations() []Rotation {
	return []Rotation{RotationNone, Clockwise90, Clockwise180, CounterClockwise90}
}

// Rotate rotates the direction passed by the Rotation.
func (r Rotation) Rotate(d Direction) Direction {
	switch r {
	case Clockwise90:
		return d.RotateRight()
	case Clockwise180:
		return d.Opposite()
	case CounterClockwise90:
		return d.RotateLeft()
	}
	return d
}

// String returns the name the Rotation is saved under.
func (r Rotation) String() string {
	switch r {
	case Clockwise90:
		return "CLOCKWISE_90"
	case Clockwise180:
		return "CLOCKWISE_180"
	case CounterClockwise90:
		return "COUNTERCLOCKWISE_90"
	}
	return "NONE"
}

// ParseRotation parses a Rotation from the name it is saved under. An empty name is parsed as RotationNone.
func ParseRotation(s string) (Rotation, error) {
	switch s {
	case "", "NONE":
		return RotationNone, nil
	case "CLOCKWISE_90":
		return Clockwise90, nil
	case "CLOCKWISE_180":
		return Clockwise180, nil
	case "COUNTERCLOCKWISE_90":
		return CounterClockwise90, nil
	}
	return RotationNone, fmt.Errorf("unknown rotation %q", s)
}

// Mirror is a reflection applied to a structure template before it is rotated.
type Mirror uint8

const (
	MirrorNone Mirror = iota
	// MirrorLeftRight flips the template along the Z axis.
	MirrorLeftRight
	// MirrorFrontBack flips the template along the X axis.
	MirrorFrontBack
)

// String returns the name the Mirror is saved under.
func (m Mirror) String() string {
	switch m {
	case MirrorLeftRight:
		return "LEFT_RIGHT"
	case MirrorFrontBack:
		return "FRONT_BACK"
	}
	return "NONE"
}

// ParseMirror parses a Mirror from the name it is saved under. An empty name is parsed as MirrorNone.
func ParseMirror(s string) (Mirror, error) {
	switch s {
	case "", "NONE":
		return MirrorNone, nil
	case "LEFT_RIGHT":
		return MirrorLeftRight, nil
	case "FRONT_BACK":
		return MirrorFrontBack, nil
	}
	return MirrorNone, fmt.Errorf("unknown mirror %q", s)
}

// Transform mirrors and then rotates the template-local position passed around pivot. The Y coordinate is
// never changed.
func Transform(p Pos, m Mirror, r Rotation, pivot Pos) Pos {
	x, y, z := p[0], p[1], p[2]
	mirrored := true
	switch m {
	case MirrorLeftRight:
		z = -z
	case MirrorFrontBack:
		x = -x
	default:
		mirrored = false
	}
	px, pz := pivot[0], pivot[2]
	switch r {
	case CounterClockwise90:
		return Pos{px - pz + z, y, px + pz - x}
	case Clockwise90:
		return Pos{px + pz - z, y, pz - px + x}
	case Clockwise180:
		return Pos{px + px - x, y, pz + pz - z}
	}
	if mirrored {
		return Pos{x, y, z}
	}
	return p
}
