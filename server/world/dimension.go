package world

import (
	"github.com/df-mc/strata/server/block/cube"
)

// Dimension is a dimension of a World. The dimension decides the height range of the world, the key its
// chunks are saved under and which legacy structure data may exist for it.
type Dimension interface {
	// Range returns the lowest and highest valid Y coordinates of a block in the Dimension.
	Range() cube.Range
	// EncodeDimension returns the ID under which chunks of the Dimension are stored.
	EncodeDimension() int
	String() string
}

var (
	// Overworld is the Dimension implementation of a normal overworld. It has a blue sky under normal
	// circumstances and has a sun, clouds, stars and a moon.
	Overworld overworld
	// Nether is a Dimension implementation with a lower base light level and a darker sky without sun/moon.
	Nether nether
	// End is a Dimension implementation with a dark sky.
	End end
)

type (
	overworld struct{}
	nether    struct{}
	end       struct{}
)

func (overworld) Range() cube.Range { return cube.Range{-64, 319} }
func (overworld) EncodeDimension() int { return 0 }
func (overworld) String() string { return "Overworld" }
func (nether) Range() cube.Range { return cube.Range{0, 127} }
func (nether) EncodeDimension() int { return 1 }
func (nether) String() string { return "Nether" }
func (end) Range() cube.Range { return cube.Range{0, 255} }
func (end) EncodeDimension() int { return 2 }
func (end) String() string { return "End" }

// CustomDimension is a Dimension registered by user code, such as a second overworld-like world. Custom
// dimensions never carry legacy structure data.
type CustomDimension struct {
	Name   string
	ID     int
	Height cube.Range
}

func (d CustomDimension) Range() cube.Range { return d.Height }
func (d CustomDimension) EncodeDimension() int { return d.ID }
func (d CustomDimension) String() string { return d.Name }

// DimensionByName returns the Dimension matching one of the common names for it.
func DimensionByName(name string) (Dimension, bool) {
	switch name {
	case "", "overworld", "world", "default":
		return Overworld, true
	case "nether", "hell":
		return Nether, true
	case "end", "the_end":
		return End, true
	}
	return nil, false
}
