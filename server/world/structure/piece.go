package structure

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/df-mc/strata/server/block/cube"
	"github.com/df-mc/strata/server/internal/nbtconv"
	"github.com/df-mc/strata/server/world"
)

// Piece is a single placeable part of a structure start.
type Piece interface {
	// Type returns the PieceType of the Piece, which decides the id it is saved with.
	Type() *PieceType
	// BoundingBox returns the box that the Piece occupies.
	BoundingBox() cube.BoundingBox
	// Move translates the Piece by the offset passed.
	Move(dx, dy, dz int)
	// PostProcess places the part of the Piece that lies within box in the world. ref is a position shared
	// by all pieces of the same start.
	PostProcess(ctx PlaceContext, box cube.BoundingBox, chunk world.ChunkPos, ref cube.Pos)
	// Save encodes the Piece to a compound, including its id, bounding box, depth and orientation.
	Save() map[string]any
}

// PieceType is a type of Piece. It decides the id that pieces of the type are saved with and loads them back.
type PieceType struct {
	// ID is the namespaced id of the PieceType, such as minecraft:jigsaw.
	ID string
	// Load decodes a Piece of the type from the compound passed. base holds the fields shared by all pieces,
	// which were already decoded.
	Load func(ctx Context, base BasePiece, tag map[string]any) (Piece, error)

	markers DataMarkerFunc
}

// Context holds the registries and resources needed to encode and decode starts.
type Context struct {
	Structures *Registry
	Pieces     *PieceRegistry
	Templates  *TemplateManager
	Log        *slog.Logger
}

// PlaceContext holds the state used while placing pieces in a chunk.
type PlaceContext struct {
	// Tx is the Accessor that blocks are written to.
	Tx        world.Accessor
	Templates *TemplateManager
	Random    *rand.Rand
	Log       *slog.Logger
}

// BasePiece holds the state shared by all pieces: a bounding box, a generation depth and an optional
// orientation. It is embedded in Piece implementations.
type BasePiece struct {
	Box   cube.BoundingBox
	Depth int32
	// Orientation is the horizontal direction the piece faces. HasOrientation is false for pieces that do
	// not face a direction.
	Orientation    cube.Direction
	HasOrientation bool
}

// BoundingBox ...
func (b *BasePiece) BoundingBox() cube.BoundingBox {
	return b.Box
}

// Move ...
func (b *BasePiece) Move(dx, dy, dz int) {
	b.Box = b.Box.Moved(dx, dy, dz)
}

// encode returns a compound holding the fields of the BasePiece and the id passed.
func (b *BasePiece) encode(id string) map[string]any {
	o := int32(-1)
	if b.HasOrientation {
		o = b.Orientation.Horizontal2D()
	}
	box := b.Box.IntArray()
	return map[string]any{"id": id, "BB": box, "GD": b.Depth, "O": o}
}

// decodeBase decodes the fields shared by all pieces from the compound passed.
func decodeBase(tag map[string]any) (BasePiece, error) {
	box, err := cube.BoxFromInts(nbtconv.Int32s(tag, "BB"))
	if err != nil {
		return BasePiece{}, fmt.Errorf("decode bounding box: %w", err)
	}
	base := BasePiece{Box: box, Depth: nbtconv.Int32(tag, "GD")}
	if d, ok := cube.DirectionFrom2D(nbtconv.Int32(tag, "O")); ok && tag["O"] != nil {
		base.Orientation, base.HasOrientation = d, true
	}
	return base, nil
}

// PieceRegistry maps piece ids to PieceTypes. A PieceRegistry is safe for concurrent use.
type PieceRegistry struct {
	mu    sync.RWMutex
	types map[string]*PieceType
}

// NewPieceRegistry returns a PieceRegistry holding the PieceTypes passed.
func NewPieceRegistry(types ...*PieceType) *PieceRegistry {
	r := &PieceRegistry{types: make(map[string]*PieceType)}
	for _, t := range types {
		r.Register(t)
	}
	return r
}

// DefaultPieces returns a PieceRegistry holding the pool element piece type and archived piece types for
// the piece ids found in vanilla worlds.
func DefaultPieces() *PieceRegistry {
	r := NewPieceRegistry(PoolElementPieceType)
	for _, id := range archivedPieceIDs {
		r.Register(ArchivedPieceType("minecraft:" + id))
	}
	return r
}

// Register registers a PieceType. Register panics if a type with the same id is already registered.
func (r *PieceRegistry) Register(t *PieceType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[t.ID]; ok {
		panic("piece type " + t.ID + " registered twice")
	}
	r.types[t.ID] = t
}

// Type returns the PieceType registered with the id passed.
func (r *PieceRegistry) Type(id string) (*PieceType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[id]
	return t, ok
}

// pieceRenames holds piece ids of jigsaw pieces that were saved under a structure specific id.
var pieceRenames = map[string]string{
	"minecraft:nvi":            "minecraft:jigsaw",
	"minecraft:pcp":            "minecraft:jigsaw",
	"minecraft:bastionremnant": "minecraft:jigsaw",
	"minecraft:runtime":        "minecraft:jigsaw",
}

// LoadPiece decodes a Piece from the compound passed, using the PieceType registered for its id.
func LoadPiece(ctx Context, tag map[string]any) (Piece, error) {
	id := strings.ToLower(nbtconv.String(tag, "id"))
	if renamed, ok := pieceRenames[id]; ok {
		id = renamed
	}
	t, ok := ctx.Pieces.Type(id)
	if !ok {
		return nil, fmt.Errorf("unknown piece type %q", id)
	}
	base, err := decodeBase(tag)
	if err != nil {
		return nil, fmt.Errorf("load piece %v: %w", id, err)
	}
	p, err := t.Load(ctx, base, tag)
	if err != nil {
		return nil, fmt.Errorf("load piece %v: %w", id, err)
	}
	return p, nil
}

// logger returns l, or slog.Default() if l is nil.
func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
