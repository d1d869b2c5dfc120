package structure

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/df-mc/strata/server/block/cube"
	"github.com/df-mc/strata/server/internal/nbtconv"
	"github.com/df-mc/strata/server/world"
)

// ProcessContext holds the state passed to processors while a Template is placed.
type ProcessContext struct {
	// Random may be nil, in which case processors that rely on randomness keep all blocks.
	Random *rand.Rand
	// Origin is the position the Template is placed at. Ref is the reference position of the start.
	Origin, Ref cube.Pos
}

// Processor changes or removes the blocks of a Template while it is placed.
type Processor interface {
	// Process returns the block to place instead of b. If false is returned, no block is placed.
	Process(ctx ProcessContext, b TemplateBlock) (TemplateBlock, bool)
	// Encode encodes the Processor, including its processor_type field.
	Encode() map[string]any
}

// BlockIgnore is a Processor that leaves out blocks with one of the names in Blocks.
type BlockIgnore struct {
	Blocks []string
}

// Process ...
func (p BlockIgnore) Process(_ ProcessContext, b TemplateBlock) (TemplateBlock, bool) {
	return b, !slices.Contains(p.Blocks, b.State.Name)
}

// Encode ...
func (p BlockIgnore) Encode() map[string]any {
	if len(p.Blocks) == 0 {
		return map[string]any{"processor_type": "minecraft:block_ignore"}
	}
	blocks := make([]any, 0, len(p.Blocks))
	for _, name := range p.Blocks {
		blocks = append(blocks, map[string]any{"Name": name})
	}
	return map[string]any{"processor_type": "minecraft:block_ignore", "blocks": blocks}
}

// BlockRot is a Processor that keeps each block with a chance of Integrity.
type BlockRot struct {
	Integrity float32
}

// Process ...
func (p BlockRot) Process(ctx ProcessContext, b TemplateBlock) (TemplateBlock, bool) {
	if ctx.Random == nil || p.Integrity >= 1 {
		return b, true
	}
	return b, ctx.Random.Float32() <= p.Integrity
}

// Encode ...
func (p BlockRot) Encode() map[string]any {
	return map[string]any{"processor_type": "minecraft:block_rot", "integrity": p.Integrity}
}

// JigsawReplacement is a Processor that replaces jigsaw blocks with the block state held in their
// final_state field. Jigsaw blocks with a final state that cannot be parsed are replaced with air.
type JigsawReplacement struct{}

// Process ...
func (JigsawReplacement) Process(_ ProcessContext, b TemplateBlock) (TemplateBlock, bool) {
	if b.State.Name != "minecraft:jigsaw" {
		return b, true
	}
	state, err := world.ParseBlockState(nbtconv.String(b.NBT, "final_state"))
	if err != nil {
		state = world.Air
	}
	if state.Name == "minecraft:structure_void" {
		return b, false
	}
	return TemplateBlock{Pos: b.Pos, State: state}, true
}

// Encode ...
func (JigsawReplacement) Encode() map[string]any {
	return map[string]any{"processor_type": "minecraft:jigsaw_replacement"}
}

// DecodeProcessor decodes a Processor from its compound form.
func DecodeProcessor(tag map[string]any) (Processor, error) {
	switch t := nbtconv.String(tag, "processor_type"); t {
	case "minecraft:block_ignore":
		var p BlockIgnore
		for _, b := range nbtconv.Compounds(tag, "blocks") {
			p.Blocks = append(p.Blocks, nbtconv.String(b, "Name"))
		}
		return p, nil
	case "minecraft:block_rot":
		integrity, _ := tag["integrity"].(float32)
		return BlockRot{Integrity: integrity}, nil
	case "minecraft:jigsaw_replacement":
		return JigsawReplacement{}, nil
	default:
		return nil, fmt.Errorf("unknown processor type %q", t)
	}
}

// decodeProcessors decodes the processors field of a pool element. The field is either the id of an empty
// processor list, a compound holding a processors list, or the list itself.
func decodeProcessors(v any) ([]Processor, error) {
	var list []map[string]any
	switch v := v.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "minecraft:empty" || v == "empty" {
			return nil, nil
		}
		return nil, fmt.Errorf("unknown processor list %q", v)
	case map[string]any:
		list = nbtconv.Compounds(v, "processors")
	case []any:
		list = nbtconv.Compounds(map[string]any{"processors": v}, "processors")
	default:
		return nil, fmt.Errorf("unexpected processors of type %T", v)
	}
	processors := make([]Processor, 0, len(list))
	for _, tag := range list {
		p, err := DecodeProcessor(tag)
		if err != nil {
			return nil, err
		}
		processors = append(processors, p)
	}
	return processors, nil
}

// encodeProcessors encodes a list of processors in the compound form accepted by decodeProcessors. Empty
// lists are left out, since their element type cannot be told.
func encodeProcessors(processors []Processor) map[string]any {
	if len(processors) == 0 {
		return map[string]any{}
	}
	list := make([]any, 0, len(processors))
	for _, p := range processors {
		list = append(list, p.Encode())
	}
	return map[string]any{"processors": list}
}
