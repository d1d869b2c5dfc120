package structure

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/df-mc/strata/server/block/cube"
	"github.com/df-mc/strata/server/internal/nbtconv"
	"github.com/df-mc/strata/server/world"
	"github.com/df-mc/worldupgrader/blockupgrader"
	"github.com/klauspost/compress/gzip"
	"github.com/sandertv/gophertunnel/minecraft/nbt"
)

// Template is a fixed arrangement of blocks that pieces stamp into the world.
type Template struct {
	// Size is the size of the Template on each axis.
	Size   cube.Pos
	Blocks []TemplateBlock
}

// TemplateBlock is a block in a Template. Pos is relative to the origin of the Template, unless the block
// was returned by a method that states otherwise.
type TemplateBlock struct {
	Pos   cube.Pos
	State world.BlockState
	NBT   map[string]any
}

// PlaceSettings holds the transformation applied to a Template when it is placed.
type PlaceSettings struct {
	Rotation cube.Rotation
	Mirror   cube.Mirror
	// Pivot is the position, relative to the Template origin, that the Template is rotated around.
	Pivot cube.Pos
	// Clip limits the blocks placed to those inside of it. If nil, all blocks are placed.
	Clip       *cube.BoundingBox
	Processors []Processor
}

// WithClip returns a copy of the PlaceSettings with its Clip set to the box passed.
func (s PlaceSettings) WithClip(box cube.BoundingBox) PlaceSettings {
	s.Clip = &box
	return s
}

// transform returns the world position of a position relative to the origin of a Template.
func (s PlaceSettings) transform(origin, rel cube.Pos) cube.Pos {
	return cube.Transform(rel, s.Mirror, s.Rotation, s.Pivot).Add(origin)
}

// BoundingBox returns the box that the Template occupies when placed at origin with the settings passed.
func (t *Template) BoundingBox(s PlaceSettings, origin cube.Pos) cube.BoundingBox {
	if t.Size[0] <= 0 || t.Size[1] <= 0 || t.Size[2] <= 0 {
		return cube.BoxAt(origin)
	}
	a := s.transform(origin, cube.Pos{})
	b := s.transform(origin, t.Size.Sub(cube.Pos{1, 1, 1}))
	return cube.FromCorners(a, b)
}

// Place places the blocks of the Template at origin, passing each through the processors of the settings.
// Place returns false if the Template is empty.
func (t *Template) Place(tx world.Accessor, origin cube.Pos, s PlaceSettings, ctx ProcessContext) bool {
	if len(t.Blocks) == 0 || t.Size[0] <= 0 || t.Size[1] <= 0 || t.Size[2] <= 0 {
		return false
	}
	ctx.Origin = origin
blocks:
	for _, b := range t.Blocks {
		b.Pos = s.transform(origin, b.Pos)
		if s.Clip != nil && !s.Clip.IsInside(b.Pos) {
			continue
		}
		for _, p := range s.Processors {
			var ok bool
			if b, ok = p.Process(ctx, b); !ok {
				continue blocks
			}
		}
		if b.State.Name == "minecraft:structure_void" {
			continue
		}
		tx.SetBlock(b.Pos, b.State, nbtconv.Clone(b.NBT))
	}
	return true
}

// Filter returns the blocks of the Template with the block name passed, with their positions transformed to
// world positions for a Template placed at origin. Blocks outside the clip box of the settings are left out.
func (t *Template) Filter(origin cube.Pos, s PlaceSettings, name string) []TemplateBlock {
	var blocks []TemplateBlock
	for _, b := range t.Blocks {
		if b.State.Name != name {
			continue
		}
		b.Pos = s.transform(origin, b.Pos)
		if s.Clip != nil && !s.Clip.IsInside(b.Pos) {
			continue
		}
		blocks = append(blocks, b)
	}
	return blocks
}

// Encode encodes the Template to its compound form, with a single palette.
func (t *Template) Encode() map[string]any {
	var (
		palette []any
		indices = make(map[string]int32)
		blocks  = make([]any, 0, len(t.Blocks))
	)
	for _, b := range t.Blocks {
		key := b.State.String()
		index, ok := indices[key]
		if !ok {
			index = int32(len(palette))
			indices[key] = index
			entry := map[string]any{"Name": b.State.Name}
			if len(b.State.Properties) > 0 {
				entry["Properties"] = maps.Clone(b.State.Properties)
			}
			palette = append(palette, entry)
		}
		block := map[string]any{"pos": []int32{int32(b.Pos[0]), int32(b.Pos[1]), int32(b.Pos[2])}, "state": index}
		if b.NBT != nil {
			block["nbt"] = b.NBT
		}
		blocks = append(blocks, block)
	}
	m := map[string]any{"size": []int32{int32(t.Size[0]), int32(t.Size[1]), int32(t.Size[2])}}
	if len(blocks) != 0 {
		m["palette"], m["blocks"] = palette, blocks
	}
	return m
}

// DecodeTemplate decodes a Template from its compound form. Palette entries may be in the name, states and
// version form, in which case states of older versions are upgraded to the current version.
func DecodeTemplate(tag map[string]any) (*Template, error) {
	size := nbtconv.Int32s(tag, "size")
	if len(size) != 3 {
		return nil, fmt.Errorf("template size needs 3 values, got %v", len(size))
	}
	t := &Template{Size: cube.Pos{int(size[0]), int(size[1]), int(size[2])}}

	entries := nbtconv.Compounds(tag, "palette")
	if palettes, ok := tag["palettes"].([]any); ok && len(palettes) > 0 && entries == nil {
		entries = nbtconv.Compounds(map[string]any{"palette": palettes[0]}, "palette")
	}
	palette := make([]world.BlockState, len(entries))
	for i, e := range entries {
		palette[i] = decodePaletteEntry(e)
	}

	for _, b := range nbtconv.Compounds(tag, "blocks") {
		pos := nbtconv.Int32s(b, "pos")
		if len(pos) != 3 {
			return nil, fmt.Errorf("template block position needs 3 values, got %v", len(pos))
		}
		index := nbtconv.Int32(b, "state")
		if index < 0 || int(index) >= len(palette) {
			return nil, fmt.Errorf("template block state %v out of palette of size %v", index, len(palette))
		}
		block := TemplateBlock{Pos: cube.Pos{int(pos[0]), int(pos[1]), int(pos[2])}, State: palette[index]}
		if n, ok := nbtconv.Compound(b, "nbt"); ok {
			block.NBT = n
		}
		t.Blocks = append(t.Blocks, block)
	}
	return t, nil
}

// decodePaletteEntry decodes a single palette entry of a Template.
func decodePaletteEntry(e map[string]any) world.BlockState {
	if name, ok := e["name"].(string); ok {
		states, _ := nbtconv.Compound(e, "states")
		if _, ok := e["version"]; !ok {
			return world.BlockState{Name: name, Properties: states}
		}
		upgraded := blockupgrader.Upgrade(blockupgrader.BlockState{
			Name:       name,
			Properties: states,
			Version:    nbtconv.Int32(e, "version"),
		})
		return world.BlockState{Name: upgraded.Name, Properties: upgraded.Properties}
	}
	props, _ := nbtconv.Compound(e, "Properties")
	return world.BlockState{Name: nbtconv.String(e, "Name"), Properties: props}
}

// ErrTemplateNotFound is returned by TemplateManager.Get if no template with the name passed exists.
var ErrTemplateNotFound = errors.New("template not found")

// TemplateManager holds the templates used by pieces. Templates are either registered directly or loaded
// from gzip compressed NBT files at <dir>/<namespace>/<path>.nbt. A TemplateManager is safe for concurrent
// use.
type TemplateManager struct {
	dir string
	log *slog.Logger

	mu        sync.Mutex
	templates map[string]*Template
}

// NewTemplateManager creates a TemplateManager that loads templates from the directory passed. If dir is
// empty, only registered templates are available.
func NewTemplateManager(dir string, log *slog.Logger) *TemplateManager {
	return &TemplateManager{dir: dir, log: logger(log), templates: make(map[string]*Template)}
}

// Register registers a Template under the name passed, such as minecraft:igloo/top.
func (m *TemplateManager) Register(name string, t *Template) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[templateName(name)] = t
}

// Get returns the Template with the name passed, loading it from disk if it was not registered or loaded
// before.
func (m *TemplateManager) Get(name string) (*Template, error) {
	if m == nil {
		return nil, fmt.Errorf("get template %v: %w", name, ErrTemplateNotFound)
	}
	name = templateName(name)

	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.templates[name]; ok {
		return t, nil
	}
	t, err := m.load(name)
	if err != nil {
		return nil, fmt.Errorf("get template %v: %w", name, err)
	}
	m.templates[name] = t
	return t, nil
}

// load loads the Template with the name passed from disk.
func (m *TemplateManager) load(name string) (*Template, error) {
	if m.dir == "" {
		return nil, ErrTemplateNotFound
	}
	namespace, path, _ := strings.Cut(name, ":")
	f, err := os.Open(filepath.Join(m.dir, namespace, filepath.FromSlash(path)+".nbt"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrTemplateNotFound
	} else if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("read gzip header: %w", err)
	}
	defer r.Close()

	var tag map[string]any
	if err := nbt.NewDecoderWithEncoding(r, nbt.BigEndian).Decode(&tag); err != nil {
		return nil, fmt.Errorf("decode nbt: %w", err)
	}
	m.log.Debug("loaded structure template", "name", name, "blocks", len(nbtconv.Compounds(tag, "blocks")))
	return DecodeTemplate(tag)
}

// templateName returns the name passed with the minecraft namespace added if it has none.
func templateName(name string) string {
	if strings.Contains(name, ":") {
		return name
	}
	return "minecraft:" + name
}
