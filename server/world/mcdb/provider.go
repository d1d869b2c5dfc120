package mcdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"

	"github.com/df-mc/goleveldb/leveldb"
	"github.com/df-mc/strata/server/world"
	"github.com/sandertv/gophertunnel/minecraft/nbt"
)

// Column holds the stored data of a single chunk that is relevant to structures.
type Column struct {
	// Version is the data version the chunk was written with.
	Version int32
	// Structures is the structure section of the chunk, holding Starts and References compounds. It is
	// nil for chunks that have not yet had their structures generated.
	Structures map[string]any
	// Legacy is the full record of a chunk written before structure data was stored separately. The
	// record still has its Level wrapper. Legacy is nil for chunks that were written recently.
	Legacy map[string]any
}

// Provider reads and writes the chunks of a single dimension of a DB.
type Provider struct {
	db   *DB
	dim  world.Dimension
	data *DataStorage
}

// Dimension returns the world.Dimension the Provider stores chunks of.
func (p *Provider) Dimension() world.Dimension {
	return p.dim
}

// Data returns the DataStorage holding the saved data files of the dimension.
func (p *Provider) Data() *DataStorage {
	return p.data
}

// LoadColumn loads the Column at the position passed. If no chunk was stored at the position, an error
// satisfying errors.Is(err, leveldb.ErrNotFound) is returned.
func (p *Provider) LoadColumn(pos world.ChunkPos) (*Column, error) {
	key := p.index(pos)
	version, err := p.db.ldb.Get(append(key, keyVersion), nil)
	if err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	if len(version) != 4 {
		return nil, fmt.Errorf("read version: expected 4 bytes, got %v", len(version))
	}
	col := &Column{Version: int32(binary.LittleEndian.Uint32(version))}
	if col.Structures, err = p.readCompound(append(key, keyStructures)); err != nil {
		return nil, fmt.Errorf("read structures: %w", err)
	}
	if col.Legacy, err = p.readCompound(append(key, keyLegacy)); err != nil {
		return nil, fmt.Errorf("read legacy record: %w", err)
	}
	return col, nil
}

// StoreColumn stores the Column passed at a position. Keys of sections that are nil in the Column are
// removed, so that storing a column that was upgraded removes its legacy record.
func (p *Provider) StoreColumn(pos world.ChunkPos, col *Column) error {
	if p.db.conf.ReadOnly {
		return nil
	}
	key := p.index(pos)
	batch := new(leveldb.Batch)
	batch.Put(append(key, keyVersion), binary.LittleEndian.AppendUint32(nil, uint32(col.Version)))
	if err := p.putCompound(batch, append(key, keyStructures), col.Structures); err != nil {
		return fmt.Errorf("encode structures: %w", err)
	}
	if err := p.putCompound(batch, append(key, keyLegacy), col.Legacy); err != nil {
		return fmt.Errorf("encode legacy record: %w", err)
	}
	if err := p.db.ldb.Write(batch, nil); err != nil {
		return fmt.Errorf("write chunk %v: %w", pos, err)
	}
	return nil
}

// DeleteColumn removes all data stored for the chunk at the position passed.
func (p *Provider) DeleteColumn(pos world.ChunkPos) error {
	if p.db.conf.ReadOnly {
		return nil
	}
	key := p.index(pos)
	batch := new(leveldb.Batch)
	for _, k := range []byte{keyVersion, keyStructures, keyLegacy} {
		batch.Delete(append(key, k))
	}
	return p.db.ldb.Write(batch, nil)
}

// ScanStructures reads only the data version and structure section of the chunk at the position passed.
// The compound returned has a DataVersion field and, if the chunk has a structure section, a Structures
// field. A nil compound and nil error are returned if no chunk is stored at the position.
func (p *Provider) ScanStructures(pos world.ChunkPos) (map[string]any, error) {
	key := p.index(pos)
	version, err := p.db.ldb.Get(append(key, keyVersion), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("scan chunk %v: %w", pos, err)
	}
	if len(version) != 4 {
		return nil, fmt.Errorf("scan chunk %v: version has %v bytes", pos, len(version))
	}
	out := map[string]any{"DataVersion": int32(binary.LittleEndian.Uint32(version))}
	structures, err := p.readCompound(append(key, keyStructures))
	if err != nil {
		return nil, fmt.Errorf("scan chunk %v: %w", pos, err)
	}
	if structures != nil {
		out["Structures"] = structures
	}
	return out, nil
}

// Positions returns a sequence of the positions of all chunks stored for the dimension of the Provider.
func (p *Provider) Positions() iter.Seq[world.ChunkPos] {
	return func(yield func(world.ChunkPos) bool) {
		it := p.db.ldb.NewIterator(nil, nil)
		defer it.Release()

		indexLen := len(p.index(world.ChunkPos{}))
		dim := uint32(p.dim.EncodeDimension())
		for it.Next() {
			k := it.Key()
			if len(k) != indexLen+1 || k[indexLen] != keyVersion {
				continue
			}
			if indexLen == 12 && binary.LittleEndian.Uint32(k[8:]) != dim {
				continue
			}
			pos := world.ChunkPos{int32(binary.LittleEndian.Uint32(k)), int32(binary.LittleEndian.Uint32(k[4:]))}
			if !yield(pos) {
				return
			}
		}
	}
}

// readCompound reads and decodes the NBT compound at the key passed. A nil map is returned if the key
// does not exist.
func (p *Provider) readCompound(key []byte) (map[string]any, error) {
	data, err := p.db.ldb.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := nbt.UnmarshalEncoding(data, &m, nbt.LittleEndian); err != nil {
		return nil, fmt.Errorf("decode nbt: %w", err)
	}
	return m, nil
}

func (p *Provider) putCompound(batch *leveldb.Batch, key []byte, m map[string]any) error {
	if m == nil {
		batch.Delete(key)
		return nil
	}
	data, err := nbt.MarshalEncoding(m, nbt.LittleEndian)
	if err != nil {
		return err
	}
	batch.Put(key, data)
	return nil
}

// index returns a byte buffer holding the written index of the chunk position passed. If the dimension of
// the Provider is not world.Overworld, the length of the index returned is 12. It is 8 otherwise.
func (p *Provider) index(position world.ChunkPos) []byte {
	x, z, dim := uint32(position[0]), uint32(position[1]), uint32(p.dim.EncodeDimension())
	b := make([]byte, 12)

	binary.LittleEndian.PutUint32(b, x)
	binary.LittleEndian.PutUint32(b[4:], z)
	if dim == 0 {
		return b[:8:8]
	}
	binary.LittleEndian.PutUint32(b[8:], dim)
	return b
}
