package server

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/df-mc/strata/server/block/cube"
	"github.com/df-mc/strata/server/world"
	"github.com/df-mc/strata/server/world/datafix"
	"github.com/df-mc/strata/server/world/generator"
	"github.com/df-mc/strata/server/world/mcdb"
	"github.com/df-mc/strata/server/world/structure"
	"github.com/pelletier/go-toml"
)

// Config contains options for opening the structure data of a world.
type Config struct {
	// Log is the Logger to use for logging information. If nil, Log is set to
	// slog.Default().
	Log *slog.Logger
	// Database is the world database that chunk structure data and saved data
	// files are stored in. If nil, a database is opened that only lives in
	// memory, so that nothing is stored after the Server is closed.
	Database *mcdb.DB
	// Seed is the world seed used by structure placements and generation.
	Seed int64
	// Dimensions is the list of dimensions to open a Level for. If empty, the
	// overworld, nether and end are opened.
	Dimensions []world.Dimension
	// Structures is the Registry of structures that may be generated and
	// loaded. If nil, Structures is set to structure.Vanilla().
	Structures *structure.Registry
	// Pieces is the registry of piece types that starts are loaded with. If
	// nil, Pieces is set to structure.DefaultPieces().
	Pieces *structure.PieceRegistry
	// Templates is the TemplateManager that template pieces are read from. If
	// nil, a TemplateManager without a directory is used, which only holds
	// templates registered with it.
	Templates *structure.TemplateManager
	// Biomes returns the generator.BiomeSource that structures of a dimension
	// check their biomes against. If nil, or if it returns nil, biomes are not
	// checked.
	Biomes func(dim world.Dimension) generator.BiomeSource
	// Fixer is used to update chunks written with older data versions. If nil,
	// datafix.Default() is used.
	Fixer datafix.Fixer
	// CheckMetrics specifies if the structure start checks of every Level
	// should count the lookups they do. The counts are available through
	// Level.Metrics.
	CheckMetrics bool
	// StrictBounds specifies if bounding boxes with inverted bounds, which are
	// found in malformed save data, should panic instead of being corrected.
	// The setting applies to the whole process. It is meant for debugging
	// and should not be enabled on a running server.
	StrictBounds bool
}

// New creates a Server using fields of conf. A Level is opened for every
// dimension in conf.Dimensions. New panics if the same dimension is passed
// twice.
func (conf Config) New() *Server {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Database == nil {
		db, err := mcdb.Config{Log: conf.Log}.OpenMemory()
		if err != nil {
			panic("open memory database: " + err.Error())
		}
		conf.Database = db
	}
	if len(conf.Dimensions) == 0 {
		conf.Dimensions = []world.Dimension{world.Overworld, world.Nether, world.End}
	}
	if conf.Structures == nil {
		conf.Structures = structure.Vanilla()
	}
	if conf.Pieces == nil {
		conf.Pieces = structure.DefaultPieces()
	}
	if conf.Templates == nil {
		conf.Templates = structure.NewTemplateManager("", conf.Log)
	}
	if conf.Biomes == nil {
		conf.Biomes = func(world.Dimension) generator.BiomeSource { return nil }
	}
	if conf.Fixer == nil {
		conf.Fixer = datafix.Default()
	}
	cube.SetStrictBounds(conf.StrictBounds)
	// Copy dimensions so that the slice can't be edited afterward.
	conf.Dimensions = slices.Clone(conf.Dimensions)

	srv := &Server{conf: conf, levels: make(map[int]*Level, len(conf.Dimensions))}
	for _, dim := range conf.Dimensions {
		id := dim.EncodeDimension()
		if _, ok := srv.levels[id]; ok {
			panic(fmt.Sprintf("config: dimension %v passed twice", dim))
		}
		srv.levels[id] = conf.newLevel(dim)
	}
	return srv
}

// UserConfig is the user configuration for opening a world. It may be
// serialised to TOML and can be converted to a Config by calling
// UserConfig.Config().
type UserConfig struct {
	World struct {
		// SaveData controls whether a world's data will be saved and loaded.
		// If true, the world database in Folder is used. If false, a database
		// that only lives in memory is used.
		SaveData bool
		// Folder is the folder that the data of the world resides in.
		Folder string
		// ReadOnly specifies if the world should never be written to.
		ReadOnly bool
		// Seed controls the placement and generation of structures.
		Seed int64
		// Dimensions lists the names of the dimensions to open, such as
		// "overworld", "nether" and "end".
		Dimensions []string
	}
	Structures struct {
		// TemplateFolder is the folder structure templates are loaded from. A
		// template named minecraft:igloo/top is read from
		// <TemplateFolder>/minecraft/igloo/top.nbt.
		TemplateFolder string
		// Disabled holds the ids of structures that should not be generated
		// or loaded.
		Disabled []string
		// Metrics controls whether lookups of structure start checks are
		// counted.
		Metrics bool
	}
	Debug struct {
		// StrictBounds makes malformed bounding boxes in save data stop the
		// program instead of being corrected.
		StrictBounds bool
	}
}

// Config converts a UserConfig to a Config, so that it may be used for
// opening a Server. An error is returned if the world database could not be
// opened or if a dimension name is unknown.
func (uc UserConfig) Config(log *slog.Logger) (Config, error) {
	if log == nil {
		log = slog.Default()
	}
	conf := Config{
		Log:          log,
		Seed:         uc.World.Seed,
		Templates:    structure.NewTemplateManager(uc.Structures.TemplateFolder, log),
		CheckMetrics: uc.Structures.Metrics,
		StrictBounds: uc.Debug.StrictBounds,
	}
	for _, name := range uc.World.Dimensions {
		dim, ok := world.DimensionByName(strings.ToLower(strings.TrimSpace(name)))
		if !ok {
			return conf, fmt.Errorf("unknown dimension %q", name)
		}
		conf.Dimensions = append(conf.Dimensions, dim)
	}
	conf.Structures = structure.NewRegistry()
	for id, s := range structure.Vanilla().All() {
		if slices.Contains(uc.Structures.Disabled, id) {
			log.Debug("Structure disabled.", "id", id)
			continue
		}
		conf.Structures.Register(id, s)
	}

	var err error
	dbConf := mcdb.Config{Log: log, ReadOnly: uc.World.ReadOnly}
	if uc.World.SaveData {
		conf.Database, err = dbConf.Open(uc.World.Folder)
	} else {
		conf.Database, err = dbConf.OpenMemory()
	}
	if err != nil {
		return conf, fmt.Errorf("open world database: %w", err)
	}
	return conf, nil
}

// DefaultConfig returns a configuration with the default values filled out.
func DefaultConfig() UserConfig {
	c := UserConfig{}
	c.World.SaveData = true
	c.World.Folder = "world"
	c.World.Dimensions = []string{"overworld", "nether", "end"}
	c.Structures.TemplateFolder = "structures"
	return c
}

// LoadUserConfig reads the UserConfig stored in the TOML file at the path
// passed. Fields missing from the file keep their default values. If the file
// does not exist, it is created holding DefaultConfig().
func LoadUserConfig(path string) (UserConfig, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		encoded, err := toml.Marshal(c)
		if err != nil {
			return c, fmt.Errorf("encode default config: %w", err)
		}
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0777); err != nil {
				return c, fmt.Errorf("create config directory: %w", err)
			}
		}
		if err := os.WriteFile(path, encoded, 0644); err != nil {
			return c, fmt.Errorf("write default config: %w", err)
		}
		return c, nil
	} else if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	tree, err := toml.LoadBytes(data)
	if err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	defaults, err := toml.Marshal(c)
	if err != nil {
		return c, fmt.Errorf("encode default config: %w", err)
	}
	defaultTree, err := toml.LoadBytes(defaults)
	if err != nil {
		return c, fmt.Errorf("decode default config: %w", err)
	}
	mergeDefaults(tree, defaultTree)
	if err := tree.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}

// mergeDefaults sets every key of defaults that is missing from tree,
// descending into tables present in both.
func mergeDefaults(tree, defaults *toml.Tree) {
	for _, k := range defaults.Keys() {
		v := defaults.Get(k)
		if sub, ok := v.(*toml.Tree); ok {
			if dst, ok := tree.Get(k).(*toml.Tree); ok {
				mergeDefaults(dst, sub)
				continue
			}
		}
		if !tree.Has(k) {
			tree.Set(k, v)
		}
	}
}
