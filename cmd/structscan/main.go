// Command structscan reports the structure starts stored in the chunks of a world and locates structures
// in it. The world is opened read only.
package main

import (
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/df-mc/strata/server"
	"github.com/df-mc/strata/server/world"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	valid   = color.New(color.FgGreen)
	invalid = color.New(color.FgYellow)
	failed  = color.New(color.FgRed)
	header  = color.New(color.FgCyan, color.Bold)
)

func main() {
	var (
		configPath string
		dimension  string
		verbose    bool
	)
	root := &cobra.Command{
		Use:          "structscan",
		Short:        "Inspect the structure starts of a world",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML config file to read the world settings from")
	root.PersistentFlags().StringVarP(&dimension, "dimension", "d", "overworld", "dimension to open")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug messages")

	open := func(dir string) (*server.Server, *server.Level, error) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		uc := server.DefaultConfig()
		if configPath != "" {
			var err error
			if uc, err = server.LoadUserConfig(configPath); err != nil {
				return nil, nil, err
			}
		}
		if dir != "" {
			uc.World.Folder = dir
		}
		uc.World.SaveData, uc.World.ReadOnly = true, true
		uc.World.Dimensions = []string{dimension}
		conf, err := uc.Config(log)
		if err != nil {
			return nil, nil, err
		}
		srv := conf.New()
		dim, _ := world.DimensionByName(strings.ToLower(dimension))
		l, _ := srv.Level(dim)
		return srv, l, nil
	}

	var only string
	scan := &cobra.Command{
		Use:   "scan [world folder]",
		Short: "List the structure starts of every stored chunk",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, l, err := open(argOrEmpty(args))
			if err != nil {
				return err
			}
			defer srv.Close()
			return scanLevel(srv, l, only)
		},
	}
	scan.Flags().StringVarP(&only, "structure", "s", "", "only report starts of the structure with this id")

	var (
		id     string
		at     string
		radius int
		mark   bool
	)
	locate := &cobra.Command{
		Use:   "locate [world folder]",
		Short: "Find the nearest start of a structure",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			origin, err := parseChunkPos(at)
			if err != nil {
				return err
			}
			srv, l, err := open(argOrEmpty(args))
			if err != nil {
				return err
			}
			defer srv.Close()

			st, ok := srv.Structures().ByID(id)
			if !ok {
				return fmt.Errorf("unknown structure %q", id)
			}
			pos, found, err := l.Locate(origin, st, radius, mark)
			if err != nil {
				return err
			}
			if !found {
				invalid.Printf("No %v found within %v regions of %v.\n", id, radius, origin)
				return nil
			}
			mid := pos.MiddleBlockPos(0)
			valid.Printf("%v starts in chunk %v (block %v, %v).\n", id, pos, mid[0], mid[2])
			return nil
		},
	}
	locate.Flags().StringVarP(&id, "structure", "s", "minecraft:village", "id of the structure to locate")
	locate.Flags().StringVar(&at, "at", "0,0", "chunk to search from, as x,z")
	locate.Flags().IntVarP(&radius, "radius", "r", 16, "search radius in placement regions")
	locate.Flags().BoolVar(&mark, "skip-known", false, "skip starts that were already referenced")

	root.AddCommand(scan, locate)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// scanLevel prints the starts of every chunk stored for the Level and a summary per structure.
func scanLevel(srv *server.Server, l *server.Level, only string) error {
	provider := srv.Database().Provider(l.Dimension())
	structures := srv.Structures()
	counts := make(map[string]int)
	chunks := 0

	header.Printf("Structure starts in the %v:\n", l.Dimension())
	for pos := range provider.Positions() {
		chunks++
		if _, err := l.LoadChunk(pos); err != nil {
			failed.Printf("  %v: %v\n", pos, err)
			continue
		}
		for id, s := range structures.All() {
			if only != "" && id != only {
				continue
			}
			start, ok := l.Start(pos, s)
			if !ok {
				continue
			}
			if !start.Valid() {
				invalid.Printf("  %v %v: INVALID\n", pos, id)
				continue
			}
			counts[id]++
			valid.Printf("  %v %v: %v pieces in %v, %v/%v references\n", pos, id, len(start.Pieces()), start.BoundingBox(), start.References(), start.MaxReferences())
		}
		if err := l.UnloadChunk(pos); err != nil {
			failed.Printf("  %v: %v\n", pos, err)
		}
	}

	header.Printf("%v chunks scanned.\n", chunks)
	for _, id := range slices.Sorted(maps.Keys(counts)) {
		fmt.Printf("  %-32v %v\n", id, counts[id])
	}
	return nil
}

// parseChunkPos parses a chunk position in the form x,z.
func parseChunkPos(s string) (world.ChunkPos, error) {
	xs, zs, ok := strings.Cut(s, ",")
	if !ok {
		return world.ChunkPos{}, fmt.Errorf("chunk position %q must be in the form x,z", s)
	}
	x, err := strconv.ParseInt(strings.TrimSpace(xs), 10, 32)
	if err != nil {
		return world.ChunkPos{}, fmt.Errorf("parse x: %w", err)
	}
	z, err := strconv.ParseInt(strings.TrimSpace(zs), 10, 32)
	if err != nil {
		return world.ChunkPos{}, fmt.Errorf("parse z: %w", err)
	}
	return world.ChunkPos{int32(x), int32(z)}, nil
}

func argOrEmpty(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
