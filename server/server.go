// Package server opens the structure data of a world. A Server holds one Level
// per dimension, each of which loads, generates, references and places the
// structure starts of the chunks of its dimension.
package server

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/df-mc/strata/server/world"
	"github.com/df-mc/strata/server/world/mcdb"
	"github.com/df-mc/strata/server/world/structure"
)

// Server holds the Levels of all dimensions of a world. Server is safe for
// concurrent use.
type Server struct {
	conf   Config
	levels map[int]*Level

	once     sync.Once
	closeErr error
}

// Level returns the Level of the world.Dimension passed. The bool returned is
// false if the dimension was not opened.
func (srv *Server) Level(dim world.Dimension) (*Level, bool) {
	l, ok := srv.levels[dim.EncodeDimension()]
	return l, ok
}

// Levels returns all Levels of the Server, ordered by dimension ID.
func (srv *Server) Levels() []*Level {
	ids := slices.Sorted(maps.Keys(srv.levels))
	levels := make([]*Level, len(ids))
	for i, id := range ids {
		levels[i] = srv.levels[id]
	}
	return levels
}

// Structures returns the Registry of structures that the Levels of the Server
// generate and load.
func (srv *Server) Structures() *structure.Registry {
	return srv.conf.Structures
}

// Database returns the world database of the Server.
func (srv *Server) Database() *mcdb.DB {
	return srv.conf.Database
}

// Close saves the structure data of all Levels and closes the world database.
// Calling Close more than once returns the error of the first call.
func (srv *Server) Close() error {
	srv.once.Do(func() {
		var errs []error
		for _, l := range srv.Levels() {
			if err := l.Save(); err != nil {
				errs = append(errs, fmt.Errorf("save %v: %w", l.Dimension(), err))
			}
		}
		if err := srv.conf.Database.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
		srv.closeErr = errors.Join(errs...)
	})
	return srv.closeErr
}
