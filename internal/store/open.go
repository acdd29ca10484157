// ABOUTME: Backend selection for the conversation store
// ABOUTME: Maps a driver name (sqlite, mongo, postgres) to the matching Store constructor

package store

import (
	"context"
	"fmt"
)

// Supported driver names
const (
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

// Options selects and configures a backend
type Options struct {
	Driver string // sqlite (default), mongo or postgres
	Path   string // SQLite file path
	URL    string // connection URL for mongo and postgres
	Name   string // MongoDB database name
}

// Open returns the Store for opts.Driver
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", DriverSQLite:
		return NewSQLiteStore(opts.Path)
	case DriverMongo:
		name := opts.Name
		if name == "" {
			name = "slotchat"
		}
		return NewMongoStore(ctx, opts.URL, name)
	case DriverPostgres:
		return NewPostgresStore(ctx, opts.URL)
	default:
		return nil, fmt.Errorf("unknown database driver %q", opts.Driver)
	}
}
