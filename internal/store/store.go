// Package store holds the durable backends for clusters, Spark jobs and the
// EMR release catalog.
package store

import (
	"context"
	"fmt"

	"github.com/atmo/atmo/internal/cluster"
	"github.com/atmo/atmo/internal/job"
	"github.com/atmo/atmo/internal/release"
)

// Store is the full persistence surface used by atmo.
type Store interface {
	cluster.Store
	job.Store
	release.Store
	Close(ctx context.Context) error
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Postgres)(nil)
	_ Store = (*Mongo)(nil)
)

// Open connects to the backend named by kind ("postgres", "mongodb" or
// "memory").
func Open(ctx context.Context, kind, dsn, database string) (Store, error) {
	switch kind {
	case "postgres", "postgresql":
		return NewPostgres(ctx, dsn)
	case "mongodb", "mongo":
		return NewMongo(ctx, dsn, database)
	case "memory", "":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store type %q (expected postgres, mongodb or memory)", kind)
	}
}
