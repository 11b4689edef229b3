//go:generate go run github.com/golang/mock/mockgen -destination=./mocks/store.go -package=mocks . Store

// Package settings persists user preferences, such as the price paid for a
// unit of electricity.
//
// Two backends are provided:
//   - FileStore keeps settings in a YAML file next to the daemon's config
//   - PostgresStore keeps them in a settings table shared between installs
//
// Example usage:
//
//	store, err := settings.Open(ctx, "file", "/var/lib/currentcost/settings.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	cost, err := store.Get(ctx, settings.KeyKWhCost)
package settings

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get for a key that has never been set.
var ErrNotFound = errors.New("setting not found")

// KeyKWhCost holds the cost of one kWh in pence.
const KeyKWhCost = "kwhcost"

// Store reads and writes string settings by key.
type Store interface {
	// Get returns the stored value, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set creates or replaces a value.
	Set(ctx context.Context, key, value string) error

	// Close releases any resources held by the store.
	Close() error
}

// Open returns the store for driver: "file" treats dsn as a path,
// "postgres" as a connection string.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "file", "":
		return NewFileStore(dsn)
	case "postgres":
		return NewPostgresStore(ctx, dsn)
	}
	return nil, fmt.Errorf("unsupported settings driver %q", driver)
}
