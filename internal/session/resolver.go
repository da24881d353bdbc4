// Package session assigns anonymous customer session ids. A session id only
// correlates repeat orders from one visit; it never authorizes anything.
package session

import (
	"context"
	"regexp"

	"github.com/google/uuid"

	"github.com/angelmondragon/tablesync-backend/pkg/logger"
)

// StorageKey is the client storage key (and cookie name) holding the id.
const StorageKey = "ts_session"

const idPrefix = "sess-"

var validID = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// ID is the opaque session token.
type ID string

// Resolution reports the id and whether it could be persisted. Transient ids
// live for one request only.
type Resolution struct {
	ID        ID
	Created   bool
	Transient bool
}

// Resolver implements getOrCreateSessionId over an injected Storage.
type Resolver struct {
	logg  *logger.Logger
	newID func() string
}

func NewResolver(logg *logger.Logger) *Resolver {
	return &Resolver{
		logg:  logg,
		newID: func() string { return idPrefix + uuid.NewString() },
	}
}

// GetOrCreate returns the stored id or generates and persists a new one.
// Storage failures degrade to a transient id instead of failing the caller.
func (r *Resolver) GetOrCreate(ctx context.Context, storage Storage) Resolution {
	if storage != nil {
		existing, ok, err := storage.Get(ctx, StorageKey)
		switch {
		case err != nil:
			r.warn(ctx, "session storage read failed", err)
		case ok && validID.MatchString(existing):
			return Resolution{ID: ID(existing)}
		}
	}

	id := ID(r.newID())
	if storage == nil {
		return Resolution{ID: id, Created: true, Transient: true}
	}
	if err := storage.Set(ctx, StorageKey, string(id)); err != nil {
		r.warn(ctx, "session storage write failed, using transient id", err)
		return Resolution{ID: id, Created: true, Transient: true}
	}
	return Resolution{ID: id, Created: true}
}

func (r *Resolver) warn(ctx context.Context, msg string, err error) {
	if r.logg == nil {
		return
	}
	r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), msg)
}
