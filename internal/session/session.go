package session

import (
	"context"
	"errors"
	"time"

	"sendboard/internal/storage"
)

// ErrNotFound is returned by Resolve when neither the target id nor the
// cached display name matches anything the session can see.
var ErrNotFound = errors.New("target not found")

// Target is a resolved, sendable recipient: a group chat or an individual
// contact behind one polymorphic send capability.
type Target interface {
	ID() string
	Name() string
	SendText(ctx context.Context, text string) error
	SendFile(ctx context.Context, path string) error
}

// Info describes a directory entry for the dashboard listings.
type Info struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MemberCount int    `json:"memberCount,omitempty"`
}

// Identity is the bot account a session is logged in as.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Session is one tenant's bot connection.
//
// Ready gates the due-task scanner: a tenant whose session is not ready is
// skipped entirely and its due tasks stay pending until it comes back.
type Session interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	Ready() bool
	Identity() (Identity, bool)
	LoginTime() (time.Time, bool)

	// Resolve looks the target up by id first, falling back to the display
	// name if the id no longer matches (ids can change upstream while names
	// stay stable). Both missing yields ErrNotFound.
	Resolve(ctx context.Context, ttype storage.TargetType, id, name string) (Target, error)

	Groups(ctx context.Context) ([]Info, error)
	Contacts(ctx context.Context) ([]Info, error)
}
