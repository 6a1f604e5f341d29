// Package session keeps visitor sessions on the server side. The browser only holds a
// sealed cookie carrying the session token, the record itself lives in a Store.
package session

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("session not found")

// Store persists session records by token. Records expire after the ttl passed to Save.
type Store interface {
	Load(ctx context.Context, id string) (*Record, error)
	Save(ctx context.Context, id string, record *Record, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}
