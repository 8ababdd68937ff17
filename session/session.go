package session

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Session is one cached connection. The database handle is capped at a
// single underlying connection, so session state (temp tables, SET
// options, open transactions) survives across statements run through it.
type Session struct {
	id        string
	key       Key
	desc      Descriptor
	db        *sql.DB
	createdAt time.Time

	// owner ties the session to its cache entry so a stale release
	// cannot poison a rebuilt entry for the same key.
	owner *entry
}

func newSession(desc Descriptor, db *sql.DB, now time.Time) *Session {
	return &Session{
		id:        uuid.NewString(),
		key:       desc.Key(),
		desc:      desc.Normalize(),
		db:        db,
		createdAt: now,
	}
}

// ID identifies this session instance. A rebuilt session gets a fresh ID
// even though it serves the same descriptor.
func (s *Session) ID() string {
	return s.id
}

// DB exposes the session's database handle for query execution.
func (s *Session) DB() *sql.DB {
	return s.db
}

// Descriptor returns the normalized descriptor this session serves.
func (s *Session) Descriptor() Descriptor {
	return s.desc
}

// CreatedAt reports when the session was established.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Close tears down the underlying connection.
func (s *Session) Close() error {
	return s.db.Close()
}
