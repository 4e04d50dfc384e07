package store

import (
	"context"
)

// StoreState represents the initialization state of the datastore.
type StoreState int

const (
	StateMissing         StoreState = iota // File doesn't exist
	StateUninitialized                     // Reachable but no schema
	StateVersionMismatch                   // Schema exists but wrong version
	StateReady                             // Initialized and correct version
)

func (s StoreState) String() string {
	switch s {
	case StateMissing:
		return "missing"
	case StateUninitialized:
		return "uninitialized"
	case StateVersionMismatch:
		return "version-mismatch"
	case StateReady:
		return "ready"
	}
	return "unknown"
}

// Connector defines the storage access contract implemented by each backend.
// Statements use $1..$n placeholders.
type Connector interface {
	// Open establishes the underlying connection
	Open(ctx context.Context) error

	// Close releases the connection; calling it twice is a no-op
	Close() error

	// Exec runs one or more statements that return no rows and take no parameters
	Exec(ctx context.Context, statement string) error

	// Run runs a single parameterised statement that returns no rows
	Run(ctx context.Context, statement string, args ...any) error

	// Get returns the first matching row, or nil when nothing matches
	Get(ctx context.Context, statement string, args ...any) (Row, error)

	// All returns every matching row in order; never nil
	All(ctx context.Context, statement string, args ...any) ([]Row, error)
}

// FileBacked is implemented by connectors whose storage is a single local file.
type FileBacked interface {
	FilePath() string
}

// checkpointer is implemented by connectors that buffer writes outside the
// main file and can flush them before a byte copy.
type checkpointer interface {
	Checkpoint(ctx context.Context) error
}

// Record is a storage-backed entity that knows its own SQL.
// Records never own a connector; one is handed to every call.
type Record interface {
	// RunQuery populates the record from the rows matching params.
	// Matching nothing is not an error; Found reports false afterwards.
	RunQuery(ctx context.Context, conn Connector, params Params) error

	// Found reports whether the last RunQuery matched at least one row.
	Found() bool

	Insert(ctx context.Context, conn Connector) error
	Update(ctx context.Context, conn Connector) error
	Delete(ctx context.Context, conn Connector) error
}

// RoomLink is a bridged room known to a legacy room directory.
type RoomLink struct {
	MatrixID string
	RemoteID string
}

// RoomDirectory supplies the rooms imported by schema version 8.
type RoomDirectory interface {
	RoomLinks(ctx context.Context) ([]RoomLink, error)
}

// RemoteUser is a remote account known to a legacy user directory.
type RemoteUser struct {
	RemoteID    string
	DisplayName string
	AvatarURL   string
}

// UserDirectory supplies the users imported by schema version 9.
type UserDirectory interface {
	RemoteUsers(ctx context.Context) ([]RemoteUser, error)
}
