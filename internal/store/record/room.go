package record

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/maloquacious/bridgestore/internal/store"
)

// RoomEntry links a Matrix room to a remote channel.
type RoomEntry struct {
	ID       string
	MatrixID string
	RemoteID string

	rows []store.Row
	pos  int
}

// NewRoomEntry is the factory handed to store.Get.
func NewRoomEntry() *RoomEntry {
	return &RoomEntry{}
}

// RunQuery looks entries up by "id", "matrix_id" or "remote_id" and loads the first.
func (r *RoomEntry) RunQuery(ctx context.Context, conn store.Connector, params store.Params) error {
	r.rows, r.pos = nil, 0

	const q = `SELECT id, matrix_id, remote_id FROM room_entries`
	var (
		rows []store.Row
		err  error
	)
	if id, ok := params.String("id"); ok {
		rows, err = conn.All(ctx, q+` WHERE id = $1`, id)
	} else if id, ok := params.String("matrix_id"); ok {
		rows, err = conn.All(ctx, q+` WHERE matrix_id = $1 ORDER BY id`, id)
	} else if id, ok := params.String("remote_id"); ok {
		rows, err = conn.All(ctx, q+` WHERE remote_id = $1 ORDER BY id`, id)
	} else {
		return errors.New("room entry query needs id, matrix_id or remote_id")
	}
	if err != nil {
		return err
	}
	r.rows = rows
	r.Next()
	return nil
}

// Found reports whether the last query matched any entry.
func (r *RoomEntry) Found() bool {
	return len(r.rows) > 0
}

// Next loads the next matched entry.
func (r *RoomEntry) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	row := r.rows[r.pos]
	r.pos++
	r.ID = row.String("id")
	r.MatrixID = row.String("matrix_id")
	r.RemoteID = row.String("remote_id")
	return true
}

// Insert stores the entry, assigning a new ID when it has none.
func (r *RoomEntry) Insert(ctx context.Context, conn store.Connector) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return conn.Run(ctx, `INSERT INTO room_entries (id, matrix_id, remote_id) VALUES ($1, $2, $3)`, r.ID, r.MatrixID, r.RemoteID)
}

// Update rewrites both ids of the entry with ID.
func (r *RoomEntry) Update(ctx context.Context, conn store.Connector) error {
	return conn.Run(ctx, `UPDATE room_entries SET matrix_id = $1, remote_id = $2 WHERE id = $3`, r.MatrixID, r.RemoteID, r.ID)
}

// Delete removes the entry with ID.
func (r *RoomEntry) Delete(ctx context.Context, conn store.Connector) error {
	return conn.Run(ctx, `DELETE FROM room_entries WHERE id = $1`, r.ID)
}
