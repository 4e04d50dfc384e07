// Package record holds the storage-backed entities served by the store's
// record gateway. Each record carries its own SQL.
package record

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/maloquacious/bridgestore/internal/store"
)

// EventMapping links a Matrix event to the remote message it was bridged
// from or to. One Matrix event can map to several remote messages and the
// reverse; a query keeps every match and Next walks through them.
type EventMapping struct {
	MatrixID  string
	RemoteID  string
	GuildID   string
	ChannelID string

	rows []store.Row
	pos  int
}

// NewEventMapping is the factory handed to store.Get.
func NewEventMapping() *EventMapping {
	return &EventMapping{}
}

const selectEvents = `SELECT e.matrix_id, e.remote_id, m.guild_id, m.channel_id
	FROM event_store e
	LEFT JOIN remote_msg_store m ON m.msg_id = e.remote_id`

// RunQuery looks mappings up by "matrix_id" or "remote_id" and loads the first.
func (e *EventMapping) RunQuery(ctx context.Context, conn store.Connector, params store.Params) error {
	e.rows, e.pos = nil, 0

	var (
		rows []store.Row
		err  error
	)
	if id, ok := params.String("matrix_id"); ok {
		rows, err = conn.All(ctx, selectEvents+` WHERE e.matrix_id = $1 ORDER BY e.remote_id`, id)
	} else if id, ok := params.String("remote_id"); ok {
		rows, err = conn.All(ctx, selectEvents+` WHERE e.remote_id = $1 ORDER BY e.matrix_id`, id)
	} else {
		return errors.New("event mapping query needs matrix_id or remote_id")
	}
	if err != nil {
		return err
	}

	e.rows = rows
	e.Next()
	return nil
}

// Found reports whether the last query matched anything.
func (e *EventMapping) Found() bool {
	return len(e.rows) > 0
}

// Next loads the next matched mapping into the exported fields.
func (e *EventMapping) Next() bool {
	if e.pos >= len(e.rows) {
		return false
	}
	row := e.rows[e.pos]
	e.pos++
	e.MatrixID = row.String("matrix_id")
	e.RemoteID = row.String("remote_id")
	e.GuildID = row.String("guild_id")
	e.ChannelID = row.String("channel_id")
	return true
}

// Insert writes the mapping and its remote message location concurrently.
// Both must succeed; a failed half is not undone.
func (e *EventMapping) Insert(ctx context.Context, conn store.Connector) error {
	if e.MatrixID == "" || e.RemoteID == "" {
		return errors.New("event mapping needs both matrix and remote ids")
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return conn.Run(gctx, `INSERT INTO event_store (matrix_id, remote_id) VALUES ($1, $2)`, e.MatrixID, e.RemoteID)
	})
	g.Go(func() error {
		return conn.Run(gctx, `INSERT INTO remote_msg_store (msg_id, guild_id, channel_id) VALUES ($1, $2, $3)
			ON CONFLICT (msg_id) DO NOTHING`, e.RemoteID, e.GuildID, e.ChannelID)
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("insert event mapping %s: %w", e.MatrixID, err)
	}
	return nil
}

// Update is not supported: a mapping is identified by both of its ids.
func (e *EventMapping) Update(context.Context, store.Connector) error {
	return fmt.Errorf("update event mapping: %w", errors.ErrUnsupported)
}

// Delete removes the mapping. The remote message location is removed only
// when no other mapping still refers to it, so the two deletes run in order.
func (e *EventMapping) Delete(ctx context.Context, conn store.Connector) error {
	err := conn.Run(ctx, `DELETE FROM event_store WHERE matrix_id = $1 AND remote_id = $2`, e.MatrixID, e.RemoteID)
	if err != nil {
		return fmt.Errorf("delete event mapping %s: %w", e.MatrixID, err)
	}
	err = conn.Run(ctx, `DELETE FROM remote_msg_store WHERE msg_id = $1
		AND NOT EXISTS (SELECT 1 FROM event_store WHERE remote_id = $2)`, e.RemoteID, e.RemoteID)
	if err != nil {
		return fmt.Errorf("delete remote message %s: %w", e.RemoteID, err)
	}
	return nil
}
