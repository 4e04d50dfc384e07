package record

import (
	"context"
	"errors"
	"time"

	"github.com/maloquacious/bridgestore/internal/store"
)

// Emoji maps a remote custom emoji to its uploaded Matrix content.
// CreatedAt and UpdatedAt are unix milliseconds.
type Emoji struct {
	EmojiID   string
	Name      string
	Animated  bool
	MxcURL    string
	CreatedAt int64
	UpdatedAt int64

	found bool
	now   func() time.Time
}

// NewEmoji is the factory handed to store.Get.
func NewEmoji() *Emoji {
	return &Emoji{}
}

func (e *Emoji) timestamp() int64 {
	if e.now != nil {
		return e.now().UnixMilli()
	}
	return time.Now().UnixMilli()
}

const selectEmoji = `SELECT emoji_id, name, animated, mxc_url, created_at, updated_at FROM emoji`

// RunQuery looks the emoji up by "emoji_id" or "mxc_url".
func (e *Emoji) RunQuery(ctx context.Context, conn store.Connector, params store.Params) error {
	e.found = false

	var (
		row store.Row
		err error
	)
	if id, ok := params.String("emoji_id"); ok {
		row, err = conn.Get(ctx, selectEmoji+` WHERE emoji_id = $1`, id)
	} else if url, ok := params.String("mxc_url"); ok {
		row, err = conn.Get(ctx, selectEmoji+` WHERE mxc_url = $1`, url)
	} else {
		return errors.New("emoji query needs emoji_id or mxc_url")
	}
	if err != nil || row == nil {
		return err
	}

	e.found = true
	e.EmojiID = row.String("emoji_id")
	e.Name = row.String("name")
	e.Animated = row.Bool("animated")
	e.MxcURL = row.String("mxc_url")
	e.CreatedAt = row.Int64("created_at")
	e.UpdatedAt = row.Int64("updated_at")
	return nil
}

// Found reports whether the last query matched an emoji.
func (e *Emoji) Found() bool {
	return e.found
}

// Insert stores the emoji and stamps both timestamps.
func (e *Emoji) Insert(ctx context.Context, conn store.Connector) error {
	e.CreatedAt = e.timestamp()
	e.UpdatedAt = e.CreatedAt
	return conn.Run(ctx, `INSERT INTO emoji (emoji_id, name, animated, mxc_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.EmojiID, e.Name, boolToInt(e.Animated), e.MxcURL, e.CreatedAt, e.UpdatedAt)
}

// Update rewrites the emoji by EmojiID and refreshes UpdatedAt.
func (e *Emoji) Update(ctx context.Context, conn store.Connector) error {
	e.UpdatedAt = e.timestamp()
	return conn.Run(ctx, `UPDATE emoji SET name = $1, animated = $2, mxc_url = $3, updated_at = $4 WHERE emoji_id = $5`,
		e.Name, boolToInt(e.Animated), e.MxcURL, e.UpdatedAt, e.EmojiID)
}

// Delete removes the emoji by EmojiID.
func (e *Emoji) Delete(ctx context.Context, conn store.Connector) error {
	return conn.Run(ctx, `DELETE FROM emoji WHERE emoji_id = $1`, e.EmojiID)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
