package store

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// AddUserToken links a Matrix user to a remote account and stores the
// account's token. The two rows are written concurrently and both must
// succeed. There is no compensation: when one write fails the other may
// already be committed, or may have been cancelled before it ran. Callers
// that retry should expect either state.
func (s *Store) AddUserToken(ctx context.Context, userID, remoteID, token string) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.conn.Run(gctx, `INSERT INTO user_id_remote_id (user_id, remote_id) VALUES ($1, $2)`, userID, remoteID)
	})
	g.Go(func() error {
		return s.conn.Run(gctx, `INSERT INTO remote_id_token (remote_id, token) VALUES ($1, $2)`, remoteID, token)
	})
	err := g.Wait()
	s.metrics.record("add_user_token", err)
	if err != nil {
		s.log.Error("add token for %s failed, association may be partial: %v", remoteID, err)
		return fmt.Errorf("add user token: %w", err)
	}
	return nil
}

// GetUserRemoteIDs returns the remote accounts linked to userID.
func (s *Store) GetUserRemoteIDs(ctx context.Context, userID string) ([]string, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	rows, err := s.conn.All(ctx, `SELECT remote_id FROM user_id_remote_id WHERE user_id = $1 ORDER BY remote_id`, userID)
	s.metrics.record("get_user_remote_ids", err)
	if err != nil {
		return nil, fmt.Errorf("get remote ids for %s: %w", userID, err)
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.String("remote_id"))
	}
	return ids, nil
}

// GetToken returns the token stored for remoteID, or "" when there is none.
func (s *Store) GetToken(ctx context.Context, remoteID string) (string, error) {
	if err := s.checkReady(); err != nil {
		return "", err
	}
	row, err := s.conn.Get(ctx, `SELECT token FROM remote_id_token WHERE remote_id = $1`, remoteID)
	s.metrics.record("get_token", err)
	if err != nil {
		return "", fmt.Errorf("get token for %s: %w", remoteID, err)
	}
	if row == nil {
		return "", nil
	}
	return row.String("token"), nil
}

// DeleteUserToken removes the token of remoteID and every user link to it.
// Like AddUserToken, the two deletes are independent.
func (s *Store) DeleteUserToken(ctx context.Context, remoteID string) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.conn.Run(gctx, `DELETE FROM user_id_remote_id WHERE remote_id = $1`, remoteID)
	})
	g.Go(func() error {
		return s.conn.Run(gctx, `DELETE FROM remote_id_token WHERE remote_id = $1`, remoteID)
	})
	err := g.Wait()
	s.metrics.record("delete_user_token", err)
	if err != nil {
		return fmt.Errorf("delete user token: %w", err)
	}
	return nil
}
