package store

import (
	"context"
	"fmt"
)

// Get builds a fresh record with newRecord and runs its query with params.
// A query that matches nothing returns the empty record (Found reports
// false) and a nil error; any other failure is logged and returned.
func Get[R Record](ctx context.Context, s *Store, newRecord func() R, params Params) (R, error) {
	rec := newRecord()
	if err := s.checkReady(); err != nil {
		return rec, err
	}
	err := rec.RunQuery(ctx, s.conn, params)
	s.metrics.record("get", err)
	if err != nil {
		s.log.Error("query %T failed: %v", rec, err)
		return rec, fmt.Errorf("get %T: %w", rec, err)
	}
	return rec, nil
}

// Insert stores rec. Errors are returned unchanged.
func (s *Store) Insert(ctx context.Context, rec Record) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	err := rec.Insert(ctx, s.conn)
	s.metrics.record("insert", err)
	return err
}

// Update writes rec over its stored row. Errors are returned unchanged.
func (s *Store) Update(ctx context.Context, rec Record) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	err := rec.Update(ctx, s.conn)
	s.metrics.record("update", err)
	return err
}

// Delete removes rec. Errors are returned unchanged.
func (s *Store) Delete(ctx context.Context, rec Record) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	err := rec.Delete(ctx, s.conn)
	s.metrics.record("delete", err)
	return err
}
