package store

import (
	"context"
	"fmt"

	"github.com/couchcryptid/uplink-ingest-service/internal/domain"
)

// DeleteDevice removes every uplink and reading for the device.
func (s *Store) DeleteDevice(ctx context.Context, devEUI string) (int64, error) {
	return s.deleteWhere(ctx, ScopeBoth, "dev_eui = ?", devEUI)
}

// DeleteAt removes the device's rows stamped exactly at.
func (s *Store) DeleteAt(ctx context.Context, devEUI, at string, scope Scope) (int64, error) {
	return s.deleteWhere(ctx, scope, "dev_eui = ? AND at = ?", devEUI, domain.CanonicalTime(at))
}

// DeleteRange removes the device's rows within the closed interval r.
func (s *Store) DeleteRange(ctx context.Context, devEUI string, r Range, scope Scope) (int64, error) {
	cond, args := r.where("at", []any{devEUI})
	return s.deleteWhere(ctx, scope, "dev_eui = ?"+cond, args...)
}

// deleteWhere runs the same filter against every table in scope inside one
// transaction and returns the total rows removed.
func (s *Store) deleteWhere(ctx context.Context, scope Scope, where string, args ...any) (int64, error) {
	if _, err := ParseScope(string(scope)); err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, table := range scope.tables() {
		res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE `+where, args...)
		if err != nil {
			return 0, fmt.Errorf("delete from %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("delete from %s: %w", table, err)
		}
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete: %w", err)
	}
	return total, nil
}
