package database

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Cleanup removes history rows older than retention.
func (db *Database) Cleanup(ctx context.Context, retention time.Duration) error {
	cutoff := time.Now().Add(-retention)
	for _, table := range []string{"temperature_sensor_history", "device_state_history"} {
		tag, err := db.pool.Exec(ctx, "DELETE FROM "+table+" WHERE ts_create < $1", cutoff)
		if err != nil {
			return err
		}
		db.logger.Info("history cleaned", zap.String("table", table), zap.Int64("rows", tag.RowsAffected()))
	}
	return nil
}
