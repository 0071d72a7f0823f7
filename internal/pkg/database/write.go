package database

import (
	"context"
	"time"
)

func (db *Database) WriteTemperature(ctx context.Context, deviceName string, temperature float64) error {
	if _, err := db.pool.Exec(ctx, `
		INSERT INTO temperature_sensor_history (device_name, temperature, ts_create)
		VALUES ($1, $2, now())
	`, deviceName, temperature); err != nil {
		return err
	}
	return nil
}

func (db *Database) WriteDeviceState(ctx context.Context, deviceName string, state []byte) error {
	if _, err := db.pool.Exec(ctx, `
		INSERT INTO device_state_history (device_name, state, ts_create)
		VALUES ($1, $2, now())
	`, deviceName, string(state)); err != nil {
		return err
	}
	return nil
}

// WritePlan stores a heating plan running from start to end, time of day only.
func (db *Database) WritePlan(ctx context.Context, start, end time.Time, boost bool, regulationMap []byte) error {
	startClock := start.Format(time.TimeOnly)
	endClock := end.Format(time.TimeOnly)
	if _, err := db.pool.Exec(ctx, `
		INSERT INTO heating_plan (starting_time, ending_time, end_the_next_day, boost, regulation_map, ts_created)
		VALUES ($1::time, $2::time, $3, $4, $5::jsonb, clock_timestamp())
	`, startClock, endClock, endClock <= startClock, boost, string(regulationMap)); err != nil {
		return err
	}
	return nil
}
