package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/denis-papin/ava-home/internal/pkg/message"
	"github.com/denis-papin/ava-home/internal/pkg/regulation"
)

type Temperature struct {
	DeviceName  string
	Temperature float64
	TimeStamp   time.Time
}

// LatestTemperatures returns the last recorded temperature of every sensor,
// keyed by device name.
func (db *Database) LatestTemperatures(ctx context.Context) (map[string]float64, error) {
	const query = `
	SELECT DISTINCT ON (device_name) device_name, temperature, ts_create
	FROM temperature_sensor_history
	ORDER BY device_name, ts_create DESC;
	`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	temps, err := scanTemperatures(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(temps))
	for _, t := range temps {
		out[t.DeviceName] = t.Temperature
	}
	return out, nil
}

func scanTemperatures(rows pgx.Rows) ([]Temperature, error) {
	var temps []Temperature
	for rows.Next() {
		var t Temperature
		if err := rows.Scan(&t.DeviceName, &t.Temperature, &t.TimeStamp); err != nil {
			return nil, err
		}
		temps = append(temps, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return temps, nil
}

// LatestDeviceState returns the last persisted state of a device, or nil when
// none was ever recorded.
func (db *Database) LatestDeviceState(ctx context.Context, topic string) ([]byte, error) {
	const query = `
	SELECT state
	FROM device_state_history
	WHERE device_name = $1
	ORDER BY ts_create DESC
	LIMIT 1;
	`

	var state string
	if err := db.pool.QueryRow(ctx, query, topic).Scan(&state); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return []byte(state), nil
}

// CurrentPlan returns the most recently created heating plan whose window
// contains the local time of now. Windows flagged end_the_next_day wrap past
// midnight. Boost plans only take part when boost is set, and then win over
// normal ones.
func (db *Database) CurrentPlan(ctx context.Context, now time.Time, boost bool) (message.RegulationMap, error) {
	const query = `
	SELECT regulation_map
	FROM heating_plan
	WHERE (boost = false OR $2)
	AND (
		(end_the_next_day = true AND (starting_time <= $1::time OR $1::time < ending_time))
		OR (end_the_next_day = false AND starting_time <= $1::time AND $1::time < ending_time)
	)
	ORDER BY boost DESC, ts_created DESC
	LIMIT 1;
	`

	var raw []byte
	if err := db.pool.QueryRow(ctx, query, now.Format(time.TimeOnly), boost).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return message.RegulationMap{}, regulation.ErrNoPlan
		}
		return message.RegulationMap{}, err
	}
	msg, err := message.Parse(message.KindRegulationMap, raw)
	if err != nil {
		return message.RegulationMap{}, fmt.Errorf("heating plan: %w", err)
	}
	return msg.(message.RegulationMap), nil
}

// LatestDeviceStates returns the last persisted state of every device.
func (db *Database) LatestDeviceStates(ctx context.Context) (map[string][]byte, error) {
	const query = `
	SELECT DISTINCT ON (device_name) device_name, state
	FROM device_state_history
	ORDER BY device_name, ts_create DESC;
	`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var name, state string
		if err := rows.Scan(&name, &state); err != nil {
			return nil, err
		}
		out[name] = []byte(state)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
