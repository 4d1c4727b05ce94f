/*
 * Copyright (c) 2025. Jakub Kolo -- All Rights Reserved
 *
 * This file is part of ATC project.
 *
 * ATC is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as the Free Software Foundation,
 * either version 3 of the License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package db

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

type Queries struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Queries {
	return &Queries{db: db}
}

const upsertControllerValue = `
INSERT INTO controller_values (name, value)
VALUES (?, ?)
ON CONFLICT (name) DO UPDATE SET value = excluded.value
`

type UpsertControllerValueParams struct {
	Name  string
	Value string
}

func (q *Queries) UpsertControllerValue(ctx context.Context, arg UpsertControllerValueParams) error {
	_, err := q.db.ExecContext(ctx, upsertControllerValue, arg.Name, arg.Value)
	return errors.Wrapf(err, "upsert controller value %q", arg.Name)
}

const getControllerValue = `
SELECT value FROM controller_values WHERE name = ?
`

func (q *Queries) GetControllerValue(ctx context.Context, name string) (string, error) {
	var value string
	err := q.db.GetContext(ctx, &value, getControllerValue, name)
	return value, err
}

const upsertSensorValue = `
INSERT INTO sensor_values (sensor_name, value, updated_at)
VALUES (?, ?, ?)
ON CONFLICT (sensor_name) DO UPDATE SET value      = excluded.value,
                                        updated_at = excluded.updated_at
`

type UpsertSensorValueParams struct {
	SensorName string
	Value      float64
}

func (q *Queries) UpsertSensorValue(ctx context.Context, arg UpsertSensorValueParams) error {
	_, err := q.db.ExecContext(ctx, upsertSensorValue, arg.SensorName, arg.Value, time.Now().UTC())
	return errors.Wrapf(err, "upsert sensor value %q", arg.SensorName)
}

const getSensorReading = `
SELECT value, updated_at FROM sensor_values WHERE sensor_name = ?
`

// GetSensorReading returns the stored value with its original update time,
// so a reading restored after a restart does not masquerade as fresh.
func (q *Queries) GetSensorReading(ctx context.Context, sensorName string) (SensorReading, error) {
	var reading SensorReading
	err := q.db.GetContext(ctx, &reading, getSensorReading, sensorName)
	return reading, err
}

const upsertZoneState = `
INSERT INTO zone_states (zone_name, setpoint, preset, control_mode, failures, successes, disabled_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (zone_name) DO UPDATE SET setpoint     = excluded.setpoint,
                                      preset       = excluded.preset,
                                      control_mode = excluded.control_mode,
                                      failures     = excluded.failures,
                                      successes    = excluded.successes,
                                      disabled_at  = excluded.disabled_at,
                                      updated_at   = excluded.updated_at
`

type UpsertZoneStateParams struct {
	ZoneName    string
	Setpoint    float64
	Preset      string
	ControlMode string
	Failures    int64
	Successes   int64
	DisabledAt  *time.Time
}

func (q *Queries) UpsertZoneState(ctx context.Context, arg UpsertZoneStateParams) error {
	_, err := q.db.ExecContext(
		ctx, upsertZoneState,
		arg.ZoneName, arg.Setpoint, arg.Preset, arg.ControlMode, arg.Failures, arg.Successes,
		arg.DisabledAt, time.Now().UTC(),
	)
	return errors.Wrapf(err, "upsert zone state %q", arg.ZoneName)
}

const getZoneState = `
SELECT zone_name, setpoint, preset, control_mode, failures, successes, disabled_at, updated_at
FROM zone_states
WHERE zone_name = ?
`

func (q *Queries) GetZoneState(ctx context.Context, zoneName string) (ZoneState, error) {
	var state ZoneState
	err := q.db.GetContext(ctx, &state, getZoneState, zoneName)
	return state, err
}

const insertSample = `
INSERT INTO samples (zone_name, signal, ts, value)
VALUES (?, ?, ?, ?)
`

type InsertSampleParams struct {
	ZoneName string
	Signal   string
	TS       time.Time
	Value    float64
}

func (q *Queries) InsertSample(ctx context.Context, arg InsertSampleParams) error {
	_, err := q.db.ExecContext(ctx, insertSample, arg.ZoneName, arg.Signal, arg.TS.UTC(), arg.Value)
	return errors.Wrapf(err, "insert %s sample for %q", arg.Signal, arg.ZoneName)
}

const getSamples = `
SELECT id, zone_name, signal, ts, value
FROM samples
WHERE zone_name = ?
  AND signal = ?
  AND ts >= ?
  AND ts < ?
ORDER BY ts
`

type GetSamplesParams struct {
	ZoneName string
	Signal   string
	From     time.Time
	To       time.Time
}

func (q *Queries) GetSamples(ctx context.Context, arg GetSamplesParams) ([]Sample, error) {
	var samples []Sample
	err := q.db.SelectContext(
		ctx, &samples, getSamples,
		arg.ZoneName, arg.Signal, arg.From.UTC(), arg.To.UTC(),
	)
	return samples, errors.Wrapf(err, "get %s samples for %q", arg.Signal, arg.ZoneName)
}

const pruneSamples = `
DELETE FROM samples WHERE ts < ?
`

func (q *Queries) PruneSamples(ctx context.Context, before time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, pruneSamples, before.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "prune samples")
	}
	return res.RowsAffected()
}
