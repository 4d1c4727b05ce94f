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
	"database/sql"
	"time"
)

// Signal names recorded in the samples table.
const (
	SignalTemperature = "temperature"
	SignalPower       = "power"
	SignalOutdoor     = "outdoor"
	SignalSolar       = "solar"
	SignalPrice       = "price"
)

type Sample struct {
	ID       int64     `db:"id"`
	ZoneName string    `db:"zone_name"`
	Signal   string    `db:"signal"`
	TS       time.Time `db:"ts"`
	Value    float64   `db:"value"`
}

type SensorReading struct {
	Value     float64   `db:"value"`
	UpdatedAt time.Time `db:"updated_at"`
}

type ZoneState struct {
	ZoneName    string       `db:"zone_name"`
	Setpoint    float64      `db:"setpoint"`
	Preset      string       `db:"preset"`
	ControlMode string       `db:"control_mode"`
	Failures    int64        `db:"failures"`
	Successes   int64        `db:"successes"`
	DisabledAt  sql.NullTime `db:"disabled_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
}
