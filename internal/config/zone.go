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

package config

const (
	zoneDefaultArea     = 20.0
	zoneDefaultMaxPower = 2000.0
)

type ZoneConfig struct {
	Area               *float64           `yaml:"area"`
	MaxPower           *float64           `yaml:"max_power"`
	Weight             *float64           `yaml:"weight"`
	SensorsAverageType string             `yaml:"sensors_average_type"`
	Setpoint           *SetpointConfig    `yaml:"setpoint"`
	Sensors            []*SensorConfig    `yaml:"sensors"`
	PowerSensors       []*SensorConfig    `yaml:"power_sensors,omitempty"`
	Valve              *ValveConfig       `yaml:"valve"`
	Neighbors          map[string]float64 `yaml:"neighbors,omitempty"`
	// Windows lists glazing orientations (n, ne, e, se, s, sw, w, nw).
	// A zone without windows gets no solar gain term.
	Windows          []string `yaml:"windows,omitempty"`
	SolarCoefficient *float64 `yaml:"solar_coefficient,omitempty"`
}

func (z *ZoneConfig) FillDefaults() {
	if z.SensorsAverageType == "" {
		z.SensorsAverageType = DefaultAverageType
	}
	if z.Weight == nil {
		z.Weight = GetPTR(zoneDefaultWeight)
	}
	if z.Area == nil {
		z.Area = GetPTR(zoneDefaultArea)
	}
	if z.MaxPower == nil {
		z.MaxPower = GetPTR(zoneDefaultMaxPower)
	}
	if z.Setpoint == nil {
		z.Setpoint = NewSetpointConfig()
	}
	if z.Valve == nil {
		z.Valve = NewValveConfig()
	}

	z.Setpoint.FillDefaults()
	z.Valve.FillDefaults()
	for _, s := range z.Sensors {
		s.FillDefaults()
	}
	for _, s := range z.PowerSensors {
		s.FillDefaults()
	}
}

func NewZoneConfig() *ZoneConfig {
	return &ZoneConfig{
		Sensors:  make([]*SensorConfig, 0),
		Setpoint: NewSetpointConfig(),
		Valve:    NewValveConfig(),
	}
}
