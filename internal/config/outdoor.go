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

// OutdoorConfig represents outdoor measurements and the forecast feeds.
// Forecast topics carry a JSON array of {"offset_minutes": m, "value": v}
// pairs relative to publish time.
type OutdoorConfig struct {
	TemperatureSensors     []*SensorConfig `yaml:"temperature_sensors"`
	TemperatureAverageType string          `yaml:"temperature_average_type"`
	ForecastTopic          string          `yaml:"forecast_topic,omitempty"`
	SolarSensors           []*SensorConfig `yaml:"solar_sensors,omitempty"`
	SolarForecastTopic     string          `yaml:"solar_forecast_topic,omitempty"`
	PriceForecastTopic     string          `yaml:"price_forecast_topic,omitempty"`
}

// NewOutdoorConfig creates a new OutdoorConfig with default values
func NewOutdoorConfig() *OutdoorConfig {
	cfg := &OutdoorConfig{}
	cfg.FillDefaults()
	return cfg
}

// FillDefaults sets default values for the OutdoorConfig
func (c *OutdoorConfig) FillDefaults() {
	for _, s := range c.TemperatureSensors {
		s.FillDefaults()
	}
	if c.TemperatureAverageType == "" {
		c.TemperatureAverageType = DefaultAverageType
	}
	for _, s := range c.SolarSensors {
		s.FillDefaults()
	}
}
