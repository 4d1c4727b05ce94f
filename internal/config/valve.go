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

// ValveConfig describes a zone actuator. Position actuators take a numeric
// 0..100 payload; plain on/off actuators are driven with a duty cycle and the
// configured payloads. Time quantities are seconds.
type ValveConfig struct {
	Topic      string   `yaml:"topic"`
	Position   bool     `yaml:"position"`
	OnPayload  string   `yaml:"on_payload,omitempty"`
	OffPayload string   `yaml:"off_payload,omitempty"`
	Period     *float64 `yaml:"period"`
	MinOn      *float64 `yaml:"min_on"`
	MinOff     *float64 `yaml:"min_off"`
	OpenTime   *float64 `yaml:"open_time,omitempty"`
	CloseTime  *float64 `yaml:"close_time,omitempty"`
}

func NewValveConfig() *ValveConfig {
	cfg := &ValveConfig{}
	cfg.FillDefaults()
	return cfg
}

func (c *ValveConfig) FillDefaults() {
	if c.OnPayload == "" {
		c.OnPayload = "ON"
	}
	if c.OffPayload == "" {
		c.OffPayload = "OFF"
	}
	if c.Period == nil {
		c.Period = GetPTR(1800.0)
	}
	if c.MinOn == nil {
		c.MinOn = GetPTR(60.0)
	}
	if c.MinOff == nil {
		c.MinOff = GetPTR(60.0)
	}
}
