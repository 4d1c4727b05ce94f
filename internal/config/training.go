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

// TrainingConfig controls batch identification runs over recorded history.
type TrainingConfig struct {
	Interval   *float64 `yaml:"interval"`
	WindowDays *int     `yaml:"window_days"`
	MinSamples *int     `yaml:"min_samples"`
}

func NewTrainingConfig() *TrainingConfig {
	cfg := &TrainingConfig{}
	cfg.FillDefaults()
	return cfg
}

func (c *TrainingConfig) FillDefaults() {
	if c.Interval == nil {
		c.Interval = GetPTR(86400.0)
	}
	if c.WindowDays == nil {
		c.WindowDays = GetPTR(30)
	}
	if c.MinSamples == nil {
		c.MinSamples = GetPTR(100)
	}
}
