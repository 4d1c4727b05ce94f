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

// ControlConfig groups tunables of the control loop: cycle timing, optimizer
// horizons and weights, fallback and failsafe limits, and house-wide power
// arbitration. Time quantities are seconds.
type ControlConfig struct {
	Interval          *float64 `yaml:"interval"`
	PredictionHorizon *int     `yaml:"prediction_horizon"`
	ControlHorizon    *int     `yaml:"control_horizon"`
	ComfortWeight     *float64 `yaml:"comfort_weight"`
	EnergyWeight      *float64 `yaml:"energy_weight"`
	SmoothnessWeight  *float64 `yaml:"smoothness_weight"`
	MaxControlStep    *float64 `yaml:"max_control_step"`
	SolverTimeout     *float64 `yaml:"solver_timeout"`
	MPCRetryInterval  *float64 `yaml:"mpc_retry_interval"`
	MaxTotalPower     *float64 `yaml:"max_total_power"`
	StarvationBoost   *float64 `yaml:"starvation_boost"`
	MaxSensorAge      *float64 `yaml:"max_sensor_age"`
	AwayOffset        *float64 `yaml:"away_offset"`
	SleepOffset       *float64 `yaml:"sleep_offset"`
	PIProportional    *float64 `yaml:"pi_proportional"`
	PIIntegralTime    *float64 `yaml:"pi_integral_time"`
}

func NewControlConfig() *ControlConfig {
	cfg := &ControlConfig{}
	cfg.FillDefaults()
	return cfg
}

func (c *ControlConfig) FillDefaults() {
	if c.Interval == nil {
		c.Interval = GetPTR(600.0)
	}
	if c.PredictionHorizon == nil {
		c.PredictionHorizon = GetPTR(24)
	}
	if c.ControlHorizon == nil {
		c.ControlHorizon = GetPTR(12)
	}
	if c.ComfortWeight == nil {
		c.ComfortWeight = GetPTR(0.7)
	}
	if c.EnergyWeight == nil {
		c.EnergyWeight = GetPTR(0.2)
	}
	if c.SmoothnessWeight == nil {
		c.SmoothnessWeight = GetPTR(0.1)
	}
	if c.MaxControlStep == nil {
		c.MaxControlStep = GetPTR(50.0)
	}
	if c.SolverTimeout == nil {
		c.SolverTimeout = GetPTR(10.0)
	}
	if c.MPCRetryInterval == nil {
		c.MPCRetryInterval = GetPTR(3600.0)
	}
	if c.MaxTotalPower == nil {
		c.MaxTotalPower = GetPTR(10000.0)
	}
	if c.StarvationBoost == nil {
		c.StarvationBoost = GetPTR(0.1)
	}
	if c.MaxSensorAge == nil {
		c.MaxSensorAge = GetPTR(1800.0)
	}
	if c.AwayOffset == nil {
		c.AwayOffset = GetPTR(-3.0)
	}
	if c.SleepOffset == nil {
		c.SleepOffset = GetPTR(-1.0)
	}
	if c.PIProportional == nil {
		c.PIProportional = GetPTR(10.0)
	}
	if c.PIIntegralTime == nil {
		c.PIIntegralTime = GetPTR(1500.0)
	}
}
