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

// Package pi implements the discrete PI fallback controller
//
//	u(k) = Kp*e(k) + (Kp/Ti) * sum e(j)*dt
//
// used whenever the predictive path is unavailable: before a model exists,
// while one is retraining, or after the optimizer has been benched by the
// supervisor. Gains default to values that behave well on the slow dynamics
// of hydronic floors.
package pi

// Config holds the controller gains. Zero values fall back to the stock
// floor-heating tuning.
type Config struct {
	Kp              float64 // proportional gain, % per degC
	Ti              float64 // integral time, seconds
	Dt              float64 // sampling time, seconds
	OutputMin       float64 // percent
	OutputMax       float64 // percent
	AntiWindupLimit float64 // percent of output the integral alone may demand
}

func (c *Config) fillDefaults() {
	if c.Kp <= 0 {
		c.Kp = 10
	}
	if c.Ti <= 0 {
		c.Ti = 1500
	}
	if c.Dt <= 0 {
		c.Dt = 600
	}
	if c.OutputMax <= c.OutputMin {
		c.OutputMin = 0
		c.OutputMax = 100
	}
	if c.AntiWindupLimit <= 0 {
		c.AntiWindupLimit = 100
	}
}

// State is a diagnostic snapshot, published alongside zone status.
type State struct {
	Integral   float64 `json:"integral"`
	LastError  float64 `json:"last_error"`
	LastOutput float64 `json:"last_output"`
	Saturated  bool    `json:"saturated"`
}

// Controller is a discrete PI regulator with conditional integration: while
// the output rails, the integral holds so recovery does not overshoot. Not
// safe for concurrent use.
type Controller struct {
	cfg Config

	integral   float64
	lastError  float64
	lastOutput float64
	saturated  bool
}

func New(cfg Config) *Controller {
	cfg.fillDefaults()
	return &Controller{cfg: cfg}
}

func (c *Controller) Config() Config { return c.cfg }

// Update advances the controller one sampling interval and returns the valve
// percentage. The saturation latch from the previous interval gates the
// integrator, so a railed output stops accumulating one step after it rails.
func (c *Controller) Update(setpoint, measurement float64) float64 {
	e := setpoint - measurement

	if !c.saturated {
		c.integral += e * c.cfg.Dt
	}

	limit := c.cfg.AntiWindupLimit / (c.cfg.Kp / c.cfg.Ti)
	if c.integral > limit {
		c.integral = limit
	} else if c.integral < -limit {
		c.integral = -limit
	}

	u := c.cfg.Kp*e + (c.cfg.Kp/c.cfg.Ti)*c.integral

	bounded := u
	if bounded < c.cfg.OutputMin {
		bounded = c.cfg.OutputMin
	} else if bounded > c.cfg.OutputMax {
		bounded = c.cfg.OutputMax
	}

	c.saturated = u != bounded
	c.lastError = e
	c.lastOutput = bounded
	return bounded
}

// Reset clears the accumulated state. Call it on mode changes, large setpoint
// jumps and when the controller takes over from the predictive path.
func (c *Controller) Reset() {
	c.integral = 0
	c.lastError = 0
	c.lastOutput = 0
	c.saturated = false
}

func (c *Controller) State() State {
	return State{
		Integral:   c.integral,
		LastError:  c.lastError,
		LastOutput: c.lastOutput,
		Saturated:  c.saturated,
	}
}
