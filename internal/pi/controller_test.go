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

package pi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkolo/adaptive-thermal-control/internal/thermal_model"
)

func TestFillDefaults(t *testing.T) {
	cfg := New(Config{}).Config()
	assert.Equal(t, 10.0, cfg.Kp)
	assert.Equal(t, 1500.0, cfg.Ti)
	assert.Equal(t, 600.0, cfg.Dt)
	assert.Equal(t, 0.0, cfg.OutputMin)
	assert.Equal(t, 100.0, cfg.OutputMax)
	assert.Equal(t, 100.0, cfg.AntiWindupLimit)
}

func TestUpdateCombinesProportionalAndIntegral(t *testing.T) {
	c := New(Config{})

	// e=1: P = 10, integral = 600 s*degC, I = (10/1500)*600 = 4.
	u := c.Update(21, 20)
	assert.InDelta(t, 14, u, 1e-9)

	st := c.State()
	assert.InDelta(t, 600, st.Integral, 1e-9)
	assert.InDelta(t, 1, st.LastError, 1e-9)
	assert.False(t, st.Saturated)
}

func TestUpdateStopsIntegratingWhileRailed(t *testing.T) {
	c := New(Config{})

	u := c.Update(25, 15)
	assert.Equal(t, 100.0, u)
	require.True(t, c.State().Saturated)
	assert.InDelta(t, 6000, c.State().Integral, 1e-9)

	// Still railed: the integral must hold, not grow by another 6000.
	u = c.Update(25, 15)
	assert.Equal(t, 100.0, u)
	assert.InDelta(t, 6000, c.State().Integral, 1e-9)
}

func TestUpdateRecoversFromSaturationWithoutOvershoot(t *testing.T) {
	c := New(Config{})

	u := c.Update(25, 15)
	require.Equal(t, 100.0, u)

	// Measurement overshoots. The latch still blocks this step's
	// integration, so u = -5 + 40 from the held integral.
	u = c.Update(25, 25.5)
	assert.InDelta(t, 35, u, 1e-9)
	assert.False(t, c.State().Saturated)

	// Unsaturated again: integration resumes, 6000 - 300 = 5700.
	u = c.Update(25, 25.5)
	assert.InDelta(t, 33, u, 1e-9)
	assert.InDelta(t, 5700, c.State().Integral, 1e-9)
}

func TestUpdateClampsIntegral(t *testing.T) {
	// Output ceiling out of reach so only the integral clamp limits growth:
	// 100% / (Kp/Ti) = 15000 s*degC.
	c := New(Config{OutputMax: 1000})

	c.Update(25, 15)
	c.Update(25, 15)
	c.Update(25, 15)

	assert.InDelta(t, 15000, c.State().Integral, 1e-6)
	assert.InDelta(t, 200, c.State().LastOutput, 1e-6)
}

func TestUpdateClampsLowOutput(t *testing.T) {
	c := New(Config{})

	u := c.Update(19, 20)
	assert.Equal(t, 0.0, u)
	assert.True(t, c.State().Saturated)
}

func TestReset(t *testing.T) {
	c := New(Config{})
	c.Update(25, 15)
	c.Reset()
	assert.Equal(t, State{}, c.State())

	u := c.Update(21, 20)
	assert.InDelta(t, 14, u, 1e-9, "post-reset behavior must match a fresh controller")
}

func TestClosedLoopReachesSetpoint(t *testing.T) {
	m, err := thermal_model.New(thermal_model.Parameters{
		Resistance:  0.005,
		Capacitance: 2e6,
	}, 600)
	require.NoError(t, err)

	c := New(Config{})
	temp := 18.0
	for i := 0; i < 60; i++ {
		u := c.Update(19, temp)
		temp = m.Advance(temp, u*20, 0, 10)
	}
	assert.InDelta(t, 19, temp, 0.3, "integral action must remove the steady-state error")
}
