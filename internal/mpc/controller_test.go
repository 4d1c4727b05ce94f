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

package mpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkolo/adaptive-thermal-control/internal/thermal_model"
)

// testModel: tau ~ 2.8h, 2 kW lifts the zone 10 degC above outdoor.
func testModel(t *testing.T) *thermal_model.Model {
	t.Helper()
	m, err := thermal_model.New(thermal_model.Parameters{
		Resistance:  0.005,
		Capacitance: 2e6,
	}, 600)
	require.NoError(t, err)
	return m
}

func testConfig() Config {
	return Config{
		PredictionHorizon: 24,
		ControlHorizon:    12,
		Step:              600,
		ComfortWeight:     0.7,
		EnergyWeight:      0.2,
		SmoothnessWeight:  0.1,
		MaxStep:           30,
		MaxIterations:     1000,
		CostTolerance:     1e-5,
		MaxPower:          2000,
	}
}

func flatSeries(n int, v float64) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func testProblem(np int) Problem {
	return Problem{
		Current:     18,
		Setpoint:    19.5,
		UPrev:       20,
		Outdoor:     flatSeries(np, 10),
		Disturbance: flatSeries(np, 50),
	}
}

func TestFillDefaults(t *testing.T) {
	c := New(Config{})
	cfg := c.Config()
	assert.Equal(t, 24, cfg.PredictionHorizon)
	assert.Equal(t, 12, cfg.ControlHorizon)
	assert.Equal(t, 600.0, cfg.Step)
	assert.Equal(t, 0.7, cfg.ComfortWeight)
	assert.Equal(t, 0.2, cfg.EnergyWeight)
	assert.Equal(t, 0.1, cfg.SmoothnessWeight)
	assert.Equal(t, 50.0, cfg.MaxStep)
	assert.Equal(t, 100, cfg.MaxIterations)
	assert.Equal(t, 2000.0, cfg.MaxPower)

	clipped := New(Config{PredictionHorizon: 6, ControlHorizon: 10})
	assert.Equal(t, 6, clipped.Config().ControlHorizon)
}

func TestSolveRespectsBoundsAndRateLimit(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)
	pb := testProblem(cfg.PredictionHorizon)

	res, err := c.Solve(context.Background(), testModel(t), pb)
	require.NoError(t, err)
	require.Len(t, res.Sequence, cfg.ControlHorizon)
	require.Len(t, res.Trajectory, cfg.PredictionHorizon+1)

	prev := pb.UPrev
	for k, u := range res.Sequence {
		assert.GreaterOrEqual(t, u, 0.0, "step %d below range", k)
		assert.LessOrEqual(t, u, 100.0, "step %d above range", k)
		assert.LessOrEqual(t, u-prev, cfg.MaxStep+1e-9, "step %d ramps up too fast", k)
		assert.LessOrEqual(t, prev-u, cfg.MaxStep+1e-9, "step %d ramps down too fast", k)
		prev = u
	}
	assert.Positive(t, res.Iterations)
	assert.Positive(t, res.Cost)
}

func TestSolveHeatsColdZone(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)
	pb := testProblem(cfg.PredictionHorizon)

	res, err := c.Solve(context.Background(), testModel(t), pb)
	require.NoError(t, err)

	// Zone sits 1.5 degC below setpoint: the plan must push heat and the
	// predicted endpoint must recover most of the gap.
	assert.Greater(t, res.Sequence[0], pb.UPrev)
	assert.Equal(t, pb.Current, res.Trajectory[0])
	assert.Greater(t, res.Trajectory[cfg.PredictionHorizon], pb.Current)
	assert.InDelta(t, pb.Setpoint, res.Trajectory[cfg.PredictionHorizon], 1.0)
}

func TestSolveDeterministic(t *testing.T) {
	cfg := testConfig()
	pb := testProblem(cfg.PredictionHorizon)

	r1, err := New(cfg).Solve(context.Background(), testModel(t), pb)
	require.NoError(t, err)
	r2, err := New(cfg).Solve(context.Background(), testModel(t), pb)
	require.NoError(t, err)

	assert.Equal(t, r1.Sequence, r2.Sequence)
	assert.Equal(t, r1.Trajectory, r2.Trajectory)
	assert.Equal(t, r1.Cost, r2.Cost)
	assert.Equal(t, r1.Iterations, r2.Iterations)
}

func TestSolveTrajectoryMatchesModel(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)
	m := testModel(t)
	pb := testProblem(cfg.PredictionHorizon)

	res, err := c.Solve(context.Background(), m, pb)
	require.NoError(t, err)

	// Replaying the returned plan through the public model API must give the
	// exact trajectory the optimizer reported.
	scale := cfg.MaxPower / 100
	watts := make([]float64, cfg.PredictionHorizon)
	for k := range watts {
		i := k
		if i >= cfg.ControlHorizon {
			i = cfg.ControlHorizon - 1
		}
		watts[k] = scale * res.Sequence[i]
	}
	traj, err := m.Predict(pb.Current, watts, pb.Disturbance, pb.Outdoor)
	require.NoError(t, err)
	assert.Equal(t, traj, res.Trajectory)
}

func TestSolveRateLimitedRampWhenUnderpowered(t *testing.T) {
	// 5 degC of lift demanded but only 4 available: the optimum pegs at the
	// rate limit on the first move and at full output afterwards.
	cfg := testConfig()
	cfg.MaxStep = 50
	c := New(cfg)
	m, err := thermal_model.New(thermal_model.Parameters{
		Resistance:  0.002,
		Capacitance: 4.5e6,
	}, 600)
	require.NoError(t, err)

	pb := Problem{
		Current:     16,
		Setpoint:    21,
		UPrev:       0,
		Outdoor:     flatSeries(cfg.PredictionHorizon, 10),
		Disturbance: flatSeries(cfg.PredictionHorizon, 0),
	}
	res, err := c.Solve(context.Background(), m, pb)
	require.NoError(t, err)

	assert.InDelta(t, 50, res.Sequence[0], 1e-9)
	for k := 1; k < len(res.Sequence); k++ {
		assert.InDelta(t, 100, res.Sequence[k], 1e-9, "step %d", k)
	}
}

func TestSolveWarmStartShiftsPreviousPlan(t *testing.T) {
	c := New(Config{PredictionHorizon: 6, ControlHorizon: 3})

	c.initial(5)
	assert.Equal(t, []float64{5, 5, 5}, c.cur, "cold start fills with the applied control")

	copy(c.warm, []float64{10, 20, 30})
	c.hasWarm = true
	c.initial(5)
	assert.Equal(t, []float64{20, 30, 30}, c.cur, "warm start shifts and repeats the tail")
}

func TestSolveNotConvergedDropsWarmStart(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)
	m := testModel(t)
	pb := testProblem(cfg.PredictionHorizon)

	_, err := c.Solve(context.Background(), m, pb)
	require.NoError(t, err)
	require.True(t, c.hasWarm)

	starved := New(Config{
		PredictionHorizon: cfg.PredictionHorizon,
		ControlHorizon:    cfg.ControlHorizon,
		MaxIterations:     1,
		MaxPower:          cfg.MaxPower,
	})
	copy(starved.warm, c.warm)
	starved.hasWarm = true

	res, err := starved.Solve(context.Background(), m, Problem{
		Current:     12,
		Setpoint:    24,
		UPrev:       0,
		Outdoor:     flatSeries(cfg.PredictionHorizon, -5),
		Disturbance: flatSeries(cfg.PredictionHorizon, 0),
	})
	require.ErrorIs(t, err, ErrNotConverged)
	assert.Nil(t, res.Sequence)
	assert.False(t, starved.hasWarm, "failed solve must not keep a stale plan")
}

func TestSolveTimeout(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)
	m := testModel(t)
	pb := testProblem(cfg.PredictionHorizon)

	_, err := c.Solve(context.Background(), m, pb)
	require.NoError(t, err)
	require.True(t, c.hasWarm)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := c.Solve(ctx, m, pb)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Nil(t, res.Sequence)
	assert.False(t, c.hasWarm)
}

func TestSolveRejectsShortHorizonInputs(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)
	pb := testProblem(cfg.PredictionHorizon)
	pb.Outdoor = pb.Outdoor[:4]

	_, err := c.Solve(context.Background(), testModel(t), pb)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too short")
}

func TestProjectEnforcesBoxAndRate(t *testing.T) {
	c := New(Config{PredictionHorizon: 8, ControlHorizon: 4, MaxStep: 20})

	dst := make([]float64, 4)
	c.project(dst, []float64{150, -40, 55, 70}, 10)
	assert.Equal(t, []float64{30, 10, 30, 50}, dst)

	// An out-of-range previous control is clamped before the rate window
	// is anchored to it.
	c.project(dst, []float64{150, 150, 150, 150}, 130)
	assert.Equal(t, []float64{100, 100, 100, 100}, dst)
}
