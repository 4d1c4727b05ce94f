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

package training

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkolo/adaptive-thermal-control/internal/thermal_model"
)

var t0 = time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

const step = 10 * time.Minute

// synthesizeHistory rolls the exact discrete model and returns raw series on
// the control grid.
func synthesizeHistory(n int, r, c float64) (temp, power, outdoor Series) {
	a := math.Exp(-step.Seconds() / (r * c))
	b := r * (1 - a)
	cc := 1 - a

	tz := 18.0
	for k := 0; k < n; k++ {
		q := 0.0
		if (k/12)%2 == 0 {
			q = 2000.0
		}
		tout := 5.0 + 4*math.Sin(float64(k)/18)
		ts := t0.Add(time.Duration(k) * step)

		temp = append(temp, Point{TS: ts, Value: tz})
		power = append(power, Point{TS: ts, Value: q})
		outdoor = append(outdoor, Point{TS: ts, Value: tout})

		tz = a*tz + b*q + cc*tout
	}
	return
}

func TestCleanBoundsDropsOutliers(t *testing.T) {
	s := Series{
		{TS: t0, Value: 21.5},
		{TS: t0.Add(step), Value: 90.0},
		{TS: t0.Add(2 * step), Value: -4.0},
		{TS: t0.Add(3 * step), Value: math.NaN()},
		{TS: t0.Add(4 * step), Value: math.Inf(1)},
		{TS: t0.Add(5 * step), Value: 22.0},
	}

	out := CleanBounds(s, ZoneTempMin, ZoneTempMax)
	require.Len(t, out, 2)
	assert.Equal(t, 21.5, out[0].Value)
	assert.Equal(t, 22.0, out[1].Value)
}

func TestResampleBridgesShortGapOnly(t *testing.T) {
	// Samples every 10 min with one 20 min hole (bridgeable) and one
	// 50 min hole (not bridgeable).
	var s Series
	for _, min := range []int{0, 10, 30, 40, 90, 100, 110, 120} {
		s = append(s, Point{TS: t0.Add(time.Duration(min) * time.Minute), Value: float64(min)})
	}

	g := Resample(s, t0, 13, step, 30*time.Minute)

	// Minute 20 sits inside the 10->30 hole: interpolated.
	require.True(t, g.Valid[2])
	assert.InDelta(t, 20.0, g.Values[2], 1e-9)

	// Minutes 50..80 sit inside the 40->90 hole: left invalid.
	for i := 5; i <= 8; i++ {
		assert.False(t, g.Valid[i], "grid point %d should not bridge a 50 minute gap", i)
	}

	require.True(t, g.Valid[9])
	assert.InDelta(t, 90.0, g.Values[9], 1e-9)
}

func TestSmoothAveragesValidNeighbors(t *testing.T) {
	g := &Grid{
		Values: []float64{10, 20, 30, 0, 50},
		Valid:  []bool{true, true, true, false, true},
	}
	Smooth(g, 3)

	assert.InDelta(t, 15.0, g.Values[0], 1e-9) // mean(10,20)
	assert.InDelta(t, 20.0, g.Values[1], 1e-9) // mean(10,20,30)
	assert.InDelta(t, 25.0, g.Values[2], 1e-9) // mean(20,30), hole skipped
	assert.False(t, g.Valid[3])
	assert.InDelta(t, 50.0, g.Values[4], 1e-9)
}

func TestPreprocessNeverSmoothsPower(t *testing.T) {
	temp, power, outdoor := synthesizeHistory(60, 0.0025, 4.5e6)

	rows, err := Preprocess(temp, power, outdoor, PreprocessParams{
		Step:         step,
		MaxGap:       30 * time.Minute,
		SmoothWindow: 3,
		MinSamples:   20,
	})
	require.NoError(t, err)

	// Power is a hard 0/2000 square wave; any smoothing would produce
	// intermediate values.
	for _, row := range rows {
		assert.Contains(t, []float64{0.0, 2000.0}, row.Q)
	}
}

func TestPreprocessInsufficientData(t *testing.T) {
	temp, power, outdoor := synthesizeHistory(5, 0.0025, 4.5e6)

	_, err := Preprocess(temp, power, outdoor, PreprocessParams{MinSamples: 100})
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestFitRecoversParameters(t *testing.T) {
	temp, power, outdoor := synthesizeHistory(432, 0.0025, 4.5e6)

	rows, err := Preprocess(temp, power, outdoor, PreprocessParams{
		Step:         step,
		MaxGap:       30 * time.Minute,
		SmoothWindow: 1,
		MinSamples:   100,
	})
	require.NoError(t, err)

	tr := NewTrainer(step)
	params, metrics, err := tr.Fit(rows)
	require.NoError(t, err)

	assert.InEpsilon(t, 0.0025, params.Resistance, 0.05)
	assert.InEpsilon(t, 4.5e6, params.Capacitance, 0.05)
	assert.Less(t, metrics.RMSE, 0.1)
	assert.Greater(t, metrics.RSquared, 0.99)
}

func TestDeriveStatus(t *testing.T) {
	good := thermal_model.Metrics{RMSE: 0.4, RSquared: 0.9}
	poor := thermal_model.Metrics{RMSE: 1.6, RSquared: 0.6}

	prevUntrained := thermal_model.DefaultParameters()

	assert.Equal(t, thermal_model.StatusLearning, DeriveStatus(good, 3, prevUntrained))
	assert.Equal(t, thermal_model.StatusTrained, DeriveStatus(good, 10, prevUntrained))
	assert.Equal(t, thermal_model.StatusLearning, DeriveStatus(poor, 10, prevUntrained))

	prevTrained := prevUntrained
	prevTrained.Status = thermal_model.StatusTrained
	prevTrained.Metrics = thermal_model.Metrics{RMSE: 0.3, RSquared: 0.95}

	// 0.6 > 1.5 * 0.3: drift wins even though 0.6 would pass promotion.
	drifted := thermal_model.Metrics{RMSE: 0.6, RSquared: 0.9}
	assert.Equal(t, thermal_model.StatusDegraded, DeriveStatus(drifted, 10, prevTrained))

	// Within drift bounds the trained verdict stands.
	steady := thermal_model.Metrics{RMSE: 0.35, RSquared: 0.93}
	assert.Equal(t, thermal_model.StatusTrained, DeriveStatus(steady, 10, prevTrained))
}

func TestValidatePerfectModel(t *testing.T) {
	temp, power, outdoor := synthesizeHistory(200, 0.0025, 4.5e6)

	rows, err := Preprocess(temp, power, outdoor, PreprocessParams{
		Step: step, SmoothWindow: 1, MinSamples: 50,
	})
	require.NoError(t, err)

	params := thermal_model.DefaultParameters()
	params.Resistance = 0.0025
	params.Capacitance = 4.5e6

	val, err := Validate(params, rows, step.Seconds())
	require.NoError(t, err)

	assert.Less(t, val.OneStep.RMSE, 1e-9)
	assert.Less(t, val.MultiStep.RMSE, 1e-9)
	assert.Greater(t, val.OneStep.RSquared, 0.999)
}

func TestCrossValidateStability(t *testing.T) {
	temp, power, outdoor := synthesizeHistory(600, 0.0025, 4.5e6)

	rows, err := Preprocess(temp, power, outdoor, PreprocessParams{
		Step: step, SmoothWindow: 1, MinSamples: 100,
	})
	require.NoError(t, err)

	tr := NewTrainer(step)
	stats, err := CrossValidate(tr, rows, 5)
	require.NoError(t, err)

	assert.Equal(t, 5, stats.Folds)
	assert.Less(t, stats.MeanRMSE, 0.1)
	assert.Less(t, stats.StdResistance/stats.MeanResistance, 0.05)
	assert.Less(t, stats.StdCapacitance/stats.MeanCapacitance, 0.05)
}

func TestCrossValidateNeedsEnoughRows(t *testing.T) {
	temp, power, outdoor := synthesizeHistory(40, 0.0025, 4.5e6)

	rows, err := Preprocess(temp, power, outdoor, PreprocessParams{
		Step: step, SmoothWindow: 1, MinSamples: 10,
	})
	require.NoError(t, err)

	tr := NewTrainer(step)
	_, err = CrossValidate(tr, rows, 5)
	assert.ErrorIs(t, err, ErrInsufficientData)
}
