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

// Package training turns recorded zone history into identified model
// parameters: outlier removal, gap-aware resampling to the control step,
// batch identification and validation against held-out data.
package training

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

// Physical sanity bounds. Zone temperatures outside [0,50] degC and heating
// powers outside [0,10000] W are sensor glitches, not data. Outdoor readings
// may legitimately go far below zero.
const (
	ZoneTempMin    = 0.0
	ZoneTempMax    = 50.0
	OutdoorTempMin = -50.0
	OutdoorTempMax = 50.0
	PowerMin       = 0.0
	PowerMax       = 10000.0

	// minStageSamples aborts the pipeline early when a cleaning stage
	// leaves too little to work with.
	minStageSamples = 10

	defaultSmoothWindow = 3
)

var ErrInsufficientData = errors.New("not enough samples for training")

type Point struct {
	TS    time.Time
	Value float64
}

type Series []Point

// Transition is one aligned regression row of the discrete model.
type Transition struct {
	T     float64
	Q     float64
	Tout  float64
	TNext float64
}

// PreprocessParams control the resampling pipeline.
type PreprocessParams struct {
	Step         time.Duration
	MaxGap       time.Duration
	SmoothWindow int
	MinSamples   int
}

func (p *PreprocessParams) fillDefaults() {
	if p.Step <= 0 {
		p.Step = 10 * time.Minute
	}
	if p.MaxGap <= 0 {
		p.MaxGap = 30 * time.Minute
	}
	if p.SmoothWindow <= 0 {
		p.SmoothWindow = defaultSmoothWindow
	}
	if p.MinSamples <= 0 {
		p.MinSamples = 100
	}
}

// CleanBounds drops non-finite values and values outside [lo, hi].
func CleanBounds(s Series, lo, hi float64) Series {
	out := make(Series, 0, len(s))
	for _, pt := range s {
		if math.IsNaN(pt.Value) || math.IsInf(pt.Value, 0) {
			continue
		}
		if pt.Value < lo || pt.Value > hi {
			continue
		}
		out = append(out, pt)
	}
	return out
}

// Grid is a series resampled onto a regular time grid. Grid points whose
// bracketing raw samples lie further apart than the permitted gap are
// marked invalid instead of being bridged.
type Grid struct {
	Start  time.Time
	Step   time.Duration
	Values []float64
	Valid  []bool
}

func (g *Grid) Len() int { return len(g.Values) }

// Resample linearly interpolates s onto a grid of the given step starting at
// start. Input must be time-sorted.
func Resample(s Series, start time.Time, n int, step, maxGap time.Duration) *Grid {
	g := &Grid{
		Start:  start,
		Step:   step,
		Values: make([]float64, n),
		Valid:  make([]bool, n),
	}
	if len(s) == 0 {
		return g
	}

	j := 0
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * step)

		for j+1 < len(s) && !s[j+1].TS.After(ts) {
			j++
		}

		if s[j].TS.Equal(ts) {
			g.Values[i] = s[j].Value
			g.Valid[i] = true
			continue
		}
		if s[j].TS.After(ts) || j+1 >= len(s) {
			continue
		}

		left, right := s[j], s[j+1]
		if right.TS.Sub(left.TS) > maxGap {
			continue
		}

		frac := float64(ts.Sub(left.TS)) / float64(right.TS.Sub(left.TS))
		g.Values[i] = left.Value + frac*(right.Value-left.Value)
		g.Valid[i] = true
	}
	return g
}

// Smooth applies a centered moving average over valid neighbors. Used on
// temperatures only; smoothing powers would blur the very transitions the
// identification needs.
func Smooth(g *Grid, window int) {
	if window <= 1 {
		return
	}
	half := window / 2
	smoothed := make([]float64, g.Len())
	for i := range g.Values {
		if !g.Valid[i] {
			continue
		}
		sum, cnt := 0.0, 0
		for k := i - half; k <= i+half; k++ {
			if k >= 0 && k < g.Len() && g.Valid[k] {
				sum += g.Values[k]
				cnt++
			}
		}
		smoothed[i] = sum / float64(cnt)
	}
	for i := range g.Values {
		if g.Valid[i] {
			g.Values[i] = smoothed[i]
		}
	}
}

// BuildTransitions assembles regression rows from grid points where both k
// and k+1 are valid across all three signals.
func BuildTransitions(temp, power, outdoor *Grid) []Transition {
	n := temp.Len()
	if power.Len() < n {
		n = power.Len()
	}
	if outdoor.Len() < n {
		n = outdoor.Len()
	}

	var rows []Transition
	for k := 0; k+1 < n; k++ {
		if !temp.Valid[k] || !temp.Valid[k+1] || !power.Valid[k] || !outdoor.Valid[k] {
			continue
		}
		rows = append(rows, Transition{
			T:     temp.Values[k],
			Q:     power.Values[k],
			Tout:  outdoor.Values[k],
			TNext: temp.Values[k+1],
		})
	}
	return rows
}

// Preprocess runs the full pipeline on raw history and returns aligned
// transitions ready for identification.
func Preprocess(temp, power, outdoor Series, params PreprocessParams) ([]Transition, error) {
	params.fillDefaults()

	temp = CleanBounds(temp, ZoneTempMin, ZoneTempMax)
	power = CleanBounds(power, PowerMin, PowerMax)
	outdoor = CleanBounds(outdoor, OutdoorTempMin, OutdoorTempMax)

	if len(temp) < minStageSamples || len(power) < minStageSamples || len(outdoor) < minStageSamples {
		return nil, errors.Wrapf(
			ErrInsufficientData, "after outlier removal: temp=%d power=%d outdoor=%d",
			len(temp), len(power), len(outdoor),
		)
	}

	start, n := commonGrid(temp, power, outdoor, params.Step)
	if n < minStageSamples {
		return nil, errors.Wrapf(ErrInsufficientData, "common time span covers %d grid points", n)
	}

	tempGrid := Resample(temp, start, n, params.Step, params.MaxGap)
	powerGrid := Resample(power, start, n, params.Step, params.MaxGap)
	outdoorGrid := Resample(outdoor, start, n, params.Step, params.MaxGap)

	Smooth(tempGrid, params.SmoothWindow)
	Smooth(outdoorGrid, params.SmoothWindow)

	rows := BuildTransitions(tempGrid, powerGrid, outdoorGrid)
	if len(rows) < params.MinSamples {
		return nil, errors.Wrapf(ErrInsufficientData, "built %d transitions, need %d", len(rows), params.MinSamples)
	}
	return rows, nil
}

// commonGrid finds the overlap of the three series and the number of grid
// points the overlap holds.
func commonGrid(temp, power, outdoor Series, step time.Duration) (time.Time, int) {
	start := temp[0].TS
	if power[0].TS.After(start) {
		start = power[0].TS
	}
	if outdoor[0].TS.After(start) {
		start = outdoor[0].TS
	}

	end := temp[len(temp)-1].TS
	if power[len(power)-1].TS.Before(end) {
		end = power[len(power)-1].TS
	}
	if outdoor[len(outdoor)-1].TS.Before(end) {
		end = outdoor[len(outdoor)-1].TS
	}

	if !end.After(start) {
		return start, 0
	}
	return start, int(end.Sub(start)/step) + 1
}
