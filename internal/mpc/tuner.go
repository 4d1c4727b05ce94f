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
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/jkolo/adaptive-thermal-control/internal/logger"
	"github.com/jkolo/adaptive-thermal-control/internal/thermal_model"
)

// Tuner searches cost weight combinations by replaying a reference day in
// closed loop and scoring tracking error against energy spent and actuator
// wear. It is an offline helper: run it against an identified model, feed the
// recommendation back into the controller config.
type Tuner struct {
	model *thermal_model.Model
	base  Config
}

// Weights is one point of the cost simplex.
type Weights struct {
	Comfort    float64 `json:"comfort"`
	Energy     float64 `json:"energy"`
	Smoothness float64 `json:"smoothness"`
}

// Grid spans the candidate weights for the search.
type Grid struct {
	Comfort    []float64
	Energy     []float64
	Smoothness []float64
}

func DefaultGrid() Grid {
	return Grid{
		Comfort:    []float64{0.5, 0.7, 0.9},
		Energy:     []float64{0.1, 0.2, 0.3},
		Smoothness: []float64{0.05, 0.1, 0.15},
	}
}

// Scenario is the reference episode the candidates are scored on. Outdoor is
// consumed one entry per step and held at the last value when the simulation
// runs past its end.
type Scenario struct {
	InitialTemp float64
	Setpoint    float64
	Outdoor     []float64
	Steps       int
}

// TuningResult holds the closed-loop metrics of one weight combination.
// Energy is in kWh over the scenario, Smoothness the sum of squared percent
// moves between consecutive steps.
type TuningResult struct {
	Weights    Weights
	RMSE       float64
	Energy     float64
	Smoothness float64
	Failures   int
}

// Score folds the metrics into one comparable number, lower is better.
// Tracking error carries most of it; energy and smoothness are scaled into
// the same ballpark before weighing.
func (r TuningResult) Score() float64 {
	return 0.7*r.RMSE + 0.2*r.Energy/100 + 0.1*r.Smoothness/10
}

type Preference string

const (
	PreferenceComfort  Preference = "comfort"
	PreferenceEnergy   Preference = "energy"
	PreferenceBalanced Preference = "balanced"
)

func NewTuner(m *thermal_model.Model, base Config) *Tuner {
	base.fillDefaults()
	return &Tuner{model: m, base: base}
}

// GridSearch simulates every weight combination whose sum lands near the
// simplex (within [0.95, 1.05], then normalized to exactly 1) and returns
// the results ordered best score first.
func (t *Tuner) GridSearch(ctx context.Context, sc Scenario, grid *Grid) ([]TuningResult, error) {
	if sc.Steps <= 0 {
		return nil, errors.Errorf("scenario needs a positive step count, got %d", sc.Steps)
	}
	if len(sc.Outdoor) == 0 {
		return nil, errors.New("scenario needs an outdoor series")
	}
	g := DefaultGrid()
	if grid != nil {
		g = *grid
	}

	var results []TuningResult
	for _, wc := range g.Comfort {
		for _, we := range g.Energy {
			for _, ws := range g.Smoothness {
				if ctx != nil && ctx.Err() != nil {
					return nil, errors.Wrap(ctx.Err(), "grid search interrupted")
				}

				sum := wc + we + ws
				if sum < 0.95 || sum > 1.05 {
					continue
				}
				w := Weights{Comfort: wc / sum, Energy: we / sum, Smoothness: ws / sum}

				r := t.evaluate(ctx, w, sc)
				results = append(results, r)
				logger.L().Debugf(
					"tuner: weights %.2f/%.2f/%.2f -> rmse %.2f energy %.1f smooth %.1f score %.3f",
					w.Comfort, w.Energy, w.Smoothness, r.RMSE, r.Energy, r.Smoothness, r.Score(),
				)
			}
		}
	}

	if len(results) == 0 {
		return nil, errors.New("no weight combination lands on the simplex")
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score() < results[j].Score() })
	logger.L().Infof("tuner: %d combinations tested, best score %.3f", len(results), results[0].Score())
	return results, nil
}

func (t *Tuner) evaluate(ctx context.Context, w Weights, sc Scenario) TuningResult {
	cfg := t.base
	cfg.ComfortWeight = w.Comfort
	cfg.EnergyWeight = w.Energy
	cfg.SmoothnessWeight = w.Smoothness
	c := New(cfg)

	outdoor := make([]float64, cfg.PredictionHorizon)
	zeros := make([]float64, cfg.PredictionHorizon)
	scale := cfg.MaxPower / 100

	temp := sc.InitialTemp
	uPrev := 0.0
	sumSq := 0.0
	energy := 0.0
	smooth := 0.0
	failures := 0
	first := true

	for step := 0; step < sc.Steps; step++ {
		idx := step
		if idx >= len(sc.Outdoor) {
			idx = len(sc.Outdoor) - 1
		}
		for k := range outdoor {
			j := idx + k
			if j >= len(sc.Outdoor) {
				j = len(sc.Outdoor) - 1
			}
			outdoor[k] = sc.Outdoor[j]
		}

		u := 0.0
		res, err := c.Solve(ctx, t.model, Problem{
			Current:     temp,
			Setpoint:    sc.Setpoint,
			UPrev:       uPrev,
			Outdoor:     outdoor,
			Disturbance: zeros,
		})
		if err != nil {
			failures++
			logger.L().Warnf("tuner: solve failed at step %d, holding valve shut: %v", step, err)
		} else {
			u = res.Sequence[0]
		}

		e := sc.Setpoint - temp
		sumSq += e * e
		energy += u * scale * cfg.Step / 3600 / 1000
		if !first {
			d := u - uPrev
			smooth += d * d
		}
		first = false

		temp = t.model.Advance(temp, u*scale, 0, sc.Outdoor[idx])
		uPrev = u
	}

	return TuningResult{
		Weights:    w,
		RMSE:       math.Sqrt(sumSq / float64(sc.Steps)),
		Energy:     energy,
		Smoothness: smooth,
		Failures:   failures,
	}
}

// ParetoFront keeps the results no other result beats on both tracking error
// and energy at once.
func ParetoFront(results []TuningResult) []TuningResult {
	var front []TuningResult
	for i, r := range results {
		dominated := false
		for j, o := range results {
			if i == j {
				continue
			}
			if o.RMSE <= r.RMSE && o.Energy <= r.Energy && (o.RMSE < r.RMSE || o.Energy < r.Energy) {
				dominated = true
				break
			}
		}
		if !dominated {
			front = append(front, r)
		}
	}
	return front
}

// Recommend picks weights for the given preference: lowest tracking error,
// lowest energy, or best combined score. Empty input falls back to the stock
// weights.
func Recommend(results []TuningResult, pref Preference) Weights {
	if len(results) == 0 {
		logger.L().Warnf("tuner: no results to recommend from, using stock weights")
		return Weights{Comfort: 0.7, Energy: 0.2, Smoothness: 0.1}
	}

	best := results[0]
	switch pref {
	case PreferenceComfort:
		for _, r := range results[1:] {
			if r.RMSE < best.RMSE {
				best = r
			}
		}
	case PreferenceEnergy:
		for _, r := range results[1:] {
			if r.Energy < best.Energy {
				best = r
			}
		}
	default:
		for _, r := range results[1:] {
			if r.Score() < best.Score() {
				best = r
			}
		}
	}

	logger.L().Infof(
		"tuner: recommending %s weights %.3f/%.3f/%.3f (rmse %.2f, energy %.1f kWh)",
		pref, best.Weights.Comfort, best.Weights.Energy, best.Weights.Smoothness, best.RMSE, best.Energy,
	)
	return best.Weights
}
