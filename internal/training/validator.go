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
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"github.com/jkolo/adaptive-thermal-control/internal/thermal_model"
)

const (
	defaultFolds   = 5
	minFoldSamples = 10
)

// Validation bundles the two views on model quality: one step ahead as the
// estimator sees it, and free-running over the whole window as the optimizer
// will use it.
type Validation struct {
	OneStep   thermal_model.Metrics
	MultiStep thermal_model.Metrics
}

// Validate scores parameters against transitions the fit has not seen.
func Validate(params thermal_model.Parameters, rows []Transition, step float64) (Validation, error) {
	if len(rows) == 0 {
		return Validation{}, errors.Wrap(ErrInsufficientData, "no validation transitions")
	}
	m, err := thermal_model.New(params, step)
	if err != nil {
		return Validation{}, err
	}

	oneStep := make([]float64, len(rows))
	multiStep := make([]float64, len(rows))
	actual := make([]float64, len(rows))

	sim := rows[0].T
	for i, row := range rows {
		oneStep[i] = m.Advance(row.T, row.Q, 0, row.Tout)
		sim = m.Advance(sim, row.Q, 0, row.Tout)
		multiStep[i] = sim
		actual[i] = row.TNext
	}

	return Validation{
		OneStep:   computeMetrics(oneStep, actual),
		MultiStep: computeMetrics(multiStep, actual),
	}, nil
}

// FoldStats summarizes a cross-validation run. Parameter spread across folds
// is the stability signal: a model whose R swings fold to fold has not
// really been identified.
type FoldStats struct {
	Folds           int
	MeanRMSE        float64
	StdRMSE         float64
	MeanR2          float64
	MeanResistance  float64
	StdResistance   float64
	MeanCapacitance float64
	StdCapacitance  float64
}

// CrossValidate runs k-fold validation over contiguous blocks. Contiguous
// splitting respects the time ordering; shuffling transitions would leak
// neighboring samples between train and test.
func CrossValidate(tr *Trainer, rows []Transition, k int) (FoldStats, error) {
	if k <= 1 {
		k = defaultFolds
	}
	if len(rows)/k < minFoldSamples {
		return FoldStats{}, errors.Wrapf(
			ErrInsufficientData, "%d transitions cannot fill %d folds of %d",
			len(rows), k, minFoldSamples,
		)
	}

	var rmses, r2s, resistances, capacitances []float64

	foldSize := len(rows) / k
	for f := 0; f < k; f++ {
		lo := f * foldSize
		hi := lo + foldSize
		if f == k-1 {
			hi = len(rows)
		}

		train := make([]Transition, 0, len(rows)-(hi-lo))
		train = append(train, rows[:lo]...)
		train = append(train, rows[hi:]...)

		params, _, err := tr.Fit(train)
		if err != nil {
			continue
		}

		val, err := Validate(params, rows[lo:hi], tr.Step.Seconds())
		if err != nil {
			continue
		}

		rmses = append(rmses, val.OneStep.RMSE)
		r2s = append(r2s, val.OneStep.RSquared)
		resistances = append(resistances, params.Resistance)
		capacitances = append(capacitances, params.Capacitance)
	}

	if len(rmses) == 0 {
		return FoldStats{}, errors.New("every fold failed to fit")
	}

	return FoldStats{
		Folds:           len(rmses),
		MeanRMSE:        stat.Mean(rmses, nil),
		StdRMSE:         stat.StdDev(rmses, nil),
		MeanR2:          stat.Mean(r2s, nil),
		MeanResistance:  stat.Mean(resistances, nil),
		StdResistance:   stat.StdDev(resistances, nil),
		MeanCapacitance: stat.Mean(capacitances, nil),
		StdCapacitance:  stat.StdDev(capacitances, nil),
	}, nil
}

func rSquared(predicted, actual []float64) float64 {
	return stat.RSquaredFrom(predicted, actual, nil)
}
