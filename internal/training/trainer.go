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
	"time"

	"github.com/pkg/errors"

	"github.com/jkolo/adaptive-thermal-control/internal/rls"
	"github.com/jkolo/adaptive-thermal-control/internal/thermal_model"
)

// Acceptance gates for a batch fit. Worse than this and the result is not a
// model, it is noise.
const (
	FitMaxRMSE = 2.0
	FitMinR2   = 0.5

	// Promotion gates: a model only reaches "trained" once it predicts
	// one step ahead this well.
	TrainedMaxRMSE = 1.0
	TrainedMinR2   = 0.7

	// A validation RMSE this much above the stored baseline is drift.
	DegradedRMSEFactor = 1.5

	// Days of usable history before a model may leave "learning".
	MinTrainedSpanDays = 7.0
)

// Trainer runs batch identification over preprocessed history.
type Trainer struct {
	Step       time.Duration
	Forgetting float64
}

func NewTrainer(step time.Duration) *Trainer {
	return &Trainer{Step: step, Forgetting: rls.DefaultForgetting}
}

// Fit identifies (R, C) from transitions and scores the fit one step ahead.
// The returned parameters keep the caller's neighbor and solar terms out;
// batch identification covers the R/C core only.
func (tr *Trainer) Fit(rows []Transition) (thermal_model.Parameters, thermal_model.Metrics, error) {
	params := thermal_model.DefaultParameters()
	if len(rows) == 0 {
		return params, thermal_model.Metrics{}, errors.Wrap(ErrInsufficientData, "no transitions")
	}

	est := rls.New(tr.Step.Seconds(), tr.Forgetting)
	est.Seed(thermal_model.DefaultResistance, thermal_model.DefaultCapacitance)

	for _, row := range rows {
		est.Update(row.T, row.Q, row.Tout, row.TNext)
	}

	r, c, err := est.Parameters()
	if err != nil {
		return params, thermal_model.Metrics{}, errors.Wrap(err, "parameter extraction failed")
	}

	a, b, cc := est.Theta()
	metrics := oneStepMetrics(rows, a, b, cc)

	if metrics.RMSE >= FitMaxRMSE || metrics.RSquared <= FitMinR2 {
		return params, metrics, errors.Errorf(
			"fit rejected: rmse=%.3f r2=%.3f", metrics.RMSE, metrics.RSquared,
		)
	}

	params.Resistance = r
	params.Capacitance = c
	params.Metrics = metrics
	params.LastUpdate = time.Now()
	return params, metrics, nil
}

// DeriveStatus decides the lifecycle status for freshly fitted parameters.
// Drift beats promotion: a previously trusted model that stopped predicting
// goes to degraded even if the absolute numbers still look passable.
func DeriveStatus(metrics thermal_model.Metrics, spanDays float64, previous thermal_model.Parameters) thermal_model.Status {
	trusted := previous.Status == thermal_model.StatusTrained || previous.Status == thermal_model.StatusDegraded
	if trusted && previous.Metrics.RMSE > 0 && metrics.RMSE > DegradedRMSEFactor*previous.Metrics.RMSE {
		return thermal_model.StatusDegraded
	}
	if spanDays < MinTrainedSpanDays {
		return thermal_model.StatusLearning
	}
	if metrics.RMSE <= TrainedMaxRMSE && metrics.RSquared >= TrainedMinR2 {
		return thermal_model.StatusTrained
	}
	return thermal_model.StatusLearning
}

func oneStepMetrics(rows []Transition, a, b, c float64) thermal_model.Metrics {
	predicted := make([]float64, len(rows))
	actual := make([]float64, len(rows))
	for i, row := range rows {
		predicted[i] = a*row.T + b*row.Q + c*row.Tout
		actual[i] = row.TNext
	}
	return computeMetrics(predicted, actual)
}

func computeMetrics(predicted, actual []float64) thermal_model.Metrics {
	var sumSq, sumAbs, maxErr float64
	for i := range predicted {
		e := predicted[i] - actual[i]
		sumSq += e * e
		sumAbs += math.Abs(e)
		if ae := math.Abs(e); ae > maxErr {
			maxErr = ae
		}
	}
	n := float64(len(predicted))
	return thermal_model.Metrics{
		RMSE:     math.Sqrt(sumSq / n),
		MAE:      sumAbs / n,
		RSquared: rSquared(predicted, actual),
		MaxError: maxErr,
	}
}
