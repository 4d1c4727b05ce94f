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

// Package rls identifies the discrete zone dynamics
//
//	T(k+1) = a*T(k) + b*Q(k) + c*T_out(k)
//
// online, with recursive least squares under exponential forgetting. The
// physical pair (R, C) is recovered from theta = [a, b, c].
package rls

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	// DefaultForgetting keeps roughly the last 1/(1-lambda) = 50 samples
	// dominant, slow enough for floor heating drift.
	DefaultForgetting = 0.98

	initialCovariance = 1000.0
	denominatorGuard  = 1e-10
	consistencyBound  = 0.1
	minUpdates        = 10
)

var ErrNotReady = errors.New("estimator needs more updates")

// Estimator carries the regression state. Not safe for concurrent use; the
// owning zone controller serializes access.
type Estimator struct {
	lambda  float64
	dt      float64
	theta   *mat.VecDense
	cov     *mat.Dense
	updates int

	// scratch, reused across updates
	pphi  mat.VecDense
	gain  mat.VecDense
	outer mat.Dense
}

func New(dt, lambda float64) *Estimator {
	if lambda <= 0 || lambda > 1 {
		lambda = DefaultForgetting
	}
	e := &Estimator{
		lambda: lambda,
		dt:     dt,
		theta:  mat.NewVecDense(3, nil),
		cov:    mat.NewDense(3, 3, nil),
	}
	e.resetCovariance()
	return e
}

func (e *Estimator) resetCovariance() {
	e.cov.Zero()
	for i := 0; i < 3; i++ {
		e.cov.Set(i, i, initialCovariance)
	}
}

// Seed initializes theta from physical parameters so online updates refine a
// sane model instead of starting from zero.
func (e *Estimator) Seed(resistance, capacitance float64) {
	a := math.Exp(-e.dt / (resistance * capacitance))
	e.theta.SetVec(0, a)
	e.theta.SetVec(1, resistance*(1-a))
	e.theta.SetVec(2, 1-a)
	e.resetCovariance()
	e.updates = 0
}

// Update folds one transition into the estimate and returns the one-step
// prediction residual. Updates with a degenerate gain denominator are
// skipped and report a zero residual.
func (e *Estimator) Update(t, q, tout, tNext float64) float64 {
	phi := mat.NewVecDense(3, []float64{t, q, tout})

	e.pphi.MulVec(e.cov, phi)
	denom := e.lambda + mat.Dot(phi, &e.pphi)
	if math.Abs(denom) < denominatorGuard {
		return 0
	}

	residual := tNext - mat.Dot(phi, e.theta)

	e.gain.ScaleVec(1/denom, &e.pphi)
	e.theta.AddScaledVec(e.theta, residual, &e.gain)

	e.outer.Outer(1, &e.gain, &e.pphi)
	e.cov.Sub(e.cov, &e.outer)
	e.cov.Scale(1/e.lambda, e.cov)

	e.updates++
	return residual
}

func (e *Estimator) Updates() int { return e.updates }

// Theta returns the raw regression coefficients [a, b, c].
func (e *Estimator) Theta() (a, b, c float64) {
	return e.theta.AtVec(0), e.theta.AtVec(1), e.theta.AtVec(2)
}

// Consistent checks the structural identity c = 1-a that the 1R1C model
// implies. A large violation means the data does not look first-order.
func (e *Estimator) Consistent() bool {
	a, _, c := e.Theta()
	return math.Abs(c-(1-a)) <= consistencyBound
}

// Parameters recovers (R, C) from theta. It fails until enough updates have
// accumulated or when the coefficients leave the stable first-order region.
func (e *Estimator) Parameters() (resistance, capacitance float64, err error) {
	if e.updates < minUpdates {
		return 0, 0, ErrNotReady
	}

	a, b, c := e.Theta()
	if a <= 0 || a >= 1 {
		return 0, 0, errors.Errorf("pole a=%g outside (0,1)", a)
	}
	if b <= 0 {
		return 0, 0, errors.Errorf("input gain b=%g not positive", b)
	}
	if c <= 0 || c >= 1 {
		return 0, 0, errors.Errorf("outdoor gain c=%g outside (0,1)", c)
	}

	resistance = b / c
	capacitance = -e.dt / (resistance * math.Log(a))
	return resistance, capacitance, nil
}
