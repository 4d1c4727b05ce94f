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

// Package thermal_model implements the first-order (1R1C) zone model
//
//	C * dT/dt = Q - (T - T_out) / R
//
// discretized with zero-order hold over the control step:
//
//	T(k+1) = A*T(k) + B*Q(k) + Bd*T_out(k)
//	A  = exp(-dt/(R*C)),  B = R*(1-A),  Bd = 1-A
//
// Q is total heating power: the controlled heat input plus disturbance
// gains (solar, neighbor coupling) expressed in watts.
package thermal_model

import (
	"fmt"
	"math"
)

// Model evaluates the discrete 1R1C dynamics for one zone. The discrete
// coefficients are cached and recomputed only when R, C or dt change.
type Model struct {
	params Parameters
	dt     float64

	a  float64
	b  float64
	bd float64
}

func New(params Parameters, dt float64) (*Model, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if dt <= 0 {
		return nil, fmt.Errorf("time step must be positive, got %g", dt)
	}
	m := &Model{params: params, dt: dt}
	m.refresh()
	return m, nil
}

func (m *Model) refresh() {
	m.a = math.Exp(-m.dt / (m.params.Resistance * m.params.Capacitance))
	m.b = m.params.Resistance * (1 - m.a)
	m.bd = 1 - m.a
}

func (m *Model) Parameters() Parameters { return m.params }

func (m *Model) TimeStep() float64 { return m.dt }

// SetParameters swaps in new identified parameters and refreshes the cached
// coefficients when the dynamics actually changed.
func (m *Model) SetParameters(params Parameters) error {
	if err := params.Validate(); err != nil {
		return err
	}
	changed := params.Resistance != m.params.Resistance || params.Capacitance != m.params.Capacitance
	m.params = params
	if changed {
		m.refresh()
	}
	return nil
}

// Coefficients exposes the cached discrete-time coefficients (A, B, Bd).
func (m *Model) Coefficients() (float64, float64, float64) {
	return m.a, m.b, m.bd
}

// Advance computes the temperature after one step given heating power u (W),
// disturbance power qd (W) and outdoor temperature tout (degC).
func (m *Model) Advance(t, u, qd, tout float64) float64 {
	return m.a*t + m.b*(u+qd) + m.bd*tout
}

// Predict rolls the model over len(u) steps. tout and qd must be at least as
// long as u. The returned trajectory has len(u)+1 entries starting at t0.
func (m *Model) Predict(t0 float64, u, qd, tout []float64) ([]float64, error) {
	if len(tout) < len(u) || len(qd) < len(u) {
		return nil, fmt.Errorf(
			"disturbance series too short: have outdoor %d, gains %d, need %d",
			len(tout), len(qd), len(u),
		)
	}
	traj := make([]float64, len(u)+1)
	traj[0] = t0
	for k, uk := range u {
		traj[k+1] = m.Advance(traj[k], uk, qd[k], tout[k])
	}
	return traj, nil
}

// SteadyState is the temperature the zone settles at under constant heating
// power u, disturbance power qd and outdoor temperature tout.
func (m *Model) SteadyState(u, qd, tout float64) float64 {
	return tout + m.params.Resistance*(u+qd)
}

// PowerForTarget inverts the steady state: the constant power needed to hold
// target under the given conditions. Never negative; heating cannot cool.
func (m *Model) PowerForTarget(target, qd, tout float64) float64 {
	u := (target-tout)/m.params.Resistance - qd
	if u < 0 {
		return 0
	}
	return u
}

// DisturbancePower folds solar irradiance and neighbor temperatures into an
// equivalent heating power for the zone currently at t.
func (p Parameters) DisturbancePower(t, irradiance float64, neighborTemps map[string]float64) float64 {
	q := p.SolarCoefficient * irradiance
	for zone, coeff := range p.NeighborInfluence {
		if tn, ok := neighborTemps[zone]; ok {
			q += coeff * (tn - t)
		}
	}
	return q
}
