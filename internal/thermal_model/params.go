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

package thermal_model

import (
	"fmt"
	"time"
)

// Status describes how much trust the identified parameters deserve.
type Status string

const (
	StatusNotTrained Status = "not_trained"
	StatusLearning   Status = "learning"
	StatusTrained    Status = "trained"
	StatusDegraded   Status = "degraded"
)

// Plausible zone time constants. Floor heating sits between these; values
// outside usually mean the identification ran on bad data.
const (
	MinTimeConstant = 1 * time.Hour
	MaxTimeConstant = 12 * time.Hour
)

const (
	DefaultResistance  = 0.002 // K/W
	DefaultCapacitance = 4.5e6 // J/K
)

// Metrics holds one-step prediction quality of a fitted model.
type Metrics struct {
	RMSE     float64 `json:"rmse"`
	MAE      float64 `json:"mae"`
	RSquared float64 `json:"r_squared"`
	MaxError float64 `json:"max_error"`
}

// Parameters is the identified 1R1C description of a zone plus bookkeeping.
// NeighborInfluence maps adjacent zone names to coupling coefficients in W/K,
// SolarCoefficient converts irradiance (W/m2) to heating power (W).
type Parameters struct {
	Resistance        float64
	Capacitance       float64
	NeighborInfluence map[string]float64
	SolarCoefficient  float64
	LastUpdate        time.Time
	Metrics           Metrics
	Status            Status
}

func DefaultParameters() Parameters {
	return Parameters{
		Resistance:  DefaultResistance,
		Capacitance: DefaultCapacitance,
		Status:      StatusNotTrained,
	}
}

// TimeConstant is tau = R*C.
func (p Parameters) TimeConstant() time.Duration {
	return time.Duration(p.Resistance * p.Capacitance * float64(time.Second))
}

// Validate rejects parameters the model cannot run on. An implausible time
// constant is legal but suspicious; callers log it via PlausibilityWarning.
func (p Parameters) Validate() error {
	if p.Resistance <= 0 {
		return fmt.Errorf("thermal resistance must be positive, got %g", p.Resistance)
	}
	if p.Capacitance <= 0 {
		return fmt.Errorf("thermal capacitance must be positive, got %g", p.Capacitance)
	}
	return nil
}

// PlausibilityWarning returns a non-empty string when tau falls outside the
// physically sensible range for hydronic floors.
func (p Parameters) PlausibilityWarning() string {
	tau := p.TimeConstant()
	if tau < MinTimeConstant || tau > MaxTimeConstant {
		return fmt.Sprintf("time constant %v outside plausible range [%v, %v]", tau, MinTimeConstant, MaxTimeConstant)
	}
	return ""
}
