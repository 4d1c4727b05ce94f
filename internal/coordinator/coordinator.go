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

// Package coordinator arbitrates heating power across zones when the boiler
// or heat pump cannot feed them all at once. Zones are ranked by how far
// they are from setpoint, weighted by operating mode and floor area, and
// granted their request in that order until capacity runs out. A zone that
// keeps losing accumulates a priority boost each cycle, so nobody waits
// forever behind a permanently hungrier neighbor.
package coordinator

import (
	"math"
	"sort"

	"github.com/jkolo/adaptive-thermal-control/internal/logger"
)

const (
	defaultStarvationBoost = 0.1
	// A grant below this many watts is not considered serving the zone.
	servedThreshold = 1.0
)

// Demand is one zone's request for the cycle.
type Demand struct {
	Zone     string
	Request  float64 // W
	Setpoint float64
	Current  float64
	Mode     string  // home, away, sleep, manual
	Area     float64 // m2, 0 when unknown
	Weight   float64 // configured multiplier, 0 means 1
}

// Allocation is the coordinator's answer, in the same order as the demands.
type Allocation struct {
	Zone     string
	Granted  float64
	Priority float64
	Served   bool
}

// Coordinator carries the starvation counters between cycles. It is called
// from the engine's cycle barrier only and needs no locking.
type Coordinator struct {
	capacity float64
	boost    float64
	starved  map[string]int
}

// New builds a coordinator for the given shared capacity in watts. A zero or
// negative capacity means unlimited.
func New(capacity, starvationBoost float64) *Coordinator {
	if starvationBoost <= 0 {
		starvationBoost = defaultStarvationBoost
	}
	return &Coordinator{
		capacity: capacity,
		boost:    starvationBoost,
		starved:  map[string]int{},
	}
}

func modeWeight(mode string) float64 {
	switch mode {
	case "sleep":
		return 0.8
	case "away":
		return 0.5
	default: // home, manual
		return 1.0
	}
}

// Allocate splits the capacity over the demands. Under capacity every zone
// gets exactly its request; over capacity the grants follow priority order,
// the first zone past the limit gets the remainder and the rest get zero.
func (c *Coordinator) Allocate(demands []Demand) []Allocation {
	if len(demands) == 0 {
		return nil
	}

	meanArea := 0.0
	withArea := 0
	total := 0.0
	for _, d := range demands {
		if d.Area > 0 {
			meanArea += d.Area
			withArea++
		}
		total += d.Request
	}
	if withArea > 0 {
		meanArea /= float64(withArea)
	}

	priorities := make([]float64, len(demands))
	for i, d := range demands {
		areaWeight := 1.0
		if d.Area > 0 && meanArea > 0 {
			areaWeight = d.Area / meanArea
		}
		weight := d.Weight
		if weight <= 0 {
			weight = 1
		}
		priorities[i] = (d.Setpoint-d.Current)*modeWeight(d.Mode)*areaWeight*weight +
			c.boost*float64(c.starved[d.Zone])
	}

	allocations := make([]Allocation, len(demands))
	for i, d := range demands {
		allocations[i] = Allocation{Zone: d.Zone, Priority: priorities[i]}
	}

	if c.capacity <= 0 || total <= c.capacity {
		for i, d := range demands {
			allocations[i].Granted = d.Request
		}
	} else {
		order := make([]int, len(demands))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			pa, pb := priorities[order[a]], priorities[order[b]]
			if pa != pb {
				return pa > pb
			}
			return demands[order[a]].Zone < demands[order[b]].Zone
		})

		remaining := c.capacity
		for _, i := range order {
			grant := math.Min(demands[i].Request, remaining)
			allocations[i].Granted = grant
			remaining -= grant
		}
		logger.L().Infof("capacity %0.0fW short of %0.0fW total demand, allocating by priority",
			c.capacity, total)
	}

	for i, d := range demands {
		served := allocations[i].Granted >= math.Min(d.Request, servedThreshold)
		allocations[i].Served = served
		if served {
			c.starved[d.Zone] = 0
		} else {
			c.starved[d.Zone]++
		}
	}
	return allocations
}

// CyclesStarved exposes a zone's starvation counter for diagnostics.
func (c *Coordinator) CyclesStarved(zone string) int {
	return c.starved[zone]
}
