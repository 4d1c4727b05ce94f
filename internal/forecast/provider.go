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

// Package forecast normalizes external forecast feeds (outdoor temperature,
// solar irradiance, energy price) into fixed-step horizons for prediction.
// Feeds arrive as irregular (offset, value) pairs relative to publish time.
package forecast

import (
	"sync"
	"time"

	"github.com/jkolo/adaptive-thermal-control/internal/logger"
)

type Sample struct {
	Offset time.Duration
	Value  float64
}

// Series is a horizon of values at the control step. Degraded marks a
// horizon built without any feed, from the fallback value alone.
type Series struct {
	Values   []float64
	Degraded bool
}

// Normalize interpolates irregular samples onto n fixed steps. Grid points
// before the first sample hold the first value, points past the last sample
// hold the last. Samples must be offset-sorted. Returns nil for empty input.
func Normalize(samples []Sample, n int, step time.Duration) []float64 {
	if len(samples) == 0 || n <= 0 {
		return nil
	}

	out := make([]float64, n)
	j := 0
	for i := 0; i < n; i++ {
		off := time.Duration(i) * step

		for j+1 < len(samples) && samples[j+1].Offset <= off {
			j++
		}

		switch {
		case samples[j].Offset >= off:
			out[i] = samples[j].Value
		case j+1 >= len(samples):
			out[i] = samples[j].Value
		default:
			left, right := samples[j], samples[j+1]
			frac := float64(off-left.Offset) / float64(right.Offset-left.Offset)
			out[i] = left.Value + frac*(right.Value-left.Value)
		}
	}
	return out
}

// Provider caches the latest feed for one signal and serves horizons with a
// constant fallback when the feed is missing. The missing-feed warning fires
// once per outage, not every cycle.
type Provider struct {
	name string

	mu         sync.Mutex
	samples    []Sample
	receivedAt time.Time
	warned     bool
}

func NewProvider(name string) *Provider {
	return &Provider{name: name}
}

// Update replaces the cached feed. Offsets are relative to at.
func (p *Provider) Update(samples []Sample, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples = samples
	p.receivedAt = at
	if len(samples) > 0 && p.warned {
		p.warned = false
		logger.L().Infof("Forecast feed `%s` is back (%d samples)", p.name, len(samples))
	}
}

// Horizon builds n steps starting at now. Cached offsets age: a sample
// published 10 minutes ago at offset 0 now describes 10 minutes in the past.
func (p *Provider) Horizon(now time.Time, n int, step time.Duration, fallback float64) Series {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.samples) == 0 {
		if !p.warned {
			p.warned = true
			logger.L().Warnf("Forecast feed `%s` unavailable, holding %.2f over the horizon", p.name, fallback)
		}
		values := make([]float64, n)
		for i := range values {
			values[i] = fallback
		}
		return Series{Values: values, Degraded: true}
	}

	elapsed := now.Sub(p.receivedAt)
	shifted := make([]Sample, len(p.samples))
	for i, s := range p.samples {
		shifted[i] = Sample{Offset: s.Offset - elapsed, Value: s.Value}
	}

	return Series{Values: Normalize(shifted, n, step)}
}
