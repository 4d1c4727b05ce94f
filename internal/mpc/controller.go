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

// Package mpc plans heating over a receding horizon by minimizing
//
//	J = sum wc*(T(k+1)-Tsp)^2 + we*(u(k)/100)^2 + ws*((u(k)-u(k-1))/100)^2
//
// subject to 0 <= u <= 100 and a per-interval rate limit. Decisions are valve
// percentages; the zone's maximum hydronic power scales them to watts inside
// the prediction. A full QP solver is deliberately avoided: the problem is
// smooth and box-constrained, so projected gradient descent with an analytic
// gradient converges quickly, allocates nothing per iteration and is exactly
// reproducible.
package mpc

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/jkolo/adaptive-thermal-control/internal/thermal_model"
)

var (
	ErrNotConverged = errors.New("optimizer did not converge")
	ErrTimeout      = errors.New("optimizer ran out of time")
)

const (
	lineSearchShrink = 0.5
	lineSearchTries  = 40
	descentGuard     = 1e-12
)

type Config struct {
	PredictionHorizon int
	ControlHorizon    int
	Step              float64 // seconds
	ComfortWeight     float64
	EnergyWeight      float64
	SmoothnessWeight  float64
	MaxStep           float64 // max |u(k)-u(k-1)| in percent
	MaxIterations     int
	CostTolerance     float64
	MaxPower          float64 // W at u=100
}

func (c *Config) fillDefaults() {
	if c.PredictionHorizon <= 0 {
		c.PredictionHorizon = 24
	}
	if c.ControlHorizon <= 0 {
		c.ControlHorizon = 12
	}
	if c.ControlHorizon > c.PredictionHorizon {
		c.ControlHorizon = c.PredictionHorizon
	}
	if c.Step <= 0 {
		c.Step = 600
	}
	if c.ComfortWeight <= 0 {
		c.ComfortWeight = 0.7
	}
	if c.EnergyWeight < 0 {
		c.EnergyWeight = 0.2
	}
	if c.SmoothnessWeight < 0 {
		c.SmoothnessWeight = 0.1
	}
	if c.MaxStep <= 0 {
		c.MaxStep = 50
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 100
	}
	if c.CostTolerance <= 0 {
		c.CostTolerance = 1e-6
	}
	if c.MaxPower <= 0 {
		c.MaxPower = 2000
	}
}

// Problem is one solve instance. Outdoor and Disturbance must cover the
// prediction horizon; Disturbance is free heat in watts (solar, neighbors).
type Problem struct {
	Current     float64
	Setpoint    float64
	UPrev       float64
	Outdoor     []float64
	Disturbance []float64
}

type Result struct {
	Sequence   []float64 // control horizon, percent
	Trajectory []float64 // predicted temperatures, horizon+1
	Cost       float64
	Iterations int
	Elapsed    time.Duration
}

// Controller owns the warm-start state for one zone. Not safe for concurrent
// use.
type Controller struct {
	cfg     Config
	warm    []float64
	hasWarm bool

	// scratch buffers reused across iterations
	cur  []float64
	cand []float64
	next []float64
	grad []float64
	gu   []float64
	u    []float64
	traj []float64
}

func New(cfg Config) *Controller {
	cfg.fillDefaults()
	np, nc := cfg.PredictionHorizon, cfg.ControlHorizon
	return &Controller{
		cfg:  cfg,
		warm: make([]float64, nc),
		cur:  make([]float64, nc),
		cand: make([]float64, nc),
		next: make([]float64, nc),
		grad: make([]float64, nc),
		gu:   make([]float64, np),
		u:    make([]float64, np),
		traj: make([]float64, np+1),
	}
}

func (s *Controller) Config() Config { return s.cfg }

// Reset drops the warm start, e.g. after a fallback episode left the stored
// plan stale.
func (s *Controller) Reset() { s.hasWarm = false }

// Solve optimizes the control sequence. On any failure (bad inputs, horizon
// budget, iteration budget) no partial plan escapes: the caller gets an
// error and the warm start is dropped.
func (s *Controller) Solve(ctx context.Context, m *thermal_model.Model, pb Problem) (Result, error) {
	start := time.Now()
	np := s.cfg.PredictionHorizon

	if len(pb.Outdoor) < np || len(pb.Disturbance) < np {
		s.hasWarm = false
		return Result{}, errors.Errorf(
			"horizon inputs too short: outdoor=%d disturbance=%d need=%d",
			len(pb.Outdoor), len(pb.Disturbance), np,
		)
	}

	a, b, bd := m.Coefficients()
	bs := b * s.cfg.MaxPower / 100

	s.initial(pb.UPrev)
	s.project(s.cur, s.cur, pb.UPrev)
	cost := s.evaluate(s.cur, a, b, bd, pb)

	alpha := s.initialStep(a, bs)
	converged := false
	iter := 0

	for iter = 1; iter <= s.cfg.MaxIterations; iter++ {
		if ctx != nil && ctx.Err() != nil {
			s.hasWarm = false
			return Result{}, errors.Wrapf(ErrTimeout, "after %d iterations: %v", iter-1, ctx.Err())
		}

		s.gradient(s.cur, a, b, bd, bs, pb)

		accepted := false
		candCost := 0.0
		step := alpha * 2
		for try := 0; try < lineSearchTries; try++ {
			for i := range s.cur {
				s.next[i] = s.cur[i] - step*s.grad[i]
			}
			s.project(s.cand, s.next, pb.UPrev)
			candCost = s.evaluate(s.cand, a, b, bd, pb)
			if candCost < cost-descentGuard {
				accepted = true
				break
			}
			step *= lineSearchShrink
		}

		if !accepted {
			// No descent at any step length: numerically stationary on
			// the feasible set.
			converged = true
			break
		}

		alpha = step
		drop := cost - candCost
		copy(s.cur, s.cand)
		cost = candCost

		if drop <= s.cfg.CostTolerance*math.Max(1, math.Abs(cost)) {
			converged = true
			break
		}
	}

	if !converged {
		s.hasWarm = false
		return Result{}, errors.Wrapf(ErrNotConverged, "%d iterations, cost %.6f", s.cfg.MaxIterations, cost)
	}

	copy(s.warm, s.cur)
	s.hasWarm = true

	res := Result{
		Sequence:   append([]float64(nil), s.cur...),
		Trajectory: make([]float64, np+1),
		Cost:       cost,
		Iterations: iter,
		Elapsed:    time.Since(start),
	}
	s.expand(s.cur)
	s.simulate(a, b, bd, pb)
	copy(res.Trajectory, s.traj)
	return res, nil
}

// initial fills s.cur with the starting point: the previous optimal plan
// shifted one interval with the tail repeated, or a flat fill with the
// applied control when no plan exists yet.
func (s *Controller) initial(uPrev float64) {
	if s.hasWarm {
		copy(s.cur, s.warm[1:])
		s.cur[len(s.cur)-1] = s.warm[len(s.warm)-1]
		return
	}
	for i := range s.cur {
		s.cur[i] = uPrev
	}
}

// project writes the nearest feasible plan to dst: box first, then a forward
// pass that keeps each move within the rate limit of its predecessor. The
// rate window is itself clipped to the box, so one pass settles both.
func (s *Controller) project(dst, src []float64, uPrev float64) {
	prev := clamp(uPrev, 0, 100)
	for i := range src {
		lo := math.Max(0, prev-s.cfg.MaxStep)
		hi := math.Min(100, prev+s.cfg.MaxStep)
		dst[i] = clamp(src[i], lo, hi)
		prev = dst[i]
	}
}

// expand applies the control-horizon tying u(k) = v(Nc-1) for k >= Nc.
func (s *Controller) expand(v []float64) {
	nc := s.cfg.ControlHorizon
	copy(s.u[:nc], v)
	tail := v[nc-1]
	for k := nc; k < s.cfg.PredictionHorizon; k++ {
		s.u[k] = tail
	}
}

func (s *Controller) simulate(a, b, bd float64, pb Problem) {
	scale := s.cfg.MaxPower / 100
	s.traj[0] = pb.Current
	for k := 0; k < s.cfg.PredictionHorizon; k++ {
		s.traj[k+1] = a*s.traj[k] + b*(scale*s.u[k]+pb.Disturbance[k]) + bd*pb.Outdoor[k]
	}
}

func (s *Controller) evaluate(v []float64, a, b, bd float64, pb Problem) float64 {
	s.expand(v)
	s.simulate(a, b, bd, pb)

	wc, we, ws := s.cfg.ComfortWeight, s.cfg.EnergyWeight, s.cfg.SmoothnessWeight
	cost := 0.0
	prev := pb.UPrev
	for k := 0; k < s.cfg.PredictionHorizon; k++ {
		e := s.traj[k+1] - pb.Setpoint
		du := s.u[k] - prev
		cost += wc*e*e + we*s.u[k]*s.u[k]/1e4 + ws*du*du/1e4
		prev = s.u[k]
	}
	return cost
}

// gradient computes dJ/dv analytically. The comfort term propagates through
// the dynamics with one backward sweep; dT(j)/du(k) = bs * a^(j-1-k).
func (s *Controller) gradient(v []float64, a, b, bd, bs float64, pb Problem) {
	s.expand(v)
	s.simulate(a, b, bd, pb)

	np, nc := s.cfg.PredictionHorizon, s.cfg.ControlHorizon
	wc, we, ws := s.cfg.ComfortWeight, s.cfg.EnergyWeight, s.cfg.SmoothnessWeight

	acc := 0.0
	for k := np - 1; k >= 0; k-- {
		acc = a*acc + 2*wc*(s.traj[k+1]-pb.Setpoint)
		s.gu[k] = bs * acc
	}

	for k := 0; k < np; k++ {
		s.gu[k] += 2 * we * s.u[k] / 1e4

		prev := pb.UPrev
		if k > 0 {
			prev = s.u[k-1]
		}
		s.gu[k] += 2 * ws * (s.u[k] - prev) / 1e4
		if k+1 < np {
			s.gu[k] -= 2 * ws * (s.u[k+1] - s.u[k]) / 1e4
		}
	}

	for i := 0; i < nc-1; i++ {
		s.grad[i] = s.gu[i]
	}
	tail := 0.0
	for k := nc - 1; k < np; k++ {
		tail += s.gu[k]
	}
	s.grad[nc-1] = tail
}

// initialStep estimates 1/L from the quadratic structure so the first line
// search starts near the right scale instead of crawling from unity.
func (s *Controller) initialStep(a, bs float64) float64 {
	np := float64(s.cfg.PredictionHorizon)
	h := np
	if a < 1 {
		h = (1 - math.Pow(a, np)) / (1 - a)
	}
	l := 2*s.cfg.ComfortWeight*bs*h*bs*h + (2*s.cfg.EnergyWeight+8*s.cfg.SmoothnessWeight)/1e4
	if l < 1e-12 {
		return 1e6
	}
	return 1 / l
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
