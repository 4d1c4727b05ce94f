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

// Package actuation turns a 0..100% heating demand into valve commands.
// Position valves get the percentage written straight through. Plain on/off
// valves are driven with a duty cycle: ON for duty% of the period, OFF for
// the rest, repeating on independent timers per valve. Floor heating is slow
// enough that a 30 minute period modulates cleanly without temperature
// ripple.
package actuation

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/jkolo/adaptive-thermal-control/internal/config"
	"github.com/jkolo/adaptive-thermal-control/internal/logger"
)

type Kind string

const (
	KindPosition Kind = "position"
	KindOnOff    Kind = "onoff"
)

// Writer is the hardware side. Implementations must not call back into the
// layer. Scheduled toggles report write errors through the log only.
type Writer interface {
	WritePosition(name string, percent float64) error
	WriteState(name string, on bool) error
}

// Schedule describes a valve's current duty cycle for diagnostics.
type Schedule struct {
	Duty        float64       `json:"duty"`
	On          bool          `json:"on"`
	OnDuration  time.Duration `json:"on_duration"`
	OffDuration time.Duration `json:"off_duration"`
}

type valve struct {
	name   string
	kind   Kind
	period time.Duration
	minOn  time.Duration
	minOff time.Duration

	duty   float64
	on     bool
	onDur  time.Duration
	offDur time.Duration
	timer  *time.Timer
	gen    uint64
}

// Layer owns every registered valve and its timers. Safe for concurrent use.
type Layer struct {
	mu     sync.Mutex
	writer Writer
	valves map[string]*valve
}

func New(w Writer) *Layer {
	return &Layer{writer: w, valves: map[string]*valve{}}
}

// Register resolves the actuator's capability once. Valve travel times act
// as additional minimum on/off floors: commanding a 2 minute valve open for
// 30 seconds would only ever move it halfway.
func (l *Layer) Register(name string, cfg config.ValveConfig) {
	cfg.FillDefaults()

	kind := KindOnOff
	if cfg.Position {
		kind = KindPosition
	}

	minOn := seconds(*cfg.MinOn)
	if cfg.OpenTime != nil && seconds(*cfg.OpenTime) > minOn {
		minOn = seconds(*cfg.OpenTime)
	}
	minOff := seconds(*cfg.MinOff)
	if cfg.CloseTime != nil && seconds(*cfg.CloseTime) > minOff {
		minOff = seconds(*cfg.CloseTime)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.valves[name] = &valve{
		name:   name,
		kind:   kind,
		period: seconds(*cfg.Period),
		minOn:  minOn,
		minOff: minOff,
	}
}

// Apply drives one valve to the given demand. For on/off valves any pending
// toggle is cancelled first: 0 goes straight to OFF, 100 straight to ON,
// anything between restarts the duty cycle from its ON phase.
func (l *Layer) Apply(name string, duty float64) error {
	if duty < 0 {
		duty = 0
	} else if duty > 100 {
		duty = 100
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.valves[name]
	if !ok {
		return errors.Errorf("valve %s is not registered", name)
	}

	if v.kind == KindPosition {
		v.duty = duty
		return l.writer.WritePosition(name, duty)
	}

	v.cancel()
	v.duty = duty

	switch {
	case duty <= 0:
		v.on = false
		v.onDur, v.offDur = 0, 0
		return l.writer.WriteState(name, false)
	case duty >= 100:
		v.on = true
		v.onDur, v.offDur = 0, 0
		return l.writer.WriteState(name, true)
	}

	v.onDur, v.offDur = durations(duty, v.period, v.minOn, v.minOff)
	v.on = true
	if err := l.writer.WriteState(name, true); err != nil {
		return err
	}
	l.arm(v, v.gen, false, v.onDur)
	return nil
}

// Scheduled toggle: flip the valve and arm the opposite edge, unless a newer
// Apply invalidated this chain.
func (l *Layer) toggle(name string, gen uint64, on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.valves[name]
	if !ok || v.gen != gen {
		return
	}

	v.on = on
	if err := l.writer.WriteState(name, on); err != nil {
		logger.L().Errorf("valve %s: scheduled write failed: %v", name, err)
	}
	if on {
		l.arm(v, gen, false, v.onDur)
	} else {
		l.arm(v, gen, true, v.offDur)
	}
}

func (l *Layer) arm(v *valve, gen uint64, next bool, after time.Duration) {
	name := v.name
	v.timer = time.AfterFunc(after, func() { l.toggle(name, gen, next) })
}

// Schedule reports the valve's current duty state.
func (l *Layer) Schedule(name string) (Schedule, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.valves[name]
	if !ok {
		return Schedule{}, false
	}
	return Schedule{Duty: v.duty, On: v.on, OnDuration: v.onDur, OffDuration: v.offDur}, true
}

// Close cancels every pending toggle. It does not move any valve; shutdown
// policy belongs to the caller.
func (l *Layer) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, v := range l.valves {
		v.cancel()
	}
}

func (v *valve) cancel() {
	v.gen++
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
}

func durations(duty float64, period, minOn, minOff time.Duration) (time.Duration, time.Duration) {
	on := time.Duration(duty / 100 * float64(period))
	off := period - on
	if on < minOn {
		on = minOn
	}
	if off < minOff {
		off = minOff
	}
	return on, off
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
