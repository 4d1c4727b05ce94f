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

// Package supervisor decides, per zone, whether the predictive controller can
// be trusted this cycle. Three consecutive failures bench it in favor of the
// PI fallback; while benched it is probed on a fixed interval and needs five
// consecutive good probes to get the zone back. The counts are deliberate:
// one hiccup must not cause flapping, and one lucky solve must not either.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/jkolo/adaptive-thermal-control/internal/logger"
	"github.com/jkolo/adaptive-thermal-control/internal/mpc"
)

type Mode string

const (
	ModeActive   Mode = "active_predictive"
	ModeDegraded Mode = "degraded"
	ModeDisabled Mode = "disabled_fallback"
)

// Failure classes for diagnostics and persistence.
const (
	FailureTimeout        = "timeout"
	FailureNonConvergence = "non_convergence"
	FailureError          = "error"
)

// ErrAttemptTimeout marks a predictive attempt that blew its wall-clock
// budget. The abandoned solve finishes in the background and its result is
// thrown away.
var ErrAttemptTimeout = errors.New("predictive control attempt timed out")

// Notifier delivers failsafe events to the user. Implementations must treat
// id as the dedup key: a second Notify with the same id replaces, a Clear
// retracts.
type Notifier interface {
	Notify(id, title, message string)
	Clear(id string)
}

type Config struct {
	MaxFailures        int
	SuccessesToRecover int
	RetryInterval      time.Duration
	Timeout            time.Duration
}

func (c *Config) fillDefaults() {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 3
	}
	if c.SuccessesToRecover <= 0 {
		c.SuccessesToRecover = 5
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = time.Hour
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

// State is the persistable snapshot of the machine.
type State struct {
	Mode              Mode
	Failures          int
	Successes         int
	LastFailureReason string
	DisabledAt        time.Time
}

// Supervisor is the per-zone failsafe machine. It is owned by the zone's
// controller goroutine and is not safe for concurrent use.
type Supervisor struct {
	zone     string
	cfg      Config
	notifier Notifier
	quality  *QualityMonitor

	mode              Mode
	failures          int
	successes         int
	lastFailureReason string
	disabledAt        time.Time
	lastProbe         time.Time

	sent map[string]string
}

func New(zone string, cfg Config, notifier Notifier) *Supervisor {
	cfg.fillDefaults()
	return &Supervisor{
		zone:     zone,
		cfg:      cfg,
		notifier: notifier,
		quality:  NewQualityMonitor(),
		mode:     ModeActive,
		sent:     map[string]string{},
	}
}

// Restore rehydrates a persisted machine. Unknown modes fall back to active;
// the stored disable time anchors the probe cadence across restarts.
func (s *Supervisor) Restore(st State) {
	switch st.Mode {
	case ModeActive, ModeDegraded, ModeDisabled:
		s.mode = st.Mode
	default:
		s.mode = ModeActive
	}
	s.failures = st.Failures
	s.successes = st.Successes
	s.lastFailureReason = st.LastFailureReason
	s.disabledAt = st.DisabledAt
	s.lastProbe = st.DisabledAt
}

func (s *Supervisor) Mode() Mode { return s.mode }

func (s *Supervisor) State() State {
	return State{
		Mode:              s.mode,
		Failures:          s.failures,
		Successes:         s.successes,
		LastFailureReason: s.lastFailureReason,
		DisabledAt:        s.disabledAt,
	}
}

// BeginAttempt reports whether the predictive controller should run this
// cycle. Active and degraded zones attempt every cycle. A benched zone only
// probes once per retry interval; calling this marks the probe as spent.
func (s *Supervisor) BeginAttempt(now time.Time) bool {
	if s.mode != ModeDisabled {
		return true
	}
	if now.Sub(s.lastProbe) < s.cfg.RetryInterval {
		return false
	}
	s.lastProbe = now
	logger.L().Infof("zone %s: probing predictive control after retry interval", s.zone)
	return true
}

// ReportSuccess feeds one successful predictive solve into the machine.
func (s *Supervisor) ReportSuccess(now time.Time) {
	s.failures = 0
	s.lastFailureReason = ""

	switch s.mode {
	case ModeActive:
		s.successes = 0
	case ModeDegraded:
		s.successes++
		if s.successes >= s.cfg.SuccessesToRecover {
			logger.L().Infof("zone %s: predictive control recovered after %d clean cycles", s.zone, s.successes)
			s.toActive()
		}
	case ModeDisabled:
		s.successes++
		if s.successes >= s.cfg.SuccessesToRecover {
			logger.L().Infof("zone %s: predictive control re-enabled after %d clean probes", s.zone, s.successes)
			s.toActive()
			s.clear(s.disabledID())
			s.notify(
				s.recoveredID(),
				fmt.Sprintf("Predictive control recovered: %s", s.zone),
				fmt.Sprintf("Predictive control is active again for zone %s after %d successful probes.",
					s.zone, s.cfg.SuccessesToRecover),
			)
		}
	}
}

// ReportFailure feeds one failed predictive solve into the machine. reason
// should be one of the failure class constants.
func (s *Supervisor) ReportFailure(now time.Time, reason string) {
	s.failures++
	s.successes = 0
	s.lastFailureReason = reason

	if s.mode == ModeDisabled {
		logger.L().Warnf("zone %s: probe failed (%s), staying on fallback", s.zone, reason)
		return
	}

	logger.L().Warnf("zone %s: predictive failure %d/%d (%s)", s.zone, s.failures, s.cfg.MaxFailures, reason)

	if s.failures >= s.cfg.MaxFailures {
		s.mode = ModeDisabled
		s.disabledAt = now
		s.lastProbe = now
		s.successes = 0
		logger.L().Errorf("zone %s: predictive control disabled after %d consecutive failures, retrying in %s",
			s.zone, s.failures, s.cfg.RetryInterval)
		s.clear(s.recoveredID())
		s.notify(
			s.disabledID(),
			fmt.Sprintf("Predictive control disabled: %s", s.zone),
			fmt.Sprintf("Predictive control was disabled for zone %s after %d consecutive failures (last: %s). "+
				"The PI fallback is holding the zone; a probe runs every %s.",
				s.zone, s.cfg.MaxFailures, reason, s.cfg.RetryInterval),
		)
		return
	}

	s.mode = ModeDegraded
	if s.failures == 1 {
		s.notify(
			s.degradedID(),
			fmt.Sprintf("Predictive control degraded: %s", s.zone),
			fmt.Sprintf("Predictive control failed for zone %s (%s). The PI fallback covered this cycle; "+
				"failures: %d/%d.", s.zone, reason, s.failures, s.cfg.MaxFailures),
		)
	}
}

func (s *Supervisor) toActive() {
	s.mode = ModeActive
	s.failures = 0
	s.successes = 0
	s.lastFailureReason = ""
	s.disabledAt = time.Time{}
	s.clear(s.degradedID())
}

// RecordTrackingError feeds the rolling quality window; call it every cycle
// no matter which controller actuated.
func (s *Supervisor) RecordTrackingError(now time.Time, trackingError float64) {
	s.quality.Record(now, trackingError)
}

func (s *Supervisor) Quality(now time.Time) QualityReport {
	return s.quality.Report(now)
}

func (s *Supervisor) disabledID() string  { return "mpc_disabled_" + s.zone }
func (s *Supervisor) degradedID() string  { return "mpc_degraded_" + s.zone }
func (s *Supervisor) recoveredID() string { return "mpc_recovered_" + s.zone }

func (s *Supervisor) notify(id, title, message string) {
	if s.notifier == nil {
		return
	}
	if prev, ok := s.sent[id]; ok && prev == message {
		return
	}
	s.sent[id] = message
	s.notifier.Notify(id, title, message)
}

func (s *Supervisor) clear(id string) {
	if s.notifier == nil {
		return
	}
	if _, ok := s.sent[id]; !ok {
		return
	}
	delete(s.sent, id)
	s.notifier.Clear(id)
}

// Bounded runs one predictive attempt under a hard wall-clock budget. The
// attempt gets a context that expires with the budget; if it still does not
// return in time it is abandoned (the buffered channel lets it finish alone)
// and the cycle moves on.
func Bounded(ctx context.Context, budget time.Duration, attempt func(context.Context) error) error {
	tctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- attempt(tctx) }()

	select {
	case err := <-done:
		if err != nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return errors.Wrapf(ErrAttemptTimeout, "budget %s", budget)
		}
		return err
	case <-tctx.Done():
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return errors.Wrapf(ErrAttemptTimeout, "budget %s", budget)
		}
		return errors.Wrap(tctx.Err(), "predictive control attempt aborted")
	}
}

// Classify maps an attempt error onto a failure class.
func Classify(err error) string {
	switch {
	case errors.Is(err, ErrAttemptTimeout), errors.Is(err, mpc.ErrTimeout):
		return FailureTimeout
	case errors.Is(err, mpc.ErrNotConverged):
		return FailureNonConvergence
	default:
		return FailureError
	}
}
