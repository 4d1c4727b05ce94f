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

package internal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkolo/adaptive-thermal-control/internal/config"
	"github.com/jkolo/adaptive-thermal-control/internal/db"
	"github.com/jkolo/adaptive-thermal-control/internal/forecast"
	"github.com/jkolo/adaptive-thermal-control/internal/model_store"
	"github.com/jkolo/adaptive-thermal-control/internal/mpc"
	"github.com/jkolo/adaptive-thermal-control/internal/pi"
	"github.com/jkolo/adaptive-thermal-control/internal/rls"
	"github.com/jkolo/adaptive-thermal-control/internal/supervisor"
	"github.com/jkolo/adaptive-thermal-control/internal/thermal_model"
)

type captureNotifier struct {
	notices map[string]string
	cleared []string
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{notices: map[string]string{}}
}

func (c *captureNotifier) Notify(id, title, message string) { c.notices[id] = message }
func (c *captureNotifier) Clear(id string)                  { c.cleared = append(c.cleared, id) }

// testZone wires a controller without MQTT or a database, the way the engine
// would. The solver gets a generous iteration budget so that solve outcomes
// in these tests depend on the problem, not on the production cutoff.
func testZone(t *testing.T, name string, params thermal_model.Parameters, notifier supervisor.Notifier) *ZoneController {
	t.Helper()

	cfg := config.NewZoneConfig()
	cfg.FillDefaults()
	control := config.NewControlConfig()

	models, err := model_store.Open(filepath.Join(t.TempDir(), "models"))
	require.NoError(t, err)

	step := *control.Interval
	model, err := thermal_model.New(params, step)
	require.NoError(t, err)

	z := &ZoneController{
		name:              name,
		cfg:               cfg,
		control:           control,
		models:            models,
		setpoint:          *cfg.Setpoint.Default,
		setpointTimestamp: time.Now(),
		preset:            PresetHome,
		averageTimestamp:  zeroTS,
		lastController:    ControllerNone,
		model:             model,
		estimator:         rls.New(step, rls.DefaultForgetting),
		solver: mpc.New(mpc.Config{
			PredictionHorizon: *control.PredictionHorizon,
			ControlHorizon:    *control.ControlHorizon,
			Step:              step,
			ComfortWeight:     *control.ComfortWeight,
			EnergyWeight:      *control.EnergyWeight,
			SmoothnessWeight:  *control.SmoothnessWeight,
			MaxStep:           30,
			MaxIterations:     1000,
			CostTolerance:     1e-5,
			MaxPower:          *cfg.MaxPower,
		}),
		fallback: pi.New(pi.Config{
			Kp: *control.PIProportional,
			Ti: *control.PIIntegralTime,
			Dt: step,
		}),
		guard: supervisor.New(name, supervisor.Config{}, notifier),
	}
	z.estimator.Seed(params.Resistance, params.Capacitance)
	z.supState = z.guard.State()
	z.persisted = persistedState{setpoint: z.setpoint, preset: z.preset, sup: z.supState}
	return z
}

func setZoneTemp(z *ZoneController, value float64, at time.Time) {
	z.mu.Lock()
	z.averageTemperature = value
	z.averageTimestamp = at
	z.mu.Unlock()
}

// identifiedParams is a fast but plausible floor: tau = R*C = 10000s ~ 2.8h.
func identifiedParams() thermal_model.Parameters {
	return thermal_model.Parameters{
		Resistance:  0.005,
		Capacitance: 2e6,
		Status:      thermal_model.StatusTrained,
	}
}

func flatSeries(value float64, n int) forecast.Series {
	values := make([]float64, n)
	for i := range values {
		values[i] = value
	}
	return forecast.Series{Values: values}
}

func openTestDB(t *testing.T) *db.Queries {
	t.Helper()
	return db.OpenDatabase(filepath.Join(t.TempDir(), "atc-test.db"))
}

func TestEffectiveSetpointFollowsPreset(t *testing.T) {
	z := testZone(t, "salon", thermal_model.DefaultParameters(), nil)
	z.setpoint = 21

	z.preset = PresetHome
	assert.Equal(t, 21.0, z.EffectiveSetpoint())
	z.preset = PresetManual
	assert.Equal(t, 21.0, z.EffectiveSetpoint())
	z.preset = PresetAway
	assert.Equal(t, 18.0, z.EffectiveSetpoint())
	z.preset = PresetSleep
	assert.Equal(t, 20.0, z.EffectiveSetpoint())
}

func TestComputeDemandStaleZone(t *testing.T) {
	z := testZone(t, "salon", thermal_model.DefaultParameters(), nil)
	now := time.Now()
	out := flatSeries(5, 24)
	sun := flatSeries(0, 24)

	// No sensor ever reported.
	_, ok := z.ComputeDemand(context.Background(), now, out, sun, nil)
	assert.False(t, ok)

	// A reading older than the freshness limit fails the zone safe too.
	setZoneTemp(z, 20, now.Add(-31*time.Minute))
	_, ok = z.ComputeDemand(context.Background(), now, out, sun, nil)
	assert.False(t, ok)
	assert.Equal(t, ControllerNone, z.lastController)
	assert.Zero(t, z.lastRequestW)
	assert.True(t, z.lastStale)

	// Fresh again: the zone rejoins arbitration.
	setZoneTemp(z, 20, now)
	_, ok = z.ComputeDemand(context.Background(), now, out, sun, nil)
	assert.True(t, ok)
	assert.False(t, z.lastStale)
}

func TestComputeDemandFallbackWhenUntrained(t *testing.T) {
	z := testZone(t, "salon", thermal_model.DefaultParameters(), nil)
	now := time.Now()
	setZoneTemp(z, 20, now)
	z.setpoint = 22

	d, ok := z.ComputeDemand(context.Background(), now, flatSeries(5, 24), flatSeries(0, 24), nil)
	require.True(t, ok)

	assert.Equal(t, ControllerFallback, z.lastController)
	// First PI step on a 2 degC error: 10*2 + 10/1500*(2*600) = 28 percent.
	assert.InDelta(t, 28.0/100*2000, d.Request, 1e-9)
	assert.Equal(t, "salon", d.Zone)
	assert.Equal(t, 22.0, d.Setpoint)
	assert.Equal(t, 20.0, d.Current)
	assert.Equal(t, PresetHome, d.Mode)
	assert.Equal(t, 20.0, d.Area)
	assert.Equal(t, 1.0, d.Weight)

	// An untrained zone never touches the solve budget.
	assert.Equal(t, supervisor.ModeActive, z.guard.Mode())
	assert.Equal(t, 1, z.guard.Quality(now).Samples)
}

func TestComputeDemandPredictiveWhenTrained(t *testing.T) {
	z := testZone(t, "salon", identifiedParams(), nil)
	now := time.Now()
	setZoneTemp(z, 18, now)
	z.setpoint = 21

	d, ok := z.ComputeDemand(context.Background(), now, flatSeries(5, 24), flatSeries(0, 24), nil)
	require.True(t, ok)

	assert.Equal(t, ControllerPredictive, z.lastController)
	assert.Greater(t, d.Request, 0.0)
	assert.LessOrEqual(t, d.Request, 2000.0)
	assert.Greater(t, z.lastSolve, time.Duration(0))
	assert.Equal(t, supervisor.ModeActive, z.guard.Mode())

	diag := z.Diagnostics(now)
	assert.Equal(t, ControllerPredictive, diag.Controller)
	assert.Equal(t, string(thermal_model.StatusTrained), diag.ModelStatus)
	assert.InDelta(t, 10000.0/3600, diag.TauHours, 1e-9)
}

func TestComputeDemandFailureEscalatesToDisabled(t *testing.T) {
	notifier := newCaptureNotifier()
	z := testZone(t, "salon", identifiedParams(), notifier)
	now := time.Now()
	out := flatSeries(5, 24)
	sun := flatSeries(0, 24)

	dead, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 1; i <= 2; i++ {
		setZoneTemp(z, 18, now)
		d, ok := z.ComputeDemand(dead, now, out, sun, nil)
		require.True(t, ok)
		assert.Equal(t, ControllerFallback, z.lastController)
		assert.Greater(t, d.Request, 0.0)

		st := z.guard.State()
		assert.Equal(t, supervisor.ModeDegraded, st.Mode)
		assert.Equal(t, i, st.Failures)
	}
	assert.Contains(t, notifier.notices, "mpc_degraded_salon")

	// Third consecutive failure benches the predictive controller.
	setZoneTemp(z, 18, now)
	_, ok := z.ComputeDemand(dead, now, out, sun, nil)
	require.True(t, ok)
	st := z.guard.State()
	assert.Equal(t, supervisor.ModeDisabled, st.Mode)
	assert.Equal(t, 3, st.Failures)
	assert.Equal(t, now, st.DisabledAt)
	assert.Contains(t, notifier.notices, "mpc_disabled_salon")

	// Inside the retry interval no probe runs, even with a healthy context.
	later := now.Add(5 * time.Minute)
	setZoneTemp(z, 18, later)
	_, ok = z.ComputeDemand(context.Background(), later, out, sun, nil)
	require.True(t, ok)
	assert.Equal(t, ControllerFallback, z.lastController)
	assert.Equal(t, 0, z.guard.State().Successes)

	// Past the interval a probe runs in the shadow: it counts, the
	// fallback still actuates.
	probe := now.Add(61 * time.Minute)
	setZoneTemp(z, 18, probe)
	_, ok = z.ComputeDemand(context.Background(), probe, out, sun, nil)
	require.True(t, ok)
	assert.Equal(t, ControllerFallback, z.lastController)
	st = z.guard.State()
	assert.Equal(t, supervisor.ModeDisabled, st.Mode)
	assert.Equal(t, 1, st.Successes)
}

func TestDisabledRecoveryAppliesPredictiveOnFifthProbe(t *testing.T) {
	notifier := newCaptureNotifier()
	z := testZone(t, "salon", identifiedParams(), notifier)
	base := time.Now()
	out := flatSeries(5, 24)
	sun := flatSeries(0, 24)

	z.guard.Restore(supervisor.State{
		Mode:       supervisor.ModeDisabled,
		DisabledAt: base.Add(-2 * time.Hour),
	})

	for i := 1; i <= 4; i++ {
		at := base.Add(time.Duration(i) * 61 * time.Minute)
		setZoneTemp(z, 18, at)
		_, ok := z.ComputeDemand(context.Background(), at, out, sun, nil)
		require.True(t, ok)
		assert.Equal(t, ControllerFallback, z.lastController)

		st := z.guard.State()
		assert.Equal(t, supervisor.ModeDisabled, st.Mode)
		assert.Equal(t, i, st.Successes)
	}

	// The fifth clean probe flips the machine and its result actuates in
	// the same cycle.
	at := base.Add(5 * 61 * time.Minute)
	setZoneTemp(z, 18, at)
	d, ok := z.ComputeDemand(context.Background(), at, out, sun, nil)
	require.True(t, ok)
	assert.Equal(t, ControllerPredictive, z.lastController)
	assert.Greater(t, d.Request, 0.0)

	st := z.guard.State()
	assert.Equal(t, supervisor.ModeActive, st.Mode)
	assert.Zero(t, st.Failures)
	assert.Contains(t, notifier.notices, "mpc_recovered_salon")
}

func TestObserveFeedsEstimatorAndSkipsGaps(t *testing.T) {
	z := testZone(t, "salon", thermal_model.DefaultParameters(), nil)
	now := time.Now()

	// First observation only stages; there is no transition yet.
	setZoneTemp(z, 20, now)
	z.Observe(now, 5, 0, nil)
	assert.Equal(t, 0, z.estimator.Updates())
	assert.True(t, z.obsValid)

	// The grant books the heating power for the started interval.
	z.ApplyGranted(1000)
	assert.Equal(t, 1000.0, z.obsElec)

	// Next cycle closes the transition.
	next := now.Add(10 * time.Minute)
	setZoneTemp(z, 20.4, next)
	z.Observe(next, 5, 0, nil)
	assert.Equal(t, 1, z.estimator.Updates())

	// A stale cycle breaks the chain and nothing is learned across it.
	gap := next.Add(45 * time.Minute)
	z.Observe(gap, 5, 0, nil)
	assert.False(t, z.obsValid)
	assert.Equal(t, 1, z.estimator.Updates())

	// Fresh again: the first cycle restages, the second learns.
	resume := gap.Add(10 * time.Minute)
	setZoneTemp(z, 20.1, resume)
	z.Observe(resume, 5, 0, nil)
	assert.Equal(t, 1, z.estimator.Updates())
	z.ApplyGranted(500)
	after := resume.Add(10 * time.Minute)
	setZoneTemp(z, 20.2, after)
	z.Observe(after, 5, 0, nil)
	assert.Equal(t, 2, z.estimator.Updates())
}

func TestApplyGrantedConvertsAndClamps(t *testing.T) {
	z := testZone(t, "salon", thermal_model.DefaultParameters(), nil)

	assert.Equal(t, 25.0, z.ApplyGranted(500))
	assert.Equal(t, 25.0, z.lastDuty)
	assert.Equal(t, 500.0, z.lastGrantedW)

	assert.Equal(t, 100.0, z.ApplyGranted(2500))
	assert.Equal(t, 0.0, z.ApplyGranted(-10))
	assert.Equal(t, 0.0, z.ApplyGranted(0))
	assert.Zero(t, z.obsElec)
}

func TestSolarIrradianceGatedOnWindows(t *testing.T) {
	z := testZone(t, "salon", thermal_model.DefaultParameters(), nil)

	assert.Equal(t, 0.0, z.solarIrradiance(800))

	z.cfg.Windows = []string{"s", "sw"}
	assert.Equal(t, 800.0, z.solarIrradiance(800))
}

func TestLoadParametersSeedsFromConfig(t *testing.T) {
	z := testZone(t, "salon", thermal_model.DefaultParameters(), nil)
	z.cfg.Neighbors = map[string]float64{"kitchen": 2.5}
	z.cfg.Windows = []string{"s"}
	z.cfg.SolarCoefficient = config.GetPTR(120.0)

	p := z.loadParameters()
	assert.Equal(t, map[string]float64{"kitchen": 2.5}, p.NeighborInfluence)
	assert.Equal(t, 120.0, p.SolarCoefficient)

	// Identified values win over the static seeds once stored.
	stored := identifiedParams()
	stored.NeighborInfluence = map[string]float64{"hall": 1.0}
	stored.SolarCoefficient = 80
	require.NoError(t, z.models.Save("salon", stored))

	p = z.loadParameters()
	assert.Equal(t, map[string]float64{"hall": 1.0}, p.NeighborInfluence)
	assert.Equal(t, 80.0, p.SolarCoefficient)
	assert.Equal(t, 0.005, p.Resistance)
}

func TestZoneStatePersistRoundTrip(t *testing.T) {
	queries := openTestDB(t)
	ctx := context.Background()

	z := testZone(t, "salon", thermal_model.DefaultParameters(), nil)
	z.queries = queries

	disabledAt := time.Now().Add(-30 * time.Minute).Round(time.Second)
	z.guard.Restore(supervisor.State{
		Mode:       supervisor.ModeDisabled,
		Failures:   3,
		Successes:  2,
		DisabledAt: disabledAt,
	})
	z.mu.Lock()
	z.setpoint = 23.5
	z.preset = PresetAway
	z.mu.Unlock()

	z.persistState(ctx)

	st, err := queries.GetZoneState(ctx, "salon")
	require.NoError(t, err)
	assert.Equal(t, 23.5, st.Setpoint)
	assert.Equal(t, PresetAway, st.Preset)
	assert.Equal(t, string(supervisor.ModeDisabled), st.ControlMode)
	assert.Equal(t, int64(3), st.Failures)
	assert.Equal(t, int64(2), st.Successes)
	require.True(t, st.DisabledAt.Valid)
	assert.WithinDuration(t, disabledAt, st.DisabledAt.Time, time.Second)

	// A fresh controller for the same zone rehydrates from the row.
	z2 := testZone(t, "salon", thermal_model.DefaultParameters(), nil)
	z2.queries = queries
	require.NoError(t, z2.readState())

	assert.Equal(t, 23.5, z2.setpoint)
	assert.Equal(t, PresetAway, z2.Preset())
	sup := z2.guard.State()
	assert.Equal(t, supervisor.ModeDisabled, sup.Mode)
	assert.Equal(t, 3, sup.Failures)
	assert.Equal(t, 2, sup.Successes)
	assert.WithinDuration(t, disabledAt, sup.DisabledAt, time.Second)
}

func TestPersistStateSkipsUnchanged(t *testing.T) {
	queries := openTestDB(t)
	ctx := context.Background()

	z := testZone(t, "salon", thermal_model.DefaultParameters(), nil)
	z.queries = queries

	// Nothing moved since construction: no row is written.
	z.persistState(ctx)
	_, err := queries.GetZoneState(ctx, "salon")
	assert.Error(t, err)

	z.mu.Lock()
	z.setpoint = 24
	z.mu.Unlock()
	z.persistState(ctx)

	st, err := queries.GetZoneState(ctx, "salon")
	require.NoError(t, err)
	assert.Equal(t, 24.0, st.Setpoint)
}

func TestControlHandlersUpdateZone(t *testing.T) {
	z := testZone(t, "salon", thermal_model.DefaultParameters(), nil)
	z.queries = openTestDB(t)
	ch := make(chan *ZoneController, 4)
	z.controlChan = ch

	z.controlUpdateHandler(nil, &fakeMessage{
		topic: "atc/control/zone/salon/setpoint", payload: []byte("23.5"),
	})
	assert.Equal(t, 23.5, z.EffectiveSetpoint())
	require.Len(t, ch, 1)
	<-ch

	z.controlUpdateHandler(nil, &fakeMessage{
		topic: "atc/control/zone/salon/preset", payload: []byte(" Sleep\n"),
	})
	assert.Equal(t, PresetSleep, z.Preset())
	assert.Equal(t, 22.5, z.EffectiveSetpoint())
	require.Len(t, ch, 1)
	<-ch

	// Unknown presets are rejected and do not force a cycle.
	z.controlUpdateHandler(nil, &fakeMessage{
		topic: "atc/control/zone/salon/preset", payload: []byte("party"),
	})
	assert.Equal(t, PresetSleep, z.Preset())
	assert.Len(t, ch, 0)

	z.controlUpdateHandler(nil, &fakeMessage{
		topic: "atc/control/zone/salon/weight", payload: []byte("2.5"),
	})
	assert.Equal(t, 2.5, *z.cfg.Weight)

	// The MQTT-driven changes reached the zone row.
	st, err := z.queries.GetZoneState(context.Background(), "salon")
	require.NoError(t, err)
	assert.Equal(t, 23.5, st.Setpoint)
	assert.Equal(t, PresetSleep, st.Preset)
}

func TestSetpointHandlerScalesPlainPayload(t *testing.T) {
	z := testZone(t, "salon", thermal_model.DefaultParameters(), nil)
	z.queries = openTestDB(t)
	ch := make(chan *ZoneController, 1)
	z.controlChan = ch
	z.cfg.Setpoint.Scale = config.GetPTR(0.5)
	z.cfg.Setpoint.Offset = config.GetPTR(1.0)

	z.setpointUpdateHandler(nil, &fakeMessage{topic: "home/salon/target", payload: []byte("44")})

	z.mu.RLock()
	defer z.mu.RUnlock()
	assert.Equal(t, 23.0, z.setpoint)
}
