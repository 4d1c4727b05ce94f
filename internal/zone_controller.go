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
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/jkolo/adaptive-thermal-control/internal/config"
	"github.com/jkolo/adaptive-thermal-control/internal/coordinator"
	"github.com/jkolo/adaptive-thermal-control/internal/db"
	"github.com/jkolo/adaptive-thermal-control/internal/forecast"
	"github.com/jkolo/adaptive-thermal-control/internal/logger"
	"github.com/jkolo/adaptive-thermal-control/internal/model_store"
	"github.com/jkolo/adaptive-thermal-control/internal/mpc"
	"github.com/jkolo/adaptive-thermal-control/internal/pi"
	"github.com/jkolo/adaptive-thermal-control/internal/rls"
	"github.com/jkolo/adaptive-thermal-control/internal/safe_mqtt"
	"github.com/jkolo/adaptive-thermal-control/internal/supervisor"
	"github.com/jkolo/adaptive-thermal-control/internal/thermal_model"
)

const (
	PresetHome   = "home"
	PresetAway   = "away"
	PresetSleep  = "sleep"
	PresetManual = "manual"
)

const (
	ControllerPredictive = "predictive"
	ControllerFallback   = "fallback"
	ControllerNone       = "none"
)

// How often accepted online estimates go to disk. The model itself is
// refreshed in memory on every accepted update.
const modelSaveInterval = time.Hour

// ZoneController owns everything one zone needs: its sensors, its identified
// thermal model with the online estimator, the predictive and fallback
// controllers, and the failsafe supervisor deciding between them.
//
// Fields below the mutex are shared with MQTT handler goroutines. The control
// stack (model, estimator, solver, fallback, guard and the obs* staging) is
// owned by the engine's cycle goroutine and must only be touched through
// Observe, ComputeDemand, ApplyGranted, Diagnostics and persistState.
type ZoneController struct {
	name    string
	cfg     *config.ZoneConfig
	control *config.ControlConfig
	mqtt    safe_mqtt.MqttClient
	queries *db.Queries
	models  *model_store.Store

	mu                 sync.RWMutex
	setpoint           float64
	setpointTimestamp  time.Time
	preset             string
	averageTemperature float64
	averageTimestamp   time.Time
	supState           supervisor.State

	sensors      []*SensorController
	powerSensors []*SensorController
	averageFunc  func([]*SensorController) (float64, time.Time)
	controlChan  chan<- *ZoneController
	childChan    chan bool

	model     *thermal_model.Model
	estimator *rls.Estimator
	solver    *mpc.Controller
	fallback  *pi.Controller
	guard     *supervisor.Supervisor

	lastController string
	lastDuty       float64
	lastRequestW   float64
	lastGrantedW   float64
	lastSolve      time.Duration
	lastCost       float64
	lastStale      bool
	lastModelSave  time.Time

	// staged transition for the estimator, completed by ApplyGranted
	obsValid   bool
	obsTemp    float64
	obsOut     float64
	obsElec    float64
	obsDisturb float64

	persisted persistedState
}

type persistedState struct {
	setpoint float64
	preset   string
	sup      supervisor.State
}

func newZoneController(
	_name string, _cfg *config.ZoneConfig, _control *config.ControlConfig, _mqttCfg *config.MQTTConfig,
	_q *db.Queries, _models *model_store.Store, _notifier supervisor.Notifier,
	_controlChan chan<- *ZoneController,
) *ZoneController {
	z := &ZoneController{
		name:              _name,
		cfg:               _cfg,
		control:           _control,
		queries:           _q,
		models:            _models,
		setpoint:          *_cfg.Setpoint.Default,
		setpointTimestamp: zeroTS,
		preset:            PresetHome,
		averageTimestamp:  zeroTS,
		lastController:    ControllerNone,
		controlChan:       _controlChan,
		childChan:         make(chan bool, childChanBuffer),
	}
	z.LinkAverageFun()

	step := *_control.Interval
	params := z.loadParameters()
	model, err := thermal_model.New(params, step)
	if err != nil {
		logger.L().Panicf("Zone %v has unusable model parameters: %v", z.name, err)
	}
	z.model = model

	z.estimator = rls.New(step, rls.DefaultForgetting)
	z.estimator.Seed(params.Resistance, params.Capacitance)

	z.solver = mpc.New(mpc.Config{
		PredictionHorizon: *_control.PredictionHorizon,
		ControlHorizon:    *_control.ControlHorizon,
		Step:              step,
		ComfortWeight:     *_control.ComfortWeight,
		EnergyWeight:      *_control.EnergyWeight,
		SmoothnessWeight:  *_control.SmoothnessWeight,
		MaxStep:           *_control.MaxControlStep,
		MaxPower:          *_cfg.MaxPower,
	})
	z.fallback = pi.New(pi.Config{
		Kp: *_control.PIProportional,
		Ti: *_control.PIIntegralTime,
		Dt: step,
	})
	z.guard = supervisor.New(z.name, supervisor.Config{
		RetryInterval: seconds(*_control.MPCRetryInterval),
		Timeout:       seconds(*_control.SolverTimeout),
	}, _notifier)

	if err := z.readState(); err == nil {
		logger.L().Debugf("Loaded previous state from DB for zone %v: %v (%v)", z.name, z.setpoint, z.preset)
		z.setpointTimestamp = time.Now()
	}
	z.supState = z.guard.State()
	z.persisted = persistedState{setpoint: z.setpoint, preset: z.preset, sup: z.supState}

	z.mqtt = safe_mqtt.InitMQTTClient(
		_mqttCfg.URL, "atc-zone-"+z.name+"-"+uuid.New().String(), _mqttCfg.Username, _mqttCfg.Password,
	)
	if _cfg.Setpoint.Topic != "" {
		z.mqtt.SafeSubscribe(_cfg.Setpoint.Topic, mqttQoS, z.setpointUpdateHandler)
	}

	zoneMQTTgroup := _mqttCfg.ControlTopic + "/zone/" + z.name + "/"
	z.mqtt.SafeSubscribe(zoneMQTTgroup+"setpoint", mqttQoS, z.controlUpdateHandler)
	z.mqtt.SafeSubscribe(zoneMQTTgroup+"preset", mqttQoS, z.controlUpdateHandler)
	z.mqtt.SafeSubscribe(zoneMQTTgroup+"weight", mqttQoS, z.controlUpdateHandler)
	z.mqtt.SafeSubscribe(zoneMQTTgroup+"sensors_average_type", mqttQoS, z.controlUpdateHandler)

	z.sensors = make([]*SensorController, len(z.cfg.Sensors))
	for i, sensor := range z.cfg.Sensors {
		sName := "zone-" + z.name + "-"
		if sensor.Name == "" {
			sName += strconv.Itoa(i + 1)
		} else {
			sName += sensor.Name
		}
		z.sensors[i] = NewSensorController(sName, sensor, _mqttCfg, z.queries, z.childChan)
	}
	z.powerSensors = make([]*SensorController, len(z.cfg.PowerSensors))
	for i, sensor := range z.cfg.PowerSensors {
		sName := "zone-" + z.name + "-power-"
		if sensor.Name == "" {
			sName += strconv.Itoa(i + 1)
		} else {
			sName += sensor.Name
		}
		z.powerSensors[i] = NewSensorController(sName, sensor, _mqttCfg, z.queries, z.childChan)
	}
	go z.childProcessor()
	z.updateAverage()

	return z
}

// loadParameters pulls the persisted model and seeds the gaps from static
// config: neighbor couplings when nothing was identified yet, and the solar
// coefficient for zones that declare windows.
func (z *ZoneController) loadParameters() thermal_model.Parameters {
	params, found := z.models.Load(z.name)
	if !found {
		logger.L().Infof("Zone %v starts with default model parameters", z.name)
	}
	if len(params.NeighborInfluence) == 0 && len(z.cfg.Neighbors) > 0 {
		params.NeighborInfluence = make(map[string]float64, len(z.cfg.Neighbors))
		for zone, coeff := range z.cfg.Neighbors {
			params.NeighborInfluence[zone] = coeff
		}
	}
	if params.SolarCoefficient == 0 && z.cfg.SolarCoefficient != nil && len(z.cfg.Windows) > 0 {
		params.SolarCoefficient = *z.cfg.SolarCoefficient
	}
	return params
}

func (z *ZoneController) Name() string { return z.name }

func (z *ZoneController) childProcessor() {
	for range z.childChan {
		z.updateAverage()
	}
}

func (z *ZoneController) LinkAverageFun() {
	if z.cfg.SensorsAverageType == config.DefaultAverageType {
		z.averageFunc = sensorsMean
	} else {
		logger.L().Errorf("Unknown average function type: %v", z.cfg.SensorsAverageType)
		logger.L().Error("Reverting to the `mean`")
		z.cfg.SensorsAverageType = config.DefaultAverageType
		z.averageFunc = sensorsMean
	}
}

// updateAverage refreshes the cached zone temperature. Measurements never
// force a control cycle; the engine samples the cache on its own clock.
func (z *ZoneController) updateAverage() {
	v, t := z.averageFunc(z.sensors)
	if t.After(zeroTS) {
		z.mu.Lock()
		z.averageTimestamp = t
		z.averageTemperature = v
		z.mu.Unlock()
	}
}

// Temperature returns the averaged zone temperature and the newest
// contributing sensor timestamp.
func (z *ZoneController) Temperature() (float64, time.Time) {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.averageTemperature, z.averageTimestamp
}

func (z *ZoneController) Preset() string {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.preset
}

// EffectiveSetpoint is the configured target shifted by the preset offset.
func (z *ZoneController) EffectiveSetpoint() float64 {
	z.mu.RLock()
	defer z.mu.RUnlock()
	sp := z.setpoint
	switch z.preset {
	case PresetAway:
		sp += *z.control.AwayOffset
	case PresetSleep:
		sp += *z.control.SleepOffset
	}
	return sp
}

func (z *ZoneController) maxSensorAge() time.Duration {
	return seconds(*z.control.MaxSensorAge)
}

func (z *ZoneController) fresh(ts time.Time, now time.Time) bool {
	return ts.After(zeroTS) && now.Sub(ts) <= z.maxSensorAge()
}

// solarIrradiance gates the house-wide irradiance on the zone's glazing. A
// zone without windows sees no sun no matter what the model learned.
func (z *ZoneController) solarIrradiance(raw float64) float64 {
	if len(z.cfg.Windows) == 0 {
		return 0
	}
	return raw
}

// Observe closes the previous cycle's transition through the estimator and
// stages the current measurement for the next one. The engine calls it at the
// top of every cycle, before ComputeDemand.
func (z *ZoneController) Observe(now time.Time, outdoorTemp, irradiance float64, neighborTemps map[string]float64) {
	temp, ts := z.Temperature()
	if !z.fresh(ts, now) {
		// A gap breaks the transition chain; never bridge it.
		z.obsValid = false
		return
	}

	if z.obsValid {
		elec := z.obsElec
		if len(z.powerSensors) > 0 {
			if v, pts := sensorsMean(z.powerSensors); z.fresh(pts, now) {
				elec = v
			}
		}
		z.estimator.Update(z.obsTemp, elec+z.obsDisturb, z.obsOut, temp)
		z.adoptEstimate(now)
	}

	params := z.model.Parameters()
	z.obsTemp = temp
	z.obsOut = outdoorTemp
	z.obsDisturb = params.DisturbancePower(temp, z.solarIrradiance(irradiance), neighborTemps)
	z.obsElec = 0
	z.obsValid = true
}

// adoptEstimate refreshes the model from the estimator when the estimate is
// ready, structurally consistent and physically plausible. Rejections leave
// the running model untouched.
func (z *ZoneController) adoptEstimate(now time.Time) {
	r, c, err := z.estimator.Parameters()
	if err != nil || !z.estimator.Consistent() {
		return
	}

	params := z.model.Parameters()
	params.Resistance = r
	params.Capacitance = c
	params.LastUpdate = now
	if params.Status == thermal_model.StatusNotTrained {
		params.Status = thermal_model.StatusLearning
	}
	if warn := params.PlausibilityWarning(); warn != "" {
		logger.L().Debugf("Zone %v estimate rejected: %v", z.name, warn)
		return
	}
	if err := z.model.SetParameters(params); err != nil {
		logger.L().Warnf("Zone %v estimate rejected: %v", z.name, err)
		return
	}
	if now.Sub(z.lastModelSave) >= modelSaveInterval {
		if err := z.models.Save(z.name, params); err != nil {
			logger.L().Errorf("Failed to persist model for zone %v: %v", z.name, err)
		} else {
			z.lastModelSave = now
		}
	}
}

// adoptTrained installs batch-identified parameters: the running model, the
// estimator seed and the store move together.
func (z *ZoneController) adoptTrained(params thermal_model.Parameters) {
	if err := z.model.SetParameters(params); err != nil {
		logger.L().Errorf("Zone %v rejected trained parameters: %v", z.name, err)
		return
	}
	z.estimator.Seed(params.Resistance, params.Capacitance)
	if err := z.models.Save(z.name, params); err != nil {
		logger.L().Errorf("Failed to persist trained model for zone %v: %v", z.name, err)
	}
	z.lastModelSave = time.Now()
	logger.L().Infof("Zone %v adopted trained model: tau=%v status=%v rmse=%.3f",
		z.name, params.TimeConstant(), params.Status, params.Metrics.RMSE)
}

// ComputeDemand runs the zone's control decision for this cycle and returns
// its power request for arbitration. ok is false when the zone temperature is
// stale or absent; the engine then fails the zone safe and keeps it out of
// the allocation.
func (z *ZoneController) ComputeDemand(
	ctx context.Context, now time.Time, outdoor, solar forecast.Series, neighborTemps map[string]float64,
) (coordinator.Demand, bool) {
	sp := z.EffectiveSetpoint()
	temp, ts := z.Temperature()

	if !z.fresh(ts, now) {
		if !z.lastStale {
			logger.L().Warnf("Zone %v temperature is stale (last update %v), closing valve", z.name, ts)
		}
		z.lastStale = true
		z.lastController = ControllerNone
		z.lastRequestW = 0
		return coordinator.Demand{}, false
	}
	z.lastStale = false

	duty := -1.0
	params := z.model.Parameters()
	if params.Status == thermal_model.StatusTrained && z.guard.BeginAttempt(now) {
		res, err := z.solveBounded(ctx, temp, sp, outdoor, solar, neighborTemps, params)
		if err != nil {
			z.guard.ReportFailure(now, supervisor.Classify(err))
			logger.L().Warnf("Zone %v predictive solve failed: %v", z.name, err)
		} else {
			z.guard.ReportSuccess(now)
			if z.guard.Mode() != supervisor.ModeDisabled {
				duty = res.Sequence[0]
				z.lastSolve = res.Elapsed
				z.lastCost = res.Cost
				z.lastController = ControllerPredictive
			} else {
				st := z.guard.State()
				logger.L().Infof("Zone %v probe solve succeeded (%d clean), fallback still in charge",
					z.name, st.Successes)
			}
		}
	}

	if duty < 0 {
		if z.lastController == ControllerPredictive {
			// Hand-over: the integrator must not inherit predictive history.
			z.fallback.Reset()
		}
		duty = z.fallback.Update(sp, temp)
		z.lastController = ControllerFallback
	}

	z.guard.RecordTrackingError(now, sp-temp)

	request := duty / 100 * *z.cfg.MaxPower
	z.lastRequestW = request
	return coordinator.Demand{
		Zone:     z.name,
		Request:  request,
		Setpoint: sp,
		Current:  temp,
		Mode:     z.Preset(),
		Area:     *z.cfg.Area,
		Weight:   *z.cfg.Weight,
	}, true
}

func (z *ZoneController) solveBounded(
	ctx context.Context, temp, sp float64, outdoor, solar forecast.Series,
	neighborTemps map[string]float64, params thermal_model.Parameters,
) (mpc.Result, error) {
	qd := make([]float64, len(solar.Values))
	for k := range qd {
		qd[k] = params.DisturbancePower(temp, z.solarIrradiance(solar.Values[k]), neighborTemps)
	}
	pb := mpc.Problem{
		Current:     temp,
		Setpoint:    sp,
		UPrev:       z.lastDuty,
		Outdoor:     outdoor.Values,
		Disturbance: qd,
	}

	var res mpc.Result
	err := supervisor.Bounded(ctx, seconds(*z.control.SolverTimeout), func(c context.Context) error {
		r, solveErr := z.solver.Solve(c, z.model, pb)
		if solveErr == nil {
			res = r
		}
		return solveErr
	})
	return res, err
}

// ApplyGranted books the coordinator's grant as the power heating the zone
// until the next cycle and converts it to a valve duty. Called every cycle,
// with zero for stale or unserved zones.
func (z *ZoneController) ApplyGranted(granted float64) float64 {
	duty := 0.0
	if maxPower := *z.cfg.MaxPower; maxPower > 0 {
		duty = granted / maxPower * 100
		if duty < 0 {
			duty = 0
		} else if duty > 100 {
			duty = 100
		}
	}
	z.lastDuty = duty
	z.lastGrantedW = granted
	z.obsElec = granted
	return duty
}

// ZoneDiagnostics is the per-cycle status snapshot published over MQTT.
type ZoneDiagnostics struct {
	Zone        string                   `json:"zone"`
	Preset      string                   `json:"preset"`
	Setpoint    float64                  `json:"setpoint"`
	Temperature float64                  `json:"temperature"`
	Stale       bool                     `json:"stale"`
	Controller  string                   `json:"controller"`
	ControlMode string                   `json:"control_mode"`
	Failures    int                      `json:"failures"`
	RequestW    float64                  `json:"request_w"`
	GrantedW    float64                  `json:"granted_w"`
	Duty        float64                  `json:"duty"`
	SolveMS     float64                  `json:"solve_ms"`
	Cost        float64                  `json:"cost"`
	ModelStatus string                   `json:"model_status"`
	TauHours    float64                  `json:"tau_hours"`
	Quality     supervisor.QualityReport `json:"quality"`
}

func (z *ZoneController) Diagnostics(now time.Time) ZoneDiagnostics {
	temp, _ := z.Temperature()
	params := z.model.Parameters()
	st := z.guard.State()
	return ZoneDiagnostics{
		Zone:        z.name,
		Preset:      z.Preset(),
		Setpoint:    z.EffectiveSetpoint(),
		Temperature: temp,
		Stale:       z.lastStale,
		Controller:  z.lastController,
		ControlMode: string(st.Mode),
		Failures:    st.Failures,
		RequestW:    z.lastRequestW,
		GrantedW:    z.lastGrantedW,
		Duty:        z.lastDuty,
		SolveMS:     float64(z.lastSolve) / float64(time.Millisecond),
		Cost:        z.lastCost,
		ModelStatus: string(params.Status),
		TauHours:    params.TimeConstant().Hours(),
		Quality:     z.guard.Quality(now),
	}
}

// persistState writes the zone row when something changed since the last
// write. Runs on the engine goroutine at the end of every cycle.
func (z *ZoneController) persistState(ctx context.Context) {
	st := z.guard.State()
	z.mu.Lock()
	z.supState = st
	sp, preset := z.setpoint, z.preset
	z.mu.Unlock()

	cur := persistedState{setpoint: sp, preset: preset, sup: st}
	if cur == z.persisted {
		return
	}
	if err := z.upsertState(ctx, sp, preset, st); err != nil {
		logger.L().Errorf("Failed to persist state for zone %v: %v", z.name, err)
		return
	}
	z.persisted = cur
}

func (z *ZoneController) upsertState(ctx context.Context, sp float64, preset string, st supervisor.State) error {
	arg := db.UpsertZoneStateParams{
		ZoneName:    z.name,
		Setpoint:    sp,
		Preset:      preset,
		ControlMode: string(st.Mode),
		Failures:    int64(st.Failures),
		Successes:   int64(st.Successes),
	}
	if !st.DisabledAt.IsZero() {
		at := st.DisabledAt
		arg.DisabledAt = &at
	}
	return z.queries.UpsertZoneState(ctx, arg)
}

// writeState persists after an MQTT-driven change. It runs on a handler
// goroutine, so the supervisor part comes from the cached snapshot.
func (z *ZoneController) writeState() error {
	z.mu.RLock()
	sp, preset, st := z.setpoint, z.preset, z.supState
	z.mu.RUnlock()
	return z.upsertState(context.Background(), sp, preset, st)
}

func (z *ZoneController) readState() error {
	st, err := z.queries.GetZoneState(context.Background(), z.name)
	if err != nil {
		return err
	}
	z.setpoint = st.Setpoint
	if st.Preset != "" {
		z.preset = st.Preset
	}
	sup := supervisor.State{
		Mode:      supervisor.Mode(st.ControlMode),
		Failures:  int(st.Failures),
		Successes: int(st.Successes),
	}
	if st.DisabledAt.Valid {
		sup.DisabledAt = st.DisabledAt.Time
	}
	z.guard.Restore(sup)
	return nil
}

func (z *ZoneController) setpointUpdateHandler(client mqtt.Client, message mqtt.Message) {
	t0, err := extractF64PlainOrJson(message, z.cfg.Setpoint.JSONEntry)
	if err != nil {
		logger.L().Error(err)
		return
	}
	z.setSetpoint(t0*(*z.cfg.Setpoint.Scale) + (*z.cfg.Setpoint.Offset))
}

func (z *ZoneController) setSetpoint(sp float64) {
	z.mu.Lock()
	changed := sp != z.setpoint
	z.setpoint = sp
	z.setpointTimestamp = time.Now()
	logger.L().Debugf("Got setpoint for zone %s : %f", z.name, z.setpoint)
	z.mu.Unlock()

	if err := z.writeState(); err != nil {
		logger.L().Error(err)
	}
	if changed {
		z.controlChan <- z
	}
}

func validPreset(p string) bool {
	switch p {
	case PresetHome, PresetAway, PresetSleep, PresetManual:
		return true
	}
	return false
}

func (z *ZoneController) controlUpdateHandler(client mqtt.Client, message mqtt.Message) {
	topic := message.Topic()[strings.LastIndex(message.Topic(), "/")+1:]
	logger.L().Infof("Zone %v got MQTT control request: %v : %v", z.name, topic, string(message.Payload()))

	switch topic {
	case "setpoint":
		value, err := strconv.ParseFloat(string(message.Payload()), 64)
		if err != nil {
			logger.L().Error(err)
			return
		}
		z.setSetpoint(value)
	case "preset":
		preset := strings.ToLower(strings.TrimSpace(string(message.Payload())))
		if !validPreset(preset) {
			logger.L().Errorf("Unknown preset for zone `%v`: %v", z.name, preset)
			return
		}
		z.mu.Lock()
		changed := preset != z.preset
		z.preset = preset
		z.mu.Unlock()
		if err := z.writeState(); err != nil {
			logger.L().Error(err)
		}
		if changed {
			logger.L().Infof("Updated preset for zone `%v` to %v", z.name, preset)
			z.controlChan <- z
		}
	case "weight":
		value, err := strconv.ParseFloat(string(message.Payload()), 64)
		if err != nil {
			logger.L().Error(err)
			return
		}
		z.cfg.Weight = &value
		logger.L().Infof("Updated weight for zone `%v` to %v", z.name, value)
	case "sensors_average_type":
		z.cfg.SensorsAverageType = string(message.Payload())
		z.LinkAverageFun()
		logger.L().Infof("Updated sensors average type to `%v`", z.cfg.SensorsAverageType)
	default:
		logger.L().Errorf("Unknown control topic: %s", topic)
	}
}
