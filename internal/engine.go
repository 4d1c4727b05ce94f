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
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/jkolo/adaptive-thermal-control/internal/actuation"
	"github.com/jkolo/adaptive-thermal-control/internal/config"
	"github.com/jkolo/adaptive-thermal-control/internal/coordinator"
	"github.com/jkolo/adaptive-thermal-control/internal/db"
	"github.com/jkolo/adaptive-thermal-control/internal/forecast"
	"github.com/jkolo/adaptive-thermal-control/internal/logger"
	"github.com/jkolo/adaptive-thermal-control/internal/model_store"
	"github.com/jkolo/adaptive-thermal-control/internal/safe_mqtt"
	"github.com/jkolo/adaptive-thermal-control/internal/training"
)

const (
	timerDuration = 50 * time.Millisecond

	// Zone name under which house-wide signals land in the samples table.
	houseZone = "house"

	lastTrainingKey = "last_training"
)

// Engine is the process-wide controller: it owns the cycle clock, the zone
// controllers, the capacity arbiter and the actuation layer, and drives batch
// identification over recorded history.
type Engine struct {
	cfg      *config.Config
	queries  *db.Queries
	mqtt     safe_mqtt.MqttClient
	models   *model_store.Store
	zones    map[string]*ZoneController
	order    []string
	outdoor  *OutdoorController
	notifier *MQTTNotifier
	arbiter  *coordinator.Coordinator
	valves   *actuation.Layer

	zoneChan  chan *ZoneController
	forceChan chan bool
	enabled   bool
}

func NewEngine() *Engine {
	e := &Engine{
		cfg:       config.Get(),
		forceChan: make(chan bool, 2),
		zoneChan:  make(chan *ZoneController, 100),
		zones:     make(map[string]*ZoneController),
	}

	e.mqtt = safe_mqtt.InitMQTTClient(
		e.cfg.MQTTConfig.URL, "atc-"+uuid.New().String(), e.cfg.MQTTConfig.Username, e.cfg.MQTTConfig.Password,
	)
	e.setupMQTTSubscriptions()
	e.queries = db.OpenDatabase(e.cfg.DBFile)

	models, err := model_store.Open(e.cfg.ModelDir)
	if err != nil {
		logger.L().Panicf("Cannot open model store at `%v`: %v", e.cfg.ModelDir, err)
	}
	e.models = models

	e.notifier = NewMQTTNotifier(e.mqtt, e.cfg.MQTTConfig.ControlTopic)
	e.outdoor = NewOutdoorController(e.cfg.Outdoor, e.cfg.MQTTConfig, e.queries)
	e.arbiter = coordinator.New(*e.cfg.Control.MaxTotalPower, *e.cfg.Control.StarvationBoost)
	e.valves = actuation.New(newValveWriter(e.mqtt, e.cfg.Zones))
	e.initializeZones()
	e.setEnabled(e.readValueWithDefault("enabled", "true"))
	e.maybeTrain(context.Background(), time.Now())
	return e
}

func (e *Engine) setupMQTTSubscriptions() {
	controlTopic := e.cfg.MQTTConfig.ControlTopic
	e.mqtt.SafeSubscribe(controlTopic+"/log_level", mqttQoS, e.controlUpdateHandler)
	e.mqtt.SafeSubscribe(controlTopic+"/enable", mqttQoS, e.controlUpdateHandler)
}

func (e *Engine) initializeZones() {
	names := make([]string, 0, len(e.cfg.Zones))
	for name := range e.cfg.Zones {
		names = append(names, name)
	}
	sort.Strings(names)
	e.order = names

	for _, name := range names {
		cfg := e.cfg.Zones[name]
		e.zones[name] = newZoneController(
			name, cfg, e.cfg.Control, e.cfg.MQTTConfig, e.queries, e.models, e.notifier, e.zoneChan,
		)
		e.valves.Register(name, *cfg.Valve)
	}
}

// Run drives the control loop until the process dies. Cycles fire on the
// configured interval; control events (setpoint, preset, enable) coalesce
// over a short timer and force one early.
func (e *Engine) Run() {
	timer := time.NewTimer(timerDuration)
	ticker := time.NewTicker(seconds(*e.cfg.Control.Interval))
	defer ticker.Stop()

	for {
		select {
		case <-e.forceChan:
			e.resetTimer(timer)
		case zone := <-e.zoneChan:
			logger.L().Debugf("Zone %v requested a control cycle", zone.Name())
			e.resetTimer(timer)
		case <-timer.C:
			e.RunCycle(context.Background())
		case <-ticker.C:
			e.RunCycle(context.Background())
		}
	}
}

func (e *Engine) resetTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(timerDuration)
}

func (e *Engine) fresh(ts, now time.Time) bool {
	return ts.After(zeroTS) && now.Sub(ts) <= seconds(*e.cfg.Control.MaxSensorAge)
}

// RunCycle executes one full control cycle: observe, decide per zone,
// arbitrate the shared capacity, actuate, record and report.
func (e *Engine) RunCycle(ctx context.Context) {
	now := time.Now()

	n := *e.cfg.Control.PredictionHorizon
	step := seconds(*e.cfg.Control.Interval)
	outdoorNow, outdoorTS := e.outdoor.Temperature()
	solarNow, solarTS := e.outdoor.Solar()
	outdoorSeries := e.outdoor.TemperatureHorizon(now, n, step)
	solarSeries := e.outdoor.SolarHorizon(now, n, step)
	priceSeries := e.outdoor.PriceHorizon(now, n, step)

	neighborTemps := make(map[string]float64, len(e.zones))
	for name, zone := range e.zones {
		if t, ts := zone.Temperature(); e.fresh(ts, now) {
			neighborTemps[name] = t
		}
	}

	for _, name := range e.order {
		e.zones[name].Observe(now, outdoorNow, solarNow, neighborTemps)
	}

	if e.enabled {
		demands := make([]coordinator.Demand, 0, len(e.order))
		for _, name := range e.order {
			zone := e.zones[name]
			if d, ok := zone.ComputeDemand(ctx, now, outdoorSeries, solarSeries, neighborTemps); ok {
				demands = append(demands, d)
			} else {
				e.applyDuty(zone, 0)
			}
		}

		for _, grant := range e.arbiter.Allocate(demands) {
			e.applyDuty(e.zones[grant.Zone], grant.Granted)
		}
	} else {
		for _, name := range e.order {
			e.applyDuty(e.zones[name], 0)
		}
	}

	e.recordSamples(ctx, now, outdoorNow, e.fresh(outdoorTS, now), solarNow, e.fresh(solarTS, now), priceSeries)
	for _, name := range e.order {
		zone := e.zones[name]
		zone.persistState(ctx)
		e.publishZoneStatus(zone, now)
	}
	e.publishHouseStatus(priceSeries)

	e.maybeTrain(ctx, now)
	logger.L().Debugf("Control cycle finished in %v", time.Since(now))
}

func (e *Engine) applyDuty(zone *ZoneController, granted float64) {
	duty := zone.ApplyGranted(granted)
	if err := e.valves.Apply(zone.Name(), duty); err != nil {
		logger.L().Error(err)
	}
}

func (e *Engine) recordSamples(
	ctx context.Context, now time.Time,
	outdoor float64, outdoorFresh bool, solar float64, solarFresh bool, price forecast.Series,
) {
	insert := func(zone, signal string, value float64) {
		err := e.queries.InsertSample(ctx, db.InsertSampleParams{ZoneName: zone, Signal: signal, TS: now, Value: value})
		if err != nil {
			logger.L().Error(err)
		}
	}

	for _, name := range e.order {
		zone := e.zones[name]
		if t, ts := zone.Temperature(); e.fresh(ts, now) {
			insert(name, db.SignalTemperature, t)
		}
		insert(name, db.SignalPower, zone.lastGrantedW)
	}
	if outdoorFresh {
		insert(houseZone, db.SignalOutdoor, outdoor)
	}
	if solarFresh {
		insert(houseZone, db.SignalSolar, solar)
	}
	if !price.Degraded && len(price.Values) > 0 {
		insert(houseZone, db.SignalPrice, price.Values[0])
	}
}

func (e *Engine) publishZoneStatus(zone *ZoneController, now time.Time) {
	payload, err := json.Marshal(zone.Diagnostics(now))
	if err != nil {
		logger.L().Error(err)
		return
	}
	e.mqtt.SafePublish(e.cfg.MQTTConfig.ControlTopic+"/zone/"+zone.Name()+"/status", mqttQoS, false, payload)
}

func (e *Engine) publishHouseStatus(price forecast.Series) {
	report := struct {
		Enabled  bool     `json:"enabled"`
		Zones    int      `json:"zones"`
		RequestW float64  `json:"request_w"`
		GrantedW float64  `json:"granted_w"`
		Capacity float64  `json:"capacity_w"`
		Outdoor  float64  `json:"outdoor"`
		Price    *float64 `json:"price,omitempty"`
	}{
		Enabled:  e.enabled,
		Zones:    len(e.zones),
		Capacity: *e.cfg.Control.MaxTotalPower,
	}
	report.Outdoor, _ = e.outdoor.Temperature()
	if !price.Degraded && len(price.Values) > 0 {
		report.Price = &price.Values[0]
	}
	for _, zone := range e.zones {
		report.RequestW += zone.lastRequestW
		report.GrantedW += zone.lastGrantedW
	}

	payload, err := json.Marshal(report)
	if err != nil {
		logger.L().Error(err)
		return
	}
	e.mqtt.SafePublish(e.cfg.MQTTConfig.ControlTopic+"/status", mqttQoS, false, payload)
	logger.L().Infof("Cycle done: %v zones, demand %.0fW, granted %.0fW", len(e.zones), report.RequestW, report.GrantedW)
}

// maybeTrain runs batch identification when the last run is older than the
// configured interval. It blocks the cycle; a full fit over a week of history
// is milliseconds of linear algebra.
func (e *Engine) maybeTrain(ctx context.Context, now time.Time) {
	if v, err := e.readValue(lastTrainingKey); err == nil {
		if t, perr := time.Parse(time.RFC3339, v); perr == nil && now.Sub(t) < seconds(*e.cfg.Training.Interval) {
			return
		}
	}
	e.trainAll(ctx, now)
	if err := e.writeValue(lastTrainingKey, now.UTC().Format(time.RFC3339)); err != nil {
		logger.L().Error(err)
	}
}

func (e *Engine) trainAll(ctx context.Context, now time.Time) {
	logger.L().Info("Starting batch identification over recorded history")
	window := time.Duration(*e.cfg.Training.WindowDays) * 24 * time.Hour
	from := now.Add(-window)

	outdoor, err := e.signalSeries(ctx, houseZone, db.SignalOutdoor, from, now)
	if err != nil {
		logger.L().Errorf("Skipping batch identification, no outdoor history: %v", err)
		return
	}

	for _, name := range e.order {
		if err := e.trainZone(ctx, now, e.zones[name], outdoor, from); err != nil {
			logger.L().Infof("Zone %v not retrained: %v", name, err)
		}
	}

	if n, err := e.queries.PruneSamples(ctx, now.Add(-2*window)); err != nil {
		logger.L().Error(err)
	} else if n > 0 {
		logger.L().Debugf("Pruned %v history samples", n)
	}
}

func (e *Engine) trainZone(
	ctx context.Context, now time.Time, zone *ZoneController, outdoor training.Series, from time.Time,
) error {
	temp, err := e.signalSeries(ctx, zone.Name(), db.SignalTemperature, from, now)
	if err != nil {
		return err
	}
	power, err := e.signalSeries(ctx, zone.Name(), db.SignalPower, from, now)
	if err != nil {
		return err
	}

	step := seconds(*e.cfg.Control.Interval)
	rows, err := training.Preprocess(temp, power, outdoor, training.PreprocessParams{
		Step:       step,
		MinSamples: *e.cfg.Training.MinSamples,
	})
	if err != nil {
		return err
	}

	// The last fifth of the window is held out for validation.
	split := len(rows) * 4 / 5
	fitRows, valRows := rows[:split], rows[split:]

	params, _, err := training.NewTrainer(step).Fit(fitRows)
	if err != nil {
		return err
	}
	val, err := training.Validate(params, valRows, step.Seconds())
	if err != nil {
		return err
	}

	current := zone.model.Parameters()
	spanDays := float64(len(rows)) * step.Seconds() / 86400

	params.NeighborInfluence = current.NeighborInfluence
	params.SolarCoefficient = current.SolarCoefficient
	params.Metrics = val.OneStep
	params.Status = training.DeriveStatus(val.OneStep, spanDays, current)
	params.LastUpdate = now
	zone.adoptTrained(params)
	return nil
}

func (e *Engine) signalSeries(
	ctx context.Context, zoneName, signal string, from, to time.Time,
) (training.Series, error) {
	samples, err := e.queries.GetSamples(ctx, db.GetSamplesParams{
		ZoneName: zoneName, Signal: signal, From: from, To: to,
	})
	if err != nil {
		return nil, err
	}
	s := make(training.Series, len(samples))
	for i, sample := range samples {
		s[i] = training.Point{TS: sample.TS, Value: sample.Value}
	}
	return s, nil
}

func (e *Engine) controlUpdateHandler(client mqtt.Client, message mqtt.Message) {
	topic := message.Topic()[strings.LastIndex(message.Topic(), "/")+1:]
	logger.L().Infof("main: Got MQTT control request: %v : %v", topic, string(message.Payload()))
	switch topic {
	case "log_level":
		if err := e.cfg.LogLevel.Set(string(message.Payload())); err != nil {
			logger.L().Errorf("Wrong log level `%v`", string(message.Payload()))
		} else {
			logger.SetLogLevel(e.cfg.LogLevel)
			logger.L().Infof("Updated loglevel to `%v`", e.cfg.LogLevel.String())
		}
	case "enable":
		e.setEnabled(string(message.Payload()))
	}
}

func (e *Engine) setEnabled(val string) {
	switch strings.ToLower(val) {
	case "true", "on":
		e.mqtt.SafePublish(e.cfg.MQTTConfig.ControlTopic+"/active", mqttQoS, true, "ON")
		e.enabled = true
	case "false", "off":
		e.mqtt.SafePublish(e.cfg.MQTTConfig.ControlTopic+"/active", mqttQoS, true, "OFF")
		e.enabled = false
	default:
		logger.L().Warnf("Invalid value for enable: %v", val)
		return
	}
	e.writeValue("enabled", strconv.FormatBool(e.enabled))
	e.forceChan <- true
}

func (e *Engine) writeValue(name, value string) error {
	return e.queries.UpsertControllerValue(
		context.Background(),
		db.UpsertControllerValueParams{Name: name, Value: value},
	)
}

func (e *Engine) readValue(name string) (string, error) {
	return e.queries.GetControllerValue(context.Background(), name)
}

func (e *Engine) readValueWithDefault(name string, defValue string) string {
	val, err := e.queries.GetControllerValue(context.Background(), name)
	if err != nil {
		val = defValue
	}
	return val
}
