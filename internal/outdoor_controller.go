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
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jkolo/adaptive-thermal-control/internal/config"
	"github.com/jkolo/adaptive-thermal-control/internal/db"
	"github.com/jkolo/adaptive-thermal-control/internal/forecast"
	"github.com/jkolo/adaptive-thermal-control/internal/logger"
	"github.com/jkolo/adaptive-thermal-control/internal/safe_mqtt"
)

const (
	outdoorTempPrefix  = "outdoor-temperature-"
	outdoorSolarPrefix = "outdoor-solar-"
	mqttOutdoorPrefix  = "atc-outdoor-"
)

// OutdoorController aggregates the house-wide disturbance signals: outdoor
// temperature, solar irradiance and their forecasts. Temperature is required
// for control; everything else degrades to fallbacks.
type OutdoorController struct {
	mu                          sync.RWMutex
	cfg                         *config.OutdoorConfig
	mqtt                        safe_mqtt.MqttClient
	queries                     *db.Queries
	temperatureSensors          []*SensorController
	solarSensors                []*SensorController
	childChan                   chan bool
	averageTemperature          float64
	averageTemperatureTimestamp time.Time
	averageSolar                float64
	averageSolarTimestamp       time.Time
	averageTemperatureFunc      func([]*SensorController) (float64, time.Time)
	temperatureForecast         *ForecastFeed
	solarForecast               *ForecastFeed
	priceForecast               *ForecastFeed
}

func NewOutdoorController(_cfg *config.OutdoorConfig, _mqttCfg *config.MQTTConfig, _q *db.Queries) *OutdoorController {
	o := &OutdoorController{
		cfg:                         _cfg,
		queries:                     _q,
		averageTemperatureTimestamp: zeroTS,
		averageSolarTimestamp:       zeroTS,
		childChan:                   make(chan bool, childChanBuffer),
	}
	o.LinkAverageFun()

	o.temperatureSensors = make([]*SensorController, len(o.cfg.TemperatureSensors))
	for i, sensor := range o.cfg.TemperatureSensors {
		sName := outdoorTempPrefix
		if sensor.Name == "" {
			sName += strconv.Itoa(i + 1)
		} else {
			sName += sensor.Name
		}
		o.temperatureSensors[i] = NewSensorController(sName, sensor, _mqttCfg, o.queries, o.childChan)
	}

	o.solarSensors = make([]*SensorController, len(o.cfg.SolarSensors))
	for i, sensor := range o.cfg.SolarSensors {
		sName := outdoorSolarPrefix
		if sensor.Name == "" {
			sName += strconv.Itoa(i + 1)
		} else {
			sName += sensor.Name
		}
		o.solarSensors[i] = NewSensorController(sName, sensor, _mqttCfg, o.queries, o.childChan)
	}

	go o.childProcessor()
	o.updateAverages()

	o.mqtt = safe_mqtt.InitMQTTClient(
		_mqttCfg.URL, mqttOutdoorPrefix+uuid.New().String(), _mqttCfg.Username, _mqttCfg.Password,
	)
	o.temperatureForecast = NewForecastFeed("outdoor-temperature", o.cfg.ForecastTopic, o.mqtt)
	o.solarForecast = NewForecastFeed("solar-irradiance", o.cfg.SolarForecastTopic, o.mqtt)
	o.priceForecast = NewForecastFeed("energy-price", o.cfg.PriceForecastTopic, o.mqtt)
	return o
}

func (o *OutdoorController) childProcessor() {
	for range o.childChan {
		o.updateAverages()
	}
}

func (o *OutdoorController) updateAverages() {
	v, t := o.averageTemperatureFunc(o.temperatureSensors)
	sv, st := sensorsMean(o.solarSensors)

	o.mu.Lock()
	if t.After(zeroTS) {
		o.averageTemperature = v
		o.averageTemperatureTimestamp = t
	}
	if st.After(zeroTS) {
		o.averageSolar = sv
		o.averageSolarTimestamp = st
	}
	o.mu.Unlock()
}

func (o *OutdoorController) LinkAverageFun() {
	if o.cfg.TemperatureAverageType == config.DefaultAverageType {
		o.averageTemperatureFunc = sensorsMean
	} else {
		logger.L().Errorf("Unknown average function type: %v", o.cfg.TemperatureAverageType)
		logger.L().Error("Reverting to the `mean`")
		o.cfg.TemperatureAverageType = config.DefaultAverageType
		o.averageTemperatureFunc = sensorsMean
	}
}

// Temperature returns the averaged outdoor temperature and its freshness.
func (o *OutdoorController) Temperature() (float64, time.Time) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.averageTemperature, o.averageTemperatureTimestamp
}

// Solar returns the averaged irradiance in W/m2, zero until a sensor reports.
func (o *OutdoorController) Solar() (float64, time.Time) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.averageSolar, o.averageSolarTimestamp
}

// TemperatureHorizon builds the outdoor forecast over n steps. With no feed
// the current measurement is held constant, which keeps the optimizer running
// on a degraded but sane horizon.
func (o *OutdoorController) TemperatureHorizon(now time.Time, n int, step time.Duration) forecast.Series {
	current, _ := o.Temperature()
	return o.temperatureForecast.Horizon(now, n, step, current)
}

// SolarHorizon builds the irradiance forecast over n steps, holding the
// current measurement (zero when none) without a feed.
func (o *OutdoorController) SolarHorizon(now time.Time, n int, step time.Duration) forecast.Series {
	current, _ := o.Solar()
	return o.solarForecast.Horizon(now, n, step, current)
}

// PriceHorizon builds the energy-price forecast over n steps. There is no
// price sensor to fall back on, so a quiet feed yields a zero series marked
// degraded and consumers treat the tariff as unknown.
func (o *OutdoorController) PriceHorizon(now time.Time, n int, step time.Duration) forecast.Series {
	return o.priceForecast.Horizon(now, n, step, 0)
}
