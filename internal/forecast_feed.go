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
	"encoding/json"
	"sort"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/jkolo/adaptive-thermal-control/internal/forecast"
	"github.com/jkolo/adaptive-thermal-control/internal/logger"
	"github.com/jkolo/adaptive-thermal-control/internal/safe_mqtt"
)

// ForecastFeed turns an MQTT forecast topic into horizon vectors. The
// payload is a JSON array of {"offset_minutes": m, "value": v} points
// relative to publish time, in any order.
type ForecastFeed struct {
	name     string
	provider *forecast.Provider
}

func NewForecastFeed(name, topic string, client safe_mqtt.MqttClient) *ForecastFeed {
	f := &ForecastFeed{name: name, provider: forecast.NewProvider(name)}
	if topic != "" {
		client.SafeSubscribe(topic, mqttQoS, f.updateHandler)
	}
	return f
}

type forecastPoint struct {
	OffsetMinutes float64 `json:"offset_minutes"`
	Value         float64 `json:"value"`
}

func (f *ForecastFeed) updateHandler(client mqtt.Client, message mqtt.Message) {
	var points []forecastPoint
	if err := json.Unmarshal(message.Payload(), &points); err != nil {
		logger.L().Errorf("Forecast feed `%s`: bad payload on %s: %v", f.name, message.Topic(), err)
		return
	}

	samples := make([]forecast.Sample, len(points))
	for i, p := range points {
		samples[i] = forecast.Sample{
			Offset: time.Duration(p.OffsetMinutes * float64(time.Minute)),
			Value:  p.Value,
		}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Offset < samples[j].Offset })

	f.provider.Update(samples, time.Now())
	logger.L().Debugf("Forecast feed `%s` updated with %d samples", f.name, len(samples))
}

// Horizon builds n steps of forecast starting at now, holding fallback when
// the feed never reported or went quiet.
func (f *ForecastFeed) Horizon(now time.Time, n int, step time.Duration, fallback float64) forecast.Series {
	return f.provider.Horizon(now, n, step, fallback)
}
