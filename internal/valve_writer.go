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

	"github.com/pkg/errors"

	"github.com/jkolo/adaptive-thermal-control/internal/config"
	"github.com/jkolo/adaptive-thermal-control/internal/safe_mqtt"
)

// valveWriter is the MQTT hardware side of the actuation layer: numeric
// payloads for proportional heads, the configured payloads for plain
// switches. One writer serves every zone valve.
type valveWriter struct {
	mqtt   safe_mqtt.MqttClient
	valves map[string]*config.ValveConfig
}

func newValveWriter(client safe_mqtt.MqttClient, zones map[string]*config.ZoneConfig) *valveWriter {
	w := &valveWriter{mqtt: client, valves: make(map[string]*config.ValveConfig, len(zones))}
	for name, cfg := range zones {
		w.valves[name] = cfg.Valve
	}
	return w
}

func (w *valveWriter) WritePosition(name string, percent float64) error {
	cfg, ok := w.valves[name]
	if !ok {
		return errors.Errorf("no valve configured for zone %q", name)
	}
	payload := strconv.FormatFloat(percent, 'f', -1, 64)
	if token := w.mqtt.SafePublish(cfg.Topic, mqttQoS, false, payload); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "publish valve position for zone %q", name)
	}
	return nil
}

func (w *valveWriter) WriteState(name string, on bool) error {
	cfg, ok := w.valves[name]
	if !ok {
		return errors.Errorf("no valve configured for zone %q", name)
	}
	payload := cfg.OffPayload
	if on {
		payload = cfg.OnPayload
	}
	if token := w.mqtt.SafePublish(cfg.Topic, mqttQoS, false, payload); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "publish valve state for zone %q", name)
	}
	return nil
}
