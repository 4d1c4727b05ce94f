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

	"github.com/jkolo/adaptive-thermal-control/internal/logger"
	"github.com/jkolo/adaptive-thermal-control/internal/safe_mqtt"
)

// MQTTNotifier publishes operator alerts as retained messages under
// <control topic>/notification/<id>, so a dashboard subscribing late still
// sees every standing alert. Clear retracts the retained message.
type MQTTNotifier struct {
	mqtt   safe_mqtt.MqttClient
	prefix string
}

type notificationPayload struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

func NewMQTTNotifier(client safe_mqtt.MqttClient, controlTopic string) *MQTTNotifier {
	return &MQTTNotifier{
		mqtt:   client,
		prefix: controlTopic + "/notification/",
	}
}

func (n *MQTTNotifier) Notify(id, title, message string) {
	payload, err := json.Marshal(notificationPayload{Title: title, Message: message})
	if err != nil {
		logger.L().Errorf("Failed to marshal notification `%v`: %v", id, err)
		return
	}
	if token := n.mqtt.SafePublish(n.prefix+id, mqttQoS, true, payload); token.Wait() && token.Error() != nil {
		logger.L().Errorf("Failed to publish notification `%v`: %v", id, token.Error())
	}
}

func (n *MQTTNotifier) Clear(id string) {
	// A retained empty payload deletes the retained message on the broker.
	if token := n.mqtt.SafePublish(n.prefix+id, mqttQoS, true, []byte{}); token.Wait() && token.Error() != nil {
		logger.L().Errorf("Failed to clear notification `%v`: %v", id, token.Error())
	}
}
