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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForecastFeedSubscribesWhenConfigured(t *testing.T) {
	client := newFakeMQTT()

	NewForecastFeed("outdoor-temperature", "weather/forecast", client)
	assert.Contains(t, client.subscribed, "weather/forecast")

	// No topic means no feed; the horizon degrades to the fallback.
	feed := NewForecastFeed("solar-irradiance", "", client)
	series := feed.Horizon(time.Now(), 4, 10*time.Minute, 150)
	assert.True(t, series.Degraded)
	assert.Equal(t, []float64{150, 150, 150, 150}, series.Values)
}

func TestForecastFeedParsesAndInterpolates(t *testing.T) {
	client := newFakeMQTT()
	feed := NewForecastFeed("outdoor-temperature", "weather/forecast", client)
	handler := client.subscribed["weather/forecast"]
	require.NotNil(t, handler)

	// Out of order on purpose; the feed sorts by offset.
	payload := `[
		{"offset_minutes": 120, "value": 8},
		{"offset_minutes": 0, "value": 4}
	]`
	handler(nil, &fakeMessage{topic: "weather/forecast", payload: []byte(payload)})

	series := feed.Horizon(time.Now(), 5, 30*time.Minute, 0)
	require.Len(t, series.Values, 5)
	assert.False(t, series.Degraded)

	// Linear between 4 and 8 over two hours, held flat past the last point.
	assert.InDelta(t, 4, series.Values[0], 0.01)
	assert.InDelta(t, 5, series.Values[1], 0.01)
	assert.InDelta(t, 6, series.Values[2], 0.01)
	assert.InDelta(t, 7, series.Values[3], 0.01)
	assert.InDelta(t, 8, series.Values[4], 0.01)
}

func TestForecastFeedIgnoresBadPayload(t *testing.T) {
	client := newFakeMQTT()
	feed := NewForecastFeed("outdoor-temperature", "weather/forecast", client)
	handler := client.subscribed["weather/forecast"]
	require.NotNil(t, handler)

	handler(nil, &fakeMessage{topic: "weather/forecast", payload: []byte(`{"oops": true}`)})

	series := feed.Horizon(time.Now(), 2, 10*time.Minute, 3)
	assert.True(t, series.Degraded)
	assert.Equal(t, []float64{3, 3}, series.Values)
}
