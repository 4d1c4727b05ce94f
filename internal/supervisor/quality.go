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

package supervisor

import (
	"math"
	"time"
)

type QualityLevel string

const (
	QualityExcellent QualityLevel = "excellent"
	QualityGood      QualityLevel = "good"
	QualityFair      QualityLevel = "fair"
	QualityPoor      QualityLevel = "poor"
	QualityUnknown   QualityLevel = "unknown"
)

const (
	qualityWindow     = 24 * time.Hour
	qualityMaxSamples = 144 // one day at the 600s control step
	qualityMinSamples = 6
)

// QualityReport summarizes recent tracking performance.
type QualityReport struct {
	RMSE    float64      `json:"rmse"`
	Level   QualityLevel `json:"level"`
	Samples int          `json:"samples"`
}

type qualitySample struct {
	at  time.Time
	err float64
}

// QualityMonitor keeps a rolling day of tracking errors and grades their
// RMSE. It watches the zone regardless of which controller produced the
// command, so a badly tuned fallback shows up the same as a bad model.
type QualityMonitor struct {
	samples []qualitySample
}

func NewQualityMonitor() *QualityMonitor {
	return &QualityMonitor{samples: make([]qualitySample, 0, qualityMaxSamples)}
}

// Record adds one tracking error (setpoint minus measurement) and drops
// anything older than the window or beyond the sample cap.
func (q *QualityMonitor) Record(now time.Time, trackingError float64) {
	q.samples = append(q.samples, qualitySample{at: now, err: trackingError})
	q.prune(now)
}

func (q *QualityMonitor) prune(now time.Time) {
	cutoff := now.Add(-qualityWindow)
	start := 0
	for start < len(q.samples) && q.samples[start].at.Before(cutoff) {
		start++
	}
	if over := len(q.samples) - start - qualityMaxSamples; over > 0 {
		start += over
	}
	if start > 0 {
		q.samples = append(q.samples[:0], q.samples[start:]...)
	}
}

// Report grades the window. Fewer samples than the minimum yields an unknown
// level with a zero RMSE.
func (q *QualityMonitor) Report(now time.Time) QualityReport {
	q.prune(now)
	n := len(q.samples)
	if n < qualityMinSamples {
		return QualityReport{Level: QualityUnknown, Samples: n}
	}

	sum := 0.0
	for _, s := range q.samples {
		sum += s.err * s.err
	}
	rmse := math.Sqrt(sum / float64(n))

	level := QualityPoor
	switch {
	case rmse <= 0.3:
		level = QualityExcellent
	case rmse <= 0.7:
		level = QualityGood
	case rmse <= 1.2:
		level = QualityFair
	}
	return QualityReport{RMSE: rmse, Level: level, Samples: n}
}
