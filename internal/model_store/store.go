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

// Package model_store persists identified thermal model parameters across
// restarts. Each zone gets its own JSON file under the store directory;
// saves are atomic (temp file + rename) and rotate a timestamped backup of
// the previous record, so a bad training run never destroys the last good
// model.
package model_store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/jkolo/adaptive-thermal-control/internal/logger"
	"github.com/jkolo/adaptive-thermal-control/internal/thermal_model"
)

const (
	// schemaVersion 2 added neighbor influence, solar coefficient and the
	// training status to the v1 record.
	schemaVersion = 2

	maxBackups = 10

	backupTimeLayout = "20060102_150405.000000000"
)

// Record is the on-disk form of a zone's model parameters.
type Record struct {
	SchemaVersion     int                   `json:"schema_version"`
	Resistance        float64               `json:"r"`
	Capacitance       float64               `json:"c"`
	Tau               float64               `json:"tau"`
	NeighborInfluence map[string]float64    `json:"neighbor_influence,omitempty"`
	SolarCoefficient  float64               `json:"solar_coefficient"`
	LastUpdate        time.Time             `json:"last_update"`
	Metrics           thermal_model.Metrics `json:"metrics"`
	Status            thermal_model.Status  `json:"status"`

	// v1 files carried "version" instead of "schema_version".
	LegacyVersion int `json:"version,omitempty"`
}

// migrate lifts an older record to the current schema. v1 predates neighbor
// coupling, solar gain and the status field; a v1 record with validation
// metrics was only ever written after a successful training, so it loads as
// trained rather than forcing a week of relearning.
func (r Record) migrate() Record {
	if r.SchemaVersion >= schemaVersion {
		return r
	}
	r.SchemaVersion = schemaVersion
	r.LegacyVersion = 0
	if r.Status == "" {
		if r.Metrics != (thermal_model.Metrics{}) {
			r.Status = thermal_model.StatusTrained
		} else {
			r.Status = thermal_model.StatusNotTrained
		}
	}
	return r
}

func (r Record) parameters() thermal_model.Parameters {
	return thermal_model.Parameters{
		Resistance:        r.Resistance,
		Capacitance:       r.Capacitance,
		NeighborInfluence: r.NeighborInfluence,
		SolarCoefficient:  r.SolarCoefficient,
		LastUpdate:        r.LastUpdate,
		Metrics:           r.Metrics,
		Status:            r.Status,
	}
}

func recordOf(p thermal_model.Parameters) Record {
	return Record{
		SchemaVersion:     schemaVersion,
		Resistance:        p.Resistance,
		Capacitance:       p.Capacitance,
		Tau:               p.Resistance * p.Capacitance,
		NeighborInfluence: p.NeighborInfluence,
		SolarCoefficient:  p.SolarCoefficient,
		LastUpdate:        p.LastUpdate,
		Metrics:           p.Metrics,
		Status:            p.Status,
	}
}

// Store reads and writes per-zone model records under one directory.
// Safe for concurrent use.
type Store struct {
	mu  sync.Mutex
	dir string
}

func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create model store directory %s", dir)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

// Load returns the stored parameters for a zone. Any failure (missing file,
// corrupt JSON, implausible values) falls back to defaults with ok=false;
// loading never fails hard.
func (s *Store) Load(zone string) (thermal_model.Parameters, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.zonePath(zone))
	if err != nil {
		if os.IsNotExist(err) {
			logger.L().Debugf("No stored model for zone %s", zone)
		} else {
			logger.L().Errorf("Failed to read stored model for zone %s, using defaults: %v", zone, err)
		}
		return thermal_model.DefaultParameters(), false
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		logger.L().Errorf("Stored model for zone %s is corrupt, using defaults: %v", zone, err)
		return thermal_model.DefaultParameters(), false
	}
	rec = rec.migrate()

	params := rec.parameters()
	if err := params.Validate(); err != nil {
		logger.L().Errorf("Stored model for zone %s failed validation, using defaults: %v", zone, err)
		return thermal_model.DefaultParameters(), false
	}

	logger.L().Infof("Loaded model for zone %s: R=%.6f, C=%.0f, tau=%.1fh",
		zone, params.Resistance, params.Capacitance, params.TimeConstant().Hours())
	return params, true
}

// Save persists a zone's parameters, backing up the previous record first.
// A failed backup is logged and does not block the save.
func (s *Store) Save(zone string, params thermal_model.Parameters) error {
	if err := params.Validate(); err != nil {
		return errors.WithMessagef(err, "refusing to persist model for zone %s", zone)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.backupLocked(zone)
	if err := s.writeLocked(zone, recordOf(params)); err != nil {
		return err
	}
	logger.L().Infof("Saved model for zone %s: R=%.6f, C=%.0f, tau=%.1fh",
		zone, params.Resistance, params.Capacitance, params.TimeConstant().Hours())
	return nil
}

// Delete removes a zone's stored record, keeping a final backup of it.
// Deleting a zone that was never stored is a no-op.
func (s *Store) Delete(zone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.zonePath(zone)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	s.backupLocked(zone)
	if err := os.Remove(path); err != nil {
		return errors.Wrapf(err, "delete stored model for zone %s", zone)
	}
	logger.L().Infof("Deleted stored model for zone %s", zone)
	return nil
}

// Backups lists a zone's backup file names, newest first.
func (s *Store) Backups(zone string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backupNamesLocked(zone)
}

// RestoreFromBackup replaces a zone's current record with one of its
// backups. Index 0 is the most recent backup.
func (s *Store) RestoreFromBackup(zone string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.backupNamesLocked(zone)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return errors.Errorf("no backups for zone %s", zone)
	}
	if index < 0 || index >= len(names) {
		return errors.Errorf("backup index %d out of range, zone %s has %d backups", index, zone, len(names))
	}

	raw, err := os.ReadFile(filepath.Join(s.backupDir(), names[index]))
	if err != nil {
		return errors.Wrapf(err, "read backup %s", names[index])
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return errors.Wrapf(err, "parse backup %s", names[index])
	}
	rec = rec.migrate()
	if err := rec.parameters().Validate(); err != nil {
		return errors.WithMessagef(err, "backup %s", names[index])
	}

	if err := s.writeLocked(zone, rec); err != nil {
		return err
	}
	logger.L().Infof("Restored model for zone %s from backup %s", zone, names[index])
	return nil
}

func (s *Store) zonePath(zone string) string {
	return filepath.Join(s.dir, sanitize(zone)+".json")
}

func (s *Store) backupDir() string {
	return filepath.Join(s.dir, "backups")
}

func (s *Store) writeLocked(zone string, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "marshal model for zone %s", zone)
	}

	tmp, err := os.CreateTemp(s.dir, ".model-*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp model file")
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrapf(err, "write model for zone %s", zone)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, "close temp model file for zone %s", zone)
	}
	if err := os.Rename(tmpPath, s.zonePath(zone)); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, "replace model file for zone %s", zone)
	}
	return nil
}

func (s *Store) backupLocked(zone string) {
	data, err := os.ReadFile(s.zonePath(zone))
	if err != nil {
		if !os.IsNotExist(err) {
			logger.L().Warnf("Failed to read model for zone %s before backup: %v", zone, err)
		}
		return
	}

	if err := os.MkdirAll(s.backupDir(), 0o755); err != nil {
		logger.L().Warnf("Failed to create backup directory: %v", err)
		return
	}
	name := fmt.Sprintf("%s_%s.json", sanitize(zone), time.Now().Format(backupTimeLayout))
	if err := os.WriteFile(filepath.Join(s.backupDir(), name), data, 0o644); err != nil {
		logger.L().Warnf("Failed to write backup for zone %s: %v", zone, err)
		return
	}
	logger.L().Debugf("Created backup for zone %s: %s", zone, name)

	s.pruneLocked(zone)
}

// pruneLocked keeps the maxBackups newest backups for a zone. The timestamp
// layout is fixed width, so name order is age order.
func (s *Store) pruneLocked(zone string) {
	names, err := s.backupNamesLocked(zone)
	if err != nil {
		logger.L().Warnf("Failed to list backups for zone %s: %v", zone, err)
		return
	}
	for _, name := range names[min(len(names), maxBackups):] {
		if err := os.Remove(filepath.Join(s.backupDir(), name)); err != nil {
			logger.L().Warnf("Failed to delete old backup %s: %v", name, err)
		} else {
			logger.L().Debugf("Deleted old backup %s", name)
		}
	}
}

func (s *Store) backupNamesLocked(zone string) ([]string, error) {
	entries, err := os.ReadDir(s.backupDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "list backups for zone %s", zone)
	}

	prefix := sanitize(zone) + "_"
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

var fileNameSanitizer = strings.NewReplacer(".", "_", "/", "_", "\\", "_")

func sanitize(zone string) string {
	return fileNameSanitizer.Replace(zone)
}
