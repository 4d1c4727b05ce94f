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

package config

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/jkolo/adaptive-thermal-control/internal/logger"

	"github.com/pborman/getopt/v2"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const (
	defaultMQTTURL      = "tcp://127.0.0.1:1883"
	defaultControlTopic = "atc/control"
	defaultDBFile       = "~/.atc.db"
	defaultModelDir     = "models"
	defaultConfigFile   = "config.yaml"
	DefaultAverageType  = "mean"
	zoneDefaultWeight   = 1.0
)

type MQTTConfig struct {
	URL          string `yaml:"url"`
	ControlTopic string `yaml:"control_topic"`
	Username     string `yaml:"username,omitempty"`
	Password     string `yaml:"password,omitempty"`
}

func NewMQTTConfig() *MQTTConfig {
	return &MQTTConfig{
		URL:          defaultMQTTURL,
		ControlTopic: defaultControlTopic,
	}
}

type Config struct {
	LogLevel   zapcore.Level          `yaml:"log_level"`
	MQTTConfig *MQTTConfig            `yaml:"mqtt"`
	DBFile     string                 `yaml:"db_file"`
	ModelDir   string                 `yaml:"model_dir"`
	Control    *ControlConfig         `yaml:"control"`
	Training   *TrainingConfig        `yaml:"training"`
	Outdoor    *OutdoorConfig         `yaml:"outdoor"`
	Zones      map[string]*ZoneConfig `yaml:"zones"`
}

func defConfig() *Config {
	return &Config{
		Zones:      make(map[string]*ZoneConfig),
		Outdoor:    NewOutdoorConfig(),
		Control:    NewControlConfig(),
		Training:   NewTrainingConfig(),
		MQTTConfig: NewMQTTConfig(),
		DBFile:     defaultDBFile,
		ModelDir:   defaultModelDir,
	}
}

func prettyPrint(cfg *Config) {
	d, err := yaml.Marshal(cfg)
	if err != nil {
		logger.L().Error("Failed to marshal config for pretty print", err)
		return
	}
	logger.L().Debugf("--- Config ---\n%s\n\n", string(d))
}

func (cfg *Config) FillDefaults() {
	for _, v := range cfg.Zones {
		v.FillDefaults()
	}
	cfg.Outdoor.FillDefaults()
	cfg.Control.FillDefaults()
	cfg.Training.FillDefaults()

	if cfg.ModelDir == "" {
		cfg.ModelDir = defaultModelDir
	}
}

func Get() *Config {
	cfg := defConfig()
	logLevel := getopt.StringLong("log-level", 'l', "", "log levels: debug, info, warn, error, dpanic, panic, fatal")
	configFile := getopt.StringLong("config", 'c', defaultConfigFile, "config file pathname")

	getopt.Parse()

	if err := readFile(cfg, *configFile); err != nil {
		log.Panicf("GetConfig: %v", err)
	}

	logger.L().Infof("Using config file `%v`", *configFile)
	dbFile := getopt.StringLong("db", 'd', cfg.DBFile, "DB file pathname")

	if *dbFile != "" {
		cfg.DBFile = *dbFile
	}
	logger.L().Infof("Using DB file `%v`", cfg.DBFile)

	cfg.FillDefaults()

	if *logLevel != "" {
		if err := cfg.LogLevel.Set(*logLevel); err != nil {
			logger.L().Errorf("Wrong log level `%v`: %v", *logLevel, err)
		}
	}
	logger.SetLogLevel(cfg.LogLevel)

	prettyPrint(cfg)

	return cfg
}

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	return err == nil && !info.IsDir()
}

func readFile(cfg *Config, configFileName string) error {
	if !fileExists(configFileName) {
		return nil
	}

	f, err := os.Open(configFileName)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil && err != io.EOF {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	return nil
}

func GetPTR[T any](v T) *T {
	return &v
}
