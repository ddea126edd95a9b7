package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/andrej220/torito/pkg/config"
	"github.com/andrej220/torito/pkg/notify"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const SERVICENAME = "torrcctl"
const CONFIGFILENAME = "torrcctl.yaml"

const (
	defaultTorrcPath = "/etc/tor/torrc"
	defaultBackupDir = "backup"
)

type TorrcctlConfig struct {
	Store string              `yaml:"store" json:"store" validate:"omitempty,oneof=file mongo"`
	File  config.FileConfig   `yaml:"file" json:"file" validate:"-"`
	Mongo config.MongoConfig  `yaml:"mongo" json:"mongo" validate:"-"`
	Kafka *notify.KafkaConfig `yaml:"kafka,omitempty" json:"kafka,omitempty"`
}

func NewTorrcctlConfig() *TorrcctlConfig {
	cfg := &TorrcctlConfig{Store: "file"}
	cfg.File.Path = defaultTorrcPath
	cfg.File.BackupDir = defaultBackupDir
	return cfg
}

// loadToolConfig overlays the YAML file at path on the defaults. A missing
// file is only an error when the path was given explicitly.
func loadToolConfig(path string, explicit bool) (*TorrcctlConfig, error) {
	cfg := NewTorrcctlConfig()
	bytes, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(bytes, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML in %s: %w", path, err)
	}
	return cfg, nil
}

func (c *TorrcctlConfig) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return err
	}
	// only the selected backend has to be complete
	if c.Store == "mongo" {
		return v.Struct(c.Mongo)
	}
	return v.Struct(c.File)
}
