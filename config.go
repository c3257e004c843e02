package main

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the optional YAML configuration file. Every field has a
// working default so the server runs with no config at all.
type Config struct {
	Port       int    `yaml:"port"`
	DBPath     string `yaml:"db_path"`
	UploadsDir string `yaml:"uploads_dir"`
	Facility   struct {
		Name  string `yaml:"name"`
		Email string `yaml:"email"`
	} `yaml:"facility"`
}

func loadConfig(path string) (Config, error) {
	cfg := Config{}
	cfg.UploadsDir = "uploads"
	cfg.Facility.Name = "Clinical Engineering"

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	// Environment overrides win over file values
	if v := os.Getenv("HG_FACILITY_NAME"); v != "" {
		cfg.Facility.Name = v
	}
	if v := os.Getenv("HG_FACILITY_EMAIL"); v != "" {
		cfg.Facility.Email = v
	}
	if cfg.UploadsDir == "" {
		cfg.UploadsDir = "uploads"
	}
	return cfg, nil
}
