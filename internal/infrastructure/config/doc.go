// Package config provides configuration loading for OpTech Tracker.
//
// Configuration is loaded from a YAML file with hardcoded defaults and
// environment variable overrides (OPTRACK_* pattern). The telemetry
// section can be changed at runtime through the settings endpoint and
// is written back to the same file with Save.
//
// # Loading order
//
//  1. Hardcoded defaults
//  2. YAML file values
//  3. Environment variables
//
// # Usage
//
//	cfg, err := config.LoadOrDefault("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	interval := cfg.GetPollInterval()
package config
