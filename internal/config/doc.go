// Package config provides configuration loading for synthetic control estimation.
// It reads logging, estimation and telemetry settings from multiple sources and
// validates them before use.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables (highest priority)
//	2. YAML configuration file
//	3. Default values (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern SYNTH_<SECTION>_<FIELD>:
//
//	SYNTH_LOGGING_LEVEL=debug
//	SYNTH_ESTIMATION_RESTARTS=8
//	SYNTH_ESTIMATION_TIMEOUT=30s
//	SYNTH_TELEMETRY_TRACE_EXPORTER=stdout
//
// # Validation
//
// Every field carries validator tags. Load returns an AppError of type CONFIG
// naming each field that failed.
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//	estimator, err := synth.NewEstimator(synth.OptionsFromConfig(cfg.Estimation))
package config
