// Package config handles loading and validating scardbridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with SCARDBRIDGE_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Sensitive values (MQTT password, InfluxDB token) should be set via
// environment variables rather than the config file.
//
// Usage:
//
//	cfg, err := config.Load("configs/scardbridge.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Smartcard.MaxWorkers)
package config
