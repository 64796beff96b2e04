// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files and CODECRATE_* environment variables. It
// covers server transport settings, the process-wide sandbox limits, logging,
// metrics, and per-language image overrides.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Sandbox backend: %s\n", cfg.Sandbox.Backend)
package config
