// Package config loads and validates RV-Link Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (RVLINK_SECTION_KEY)
//   - Structural validation with clear error messages
//
// The protocol documents referenced from the config (spec_file,
// mapping_file) are parsed by the rvc and coach packages respectively;
// this package only carries their paths and the logical → physical
// interface table.
//
// # Usage
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return fmt.Errorf("loading config: %w", err)
//	}
package config
