// Package config loads the citizen-monitor configuration: a JSON file with
// defaults applied, optionally overridden by CITIZEN_* environment variables
// and completed from a YAML network catalogue.
package config
