// Package config loads the balancer configuration from a YAML file,
// environment variables and command-line flags, and validates it before
// anything is started.
package config
